package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Positional argument schemas for the StartupOps contract calls. Proofs are
// 32 bytes, which JSON renders as 44 base64 characters.
var defaultCallSchemas = map[string]string{
	CallCreateStartup: `{
		"type": "array", "minItems": 2, "maxItems": 2,
		"prefixItems": [
			{"type": "string", "minLength": 1},
			{"type": "string"}
		]
	}`,
	CallRecordMetric: `{
		"type": "array", "minItems": 4, "maxItems": 4,
		"prefixItems": [
			{"type": "integer", "minimum": 0},
			{"type": "string", "minLength": 1},
			{"type": "string", "minLength": 1},
			{"$ref": "#/$defs/proof"}
		],
		"$defs": {"proof": {"type": "string", "pattern": "^[A-Za-z0-9+/]{43}=$"}}
	}`,
	CallCreateKPI: `{
		"type": "array", "minItems": 5, "maxItems": 5,
		"prefixItems": [
			{"type": "integer", "minimum": 0},
			{"type": "string", "minLength": 1},
			{"type": "string", "minLength": 1},
			{"$ref": "#/$defs/proof"},
			{"type": "integer", "minimum": 0}
		],
		"$defs": {"proof": {"type": "string", "pattern": "^[A-Za-z0-9+/]{43}=$"}}
	}`,
	CallUpdateKPIProgress: `{
		"type": "array", "minItems": 3, "maxItems": 3,
		"prefixItems": [
			{"type": "integer", "minimum": 0},
			{"type": "string", "minLength": 1},
			{"$ref": "#/$defs/proof"}
		],
		"$defs": {"proof": {"type": "string", "pattern": "^[A-Za-z0-9+/]{43}=$"}}
	}`,
	CallAddTeamMember: `{
		"type": "array", "minItems": 5, "maxItems": 5,
		"prefixItems": [
			{"type": "integer", "minimum": 0},
			{"type": "string", "pattern": "^0x[0-9a-f]{40}$"},
			{"type": "string", "minLength": 1},
			{"type": "string", "minLength": 1},
			{"$ref": "#/$defs/proof"}
		],
		"$defs": {"proof": {"type": "string", "pattern": "^[A-Za-z0-9+/]{43}=$"}}
	}`,
}

// Firewall only lets allowlisted calls with schema-valid arguments reach the
// wrapped Writer.
type Firewall struct {
	allowed map[string]bool
	schema  map[string]*jsonschema.Schema
	next    Writer
}

// NewFirewall creates a firewall with an empty allowlist.
func NewFirewall(next Writer) *Firewall {
	return &Firewall{
		allowed: make(map[string]bool),
		schema:  make(map[string]*jsonschema.Schema),
		next:    next,
	}
}

// NewContractFirewall creates a firewall that allows the five StartupOps
// write calls with their argument schemas.
func NewContractFirewall(next Writer) (*Firewall, error) {
	f := NewFirewall(next)
	for name, schema := range defaultCallSchemas {
		if err := f.AllowCall(name, schema); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// AllowCall adds a call to the allowlist. An empty schema accepts any args.
func (f *Firewall) AllowCall(name string, schema string) error {
	f.allowed[name] = true
	if schema == "" {
		delete(f.schema, name)
		return nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://startupops.schemas.local/calls/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("firewall schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("firewall schema compile failed: %w", err)
	}
	f.schema[name] = compiled
	return nil
}

// Write checks call against the allowlist and schema before delegating.
func (f *Firewall) Write(ctx context.Context, call Call) (TxHandle, error) {
	if !f.allowed[call.Name] {
		return "", fmt.Errorf("firewall blocked call %q: not in allowlist", call.Name)
	}

	if schema, ok := f.schema[call.Name]; ok && schema != nil {
		doc, err := jsonDocument(call.Args)
		if err != nil {
			return "", fmt.Errorf("firewall blocked call %q: %w", call.Name, err)
		}
		if err := schema.Validate(doc); err != nil {
			return "", fmt.Errorf("firewall blocked call %q: schema validation failed: %w", call.Name, err)
		}
	}

	if f.next == nil {
		return "", fmt.Errorf("firewall writer not configured (fail-closed)")
	}
	return f.next.Write(ctx, call)
}

// jsonDocument converts Go-typed args to the generic form the validator takes.
func jsonDocument(args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return doc, nil
}
