// Package category declares what each submission category needs: the
// contract call it maps to, its companion fields and the positional shape
// of the call's arguments.
package category

import (
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/sakura-kun-88/startup-compass-89/pkg/chain"
	"github.com/sakura-kun-88/startup-compass-89/pkg/codec"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
)

// Kind is the type of a companion field.
type Kind string

const (
	KindText    Kind = "text"
	KindEmail   Kind = "email"
	KindAddress Kind = "address"
	KindDate    Kind = "date"
	KindUint    Kind = "uint"
)

// ValueMode says whether a category carries an encrypted numeric value.
type ValueMode string

const (
	ValueRequired ValueMode = "required"
	ValueNone     ValueMode = "none"
)

// Argument tokens filled by the pipeline rather than by companion fields.
const (
	ArgRecord     = "$record"
	ArgTag        = "$tag"
	ArgCiphertext = "$ciphertext"
	ArgProof      = "$proof"
)

// Companion is a field submitted alongside the value.
type Companion struct {
	Name     string `yaml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Required bool   `yaml:"required" json:"required"`
}

// Schema describes one category.
type Schema struct {
	Name        string      `yaml:"name" json:"name"`
	Call        string      `yaml:"call" json:"call"`
	Description string      `yaml:"description" json:"description"`
	Tag         string      `yaml:"tag,omitempty" json:"tag,omitempty"`
	TagField    string      `yaml:"tag_field,omitempty" json:"tag_field,omitempty"`
	Value       ValueMode   `yaml:"value,omitempty" json:"value,omitempty"`
	Constraint  string      `yaml:"constraint,omitempty" json:"constraint,omitempty"`
	Companions  []Companion `yaml:"companions,omitempty" json:"companions,omitempty"`
	Args        []string    `yaml:"args" json:"args"`

	constraint cel.Program
}

// FieldError is a single failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// Field error codes.
const (
	CodeRequired   = "REQUIRED"
	CodeNotNumeric = "NOT_NUMERIC"
	CodeOutOfRange = "OUT_OF_RANGE"
	CodeMalformed  = "MALFORMED"
)

// ValueField is the field name reported for problems with the value itself.
const ValueField = "value"

// Input is a validated submission: the parsed value and typed companions.
type Input struct {
	Value    float64
	HasValue bool
	Fields   map[string]any
}

// CarriesValue reports whether the category submits an encrypted value.
func (s *Schema) CarriesValue() bool {
	return s.Value != ValueNone
}

// Companion returns the companion declaration for name.
func (s *Schema) Companion(name string) (Companion, bool) {
	for _, c := range s.Companions {
		if c.Name == name {
			return c, true
		}
	}
	return Companion{}, false
}

// Validate checks raw and extras against the schema and converts them.
// It returns the first failing field as a *FieldError.
func (s *Schema) Validate(raw string, extras map[string]string) (Input, error) {
	in := Input{Fields: make(map[string]any, len(s.Companions))}

	if s.CarriesValue() {
		v, err := ParseValue(raw)
		if err != nil {
			return Input{}, err
		}
		in.Value, in.HasValue = v, true
	}

	for _, c := range s.Companions {
		text := strings.TrimSpace(extras[c.Name])
		if text == "" {
			if c.Required {
				return Input{}, &FieldError{Field: c.Name, Code: CodeRequired, Message: "is required"}
			}
			continue
		}
		typed, err := convert(c, text)
		if err != nil {
			return Input{}, err
		}
		in.Fields[c.Name] = typed
	}

	if s.constraint != nil && in.HasValue {
		out, _, err := s.constraint.Eval(map[string]any{"value": in.Value})
		if err != nil {
			return Input{}, &FieldError{Field: ValueField, Code: CodeOutOfRange, Message: err.Error()}
		}
		if ok, _ := out.Value().(bool); !ok {
			return Input{}, &FieldError{Field: ValueField, Code: CodeOutOfRange, Message: fmt.Sprintf("must satisfy %s", s.Constraint)}
		}
	}
	return in, nil
}

// ParseValue parses a user-entered number. It must be finite and >= 0.
func ParseValue(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &FieldError{Field: ValueField, Code: CodeRequired, Message: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &FieldError{Field: ValueField, Code: CodeNotNumeric, Message: fmt.Sprintf("%q is not a number", raw)}
	}
	if v < 0 {
		return 0, &FieldError{Field: ValueField, Code: CodeOutOfRange, Message: "must not be negative"}
	}
	return v, nil
}

func convert(c Companion, text string) (any, error) {
	malformed := func(msg string) error {
		return &FieldError{Field: c.Name, Code: CodeMalformed, Message: msg}
	}
	switch c.Kind {
	case KindAddress:
		a, err := identity.ParseAddress(text)
		if err != nil {
			return nil, malformed("must be a 0x-prefixed 40 hex digit address")
		}
		return a.String(), nil
	case KindEmail:
		if _, err := mail.ParseAddress(text); err != nil {
			return nil, malformed("must be an email address")
		}
		return text, nil
	case KindDate:
		t, err := ParseDate(text)
		if err != nil {
			return nil, malformed("must be a date (YYYY-MM-DD or RFC 3339)")
		}
		return t.Unix(), nil
	case KindUint:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, malformed("must be a non-negative integer")
		}
		return n, nil
	default:
		return text, nil
	}
}

// ParseDate accepts a calendar date (UTC midnight) or an RFC 3339 timestamp.
func ParseDate(text string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, text); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, text)
}

// BuildCall lays out the contract call for a validated input. payload is nil
// for value-less categories.
func (s *Schema) BuildCall(recordID uint64, in Input, payload *codec.Payload) (chain.Call, error) {
	args := make([]any, 0, len(s.Args))
	for _, token := range s.Args {
		switch token {
		case ArgRecord:
			args = append(args, recordID)
		case ArgTag:
			tag := s.Tag
			if s.TagField != "" {
				tag, _ = in.Fields[s.TagField].(string)
			}
			if tag == "" {
				tag = s.Name
			}
			args = append(args, tag)
		case ArgCiphertext, ArgProof:
			if payload == nil {
				return chain.Call{}, fmt.Errorf("category %s: %s requires an encoded payload", s.Name, token)
			}
			if token == ArgCiphertext {
				args = append(args, payload.Ciphertext)
			} else {
				args = append(args, payload.ProofBytes())
			}
		default:
			v, ok := in.Fields[token]
			if !ok {
				v = ""
			}
			args = append(args, v)
		}
	}
	return chain.Call{Name: s.Call, Args: args}, nil
}
