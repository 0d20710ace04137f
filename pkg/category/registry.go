package category

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var builtin []byte

// SupportedVersions is the constraint a category file's version must meet.
const SupportedVersions = "^1.0.0"

// File is the on-disk form of a registry.
type File struct {
	Version    string   `yaml:"version"`
	Categories []Schema `yaml:"categories"`
}

// Registry holds the known categories by name.
type Registry struct {
	version *semver.Version
	schemas map[string]*Schema
}

// Default returns the built-in registry. It panics if the embedded file is
// broken, which only a bad build can cause.
func Default() *Registry {
	r, err := Load(builtin)
	if err != nil {
		panic(fmt.Sprintf("category: builtin registry: %v", err))
	}
	return r
}

// LoadFile loads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load categories %q: %w", path, err)
	}
	r, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("load categories %q: %w", path, err)
	}
	return r, nil
}

// Load parses and checks a registry document.
func Load(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}

	version, err := semver.NewVersion(f.Version)
	if err != nil {
		return nil, fmt.Errorf("categories version %q: %w", f.Version, err)
	}
	supported, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !supported.Check(version) {
		return nil, fmt.Errorf("categories version %s not supported (want %s)", version, SupportedVersions)
	}

	env, err := cel.NewEnv(cel.Variable("value", cel.DoubleType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	r := &Registry{version: version, schemas: make(map[string]*Schema, len(f.Categories))}
	for i := range f.Categories {
		s := f.Categories[i]
		if err := s.check(env); err != nil {
			return nil, err
		}
		if _, dup := r.schemas[s.Name]; dup {
			return nil, fmt.Errorf("category %q declared twice", s.Name)
		}
		r.schemas[s.Name] = &s
	}
	return r, nil
}

func (s *Schema) check(env *cel.Env) error {
	if s.Name == "" {
		return fmt.Errorf("category without a name")
	}
	if s.Call == "" {
		return fmt.Errorf("category %s: call is required", s.Name)
	}
	if s.Value == "" {
		s.Value = ValueRequired
	}
	if s.Value != ValueRequired && s.Value != ValueNone {
		return fmt.Errorf("category %s: unknown value mode %q", s.Name, s.Value)
	}
	for i, c := range s.Companions {
		switch c.Kind {
		case "":
			s.Companions[i].Kind = KindText
		case KindText, KindEmail, KindAddress, KindDate, KindUint:
		default:
			return fmt.Errorf("category %s: companion %s has unknown kind %q", s.Name, c.Name, c.Kind)
		}
	}
	if s.TagField != "" {
		if _, ok := s.Companion(s.TagField); !ok {
			return fmt.Errorf("category %s: tag_field %q is not a companion", s.Name, s.TagField)
		}
	}
	for _, a := range s.Args {
		if strings.HasPrefix(a, "$") {
			switch a {
			case ArgRecord, ArgTag:
			case ArgCiphertext, ArgProof:
				if !s.CarriesValue() {
					return fmt.Errorf("category %s: %s used without a value", s.Name, a)
				}
			default:
				return fmt.Errorf("category %s: unknown argument token %q", s.Name, a)
			}
			continue
		}
		if _, ok := s.Companion(a); !ok {
			return fmt.Errorf("category %s: argument %q is not a companion", s.Name, a)
		}
	}

	if s.Constraint != "" {
		ast, issues := env.Compile(s.Constraint)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("category %s: CEL compile error: %w", s.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return fmt.Errorf("category %s: constraint must be boolean", s.Name)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("category %s: CEL program error: %w", s.Name, err)
		}
		s.constraint = prg
	}
	return nil
}

// Version returns the registry document version.
func (r *Registry) Version() string {
	return r.version.String()
}

// Lookup returns the schema for name.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns all category names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
