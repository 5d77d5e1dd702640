package metadata

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDefinition = errors.New("invalid definition")

// Definitions is the content of a definition file or of the type table.
type Definitions struct {
	Types          []*TypeDefinition         `json:"types" mapstructure:"types"`
	ConditionTypes []ConditionTypeDefinition `json:"condition_types,omitempty" mapstructure:"condition_types"`
}

type TypeDefinition struct {
	Name       string               `json:"name" mapstructure:"name"`
	Base       string               `json:"base,omitempty" mapstructure:"base"`
	Origin     string               `json:"origin,omitempty" mapstructure:"origin"` // "server" (default) or "client"
	Properties []PropertyDefinition `json:"properties" mapstructure:"properties"`
	Rules      []RuleDefinition     `json:"rules,omitempty" mapstructure:"rules"`
}

type PropertyDefinition struct {
	Name       string                `json:"name" mapstructure:"name"`
	Type       string                `json:"type" mapstructure:"type"` // built-in value type or entity type name
	IsList     bool                  `json:"is_list,omitempty" mapstructure:"is_list"`
	IsStatic   bool                  `json:"is_static,omitempty" mapstructure:"is_static"`
	Transient  bool                  `json:"transient,omitempty" mapstructure:"transient"`
	Origin     string                `json:"origin,omitempty" mapstructure:"origin"`
	Label      string                `json:"label,omitempty" mapstructure:"label"`
	Format     string                `json:"format,omitempty" mapstructure:"format"`
	Default    any                   `json:"default,omitempty" mapstructure:"default"`
	Calculated *CalculatedDefinition `json:"calculated,omitempty" mapstructure:"calculated"`
}

type CalculatedDefinition struct {
	Expression string   `json:"expression" mapstructure:"expression"`
	BasedOn    []string `json:"based_on,omitempty" mapstructure:"based_on"`
}

// RuleDefinition declares one condition rule. Which fields apply depends
// on Type.
type RuleDefinition struct {
	Type     string `json:"type" mapstructure:"type"` // required, range, string_length, compare, required_if, allowed_values, expression
	Property string `json:"property" mapstructure:"property"`
	Code     string `json:"code,omitempty" mapstructure:"code"`
	Message  string `json:"message,omitempty" mapstructure:"message"`
	Category string `json:"category,omitempty" mapstructure:"category"` // error (default) or warning

	// range, string_length
	Min any `json:"min,omitempty" mapstructure:"min"`
	Max any `json:"max,omitempty" mapstructure:"max"`

	// compare, required_if
	CompareTo string `json:"compare_to,omitempty" mapstructure:"compare_to"`
	Operator  string `json:"operator,omitempty" mapstructure:"operator"`
	Value     any    `json:"value,omitempty" mapstructure:"value"`

	// allowed_values
	Source string `json:"source,omitempty" mapstructure:"source"`
	Static bool   `json:"static,omitempty" mapstructure:"static"`
	Values []any  `json:"values,omitempty" mapstructure:"values"`

	// expression
	Expression string   `json:"expression,omitempty" mapstructure:"expression"`
	BasedOn    []string `json:"based_on,omitempty" mapstructure:"based_on"`
}

type ConditionTypeDefinition struct {
	Code     string   `json:"code" mapstructure:"code"`
	Category string   `json:"category" mapstructure:"category"` // error, warning or permission
	Message  string   `json:"message,omitempty" mapstructure:"message"`
	Allowed  bool     `json:"allowed,omitempty" mapstructure:"allowed"`
	Sets     []string `json:"sets,omitempty" mapstructure:"sets"`
}

var ruleTypes = map[string]bool{
	"required":       true,
	"range":          true,
	"string_length":  true,
	"compare":        true,
	"required_if":    true,
	"allowed_values": true,
	"expression":     true,
}

// GetProperty returns the property with the given name, or nil.
func (t *TypeDefinition) GetProperty(name string) *PropertyDefinition {
	for i := range t.Properties {
		if t.Properties[i].Name == name {
			return &t.Properties[i]
		}
	}
	return nil
}

// Validate checks each definition on its own and the base references
// between them.
func (d *Definitions) Validate() error {
	var errs []error
	names := make(map[string]bool, len(d.Types))
	for _, t := range d.Types {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		if names[t.Name] {
			errs = append(errs, fmt.Errorf("%w: type %s declared twice", ErrInvalidDefinition, t.Name))
		}
		names[t.Name] = true
	}
	for _, t := range d.Types {
		if t.Base != "" && !names[t.Base] {
			errs = append(errs, fmt.Errorf("%w: type %s: unknown base %s", ErrInvalidDefinition, t.Name, t.Base))
		}
	}
	if _, err := d.Ordered(); err != nil {
		errs = append(errs, err)
	}
	for _, ct := range d.ConditionTypes {
		if ct.Code == "" {
			errs = append(errs, fmt.Errorf("%w: condition type without code", ErrInvalidDefinition))
		}
		switch strings.ToLower(ct.Category) {
		case "", "error", "warning", "permission":
		default:
			errs = append(errs, fmt.Errorf("%w: condition type %s: unknown category %q", ErrInvalidDefinition, ct.Code, ct.Category))
		}
	}
	return errors.Join(errs...)
}

// Validate checks names, property declarations and rule kinds.
func (t *TypeDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: type without name", ErrInvalidDefinition)
	}
	switch t.Origin {
	case "", "server", "client":
	default:
		return fmt.Errorf("%w: type %s: unknown origin %q", ErrInvalidDefinition, t.Name, t.Origin)
	}
	seen := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("%w: type %s: property needs a name and a type", ErrInvalidDefinition, t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: type %s: property %s declared twice", ErrInvalidDefinition, t.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Calculated != nil && p.Calculated.Expression == "" {
			return fmt.Errorf("%w: %s.%s: calculated property without expression", ErrInvalidDefinition, t.Name, p.Name)
		}
	}
	for _, r := range t.Rules {
		if !ruleTypes[r.Type] {
			return fmt.Errorf("%w: type %s: unknown rule type %q", ErrInvalidDefinition, t.Name, r.Type)
		}
		if r.Property == "" {
			return fmt.Errorf("%w: type %s: %s rule without property", ErrInvalidDefinition, t.Name, r.Type)
		}
	}
	return nil
}

// Ordered returns the types with every base before its derived types,
// keeping declaration order otherwise.
func (d *Definitions) Ordered() ([]*TypeDefinition, error) {
	byName := make(map[string]*TypeDefinition, len(d.Types))
	for _, t := range d.Types {
		byName[t.Name] = t
	}
	out := make([]*TypeDefinition, 0, len(d.Types))
	state := make(map[string]int) // 1 visiting, 2 done
	var visit func(t *TypeDefinition) error
	visit = func(t *TypeDefinition) error {
		switch state[t.Name] {
		case 1:
			return fmt.Errorf("%w: type %s inherits from itself", ErrInvalidDefinition, t.Name)
		case 2:
			return nil
		}
		state[t.Name] = 1
		if base, ok := byName[t.Base]; ok {
			if err := visit(base); err != nil {
				return err
			}
		}
		state[t.Name] = 2
		out = append(out, t)
		return nil
	}
	for _, t := range d.Types {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}
