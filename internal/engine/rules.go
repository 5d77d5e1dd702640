package engine

import (
	"fmt"
	"strings"

	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/rules"
)

// ParseCategory maps a definition category to a condition category. The
// empty string means error.
func ParseCategory(s string) (model.Category, error) {
	switch strings.ToLower(s) {
	case "", "error":
		return model.CategoryError, nil
	case "warning":
		return model.CategoryWarning, nil
	case "permission":
		return model.CategoryPermission, nil
	}
	return 0, fmt.Errorf("%w: unknown condition category %q", metadata.ErrInvalidDefinition, s)
}

// BuildRule creates and registers the rule described by def on root.
func BuildRule(root *model.Type, def metadata.RuleDefinition) (*rules.ConditionRule, error) {
	category, err := ParseCategory(def.Category)
	if err != nil {
		return nil, err
	}
	opts := rules.Options{
		Root:     root,
		Property: def.Property,
		Message:  def.Message,
		Code:     def.Code,
		Category: category,
	}

	switch def.Type {
	case "required":
		return rules.Required(rules.RequiredOptions{Options: opts})

	case "range":
		min, max, err := rangeBounds(root, def)
		if err != nil {
			return nil, err
		}
		return rules.Range(rules.RangeOptions{Options: opts, Min: min, Max: max})

	case "string_length":
		min, err := toInt(def.Min)
		if err != nil {
			return nil, fmt.Errorf("string_length rule on %s.%s: min: %w", root.Name(), def.Property, err)
		}
		max, err := toInt(def.Max)
		if err != nil {
			return nil, fmt.Errorf("string_length rule on %s.%s: max: %w", root.Name(), def.Property, err)
		}
		return rules.StringLength(rules.StringLengthOptions{Options: opts, Min: min, Max: max})

	case "compare":
		op, err := rules.ParseOperator(def.Operator)
		if err != nil {
			return nil, fmt.Errorf("compare rule on %s.%s: %w", root.Name(), def.Property, err)
		}
		return rules.Compare(rules.CompareOptions{Options: opts, CompareTo: def.CompareTo, Operator: op})

	case "required_if":
		var op rules.Operator
		if def.Operator != "" {
			if op, err = rules.ParseOperator(def.Operator); err != nil {
				return nil, fmt.Errorf("required_if rule on %s.%s: %w", root.Name(), def.Property, err)
			}
		}
		return rules.RequiredIf(rules.RequiredIfOptions{Options: opts, CompareTo: def.CompareTo, Operator: op, Value: def.Value})

	case "allowed_values":
		return rules.AllowedValues(rules.AllowedValuesOptions{Options: opts, Source: def.Source, Static: def.Static, Values: def.Values})

	case "expression":
		return rules.Expression(rules.ExpressionOptions{Options: opts, Expression: def.Expression, BasedOn: def.BasedOn})
	}
	return nil, fmt.Errorf("%w: unknown rule type %q", metadata.ErrInvalidDefinition, def.Type)
}

// rangeBounds converts the bounds to the value type of the target, so
// that dates may be written as strings.
func rangeBounds(root *model.Type, def metadata.RuleDefinition) (any, any, error) {
	pp, err := root.Model().Property(def.Property, root)
	if err != nil {
		return nil, nil, fmt.Errorf("range rule on %s.%s: %w", root.Name(), def.Property, err)
	}
	vt := pp.LastProperty().ValueType()
	if vt == model.Integer {
		vt = model.Number
	}
	min, err := CoerceValue(vt, def.Min)
	if err != nil {
		return nil, nil, fmt.Errorf("range rule on %s: min: %w", pp, err)
	}
	max, err := CoerceValue(vt, def.Max)
	if err != nil {
		return nil, nil, fmt.Errorf("range rule on %s: max: %w", pp, err)
	}
	return min, max, nil
}
