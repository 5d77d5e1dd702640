package rules

import (
	"fmt"
	"strings"
	"time"

	"exoweb/internal/model"
)

// Operator is a comparison used by Compare and RequiredIf.
type Operator string

const (
	Equal            Operator = "Equal"
	NotEqual         Operator = "NotEqual"
	GreaterThan      Operator = "GreaterThan"
	GreaterThanEqual Operator = "GreaterThanEqual"
	LessThan         Operator = "LessThan"
	LessThanEqual    Operator = "LessThanEqual"
)

var operatorText = map[Operator]string{
	Equal:            "equal to",
	NotEqual:         "different from",
	GreaterThan:      "greater than",
	GreaterThanEqual: "greater than or equal to",
	LessThan:         "less than",
	LessThanEqual:    "less than or equal to",
}

// ParseOperator accepts the operator names above, case-insensitively.
func ParseOperator(s string) (Operator, error) {
	for op := range operatorText {
		if strings.EqualFold(string(op), s) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown compare operator %q", s)
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	}
	return 0, false
}

// orderable normalizes v to a float64, time.Time or string.
func orderable(v any) (any, bool) {
	if f, ok := toFloat64(v); ok {
		return f, true
	}
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return x, true
	}
	return nil, false
}

// compareOrdered returns -1, 0 or 1.
func compareOrdered(a, b any) (int, error) {
	oa, okA := orderable(a)
	ob, okB := orderable(b)
	if !okA || !okB {
		return 0, fmt.Errorf("%w: cannot order %T and %T", model.ErrWrongType, a, b)
	}
	switch x := oa.(type) {
	case float64:
		y, ok := ob.(float64)
		if !ok {
			break
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case time.Time:
		y, ok := ob.(time.Time)
		if !ok {
			break
		}
		return x.Compare(y), nil
	case string:
		y, ok := ob.(string)
		if !ok {
			break
		}
		return strings.Compare(x, y), nil
	}
	return 0, fmt.Errorf("%w: cannot order %T and %T", model.ErrWrongType, a, b)
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, err := compareOrdered(a, b); err == nil {
		return c == 0
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if ea, ok := a.(*model.Entity); ok {
		eb, ok := b.(*model.Entity)
		return ok && ea == eb
	}
	return false
}

// CompareValues applies op to a and b. Equality treats two empty values
// as equal. Ordering operators pass when either side is empty.
func CompareValues(a any, op Operator, b any) (bool, error) {
	switch op {
	case Equal:
		return equalValues(a, b), nil
	case NotEqual:
		return !equalValues(a, b), nil
	}
	if a == nil || b == nil {
		return true, nil
	}
	c, err := compareOrdered(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case GreaterThan:
		return c > 0, nil
	case GreaterThanEqual:
		return c >= 0, nil
	case LessThan:
		return c < 0, nil
	case LessThanEqual:
		return c <= 0, nil
	}
	return false, fmt.Errorf("unknown compare operator %q", op)
}

// CompareOptions configures Compare. CompareTo is resolved against Root,
// and may name a property declared later.
type CompareOptions struct {
	Options
	CompareTo string
	Operator  Operator
}

// Compare flags the property when it does not stand in Operator relation
// to the CompareTo property.
func Compare(opts CompareOptions) (*ConditionRule, error) {
	if _, ok := operatorText[opts.Operator]; !ok {
		return nil, fmt.Errorf("compare rule on %s: unknown operator %q", opts.Property, opts.Operator)
	}
	if opts.CompareTo == "" {
		return nil, fmt.Errorf("compare rule on %s: %w: no compare path", opts.Property, model.ErrUnknownProperty)
	}
	r, err := newConditionRule(opts.Options, "Compare", func(label string) string {
		return fmt.Sprintf("%s must be %s %s.", label, operatorText[opts.Operator], opts.CompareTo)
	})
	if err != nil {
		return nil, err
	}
	var source model.PropertyPath
	r.check = func(e *model.Entity) (bool, error) {
		return CompareValues(r.Property.Value(e), opts.Operator, source.Value(e))
	}
	r.whenResolved(opts.CompareTo, opts.Root, func(pp model.PropertyPath) { source = pp })
	return r, nil
}

// RequiredIfOptions configures RequiredIf. The property is required while
// the CompareTo value stands in Operator relation to Value. Without an
// operator the property is required while CompareTo has a value.
type RequiredIfOptions struct {
	Options
	CompareTo string
	Operator  Operator
	Value     any
}

// RequiredIf is Required guarded by a comparison on another property.
func RequiredIf(opts RequiredIfOptions) (*ConditionRule, error) {
	if opts.CompareTo == "" {
		return nil, fmt.Errorf("required if rule on %s: %w: no compare path", opts.Property, model.ErrUnknownProperty)
	}
	op := opts.Operator
	if op == "" {
		op = NotEqual
	}
	if _, ok := operatorText[op]; !ok {
		return nil, fmt.Errorf("required if rule on %s: unknown operator %q", opts.Property, op)
	}
	r, err := newConditionRule(opts.Options, "RequiredIf", func(label string) string {
		return label + " is required."
	})
	if err != nil {
		return nil, err
	}
	var source model.PropertyPath
	r.check = func(e *model.Entity) (bool, error) {
		applies, err := CompareValues(source.Value(e), op, opts.Value)
		if err != nil || !applies {
			return true, err
		}
		return HasValue(r.Property.Value(e)), nil
	}
	r.whenResolved(opts.CompareTo, opts.Root, func(pp model.PropertyPath) { source = pp })
	return r, nil
}
