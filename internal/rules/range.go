package rules

import (
	"fmt"
	"time"
	"unicode/utf8"

	"exoweb/internal/model"
)

// RangeOptions configures Range. Either bound may be nil. Bounds and
// values are numbers or times.
type RangeOptions struct {
	Options
	Min any
	Max any
}

// Range flags a value outside [Min, Max]. Empty values pass.
func Range(opts RangeOptions) (*ConditionRule, error) {
	if opts.Min == nil && opts.Max == nil {
		return nil, fmt.Errorf("range rule on %s: no bounds", opts.Property)
	}
	for _, b := range []any{opts.Min, opts.Max} {
		if b == nil {
			continue
		}
		if _, ok := orderable(b); !ok {
			return nil, fmt.Errorf("range rule on %s: bound %v: %w", opts.Property, b, model.ErrWrongType)
		}
	}
	r, err := newConditionRule(opts.Options, "Range", func(label string) string {
		switch {
		case opts.Min != nil && opts.Max != nil:
			return fmt.Sprintf("%s must be between %v and %v.", label, display(opts.Min), display(opts.Max))
		case opts.Min != nil:
			return fmt.Sprintf("%s must be at least %v.", label, display(opts.Min))
		default:
			return fmt.Sprintf("%s must be at most %v.", label, display(opts.Max))
		}
	})
	if err != nil {
		return nil, err
	}
	r.check = func(e *model.Entity) (bool, error) {
		v := r.Property.Value(e)
		if v == nil {
			return true, nil
		}
		if opts.Min != nil {
			c, err := compareOrdered(v, opts.Min)
			if err != nil {
				return false, err
			}
			if c < 0 {
				return false, nil
			}
		}
		if opts.Max != nil {
			c, err := compareOrdered(v, opts.Max)
			if err != nil {
				return false, err
			}
			if c > 0 {
				return false, nil
			}
		}
		return true, nil
	}
	if err := r.register(); err != nil {
		return nil, err
	}
	return r, nil
}

// StringLengthOptions configures StringLength. A zero Max means no upper
// bound.
type StringLengthOptions struct {
	Options
	Min int
	Max int
}

// StringLength flags strings whose length in characters is outside
// [Min, Max]. Empty values pass.
func StringLength(opts StringLengthOptions) (*ConditionRule, error) {
	if opts.Min < 0 || opts.Max < 0 || (opts.Max > 0 && opts.Max < opts.Min) {
		return nil, fmt.Errorf("string length rule on %s: invalid bounds %d..%d", opts.Property, opts.Min, opts.Max)
	}
	r, err := newConditionRule(opts.Options, "StringLength", func(label string) string {
		switch {
		case opts.Min > 0 && opts.Max > 0:
			return fmt.Sprintf("%s must be between %d and %d characters.", label, opts.Min, opts.Max)
		case opts.Min > 0:
			return fmt.Sprintf("%s must be at least %d characters.", label, opts.Min)
		default:
			return fmt.Sprintf("%s must be at most %d characters.", label, opts.Max)
		}
	})
	if err != nil {
		return nil, err
	}
	r.check = func(e *model.Entity) (bool, error) {
		v := r.Property.Value(e)
		if v == nil {
			return true, nil
		}
		s, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T is not a string", model.ErrWrongType, v)
		}
		if s == "" {
			return true, nil
		}
		n := utf8.RuneCountInString(s)
		return n >= opts.Min && (opts.Max == 0 || n <= opts.Max), nil
	}
	if err := r.register(); err != nil {
		return nil, err
	}
	return r, nil
}

func display(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return v
}
