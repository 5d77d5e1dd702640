package rules

import (
	"fmt"

	"exoweb/internal/model"
)

// AllowedValuesOptions configures AllowedValues. The allowed values come
// from Values, or from the list found at Source. Source is resolved
// against Root, or as a static path like "Lookups.Colors" when Static is
// set.
type AllowedValuesOptions struct {
	Options
	Source string
	Static bool
	Values []any
}

// AllowedValues flags a value, or any element of a list value, that is not
// among the allowed values. Empty values pass.
func AllowedValues(opts AllowedValuesOptions) (*ConditionRule, error) {
	if opts.Source == "" && len(opts.Values) == 0 {
		return nil, fmt.Errorf("allowed values rule on %s: no source", opts.Property)
	}
	r, err := newConditionRule(opts.Options, "AllowedValues", func(label string) string {
		return label + " is not in the list of allowed values."
	})
	if err != nil {
		return nil, err
	}

	var source model.PropertyPath
	r.check = func(e *model.Entity) (bool, error) {
		allowed := opts.Values
		if source != nil {
			var err error
			if allowed, err = allowedItems(source.Value(e)); err != nil {
				return false, err
			}
		}
		v := r.Property.Value(e)
		if v == nil {
			return true, nil
		}
		if l, ok := v.(*model.List); ok {
			for _, item := range l.Items() {
				if !contains(allowed, item) {
					return false, nil
				}
			}
			return true, nil
		}
		return contains(allowed, v), nil
	}

	if opts.Source == "" {
		if err := r.register(); err != nil {
			return nil, err
		}
		return r, nil
	}
	root := opts.Root
	if opts.Static {
		root = nil
	}
	r.whenResolved(opts.Source, root, func(pp model.PropertyPath) { source = pp })
	return r, nil
}

func allowedItems(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *model.List:
		return x.Items(), nil
	case []any:
		return x, nil
	}
	return nil, fmt.Errorf("%w: allowed values source holds %T", model.ErrWrongType, v)
}

func contains(list []any, v any) bool {
	for _, it := range list {
		if equalValues(it, v) {
			return true
		}
	}
	return false
}
