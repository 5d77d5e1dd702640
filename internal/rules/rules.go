// Package rules provides the standard validation rules. Each rule owns one
// condition and activates it on an entity whenever its predicate fails.
package rules

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"exoweb/internal/model"
)

// Options are shared by every rule. Property is a path relative to Root.
// Code and Message default to values derived from the rule kind and the
// property.
type Options struct {
	Root     *model.Type
	Property string
	Message  string
	Code     string
	Category model.Category
}

// ConditionRule is a validation rule bound to a single condition.
type ConditionRule struct {
	*model.Rule
	Property      model.PropertyPath
	ConditionType *model.ConditionType
	Condition     *model.Condition

	root  *model.Type
	kind  string
	log   *logrus.Entry
	ready bool
	check func(e *model.Entity) (bool, error)
}

// newConditionRule resolves the target property and creates the rule and
// its condition. message receives the target's label.
func newConditionRule(opts Options, kind string, message func(label string) string) (*ConditionRule, error) {
	if opts.Root == nil {
		return nil, fmt.Errorf("%s rule: %w: no root type", kind, model.ErrUnknownType)
	}
	m := opts.Root.Model()
	log := m.Log().WithFields(logrus.Fields{"rule": kind, "type": opts.Root.Name(), "property": opts.Property})
	prop, err := m.Property(opts.Property, opts.Root)
	if err != nil {
		log.WithError(err).Error("rule target not resolved")
		return nil, fmt.Errorf("%s rule on %s.%s: %w", kind, opts.Root.Name(), opts.Property, err)
	}

	msg := opts.Message
	if msg == "" {
		msg = message(prop.Label())
	}
	code := opts.Code
	if code == "" {
		code = opts.Root.Name() + "." + prop.Name() + "." + kind
	}
	ct, err := m.ConditionTypes().Ensure(code, opts.Category, msg)
	if err != nil {
		return nil, fmt.Errorf("%s rule on %s.%s: %w", kind, opts.Root.Name(), opts.Property, err)
	}

	r := &ConditionRule{
		Property:      prop,
		ConditionType: ct,
		Condition:     model.NewCondition(ct, msg, prop),
		root:          opts.Root,
		kind:          kind,
		log:           log.WithField("code", code),
	}
	r.Rule = model.NewRule(code, r)
	return r, nil
}

// register wires the rule to its target and any extra inputs.
func (r *ConditionRule) register(extra ...model.Input) error {
	inputs := append([]model.Input{&model.RuleInput{
		Property: r.Property,
		Init:     true,
		Change:   true,
		Target:   true,
	}}, extra...)
	if err := r.root.Model().RegisterRule(r.Rule, inputs, r.root); err != nil {
		return err
	}
	r.ready = true
	return nil
}

// whenResolved registers the rule once path can be resolved against root.
// A nil root resolves path as a static property.
func (r *ConditionRule) whenResolved(path string, root *model.Type, resolved func(model.PropertyPath)) {
	r.root.Model().WhenProperty(path, root, func(pp model.PropertyPath) {
		resolved(pp)
		if err := r.register(&model.RuleInput{Property: pp, Init: true, Change: true}); err != nil {
			r.log.WithError(err).Error("deferred rule registration failed")
		}
	})
}

// Ready reports whether every path the rule depends on has been resolved
// and the rule is registered.
func (r *ConditionRule) Ready() bool { return r.ready }

// Execute evaluates the rule for e and toggles its condition.
func (r *ConditionRule) Execute(e *model.Entity) error {
	if !r.ready {
		r.log.Warn("rule evaluated before its inputs were resolved")
		return nil
	}
	ok, err := r.check(e)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}
	e.Meta().ConditionIf(r.Condition, !ok)
	return nil
}

// HasValue reports whether v counts as present for required checks. nil,
// blank strings and empty lists do not; zero numbers and false do.
func HasValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case *model.List:
		return x.Len() > 0
	case []any:
		return len(x) > 0
	}
	return true
}

// RequiredOptions configures Required.
type RequiredOptions struct {
	Options
}

// Required flags the property while it has no value.
func Required(opts RequiredOptions) (*ConditionRule, error) {
	r, err := newConditionRule(opts.Options, "Required", func(label string) string {
		return label + " is required."
	})
	if err != nil {
		return nil, err
	}
	r.check = func(e *model.Entity) (bool, error) {
		return HasValue(r.Property.Value(e)), nil
	}
	if err := r.register(); err != nil {
		return nil, err
	}
	return r, nil
}
