package model

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"

	"exoweb/internal/pathtokens"
)

const (
	initOfPrefix   = "init of "
	changeOfPrefix = "change of "
)

// CalculatedOptions configures a calculated property. Exactly one of
// Calculate and Expression is used; Calculate wins when both are set.
//
// BasedOn lists the paths the value depends on, relative to the declaring
// type. A path may be prefixed with "init of " or "change of " to restrict
// the trigger, and may use brace groups such as "Address{City,Zip}".
// Expression programs see each path's value under its dotted name.
type CalculatedOptions struct {
	Calculate  func(e *Entity) (any, error)
	Expression string
	BasedOn    []string
}

type calculation struct {
	prop    *Property
	fn      func(e *Entity) (any, error)
	program *vm.Program
	inputs  []PropertyPath
}

// Calculated turns p into a property computed by a rule. The rule runs on
// first read and whenever one of its inputs changes. Calculated properties
// are not initialized when an entity is constructed.
func (p *Property) Calculated(opts CalculatedOptions) (*Rule, error) {
	m := p.owner.model
	log := p.log()
	if opts.Calculate == nil && opts.Expression == "" {
		log.Error("calculated property has no calculation")
		return nil, fmt.Errorf("calculated %s: nothing to calculate", p)
	}

	inputs, paths, err := p.basedOn(opts.BasedOn)
	if err != nil {
		log.WithError(err).Error("calculated property inputs")
		return nil, err
	}
	calc := &calculation{prop: p, fn: opts.Calculate, inputs: paths}
	if calc.fn == nil {
		program, err := expr.Compile(opts.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			log.WithField("expression", opts.Expression).WithError(err).Error("compile expression")
			return nil, fmt.Errorf("calculated %s: compile %q: %w", p, opts.Expression, err)
		}
		calc.program = program
	}

	r := NewRule("calculated "+p.String(), ExecutorFunc(calc.execute))
	r.calculates = p
	inputs = append(inputs, &RuleInput{Property: p, Get: true, Target: true})
	if err := m.RegisterRule(r, inputs, p.owner); err != nil {
		return nil, err
	}
	p.calculated = true
	p.owner.dropFromInit(p)
	log.WithField("inputs", len(paths)).Debug("calculated property registered")
	return r, nil
}

func (p *Property) basedOn(specs []string) ([]Input, []PropertyPath, error) {
	var inputs []Input
	var paths []PropertyPath
	for _, spec := range specs {
		init, change := true, true
		switch {
		case strings.HasPrefix(spec, initOfPrefix):
			spec, change = strings.TrimPrefix(spec, initOfPrefix), false
		case strings.HasPrefix(spec, changeOfPrefix):
			spec, init = strings.TrimPrefix(spec, changeOfPrefix), false
		}
		expanded, err := pathtokens.NormalizePaths([]string{strings.TrimSpace(spec)})
		if err != nil {
			return nil, nil, fmt.Errorf("calculated %s: based on %q: %w", p, spec, err)
		}
		for _, path := range expanded {
			pp, err := p.owner.model.Property(path, p.owner)
			if err != nil {
				return nil, nil, fmt.Errorf("calculated %s: based on %q: %w", p, path, err)
			}
			inputs = append(inputs, &RuleInput{Property: pp, Init: init, Change: change})
			paths = append(paths, pp)
		}
	}
	return inputs, paths, nil
}

func (c *calculation) execute(e *Entity) error {
	v, err := c.value(e)
	if err != nil {
		return fmt.Errorf("calculate %s: %w", c.prop, err)
	}
	if !c.prop.isList {
		return c.prop.SetValue(e, v)
	}
	items, err := listItems(v)
	if err != nil {
		return fmt.Errorf("calculate %s: %w", c.prop, err)
	}
	if !c.prop.IsInited(e) {
		return c.prop.Init(e, items, false)
	}
	l, _ := c.prop.store(e)[c.prop.fieldName].(*List)
	if l == nil {
		return c.prop.Init(e, items, true)
	}
	if sameItems(l.items, items) {
		return nil
	}
	return l.Replace(items)
}

func (c *calculation) value(e *Entity) (any, error) {
	if c.fn != nil {
		return c.fn(e)
	}
	env := ExpressionEnv(e, c.inputs)
	out, err := expr.Run(c.program, env)
	if err != nil {
		e.Type().model.log.WithFields(logrus.Fields{"property": c.prop.String(), "id": e.id}).WithError(err).Warn("expression failed")
		return nil, err
	}
	return out, nil
}

// ExpressionEnv builds the variables seen by an expression: the value of
// each path nested under its dotted name. Lists are exposed as slices.
func ExpressionEnv(e *Entity, paths []PropertyPath) map[string]any {
	env := map[string]any{"id": e.id}
	for _, pp := range paths {
		v := exprValue(pp.Value(e))
		names := strings.Split(pp.Name(), ".")
		node := env
		for i, name := range names {
			name = stripCast(name)
			if i == len(names)-1 {
				node[name] = v
				break
			}
			child, ok := node[name].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[name] = child
			}
			node = child
		}
	}
	return env
}

func stripCast(step string) string {
	if i := strings.IndexByte(step, '<'); i >= 0 {
		return step[:i]
	}
	return step
}

func exprValue(v any) any {
	switch x := v.(type) {
	case *List:
		items := x.Items()
		for i, it := range items {
			items[i] = exprValue(it)
		}
		return items
	case *Entity:
		return x.id
	}
	return v
}

func listItems(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	case *List:
		return x.Items(), nil
	case []*Entity:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a list", ErrWrongType, v)
}

func sameItems(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}
