package model

import (
	"fmt"

	"exoweb/internal/pathtokens"
)

// PropertyChain is a multi-hop path treated as a single property of its
// root type. Each hop may carry a cast that filters the values it yields.
type PropertyChain struct {
	model *Model
	root  *Type
	path  string
	props []*Property
	casts []*Type
}

func newChain(root *Type, tokens *pathtokens.PathTokens) (*PropertyChain, error) {
	m := root.model
	c := &PropertyChain{
		model: m,
		root:  root,
		path:  tokens.String(),
		props: make([]*Property, 0, len(tokens.Steps)),
		casts: make([]*Type, 0, len(tokens.Steps)),
	}
	t := root
	last := len(tokens.Steps) - 1
	for i, step := range tokens.Steps {
		p := t.Property(step.Property)
		if p == nil {
			return nil, &PathError{Path: c.path, Type: t.name, Step: step.Property, Err: ErrUnknownProperty}
		}
		var cast *Type
		if step.Cast != "" {
			cast = m.Type(step.Cast)
			if cast == nil {
				return nil, &PathError{Path: c.path, Type: t.name, Step: step.Property, Missing: step.Cast, Err: ErrUnknownType}
			}
		}
		c.props = append(c.props, p)
		c.casts = append(c.casts, cast)
		if i == last {
			break
		}
		switch {
		case cast != nil:
			t = cast
		case p.valueType == EntityValue:
			t = p.EntityType()
			if t == nil {
				return nil, &PathError{Path: c.path, Type: p.owner.name, Step: step.Property, Missing: p.typeName, Err: ErrUnknownType}
			}
		default:
			return nil, &PathError{Path: c.path, Type: t.name, Step: tokens.Steps[i+1].Property, Err: ErrUnknownProperty}
		}
	}
	return c, nil
}

// Name is the dotted path of the chain.
func (c *PropertyChain) Name() string { return c.path }

func (c *PropertyChain) Path() string { return c.path }

func (c *PropertyChain) RootType() *Type { return c.root }

func (c *PropertyChain) String() string { return c.root.name + ":" + c.path }

// Properties returns the hops of the chain.
func (c *PropertyChain) Properties() []*Property {
	return append([]*Property(nil), c.props...)
}

func (c *PropertyChain) FirstProperty() *Property { return c.props[0] }

func (c *PropertyChain) LastProperty() *Property { return c.props[len(c.props)-1] }

func (c *PropertyChain) Len() int { return len(c.props) }

func (c *PropertyChain) Label() string { return c.LastProperty().Label() }

func (c *PropertyChain) Format() string { return c.LastProperty().Format() }

func (c *PropertyChain) IsList() bool { return c.LastProperty().IsList() }

func (c *PropertyChain) IsStatic() bool { return c.LastProperty().IsStatic() }

func (c *PropertyChain) Rules(targetsOnly bool) []*Rule {
	return c.LastProperty().Rules(targetsOnly)
}

func (c *PropertyChain) indexOf(p *Property) int {
	for i, x := range c.props {
		if x == p {
			return i
		}
	}
	return -1
}

func (c *PropertyChain) castOK(i int, e *Entity) bool {
	return c.casts[i] == nil || (e.Type() != nil && e.Type().IsSubtypeOf(c.casts[i]))
}

func (c *PropertyChain) checkRoot(e *Entity) error {
	if c.props[0].isStatic {
		return nil
	}
	if e == nil || e.Type() == nil || !e.Type().IsSubtypeOf(c.root) {
		c.model.log.WithField("path", c.path).WithField("type", c.root.name).Error("chain used with object of wrong type")
		return fmt.Errorf("chain %s on %v: %w", c, e, ErrWrongType)
	}
	return nil
}

// LastTarget walks every hop but the last and returns the entity that owns
// the final property. It is nil when an intermediate value is empty or
// filtered out by a cast.
func (c *PropertyChain) LastTarget(e *Entity) (*Entity, error) {
	if err := c.checkRoot(e); err != nil {
		return nil, err
	}
	target := e
	for i, p := range c.props[:len(c.props)-1] {
		switch v := p.Value(target).(type) {
		case nil:
			return nil, nil
		case *Entity:
			if !c.castOK(i, v) {
				return nil, nil
			}
			target = v
		case *List:
			return nil, fmt.Errorf("chain %s: %w: list at %s", c, ErrWrongType, p.name)
		default:
			return nil, fmt.Errorf("chain %s: %w: %T at %s", c, ErrWrongType, v, p.name)
		}
	}
	return target, nil
}

// Value reads the chain from e. It is nil when the chain breaks.
func (c *PropertyChain) Value(e *Entity) any {
	target, err := c.LastTarget(e)
	if err != nil || (target == nil && !c.LastProperty().isStatic) {
		return nil
	}
	v := c.LastProperty().Value(target)
	if ent, ok := v.(*Entity); ok && !c.castOK(len(c.props)-1, ent) {
		return nil
	}
	return v
}

// SetValue writes the final property. It fails when the chain breaks
// before the last hop.
func (c *PropertyChain) SetValue(e *Entity, v any) error {
	target, err := c.LastTarget(e)
	if err != nil {
		return err
	}
	if target == nil && !c.LastProperty().isStatic {
		return fmt.Errorf("set chain %s: %w: intermediate value is empty", c, ErrNotRegistered)
	}
	return c.LastProperty().SetValue(target, v)
}

// Each walks the chain from e depth-first, calling fn with the object that
// owns each hop. When only is set fn is called for that hop alone. The walk
// stops as soon as fn returns false.
func (c *PropertyChain) Each(e *Entity, fn func(target *Entity, index int, p *Property) bool, only *Property) error {
	if err := c.checkRoot(e); err != nil {
		return err
	}
	limit := len(c.props) - 1
	if only != nil {
		limit = c.indexOf(only)
		if limit < 0 {
			return nil
		}
	}
	c.each(e, 0, limit, fn, only)
	return nil
}

func (c *PropertyChain) each(target *Entity, i, limit int, fn func(*Entity, int, *Property) bool, only *Property) bool {
	p := c.props[i]
	if only == nil || only == p {
		if !fn(target, i, p) {
			return false
		}
	}
	if i >= limit {
		return true
	}
	switch v := p.Value(target).(type) {
	case *Entity:
		if c.castOK(i, v) {
			return c.each(v, i+1, limit, fn, only)
		}
	case *List:
		for _, item := range v.Items() {
			ent, ok := item.(*Entity)
			if !ok || !c.castOK(i, ent) {
				continue
			}
			if !c.each(ent, i+1, limit, fn, only) {
				return false
			}
		}
	}
	return true
}

// Connects reports whether to is reachable from from through the hop via.
func (c *PropertyChain) Connects(from, to *Entity, via *Property) bool {
	found := false
	_ = c.Each(from, func(target *Entity, _ int, _ *Property) bool {
		if target == to {
			found = true
			return false
		}
		return true
	}, via)
	return found
}

// IsInited reports whether every hop is initialized along every branch
// from e.
func (c *PropertyChain) IsInited(e *Entity) bool {
	return c.IsInitedTolerant(e, false)
}

// IsInitedTolerant is IsInited that, with tolerateNull, also accepts a
// chain that ends early on an empty value.
func (c *PropertyChain) IsInitedTolerant(e *Entity, tolerateNull bool) bool {
	visited := make([]bool, len(c.props))
	inited := true
	err := c.Each(e, func(target *Entity, i int, p *Property) bool {
		visited[i] = true
		if !p.IsInited(target) {
			inited = false
			return false
		}
		return true
	}, nil)
	if err != nil || !inited {
		return false
	}
	for i, v := range visited {
		if !v {
			if tolerateNull {
				c.props[i].log().WithField("chain", c.String()).Debug("tolerated empty hop")
			}
			return tolerateNull
		}
	}
	return true
}

// AddChanged subscribes to changes of any hop. The handler receives one
// event per known root entity connected to the changed object.
func (c *PropertyChain) AddChanged(fn func(PropertyEvent), opts ...HandlerOption) func() {
	return c.subscribe(fn, opts, func(p *Property, h func(PropertyEvent)) func() {
		return p.AddChanged(h)
	}, c.props)
}

// AddGet subscribes to reads of the last hop.
func (c *PropertyChain) AddGet(fn func(PropertyEvent), opts ...HandlerOption) func() {
	return c.subscribe(fn, opts, func(p *Property, h func(PropertyEvent)) func() {
		return p.AddGet(h)
	}, c.props[len(c.props)-1:])
}

func (c *PropertyChain) subscribe(fn func(PropertyEvent), opts []HandlerOption, add func(*Property, func(PropertyEvent)) func(), props []*Property) func() {
	var hs handlers
	hs.add(fn, opts)
	removes := make([]func(), 0, len(props))
	for _, p := range props {
		removes = append(removes, add(p, func(ev PropertyEvent) {
			for _, root := range c.roots(ev.Entity, p) {
				hs.raise(PropertyEvent{
					Kind:        ev.Kind,
					Entity:      root,
					Property:    c,
					TriggeredBy: p,
					OldValue:    ev.OldValue,
					NewValue:    ev.NewValue,
					WasInited:   ev.WasInited,
					Changes:     ev.Changes,
				})
			}
		}))
	}
	return func() {
		for _, r := range removes {
			r()
		}
	}
}

// roots returns the known entities of the root type from which the hop p
// of obj is reachable.
func (c *PropertyChain) roots(obj *Entity, p *Property) []*Entity {
	if obj == nil {
		return nil
	}
	if p == c.props[0] {
		if obj.Type() != nil && obj.Type().IsSubtypeOf(c.root) {
			return []*Entity{obj}
		}
		return nil
	}
	var out []*Entity
	for _, r := range c.root.knownEntities() {
		if c.Connects(r, obj, p) {
			out = append(out, r)
		}
	}
	return out
}
