package model

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PropertyPath is implemented by *Property and *PropertyChain so rules and
// handlers can treat a multi-hop path as a single property.
type PropertyPath interface {
	Name() string
	RootType() *Type
	LastProperty() *Property
	Label() string
	Format() string
	IsList() bool
	IsStatic() bool
	Value(e *Entity) any
	SetValue(e *Entity, v any) error
	IsInited(e *Entity) bool
	Rules(targetsOnly bool) []*Rule
	AddChanged(fn func(PropertyEvent), opts ...HandlerOption) func()
	AddGet(fn func(PropertyEvent), opts ...HandlerOption) func()
	String() string
}

type ruleAttachment struct {
	rule   *Rule
	target bool
}

// Property is a declared member of a type.
type Property struct {
	owner      *Type
	name       string
	fieldName  string
	valueType  ValueType
	typeName   string
	isList     bool
	isStatic   bool
	persisted  bool
	calculated bool
	origin     Origin
	label      string
	format     string
	defaultVal any

	rules   []ruleAttachment
	changed handlers
	gets    handlers
}

func (p *Property) Name() string { return p.name }

// RootType is the declaring type.
func (p *Property) RootType() *Type { return p.owner }

func (p *Property) LastProperty() *Property { return p }

func (p *Property) FieldName() string { return p.fieldName }

func (p *Property) ValueType() ValueType { return p.valueType }

// TypeName is the declared value type name, either built in or an entity
// type.
func (p *Property) TypeName() string { return p.typeName }

// EntityType resolves the referenced entity type. It is nil for value
// properties and for entity types not declared yet.
func (p *Property) EntityType() *Type {
	if p.valueType != EntityValue {
		return nil
	}
	return p.owner.model.Type(p.typeName)
}

func (p *Property) IsList() bool { return p.isList }

func (p *Property) IsStatic() bool { return p.isStatic }

func (p *Property) IsPersisted() bool { return p.persisted }

func (p *Property) IsCalculated() bool { return p.calculated }

func (p *Property) Origin() Origin { return p.origin }

func (p *Property) Format() string { return p.format }

// Label defaults to the property name.
func (p *Property) Label() string {
	if p.label != "" {
		return p.label
	}
	return p.name
}

func (p *Property) String() string { return p.owner.name + "." + p.name }

func (p *Property) log() *logrus.Entry {
	return p.owner.model.log.WithFields(logrus.Fields{"type": p.owner.name, "property": p.name})
}

func (p *Property) store(e *Entity) map[string]any {
	if p.isStatic {
		return p.owner.static
	}
	return e.fields
}

// IsInited reports whether the property holds a value for e. A list is
// inited only once it has been loaded.
func (p *Property) IsInited(e *Entity) bool {
	if !p.isStatic && e == nil {
		return false
	}
	v, ok := p.store(e)[p.fieldName]
	if !ok {
		return false
	}
	if l, isList := v.(*List); isList {
		return p.owner.model.loader.IsLoaded(l, "")
	}
	return true
}

// Value reads the property of e, raising the get event first. e is
// ignored for static properties.
func (p *Property) Value(e *Entity) any {
	if !p.isStatic && e == nil {
		return nil
	}
	st := p.store(e)
	v := st[p.fieldName]
	p.raise(PropertyEvent{
		Kind:      EventGet,
		Entity:    e,
		Property:  p,
		NewValue:  v,
		WasInited: p.IsInited(e),
	})
	return st[p.fieldName]
}

// accepts checks a non-nil value against the declared type.
func (p *Property) accepts(v any) bool {
	if p.valueType != EntityValue {
		return p.valueType.accepts(v)
	}
	ent, ok := v.(*Entity)
	if !ok {
		return false
	}
	want := p.EntityType()
	return want == nil || (ent.Type() != nil && ent.Type().IsSubtypeOf(want))
}

// CanSetValue reports whether v is acceptable for the property. nil is
// accepted for scalar properties; lists are only replaced through List.
func (p *Property) CanSetValue(e *Entity, v any) bool {
	if p.isList {
		_, ok := v.(*List)
		return ok
	}
	if v == nil {
		return true
	}
	return p.accepts(v)
}

// SetValue writes v to the property of e. Only a real change raises
// events: the observer notification first, then property handlers, then
// the rules that depend on the property.
func (p *Property) SetValue(e *Entity, v any) error {
	if !p.isStatic && e == nil {
		return fmt.Errorf("set %s: %w: no target", p, ErrNotRegistered)
	}
	if !p.CanSetValue(e, v) {
		p.log().WithField("value", fmt.Sprintf("%T", v)).Error("value has wrong type")
		return fmt.Errorf("set %s to %T: %w", p, v, ErrWrongType)
	}
	st := p.store(e)
	old, inited := st[p.fieldName]
	if inited && sameValue(old, v) {
		return nil
	}
	if l, ok := v.(*List); ok {
		l.bind(e, p)
	}
	st[p.fieldName] = v

	ev := PropertyEvent{
		Kind:      EventChanged,
		Entity:    e,
		Property:  p,
		OldValue:  old,
		NewValue:  v,
		WasInited: inited,
	}
	p.owner.model.observer.PropertyChanged(p.target(e), p.name)
	p.owner.model.afterSet(ev)
	p.raise(ev)
	return nil
}

// Init sets the property only when it has no value yet, or always when
// force is set. The first initialization raises the init-completed event.
func (p *Property) Init(e *Entity, v any, force bool) error {
	if !p.isStatic && e == nil {
		return fmt.Errorf("init %s: %w: no target", p, ErrNotRegistered)
	}
	st := p.store(e)
	_, inited := st[p.fieldName]
	if inited && !force {
		return nil
	}
	if p.isList {
		switch items := v.(type) {
		case nil:
			v = NewList()
		case []any:
			v = NewList(items...)
		}
	}
	if !p.CanSetValue(e, v) {
		p.log().WithField("value", fmt.Sprintf("%T", v)).Error("init value has wrong type")
		return fmt.Errorf("init %s with %T: %w", p, v, ErrWrongType)
	}
	if l, ok := v.(*List); ok {
		l.bind(e, p)
	}
	st[p.fieldName] = v
	p.owner.model.observer.PropertyChanged(p.target(e), p.name)
	if !inited {
		p.raise(PropertyEvent{
			Kind:     EventInitCompleted,
			Entity:   e,
			Property: p,
			NewValue: v,
		})
	}
	return nil
}

func (p *Property) initDefault(e *Entity) error {
	if p.isList {
		return p.Init(e, NewList(), false)
	}
	return p.Init(e, p.defaultVal, false)
}

// target is what the observer sees as the changed object.
func (p *Property) target(e *Entity) any {
	if p.isStatic {
		return p.owner
	}
	return e
}

// AddChanged subscribes to value changes.
func (p *Property) AddChanged(fn func(PropertyEvent), opts ...HandlerOption) func() {
	return p.changed.add(fn, opts)
}

// AddGet subscribes to reads.
func (p *Property) AddGet(fn func(PropertyEvent), opts ...HandlerOption) func() {
	return p.gets.add(fn, opts)
}

// raise delivers ev to the property's handlers and then to the rules that
// depend on it.
func (p *Property) raise(ev PropertyEvent) {
	switch ev.Kind {
	case EventGet:
		p.gets.raise(ev)
	case EventChanged:
		p.changed.raise(ev)
	}
	if err := p.owner.model.dispatch(p, ev); err != nil {
		p.log().WithError(err).WithField("event", ev.Kind.String()).Warn("rule failed")
	}
}

// Rules returns the rules attached to p in attachment order. With
// targetsOnly only rules that compute or validate p are returned.
func (p *Property) Rules(targetsOnly bool) []*Rule {
	var out []*Rule
	for _, a := range p.rules {
		if targetsOnly && !a.target {
			continue
		}
		out = append(out, a.rule)
	}
	return out
}

func (p *Property) attach(r *Rule, target bool) {
	for i, a := range p.rules {
		if a.rule == r {
			p.rules[i].target = a.target || target
			return
		}
	}
	p.rules = append(p.rules, ruleAttachment{rule: r, target: target})
}

// Text formats the property value of e for display.
func (p *Property) Text(e *Entity) string {
	v := p.Value(e)
	if f := p.formatter(); f != nil {
		return f.Convert(v)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// SetText parses text and sets the result. Text that the formatter rejects
// with a *FormatError leaves the value unchanged and activates a format
// condition on e instead; the condition is cleared by the next successful
// SetText.
func (p *Property) SetText(e *Entity, text string) error {
	var v any = text
	if f := p.formatter(); f != nil {
		parsed, err := f.ConvertBack(text)
		var fe *FormatError
		if errors.As(err, &fe) {
			p.log().WithField("text", text).Debug("format error")
			p.setFormatError(e, fe)
			return nil
		}
		if err != nil {
			return fmt.Errorf("set text %s: %w", p, err)
		}
		v = parsed
	} else if p.valueType != String && p.valueType != Object {
		return fmt.Errorf("set text %s: %w: no formatter for %s", p, ErrWrongType, p.valueType)
	}
	p.setFormatError(e, nil)
	return p.SetValue(e, v)
}

func (p *Property) formatter() Formatter {
	if p.owner.model.formats == nil {
		return nil
	}
	return p.owner.model.formats.Formatter(p.valueType, p.format)
}

func (p *Property) setFormatError(e *Entity, fe *FormatError) {
	if e == nil || e.meta == nil {
		return
	}
	for _, c := range e.meta.Conditions(p) {
		if c.Type == p.owner.model.formatError {
			e.meta.ConditionIf(c, false)
		}
	}
	if fe == nil {
		return
	}
	msg := fmt.Sprintf("%s: %s", p.Label(), fe.Message)
	e.meta.ConditionIf(NewCondition(p.owner.model.formatError, msg, p), true)
}
