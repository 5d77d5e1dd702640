package model

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Entity is an instance of a model type. Property values live in fields:
// a missing key means the property is not initialized, a nil value means
// it is initialized and empty.
type Entity struct {
	id     string
	isNew  bool
	seq    uint64
	meta   *ObjectMeta
	fields map[string]any
}

func newEntity(t *Type, isNew bool) *Entity {
	e := &Entity{isNew: isNew, fields: make(map[string]any)}
	e.meta = &ObjectMeta{entity: e, typ: t, byProperty: make(map[string][]*Condition)}
	return e
}

func (e *Entity) ID() string { return e.id }

// IsNew reports whether e was created on this side and has not been
// assigned a persisted id yet.
func (e *Entity) IsNew() bool { return e.isNew }

// Meta returns the entity's metadata, or nil once it has been
// unregistered.
func (e *Entity) Meta() *ObjectMeta { return e.meta }

// Type returns the entity's type, or nil once it has been unregistered.
func (e *Entity) Type() *Type {
	if e.meta == nil {
		return nil
	}
	return e.meta.typ
}

func (e *Entity) String() string {
	if t := e.Type(); t != nil {
		return t.name + "|" + e.id
	}
	return "?|" + e.id
}

// Resolve reads a property by name, raising the usual get events. ok is
// false when the type has no such property or the property has not been
// initialized.
func (e *Entity) Resolve(name string) (any, bool) {
	t := e.Type()
	if t == nil {
		return nil, false
	}
	p := t.Property(name)
	if p == nil {
		return nil, false
	}
	v := p.Value(e)
	if !p.IsInited(e) {
		return nil, false
	}
	return v, true
}

// Is reports whether e is an instance of the named type or a type derived
// from it.
func (e *Entity) Is(typeName string) bool {
	t := e.Type()
	if t == nil {
		return false
	}
	return t.IsSubtypeOf(t.model.Type(typeName))
}

// Get reads the named property.
func (e *Entity) Get(name string) (any, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return p.Value(e), nil
}

// Set writes the named property.
func (e *Entity) Set(name string, v any) error {
	p, err := e.property(name)
	if err != nil {
		return err
	}
	return p.SetValue(e, v)
}

// Init initializes the named property if it has no value yet.
func (e *Entity) Init(name string, v any) error {
	p, err := e.property(name)
	if err != nil {
		return err
	}
	return p.Init(e, v, false)
}

// List returns the list held by the named list property. An uninitialized
// list of a loaded object starts out empty.
func (e *Entity) List(name string) (*List, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	if !p.isList {
		return nil, fmt.Errorf("%s.%s: %w: not a list", e.Type().name, name, ErrWrongType)
	}
	if !p.IsInited(e) {
		t := e.Type()
		if t.model.loader.IsRegistered(e) {
			p.log().WithField("id", e.id).Error("list of unloaded object")
			return nil, fmt.Errorf("%s.%s: %w", t.name, name, ErrListNotLoaded)
		}
		if err := p.Init(e, nil, false); err != nil {
			return nil, err
		}
	}
	l, _ := p.Value(e).(*List)
	return l, nil
}

func (e *Entity) property(name string) (*Property, error) {
	t := e.Type()
	if t == nil {
		return nil, fmt.Errorf("entity %s: %w", e.id, ErrNotRegistered)
	}
	p := t.Property(name)
	if p == nil {
		t.model.log.WithFields(logrus.Fields{"type": t.name, "property": name}).Debug("unknown property")
		return nil, fmt.Errorf("%s.%s: %w", t.name, name, ErrUnknownProperty)
	}
	return p, nil
}

func (e *Entity) initProperties(props []*Property) error {
	for _, p := range props {
		if err := p.initDefault(e); err != nil {
			return err
		}
	}
	return nil
}
