package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"exoweb/internal/engine"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
)

// TypeLoader declares types fetched from a TypeProvider. Missing bases are
// loaded first.
type TypeLoader struct {
	types TypeProvider

	// Known, when set, defers the known instances of every loaded type to
	// a query.
	Known QueryProvider
}

func NewTypeLoader(types TypeProvider) *TypeLoader {
	return &TypeLoader{types: types}
}

func (l *TypeLoader) LoadType(ctx context.Context, m *model.Model, name string) error {
	return l.load(ctx, m, name, make(map[string]bool))
}

func (l *TypeLoader) load(ctx context.Context, m *model.Model, name string, seen map[string]bool) error {
	if m.Type(name) != nil {
		return nil
	}
	if seen[name] {
		return fmt.Errorf("load type %s: %w: inheritance cycle", name, metadata.ErrInvalidDefinition)
	}
	seen[name] = true

	def, err := l.types.Type(ctx, name)
	if err != nil {
		return err
	}
	if def.Base != "" {
		if err := l.load(ctx, m, def.Base, seen); err != nil {
			return err
		}
	}
	res, err := engine.Declare(m, []*metadata.TypeDefinition{def})
	if err != nil {
		return err
	}
	if l.Known != nil {
		for _, t := range res.Types {
			RegisterKnown(t, l.Known)
		}
	}
	m.Log().WithField("type", name).Info("type loaded")
	return nil
}

// ObjectLoader hydrates ghost entities from an ObjectProvider. It is meant
// to be the model's ghost loader.
type ObjectLoader struct {
	model   *model.Model
	objects ObjectProvider
}

func NewObjectLoader(m *model.Model, objects ObjectProvider) *ObjectLoader {
	return &ObjectLoader{model: m, objects: objects}
}

func (l *ObjectLoader) Load(ctx context.Context, target any, property string) error {
	e, ok := target.(*model.Entity)
	if !ok {
		return fmt.Errorf("object loader: cannot load %T", target)
	}
	t := e.Type()
	if t == nil {
		return fmt.Errorf("load %s: %w", e.ID(), model.ErrNotRegistered)
	}
	data, err := l.objects.Object(ctx, TypeNames(t), e.ID())
	if err != nil {
		return err
	}

	turn := l.model.Turn()
	turn.Lock()
	defer turn.Unlock()
	return Apply(e, data)
}

// ListLoader fills a list with every stored object of a type. Registered
// on Type.Known it loads the known instances; registered on a list
// property it also becomes the content of that list.
type ListLoader struct {
	typ   *model.Type
	query QueryProvider
}

func NewListLoader(t *model.Type, query QueryProvider) *ListLoader {
	return &ListLoader{typ: t, query: query}
}

// RegisterKnown defers the known instances of t until first use.
func RegisterKnown(t *model.Type, query QueryProvider) {
	t.Model().Loader().Register(t.Known(), NewListLoader(t, query))
}

func (l *ListLoader) Load(ctx context.Context, target any, property string) error {
	list, ok := target.(*model.List)
	if !ok {
		return fmt.Errorf("list loader: cannot load %T", target)
	}
	found, err := l.query.Query(ctx, TypeNames(l.typ))
	if err != nil {
		return err
	}

	m := l.typ.Model()
	turn := m.Turn()
	turn.Lock()
	defer turn.Unlock()

	items := make([]any, 0, len(found))
	for _, data := range found {
		e, err := hydrate(m, l.typ, data)
		if err != nil {
			return err
		}
		items = append(items, e)
	}
	if owner, _ := list.Owner(); owner != nil {
		return list.Fill(items)
	}
	return nil
}

// hydrate returns the entity for data, applying data when the entity is
// still a ghost.
func hydrate(m *model.Model, fallback *model.Type, data *ObjectData) (*model.Entity, error) {
	t := m.Type(data.Type)
	if t == nil || !t.IsSubtypeOf(fallback) {
		t = fallback
	}
	e := fallback.Get(data.ID)
	if e != nil && !m.Loader().IsRegistered(e) {
		return e, nil
	}
	if e == nil {
		var err error
		if e, err = t.GetOrCreate(data.ID); err != nil {
			return nil, err
		}
	}
	if err := Apply(e, data); err != nil {
		return nil, err
	}
	m.Loader().Unregister(e)
	return e, nil
}

// TypeNames lists t and every type derived from it.
func TypeNames(t *model.Type) []string {
	names := []string{t.Name()}
	for _, d := range t.Derived() {
		names = append(names, TypeNames(d)...)
	}
	return names
}

// Apply initializes the properties of e from data. Properties absent from
// data stay uninitialized; properties that already hold a value are kept.
func Apply(e *model.Entity, data *ObjectData) error {
	t := e.Type()
	if data.Type != "" && data.Type != t.Name() {
		t.Model().Log().WithFields(logrus.Fields{"type": t.Name(), "id": e.ID(), "stored_type": data.Type}).
			Debug("stored type differs from registered type")
	}
	var errs []error
	for _, p := range t.Properties() {
		if p.IsStatic() || p.IsCalculated() {
			continue
		}
		raw, ok := data.Fields[p.Name()]
		if !ok {
			continue
		}
		v, err := DecodeValue(p, raw)
		if err == nil {
			err = p.Init(e, v, false)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("apply %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// DecodeValue converts the JSON form of a value of p back to the Go type
// p holds. Entity references resolve to registered entities or ghosts.
func DecodeValue(p *model.Property, raw any) (any, error) {
	if !p.IsList() {
		return decodeItem(p, raw)
	}
	if raw == nil {
		return []any{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a list", model.ErrWrongType, raw)
	}
	out := make([]any, len(items))
	for i, it := range items {
		v, err := decodeItem(p, it)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeItem(p *model.Property, raw any) (any, error) {
	if p.ValueType() != model.EntityValue {
		return engine.CoerceValue(p.ValueType(), raw)
	}
	if raw == nil {
		return nil, nil
	}
	ref, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an entity reference", model.ErrWrongType, raw)
	}
	id, _ := ref["id"].(string)
	typeName, _ := ref["type"].(string)
	want := p.EntityType()
	if want == nil {
		return nil, fmt.Errorf("%s: %w", p.TypeName(), model.ErrUnknownType)
	}
	t := want.Model().Type(typeName)
	if t == nil || !t.IsSubtypeOf(want) {
		t = want
	}
	return t.GetOrCreate(id)
}
