package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"exoweb/internal/pathtokens"
)

// Origin tells where instances or property values come from.
type Origin string

const (
	OriginServer Origin = "server"
	OriginClient Origin = "client"
)

// Type is a node of the model's type arena. Entities of a type are pooled
// by lower-cased id at every level of the base chain.
type Type struct {
	model   *Model
	index   int
	base    int
	name    string
	origin  Origin
	derived []int

	props map[string]*Property
	order []*Property

	pool    map[string]*Entity
	legacy  map[string]*Entity
	counter int
	known   *List
	static  map[string]any
	chains  map[string]*PropertyChain

	initNew      []*Property
	initExisting []*Property
}

func newType(m *Model, index int, name string, base *Type, origin Origin) *Type {
	t := &Type{
		model:  m,
		index:  index,
		base:   -1,
		name:   name,
		origin: origin,
		props:  make(map[string]*Property),
		pool:   make(map[string]*Entity),
		legacy: make(map[string]*Entity),
		static: make(map[string]any),
		chains: make(map[string]*PropertyChain),
	}
	if base != nil {
		t.base = base.index
	}
	return t
}

func (t *Type) Name() string { return t.name }

func (t *Type) Origin() Origin { return t.origin }

func (t *Type) Model() *Model { return t.model }

func (t *Type) String() string { return t.name }

// Base returns the parent type, or nil for a root type.
func (t *Type) Base() *Type {
	if t.base < 0 {
		return nil
	}
	return t.model.types[t.base]
}

// Derived returns the types declared directly on top of t.
func (t *Type) Derived() []*Type {
	out := make([]*Type, len(t.derived))
	for i, idx := range t.derived {
		out[i] = t.model.types[idx]
	}
	return out
}

func (t *Type) root() *Type {
	r := t
	for b := r.Base(); b != nil; b = r.Base() {
		r = b
	}
	return r
}

// IsSubtypeOf reports whether t is other or derives from it.
func (t *Type) IsSubtypeOf(other *Type) bool {
	if other == nil {
		return false
	}
	for ty := t; ty != nil; ty = ty.Base() {
		if ty == other {
			return true
		}
	}
	return false
}

// Property finds a property declared on t or inherited from a base.
func (t *Type) Property(name string) *Property {
	for ty := t; ty != nil; ty = ty.Base() {
		if p, ok := ty.props[name]; ok {
			return p
		}
	}
	return nil
}

// Properties returns inherited properties first, then t's own.
func (t *Type) Properties() []*Property {
	var out []*Property
	if b := t.Base(); b != nil {
		out = b.Properties()
	}
	return append(out, t.order...)
}

// OwnProperties returns the properties declared on t itself.
func (t *Type) OwnProperties() []*Property {
	return append([]*Property(nil), t.order...)
}

// PropertySpec describes a property to add to a type. Type is either a
// built-in value type name or the name of an entity type.
type PropertySpec struct {
	Name      string
	Type      string
	IsList    bool
	IsStatic  bool
	Persisted bool
	Origin    Origin
	Label     string
	Format    string
	Default   any
}

// AddProperty declares a property on t.
func (t *Type) AddProperty(spec PropertySpec) (*Property, error) {
	log := t.model.log.WithFields(logrus.Fields{"type": t.name, "property": spec.Name})
	if spec.Name == "" || strings.ContainsAny(spec.Name, ".<>{},") {
		log.Error("invalid property name")
		return nil, fmt.Errorf("add property %q to %s: %w", spec.Name, t.name, pathtokens.ErrInvalidPath)
	}
	if t.Property(spec.Name) != nil {
		log.Error("property already defined")
		return nil, fmt.Errorf("add property %s.%s: %w", t.name, spec.Name, ErrDuplicateProperty)
	}
	for _, d := range t.descendants() {
		if _, ok := d.props[spec.Name]; ok {
			log.WithField("derived", d.name).Error("property already defined on derived type")
			return nil, fmt.Errorf("add property %s.%s: %w", t.name, spec.Name, ErrDuplicateProperty)
		}
	}

	p := &Property{
		owner:      t,
		name:       spec.Name,
		fieldName:  spec.Name,
		typeName:   spec.Type,
		isList:     spec.IsList,
		isStatic:   spec.IsStatic,
		persisted:  spec.Persisted,
		origin:     spec.Origin,
		label:      spec.Label,
		format:     spec.Format,
		defaultVal: spec.Default,
	}
	if p.origin == "" {
		p.origin = t.origin
	}
	if vt, ok := ParseValueType(spec.Type); ok {
		p.valueType = vt
	} else if spec.Type == "" {
		p.valueType = Object
	} else {
		p.valueType = EntityValue
	}
	if spec.Default != nil && !p.isList && !p.accepts(spec.Default) {
		log.WithField("default", spec.Default).Error("default value has wrong type")
		return nil, fmt.Errorf("add property %s.%s: default %v: %w", t.name, spec.Name, spec.Default, ErrWrongType)
	}

	t.props[p.name] = p
	t.order = append(t.order, p)
	if !p.isStatic {
		t.initNew = append(t.initNew, p)
		if p.origin == OriginClient {
			t.initExisting = append(t.initExisting, p)
		}
	}
	log.Debug("property added")
	t.model.retryPending()
	return p, nil
}

func (t *Type) descendants() []*Type {
	var out []*Type
	for _, d := range t.Derived() {
		out = append(out, d)
		out = append(out, d.descendants()...)
	}
	return out
}

// propertiesToInit collects the properties to initialize on construction
// along the base chain.
func (t *Type) propertiesToInit(isNew bool) []*Property {
	var out []*Property
	if b := t.Base(); b != nil {
		out = b.propertiesToInit(isNew)
	}
	if isNew {
		return append(out, t.initNew...)
	}
	return append(out, t.initExisting...)
}

func (t *Type) dropFromInit(p *Property) {
	t.initNew = removeProperty(t.initNew, p)
	t.initExisting = removeProperty(t.initExisting, p)
}

func removeProperty(list []*Property, p *Property) []*Property {
	for i, x := range list {
		if x == p {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// NewID generates an id that is unique across the whole hierarchy of t.
func (t *Type) NewID() string {
	r := t.root()
	for {
		r.counter++
		id := t.model.idPrefix + strconv.Itoa(r.counter)
		if r.pool[strings.ToLower(id)] == nil {
			return id
		}
	}
}

// IsNewID reports whether id was generated by NewID.
func (t *Type) IsNewID(id string) bool {
	return strings.HasPrefix(id, t.model.idPrefix)
}

func validID(id string) bool {
	return strings.TrimSpace(id) != ""
}

// New creates and registers a new entity with a generated id. Property
// defaults are initialized after registration.
func (t *Type) New() (*Entity, error) {
	e := newEntity(t, true)
	if err := t.register(e, t.NewID()); err != nil {
		return nil, err
	}
	if err := e.initProperties(t.propertiesToInit(true)); err != nil {
		return nil, err
	}
	return e, nil
}

// Create registers an existing entity under id. Only client-origin
// properties are initialized; the rest are expected to be loaded.
func (t *Type) Create(id string) (*Entity, error) {
	e := newEntity(t, false)
	if err := t.register(e, id); err != nil {
		return nil, err
	}
	if err := e.initProperties(t.propertiesToInit(false)); err != nil {
		return nil, err
	}
	return e, nil
}

// GetOrCreate returns the entity registered under id, creating a ghost if
// there is none. A ghost is registered with the model's ghost loader so
// that the first path walked through it loads its state.
func (t *Type) GetOrCreate(id string) (*Entity, error) {
	if e := t.Get(id); e != nil {
		return e, nil
	}
	e, err := t.Create(id)
	if err != nil {
		return nil, err
	}
	if t.model.ghost != nil {
		t.model.loader.Register(e, t.model.ghost)
	}
	return e, nil
}

func (t *Type) register(e *Entity, id string) error {
	log := t.model.log.WithFields(logrus.Fields{"type": t.name, "id": id})
	if !validID(id) {
		log.Error("cannot register object with invalid id")
		return fmt.Errorf("register %s %q: %w", t.name, id, ErrInvalidID)
	}
	key := strings.ToLower(id)
	if t.root().pool[key] != nil {
		log.Error("object id already registered")
		return fmt.Errorf("register %s %q: %w", t.name, id, ErrDuplicateID)
	}
	e.id = id
	t.model.regSeq++
	e.seq = t.model.regSeq
	for ty := t; ty != nil; ty = ty.Base() {
		ty.pool[key] = e
		if ty.known != nil {
			ty.known.track(e)
		}
	}
	log.Debug("object registered")
	t.model.registered(e)
	return nil
}

// Unregister removes e from the pools of its whole type chain and detaches
// its metadata.
func (t *Type) Unregister(e *Entity) error {
	if e == nil || e.meta == nil || !e.meta.typ.IsSubtypeOf(t) {
		t.model.log.WithField("type", t.name).Warn("unregister of object not registered with type")
		return fmt.Errorf("unregister from %s: %w", t.name, ErrNotRegistered)
	}
	key := strings.ToLower(e.id)
	own := e.meta.typ
	if own.pool[key] != e {
		t.model.log.WithFields(logrus.Fields{"type": own.name, "id": e.id}).Warn("unregister of object missing from pool")
		return fmt.Errorf("unregister %s %q: %w", own.name, e.id, ErrNotRegistered)
	}
	for ty := own; ty != nil; ty = ty.Base() {
		delete(ty.pool, key)
		for k, v := range ty.legacy {
			if v == e {
				delete(ty.legacy, k)
			}
		}
		if ty.known != nil {
			ty.known.untrack(e)
		}
	}
	t.model.loader.Unregister(e)
	t.model.log.WithFields(logrus.Fields{"type": own.name, "id": e.id}).Debug("object unregistered")
	t.model.unregistered(e)
	for _, c := range e.meta.conditions {
		c.removeTarget(e)
	}
	e.meta = nil
	return nil
}

// ChangeObjectID moves the entity registered as oldID to newID, keeping
// oldID resolvable through the legacy pool.
func (t *Type) ChangeObjectID(oldID, newID string) error {
	log := t.model.log.WithFields(logrus.Fields{"type": t.name, "id": oldID, "new_id": newID})
	e := t.Get(oldID)
	if e == nil {
		log.Error("cannot change id of unknown object")
		return fmt.Errorf("change id %s %q: %w", t.name, oldID, ErrNotRegistered)
	}
	if !validID(newID) {
		log.Error("invalid new object id")
		return fmt.Errorf("change id %s %q: %w", t.name, newID, ErrInvalidID)
	}
	oldKey, newKey := strings.ToLower(e.id), strings.ToLower(newID)
	if other := t.root().pool[newKey]; other != nil && other != e {
		log.Error("new object id already registered")
		return fmt.Errorf("change id %s %q: %w", t.name, newID, ErrDuplicateID)
	}
	for ty := e.meta.typ; ty != nil; ty = ty.Base() {
		delete(ty.pool, oldKey)
		ty.pool[newKey] = e
		ty.legacy[oldKey] = e
	}
	e.id = newID
	e.isNew = false
	log.Debug("object id changed")
	return nil
}

// Get finds a registered entity of t or a derived type by id. Ids are
// case-insensitive.
func (t *Type) Get(id string) *Entity {
	key := strings.ToLower(id)
	if e := t.pool[key]; e != nil {
		return e
	}
	return t.legacy[key]
}

// Known returns the observable list of every registered entity of t and
// its derived types. The list is built on first use and kept current.
func (t *Type) Known() *List {
	if t.known == nil {
		entities := make([]*Entity, 0, len(t.pool))
		for _, e := range t.pool {
			entities = append(entities, e)
		}
		sortBySeq(entities)
		items := make([]any, len(entities))
		for i, e := range entities {
			items[i] = e
		}
		t.known = &List{items: items, model: t.model}
	}
	return t.known
}

func (t *Type) knownEntities() []*Entity {
	items := t.Known().items
	out := make([]*Entity, 0, len(items))
	for _, it := range items {
		out = append(out, it.(*Entity))
	}
	return out
}

// chain returns the cached chain for tokens rooted at t.
func (t *Type) chain(tokens *pathtokens.PathTokens) (*PropertyChain, error) {
	key := tokens.String()
	if c, ok := t.chains[key]; ok {
		return c, nil
	}
	c, err := newChain(t, tokens)
	if err != nil {
		t.model.log.WithFields(logrus.Fields{"type": t.name, "path": key}).WithError(err).Debug("chain not resolved")
		return nil, err
	}
	t.chains[key] = c
	return c, nil
}
