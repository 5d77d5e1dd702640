// Package model is the runtime type system: types and their inheritance,
// entities and their properties, property chains, rules with their
// dependency table, and conditions attached to entities.
package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"exoweb/internal/lazy"
	"exoweb/internal/pathtokens"
)

// DefaultIDPrefix marks ids generated for entities created on this side.
const DefaultIDPrefix = "+c"

// FormatErrorCode is the code of the built-in condition type raised when
// user-entered text cannot be converted.
const FormatErrorCode = "FormatError"

// TypeLoader fetches the definition of a type that is not yet known and
// declares it on the model.
type TypeLoader interface {
	LoadType(ctx context.Context, m *Model, name string) error
}

// Option configures a Model.
type Option func(*Model)

func WithLogger(log *logrus.Entry) Option {
	return func(m *Model) { m.log = log }
}

func WithObserver(o Observer) Option {
	return func(m *Model) { m.observer = o }
}

func WithFormats(f FormatProvider) Option {
	return func(m *Model) { m.formats = f }
}

// WithIDPrefix sets the prefix of generated ids.
func WithIDPrefix(prefix string) Option {
	return func(m *Model) {
		if prefix != "" {
			m.idPrefix = prefix
		}
	}
}

func WithTypeLoader(l TypeLoader) Option {
	return func(m *Model) { m.typeLoader = l }
}

// WithGhostLoader sets the loader registered for entities created by
// Type.GetOrCreate.
func WithGhostLoader(l lazy.Loader) Option {
	return func(m *Model) { m.ghost = l }
}

type pendingProperty struct {
	path string
	root *Type
	fn   func(PropertyPath)
}

type dependency struct {
	rule  *Rule
	input *RuleInput
}

// Model is an arena of types plus everything that hangs off them: the lazy
// registry, the rule dependency table and the validation batch.
type Model struct {
	id         string
	log        *logrus.Entry
	observer   Observer
	formats    FormatProvider
	typeLoader TypeLoader
	ghost      lazy.Loader
	idPrefix   string

	types  []*Type
	byName map[string]int

	conditionTypes *ConditionTypes
	formatError    *ConditionType

	loader *lazy.Registry
	eval   *lazy.Evaluator
	turn   sync.Mutex

	deps    map[*Property][]dependency
	rules   map[*Rule]bool
	pending []*pendingProperty
	regSeq  uint64

	batch      int
	validating *validationQueue
	validated  *validationQueue

	onRegistered   []func(*Entity)
	onUnregistered []func(*Entity)
	onListChanged  []func(ListChangedEvent)
	onAfterSet     []func(PropertyEvent)
	onValidating   []func(ValidationEvent)
	onValidated    []func(ValidationEvent)
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{
		id:         uuid.NewString(),
		observer:   nopObserver{},
		idPrefix:   DefaultIDPrefix,
		byName:     make(map[string]int),
		deps:       make(map[*Property][]dependency),
		rules:      make(map[*Rule]bool),
		validating: newValidationQueue(),
		validated:  newValidationQueue(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger())
	}
	m.log = m.log.WithField("model", m.id)
	m.loader = lazy.NewRegistry(m.log)
	m.eval = lazy.NewEvaluator(m.loader, lazy.WithTurn(&m.turn), lazy.WithLogger(m.log))
	m.conditionTypes = newConditionTypes(m.log)
	m.formatError, _ = m.conditionTypes.Error(FormatErrorCode, "The value is not properly formatted.")
	return m
}

func (m *Model) ID() string { return m.id }

func (m *Model) Log() *logrus.Entry { return m.log }

func (m *Model) IDPrefix() string { return m.idPrefix }

// Loader returns the registry of objects whose state has not been loaded.
func (m *Model) Loader() *lazy.Registry { return m.loader }

// Evaluator returns a path evaluator bound to this model's turn.
func (m *Model) Evaluator() *lazy.Evaluator { return m.eval }

// Turn is the lock that serializes access to model state. Code running
// outside a model callback, such as a loader applying fetched data, must
// hold it while touching entities.
func (m *Model) Turn() sync.Locker { return &m.turn }

// SetGhostLoader replaces the loader used for ghost entities.
func (m *Model) SetGhostLoader(l lazy.Loader) { m.ghost = l }

// SetTypeLoader replaces the loader consulted by ResolveProperty.
func (m *Model) SetTypeLoader(l TypeLoader) { m.typeLoader = l }

func (m *Model) ConditionTypes() *ConditionTypes { return m.conditionTypes }

// AddType declares a type. base may be nil.
func (m *Model) AddType(name string, base *Type, origin Origin) (*Type, error) {
	log := m.log.WithField("type", name)
	if strings.TrimSpace(name) == "" {
		log.Error("type name is empty")
		return nil, fmt.Errorf("add type: %w: empty name", ErrUnknownType)
	}
	if _, ok := m.byName[name]; ok {
		log.Error("type already defined")
		return nil, fmt.Errorf("add type %s: %w", name, ErrDuplicateType)
	}
	if base != nil && base.model != m {
		log.Error("base type belongs to another model")
		return nil, fmt.Errorf("add type %s: %w: foreign base %s", name, ErrWrongType, base.name)
	}
	if origin == "" {
		origin = OriginServer
	}

	t := newType(m, len(m.types), name, base, origin)
	m.types = append(m.types, t)
	m.byName[name] = t.index
	if base != nil {
		base.derived = append(base.derived, t.index)
	}
	log.Debug("type added")
	m.retryPending()
	return t, nil
}

// Type looks up a type by name.
func (m *Model) Type(name string) *Type {
	idx, ok := m.byName[name]
	if !ok {
		return nil
	}
	return m.types[idx]
}

// Types returns every type in declaration order.
func (m *Model) Types() []*Type {
	return append([]*Type(nil), m.types...)
}

// Property resolves path to a Property or a PropertyChain. With a nil
// root the path must begin with a type name and refer to a static
// property, as in "Ns.Type.Prop".
func (m *Model) Property(path string, root *Type) (PropertyPath, error) {
	tokens, err := pathtokens.Parse(path)
	if err != nil {
		m.log.WithField("path", path).WithError(err).Error("bad property path")
		return nil, err
	}
	if root == nil {
		return m.staticProperty(path, tokens)
	}
	if len(tokens.Steps) == 1 && tokens.Steps[0].Cast == "" {
		p := root.Property(tokens.Steps[0].Property)
		if p == nil {
			err := &PathError{Path: path, Type: root.name, Step: tokens.Steps[0].Property, Err: ErrUnknownProperty}
			m.log.WithFields(logrus.Fields{"path": path, "type": root.name}).Debug("property not found")
			return nil, err
		}
		return p, nil
	}
	return root.chain(tokens)
}

func (m *Model) staticProperty(path string, tokens *pathtokens.PathTokens) (PropertyPath, error) {
	steps := tokens.Steps
	for i := len(steps) - 1; i >= 1; i-- {
		names := make([]string, i)
		for j := range names {
			names[j] = steps[j].Property
		}
		t := m.Type(strings.Join(names, "."))
		if t == nil {
			continue
		}
		rest := &pathtokens.PathTokens{Steps: steps[i:]}
		rest.Expression = rest.String()
		if len(rest.Steps) == 1 && rest.Steps[0].Cast == "" {
			p := t.Property(rest.Steps[0].Property)
			if p == nil {
				return nil, &PathError{Path: path, Type: t.name, Step: rest.Steps[0].Property, Err: ErrUnknownProperty}
			}
			return p, nil
		}
		return t.chain(rest)
	}
	m.log.WithField("path", path).Debug("no type prefix matches static path")
	return nil, &PathError{Path: path, Step: steps[0].Property, Missing: steps[0].Property, Err: ErrUnknownType}
}

// ResolveProperty is like Property but asks the type loader for types the
// path needs and that are not declared yet.
func (m *Model) ResolveProperty(ctx context.Context, path string, root *Type) (PropertyPath, error) {
	tried := make(map[string]bool)
	for {
		p, err := m.Property(path, root)
		if err == nil {
			return p, nil
		}
		pe, ok := err.(*PathError)
		if !ok || pe.Missing == "" || m.typeLoader == nil || tried[pe.Missing] {
			return nil, err
		}
		tried[pe.Missing] = true
		m.log.WithFields(logrus.Fields{"path": path, "type": pe.Missing}).Debug("loading type for path")
		if lerr := m.typeLoader.LoadType(ctx, m, pe.Missing); lerr != nil {
			return nil, fmt.Errorf("resolve %q: load type %s: %w", path, pe.Missing, lerr)
		}
	}
}

// WhenProperty calls fn with the resolved path as soon as it can be
// resolved: immediately if possible, otherwise once the types and
// properties it needs have been declared.
func (m *Model) WhenProperty(path string, root *Type, fn func(PropertyPath)) {
	if p, err := m.Property(path, root); err == nil {
		fn(p)
		return
	}
	m.log.WithField("path", path).Debug("property resolution deferred")
	m.pending = append(m.pending, &pendingProperty{path: path, root: root, fn: fn})
}

func (m *Model) retryPending() {
	if len(m.pending) == 0 {
		return
	}
	pending := m.pending
	m.pending = nil
	var resolved []func()
	for _, pp := range pending {
		p, err := m.Property(pp.path, pp.root)
		if err != nil {
			m.pending = append(m.pending, pp)
			continue
		}
		fn := pp.fn
		resolved = append(resolved, func() { fn(p) })
	}
	for _, call := range resolved {
		call()
	}
}

// Pending reports how many WhenProperty calls are still waiting.
func (m *Model) Pending() int { return len(m.pending) }

// OnObjectRegistered subscribes to entity registration.
func (m *Model) OnObjectRegistered(fn func(*Entity)) {
	m.onRegistered = append(m.onRegistered, fn)
}

func (m *Model) OnObjectUnregistered(fn func(*Entity)) {
	m.onUnregistered = append(m.onUnregistered, fn)
}

// OnListChanged subscribes to modifications of any entity's list.
func (m *Model) OnListChanged(fn func(ListChangedEvent)) {
	m.onListChanged = append(m.onListChanged, fn)
}

// OnAfterPropertySet subscribes to every successful SetValue. A change
// log is the usual subscriber.
func (m *Model) OnAfterPropertySet(fn func(PropertyEvent)) {
	m.onAfterSet = append(m.onAfterSet, fn)
}

func (m *Model) OnPropertyValidating(fn func(ValidationEvent)) {
	m.onValidating = append(m.onValidating, fn)
}

func (m *Model) OnPropertyValidated(fn func(ValidationEvent)) {
	m.onValidated = append(m.onValidated, fn)
}

func (m *Model) registered(e *Entity) {
	for _, fn := range m.onRegistered {
		fn(e)
	}
}

func (m *Model) unregistered(e *Entity) {
	for _, fn := range m.onUnregistered {
		fn(e)
	}
}

func (m *Model) listChanged(ev ListChangedEvent) {
	for _, fn := range m.onListChanged {
		fn(ev)
	}
}

func (m *Model) afterSet(ev PropertyEvent) {
	for _, fn := range m.onAfterSet {
		fn(ev)
	}
}

// sortBySeq orders entities by registration.
func sortBySeq(list []*Entity) {
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
}
