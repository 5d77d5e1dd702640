package model

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exoweb/internal/lazy"
)

type fixture struct {
	m        *Model
	person   *Type
	employee *Type
	manager  *Type
	address  *Type
	hook     *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := New(WithLogger(logrus.NewEntry(logger)))

	f := &fixture{m: m, hook: hook}
	var err error
	f.address, err = m.AddType("Address", nil, OriginServer)
	require.NoError(t, err)
	f.person, err = m.AddType("Person", nil, OriginServer)
	require.NoError(t, err)
	f.employee, err = m.AddType("Employee", f.person, OriginServer)
	require.NoError(t, err)
	f.manager, err = m.AddType("Manager", f.person, OriginServer)
	require.NoError(t, err)

	mustProp(t, f.address, PropertySpec{Name: "City", Type: "String"})
	mustProp(t, f.person, PropertySpec{Name: "Name", Type: "String"})
	mustProp(t, f.person, PropertySpec{Name: "Age", Type: "Integer"})
	mustProp(t, f.person, PropertySpec{Name: "Address", Type: "Address"})
	mustProp(t, f.manager, PropertySpec{Name: "Reports", Type: "Person", IsList: true})
	return f
}

func mustProp(t *testing.T, ty *Type, spec PropertySpec) *Property {
	t.Helper()
	p, err := ty.AddProperty(spec)
	require.NoError(t, err)
	return p
}

func TestAddType_Duplicate(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.AddType("Person", nil, OriginServer)
	require.ErrorIs(t, err, ErrDuplicateType)

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["type"] == "Person" {
			logged = true
		}
	}
	assert.True(t, logged, "configuration errors are logged")
}

func TestType_InheritedProperties(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.person.Property("Name"), f.employee.Property("Name"))
	assert.Nil(t, f.person.Property("Reports"))
	assert.True(t, f.manager.IsSubtypeOf(f.person))
	assert.False(t, f.person.IsSubtypeOf(f.manager))

	_, err := f.employee.AddProperty(PropertySpec{Name: "Name", Type: "String"})
	assert.ErrorIs(t, err, ErrDuplicateProperty)
	_, err = f.person.AddProperty(PropertySpec{Name: "Reports", Type: "String"})
	assert.ErrorIs(t, err, ErrDuplicateProperty)
}

func TestNewID_SharedAcrossHierarchy(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		for _, ty := range []*Type{f.person, f.employee, f.manager} {
			id := ty.NewID()
			assert.False(t, seen[id], "id %s reused", id)
			seen[id] = true
			assert.True(t, ty.IsNewID(id))
		}
	}
	assert.NotEqual(t, f.address.NewID(), "")
}

func TestRegister_RoundTrip(t *testing.T) {
	f := newFixture(t)
	var registered, unregistered []*Entity
	f.m.OnObjectRegistered(func(e *Entity) { registered = append(registered, e) })
	f.m.OnObjectUnregistered(func(e *Entity) { unregistered = append(unregistered, e) })

	e, err := f.employee.Create("E-1")
	require.NoError(t, err)
	assert.Same(t, e, f.employee.Get("e-1"))
	assert.Same(t, e, f.person.Get("E-1"))
	assert.Nil(t, f.manager.Get("E-1"))
	assert.Equal(t, []*Entity{e}, registered)

	require.NoError(t, f.employee.Unregister(e))
	assert.Nil(t, f.employee.Get("E-1"))
	assert.Nil(t, f.person.Get("E-1"))
	assert.Nil(t, e.Meta())
	assert.Equal(t, []*Entity{e}, unregistered)

	f.hook.Reset()
	assert.ErrorIs(t, f.employee.Unregister(e), ErrNotRegistered)
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
}

func TestEntity_ListOfLoadedObjectStartsEmpty(t *testing.T) {
	f := newFixture(t)
	mgr, err := f.manager.Create("M-1")
	require.NoError(t, err)
	assert.False(t, f.manager.Property("Reports").IsInited(mgr))

	reports, err := mgr.List("Reports")
	require.NoError(t, err)
	require.NotNil(t, reports)
	require.NoError(t, reports.Replace([]any{}))
	assert.Zero(t, reports.Len())

	ghost, err := f.manager.Create("M-2")
	require.NoError(t, err)
	f.m.Loader().Register(ghost, nil)
	_, err = ghost.List("Reports")
	assert.ErrorIs(t, err, ErrListNotLoaded)
}

func TestRegister_InvalidAndDuplicateID(t *testing.T) {
	f := newFixture(t)
	_, err := f.person.Create("  ")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = f.person.Create("P")
	require.NoError(t, err)
	_, err = f.employee.Create("p")
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestChangeObjectID_KeepsLegacy(t *testing.T) {
	f := newFixture(t)
	e, err := f.employee.New()
	require.NoError(t, err)
	old := e.ID()
	assert.True(t, e.IsNew())

	require.NoError(t, f.employee.ChangeObjectID(old, "42"))
	assert.Equal(t, "42", e.ID())
	assert.False(t, e.IsNew())
	assert.Same(t, e, f.person.Get("42"))
	assert.Same(t, e, f.person.Get(old))

	assert.ErrorIs(t, f.employee.ChangeObjectID("nope", "43"), ErrNotRegistered)
}

func TestKnown_TracksDerived(t *testing.T) {
	f := newFixture(t)
	p1, _ := f.person.Create("1")
	known := f.person.Known()
	assert.Equal(t, []any{p1}, known.Items())

	e1, _ := f.employee.Create("2")
	assert.Equal(t, []any{p1, e1}, known.Items())
	assert.Equal(t, []any{e1}, f.employee.Known().Items())

	require.NoError(t, f.person.Unregister(p1))
	assert.Equal(t, []any{e1}, known.Items())
}

func TestNew_InitializesDefaults(t *testing.T) {
	f := newFixture(t)
	mustProp(t, f.person, PropertySpec{Name: "Active", Type: "Boolean", Default: true})
	mustProp(t, f.person, PropertySpec{Name: "Nickname", Type: "String", Origin: OriginClient})

	e, err := f.person.New()
	require.NoError(t, err)
	assert.True(t, f.person.Property("Active").IsInited(e))
	assert.Equal(t, true, f.person.Property("Active").Value(e))
	assert.True(t, f.person.Property("Name").IsInited(e))

	ghost, err := f.person.Create("7")
	require.NoError(t, err)
	assert.False(t, f.person.Property("Name").IsInited(ghost))
	assert.True(t, f.person.Property("Nickname").IsInited(ghost))

	_, err = f.person.AddProperty(PropertySpec{Name: "Bad", Type: "Integer", Default: "x"})
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestProperty_ThreeStates(t *testing.T) {
	f := newFixture(t)
	e, _ := f.person.Create("1")
	name := f.person.Property("Name")

	_, ok := e.Resolve("Name")
	assert.False(t, ok, "uninitialized is missing")

	require.NoError(t, name.Init(e, nil, false))
	v, ok := e.Resolve("Name")
	assert.True(t, ok)
	assert.Nil(t, v)

	require.NoError(t, name.Init(e, "ignored", false))
	assert.Nil(t, name.Value(e))
	require.NoError(t, name.Init(e, "forced", true))
	assert.Equal(t, "forced", name.Value(e))

	_, ok = e.Resolve("Nope")
	assert.False(t, ok)
}

type recorder struct {
	events []string
}

func (r *recorder) PropertyChanged(target any, property string) {
	r.events = append(r.events, "observer:"+property)
}

func (r *recorder) CollectionChanged(list *List, changes []ListChange) {
	r.events = append(r.events, "collection:"+changes[0].Action.String())
}

func TestSetValue_ObserverBeforeRules(t *testing.T) {
	rec := &recorder{}
	m := New(WithObserver(rec))
	person, _ := m.AddType("Person", nil, OriginServer)
	name, _ := person.AddProperty(PropertySpec{Name: "Name", Type: "String"})

	r := NewRule("track", func(e *Entity) error {
		rec.events = append(rec.events, "rule:"+name.Value(e).(string))
		return nil
	})
	require.NoError(t, m.RegisterRule(r, []Input{&RuleInput{Property: name, Change: true}}, nil))
	name.AddChanged(func(ev PropertyEvent) { rec.events = append(rec.events, "handler") })

	e, _ := person.Create("1")
	rec.events = nil
	require.NoError(t, e.Set("Name", "Ann"))
	assert.Equal(t, []string{"observer:Name", "handler", "rule:Ann"}, rec.events)

	rec.events = nil
	require.NoError(t, e.Set("Name", "Ann"))
	assert.Empty(t, rec.events, "setting the same value is not a change")
}

func TestSetValue_TypeChecks(t *testing.T) {
	f := newFixture(t)
	e, _ := f.person.New()
	assert.ErrorIs(t, e.Set("Age", "old"), ErrWrongType)
	assert.NoError(t, e.Set("Age", 41))
	assert.NoError(t, e.Set("Age", nil))

	addr, _ := f.address.New()
	other, _ := f.person.New()
	assert.NoError(t, e.Set("Address", addr))
	assert.ErrorIs(t, e.Set("Address", other), ErrWrongType)

	mgr, _ := f.manager.New()
	emp, _ := f.employee.New()
	reports, err := mgr.List("Reports")
	require.NoError(t, err)
	assert.NoError(t, reports.Add(emp), "derived types are accepted")
	assert.ErrorIs(t, reports.Add(addr), ErrWrongType)
}

func TestHandlers_FilterAndOnce(t *testing.T) {
	f := newFixture(t)
	a, _ := f.person.New()
	b, _ := f.person.New()
	name := f.person.Property("Name")

	var filtered, once int
	name.AddChanged(func(PropertyEvent) { filtered++ }, ForEntity(a))
	name.AddChanged(func(PropertyEvent) { once++ }, Once())
	remove := name.AddGet(func(PropertyEvent) { t.Fatal("removed handler called") })
	remove()

	require.NoError(t, b.Set("Name", "B"))
	require.NoError(t, a.Set("Name", "A"))
	require.NoError(t, a.Set("Name", "AA"))
	assert.Equal(t, 2, filtered)
	assert.Equal(t, 1, once)
	_ = name.Value(a)
}

func TestList_ChangesRaiseProperty(t *testing.T) {
	f := newFixture(t)
	mgr, _ := f.manager.New()
	reports, _ := mgr.List("Reports")

	var listEvents []ListChangedEvent
	var propEvents []PropertyEvent
	f.m.OnListChanged(func(ev ListChangedEvent) { listEvents = append(listEvents, ev) })
	f.manager.Property("Reports").AddChanged(func(ev PropertyEvent) { propEvents = append(propEvents, ev) })

	e1, _ := f.employee.New()
	e2, _ := f.employee.New()
	require.NoError(t, reports.Add(e1, e2))
	removed, err := reports.Remove(e1)
	require.NoError(t, err)
	assert.True(t, removed)

	require.Len(t, listEvents, 2)
	assert.Same(t, mgr, listEvents[0].Entity)
	assert.Equal(t, ListRemove, listEvents[1].Changes[0].Action)
	require.Len(t, propEvents, 2)
	assert.Same(t, reports, propEvents[0].NewValue)
	assert.Equal(t, []any{e2}, reports.Items())
}

func TestList_UnloadedIsReadOnly(t *testing.T) {
	f := newFixture(t)
	mgr, _ := f.manager.Create("M")
	reportsProp := f.manager.Property("Reports")
	list := NewList()
	require.NoError(t, reportsProp.Init(mgr, list, false))
	f.m.Loader().Register(list, nil)

	assert.False(t, reportsProp.IsInited(mgr))
	assert.ErrorIs(t, list.Add(), ErrListNotLoaded)

	emp, _ := f.employee.New()
	require.NoError(t, list.Fill([]any{emp}))
	f.m.Loader().Unregister(list)
	assert.True(t, reportsProp.IsInited(mgr))
	assert.NoError(t, list.Clear())
	assert.Zero(t, list.Len())
}

func TestModelProperty_Resolution(t *testing.T) {
	f := newFixture(t)
	p, err := f.m.Property("Name", f.person)
	require.NoError(t, err)
	assert.Same(t, f.person.Property("Name"), p)

	c, err := f.m.Property("Address.City", f.employee)
	require.NoError(t, err)
	chain := c.(*PropertyChain)
	assert.Equal(t, 2, chain.Len())
	again, _ := f.m.Property("Address.City", f.employee)
	assert.Same(t, chain, again, "chains are cached on the root type")

	_, err = f.m.Property("Address.Zip", f.person)
	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Zip", pe.Step)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = f.m.Property("Name.Length", f.person)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = f.m.Property("Address<Nope>.City", f.person)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestModelProperty_Static(t *testing.T) {
	m := New()
	cfg, _ := m.AddType("App.Settings", nil, OriginServer)
	maxUsers, _ := cfg.AddProperty(PropertySpec{Name: "MaxUsers", Type: "Integer", IsStatic: true})
	require.NoError(t, maxUsers.Init(nil, 10, false))

	p, err := m.Property("App.Settings.MaxUsers", nil)
	require.NoError(t, err)
	assert.Same(t, maxUsers, p)
	assert.Equal(t, 10, p.Value(nil))

	_, err = m.Property("Nope.MaxUsers", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestWhenProperty_Deferred(t *testing.T) {
	m := New()
	order, _ := m.AddType("Order", nil, OriginServer)
	var got PropertyPath
	m.WhenProperty("Customer.Name", order, func(p PropertyPath) { got = p })
	assert.Nil(t, got)
	assert.Equal(t, 1, m.Pending())

	_, err := order.AddProperty(PropertySpec{Name: "Customer", Type: "Customer"})
	require.NoError(t, err)
	assert.Nil(t, got)

	customer, _ := m.AddType("Customer", nil, OriginServer)
	assert.Nil(t, got)
	_, err = customer.AddProperty(PropertySpec{Name: "Name", Type: "String"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Customer.Name", got.Name())
	assert.Zero(t, m.Pending())
}

type typeLoaderFunc func(ctx context.Context, m *Model, name string) error

func (f typeLoaderFunc) LoadType(ctx context.Context, m *Model, name string) error {
	return f(ctx, m, name)
}

func TestResolveProperty_LoadsTypes(t *testing.T) {
	m := New()
	order, _ := m.AddType("Order", nil, OriginServer)
	_, _ = order.AddProperty(PropertySpec{Name: "Customer", Type: "Customer"})

	var loaded []string
	m.SetTypeLoader(typeLoaderFunc(func(ctx context.Context, m *Model, name string) error {
		loaded = append(loaded, name)
		ty, err := m.AddType(name, nil, OriginServer)
		if err != nil {
			return err
		}
		_, err = ty.AddProperty(PropertySpec{Name: "Name", Type: "String"})
		return err
	}))

	p, err := m.ResolveProperty(context.Background(), "Customer.Name", order)
	require.NoError(t, err)
	assert.Equal(t, "Name", p.LastProperty().Name())
	assert.Equal(t, []string{"Customer"}, loaded)

	_, err = m.ResolveProperty(context.Background(), "Customer.Missing", order)
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestGetOrCreate_Ghost(t *testing.T) {
	f := newFixture(t)
	var loads int
	f.m.SetGhostLoader(lazyLoader(func(target any) error {
		loads++
		e := target.(*Entity)
		return e.Init("Name", "Loaded")
	}))

	ghost, err := f.person.GetOrCreate("9")
	require.NoError(t, err)
	same, _ := f.person.GetOrCreate("9")
	assert.Same(t, ghost, same)
	assert.True(t, f.m.Loader().IsRegistered(ghost))

	res, err := f.m.Evaluator().Eval(context.Background(), ghost, "Name")
	require.NoError(t, err)
	assert.Equal(t, "Loaded", res.Value)
	assert.True(t, res.PerformedLoading)
	assert.Equal(t, 1, loads)
}

func lazyLoader(fn func(target any) error) lazy.Loader {
	return lazy.LoaderFunc(func(ctx context.Context, target any, property string) error {
		return fn(target)
	})
}
