package lazy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	props map[string]any
}

func (n *node) Resolve(property string) (any, bool) {
	v, ok := n.props[property]
	return v, ok
}

func TestEval_Simple(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{"Student": map[string]any{"Name": "X"}}

	res, err := ev.Eval(context.Background(), target, "Student.Name")
	require.NoError(t, err)
	assert.Equal(t, "X", res.Value)
	assert.False(t, res.PerformedLoading)
}

func TestEval_BacktracksToScope(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{"Student": map[string]any{"Name": "X"}}
	global := map[string]any{"foo": map[string]any{"bar": true}}

	res, err := ev.Eval(context.Background(), target, "foo.bar", global)
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
	assert.Equal(t, global, res.Root)
}

func TestEval_UndefinedWithoutScope(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{"Student": map[string]any{"Name": "X"}}

	_, err := ev.Eval(context.Background(), target, "Student.Age")
	require.Error(t, err)
	assert.True(t, IsUndefined(err))

	var u *UndefinedError
	require.True(t, errors.As(err, &u))
	assert.Equal(t, "Age", u.Step)
}

func TestEval_NullStopsSuccessfully(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{"Student": nil}
	global := map[string]any{"Student": map[string]any{"Name": "fallback"}}

	res, err := ev.Eval(context.Background(), target, "Student.Name", global)
	require.NoError(t, err)
	assert.Nil(t, res.Value)
	assert.Equal(t, target, res.Root)
}

func TestEval_LoadsUnloadedStep(t *testing.T) {
	reg := NewRegistry(nil)
	ev := NewEvaluator(reg)
	student := &node{props: map[string]any{}}
	var calls atomic.Int32
	reg.RegisterProperty(student, "Name", LoaderFunc(func(ctx context.Context, target any, property string) error {
		calls.Add(1)
		target.(*node).props["Name"] = "Loaded"
		return nil
	}))
	assert.False(t, reg.IsLoaded(student, "Name"))
	assert.True(t, reg.IsLoaded(student, "Other"))

	res, err := ev.Eval(context.Background(), map[string]any{"Student": student}, "Student.Name")
	require.NoError(t, err)
	assert.Equal(t, "Loaded", res.Value)
	assert.True(t, res.PerformedLoading)
	assert.True(t, reg.IsLoaded(student, "Name"))
	assert.False(t, reg.IsRegistered(student))

	_, err = ev.Eval(context.Background(), map[string]any{"Student": student}, "Student.Name")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEval_LoadsFinalObject(t *testing.T) {
	reg := NewRegistry(nil)
	ev := NewEvaluator(reg)
	ghost := &node{props: map[string]any{}}
	reg.Register(ghost, LoaderFunc(func(ctx context.Context, target any, property string) error {
		assert.Equal(t, "", property)
		target.(*node).props["Name"] = "Ghost"
		return nil
	}))

	res, err := ev.Eval(context.Background(), map[string]any{"Ref": ghost}, "Ref")
	require.NoError(t, err)
	assert.Same(t, ghost, res.Value)
	assert.True(t, res.PerformedLoading)
	assert.Equal(t, "Ghost", ghost.props["Name"])
}

func TestEval_LoadErrorKeepsRegistration(t *testing.T) {
	reg := NewRegistry(nil)
	ev := NewEvaluator(reg)
	n := &node{props: map[string]any{}}
	boom := errors.New("boom")
	reg.Register(n, LoaderFunc(func(context.Context, any, string) error { return boom }))

	_, err := ev.Eval(context.Background(), n, "Name")
	require.ErrorIs(t, err, boom)
	assert.True(t, reg.IsRegistered(n))
}

func TestEval_CastFiltersValue(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{"Owner": typed{name: "Dog"}}

	res, err := ev.Eval(context.Background(), target, "Owner<Cat>.Name")
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

type typed struct{ name string }

func (t typed) Is(name string) bool { return t.name == name }

func TestEvalAll_NestedLists(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{
		"Districts": []any{
			map[string]any{"Schools": []any{map[string]any{"Name": "S1"}, map[string]any{"Name": "S2"}}},
			map[string]any{"Schools": []any{map[string]any{"Name": "S3"}, map[string]any{"Name": "S4"}}},
		},
	}

	res, err := ev.EvalAll(context.Background(), target, "Districts.Schools.Name")
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"S1", "S2"}, []any{"S3", "S4"}}, res.Value)
}

func TestEvalAll_EmptyList(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	res, err := ev.EvalAll(context.Background(), map[string]any{"Items": []any{}}, "Items.Name")
	require.NoError(t, err)
	assert.Equal(t, []any{}, res.Value)
}

func TestEvalAll_CollectsElementErrors(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{
		"Items": []any{map[string]any{"Name": "A"}, map[string]any{}},
	}

	res, err := ev.EvalAll(context.Background(), target, "Items.Name")
	require.Error(t, err)

	var all *EvalAllError
	require.True(t, errors.As(err, &all))
	require.Len(t, all.Errors, 2)
	assert.NoError(t, all.Errors[0])
	assert.True(t, IsUndefined(all.Errors[1]))
	assert.Equal(t, "A", res.Value.([]any)[0])
}

func TestEvalFunc_Callbacks(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	var got any
	ev.EvalFunc(context.Background(), map[string]any{"A": 1}, "A", func(r Result) { got = r.Value }, func(error) {
		t.Fatal("unexpected error callback")
	})
	assert.Equal(t, 1, got)

	var failed error
	ev.EvalFunc(context.Background(), map[string]any{}, "A", nil, func(err error) { failed = err })
	assert.True(t, IsUndefined(failed))

	assert.Panics(t, func() {
		ev.EvalFunc(context.Background(), map[string]any{}, "A", nil, nil)
	})
}

func TestValue_Struct(t *testing.T) {
	type person struct {
		Name  string
		Buddy *person
	}
	p := &person{Name: "Ann"}

	v, ok := Value(p, "Name")
	assert.True(t, ok)
	assert.Equal(t, "Ann", v)

	v, ok = Value(p, "Buddy")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = Value(p, "Missing")
	assert.False(t, ok)
}

func TestEvalAll_ElementBacktracksFullPath(t *testing.T) {
	ev := NewEvaluator(NewRegistry(nil))
	target := map[string]any{
		"Items": []any{map[string]any{"Name": "a"}, map[string]any{}},
	}
	global := map[string]any{
		"Name":  "GLOBAL",
		"Items": []any{map[string]any{"Name": "g"}},
	}

	res, err := ev.EvalAll(context.Background(), target, "Items.Name", global)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", []any{"g"}}, res.Value)
}
