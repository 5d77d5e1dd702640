package rules

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exoweb/internal/model"
)

func newPersonModel(t *testing.T) (*model.Model, *model.Type) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m := model.New(model.WithLogger(logrus.NewEntry(logger)))
	person, err := m.AddType("Person", nil, model.OriginServer)
	require.NoError(t, err)
	for _, spec := range []model.PropertySpec{
		{Name: "Name", Type: "String"},
		{Name: "Age", Type: "Integer"},
		{Name: "Born", Type: "Date"},
		{Name: "Country", Type: "String"},
		{Name: "State", Type: "String"},
		{Name: "Tags", Type: "String", IsList: true},
	} {
		_, err := person.AddProperty(spec)
		require.NoError(t, err)
	}
	return m, person
}

func active(e *model.Entity, r *ConditionRule) bool {
	return e.Meta().IsActive(r.Condition)
}

func TestHasValue(t *testing.T) {
	assert.False(t, HasValue(nil))
	assert.False(t, HasValue(""))
	assert.False(t, HasValue("  "))
	assert.False(t, HasValue(model.NewList()))
	assert.False(t, HasValue([]any{}))
	assert.True(t, HasValue(0))
	assert.True(t, HasValue(false))
	assert.True(t, HasValue("x"))
	assert.True(t, HasValue(model.NewList("a")))
}

func TestRequired(t *testing.T) {
	m, person := newPersonModel(t)
	r, err := Required(RequiredOptions{Options{Root: person, Property: "Name"}})
	require.NoError(t, err)
	assert.Equal(t, "Person.Name.Required", r.Name())
	assert.Equal(t, "Name is required.", r.Condition.Message)
	assert.Same(t, r.ConditionType, m.ConditionTypes().Get("Person.Name.Required"))
	assert.True(t, r.Ready())

	e, err := person.New()
	require.NoError(t, err)
	assert.True(t, active(e, r), "new entities start without a name")

	require.NoError(t, e.Set("Name", "Ann"))
	assert.False(t, active(e, r))
	assert.Empty(t, e.Meta().Conditions(r.Property))

	require.NoError(t, e.Set("Name", " "))
	assert.True(t, active(e, r))
	assert.Len(t, e.Meta().Conditions(r.Property), 1)
}

func TestRequired_CustomCodeAndMessage(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := Required(RequiredOptions{Options{
		Root:     person,
		Property: "Name",
		Code:     "NameMissing",
		Message:  "Who are you?",
		Category: model.CategoryWarning,
	}})
	require.NoError(t, err)
	assert.Equal(t, "NameMissing", r.Name())
	assert.Equal(t, model.CategoryWarning, r.ConditionType.Category)
	assert.Equal(t, "Who are you?", r.Condition.Message)
}

func TestRequired_UnknownProperty(t *testing.T) {
	_, person := newPersonModel(t)
	_, err := Required(RequiredOptions{Options{Root: person, Property: "Nope"}})
	assert.ErrorIs(t, err, model.ErrUnknownProperty)

	_, err = Required(RequiredOptions{Options{Property: "Name"}})
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestRange(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := Range(RangeOptions{Options: Options{Root: person, Property: "Age"}, Min: 18, Max: 65})
	require.NoError(t, err)
	assert.Equal(t, "Age must be between 18 and 65.", r.Condition.Message)

	e, _ := person.New()
	assert.False(t, active(e, r), "empty values pass")
	require.NoError(t, e.Set("Age", 12))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Age", 18))
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Age", 66))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Age", nil))
	assert.False(t, active(e, r))
}

func TestRange_Dates(t *testing.T) {
	_, person := newPersonModel(t)
	min := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := Range(RangeOptions{Options: Options{Root: person, Property: "Born"}, Min: min})
	require.NoError(t, err)
	assert.Equal(t, "Born must be at least 1900-01-01.", r.Condition.Message)

	e, _ := person.New()
	require.NoError(t, e.Set("Born", time.Date(1850, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Born", time.Date(1950, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, active(e, r))
}

func TestRange_InvalidBounds(t *testing.T) {
	_, person := newPersonModel(t)
	_, err := Range(RangeOptions{Options: Options{Root: person, Property: "Age"}})
	assert.Error(t, err)
	_, err = Range(RangeOptions{Options: Options{Root: person, Property: "Age"}, Min: true})
	assert.ErrorIs(t, err, model.ErrWrongType)
}

func TestStringLength(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := StringLength(StringLengthOptions{Options: Options{Root: person, Property: "Name"}, Min: 2, Max: 4})
	require.NoError(t, err)
	assert.Equal(t, "Name must be between 2 and 4 characters.", r.Condition.Message)

	e, _ := person.New()
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Name", "A"))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Name", "Zoë"))
	assert.False(t, active(e, r), "length counts characters")
	require.NoError(t, e.Set("Name", "Alexander"))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Name", ""))
	assert.False(t, active(e, r), "empty value passes")

	_, err = StringLength(StringLengthOptions{Options: Options{Root: person, Property: "Name"}, Min: 5, Max: 2})
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	cases := []struct {
		a    any
		op   Operator
		b    any
		want bool
	}{
		{1, Equal, 1.0, true},
		{nil, Equal, nil, true},
		{nil, Equal, 0, false},
		{"a", NotEqual, "b", true},
		{true, Equal, true, true},
		{3, GreaterThan, 2, true},
		{2, GreaterThanEqual, 2, true},
		{"a", LessThan, "b", true},
		{nil, LessThan, 5, true},
		{5, LessThanEqual, nil, true},
	}
	for _, c := range cases {
		got, err := CompareValues(c.a, c.op, c.b)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%v %s %v", c.a, c.op, c.b)
	}

	_, err := CompareValues(true, GreaterThan, 1)
	assert.ErrorIs(t, err, model.ErrWrongType)
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("greaterthanequal")
	require.NoError(t, err)
	assert.Equal(t, GreaterThanEqual, op)
	_, err = ParseOperator("between")
	assert.Error(t, err)
}

func TestCompare_DeferredUntilPropertyExists(t *testing.T) {
	m, person := newPersonModel(t)
	r, err := Compare(CompareOptions{
		Options:   Options{Root: person, Property: "Age"},
		CompareTo: "Limit",
		Operator:  LessThanEqual,
	})
	require.NoError(t, err)
	assert.False(t, r.Ready())
	assert.Equal(t, 1, m.Pending())

	_, err = person.AddProperty(model.PropertySpec{Name: "Limit", Type: "Integer"})
	require.NoError(t, err)
	assert.True(t, r.Ready())
	assert.Equal(t, 0, m.Pending())

	e, _ := person.New()
	require.NoError(t, e.Set("Limit", 10))
	require.NoError(t, e.Set("Age", 11))
	assert.True(t, active(e, r))

	require.NoError(t, e.Set("Limit", 20))
	assert.False(t, active(e, r), "changes of the compared property re-run the rule")
}

func TestRequiredIf(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := RequiredIf(RequiredIfOptions{
		Options:   Options{Root: person, Property: "State"},
		CompareTo: "Country",
		Operator:  Equal,
		Value:     "US",
	})
	require.NoError(t, err)
	assert.True(t, r.Ready())

	e, _ := person.New()
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Country", "US"))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("State", "WA"))
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("State", nil))
	require.NoError(t, e.Set("Country", "FR"))
	assert.False(t, active(e, r))
}

func TestRequiredIf_WhenSourceHasValue(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := RequiredIf(RequiredIfOptions{
		Options:   Options{Root: person, Property: "State"},
		CompareTo: "Country",
	})
	require.NoError(t, err)

	e, _ := person.New()
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Country", "CA"))
	assert.True(t, active(e, r))
}

func TestAllowedValues_Static(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := AllowedValues(AllowedValuesOptions{
		Options: Options{Root: person, Property: "Country"},
		Values:  []any{"US", "CA"},
	})
	require.NoError(t, err)

	e, _ := person.New()
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Country", "MX"))
	assert.True(t, active(e, r))
	require.NoError(t, e.Set("Country", "CA"))
	assert.False(t, active(e, r))
}

func TestAllowedValues_ListAndStaticSource(t *testing.T) {
	m, person := newPersonModel(t)
	lookups, err := m.AddType("Lookups", nil, model.OriginServer)
	require.NoError(t, err)
	colors, err := lookups.AddProperty(model.PropertySpec{Name: "Colors", Type: "String", IsList: true, IsStatic: true})
	require.NoError(t, err)
	require.NoError(t, colors.Init(nil, []any{"red", "blue"}, false))

	r, err := AllowedValues(AllowedValuesOptions{
		Options: Options{Root: person, Property: "Tags"},
		Source:  "Lookups.Colors",
		Static:  true,
	})
	require.NoError(t, err)
	assert.True(t, r.Ready())

	e, _ := person.New()
	tags, err := e.List("Tags")
	require.NoError(t, err)
	require.NoError(t, tags.Add("red"))
	assert.False(t, active(e, r))
	require.NoError(t, tags.Add("green"))
	assert.True(t, active(e, r), "every element must be allowed")
}

func TestExpression(t *testing.T) {
	_, person := newPersonModel(t)
	r, err := Expression(ExpressionOptions{
		Options:    Options{Root: person, Property: "Name", Message: "Minors need a name."},
		Expression: `Age != nil && Age < 18 && Name == nil`,
		BasedOn:    []string{"Age"},
	})
	require.NoError(t, err)

	e, _ := person.New()
	assert.False(t, active(e, r))
	require.NoError(t, e.Set("Age", 10))
	assert.True(t, active(e, r), "changes of based-on paths re-run the rule")
	require.NoError(t, e.Set("Name", "Kid"))
	assert.False(t, active(e, r))

	_, err = Expression(ExpressionOptions{Options: Options{Root: person, Property: "Name"}, Expression: "Age +"})
	assert.Error(t, err)
}
