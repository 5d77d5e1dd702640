package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"exoweb/internal/metadata"
	"exoweb/internal/model"
)

func newModel() *model.Model {
	logger, _ := test.NewNullLogger()
	return model.New(model.WithLogger(logrus.NewEntry(logger)))
}

func peopleDefs() *metadata.Definitions {
	return &metadata.Definitions{
		ConditionTypes: []metadata.ConditionTypeDefinition{
			{Code: "CanEdit", Category: "permission", Allowed: true, Sets: []string{"client"}},
		},
		Types: []*metadata.TypeDefinition{
			{
				Name: "Employee",
				Base: "Person",
				Properties: []metadata.PropertyDefinition{
					{Name: "Hired", Type: "Date"},
				},
				Rules: []metadata.RuleDefinition{
					{Type: "range", Property: "Hired", Min: "2000-01-01"},
				},
			},
			{
				Name: "Person",
				Properties: []metadata.PropertyDefinition{
					{Name: "Name", Type: "String"},
					{Name: "Age", Type: "Integer", Default: float64(30)},
					{Name: "Display", Type: "String", Calculated: &metadata.CalculatedDefinition{
						Expression: `Name ?? "?"`,
						BasedOn:    []string{"Name"},
					}},
				},
				Rules: []metadata.RuleDefinition{
					{Type: "required", Property: "Name"},
					{Type: "string_length", Property: "Name", Max: float64(5), Category: "warning"},
					{Type: "range", Property: "Age", Min: 0, Max: 150},
				},
			},
		},
	}
}

func TestBuild_DeclaresTypesAndRules(t *testing.T) {
	m := newModel()
	res, err := Build(m, peopleDefs())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Types) != 2 || res.Types[0].Name() != "Person" {
		t.Fatalf("expected Person declared first, got %v", res.Types)
	}
	if len(res.Rules) != 4 || len(res.Calculated) != 1 {
		t.Fatalf("expected 4 rules and 1 calculation, got %d and %d", len(res.Rules), len(res.Calculated))
	}
	emp := m.Type("Employee")
	if emp.Base() != m.Type("Person") {
		t.Fatal("Employee should derive from Person")
	}
	if m.ConditionTypes().Set("client") == nil {
		t.Fatal("expected condition type set client")
	}

	e, err := emp.New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if v, _ := e.Get("Age"); v != 30 {
		t.Fatalf("expected default age 30 as int, got %#v", v)
	}
	if v, _ := e.Get("Display"); v != "?" {
		t.Fatalf("expected calculated display, got %v", v)
	}
	if len(e.Meta().Conditions(nil)) != 1 {
		t.Fatalf("expected the required condition only, got %v", e.Meta().Conditions(nil))
	}

	if err := e.Set("Name", "Alexandra"); err != nil {
		t.Fatalf("set: %v", err)
	}
	conds := e.Meta().Conditions(nil)
	if len(conds) != 1 || conds[0].Type.Category != model.CategoryWarning {
		t.Fatalf("expected one warning, got %v", conds)
	}
	if v, _ := e.Get("Display"); v != "Alexandra" {
		t.Fatalf("expected recalculated display, got %v", v)
	}

	if err := e.Set("Hired", time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("set hired: %v", err)
	}
	if len(e.Meta().Conditions(emp.Property("Hired"))) != 1 {
		t.Fatal("expected range condition on Hired")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs *metadata.Definitions
		want error
	}{
		{
			name: "bad default",
			defs: &metadata.Definitions{Types: []*metadata.TypeDefinition{{
				Name:       "A",
				Properties: []metadata.PropertyDefinition{{Name: "N", Type: "Integer", Default: 1.5}},
			}}},
			want: model.ErrWrongType,
		},
		{
			name: "unknown rule target",
			defs: &metadata.Definitions{Types: []*metadata.TypeDefinition{{
				Name:  "A",
				Rules: []metadata.RuleDefinition{{Type: "required", Property: "Missing"}},
			}}},
			want: model.ErrUnknownProperty,
		},
		{
			name: "bad category",
			defs: &metadata.Definitions{ConditionTypes: []metadata.ConditionTypeDefinition{{Code: "X", Category: "fatal"}}},
			want: metadata.ErrInvalidDefinition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(newModel(), tt.defs)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDeclare_UnknownBase(t *testing.T) {
	_, err := Declare(newModel(), []*metadata.TypeDefinition{{Name: "B", Base: "A"}})
	if !errors.Is(err, model.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		vt   model.ValueType
		in   any
		want any
	}{
		{model.Integer, float64(3), 3},
		{model.Number, 3, float64(3)},
		{model.Date, "2024-02-03", time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)},
		{model.Boolean, int64(1), true},
		{model.String, "x", "x"},
		{model.Integer, nil, nil},
	}
	for _, tt := range tests {
		got, err := CoerceValue(tt.vt, tt.in)
		if err != nil {
			t.Fatalf("coerce %v to %s: %v", tt.in, tt.vt, err)
		}
		if got != tt.want {
			t.Fatalf("coerce %v to %s: expected %#v, got %#v", tt.in, tt.vt, tt.want, got)
		}
	}
	if _, err := CoerceValue(model.Date, "someday"); !errors.Is(err, model.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestFormats(t *testing.T) {
	var f Formats

	n, err := f.Formatter(model.Integer, "").ConvertBack(" 42 ")
	if err != nil || n != 42 {
		t.Fatalf("integer: got %v, %v", n, err)
	}
	if s := f.Formatter(model.Number, "2").Convert(3.14159); s != "3.14" {
		t.Fatalf("number: got %q", s)
	}
	b, err := f.Formatter(model.Boolean, "").ConvertBack("true")
	if err != nil || b != true {
		t.Fatalf("boolean: got %v, %v", b, err)
	}

	date := f.Formatter(model.Date, "02/01/2006")
	d, err := date.ConvertBack("17/03/2024")
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	want := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)
	if !d.(time.Time).Equal(want) {
		t.Fatalf("date: got %v, want %v", d, want)
	}
	if s := date.Convert(want); s != "17/03/2024" {
		t.Fatalf("date convert: got %q", s)
	}

	v, err := date.ConvertBack("  ")
	if err != nil || v != nil {
		t.Fatalf("empty text should clear the value, got %v, %v", v, err)
	}

	_, err = f.Formatter(model.Integer, "").ConvertBack("abc")
	var fe *model.FormatError
	if !errors.As(err, &fe) || fe.Value != "abc" {
		t.Fatalf("expected format error, got %v", err)
	}
	if f.Formatter(model.String, "") != nil {
		t.Fatal("strings have no formatter")
	}
}
