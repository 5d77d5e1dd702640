package api

import (
	"exoweb/internal/model"
	"exoweb/internal/provider"
)

type propertyView struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Label      string   `json:"label"`
	Format     string   `json:"format,omitempty"`
	Origin     string   `json:"origin"`
	IsList     bool     `json:"is_list"`
	IsStatic   bool     `json:"is_static"`
	Persisted  bool     `json:"persisted"`
	Calculated bool     `json:"calculated"`
	Rules      []string `json:"rules,omitempty"`
}

type typeView struct {
	Name       string         `json:"name"`
	Base       string         `json:"base,omitempty"`
	Origin     string         `json:"origin"`
	Derived    []string       `json:"derived,omitempty"`
	Properties []propertyView `json:"properties"`
}

func newTypeView(t *model.Type) typeView {
	v := typeView{Name: t.Name(), Origin: string(t.Origin()), Properties: []propertyView{}}
	if b := t.Base(); b != nil {
		v.Base = b.Name()
	}
	for _, d := range t.Derived() {
		v.Derived = append(v.Derived, d.Name())
	}
	for _, p := range t.Properties() {
		pv := propertyView{
			Name:       p.Name(),
			Type:       p.TypeName(),
			Label:      p.Label(),
			Format:     p.Format(),
			Origin:     string(p.Origin()),
			IsList:     p.IsList(),
			IsStatic:   p.IsStatic(),
			Persisted:  p.IsPersisted(),
			Calculated: p.IsCalculated(),
		}
		for _, r := range p.Rules(true) {
			pv.Rules = append(pv.Rules, r.Name())
		}
		v.Properties = append(v.Properties, pv)
	}
	return v
}

type conditionTypeView struct {
	Code     string   `json:"code"`
	Category string   `json:"category"`
	Message  string   `json:"message,omitempty"`
	Allowed  bool     `json:"allowed,omitempty"`
	Sets     []string `json:"sets,omitempty"`
}

func newConditionTypeView(ct *model.ConditionType) conditionTypeView {
	v := conditionTypeView{Code: ct.Code, Category: ct.Category.String(), Message: ct.Message, Allowed: ct.Allowed}
	for _, s := range ct.Sets() {
		v.Sets = append(v.Sets, s.Name)
	}
	return v
}

type conditionView struct {
	Code       string   `json:"code"`
	Category   string   `json:"category"`
	Message    string   `json:"message"`
	Properties []string `json:"properties"`
}

func newConditionView(c *model.Condition) conditionView {
	return conditionView{
		Code:       c.Type.Code,
		Category:   c.Type.Category.String(),
		Message:    c.Message,
		Properties: propertyNames(c),
	}
}

func propertyNames(c *model.Condition) []string {
	out := make([]string, len(c.Properties))
	for i, p := range c.Properties {
		out[i] = p.Name()
	}
	return out
}

type refView struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	IsNew  bool   `json:"is_new"`
	Loaded bool   `json:"loaded"`
}

type objectView struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	IsNew      bool            `json:"is_new"`
	Fields     map[string]any  `json:"fields"`
	Conditions []conditionView `json:"conditions"`
}

// newObjectView reads every initialized instance property of e, calculated
// ones included.
func newObjectView(e *model.Entity) objectView {
	v := objectView{
		Type:       e.Type().Name(),
		ID:         e.ID(),
		IsNew:      e.IsNew(),
		Fields:     make(map[string]any),
		Conditions: []conditionView{},
	}
	for _, p := range e.Type().Properties() {
		if p.IsStatic() || !p.IsInited(e) {
			continue
		}
		v.Fields[p.Name()] = provider.EncodeValue(p.Value(e))
	}
	for _, c := range e.Meta().Conditions(nil) {
		v.Conditions = append(v.Conditions, newConditionView(c))
	}
	return v
}

func encodeResult(v any) any {
	if items, ok := v.([]any); ok {
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = encodeResult(it)
		}
		return out
	}
	return provider.EncodeValue(v)
}
