// Package engine turns type definitions into a live model: types,
// properties, calculated properties, condition types and rules.
package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/rules"
)

// Result lists what a build declared.
type Result struct {
	Types      []*model.Type
	Calculated []*model.Rule
	Rules      []*rules.ConditionRule
}

func (r *Result) merge(other *Result) {
	r.Types = append(r.Types, other.Types...)
	r.Calculated = append(r.Calculated, other.Calculated...)
	r.Rules = append(r.Rules, other.Rules...)
}

// Build declares the condition types and all types of defs on m.
func Build(m *model.Model, defs *metadata.Definitions) (*Result, error) {
	if err := DeclareConditionTypes(m, defs.ConditionTypes); err != nil {
		return nil, err
	}
	ordered, err := defs.Ordered()
	if err != nil {
		return nil, err
	}
	res, err := Declare(m, ordered)
	if err != nil {
		return nil, err
	}
	m.Log().WithFields(logrus.Fields{
		"types":      len(res.Types),
		"calculated": len(res.Calculated),
		"rules":      len(res.Rules),
	}).Info("model built")
	return res, nil
}

// DeclareConditionTypes registers condition types and their sets.
func DeclareConditionTypes(m *model.Model, defs []metadata.ConditionTypeDefinition) error {
	types := m.ConditionTypes()
	for _, d := range defs {
		category, err := ParseCategory(d.Category)
		if err != nil {
			return fmt.Errorf("condition type %s: %w", d.Code, err)
		}
		var ct *model.ConditionType
		switch category {
		case model.CategoryPermission:
			ct, err = types.Permission(d.Code, d.Message, d.Allowed)
		case model.CategoryWarning:
			ct, err = types.Warning(d.Code, d.Message)
		default:
			ct, err = types.Error(d.Code, d.Message)
		}
		if err != nil {
			return err
		}
		for _, set := range d.Sets {
			types.AddToSet(set, ct)
		}
	}
	return nil
}

// Declare adds the given types to m. Bases must come first or already be
// declared. Properties of all types are declared before any calculated
// property or rule, so rules may refer across the given types.
func Declare(m *model.Model, defs []*metadata.TypeDefinition) (*Result, error) {
	res := &Result{}
	for _, d := range defs {
		t, err := declareType(m, d)
		if err != nil {
			return nil, err
		}
		res.Types = append(res.Types, t)
	}
	for i, d := range defs {
		if err := declareProperties(res.Types[i], d); err != nil {
			return nil, err
		}
	}
	for i, d := range defs {
		part, err := declareBehavior(res.Types[i], d)
		if err != nil {
			return nil, err
		}
		res.merge(part)
	}
	return res, nil
}

func parseOrigin(s string) model.Origin {
	if s == string(model.OriginClient) {
		return model.OriginClient
	}
	return model.OriginServer
}

func declareType(m *model.Model, d *metadata.TypeDefinition) (*model.Type, error) {
	var base *model.Type
	if d.Base != "" {
		if base = m.Type(d.Base); base == nil {
			m.Log().WithFields(logrus.Fields{"type": d.Name, "base": d.Base}).Error("base type not declared")
			return nil, fmt.Errorf("declare %s: base %s: %w", d.Name, d.Base, model.ErrUnknownType)
		}
	}
	return m.AddType(d.Name, base, parseOrigin(d.Origin))
}

func declareProperties(t *model.Type, d *metadata.TypeDefinition) error {
	for _, p := range d.Properties {
		def := p.Default
		if vt, ok := model.ParseValueType(p.Type); ok && !p.IsList {
			v, err := CoerceValue(vt, def)
			if err != nil {
				return fmt.Errorf("declare %s.%s: default: %w", d.Name, p.Name, err)
			}
			def = v
		}
		origin := t.Origin()
		if p.Origin != "" {
			origin = parseOrigin(p.Origin)
		}
		_, err := t.AddProperty(model.PropertySpec{
			Name:      p.Name,
			Type:      p.Type,
			IsList:    p.IsList,
			IsStatic:  p.IsStatic,
			Persisted: !p.Transient && p.Calculated == nil,
			Origin:    origin,
			Label:     p.Label,
			Format:    p.Format,
			Default:   def,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func declareBehavior(t *model.Type, d *metadata.TypeDefinition) (*Result, error) {
	res := &Result{}
	for _, p := range d.Properties {
		if p.Calculated == nil {
			continue
		}
		r, err := t.Property(p.Name).Calculated(model.CalculatedOptions{
			Expression: p.Calculated.Expression,
			BasedOn:    p.Calculated.BasedOn,
		})
		if err != nil {
			return nil, err
		}
		res.Calculated = append(res.Calculated, r)
	}
	for _, rd := range d.Rules {
		r, err := BuildRule(t, rd)
		if err != nil {
			return nil, fmt.Errorf("declare %s: %w", d.Name, err)
		}
		res.Rules = append(res.Rules, r)
	}
	return res, nil
}
