package model

import (
	"errors"
)

// ObjectMeta holds what the model knows about an entity beyond its
// property values: its type and its active conditions.
type ObjectMeta struct {
	entity     *Entity
	typ        *Type
	conditions []*Condition
	byProperty map[string][]*Condition
}

func (m *ObjectMeta) Type() *Type { return m.typ }

func (m *ObjectMeta) Entity() *Entity { return m.entity }

// Conditions returns the active conditions about p, or every active
// condition when p is nil.
func (m *ObjectMeta) Conditions(p PropertyPath) []*Condition {
	if p == nil {
		return append([]*Condition(nil), m.conditions...)
	}
	return append([]*Condition(nil), m.byProperty[p.Name()]...)
}

// IsActive reports whether c is active on the entity.
func (m *ObjectMeta) IsActive(c *Condition) bool {
	return indexOfCondition(m.conditions, c) >= 0
}

// ConditionIf activates or deactivates c. Re-asserting the current state
// does nothing. Every property of c is reported as validated.
func (m *ObjectMeta) ConditionIf(c *Condition, active bool) {
	if m.IsActive(c) == active {
		return
	}
	m.remove(c)
	if active {
		m.conditions = append(m.conditions, c)
		for _, p := range c.Properties {
			m.byProperty[p.Name()] = append(m.byProperty[p.Name()], c)
		}
		c.addTarget(m.entity)
	}
	model := m.typ.model
	for _, p := range c.Properties {
		model.queueValidated(m.entity, p.LastProperty())
	}
}

func (m *ObjectMeta) remove(c *Condition) {
	if i := indexOfCondition(m.conditions, c); i >= 0 {
		m.conditions = append(m.conditions[:i:i], m.conditions[i+1:]...)
	}
	for _, p := range c.Properties {
		list := m.byProperty[p.Name()]
		if i := indexOfCondition(list, c); i >= 0 {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(m.byProperty, p.Name())
			} else {
				m.byProperty[p.Name()] = list
			}
		}
	}
	c.removeTarget(m.entity)
}

func indexOfCondition(list []*Condition, c *Condition) int {
	for i, x := range list {
		if x == c {
			return i
		}
	}
	return -1
}

// HasConditionOfType reports whether a condition of ct is active.
func (m *ObjectMeta) HasConditionOfType(ct *ConditionType) bool {
	for _, c := range m.conditions {
		if c.Type == ct {
			return true
		}
	}
	return false
}

// IsAllowed checks the given permission codes. ok is false when a code is
// not registered, in which case the answer is unknown. A permission type
// with Allowed set grants access only while active; one without denies
// access while active. Active error and warning types always deny.
func (m *ObjectMeta) IsAllowed(codes ...string) (allowed, ok bool) {
	types := m.typ.model.conditionTypes
	for _, code := range codes {
		ct := types.Get(code)
		if ct == nil {
			m.typ.model.log.WithField("code", code).Debug("permission check for unknown condition type")
			return false, false
		}
		active := m.HasConditionOfType(ct)
		if ct.Category == CategoryPermission && ct.Allowed {
			if !active {
				return false, true
			}
			continue
		}
		if active {
			return false, true
		}
	}
	return true, true
}

// ExecuteRules runs every rule targeting p for the entity in attachment
// order. An async rule suspends the loop until its continuation, which
// resumes with the next rule. Rules already running for the entity are
// skipped. done receives the joined errors of the rules that ran.
func (m *ObjectMeta) ExecuteRules(p *Property, done func(error)) {
	m.executeRules(p.Rules(true), 0, nil, done)
}

func (m *ObjectMeta) executeRules(rules []*Rule, start int, errs []error, done func(error)) {
	model := m.typ.model
	for i := start; i < len(rules); i++ {
		r := rules[i]
		if r.IsRunning(m.entity) {
			continue
		}
		if r.IsAsync() {
			next := i + 1
			started := model.start(r, m.entity, func(err error) {
				if err != nil {
					errs = append(errs, err)
				}
				m.executeRules(rules, next, errs, done)
			})
			if started {
				return
			}
			continue
		}
		model.start(r, m.entity, func(err error) {
			if err != nil {
				errs = append(errs, err)
			}
		})
	}
	if done != nil {
		done(errors.Join(errs...))
	}
}
