package model

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Category classifies condition types.
type Category int

const (
	CategoryError Category = iota
	CategoryWarning
	CategoryPermission
)

func (c Category) String() string {
	switch c {
	case CategoryError:
		return "error"
	case CategoryWarning:
		return "warning"
	case CategoryPermission:
		return "permission"
	}
	return "unknown"
}

// ConditionType is a registered kind of condition, identified by its code.
// For permission types Allowed says whether an active condition grants
// the permission or denies it.
type ConditionType struct {
	Code     string
	Category Category
	Message  string
	Allowed  bool
	sets     []*ConditionTypeSet
}

// Sets returns the sets ct belongs to.
func (ct *ConditionType) Sets() []*ConditionTypeSet {
	return append([]*ConditionTypeSet(nil), ct.sets...)
}

func (ct *ConditionType) String() string { return ct.Code }

// ConditionTypeSet is a named group of condition types.
type ConditionTypeSet struct {
	Name  string
	types []*ConditionType
}

func (s *ConditionTypeSet) Types() []*ConditionType {
	return append([]*ConditionType(nil), s.types...)
}

// ConditionTypes is the model's registry of condition types and sets.
type ConditionTypes struct {
	byCode map[string]*ConditionType
	order  []*ConditionType
	sets   map[string]*ConditionTypeSet
	log    *logrus.Entry
}

func newConditionTypes(log *logrus.Entry) *ConditionTypes {
	return &ConditionTypes{
		byCode: make(map[string]*ConditionType),
		sets:   make(map[string]*ConditionTypeSet),
		log:    log,
	}
}

// Register adds ct. Codes are unique.
func (r *ConditionTypes) Register(ct *ConditionType) error {
	if ct.Code == "" {
		r.log.Error("condition type without code")
		return fmt.Errorf("register condition type: %w: empty code", ErrDuplicateConditionType)
	}
	if _, ok := r.byCode[ct.Code]; ok {
		r.log.WithField("code", ct.Code).Error("condition type already defined")
		return fmt.Errorf("register condition type %s: %w", ct.Code, ErrDuplicateConditionType)
	}
	r.byCode[ct.Code] = ct
	r.order = append(r.order, ct)
	return nil
}

func (r *ConditionTypes) Error(code, message string) (*ConditionType, error) {
	ct := &ConditionType{Code: code, Category: CategoryError, Message: message}
	return ct, r.Register(ct)
}

func (r *ConditionTypes) Warning(code, message string) (*ConditionType, error) {
	ct := &ConditionType{Code: code, Category: CategoryWarning, Message: message}
	return ct, r.Register(ct)
}

func (r *ConditionTypes) Permission(code, message string, allowed bool) (*ConditionType, error) {
	ct := &ConditionType{Code: code, Category: CategoryPermission, Message: message, Allowed: allowed}
	return ct, r.Register(ct)
}

// Ensure returns the type registered under code, registering a new one
// with the given category and message if there is none.
func (r *ConditionTypes) Ensure(code string, category Category, message string) (*ConditionType, error) {
	if ct, ok := r.byCode[code]; ok {
		return ct, nil
	}
	ct := &ConditionType{Code: code, Category: category, Message: message}
	if err := r.Register(ct); err != nil {
		return nil, err
	}
	return ct, nil
}

func (r *ConditionTypes) Get(code string) *ConditionType { return r.byCode[code] }

// All returns every type in registration order.
func (r *ConditionTypes) All() []*ConditionType {
	return append([]*ConditionType(nil), r.order...)
}

// AddToSet adds types to the named set, creating it on first use.
func (r *ConditionTypes) AddToSet(name string, types ...*ConditionType) *ConditionTypeSet {
	s, ok := r.sets[name]
	if !ok {
		s = &ConditionTypeSet{Name: name}
		r.sets[name] = s
	}
	for _, ct := range types {
		if containsType(s.types, ct) {
			continue
		}
		s.types = append(s.types, ct)
		ct.sets = append(ct.sets, s)
	}
	return s
}

func (r *ConditionTypes) Set(name string) *ConditionTypeSet { return r.sets[name] }

func containsType(list []*ConditionType, ct *ConditionType) bool {
	for _, x := range list {
		if x == ct {
			return true
		}
	}
	return false
}

// Condition is an instance of a condition type about some properties. One
// condition may be active on many entities at once; its targets are kept
// on the condition.
type Condition struct {
	Type       *ConditionType
	Message    string
	Properties []PropertyPath
	targets    []*Entity
}

// NewCondition creates a condition. An empty message falls back to the
// type's message.
func NewCondition(ct *ConditionType, message string, props ...PropertyPath) *Condition {
	if message == "" {
		message = ct.Message
	}
	return &Condition{Type: ct, Message: message, Properties: props}
}

// Targets returns the entities c is currently active on.
func (c *Condition) Targets() []*Entity {
	return append([]*Entity(nil), c.targets...)
}

func (c *Condition) addTarget(e *Entity) {
	for _, t := range c.targets {
		if t == e {
			return
		}
	}
	c.targets = append(c.targets, e)
}

func (c *Condition) removeTarget(e *Entity) {
	for i, t := range c.targets {
		if t == e {
			c.targets = append(c.targets[:i:i], c.targets[i+1:]...)
			return
		}
	}
}

func (c *Condition) String() string {
	return c.Type.Code + ": " + c.Message
}
