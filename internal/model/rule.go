package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Executor runs a rule for one entity.
type Executor interface {
	Execute(e *Entity) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(e *Entity) error

func (f ExecutorFunc) Execute(e *Entity) error { return f(e) }

// AsyncExecutor runs a rule that completes later. done must be called
// exactly once; until then the rule counts as running for e.
type AsyncExecutor interface {
	ExecuteAsync(e *Entity, done func(error))
}

// Input is anything that can be used as a rule input: a *RuleInput, or a
// bare *Property or *PropertyChain which becomes a target triggered on
// init and change.
type Input interface {
	ruleInput() *RuleInput
}

// RuleInput says which events of a property trigger a rule and whether the
// rule computes or validates that property.
type RuleInput struct {
	Property PropertyPath
	Init     bool
	Change   bool
	Get      bool
	Target   bool
}

func (in *RuleInput) ruleInput() *RuleInput { return in }

func (p *Property) ruleInput() *RuleInput {
	return &RuleInput{Property: p, Init: true, Change: true, Target: true}
}

func (c *PropertyChain) ruleInput() *RuleInput {
	return &RuleInput{Property: c, Init: true, Change: true, Target: true}
}

func (in *RuleInput) hops() []*Property {
	if c, ok := in.Property.(*PropertyChain); ok {
		return c.props
	}
	return []*Property{in.Property.LastProperty()}
}

// triggers reports whether ev, raised by hop, should run the rule.
func (in *RuleInput) triggers(hop *Property, ev PropertyEvent) bool {
	switch ev.Kind {
	case EventChanged:
		return in.Change || (in.Init && !ev.WasInited)
	case EventInitCompleted:
		return in.Init
	case EventGet:
		return in.Get && !ev.WasInited && hop == in.Property.LastProperty()
	}
	return false
}

// Rule is a unit of logic attached to properties through the model's
// dependency table.
type Rule struct {
	name       string
	model      *Model
	exec       Executor
	async      AsyncExecutor
	inputs     []*RuleInput
	typeFilter *Type
	running    map[*Entity]bool
	registered bool
	calculates *Property
}

// NewRule creates an unregistered rule. exec may implement AsyncExecutor
// instead of, or in addition to, Executor; the async form wins.
func NewRule(name string, exec any) *Rule {
	r := &Rule{name: name, running: make(map[*Entity]bool)}
	switch x := exec.(type) {
	case AsyncExecutor:
		r.async = x
	case Executor:
		r.exec = x
	case func(*Entity) error:
		r.exec = ExecutorFunc(x)
	default:
		panic(fmt.Sprintf("model: rule %s: unsupported executor %T", name, exec))
	}
	return r
}

func (r *Rule) Name() string { return r.name }

func (r *Rule) IsAsync() bool { return r.async != nil }

// Inputs returns the normalized inputs of a registered rule.
func (r *Rule) Inputs() []*RuleInput { return append([]*RuleInput(nil), r.inputs...) }

// TypeFilter is the type whose entities the rule runs for.
func (r *Rule) TypeFilter() *Type { return r.typeFilter }

// Targets returns the properties the rule computes or validates.
func (r *Rule) Targets() []PropertyPath {
	var out []PropertyPath
	for _, in := range r.inputs {
		if in.Target {
			out = append(out, in.Property)
		}
	}
	return out
}

// IsRunning reports whether r is currently executing for e.
func (r *Rule) IsRunning(e *Entity) bool { return r.running[e] }

func (r *Rule) String() string { return r.name }

// RegisterRule wires r into the dependency table of every property its
// inputs touch. A nil typeFilter defaults to the root type of the first
// input.
func (m *Model) RegisterRule(r *Rule, inputs []Input, typeFilter *Type) error {
	log := m.log.WithField("rule", r.name)
	if r.registered {
		log.Error("rule registered twice")
		return fmt.Errorf("register rule %s: %w", r.name, ErrDuplicateRule)
	}
	if len(inputs) == 0 {
		log.Error("rule has no inputs")
		return fmt.Errorf("register rule %s: %w: no inputs", r.name, ErrUnknownProperty)
	}
	normalized := make([]*RuleInput, 0, len(inputs))
	for _, in := range inputs {
		ri := in.ruleInput()
		if ri == nil || ri.Property == nil {
			log.Error("rule input has no property")
			return fmt.Errorf("register rule %s: %w: empty input", r.name, ErrUnknownProperty)
		}
		if ri.Property.RootType().model != m {
			return fmt.Errorf("register rule %s: %w: input from another model", r.name, ErrWrongType)
		}
		normalized = append(normalized, ri)
	}
	if typeFilter == nil {
		typeFilter = normalized[0].Property.RootType()
	}

	r.model = m
	r.inputs = normalized
	r.typeFilter = typeFilter
	r.registered = true
	m.rules[r] = true
	for _, in := range normalized {
		for _, hop := range in.hops() {
			m.deps[hop] = append(m.deps[hop], dependency{rule: r, input: in})
		}
		in.Property.LastProperty().attach(r, in.Target)
	}
	log.WithFields(logrus.Fields{"type": typeFilter.name, "inputs": len(normalized)}).Debug("rule registered")
	return nil
}

// dispatch runs the rules that depend on hop for ev. A rule listed several
// times for the same hop, as when Init and Change both apply, runs once.
func (m *Model) dispatch(hop *Property, ev PropertyEvent) error {
	deps := m.deps[hop]
	if len(deps) == 0 || ev.Entity == nil {
		return nil
	}
	deps = append([]dependency(nil), deps...)
	ran := make(map[*Rule]map[*Entity]bool)
	var errs []error
	for _, d := range deps {
		if !d.input.triggers(hop, ev) {
			continue
		}
		for _, target := range m.ruleTargets(d, hop, ev.Entity) {
			if ran[d.rule][target] {
				continue
			}
			if ran[d.rule] == nil {
				ran[d.rule] = make(map[*Entity]bool)
			}
			ran[d.rule][target] = true
			if err := m.runRule(d.rule, target); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ruleTargets maps the entity that raised an event on hop to the entities
// the rule should run for.
func (m *Model) ruleTargets(d dependency, hop *Property, obj *Entity) []*Entity {
	filter := d.rule.typeFilter
	c, isChain := d.input.Property.(*PropertyChain)
	if !isChain || hop == c.props[0] {
		if obj.Type() != nil && obj.Type().IsSubtypeOf(filter) {
			return []*Entity{obj}
		}
		return nil
	}
	var out []*Entity
	for _, root := range c.root.knownEntities() {
		if root.Type().IsSubtypeOf(filter) && c.Connects(root, obj, hop) {
			out = append(out, root)
		}
	}
	return out
}

// runRule executes r for e and returns the error of a synchronous rule.
// Errors of async rules are only logged.
func (m *Model) runRule(r *Rule, e *Entity) error {
	var result error
	m.start(r, e, func(err error) { result = err })
	return result
}

// start executes r for e and calls done when it has finished. A rule that
// is already running for e is skipped and done is not called.
func (m *Model) start(r *Rule, e *Entity, done func(error)) bool {
	if r.running[e] {
		m.log.WithFields(logrus.Fields{"rule": r.name, "id": e.id}).Trace("rule already running")
		return false
	}
	r.running[e] = true
	m.BeginValidation()
	for _, t := range r.Targets() {
		m.queueValidating(e, t.LastProperty())
	}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			delete(r.running, e)
			if err != nil {
				m.log.WithFields(logrus.Fields{"rule": r.name, "id": e.id}).WithError(err).Warn("rule failed")
			}
			for _, t := range r.Targets() {
				m.queueValidated(e, t.LastProperty())
			}
			m.EndValidation()
			if done != nil {
				done(err)
			}
		})
	}

	panicked := true
	defer func() {
		if panicked {
			rec := recover()
			finish(fmt.Errorf("rule %s panicked: %v", r.name, rec))
			panic(rec)
		}
	}()
	if r.async != nil {
		r.async.ExecuteAsync(e, finish)
	} else {
		finish(r.exec.Execute(e))
	}
	panicked = false
	return true
}

type validationKey struct {
	entity   *Entity
	property *Property
}

type validationQueue struct {
	events []ValidationEvent
	seen   map[validationKey]bool
}

func newValidationQueue() *validationQueue {
	return &validationQueue{seen: make(map[validationKey]bool)}
}

func (q *validationQueue) push(ev ValidationEvent) {
	key := validationKey{ev.Entity, ev.Property}
	if q.seen[key] {
		return
	}
	q.seen[key] = true
	q.events = append(q.events, ev)
}

func (q *validationQueue) drain() []ValidationEvent {
	events := q.events
	q.events = nil
	q.seen = make(map[validationKey]bool)
	return events
}

// BeginValidation opens a validation batch. Validation notifications
// raised while a batch is open are queued, de-duplicated per entity and
// property, and delivered in order when the outermost batch ends.
func (m *Model) BeginValidation() { m.batch++ }

// EndValidation closes a batch opened by BeginValidation.
func (m *Model) EndValidation() {
	if m.batch == 0 {
		return
	}
	m.batch--
	if m.batch > 0 {
		return
	}
	for len(m.validating.events) > 0 || len(m.validated.events) > 0 {
		for _, ev := range m.validating.drain() {
			for _, fn := range m.onValidating {
				fn(ev)
			}
		}
		for _, ev := range m.validated.drain() {
			for _, fn := range m.onValidated {
				fn(ev)
			}
		}
	}
}

func (m *Model) queueValidating(e *Entity, p *Property) {
	m.queue(m.validating, m.onValidating, ValidationEvent{Entity: e, Property: p})
}

func (m *Model) queueValidated(e *Entity, p *Property) {
	m.queue(m.validated, m.onValidated, ValidationEvent{Entity: e, Property: p})
}

func (m *Model) queue(q *validationQueue, subs []func(ValidationEvent), ev ValidationEvent) {
	if m.batch > 0 {
		q.push(ev)
		return
	}
	for _, fn := range subs {
		fn(ev)
	}
}
