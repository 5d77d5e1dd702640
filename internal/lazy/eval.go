package lazy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"exoweb/internal/pathtokens"
)

// Valuer is implemented by targets that resolve their own properties.
// ok is false when the property does not exist at all; a nil value with
// ok true means the property exists but is empty.
type Valuer interface {
	Resolve(property string) (value any, ok bool)
}

// Lister is implemented by list-valued targets.
type Lister interface {
	Items() []any
}

// Caster is implemented by targets that can answer type-cast filters.
type Caster interface {
	Is(typeName string) bool
}

// UndefinedError reports a step that resolved to nothing with no scope
// left to fall back to.
type UndefinedError struct {
	Path string
	Step string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("property is undefined: %s (path %q)", e.Step, e.Path)
}

// EvalAllError collects per-element failures of a fan-out. Errors is
// aligned with the elements of the list; entries for successful elements
// are nil.
type EvalAllError struct {
	Errors []error
}

func (e *EvalAllError) Error() string {
	var msgs []string
	for i, err := range e.Errors {
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("[%d] %v", i, err))
		}
	}
	return "eval all: " + strings.Join(msgs, "; ")
}

func (e *EvalAllError) Unwrap() []error {
	var errs []error
	for _, err := range e.Errors {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Result is the outcome of a path evaluation. Root is the object the path
// was finally resolved against, which differs from the original target
// when evaluation fell back to the scope chain.
type Result struct {
	Value            any
	PerformedLoading bool
	Root             any
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTurn serializes access to target state with l. The evaluator holds
// l while reading targets and releases it while a load is in flight.
func WithTurn(l sync.Locker) Option {
	return func(ev *Evaluator) { ev.turn = l }
}

// WithLogger sets the evaluator's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(ev *Evaluator) { ev.log = log }
}

// Evaluator walks paths against targets, loading unloaded steps through a
// Registry.
type Evaluator struct {
	reg  *Registry
	turn sync.Locker
	log  *logrus.Entry
}

// NewEvaluator creates an evaluator over reg.
func NewEvaluator(reg *Registry, opts ...Option) *Evaluator {
	ev := &Evaluator{reg: reg, turn: &sync.Mutex{}}
	for _, opt := range opts {
		opt(ev)
	}
	if ev.log == nil {
		ev.log = reg.log
	}
	return ev
}

// walk is the state of a single traversal.
type walk struct {
	path      string
	target    any
	root      any
	remaining []pathtokens.Step
	processed []pathtokens.Step
	scope     []any
	loading   bool
	all       bool
}

func (ev *Evaluator) newWalk(target any, path string, scope []any) (*walk, error) {
	tokens, err := pathtokens.Parse(path)
	if err != nil {
		ev.log.WithField("path", path).WithError(err).Error("eval: bad path")
		return nil, err
	}
	return &walk{
		path:      path,
		target:    target,
		root:      target,
		remaining: tokens.Steps,
		scope:     append([]any(nil), scope...),
	}, nil
}

// Eval resolves path against target. When a step is undefined the next
// object of scope becomes the new root and the path restarts from it.
func (ev *Evaluator) Eval(ctx context.Context, target any, path string, scope ...any) (Result, error) {
	w, err := ev.newWalk(target, path, scope)
	if err != nil {
		return Result{}, err
	}
	return ev.eval(ctx, w)
}

// EvalAll is like Eval but fans out over every list encountered, producing
// one level of nested []any per list-valued hop.
func (ev *Evaluator) EvalAll(ctx context.Context, target any, path string, scope ...any) (Result, error) {
	w, err := ev.newWalk(target, path, scope)
	if err != nil {
		return Result{}, err
	}
	w.all = true
	return ev.evalAll(ctx, w)
}

// EvalFunc evaluates path and reports the outcome through exactly one of
// the callbacks. With a nil onError a failure panics.
func (ev *Evaluator) EvalFunc(ctx context.Context, target any, path string, onSuccess func(Result), onError func(error), scope ...any) {
	res, err := ev.Eval(ctx, target, path, scope...)
	if err != nil {
		if onError == nil {
			panic(err)
		}
		onError(err)
		return
	}
	if onSuccess != nil {
		onSuccess(res)
	}
}

// backtrack restarts w from the next scope object. It reports false when
// the scope chain is exhausted.
func (w *walk) backtrack() bool {
	if len(w.scope) == 0 {
		return false
	}
	w.target = w.scope[0]
	w.root = w.target
	w.scope = w.scope[1:]
	w.remaining = append(append([]pathtokens.Step(nil), w.processed...), w.remaining...)
	w.processed = nil
	return true
}

func (ev *Evaluator) undefined(w *walk, step string) error {
	err := &UndefinedError{Path: w.path, Step: step}
	ev.log.WithFields(logrus.Fields{"path": w.path, "step": step}).Debug("eval: step undefined")
	return err
}

func (ev *Evaluator) eval(ctx context.Context, w *walk) (Result, error) {
	if w.target == nil && len(w.remaining) > 0 {
		if !w.backtrack() {
			return Result{}, ev.undefined(w, w.remaining[0].Property)
		}
	}

	for len(w.remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if w.all {
			if _, ok := ev.items(w.target); ok {
				return ev.evalAll(ctx, w)
			}
		}

		step := w.remaining[0]
		if !ev.isLoaded(w.target, step.Property) {
			w.loading = true
			if err := ev.reg.Load(ctx, w.target, step.Property); err != nil {
				return Result{}, err
			}
		}

		value, ok := ev.value(w.target, step)
		if !ok {
			if w.backtrack() {
				continue
			}
			return Result{}, ev.undefined(w, step.Property)
		}

		w.remaining = w.remaining[1:]
		w.processed = append(w.processed, step)
		if value == nil {
			return Result{Value: nil, PerformedLoading: w.loading, Root: w.root}, nil
		}
		w.target = value
	}

	if w.target != nil && !ev.isLoaded(w.target, allProperties) {
		w.loading = true
		if err := ev.reg.Load(ctx, w.target, allProperties); err != nil {
			return Result{}, err
		}
	}
	return Result{Value: w.target, PerformedLoading: w.loading, Root: w.root}, nil
}

func (ev *Evaluator) evalAll(ctx context.Context, w *walk) (Result, error) {
	if w.target == nil && len(w.remaining) > 0 {
		if !w.backtrack() {
			return Result{}, ev.undefined(w, w.remaining[0].Property)
		}
	}

	items, ok := ev.items(w.target)
	if !ok {
		w.all = true
		return ev.eval(ctx, w)
	}
	if len(items) == 0 {
		return Result{Value: []any{}, PerformedLoading: w.loading, Root: w.root}, nil
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))
	var loading atomic.Bool
	loading.Store(w.loading)

	sig := NewSignal()
	for i, item := range items {
		sub := &walk{
			path:      w.path,
			target:    item,
			root:      item,
			remaining: append([]pathtokens.Step(nil), w.remaining...),
			processed: append([]pathtokens.Step(nil), w.processed...),
			scope:     append([]any(nil), w.scope...),
			all:       true,
		}
		sig.Go(func() {
			res, err := ev.evalAll(ctx, sub)
			results[i], errs[i] = res.Value, err
			if res.PerformedLoading {
				loading.Store(true)
			}
		})
	}
	sig.Wait()

	res := Result{Value: results, PerformedLoading: loading.Load(), Root: w.root}
	for _, err := range errs {
		if err != nil {
			return res, &EvalAllError{Errors: errs}
		}
	}
	return res, nil
}

func (ev *Evaluator) isLoaded(target any, property string) bool {
	return ev.reg.IsLoaded(target, property)
}

func (ev *Evaluator) items(target any) ([]any, bool) {
	ev.turn.Lock()
	defer ev.turn.Unlock()
	return Items(target)
}

func (ev *Evaluator) value(target any, step pathtokens.Step) (any, bool) {
	ev.turn.Lock()
	defer ev.turn.Unlock()
	v, ok := Value(target, step.Property)
	if ok && v != nil && step.Cast != "" {
		if c, isCaster := v.(Caster); isCaster && !c.Is(step.Cast) {
			return nil, true
		}
	}
	return v, ok
}

// Items returns the elements of a list-valued target.
func Items(target any) ([]any, bool) {
	switch t := target.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case Lister:
		return t.Items(), true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Value reads property from target. ok is false when target has no such
// property.
func Value(target any, property string) (any, bool) {
	switch t := target.(type) {
	case nil:
		return nil, false
	case Valuer:
		return t.Resolve(property)
	case map[string]any:
		v, ok := t[property]
		return v, ok
	}

	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByName(property)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return nilable(f), true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(property).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return nilable(v), true
	}
	return nil, false
}

func nilable(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

// IsUndefined reports whether err is an UndefinedError.
func IsUndefined(err error) bool {
	var u *UndefinedError
	return errors.As(err, &u)
}
