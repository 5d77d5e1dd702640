// Package lazy tracks objects whose state has not arrived yet and walks
// property paths over them, loading each unloaded step on the way.
package lazy

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// allProperties keys the loader that covers every property of a target.
const allProperties = ""

// Loader fetches deferred state for target. property is empty when the
// whole object is requested. Load must return exactly once.
type Loader interface {
	Load(ctx context.Context, target any, property string) error
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, target any, property string) error

func (f LoaderFunc) Load(ctx context.Context, target any, property string) error {
	return f(ctx, target, property)
}

// Registry maps targets to the loaders that will populate them. A target
// with no registration is considered loaded.
type Registry struct {
	mu      sync.Mutex
	loaders map[any]map[string]Loader
	keys    map[any]uint64
	seq     uint64
	flight  singleflight.Group
	log     *logrus.Entry
}

// NewRegistry creates an empty registry. log may be nil.
func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		loaders: make(map[any]map[string]Loader),
		keys:    make(map[any]uint64),
		log:     log.WithField("component", "lazy"),
	}
}

func isKey(target any) bool {
	return target != nil && reflect.TypeOf(target).Comparable()
}

// Register marks every property of target as unloaded.
func (r *Registry) Register(target any, l Loader) {
	r.RegisterProperty(target, allProperties, l)
}

// RegisterProperty marks a single property of target as unloaded.
func (r *Registry) RegisterProperty(target any, property string, l Loader) {
	if !isKey(target) {
		panic(fmt.Sprintf("lazy: cannot register non-comparable target %T", target))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byProp, ok := r.loaders[target]
	if !ok {
		byProp = make(map[string]Loader)
		r.loaders[target] = byProp
		r.seq++
		r.keys[target] = r.seq
	}
	byProp[property] = l
}

// Unregister drops every loader registered for target.
func (r *Registry) Unregister(target any) {
	if !isKey(target) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaders, target)
	delete(r.keys, target)
}

// UnregisterProperty drops the loader for a single property of target.
func (r *Registry) UnregisterProperty(target any, property string) {
	if !isKey(target) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(target, property)
}

func (r *Registry) unregisterLocked(target any, property string) {
	byProp, ok := r.loaders[target]
	if !ok {
		return
	}
	delete(byProp, property)
	if len(byProp) == 0 {
		delete(r.loaders, target)
		delete(r.keys, target)
	}
}

// IsRegistered reports whether any loader is pending for target.
func (r *Registry) IsRegistered(target any) bool {
	if !isKey(target) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaders[target]
	return ok
}

// IsLoaded reports whether property of target can be read without a load.
// An empty property asks about the object as a whole.
func (r *Registry) IsLoaded(target any, property string) bool {
	if !isKey(target) {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, key := r.loaderLocked(target, property)
	return key == nil
}

func (r *Registry) loaderLocked(target any, property string) (Loader, *string) {
	byProp, ok := r.loaders[target]
	if !ok {
		return nil, nil
	}
	if property != allProperties {
		if l, ok := byProp[property]; ok {
			return l, &property
		}
	}
	if l, ok := byProp[allProperties]; ok {
		all := allProperties
		return l, &all
	}
	return nil, nil
}

// Load runs the loader responsible for property of target and clears the
// registration once it succeeds. Concurrent loads of the same registration
// share a single call.
func (r *Registry) Load(ctx context.Context, target any, property string) error {
	if !isKey(target) {
		return nil
	}
	r.mu.Lock()
	l, key := r.loaderLocked(target, property)
	seq := r.keys[target]
	r.mu.Unlock()
	if key == nil {
		return nil
	}

	registered := *key
	_, err, _ := r.flight.Do(fmt.Sprintf("%d/%s", seq, registered), func() (any, error) {
		if err := l.Load(ctx, target, property); err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.unregisterLocked(target, registered)
		r.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"target":   fmt.Sprintf("%T", target),
			"property": property,
		}).WithError(err).Error("lazy load failed")
		return fmt.Errorf("load %T %q: %w", target, property, err)
	}
	return nil
}
