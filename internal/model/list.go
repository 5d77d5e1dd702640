package model

import (
	"fmt"
)

// ListAction is the kind of a ListChange.
type ListAction int

const (
	ListAdd ListAction = iota
	ListRemove
	// ListReset replaces the whole content of the list.
	ListReset
)

func (a ListAction) String() string {
	switch a {
	case ListAdd:
		return "add"
	case ListRemove:
		return "remove"
	case ListReset:
		return "reset"
	}
	return "unknown"
}

// ListChange describes one modification. For ListReset Items holds the new
// content.
type ListChange struct {
	Action ListAction
	Index  int
	Items  []any
}

// List is the observable collection held by list properties and by
// Type.Known. Modifications of a list owned by an entity are reported as
// changes of the owning property.
type List struct {
	items []any
	owner *Entity
	prop  *Property
	model *Model
}

// NewList creates an unbound list.
func NewList(items ...any) *List {
	return &List{items: append([]any(nil), items...)}
}

func (l *List) bind(e *Entity, p *Property) {
	l.owner = e
	l.prop = p
	l.model = p.owner.model
}

// Owner returns the entity and property holding l, if any.
func (l *List) Owner() (*Entity, *Property) { return l.owner, l.prop }

// Items returns a copy of the elements.
func (l *List) Items() []any {
	return append([]any(nil), l.items...)
}

func (l *List) Len() int { return len(l.items) }

func (l *List) At(i int) any { return l.items[i] }

func (l *List) IndexOf(item any) int {
	for i, it := range l.items {
		if sameValue(it, item) {
			return i
		}
	}
	return -1
}

func (l *List) Contains(item any) bool { return l.IndexOf(item) >= 0 }

// IsLoaded reports whether the content of l is available.
func (l *List) IsLoaded() bool {
	return l.model == nil || l.model.loader.IsLoaded(l, "")
}

func (l *List) writable() error {
	if !l.IsLoaded() {
		if l.prop != nil {
			l.prop.log().Error("modification of unloaded list")
		}
		return fmt.Errorf("modify list %s: %w", l.name(), ErrListNotLoaded)
	}
	return nil
}

func (l *List) name() string {
	if l.prop == nil {
		return "(unbound)"
	}
	return l.owner.String() + "." + l.prop.name
}

func (l *List) check(items []any) error {
	if l.prop == nil || l.prop.valueType == Object {
		return nil
	}
	for _, it := range items {
		if it == nil || !l.prop.accepts(it) {
			l.prop.log().WithField("item", fmt.Sprintf("%T", it)).Error("list item has wrong type")
			return fmt.Errorf("modify list %s with %T: %w", l.name(), it, ErrWrongType)
		}
	}
	return nil
}

// Add appends items.
func (l *List) Add(items ...any) error {
	return l.Insert(len(l.items), items...)
}

// Insert inserts items at index i.
func (l *List) Insert(i int, items ...any) error {
	if err := l.writable(); err != nil {
		return err
	}
	if i < 0 || i > len(l.items) {
		return fmt.Errorf("insert into %s at %d: index out of range", l.name(), i)
	}
	if len(items) == 0 {
		return nil
	}
	if err := l.check(items); err != nil {
		return err
	}
	l.items = append(l.items[:i], append(append([]any(nil), items...), l.items[i:]...)...)
	l.notify([]ListChange{{Action: ListAdd, Index: i, Items: append([]any(nil), items...)}})
	return nil
}

// Remove removes the first occurrence of item. It reports whether item
// was found.
func (l *List) Remove(item any) (bool, error) {
	if err := l.writable(); err != nil {
		return false, err
	}
	i := l.IndexOf(item)
	if i < 0 {
		return false, nil
	}
	return true, l.RemoveAt(i)
}

// RemoveAt removes the element at index i.
func (l *List) RemoveAt(i int) error {
	if err := l.writable(); err != nil {
		return err
	}
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("remove from %s at %d: index out of range", l.name(), i)
	}
	removed := l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.notify([]ListChange{{Action: ListRemove, Index: i, Items: []any{removed}}})
	return nil
}

// Clear removes every element.
func (l *List) Clear() error {
	if err := l.writable(); err != nil {
		return err
	}
	if len(l.items) == 0 {
		return nil
	}
	return l.Replace(nil)
}

// Replace swaps the whole content of l as a single reset change.
func (l *List) Replace(items []any) error {
	if err := l.writable(); err != nil {
		return err
	}
	if err := l.check(items); err != nil {
		return err
	}
	l.reset(items)
	return nil
}

// Fill sets the content of a list that is being loaded. Unlike Replace it
// does not require the list to be loaded already.
func (l *List) Fill(items []any) error {
	if err := l.check(items); err != nil {
		return err
	}
	l.reset(items)
	return nil
}

func (l *List) reset(items []any) {
	l.items = append([]any(nil), items...)
	l.notify([]ListChange{{Action: ListReset, Items: append([]any(nil), items...)}})
}

func (l *List) track(e *Entity) {
	l.items = append(l.items, e)
	l.notify([]ListChange{{Action: ListAdd, Index: len(l.items) - 1, Items: []any{e}}})
}

func (l *List) untrack(e *Entity) {
	if i := l.IndexOf(e); i >= 0 {
		l.items = append(l.items[:i:i], l.items[i+1:]...)
		l.notify([]ListChange{{Action: ListRemove, Index: i, Items: []any{e}}})
	}
}

func (l *List) notify(changes []ListChange) {
	if l.model == nil {
		return
	}
	m := l.model
	m.observer.CollectionChanged(l, changes)
	if l.prop == nil {
		return
	}
	m.listChanged(ListChangedEvent{Entity: l.owner, Property: l.prop, List: l, Changes: changes})
	m.observer.PropertyChanged(l.prop.target(l.owner), l.prop.name)
	l.prop.raise(PropertyEvent{
		Kind:      EventChanged,
		Entity:    l.owner,
		Property:  l.prop,
		OldValue:  l,
		NewValue:  l,
		WasInited: true,
		Changes:   changes,
	})
}
