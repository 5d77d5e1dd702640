package instrument

import (
	"exoweb/internal/model"
	"exoweb/internal/provider"
)

// Event kinds.
const (
	KindRegistered   = "registered"
	KindUnregistered = "unregistered"
	KindSet          = "set"
	KindList         = "list"
)

// Record subscribes eb to the object and property events of m. Changes of
// static properties are not journaled.
func Record(m *model.Model, eb *EventBuffer) {
	m.OnObjectRegistered(func(e *model.Entity) {
		eb.Enqueue(Event{Kind: KindRegistered, Type: e.Type().Name(), ID: e.ID(), Model: m.ID()})
	})
	m.OnObjectUnregistered(func(e *model.Entity) {
		eb.Enqueue(Event{Kind: KindUnregistered, Type: e.Type().Name(), ID: e.ID(), Model: m.ID()})
	})
	m.OnAfterPropertySet(func(ev model.PropertyEvent) {
		if ev.Entity == nil {
			return
		}
		eb.Enqueue(Event{
			Kind:     KindSet,
			Type:     ev.Entity.Type().Name(),
			ID:       ev.Entity.ID(),
			Property: ev.Property.Name(),
			Value:    provider.EncodeValue(ev.NewValue),
			Model:    m.ID(),
		})
	})
	m.OnListChanged(func(ev model.ListChangedEvent) {
		if ev.Entity == nil {
			return
		}
		eb.Enqueue(Event{
			Kind:     KindList,
			Type:     ev.Entity.Type().Name(),
			ID:       ev.Entity.ID(),
			Property: ev.Property.Name(),
			Value:    provider.EncodeValue(ev.List),
			Model:    m.ID(),
		})
	})
}
