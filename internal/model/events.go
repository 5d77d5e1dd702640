package model

// EventKind identifies the transition a PropertyEvent describes.
type EventKind int

const (
	// EventGet fires on every read.
	EventGet EventKind = iota
	// EventChanged fires when a value is set or a list is modified.
	EventChanged
	// EventInitCompleted fires when a property goes from uninitialized
	// to initialized through Init.
	EventInitCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventGet:
		return "get"
	case EventChanged:
		return "changed"
	case EventInitCompleted:
		return "init"
	}
	return "unknown"
}

// PropertyEvent is the record passed to property and chain handlers and
// walked through the rule dependency table. For chain events Property is
// the chain and TriggeredBy is the hop that actually changed.
type PropertyEvent struct {
	Kind        EventKind
	Entity      *Entity
	Property    PropertyPath
	TriggeredBy *Property
	OldValue    any
	NewValue    any
	// WasInited is the initialization state before the transition. For
	// EventGet it is the current state.
	WasInited bool
	Changes   []ListChange
}

// ListChangedEvent is raised on the model whenever a property's list is
// modified.
type ListChangedEvent struct {
	Entity   *Entity
	Property *Property
	List     *List
	Changes  []ListChange
}

// ValidationEvent is queued while a validation batch is open.
type ValidationEvent struct {
	Entity   *Entity
	Property *Property
}

type handler struct {
	id     int
	fn     func(PropertyEvent)
	filter *Entity
	once   bool
}

// HandlerOption configures a property handler.
type HandlerOption func(*handler)

// ForEntity restricts a handler to events raised for e.
func ForEntity(e *Entity) HandlerOption {
	return func(h *handler) { h.filter = e }
}

// Once removes the handler after its first invocation.
func Once() HandlerOption {
	return func(h *handler) { h.once = true }
}

type handlers struct {
	seq  int
	list []*handler
}

func (hs *handlers) add(fn func(PropertyEvent), opts []HandlerOption) func() {
	hs.seq++
	h := &handler{id: hs.seq, fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	hs.list = append(hs.list, h)
	return func() { hs.remove(h.id) }
}

func (hs *handlers) remove(id int) {
	for i, h := range hs.list {
		if h.id == id {
			hs.list = append(hs.list[:i:i], hs.list[i+1:]...)
			return
		}
	}
}

func (hs *handlers) raise(ev PropertyEvent) {
	snapshot := append([]*handler(nil), hs.list...)
	for _, h := range snapshot {
		if h.filter != nil && h.filter != ev.Entity {
			continue
		}
		if h.once {
			hs.remove(h.id)
		}
		h.fn(ev)
	}
}
