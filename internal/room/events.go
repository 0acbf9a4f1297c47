package room

// EventKind names a room notification.
type EventKind string

const (
	EventConnecting EventKind = "connectingstateupdate"
	EventConnection EventKind = "connectionstateupdate"
	EventSync       EventKind = "syncupdate"
	EventPeers      EventKind = "peersupdate"
	EventMessage    EventKind = "message"
	EventClose      EventKind = "close"
)

// Event is delivered to listeners. Value carries the new boolean for the
// three state updates; Peers and Payload are set for their own kinds.
type Event struct {
	Kind    EventKind
	Room    *Room
	Value   bool
	Peers   []string
	Payload []byte
}

type listener struct {
	id   int
	kind EventKind // empty matches every kind
	fn   func(Event)
}

// On registers fn for events of kind. Listeners run in registration order,
// outside the room's lock. The returned func removes the listener.
func (r *Room) On(kind EventKind, fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return func() {}
	}
	r.nextListener++
	id := r.nextListener
	r.listeners = append(r.listeners, listener{id: id, kind: kind, fn: fn})
	return func() { r.off(id) }
}

// OnAny registers fn for every event kind.
func (r *Room) OnAny(fn func(Event)) func() {
	return r.On("", fn)
}

func (r *Room) off(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Room) removeListeners() {
	r.mu.Lock()
	r.listeners = nil
	r.mu.Unlock()
}

func (r *Room) fire(events []Event) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	snapshot := append([]listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, ev := range events {
		ev.Room = r
		for _, l := range snapshot {
			if l.kind == "" || l.kind == ev.Kind {
				l.fn(ev)
			}
		}
	}
}
