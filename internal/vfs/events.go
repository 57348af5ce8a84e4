package vfs

// EventType is the kind of change a notification reports.
type EventType int

const (
	Created EventType = iota + 1
	Changed
	Deleted
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event reports a change to one address.
type Event struct {
	Type EventType
	URI  string
}

// Watch registers fn to receive the events of each operation as one
// batch. The returned function unregisters it.
func (p *Provider) Watch(fn func([]Event)) (cancel func()) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()

	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn
	return func() {
		p.watchMu.Lock()
		defer p.watchMu.Unlock()
		delete(p.watchers, id)
	}
}

// emit delivers events to all watchers. Never call with p.mu held.
func (p *Provider) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	p.watchMu.Lock()
	fns := make([]func([]Event), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.watchMu.Unlock()

	for _, fn := range fns {
		fn(events)
	}
}

// mutated returns the events for a change to addr followed by a change
// notification for its parent.
func mutated(t EventType, addr Address) []Event {
	return []Event{
		{Type: t, URI: addr.String()},
		{Type: Changed, URI: addr.Parent().String()},
	}
}
