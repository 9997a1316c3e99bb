package cursor

// EventKind names a cursor notification.
type EventKind int

// Event kinds.
const (
	// EventNewBuffer fires after the buffer was loaded or primed.
	EventNewBuffer EventKind = iota + 1
	// EventBufferChanged fires after a field of the buffer was set.
	EventBufferChanged
	// EventCursorUpdated fires after the result set was re-read or patched.
	EventCursorUpdated
	// EventCurrentChanged fires after the position moved.
	EventCurrentChanged
	// EventBufferCommitted fires after a successful commit.
	EventBufferCommitted
)

var eventNames = map[EventKind]string{
	EventNewBuffer:       "newBuffer",
	EventBufferChanged:   "bufferChanged",
	EventCursorUpdated:   "cursorUpdated",
	EventCurrentChanged:  "currentChanged",
	EventBufferCommitted: "bufferCommitted",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one notification. Field is set for EventBufferChanged and Row
// for EventCurrentChanged.
type Event struct {
	Kind   EventKind
	Cursor *Cursor
	Field  string
	Row    int
}

type observer struct {
	id uint64
	fn func(Event)
}

// Subscribe registers fn to receive the cursor's events and returns a
// function that removes it. Events are delivered on the goroutine that
// caused them, after the cursor has released its lock, so fn may call back
// into the cursor.
func (c *Cursor) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observer{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Notify forwards the cursor's events to ch. A full channel drops the
// event; the cursor never waits for a reader.
func (c *Cursor) Notify(ch chan<- Event) (cancel func()) {
	return c.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

// emit queues an event for delivery when the lock is released.
// Callers hold c.mu.
func (c *Cursor) emit(kind EventKind, field string, row int) {
	c.pending = append(c.pending, Event{Kind: kind, Cursor: c, Field: field, Row: row})
}

func (c *Cursor) lock() {
	c.mu.Lock()
}

// unlock releases c.mu and then delivers the queued events.
func (c *Cursor) unlock() {
	events := c.pending
	c.pending = nil
	var obs []observer
	if len(events) > 0 {
		obs = append(obs, c.observers...)
	}
	c.mu.Unlock()
	for _, e := range events {
		for _, o := range obs {
			o.fn(e)
		}
	}
}
