package cursor

import (
	"time"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// attach binds c to parent as a detail cursor. Parent events schedule a
// debounced refresh of c.
func (c *Cursor) attach(parent *Cursor, rel Relation) {
	c.parent = parent
	c.relation = &rel
	c.unsubscribe = parent.Subscribe(c.onParentEvent)
}

func (c *Cursor) onParentEvent(e Event) {
	switch e.Kind {
	case EventNewBuffer, EventBufferCommitted, EventCursorUpdated:
		c.scheduleRefresh()
	case EventBufferChanged:
		if e.Field == c.parent.meta.Field(c.relation.ParentField).Name {
			c.scheduleRefresh()
		}
	}
}

// relationFilter returns the predicate selecting the children of the
// parent's current buffer and remembers the parent value it used.
func (c *Cursor) relationFilter() string {
	v := c.parent.Value(c.relation.ParentField)
	c.parentValue = v
	return c.sess.conn.FormatAssign(c.meta.Field(c.relation.Field), v, false)
}

// propagateRelation stages the parent's relation value into the buffer.
func (c *Cursor) propagateRelation() error {
	if c.relation == nil || c.buf.IsEmpty() {
		return nil
	}
	v := c.parent.Value(c.relation.ParentField)
	f := c.meta.Field(c.relation.Field)
	if types.Equal(f.Type, v, c.buf.Value(f.Name)) {
		return nil
	}
	return c.buf.SetValue(f.Name, v)
}

// scheduleRefresh (re)starts the debounce timer. A request made before the
// timer fires replaces it.
func (c *Cursor) scheduleRefresh() {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.sess.config.RefreshDelay, func() {
		c.refreshFromParent(gen)
	})
}

// cancelRefresh stops a pending refresh. A timer that already fired sees
// the bumped generation and does nothing.
func (c *Cursor) cancelRefresh() {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Cursor) refreshFromParent(gen uint64) {
	c.lock()
	defer c.unlock()

	c.dmu.Lock()
	stale := gen != c.gen
	if !stale {
		c.timer = nil
	}
	c.dmu.Unlock()
	if stale || c.closed {
		return
	}

	pf := c.parent.meta.Field(c.relation.ParentField)
	if c.selected && types.Equal(pf.Type, c.parent.Value(pf.Name), c.parentValue) {
		return
	}
	c.persistentFilter = ""
	if c.mode == types.ModeInsert {
		if err := c.propagateRelation(); err != nil {
			c.log.Warn("propagating relation value", "error", err)
		}
	}
	if err := c.selectLocked(c.filter, c.sort); err != nil {
		c.log.Warn("refreshing detail cursor", "error", err)
	}
}

// WaitRefresh blocks until no debounced refresh is pending or timeout
// elapses, and reports whether the cursor settled.
func (c *Cursor) WaitRefresh(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.dmu.Lock()
		idle := c.timer == nil
		c.dmu.Unlock()
		if idle {
			// A fired timer clears itself under c.mu; taking the lock waits
			// for a refresh in progress.
			c.lock()
			c.unlock()
			c.dmu.Lock()
			idle = c.timer == nil
			c.dmu.Unlock()
			if idle {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
