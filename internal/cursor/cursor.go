// Package cursor implements the navigational cursor: a current-record view
// over a filtered, sorted table or query that can be moved, edited in an
// isolated buffer and committed under nested transactions, subject to
// integrity and access-control rules.
//
// Every exported method of a Cursor takes the cursor's lock and runs to
// completion on the caller's goroutine. Events are delivered after the lock
// is released. The only background work is the debounced refresh of a
// child cursor that follows its parent.
package cursor

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/acl"
	"github.com/mesh-intelligence/recnav/internal/buffer"
	"github.com/mesh-intelligence/recnav/internal/integrity"
	"github.com/mesh-intelligence/recnav/internal/rowindex"
	"github.com/mesh-intelligence/recnav/internal/txn"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Position sentinels.
const (
	PosInvalid = -1
	PosPastEnd = -2
)

// Relation binds a child cursor to its parent: the child's Field holds the
// value of the parent's ParentField.
type Relation struct {
	Field       string
	ParentField string
}

// Cursor is a current-record view over a table or query.
type Cursor struct {
	mu sync.Mutex

	id      string
	name    string
	sess    *Session
	meta    *types.TableMetadata
	log     *slog.Logger
	scope   *txn.Scope
	checker *integrity.Checker
	perms   *acl.ACL

	mode    types.AccessMode
	pos     int
	buf     *buffer.Buffer
	bufCopy *buffer.Buffer
	index   *rowindex.Cache
	src     *keySource

	mainFilter       string
	filter           string
	persistentFilter string
	sort             string
	selected         bool

	parent       *Cursor
	relation     *Relation
	parentValue  any
	unsubscribe  func()
	pendingWrite []*types.FieldMetadata

	observers []observer
	nextObs   uint64
	pending   []Event
	closed    bool

	dmu   sync.Mutex
	timer *time.Timer
	gen   uint64
}

// ID returns the unique id of the cursor.
func (c *Cursor) ID() string { return c.id }

// Name returns the cursor name, the table name unless renamed.
func (c *Cursor) Name() string { return c.name }

// Metadata returns the table metadata, or nil for an orphan cursor.
func (c *Cursor) Metadata() *types.TableMetadata { return c.meta }

// Parent returns the parent cursor of a child, or nil.
func (c *Cursor) Parent() *Cursor { return c.parent }

// check fails fast on cursors that cannot run statements.
func (c *Cursor) check() error {
	if c.meta == nil || c.sess == nil {
		return types.ErrNoMetadata
	}
	if c.closed {
		return types.ErrSessionDone
	}
	return nil
}

// Mode returns the access mode.
func (c *Cursor) Mode() types.AccessMode {
	c.lock()
	defer c.unlock()
	return c.mode
}

// At returns the current position: a row number, PosInvalid or PosPastEnd.
func (c *Cursor) At() int {
	c.lock()
	defer c.unlock()
	return c.pos
}

// Size returns the number of rows of the current result set.
func (c *Cursor) Size() int {
	c.lock()
	defer c.unlock()
	return c.size()
}

func (c *Cursor) size() int {
	if c.index == nil {
		return 0
	}
	return c.index.Len()
}

// Filter returns the ad-hoc filter of the last select.
func (c *Cursor) Filter() string {
	c.lock()
	defer c.unlock()
	return c.filter
}

// Sort returns the sort order of the last select.
func (c *Cursor) Sort() string {
	c.lock()
	defer c.unlock()
	return c.sort
}

// SetMainFilter sets the filter every select is restricted to. It takes
// effect on the next select.
func (c *Cursor) SetMainFilter(filter string) {
	c.lock()
	defer c.unlock()
	c.mainFilter = filter
}

// MainFilter returns the main filter.
func (c *Cursor) MainFilter() string {
	c.lock()
	defer c.unlock()
	return c.mainFilter
}

// PersistentFilter returns the filter OR-ed onto every select.
func (c *Cursor) PersistentFilter() string {
	c.lock()
	defer c.unlock()
	return c.persistentFilter
}

// SetPersistentFilter replaces the persistent filter. It takes effect on
// the next select.
func (c *Cursor) SetPersistentFilter(filter string) {
	c.lock()
	defer c.unlock()
	c.persistentFilter = filter
}

// Select re-reads the result set with filter and sort. The filter is
// AND-ed with the main filter and the persistent filter is OR-ed onto the
// result. An ORDER BY embedded in filter replaces sort. The position is
// reset and the buffer refreshed; a pending debounced refresh is cancelled.
func (c *Cursor) Select(filter, sort string) error {
	c.cancelRefresh()
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.selectLocked(filter, sort)
}

// Refresh re-runs the last select and returns to the current row when it
// is still part of the result set.
func (c *Cursor) Refresh() error {
	c.cancelRefresh()
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	var key any
	if c.validPos() && !c.buf.IsEmpty() {
		key = c.buf.Key()
	}
	if err := c.selectLocked(c.filter, c.sort); err != nil {
		return err
	}
	if key == nil {
		return nil
	}
	return c.seekKey(key)
}

func (c *Cursor) selectLocked(filter, sort string) error {
	if where, embedded := splitOrderBy(filter); embedded != "" {
		filter, sort = where, embedded
	}
	order, err := parseSort(c.meta, sort)
	if err != nil {
		return err
	}
	main := c.mainFilter
	if c.relation != nil {
		main = c.relationFilter()
	}
	src := &keySource{
		conn:  c.sess.conn,
		meta:  c.meta,
		main:  main,
		where: composeFilter(main, filter, c.persistentFilter),
		order: order,
	}
	total, err := src.count()
	if err != nil {
		return err
	}
	pk := c.meta.PrimaryKeyField()
	index, err := rowindex.New(src, total, c.sess.config.PageSize, pk.Type, order)
	if err != nil {
		return err
	}
	c.src, c.index = src, index
	c.filter, c.sort = filter, sort
	c.selected = true
	c.pos = PosInvalid
	if c.mode == types.ModeEdit || c.mode == types.ModeDel {
		c.mode = types.ModeBrowse
	}
	c.perms.Undo()
	c.log.Debug("selected", "where", src.where, "order", orderByClause(order), "rows", total)
	c.emit(EventCursorUpdated, "", c.pos)
	return c.refreshBuffer()
}

// ensureSelected runs the default select on a cursor that never selected.
func (c *Cursor) ensureSelected() error {
	if c.selected {
		return nil
	}
	return c.selectLocked(c.filter, c.sort)
}

func (c *Cursor) validPos() bool {
	return c.pos >= 0 && c.pos < c.size()
}

// Move sets the position without touching the buffer. Row may be any row
// number, PosInvalid or PosPastEnd. Moving to the current position
// succeeds without effect; out-of-range rows fail and leave the position
// unchanged.
func (c *Cursor) Move(row int) bool {
	c.lock()
	defer c.unlock()
	if c.check() != nil {
		return false
	}
	return c.move(row)
}

func (c *Cursor) move(row int) bool {
	if row == c.pos {
		return true
	}
	if row != PosPastEnd && (row < PosInvalid || row >= c.size()) {
		return false
	}
	c.pos = row
	c.emit(EventCurrentChanged, "", row)
	return true
}

// Seek moves to row and refreshes the buffer.
func (c *Cursor) Seek(row int) (bool, error) {
	c.lock()
	defer c.unlock()
	return c.seek(row)
}

func (c *Cursor) seek(row int) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	if c.mode == types.ModeInsert {
		return false, errors.Wrap(types.ErrInvalidMode, "navigate while inserting")
	}
	if err := c.ensureSelected(); err != nil {
		return false, err
	}
	if row == c.pos && (row < 0 || !c.buf.IsEmpty()) {
		return true, nil
	}
	if !c.move(row) {
		return false, nil
	}
	if err := c.refreshBuffer(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cursor) seekKey(key any) error {
	pos, err := c.index.IndexOf(key)
	if err != nil {
		return err
	}
	if pos == rowindex.NotFound {
		return nil
	}
	_, err = c.seek(pos)
	return err
}

// Next moves to the following row. It fails at the last row.
func (c *Cursor) Next() (bool, error) {
	c.lock()
	defer c.unlock()
	if err := c.ensureReady(); err != nil {
		return false, err
	}
	switch {
	case c.pos == PosPastEnd:
		return false, nil
	case c.pos+1 >= c.size():
		return false, nil
	}
	return c.seek(c.pos + 1)
}

// Prev moves to the preceding row. It fails at the first row; from past
// the end it moves to the last row.
func (c *Cursor) Prev() (bool, error) {
	c.lock()
	defer c.unlock()
	if err := c.ensureReady(); err != nil {
		return false, err
	}
	switch {
	case c.pos == PosPastEnd:
		if c.size() == 0 {
			return false, nil
		}
		return c.seek(c.size() - 1)
	case c.pos <= 0:
		return false, nil
	}
	return c.seek(c.pos - 1)
}

// First moves to the first row.
func (c *Cursor) First() (bool, error) {
	c.lock()
	defer c.unlock()
	if err := c.ensureReady(); err != nil {
		return false, err
	}
	if c.size() == 0 {
		return false, nil
	}
	return c.seek(0)
}

// Last moves to the last row.
func (c *Cursor) Last() (bool, error) {
	c.lock()
	defer c.unlock()
	if err := c.ensureReady(); err != nil {
		return false, err
	}
	if c.size() == 0 {
		return false, nil
	}
	return c.seek(c.size() - 1)
}

func (c *Cursor) ensureReady() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.ensureSelected()
}

// RefreshBuffer reloads the buffer for the current position and mode: an
// insert buffer is primed when empty, otherwise the row at the current
// position is loaded.
func (c *Cursor) RefreshBuffer() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.refreshBuffer()
}

func (c *Cursor) refreshBuffer() error {
	if c.mode == types.ModeInsert {
		if !c.buf.IsEmpty() && c.buf.IsNew() {
			return nil
		}
		return c.primeInsert()
	}
	if !c.validPos() {
		c.buf.Clear()
		c.bufCopy = nil
		return nil
	}
	return c.primeUpdate()
}

// PrimeInsert replaces the buffer with a fresh record holding the field
// defaults, new serial values and the parent's relation value.
func (c *Cursor) PrimeInsert() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.primeInsert()
}

func (c *Cursor) primeInsert() error {
	if err := c.buf.PrimeInsert(); err != nil {
		return err
	}
	for _, f := range c.meta.Fields {
		if f.Type != types.TypeSerial || !c.meta.Generated(f) || !c.buf.IsNull(f.Name) {
			continue
		}
		n, err := c.sess.conn.NextSerial(c.meta.WriteTable(), f.Name)
		if err != nil {
			return errors.Wrapf(err, "serial %s.%s", c.meta.Name, f.Name)
		}
		if err := c.buf.SetValue(f.Name, n); err != nil {
			return err
		}
	}
	if err := c.propagateRelation(); err != nil {
		return err
	}
	if err := c.buf.Apply(); err != nil {
		return err
	}
	c.updateBufferCopy()
	c.emit(EventNewBuffer, "", c.pos)
	return nil
}

// PrimeUpdate reloads the buffer from the row at the current position.
// Returns ErrConcurrentDelete when the row no longer exists.
func (c *Cursor) PrimeUpdate() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.primeUpdate()
}

func (c *Cursor) primeUpdate() error {
	key, ok, err := c.index.Get(c.pos)
	if err != nil {
		return err
	}
	if !ok {
		c.buf.Clear()
		c.bufCopy = nil
		return errors.Wrapf(types.ErrNoBuffer, "no row at %d", c.pos)
	}
	if err := c.buf.PrimeUpdate(key); err != nil {
		c.bufCopy = nil
		return err
	}
	c.updateBufferCopy()
	c.perms.Process(c.pos, key, c.mode, &HookContext{c: c}, c.isLocked())
	c.emit(EventNewBuffer, "", c.pos)
	return nil
}

// fetch loads one row of the source by primary key, in field order.
func (c *Cursor) fetch(key any) (types.Row, error) {
	pk := c.meta.PrimaryKeyField()
	query := "SELECT " + strings.Join(c.meta.FieldNames(), ", ") + " FROM " + c.meta.Source() +
		" WHERE " + c.sess.conn.FormatAssign(pk, key, false)
	rows, err := c.sess.conn.Query(query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// UpdateBufferCopy snapshots the buffer as the reference for IsModified.
func (c *Cursor) UpdateBufferCopy() {
	c.lock()
	defer c.unlock()
	c.updateBufferCopy()
}

func (c *Cursor) updateBufferCopy() {
	if c.buf.IsEmpty() {
		c.bufCopy = nil
		return
	}
	c.bufCopy = c.buf.Snapshot()
}

// IsModified reports whether the buffer differs from its snapshot.
func (c *Cursor) IsModified() bool {
	c.lock()
	defer c.unlock()
	if c.buf.IsEmpty() {
		return false
	}
	return c.buf.IsModified(c.bufCopy)
}

// IsValid reports whether the buffer holds a readable record.
func (c *Cursor) IsValid() bool {
	c.lock()
	defer c.unlock()
	return c.buf != nil && c.buf.IsValid()
}

// Close releases the cursor: the pending refresh is cancelled, the levels
// it left open are rolled back and it is unregistered. Closing twice is a
// no-op.
func (c *Cursor) Close() error {
	c.cancelRefresh()
	c.lock()
	defer c.unlock()
	if c.closed || c.sess == nil {
		return nil
	}
	c.closed = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	var err error
	if c.scope.Open() > 0 {
		c.log.Warn("closing cursor with open transaction levels", "levels", c.scope.Open())
		err = c.scope.RollbackAll()
	}
	c.sess.registry.Unregister(c.id)
	c.sess.forget(c)
	return err
}
