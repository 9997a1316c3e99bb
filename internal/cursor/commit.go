package cursor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/rowindex"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// CommitBuffer writes the buffer according to the access mode and reports
// whether it succeeded.
//
// Rule violations return false with a *types.IntegrityError carrying the
// full message; the buffer is kept for correction. Failures after the
// transaction level was opened roll that level back. On success the row
// index is patched, the cursor moves to the committed row and the mode
// advances: insert to edit, edit and delete to browse.
func (c *Cursor) CommitBuffer() (bool, error) {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return false, err
	}
	if err := c.commitBuffer(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cursor) commitBuffer() (err error) {
	mode := c.mode
	if !mode.Writes() {
		return errors.Wrapf(types.ErrInvalidMode, "commit %s in %s mode", c.meta.Name, mode)
	}
	if c.buf.IsEmpty() {
		return errors.Wrapf(types.ErrNoBuffer, "commit %s", c.meta.Name)
	}
	if mode != types.ModeInsert && !c.buf.IsValid() {
		return errors.Wrapf(types.ErrConcurrentDelete, "commit %s", c.meta.Name)
	}

	if err := c.commitParentFirst(); err != nil {
		return err
	}

	ctx := &HookContext{c: c}
	if c.meta.DetectLocks && mode != types.ModeInsert {
		if err := c.sess.hooks.run(c.meta.Name, RiskLock, ctx); err != nil {
			return fmt.Errorf("%w: %w", types.ErrCancelled, err)
		}
	}
	if mode != types.ModeDel {
		if err := c.propagateRelation(); err != nil {
			return err
		}
	}
	if err := c.buf.Apply(); err != nil {
		return err
	}

	if c.sess.config.CheckIntegrity {
		msg, err := c.checker.Check(mode, c.buf)
		if err != nil {
			return err
		}
		if msg != "" {
			return &types.IntegrityError{Table: c.meta.Name, Message: msg}
		}
		if err := c.buf.Apply(); err != nil {
			return err
		}
	}
	if err := c.sess.hooks.run(c.meta.Name, BeforeCommit, ctx); err != nil {
		return err
	}

	opened := false
	if c.scope.Open() == 0 {
		if err := c.scope.Begin(); err != nil {
			return err
		}
		opened = true
	}
	defer func() {
		if err == nil || !opened {
			return
		}
		if rerr := c.scope.RollbackOne(); rerr != nil {
			err = fmt.Errorf("%w (rollback: %w)", err, rerr)
		}
		c.log.Warn("commit rolled back", "mode", mode.String(), "error", err)
	}()

	switch mode {
	case types.ModeInsert:
		err = c.insertRow()
	case types.ModeEdit:
		err = c.updateRow()
	case types.ModeDel:
		err = c.deleteRow(ctx)
	}
	if err != nil {
		return err
	}
	if err := c.sess.hooks.run(c.meta.Name, AfterCommit, ctx); err != nil {
		return err
	}

	if opened {
		opened = false
		if err := c.scope.CommitOne(); err != nil {
			return err
		}
	}
	if err := c.writeOutOfTransaction(); err != nil {
		return err
	}
	return c.afterCommit(mode)
}

// commitParentFirst commits a parent that is still inserting, so that the
// row this cursor refers to exists before it is written.
func (c *Cursor) commitParentFirst() error {
	if c.parent == nil || c.parent.Mode() != types.ModeInsert {
		return nil
	}
	if _, err := c.parent.CommitBuffer(); err != nil {
		return errors.Wrapf(err, "committing parent %s first", c.parent.name)
	}
	return nil
}

func (c *Cursor) insertRow() error {
	table := c.meta.WriteTable()
	var (
		cols  []string
		marks []string
		args  []any
	)
	for _, f := range c.buf.GeneratedFields() {
		if f.Type == types.TypeSerial && c.buf.IsNull(f.Name) {
			n, err := c.sess.conn.NextSerial(table, f.Name)
			if err != nil {
				return errors.Wrapf(err, "serial %s.%s", table, f.Name)
			}
			if err := c.buf.SetValue(f.Name, n); err != nil {
				return err
			}
			if err := c.buf.Apply(); err != nil {
				return err
			}
		}
		cols = append(cols, f.Name)
		marks = append(marks, "?")
		args = append(args, types.Encode(f.Type, c.buf.Value(f.Name)))
	}
	_, err := c.sess.conn.Exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	return errors.Wrapf(err, "inserting into %s", table)
}

// updateRow writes the modified fields. Fields marked out of transaction
// are held back and written by writeOutOfTransaction once the level has
// closed.
func (c *Cursor) updateRow() error {
	var (
		sets []string
		args []any
	)
	c.pendingWrite = nil
	for _, name := range c.buf.ModifiedFields(c.bufCopy) {
		if !c.buf.IsGenerated(name) {
			continue
		}
		f := c.meta.Field(name)
		if f.OutOfTransaction {
			c.pendingWrite = append(c.pendingWrite, f)
			continue
		}
		sets = append(sets, f.Name+" = ?")
		args = append(args, types.Encode(f.Type, c.buf.Value(f.Name)))
	}
	if len(sets) == 0 {
		return nil
	}
	table := c.meta.WriteTable()
	n, err := c.sess.conn.Exec(fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), c.keyAssign(c.buf.Key())), args...)
	if err != nil {
		return errors.Wrapf(err, "updating %s", table)
	}
	if n == 0 {
		return errors.Wrapf(types.ErrConcurrentDelete, "updating %s %v", table, c.buf.Key())
	}
	return nil
}

func (c *Cursor) writeOutOfTransaction() error {
	fields := c.pendingWrite
	c.pendingWrite = nil
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		sets[i] = f.Name + " = ?"
		args[i] = types.Encode(f.Type, c.buf.Value(f.Name))
	}
	table := c.meta.WriteTable()
	_, err := c.sess.conn.Exec(fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), c.keyAssign(c.buf.Value(c.meta.PrimaryKey))), args...)
	return errors.Wrapf(err, "updating %s out of transaction", table)
}

func (c *Cursor) deleteRow(ctx *HookContext) error {
	if err := c.sess.hooks.run(c.meta.Name, BeforeDelete, ctx); err != nil {
		return err
	}
	if err := c.cascadeDelete(); err != nil {
		return err
	}
	table := c.meta.WriteTable()
	n, err := c.sess.conn.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", table, c.keyAssign(c.buf.Key())))
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n == 0 {
		return errors.Wrapf(types.ErrConcurrentDelete, "deleting %s %v", table, c.buf.Key())
	}
	return c.sess.hooks.run(c.meta.Name, AfterDelete, ctx)
}

// cascadeDelete deletes, depth first, the dependent rows of every
// one-to-many relation whose dependent field cascades.
func (c *Cursor) cascadeDelete() error {
	table := c.meta.WriteTable()
	for _, f := range c.meta.Fields {
		if !c.buf.IsGenerated(f.Name) || c.buf.IsNull(f.Name) {
			continue
		}
		for _, rel := range f.RelationsOneToMany() {
			fm, err := c.sess.provider.Table(rel.ForeignTable)
			if err != nil {
				return errors.Wrapf(err, "cascade from %s.%s", table, f.Name)
			}
			ff := fm.Field(rel.ForeignField)
			if ff == nil {
				return errors.Wrapf(types.ErrFieldNotFound, "%s.%s", rel.ForeignTable, rel.ForeignField)
			}
			if !ff.CascadesFrom(table, f.Name) {
				continue
			}
			if err := c.deleteDependents(fm, ff, c.buf.Value(f.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cursor) deleteDependents(meta *types.TableMetadata, field *types.FieldMetadata, v any) error {
	dep, err := c.sess.open(meta)
	if err != nil {
		return err
	}
	defer dep.Close()

	if err := dep.Select(c.sess.conn.FormatAssign(field, v, false), ""); err != nil {
		return err
	}
	for {
		n := dep.Size()
		if n == 0 {
			return nil
		}
		if _, err := dep.First(); err != nil {
			return err
		}
		if err := dep.Delete(); err != nil {
			return err
		}
		if _, err := dep.CommitBuffer(); err != nil {
			return errors.Wrapf(err, "cascading delete to %s", meta.Name)
		}
		if dep.Size() >= n {
			return errors.Errorf("cascading delete to %s made no progress", meta.Name)
		}
	}
}

// afterCommit patches the row index, moves to the committed row and
// advances the mode.
func (c *Cursor) afterCommit(mode types.AccessMode) error {
	pk := c.meta.PrimaryKeyField()
	key, err := types.Coerce(pk, c.buf.Value(pk.Name))
	if err != nil {
		return err
	}

	var pos int
	switch mode {
	case types.ModeInsert:
		c.persistentFilter = orFilter(c.persistentFilter, c.keyAssign(key))
		if c.src != nil {
			c.src.where = composeFilter(c.src.main, c.filter, c.persistentFilter)
		}
		if pos, err = c.placeInserted(key); err != nil {
			return err
		}
		c.mode = types.ModeEdit
	case types.ModeEdit:
		if pos, err = c.placeEdited(key); err != nil {
			return err
		}
		c.mode = types.ModeBrowse
	case types.ModeDel:
		pos = c.pos
		if err := c.index.PatchDelete(c.pos); err != nil {
			c.log.Debug("row index patch failed, re-selecting", "error", err)
			if err := c.selectLocked(c.filter, c.sort); err != nil {
				return err
			}
		}
		if pos >= c.size() {
			pos = c.size() - 1
		}
		c.mode = types.ModeBrowse
	}

	if pos < 0 {
		pos = PosInvalid
		if c.mode == types.ModeEdit {
			c.mode = types.ModeBrowse
		}
	}
	c.pos = PosInvalid
	c.move(pos)
	c.perms.Undo()
	c.emit(EventCursorUpdated, "", c.pos)
	if err := c.refreshBuffer(); err != nil {
		return err
	}
	c.log.Debug("buffer committed", "mode", mode.String(), "key", key, "row", c.pos)
	c.emit(EventBufferCommitted, "", c.pos)
	return nil
}

func (c *Cursor) placeInserted(key any) (int, error) {
	if !c.selected {
		return c.reselect(key)
	}
	e, err := c.src.entry(c.buf.Value)
	if err != nil {
		return PosInvalid, err
	}
	pos, err := c.index.PatchInsert(e)
	if err != nil {
		c.log.Debug("row index patch failed, re-selecting", "error", err)
		return c.reselect(key)
	}
	return pos, nil
}

func (c *Cursor) placeEdited(key any) (int, error) {
	if !c.selected || c.bufCopy == nil || !c.validPos() {
		return c.reselect(key)
	}
	before, err := c.src.entry(c.bufCopy.Value)
	if err != nil {
		return PosInvalid, err
	}
	after, err := c.src.entry(c.buf.Value)
	if err != nil {
		return PosInvalid, err
	}
	if sameEntry(c.index.Order(), before, after) {
		if err := c.index.PatchUpdate(c.pos, after); err != nil {
			return c.reselect(key)
		}
		return c.pos, nil
	}
	if err := c.index.PatchDelete(c.pos); err != nil {
		return c.reselect(key)
	}
	pos, err := c.index.PatchInsert(after)
	if err != nil {
		c.log.Debug("row index patch failed, re-selecting", "error", err)
		return c.reselect(key)
	}
	return pos, nil
}

// reselect re-materializes the result set and finds key in it.
func (c *Cursor) reselect(key any) (int, error) {
	mode := c.mode
	if err := c.selectLocked(c.filter, c.sort); err != nil {
		return PosInvalid, err
	}
	c.mode = mode
	return c.index.IndexOf(key)
}

func sameEntry(order []rowindex.SortKey, a, b rowindex.Entry) bool {
	for i, k := range order {
		if !types.Equal(k.Type, a.Sort[i], b.Sort[i]) {
			return false
		}
	}
	return true
}

func (c *Cursor) keyAssign(key any) string {
	return c.sess.conn.FormatAssign(c.meta.PrimaryKeyField(), key, false)
}

func orFilter(filter, term string) string {
	if strings.TrimSpace(filter) == "" {
		return term
	}
	return filter + " OR " + term
}
