package cursor

import (
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/acl"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// SetMode switches the access mode and primes the buffer for it. Insert
// primes a fresh record; Edit and Del load the current row and require a
// writable, unlocked row; Browse reloads the current row.
func (c *Cursor) SetMode(mode types.AccessMode) error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.setMode(mode)
}

func (c *Cursor) setMode(mode types.AccessMode) error {
	switch mode {
	case types.ModeInsert:
		if !c.perms.Table().CanWrite() {
			return errors.Wrapf(types.ErrReadOnly, "insert into %s", c.meta.Name)
		}
		c.mode = mode
		return c.primeInsert()
	case types.ModeEdit, types.ModeDel:
		if err := c.ensureSelected(); err != nil {
			return err
		}
		if c.mode == types.ModeInsert {
			c.mode = types.ModeBrowse
		}
		if !c.validPos() {
			return errors.Wrapf(types.ErrNoBuffer, "%s %s: no current row", mode, c.meta.Name)
		}
		if err := c.primeUpdate(); err != nil {
			return err
		}
		if !c.perms.Table().CanWrite() {
			return errors.Wrapf(types.ErrReadOnly, "%s %s", mode, c.meta.Name)
		}
		c.mode = mode
		return nil
	case types.ModeBrowse:
		c.mode = mode
		c.pendingWrite = nil
		return c.refreshBuffer()
	}
	return errors.Wrapf(types.ErrInvalidMode, "mode %d", mode)
}

// Insert switches to insert mode.
func (c *Cursor) Insert() error { return c.SetMode(types.ModeInsert) }

// Edit switches to edit mode on the current row.
func (c *Cursor) Edit() error { return c.SetMode(types.ModeEdit) }

// Delete switches to delete mode on the current row. The row is removed by
// CommitBuffer.
func (c *Cursor) Delete() error { return c.SetMode(types.ModeDel) }

// Browse returns to browse mode, discarding the buffer's edits.
func (c *Cursor) Browse() error { return c.SetMode(types.ModeBrowse) }

// Value returns the buffer value of the field, or nil.
func (c *Cursor) Value(field string) any {
	c.lock()
	defer c.unlock()
	if c.buf == nil {
		return nil
	}
	return c.buf.Value(field)
}

// IsNull reports whether the buffer value of the field is null.
func (c *Cursor) IsNull(field string) bool {
	c.lock()
	defer c.unlock()
	if c.buf == nil {
		return true
	}
	return c.buf.IsNull(field)
}

// Values returns every buffer value.
func (c *Cursor) Values() map[string]any {
	c.lock()
	defer c.unlock()
	if c.buf == nil || c.buf.IsEmpty() {
		return nil
	}
	return c.buf.Values()
}

// SetValue stages a value for the field. It is allowed in insert and edit
// mode on a field the current permissions let the cursor write. Calculated
// fields are recomputed afterwards.
func (c *Cursor) SetValue(field string, v any) error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	if c.mode != types.ModeInsert && c.mode != types.ModeEdit {
		return errors.Wrapf(types.ErrInvalidMode, "set %s.%s in %s mode", c.meta.Name, field, c.mode)
	}
	f := c.meta.Field(field)
	if f == nil {
		return errors.Wrapf(types.ErrFieldNotFound, "%s.%s", c.meta.Name, field)
	}
	if !c.perms.CanWrite(f.Name) {
		return errors.Wrapf(types.ErrReadOnly, "%s.%s", c.meta.Name, f.Name)
	}
	if err := c.buf.SetValue(f.Name, v); err != nil {
		return err
	}
	c.emit(EventBufferChanged, f.Name, c.pos)
	if f.Calculated {
		return nil
	}
	return c.recalculate()
}

// recalculate runs the calculateField hook for every calculated field.
func (c *Cursor) recalculate() error {
	calc := c.sess.hooks.calculator(c.meta.Name)
	if calc == nil {
		return nil
	}
	ctx := &HookContext{c: c}
	for _, f := range c.meta.Fields {
		if !f.Calculated {
			continue
		}
		v, err := calc(ctx, f.Name)
		if err != nil {
			return errors.Wrapf(err, "calculating %s.%s", c.meta.Name, f.Name)
		}
		if types.Equal(f.Type, v, c.buf.Value(f.Name)) {
			continue
		}
		if err := c.buf.SetValue(f.Name, v); err != nil {
			return err
		}
		c.emit(EventBufferChanged, f.Name, c.pos)
	}
	return nil
}

// Rollback discards the staged edits, restoring the buffer snapshot.
func (c *Cursor) Rollback() {
	c.lock()
	defer c.unlock()
	if c.bufCopy == nil {
		return
	}
	c.buf = c.bufCopy.Snapshot()
	c.emit(EventNewBuffer, "", c.pos)
}

// IsLocked reports whether the current row, or the parent's, is held by an
// unlock field set to false.
func (c *Cursor) IsLocked() bool {
	c.lock()
	defer c.unlock()
	return c.isLocked()
}

func (c *Cursor) isLocked() bool {
	if c.meta != nil && c.buf != nil && !c.buf.IsEmpty() {
		for _, name := range c.meta.UnlockFields() {
			if v, ok := c.buf.Value(name).(bool); ok && !v {
				return true
			}
		}
	}
	if c.parent != nil {
		return c.parent.IsLocked()
	}
	return false
}

// SetPermissions replaces the static permissions of the cursor and clears
// the last evaluation.
func (c *Cursor) SetPermissions(p acl.Permissions) error {
	c.lock()
	defer c.unlock()
	cond := c.perms.Condition()
	c.perms = acl.New(p)
	if err := c.perms.SetCondition(cond); err != nil {
		return err
	}
	c.processACL()
	return nil
}

// SetCondition installs a content condition on the permissions, or removes
// it when cond is nil.
func (c *Cursor) SetCondition(cond *acl.Condition) error {
	c.lock()
	defer c.unlock()
	if err := c.perms.SetCondition(cond); err != nil {
		return err
	}
	c.processACL()
	return nil
}

func (c *Cursor) processACL() {
	if c.buf != nil && !c.buf.IsEmpty() && c.validPos() {
		pk := c.meta.PrimaryKeyField().Name
		c.perms.Process(c.pos, c.buf.Value(pk), c.mode, &HookContext{c: c}, c.isLocked())
	}
}

// Permission returns the effective permission of the field.
func (c *Cursor) Permission(field string) acl.Perm {
	c.lock()
	defer c.unlock()
	return c.perms.Field(field)
}

// TablePermission returns the effective table permission.
func (c *Cursor) TablePermission() acl.Perm {
	c.lock()
	defer c.unlock()
	return c.perms.Table()
}

// BeginTransaction opens a transaction level owned by this cursor.
func (c *Cursor) BeginTransaction() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.scope.Begin()
}

// CommitTransaction commits the most recent level opened by this cursor.
func (c *Cursor) CommitTransaction() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.scope.CommitOne()
}

// RollbackTransaction rolls back the most recent level opened by this
// cursor.
func (c *Cursor) RollbackTransaction() error {
	c.lock()
	defer c.unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.scope.RollbackOne()
}

// TransactionLevels returns the number of levels this cursor holds open.
func (c *Cursor) TransactionLevels() int {
	c.lock()
	defer c.unlock()
	if c.scope == nil {
		return 0
	}
	return c.scope.Open()
}

// TransactionBalance returns how many levels the cursor opened and closed
// over its lifetime.
func (c *Cursor) TransactionBalance() (begins, closes int) {
	c.lock()
	defer c.unlock()
	if c.scope == nil {
		return 0, 0
	}
	return c.scope.Balance()
}
