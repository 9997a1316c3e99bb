package cursor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recnav/internal/acl"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

func TestInsertPatchesIndexWithoutReselect(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'aaa'), (2, 'ccc')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "name"))
	selects := f.conn.countOf("SELECT COUNT(*) FROM t")
	require.Equal(t, 1, selects)

	insertName(t, c, "bbb")

	assert.Equal(t, selects, f.conn.countOf("SELECT COUNT(*) FROM t"), "insert must not re-select")
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, 1, c.At())
	assert.Equal(t, types.ModeEdit, c.Mode())
	assert.Equal(t, "bbb", c.Value("name"))
	assert.Equal(t, "id = 3", c.PersistentFilter())

	begins, closes := c.TransactionBalance()
	assert.Equal(t, 1, begins)
	assert.Equal(t, begins, closes)
	assert.Equal(t, 0, f.sess.Coordinator().Depth())
}

func TestInsertedRowStaysVisibleOutsideFilter(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'keep')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("name = 'keep'", ""))

	insertName(t, c, "other")
	assert.Equal(t, 2, c.Size())
	assert.Equal(t, "other", c.Value("name"))

	require.NoError(t, c.Refresh())
	assert.Equal(t, 2, c.Size(), "persistent filter keeps the new row after a refresh")
	assert.Equal(t, "other", c.Value("name"))
}

func TestEditMovesRowToItsNewPosition(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "name"))
	_, err := c.First()
	require.NoError(t, err)

	require.NoError(t, c.Edit())
	require.NoError(t, c.SetValue("name", "d"))
	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, types.ModeBrowse, c.Mode())
	assert.Equal(t, 2, c.At())
	assert.Equal(t, "d", c.Value("name"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM t WHERE name = 'd'"))
}

func TestEditWithoutChangesWritesNothing(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", ""))
	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Edit())

	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ModeBrowse, c.Mode())
}

func TestDeleteMovesToNeighbour(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "name"))
	_, err := c.Last()
	require.NoError(t, err)

	require.NoError(t, c.Delete())
	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, c.At())
	assert.Equal(t, "a", c.Value("name"))

	require.NoError(t, c.Delete())
	_, err = c.CommitBuffer()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, PosInvalid, c.At())
	assert.Nil(t, c.Values())
}

func TestCommitInBrowseModeFails(t *testing.T) {
	f := newFixture(t, false)
	c := f.open(t, "t")
	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrInvalidMode)
}

func TestConcurrentDeleteIsReported(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", ""))
	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Edit())
	require.NoError(t, c.SetValue("name", "b"))

	f.exec(t, "DELETE FROM t WHERE id = 1")
	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrConcurrentDelete)
	assert.Equal(t, 0, f.sess.Coordinator().Depth())
}

func TestScenarioC_ParentCommittedFirst(t *testing.T) {
	f := newFixture(t, false)
	parent := f.open(t, "areas")
	require.NoError(t, parent.Select("", ""))
	child, err := f.sess.OpenChild(parent, "modules", Relation{Field: "idarea", ParentField: "idarea"})
	require.NoError(t, err)

	require.NoError(t, parent.Insert())
	require.NoError(t, parent.SetValue("idarea", "B"))
	require.NoError(t, child.Insert())
	require.NoError(t, child.SetValue("idmodulo", "M1"))

	ok, err := child.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, types.ModeEdit, parent.Mode())
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM areas WHERE idarea = 'B'"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM modules WHERE idmodulo = 'M1' AND idarea = 'B'"))

	require.True(t, child.WaitRefresh(2*f.sess.config.RefreshDelay+time.Second))
	assert.Equal(t, 1, child.Size())
	assert.Equal(t, 0, f.sess.Coordinator().Depth())
}

func TestParentFailureAbortsChildCommit(t *testing.T) {
	f := newFixture(t, false)
	parent := f.open(t, "areas")
	child, err := f.sess.OpenChild(parent, "modules", Relation{Field: "idarea", ParentField: "idarea"})
	require.NoError(t, err)

	require.NoError(t, parent.Insert())
	require.NoError(t, child.Insert())
	require.NoError(t, child.SetValue("idmodulo", "M1"))

	ok, err := child.CommitBuffer()
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrIntegrity, "parent without key fails its not-null check")
	assert.Equal(t, types.ModeInsert, child.Mode())
	begins, _ := child.TransactionBalance()
	assert.Equal(t, 0, begins, "child transaction untouched")
}

func TestScenarioD_DeleteBlockedByDependents(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t,
		"INSERT INTO areas (idarea) VALUES ('A')",
		"INSERT INTO modules (idmodulo, idarea) VALUES ('M1', 'A')",
	)
	c := f.open(t, "areas")
	require.NoError(t, c.Select("", ""))
	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Delete())

	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	var ie *types.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Message, "modules")
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM areas"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM modules"))
}

func TestScenarioD_DeleteCascades(t *testing.T) {
	f := newFixture(t, true)
	f.exec(t,
		"INSERT INTO areas (idarea) VALUES ('A'), ('Z')",
		"INSERT INTO modules (idmodulo, idarea) VALUES ('M1', 'A'), ('M2', 'A'), ('M3', 'Z')",
	)
	var order []string
	f.sess.Hooks().Register("modules", AfterDelete, func(h *HookContext) (bool, error) {
		order = append(order, "modules:"+h.Value("idmodulo").(string))
		return true, nil
	})
	f.sess.Hooks().Register("areas", AfterDelete, func(h *HookContext) (bool, error) {
		order = append(order, "areas:"+h.Value("idarea").(string))
		return true, nil
	})

	c := f.open(t, "areas")
	require.NoError(t, c.Select("", "idarea"))
	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Delete())

	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"modules:M1", "modules:M2", "areas:A"}, order)
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM modules WHERE idarea = 'A'"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM modules"))
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, f.sess.Coordinator().Depth())
	assert.Len(t, f.sess.Cursors(), 1, "cascade cursors are closed")
}

func TestParentSideCascadeFlagDoesNotCascade(t *testing.T) {
	f := newFixture(t, false)
	areas, err := f.sess.Provider().Table("areas")
	require.NoError(t, err)
	areas.Field("idarea").Relations[0].DeleteCascade = true
	f.exec(t,
		"INSERT INTO areas (idarea) VALUES ('A')",
		"INSERT INTO modules (idmodulo, idarea) VALUES ('M1', 'A')",
	)

	c := f.open(t, "areas")
	require.NoError(t, c.Select("", "idarea"))
	_, err = c.First()
	require.NoError(t, err)
	require.NoError(t, c.Delete())

	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	var ie *types.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Message, "modules")
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM areas"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM modules"))
}

func TestHookFailureRollsBack(t *testing.T) {
	f := newFixture(t, false)
	f.sess.Hooks().Register("t", AfterCommit, func(*HookContext) (bool, error) {
		return false, nil
	})
	c := f.open(t, "t")
	require.NoError(t, c.Insert())
	require.NoError(t, c.SetValue("name", "a"))

	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrHookFailed)
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM t"), "insert rolled back")

	begins, closes := c.TransactionBalance()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, f.sess.Coordinator().Depth())
}

func TestBeforeCommitHookErrorAbortsBeforeTransaction(t *testing.T) {
	f := newFixture(t, false)
	boom := errors.New("boom")
	f.sess.Hooks().Register("t", BeforeCommit, func(h *HookContext) (bool, error) {
		assert.Equal(t, types.ModeInsert, h.Mode())
		return true, boom
	})
	c := f.open(t, "t")
	require.NoError(t, c.Insert())
	require.NoError(t, c.SetValue("name", "a"))

	_, err := c.CommitBuffer()
	assert.ErrorIs(t, err, types.ErrHookFailed)
	assert.ErrorIs(t, err, boom)
	begins, _ := c.TransactionBalance()
	assert.Equal(t, 0, begins)
}

func TestRiskLockHookCancels(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a')")
	meta, err := f.sess.Provider().Table("t")
	require.NoError(t, err)
	meta.DetectLocks = true
	defer func() { meta.DetectLocks = false }()

	f.sess.Hooks().Register("t", RiskLock, func(*HookContext) (bool, error) { return false, nil })
	c := f.open(t, "t")
	require.NoError(t, c.Select("", ""))
	_, err = c.First()
	require.NoError(t, err)
	require.NoError(t, c.Edit())
	require.NoError(t, c.SetValue("name", "b"))

	ok, err := c.CommitBuffer()
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrCancelled)
}

func TestCommitInsideCursorTransaction(t *testing.T) {
	f := newFixture(t, false)
	c := f.open(t, "t")
	require.NoError(t, c.BeginTransaction())

	insertName(t, c, "a")
	assert.Equal(t, 1, c.TransactionLevels(), "commit reuses the open level")

	require.NoError(t, c.RollbackTransaction())
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM t"))
	begins, closes := c.TransactionBalance()
	assert.Equal(t, begins, closes)
}

func TestCalculatedField(t *testing.T) {
	f := newFixture(t, false)
	f.sess.Hooks().RegisterCalculated("t", func(h *HookContext, field string) (any, error) {
		require.Equal(t, "total", field)
		qty, _ := types.CoerceType(types.TypeInt, h.Value("qty"))
		price, _ := types.CoerceType(types.TypeDouble, h.Value("price"))
		if qty == nil || price == nil {
			return nil, nil
		}
		return float64(qty.(int64)) * price.(float64), nil
	})
	c := f.open(t, "t")
	get := events(c)
	require.NoError(t, c.Insert())
	require.NoError(t, c.SetValue("name", "a"))
	require.NoError(t, c.SetValue("qty", "3"))
	require.NoError(t, c.SetValue("price", "2.5"))
	assert.Equal(t, 7.5, c.Value("total"))

	var fields []string
	for _, e := range get(EventBufferChanged) {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"name", "qty", "price", "total"}, fields)
}

func TestOutOfTransactionFieldSurvivesCommit(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'a')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", ""))
	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Edit())
	require.NoError(t, c.SetValue("name", "b"))
	require.NoError(t, c.SetValue("note", "seen"))

	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM t WHERE name = 'b' AND note = 'seen'"))
}

func TestReadOnlyFieldPermission(t *testing.T) {
	f := newFixture(t, false)
	c := f.open(t, "t")
	require.NoError(t, c.SetPermissions(acl.Permissions{
		Table:  acl.PermReadWrite,
		Fields: map[string]acl.Perm{"price": acl.PermReadOnly},
	}))
	require.NoError(t, c.Insert())
	assert.ErrorIs(t, c.SetValue("price", 1), types.ErrReadOnly)
	assert.NoError(t, c.SetValue("name", "a"))
}

func TestLockedRowDegradesToReadOnly(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name, unlocked) VALUES (1, 'open', 1), (2, 'held', 0)")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "id"))

	_, err := c.First()
	require.NoError(t, err)
	assert.False(t, c.IsLocked())
	assert.Equal(t, acl.PermReadWrite, c.TablePermission())

	_, err = c.Next()
	require.NoError(t, err)
	assert.True(t, c.IsLocked())
	assert.Equal(t, acl.PermReadOnly, c.TablePermission())
	assert.ErrorIs(t, c.Edit(), types.ErrReadOnly)
}

func TestConditionalPermission(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'draft'), (2, 'posted')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "id"))
	require.NoError(t, c.SetCondition(&acl.Condition{
		Kind:     acl.CondValue,
		Field:    "name",
		Value:    "posted",
		Override: acl.Permissions{Table: acl.PermReadOnly},
	}))

	_, err := c.First()
	require.NoError(t, err)
	require.NoError(t, c.Edit())
	require.NoError(t, c.Browse())

	_, err = c.Next()
	require.NoError(t, err)
	assert.ErrorIs(t, c.Edit(), types.ErrReadOnly)
}

func postedReadOnly() *acl.Condition {
	return &acl.Condition{
		Kind:     acl.CondValue,
		Field:    "name",
		Value:    "posted",
		Override: acl.Permissions{Table: acl.PermReadOnly},
	}
}

func TestConditionalPermissionAfterReselect(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'draft'), (2, 'posted')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "id"))
	require.NoError(t, c.SetCondition(postedReadOnly()))

	_, err := c.First()
	require.NoError(t, err)
	assert.Equal(t, acl.PermReadWrite, c.TablePermission())

	require.NoError(t, c.Select("", "id DESC"))
	_, err = c.First()
	require.NoError(t, err)
	require.Equal(t, "posted", c.Value("name"))
	assert.Equal(t, acl.PermReadOnly, c.TablePermission())
	assert.ErrorIs(t, c.Edit(), types.ErrReadOnly)
}

func TestConditionalPermissionAfterCommit(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name) VALUES (1, 'draft')")
	c := f.open(t, "t")
	require.NoError(t, c.Select("", "id"))
	require.NoError(t, c.SetCondition(postedReadOnly()))
	_, err := c.First()
	require.NoError(t, err)

	require.NoError(t, c.Edit())
	require.NoError(t, c.SetValue("name", "posted"))
	ok, err := c.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 0, c.At())
	require.Equal(t, "posted", c.Value("name"))
	assert.Equal(t, acl.PermReadOnly, c.TablePermission())
	assert.ErrorIs(t, c.Edit(), types.ErrReadOnly)
}
