package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

func openAreas(t *testing.T, f *fixture) (parent, child *Cursor) {
	t.Helper()
	f.exec(t,
		"INSERT INTO areas (idarea) VALUES ('A'), ('B')",
		"INSERT INTO modules (idmodulo, idarea) VALUES ('M1', 'A'), ('M2', 'B'), ('M3', 'B')",
	)
	parent = f.open(t, "areas")
	require.NoError(t, parent.Select("", "idarea"))
	var err error
	child, err = f.sess.OpenChild(parent, "modules", Relation{Field: "idarea", ParentField: "idarea"})
	require.NoError(t, err)
	return parent, child
}

func TestChildFollowsParent(t *testing.T) {
	f := newFixture(t, false)
	parent, child := openAreas(t, f)
	assert.Equal(t, 0, child.Size(), "no parent row yet")

	_, err := parent.First()
	require.NoError(t, err)
	require.True(t, child.WaitRefresh(time.Second))
	assert.Equal(t, 1, child.Size())

	_, err = parent.Next()
	require.NoError(t, err)
	require.True(t, child.WaitRefresh(time.Second))
	assert.Equal(t, 2, child.Size())
}

func TestDebounceCoalescesParentChanges(t *testing.T) {
	f := newFixture(t, false)
	parent, child := openAreas(t, f)
	get := events(child)
	selects := func() int { return len(get(EventCursorUpdated)) }

	require.NoError(t, parent.Insert())
	for _, v := range []string{"A", "B", "A", "B"} {
		require.NoError(t, parent.SetValue("idarea", v))
	}
	require.True(t, child.WaitRefresh(time.Second))

	assert.Equal(t, 1, selects(), "rapid parent edits refresh the child once")
	assert.Equal(t, 2, child.Size())
}

func TestSelectCancelsPendingRefresh(t *testing.T) {
	f := newFixture(t, false)
	parent, child := openAreas(t, f)
	get := events(child)

	_, err := parent.First()
	require.NoError(t, err)
	require.NoError(t, child.Select("", ""))
	assert.Equal(t, 1, child.Size())

	time.Sleep(3 * f.sess.config.RefreshDelay)
	assert.Len(t, get(EventCursorUpdated), 1, "the cancelled refresh never fires")
}

func TestChildInsertTakesParentValue(t *testing.T) {
	f := newFixture(t, false)
	parent, child := openAreas(t, f)
	_, err := parent.Last()
	require.NoError(t, err)
	require.True(t, child.WaitRefresh(time.Second))

	require.NoError(t, child.Insert())
	assert.Equal(t, "B", child.Value("idarea"))
	require.NoError(t, child.SetValue("idmodulo", "M4"))
	ok, err := child.CommitBuffer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, child.Size())
	assert.Equal(t, types.ModeEdit, child.Mode())
}

func TestChildOfLockedParentIsLocked(t *testing.T) {
	f := newFixture(t, false)
	f.exec(t, "INSERT INTO t (id, name, qty, unlocked) VALUES (1, 'held', NULL, 0), (2, 'line', 1, 1)")
	parent := f.open(t, "t")
	require.NoError(t, parent.Select("id = 1", ""))
	_, err := parent.First()
	require.NoError(t, err)
	require.True(t, parent.IsLocked())

	child, err := f.sess.OpenChild(parent, "t", Relation{Field: "qty", ParentField: "id"})
	require.NoError(t, err)
	_, err = child.First()
	require.NoError(t, err)
	assert.Equal(t, "line", child.Value("name"))
	assert.True(t, child.IsLocked(), "a locked parent locks its children")
	assert.ErrorIs(t, child.Edit(), types.ErrReadOnly)
}

func TestOpenChildRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, false)
	parent := f.open(t, "areas")
	_, err := f.sess.OpenChild(parent, "modules", Relation{Field: "nope", ParentField: "idarea"})
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
	_, err = f.sess.OpenChild(parent, "modules", Relation{Field: "idarea", ParentField: "nope"})
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
}
