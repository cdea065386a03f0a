package syncer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/journal"
)

func TestUndoMovesTransactionsToUndoJournal(t *testing.T) {
	ws := newTestWorkspace(t)
	tx1 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"title": "one"}})
	tx2 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"title": "two"}})
	tx3 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"title": "three"}})

	undone, err := ws.sync.Undo(2)
	require.NoError(t, err)
	require.Equal(t, []journal.Transaction{tx3, tx2}, undone, "undone transactions come newest-first")

	v, err := ws.engine.Version()
	require.NoError(t, err)
	assert.Equal(t, tx1.ID, v.ID)
	assert.Equal(t, tx1.Hash, v.Hash)

	fields, ok := ws.engine.Node("node:1")
	require.True(t, ok)
	assert.Equal(t, "one", fields["title"])

	logged, err := journal.ReadAll(ws.logPath)
	require.NoError(t, err)
	require.Equal(t, []journal.Transaction{tx1}, logged)

	depth, err := ws.sync.UndoDepth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestRedoReversesUndoExactly(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"title": "one"}})
	tx2 := ws.commit(t, "bob", journal.ChangeSet{"node:1": {"title": "two"}})
	tx3 := ws.commit(t, "carol", journal.ChangeSet{"node:2": {"title": "three"}})

	before, err := os.ReadFile(ws.logPath)
	require.NoError(t, err)
	versionBefore, err := ws.engine.Version()
	require.NoError(t, err)

	_, err = ws.sync.Undo(2)
	require.NoError(t, err)

	redone, err := ws.sync.Redo(2)
	require.NoError(t, err)
	require.Equal(t, []journal.Transaction{tx2, tx3}, redone, "redo replays in original apply order")

	// undo followed by redo is a complete no-op: projection version and
	// journal bytes both match the pre-undo state.
	versionAfter, err := ws.engine.Version()
	require.NoError(t, err)
	assert.Equal(t, versionBefore.ID, versionAfter.ID)
	assert.Equal(t, versionBefore.Hash, versionAfter.Hash)

	after, err := os.ReadFile(ws.logPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	fields, ok := ws.engine.Node("node:2")
	require.True(t, ok)
	assert.Equal(t, "three", fields["title"])
}

func TestRedoAcrossSeparateUndoBatches(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	tx2 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})
	tx3 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "3"}})

	_, err := ws.sync.Undo(1)
	require.NoError(t, err)
	_, err = ws.sync.Undo(1)
	require.NoError(t, err)

	redone, err := ws.sync.Redo(2)
	require.NoError(t, err)
	require.Equal(t, []journal.Transaction{tx2, tx3}, redone)
}

func TestUndoValidation(t *testing.T) {
	ws := newTestWorkspace(t)

	_, err := ws.sync.Undo(1)
	require.ErrorIs(t, err, journal.ErrInvalidUndo)

	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})

	_, err = ws.sync.Undo(0)
	require.ErrorIs(t, err, journal.ErrInvalidUndo)
	_, err = ws.sync.Undo(2)
	require.ErrorIs(t, err, journal.ErrInvalidUndo)
}

func TestRedoValidation(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})

	_, err := ws.sync.Redo(0)
	require.ErrorIs(t, err, journal.ErrInvalidRedo)

	_, err = ws.sync.Redo(1)
	require.ErrorIs(t, err, journal.ErrEmptyUndoLog)

	_, err = ws.sync.Undo(1)
	require.NoError(t, err)

	_, err = ws.sync.Redo(2)
	require.ErrorIs(t, err, journal.ErrInvalidRedo)
}

func TestRedoRefusesMovedVersion(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	tx2 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "3"}})

	_, err := ws.sync.Undo(1)
	require.NoError(t, err)

	// The projection moves again (direct rollback, no journal hook), so
	// the undone transaction no longer continues the current version.
	require.NoError(t, ws.engine.Rollback(1, tx2.ID))

	_, err = ws.sync.Redo(1)
	require.ErrorIs(t, err, journal.ErrVersionMismatch)
}

func TestUndoDepthEmpty(t *testing.T) {
	ws := newTestWorkspace(t)
	depth, err := ws.sync.UndoDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}
