package syncer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/journal"
)

func TestSquashCompactsHistory(t *testing.T) {
	ws := newTestWorkspace(t)
	tx1 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"title": "draft", "state": "open"}})
	ws.commit(t, "bob", journal.ChangeSet{"node:1": {"title": "review"}})
	ws.commit(t, "carol", journal.ChangeSet{"node:1": {"title": "final"}, "node:2": {"title": "appendix"}})

	merged, err := ws.sync.Squash(2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), merged.ID)
	assert.Equal(t, tx1.Hash, merged.Previous)
	assert.Equal(t, "carol", merged.Author)
	assert.Equal(t, "final", merged.Nodes["node:1"]["title"])
	assert.Equal(t, "appendix", merged.Nodes["node:2"]["title"])

	v, err := ws.engine.Version()
	require.NoError(t, err)
	assert.Equal(t, merged.ID, v.ID)
	assert.Equal(t, merged.Hash, v.Hash)

	// Projection content is unchanged by the compaction.
	fields, ok := ws.engine.Node("node:1")
	require.True(t, ok)
	assert.Equal(t, "final", fields["title"])
	assert.Equal(t, "open", fields["state"])

	// The journal regrew through the normal commit path and still chains.
	logged, err := journal.ReadAll(ws.logPath)
	require.NoError(t, err)
	require.Equal(t, []journal.Transaction{tx1, merged}, logged)
	count, err := ws.sync.VerifyChain(true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	status, err := ws.sync.VerifySync()
	require.NoError(t, err)
	assert.Equal(t, StateInSync, status.State)
}

func TestSquashEntireHistory(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})

	merged, err := ws.sync.Squash(2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), merged.ID)
	assert.Equal(t, journal.GenesisHash, merged.Previous)
}

func TestSquashClearsUndoJournal(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "3"}})

	_, err := ws.sync.Undo(1)
	require.NoError(t, err)
	_, err = ws.sync.Redo(1)
	require.NoError(t, err)

	_, err = ws.sync.Squash(2)
	require.NoError(t, err)

	depth, err := ws.sync.UndoDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSquashValidation(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})

	_, err := ws.sync.Squash(1)
	require.ErrorIs(t, err, journal.ErrInvalidCount)

	_, err = ws.sync.Squash(3)
	require.ErrorIs(t, err, journal.ErrInvalidSquash)
}

func TestSquashRefusesShortJournal(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	tx2 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})
	require.NoError(t, journal.RemoveLast(ws.logPath, 1))

	_, err := ws.sync.Squash(2)
	require.ErrorIs(t, err, journal.ErrLogInconsistency)

	// Nothing moved.
	v, err := ws.engine.Version()
	require.NoError(t, err)
	assert.Equal(t, tx2.ID, v.ID)
}

func TestSquashRefusesDivergedHistory(t *testing.T) {
	ws := newTestWorkspace(t)
	tx1 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "1"}})
	tx2 := ws.commit(t, "alice", journal.ChangeSet{"node:1": {"v": "2"}})
	ws.forkJournalTail(t, tx1)

	journalBefore, err := os.ReadFile(ws.logPath)
	require.NoError(t, err)

	_, err = ws.sync.Squash(2)
	require.ErrorIs(t, err, journal.ErrLogDBMismatch)

	// Precondition failures leave both stores untouched.
	journalAfter, err := os.ReadFile(ws.logPath)
	require.NoError(t, err)
	assert.Equal(t, journalBefore, journalAfter)

	v, err := ws.engine.Version()
	require.NoError(t, err)
	assert.Equal(t, tx2.ID, v.ID)
	assert.Equal(t, tx2.Hash, v.Hash)
}
