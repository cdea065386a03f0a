package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/journal"
)

func applyUpdate(t *testing.T, e Engine, author string, nodes journal.ChangeSet) journal.Transaction {
	t.Helper()
	tx, err := e.Update(UpdateInput{Author: author, Nodes: nodes})
	require.NoError(t, err)
	return tx
}

func TestMemoryEngineUpdateAdvancesVersion(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())

	v, err := e.Version()
	require.NoError(t, err)
	assert.True(t, v.IsGenesis())

	tx1 := applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"title": "first"}})
	assert.Equal(t, int64(1), tx1.ID)
	assert.Equal(t, journal.GenesisHash, tx1.Previous)

	tx2 := applyUpdate(t, e, "bob", journal.ChangeSet{"node:1": {"title": "second"}})
	assert.Equal(t, int64(2), tx2.ID)
	assert.Equal(t, tx1.Hash, tx2.Previous)

	v, err = e.Version()
	require.NoError(t, err)
	assert.Equal(t, tx2.ID, v.ID)
	assert.Equal(t, tx2.Hash, v.Hash)

	fields, ok := e.Node("node:1")
	require.True(t, ok)
	assert.Equal(t, "second", fields["title"])
}

func TestMemoryEngineApplyRejectsChainBreak(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	tx1 := applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(1)}})

	// Wrong id.
	bad := tx1
	bad.ID = 5
	bad.Previous = tx1.Hash
	require.ErrorIs(t, e.Apply(bad), ErrChainBreak)

	// Right id, wrong previous hash.
	bad = tx1
	bad.ID = 2
	bad.Previous = "deadbeef"
	require.ErrorIs(t, e.Apply(bad), ErrChainBreak)
}

func TestMemoryEngineFetchTransaction(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	tx := applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(1)}})

	got, err := e.FetchTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx, got)

	_, err = e.FetchTransaction(99)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestMemoryEngineRollbackRestoresBeforeImages(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	tx1 := applyUpdate(t, e, "alice", journal.ChangeSet{
		"node:1": {"title": "one", "color": "red"},
	})
	applyUpdate(t, e, "bob", journal.ChangeSet{
		"node:1": {"title": "two", "color": nil}, // nil removes the field
		"node:2": {"title": "fresh"},
	})

	fields, ok := e.Node("node:1")
	require.True(t, ok)
	assert.Equal(t, "two", fields["title"])
	_, hasColor := fields["color"]
	assert.False(t, hasColor)

	require.NoError(t, e.Rollback(1, 2))

	v, err := e.Version()
	require.NoError(t, err)
	assert.Equal(t, tx1.ID, v.ID)
	assert.Equal(t, tx1.Hash, v.Hash)

	fields, ok = e.Node("node:1")
	require.True(t, ok)
	assert.Equal(t, "one", fields["title"])
	assert.Equal(t, "red", fields["color"])

	// node:2 did not exist before transaction 2.
	_, ok = e.Node("node:2")
	assert.False(t, ok)

	_, err = e.FetchTransaction(2)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestMemoryEngineRollbackToGenesis(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(1)}})
	applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(2)}})

	require.NoError(t, e.Rollback(2, 2))

	v, err := e.Version()
	require.NoError(t, err)
	assert.True(t, v.IsGenesis())
	_, ok := e.Node("node:1")
	assert.False(t, ok)
}

func TestMemoryEngineRollbackGuards(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(1)}})

	require.ErrorIs(t, e.Rollback(1, 7), ErrRollbackRange)
	require.ErrorIs(t, e.Rollback(0, 1), ErrRollbackRange)
	require.ErrorIs(t, e.Rollback(2, 1), ErrRollbackRange)
}

func TestMemoryEnginePreCommitHookAborts(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	hookErr := errors.New("journal full")
	e.SetHooks(Hooks{PreCommit: func(journal.Transaction) error { return hookErr }})

	_, err := e.Update(UpdateInput{Author: "alice", Nodes: journal.ChangeSet{"node:1": {"v": float64(1)}}})
	require.ErrorIs(t, err, hookErr)

	// The aborted transaction left no trace.
	v, err := e.Version()
	require.NoError(t, err)
	assert.True(t, v.IsGenesis())
	_, ok := e.Node("node:1")
	assert.False(t, ok)
}

func TestMemoryEnginePostCommitHookFires(t *testing.T) {
	e := NewMemoryEngine(journal.NewCanonicalizer())
	done := make(chan journal.Transaction, 1)
	e.SetHooks(Hooks{PostCommit: func(tx journal.Transaction) { done <- tx }})

	tx := applyUpdate(t, e, "alice", journal.ChangeSet{"node:1": {"v": float64(1)}})
	got := <-done
	assert.Equal(t, tx.ID, got.ID)
}
