package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/journal"
)

func TestMergeTransactionsLastWins(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	txs := []journal.Transaction{
		{
			ID: 4, Author: "alice", CreatedAt: t1,
			Nodes: journal.ChangeSet{
				"node:1": {"title": "draft", "state": "open"},
			},
		},
		{
			ID: 5, Author: "bob", CreatedAt: t1.Add(time.Minute),
			Nodes: journal.ChangeSet{
				"node:1": {"title": "final"},
				"node:2": {"title": "other"},
			},
			Configurations: journal.ChangeSet{"cfg:theme": {"mode": "dark"}},
		},
	}

	merged, err := MergeTransactions(txs)
	require.NoError(t, err)

	assert.Zero(t, merged.ID)
	assert.Empty(t, merged.Hash)
	assert.Empty(t, merged.Previous)
	assert.Equal(t, "bob", merged.Author)
	assert.Equal(t, txs[1].CreatedAt, merged.CreatedAt)

	assert.Equal(t, "final", merged.Nodes["node:1"]["title"])
	assert.Equal(t, "open", merged.Nodes["node:1"]["state"])
	assert.Equal(t, "other", merged.Nodes["node:2"]["title"])
	assert.Equal(t, "dark", merged.Configurations["cfg:theme"]["mode"])
}

func TestMergeTransactionsKeepsDeletions(t *testing.T) {
	txs := []journal.Transaction{
		{ID: 1, Nodes: journal.ChangeSet{"node:1": {"color": "red"}}},
		{ID: 2, Nodes: journal.ChangeSet{"node:1": {"color": nil}}},
	}

	merged, err := MergeTransactions(txs)
	require.NoError(t, err)

	// The nil marker survives so the merged transaction still removes
	// the field when applied.
	value, present := merged.Nodes["node:1"]["color"]
	require.True(t, present)
	assert.Nil(t, value)
}

func TestMergeTransactionsRequiresContiguousRun(t *testing.T) {
	_, err := MergeTransactions(nil)
	require.Error(t, err)

	_, err = MergeTransactions([]journal.Transaction{{ID: 1}, {ID: 3}})
	require.Error(t, err)
}

func TestMergeMatchesSequentialApply(t *testing.T) {
	canon := journal.NewCanonicalizer()

	sequential := NewMemoryEngine(canon)
	tx1 := applyUpdate(t, sequential, "alice", journal.ChangeSet{"node:1": {"a": "1", "b": "2"}})
	tx2 := applyUpdate(t, sequential, "alice", journal.ChangeSet{"node:1": {"b": "3"}, "node:2": {"c": "4"}})

	merged, err := MergeTransactions([]journal.Transaction{tx1, tx2})
	require.NoError(t, err)
	linked, err := journal.WithHash(canon, merged, 1, journal.GenesisHash)
	require.NoError(t, err)

	squashed := NewMemoryEngine(canon)
	require.NoError(t, squashed.Apply(linked))

	for _, id := range []string{"node:1", "node:2"} {
		want, ok := sequential.Node(id)
		require.True(t, ok)
		got, ok := squashed.Node(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
