package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRehashRebuildsBrokenChain(t *testing.T) {
	canon := NewCanonicalizer()
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.jsonl")
	txs := hashedChain(t, canon, path, 4)

	// Corrupt the linkage of the third entry by rewriting the tail with
	// stale hashes.
	require.NoError(t, RemoveLast(path, 2))
	broken := txs[2]
	broken.Previous = "0123456789"
	require.NoError(t, Append(path, broken))
	require.NoError(t, Append(path, txs[3]))
	_, err := VerifyChain(path, canon, VerifyOptions{})
	require.Error(t, err)

	result, err := Rehash(path, canon, NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Count)

	count, err := VerifyChain(path, canon, VerifyOptions{VerifyIntegrity: true})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	rebuilt, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rebuilt, 4)
	for i, tx := range rebuilt {
		assert.Equal(t, int64(i+1), tx.ID)
		assert.Equal(t, txs[i].Author, tx.Author)
		assert.Equal(t, txs[i].Nodes, tx.Nodes)
	}
}

func TestRehashWritesBackup(t *testing.T) {
	canon := NewCanonicalizer()
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.jsonl")
	hashedChain(t, canon, path, 3)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	result, err := Rehash(path, canon, NopLogger{})
	require.NoError(t, err)
	require.NotEmpty(t, result.BackupPath)
	assert.True(t, strings.HasSuffix(result.BackupPath, ".bac"))

	backup, err := os.ReadFile(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, original, backup, "backup must hold the pre-rehash bytes")
}

func TestRehashMissingFile(t *testing.T) {
	canon := NewCanonicalizer()
	_, err := Rehash(filepath.Join(t.TempDir(), "nope.jsonl"), canon, NopLogger{})
	require.Error(t, err)
}
