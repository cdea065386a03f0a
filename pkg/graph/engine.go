// Package graph defines the contract between the transaction journal and the
// graph database projection, plus reference engine implementations.
//
// The synchronization layer never talks to storage directly: everything goes
// through the Engine interface, so the projection can be an in-process Badger
// store, an in-memory store for tests, or a remote database.
package graph

import (
	"errors"
	"fmt"

	"github.com/orneryd/skuld/pkg/journal"
)

// Engine errors.
var (
	// ErrTransactionNotFound is returned by FetchTransaction for ids the
	// projection has never applied or has rolled back.
	ErrTransactionNotFound = errors.New("graph: transaction not found")

	// ErrChainBreak is returned by Apply when the transaction's previous
	// hash does not continue the projection's current version.
	ErrChainBreak = errors.New("graph: transaction does not continue current version")

	// ErrRollbackRange is returned by Rollback when the requested steps do
	// not match the projection's history.
	ErrRollbackRange = errors.New("graph: invalid rollback range")
)

// UpdateInput describes a mutation to be minted into a new transaction.
type UpdateInput struct {
	Author         string
	Nodes          journal.ChangeSet
	Configurations journal.ChangeSet
}

// Hooks are installed on an engine after construction (two-phase setup, so
// no engine ends up capturing itself in its own closure).
//
// PreCommit runs after linkage validation but before the engine's own
// mutation is considered final; the journal layer uses it to append the
// transaction to the main journal and clear the undo journal. A PreCommit
// error aborts the apply. PostCommit runs asynchronously after a successful
// apply and must not block the write path.
type Hooks struct {
	PreCommit  func(tx journal.Transaction) error
	PostCommit func(tx journal.Transaction)
}

// Engine is the database projection the journal is reconciled against.
type Engine interface {
	// Apply commits a fully-formed transaction to the projection. The
	// transaction must continue the current version's hash chain.
	Apply(tx journal.Transaction) error

	// Rollback reverts the n most recent transactions. fromID must equal
	// the projection's current version id; this guards against racing
	// writers.
	Rollback(n int, fromID int64) error

	// FetchTransaction returns the applied transaction with the given id.
	FetchTransaction(id int64) (journal.Transaction, error)

	// Version returns the projection's current position: the latest
	// applied transaction, or the genesis sentinel.
	Version() (journal.GraphVersion, error)

	// Update mints a new transaction from input, links and hashes it at
	// the current chain tip, and applies it.
	Update(input UpdateInput) (journal.Transaction, error)

	// SetHooks installs commit hooks. Pass the zero Hooks to remove them.
	SetHooks(hooks Hooks)
}

// validateLinkage checks that tx continues the version at cur.
func validateLinkage(cur journal.GraphVersion, tx journal.Transaction) error {
	if tx.ID != cur.ID+1 {
		return fmt.Errorf("%w: transaction id %d, current version %d", ErrChainBreak, tx.ID, cur.ID)
	}
	if tx.Previous != cur.Hash {
		return fmt.Errorf("%w: transaction %d previous %s, current hash %s",
			ErrChainBreak, tx.ID, tx.Previous, cur.Hash)
	}
	return nil
}

// runPostCommit fires the post-commit hook on its own goroutine, isolating
// hook panics from the write path.
func runPostCommit(hooks Hooks, tx journal.Transaction) {
	if hooks.PostCommit == nil {
		return
	}
	go func() {
		defer func() { _ = recover() }()
		hooks.PostCommit(tx)
	}()
}
