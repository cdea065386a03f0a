package syncer

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/orneryd/skuld/pkg/journal"
)

// Undo reverts the n most recent transactions. The transactions are fetched
// from the projection (not the journal), rolled back, relocated to the undo
// journal newest-first, and truncated off the main journal's tail. Undo
// never erases a transaction from the system; it moves it.
//
// Returns the undone transactions newest-first.
func (s *Syncer) Undo(n int) ([]journal.Transaction, error) {
	version, err := s.engine.Version()
	if err != nil {
		return nil, err
	}
	if version.IsGenesis() {
		return nil, fmt.Errorf("%w: nothing to undo at genesis", journal.ErrInvalidUndo)
	}
	if n <= 0 || int64(n) > version.ID {
		return nil, fmt.Errorf("%w: %d of %d applied transactions", journal.ErrInvalidUndo, n, version.ID)
	}

	// Newest-first, straight from the projection's history.
	undone := make([]journal.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := s.engine.FetchTransaction(version.ID - int64(i))
		if err != nil {
			return nil, fmt.Errorf("syncer: fetch transaction for undo: %w", err)
		}
		undone = append(undone, tx)
	}

	if err := s.engine.Rollback(n, version.ID); err != nil {
		return nil, fmt.Errorf("syncer: undo rollback: %w", err)
	}

	for _, tx := range undone {
		if err := journal.Append(s.undoPath, tx); err != nil {
			return nil, err
		}
	}
	if err := journal.RemoveLast(s.logPath, n); err != nil {
		return nil, err
	}

	s.logger.Info("undid transactions",
		zap.Int("count", n),
		zap.Int64("from", version.ID),
		zap.Int64("now_at", version.ID-int64(n)))
	return undone, nil
}

// Redo replays the n most recently undone transactions in their original
// apply order. Before replaying, the projection's current hash must equal
// the first transaction's previous hash: if the workspace moved since the
// undo, replaying would silently fork history, so nothing is applied.
//
// The first successful apply re-triggers the pre-commit hook, which regrows
// the main journal and clears the undo journal; callers must not assume the
// undo entries persist past the first redo step.
func (s *Syncer) Redo(n int) ([]journal.Transaction, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", journal.ErrInvalidRedo, n)
	}

	tail, err := journal.ReadLast(s.undoPath, n)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, journal.ErrEmptyUndoLog
	}
	if len(tail) < n {
		return nil, fmt.Errorf("%w: undo journal holds %d transactions, cannot redo %d",
			journal.ErrInvalidRedo, len(tail), n)
	}

	// The undo journal is written newest-undone-last within each batch, so
	// the tail in file order is newest-applied-first; reverse it to get the
	// order the transactions were originally applied.
	txs := make([]journal.Transaction, len(tail))
	for i, tx := range tail {
		txs[len(tail)-1-i] = tx
	}

	version, err := s.engine.Version()
	if err != nil {
		return nil, err
	}
	if txs[0].Previous != version.Hash {
		return nil, fmt.Errorf("%w: redo expects version hash %s, projection is at %s",
			journal.ErrVersionMismatch, txs[0].Previous, version.Hash)
	}

	if err := s.ApplyTransactions(txs); err != nil {
		return nil, err
	}

	s.logger.Info("redid transactions",
		zap.Int("count", n),
		zap.Int64("now_at", txs[len(txs)-1].ID))
	return txs, nil
}

// UndoDepth returns how many transactions the undo journal currently holds.
func (s *Syncer) UndoDepth() (int, error) {
	if _, err := os.Stat(s.undoPath); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("syncer: stat %s: %w", s.undoPath, err)
	}
	txs, err := journal.ReadAll(s.undoPath)
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}
