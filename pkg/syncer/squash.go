package syncer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/skuld/pkg/journal"
)

// Squash merges the n most recent transactions into a single transaction
// with the same net effect, shortening history without changing the
// projection's content.
//
// Squash refuses to touch divergent history: the n trailing journal entries
// must exist and match the projection's transactions hash for hash. On any
// precondition failure both stores are left untouched. On success the n
// entries are truncated from the journal, the projection is rolled back by
// n, and the merged transaction is applied through the normal commit path
// (so the journal regrows with the merged entry and the undo journal is
// cleared).
func (s *Syncer) Squash(n int) (journal.Transaction, error) {
	if n < 2 {
		return journal.Transaction{}, fmt.Errorf("%w: squash needs at least 2 transactions, got %d",
			journal.ErrInvalidCount, n)
	}

	version, err := s.engine.Version()
	if err != nil {
		return journal.Transaction{}, err
	}
	if int64(n) > version.ID {
		return journal.Transaction{}, fmt.Errorf("%w: %d of %d applied transactions",
			journal.ErrInvalidSquash, n, version.ID)
	}

	logTail, err := journal.ReadLast(s.logPath, n)
	if err != nil {
		return journal.Transaction{}, err
	}
	if len(logTail) != n {
		return journal.Transaction{}, fmt.Errorf("%w: journal holds %d of the %d trailing transactions",
			journal.ErrLogInconsistency, len(logTail), n)
	}

	dbTxs := make([]journal.Transaction, 0, n)
	for id := version.ID - int64(n) + 1; id <= version.ID; id++ {
		tx, err := s.engine.FetchTransaction(id)
		if err != nil {
			return journal.Transaction{}, fmt.Errorf("syncer: fetch transaction for squash: %w", err)
		}
		dbTxs = append(dbTxs, tx)
	}

	for i := range dbTxs {
		if logTail[i].ID != dbTxs[i].ID || logTail[i].Hash != dbTxs[i].Hash {
			return journal.Transaction{}, fmt.Errorf(
				"%w: transaction %d is %s in the journal but %s in the database",
				journal.ErrLogDBMismatch, dbTxs[i].ID, logTail[i].Hash, dbTxs[i].Hash)
		}
	}

	merged, err := s.merge(dbTxs)
	if err != nil {
		return journal.Transaction{}, fmt.Errorf("syncer: merge transactions: %w", err)
	}

	if err := journal.RemoveLast(s.logPath, n); err != nil {
		return journal.Transaction{}, err
	}
	if err := s.engine.Rollback(n, version.ID); err != nil {
		return journal.Transaction{}, fmt.Errorf("syncer: squash rollback: %w", err)
	}

	base, err := s.engine.Version()
	if err != nil {
		return journal.Transaction{}, err
	}
	merged, err = journal.WithHash(s.canon, merged, base.ID+1, base.Hash)
	if err != nil {
		return journal.Transaction{}, err
	}
	if err := s.engine.Apply(merged); err != nil {
		return journal.Transaction{}, fmt.Errorf("syncer: apply merged transaction: %w", err)
	}

	s.logger.Info("squashed transactions",
		zap.Int("count", n),
		zap.Int64("merged_id", merged.ID))
	return merged, nil
}
