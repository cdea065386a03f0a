// Package syncer reconciles the transaction journal with the graph database
// projection: verification, divergence repair, undo/redo, squash, and full
// rehash.
//
// There is no persistent state machine: every operation recomputes the
// workspace's sync state from the two stores on demand. Writers are expected
// to hold the workspace write lock (pkg/lock); read-only verification may run
// without it at the cost of possibly observing a transient snapshot.
package syncer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/skuld/pkg/graph"
	"github.com/orneryd/skuld/pkg/journal"
	"github.com/orneryd/skuld/pkg/render"
)

// verifySyncTailSlack bounds how far past the database's transaction count
// the trailing log read goes. Divergence deeper than this many extra log
// entries at the tail is not detected; this is an intentional limit. A log
// that far ahead of its projection is rebuilt with repair after a full
// verify, not diffed entry by entry.
const verifySyncTailSlack = 100

// State describes the relationship between journal and projection.
type State string

const (
	StateInSync   State = "in-sync"
	StateLogAhead State = "log-ahead"
	StateDBAhead  State = "db-ahead"
	StateDiverged State = "diverged"
)

// SyncStatus is the result of comparing the journal against the projection.
type SyncStatus struct {
	State State

	// LastSyncedID is the highest id at which both stores agree.
	LastSyncedID int64

	// DBOnlyTransactions are applied transactions (ascending) with no
	// matching journal entry; repair rolls these back.
	DBOnlyTransactions []journal.Transaction

	// LogOnlyTransactions are journal entries (ascending) the projection
	// has not applied; repair applies these.
	LogOnlyTransactions []journal.Transaction
}

// MergeFunc folds a contiguous ascending run of transactions into one.
type MergeFunc func(txs []journal.Transaction) (journal.Transaction, error)

// Options configures a Syncer. Engine, LogPath, and UndoPath are required.
type Options struct {
	Engine   graph.Engine
	LogPath  string
	UndoPath string

	// Canonicalizer defaults to the journal's SHA-256 canonicalizer.
	Canonicalizer journal.Canonicalizer

	// Merge defaults to graph.MergeTransactions.
	Merge MergeFunc

	// Renderer is triggered asynchronously after each successful commit.
	Renderer render.Renderer

	Logger *zap.Logger
}

// Syncer orchestrates all journal/projection consistency operations for one
// workspace.
type Syncer struct {
	engine   graph.Engine
	logPath  string
	undoPath string
	canon    journal.Canonicalizer
	merge    MergeFunc
	renderer render.Renderer
	logger   *zap.Logger
}

// New builds a Syncer and installs the commit hooks on the engine. Hook
// installation is explicit two-phase construction: the engine exists first,
// then receives hooks that reference the journal paths.
func New(opts Options) *Syncer {
	s := &Syncer{
		engine:   opts.Engine,
		logPath:  opts.LogPath,
		undoPath: opts.UndoPath,
		canon:    opts.Canonicalizer,
		merge:    opts.Merge,
		renderer: opts.Renderer,
		logger:   opts.Logger,
	}
	if s.canon == nil {
		s.canon = journal.NewCanonicalizer()
	}
	if s.merge == nil {
		s.merge = graph.MergeTransactions
	}
	if s.renderer == nil {
		s.renderer = render.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.engine.SetHooks(graph.Hooks{
		PreCommit:  s.preCommit,
		PostCommit: s.postCommit,
	})
	return s
}

// preCommit records the transaction in the main journal before the engine
// finalizes it, and clears the undo journal: redo history cannot survive a
// history fork.
//
// The append is idempotent against the journal tip so that repair, which
// re-applies transactions the journal already holds, does not duplicate
// lines.
func (s *Syncer) preCommit(tx journal.Transaction) error {
	tail, err := journal.ReadLast(s.logPath, 1)
	if err != nil {
		return err
	}
	if len(tail) == 0 || tail[0].ID < tx.ID {
		if err := journal.Append(s.logPath, tx); err != nil {
			return err
		}
	}
	return journal.Clear(s.undoPath)
}

// postCommit triggers downstream document rendering. Runs on its own
// goroutine; failures are logged, never surfaced to the writer.
func (s *Syncer) postCommit(tx journal.Transaction) {
	if err := s.renderer.Render(tx); err != nil {
		s.logger.Warn("post-commit render failed",
			zap.Int64("transaction", tx.ID),
			zap.Error(err))
	}
}

// VerifyChain checks the journal's hash-chain linkage from genesis, without
// consulting the projection. With integrity set, every stored hash is also
// recomputed from its canonical form.
func (s *Syncer) VerifyChain(integrity bool) (int, error) {
	return journal.VerifyChain(s.logPath, s.canon, journal.VerifyOptions{VerifyIntegrity: integrity})
}

// Rehash rebuilds the journal's entire hash chain from genesis, backing up
// the current file first. Disaster recovery only.
func (s *Syncer) Rehash() (journal.RehashResult, error) {
	return journal.Rehash(s.logPath, s.canon, zapJournalLogger{s.logger})
}

// VerifySync compares the tails of the journal and the projection and
// reports which transactions exist on only one side.
//
// A missing or unreadable journal is treated as entirely log-empty, not an
// error: every applied transaction becomes db-only, which is exactly what
// repair needs to rebuild the file.
func (s *Syncer) VerifySync() (SyncStatus, error) {
	version, err := s.engine.Version()
	if err != nil {
		return SyncStatus{}, err
	}
	dbTip := version.ID

	logTail, err := journal.ReadLast(s.logPath, int(dbTip)+verifySyncTailSlack)
	if err != nil {
		s.logger.Warn("journal unreadable, treating as empty", zap.Error(err))
		logTail = nil
	}

	logHashes := make(map[int64]string, len(logTail))
	var logTip int64
	for _, tx := range logTail {
		logHashes[tx.ID] = tx.Hash
		if tx.ID > logTip {
			logTip = tx.ID
		}
	}

	// Scan the overlapping id range from the tail inward. In a hash chain,
	// agreement at id i implies agreement on everything before i, so the
	// scan stops at the first matching pair; every divergence therefore
	// sits above the last id scanned.
	overlapTop := dbTip
	if logTip < overlapTop {
		overlapTop = logTip
	}
	var divergenceID int64
	for id := overlapTop; id > 0; id-- {
		logHash, inLog := logHashes[id]
		if !inLog {
			break
		}
		dbHash, err := s.dbHashAt(version, id)
		if err != nil {
			return SyncStatus{}, err
		}
		if logHash == dbHash {
			break
		}
		divergenceID = id
	}

	lastSynced := overlapTop
	if divergenceID > 0 {
		lastSynced = divergenceID - 1
	}

	status := SyncStatus{LastSyncedID: lastSynced}
	for id := lastSynced + 1; id <= dbTip; id++ {
		tx, err := s.engine.FetchTransaction(id)
		if err != nil {
			return SyncStatus{}, err
		}
		status.DBOnlyTransactions = append(status.DBOnlyTransactions, tx)
	}
	for _, tx := range logTail {
		if tx.ID > lastSynced {
			status.LogOnlyTransactions = append(status.LogOnlyTransactions, tx)
		}
	}

	switch {
	case len(status.DBOnlyTransactions) == 0 && len(status.LogOnlyTransactions) == 0:
		status.State = StateInSync
	case len(status.DBOnlyTransactions) == 0:
		status.State = StateLogAhead
	case len(status.LogOnlyTransactions) == 0:
		status.State = StateDBAhead
	default:
		status.State = StateDiverged
	}
	return status, nil
}

func (s *Syncer) dbHashAt(version journal.GraphVersion, id int64) (string, error) {
	if id == version.ID {
		return version.Hash, nil
	}
	tx, err := s.engine.FetchTransaction(id)
	if err != nil {
		if errors.Is(err, graph.ErrTransactionNotFound) {
			return "", nil
		}
		return "", err
	}
	return tx.Hash, nil
}

// Repair brings the projection exactly to the journal's tip: db-only
// transactions are rolled back, then log-only transactions are applied in
// ascending order. With dryRun set, the plan is computed and returned but
// nothing is mutated.
//
// A mid-sequence apply failure leaves the projection partially repaired;
// the error is surfaced, not retried, and a rerun of Repair continues from
// the new state.
func (s *Syncer) Repair(dryRun bool) (SyncStatus, error) {
	status, err := s.VerifySync()
	if err != nil {
		return SyncStatus{}, err
	}
	if status.State == StateInSync || dryRun {
		return status, nil
	}

	if n := len(status.DBOnlyTransactions); n > 0 {
		version, err := s.engine.Version()
		if err != nil {
			return status, err
		}
		s.logger.Info("rolling back database-only transactions",
			zap.Int("count", n),
			zap.Int64("from", version.ID))
		if err := s.engine.Rollback(n, version.ID); err != nil {
			return status, fmt.Errorf("syncer: repair rollback: %w", err)
		}
	}

	if len(status.LogOnlyTransactions) > 0 {
		s.logger.Info("applying journal-only transactions",
			zap.Int("count", len(status.LogOnlyTransactions)))
		if err := s.ApplyTransactions(status.LogOnlyTransactions); err != nil {
			return status, err
		}
	}
	return status, nil
}

// ApplyTransactions applies txs sequentially, aborting on the first failure.
// Transactions already applied stay committed; atomicity is per transaction
// only.
func (s *Syncer) ApplyTransactions(txs []journal.Transaction) error {
	for _, tx := range txs {
		if err := s.engine.Apply(tx); err != nil {
			return fmt.Errorf("syncer: apply transaction %d: %w", tx.ID, err)
		}
	}
	return nil
}

// zapJournalLogger adapts the structured logger onto the journal package's
// narrow logging interface.
type zapJournalLogger struct {
	logger *zap.Logger
}

func (l zapJournalLogger) Log(level, msg string, fields map[string]any) {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	switch level {
	case "warn":
		l.logger.Warn(msg, zapFields...)
	case "error":
		l.logger.Error(msg, zapFields...)
	default:
		l.logger.Info(msg, zapFields...)
	}
}
