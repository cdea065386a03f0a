package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/skuld/pkg/journal"
)

// entitySnapshot is the before-image of one entity touched by a transaction:
// either its full prior field map, or the fact that it did not exist.
type entitySnapshot struct {
	Existed bool
	Fields  journal.FieldChanges
}

// beforeImage captures everything a transaction changed, keyed by entity id,
// so rollback can restore the prior projection state without replaying
// history from genesis.
type beforeImage struct {
	Nodes          map[string]entitySnapshot
	Configurations map[string]entitySnapshot
}

// MemoryEngine is an in-memory Engine used by tests and by recovery tooling
// that needs a projection without opening the persistent store.
type MemoryEngine struct {
	mu    sync.Mutex
	canon journal.Canonicalizer
	hooks Hooks

	version journal.GraphVersion
	txs     map[int64]journal.Transaction
	undos   map[int64]beforeImage

	nodes   map[string]journal.FieldChanges
	configs map[string]journal.FieldChanges
}

// NewMemoryEngine creates an empty in-memory projection at genesis.
func NewMemoryEngine(canon journal.Canonicalizer) *MemoryEngine {
	return &MemoryEngine{
		canon:   canon,
		version: journal.GenesisVersion(),
		txs:     make(map[int64]journal.Transaction),
		undos:   make(map[int64]beforeImage),
		nodes:   make(map[string]journal.FieldChanges),
		configs: make(map[string]journal.FieldChanges),
	}
}

// SetHooks installs commit hooks (two-phase construction).
func (e *MemoryEngine) SetHooks(hooks Hooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = hooks
}

// Apply commits tx to the projection after validating chain linkage and
// running the pre-commit hook.
func (e *MemoryEngine) Apply(tx journal.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateLinkage(e.version, tx); err != nil {
		return err
	}
	// Durability first: the journal records the transaction before the
	// projection mutation is considered final.
	if e.hooks.PreCommit != nil {
		if err := e.hooks.PreCommit(tx); err != nil {
			return fmt.Errorf("graph: pre-commit hook for transaction %d: %w", tx.ID, err)
		}
	}

	undo := beforeImage{
		Nodes:          snapshotEntities(e.nodes, tx.Nodes),
		Configurations: snapshotEntities(e.configs, tx.Configurations),
	}
	applyChangeSet(e.nodes, tx.Nodes)
	applyChangeSet(e.configs, tx.Configurations)

	e.txs[tx.ID] = tx
	e.undos[tx.ID] = undo
	e.version = journal.GraphVersion{ID: tx.ID, Hash: tx.Hash, UpdatedAt: time.Now().UTC()}

	runPostCommit(e.hooks, tx)
	return nil
}

// Rollback reverts the n most recent transactions using their before-images.
func (e *MemoryEngine) Rollback(n int, fromID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fromID != e.version.ID {
		return fmt.Errorf("%w: rollback from %d, current version %d", ErrRollbackRange, fromID, e.version.ID)
	}
	if n <= 0 || int64(n) > e.version.ID {
		return fmt.Errorf("%w: cannot roll back %d of %d transactions", ErrRollbackRange, n, e.version.ID)
	}

	for id := fromID; id > fromID-int64(n); id-- {
		undo, ok := e.undos[id]
		if !ok {
			return fmt.Errorf("graph: missing before-image for transaction %d", id)
		}
		restoreEntities(e.nodes, undo.Nodes)
		restoreEntities(e.configs, undo.Configurations)
		delete(e.txs, id)
		delete(e.undos, id)
	}

	newID := fromID - int64(n)
	if newID == journal.GenesisID {
		e.version = journal.GenesisVersion()
		e.version.UpdatedAt = time.Now().UTC()
		return nil
	}
	tip, ok := e.txs[newID]
	if !ok {
		return fmt.Errorf("graph: missing transaction %d after rollback", newID)
	}
	e.version = journal.GraphVersion{ID: tip.ID, Hash: tip.Hash, UpdatedAt: time.Now().UTC()}
	return nil
}

// FetchTransaction returns the applied transaction with the given id.
func (e *MemoryEngine) FetchTransaction(id int64) (journal.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, ok := e.txs[id]
	if !ok {
		return journal.Transaction{}, fmt.Errorf("%w: id %d", ErrTransactionNotFound, id)
	}
	return tx, nil
}

// Version returns the projection's current position.
func (e *MemoryEngine) Version() (journal.GraphVersion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, nil
}

// Update mints, links, and applies a new transaction from input.
func (e *MemoryEngine) Update(input UpdateInput) (journal.Transaction, error) {
	e.mu.Lock()
	cur := e.version
	e.mu.Unlock()

	tx := journal.Transaction{
		Author:         input.Author,
		CreatedAt:      time.Now().UTC(),
		Nodes:          input.Nodes,
		Configurations: input.Configurations,
	}
	tx, err := journal.WithHash(e.canon, tx, cur.ID+1, cur.Hash)
	if err != nil {
		return journal.Transaction{}, err
	}
	if err := e.Apply(tx); err != nil {
		return journal.Transaction{}, err
	}
	return tx, nil
}

// Node returns a copy of a projected node's fields, if present.
func (e *MemoryEngine) Node(id string) (journal.FieldChanges, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fields, ok := e.nodes[id]
	if !ok {
		return nil, false
	}
	return copyFields(fields), true
}

func snapshotEntities(state map[string]journal.FieldChanges, changes journal.ChangeSet) map[string]entitySnapshot {
	snaps := make(map[string]entitySnapshot, len(changes))
	for entityID := range changes {
		prior, existed := state[entityID]
		snap := entitySnapshot{Existed: existed}
		if existed {
			snap.Fields = copyFields(prior)
		}
		snaps[entityID] = snap
	}
	return snaps
}

// applyChangeSet merges field changes into the projection. A nil field value
// removes the field.
func applyChangeSet(state map[string]journal.FieldChanges, changes journal.ChangeSet) {
	for entityID, fields := range changes {
		entity, ok := state[entityID]
		if !ok {
			entity = journal.FieldChanges{}
			state[entityID] = entity
		}
		for field, value := range fields {
			if value == nil {
				delete(entity, field)
				continue
			}
			entity[field] = value
		}
	}
}

func restoreEntities(state map[string]journal.FieldChanges, snaps map[string]entitySnapshot) {
	for entityID, snap := range snaps {
		if !snap.Existed {
			delete(state, entityID)
			continue
		}
		state[entityID] = copyFields(snap.Fields)
	}
}

func copyFields(fields journal.FieldChanges) journal.FieldChanges {
	out := make(journal.FieldChanges, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
