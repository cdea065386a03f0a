package graph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orneryd/skuld/pkg/journal"
)

// Key encoding
// ============================================================================

const (
	prefixTx     byte = 0x01 // prefixTx + big-endian-sortable id -> transaction
	prefixUndo   byte = 0x02 // prefixUndo + id -> before-image
	prefixNode   byte = 0x03 // prefixNode + entity id -> field map
	prefixConfig byte = 0x04 // prefixConfig + entity id -> field map
)

var versionKey = []byte("meta:version")

func txKey(id int64) []byte {
	return []byte(fmt.Sprintf("%c%020d", prefixTx, id))
}

func undoKey(id int64) []byte {
	return []byte(fmt.Sprintf("%c%020d", prefixUndo, id))
}

func entityKey(prefix byte, id string) []byte {
	return append([]byte{prefix}, []byte(id)...)
}

// BadgerEngine is the persistent reference Engine: the projection lives in a
// Badger store with msgpack-serialized values. Transactions, their
// before-images, the entity field maps, and the version record all share one
// store so Apply and Rollback are single Badger transactions.
type BadgerEngine struct {
	db    *badger.DB
	canon journal.Canonicalizer
	hooks Hooks
}

// OpenBadgerEngine opens (or creates) the projection store at dir.
func OpenBadgerEngine(dir string, canon journal.Canonicalizer) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("graph: open badger store at %s: %w", dir, err)
	}
	return &BadgerEngine{db: db, canon: canon}, nil
}

// Close releases the underlying store.
func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

// SetHooks installs commit hooks (two-phase construction).
func (e *BadgerEngine) SetHooks(hooks Hooks) {
	e.hooks = hooks
}

// Version returns the projection's current position.
func (e *BadgerEngine) Version() (journal.GraphVersion, error) {
	var version journal.GraphVersion
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		version, err = readVersion(txn)
		return err
	})
	if err != nil {
		return journal.GraphVersion{}, err
	}
	return version, nil
}

func readVersion(txn *badger.Txn) (journal.GraphVersion, error) {
	item, err := txn.Get(versionKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return journal.GenesisVersion(), nil
	}
	if err != nil {
		return journal.GraphVersion{}, fmt.Errorf("graph: read version: %w", err)
	}
	var version journal.GraphVersion
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &version)
	}); err != nil {
		return journal.GraphVersion{}, fmt.Errorf("graph: decode version: %w", err)
	}
	return version, nil
}

// FetchTransaction returns the applied transaction with the given id.
func (e *BadgerEngine) FetchTransaction(id int64) (journal.Transaction, error) {
	var tx journal.Transaction
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: id %d", ErrTransactionNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("graph: read transaction %d: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &tx)
		})
	})
	if err != nil {
		return journal.Transaction{}, err
	}
	return tx, nil
}

// Apply commits tx to the projection after validating chain linkage and
// running the pre-commit hook.
func (e *BadgerEngine) Apply(tx journal.Transaction) error {
	cur, err := e.Version()
	if err != nil {
		return err
	}
	if err := validateLinkage(cur, tx); err != nil {
		return err
	}
	// Durability first: the journal records the transaction before the
	// projection mutation is considered final.
	if e.hooks.PreCommit != nil {
		if err := e.hooks.PreCommit(tx); err != nil {
			return fmt.Errorf("graph: pre-commit hook for transaction %d: %w", tx.ID, err)
		}
	}

	err = e.db.Update(func(txn *badger.Txn) error {
		undo := beforeImage{
			Nodes:          make(map[string]entitySnapshot, len(tx.Nodes)),
			Configurations: make(map[string]entitySnapshot, len(tx.Configurations)),
		}
		if err := snapshotBadgerEntities(txn, prefixNode, tx.Nodes, undo.Nodes); err != nil {
			return err
		}
		if err := snapshotBadgerEntities(txn, prefixConfig, tx.Configurations, undo.Configurations); err != nil {
			return err
		}

		if err := applyBadgerChangeSet(txn, prefixNode, tx.Nodes); err != nil {
			return err
		}
		if err := applyBadgerChangeSet(txn, prefixConfig, tx.Configurations); err != nil {
			return err
		}

		if err := setMsgpack(txn, txKey(tx.ID), tx); err != nil {
			return err
		}
		if err := setMsgpack(txn, undoKey(tx.ID), undo); err != nil {
			return err
		}
		version := journal.GraphVersion{ID: tx.ID, Hash: tx.Hash, UpdatedAt: time.Now().UTC()}
		return setMsgpack(txn, versionKey, version)
	})
	if err != nil {
		return fmt.Errorf("graph: apply transaction %d: %w", tx.ID, err)
	}

	runPostCommit(e.hooks, tx)
	return nil
}

// Rollback reverts the n most recent transactions using their before-images.
func (e *BadgerEngine) Rollback(n int, fromID int64) error {
	cur, err := e.Version()
	if err != nil {
		return err
	}
	if fromID != cur.ID {
		return fmt.Errorf("%w: rollback from %d, current version %d", ErrRollbackRange, fromID, cur.ID)
	}
	if n <= 0 || int64(n) > cur.ID {
		return fmt.Errorf("%w: cannot roll back %d of %d transactions", ErrRollbackRange, n, cur.ID)
	}

	err = e.db.Update(func(txn *badger.Txn) error {
		for id := fromID; id > fromID-int64(n); id-- {
			var undo beforeImage
			item, err := txn.Get(undoKey(id))
			if err != nil {
				return fmt.Errorf("graph: missing before-image for transaction %d: %w", id, err)
			}
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &undo)
			}); err != nil {
				return fmt.Errorf("graph: decode before-image %d: %w", id, err)
			}

			if err := restoreBadgerEntities(txn, prefixNode, undo.Nodes); err != nil {
				return err
			}
			if err := restoreBadgerEntities(txn, prefixConfig, undo.Configurations); err != nil {
				return err
			}
			if err := txn.Delete(txKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(undoKey(id)); err != nil {
				return err
			}
		}

		newID := fromID - int64(n)
		version := journal.GenesisVersion()
		if newID > journal.GenesisID {
			item, err := txn.Get(txKey(newID))
			if err != nil {
				return fmt.Errorf("graph: missing transaction %d after rollback: %w", newID, err)
			}
			var tip journal.Transaction
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &tip)
			}); err != nil {
				return fmt.Errorf("graph: decode transaction %d: %w", newID, err)
			}
			version = journal.GraphVersion{ID: tip.ID, Hash: tip.Hash}
		}
		version.UpdatedAt = time.Now().UTC()
		return setMsgpack(txn, versionKey, version)
	})
	if err != nil {
		return fmt.Errorf("graph: rollback %d from %d: %w", n, fromID, err)
	}
	return nil
}

// Update mints, links, and applies a new transaction from input.
func (e *BadgerEngine) Update(input UpdateInput) (journal.Transaction, error) {
	cur, err := e.Version()
	if err != nil {
		return journal.Transaction{}, err
	}
	tx := journal.Transaction{
		Author:         input.Author,
		CreatedAt:      time.Now().UTC(),
		Nodes:          input.Nodes,
		Configurations: input.Configurations,
	}
	tx, err = journal.WithHash(e.canon, tx, cur.ID+1, cur.Hash)
	if err != nil {
		return journal.Transaction{}, err
	}
	if err := e.Apply(tx); err != nil {
		return journal.Transaction{}, err
	}
	return tx, nil
}

// Node returns a copy of a projected node's fields, if present.
func (e *BadgerEngine) Node(id string) (journal.FieldChanges, bool, error) {
	var fields journal.FieldChanges
	found := false
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(prefixNode, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &fields)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("graph: read node %s: %w", id, err)
	}
	return fields, found, nil
}

// Transactions returns every applied transaction in ascending id order.
// Used by consistency tooling; the projection itself never needs this scan.
func (e *BadgerEngine) Transactions() ([]journal.Transaction, error) {
	var txs []journal.Transaction
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixTx}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var tx journal.Transaction
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &tx)
			}); err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: scan transactions: %w", err)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	return txs, nil
}

func setMsgpack(txn *badger.Txn, key []byte, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("graph: serialize %q: %w", key, err)
	}
	return txn.Set(key, data)
}

func snapshotBadgerEntities(txn *badger.Txn, prefix byte, changes journal.ChangeSet, out map[string]entitySnapshot) error {
	for entityID := range changes {
		item, err := txn.Get(entityKey(prefix, entityID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			out[entityID] = entitySnapshot{Existed: false}
			continue
		}
		if err != nil {
			return fmt.Errorf("graph: snapshot entity %s: %w", entityID, err)
		}
		var fields journal.FieldChanges
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &fields)
		}); err != nil {
			return fmt.Errorf("graph: decode entity %s: %w", entityID, err)
		}
		out[entityID] = entitySnapshot{Existed: true, Fields: fields}
	}
	return nil
}

func applyBadgerChangeSet(txn *badger.Txn, prefix byte, changes journal.ChangeSet) error {
	for entityID, updates := range changes {
		fields := journal.FieldChanges{}
		item, err := txn.Get(entityKey(prefix, entityID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &fields)
			}); err != nil {
				return fmt.Errorf("graph: decode entity %s: %w", entityID, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("graph: read entity %s: %w", entityID, err)
		}

		for field, value := range updates {
			if value == nil {
				delete(fields, field)
				continue
			}
			fields[field] = value
		}
		if err := setMsgpack(txn, entityKey(prefix, entityID), fields); err != nil {
			return err
		}
	}
	return nil
}

func restoreBadgerEntities(txn *badger.Txn, prefix byte, snaps map[string]entitySnapshot) error {
	for entityID, snap := range snaps {
		if !snap.Existed {
			if err := txn.Delete(entityKey(prefix, entityID)); err != nil {
				return fmt.Errorf("graph: delete entity %s: %w", entityID, err)
			}
			continue
		}
		if err := setMsgpack(txn, entityKey(prefix, entityID), snap.Fields); err != nil {
			return err
		}
	}
	return nil
}
