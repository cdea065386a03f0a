package graph

import (
	"fmt"

	"github.com/orneryd/skuld/pkg/journal"
)

// MergeTransactions folds an ascending run of transactions into a single
// transaction with the same net effect: per entity, field changes are applied
// in order with later transactions winning. Squash uses this to compact
// history without changing what the projection ends up containing.
//
// The result carries the last transaction's author and timestamp and has no
// id, hash, or previous: the caller re-links it at its final chain position.
func MergeTransactions(txs []journal.Transaction) (journal.Transaction, error) {
	if len(txs) == 0 {
		return journal.Transaction{}, fmt.Errorf("graph: merge requires at least one transaction")
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].ID != txs[i-1].ID+1 {
			return journal.Transaction{}, fmt.Errorf(
				"graph: merge requires contiguous transactions, got id %d after %d",
				txs[i].ID, txs[i-1].ID)
		}
	}

	last := txs[len(txs)-1]
	merged := journal.Transaction{
		Author:         last.Author,
		CreatedAt:      last.CreatedAt,
		Nodes:          journal.ChangeSet{},
		Configurations: journal.ChangeSet{},
	}
	for _, tx := range txs {
		mergeChangeSet(merged.Nodes, tx.Nodes)
		mergeChangeSet(merged.Configurations, tx.Configurations)
	}
	return merged, nil
}

func mergeChangeSet(dst, src journal.ChangeSet) {
	for entityID, fields := range src {
		existing, ok := dst[entityID]
		if !ok {
			existing = journal.FieldChanges{}
			dst[entityID] = existing
		}
		for field, value := range fields {
			existing[field] = value
		}
	}
}
