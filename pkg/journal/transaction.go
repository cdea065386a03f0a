// Package journal implements Skuld's append-only, hash-chained transaction
// journal: a newline-delimited JSON file holding one transaction per line,
// ordered by ascending id.
//
// The journal is the durability anchor of the knowledge-graph store. Every
// accepted change is recorded here before the database projection considers
// it final, so the file supports:
//   - Append-only writes (one JSON line per transaction)
//   - Chunked forward/backward scanning without loading the file into memory
//   - Byte-accurate tail truncation (undo)
//   - Full rewrite-with-backup (rehash, disaster recovery)
//   - Hash-chain verification against a canonical hashing function
//
// The file is never mutated in place except by truncation at a precomputed
// byte offset.
package journal

import "time"

// GenesisHash is the conceptual predecessor hash of the first transaction.
// A GraphVersion carrying this hash denotes an empty projection.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisID is the version id of an empty store. Real transactions start at 1.
const GenesisID int64 = 0

// FieldChanges maps field names to their new values within one entity.
// The journal passes these through verbatim; interpretation belongs to the
// graph engine.
type FieldChanges map[string]any

// ChangeSet maps entity ids to per-field changes.
type ChangeSet map[string]FieldChanges

// Transaction is one immutable entry of the journal.
//
// The JSON field names are the wire contract: each journal line is exactly the
// JSON serialization of this struct and must round-trip losslessly.
type Transaction struct {
	ID             int64     `json:"id"`
	Hash           string    `json:"hash"`
	Previous       string    `json:"previous"`
	Author         string    `json:"author"`
	CreatedAt      time.Time `json:"createdAt"`
	Nodes          ChangeSet `json:"nodes"`
	Configurations ChangeSet `json:"configurations"`
}

// GraphVersion is the database projection's current position: always the
// latest applied transaction, or the genesis sentinel when nothing has been
// applied yet.
type GraphVersion struct {
	ID        int64     `json:"id"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GenesisVersion returns the version of an empty projection.
func GenesisVersion() GraphVersion {
	return GraphVersion{ID: GenesisID, Hash: GenesisHash}
}

// IsGenesis reports whether v denotes an empty projection.
func (v GraphVersion) IsGenesis() bool {
	return v.ID == GenesisID
}
