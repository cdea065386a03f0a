package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonicalizer produces the deterministic, schema-aware serialization of a
// transaction that is used as hashing input. Equivalent data must always
// canonicalize identically regardless of map iteration order or the source
// the transaction was decoded from.
//
// The stored hash and the journal line ordering are NOT part of the
// canonical form; only the content fields and the previous-hash linkage are.
type Canonicalizer interface {
	CanonicalTransaction(tx Transaction) ([]byte, error)
}

// SHA256Canonicalizer is the default canonicalizer: sorted-key canonical JSON
// over the hash-relevant transaction fields, with NFC-normalized strings and
// no HTML escaping.
type SHA256Canonicalizer struct{}

// NewCanonicalizer returns the default SHA-256 canonicalizer.
func NewCanonicalizer() SHA256Canonicalizer { return SHA256Canonicalizer{} }

// CanonicalTransaction serializes tx into its canonical byte form.
func (SHA256Canonicalizer) CanonicalTransaction(tx Transaction) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"author":`)
	if err := writeCanonicalValue(&buf, tx.Author); err != nil {
		return nil, fmt.Errorf("journal: canonicalize author: %w", err)
	}

	buf.WriteString(`,"configurations":`)
	if err := writeCanonicalChangeSet(&buf, tx.Configurations); err != nil {
		return nil, fmt.Errorf("journal: canonicalize configurations: %w", err)
	}

	buf.WriteString(`,"createdAt":`)
	if err := writeCanonicalValue(&buf, tx.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("journal: canonicalize createdAt: %w", err)
	}

	fmt.Fprintf(&buf, `,"id":%d`, tx.ID)

	buf.WriteString(`,"nodes":`)
	if err := writeCanonicalChangeSet(&buf, tx.Nodes); err != nil {
		return nil, fmt.Errorf("journal: canonicalize nodes: %w", err)
	}

	buf.WriteString(`,"previous":`)
	if err := writeCanonicalValue(&buf, tx.Previous); err != nil {
		return nil, fmt.Errorf("journal: canonicalize previous: %w", err)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// HashTransaction computes the hex SHA-256 digest of tx's canonical form.
func HashTransaction(canon Canonicalizer, tx Transaction) (string, error) {
	data, err := canon.CanonicalTransaction(tx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WithHash returns a copy of tx re-linked at the given id and previous hash,
// with its content hash recomputed. Used by rehash and by engines minting new
// transactions.
func WithHash(canon Canonicalizer, tx Transaction, id int64, previous string) (Transaction, error) {
	tx.ID = id
	tx.Previous = previous
	hash, err := HashTransaction(canon, tx)
	if err != nil {
		return Transaction{}, err
	}
	tx.Hash = hash
	return tx, nil
}

func writeCanonicalChangeSet(buf *bytes.Buffer, cs ChangeSet) error {
	if cs == nil {
		buf.WriteString("{}")
		return nil
	}
	m := make(map[string]any, len(cs))
	for k, v := range cs {
		fields := make(map[string]any, len(v))
		for fk, fv := range v {
			fields[fk] = fv
		}
		m[k] = fields
	}
	return writeCanonicalValue(buf, m)
}

// writeCanonicalValue writes v as canonical JSON: object keys sorted
// bytewise, strings NFC-normalized, no HTML escaping, scalars via the stdlib
// encoder (which is deterministic for numbers and bools).
func writeCanonicalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case string:
		return writeCanonicalString(buf, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonicalValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// Scalars (numbers, bools) and any remaining structured values fall
		// through to the stdlib encoder without HTML escaping.
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return err
		}
		// Encode appends a newline; canonical form has none.
		buf.Truncate(buf.Len() - 1)
		return nil
	}
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
