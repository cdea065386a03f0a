package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func parseLine(path string, line scannedLine) (Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal([]byte(line.text), &tx); err != nil {
		return Transaction{}, &ParseError{Path: path, Line: line.number, Offset: line.offset, Err: err}
	}
	return tx, nil
}

// Append serializes tx to one JSON line and appends it to the journal at
// path, creating the file (and its directory) if needed. The write is synced
// before returning so the transaction is durable the instant Append succeeds.
func Append(path string, tx Transaction) error {
	line, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("journal: serialize transaction %d: %w", tx.ID, err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("journal: create directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("journal: open %s for append: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("journal: append to %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("journal: sync %s: %w", path, err)
	}
	return nil
}

// ReadLast returns up to n trailing transactions from the journal,
// oldest-first. The file is scanned backward in chunks, so only the requested
// tail is ever parsed. A missing file yields an empty result, not an error.
func ReadLast(path string, n int) ([]Transaction, error) {
	if n <= 0 {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer file.Close()

	scanner, err := newBackwardScanner(file)
	if err != nil {
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}

	// Collected newest-first, reversed before returning.
	collected := make([]Transaction, 0, n)
	for len(collected) < n {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, fmt.Errorf("journal: read %s: %w", path, err)
		}
		if !ok {
			break
		}
		tx, err := parseLine(path, line)
		if err != nil {
			return nil, err
		}
		collected = append(collected, tx)
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// ReadAll returns every transaction in the journal in file order.
func ReadAll(path string) ([]Transaction, error) {
	return ReadRange(path, 0, 0)
}

// ReadRange returns transactions with id in [fromID, toID], in file order.
// A zero bound is open: fromID 0 starts at the beginning, toID 0 reads to the
// end. Scanning stops as soon as an entry's id exceeds toID, so a bounded
// range never scans the whole file.
func ReadRange(path string, fromID, toID int64) ([]Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := newForwardScanner(file)
	var txs []Transaction
	for {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, fmt.Errorf("journal: read %s: %w", path, err)
		}
		if !ok {
			break
		}
		tx, err := parseLine(path, line)
		if err != nil {
			return nil, err
		}
		if toID > 0 && tx.ID > toID {
			break
		}
		if tx.ID < fromID {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// RemoveLast truncates the last n transactions off the journal at their
// exact byte boundary. The untouched prefix is never rewritten. Returns
// ErrInvalidCount if the journal holds fewer than n transactions, leaving
// the file unchanged.
func RemoveLast(path string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: journal %s holds 0 transactions, cannot remove %d",
				ErrInvalidCount, path, n)
		}
		return fmt.Errorf("journal: open %s: %w", path, err)
	}

	scanner, err := newBackwardScanner(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("journal: stat %s: %w", path, err)
	}

	// Walk backward tracking the byte offset immediately preceding each
	// line; the n-th line from the end marks the truncation point.
	var truncateAt int64 = -1
	seen := 0
	for seen < n {
		line, ok, err := scanner.Next()
		if err != nil {
			file.Close()
			return fmt.Errorf("journal: read %s: %w", path, err)
		}
		if !ok {
			break
		}
		seen++
		truncateAt = line.offset
	}
	file.Close()

	if seen < n {
		return fmt.Errorf("%w: journal %s holds %d transactions, cannot remove %d",
			ErrInvalidCount, path, seen, n)
	}

	if err := os.Truncate(path, truncateAt); err != nil {
		return fmt.Errorf("journal: truncate %s at offset %d: %w", path, truncateAt, err)
	}
	return nil
}

// Clear empties the journal. A missing file is a no-op success; Clear never
// creates files.
func Clear(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: stat %s: %w", path, err)
	}
	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("journal: clear %s: %w", path, err)
	}
	return nil
}
