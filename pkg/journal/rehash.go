package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RehashResult reports the outcome of a full journal rewrite.
type RehashResult struct {
	Count      int
	BackupPath string
}

// Rehash rebuilds the entire hash chain from genesis. It exists for hash
// algorithm migration and for recovery from detected corruption; normal
// operation never rewrites the journal.
//
// The live journal is first renamed to a timestamped *.bac backup so no data
// is ever destroyed. The backup is then replayed from genesis: each
// transaction's previous and hash are recomputed with canon and the rewritten
// entry is appended to the live path before the next one is processed.
//
// A failure partway through leaves the backup intact and the live file
// partially rewritten. Callers must treat that as fatal and instruct the
// operator to restore from the backup; Rehash performs no rollback of its own.
func Rehash(path string, canon Canonicalizer, logger Logger) (RehashResult, error) {
	if logger == nil {
		logger = defaultLogger{}
	}

	if _, err := os.Stat(path); err != nil {
		return RehashResult{}, fmt.Errorf("journal: stat %s: %w", path, err)
	}

	backupPath := backupPathFor(path, time.Now())
	if err := os.Rename(path, backupPath); err != nil {
		return RehashResult{}, fmt.Errorf("journal: back up %s to %s: %w", path, backupPath, err)
	}
	logger.Log("info", "journal backed up for rehash", map[string]any{
		"path":   path,
		"backup": backupPath,
	})

	file, err := os.Open(backupPath)
	if err != nil {
		return RehashResult{BackupPath: backupPath},
			fmt.Errorf("journal: open backup %s: %w", backupPath, err)
	}
	defer file.Close()

	scanner := newForwardScanner(file)
	running := GenesisHash
	count := 0
	var id int64
	for {
		line, ok, err := scanner.Next()
		if err != nil {
			return RehashResult{Count: count, BackupPath: backupPath},
				fmt.Errorf("journal: read backup %s: %w", backupPath, err)
		}
		if !ok {
			break
		}

		tx, err := parseLine(backupPath, line)
		if err != nil {
			return RehashResult{Count: count, BackupPath: backupPath}, err
		}

		id++
		rehashed, err := WithHash(canon, tx, id, running)
		if err != nil {
			return RehashResult{Count: count, BackupPath: backupPath},
				fmt.Errorf("journal: rehash transaction %d: %w", id, err)
		}
		if err := Append(path, rehashed); err != nil {
			return RehashResult{Count: count, BackupPath: backupPath}, err
		}

		running = rehashed.Hash
		count++
	}

	logger.Log("info", "journal rehashed", map[string]any{
		"path":   path,
		"count":  count,
		"backup": backupPath,
	})
	return RehashResult{Count: count, BackupPath: backupPath}, nil
}

// backupPathFor derives the timestamped backup name for a journal file:
// transactions.jsonl becomes transactions-20060102-150405.jsonl.bac.
func backupPathFor(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	stamp := now.Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s.bac", name, stamp, ext))
}
