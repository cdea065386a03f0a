// Package mcp exposes Skuld's consistency operations as an MCP (Model
// Context Protocol) tool surface over stdio, so agent runtimes can verify
// and repair a workspace without shelling out to the CLI.
//
// Tool surface:
//   - verify: hash-chain check of the journal (optionally recomputing hashes)
//   - sync_status: journal vs. database divergence report
//   - repair: bring the database to the journal's tip (supports dry-run)
//   - undo / redo: step history backward or forward
//   - squash: merge the n most recent transactions into one
//   - rehash: rebuild the whole chain from genesis (disaster recovery)
//
// Write-path tools take the workspace write lock for the duration of the
// call; verify and sync_status run lock-free.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/orneryd/skuld/pkg/journal"
	"github.com/orneryd/skuld/pkg/lock"
	"github.com/orneryd/skuld/pkg/syncer"
)

// Version is reported in the MCP handshake.
const Version = "1.0.0"

// Server wires the syncer to an MCP stdio server.
type Server struct {
	sync    *syncer.Syncer
	lockDir string
	logger  *zap.Logger
	mcp     *server.MCPServer
}

// NewServer builds the tool surface for one workspace. lockDir is the
// workspace metadata directory guarding the write path.
func NewServer(sync *syncer.Syncer, lockDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sync:    sync,
		lockDir: lockDir,
		logger:  logger,
		mcp: server.NewMCPServer("skuld", Version,
			server.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

// ServeStdio runs the MCP protocol on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// addTool registers a handler wrapped with per-request logging. Each call
// gets a request id so interleaved tool calls can be told apart in the logs.
func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	name := tool.Name
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := uuid.NewString()
		s.logger.Debug("tool call",
			zap.String("tool", name),
			zap.String("request", requestID))
		result, err := handler(ctx, req)
		if err != nil {
			s.logger.Warn("tool call failed",
				zap.String("tool", name),
				zap.String("request", requestID),
				zap.Error(err))
		}
		return result, err
	})
}

func (s *Server) registerTools() {
	s.addTool(mcp.NewTool("verify",
		mcp.WithDescription("Verify the transaction journal's hash chain from genesis. "+
			"Returns the number of valid transactions."),
		mcp.WithBoolean("integrity",
			mcp.Description("Also recompute each transaction's canonical hash")),
	), s.handleVerify)

	s.addTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Compare the journal against the database projection and report "+
			"divergence: last synced id, database-only and journal-only transactions."),
	), s.handleSyncStatus)

	s.addTool(mcp.NewTool("repair",
		mcp.WithDescription("Bring the database projection exactly to the journal's tip by "+
			"rolling back database-only transactions and applying journal-only ones."),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report the repair plan without mutating anything")),
	), s.handleRepair)

	s.addTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the most recent transactions. They are moved to the undo "+
			"journal and can be redone until the next forward commit."),
		mcp.WithNumber("steps",
			mcp.Description("Number of transactions to undo (default 1)")),
	), s.handleUndo)

	s.addTool(mcp.NewTool("redo",
		mcp.WithDescription("Replay the most recently undone transactions in their original order."),
		mcp.WithNumber("steps",
			mcp.Description("Number of transactions to redo (default 1)")),
	), s.handleRedo)

	s.addTool(mcp.NewTool("squash",
		mcp.WithDescription("Merge the n most recent transactions into one, shortening history "+
			"without changing the projection's content."),
		mcp.WithNumber("count",
			mcp.Required(),
			mcp.Description("Number of trailing transactions to merge (minimum 2)")),
	), s.handleSquash)

	s.addTool(mcp.NewTool("rehash",
		mcp.WithDescription("Rebuild the journal's entire hash chain from genesis after backing "+
			"up the current file. Disaster recovery only."),
	), s.handleRehash)
}

func (s *Server) handleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	integrity := boolArg(req, "integrity", false)
	count, err := s.sync.VerifyChain(integrity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("verify failed: %v (run repair or rehash to recover)", err)), nil
	}
	return jsonResult(map[string]any{
		"valid":              true,
		"transactions":       count,
		"integrity_verified": integrity,
	})
}

func (s *Server) handleSyncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.sync.VerifySync()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(statusPayload(status))
}

func (s *Server) handleRepair(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dryRun := boolArg(req, "dry_run", false)

	var status syncer.SyncStatus
	run := func() error {
		var err error
		status, err = s.sync.Repair(dryRun)
		return err
	}
	var err error
	if dryRun {
		err = run()
	} else {
		err = lock.WithLock(s.lockDir, run)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := statusPayload(status)
	payload["dry_run"] = dryRun
	return jsonResult(payload)
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	steps := intArg(req, "steps", 1)
	var undone []int64
	err := lock.WithLock(s.lockDir, func() error {
		txs, err := s.sync.Undo(steps)
		if err != nil {
			return err
		}
		undone = txIDs(txs)
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"undone": undone})
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	steps := intArg(req, "steps", 1)
	var redone []int64
	err := lock.WithLock(s.lockDir, func() error {
		txs, err := s.sync.Redo(steps)
		if err != nil {
			return err
		}
		redone = txIDs(txs)
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"redone": redone})
}

func (s *Server) handleSquash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := intArg(req, "count", 0)
	var mergedID int64
	var mergedHash string
	err := lock.WithLock(s.lockDir, func() error {
		merged, err := s.sync.Squash(count)
		if err != nil {
			return err
		}
		mergedID, mergedHash = merged.ID, merged.Hash
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"merged_id":   mergedID,
		"merged_hash": mergedHash,
		"squashed":    count,
	})
}

func (s *Server) handleRehash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var result map[string]any
	err := lock.WithLock(s.lockDir, func() error {
		res, err := s.sync.Rehash()
		if err != nil {
			if res.BackupPath != "" {
				return fmt.Errorf("%w (restore from %s if the journal is incomplete)", err, res.BackupPath)
			}
			return err
		}
		result = map[string]any{
			"rehashed": res.Count,
			"backup":   res.BackupPath,
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func statusPayload(status syncer.SyncStatus) map[string]any {
	return map[string]any{
		"state":          string(status.State),
		"last_synced_id": status.LastSyncedID,
		"db_only":        txIDs(status.DBOnlyTransactions),
		"log_only":       txIDs(status.LogOnlyTransactions),
	}
}

func txIDs(txs []journal.Transaction) []int64 {
	ids := make([]int64, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return ids
}

func jsonResult(payload map[string]any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func boolArg(req mcp.CallToolRequest, name string, fallback bool) bool {
	if v, ok := req.GetArguments()[name].(bool); ok {
		return v
	}
	return fallback
}

func intArg(req mcp.CallToolRequest, name string, fallback int) int {
	if v, ok := req.GetArguments()[name].(float64); ok {
		return int(v)
	}
	return fallback
}
