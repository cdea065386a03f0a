package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/orneryd/skuld/pkg/graph"
	"github.com/orneryd/skuld/pkg/journal"
	"github.com/orneryd/skuld/pkg/lock"
	"github.com/orneryd/skuld/pkg/mcp"
)

func newVerifyCmd() *cobra.Command {
	var integrity bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal's hash chain from genesis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			count, err := ws.sync.VerifyChain(integrity)
			if err != nil {
				return fmt.Errorf("%w\nrun 'skuld repair' or 'skuld rehash' to recover", err)
			}
			fmt.Printf("chain valid: %d transactions\n", count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&integrity, "integrity", false, "also recompute each transaction's canonical hash")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report journal/database sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			status, err := ws.sync.VerifySync()
			if err != nil {
				return err
			}
			fmt.Printf("state:        %s\n", status.State)
			fmt.Printf("last synced:  %d\n", status.LastSyncedID)
			fmt.Printf("db only:      %d transactions\n", len(status.DBOnlyTransactions))
			fmt.Printf("log only:     %d transactions\n", len(status.LogOnlyTransactions))
			return nil
		},
	}
}

func newRepairCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Bring the database exactly to the journal's tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			run := func() error {
				status, err := ws.sync.Repair(dryRun)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Printf("would roll back %d and apply %d transactions\n",
						len(status.DBOnlyTransactions), len(status.LogOnlyTransactions))
				} else {
					fmt.Printf("rolled back %d, applied %d transactions\n",
						len(status.DBOnlyTransactions), len(status.LogOnlyTransactions))
				}
				return nil
			}
			if dryRun {
				return run()
			}
			return lock.WithLock(ws.cfg.MetaDir(), run)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the repair plan without mutating anything")
	return cmd
}

func stepsArg(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid step count %q", args[0])
	}
	return n, nil
}

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo [steps]",
		Short: "Undo the most recent transactions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := stepsArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			return lock.WithLock(ws.cfg.MetaDir(), func() error {
				undone, err := ws.sync.Undo(n)
				if err != nil {
					return err
				}
				for _, tx := range undone {
					fmt.Printf("undid transaction %d (%s)\n", tx.ID, shortHash(tx.Hash))
				}
				return nil
			})
		},
	}
}

func newRedoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redo [steps]",
		Short: "Replay the most recently undone transactions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := stepsArg(args)
			if err != nil {
				return err
			}
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			return lock.WithLock(ws.cfg.MetaDir(), func() error {
				redone, err := ws.sync.Redo(n)
				if err != nil {
					return err
				}
				for _, tx := range redone {
					fmt.Printf("redid transaction %d (%s)\n", tx.ID, shortHash(tx.Hash))
				}
				return nil
			})
		},
	}
}

func newSquashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "squash <count>",
		Short: "Merge the n most recent transactions into one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid count %q", args[0])
			}
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			return lock.WithLock(ws.cfg.MetaDir(), func() error {
				merged, err := ws.sync.Squash(n)
				if err != nil {
					return err
				}
				fmt.Printf("squashed %d transactions into %d (%s)\n", n, merged.ID, shortHash(merged.Hash))
				return nil
			})
		},
	}
}

func newRehashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rehash",
		Short: "Rebuild the journal's hash chain from genesis (disaster recovery)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			return lock.WithLock(ws.cfg.MetaDir(), func() error {
				res, err := ws.sync.Rehash()
				if err != nil {
					if res.BackupPath != "" {
						return fmt.Errorf("%w\nthe original journal is preserved at %s; restore it manually", err, res.BackupPath)
					}
					return err
				}
				fmt.Printf("rehashed %d transactions (backup: %s)\n", res.Count, res.BackupPath)
				return nil
			})
		},
	}
}

func newLogCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show trailing journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			txs, err := journal.ReadLast(ws.cfg.LogPath(), last)
			if err != nil {
				return err
			}
			for _, tx := range txs {
				fmt.Printf("%6d  %s  %-20s %s\n",
					tx.ID, shortHash(tx.Hash), tx.Author, tx.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 20, "number of trailing entries to show")
	return cmd
}

func newCommitCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "commit <changeset.json>",
		Short: "Apply a changeset file as a new transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read changeset %s: %w", args[0], err)
			}
			var input struct {
				Nodes          journal.ChangeSet `json:"nodes"`
				Configurations journal.ChangeSet `json:"configurations"`
			}
			if err := json.Unmarshal(data, &input); err != nil {
				return fmt.Errorf("parse changeset %s: %w", args[0], err)
			}

			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			if author == "" {
				author = ws.cfg.Author
			}
			return lock.WithLock(ws.cfg.MetaDir(), func() error {
				tx, err := ws.engine.Update(graph.UpdateInput{
					Author:         author,
					Nodes:          input.Nodes,
					Configurations: input.Configurations,
				})
				if err != nil {
					return err
				}
				fmt.Printf("committed transaction %d (%s)\n", tx.ID, shortHash(tx.Hash))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "transaction author (default: configured author)")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tool surface on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.close()

			server := mcp.NewServer(ws.sync, ws.cfg.MetaDir(), ws.log)
			return server.ServeStdio()
		},
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
