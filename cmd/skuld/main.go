// Command skuld operates on a knowledge-graph workspace's transaction
// journal: verification, repair, undo/redo, squash, and rehash, plus an MCP
// stdio server exposing the same operations to agent runtimes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/skuld/pkg/config"
	"github.com/orneryd/skuld/pkg/graph"
	"github.com/orneryd/skuld/pkg/journal"
	"github.com/orneryd/skuld/pkg/logger"
	"github.com/orneryd/skuld/pkg/render"
	"github.com/orneryd/skuld/pkg/syncer"
)

var (
	flagWorkspace string
	flagLogLevel  string
)

func main() {
	root := &cobra.Command{
		Use:           "skuld",
		Short:         "Transaction journal and synchronization engine for knowledge-graph workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace root (default: current directory)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVerifyCmd(),
		newStatusCmd(),
		newRepairCmd(),
		newUndoCmd(),
		newRedoCmd(),
		newSquashCmd(),
		newRehashCmd(),
		newLogCmd(),
		newCommitCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "skuld:", err)
		os.Exit(1)
	}
}

// workspace bundles everything a command needs for one invocation.
type workspace struct {
	cfg    config.Config
	log    *zap.Logger
	engine *graph.BadgerEngine
	sync   *syncer.Syncer
}

// openWorkspace resolves configuration, opens the projection store, and
// wires the syncer (which installs the commit hooks on the engine).
func openWorkspace() (*workspace, error) {
	cfg, err := config.Load(flagWorkspace)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	canon := journal.NewCanonicalizer()
	engine, err := graph.OpenBadgerEngine(cfg.GraphDir(), canon)
	if err != nil {
		return nil, err
	}

	sync := syncer.New(syncer.Options{
		Engine:        engine,
		LogPath:       cfg.LogPath(),
		UndoPath:      cfg.UndoPath(),
		Canonicalizer: canon,
		Renderer:      render.Nop{},
		Logger:        log,
	})

	return &workspace{cfg: cfg, log: log, engine: engine, sync: sync}, nil
}

func (w *workspace) close() {
	if err := w.engine.Close(); err != nil {
		w.log.Warn("closing projection store", zap.Error(err))
	}
	_ = w.log.Sync()
}
