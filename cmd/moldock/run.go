package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/batch"
	"github.com/moldock/moldock/internal/dock"
	"github.com/moldock/moldock/internal/log"
	"github.com/moldock/moldock/internal/model"
	"github.com/moldock/moldock/internal/store"
)

// condaBaseCandidates are probed in order when no conda base is given.
var condaBaseCandidates = func() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"/opt/share/miniconda3"}
	}
	return []string{
		"/opt/share/miniconda3",
		filepath.Join(home, "miniconda3"),
		filepath.Join(home, "anaconda3"),
	}
}()

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(),
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)

	cfg, err := resolveRunConfig(cmd, config)
	if err != nil {
		return err
	}

	_, err = batch.Run(ctx, cfg)
	// per-molecule failures are reported in the summary, not here
	return err
}

// resolveRunConfig merges the run flags over the file config and
// resolves every auto-detected path. All batch-fatal input checks live
// here, before any dispatch.
func resolveRunConfig(cmd *cobra.Command, base model.Config) (model.Config, error) {
	cfg := base

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	if flagProtein != "" {
		cfg.Protein = flagProtein
	}
	if flagLigandDB != "" {
		cfg.LigandDB = flagLigandDB
	}
	if flagOutput != "" {
		cfg.Output = flagOutput
	}
	if flagDockHome != "" {
		cfg.DockHome = flagDockHome
	}
	if flagHemeResNum != "" {
		cfg.HemeResNum = flagHemeResNum
	}
	if flagChain != "" {
		cfg.Chain = flagChain
	}
	set("workers", func() { cfg.Workers = flagWorkers })
	set("conda-env", func() { cfg.CondaEnv = flagCondaEnv })
	set("timeout", func() { cfg.Timeout = flagTimeout })
	set("keep-temp", func() { cfg.KeepTemp = flagKeepTemp })
	if flagCondaBase != "" {
		cfg.CondaBase = flagCondaBase
	}

	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}

	if !exists(cfg.Protein) {
		return model.Config{}, fmt.Errorf("protein file does not exist: %s", cfg.Protein)
	}
	if !exists(cfg.LigandDB) {
		return model.Config{}, fmt.Errorf("ligand library does not exist: %s", cfg.LigandDB)
	}

	dockHome, err := detectDockHome(cfg.DockHome)
	if err != nil {
		return model.Config{}, err
	}
	cfg.DockHome = dockHome

	condaBase, err := detectCondaBase(cfg.CondaBase, condaBaseCandidates)
	if err != nil {
		return model.Config{}, err
	}
	cfg.CondaBase = condaBase

	return cfg, nil
}

// detectDockHome resolves the docking installation root: the explicit
// value, then $MOLDOCK_HOME, then the directory this binary is
// installed under. Whatever wins must contain script/run_GalaxyDock2_heme.py.
func detectDockHome(explicit string) (string, error) {
	candidates := []string{explicit, os.Getenv("MOLDOCK_HOME")}
	if exe, err := os.Executable(); err == nil {
		// a binary installed at <home>/bin/moldock
		candidates = append(candidates, filepath.Dir(filepath.Dir(exe)))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if exists(filepath.Join(c, "script", dock.RunScript)) {
			return c, nil
		}
		if explicit != "" && c == explicit {
			return "", fmt.Errorf("not a docking installation (no script/%s): %s", dock.RunScript, c)
		}
	}
	return "", fmt.Errorf("cannot detect the docking installation, use --dock-home")
}

// detectCondaBase resolves the conda root: the explicit value, then
// $CONDA_BASE, then the usual install locations.
func detectCondaBase(explicit string, candidates []string) (string, error) {
	if explicit != "" {
		if !existsDir(explicit) {
			return "", fmt.Errorf("conda base does not exist: %s", explicit)
		}
		return explicit, nil
	}
	if env := os.Getenv("CONDA_BASE"); env != "" && existsDir(env) {
		return env, nil
	}
	for _, c := range candidates {
		if existsDir(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("cannot detect the conda installation, use --conda-base")
}

func doHistory(cmd *cobra.Command, args []string) error {
	if flagOutput == "" {
		return fmt.Errorf("output directory is required")
	}
	ledgerPath := filepath.Join(flagOutput, batch.LedgerFile)
	if !exists(ledgerPath) {
		return fmt.Errorf("no batch ledger at %s", ledgerPath)
	}

	ledger, err := store.Open(cmd.Context(), ledgerPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = ledger.Close()
	}()

	batches, err := ledger.AllBatches(cmd.Context())
	if err != nil {
		return err
	}

	for _, b := range batches {
		status := "running"
		counters := ""
		if b.FinishedAt != nil {
			status = "finished"
			if b.Total != nil {
				counters = fmt.Sprintf(" total=%d succeeded=%d failed=%d",
					*b.Total, *b.Succeeded, *b.Failed)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s%s\n",
			b.UUID, b.StartedAt.Format("2006-01-02 15:04:05"), status,
			filepath.Base(b.Library), counters)
	}
	return nil
}
