// Package batch assembles the whole pipeline for one library: split,
// dock across the worker pool, aggregate, persist, clean up.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moldock/moldock/internal/dock"
	"github.com/moldock/moldock/internal/log"
	"github.com/moldock/moldock/internal/model"
	"github.com/moldock/moldock/internal/mol2"
	"github.com/moldock/moldock/internal/pool"
	"github.com/moldock/moldock/internal/report"
	"github.com/moldock/moldock/internal/store"
	"github.com/moldock/moldock/internal/workspace"
)

// LedgerFile is the sqlite batch history kept in the output directory.
const LedgerFile = "moldock.db"

// Result points at the persisted artifacts of one finished batch.
type Result struct {
	Summary    report.Summary
	SummaryCSV string
	TopPoses   string
	FailedList string // empty when every molecule succeeded
	Elapsed    time.Duration
}

// Run executes one batch end to end. Per-molecule failures are
// reported, never returned: the error is non-nil only for batch-fatal
// conditions (unreadable library, uncreatable directories) or an
// interrupted batch.
func Run(ctx context.Context, cfg model.Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	started := time.Now()
	batchID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("batch", batchID))

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return Result{}, fmt.Errorf("creating output directory %s: %w", cfg.Output, err)
	}

	dbStem := strings.TrimSuffix(filepath.Base(cfg.LigandDB), filepath.Ext(cfg.LigandDB))
	scratch := workspace.NewScratch(cfg.Output, dbStem)
	if err := scratch.Create(); err != nil {
		return Result{}, err
	}

	units, err := mol2.Split(ctx, cfg.LigandDB, scratch.Root())
	if err != nil {
		return Result{}, err
	}
	slog.InfoContext(ctx, "ligand library split", "molecules", len(units))

	// the ledger is triage history, never batch-fatal
	ledger, err := store.Open(ctx, filepath.Join(cfg.Output, LedgerFile))
	if err != nil {
		slog.WarnContext(ctx, "batch ledger unavailable", "error", err)
		ledger = nil
	} else {
		defer func() {
			_ = ledger.Close()
		}()
		if err := ledger.StartBatch(ctx, batchID, cfg.LigandDB, cfg.Protein); err != nil {
			slog.WarnContext(ctx, "recording batch start", "error", err)
		}
	}

	runner := dock.Runner{
		DockHome:   cfg.DockHome,
		Protein:    cfg.Protein,
		OutRoot:    cfg.Output,
		HemeResNum: cfg.HemeResNum,
		Chain:      cfg.Chain,
		CondaEnv:   cfg.CondaEnv,
		CondaBase:  cfg.CondaBase,
		Timeout:    cfg.Timeout,
	}
	dockOne := func(ctx context.Context, u model.Unit) (model.Outcome, error) {
		return runner.Run(ctx, u), nil
	}

	slog.InfoContext(ctx, "docking started", "workers", cfg.Workers, "timeout", cfg.Timeout.String())

	rep := report.New()
	completed := 0
	for out, err := range pool.NewMap(ctx, cfg.Workers, dockOne).Iter(mol2.Units(units)) {
		if err != nil {
			// only reachable if the runner itself blew through its own
			// recover; the unit identity is lost at this point
			slog.ErrorContext(ctx, "worker crashed", "error", err)
			out = model.Failed("unknown", model.CauseUnexpected)
		}
		completed++
		if out.OK {
			slog.InfoContext(ctx, "molecule docked",
				"progress", fmt.Sprintf("%d/%d", completed, len(units)),
				"molecule", out.Name,
				"energy", fmt.Sprintf("%.3f", out.Scores.Total),
				"hm_e", fmt.Sprintf("%.3f", out.Scores.HM))
		} else {
			slog.WarnContext(ctx, "molecule failed",
				"progress", fmt.Sprintf("%d/%d", completed, len(units)),
				"molecule", out.Name,
				"cause", out.Cause.String())
		}
		rep.Add(out)
		if ledger != nil {
			if err := ledger.RecordOutcome(ctx, batchID, out); err != nil {
				slog.WarnContext(ctx, "recording outcome", "error", err)
			}
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && completed < len(units) {
		// scratch stays on disk so the batch can be re-run
		return Result{}, fmt.Errorf("batch interrupted after %d/%d molecules: %w",
			completed, len(units), ctxErr)
	}

	rep.Finalize()
	res := Result{
		Summary:    rep.Summary(),
		SummaryCSV: filepath.Join(cfg.Output, dbStem+"_summary.csv"),
		TopPoses:   filepath.Join(cfg.Output, dbStem+"_top1_poses.mol2"),
	}
	if err := writeFile(res.SummaryCSV, rep.WriteCSV); err != nil {
		return Result{}, err
	}
	if err := writeFile(res.TopPoses, rep.WriteTopPoses); err != nil {
		return Result{}, err
	}
	if len(rep.Failed()) > 0 {
		res.FailedList = filepath.Join(cfg.Output, "failed_molecules.txt")
		if err := writeFile(res.FailedList, rep.WriteFailed); err != nil {
			return Result{}, err
		}
	}

	if ledger != nil {
		if err := ledger.FinishBatch(ctx, batchID,
			res.Summary.Total, res.Summary.Succeeded, res.Summary.Failed); err != nil {
			slog.WarnContext(ctx, "recording batch finish", "error", err)
		}
	}

	if !cfg.KeepTemp {
		if err := scratch.Remove(); err != nil {
			slog.WarnContext(ctx, "removing scratch", "error", err)
		}
	}

	res.Elapsed = time.Since(started)
	slog.InfoContext(ctx, "batch finished",
		"total", res.Summary.Total,
		"succeeded", res.Summary.Succeeded,
		"failed", res.Summary.Failed,
		"success_rate", fmt.Sprintf("%.1f%%", res.Summary.Rate()),
		"elapsed", res.Elapsed.String())
	return res, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
