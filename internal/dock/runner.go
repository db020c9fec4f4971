// Package dock runs the external GalaxyDock2 docking step for one
// molecule at a time and turns whatever happens into a single Outcome.
package dock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/moldock/moldock/internal/log"
	"github.com/moldock/moldock/internal/model"
	"github.com/moldock/moldock/internal/workspace"
)

// Required output artifacts of one docking run.
const (
	EnergyFile = "GD2_HEME_fb.E.info"
	PoseFile   = "GD2_HEME_fb.mol2"
)

// RunScript is the entry point of a docking installation, expected
// under <dock home>/script/.
const RunScript = "run_GalaxyDock2_heme.py"

// keepArtifacts is the allowlist a successful run's directory is pruned
// down to.
var keepArtifacts = []string{"box.pdb", "contact.pdb", EnergyFile, PoseFile}

// errBudget marks the expiry of a job's own wall clock budget, as
// opposed to a deadline inherited from the batch context.
var errBudget = errors.New("docking wall clock exhausted")

// Runner holds the per-batch fixed configuration of the docking step.
// One Runner is shared by all workers; it is never mutated after
// construction.
type Runner struct {
	DockHome   string
	Protein    string
	OutRoot    string
	HemeResNum string
	Chain      string
	CondaEnv   string
	CondaBase  string
	Timeout    time.Duration
}

// Python returns the interpreter of the configured conda environment.
func (r Runner) Python() string {
	return filepath.Join(r.CondaBase, "envs", r.CondaEnv, "bin", "python")
}

// binDir is prepended to the child's PATH so the docking scripts pick
// up the right toolchain. The orchestrator's own environment is never
// touched.
func (r Runner) binDir() string {
	return filepath.Join(r.CondaBase, "envs", r.CondaEnv, "bin")
}

// Run docks one molecule and always returns an Outcome, never an error:
// every failure mode, including a panic below, is converted into a
// typed Failure for this unit only.
func (r Runner) Run(ctx context.Context, unit model.Unit) (out model.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "docking run panicked", "molecule", unit.Name, "panic", p)
			out = model.Failed(unit.Name, model.CauseUnexpected)
		}
	}()

	ctx = log.ContextAttrs(ctx, slog.String("molecule", unit.Name))

	dir := filepath.Join(r.OutRoot, unit.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.ErrorContext(ctx, "creating molecule output directory", "error", err)
		return model.Failed(unit.Name, model.CauseUnexpected)
	}

	tctx, cancel := context.WithTimeoutCause(ctx, r.Timeout, errBudget)
	defer cancel()

	args := []string{
		filepath.Join(r.DockHome, "script", RunScript),
		"-d", r.DockHome,
		"-p", r.Protein,
		"-l", unit.Path,
		"--out_dir", dir,
	}
	if r.HemeResNum != "" {
		args = append(args, "--heme_res_num", r.HemeResNum)
	}
	if r.Chain != "" {
		args = append(args, "--chain", r.Chain)
	}

	cmd := exec.CommandContext(tctx, r.Python(), args...)
	cmd.Env = append(os.Environ(), "PATH="+r.binDir()+string(os.PathListSeparator)+os.Getenv("PATH"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 10 * time.Second
	setProcessGroup(cmd)

	started := time.Now()
	slog.DebugContext(ctx, "docking started")
	runErr := cmd.Run()
	elapsed := time.Since(started)

	switch {
	case errors.Is(context.Cause(tctx), errBudget):
		// partial output is worthless, treat it as absent
		slog.WarnContext(ctx, "docking timed out", "timeout", r.Timeout.String())
		return model.Failed(unit.Name, model.CauseTimeout)
	case tctx.Err() != nil:
		// batch aborted or hit its own deadline while this job ran,
		// not the tool's fault
		slog.WarnContext(ctx, "docking canceled", "error", context.Cause(tctx))
		return model.Failed(unit.Name, model.CauseUnexpected)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			slog.WarnContext(ctx, "docking exited with error",
				"code", exitErr.ExitCode(), "stderr", tail(stderr.String()))
			return model.Failed(unit.Name, model.CauseNonZeroExit)
		}
		slog.ErrorContext(ctx, "starting docking process", "error", runErr)
		return model.Failed(unit.Name, model.CauseUnexpected)
	}

	outcome, err := r.collect(ctx, unit, dir)
	if err != nil {
		return outcome
	}
	slog.DebugContext(ctx, "docking finished", "elapsed", elapsed.String(),
		"energy", outcome.Scores.Total)
	return outcome
}

// collect validates and parses the artifacts of a zero-exit run. All
// failure causes are decided here, in one place.
func (r Runner) collect(ctx context.Context, unit model.Unit, dir string) (model.Outcome, error) {
	energyPath := filepath.Join(dir, EnergyFile)
	posePath := filepath.Join(dir, PoseFile)
	for _, p := range []string{energyPath, posePath} {
		if _, err := os.Stat(p); err != nil {
			slog.WarnContext(ctx, "docking artifact missing", "artifact", filepath.Base(p))
			return model.Failed(unit.Name, model.CauseMissingArtifact), errors.New("artifact missing")
		}
	}

	ef, err := os.Open(energyPath)
	if err != nil {
		return model.Failed(unit.Name, model.CauseMissingArtifact), err
	}
	scores, parseErr := ParseEnergy(ef)
	_ = ef.Close()
	if parseErr != nil {
		slog.WarnContext(ctx, "energy table malformed", "error", parseErr)
		return model.Failed(unit.Name, model.CauseMalformedArtifact), parseErr
	}

	pf, err := os.Open(posePath)
	if err != nil {
		return model.Failed(unit.Name, model.CauseMissingArtifact), err
	}
	pose, poseErr := FirstPose(pf)
	_ = pf.Close()
	if poseErr != nil {
		slog.WarnContext(ctx, "pose file unreadable", "error", poseErr)
		return model.Failed(unit.Name, model.CauseMalformedArtifact), poseErr
	}

	// bound disk usage before reporting success
	if err := workspace.Prune(dir, keepArtifacts...); err != nil {
		slog.ErrorContext(ctx, "pruning molecule output directory", "error", err)
		return model.Failed(unit.Name, model.CauseUnexpected), err
	}

	return model.Success(unit.Name, scores, pose), nil
}

func tail(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
