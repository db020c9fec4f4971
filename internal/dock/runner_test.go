//go:build unix

package dock_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moldock/moldock/internal/dock"
	"github.com/moldock/moldock/internal/model"
	"github.com/stretchr/testify/require"
)

// fakeRunner builds a conda-like tree whose python is the given shell
// script and returns a Runner pointing at it. The script sees the real
// docking arguments, $OUT is resolved from --out_dir for convenience.
func fakeRunner(t *testing.T, script string) dock.Runner {
	t.Helper()

	base := t.TempDir()
	binDir := filepath.Join(base, "envs", "dock", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))

	prologue := `#!/bin/sh
OUT=""
prev=""
for a in "$@"; do
	if [ "$prev" = "--out_dir" ]; then OUT="$a"; fi
	prev="$a"
done
`
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "python"), []byte(prologue+script), 0755))

	outRoot := t.TempDir()
	return dock.Runner{
		DockHome:  filepath.Join(base, "gd2"),
		Protein:   filepath.Join(base, "protein.pdb"),
		OutRoot:   outRoot,
		CondaEnv:  "dock",
		CondaBase: base,
		Timeout:   30 * time.Second,
	}
}

const goodArtifacts = `cat > "$OUT/GD2_HEME_fb.E.info" <<'EOF'
GalaxyDock2 HEME final bank energies
Rank    Energy    ATDK_E    INT_E    DS_E    HM_E    PLP
--------------------------------------------------------
1 -7.532 -5.100 -1.200 -0.800 -0.400 0.100
2 -6.001 -4.000 -1.000 -0.500 -0.300 0.200
EOF
cat > "$OUT/GD2_HEME_fb.mol2" <<'EOF'
@<TRIPOS>MOLECULE
best
@<TRIPOS>ATOM
1 C1 0.0 0.0 0.0 C.3
@<TRIPOS>MOLECULE
second
@<TRIPOS>ATOM
1 C1 1.0 1.0 1.0 C.3
EOF
touch "$OUT/box.pdb" "$OUT/contact.pdb"
`

func ligand(t *testing.T, name string) model.Unit {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".mol2")
	require.NoError(t, os.WriteFile(path, []byte("@<TRIPOS>MOLECULE\n"+name+"\n"), 0644))
	return model.Unit{Name: name, Path: path}
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, goodArtifacts+`echo leftover > "$OUT/log.txt"
exit 0
`)
	out := r.Run(t.Context(), ligand(t, "aspirin"))
	require.True(t, out.OK)
	require.Equal(t, "aspirin", out.Name)
	require.InDelta(t, -7.532, out.Scores.Total, 1e-9)
	require.InDelta(t, -0.4, out.Scores.HM, 1e-9)
	require.Contains(t, out.Pose, "best")
	require.NotContains(t, out.Pose, "second")

	// directory pruned down to the artifact allowlist
	entries, err := os.ReadDir(filepath.Join(r.OutRoot, "aspirin"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t,
		[]string{"box.pdb", "contact.pdb", dock.EnergyFile, dock.PoseFile},
		names)
}

func TestRun_SelectorFlags(t *testing.T) {
	t.Parallel()

	// the fake tool records its argv in box.pdb, which survives pruning
	r := fakeRunner(t, goodArtifacts+`echo "$@" > "$OUT/box.pdb"
exit 0
`)
	r.HemeResNum = "600"
	r.Chain = "A"

	out := r.Run(t.Context(), ligand(t, "heme_lig"))
	require.True(t, out.OK)

	argv, err := os.ReadFile(filepath.Join(r.OutRoot, "heme_lig", "box.pdb"))
	require.NoError(t, err)
	require.Contains(t, string(argv), "--heme_res_num 600")
	require.Contains(t, string(argv), "--chain A")
	require.Contains(t, string(argv), "-p "+r.Protein)
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, "exit 3\n")
	out := r.Run(t.Context(), ligand(t, "brokemol"))
	require.False(t, out.OK)
	require.Equal(t, model.CauseNonZeroExit, out.Cause)
}

func TestRun_MissingArtifact(t *testing.T) {
	t.Parallel()

	// zero exit but only the energy table was produced
	r := fakeRunner(t, `cat > "$OUT/GD2_HEME_fb.E.info" <<'EOF'
h1
h2
h3
1 -7.532 -5.1 -1.2 -0.8 -0.4 0.1
EOF
exit 0
`)
	out := r.Run(t.Context(), ligand(t, "halfway"))
	require.False(t, out.OK)
	require.Equal(t, model.CauseMissingArtifact, out.Cause)
}

func TestRun_MalformedArtifact(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, `cat > "$OUT/GD2_HEME_fb.E.info" <<'EOF'
h1
h2
h3
1 -7.532
EOF
touch "$OUT/GD2_HEME_fb.mol2"
exit 0
`)
	out := r.Run(t.Context(), ligand(t, "shortline"))
	require.False(t, out.OK)
	require.Equal(t, model.CauseMalformedArtifact, out.Cause)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, "sleep 60\nexit 0\n")
	r.Timeout = 300 * time.Millisecond

	started := time.Now()
	out := r.Run(t.Context(), ligand(t, "slowpoke"))
	elapsed := time.Since(started)

	require.False(t, out.OK)
	require.Equal(t, model.CauseTimeout, out.Cause)
	require.Less(t, elapsed, 5*time.Second, "timeout must not block far past the budget")
}

func TestRun_BatchDeadlineNotBlamedOnTool(t *testing.T) {
	t.Parallel()

	// the job's own budget is generous; it is the surrounding batch
	// that runs out of time
	r := fakeRunner(t, "sleep 60\nexit 0\n")
	r.Timeout = 30 * time.Second

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	out := r.Run(ctx, ligand(t, "abandoned"))
	require.False(t, out.OK)
	require.Equal(t, model.CauseUnexpected, out.Cause,
		"a batch-level deadline is not a per-job timeout")
}

func TestRun_MissingInterpreter(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, "exit 0\n")
	r.CondaBase = filepath.Join(r.CondaBase, "absent")
	out := r.Run(t.Context(), ligand(t, "nowhere"))
	require.False(t, out.OK)
	require.Equal(t, model.CauseUnexpected, out.Cause)
}

func TestRun_ChildPathPrefixed(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, goodArtifacts+`printf '%s' "$PATH" > "$OUT/box.pdb"
exit 0
`)
	out := r.Run(t.Context(), ligand(t, "pathmol"))
	require.True(t, out.OK)

	binDir := filepath.Join(r.CondaBase, "envs", "dock", "bin")
	childPath, err := os.ReadFile(filepath.Join(r.OutRoot, "pathmol", "box.pdb"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(childPath), binDir+string(os.PathListSeparator)),
		"child PATH should start with the conda env bin dir")

	// the orchestrator's own environment is never mutated
	require.NotContains(t, os.Getenv("PATH"), binDir)
}

func TestRunnerPython(t *testing.T) {
	t.Parallel()

	r := dock.Runner{CondaBase: "/opt/share/miniconda3", CondaEnv: "dock"}
	require.Equal(t, "/opt/share/miniconda3/envs/dock/bin/python", r.Python())
}

func TestRun_ManyNamesNoCrosstalk(t *testing.T) {
	t.Parallel()

	r := fakeRunner(t, goodArtifacts+"exit 0\n")
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("mol_%d", i+1)
		out := r.Run(t.Context(), ligand(t, name))
		require.True(t, out.OK)
		require.Equal(t, name, out.Name)
		_, err := os.Stat(filepath.Join(r.OutRoot, name, dock.PoseFile))
		require.NoError(t, err)
	}
}
