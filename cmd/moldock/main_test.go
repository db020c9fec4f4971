package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/moldock/moldock/internal/batch"
	"github.com/moldock/moldock/internal/dock"
	"github.com/moldock/moldock/internal/store"
)

func fakeDockHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "script"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "script", dock.RunScript), []byte("# stub\n"), 0644))
	return home
}

func TestDetectDockHome_Explicit(t *testing.T) {
	home := fakeDockHome(t)
	got, err := detectDockHome(home)
	require.NoError(t, err)
	require.Equal(t, home, got)
}

func TestDetectDockHome_ExplicitInvalid(t *testing.T) {
	_, err := detectDockHome(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a docking installation")
}

func TestDetectDockHome_FromEnv(t *testing.T) {
	home := fakeDockHome(t)
	t.Setenv("MOLDOCK_HOME", home)
	got, err := detectDockHome("")
	require.NoError(t, err)
	require.Equal(t, home, got)
}

func TestDetectDockHome_Undetectable(t *testing.T) {
	t.Setenv("MOLDOCK_HOME", "")
	_, err := detectDockHome("")
	require.Error(t, err)
}

func TestDetectCondaBase_Explicit(t *testing.T) {
	base := t.TempDir()
	got, err := detectCondaBase(base, nil)
	require.NoError(t, err)
	require.Equal(t, base, got)
}

func TestDetectCondaBase_ExplicitMissing(t *testing.T) {
	_, err := detectCondaBase(filepath.Join(t.TempDir(), "absent"), nil)
	require.Error(t, err)
}

func TestDetectCondaBase_Candidates(t *testing.T) {
	t.Setenv("CONDA_BASE", "")
	base := t.TempDir()
	got, err := detectCondaBase("", []string{filepath.Join(base, "absent"), base})
	require.NoError(t, err)
	require.Equal(t, base, got)
}

func TestDetectCondaBase_FromEnv(t *testing.T) {
	base := t.TempDir()
	t.Setenv("CONDA_BASE", base)
	got, err := detectCondaBase("", nil)
	require.NoError(t, err)
	require.Equal(t, base, got)
}

func TestDetectCondaBase_Undetectable(t *testing.T) {
	t.Setenv("CONDA_BASE", "")
	_, err := detectCondaBase("", []string{filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	require.True(t, exists(file))
	require.False(t, exists(dir), "directories are not regular files")
	require.False(t, exists(filepath.Join(dir, "absent")))

	require.True(t, existsDir(dir))
	require.False(t, existsDir(file))
}

func TestHistory_ListsBatches(t *testing.T) {
	out := t.TempDir()
	l, err := store.Open(t.Context(), filepath.Join(out, batch.LedgerFile))
	require.NoError(t, err)
	require.NoError(t, l.StartBatch(t.Context(), "b-1", "/data/libA.mol2", "prot.pdb"))
	require.NoError(t, l.FinishBatch(t.Context(), "b-1", 3, 2, 1))
	require.NoError(t, l.StartBatch(t.Context(), "b-2", "/data/libB.mol2", "prot.pdb"))
	require.NoError(t, l.Close())

	prev := flagOutput
	flagOutput = out
	defer func() { flagOutput = prev }()

	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, doHistory(cmd, nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2, "oldest first, one line per batch")
	require.Contains(t, lines[0], "b-1")
	require.Contains(t, lines[0], "finished")
	require.Contains(t, lines[0], "total=3 succeeded=2 failed=1")
	require.Contains(t, lines[0], "libA.mol2")
	require.Contains(t, lines[1], "b-2")
	require.Contains(t, lines[1], "running")
}

func TestHistory_NoLedger(t *testing.T) {
	prev := flagOutput
	flagOutput = t.TempDir()
	defer func() { flagOutput = prev }()

	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	require.ErrorContains(t, doHistory(cmd, nil), "no batch ledger")
}
