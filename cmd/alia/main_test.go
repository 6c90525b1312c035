package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/kernel"
)

// robotDir writes a robot directory whose config enables the journal.
func robotDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0755))
	cfg := `kb:
  dir: ` + dir + `
  script_dir: ""
store:
  enabled: true
host:
  dump_every: ""
robot:
  vals:
    gesture_steps: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "alia.yaml"), []byte(cfg), 0644))
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunQuitsCleanly(t *testing.T) {
	dir := robotDir(t)
	_, err := execute(t, "Quit.\n", "run", "--dir", dir)
	require.NoError(t, err)

	out, err := execute(t, "", "sessions", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")

	out, err = execute(t, "", "transcript", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "user  Quit.")
}

func TestQueryAndExplainLatestDump(t *testing.T) {
	dir := robotDir(t)
	_, err := execute(t, "Quit.\n", "run", "--dir", dir)
	require.NoError(t, err)

	out, err := execute(t, "", "query", "--dir", dir, "node")
	require.NoError(t, err)
	assert.Contains(t, out, "node(")

	out, err = execute(t, "", "query", "--dir", dir, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "is_a/2")

	out, err = execute(t, "", "explain", "--dir", dir, "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, "# Working memory")

	_, err = execute(t, "", "query", "--dir", dir)
	assert.Error(t, err)
}

func TestQueryWithoutJournal(t *testing.T) {
	_, err := execute(t, "", "query", "--dir", t.TempDir(), "node")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")
}

func TestResetFailureIsAnError(t *testing.T) {
	dir := robotDir(t)
	scripts := filepath.Join(dir, "KB0", "scripts")
	require.NoError(t, os.MkdirAll(scripts, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "bad.go"), []byte("this is not go"), 0644))
	cfg := filepath.Join(dir, "config", "alia.yaml")
	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg, bytes.Replace(data, []byte(`script_dir: ""`), []byte(`script_dir: KB0/scripts`), 1), 0644))

	_, err = execute(t, "", "run", "--dir", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrBindFail)
}

func TestBadHardware(t *testing.T) {
	_, err := execute(t, "", "run", "--dir", robotDir(t), "--hardware", "wings")
	assert.ErrorContains(t, err, "unknown subsystem")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "alia dev\n", out)
}
