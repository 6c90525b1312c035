package host

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alia/internal/body"
	"alia/internal/config"
	"alia/internal/core"
	"alia/internal/kernel/basic"
	"alia/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCore(t *testing.T, dir string) *core.Core {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.KB.ScriptDir = ""
	cfg.Core.SenseHz = 200
	cfg.Core.ThinkHz = 400
	cfg.Host.DumpEvery = "20ms"
	cfg.Robot.Vals["gesture_steps"] = 0
	c := core.New(cfg, core.WithKernels(basic.All()...))
	c.Body(body.Hardware{Neck: true, Arm: true, Fork: true, Base: true})
	require.NoError(t, c.Reset(dir, "Test Robot", "host-test"))
	return c
}

func hear(t *testing.T, r *Runner) string {
	t.Helper()
	select {
	case s := <-r.Said():
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("nothing said")
		return ""
	}
}

func TestRunnerAnswers(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(newCore(t, t.TempDir()), WithMetrics(NewMetrics(reg)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Say("The block is red.")
	r.Say("What color is the block?")
	assert.Equal(t, "red", hear(t, r))
	assert.Equal(t, core.CodeOK, r.Code())
	assert.Positive(t, r.Stats().Cycles)

	cancel()
	require.NoError(t, <-done)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["alia_cycles_total"])
	assert.True(t, names["alia_think_seconds"])
	require.NoError(t, r.Close(false))
}

func TestRunnerQuit(t *testing.T) {
	r := New(newCore(t, t.TempDir()))
	r.Say("Quit.")
	err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, core.CodeQuit, r.Code())
	require.NoError(t, r.Close(false))
}

func TestRunnerRejectsSecondRun(t *testing.T) {
	r := New(newCore(t, t.TempDir()))
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.Stats().Cycles > 0 }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Run(ctx), ErrRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestRunnerCommands(t *testing.T) {
	r := New(newCore(t, t.TempDir()))
	ctx := context.Background()
	r.Say("Move forward 6 inches.")
	var move body.Bid
	require.Eventually(t, func() bool {
		r.Step(ctx)
		b, ok := r.Commands()["move"]
		move = b
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 6.0, move.Target.X)

	r.SetHardware(body.Hardware{Neck: true})
	r.Step(ctx)
	_, ok := r.Commands()["move"]
	assert.False(t, ok, "no base, no move")
}

func TestRunnerJournalAndLearned(t *testing.T) {
	dir := t.TempDir()
	j, err := store.NewJournal(filepath.Join(dir, "dump", "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	ls, err := store.NewLearnedStore(filepath.Join(dir, "KB", "learned.db"))
	require.NoError(t, err)
	defer ls.Close()

	r := New(newCore(t, dir), WithJournal(j), WithLearned(ls))
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Say("To greet someone, wave and say 'hello'.")
	assert.Equal(t, "OK", hear(t, r))
	require.Eventually(t, func() bool {
		_, err := j.LatestDump(r.Session())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, r.Close(true))

	lines, err := j.Transcript(r.Session())
	require.NoError(t, err)
	var said []string
	for _, u := range lines {
		if u.Dir == store.Said {
			said = append(said, u.Text)
		}
	}
	assert.Equal(t, []string{"OK"}, said)

	ops, err := ls.Entries("DO")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.True(t, strings.HasPrefix(ops[0].Text, "op greet DO"))

	// A fresh core with an empty KB gets the operator back from the store.
	c2 := newCore(t, t.TempDir())
	r2 := New(c2, WithLearned(ls))
	ctx2, cancel2 := context.WithCancel(t.Context())
	done2 := make(chan error, 1)
	go func() { done2 <- r2.Run(ctx2) }()
	require.Eventually(t, func() bool { return r2.Stats().Cycles > 0 }, 5*time.Second, 5*time.Millisecond)
	cancel2()
	require.NoError(t, <-done2)
	assert.Len(t, c2.Ops().ByName("greet"), 1)
	require.NoError(t, r2.Close(false))
}
