package kb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alia/internal/graphize"
	"alia/internal/lang"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

const greetOp = `op greet DO 1
  when ?0=do:greet(agt #self, obj ?1); ?1=obj:
  0 DO ?2=do:wave(agt #self) cont=1
  1 DO ?3=do:say(agt #self, obj ?4); ?4=quote:"hello"
`

const dogRule = `rule dog-animal 1
  if ?0=obj:; ?1=ako:dog(ako ?0)
  then ?2=ako:animal(ako ?0)
`

func newKB(t *testing.T, dir string) (*KB, *wmem.WMem, *rules.Store, *ops.Store) {
	t.Helper()
	w, err := wmem.New(4000, 0.5)
	require.NoError(t, err)
	rs, store := rules.NewStore(8), ops.NewStore()
	return New(dir, w, rs, store, lang.NewParser(nil)), w, rs, store
}

func write(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
}

func TestReadBlocksRoundTrip(t *testing.T) {
	k, w, rs, store := newKB(t, t.TempDir())

	st, err := k.ReadBlocks(strings.NewReader(greetOp+"\n"+dogRule), "test.ops", rules.Kernel)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ops)
	assert.Equal(t, 1, st.Rules)

	o := store.ByName("greet")
	require.Len(t, o, 1)
	assert.Equal(t, proc.Do, o[0].Kind)
	got, err := FormatOp(w, o[0])
	require.NoError(t, err)
	assert.Equal(t, greetOp, got)

	require.Len(t, rs.Rules(), 1)
	got, err = FormatRule(w, rs.Rules()[0])
	require.NoError(t, err)
	assert.Equal(t, dogRule, got)

	// Reading the same text again only finds duplicates.
	live := w.Pool().Live()
	st, err = k.ReadBlocks(strings.NewReader(greetOp+dogRule), "again.ops", rules.Kernel)
	require.NoError(t, err)
	assert.Zero(t, st.Ops)
	assert.Zero(t, st.Rules)
	assert.Equal(t, live, w.Pool().Live())
}

func TestFormatLoweredOperator(t *testing.T) {
	k, w, _, store := newKB(t, t.TempDir())
	frames, err := k.parser.Parse("To greet someone, wave and say 'hello'.")
	require.NoError(t, err)
	res, err := graphize.New(w).Lower(frames[0])
	require.NoError(t, err)
	require.Len(t, res.Ops, 1)

	text, err := FormatOp(w, res.Ops[0])
	require.NoError(t, err)
	_, err = k.ReadBlocks(strings.NewReader(text), "lowered.ops", rules.Accumulated)
	require.NoError(t, err)
	read := store.ByName("greet")
	require.Len(t, read, 1)
	assert.Equal(t, ops.Canon(w, res.Ops[0]), ops.Canon(w, read[0]))
	res.Release(w)
}

func TestReadBlocksErrors(t *testing.T) {
	k, w, rs, store := newKB(t, t.TempDir())
	live := w.Pool().Live()

	for _, text := range []string{
		"op bad JUMP 1\n  when ?0=do:bad(agt #self)\n  0 DO ?1=do:pass(agt #self)\n",
		"op bad DO 1\n  when ?0=do:bad(agt ?9)\n  0 DO ?1=do:pass(agt #self)\n",
		"op bad DO 1\n  when ?0=do:bad(agt #self)\n  0 DO ?1=do:pass(agt #self) cont=4\n",
		"op bad DO 1\n  0 DO ?1=do:pass(agt #self)\n",
		"rule bad 1\n  if ?0=obj:\n",
		"rule bad 1\n  if ?0=obj:\n  then ?0=ako:dog(ako ?0)\n",
		"  indented first\n",
		"fact ?0=obj:\n",
	} {
		_, err := k.ReadBlocks(strings.NewReader(text), "bad.ops", rules.Kernel)
		assert.True(t, errors.Is(err, ErrSyntax), "%q: %v", text, err)
	}
	assert.Equal(t, live, w.Pool().Live())
	assert.Empty(t, rs.Rules())
	assert.Zero(t, store.Len())

	// One bad block does not stop the rest.
	st, err := k.ReadBlocks(strings.NewReader("rule bad 1\n  if ?0=obj:\n"+dogRule), "mixed.rules", rules.Kernel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed.rules:1")
	assert.Equal(t, 1, st.Rules)
	assert.Equal(t, 1, st.Skipped)
}

func TestBuiltinOperators(t *testing.T) {
	k, _, _, store := newKB(t, t.TempDir())
	st, err := k.Builtin()
	require.NoError(t, err)
	assert.Zero(t, st.Skipped)
	assert.Equal(t, store.Len(), st.Ops)
	for _, name := range []string{"move", "move-dir-amt", "turn-dir", "spin", "wave", "pick-up", "put-down"} {
		assert.Len(t, store.ByName(name), 1, name)
	}
}

func TestReadFacts(t *testing.T) {
	k, w, _, _ := newKB(t, t.TempDir())
	before := len(w.Main())
	st, err := k.ReadFacts(strings.NewReader("# toys\n?0=obj:; ?1=ako:ball(ako ?0)\n?0=obj:; ?1=hq:red(hq ?0)\n?0=obj(\n"), "toys.facts")
	require.Error(t, err)
	assert.Equal(t, 2, st.Facts)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, before+4, len(w.Main()))
}

func TestReadSentences(t *testing.T) {
	k, _, rs, store := newKB(t, t.TempDir())
	st, err := k.ReadSentences(strings.NewReader("Dogs are animals.\nTo greet someone, wave and say 'hello'.\nThe block is red.\n"), "intro.sgm", rules.Accumulated)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Sentences)
	assert.Equal(t, 1, st.Rules)
	assert.Equal(t, 1, st.Ops)
	require.Len(t, rs.Learned(), 1)
	assert.Equal(t, "dog-animal", rs.Learned()[0].Name)
	assert.Len(t, store.ByName("greet"), 1)

	pending := k.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, proc.Bind, pending[0].Dir.Kind)
	assert.Empty(t, k.Pending())
}

func TestLoadLayout(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "KB0", "speech.ops"), greetOp)
	write(t, filepath.Join(dir, "KB0", "motion", "deep", "more.rules"), dogRule)
	write(t, filepath.Join(dir, "KB0", "other.rules"), "rule ignored 1\n  if ?0=obj:\n  then ?1=hq:red(hq ?0)\n")
	write(t, filepath.Join(dir, "KB2", "baseline.lst"), "# base\ntoys\nmissing\n")
	write(t, filepath.Join(dir, "KB2", "toys.facts"), "?0=obj:; ?1=ako:ball(ako ?0)\n")
	write(t, filepath.Join(dir, "KB", "learned.sgm"), "Cats are animals.\n")
	write(t, filepath.Join(dir, "KB", "learned.pref"), "# hand-tuned\ngreet: maybe\n")
	write(t, filepath.Join(dir, "KB", "learned.conf"), "dog-animal: 0.7\nunknown: 2\n")

	k, _, rs, store := newKB(t, dir)
	st, err := k.Load([]string{"speech", "motion"})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Files)
	assert.Equal(t, 1, st.Facts)
	assert.Equal(t, 2, st.Rules)

	greet := store.ByName("greet")
	require.Len(t, greet, 1)
	assert.Equal(t, rules.Kernel, greet[0].Level)
	assert.InDelta(t, 0.3, greet[0].Pref, 1e-9)

	for _, r := range rs.Rules() {
		assert.NotEqual(t, "ignored", r.Name)
		if r.Name == "dog-animal" {
			assert.InDelta(t, 0.7, r.Conf, 1e-9)
		}
	}
	require.Len(t, rs.Learned(), 1)
	assert.Equal(t, "cat-animal", rs.Learned()[0].Name)
}

func TestLoadMissingDir(t *testing.T) {
	k, _, _, _ := newKB(t, filepath.Join(t.TempDir(), "nope"))
	_, err := k.Load(nil)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestSaveLearned(t *testing.T) {
	dir := t.TempDir()
	k, _, _, _ := newKB(t, dir)
	_, err := k.ReadBlocks(strings.NewReader(dogRule), "x.rules", rules.Kernel)
	require.NoError(t, err)
	_, err = k.ReadBlocks(strings.NewReader(greetOp), "y.ops", rules.Accumulated)
	require.NoError(t, err)
	require.NoError(t, k.SaveLearned())

	data, err := os.ReadFile(filepath.Join(dir, "KB", "learned.ops"))
	require.NoError(t, err)
	assert.Equal(t, greetOp+"\n", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "KB", "learned.rules"))
	require.NoError(t, err)
	assert.Empty(t, data)

	k2, _, _, store := newKB(t, dir)
	st, err := k2.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ops-countBuiltin(t))
	require.Len(t, store.ByName("greet"), 1)
	assert.Equal(t, rules.Accumulated, store.ByName("greet")[0].Level)
}

func countBuiltin(t *testing.T) int {
	t.Helper()
	k, _, _, _ := newKB(t, t.TempDir())
	st, err := k.Builtin()
	require.NoError(t, err)
	return st.Ops
}

func TestWatcherReportsOverrides(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	k, _, _, _ := newKB(t, dir)
	kw, err := NewWatcher(k, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, kw.Start(t.Context()))

	write(t, filepath.Join(dir, "KB", "notes.txt"), "ignored")
	write(t, filepath.Join(dir, "KB", "learned.pref"), "greet: 0.4\n")

	select {
	case p := <-kw.Changes():
		assert.Equal(t, "learned.pref", filepath.Base(p))
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	kw.Stop()
	kw.Stop()
	assert.GreaterOrEqual(t, kw.Stats().Delivered, 1)
}
