package wmem

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pairs map[ID]ID

func (p pairs) Get(pat ID) (ID, bool) { v, ok := p[pat]; return v, ok }
func (p pairs) Set(pat, val ID)       { p[pat] = val }

func newMem(t *testing.T) *WMem {
	t.Helper()
	w, err := New(1000, 0.5)
	require.NoError(t, err)
	return w
}

func mustNode(t *testing.T, w *WMem, kind Kind, lex string) ID {
	t.Helper()
	id, err := w.MakeNode(kind, lex, false, 1)
	require.NoError(t, err)
	return id
}

func mustProp(t *testing.T, w *WMem, tgt ID, role, lex string) ID {
	t.Helper()
	id, err := w.AddProp(tgt, role, lex, false, 1)
	require.NoError(t, err)
	return id
}

func TestMakeNodeGoesToMain(t *testing.T) {
	w := newMem(t)
	v0 := w.Version()
	w.ClearDirty()

	b := mustNode(t, w, Object, "")
	n := w.Node(b)
	require.NotNil(t, n)
	assert.Equal(t, Main, n.Part)
	assert.Contains(t, w.Main(), b)
	assert.True(t, w.Dirty())
	assert.Greater(t, w.Version(), v0)
	assert.True(t, w.Node(w.Self()).Tags.Has(First))
}

func TestBeliefClamped(t *testing.T) {
	w := newMem(t)
	hi, err := w.MakeNode(Object, "", false, 3)
	require.NoError(t, err)
	lo, err := w.MakeNode(Object, "", false, -1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.Node(hi).Blf)
	assert.Equal(t, 0.0, w.Node(lo).Blf)
	assert.True(t, w.Hypothetical(lo))
	assert.NotNil(t, w.Node(lo), "hypothetical nodes are kept")
}

func TestAddPropKeepsInverse(t *testing.T) {
	w := newMem(t)
	block := mustNode(t, w, Object, "")
	red := mustProp(t, w, block, "hq", "red")

	assert.Equal(t, HQ, w.Node(red).Kind)
	assert.Equal(t, block, w.Node(red).Arg("hq"))
	assert.Equal(t, []Ref{{Role: "hq", Src: red}}, w.Node(block).Refs())
	require.NoError(t, w.CheckConsistency())

	_, err := w.AddProp(9999, "hq", "red", false, 1)
	assert.True(t, errors.Is(err, ErrNoNode))
}

func TestRecencyStrictlyIncreases(t *testing.T) {
	w := newMem(t)
	a := mustNode(t, w, Object, "")
	b := mustNode(t, w, Object, "")
	ra, rb := w.Node(a).Rec, w.Node(b).Rec
	assert.Greater(t, rb, ra)

	var last int64
	for i := 0; i < 5; i++ {
		w.Mention(a)
		assert.Greater(t, w.Node(a).Rec, last)
		last = w.Node(a).Rec
	}
	assert.Greater(t, w.Node(a).Rec, w.Node(b).Rec)
}

func TestExhausted(t *testing.T) {
	w, err := New(4, 0.5)
	require.NoError(t, err)
	mustNode(t, w, Object, "")
	mustNode(t, w, Object, "")
	_, err = w.MakeNode(Object, "", false, 1)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestBuildInScopesPatternNodes(t *testing.T) {
	w := newMem(t)
	before := len(w.Main())
	key := NewGraphlet()
	func() {
		defer w.Build(key)()
		x := mustNode(t, w, Object, "")
		mustProp(t, w, x, "ako", "block")
	}()
	assert.Len(t, w.Main(), before, "pattern nodes stay out of main")
	assert.Equal(t, 2, key.Len())
	assert.Equal(t, Pattern, w.Node(key.Main()).Part)
	assert.Nil(t, w.Building())

	// nested scopes restore in order
	outer, inner := NewGraphlet(), NewGraphlet()
	restoreOuter := w.Build(outer)
	restoreInner := w.Build(inner)
	mustNode(t, w, Object, "")
	restoreInner()
	mustNode(t, w, Object, "")
	restoreOuter()
	assert.Equal(t, 1, inner.Len())
	assert.Equal(t, 1, outer.Len())

	w.Release(key)
	assert.Nil(t, w.Node(key.Main()))
	require.NoError(t, w.CheckConsistency())
}

func TestAssertInstantiatesPattern(t *testing.T) {
	w := newMem(t)
	block := mustNode(t, w, Object, "")
	mustProp(t, w, block, "ako", "block")

	// pattern: ?x is red, with ?x bound to block
	key := NewGraphlet()
	restore := w.Build(key)
	x := mustNode(t, w, Object, "")
	red := mustProp(t, w, x, "hq", "red")
	restore()
	key.SetMain(red)

	b := pairs{x: block}
	src := w.NextSource()
	id, err := w.Assert(key, b, 1, false)
	require.NoError(t, err)

	n := w.Node(id)
	assert.Equal(t, "red", n.Lex)
	assert.Equal(t, Main, n.Part)
	assert.Equal(t, block, n.Arg("hq"))
	assert.Equal(t, src, n.Src)
	assert.Equal(t, id, b[red], "new values are written back")

	// asserting again reuses the fact
	again, err := w.Assert(key, pairs{x: block}, 1, false)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// forcing makes a second copy
	forced, err := w.Assert(key, pairs{x: block}, 1, true)
	require.NoError(t, err)
	assert.NotEqual(t, id, forced)
	require.NoError(t, w.CheckConsistency())
}

func TestAssertContradictionDemotes(t *testing.T) {
	w := newMem(t)
	block := mustNode(t, w, Object, "")
	red := mustProp(t, w, block, "hq", "red")

	key := NewGraphlet()
	restore := w.Build(key)
	x := mustNode(t, w, Object, "")
	notRed, err := w.AddProp(x, "hq", "red", true, 1)
	require.NoError(t, err)
	restore()
	key.SetMain(notRed)

	id, err := w.Assert(key, pairs{x: block}, 1, false)
	require.NoError(t, err)
	assert.True(t, w.Node(id).Neg)
	assert.Equal(t, 0.0, w.Node(red).Blf)
}

func TestAssertErrors(t *testing.T) {
	w := newMem(t)
	key := NewGraphlet()
	restore := w.Build(key)
	x := mustNode(t, w, Object, "")
	restore()

	// a second pattern referring to x without a binding
	other := NewGraphlet()
	restore = w.Build(other)
	p := mustProp(t, w, x, "hq", "red")
	other.SetMain(p)

	_, err := w.Assert(key, nil, 1, false)
	assert.ErrorIs(t, err, ErrNestedBuild)
	restore()

	_, err = w.Assert(other, pairs{}, 1, false)
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestActualize(t *testing.T) {
	w := newMem(t)
	x, err := w.MakeNode(Object, "", false, 0)
	require.NoError(t, err)
	cup, err := w.AddProp(x, "ako", "cup", false, 0)
	require.NoError(t, err)
	real := mustProp(t, w, x, "hq", "blue")
	w.SetBlf(real, 0.7)

	w.Actualize(x, 1)
	assert.Equal(t, 1.0, w.Node(x).Blf)
	assert.Equal(t, 1.0, w.Node(cup).Blf)
	assert.Equal(t, 0.7, w.Node(real).Blf, "believed properties are left alone")
}

func TestConvo(t *testing.T) {
	w := newMem(t)
	a := mustNode(t, w, Object, "")
	w.MarkConvo(a)
	w.MarkConvo(a)
	assert.Equal(t, []ID{a}, w.Convo())
	assert.True(t, w.Node(a).Convo)
	w.ClearConvo()
	assert.False(t, w.Node(a).Convo)
	assert.Empty(t, w.Convo())
}

func TestHaloAndReify(t *testing.T) {
	w := newMem(t)
	rex := mustNode(t, w, Object, "")
	w.NextSource()
	dog := mustProp(t, w, rex, "ako", "dog")
	w.ClearDirty()

	h, err := w.MakeHalo(Class, "animal", false, 1, &Derivation{Rule: 1, Cond: []Pair{{Pat: 99, Val: dog}}, Conf: 1})
	require.NoError(t, err)
	require.NoError(t, w.LinkHalo(h, "ako", rex))
	assert.False(t, w.Dirty(), "halo growth does not dirty main")
	assert.Equal(t, []ID{h}, w.Halo())
	require.NoError(t, w.CheckConsistency())

	m, err := w.Reify(h)
	require.NoError(t, err)
	assert.Equal(t, Main, w.Node(m).Part)
	assert.Equal(t, rex, w.Node(m).Arg("ako"))
	assert.Equal(t, w.Node(dog).Src, w.Node(m).Src, "inherits provenance")
	assert.Nil(t, w.Node(m).Deriv, "main nodes hold no halo bindings")
	assert.True(t, w.Dirty())

	again, err := w.Reify(h)
	require.NoError(t, err)
	assert.Equal(t, m, again)

	w.WipeHalo()
	assert.Empty(t, w.Halo())
	assert.NotNil(t, w.Node(m), "reified copy survives the wipe")
	assert.Nil(t, w.Node(m).Deriv)
	require.NoError(t, w.CheckConsistency())
}

func TestMainNeverPointsIntoHalo(t *testing.T) {
	w := newMem(t)
	rex := mustNode(t, w, Object, "")
	h, err := w.MakeHalo(Object, "", false, 1, nil)
	require.NoError(t, err)
	require.NoError(t, w.LinkHalo(h, "near", rex))

	rel := mustNode(t, w, Relation, "likes")
	require.NoError(t, w.AddArg(rel, "obj", h))
	tgt := w.Node(rel).Arg("obj")
	assert.NotEqual(t, h, tgt)
	assert.Equal(t, Main, w.Node(tgt).Part)
	require.NoError(t, w.CheckConsistency())
}

func TestCanonIgnoresInsertionOrder(t *testing.T) {
	w := newMem(t)
	build := func(order int) *Graphlet {
		g := NewGraphlet()
		defer w.Build(g)()
		x := mustNode(t, w, Object, "")
		if order == 0 {
			mustProp(t, w, x, "hq", "big")
			mustProp(t, w, x, "ako", "box")
		} else {
			mustProp(t, w, x, "ako", "box")
			mustProp(t, w, x, "hq", "big")
		}
		return g
	}
	a, b := build(0), build(1)
	if diff := cmp.Diff(w.Canon(a), w.Canon(b)); diff != "" {
		t.Errorf("canon mismatch (-a +b):\n%s", diff)
	}
	assert.Equal(t, "?0=obj:; ?1=ako:box(ako ?0); ?2=hq:big(hq ?0)", w.Canon(a))
}

func TestShapeComparesConstantsByContent(t *testing.T) {
	w := newMem(t)
	key := func() *Graphlet {
		g := NewGraphlet()
		defer w.Build(g)()
		mustProp(t, w, w.Self(), "agt", "wave")
		return g
	}
	a, b := key(), key()
	assert.Equal(t, w.Shape(a), w.Shape(b))
	assert.Equal(t, "?0=do:wave(agt #self)", w.Shape(a))
}

func TestDump(t *testing.T) {
	w := newMem(t)
	block := mustNode(t, w, Object, "")
	mustProp(t, w, block, "hq", "red")
	snap := w.Dump()
	assert.Len(t, snap.Main, len(w.Main()))
	last := snap.Main[len(snap.Main)-1]
	assert.Equal(t, "red", last.Lex)
	assert.Equal(t, "hq", last.Kind)
	assert.Equal(t, []Arg{{Role: "hq", Tgt: block}}, last.Args)
}
