package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/match"
	"alia/internal/wmem"
)

type kit struct {
	t *testing.T
	w *wmem.WMem
	s *Store
}

func newKit(t *testing.T) *kit {
	w, err := wmem.New(4000, 0.5)
	require.NoError(t, err)
	return &kit{t: t, w: w, s: NewStore(DefaultPasses)}
}

func (k *kit) node(kind wmem.Kind, lex string, blf float64) wmem.ID {
	id, err := k.w.MakeNode(kind, lex, false, blf)
	require.NoError(k.t, err)
	return id
}

func (k *kit) prop(tgt wmem.ID, role, lex string, blf float64) wmem.ID {
	id, err := k.w.AddProp(tgt, role, lex, false, blf)
	require.NoError(k.t, err)
	return id
}

func (k *kit) in(fn func()) *wmem.Graphlet {
	g := wmem.NewGraphlet()
	restore := k.w.Build(g)
	fn()
	restore()
	return g
}

// classRule builds "every <from> is a <to>": ?x, from(ako ?x) => to(ako ?x).
func (k *kit) classRule(name, from, to string, conf float64) *Rule {
	var x wmem.ID
	cond := k.in(func() {
		x = k.node(wmem.Object, "", 0)
		k.prop(x, "ako", from, 0)
	})
	result := k.in(func() { k.prop(x, "ako", to, 1) })
	return &Rule{Name: name, Cond: cond, Result: result, Conf: conf}
}

func (k *kit) dog(name string) wmem.ID {
	rex := k.node(wmem.Object, "", 1)
	k.prop(rex, "name", name, 1)
	k.prop(rex, "ako", "dog", 1)
	return rex
}

// isA builds the query "?x is a <class>" pinned to obj.
func (k *kit) isA(obj wmem.ID, class string) *wmem.Graphlet {
	return k.in(func() { k.prop(obj, "ako", class, 0) })
}

func TestHaloDerivesFromRule(t *testing.T) {
	k := newKit(t)
	_, added := k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 1), Kernel, false)
	require.True(t, added)
	rex := k.dog("rex")

	n, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q := k.isA(rex, "animal")
	assert.False(t, match.Holds(k.w, q, match.MainOnly, nil), "derived facts stay out of main")
	assert.True(t, match.Holds(k.w, q, match.Memory, nil))
	require.NoError(t, k.w.CheckConsistency())
}

func TestHaloChainsAndIsIdempotent(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "mammal", 1), Kernel, false)
	k.s.AddRule(k.w, k.classRule("mammals", "mammal", "animal", 1), Kernel, false)
	rex := k.dog("rex")

	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.True(t, match.Holds(k.w, k.isA(rex, "animal"), match.Memory, nil))
	before := HaloFacts(k.w)

	k.w.Invalidate()
	_, err = k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Equal(t, before, HaloFacts(k.w))
}

func TestRefreshSkippedWhenClean(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 1), Kernel, false)
	k.dog("rex")
	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	first := k.w.Halo()[0]

	_, err = k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Equal(t, first, k.w.Halo()[0], "a clean memory keeps its halo")
}

func TestDerivedBelief(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 0.9), Kernel, false)
	rex := k.node(wmem.Object, "", 1)
	k.prop(rex, "ako", "dog", 0.8)

	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	require.Len(t, k.w.Halo(), 1)
	assert.InDelta(t, 0.72, k.w.Node(k.w.Halo()[0]).Blf, 1e-9)
}

func TestBelowThresholdNotDerived(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 0.5), Kernel, false)
	rex := k.node(wmem.Object, "", 1)
	k.prop(rex, "ako", "dog", 0.8)

	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Empty(t, k.w.Halo())
}

func TestExistingFactNotDuplicated(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 1), Kernel, false)
	rex := k.dog("rex")
	k.prop(rex, "ako", "animal", 1)

	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Empty(t, k.w.Halo())
}

func TestPassCap(t *testing.T) {
	k := newKit(t)
	k.s = NewStore(1)
	k.s.AddRule(k.w, k.classRule("b", "mammal", "animal", 1), Kernel, false)
	k.s.AddRule(k.w, k.classRule("a", "dog", "mammal", 1), Kernel, false)
	rex := k.dog("rex")

	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.True(t, match.Holds(k.w, k.isA(rex, "mammal"), match.Memory, nil))
	assert.False(t, match.Holds(k.w, k.isA(rex, "animal"), match.Memory, nil),
		"a single pass cannot chain a rule listed before its premise")
}

func TestDuplicateRuleSuppressed(t *testing.T) {
	k := newKit(t)
	a, added := k.s.AddRule(k.w, k.classRule("one", "dog", "animal", 0.6), Kernel, false)
	require.True(t, added)
	b, added := k.s.AddRule(k.w, k.classRule("two", "dog", "animal", 0.9), Accumulated, true)
	assert.False(t, added)
	assert.Same(t, a, b)
	assert.Equal(t, 0.9, a.Conf)
	assert.Len(t, k.s.Rules(), 1)
	assert.Empty(t, k.s.Learned())
	assert.Len(t, k.s.Fresh(), 1)
	assert.Empty(t, k.s.Fresh())
}

func TestNewRuleInvalidatesHalo(t *testing.T) {
	k := newKit(t)
	rex := k.dog("rex")
	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.False(t, k.w.Dirty())

	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 1), Accumulated, true)
	assert.True(t, k.w.Dirty())
	_, err = k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.True(t, match.Holds(k.w, k.isA(rex, "animal"), match.Memory, nil))
}

// =============================================================================
// CONSOLIDATION
// =============================================================================

// cargoRules: big boxes are cargo; cargo needs two hands.
func (k *kit) cargoRules() (*Rule, *Rule) {
	var x wmem.ID
	c1 := k.in(func() {
		x = k.node(wmem.Object, "", 0)
		k.prop(x, "ako", "box", 0)
		k.prop(x, "hq", "big", 0)
	})
	r1 := k.in(func() { k.prop(x, "ako", "cargo", 1) })

	var y wmem.ID
	c2 := k.in(func() {
		y = k.node(wmem.Object, "", 0)
		k.prop(y, "ako", "cargo", 0)
	})
	r2 := k.in(func() { k.prop(y, "hq", "two-handed", 1) })

	return &Rule{Name: "cargo", Cond: c1, Result: r1, Conf: 0.9},
		&Rule{Name: "hands", Cond: c2, Result: r2, Conf: 0.8}
}

func (k *kit) bigBox() wmem.ID {
	b := k.node(wmem.Object, "", 1)
	k.prop(b, "ako", "box", 1)
	k.prop(b, "hq", "big", 1)
	return b
}

func TestConsolidateTwoStep(t *testing.T) {
	k := newKit(t)
	a, b := k.cargoRules()
	k.s.AddRule(k.w, a, Kernel, false)
	k.s.AddRule(k.w, b, Kernel, false)
	box := k.bigBox()
	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)

	q := k.in(func() { k.prop(box, "hq", "two-handed", 0) })
	bind, err := match.Best(k.w, q, match.Memory, nil)
	require.NoError(t, err)

	made, err := k.s.Consolidate(k.w, bind)
	require.NoError(t, err)
	require.Len(t, made, 1)
	r := made[0]
	assert.Equal(t, Accumulated, r.Level)
	assert.False(t, r.Published)
	assert.InDelta(t, 0.72, r.Conf, 1e-9)

	// the hand-written one-step rule is the same rule
	var x wmem.ID
	want := &Rule{
		Cond: k.in(func() {
			x = k.node(wmem.Object, "", 0)
			k.prop(x, "hq", "big", 0)
			k.prop(x, "ako", "box", 0)
		}),
		Result: k.in(func() { k.prop(x, "hq", "two-handed", 1) }),
	}
	assert.Equal(t, Canon(k.w, want), Canon(k.w, r))
	_, added := k.s.AddRule(k.w, want, Accumulated, false)
	assert.False(t, added)

	again, err := k.s.Consolidate(k.w, bind)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestConsolidatedRuleMatchesMainAlone(t *testing.T) {
	k := newKit(t)
	a, b := k.cargoRules()
	k.s.AddRule(k.w, a, Kernel, false)
	k.s.AddRule(k.w, b, Kernel, false)
	box := k.bigBox()
	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	made, err := k.s.ConsolidateHalo(k.w)
	require.NoError(t, err)
	require.Len(t, made, 1)

	all, err := match.All(k.w, made[0].Cond, match.MainOnly, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got, ok := all[0].Get(made[0].Cond.Main())
	require.True(t, ok)
	assert.Equal(t, box, got)

	before := len(k.w.Halo())
	_, err = k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	assert.Len(t, k.w.Halo(), before, "the one-step rule adds no new facts")
}

func TestSingleStepNotConsolidated(t *testing.T) {
	k := newKit(t)
	k.s.AddRule(k.w, k.classRule("dogs", "dog", "animal", 1), Kernel, false)
	k.dog("rex")
	_, err := k.s.RefreshHalo(k.w)
	require.NoError(t, err)
	made, err := k.s.ConsolidateHalo(k.w)
	require.NoError(t, err)
	assert.Empty(t, made)
	assert.Len(t, k.s.Rules(), 1)
}
