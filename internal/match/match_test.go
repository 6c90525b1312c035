package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/wmem"
)

type world struct {
	t *testing.T
	w *wmem.WMem
}

func newWorld(t *testing.T) *world {
	w, err := wmem.New(2000, 0.5)
	require.NoError(t, err)
	return &world{t: t, w: w}
}

func (x *world) node(kind wmem.Kind, lex string) wmem.ID {
	id, err := x.w.MakeNode(kind, lex, false, 1)
	require.NoError(x.t, err)
	return id
}

func (x *world) prop(tgt wmem.ID, role, lex string) wmem.ID {
	id, err := x.w.AddProp(tgt, role, lex, false, 1)
	require.NoError(x.t, err)
	return id
}

// thing makes an object with a class and optional qualities.
func (x *world) thing(class string, hqs ...string) wmem.ID {
	o := x.node(wmem.Object, "")
	x.prop(o, "ako", class)
	for _, h := range hqs {
		x.prop(o, "hq", h)
	}
	return o
}

// pattern runs fn with a fresh graphlet scoped; fn's first node is main.
func (x *world) pattern(fn func()) *wmem.Graphlet {
	g := wmem.NewGraphlet()
	restore := x.w.Build(g)
	fn()
	restore()
	return g
}

func TestBestPicksMostRecent(t *testing.T) {
	x := newWorld(t)
	a := x.thing("block")
	b := x.thing("block")
	x.thing("cup")

	var v wmem.ID
	g := x.pattern(func() {
		v = x.node(wmem.Object, "")
		x.prop(v, "ako", "block")
	})

	all, err := All(x.w, g, Memory, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	first, _ := all[0].Get(v)
	second, _ := all[1].Get(v)
	assert.Equal(t, b, first)
	assert.Equal(t, a, second)

	x.w.Mention(a)
	best, err := Best(x.w, g, Memory, nil)
	require.NoError(t, err)
	got, _ := best.Get(v)
	assert.Equal(t, a, got, "mentioning a block makes it the referent")
}

func TestNoMatch(t *testing.T) {
	x := newWorld(t)
	x.thing("block")
	g := x.pattern(func() {
		v := x.node(wmem.Object, "")
		x.prop(v, "ako", "cup")
	})
	_, err := Best(x.w, g, Memory, nil)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.False(t, Holds(x.w, g, Memory, nil))
}

func TestWhatColorLookup(t *testing.T) {
	x := newWorld(t)
	block := x.thing("block")
	red := x.prop(block, "hq", "red")
	x.prop(red, "ako", "color")
	big := x.prop(block, "hq", "big")
	x.prop(big, "ako", "size")

	// FIND ?x: block
	var obj wmem.ID
	find := x.pattern(func() {
		obj = x.node(wmem.Object, "")
		x.prop(obj, "ako", "block")
	})
	env, err := Best(x.w, find, Memory, nil)
	require.NoError(t, err)

	// FIND ?p: ?p(hq: ?x), color(ako: ?p)
	var p wmem.ID
	q := x.pattern(func() {
		p = x.node(wmem.HQ, "")
		require.NoError(t, x.w.AddArg(p, "hq", obj))
		x.prop(p, "ako", "color")
	})
	b, err := Best(x.w, q, Memory, env)
	require.NoError(t, err)
	got, _ := b.Get(p)
	assert.Equal(t, red, got)
}

func TestUnbound(t *testing.T) {
	x := newWorld(t)
	var obj wmem.ID
	x.pattern(func() { obj = x.node(wmem.Object, "") })
	q := x.pattern(func() { x.prop(obj, "hq", "red") })
	_, err := All(x.w, q, Memory, nil)
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestNegationMustAgree(t *testing.T) {
	x := newWorld(t)
	block := x.thing("block")
	_, err := x.w.AddProp(block, "hq", "red", true, 1)
	require.NoError(t, err)

	pos := x.pattern(func() { x.prop(block, "hq", "red") })
	assert.False(t, Holds(x.w, pos, Memory, nil))

	neg := x.pattern(func() {
		_, err := x.w.AddProp(block, "hq", "red", true, 0)
		require.NoError(t, err)
	})
	assert.True(t, Holds(x.w, neg, Memory, nil))
}

func TestBeliefLowerBound(t *testing.T) {
	x := newWorld(t)
	block := x.thing("block")
	heavy := x.prop(block, "hq", "heavy")
	x.w.SetBlf(heavy, 0.7)

	loose := x.pattern(func() {
		_, err := x.w.AddProp(block, "hq", "heavy", false, 0)
		require.NoError(t, err)
	})
	strict := x.pattern(func() {
		_, err := x.w.AddProp(block, "hq", "heavy", false, 0.9)
		require.NoError(t, err)
	})
	assert.True(t, Holds(x.w, loose, Memory, nil))
	assert.False(t, Holds(x.w, strict, Memory, nil))

	x.w.SetMinBlf(0.8)
	assert.False(t, Holds(x.w, loose, Memory, nil), "threshold also bounds belief")
}

func TestInjective(t *testing.T) {
	x := newWorld(t)
	x.thing("block")

	g := x.pattern(func() {
		a := x.node(wmem.Object, "")
		x.prop(a, "ako", "block")
		b := x.node(wmem.Object, "")
		x.prop(b, "ako", "block")
	})
	assert.False(t, Holds(x.w, g, Memory, nil), "two variables cannot share one block")

	x.thing("block")
	all, err := All(x.w, g, Memory, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHaloSpace(t *testing.T) {
	x := newWorld(t)
	rex := x.node(wmem.Object, "")
	h, err := x.w.MakeHalo(wmem.Class, "animal", false, 1, nil)
	require.NoError(t, err)
	require.NoError(t, x.w.LinkHalo(h, "ako", rex))

	g := x.pattern(func() { x.prop(rex, "ako", "animal") })
	assert.False(t, Holds(x.w, g, MainOnly, nil))
	assert.True(t, Holds(x.w, g, Memory, nil))
}

func TestExtraAndAnchor(t *testing.T) {
	x := newWorld(t)
	// a directive key: move(agt: self, dir: forward)
	var mv wmem.ID
	key := x.pattern(func() {
		mv = x.prop(x.w.Self(), "agt", "move")
		fwd := x.node(wmem.Relation, "forward")
		require.NoError(t, x.w.AddArg(mv, "dir", fwd))
	})
	key.SetMain(mv)

	// operator trigger: move(dir: forward)
	var tm wmem.ID
	cond := x.pattern(func() {
		tm = x.node(wmem.Action, "move")
		d := x.node(wmem.Relation, "forward")
		require.NoError(t, x.w.AddArg(tm, "dir", d))
	})

	sp := Space{Main: true, Extra: key.Items(), Anchor: key.Main()}
	b, err := Best(x.w, cond, sp, nil)
	require.NoError(t, err)
	got, _ := b.Get(tm)
	assert.Equal(t, mv, got)

	assert.False(t, Holds(x.w, cond, MainOnly, nil), "key nodes are only visible as extras")
}

func TestPreBindingPinsItem(t *testing.T) {
	x := newWorld(t)
	a := x.thing("block")
	x.thing("block")
	var v wmem.ID
	g := x.pattern(func() {
		v = x.node(wmem.Object, "")
		x.prop(v, "ako", "block")
	})
	b, err := Best(x.w, g, Memory, NewBindings(wmem.Pair{Pat: v, Val: a}))
	require.NoError(t, err)
	got, _ := b.Get(v)
	assert.Equal(t, a, got)
}

func TestBindings(t *testing.T) {
	var b Bindings
	b.Set(1, 10)
	b.Set(2, 20)
	b.Set(1, 11)
	v, ok := b.Get(1)
	assert.True(t, ok)
	assert.Equal(t, wmem.ID(11), v)
	assert.Equal(t, 2, b.Len())
	assert.True(t, b.Bound(20))

	c := b.Clone()
	c.Delete(2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, c.Len())

	c.Merge(&b)
	assert.Equal(t, []wmem.Pair{{Pat: 1, Val: 11}, {Pat: 2, Val: 20}}, c.Pairs())
	assert.Equal(t, "{1:11, 2:20}", c.String())
}
