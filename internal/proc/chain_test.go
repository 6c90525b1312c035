package proc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/wmem"
)

func key(t *testing.T, w *wmem.WMem, verb string) *wmem.Graphlet {
	t.Helper()
	g := wmem.NewGraphlet()
	restore := w.Build(g)
	defer restore()
	_, err := w.AddProp(w.Self(), "agt", verb, false, 1)
	require.NoError(t, err)
	return g
}

func TestKindNames(t *testing.T) {
	for k := Note; k <= Edit; k++ {
		got, ok := ParseKind(strings.ToLower(k.String()))
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("JUMP")
	assert.False(t, ok)
	assert.True(t, Done.Terminal())
	assert.False(t, Running.Terminal())
}

// loop builds EACH -> body -> (back to EACH), EACH.alt -> after.
func loop(t *testing.T, w *wmem.WMem) (*Chain, *Chain, *Chain) {
	each := Step(Each, key(t, w, "look"))
	body := Step(Do, key(t, w, "raise"))
	after := Step(Do, key(t, w, "say"))
	each.Cont = body
	body.Cont, body.ContBack = each, true
	each.Alt = after
	return each, body, after
}

func TestWalkStopsAtBackEdges(t *testing.T) {
	w, err := wmem.New(500, 0.5)
	require.NoError(t, err)
	each, body, after := loop(t, w)
	assert.Equal(t, []*Chain{each, body, after}, each.Steps())
	assert.Len(t, each.Keys(), 3)
}

func TestCloneRedirectsBackEdges(t *testing.T) {
	w, err := wmem.New(500, 0.5)
	require.NoError(t, err)
	each, body, _ := loop(t, w)
	body.Dir.Verdict = Done

	c := each.Clone()
	require.NotSame(t, each, c)
	require.NotSame(t, body, c.Cont)
	assert.Same(t, c, c.Cont.Cont, "loop closes on the copy")
	assert.True(t, c.Cont.ContBack)
	assert.Equal(t, Pending, c.Cont.Dir.Verdict)
	assert.Same(t, body.Dir.Key, c.Cont.Dir.Key)
	assert.NotSame(t, body.Dir, c.Cont.Dir)
}

func TestThenAndNext(t *testing.T) {
	w, err := wmem.New(500, 0.5)
	require.NoError(t, err)
	a, b, c := Step(Find, key(t, w, "a")), Step(Do, key(t, w, "b")), Step(Do, key(t, w, "c"))
	head := Then(a, nil, b, c)
	assert.Same(t, a, head)
	assert.Same(t, c, head.Last())

	f := Step(Do, key(t, w, "f"))
	a.Fail = f
	n, back := a.Next(Done)
	assert.Same(t, b, n)
	assert.False(t, back)
	n, _ = a.Next(Fail)
	assert.Same(t, f, n)
}

func TestPlayClone(t *testing.T) {
	w, err := wmem.New(500, 0.5)
	require.NoError(t, err)
	r := Step(Do, key(t, w, "walk"))
	g := Step(Do, key(t, w, "look"))
	u := Step(Wait, key(t, w, "arrive"))
	p := &Chain{Play: &Play{Req: []*Chain{r}, Guard: []*Chain{g}, Until: u, Looped: true}}

	steps := p.Steps()
	assert.Len(t, steps, 4)
	c := p.Clone()
	require.NotNil(t, c.Play)
	assert.True(t, c.Play.Looped)
	assert.NotSame(t, r, c.Play.Req[0])
	assert.NotSame(t, u, c.Play.Until)
	assert.Equal(t, Wait, c.Play.Until.Dir.Kind)

	out := FormatChain(w, p)
	assert.Contains(t, out, "PLAY req=1 guard=2 until=3 looped")
	assert.Contains(t, out, "WAIT")
}

func TestSameComparesShape(t *testing.T) {
	w, err := wmem.New(500, 0.5)
	require.NoError(t, err)
	a := NewDirective(Do, key(t, w, "wave"))
	b := NewDirective(Do, key(t, w, "wave"))
	c := NewDirective(Do, key(t, w, "nod"))
	assert.True(t, Same(w, a, b))
	assert.False(t, Same(w, a, c))
	assert.False(t, Same(w, a, NewDirective(Chk, a.Key)))
	assert.Equal(t, 1.0, a.Belief())
}
