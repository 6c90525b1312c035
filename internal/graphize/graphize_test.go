package graphize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/lang"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/wmem"
)

type rig struct {
	w *wmem.WMem
	g *Graphizer
	p *lang.Parser
}

func newRig(t *testing.T) *rig {
	t.Helper()
	w, err := wmem.New(4000, 0.5)
	require.NoError(t, err)
	return &rig{w: w, g: New(w), p: lang.NewParser(nil)}
}

func (r *rig) lower(t *testing.T, text string) *Result {
	t.Helper()
	frames, err := r.p.Parse(text)
	require.NoError(t, err, text)
	res, err := r.g.Lower(frames[0])
	require.NoError(t, err, text)
	return res
}

// steps prints every step as "KIND shape".
func (r *rig) steps(c *proc.Chain) []string {
	var out []string
	for _, s := range c.Steps() {
		if s.Play != nil {
			out = append(out, "PLAY")
			continue
		}
		out = append(out, s.Dir.Kind.String()+" "+r.w.Shape(s.Dir.Key))
	}
	return out
}

func TestLowerFact(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "The block is red.")
	assert.False(t, res.Teaches())
	assert.Equal(t, []string{
		"BIND ?0=obj:; ?1=ako:block(ako ?0)",
		"NOTE ?0=hq:red(hq #obj); ?1=ako:color(ako ?0)",
	}, r.steps(res.Focus))

	bind := res.Focus.Dir.Key
	assert.True(t, r.w.Node(bind.Main()).Tags.Has(wmem.Definite|wmem.Singular))

	res = r.lower(t, "Rex is a dog.")
	assert.Equal(t, []string{
		"BIND ?0=obj:; ?1=name:Rex(name ?0)",
		"NOTE ?0=ako:dog(ako #obj)",
	}, r.steps(res.Focus))

	res = r.lower(t, "There is a cup.")
	assert.Equal(t, []string{"NOTE ?0=obj:; ?1=ako:cup(ako ?0)"}, r.steps(res.Focus))

	res = r.lower(t, "You are tired.")
	assert.Equal(t, []string{"NOTE ?0=hq:tired(hq #self); ?1=ako:mood(ako ?0)"}, r.steps(res.Focus))
}

func TestLowerWhQuestion(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "What color is the block?")
	assert.Equal(t, []string{
		"FIND ?0=obj:; ?1=ako:block(ako ?0)",
		"FIND ?0=hq:(hq #obj); ?1=ako:color(ako ?0)",
		"DO ?0=do:say(agt #self, obj #hq)",
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"I don't know"`,
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"I don't know"`,
	}, r.steps(res.Focus))

	find := res.Focus
	look := find.Cont
	require.NotNil(t, look)
	require.NotNil(t, look.Cont)
	say := r.w.Node(look.Cont.Dir.Key.Main())
	assert.Equal(t, look.Dir.Key.Main(), say.Arg("obj"), "the answer is the property found")
}

func TestLowerYesNo(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "Is Rex an animal?")
	steps := r.steps(res.Focus)
	require.Len(t, steps, 5)
	assert.Equal(t, "FIND ?0=obj:; ?1=name:Rex(name ?0)", steps[0])
	assert.Equal(t, "CHK ?0=ako:animal(ako #obj)", steps[1])
	assert.Equal(t, `DO ?0=do:say(agt #self, obj ?1); ?1=quote:"yes"`, steps[2])
	assert.Equal(t, `DO ?0=do:say(agt #self, obj ?1); ?1=quote:"no"`, steps[3])

	res = r.lower(t, "Is there a cup?")
	assert.Equal(t, []string{
		"CHK ?0=obj:; ?1=ako:cup(ako ?0)",
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"yes"`,
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"no"`,
	}, r.steps(res.Focus))
}

func TestLowerConditional(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "If there is a cup, pick it up; otherwise say 'no cup'.")
	assert.Equal(t, []string{
		"FIND ?0=obj:; ?1=ako:cup(ako ?0)",
		"DO ?0=do:pick_up(agt #self, obj #obj)",
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"no cup"`,
	}, r.steps(res.Focus))

	find := res.Focus
	pick := r.w.Node(find.Cont.Dir.Key.Main())
	assert.Equal(t, find.Dir.Key.Main(), pick.Arg("obj"), "it is the cup found")
	assert.Equal(t, "0 FIND", proc.FormatChain(r.w, find)[:6])
	assert.Contains(t, proc.FormatChain(r.w, find), "cont=1 fail=2")
}

func TestLowerCommands(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "Move forward 6 inches.")
	assert.Equal(t, []string{
		"DO ?0=do:move(agt #self, dir ?1, amt ?2); ?1=rel:forward; ?2=cnt:6; ?3=rel:inch(unit ?2)",
	}, r.steps(res.Focus))

	res = r.lower(t, "Pick up the red block and say hello.")
	steps := r.steps(res.Focus)
	require.Len(t, steps, 3)
	assert.Equal(t, "FIND ?0=obj:; ?1=ako:block(ako ?0); ?2=hq:red(hq ?0)", steps[0])
	assert.Equal(t, "DO ?0=do:pick_up(agt #self, obj #obj)", steps[1])
	assert.Equal(t, `DO ?0=do:say(agt #self, obj ?1); ?1=quote:"hello"`, steps[2])

	res = r.lower(t, "Wave until you see a dog.")
	require.NotNil(t, res.Focus.Play)
	assert.True(t, res.Focus.Play.Looped)
	require.NotNil(t, res.Focus.Play.Until)
	assert.Equal(t, proc.Wait, res.Focus.Play.Until.Dir.Kind)

	res = r.lower(t, "Spin while you sing.")
	require.NotNil(t, res.Focus.Play)
	require.Len(t, res.Focus.Play.Guard, 1)
	assert.Equal(t, []string{"PLAY", "DO ?0=do:spin(agt #self)", "DO ?0=do:sing(agt #self)"}, r.steps(res.Focus))
}

func TestLowerEachLoops(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "For each block, look at it.")
	each := res.Focus
	require.Equal(t, proc.Each, each.Dir.Kind)
	body := each.Cont
	require.NotNil(t, body)
	assert.Same(t, each, body.Cont)
	assert.True(t, body.ContBack)
	look := r.w.Node(body.Dir.Key.Main())
	assert.Equal(t, each.Dir.Key.Main(), look.Arg("obj"))

	res = r.lower(t, "For each block, look at it and say 'done'.")
	text := proc.FormatChain(r.w, res.Focus)
	assert.Contains(t, text, "cont=^0")
}

func TestLinkSequencesAfterLoops(t *testing.T) {
	r := newRig(t)
	b := &builder{w: r.w, vars: map[string]wmem.ID{}}
	body := b.say("a")
	e := loop(b.key(func() { b.node(wmem.Object, "", false, 0) }), body)
	after := b.say("b")
	head := seq(e, after)
	assert.Same(t, e, head)
	assert.Same(t, after, e.Alt, "an iteration continues through its alt exit")
	assert.Same(t, e, body.Cont)
	b.release()
}

func TestLowerRules(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "Dogs are animals.")
	require.Len(t, res.Rules, 1)
	rl := res.Rules[0]
	assert.Equal(t, "?0=obj:; ?2=ako:dog(ako ?0) => ?1=ako:animal(ako ?0)", r.w.Canon(rl.Cond, rl.Result))
	assert.Equal(t, "dog-animal", rl.Name)
	assert.Equal(t, []string{`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"OK"`}, r.steps(res.Focus))

	res = r.lower(t, "If X is a dog then X is an animal.")
	require.Len(t, res.Rules, 1)
	rl = res.Rules[0]
	assert.Equal(t, "?0=obj:; ?2=ako:dog(ako ?0) => ?1=ako:animal(ako ?0)", r.w.Canon(rl.Cond, rl.Result))
}

func TestLowerOperators(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "To greet someone, wave and say 'hello'.")
	require.Len(t, res.Ops, 1)
	o := res.Ops[0]
	assert.Equal(t, proc.Do, o.Kind)
	assert.Equal(t, "greet", o.Name)
	assert.Equal(t, ops.Default, o.Pref)
	assert.Equal(t, "?0=do:greet(agt #self, obj ?1); ?1=obj:", r.w.Shape(o.Cond))
	assert.Equal(t, []string{
		"DO ?0=do:wave(agt #self)",
		`DO ?0=do:say(agt #self, obj ?1); ?1=quote:"hello"`,
	}, r.steps(o.Method))
	assert.Equal(t, []string{"greet"}, res.Verbs)

	res = r.lower(t, "When you see a dog, you should say 'woof'.")
	o = res.Ops[0]
	assert.Equal(t, proc.Note, o.Kind)
	assert.InDelta(t, 0.8, o.Pref, 1e-9)
	assert.Equal(t, "?0=obj:; ?1=ako:dog(ako ?0)", r.w.Shape(o.Cond))
	assert.Empty(t, res.Verbs)

	res = r.lower(t, "When you are tired, pause.")
	assert.Equal(t, "?0=hq:tired(hq #self); ?1=ako:mood(ako ?0)", r.w.Shape(res.Ops[0].Cond))

	res = r.lower(t, "If you can't lift the box, say 'sorry'.")
	o = res.Ops[0]
	assert.Equal(t, proc.Note, o.Kind)
	assert.Equal(t, "?0=do:fail(act ?1); ?1=do:lift(agt #self, obj ?2); ?2=obj:; ?3=ako:box(ako ?2)", r.w.Shape(o.Cond))

	res = r.lower(t, "Don't move when you are tired.")
	o = res.Ops[0]
	assert.Equal(t, proc.Gate, o.Kind)
	assert.Equal(t, "?0=do:move(agt #self); ?1=hq:tired(hq #self); ?2=ako:mood(ako ?1)", r.w.Shape(o.Cond))
	assert.Equal(t, []string{"DO ?0=do:punt(agt #self)"}, r.steps(o.Method))

	res = r.lower(t, "You must never swim.")
	assert.InDelta(t, 1.5, res.Ops[0].Pref, 1e-9)

	res = r.lower(t, "Before you move, look forward.")
	assert.Equal(t, proc.Ante, res.Ops[0].Kind)
	assert.Equal(t, "before-move", res.Ops[0].Name)
}

func TestLowerEdit(t *testing.T) {
	r := newRig(t)
	res := r.lower(t, "To greet someone, say 'hi' instead of waving.")
	require.Equal(t, proc.Edit, res.Focus.Dir.Kind)
	rw := res.Focus.Dir.Replace
	require.NotNil(t, rw)
	assert.Equal(t, "?0=do:wave(agt #self)", r.w.Shape(rw.Old.Key))
	assert.Equal(t, `?0=do:say(agt #self, obj ?1); ?1=quote:"hi"`, r.w.Shape(rw.New.Key))
	assert.NotNil(t, res.Focus.Cont)
}

func TestLowerErrorsReleasePatterns(t *testing.T) {
	r := newRig(t)
	live := r.w.Pool().Live()

	f := &lang.Frame{
		Kind:    lang.FrameEdit,
		Trigger: &lang.Clause{Verb: "greet"},
		Main:    []lang.Clause{{Verb: "push", Obj: &lang.Phrase{Det: "the", Noun: "box"}}},
		Instead: &lang.Clause{Verb: "wave"},
	}
	_, err := r.g.Lower(f)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, live, r.w.Pool().Live())

	f = &lang.Frame{
		Kind:    lang.FrameOp,
		OpKind:  "do",
		Modal:   "seldom",
		Trigger: &lang.Clause{Verb: "greet"},
		Main:    []lang.Clause{{Verb: "wave"}},
	}
	_, err = r.g.Lower(f)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, live, r.w.Pool().Live())
}

func TestReleaseAndCanonRoundTrip(t *testing.T) {
	r := newRig(t)
	live := r.w.Pool().Live()
	for _, text := range []string{
		"The block is red.",
		"What color is the block?",
		"If there is a cup, pick it up; otherwise say 'no cup'.",
		"To greet someone, wave and say 'hello'.",
		"Dogs are animals.",
		"Wait until the door is open.",
	} {
		frames, err := r.p.Parse(text)
		require.NoError(t, err)
		res, err := r.g.Lower(frames[0])
		require.NoError(t, err, text)
		canon := Canon(r.w, res)
		for _, word := range frames[0].Words() {
			assert.Contains(t, canon, word, "%s: canonical form keeps %q", text, word)
		}
		assert.True(t, strings.HasSuffix(canon, "\n"))
		res.Release(r.w)
		assert.Equal(t, live, r.w.Pool().Live(), text)
	}
}
