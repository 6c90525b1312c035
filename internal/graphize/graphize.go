// Package graphize lowers parsed sentences into working-memory fragments:
// foci for the engine, rules for the halo and operators for the procedural
// store. References are resolved at run time by FIND and BIND steps, so a
// lowered sentence holds only pattern nodes and constants.
package graphize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alia/internal/lang"
	"alia/internal/logging"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// ErrUnsupported is returned for readings the graphizer has no lowering for.
var ErrUnsupported = errors.New("reading not supported")

// Spoken replies built into lowered chains.
const (
	Ack     = "OK"
	Unknown = "I don't know"
)

// Result is the lowering of one reading. Teaching readings carry rules or
// operators and an acknowledgement focus; the others carry only a focus.
type Result struct {
	Kind  lang.FrameKind
	Text  string
	Score float64
	Focus *proc.Chain
	Rules []*rules.Rule
	Ops   []*ops.Operator
	Verbs []string // action words an operator teaches
}

// Teaches reports whether the result adds knowledge rather than acting.
func (r *Result) Teaches() bool { return len(r.Rules) > 0 || len(r.Ops) > 0 }

// Release frees every pattern node of the result. Only for results that
// were not handed to the stores or the engine.
func (r *Result) Release(w *wmem.WMem) {
	if r.Focus != nil {
		r.Focus.Release(w)
	}
	for _, rl := range r.Rules {
		ReleaseRule(w, rl)
	}
	for _, o := range r.Ops {
		ReleaseOp(w, o)
	}
}

// ReleaseRule frees the graphlets of a rule the store did not keep.
func ReleaseRule(w *wmem.WMem, r *rules.Rule) {
	w.Release(r.Cond)
	w.Release(r.Result)
}

// ReleaseOp frees the graphlets of an operator the store did not keep.
func ReleaseOp(w *wmem.WMem, o *ops.Operator) {
	w.Release(o.Cond)
	for _, u := range o.Unless {
		w.Release(u)
	}
	if o.Method != nil {
		o.Method.Release(w)
	}
}

// Canon prints a result in canonical form: the focus one step per line,
// then one line per rule and operator.
func Canon(w *wmem.WMem, r *Result) string {
	var sb strings.Builder
	if r.Focus != nil {
		sb.WriteString(proc.FormatChain(w, r.Focus))
	}
	for _, rl := range r.Rules {
		fmt.Fprintf(&sb, "RULE %s %s\n", rl.Name, rules.Canon(w, rl))
	}
	for _, o := range r.Ops {
		fmt.Fprintf(&sb, "OP %s %s\n", o.Name, ops.Canon(w, o))
	}
	return sb.String()
}

// Graphizer lowers frames against one working memory.
type Graphizer struct {
	w *wmem.WMem
}

// New creates a graphizer building its patterns in w.
func New(w *wmem.WMem) *Graphizer { return &Graphizer{w: w} }

// Lower converts one reading. On error nothing stays allocated.
func (g *Graphizer) Lower(f *lang.Frame) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryGraphize, "Lower")
	defer timer.Stop()

	b := &builder{w: g.w, vars: make(map[string]wmem.ID)}
	res := &Result{Kind: f.Kind, Text: f.Text, Score: f.Score}
	if err := b.lower(f, res); err != nil {
		b.release()
		return nil, fmt.Errorf("%s %q: %w", f.Kind, f.Text, err)
	}
	if b.err != nil {
		b.release()
		return nil, fmt.Errorf("%s %q: %w", f.Kind, f.Text, b.err)
	}
	logging.GraphizeDebug("%s lowered:\n%s", f, Canon(g.w, res))
	return res, nil
}

func (b *builder) lower(f *lang.Frame, res *Result) error {
	switch f.Kind {
	case lang.FrameFact:
		res.Focus = b.fact(&f.Main[0])
	case lang.FrameYesNo:
		res.Focus = b.yesNo(&f.Main[0])
	case lang.FrameWh:
		res.Focus = b.wh(f.Ask, f.Main[0].Subj)
	case lang.FrameCommand:
		res.Focus = b.command(f)
	case lang.FrameCond:
		res.Focus = b.conditional(f)
	case lang.FrameEach:
		res.Focus = b.each(f.Over, f.Main)
	case lang.FrameWait:
		res.Focus = b.step(proc.Wait, func() { b.situation(f.Cond, 0) })
	case lang.FrameRule:
		res.Rules = []*rules.Rule{b.rule(f)}
		res.Focus = b.say(Ack)
	case lang.FrameOp:
		o, err := b.operator(f)
		if err != nil {
			return err
		}
		res.Ops = []*ops.Operator{o}
		if f.OpKind == "do" || f.OpKind == "fail" || f.OpKind == "ante" {
			res.Verbs = append(res.Verbs, f.Trigger.Verb)
		}
		res.Focus = b.say(Ack)
	case lang.FrameEdit:
		c, err := b.edit(f)
		if err != nil {
			return err
		}
		res.Focus = c
	default:
		return ErrUnsupported
	}
	return nil
}

// =============================================================================
// BUILDER
// =============================================================================

// builder accumulates the patterns of one reading. Node errors are sticky:
// after the first failure every call is a no-op and Lower reports it.
type builder struct {
	w    *wmem.WMem
	vars map[string]wmem.ID // rule variables
	it   wmem.ID            // referent of "it"
	made []*wmem.Graphlet
	err  error
}

func (b *builder) release() {
	for _, g := range b.made {
		b.w.Release(g)
	}
	b.made = nil
}

func (b *builder) node(kind wmem.Kind, lex string, neg bool, blf float64) wmem.ID {
	if b.err != nil {
		return wmem.None
	}
	id, err := b.w.MakeNode(kind, lex, neg, blf)
	b.err = err
	return id
}

func (b *builder) prop(tgt wmem.ID, role, lex string, neg bool, blf float64) wmem.ID {
	if b.err != nil || tgt == wmem.None {
		return wmem.None
	}
	id, err := b.w.AddProp(tgt, role, lex, neg, blf)
	b.err = err
	return id
}

func (b *builder) arg(src wmem.ID, role string, tgt wmem.ID) {
	if b.err != nil || src == wmem.None || tgt == wmem.None {
		return
	}
	b.err = b.w.AddArg(src, role, tgt)
}

// key builds a pattern graphlet. The first node fn makes is its main.
func (b *builder) key(fn func()) *wmem.Graphlet {
	g := wmem.NewGraphlet()
	restore := b.w.Build(g)
	fn()
	restore()
	b.made = append(b.made, g)
	return g
}

func (b *builder) step(kind proc.Kind, fn func()) *proc.Chain {
	return proc.Step(kind, b.key(fn))
}

// link attaches next to the success exit of c: the alt edge of an EACH
// loop, otherwise the end of the cont edges.
func link(c, next *proc.Chain) {
	for c != nil {
		if c.Dir != nil && c.Dir.Kind == proc.Each {
			if c.Alt == nil {
				c.Alt = next
				return
			}
			c = c.Alt
			continue
		}
		if c.Cont == nil || c.ContBack {
			c.Cont, c.ContBack = next, false
			return
		}
		c = c.Cont
	}
}

// seq joins fragments in order, skipping nils.
func seq(frags ...*proc.Chain) *proc.Chain {
	var head, tail *proc.Chain
	for _, f := range frags {
		if f == nil {
			continue
		}
		if head == nil {
			head = f
		} else {
			link(tail, f)
		}
		tail = f
	}
	return head
}

// loop makes an EACH over key whose body returns to it.
func loop(key *wmem.Graphlet, body *proc.Chain) *proc.Chain {
	e := &proc.Chain{Dir: proc.NewDirective(proc.Each, key)}
	if body == nil {
		return e
	}
	e.Cont = body
	tail := body
	for tail.Cont != nil && !tail.ContBack {
		tail = tail.Cont
	}
	tail.Cont, tail.ContBack = e, true
	return e
}

func num(n float64) string { return strconv.FormatFloat(n, 'g', -1, 64) }

// =============================================================================
// NOUN PHRASES
// =============================================================================

// describe builds an object with the phrase's class, qualities and name
// inside the current key and returns it.
func (b *builder) describe(ph *lang.Phrase, blf float64) wmem.ID {
	x := b.node(wmem.Object, "", false, blf)
	for _, q := range ph.Quals {
		b.prop(x, "hq", q.Word, false, blf)
	}
	if ph.Noun != "" {
		b.prop(x, "ako", ph.Noun, false, blf)
	}
	if ph.Name != "" {
		b.prop(x, "name", ph.Name, false, blf)
	}
	if x != wmem.None {
		b.w.SetTags(x, tags(ph))
	}
	return x
}

func tags(ph *lang.Phrase) wmem.Tags {
	t := wmem.Third | wmem.Singular
	if ph.Plural {
		t = wmem.Third | wmem.Plural
	}
	switch ph.Det {
	case "the", "your", "my":
		t |= wmem.Definite
	case "this", "these":
		t |= wmem.Definite | wmem.Proximal
	case "that", "those":
		t |= wmem.Definite | wmem.Distal
	}
	if ph.Name != "" {
		t |= wmem.Definite
	}
	return t
}

// someThing is the pattern for an unspecific "it": the most recent object
// with some class.
func (b *builder) someThing(blf float64) wmem.ID {
	x := b.node(wmem.Object, "", false, blf)
	b.prop(x, "ako", "", false, 0)
	return x
}

// constant resolves phrases that never need a search.
func (b *builder) constant(ph *lang.Phrase) (wmem.ID, bool) {
	switch {
	case ph.Pron == "you":
		return b.w.Self(), true
	case ph.Pron == "me":
		return b.w.User(), true
	case ph.Pron == "it" && b.it != wmem.None:
		return b.it, true
	case ph.Var != "":
		if v, ok := b.vars[ph.Var]; ok {
			return v, true
		}
	}
	return wmem.None, false
}

// ref resolves a phrase for later steps: a constant, or the object variable
// of a new FIND or BIND step that precedes them.
func (b *builder) ref(ph *lang.Phrase, kind proc.Kind) (*proc.Chain, wmem.ID) {
	if v, ok := b.constant(ph); ok {
		return nil, v
	}
	var x wmem.ID
	c := b.step(kind, func() {
		if ph.Pron == "it" {
			x = b.someThing(0)
			return
		}
		x = b.describe(ph, 0)
	})
	b.it = x
	return c, x
}

// inline resolves a phrase inside the current key: constants directly,
// anything else as a fresh description. Used for self-contained situations.
func (b *builder) inline(ph *lang.Phrase, blf float64) wmem.ID {
	if v, ok := b.constant(ph); ok {
		return v
	}
	var x wmem.ID
	if ph.Pron == "it" {
		x = b.someThing(blf)
	} else {
		x = b.describe(ph, blf)
	}
	if ph.Var != "" {
		b.vars[ph.Var] = x
	}
	if b.it == wmem.None {
		b.it = x
	}
	return x
}

// predicate hangs the clause's qualities and class off x and returns the
// first property. A quality's category is recorded as its class so
// "what color" questions can find it.
func (b *builder) predicate(x wmem.ID, c *lang.Clause, blf float64) wmem.ID {
	first := wmem.None
	keep := func(id wmem.ID) {
		if first == wmem.None {
			first = id
		}
	}
	for _, q := range c.Quals {
		h := b.prop(x, "hq", q.Word, c.Neg, blf)
		keep(h)
		if q.Cat != "" {
			b.prop(h, "ako", q.Cat, false, blf)
		}
	}
	if c.Class != nil {
		keep(b.prop(x, "ako", c.Class.Noun, c.Neg, blf))
	}
	return first
}

// situation builds a self-contained condition in the current key and
// returns its subject and its first property. For existence the property
// is the subject itself.
func (b *builder) situation(c *lang.Clause, blf float64) (subj, prop wmem.ID) {
	subj = b.inline(c.Subj, blf)
	if c.Exist {
		return subj, subj
	}
	return subj, b.predicate(subj, c, blf)
}

// =============================================================================
// ACTIONS
// =============================================================================

// act builds verb(agt: self) with the clause's modifiers in the current key.
func (b *builder) act(c *lang.Clause, obj wmem.ID, blf float64) wmem.ID {
	v := b.prop(b.w.Self(), "agt", c.Verb, c.Neg, blf)
	if obj != wmem.None {
		b.arg(v, "obj", obj)
	}
	if c.Dir != "" {
		b.arg(v, "dir", b.node(wmem.Relation, c.Dir, false, blf))
	}
	if c.Amt != nil {
		n := b.node(wmem.Count, num(c.Amt.Num), false, blf)
		b.arg(v, "amt", n)
		if c.Amt.Unit != "" {
			b.prop(n, "unit", c.Amt.Unit, false, blf)
		}
	}
	if c.Quote != "" {
		role := "obj"
		if obj != wmem.None {
			role = "ref"
		}
		b.arg(v, role, b.node(wmem.Quote, c.Quote, false, blf))
	}
	return v
}

// say speaks a fixed text.
func (b *builder) say(text string) *proc.Chain {
	return b.step(proc.Do, func() {
		b.act(&lang.Clause{Verb: "say", Quote: text}, wmem.None, 1)
	})
}

// action lowers one imperative clause: resolve its object, then DO. A
// plural object repeats the action for each referent.
func (b *builder) action(c *lang.Clause) *proc.Chain {
	if c.Obj == nil {
		return b.step(proc.Do, func() { b.act(c, wmem.None, 1) })
	}
	if _, ok := b.constant(c.Obj); !ok && c.Obj.Plural {
		var x wmem.ID
		key := b.key(func() { x = b.describe(c.Obj, 0) })
		b.it = x
		return loop(key, b.step(proc.Do, func() { b.act(c, x, 1) }))
	}
	find, x := b.ref(c.Obj, proc.Find)
	return seq(find, b.step(proc.Do, func() { b.act(c, x, 1) }))
}

func (b *builder) body(cs []lang.Clause) *proc.Chain {
	frags := make([]*proc.Chain, 0, len(cs))
	for i := range cs {
		frags = append(frags, b.action(&cs[i]))
	}
	return seq(frags...)
}

// =============================================================================
// SENTENCES
// =============================================================================

// fact: BIND the subject, inventing it if unknown, then NOTE the predicate.
// Existence notes a new object; "there is no N" retracts every N.
func (b *builder) fact(c *lang.Clause) *proc.Chain {
	if c.Exist {
		if c.Neg {
			var x wmem.ID
			key := b.key(func() { x = b.describe(c.Subj, 0) })
			return loop(key, b.step(proc.Note, func() { b.prop(x, "ako", c.Subj.Noun, true, 1) }))
		}
		return b.step(proc.Note, func() { b.describe(c.Subj, 1) })
	}
	if _, ok := b.constant(c.Subj); !ok && c.Subj.Plural {
		var x wmem.ID
		key := b.key(func() { x = b.describe(c.Subj, 0) })
		return loop(key, b.step(proc.Note, func() { b.predicate(x, c, 1) }))
	}
	bind, x := b.ref(c.Subj, proc.Bind)
	return seq(bind, b.step(proc.Note, func() { b.predicate(x, c, 1) }))
}

// yesNo: CHK the clause and answer.
func (b *builder) yesNo(c *lang.Clause) *proc.Chain {
	yes, no := "yes", "no"
	if c.Neg {
		yes, no = no, yes
	}
	if c.Exist {
		chk := b.step(proc.Chk, func() { b.describe(c.Subj, 0) })
		chk.Cont, chk.Fail = b.say(yes), b.say(no)
		return chk
	}
	find, x := b.ref(c.Subj, proc.Find)
	pos := *c
	pos.Neg = false
	chk := b.step(proc.Chk, func() { b.predicate(x, &pos, 0) })
	chk.Cont, chk.Fail = b.say(yes), b.say(no)
	if find == nil {
		return chk
	}
	find.Cont, find.Fail = chk, b.say(Unknown)
	return find
}

// wh: FIND the subject, FIND the asked-for property, say it.
func (b *builder) wh(ask string, subj *lang.Phrase) *proc.Chain {
	find, x := b.ref(subj, proc.Find)
	var q wmem.ID
	look := b.step(proc.Find, func() {
		switch ask {
		case "what":
			q = b.prop(x, "ako", "", false, 0)
		case "who":
			q = b.prop(x, "name", "", false, 0)
		default:
			q = b.prop(x, "hq", "", false, 0)
			b.prop(q, "ako", ask, false, 0)
		}
	})
	look.Cont = b.step(proc.Do, func() {
		v := b.prop(b.w.Self(), "agt", "say", false, 1)
		b.arg(v, "obj", q)
	})
	look.Fail = b.say(Unknown)
	if find == nil {
		return look
	}
	find.Cont, find.Fail = look, b.say(Unknown)
	return find
}

// command: the body alone, beside a guard, or repeated until a situation.
func (b *builder) command(f *lang.Frame) *proc.Chain {
	body := b.body(f.Main)
	switch {
	case len(f.While) > 0:
		return &proc.Chain{Play: &proc.Play{Req: []*proc.Chain{body}, Guard: []*proc.Chain{b.body(f.While)}}}
	case f.Looped:
		until := b.step(proc.Wait, func() { b.situation(f.Cond, 0) })
		return &proc.Chain{Play: &proc.Play{Req: []*proc.Chain{body}, Until: until, Looped: true}}
	}
	return body
}

// conditional tests the situation; success runs Then, any failure Else.
// An existence test binds "it".
func (b *builder) conditional(f *lang.Frame) *proc.Chain {
	c := f.Cond
	var test, first *proc.Chain
	if c.Exist {
		var x wmem.ID
		test = b.step(proc.Find, func() { x = b.describe(c.Subj, 0) })
		b.it = x
		first = test
	} else {
		var x wmem.ID
		first, x = b.ref(c.Subj, proc.Find)
		pos := *c
		pos.Neg = false
		test = b.step(proc.Chk, func() { b.predicate(x, &pos, 0) })
		if first == nil {
			first = test
		} else {
			first.Cont = test
		}
	}
	then := b.body(f.Then)
	var els *proc.Chain
	if len(f.Else) > 0 {
		els = b.body(f.Else)
	}
	if c.Neg {
		then, els = els, then
	}
	test.Cont, test.Fail = then, els
	if first != test {
		first.Fail = els
	}
	return first
}

// each iterates the body over every referent of the phrase.
func (b *builder) each(over *lang.Phrase, body []lang.Clause) *proc.Chain {
	var x wmem.ID
	key := b.key(func() { x = b.describe(over, 0) })
	b.it = x
	return loop(key, b.body(body))
}

// =============================================================================
// TEACHING
// =============================================================================

func name(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ReplaceAll(p, " ", "-"))
		}
	}
	return strings.Join(out, "-")
}

// clauseWords names a clause by its content words.
func clauseWords(c *lang.Clause) string {
	f := &lang.Frame{Main: []lang.Clause{*c}}
	return name(f.Words()...)
}

// rule: the subject's description (or the premise) implies the predicate.
func (b *builder) rule(f *lang.Frame) *rules.Rule {
	res := &f.Main[0]
	var x wmem.ID
	cond := b.key(func() {
		if f.Cond != nil {
			x, _ = b.situation(f.Cond, 0)
			return
		}
		x = b.describe(res.Subj, 0)
	})
	if v, ok := b.vars[res.Subj.Var]; ok && res.Subj.Var != "" {
		x = v
	}
	result := b.key(func() { b.predicate(x, res, 1) })
	label := clauseWords(res)
	if f.Cond != nil {
		label = name(clauseWords(f.Cond), label)
	}
	return &rules.Rule{Name: label, Cond: cond, Result: result, Conf: 1}
}

// trigger builds the action an operator answers to, with its object as a
// variable, and returns the action and the object.
func (b *builder) trigger(c *lang.Clause) (act, obj wmem.ID) {
	act = b.prop(b.w.Self(), "agt", c.Verb, false, 0)
	if c.Obj != nil {
		if v, ok := b.constant(c.Obj); ok {
			obj = v
		} else {
			obj = b.inline(c.Obj, 0)
		}
		b.arg(act, "obj", obj)
	}
	if c.Dir != "" {
		b.arg(act, "dir", b.node(wmem.Relation, c.Dir, false, 0))
	}
	if c.Amt != nil {
		b.arg(act, "amt", b.node(wmem.Count, "", false, 0))
	}
	return act, obj
}

func (b *builder) operator(f *lang.Frame) (*ops.Operator, error) {
	pref := ops.Default
	if f.Modal != "" {
		p, ok := ops.PrefFor(f.Modal)
		if !ok {
			return nil, fmt.Errorf("modal %q: %w", f.Modal, ErrUnsupported)
		}
		pref = p
	}
	o := &ops.Operator{Pref: pref}
	t := f.Trigger
	switch f.OpKind {
	case "do", "ante":
		o.Kind, o.Name = proc.Do, clauseWords(t)
		if f.OpKind == "ante" {
			o.Kind, o.Name = proc.Ante, name("before", o.Name)
		}
		o.Cond = b.key(func() {
			_, b.it = b.trigger(t)
		})
	case "note":
		o.Kind, o.Name = proc.Note, name("when", clauseWords(t))
		o.Cond = b.key(func() {
			subj, main := b.situation(t, 0)
			b.it = subj
			if main != wmem.None {
				b.w.Building().SetMain(main)
			}
		})
	case "fail":
		o.Kind, o.Name = proc.Note, name("failed", clauseWords(t))
		o.Cond = b.key(func() {
			act, obj := b.trigger(t)
			b.it = obj
			fail := b.node(wmem.Action, "fail", false, 0)
			b.arg(fail, "act", act)
			b.w.Building().SetMain(fail)
		})
	case "gate":
		o.Kind, o.Name = proc.Gate, name("never", clauseWords(t))
		o.Cond = b.key(func() {
			b.trigger(t)
			if f.Cond != nil {
				b.situation(f.Cond, 0)
			}
		})
		o.Method = b.step(proc.Do, func() { b.act(&lang.Clause{Verb: "punt"}, wmem.None, 1) })
		return o, nil
	default:
		return nil, fmt.Errorf("operator kind %q: %w", f.OpKind, ErrUnsupported)
	}
	if b.it == wmem.None {
		b.it = b.lastObject(o.Cond)
	}
	o.Method = b.body(f.Main)
	if o.Method == nil {
		return nil, fmt.Errorf("empty method: %w", ErrUnsupported)
	}
	return o, nil
}

// lastObject returns the first object of a pattern, the referent "it"
// takes in a method.
func (b *builder) lastObject(g *wmem.Graphlet) wmem.ID {
	for _, id := range g.Items() {
		if n := b.w.Node(id); n != nil && n.Kind == wmem.Object {
			return id
		}
	}
	return wmem.None
}

// edit replaces a step of the methods the trigger selects. The new step
// must be a single action without a searched object.
func (b *builder) edit(f *lang.Frame) (*proc.Chain, error) {
	if len(f.Main) != 1 || f.Instead == nil {
		return nil, ErrUnsupported
	}
	repl := &f.Main[0]
	for _, c := range []*lang.Clause{repl, f.Instead} {
		if c.Obj != nil {
			if _, ok := b.constant(c.Obj); !ok {
				return nil, fmt.Errorf("edited step refers to %s: %w", c.Obj.Noun, ErrUnsupported)
			}
		}
	}
	e := b.step(proc.Edit, func() { b.trigger(f.Trigger) })
	objOf := func(c *lang.Clause) wmem.ID {
		if c.Obj == nil {
			return wmem.None
		}
		v, _ := b.constant(c.Obj)
		return v
	}
	old := proc.NewDirective(proc.Do, b.key(func() { b.act(f.Instead, objOf(f.Instead), 1) }))
	// the replacement outlives the focus: the operator keeps it
	nw := proc.NewDirective(proc.Do, b.key(func() { b.act(repl, objOf(repl), 1) }))
	e.Dir.Replace = &proc.Rewrite{Old: old, New: nw}
	e.Cont = b.say(Ack)
	return e, nil
}
