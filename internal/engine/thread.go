package engine

import (
	"errors"

	"alia/internal/kernel"
	"alia/internal/logging"
	"alia/internal/match"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/wmem"
)

// edge is the outcome of one step: stay on the directive or follow one of
// its successors.
type edge int

const (
	stay edge = iota
	toCont
	toAlt
	toFail
)

// thread walks one chain. Foci, operator methods run by a directive, and
// the members of a play each get their own thread.
type thread struct {
	cur     *proc.Chain
	env     *match.Bindings
	bid     float64
	verdict proc.Verdict
	st      *state
	loops   map[*proc.Chain]*loop
	failed  *proc.Directive // directive whose failure ended the chain

	parent *thread
	op     *ops.Operator // operator whose method this thread runs
}

// loop is the iteration state of an EACH or ANY step.
type loop struct {
	items []*match.Bindings
	next  int
}

type phase int

const (
	phaseGate phase = iota
	phaseAnte
	phaseOps
	phaseKernel
	phaseDowngrade
)

// state is the per-directive state that lives while the directive runs.
type state struct {
	trig       ops.Trigger
	phase      phase
	cands      []ops.Match
	idx        int
	child      *thread
	handle     kernel.Handle
	tried      map[*ops.Operator]bool
	minPref    float64
	downgraded bool
	play       *playState
}

func newThread(c *proc.Chain, env *match.Bindings, bid float64) *thread {
	if env == nil {
		env = match.NewBindings()
	}
	return &thread{cur: c, env: env, bid: bid, loops: make(map[*proc.Chain]*loop)}
}

// sub starts a thread nested under t.
func (t *thread) sub(c *proc.Chain, env *match.Bindings, op *ops.Operator) *thread {
	s := newThread(c, env, t.bid)
	s.parent = t
	s.op = op
	return s
}

// running reports whether o's method is already on t's call path.
func (t *thread) running(o *ops.Operator) bool {
	for p := t; p != nil; p = p.parent {
		if p.op == o {
			return true
		}
	}
	return false
}

// step performs one transition: a Start on a pending directive or a
// Status on a running one.
func (t *thread) step(e *Engine) {
	if t.verdict.Terminal() {
		return
	}
	if t.cur == nil {
		t.verdict = proc.Done
		return
	}
	t.verdict = proc.Running
	c := t.cur
	var out edge
	switch {
	case c.Play != nil:
		out = e.stepPlay(t, c)
	case t.st == nil:
		t.st = &state{minPref: e.opt.MinPref}
		c.Dir.Verdict = proc.Running
		out = e.start(t, c)
	default:
		out = e.status(t, c)
	}
	if out != stay {
		t.follow(e, c, out)
	}
}

// follow settles the current step and moves to the successor the outcome
// selects. A missing successor ends the chain with the step's verdict.
func (t *thread) follow(e *Engine, c *proc.Chain, out edge) {
	v := proc.Done
	next, back := c.Cont, c.ContBack
	switch out {
	case toAlt:
		next, back = c.Alt, c.AltBack
	case toFail:
		v = proc.Fail
		next, back = c.Fail, c.FailBack
	}
	if c.Dir != nil {
		c.Dir.Verdict = v
		logging.EngineDebug("%s -> %s", proc.Format(e.w, c.Dir), v)
	}
	t.clear(e)
	if next == nil {
		if v == proc.Fail && c.Dir != nil {
			t.failed = c.Dir
		}
		t.verdict = v
		t.cur = nil
		return
	}
	t.failed = nil
	if !back {
		delete(t.loops, next)
	}
	if next.Dir != nil {
		next.Dir.Reset()
	}
	t.cur = next
}

// clear drops the state of the current step, stopping whatever it started.
func (t *thread) clear(e *Engine) {
	st := t.st
	if st == nil {
		return
	}
	t.st = nil
	if st.child != nil {
		st.child.stop(e)
	}
	if st.handle.Valid() {
		e.kern.Stop(st.handle)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditKernelStop, Target: st.handle.Fcn, Success: true})
	}
	st.trig.Release(e.w)
	if ps := st.play; ps != nil {
		ps.stop(e)
	}
}

// stop abandons the thread.
func (t *thread) stop(e *Engine) {
	if t == nil {
		return
	}
	t.clear(e)
	if !t.verdict.Terminal() && t.cur != nil && t.cur.Dir != nil {
		t.cur.Dir.Reset()
	}
}

// unpin forgets earlier values of key's own items so a step that is
// re-entered in a loop matches afresh.
func (t *thread) unpin(key *wmem.Graphlet) {
	for _, it := range key.Items() {
		t.env.Delete(it)
	}
}

// =============================================================================
// DIRECTIVES
// =============================================================================

func (e *Engine) start(t *thread, c *proc.Chain) edge {
	d := c.Dir
	switch d.Kind {
	case proc.Note:
		return e.note(t, d)
	case proc.Find:
		return e.find(t, d, false)
	case proc.Bind:
		return e.find(t, d, true)
	case proc.Chk:
		return e.chk(t, d)
	case proc.Each, proc.Any:
		return e.iterate(t, c)
	case proc.Wait:
		t.unpin(d.Key)
		return stay
	case proc.Ach:
		t.st.cands = e.candidates(t, proc.Ach, d, t.st.minPref)
		return e.achieve(t, d)
	case proc.Gate, proc.Ante:
		t.st.cands = e.candidates(t, d.Kind, d, t.st.minPref)
		return e.advise(t, d)
	case proc.Edit:
		return e.edit(t, d)
	case proc.Do:
		if _, ok := e.trigger(t, d); !ok {
			return toFail
		}
		t.st.tried = make(map[*ops.Operator]bool)
		t.st.phase = phaseGate
		t.st.cands = e.candidates(t, proc.Gate, d, t.st.minPref)
		return e.do(t, d)
	}
	logging.EngineWarn("unknown directive kind %d", d.Kind)
	return toFail
}

func (e *Engine) status(t *thread, c *proc.Chain) edge {
	d := c.Dir
	switch d.Kind {
	case proc.Wait:
		if e.holds(t, d) {
			return toCont
		}
		return stay
	case proc.Ach:
		return e.achieve(t, d)
	case proc.Gate, proc.Ante:
		return e.advise(t, d)
	case proc.Do:
		return e.do(t, d)
	}
	// the rest complete on Start
	return toCont
}

// note asserts the key, makes the hypotheticals it uses real, and lets a
// NOTE operator react. It always succeeds.
func (e *Engine) note(t *thread, d *proc.Directive) edge {
	blf := d.Belief()
	e.w.NextSource()
	t.unpin(d.Key)
	id, err := e.w.Assert(d.Key, t.env, blf, false)
	if e.check(err) {
		logging.EngineWarn("NOTE %s: %v", proc.Format(e.w, d), err)
		return toCont
	}
	for _, it := range d.Key.Items() {
		for _, a := range e.w.Node(it).Args() {
			if d.Key.Has(a.Tgt) {
				continue
			}
			if v, ok := t.env.Get(a.Tgt); ok {
				e.w.Actualize(v, blf)
			} else {
				e.w.Actualize(a.Tgt, blf)
			}
		}
	}
	if id != wmem.None {
		e.react(id)
	}
	return toCont
}

func (e *Engine) find(t *thread, d *proc.Directive, invent bool) edge {
	t.unpin(d.Key)
	b, err := match.Best(e.w, d.Key, match.Memory, t.env)
	if err == nil {
		if e.adopt(t, d.Key, b) {
			return toCont
		}
		return toFail
	}
	if errors.Is(err, match.ErrUnbound) {
		logging.EngineWarn("%s: %v", proc.Format(e.w, d), err)
		return toFail
	}
	if !invent {
		return toFail
	}
	if _, err := e.w.Assert(d.Key, t.env, 0, true); e.check(err) {
		logging.EngineWarn("BIND %s: %v", proc.Format(e.w, d), err)
		return toFail
	}
	logging.EngineDebug("BIND invented %s", proc.Format(e.w, d))
	return toCont
}

func (e *Engine) chk(t *thread, d *proc.Directive) edge {
	if e.holds(t, d) {
		return toCont
	}
	return toFail
}

// holds matches key in memory and binds the best match.
func (e *Engine) holds(t *thread, d *proc.Directive) bool {
	t.unpin(d.Key)
	b, err := match.Best(e.w, d.Key, match.Memory, t.env)
	if err != nil {
		return false
	}
	return e.adopt(t, d.Key, b)
}

// adopt copies the values of key's items into the thread bindings,
// reifying halo values and marking them as just mentioned.
func (e *Engine) adopt(t *thread, key *wmem.Graphlet, b *match.Bindings) bool {
	for _, it := range key.Items() {
		v, ok := b.Get(it)
		if !ok {
			continue
		}
		v, err := e.w.Reify(v)
		if e.check(err) {
			return false
		}
		t.env.Set(it, v)
		e.w.Mention(v)
	}
	return true
}

// iterate binds the next match of an EACH or ANY and takes cont. EACH
// leaves through alt when exhausted, ANY fails.
func (e *Engine) iterate(t *thread, c *proc.Chain) edge {
	d := c.Dir
	lp := t.loops[c]
	if lp == nil {
		t.unpin(d.Key)
		all, err := match.All(e.w, d.Key, match.Memory, t.env)
		if err != nil {
			logging.EngineWarn("%s: %v", proc.Format(e.w, d), err)
		}
		lp = &loop{}
		for _, b := range all {
			r, err := e.reifyAll(b)
			if e.check(err) {
				return toFail
			}
			lp.items = append(lp.items, r)
		}
		t.loops[c] = lp
		logging.EngineDebug("%s over %d matches", d.Kind, len(lp.items))
	}
	if lp.next < len(lp.items) {
		for _, p := range lp.items[lp.next].Pairs() {
			t.env.Set(p.Pat, p.Val)
		}
		lp.next++
		return toCont
	}
	delete(t.loops, c)
	if d.Kind == proc.Each {
		return toAlt
	}
	return toFail
}

func (e *Engine) reifyAll(b *match.Bindings) (*match.Bindings, error) {
	out := match.NewBindings()
	for _, p := range b.Pairs() {
		v, err := e.w.Reify(p.Val)
		if err != nil {
			return nil, err
		}
		out.Set(p.Pat, v)
	}
	return out, nil
}

func (e *Engine) edit(t *thread, d *proc.Directive) edge {
	if d.Replace == nil || d.Replace.New == nil {
		return toFail
	}
	trig, ok := e.trigger(t, d)
	if !ok {
		return toFail
	}
	n, retired, err := e.ops.Rewrite(e.w, trig, d.Replace.Old, d.Replace.New)
	e.retired = append(e.retired, retired...)
	if e.check(err) && n == 0 {
		return toFail
	}
	if n == 0 {
		logging.Engine("EDIT %s changed nothing", proc.Format(e.w, d))
		return toFail
	}
	// the operators own the replacement now
	d.Replace = &proc.Rewrite{Old: d.Replace.Old}
	logging.Engine("EDIT replaced %d steps", n)
	return toCont
}

// =============================================================================
// OPERATORS
// =============================================================================

// trigger returns the scratch trigger of the directive, building it once.
func (e *Engine) trigger(t *thread, d *proc.Directive) (ops.Trigger, bool) {
	st := t.st
	if st.trig.Key != nil {
		return st.trig, true
	}
	trig, err := ops.NewTrigger(e.w, d.Key, t.env)
	if err != nil {
		e.check(err)
		logging.EngineWarn("%s: %v", proc.Format(e.w, d), err)
		return ops.Trigger{}, false
	}
	st.trig = trig
	return trig, true
}

func (e *Engine) candidates(t *thread, kind proc.Kind, d *proc.Directive, minPref float64) []ops.Match {
	if d.Key.Empty() {
		return nil
	}
	trig, ok := e.trigger(t, d)
	if !ok {
		return nil
	}
	ms := e.ops.FindOps(e.w, kind, trig, minPref)
	out := ms[:0]
	for _, m := range ms {
		if !t.running(m.Op) {
			out = append(out, m)
		}
	}
	return out
}

// spawn runs an operator method on a child thread.
func (e *Engine) spawn(t *thread, m ops.Match) *thread {
	logging.EngineDebug("running %s operator %q", m.Op.Kind, m.Op.Name)
	return t.sub(m.Op.Method.Clone(), m.Bindings.Clone(), m.Op)
}

// stepChild advances the running child and reports whether it finished
// and whether it succeeded.
func (e *Engine) stepChild(st *state) (finished, ok bool) {
	st.child.step(e)
	if !st.child.verdict.Terminal() {
		return false, false
	}
	ok = st.child.verdict == proc.Done
	st.child.stop(e)
	st.child = nil
	return true, ok
}

// achieve succeeds once the key holds, running ACH operators one after
// another until it does.
func (e *Engine) achieve(t *thread, d *proc.Directive) edge {
	st := t.st
	if st.child == nil {
		if e.holds(t, d) {
			return toCont
		}
		if st.idx >= len(st.cands) {
			logging.EngineDebug("ACH %s: no way to achieve", proc.Format(e.w, d))
			return toFail
		}
		st.child = e.spawn(t, st.cands[st.idx])
		st.idx++
	}
	if done, _ := e.stepChild(st); done && e.holds(t, d) {
		return toCont
	}
	return stay
}

// advise runs every GATE or ANTE operator for the key. A failing gate
// method fails the step; advice results are ignored.
func (e *Engine) advise(t *thread, d *proc.Directive) edge {
	st := t.st
	if st.child == nil {
		if st.idx >= len(st.cands) {
			return toCont
		}
		st.child = e.spawn(t, st.cands[st.idx])
		st.idx++
	}
	done, ok := e.stepChild(st)
	switch {
	case !done:
		return stay
	case !ok && d.Kind == proc.Gate:
		return toFail
	case st.idx >= len(st.cands):
		return toCont
	}
	return stay
}

// do runs an action: gates, then advice, then DO operators in rank order,
// then the kernels, and finally one retry with the preference threshold
// lowered. At most one child or kernel transition happens per call.
func (e *Engine) do(t *thread, d *proc.Directive) edge {
	st := t.st
	for {
		if st.child != nil {
			done, ok := e.stepChild(st)
			switch {
			case !done:
				return stay
			case st.phase == phaseGate && !ok:
				logging.Engine("gate prohibits %s", proc.Format(e.w, d))
				return toFail
			case st.phase == phaseOps && ok:
				return toCont
			}
			return stay
		}
		if st.handle.Valid() {
			switch e.kern.Status(st.handle) {
			case kernel.Running:
				return stay
			case kernel.Success:
				return toCont
			}
			logging.Engine("kernel %s failed", st.handle.Fcn)
			logging.Audit(logging.AuditEvent{EventType: logging.AuditKernelFail, Target: st.handle.Fcn})
			return toFail
		}
		switch st.phase {
		case phaseGate, phaseAnte, phaseOps:
			if st.idx < len(st.cands) {
				m := st.cands[st.idx]
				st.idx++
				if st.phase == phaseOps {
					if st.tried[m.Op] {
						continue
					}
					st.tried[m.Op] = true
				}
				st.child = e.spawn(t, m)
				continue
			}
			e.nextPhase(t, d)
		case phaseKernel:
			st.phase = phaseDowngrade
			if out, claimed := e.ground(t); claimed {
				return out
			}
		case phaseDowngrade:
			if st.downgraded || !e.ops.Below(proc.Do, st.minPref, e.opt.FloorPref) {
				logging.EngineWarn("%s: %v", proc.Format(e.w, d), ErrOperatorsExhausted)
				return toFail
			}
			st.downgraded = true
			st.minPref = e.opt.FloorPref
			logging.Engine("%s: lowering preference threshold to %.2f", proc.Format(e.w, d), st.minPref)
			st.phase = phaseOps
			st.cands, st.idx = e.candidates(t, proc.Do, d, st.minPref), 0
		}
	}
}

func (e *Engine) nextPhase(t *thread, d *proc.Directive) {
	st := t.st
	st.idx = 0
	st.cands = nil
	switch st.phase {
	case phaseGate:
		st.phase = phaseAnte
		st.cands = e.candidates(t, proc.Ante, d, e.opt.MinPref)
	case phaseAnte:
		st.phase = phaseOps
		st.cands = e.candidates(t, proc.Do, d, st.minPref)
	default:
		st.phase = phaseKernel
	}
}

// ground starts the kernel function named by the action. claimed is false
// when no kernel offers it.
func (e *Engine) ground(t *thread) (out edge, claimed bool) {
	req, err := e.request(t.st.trig, t.bid)
	if err != nil {
		logging.EngineWarn("no kernel request: %v", err)
		return toFail, true
	}
	h, err := e.kern.Start(req)
	switch {
	case errors.Is(err, kernel.ErrUnknownFcn):
		logging.EngineDebug("no kernel claims %s", req.Fcn)
		return stay, false
	case err != nil:
		logging.Engine("kernel %s: %v", req, err)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditKernelFail, Target: req.Fcn, Text: err.Error()})
		return toFail, true
	}
	logging.Audit(logging.AuditEvent{EventType: logging.AuditKernelStart, Target: req.Fcn, Success: true, Text: req.String()})
	t.st.handle = h
	return stay, true
}
