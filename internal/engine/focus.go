package engine

import (
	"fmt"

	"alia/internal/logging"
	"alia/internal/match"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/wmem"
)

// Focus is one top-level chain on the focus stack.
type Focus struct {
	ID      int
	Label   string
	Chain   *proc.Chain
	Bid     float64
	Env     *match.Bindings
	Verdict proc.Verdict
	Steps   int

	// Alts are tried in order, in place, when Chain fails; typically the
	// lower-ranked parses of the same utterance.
	Alts []*proc.Chain

	// Owned foci release their chain keys when retired.
	Owned bool

	base    *match.Bindings
	scratch []*wmem.Graphlet
	th      *thread
}

// Option configures a focus before it is pushed.
type Option func(*Focus)

// WithBid sets an explicit base bid. Without one the focus gets the next
// auto-assigned bid, above every earlier auto bid.
func WithBid(bid float64) Option { return func(f *Focus) { f.Bid = bid } }

// WithEnv seeds the focus bindings.
func WithEnv(b *match.Bindings) Option { return func(f *Focus) { f.Env = b } }

// WithAlts sets the alternates tried when the chain fails.
func WithAlts(alts ...*proc.Chain) Option { return func(f *Focus) { f.Alts = alts } }

// WithLabel names the focus in logs.
func WithLabel(label string) Option { return func(f *Focus) { f.Label = label } }

// Owning makes the focus release its keys when retired.
func Owning() Option { return func(f *Focus) { f.Owned = true } }

// Add pushes a new focus for c. It first runs on the next Step.
func (e *Engine) Add(c *proc.Chain, opts ...Option) *Focus {
	f := &Focus{Chain: c}
	for _, opt := range opts {
		opt(f)
	}
	return e.push(f)
}

func (e *Engine) push(f *Focus) *Focus {
	e.nextID++
	f.ID = e.nextID
	if f.Bid <= 0 {
		e.nextBid++
		f.Bid = e.nextBid
	}
	if f.Env == nil {
		f.Env = match.NewBindings()
	}
	f.base = f.Env.Clone()
	if f.Label == "" {
		f.Label = fmt.Sprintf("focus-%d", f.ID)
	}
	if e.opt.MaxFoci > 0 && len(e.foci) >= e.opt.MaxFoci {
		e.sortFoci()
		last := e.foci[len(e.foci)-1]
		logging.EngineWarn("focus stack full, dropping focus %d %q", last.ID, last.Label)
		last.Verdict = proc.Fail
		e.finish(last)
		e.foci = e.foci[:len(e.foci)-1]
	}
	e.foci = append(e.foci, f)
	e.sortFoci()
	logging.EngineDebug("focus %d %q added at bid %.1f", f.ID, f.Label, f.Bid)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditFocusAdd, Target: f.Label, Success: true, Text: fmt.Sprintf("focus %d bid %.1f", f.ID, f.Bid)})
	return f
}

func (f *Focus) releaseScratch(w *wmem.WMem) {
	for _, g := range f.scratch {
		w.Release(g)
	}
	f.scratch = nil
}

// Running reports the directive the focus is currently on, nil for plays
// and finished foci.
func (f *Focus) Running() *proc.Directive {
	if f.th == nil || f.th.cur == nil {
		return nil
	}
	return f.th.cur.Dir
}

// =============================================================================
// REACTIONS
// =============================================================================

// reaction wraps an operator method in a focus that is not yet pushed.
func (e *Engine) reaction(m ops.Match, label string) *Focus {
	return &Focus{
		Chain: m.Op.Method.Clone(),
		Env:   m.Bindings.Clone(),
		Label: label + ":" + m.Op.Name,
	}
}

// react pushes the best NOTE operator triggered by a newly noted fact.
func (e *Engine) react(id wmem.ID) {
	ms := e.ops.FindOps(e.w, proc.Note, ops.Trigger{Anchor: id}, e.opt.MinPref)
	if len(ms) == 0 {
		return
	}
	logging.Engine("note %s triggers %q", e.w.Describe(id), ms[0].Op.Name)
	e.push(e.reaction(ms[0], "react"))
}

// complaint builds fail(act: X) for the directive that sank f and returns
// the NOTE reaction to it, if one exists. Without one the failure is silent.
func (e *Engine) complaint(f *Focus) *Focus {
	if f.th == nil || f.th.failed == nil || f.th.failed.Key.Empty() {
		return nil
	}
	trig, err := ops.NewTrigger(e.w, f.th.failed.Key, f.th.env)
	if err != nil {
		e.check(err)
		return nil
	}
	restore := e.w.Build(trig.Key)
	act, err := e.w.MakeNode(wmem.Action, "fail", false, 1)
	if err == nil {
		err = e.w.AddArg(act, "act", trig.Anchor)
	}
	restore()
	if err != nil {
		e.check(err)
		trig.Release(e.w)
		return nil
	}
	ms := e.ops.FindOps(e.w, proc.Note, ops.Trigger{Key: trig.Key, Anchor: act}, e.opt.MinPref)
	if len(ms) == 0 {
		logging.EngineDebug("focus %d failed quietly", f.ID)
		trig.Release(e.w)
		return nil
	}
	r := e.reaction(ms[0], "complain")
	r.scratch = append(r.scratch, trig.Key)
	return r
}
