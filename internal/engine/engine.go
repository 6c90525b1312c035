// Package engine executes procedural knowledge: it owns the focus stack,
// runs directive state machines and plays, selects operators, and hands
// grounded actions to kernels.
//
// Every Step advances each focus by at most one directive transition or
// one play sub-step, so the work done per cycle is bounded.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"alia/internal/kernel"
	"alia/internal/logging"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/wmem"
)

// ErrOperatorsExhausted is logged when a DO runs out of operators and
// kernels even after lowering the preference threshold.
var ErrOperatorsExhausted = errors.New("operators exhausted")

// Options tune operator selection and the focus stack.
type Options struct {
	MinPref   float64 // operators below this are ignored
	FloorPref float64 // threshold a DO may downgrade to once
	MaxFoci   int     // 0 means unlimited
}

// DefaultOptions matches the preference scale: "maybe" operators are only
// reached by a downgrade.
func DefaultOptions() Options {
	return Options{MinPref: 0.5, FloorPref: 0.3, MaxFoci: 64}
}

// Engine is the procedural half of the core. It is not safe for
// concurrent use.
type Engine struct {
	w    *wmem.WMem
	ops  *ops.Store
	kern *kernel.Dispatch
	opt  Options

	foci    []*Focus
	round   []*Focus
	cursor  int
	nextID  int
	nextBid float64
	fatal   error

	// keys edited out of operator methods, held while running clones
	// may still share them
	retired []*wmem.Graphlet
}

// New creates an engine over w, operators from store and actions through d.
func New(w *wmem.WMem, store *ops.Store, d *kernel.Dispatch, opt Options) *Engine {
	if opt.FloorPref > opt.MinPref {
		opt.FloorPref = opt.MinPref
	}
	return &Engine{w: w, ops: store, kern: d, opt: opt}
}

// Memory returns the working memory the engine acts on.
func (e *Engine) Memory() *wmem.WMem { return e.w }

// Ops returns the operator store.
func (e *Engine) Ops() *ops.Store { return e.ops }

// Options returns the current selection options.
func (e *Engine) Options() Options { return e.opt }

// Err returns the fatal error that stopped the engine, if any.
func (e *Engine) Err() error { return e.fatal }

// check reports whether err is set and records it when fatal. Pool
// exhaustion is the only fatal error.
func (e *Engine) check(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, wmem.ErrExhausted) && e.fatal == nil {
		e.fatal = err
		logging.Get(logging.CategoryEngine).Error("fatal: %v", err)
	}
	return true
}

// =============================================================================
// STEPPING
// =============================================================================

// Step advances every focus once in priority order and retires the ones
// that finished. Foci added during the step first run on the next one.
func (e *Engine) Step() error {
	if e.fatal != nil {
		return e.fatal
	}
	timer := logging.StartTimer(logging.CategoryEngine, "Step")
	defer timer.Stop()

	e.round = append(e.round[:0], e.foci...)
	e.cursor = 0
	for f, ok := e.NextFocus(); ok; f, ok = e.NextFocus() {
		e.advance(f)
		if e.fatal != nil {
			return e.fatal
		}
	}
	e.retire()
	if len(e.retired) > 0 {
		e.sweep()
	}
	return nil
}

// sweep frees the keys edited out of operator methods that no focus
// still plays.
func (e *Engine) sweep() {
	live := make(map[*wmem.Graphlet]bool)
	for _, f := range e.foci {
		for _, c := range append([]*proc.Chain{f.Chain}, f.Alts...) {
			for _, k := range c.Keys() {
				live[k] = true
			}
		}
	}
	kept := e.retired[:0]
	for _, g := range e.retired {
		if live[g] {
			kept = append(kept, g)
			continue
		}
		e.w.Release(g)
	}
	e.retired = kept
}

// NextFocus iterates the foci of the current step in priority order.
func (e *Engine) NextFocus() (*Focus, bool) {
	for e.cursor < len(e.round) {
		f := e.round[e.cursor]
		e.cursor++
		if !f.Verdict.Terminal() {
			return f, true
		}
	}
	return nil, false
}

func (e *Engine) advance(f *Focus) {
	if f.th == nil {
		f.th = newThread(f.Chain, f.Env, f.Bid)
		logging.EngineDebug("focus %d %q starts", f.ID, f.Label)
	}
	f.th.step(e)
	f.Steps++
	switch f.th.verdict {
	case proc.Done, proc.Fail:
		f.Verdict = f.th.verdict
	default:
		f.Verdict = proc.Running
	}
}

// retire removes terminal foci. A failed focus with alternates swaps in
// the next one in place; other failures may trigger a complaint.
func (e *Engine) retire() {
	kept := e.foci[:0]
	var reactions []*Focus
	for _, f := range e.foci {
		switch {
		case !f.Verdict.Terminal():
			kept = append(kept, f)
		case f.Verdict == proc.Fail && len(f.Alts) > 0:
			e.replace(f)
			kept = append(kept, f)
		default:
			if f.Verdict == proc.Fail {
				if r := e.complaint(f); r != nil {
					reactions = append(reactions, r)
				}
			}
			e.finish(f)
		}
	}
	for i := len(kept); i < len(e.foci); i++ {
		e.foci[i] = nil
	}
	e.foci = kept
	for _, r := range reactions {
		e.push(r)
	}
}

func (e *Engine) replace(f *Focus) {
	logging.Engine("focus %d %q failed, trying alternate (%d left)", f.ID, f.Label, len(f.Alts)-1)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditFocusReplace, Target: f.Label, Text: fmt.Sprintf("focus %d", f.ID)})
	f.th.stop(e)
	if f.Owned {
		f.Chain.Release(e.w)
	}
	f.Chain = f.Alts[0]
	f.Alts = f.Alts[1:]
	f.Env = f.base.Clone()
	f.th = nil
	f.Verdict = proc.Pending
}

func (e *Engine) finish(f *Focus) {
	f.th.stop(e)
	ev := logging.AuditFocusDone
	if f.Verdict == proc.Fail {
		ev = logging.AuditFocusFail
	}
	logging.Engine("focus %d %q %s after %d steps", f.ID, f.Label, f.Verdict, f.Steps)
	logging.Audit(logging.AuditEvent{EventType: ev, Target: f.Label, Success: ev == logging.AuditFocusDone, Text: fmt.Sprintf("focus %d", f.ID)})
	if f.Owned {
		f.Chain.Release(e.w)
		for _, c := range f.Alts {
			c.Release(e.w)
		}
	}
	f.releaseScratch(e.w)
}

// Reset abandons every focus.
func (e *Engine) Reset() {
	for _, f := range e.foci {
		if f.th != nil {
			f.th.stop(e)
		}
		if f.Owned {
			f.Chain.Release(e.w)
			for _, c := range f.Alts {
				c.Release(e.w)
			}
		}
		f.releaseScratch(e.w)
	}
	e.foci = nil
	e.round = nil
	e.sweep()
	e.fatal = nil
}

// Foci returns the active foci in priority order.
func (e *Engine) Foci() []*Focus { return e.foci }

func (e *Engine) sortFoci() {
	sort.SliceStable(e.foci, func(i, j int) bool {
		a, b := e.foci[i], e.foci[j]
		if a.Bid != b.Bid {
			return a.Bid > b.Bid
		}
		return a.ID > b.ID
	})
}
