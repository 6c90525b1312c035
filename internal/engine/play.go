package engine

import (
	"alia/internal/logging"
	"alia/internal/proc"
)

// playState holds one thread per member chain of a running play. Members
// share the play's bindings.
type playState struct {
	req   []*thread
	guard []*thread
	until *thread
}

func (ps *playState) stop(e *Engine) {
	for _, r := range ps.req {
		r.stop(e)
	}
	for _, g := range ps.guard {
		g.stop(e)
	}
	ps.until.stop(e)
}

// stepPlay advances every member of the play by one step. The exit guard
// ends the play the step it succeeds; a failed required chain fails it.
// A looped play restarts its required chains once all are done.
func (e *Engine) stepPlay(t *thread, c *proc.Chain) edge {
	p := c.Play
	if t.st == nil {
		ps := &playState{}
		for _, r := range p.Req {
			ps.req = append(ps.req, t.sub(r, t.env, nil))
		}
		for _, g := range p.Guard {
			ps.guard = append(ps.guard, t.sub(g, t.env, nil))
		}
		if p.Until != nil {
			ps.until = t.sub(p.Until, t.env, nil)
		}
		t.st = &state{play: ps}
		logging.EngineDebug("play starts with %d required, %d guards", len(ps.req), len(ps.guard))
	}
	ps := t.st.play

	if ps.until != nil {
		ps.until.step(e)
		switch ps.until.verdict {
		case proc.Done:
			logging.EngineDebug("play exit guard succeeded")
			return toCont
		case proc.Fail:
			ps.until = t.sub(p.Until, t.env, nil)
		}
	}

	all := true
	for _, r := range ps.req {
		r.step(e)
		switch r.verdict {
		case proc.Fail:
			t.failed = r.failed
			return toFail
		case proc.Done:
		default:
			all = false
		}
	}
	for i, g := range ps.guard {
		g.step(e)
		if g.verdict.Terminal() && p.Looped {
			g.stop(e)
			ps.guard[i] = t.sub(p.Guard[i], t.env, nil)
		}
	}

	switch {
	case !all:
		return stay
	case !p.Looped:
		return toCont
	}
	for i, r := range ps.req {
		r.stop(e)
		ps.req[i] = t.sub(p.Req[i], t.env, nil)
	}
	return stay
}
