package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"alia/internal/body"
	"alia/internal/lang"
	"alia/internal/logging"
	"alia/internal/wmem"
)

// maxCatchUp caps the extra think steps of one Think after a long gap.
const maxCatchUp = 8

// SpIn queues an utterance for the next Think. Several sentences in one
// utterance are interpreted in order, one per cycle.
func (c *Core) SpIn(text string) {
	c.x.Input = text
}

// SpOut returns the line spoken during the last Think and clears it.
func (c *Core) SpOut() string {
	out := c.x.Output
	c.x.Output = ""
	return out
}

// Cycle runs one Think with x as the exchange: it reads Input, Sensors
// and Hardware from x and writes back Output and Commands.
func (c *Core) Cycle(x *body.Exchange) int {
	c.x.Input = x.Input
	c.x.Sensors = x.Sensors
	if x.Hardware != c.hw {
		c.Body(x.Hardware)
	}
	code := c.Think()
	x.Input = ""
	x.Output = c.SpOut()
	x.Commands, x.Named = c.x.Commands, c.x.Named
	return code
}

// Think runs one sense step and as many extra think steps as the think
// rate owes since the last call, within the time budget. Returns CodeOK,
// CodeNotReady before a successful Reset, CodeQuit once a quit was
// requested, or CodeProblem after a fatal error.
func (c *Core) Think() int {
	if c.fatal != nil {
		return CodeProblem
	}
	if !c.ready {
		return CodeNotReady
	}
	if c.quit {
		return CodeQuit
	}
	start := c.now()
	c.stats.Cycles++
	c.said = c.said[:0]
	c.arb.Clear()

	c.sense()
	c.consider()

	// debt carries the fractional think steps owed across calls; the
	// sense step above pays one of them.
	lim := c.cfg.Core
	if !c.last.IsZero() {
		c.debt += float64(start.Sub(c.last)) / float64(lim.ThinkPeriod())
	}
	owed := max(int(c.debt)-1, 0)
	if owed > maxCatchUp {
		owed = maxCatchUp
	}
	c.debt = min(max(c.debt-float64(owed+1), 0), 1)
	budget := lim.ThinkBudget()
	for i := 0; i < owed && c.fatal == nil; i++ {
		if c.now().Sub(start) > budget {
			c.stats.Skipped += int64(owed - i)
			break
		}
		c.consider()
	}
	c.last = start

	if c.fatal != nil {
		c.x.Output = strings.Join(c.said, " ")
		return CodeProblem
	}
	c.x.Publish(c.arb)
	c.x.Output = strings.Join(c.said, " ")
	if c.x.Output != "" {
		logging.Core("said %q", c.x.Output)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditSaid, Cycle: c.stats.Cycles, Text: c.x.Output, Success: true})
	}
	if c.quit {
		logging.Audit(logging.AuditEvent{EventType: logging.AuditCycleQuit, Cycle: c.stats.Cycles, DurationMs: c.now().Sub(start).Milliseconds()})
		return CodeQuit
	}
	return CodeOK
}

// sense takes in the cycle's utterance and sensor changes.
func (c *Core) sense() {
	if c.x.Input != "" {
		c.w.ClearConvo()
		c.queue = append(c.queue, lang.Sentences(c.x.Input)...)
		c.x.Input = ""
	}
	if len(c.queue) > 0 {
		s := c.queue[0]
		c.queue = c.queue[1:]
		c.Interpret(s)
	}
	c.senseMood(c.x.Sensors.Mood)
	if c.watch != nil {
		c.drainWatch()
	}
}

// consider steps the focus stack once, kernels volunteering first. The
// halo is brought up to date on both sides of the step, so notes made
// by the sentence or by the step itself are reified in the same cycle.
func (c *Core) consider() {
	if !c.reify() {
		return
	}
	c.kern.Volunteer(c.volunteered)
	c.stats.Steps++
	if err := c.eng.Step(); err != nil {
		c.check(err)
	}
	c.reify()
}

// reify refreshes the halo when stale and consolidates two-step inferences
// over it. It reports false on error.
func (c *Core) reify() bool {
	if _, err := c.rules.RefreshHalo(c.w); err != nil {
		c.check(err)
		return false
	}
	made, err := c.rules.ConsolidateHalo(c.w)
	if err != nil {
		c.check(err)
		return false
	}
	if len(made) > 0 {
		logging.CoreDebug("consolidated %d rules", len(made))
		logging.Audit(logging.AuditEvent{EventType: logging.AuditRuleMerged, Target: "halo", Success: true, Text: fmt.Sprintf("%d rules", len(made))})
		// merged rules invalidate the halo they came from
		if _, err := c.rules.RefreshHalo(c.w); err != nil {
			c.check(err)
			return false
		}
	}
	return true
}

// check makes pool exhaustion fatal; other errors are logged.
func (c *Core) check(err error) {
	if errors.Is(err, wmem.ErrExhausted) {
		c.fail(err)
		return
	}
	logging.CoreError("%v", err)
}

func (c *Core) drainWatch() {
	for {
		select {
		case p := <-c.watch.Changes():
			n, err := c.kb.ApplyOverrides()
			if err != nil {
				logging.CoreError("reload %s: %v", p, err)
				continue
			}
			logging.Core("reloaded %s: %d re-scored", p, n)
		default:
			return
		}
	}
}

// Now reports the core clock.
func (c *Core) Now() time.Time { return c.now() }
