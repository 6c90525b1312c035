// Package core coordinates one robot's reasoning: it owns working memory,
// the rule and operator stores, the engine and the kernel chain, and runs
// them one exchange cycle per Think.
//
// A host drives a Core through a small contract:
//
//	c.Body(hw)                      hardware present
//	c.Reset(dir, robot, label)      load the knowledge base
//	for {
//	    c.SpIn(text)                utterance, may be empty
//	    code := c.Think()           2 ok, 1 not ready, 0 quit, <0 problem
//	    say(c.SpOut())
//	}
//	c.Done(save)
//
// Hosts that prefer one struct per cycle use Cycle with a body.Exchange.
// A Core is not safe for concurrent use; the host serializes calls.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"alia/internal/body"
	"alia/internal/config"
	"alia/internal/engine"
	"alia/internal/graphize"
	"alia/internal/kb"
	"alia/internal/kernel"
	"alia/internal/kernel/script"
	"alia/internal/lang"
	"alia/internal/logging"
	"alia/internal/ops"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// Think return codes.
const (
	CodeOK       = 2
	CodeNotReady = 1
	CodeQuit     = 0
	CodeProblem  = -1
)

// ErrNotReady is returned by operations that need a successful Reset.
var ErrNotReady = errors.New("core not reset")

// Stats counts core activity since Reset.
type Stats struct {
	Cycles     int64
	Steps      int64
	Skipped    int64 // catch-up steps cut by the time budget
	Sentences  int64
	ParseFails int64
	Taught     int64
	Notes      int64
	Rules      int
	Ops        int
	Foci       int
	Main       int
	Halo       int
}

// Option configures a Core.
type Option func(*Core)

// WithKernels appends kernel pools to the dispatch chain, tried in order.
func WithKernels(ks ...kernel.Kernel) Option {
	return func(c *Core) { c.pools = append(c.pools, ks...) }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// Core is one robot's reasoning core.
type Core struct {
	cfg   *config.Config
	pools []kernel.Kernel
	now   func() time.Time

	hw     body.Hardware
	w      *wmem.WMem
	rules  *rules.Store
	ops    *ops.Store
	kern   *kernel.Dispatch
	eng    *engine.Engine
	parser *lang.Parser
	gz     *graphize.Graphizer
	kb     *kb.KB
	watch  *kb.Watcher
	arb    *body.Arbiter

	x      body.Exchange
	queue  []string
	said   []string
	mood   uint32
	quit   bool
	ready  bool
	fatal  error
	last   time.Time
	debt   float64
	stats  Stats
	cancel context.CancelFunc
}

// New creates a core with cfg. The core is not ready until Reset.
func New(cfg *config.Config, opts ...Option) *Core {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Core{cfg: cfg, now: time.Now, arb: body.NewArbiter()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (c *Core) Config() *config.Config { return c.cfg }
func (c *Core) Memory() *wmem.WMem { return c.w }
func (c *Core) Rules() *rules.Store { return c.rules }
func (c *Core) Ops() *ops.Store { return c.ops }
func (c *Core) Engine() *engine.Engine { return c.eng }
func (c *Core) KB() *kb.KB { return c.kb }
func (c *Core) Parser() *lang.Parser { return c.parser }
func (c *Core) Dispatch() *kernel.Dispatch { return c.kern }
func (c *Core) Exchange() *body.Exchange { return &c.x }
func (c *Core) Ready() bool { return c.ready }
func (c *Core) Err() error { return c.fatal }

// Stats returns the activity counters with current sizes filled in.
func (c *Core) Stats() Stats {
	s := c.stats
	if c.ready {
		s.Rules = len(c.rules.Rules())
		s.Ops = c.ops.Len()
		s.Foci = len(c.eng.Foci())
		s.Main = len(c.w.Main())
		s.Halo = len(c.w.Halo())
	}
	return s
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Body records which hardware subsystems are present. Kernel calls that
// need an absent one fail with kernel.ErrHardwareAbsent.
func (c *Core) Body(hw body.Hardware) {
	c.hw = hw
	c.x.Hardware = hw
}

// Reset discards all state and loads the knowledge base at dir. robot is
// the robot's full name, whose last word selects config/<last>_vals.yaml;
// label names the program in logs. Either may be empty to keep the
// configured value.
func (c *Core) Reset(dir, robot, label string) error {
	timer := logging.StartTimer(logging.CategoryBoot, "Reset")
	defer timer.Stop()

	c.shutdown()
	c.ready, c.fatal, c.quit = false, nil, false
	c.queue, c.said, c.mood = nil, nil, 0
	c.stats = Stats{}
	c.last, c.debt = time.Time{}, 0

	if dir != "" {
		c.cfg.KB.Dir = dir
	}
	if robot != "" {
		c.cfg.KB.Robot = robot
	}
	if label != "" {
		c.cfg.KB.Label = label
	}
	if err := c.cfg.LoadVals(); err != nil {
		logging.BootWarn("%v", err)
	}
	lim := c.cfg.Core
	logging.Boot("reset %q (%s) from %s", c.cfg.KB.Label, c.cfg.KB.Robot, c.cfg.KB.Dir)

	w, err := wmem.New(lim.PoolSize, lim.BeliefThreshold)
	if err != nil {
		return c.fail(fmt.Errorf("reset: %w", err))
	}
	c.w = w
	c.rules = rules.NewStore(lim.HaloPasses)
	c.ops = ops.NewStore()
	c.parser = lang.NewParser(nil)
	c.gz = graphize.New(w)

	pools := append([]kernel.Kernel(nil), c.pools...)
	if sd := c.cfg.KB.ScriptDir; sd != "" {
		sp, err := script.Load(c.cfg.Resolve(sd), script.DefaultTimeout)
		if err != nil {
			return c.fail(fmt.Errorf("reset: scripts: %w: %v", kernel.ErrBindFail, err))
		}
		if len(sp.Fcns()) > 0 {
			pools = append(pools, sp)
		}
	}
	c.kern = kernel.NewDispatch(pools...)
	if err := c.kern.Bind(c.env()); err != nil {
		return c.fail(fmt.Errorf("reset: %w", err))
	}
	c.eng = engine.New(w, c.ops, c.kern, engine.Options{
		MinPref:   lim.MinPref,
		FloorPref: lim.DowngradePref,
		MaxFoci:   lim.ChainPool,
	})

	c.kb = kb.New(c.cfg.KB.Dir, w, c.rules, c.ops, c.parser)
	st, err := c.kb.Load(c.kern.Tags())
	if err != nil {
		return c.fail(fmt.Errorf("reset: %w", err))
	}
	for _, f := range c.kb.Pending() {
		c.eng.Add(f, engine.Owning(), engine.WithLabel("kb"))
	}
	if c.cfg.KB.Watch {
		c.startWatch()
	}
	if _, err := c.rules.RefreshHalo(w); err != nil {
		return c.fail(fmt.Errorf("reset: %w", err))
	}
	c.ready = true
	logging.Boot("ready: %s; %d pools (%v)", st, c.kern.Len(), c.kern.Tags())
	return nil
}

func (c *Core) startWatch() {
	kw, err := kb.NewWatcher(c.kb, 0)
	if err != nil {
		logging.BootWarn("watcher: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := kw.Start(ctx); err != nil {
		cancel()
		logging.BootWarn("watcher: %v", err)
		return
	}
	c.watch, c.cancel = kw, cancel
}

// Done ends the session: abandons every focus, stops running kernel calls
// and, when save is set, writes learned knowledge back to the KB.
func (c *Core) Done(save bool) error {
	var err error
	if c.ready && save {
		err = multierr.Append(err, c.kb.SaveLearned())
	}
	c.shutdown()
	c.ready = false
	logging.Boot("done (save=%v)", save)
	return err
}

func (c *Core) shutdown() {
	if c.watch != nil {
		c.watch.Stop()
		c.cancel()
		c.watch, c.cancel = nil, nil
	}
	if c.eng != nil {
		c.eng.Reset()
	}
	c.arb.Clear()
	c.x.Commands, c.x.Named = nil, nil
}

// fail records a fatal error and stops actuator output.
func (c *Core) fail(err error) error {
	c.fatal = err
	c.ready = false
	c.arb.Clear()
	c.x.Commands, c.x.Named = nil, nil
	logging.CoreError("%v", err)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditErrorFatal, Cycle: c.stats.Cycles, Text: err.Error()})
	return err
}

// env is what kernels see of the core.
func (c *Core) env() *kernel.Env {
	return &kernel.Env{
		Sensors:  func() body.Sensors { return c.x.Sensors },
		Hardware: func() body.Hardware { return c.hw },
		Bid: func(r body.Resource, b body.Bid) bool {
			if !c.hw.Has(r) {
				return false
			}
			return c.arb.Offer(r, b)
		},
		Say:  func(s string) { c.said = append(c.said, s) },
		Quit: func() { c.quit = true },
		Val:  c.cfg.Val,
		Now:  func() time.Time { return c.now() },
	}
}
