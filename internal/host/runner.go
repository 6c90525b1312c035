// Package host drives a core on a background goroutine at the sense rate.
// Callers feed utterances and sensor bundles and read speech and actuator
// commands at any time; the runner hands them to the core between Thinks.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"alia/internal/body"
	"alia/internal/core"
	"alia/internal/logging"
	"alia/internal/store"
	"alia/internal/wmem"
)

// ErrRunning is returned by Run when the runner is already running.
var ErrRunning = errors.New("runner already running")

// errQuit stops the worker group when the core asks to quit.
var errQuit = errors.New("quit requested")

// Option configures a Runner.
type Option func(*Runner)

// WithJournal records dialog and periodic dumps in j.
func WithJournal(j *store.Journal) Option { return func(r *Runner) { r.journal = j } }

// WithLearned restores learned knowledge from ls when Run starts and
// syncs it back on Close.
func WithLearned(ls *store.LearnedStore) Option { return func(r *Runner) { r.learned = ls } }

// WithMetrics reports every cycle to m.
func WithMetrics(m *Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithTracer replaces the tracer used for Think spans.
func WithTracer(t trace.Tracer) Option { return func(r *Runner) { r.tracer = t } }

// Runner owns a core and serializes every access to it.
type Runner struct {
	c       *core.Core
	journal *store.Journal
	learned *store.LearnedStore
	metrics *Metrics
	tracer  trace.Tracer
	limiter *rate.Limiter
	dumpDur time.Duration

	mu       sync.Mutex
	inbox    []string
	sensors  body.Sensors
	hw       body.Hardware
	commands map[string]body.Bid
	session  string
	code     int
	running  bool

	said chan string
}

// New wraps c, which must already be Reset. Think runs at the core's
// sense rate with the configured burst.
func New(c *core.Core, opts ...Option) *Runner {
	cfg := c.Config()
	r := &Runner{
		c:       c,
		tracer:  noop.NewTracerProvider().Tracer(""),
		limiter: rate.NewLimiter(rate.Limit(cfg.Core.SenseHz), max(cfg.Host.Burst, 1)),
		dumpDur: cfg.GetDumpEvery(),
		hw:      c.Exchange().Hardware,
		code:    core.CodeNotReady,
		said:    make(chan string, max(cfg.Host.Outbox, 1)),
	}
	if cfg.Host.Tracing {
		r.tracer = otel.Tracer("alia.host")
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// CALLER SIDE
// =============================================================================

// Say queues an utterance for the next free cycle.
func (r *Runner) Say(text string) {
	r.mu.Lock()
	r.inbox = append(r.inbox, text)
	r.mu.Unlock()
}

// Sense replaces the sensor bundle read by the next cycle.
func (r *Runner) Sense(s body.Sensors) {
	r.mu.Lock()
	r.sensors = s
	r.mu.Unlock()
}

// SetHardware changes which subsystems are present.
func (r *Runner) SetHardware(hw body.Hardware) {
	r.mu.Lock()
	r.hw = hw
	r.mu.Unlock()
}

// Said delivers the lines the core speaks. Lines are dropped when nobody
// reads and the outbox is full.
func (r *Runner) Said() <-chan string { return r.said }

// Commands returns the actuator commands of the last cycle by resource.
func (r *Runner) Commands() map[string]body.Bid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]body.Bid, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// Stats returns the core counters.
func (r *Runner) Stats() core.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c.Stats()
}

// Code returns the last Think return code.
func (r *Runner) Code() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Session returns the journal session id, empty without a journal.
func (r *Runner) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Dump snapshots working memory between cycles.
func (r *Runner) Dump() (wmem.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.c.Ready() {
		return wmem.Snapshot{}, core.ErrNotReady
	}
	return r.c.Memory().Dump(), nil
}

// =============================================================================
// WORKERS
// =============================================================================

// Run thinks until ctx ends, the core quits, or a fatal core error, which
// is returned. Quitting and cancellation return nil.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if err := r.begin(); err != nil {
		return err
	}
	logging.Host("runner started at %.0f Hz", float64(r.limiter.Limit()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.thinkLoop(gctx) })
	if r.journal != nil && r.dumpDur > 0 {
		g.Go(func() error { return r.dumpLoop(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}
	logging.Host("runner stopped: %v", err)
	return err
}

func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.learned != nil {
		st, err := r.learned.Restore(r.c.KB(), r.c.Ops())
		if err != nil {
			logging.HostError("restore learned: %v", err)
		} else {
			logging.Host("restored %s", st)
		}
	}
	if r.journal != nil && r.session == "" {
		kbc := r.c.Config().KB
		id, err := r.journal.Begin(kbc.Robot, kbc.Label)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		r.session = id
	}
	return nil
}

func (r *Runner) thinkLoop(ctx context.Context) error {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch code := r.Step(ctx); {
		case code == core.CodeQuit:
			return errQuit
		case code < 0:
			return fmt.Errorf("core problem: %w", r.c.Err())
		}
	}
}

// Step runs one cycle now. Run calls it at the sense rate; tests and
// single-stepping hosts may call it directly.
func (r *Runner) Step(ctx context.Context) int {
	_, span := r.tracer.Start(ctx, "core.Think")
	defer span.End()

	r.mu.Lock()
	x := body.Exchange{Sensors: r.sensors, Hardware: r.hw}
	if len(r.inbox) > 0 {
		x.Input = r.inbox[0]
		r.inbox = r.inbox[1:]
	}
	start := time.Now()
	code := r.c.Cycle(&x)
	elapsed := time.Since(start)
	r.code = code
	r.commands = x.Named
	st := r.c.Stats()
	session := r.session
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int64("alia.cycle", st.Cycles),
		attribute.Int("alia.code", code),
		attribute.Int("alia.foci", st.Foci),
	)
	if code < 0 {
		span.SetStatus(codes.Error, "core problem")
	}
	if r.metrics != nil {
		r.metrics.observe(code, elapsed.Seconds(), st)
	}
	if r.journal != nil && session != "" {
		err := multierr.Append(
			r.journal.Record(session, st.Cycles, store.Heard, x.Input),
			r.journal.Record(session, st.Cycles, store.Said, x.Output),
		)
		if err != nil {
			logging.HostError("journal: %v", err)
		}
	}
	if x.Output != "" {
		select {
		case r.said <- x.Output:
		default:
			logging.HostDebug("outbox full, dropped %q", x.Output)
		}
	}
	return code
}

func (r *Runner) dumpLoop(ctx context.Context) error {
	t := time.NewTicker(r.dumpDur)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.dump(); err != nil {
				logging.HostError("dump: %v", err)
			}
		}
	}
}

func (r *Runner) dump() error {
	r.mu.Lock()
	if !r.c.Ready() || r.session == "" {
		r.mu.Unlock()
		return nil
	}
	snap := r.c.Memory().Dump()
	cycle := r.c.Stats().Cycles
	session := r.session
	r.mu.Unlock()
	return r.journal.Dump(session, cycle, snap)
}

// Close ends the core session. With save set, learned knowledge is written
// to the KB and the learned store. A final dump goes to the journal.
func (r *Runner) Close(save bool) error {
	var err error
	if r.journal != nil {
		err = multierr.Append(err, r.dump())
	}
	r.mu.Lock()
	if save && r.learned != nil && r.c.Ready() {
		_, serr := r.learned.Sync(r.c.Memory(), r.c.Rules(), r.c.Ops())
		err = multierr.Append(err, serr)
	}
	err = multierr.Append(err, r.c.Done(save))
	session := r.session
	r.mu.Unlock()
	if r.journal != nil && session != "" {
		err = multierr.Append(err, r.journal.End(session))
	}
	return err
}
