package kernel

import (
	"fmt"
	"sort"
	"time"

	"alia/internal/logging"
)

// Call is one running instance inside a Pool.
type Call struct {
	Req     Request
	Inst    int
	Steps   int // number of times the function has run
	Started time.Time
	Data    map[string]float64 // per-instance scratch values
}

// Func advances an instance. It runs once at Start and once per Status.
// An error on the first run fails Start; later errors mean Failure.
type Func func(env *Env, c *Call) (Status, error)

// Pool is a Kernel built from a table of Funcs.
type Pool struct {
	name, tag string
	env       *Env
	fcns      map[string]Func
	calls     map[int]*Call
	last      map[int]Status
	next      int
	volunteer func(env *Env, sink func(Note))
}

// NewPool creates an empty pool.
func NewPool(name, tag string) *Pool {
	return &Pool{
		name:  name,
		tag:   tag,
		fcns:  make(map[string]Func),
		calls: make(map[int]*Call),
		last:  make(map[int]Status),
	}
}

// Handle registers fcn.
func (p *Pool) Handle(fcn string, f Func) *Pool {
	p.fcns[fcn] = f
	return p
}

// OnVolunteer sets the per-cycle event reporter.
func (p *Pool) OnVolunteer(f func(env *Env, sink func(Note))) *Pool {
	p.volunteer = f
	return p
}

// Env returns the bound environment.
func (p *Pool) Env() *Env { return p.env }

// Live returns the number of unfinished instances.
func (p *Pool) Live() int { return len(p.calls) }

func (p *Pool) Name() string    { return p.name }
func (p *Pool) BaseTag() string { return p.tag }

func (p *Pool) Bind(env *Env) error {
	if env == nil {
		return fmt.Errorf("%s: nil environment", p.name)
	}
	p.env = env
	return nil
}

func (p *Pool) Fcns() []string {
	out := make([]string, 0, len(p.fcns))
	for f := range p.fcns {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) Start(req Request) (int, error) {
	f, ok := p.fcns[req.Fcn]
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", p.name, req.Fcn, ErrUnknownFcn)
	}
	if p.env == nil {
		return 0, fmt.Errorf("%s: %w: not bound", p.name, ErrBindFail)
	}
	p.next++
	c := &Call{Req: req, Inst: p.next, Data: make(map[string]float64)}
	if p.env.Now != nil {
		c.Started = p.env.Now()
	}
	st, err := f(p.env, c)
	c.Steps++
	if err != nil {
		return 0, err
	}
	p.settle(c, st)
	return c.Inst, nil
}

func (p *Pool) Status(fcn string, inst int) Status {
	if st, ok := p.last[inst]; ok {
		return st
	}
	c, ok := p.calls[inst]
	if !ok || c.Req.Fcn != fcn {
		return Failure
	}
	st, err := p.fcns[fcn](p.env, c)
	c.Steps++
	if err != nil {
		logging.KernelWarn("%s.%s #%d: %v", p.name, fcn, inst, err)
		st = Failure
	}
	p.settle(c, st)
	return st
}

// settle records a finished instance so later polls repeat its outcome.
func (p *Pool) settle(c *Call, st Status) {
	if st == Running {
		p.calls[c.Inst] = c
		return
	}
	delete(p.calls, c.Inst)
	p.last[c.Inst] = st
}

func (p *Pool) Stop(fcn string, inst int) {
	if _, ok := p.calls[inst]; ok {
		logging.KernelDebug("%s.%s #%d stopped", p.name, fcn, inst)
	}
	delete(p.calls, inst)
	delete(p.last, inst)
}

func (p *Pool) Volunteer(sink func(Note)) {
	if p.volunteer != nil && p.env != nil {
		p.volunteer(p.env, sink)
	}
}
