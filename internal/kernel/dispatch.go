package kernel

import (
	"fmt"
	"sort"

	"alia/internal/logging"
)

// Handle names a started function instance.
type Handle struct {
	Pool Kernel
	Fcn  string
	Inst int
}

// Valid reports whether h refers to an instance.
func (h Handle) Valid() bool { return h.Pool != nil }

// link is one pool in the dispatch chain.
type link struct {
	k    Kernel
	fcns map[string]bool
	next *link
}

// Dispatch is the singly-linked chain of kernel pools.
type Dispatch struct {
	head, tail *link
	n          int
}

// NewDispatch chains pools in the order given.
func NewDispatch(pools ...Kernel) *Dispatch {
	d := &Dispatch{}
	for _, k := range pools {
		d.Link(k)
	}
	return d
}

// Link appends a pool to the chain.
func (d *Dispatch) Link(k Kernel) {
	l := &link{k: k, fcns: make(map[string]bool)}
	for _, f := range k.Fcns() {
		l.fcns[f] = true
	}
	if d.tail == nil {
		d.head = l
	} else {
		d.tail.next = l
	}
	d.tail = l
	d.n++
	logging.KernelDebug("linked kernel pool %s (%d functions)", k.Name(), len(l.fcns))
}

// Len returns the number of pools.
func (d *Dispatch) Len() int { return d.n }

// Pools returns the pools in chain order.
func (d *Dispatch) Pools() []Kernel {
	var out []Kernel
	for l := d.head; l != nil; l = l.next {
		out = append(out, l.k)
	}
	return out
}

// Tags returns the base tags of all pools.
func (d *Dispatch) Tags() []string {
	var out []string
	for l := d.head; l != nil; l = l.next {
		if t := l.k.BaseTag(); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Bind attaches every pool to env.
func (d *Dispatch) Bind(env *Env) error {
	for l := d.head; l != nil; l = l.next {
		if err := l.k.Bind(env); err != nil {
			logging.KernelError("bind %s: %v", l.k.Name(), err)
			return fmt.Errorf("%s: %w: %v", l.k.Name(), ErrBindFail, err)
		}
	}
	return nil
}

// Claims reports whether some pool offers fcn.
func (d *Dispatch) Claims(fcn string) bool {
	return d.find(fcn) != nil
}

func (d *Dispatch) find(fcn string) *link {
	for l := d.head; l != nil; l = l.next {
		if l.fcns[fcn] {
			return l
		}
	}
	return nil
}

// Start runs req on the first pool that claims its function.
func (d *Dispatch) Start(req Request) (Handle, error) {
	l := d.find(req.Fcn)
	if l == nil {
		return Handle{}, fmt.Errorf("%s: %w", req.Fcn, ErrUnknownFcn)
	}
	inst, err := l.k.Start(req)
	if err != nil {
		logging.KernelWarn("%s.%s failed to start: %v", l.k.Name(), req, err)
		return Handle{}, err
	}
	logging.KernelDebug("%s.%s started as %d", l.k.Name(), req, inst)
	return Handle{Pool: l.k, Fcn: req.Fcn, Inst: inst}, nil
}

// Status polls a started instance.
func (d *Dispatch) Status(h Handle) Status {
	if !h.Valid() {
		return Failure
	}
	return h.Pool.Status(h.Fcn, h.Inst)
}

// Stop abandons a started instance.
func (d *Dispatch) Stop(h Handle) {
	if h.Valid() {
		h.Pool.Stop(h.Fcn, h.Inst)
	}
}

// Volunteer collects the notes of every pool.
func (d *Dispatch) Volunteer(sink func(Note)) {
	for l := d.head; l != nil; l = l.next {
		l.k.Volunteer(sink)
	}
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
