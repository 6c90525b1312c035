// Package kernel is the boundary between the symbolic core and grounded
// capabilities. A kernel is a named pool of functions the engine starts,
// polls and stops; pools form a chain tried in order.
package kernel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alia/internal/body"
)

var (
	// ErrUnknownFcn means no pool in the chain claims the function.
	ErrUnknownFcn = errors.New("unknown kernel function")
	// ErrBindFail means a pool could not attach to its environment.
	ErrBindFail = errors.New("kernel bind failed")
	// ErrKernelFail means a function reported failure.
	ErrKernelFail = errors.New("kernel function failed")
	// ErrHardwareAbsent means the function needs a subsystem that is not present.
	ErrHardwareAbsent = errors.New("hardware absent")
)

// Status is the state of a started function instance.
type Status int

const (
	Running Status = iota
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "fail"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Request is one call of a kernel function, built from a DO key.
type Request struct {
	Fcn  string
	Args map[string]string // role -> word
	Nums []float64         // amounts in argument order
	Text string            // quoted text
	Bid  float64           // importance for actuator bids
}

// Arg returns the word for role, or def.
func (r Request) Arg(role, def string) string {
	if v, ok := r.Args[role]; ok && v != "" {
		return v
	}
	return def
}

// Num returns the i'th amount, or def.
func (r Request) Num(i int, def float64) float64 {
	if i < len(r.Nums) {
		return r.Nums[i]
	}
	return def
}

func (r Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.Fcn)
	sb.WriteByte('(')
	first := true
	sep := func() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
	}
	for _, k := range sortedKeys(r.Args) {
		sep()
		fmt.Fprintf(&sb, "%s=%s", k, r.Args[k])
	}
	for _, n := range r.Nums {
		sep()
		sb.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
	}
	if r.Text != "" {
		sep()
		sb.WriteString(strconv.Quote(r.Text))
	}
	fmt.Fprintf(&sb, ") @%g", r.Bid)
	return sb.String()
}

// Note is a sensed event a kernel volunteers: Lex(Role: Subject).
type Note struct {
	Subject string // "self" or "user"
	Role    string
	Lex     string
	Neg     bool
	Blf     float64
}

// Env is what the core lends kernels. Kernels never touch working memory.
type Env struct {
	Sensors  func() body.Sensors
	Hardware func() body.Hardware
	Bid      func(body.Resource, body.Bid) bool
	Say      func(string)
	Quit     func()
	Val      func(name string, def float64) float64
	Now      func() time.Time
}

// Kernel is a pool of grounded functions.
type Kernel interface {
	// Name identifies the pool in logs.
	Name() string
	// BaseTag selects the KB0 rule and operator files loaded with the pool.
	BaseTag() string
	// Bind attaches the pool to the core; called at reset.
	Bind(env *Env) error
	// Fcns lists the functions the pool claims.
	Fcns() []string
	// Start begins a function and returns its instance number.
	Start(req Request) (int, error)
	// Status polls an instance; running instances re-bid here.
	Status(fcn string, inst int) Status
	// Stop abandons an instance. Stopping twice is harmless.
	Stop(fcn string, inst int)
	// Volunteer reports sensed events, once per cycle.
	Volunteer(sink func(Note))
}
