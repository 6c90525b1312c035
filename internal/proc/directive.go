// Package proc holds the procedural data structures: directives, the chains
// that sequence them, and plays that run chains side by side. Execution lives
// in the engine package.
package proc

import (
	"fmt"
	"strings"

	"alia/internal/wmem"
)

// Kind is the directive tag.
type Kind int

const (
	Note Kind = iota // assert key into main
	Do               // perform an action through operators or kernels
	Chk              // test key
	Find             // resolve key to its most recent referent
	Bind             // like Find, inventing hypotheticals when nothing matches
	Each             // iterate over every referent
	Any              // try referents until the body succeeds
	Ach              // make key true
	Wait             // succeed once key holds
	Gate             // run admission operators
	Ante             // run advice operators
	Edit             // rewrite a step of selected operator methods
)

var kindNames = [...]string{"NOTE", "DO", "CHK", "FIND", "BIND", "EACH", "ANY", "ACH", "WAIT", "GATE", "ANTE", "EDIT"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts a directive tag, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Verdict is the directive state: pending -> running -> done | fail.
type Verdict int

const (
	Pending Verdict = iota
	Running
	Done
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Terminal reports whether v is done or fail.
func (v Verdict) Terminal() bool { return v == Done || v == Fail }

// Directive is one unit of procedural intent. Key is a pattern graphlet
// whose outside references are variables bound by earlier steps.
type Directive struct {
	Kind    Kind
	Key     *wmem.Graphlet
	Blf     float64 // belief for NOTE, 0 means 1
	Verdict Verdict

	// Replace is the rewrite carried by an EDIT: steps equal to Old in the
	// methods of operators triggered by Key become New.
	Replace *Rewrite
}

// Rewrite pairs the step to find with its replacement.
type Rewrite struct {
	Old *Directive
	New *Directive
}

// NewDirective creates a pending directive.
func NewDirective(kind Kind, key *wmem.Graphlet) *Directive {
	return &Directive{Kind: kind, Key: key}
}

// Belief returns the belief a NOTE asserts with.
func (d *Directive) Belief() float64 {
	if d.Blf <= 0 {
		return 1
	}
	return d.Blf
}

// Reset returns the directive to pending.
func (d *Directive) Reset() { d.Verdict = Pending }

// Same reports whether two directives have the same kind and key shape.
func Same(w *wmem.WMem, a, b *Directive) bool {
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	return w.Shape(a.Key) == w.Shape(b.Key)
}

func (d *Directive) clone() *Directive {
	c := *d
	c.Verdict = Pending
	if d.Replace != nil {
		r := *d.Replace
		c.Replace = &r
	}
	return &c
}

// Format renders a directive with its key in canonical form.
func Format(w *wmem.WMem, d *Directive) string {
	if d == nil {
		return "<nil>"
	}
	s := d.Kind.String() + " " + w.Canon(d.Key)
	if d.Replace != nil {
		s += " [" + Format(w, d.Replace.Old) + " -> " + Format(w, d.Replace.New) + "]"
	}
	return s
}
