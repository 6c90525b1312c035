package proc

import (
	"fmt"
	"strings"

	"alia/internal/wmem"
)

// Chain is one step, a directive or a play, with successors for each
// outcome. A successor marked as a back-edge is not owned by this step: it
// closes a loop, and cloning or walking does not descend through it.
type Chain struct {
	Dir  *Directive
	Play *Play

	Cont, Alt, Fail             *Chain
	ContBack, AltBack, FailBack bool
}

// Play runs chains side by side. Every required chain and guard advances
// one step per cycle. The play fails when a required chain fails, succeeds
// when all are done, and ends early the cycle Until succeeds.
type Play struct {
	Req    []*Chain
	Guard  []*Chain
	Until  *Chain
	Looped bool
}

// Step wraps a directive in a chain node.
func Step(kind Kind, key *wmem.Graphlet) *Chain {
	return &Chain{Dir: NewDirective(kind, key)}
}

// Then links steps through their Cont edges and returns the first.
// Nil steps are skipped.
func Then(steps ...*Chain) *Chain {
	var head, tail *Chain
	for _, s := range steps {
		if s == nil {
			continue
		}
		if head == nil {
			head = s
		} else {
			tail.Last().Cont = s
		}
		tail = s
	}
	return head
}

// Last follows owned Cont edges to the final step.
func (c *Chain) Last() *Chain {
	for c.Cont != nil && !c.ContBack {
		c = c.Cont
	}
	return c
}

// Next returns the successor for a verdict and whether it is a back-edge.
func (c *Chain) Next(v Verdict) (*Chain, bool) {
	if v == Done {
		return c.Cont, c.ContBack
	}
	return c.Fail, c.FailBack
}

// Walk visits every step owned by c once, including the chains of plays.
// Returning false from fn stops the walk.
func (c *Chain) Walk(fn func(*Chain) bool) {
	seen := make(map[*Chain]bool)
	var visit func(*Chain) bool
	visit = func(s *Chain) bool {
		if s == nil || seen[s] {
			return true
		}
		seen[s] = true
		if !fn(s) {
			return false
		}
		if p := s.Play; p != nil {
			for _, r := range p.Req {
				if !visit(r) {
					return false
				}
			}
			for _, g := range p.Guard {
				if !visit(g) {
					return false
				}
			}
			if !visit(p.Until) {
				return false
			}
		}
		if !s.ContBack && !visit(s.Cont) {
			return false
		}
		if !s.AltBack && !visit(s.Alt) {
			return false
		}
		if !s.FailBack && !visit(s.Fail) {
			return false
		}
		return true
	}
	visit(c)
}

// Steps returns the owned steps in walk order.
func (c *Chain) Steps() []*Chain {
	var out []*Chain
	c.Walk(func(s *Chain) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Clone deep-copies the chain. Back-edges are redirected to the copies of
// their targets; keys are shared since patterns are read-only.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	copies := make(map[*Chain]*Chain)
	for _, s := range c.Steps() {
		n := &Chain{ContBack: s.ContBack, AltBack: s.AltBack, FailBack: s.FailBack}
		if s.Dir != nil {
			n.Dir = s.Dir.clone()
		}
		copies[s] = n
	}
	remap := func(s *Chain) *Chain {
		if s == nil {
			return nil
		}
		if n, ok := copies[s]; ok {
			return n
		}
		return s
	}
	for old, n := range copies {
		n.Cont, n.Alt, n.Fail = remap(old.Cont), remap(old.Alt), remap(old.Fail)
		if p := old.Play; p != nil {
			np := &Play{Until: remap(p.Until), Looped: p.Looped}
			for _, r := range p.Req {
				np.Req = append(np.Req, remap(r))
			}
			for _, g := range p.Guard {
				np.Guard = append(np.Guard, remap(g))
			}
			n.Play = np
		}
	}
	return copies[c]
}

// Keys returns every directive key in the chain, rewrite keys included.
func (c *Chain) Keys() []*wmem.Graphlet {
	var out []*wmem.Graphlet
	c.Walk(func(s *Chain) bool {
		if d := s.Dir; d != nil {
			out = append(out, d.Key)
			if r := d.Replace; r != nil {
				if r.Old != nil {
					out = append(out, r.Old.Key)
				}
				if r.New != nil {
					out = append(out, r.New.Key)
				}
			}
		}
		return true
	})
	return out
}

// Release frees the pattern nodes of every key. Only for chains that own
// their keys outright, never for clones of operator methods.
func (c *Chain) Release(w *wmem.WMem) {
	for _, k := range c.Keys() {
		w.Release(k)
	}
}

// Directives returns the directives of the chain in walk order.
func (c *Chain) Directives() []*Directive {
	var out []*Directive
	c.Walk(func(s *Chain) bool {
		if s.Dir != nil {
			out = append(out, s.Dir)
		}
		return true
	})
	return out
}

// FormatChain renders a chain one step per line:
//
//	0 FIND ?0=obj:(...) cont=1 fail=2
func FormatChain(w *wmem.WMem, c *Chain) string {
	if c == nil {
		return ""
	}
	steps := c.Steps()
	index := make(map[*Chain]int, len(steps))
	for i, s := range steps {
		index[s] = i
	}
	edge := func(name string, t *Chain, back bool) string {
		if t == nil {
			return ""
		}
		mark := ""
		if back {
			mark = "^"
		}
		return fmt.Sprintf(" %s=%s%d", name, mark, index[t])
	}
	var sb strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d ", i)
		if s.Play != nil {
			sb.WriteString("PLAY")
			for _, r := range s.Play.Req {
				fmt.Fprintf(&sb, " req=%d", index[r])
			}
			for _, g := range s.Play.Guard {
				fmt.Fprintf(&sb, " guard=%d", index[g])
			}
			if s.Play.Until != nil {
				fmt.Fprintf(&sb, " until=%d", index[s.Play.Until])
			}
			if s.Play.Looped {
				sb.WriteString(" looped")
			}
		} else {
			sb.WriteString(Format(w, s.Dir))
		}
		sb.WriteString(edge("cont", s.Cont, s.ContBack))
		sb.WriteString(edge("alt", s.Alt, s.AltBack))
		sb.WriteString(edge("fail", s.Fail, s.FailBack))
		sb.WriteByte('\n')
	}
	return sb.String()
}
