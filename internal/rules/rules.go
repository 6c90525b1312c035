// Package rules holds forward production rules and maintains the halo:
// the transient facts rules derive from main memory.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"alia/internal/logging"
	"alia/internal/match"
	"alia/internal/wmem"
)

// Level separates rules loaded at reset from rules taught since.
type Level int

const (
	Kernel Level = iota
	Accumulated
)

func (l Level) String() string {
	if l == Kernel {
		return "kernel"
	}
	return "accumulated"
}

// Rule derives copies of Result into the halo wherever Cond matches main.
// Result items may point at Cond items; those edges are filled from the
// condition bindings.
type Rule struct {
	ID        int
	Name      string
	Cond      *wmem.Graphlet
	Result    *wmem.Graphlet
	Conf      float64
	Level     Level
	Published bool
}

// DefaultPasses caps the fixed-point iteration of RefreshHalo.
const DefaultPasses = 8

// Store holds kernel and accumulated rules.
type Store struct {
	rules  []*Rule
	canon  map[string]*Rule
	nextID int
	passes int
	fresh  []*Rule
	merged map[[2]int]bool // rule pairs already consolidated
}

// NewStore creates an empty rule store capped at passes iterations per refresh.
func NewStore(passes int) *Store {
	if passes <= 0 {
		passes = DefaultPasses
	}
	return &Store{canon: make(map[string]*Rule), nextID: 1, passes: passes}
}

// Rules returns all rules in insertion order.
func (s *Store) Rules() []*Rule { return s.rules }

// Get returns a rule by id.
func (s *Store) Get(id int) *Rule {
	for _, r := range s.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Learned returns the accumulated rules.
func (s *Store) Learned() []*Rule {
	var out []*Rule
	for _, r := range s.rules {
		if r.Level == Accumulated {
			out = append(out, r)
		}
	}
	return out
}

// Fresh returns and clears the rules added since the last call.
func (s *Store) Fresh() []*Rule {
	f := s.fresh
	s.fresh = nil
	return f
}

// Canon is the duplicate-suppression key of a rule.
func Canon(w *wmem.WMem, r *Rule) string {
	return w.Canon(r.Cond, r.Result)
}

// AddRule stores r at the given level unless an equivalent rule exists.
// Returns the stored rule, which is the existing one for duplicates.
func (s *Store) AddRule(w *wmem.WMem, r *Rule, level Level, publish bool) (*Rule, bool) {
	key := Canon(w, r)
	if old, ok := s.canon[key]; ok {
		if r.Conf > old.Conf {
			old.Conf = r.Conf
		}
		logging.RulesDebug("duplicate rule %q suppressed (same as %d)", r.Name, old.ID)
		return old, false
	}
	if r.Conf <= 0 {
		r.Conf = 1
	}
	r.ID = s.nextID
	s.nextID++
	r.Level = level
	r.Published = publish
	if r.Name == "" {
		r.Name = fmt.Sprintf("rule-%d", r.ID)
	}
	s.rules = append(s.rules, r)
	s.canon[key] = r
	s.fresh = append(s.fresh, r)
	w.Invalidate()
	logging.Rules("added %s rule %d %q: %s (conf %.2f)", level, r.ID, r.Name, key, r.Conf)
	return r, true
}

// =============================================================================
// HALO REFRESH
// =============================================================================

// RefreshHalo recomputes the halo if main changed since the last refresh:
// it wipes the halo and applies every rule against main plus halo until no
// rule fires or the pass cap is reached. Returns the number of halo nodes.
func (s *Store) RefreshHalo(w *wmem.WMem) (int, error) {
	if !w.Dirty() {
		return len(w.Halo()), nil
	}
	timer := logging.StartTimer(logging.CategoryRules, "RefreshHalo")
	defer timer.Stop()

	w.WipeHalo()
	fired := make(map[string]bool)
	for pass := 0; pass < s.passes; pass++ {
		n := 0
		for _, r := range s.rules {
			all, err := match.All(w, r.Cond, match.Memory, nil)
			if err != nil {
				return 0, fmt.Errorf("rule %d %q: %w", r.ID, r.Name, err)
			}
			for _, b := range all {
				sig := signature(r, b)
				if fired[sig] {
					continue
				}
				fired[sig] = true
				made, err := s.fire(w, r, b)
				if err != nil {
					return 0, err
				}
				n += made
			}
		}
		if n == 0 {
			break
		}
		logging.RulesDebug("halo pass %d derived %d nodes", pass, n)
	}
	w.ClearDirty()
	return len(w.Halo()), nil
}

func signature(r *Rule, b *match.Bindings) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", r.ID)
	for _, p := range b.Pairs() {
		fmt.Fprintf(&sb, ",%d", p.Val)
	}
	return sb.String()
}

// fire instantiates the result of r under b into the halo. Facts already
// present in main or halo are not duplicated. Returns the number of new nodes.
func (s *Store) fire(w *wmem.WMem, r *Rule, b *match.Bindings) (int, error) {
	blf := 1.0
	for _, p := range b.Pairs() {
		if n := w.Node(p.Val); n != nil && n.Blf < blf {
			blf = n.Blf
		}
	}
	blf *= r.Conf
	if blf < w.MinBlf() {
		return 0, nil
	}

	vals := make(map[wmem.ID]wmem.ID)
	resolve := func(t wmem.ID) (wmem.ID, bool) {
		if r.Result.Has(t) {
			v, ok := vals[t]
			return v, ok
		}
		if v, ok := b.Get(t); ok {
			return v, true
		}
		if n := w.Node(t); n != nil && n.Part != wmem.Pattern {
			return t, true
		}
		return wmem.None, false
	}

	made := 0
	pending := append([]wmem.ID(nil), r.Result.Items()...)
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, it := range pending {
			p := w.Node(it)
			args := make([]wmem.Arg, 0, len(p.Args()))
			ready := true
			for _, a := range p.Args() {
				v, ok := resolve(a.Tgt)
				if !ok {
					ready = false
					break
				}
				args = append(args, wmem.Arg{Role: a.Role, Tgt: v})
			}
			if !ready {
				rest = append(rest, it)
				continue
			}
			progress = true
			if eq := w.Equivalent(p.Kind, p.Lex, p.Neg, p.Done, args, wmem.Main, wmem.Halo); eq != wmem.None {
				if en := w.Node(eq); en.Part == wmem.Main && en.Blf >= w.MinBlf() {
					vals[it] = eq
					continue
				}
				if w.Node(eq).Part == wmem.Halo {
					w.RaiseHalo(eq, blf)
					vals[it] = eq
					continue
				}
			}
			d := &wmem.Derivation{Rule: r.ID, Pat: it, Cond: b.Pairs(), Conf: r.Conf}
			h, err := w.MakeHalo(p.Kind, p.Lex, p.Neg, blf, d)
			if err != nil {
				return made, err
			}
			for _, a := range args {
				if err := w.LinkHalo(h, a.Role, a.Tgt); err != nil {
					return made, err
				}
			}
			vals[it] = h
			made++
		}
		pending = rest
		if !progress {
			return made, fmt.Errorf("rule %d %q: result refers to unbound nodes", r.ID, r.Name)
		}
	}
	return made, nil
}

// HaloFacts returns the sorted halo descriptions, for idempotence checks.
func HaloFacts(w *wmem.WMem) []string {
	out := w.HaloSet()
	sort.Strings(out)
	return out
}
