// Package ops stores operators: procedural knowledge of the form "to do X
// when the situation is S, run method M". Operators are selected by matching
// their trigger against a directive key.
package ops

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"alia/internal/logging"
	"alia/internal/match"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// Operator kinds are the directive kinds that select operators.
var Kinds = []proc.Kind{proc.Do, proc.Note, proc.Ante, proc.Gate, proc.Ach}

// Operator is a method guarded by a trigger and situation. Cond's main node
// is the trigger, matched against the directive key; the other items must
// hold in memory. No Unless clause may hold under the cond bindings.
type Operator struct {
	ID        int
	Name      string
	Kind      proc.Kind
	Cond      *wmem.Graphlet
	Unless    []*wmem.Graphlet
	Method    *proc.Chain
	Pref      float64
	Level     rules.Level
	Published bool

	seq int
}

// Seq is the addition order; later additions win preference ties.
func (o *Operator) Seq() int { return o.seq }

// Store holds every operator in insertion order.
type Store struct {
	ops       []*Operator
	canon     map[string]*Operator
	overrides map[string]float64
	seq       int
	fresh     []*Operator
}

// NewStore returns an empty operator store.
func NewStore() *Store {
	return &Store{canon: make(map[string]*Operator), overrides: make(map[string]float64)}
}

// All returns the operators in insertion order.
func (s *Store) All() []*Operator { return s.ops }

// Len returns the number of operators.
func (s *Store) Len() int { return len(s.ops) }

// ByName returns the operators with the given name.
func (s *Store) ByName(name string) []*Operator {
	var out []*Operator
	for _, o := range s.ops {
		if o.Name == name {
			out = append(out, o)
		}
	}
	return out
}

// Learned returns the accumulated operators.
func (s *Store) Learned() []*Operator {
	var out []*Operator
	for _, o := range s.ops {
		if o.Level == rules.Accumulated {
			out = append(out, o)
		}
	}
	return out
}

// Fresh returns and clears the operators added since the last call.
func (s *Store) Fresh() []*Operator {
	f := s.fresh
	s.fresh = nil
	return f
}

// Canon is the duplicate-suppression key of an operator.
func Canon(w *wmem.WMem, o *Operator) string {
	var sb strings.Builder
	sb.WriteString(o.Kind.String())
	sb.WriteByte(' ')
	sb.WriteString(w.Canon(append([]*wmem.Graphlet{o.Cond}, o.Unless...)...))
	sb.WriteString(" => ")
	sb.WriteString(proc.FormatChain(w, o.Method))
	return sb.String()
}

// AddOperator stores o unless an equivalent operator exists. A pending
// override for o's name replaces its preference.
func (s *Store) AddOperator(w *wmem.WMem, o *Operator, level rules.Level, publish bool) (*Operator, bool) {
	key := Canon(w, o)
	if old, ok := s.canon[key]; ok {
		logging.OpsDebug("duplicate operator %q suppressed (same as %d)", o.Name, old.ID)
		return old, false
	}
	s.seq++
	o.ID = s.seq
	o.seq = s.seq
	o.Level = level
	o.Published = publish
	if o.Pref <= 0 {
		o.Pref = Default
	}
	if o.Name == "" {
		o.Name = fmt.Sprintf("op-%d", o.ID)
	}
	if p, ok := s.overrides[o.Name]; ok {
		o.Pref = p
	}
	s.ops = append(s.ops, o)
	s.canon[key] = o
	s.fresh = append(s.fresh, o)
	logging.Ops("added %s %s operator %d %q (pref %.2f)", level, o.Kind, o.ID, o.Name, o.Pref)
	return o, true
}

// SetPref re-scores every operator named name, now and when added later.
func (s *Store) SetPref(name string, pref float64) int {
	s.overrides[name] = pref
	n := 0
	for _, o := range s.ops {
		if o.Name == name {
			o.Pref = pref
			n++
		}
	}
	return n
}

// =============================================================================
// SELECTION
// =============================================================================

// Trigger is what operators are matched against: a scratch copy of the
// directive key with its variables resolved, or a memory node.
type Trigger struct {
	Key    *wmem.Graphlet
	Anchor wmem.ID
}

// Match is an applicable operator and its cond bindings.
type Match struct {
	Op       *Operator
	Bindings *match.Bindings
}

// FindOps returns the operators of the given kind whose trigger matches,
// whose situation holds, and whose unless clauses do not hold, ranked by
// preference and then most recent addition. Operators below minPref are
// left out.
func (s *Store) FindOps(w *wmem.WMem, kind proc.Kind, trig Trigger, minPref float64) []Match {
	sp := match.Memory
	sp.Anchor = trig.Anchor
	if trig.Key != nil {
		sp.Extra = trig.Key.Items()
		if sp.Anchor == wmem.None {
			sp.Anchor = trig.Key.Main()
		}
	}
	var out []Match
	for _, o := range s.ops {
		if o.Kind != kind || o.Pref < minPref {
			continue
		}
		b, err := match.Best(w, o.Cond, sp, nil)
		if err != nil {
			if !errors.Is(err, match.ErrNoMatch) {
				logging.OpsWarn("operator %d %q: %v", o.ID, o.Name, err)
			}
			continue
		}
		if s.blocked(w, o, sp, b) {
			logging.OpsDebug("operator %q blocked by unless clause", o.Name)
			continue
		}
		out = append(out, Match{Op: o, Bindings: b})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Op, out[j].Op
		if a.Pref != b.Pref {
			return a.Pref > b.Pref
		}
		return a.seq > b.seq
	})
	logging.OpsDebug("FindOps %s: %d applicable", kind, len(out))
	return out
}

func (s *Store) blocked(w *wmem.WMem, o *Operator, sp match.Space, b *match.Bindings) bool {
	sp.Anchor = wmem.None
	for _, u := range o.Unless {
		if match.Holds(w, u, sp, b) {
			return true
		}
	}
	return false
}

// Below reports whether some operator of kind would match at a lower
// threshold than minPref but at least floor.
func (s *Store) Below(kind proc.Kind, minPref, floor float64) bool {
	for _, o := range s.ops {
		if o.Kind == kind && o.Pref < minPref && o.Pref >= floor {
			return true
		}
	}
	return false
}

// =============================================================================
// EDITING
// =============================================================================

// Rewrite replaces steps equal to old with replacement in the methods of
// the DO operators trig selects. The first replaced step takes replacement
// itself and every later one a copy, so each method owns its keys. Returns
// the number of replaced steps and the keys of the steps taken out, which
// the caller releases once no running method shares them.
func (s *Store) Rewrite(w *wmem.WMem, trig Trigger, old, replacement *proc.Directive) (int, []*wmem.Graphlet, error) {
	n := 0
	var retired []*wmem.Graphlet
	var err error
	for _, m := range s.FindOps(w, proc.Do, trig, 0) {
		k := 0
		m.Op.Method.Walk(func(c *proc.Chain) bool {
			if c.Dir == nil || !proc.Same(w, c.Dir, old) {
				return true
			}
			d := replacement
			if n+k > 0 {
				if d, err = CopyDirective(w, replacement); err != nil {
					return false
				}
			}
			retired = append(retired, stepKeys(c.Dir)...)
			c.Dir = d
			k++
			return true
		})
		n += k
		if k > 0 {
			delete(s.canon, s.keyOf(m.Op))
			s.canon[Canon(w, m.Op)] = m.Op
			logging.Ops("edited method of operator %d %q", m.Op.ID, m.Op.Name)
		}
		if err != nil {
			return n, retired, err
		}
	}
	return n, retired, nil
}

// CopyDirective copies d with fresh pattern nodes for its keys.
func CopyDirective(w *wmem.WMem, d *proc.Directive) (*proc.Directive, error) {
	if d == nil {
		return nil, nil
	}
	c := *d
	key, err := NewTrigger(w, d.Key, nil)
	if err != nil {
		return nil, err
	}
	c.Key = key.Key
	if r := d.Replace; r != nil {
		old, err := CopyDirective(w, r.Old)
		if err != nil {
			w.Release(c.Key)
			return nil, err
		}
		repl, err := CopyDirective(w, r.New)
		if err != nil {
			w.Release(c.Key)
			if old != nil {
				w.Release(old.Key)
			}
			return nil, err
		}
		c.Replace = &proc.Rewrite{Old: old, New: repl}
	}
	return &c, nil
}

func stepKeys(d *proc.Directive) []*wmem.Graphlet {
	out := []*wmem.Graphlet{d.Key}
	if r := d.Replace; r != nil {
		for _, x := range []*proc.Directive{r.Old, r.New} {
			if x != nil {
				out = append(out, stepKeys(x)...)
			}
		}
	}
	return out
}

func (s *Store) keyOf(o *Operator) string {
	for k, v := range s.canon {
		if v == o {
			return k
		}
	}
	return ""
}

// =============================================================================
// SCRATCH KEYS
// =============================================================================

// NewTrigger copies key into a scratch pattern graphlet, replacing
// references to variables bound in env by their values, so operators can
// match it. Release the trigger when done.
func NewTrigger(w *wmem.WMem, key *wmem.Graphlet, env *match.Bindings) (Trigger, error) {
	g := wmem.NewGraphlet()
	if key.Empty() {
		return Trigger{Key: g}, nil
	}
	restore := w.Build(g)
	defer restore()

	copies := make(map[wmem.ID]wmem.ID, key.Len())
	for _, it := range key.Items() {
		if v, ok := env.Get(it); ok {
			copies[it] = v
			continue
		}
		n := w.Node(it)
		id, err := w.MakeNode(n.Kind, n.Lex, n.Neg, n.Blf)
		if err != nil {
			w.Release(g)
			return Trigger{}, err
		}
		w.SetDone(id, n.Done)
		w.SetTags(id, n.Tags)
		copies[it] = id
	}
	for _, it := range key.Items() {
		if _, bound := env.Get(it); bound {
			continue
		}
		for _, a := range w.Node(it).Args() {
			t, ok := copies[a.Tgt]
			if !ok {
				if v, bound := env.Get(a.Tgt); bound {
					t = v
				} else if tn := w.Node(a.Tgt); tn != nil && tn.Part != wmem.Pattern {
					t = a.Tgt
				} else {
					w.Release(g)
					return Trigger{}, fmt.Errorf("trigger %s -%s->: %w", w.Node(it), a.Role, match.ErrUnbound)
				}
			}
			if err := w.AddArg(copies[it], a.Role, t); err != nil {
				w.Release(g)
				return Trigger{}, err
			}
		}
	}
	m := copies[key.Main()]
	if g.Has(m) {
		g.SetMain(m)
	}
	return Trigger{Key: g, Anchor: m}, nil
}

// Release frees the scratch nodes of the trigger.
func (t Trigger) Release(w *wmem.WMem) {
	if t.Key != nil {
		w.Release(t.Key)
	}
}
