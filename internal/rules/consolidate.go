package rules

import (
	"fmt"

	"alia/internal/logging"
	"alia/internal/match"
	"alia/internal/wmem"
)

// firing identifies one rule application through a halo node's derivation.
type firing struct {
	rule *Rule
	cond []wmem.Pair
}

// twoStep reports whether halo node h came from a rule whose condition used
// halo facts that were all produced by one firing over main facts only.
// It returns the outer and inner firings.
func (s *Store) twoStep(w *wmem.WMem, h wmem.ID) (outer, inner firing, ok bool) {
	n := w.Node(h)
	if n == nil || n.Part != wmem.Halo || n.Deriv == nil {
		return
	}
	r2 := s.Get(n.Deriv.Rule)
	if r2 == nil {
		return
	}
	var d1 *wmem.Derivation
	for _, p := range n.Deriv.Cond {
		v := w.Node(p.Val)
		if v == nil || v.Part != wmem.Halo {
			continue
		}
		if v.Deriv == nil {
			return
		}
		if d1 == nil {
			d1 = v.Deriv
		} else if d1.Rule != v.Deriv.Rule || !samePairs(d1.Cond, v.Deriv.Cond) {
			return
		}
	}
	if d1 == nil {
		return
	}
	r1 := s.Get(d1.Rule)
	if r1 == nil {
		return
	}
	for _, p := range d1.Cond {
		if v := w.Node(p.Val); v == nil || v.Part != wmem.Main {
			return
		}
	}
	return firing{r2, n.Deriv.Cond}, firing{r1, d1.Cond}, true
}

func samePairs(a, b []wmem.Pair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Consolidate looks at the halo values in b and, for each one derived in
// exactly two steps, adds an accumulated rule that reaches the same
// conclusion from the underlying main facts in one step.
func (s *Store) Consolidate(w *wmem.WMem, b *match.Bindings) ([]*Rule, error) {
	var out []*Rule
	for _, p := range b.Pairs() {
		r, err := s.consolidateNode(w, p.Val)
		if err != nil {
			return out, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// ConsolidateHalo runs consolidation over every halo node.
func (s *Store) ConsolidateHalo(w *wmem.WMem) ([]*Rule, error) {
	var out []*Rule
	for _, h := range append([]wmem.ID(nil), w.Halo()...) {
		r, err := s.consolidateNode(w, h)
		if err != nil {
			return out, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) consolidateNode(w *wmem.WMem, h wmem.ID) (*Rule, error) {
	outer, inner, ok := s.twoStep(w, h)
	if !ok {
		return nil, nil
	}
	if s.merged == nil {
		s.merged = make(map[[2]int]bool)
	}
	key := [2]int{inner.rule.ID, outer.rule.ID}
	if s.merged[key] {
		return nil, nil
	}
	s.merged[key] = true

	r, err := s.lift(w, inner, outer)
	if err != nil || r == nil {
		return nil, err
	}
	stored, added := s.AddRule(w, r, Accumulated, false)
	if !added {
		w.Release(r.Cond)
		w.Release(r.Result)
		return nil, nil
	}
	logging.Rules("consolidated rules %d and %d into %d", inner.rule.ID, outer.rule.ID, stored.ID)
	return stored, nil
}

// lift generalizes a concrete two-step derivation into a rule. Every main
// value used by either firing becomes a variable constrained the way the
// original condition nodes constrained it; the intermediate halo facts drop
// out of the condition.
func (s *Store) lift(w *wmem.WMem, inner, outer firing) (*Rule, error) {
	if w.Building() != nil {
		return nil, fmt.Errorf("consolidate: %w", wmem.ErrNestedBuild)
	}
	type use struct {
		pat  wmem.ID
		cond *wmem.Graphlet
		pre  []wmem.Pair
	}
	valOf := func(pairs []wmem.Pair, pat wmem.ID) wmem.ID {
		for _, p := range pairs {
			if p.Pat == pat {
				return p.Val
			}
		}
		return wmem.None
	}
	dropped := make(map[wmem.ID]bool)
	for _, p := range outer.cond {
		if n := w.Node(p.Val); n != nil && n.Part == wmem.Halo {
			dropped[p.Pat] = true
		}
	}
	// an outer condition or result that points at a dropped node cannot be lifted
	for _, g := range []*wmem.Graphlet{outer.rule.Cond, outer.rule.Result} {
		for _, it := range g.Items() {
			if dropped[it] {
				continue
			}
			for _, a := range w.Node(it).Args() {
				if dropped[a.Tgt] {
					logging.RulesDebug("rule %d refers to derived node, not consolidated", outer.rule.ID)
					return nil, nil
				}
			}
		}
	}

	var order []wmem.ID
	uses := make(map[wmem.ID][]use)
	add := func(g *wmem.Graphlet, pairs []wmem.Pair) {
		for _, it := range g.Items() {
			if dropped[it] {
				continue
			}
			v := valOf(pairs, it)
			if v == wmem.None {
				continue
			}
			if _, seen := uses[v]; !seen {
				order = append(order, v)
			}
			uses[v] = append(uses[v], use{pat: it, cond: g, pre: pairs})
		}
	}
	add(inner.rule.Cond, inner.cond)
	add(outer.rule.Cond, outer.cond)

	cond := wmem.NewGraphlet()
	result := wmem.NewGraphlet()
	vars := make(map[wmem.ID]wmem.ID)
	restore := w.Build(cond)
	for _, v := range order {
		model := w.Node(uses[v][0].pat)
		for _, u := range uses[v] {
			if n := w.Node(u.pat); n.Lex != "" {
				model = n
				break
			}
		}
		id, err := w.MakeNode(model.Kind, model.Lex, model.Neg, model.Blf)
		if err != nil {
			restore()
			w.Release(cond)
			return nil, err
		}
		w.SetDone(id, model.Done)
		vars[v] = id
	}
	target := func(u use, t wmem.ID) wmem.ID {
		if u.cond.Has(t) {
			return vars[valOf(u.pre, t)]
		}
		return t
	}
	for _, v := range order {
		for _, u := range uses[v] {
			for _, a := range w.Node(u.pat).Args() {
				t := target(u, a.Tgt)
				if t == wmem.None || w.Node(vars[v]).HasArg(a.Role, t) {
					continue
				}
				if err := w.AddArg(vars[v], a.Role, t); err != nil {
					restore()
					w.Release(cond)
					return nil, err
				}
			}
		}
	}
	cond.SetMain(vars[valOf(inner.cond, inner.rule.Cond.Main())])
	restore()

	restore = w.Build(result)
	copies := make(map[wmem.ID]wmem.ID)
	for _, it := range outer.rule.Result.Items() {
		n := w.Node(it)
		id, err := w.MakeNode(n.Kind, n.Lex, n.Neg, n.Blf)
		if err != nil {
			restore()
			w.Release(cond)
			w.Release(result)
			return nil, err
		}
		w.SetDone(id, n.Done)
		copies[it] = id
	}
	for _, it := range outer.rule.Result.Items() {
		for _, a := range w.Node(it).Args() {
			t := a.Tgt
			switch {
			case outer.rule.Result.Has(t):
				t = copies[t]
			case outer.rule.Cond.Has(t):
				t = vars[valOf(outer.cond, t)]
			}
			if t == wmem.None {
				continue
			}
			if err := w.AddArg(copies[it], a.Role, t); err != nil {
				restore()
				w.Release(cond)
				w.Release(result)
				return nil, err
			}
		}
	}
	result.SetMain(copies[outer.rule.Result.Main()])
	restore()

	return &Rule{
		Name:   inner.rule.Name + "+" + outer.rule.Name,
		Cond:   cond,
		Result: result,
		Conf:   inner.rule.Conf * outer.rule.Conf,
	}, nil
}
