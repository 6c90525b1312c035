package match

import (
	"errors"
	"fmt"
	"sort"

	"alia/internal/logging"
	"alia/internal/wmem"
)

var (
	// ErrNoMatch means the pattern has no binding in the searched space.
	ErrNoMatch = errors.New("no match")
	// ErrUnbound means the pattern refers to a variable nothing has bound.
	ErrUnbound = wmem.ErrUnbound
)

// maxResults bounds enumeration on pathological patterns.
const maxResults = 4096

// Space selects which nodes are candidates.
type Space struct {
	Main   bool      // believed nodes
	Halo   bool      // derived nodes
	Extra  []wmem.ID // additional nodes, typically a directive key
	Anchor wmem.ID   // if set, the pattern's main node must bind here
}

// Memory is main plus halo, the usual space for directives.
var Memory = Space{Main: true, Halo: true}

// MainOnly searches believed nodes only, the space for rule conditions.
var MainOnly = Space{Main: true}

type result struct {
	b   *Bindings
	rec int64
}

type matcher struct {
	w     *wmem.WMem
	g     *wmem.Graphlet
	sp    Space
	extra map[wmem.ID]bool
	pre   *Bindings
	cur   map[wmem.ID]wmem.ID
	used  map[wmem.ID]bool
	out   []result
}

// All returns every binding of g in sp, most recent main binding first and
// then in discovery order. pre supplies values for variables outside g and
// may pin items of g. The result is empty when nothing matches; the error is
// ErrUnbound when g refers to an outside variable pre does not bind.
func All(w *wmem.WMem, g *wmem.Graphlet, sp Space, pre *Bindings) ([]*Bindings, error) {
	if g.Empty() {
		return nil, nil
	}
	m := &matcher{
		w:    w,
		g:    g,
		sp:   sp,
		pre:  pre,
		cur:  make(map[wmem.ID]wmem.ID, g.Len()),
		used: make(map[wmem.ID]bool, g.Len()),
	}
	if len(sp.Extra) > 0 {
		m.extra = make(map[wmem.ID]bool, len(sp.Extra))
		for _, id := range sp.Extra {
			m.extra[id] = true
		}
	}
	for _, it := range g.Items() {
		for _, a := range w.Node(it).Args() {
			if g.Has(a.Tgt) {
				continue
			}
			if _, ok := m.outside(a.Tgt); !ok {
				return nil, fmt.Errorf("%s -%s-> %d: %w", w.Node(it), a.Role, a.Tgt, ErrUnbound)
			}
		}
	}

	m.search()
	sort.SliceStable(m.out, func(i, j int) bool { return m.out[i].rec > m.out[j].rec })
	res := make([]*Bindings, len(m.out))
	for i, r := range m.out {
		res[i] = r.b
	}
	logging.MatchDebug("pattern %s: %d matches", w.Canon(g), len(res))
	return res, nil
}

// Best returns the binding whose main value is most recent.
func Best(w *wmem.WMem, g *wmem.Graphlet, sp Space, pre *Bindings) (*Bindings, error) {
	all, err := All(w, g, sp, pre)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoMatch
	}
	return all[0], nil
}

// Holds reports whether g has any binding.
func Holds(w *wmem.WMem, g *wmem.Graphlet, sp Space, pre *Bindings) bool {
	b, err := Best(w, g, sp, pre)
	return err == nil && b != nil
}

// outside resolves a node that is not an item of the pattern: a pre-bound
// variable, or a constant memory or extra node.
func (m *matcher) outside(t wmem.ID) (wmem.ID, bool) {
	if v, ok := m.pre.Get(t); ok {
		return v, true
	}
	n := m.w.Node(t)
	if n == nil {
		return wmem.None, false
	}
	if n.Part == wmem.Pattern && !m.extra[t] {
		return wmem.None, false
	}
	return t, true
}

// value resolves any pattern reference under the current partial binding.
func (m *matcher) value(t wmem.ID) (wmem.ID, bool) {
	if m.g.Has(t) {
		v, ok := m.cur[t]
		return v, ok
	}
	return m.outside(t)
}

func (m *matcher) search() {
	if len(m.out) >= maxResults {
		return
	}
	p := m.pick()
	if p == wmem.None {
		b := &Bindings{}
		for _, it := range m.g.Items() {
			b.Set(it, m.cur[it])
		}
		var rec int64
		if n := m.w.Node(m.cur[m.g.Main()]); n != nil {
			rec = n.Rec
		}
		m.out = append(m.out, result{b: b, rec: rec})
		return
	}
	for _, c := range m.candidates(p) {
		if m.used[c] || m.g.Has(c) || !m.inSpace(c) || !m.fits(p, c) || !m.edgesOK(p, c) {
			continue
		}
		m.cur[p] = c
		m.used[c] = true
		m.search()
		delete(m.cur, p)
		delete(m.used, c)
	}
}

// pick chooses the next unbound item: main first, then items connected to
// something already bound, then the rest in insertion order.
func (m *matcher) pick() wmem.ID {
	if _, ok := m.cur[m.g.Main()]; !ok {
		return m.g.Main()
	}
	first := wmem.None
	for _, it := range m.g.Items() {
		if _, ok := m.cur[it]; ok {
			continue
		}
		if first == wmem.None {
			first = it
		}
		if m.connected(it) {
			return it
		}
	}
	return first
}

func (m *matcher) connected(p wmem.ID) bool {
	for _, a := range m.w.Node(p).Args() {
		if _, ok := m.value(a.Tgt); ok {
			return true
		}
	}
	for _, r := range m.w.Node(p).Refs() {
		if _, ok := m.cur[r.Src]; ok && m.g.Has(r.Src) {
			return true
		}
	}
	return false
}

func (m *matcher) candidates(p wmem.ID) []wmem.ID {
	if v, ok := m.pre.Get(p); ok {
		return []wmem.ID{v}
	}
	if p == m.g.Main() && m.sp.Anchor != wmem.None {
		return []wmem.ID{m.sp.Anchor}
	}
	pn := m.w.Node(p)
	// a bound item pointing at p narrows p to that value's targets
	for _, r := range pn.Refs() {
		if !m.g.Has(r.Src) {
			continue
		}
		if qv, ok := m.cur[r.Src]; ok {
			var out []wmem.ID
			for _, a := range m.w.Node(qv).Args() {
				if a.Role == r.Role {
					out = append(out, a.Tgt)
				}
			}
			return out
		}
	}
	// p pointing at a known value narrows p to that value's referents
	for _, a := range pn.Args() {
		if tv, ok := m.value(a.Tgt); ok {
			var out []wmem.ID
			for _, r := range m.w.Node(tv).Refs() {
				if r.Role == a.Role {
					out = append(out, r.Src)
				}
			}
			return out
		}
	}
	var out []wmem.ID
	if m.sp.Main {
		out = append(out, m.w.Main()...)
	}
	if m.sp.Halo {
		out = append(out, m.w.Halo()...)
	}
	out = append(out, m.sp.Extra...)
	return out
}

func (m *matcher) inSpace(c wmem.ID) bool {
	n := m.w.Node(c)
	if n == nil {
		return false
	}
	switch {
	case n.Part == wmem.Main:
		return m.sp.Main || m.extra[c]
	case n.Part == wmem.Halo:
		return m.sp.Halo || m.extra[c]
	default:
		return m.extra[c]
	}
}

// Compatible reports whether a candidate kind satisfies a pattern kind.
func Compatible(pat, cand wmem.Kind) bool {
	switch pat {
	case wmem.Placeholder:
		return true
	case wmem.Object:
		return cand == wmem.Object || cand == wmem.Actor
	default:
		return pat == cand
	}
}

func (m *matcher) fits(p, c wmem.ID) bool {
	pn, cn := m.w.Node(p), m.w.Node(c)
	if !Compatible(pn.Kind, cn.Kind) {
		return false
	}
	if pn.Lex != "" && pn.Lex != cn.Lex {
		return false
	}
	if pn.Neg != cn.Neg || pn.Done != cn.Done {
		return false
	}
	lower := pn.Blf
	if cn.Part != wmem.Pattern && m.w.MinBlf() > lower {
		lower = m.w.MinBlf()
	}
	return cn.Blf >= lower
}

func (m *matcher) edgesOK(p, c wmem.ID) bool {
	cn := m.w.Node(c)
	for _, a := range m.w.Node(p).Args() {
		if a.Tgt == p {
			if !cn.HasArg(a.Role, c) {
				return false
			}
			continue
		}
		if v, ok := m.value(a.Tgt); ok && !cn.HasArg(a.Role, v) {
			return false
		}
	}
	for _, r := range m.w.Node(p).Refs() {
		if !m.g.Has(r.Src) || r.Src == p {
			continue
		}
		if qv, ok := m.cur[r.Src]; ok && !m.w.Node(qv).HasArg(r.Role, c) {
			return false
		}
	}
	return true
}
