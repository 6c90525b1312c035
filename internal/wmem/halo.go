package wmem

import (
	"fmt"

	"alia/internal/logging"
)

// MakeHalo allocates a derived node in the halo partition.
func (w *WMem) MakeHalo(kind Kind, lex string, neg bool, blf float64, d *Derivation) (ID, error) {
	n, err := w.pool.alloc(Halo)
	if err != nil {
		return None, err
	}
	n.Kind = kind
	n.Lex = lex
	n.Neg = neg
	n.Blf = clamp(blf)
	n.Str = kind == Quote
	n.Deriv = d
	w.Mention(n.ID)
	w.halo = append(w.halo, n.ID)
	return n.ID, nil
}

// LinkHalo adds an edge from a halo node. Main targets are fine; the
// inverse entry lives on the main node until the halo is wiped.
func (w *WMem) LinkHalo(src ID, role string, tgt ID) error {
	s, t := w.pool.Get(src), w.pool.Get(tgt)
	if s == nil || t == nil {
		return fmt.Errorf("LinkHalo %d -%s-> %d: %w", src, role, tgt, ErrNoNode)
	}
	if s.Part != Halo {
		return fmt.Errorf("LinkHalo from %s node %d", s.Part, src)
	}
	w.pool.link(s, role, t)
	return nil
}

// RaiseHalo lifts the belief of an existing halo node to at least blf.
func (w *WMem) RaiseHalo(id ID, blf float64) {
	if n := w.pool.Get(id); n != nil && n.Part == Halo && n.Blf < blf {
		n.Blf = clamp(blf)
	}
}

// WipeHalo discards every halo node.
func (w *WMem) WipeHalo() {
	for _, id := range w.halo {
		w.pool.release(id)
	}
	if len(w.halo) > 0 {
		logging.WMemDebug("wiped %d halo nodes", len(w.halo))
	}
	w.halo = w.halo[:0]
	w.reified = make(map[ID]ID)
}

// Reify copies a halo node into main together with its halo arguments and
// its halo support. The copy carries the newest source marker among its
// support. Main nodes are returned unchanged.
func (w *WMem) Reify(id ID) (ID, error) {
	n := w.pool.Get(id)
	if n == nil {
		return None, fmt.Errorf("reify %d: %w", id, ErrNoNode)
	}
	if n.Part != Halo {
		return id, nil
	}
	if r, ok := w.reified[id]; ok && w.pool.Get(r) != nil {
		return r, nil
	}

	src := 0
	if n.Deriv != nil {
		for _, p := range n.Deriv.Cond {
			v, err := w.Reify(p.Val)
			if err != nil {
				return None, err
			}
			if s := w.pool.Get(v); s != nil && s.Src > src {
				src = s.Src
			}
		}
	}
	args := make([]Arg, 0, len(n.args))
	for _, a := range n.args {
		v, err := w.Reify(a.Tgt)
		if err != nil {
			return None, err
		}
		if s := w.pool.Get(v); s != nil && s.Src > src {
			src = s.Src
		}
		args = append(args, Arg{Role: a.Role, Tgt: v})
	}

	if eq := w.Equivalent(n.Kind, n.Lex, n.Neg, n.Done, args, Main); eq != None {
		w.reified[id] = eq
		return eq, nil
	}
	m, err := w.pool.alloc(Main)
	if err != nil {
		return None, err
	}
	m.Kind, m.Lex, m.Neg, m.Done, m.Str, m.Tags = n.Kind, n.Lex, n.Neg, n.Done, n.Str, n.Tags
	m.Blf = n.Blf
	m.Src = src
	m.Deriv = nil
	for _, a := range args {
		w.pool.link(m, a.Role, w.pool.Get(a.Tgt))
	}
	m.Rec = n.Rec
	w.main = append(w.main, m.ID)
	w.reified[id] = m.ID
	w.touch()
	logging.WMemDebug("reified halo %s as main %d (src %d)", n, m.ID, src)
	return m.ID, nil
}

// CheckConsistency verifies the edge/inverse invariant and halo purity.
func (w *WMem) CheckConsistency() error {
	var err error
	w.pool.Each(func(n *Node) {
		if err != nil {
			return
		}
		for _, a := range n.args {
			t := w.pool.Get(a.Tgt)
			if t == nil {
				err = fmt.Errorf("node %d has dangling arg %s->%d", n.ID, a.Role, a.Tgt)
				return
			}
			found := false
			for _, r := range t.refs {
				if r.Role == a.Role && r.Src == n.ID {
					found = true
					break
				}
			}
			if !found {
				err = fmt.Errorf("node %d arg %s->%d has no inverse", n.ID, a.Role, a.Tgt)
				return
			}
			if n.Part == Main && t.Part == Halo {
				err = fmt.Errorf("main node %d references halo node %d", n.ID, t.ID)
				return
			}
		}
		for _, r := range n.refs {
			s := w.pool.Get(r.Src)
			if s == nil || !s.HasArg(r.Role, n.ID) {
				err = fmt.Errorf("node %d has dangling inverse %s<-%d", n.ID, r.Role, r.Src)
				return
			}
		}
	})
	return err
}
