package wmem

import (
	"fmt"
	"sort"
	"strings"
)

// Canon prints graphlets in canonical form. Items are ordered breadth-first
// from each main node, variables are renamed ?0, ?1, ... by first
// appearance, and nodes outside the graphlets print as #id constants.
// Graphlets sharing variables (a rule's condition and result) must be passed
// together so the names agree.
func (w *WMem) Canon(gs ...*Graphlet) string {
	return w.canon(gs, func(n *Node) string { return fmt.Sprintf("#%d", n.ID) })
}

// Shape is Canon with outside nodes printed by content instead of identity,
// so keys built in different contexts compare equal.
func (w *WMem) Shape(gs ...*Graphlet) string {
	return w.canon(gs, func(n *Node) string {
		if n.Lex != "" {
			return "#" + n.Lex
		}
		return "#" + n.Kind.String()
	})
}

func (w *WMem) canon(gs []*Graphlet, constant func(*Node) string) string {
	in := make(map[ID]bool)
	for _, g := range gs {
		for _, id := range g.Items() {
			in[id] = true
		}
	}
	names := make(map[ID]string)
	var order []ID
	name := func(id ID) {
		if _, ok := names[id]; !ok {
			names[id] = fmt.Sprintf("?%d", len(order))
			order = append(order, id)
		}
	}
	bfs := func(start ID) {
		if !in[start] {
			return
		}
		if _, ok := names[start]; ok {
			return
		}
		name(start)
		queue := []ID{start}
		for len(queue) > 0 {
			n := w.pool.Get(queue[0])
			queue = queue[1:]
			if n == nil {
				continue
			}
			for _, a := range n.args {
				if _, seen := names[a.Tgt]; in[a.Tgt] && !seen {
					name(a.Tgt)
					queue = append(queue, a.Tgt)
				}
			}
			refs := make([]Ref, 0, len(n.refs))
			for _, r := range n.refs {
				if _, seen := names[r.Src]; in[r.Src] && !seen {
					refs = append(refs, r)
				}
			}
			sort.SliceStable(refs, func(i, j int) bool {
				return w.refKey(refs[i]) < w.refKey(refs[j])
			})
			for _, r := range refs {
				if _, seen := names[r.Src]; !seen {
					name(r.Src)
					queue = append(queue, r.Src)
				}
			}
		}
	}
	for _, g := range gs {
		bfs(g.Main())
	}
	for _, g := range gs {
		for _, id := range g.Items() {
			bfs(id)
		}
	}

	parts := make([]string, 0, len(gs))
	for _, g := range gs {
		var items []string
		for _, id := range order {
			if !g.Has(id) {
				continue
			}
			items = append(items, w.canonItem(id, names, constant))
		}
		parts = append(parts, strings.Join(items, "; "))
	}
	return strings.Join(parts, " => ")
}

func (w *WMem) refKey(r Ref) string {
	s := w.pool.Get(r.Src)
	if s == nil {
		return r.Role
	}
	return fmt.Sprintf("%s/%s/%s/%v", r.Role, s.Kind, s.Lex, s.Neg)
}

func (w *WMem) canonItem(id ID, names map[ID]string, constant func(*Node) string) string {
	n := w.pool.Get(id)
	if n == nil {
		return "?"
	}
	var sb strings.Builder
	sb.WriteString(names[id])
	sb.WriteByte('=')
	sb.WriteString(n.Kind.String())
	sb.WriteByte(':')
	if n.Neg {
		sb.WriteByte('~')
	}
	if n.Str {
		fmt.Fprintf(&sb, "%q", n.Lex)
	} else {
		sb.WriteString(n.Lex)
	}
	if n.Done {
		sb.WriteString("/done")
	}
	if len(n.args) > 0 {
		sb.WriteByte('(')
		for i, a := range n.args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.Role)
			sb.WriteByte(' ')
			if nm, ok := names[a.Tgt]; ok {
				sb.WriteString(nm)
			} else if t := w.pool.Get(a.Tgt); t != nil {
				sb.WriteString(constant(t))
			} else {
				sb.WriteString("#?")
			}
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// Describe prints a node with its arguments expanded until a main node is
// reached. Used to compare halo contents across recomputations, where
// halo handles differ but the facts do not.
func (w *WMem) Describe(id ID) string {
	return w.describe(id, 4)
}

func (w *WMem) describe(id ID, depth int) string {
	n := w.pool.Get(id)
	if n == nil {
		return "#?"
	}
	if n.Part == Main && depth < 4 {
		return fmt.Sprintf("#%d", n.ID)
	}
	var sb strings.Builder
	if n.Neg {
		sb.WriteByte('~')
	}
	fmt.Fprintf(&sb, "%s:%s@%.2f", n.Kind, n.Lex, n.Blf)
	if len(n.args) > 0 && depth > 0 {
		sb.WriteByte('(')
		for i, a := range n.args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.Role)
			sb.WriteByte(' ')
			sb.WriteString(w.describe(a.Tgt, depth-1))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// HaloSet returns the sorted descriptions of all halo nodes.
func (w *WMem) HaloSet() []string {
	out := make([]string, 0, len(w.halo))
	for _, id := range w.halo {
		out = append(out, w.Describe(id))
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// NodeView is a serializable copy of one node.
type NodeView struct {
	ID   ID      `json:"id"`
	Kind string  `json:"kind"`
	Lex  string  `json:"lex,omitempty"`
	Blf  float64 `json:"blf"`
	Neg  bool    `json:"neg,omitempty"`
	Done bool    `json:"done,omitempty"`
	Rec  int64   `json:"rec"`
	Src  int     `json:"src"`
	Args []Arg   `json:"args,omitempty"`
}

// Snapshot is a serializable copy of main and halo.
type Snapshot struct {
	Version int64      `json:"version"`
	Bth     float64    `json:"bth"`
	Main    []NodeView `json:"main"`
	Halo    []NodeView `json:"halo"`
}

// Dump copies main and halo for logs, journals and introspection.
func (w *WMem) Dump() Snapshot {
	view := func(ids []ID) []NodeView {
		out := make([]NodeView, 0, len(ids))
		for _, id := range ids {
			n := w.pool.Get(id)
			if n == nil {
				continue
			}
			out = append(out, NodeView{
				ID: n.ID, Kind: n.Kind.String(), Lex: n.Lex, Blf: n.Blf,
				Neg: n.Neg, Done: n.Done, Rec: n.Rec, Src: n.Src,
				Args: append([]Arg(nil), n.args...),
			})
		}
		return out
	}
	return Snapshot{Version: w.version, Bth: w.bth, Main: view(w.main), Halo: view(w.halo)}
}
