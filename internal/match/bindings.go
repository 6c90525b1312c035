// Package match implements the subgraph matcher: it finds injective
// assignments of pattern graphlet nodes to working-memory nodes.
package match

import (
	"fmt"
	"strings"

	"alia/internal/wmem"
)

// Bindings is an ordered map from pattern nodes to memory nodes.
// The zero value is empty and ready to use.
type Bindings struct {
	pairs []wmem.Pair
}

// NewBindings returns bindings seeded with pairs.
func NewBindings(pairs ...wmem.Pair) *Bindings {
	return &Bindings{pairs: append([]wmem.Pair(nil), pairs...)}
}

// Get returns the value bound to pat.
func (b *Bindings) Get(pat wmem.ID) (wmem.ID, bool) {
	if b == nil {
		return wmem.None, false
	}
	for _, p := range b.pairs {
		if p.Pat == pat {
			return p.Val, true
		}
	}
	return wmem.None, false
}

// Set binds pat to val, replacing an earlier value.
func (b *Bindings) Set(pat, val wmem.ID) {
	for i := range b.pairs {
		if b.pairs[i].Pat == pat {
			b.pairs[i].Val = val
			return
		}
	}
	b.pairs = append(b.pairs, wmem.Pair{Pat: pat, Val: val})
}

// Delete removes the binding for pat.
func (b *Bindings) Delete(pat wmem.ID) {
	for i := range b.pairs {
		if b.pairs[i].Pat == pat {
			b.pairs = append(b.pairs[:i], b.pairs[i+1:]...)
			return
		}
	}
}

// Len returns the number of bindings.
func (b *Bindings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pairs)
}

// Pairs returns a copy of the bindings in insertion order.
func (b *Bindings) Pairs() []wmem.Pair {
	if b == nil {
		return nil
	}
	return append([]wmem.Pair(nil), b.pairs...)
}

// Clone returns an independent copy.
func (b *Bindings) Clone() *Bindings {
	if b == nil {
		return &Bindings{}
	}
	return NewBindings(b.pairs...)
}

// Merge copies every binding of o into b, overwriting on conflict.
func (b *Bindings) Merge(o *Bindings) {
	if o == nil {
		return
	}
	for _, p := range o.pairs {
		b.Set(p.Pat, p.Val)
	}
}

// Bound reports whether val is the value of some binding.
func (b *Bindings) Bound(val wmem.ID) bool {
	if b == nil {
		return false
	}
	for _, p := range b.pairs {
		if p.Val == val {
			return true
		}
	}
	return false
}

func (b *Bindings) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range b.Pairs() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d:%d", p.Pat, p.Val)
	}
	sb.WriteByte('}')
	return sb.String()
}
