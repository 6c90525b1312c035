// Package wmem implements the working-memory graph: an arena of typed nodes
// addressed by integer handles, split into main (believed), halo (derived)
// and pattern (owned by rules, operators and directive keys) partitions.
package wmem

import (
	"fmt"
	"strings"
)

// ID is a handle into the node pool. The zero ID is never a live node.
type ID int32

// None is the empty handle.
const None ID = 0

// Kind is the semantic type of a node.
type Kind uint8

const (
	Object      Kind = iota // physical thing or abstract referent
	Actor                   // self, user, other agents
	Class                   // ako property: membership in a category
	HQ                      // adjective-like quality
	Relation                // binary relation, location, direction
	Action                  // verb
	Name                    // proper name
	Count                   // number
	Quote                   // literal string
	Placeholder             // matches any kind in a pattern
)

var kindNames = [...]string{"obj", "act", "ako", "hq", "rel", "do", "name", "cnt", "quote", "any"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind converts a short kind name back into a Kind.
func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// KindForRole gives the natural kind of a property node hung off a target
// by the given role.
func KindForRole(role string) Kind {
	switch role {
	case "hq":
		return HQ
	case "ako":
		return Class
	case "name":
		return Name
	case "cnt":
		return Count
	case "agt", "obj":
		return Action
	default:
		return Relation
	}
}

// Partition says which part of working memory owns a node.
type Partition uint8

const (
	Free Partition = iota
	Main
	Halo
	Pattern
)

func (p Partition) String() string {
	switch p {
	case Main:
		return "main"
	case Halo:
		return "halo"
	case Pattern:
		return "pattern"
	default:
		return "free"
	}
}

// Tags is a bit vector of grammatical features.
type Tags uint16

const (
	Singular Tags = 1 << iota
	Plural
	Male
	Female
	Neuter
	Proximal
	Distal
	First
	Second
	Third
	Definite
)

// Has reports whether all bits in t2 are set.
func (t Tags) Has(t2 Tags) bool { return t&t2 == t2 }

// Arg is one outgoing edge.
type Arg struct {
	Role string
	Tgt  ID
}

// Ref is the inverse of an Arg, stored on the target.
type Ref struct {
	Role string
	Src  ID
}

// Derivation records how a halo node was produced.
type Derivation struct {
	Rule int     // rule id
	Pat  ID      // result pattern node this node instantiates
	Cond []Pair  // condition bindings at firing time
	Conf float64 // rule confidence
}

// Pair is one pattern-to-value binding.
type Pair struct {
	Pat ID
	Val ID
}

// Node is one vertex of the graph. Clients get read access through
// WMem.Node; edges change only through WMem so the inverse index stays
// consistent.
type Node struct {
	ID    ID
	Kind  Kind
	Lex   string
	Blf   float64
	Neg   bool
	Done  bool
	Str   bool
	Rec   int64
	Convo bool
	Src   int
	Tags  Tags
	Part  Partition
	Deriv *Derivation

	args []Arg
	refs []Ref
}

// Args returns the outgoing edges. The slice must not be modified.
func (n *Node) Args() []Arg { return n.args }

// Refs returns the inverse edges. The slice must not be modified.
func (n *Node) Refs() []Ref { return n.refs }

// Arg returns the first target for role, or None.
func (n *Node) Arg(role string) ID {
	for _, a := range n.args {
		if a.Role == role {
			return a.Tgt
		}
	}
	return None
}

// HasArg reports whether the node has the exact edge.
func (n *Node) HasArg(role string, tgt ID) bool {
	for _, a := range n.args {
		if a.Role == role && a.Tgt == tgt {
			return true
		}
	}
	return false
}

func (n *Node) String() string {
	var sb strings.Builder
	if n.Neg {
		sb.WriteByte('~')
	}
	if n.Lex != "" {
		if n.Str {
			fmt.Fprintf(&sb, "%q", n.Lex)
		} else {
			sb.WriteString(n.Lex)
		}
	} else {
		fmt.Fprintf(&sb, "%s-%d", n.Kind, n.ID)
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
			fmt.Fprintf(&sb, "%s: %d", a.Role, a.Tgt)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func clamp(b float64) float64 {
	if b < 0 {
		return 0
	}
	if b > 1 {
		return 1
	}
	return b
}
