package wmem

import (
	"errors"
	"fmt"

	"alia/internal/logging"
)

var (
	// ErrExhausted is returned when the node pool is full.
	ErrExhausted = errors.New("node pool exhausted")
	// ErrNestedBuild is returned when asserting into main while a build-in graphlet is scoped.
	ErrNestedBuild = errors.New("assert while build-in graphlet is scoped")
	// ErrUnbound is returned when a pattern references a variable with no value.
	ErrUnbound = errors.New("unbound pattern variable")
	// ErrNoNode is returned for a stale or zero handle.
	ErrNoNode = errors.New("no such node")
)

// Binder maps pattern nodes to memory nodes. match.Bindings implements it.
type Binder interface {
	Get(pat ID) (ID, bool)
	Set(pat, val ID)
}

// WMem is the working memory: main and halo partitions over one node pool.
type WMem struct {
	pool    *Pool
	main    []ID
	halo    []ID
	dirty   bool
	bth     float64
	version int64
	clock   int64
	source  int
	convo   []ID
	build   *Graphlet
	reified map[ID]ID
	self    ID
	user    ID
}

// New creates a working memory with the given pool cap and belief threshold.
// The self and user actors are created in main.
func New(poolCap int, bth float64) (*WMem, error) {
	w := &WMem{
		pool:    NewPool(poolCap),
		bth:     clamp(bth),
		reified: make(map[ID]ID),
		dirty:   true,
	}
	var err error
	if w.self, err = w.MakeNode(Actor, "self", false, 1); err != nil {
		return nil, err
	}
	if w.user, err = w.MakeNode(Actor, "user", false, 1); err != nil {
		return nil, err
	}
	w.pool.Get(w.self).Tags = First | Singular
	w.pool.Get(w.user).Tags = Second | Singular
	return w, nil
}

// Node returns a read view of id, or nil.
func (w *WMem) Node(id ID) *Node { return w.pool.Get(id) }

// Pool exposes the arena for invariant checks and dumps.
func (w *WMem) Pool() *Pool { return w.pool }

// Main returns main-partition handles in creation order.
func (w *WMem) Main() []ID { return w.main }

// Halo returns halo-partition handles in creation order.
func (w *WMem) Halo() []ID { return w.halo }

// Self is the robot's own actor node.
func (w *WMem) Self() ID { return w.self }

// User is the conversation partner's actor node.
func (w *WMem) User() ID { return w.user }

// MinBlf returns the belief threshold below which nodes are hypothetical.
func (w *WMem) MinBlf() float64 { return w.bth }

// SetMinBlf changes the belief threshold.
func (w *WMem) SetMinBlf(b float64) {
	w.bth = clamp(b)
	w.touch()
}

// Version increases on every main mutation.
func (w *WMem) Version() int64 { return w.version }

// Dirty reports whether main changed since the halo was last refreshed.
func (w *WMem) Dirty() bool { return w.dirty }

// Invalidate forces the next halo refresh without counting as a main mutation.
func (w *WMem) Invalidate() { w.dirty = true }

// ClearDirty marks the halo as current.
func (w *WMem) ClearDirty() { w.dirty = false }

// Hypothetical reports whether a node's belief is below threshold.
func (w *WMem) Hypothetical(id ID) bool {
	n := w.pool.Get(id)
	return n != nil && n.Blf < w.bth
}

func (w *WMem) touch() {
	w.dirty = true
	w.version++
}

// =============================================================================
// NODE CREATION
// =============================================================================

// MakeNode allocates a node. With a build-in graphlet scoped the node is a
// pattern node appended to it, otherwise it goes into main.
func (w *WMem) MakeNode(kind Kind, lex string, neg bool, blf float64) (ID, error) {
	part := Main
	if w.build != nil {
		part = Pattern
	}
	n, err := w.pool.alloc(part)
	if err != nil {
		logging.WMemWarn("MakeNode %s %q: %v (live=%d)", kind, lex, err, w.pool.Live())
		return None, err
	}
	n.Kind = kind
	n.Lex = lex
	n.Neg = neg
	n.Blf = clamp(blf)
	n.Str = kind == Quote
	w.Mention(n.ID)
	if part == Pattern {
		w.build.Add(n.ID)
	} else {
		n.Src = w.source
		w.main = append(w.main, n.ID)
		w.touch()
	}
	return n.ID, nil
}

// AddProp creates a property node with one argument pointing at target.
func (w *WMem) AddProp(target ID, role, lex string, neg bool, blf float64) (ID, error) {
	if w.pool.Get(target) == nil {
		return None, fmt.Errorf("AddProp %s %q: %w", role, lex, ErrNoNode)
	}
	id, err := w.MakeNode(KindForRole(role), lex, neg, blf)
	if err != nil {
		return None, err
	}
	if err := w.AddArg(id, role, target); err != nil {
		return None, err
	}
	return id, nil
}

// AddArg links src -(role)-> tgt. A main node never points into the halo:
// halo targets are reified first.
func (w *WMem) AddArg(src ID, role string, tgt ID) error {
	s, t := w.pool.Get(src), w.pool.Get(tgt)
	if s == nil || t == nil {
		return fmt.Errorf("AddArg %d -%s-> %d: %w", src, role, tgt, ErrNoNode)
	}
	if s.Part == Main && t.Part == Halo {
		r, err := w.Reify(tgt)
		if err != nil {
			return err
		}
		t = w.pool.Get(r)
	}
	w.pool.link(s, role, t)
	if s.Part == Main {
		w.touch()
	}
	return nil
}

// SetBlf changes a node's belief, clamped to [0,1].
func (w *WMem) SetBlf(id ID, blf float64) {
	n := w.pool.Get(id)
	if n == nil {
		return
	}
	n.Blf = clamp(blf)
	if n.Part == Main {
		w.touch()
	}
}

// SetDone sets the past-tense marker.
func (w *WMem) SetDone(id ID, done bool) {
	if n := w.pool.Get(id); n != nil {
		n.Done = done
		if n.Part == Main {
			w.touch()
		}
	}
}

// SetTags replaces a node's grammar tags.
func (w *WMem) SetTags(id ID, t Tags) {
	if n := w.pool.Get(id); n != nil {
		n.Tags = t
	}
}

// Mention stamps a node with the next recency value.
func (w *WMem) Mention(id ID) {
	if n := w.pool.Get(id); n != nil {
		w.clock++
		n.Rec = w.clock
	}
}

// =============================================================================
// SCOPED BUILD-IN
// =============================================================================

// BuildIn makes g the destination for new nodes and returns the previous one.
// Pass nil to direct new nodes back into main.
func (w *WMem) BuildIn(g *Graphlet) *Graphlet {
	prev := w.build
	w.build = g
	return prev
}

// Build scopes g as the destination and returns the restore function:
//
//	defer w.Build(key)()
func (w *WMem) Build(g *Graphlet) func() {
	prev := w.BuildIn(g)
	return func() { w.build = prev }
}

// Building returns the scoped build-in graphlet, or nil.
func (w *WMem) Building() *Graphlet { return w.build }

// Release frees the pattern nodes of g.
func (w *WMem) Release(g *Graphlet) {
	for _, id := range g.Items() {
		if n := w.pool.Get(id); n != nil && n.Part == Pattern {
			w.pool.release(id)
		}
	}
}

// =============================================================================
// ASSERTION
// =============================================================================

// Assert instantiates pattern g into main. Items bound in b reuse their
// values, halo values are reified, and unless force is set a property whose
// exact counterpart already exists in main is reused instead of duplicated.
// An existing believed property with opposite polarity is demoted to belief 0.
// New values are written back into b. Returns the main node for g's main.
func (w *WMem) Assert(g *Graphlet, b Binder, blf float64, force bool) (ID, error) {
	if w.build != nil {
		return None, ErrNestedBuild
	}
	vals := make(map[ID]ID, g.Len())
	resolve := func(t ID) (ID, bool, error) {
		if g.Has(t) {
			v, ok := vals[t]
			return v, ok, nil
		}
		if b != nil {
			if v, ok := b.Get(t); ok {
				v, err := w.mainValue(v)
				return v, err == nil, err
			}
		}
		v, err := w.mainValue(t)
		return v, err == nil, err
	}

	for _, it := range g.Items() {
		if b == nil {
			break
		}
		if v, ok := b.Get(it); ok {
			v, err := w.mainValue(v)
			if err != nil {
				return None, err
			}
			vals[it] = v
		}
	}

	pending := make([]ID, 0, g.Len())
	for _, it := range g.Items() {
		if _, ok := vals[it]; !ok {
			pending = append(pending, it)
		}
	}
	var late []Pair // edges deferred by cyclic patterns, Pat is the pattern source
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, it := range pending {
			p := w.pool.Get(it)
			args := make([]Arg, 0, len(p.args))
			ready := true
			for _, a := range p.args {
				v, ok, err := resolve(a.Tgt)
				if err != nil {
					return None, err
				}
				if !ok {
					ready = false
					break
				}
				args = append(args, Arg{Role: a.Role, Tgt: v})
			}
			if !ready {
				rest = append(rest, it)
				continue
			}
			v, err := w.place(p, args, blf, force)
			if err != nil {
				return None, err
			}
			vals[it] = v
			progress = true
		}
		pending = rest
		if !progress {
			// cyclic pattern: create the first node bare and link it afterwards
			v, err := w.place(w.pool.Get(pending[0]), nil, blf, true)
			if err != nil {
				return None, err
			}
			vals[pending[0]] = v
			late = append(late, Pair{Pat: pending[0], Val: v})
			pending = pending[1:]
		}
	}
	for _, l := range late {
		for _, a := range w.pool.Get(l.Pat).args {
			if t, ok, err := resolve(a.Tgt); err == nil && ok {
				w.pool.link(w.pool.Get(l.Val), a.Role, w.pool.Get(t))
			}
		}
	}

	if b != nil {
		for _, it := range g.Items() {
			b.Set(it, vals[it])
		}
	}
	w.touch()
	return vals[g.Main()], nil
}

// mainValue maps a binding value to main: halo values are reified and
// pattern values are unbound.
func (w *WMem) mainValue(v ID) (ID, error) {
	n := w.pool.Get(v)
	switch {
	case n == nil:
		return None, fmt.Errorf("value %d: %w", v, ErrNoNode)
	case n.Part == Main:
		return v, nil
	case n.Part == Halo:
		return w.Reify(v)
	default:
		return None, fmt.Errorf("value %s: %w", n, ErrUnbound)
	}
}

func (w *WMem) place(p *Node, args []Arg, blf float64, force bool) (ID, error) {
	if !force && len(args) > 0 {
		if eq := w.Equivalent(p.Kind, p.Lex, p.Neg, p.Done, args, Main); eq != None {
			n := w.pool.Get(eq)
			n.Blf = clamp(blf)
			n.Src = w.source
			w.Mention(eq)
			return eq, nil
		}
		if opp := w.Equivalent(p.Kind, p.Lex, !p.Neg, p.Done, args, Main); opp != None {
			if o := w.pool.Get(opp); o.Blf >= w.bth {
				logging.WMemDebug("assert %s demotes contradicting %s", p, o)
				o.Blf = 0
			}
		}
	}
	n, err := w.pool.alloc(Main)
	if err != nil {
		return None, err
	}
	n.Kind, n.Lex, n.Neg, n.Done, n.Str, n.Tags = p.Kind, p.Lex, p.Neg, p.Done, p.Str, p.Tags
	n.Blf = clamp(blf)
	n.Src = w.source
	for _, a := range args {
		w.pool.link(n, a.Role, w.pool.Get(a.Tgt))
	}
	w.Mention(n.ID)
	w.main = append(w.main, n.ID)
	return n.ID, nil
}

// Equivalent finds a node in one of parts with the same kind, lex, polarity,
// tense and exactly the given arguments. Nodes without arguments never match.
func (w *WMem) Equivalent(kind Kind, lex string, neg, done bool, args []Arg, parts ...Partition) ID {
	if len(args) == 0 {
		return None
	}
	first := w.pool.Get(args[0].Tgt)
	if first == nil {
		return None
	}
	for _, r := range first.refs {
		if r.Role != args[0].Role {
			continue
		}
		c := w.pool.Get(r.Src)
		if c == nil || c.Kind != kind || c.Lex != lex || c.Neg != neg || c.Done != done {
			continue
		}
		if !inParts(c.Part, parts) || len(c.args) != len(args) {
			continue
		}
		same := true
		for _, a := range args {
			if !c.HasArg(a.Role, a.Tgt) {
				same = false
				break
			}
		}
		if same {
			return c.ID
		}
	}
	return None
}

func inParts(p Partition, parts []Partition) bool {
	for _, q := range parts {
		if p == q {
			return true
		}
	}
	return false
}

// Actualize raises a hypothetical node, and the hypothetical properties
// hung off it, to belief blf.
func (w *WMem) Actualize(id ID, blf float64) {
	seen := map[ID]bool{}
	var raise func(id ID)
	raise = func(id ID) {
		n := w.pool.Get(id)
		if n == nil || seen[id] || n.Part != Main || n.Blf >= w.bth {
			return
		}
		seen[id] = true
		n.Blf = clamp(blf)
		n.Src = w.source
		for _, r := range n.refs {
			raise(r.Src)
		}
	}
	raise(id)
	if len(seen) > 0 {
		w.touch()
	}
}

// =============================================================================
// CONVERSATION AND PROVENANCE
// =============================================================================

// MarkConvo flags a node as mentioned in the current utterance.
func (w *WMem) MarkConvo(id ID) {
	if n := w.pool.Get(id); n != nil && !n.Convo {
		n.Convo = true
		w.convo = append(w.convo, id)
	}
}

// ClearConvo unflags everything mentioned in the previous utterance.
func (w *WMem) ClearConvo() {
	for _, id := range w.convo {
		if n := w.pool.Get(id); n != nil {
			n.Convo = false
		}
	}
	w.convo = w.convo[:0]
}

// Convo returns the nodes mentioned in the current utterance.
func (w *WMem) Convo() []ID { return w.convo }

// NextSource starts a new evidence epoch and returns its marker. Nodes
// asserted afterwards carry the marker.
func (w *WMem) NextSource() int {
	w.source++
	return w.source
}

// Source returns the current source marker.
func (w *WMem) Source() int { return w.source }
