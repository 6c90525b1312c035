package kb

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// Text layout of rule and operator files. Pattern nodes are named ?0, ?1,
// ... across the whole block so method steps can refer to trigger nodes;
// the first item of a line is the graphlet's main node.
//
//	rule dog-animal 1
//	  if ?0=obj:; ?1=ako:dog(ako ?0)
//	  then ?2=ako:animal(ako ?0)
//
//	op greet DO 1
//	  when ?0=do:greet(agt #self, obj ?1); ?1=obj:
//	  0 DO ?2=do:wave(agt #self) cont=1
//	  1 DO ?3=do:say(agt #self, obj ?4); ?4=quote:"hello"
var (
	// ErrSyntax marks a malformed knowledge-base line.
	ErrSyntax = errors.New("kb syntax error")
	// ErrUnsaveable means a pattern refers to a memory node other than
	// self or user, which has no name on disk.
	ErrUnsaveable = errors.New("pattern refers to a memory node")
)

// =============================================================================
// WRITING
// =============================================================================

type namer struct {
	w     *wmem.WMem
	names map[wmem.ID]string
}

func newNamer(w *wmem.WMem) *namer {
	return &namer{w: w, names: make(map[wmem.ID]string)}
}

func (n *namer) ref(id wmem.ID) (string, error) {
	switch id {
	case n.w.Self():
		return "#self", nil
	case n.w.User():
		return "#user", nil
	}
	node := n.w.Node(id)
	if node == nil {
		return "", fmt.Errorf("node %d: %w", id, wmem.ErrNoNode)
	}
	if node.Part != wmem.Pattern {
		return "", fmt.Errorf("%s: %w", node, ErrUnsaveable)
	}
	name, ok := n.names[id]
	if !ok {
		name = "?" + strconv.Itoa(len(n.names))
		n.names[id] = name
	}
	return name, nil
}

// needsQuote reports whether a bare lex would not read back intact.
func needsQuote(lex string) bool {
	return strings.ContainsAny(lex, " \t;(),=~/\"#?^")
}

func (n *namer) item(id wmem.ID) (string, error) {
	node := n.w.Node(id)
	name, err := n.ref(id)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('=')
	sb.WriteString(node.Kind.String())
	sb.WriteByte(':')
	if node.Neg {
		sb.WriteByte('~')
	}
	if node.Str || needsQuote(node.Lex) {
		sb.WriteString(strconv.Quote(node.Lex))
	} else {
		sb.WriteString(node.Lex)
	}
	if node.Done {
		sb.WriteString("/done")
	}
	if args := node.Args(); len(args) > 0 {
		sb.WriteByte('(')
		for i, a := range args {
			t, err := n.ref(a.Tgt)
			if err != nil {
				return "", err
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.Role)
			sb.WriteByte(' ')
			sb.WriteString(t)
		}
		sb.WriteByte(')')
	}
	return sb.String(), nil
}

func (n *namer) graphlet(g *wmem.Graphlet) (string, error) {
	ids := make([]wmem.ID, 0, g.Len())
	main := g.Main()
	if main != wmem.None {
		ids = append(ids, main)
	}
	for _, id := range g.Items() {
		if id != main {
			ids = append(ids, id)
		}
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		s, err := n.item(id)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; "), nil
}

func (n *namer) chain(sb *strings.Builder, c *proc.Chain) error {
	steps := c.Steps()
	index := make(map[*proc.Chain]int, len(steps))
	for i, s := range steps {
		index[s] = i
	}
	edge := func(name string, t *proc.Chain, back bool) {
		if t == nil {
			return
		}
		mark := ""
		if back {
			mark = "^"
		}
		fmt.Fprintf(sb, " %s=%s%d", name, mark, index[t])
	}
	for i, s := range steps {
		fmt.Fprintf(sb, "  %d ", i)
		if p := s.Play; p != nil {
			sb.WriteString("PLAY")
			for _, r := range p.Req {
				fmt.Fprintf(sb, " req=%d", index[r])
			}
			for _, g := range p.Guard {
				fmt.Fprintf(sb, " guard=%d", index[g])
			}
			if p.Until != nil {
				fmt.Fprintf(sb, " until=%d", index[p.Until])
			}
			if p.Looped {
				sb.WriteString(" looped")
			}
		} else {
			items, err := n.graphlet(s.Dir.Key)
			if err != nil {
				return err
			}
			sb.WriteString(s.Dir.Kind.String())
			sb.WriteByte(' ')
			sb.WriteString(items)
			if s.Dir.Blf > 0 && s.Dir.Blf != 1 {
				fmt.Fprintf(sb, " blf=%g", s.Dir.Blf)
			}
		}
		edge("cont", s.Cont, s.ContBack)
		edge("alt", s.Alt, s.AltBack)
		edge("fail", s.Fail, s.FailBack)
		sb.WriteByte('\n')
	}
	return nil
}

// FormatRule prints a rule block.
func FormatRule(w *wmem.WMem, r *rules.Rule) (string, error) {
	n := newNamer(w)
	cond, err := n.graphlet(r.Cond)
	if err != nil {
		return "", fmt.Errorf("rule %q: %w", r.Name, err)
	}
	res, err := n.graphlet(r.Result)
	if err != nil {
		return "", fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return fmt.Sprintf("rule %s %g\n  if %s\n  then %s\n", r.Name, r.Conf, cond, res), nil
}

// FormatOp prints an operator block.
func FormatOp(w *wmem.WMem, o *ops.Operator) (string, error) {
	n := newNamer(w)
	var sb strings.Builder
	fmt.Fprintf(&sb, "op %s %s %g\n", o.Name, o.Kind, o.Pref)
	cond, err := n.graphlet(o.Cond)
	if err != nil {
		return "", fmt.Errorf("op %q: %w", o.Name, err)
	}
	fmt.Fprintf(&sb, "  when %s\n", cond)
	for _, u := range o.Unless {
		s, err := n.graphlet(u)
		if err != nil {
			return "", fmt.Errorf("op %q: %w", o.Name, err)
		}
		fmt.Fprintf(&sb, "  unless %s\n", s)
	}
	if err := n.chain(&sb, o.Method); err != nil {
		return "", fmt.Errorf("op %q: %w", o.Name, err)
	}
	return sb.String(), nil
}

// WriteRules prints every rule separated by blank lines.
func WriteRules(out io.Writer, w *wmem.WMem, rs []*rules.Rule) error {
	for _, r := range rs {
		s, err := FormatRule(w, r)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, s+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteOps prints every operator separated by blank lines.
func WriteOps(out io.Writer, w *wmem.WMem, list []*ops.Operator) error {
	for _, o := range list {
		s, err := FormatOp(w, o)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, s+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ITEM SYNTAX
// =============================================================================

type argSpec struct {
	role, tgt string
}

type itemSpec struct {
	name string
	kind wmem.Kind
	lex  string
	neg  bool
	done bool
	args []argSpec
}

type scanner struct {
	s string
	i int
}

func (sc *scanner) space() {
	for sc.i < len(sc.s) && (sc.s[sc.i] == ' ' || sc.s[sc.i] == '\t') {
		sc.i++
	}
}

func (sc *scanner) eat(c byte) bool {
	sc.space()
	if sc.i < len(sc.s) && sc.s[sc.i] == c {
		sc.i++
		return true
	}
	return false
}

func (sc *scanner) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at column %d in %q", ErrSyntax, fmt.Sprintf(format, args...), sc.i+1, sc.s)
}

// until reads up to the first byte of stop, trimmed.
func (sc *scanner) until(stop string) string {
	start := sc.i
	for sc.i < len(sc.s) && !strings.ContainsRune(stop, rune(sc.s[sc.i])) {
		sc.i++
	}
	return strings.TrimSpace(sc.s[start:sc.i])
}

func (sc *scanner) quoted() (string, error) {
	start := sc.i
	sc.i++
	for sc.i < len(sc.s) {
		switch sc.s[sc.i] {
		case '\\':
			sc.i += 2
			continue
		case '"':
			sc.i++
			return strconv.Unquote(sc.s[start:sc.i])
		}
		sc.i++
	}
	return "", sc.errorf("unterminated quote")
}

// parseItems reads "?0=kind:lex(role tgt, ...); ..." into item specs.
func parseItems(s string) ([]itemSpec, error) {
	sc := &scanner{s: s}
	var out []itemSpec
	for {
		sc.space()
		if sc.i >= len(sc.s) {
			break
		}
		it, err := sc.item()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
		if !sc.eat(';') {
			sc.space()
			if sc.i < len(sc.s) {
				return nil, sc.errorf("expected ';'")
			}
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrSyntax)
	}
	return out, nil
}

func (sc *scanner) item() (itemSpec, error) {
	var it itemSpec
	it.name = sc.until("=;")
	if !strings.HasPrefix(it.name, "?") || len(it.name) < 2 {
		return it, sc.errorf("bad variable %q", it.name)
	}
	if !sc.eat('=') {
		return it, sc.errorf("expected '='")
	}
	kind := sc.until(":;")
	k, ok := wmem.ParseKind(kind)
	if !ok {
		return it, sc.errorf("unknown kind %q", kind)
	}
	it.kind = k
	if !sc.eat(':') {
		return it, sc.errorf("expected ':'")
	}
	it.neg = sc.eat('~')
	sc.space()
	if sc.i < len(sc.s) && sc.s[sc.i] == '"' {
		lex, err := sc.quoted()
		if err != nil {
			return it, err
		}
		it.lex = lex
	} else {
		it.lex = sc.until("(;/")
	}
	if sc.eat('/') {
		if flag := sc.until("(;"); flag != "done" {
			return it, sc.errorf("unknown flag %q", flag)
		}
		it.done = true
	}
	if sc.eat('(') {
		for {
			a := sc.until(",)")
			role, tgt, ok := strings.Cut(a, " ")
			if !ok {
				return it, sc.errorf("bad argument %q", a)
			}
			it.args = append(it.args, argSpec{role: strings.TrimSpace(role), tgt: strings.TrimSpace(tgt)})
			if sc.eat(')') {
				break
			}
			if !sc.eat(',') {
				return it, sc.errorf("expected ',' or ')'")
			}
		}
	}
	return it, nil
}

// =============================================================================
// BUILDING
// =============================================================================

// block builds the graphlets of one rule, operator or fact line. Nodes are
// made first and linked afterwards so items may refer forward.
type block struct {
	w     *wmem.WMem
	vars  map[string]wmem.ID
	made  []*wmem.Graphlet
	links []func() error
}

func newBlock(w *wmem.WMem) *block {
	return &block{w: w, vars: make(map[string]wmem.ID)}
}

func (b *block) pattern(items string, blf float64) (*wmem.Graphlet, error) {
	specs, err := parseItems(items)
	if err != nil {
		return nil, err
	}
	g := wmem.NewGraphlet()
	b.made = append(b.made, g)
	restore := b.w.Build(g)
	defer restore()
	for _, sp := range specs {
		if _, dup := b.vars[sp.name]; dup {
			return nil, fmt.Errorf("%w: %s defined twice", ErrSyntax, sp.name)
		}
		id, err := b.w.MakeNode(sp.kind, sp.lex, sp.neg, blf)
		if err != nil {
			return nil, err
		}
		if sp.done {
			b.w.SetDone(id, true)
		}
		b.vars[sp.name] = id
		for _, a := range sp.args {
			b.links = append(b.links, func() error {
				tgt, err := b.resolve(a.tgt)
				if err != nil {
					return err
				}
				return b.w.AddArg(id, a.role, tgt)
			})
		}
	}
	return g, nil
}

func (b *block) resolve(name string) (wmem.ID, error) {
	switch name {
	case "#self":
		return b.w.Self(), nil
	case "#user":
		return b.w.User(), nil
	}
	if id, ok := b.vars[name]; ok {
		return id, nil
	}
	return wmem.None, fmt.Errorf("%w: undefined %s", ErrSyntax, name)
}

// link adds every pending argument edge.
func (b *block) link() error {
	for _, f := range b.links {
		if err := f(); err != nil {
			return err
		}
	}
	b.links = nil
	return nil
}

func (b *block) release() {
	for _, g := range b.made {
		b.w.Release(g)
	}
	b.made = nil
}

// keyBelief is the belief of a directive key's nodes: what NOTE and DO
// assert is believed, what the rest look for is a pattern floor.
func keyBelief(k proc.Kind) float64 {
	if k == proc.Note || k == proc.Do {
		return 1
	}
	return 0
}

type stepSpec struct {
	line  int
	index int
	kind  string
	items string
	edges map[string][]string
	blf   float64
}

// splitFields splits on spaces outside double quotes.
func splitFields(s string) []string {
	var out []string
	var cur strings.Builder
	inq, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			esc = false
		case inq && c == '\\':
			esc = true
		case c == '"':
			inq = !inq
		case !inq && (c == ' ' || c == '\t'):
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteByte(c)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

var edgeNames = map[string]bool{"cont": true, "alt": true, "fail": true, "req": true, "guard": true, "until": true}

// parseStep reads "N KIND items [edge=N ...]" or "N PLAY req=N ...".
func parseStep(line string) (stepSpec, error) {
	f := splitFields(line)
	sp := stepSpec{edges: make(map[string][]string)}
	if len(f) < 2 {
		return sp, fmt.Errorf("%w: short step %q", ErrSyntax, line)
	}
	idx, err := strconv.Atoi(f[0])
	if err != nil {
		return sp, fmt.Errorf("%w: step index %q", ErrSyntax, f[0])
	}
	sp.index, sp.kind = idx, strings.ToUpper(f[1])
	end := len(f)
	for end > 2 {
		tok := f[end-1]
		if tok == "looped" {
			sp.edges["looped"] = nil
			end--
			continue
		}
		name, val, ok := strings.Cut(tok, "=")
		if !ok {
			break
		}
		if name == "blf" {
			b, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return sp, fmt.Errorf("%w: belief %q", ErrSyntax, val)
			}
			sp.blf = b
			end--
			continue
		}
		if !edgeNames[name] {
			break
		}
		sp.edges[name] = append([]string{val}, sp.edges[name]...)
		end--
	}
	sp.items = strings.Join(f[2:end], " ")
	if sp.kind != "PLAY" && sp.items == "" {
		return sp, fmt.Errorf("%w: step %d has no key", ErrSyntax, idx)
	}
	return sp, nil
}

// method assembles the steps of an operator into a chain headed by step 0.
func (b *block) method(steps []stepSpec) (*proc.Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: operator without method", ErrSyntax)
	}
	byIdx := make(map[int]*proc.Chain, len(steps))
	for _, sp := range steps {
		if _, dup := byIdx[sp.index]; dup {
			return nil, fmt.Errorf("%w: step %d defined twice", ErrSyntax, sp.index)
		}
		c := &proc.Chain{}
		if sp.kind == "PLAY" {
			c.Play = &proc.Play{}
		} else {
			k, ok := proc.ParseKind(sp.kind)
			if !ok {
				return nil, fmt.Errorf("%w: directive %q", ErrSyntax, sp.kind)
			}
			key, err := b.pattern(sp.items, keyBelief(k))
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", sp.index, err)
			}
			c.Dir = proc.NewDirective(k, key)
			c.Dir.Blf = sp.blf
		}
		byIdx[sp.index] = c
	}
	target := func(v string) (*proc.Chain, bool, error) {
		back := strings.HasPrefix(v, "^")
		n, err := strconv.Atoi(strings.TrimPrefix(v, "^"))
		if err != nil {
			return nil, false, fmt.Errorf("%w: edge target %q", ErrSyntax, v)
		}
		c, ok := byIdx[n]
		if !ok {
			return nil, false, fmt.Errorf("%w: no step %d", ErrSyntax, n)
		}
		return c, back, nil
	}
	for _, sp := range steps {
		c := byIdx[sp.index]
		for name, vals := range sp.edges {
			for _, v := range vals {
				t, back, err := target(v)
				if err != nil {
					return nil, err
				}
				switch name {
				case "cont":
					c.Cont, c.ContBack = t, back
				case "alt":
					c.Alt, c.AltBack = t, back
				case "fail":
					c.Fail, c.FailBack = t, back
				case "req", "guard", "until":
					if c.Play == nil {
						return nil, fmt.Errorf("%w: %s on a directive", ErrSyntax, name)
					}
					switch name {
					case "req":
						c.Play.Req = append(c.Play.Req, t)
					case "guard":
						c.Play.Guard = append(c.Play.Guard, t)
					default:
						c.Play.Until = t
					}
				}
			}
		}
		if _, ok := sp.edges["looped"]; ok && c.Play != nil {
			c.Play.Looped = true
		}
	}
	head, ok := byIdx[0]
	if !ok {
		return nil, fmt.Errorf("%w: method has no step 0", ErrSyntax)
	}
	return head, nil
}
