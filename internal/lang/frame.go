package lang

import (
	"strconv"
	"strings"
)

// FrameKind is the sentence family of a parse.
type FrameKind int

const (
	FrameFact    FrameKind = iota // the block is red
	FrameYesNo                    // is the block red?
	FrameWh                       // what color is the block?
	FrameCommand                  // pick up the block
	FrameCond                     // if there is a cup, pick it up; otherwise ...
	FrameEach                     // for each block, look at it
	FrameRule                     // dogs are animals
	FrameOp                       // to greet someone, wave
	FrameEdit                     // to greet someone, bow instead of waving
	FrameWait                     // wait until the door is open
)

var frameNames = [...]string{"fact", "yes-no", "wh", "command", "cond", "each", "rule", "op", "edit", "wait"}

func (k FrameKind) String() string {
	if int(k) < len(frameNames) {
		return frameNames[k]
	}
	return "frame(" + strconv.Itoa(int(k)) + ")"
}

// Qual is an adjective with its category ("red", "color").
type Qual struct {
	Word string
	Cat  string
}

// Phrase is a noun phrase.
type Phrase struct {
	Det    string // the, a, this, each ...
	Noun   string // singular lemma
	Plural bool
	Name   string // proper name as written
	Pron   string // it, you, me, them
	Quals  []Qual
	Var    string // rule variable: X, Y
	Any    bool   // someone, something
}

// Generic reports whether the phrase talks about a kind rather than a
// particular thing: "dogs", "a dog" in a definition.
func (p *Phrase) Generic() bool {
	return p != nil && p.Name == "" && p.Pron == "" && p.Var == "" &&
		(p.Plural && (p.Det == "" || p.Det == "all") || p.Det == "a" || p.Det == "an" || p.Det == "every")
}

// Amount is a number with an optional unit.
type Amount struct {
	Num  float64
	Unit string
}

// Clause is one predication: a command, a copula statement, or a
// condition.
type Clause struct {
	Subj  *Phrase
	Verb  string // action lemma, "" for copula clauses
	Neg   bool
	Obj   *Phrase
	Dir   string
	Amt   *Amount
	Quote string
	Quals []Qual  // is ADJ
	Class *Phrase // is a N
	Exist bool    // there is a N; the phrase is Subj
	Modal string  // preference word
}

// Frame is one reading of a sentence: an association list keyed by role.
type Frame struct {
	Kind FrameKind
	Text string

	Main []Clause // facts, commands, question content, method body
	Then []Clause
	Else []Clause
	Cond *Clause // if, when, wait until, until, rule premise
	Over *Phrase // for each
	Ask  string  // wh target: category word or "what"

	OpKind  string  // do, note, fail, ante, gate
	Trigger *Clause // operator trigger
	Modal   string  // preference word: "you should", "always"
	Instead *Clause // step replaced by an edit

	While  []Clause // guards running beside Main
	Looped bool     // repeat Main until Cond

	Score float64
}

// String prints the frame as an association list, e.g.
//
//	((fact) (subj (det the) (noun block)) (hq red))
func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString("((")
	sb.WriteString(f.Kind.String())
	sb.WriteByte(')')
	item := func(key string, body string) {
		if body == "" {
			return
		}
		sb.WriteString(" (")
		sb.WriteString(key)
		sb.WriteByte(' ')
		sb.WriteString(body)
		sb.WriteByte(')')
	}
	clauses := func(key string, cs []Clause) {
		for i := range cs {
			item(key, cs[i].alist())
		}
	}
	if f.OpKind != "" {
		item("op", f.OpKind)
	}
	item("modal", f.Modal)
	if f.Trigger != nil {
		item("trigger", f.Trigger.alist())
	}
	if f.Over != nil {
		item("each", f.Over.alist())
	}
	if f.Ask != "" {
		item("ask", f.Ask)
	}
	if f.Cond != nil {
		key := "cond"
		if f.Looped {
			key = "until"
		}
		item(key, f.Cond.alist())
	}
	clauses("main", f.Main)
	clauses("while", f.While)
	clauses("then", f.Then)
	clauses("else", f.Else)
	if f.Instead != nil {
		item("instead-of", f.Instead.alist())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (c *Clause) alist() string {
	var parts []string
	add := func(key, val string) {
		if val != "" {
			parts = append(parts, "("+key+" "+val+")")
		}
	}
	if c.Subj != nil {
		add("subj", c.Subj.alist())
	}
	add("modal", c.Modal)
	if c.Neg {
		parts = append(parts, "(neg)")
	}
	if c.Exist {
		parts = append(parts, "(exist)")
	}
	add("verb", c.Verb)
	if c.Obj != nil {
		add("obj", c.Obj.alist())
	}
	add("dir", c.Dir)
	if c.Amt != nil {
		add("amt", strings.TrimSpace(strconv.FormatFloat(c.Amt.Num, 'g', -1, 64)+" "+c.Amt.Unit))
	}
	if c.Quote != "" {
		add("quote", strconv.Quote(c.Quote))
	}
	for _, q := range c.Quals {
		add("hq", q.Word)
	}
	if c.Class != nil {
		add("ako", c.Class.alist())
	}
	return strings.Join(parts, " ")
}

func (p *Phrase) alist() string {
	var parts []string
	add := func(key, val string) {
		if val != "" {
			parts = append(parts, "("+key+" "+val+")")
		}
	}
	add("det", p.Det)
	for _, q := range p.Quals {
		add("hq", q.Word)
	}
	add("noun", p.Noun)
	if p.Plural {
		parts = append(parts, "(plural)")
	}
	add("name", p.Name)
	add("pron", p.Pron)
	add("var", p.Var)
	if p.Any {
		parts = append(parts, "(any)")
	}
	return strings.Join(parts, " ")
}

// Words returns the content words of the frame: nouns, names, adjectives,
// verbs, directions, numbers and quotes.
func (f *Frame) Words() []string {
	var out []string
	phrase := func(p *Phrase) {
		if p == nil {
			return
		}
		for _, q := range p.Quals {
			out = append(out, q.Word)
		}
		if p.Noun != "" {
			out = append(out, p.Noun)
		}
		if p.Name != "" {
			out = append(out, p.Name)
		}
	}
	clause := func(c *Clause) {
		if c == nil {
			return
		}
		phrase(c.Subj)
		if c.Verb != "" {
			out = append(out, c.Verb)
		}
		phrase(c.Obj)
		if c.Dir != "" {
			out = append(out, c.Dir)
		}
		if c.Amt != nil {
			out = append(out, strconv.FormatFloat(c.Amt.Num, 'g', -1, 64))
		}
		if c.Quote != "" {
			out = append(out, c.Quote)
		}
		for _, q := range c.Quals {
			out = append(out, q.Word)
		}
		phrase(c.Class)
	}
	clauses := func(cs []Clause) {
		for i := range cs {
			clause(&cs[i])
		}
	}
	clause(f.Trigger)
	phrase(f.Over)
	clause(f.Cond)
	clauses(f.Main)
	clauses(f.While)
	clauses(f.Then)
	clauses(f.Else)
	clause(f.Instead)
	return out
}
