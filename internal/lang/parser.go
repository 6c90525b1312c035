package lang

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"alia/internal/logging"
)

// ErrParseFail is returned when no reading exists, even after typo repair.
var ErrParseFail = errors.New("parse failed")

const (
	maxReadings  = 4
	maxRepairs   = 3  // misspelled words repaired per sentence
	maxCombos    = 16 // repaired token sequences tried
	loosePenalty = 0.5
	repairScore  = 0.8
)

// Parser reads single sentences against a lexicon. It is not safe for
// concurrent use.
type Parser struct {
	lx    *Lexicon
	vocab []string
}

// NewParser creates a parser over lx, or the base lexicon when nil.
func NewParser(lx *Lexicon) *Parser {
	if lx == nil {
		lx = DefaultLexicon()
	}
	return &Parser{lx: lx}
}

// Lexicon returns the parser vocabulary.
func (p *Parser) Lexicon() *Lexicon { return p.lx }

// Refresh drops the cached repair vocabulary after the lexicon grew.
func (p *Parser) Refresh() { p.vocab = nil }

// Parse returns the readings of one sentence, best first. Readings that
// needed typo repair or guessed at unknown words score lower.
func (p *Parser) Parse(text string) ([]*Frame, error) {
	timer := logging.StartTimer(logging.CategoryLang, "Parse")
	defer timer.Stop()

	toks, q := trimEnd(tokenize(text))
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty sentence: %w", ErrParseFail)
	}
	frames := p.readings(toks, q, 1)
	frames = append(frames, p.repaired(toks, q)...)
	if len(frames) == 0 {
		logging.Lang("no parse for %q", text)
		return nil, fmt.Errorf("%q: %w", text, ErrParseFail)
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Score > frames[j].Score })
	seen := make(map[string]bool, len(frames))
	out := frames[:0]
	for _, f := range frames {
		key := f.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		f.Text = text
		out = append(out, f)
	}
	if len(out) > maxReadings {
		out = out[:maxReadings]
	}
	logging.LangDebug("%q: %d readings, best %s (%.2f)", text, len(out), out[0], out[0].Score)
	return out, nil
}

func (p *Parser) readings(toks []token, q bool, score float64) []*Frame {
	var out []*Frame
	for _, g := range grammars {
		s := &state{lx: p.lx, toks: toks, question: q}
		f := g(s)
		if f == nil || !s.done() {
			continue
		}
		f.Score = score * math.Pow(loosePenalty, float64(s.loose))
		out = append(out, f)
	}
	return out
}

// repaired parses variants of toks with unknown words replaced by close
// lexicon words.
func (p *Parser) repaired(toks []token, q bool) []*Frame {
	if p.vocab == nil {
		p.vocab = p.lx.Words()
	}
	var slots []int
	var opts [][]string
	for i, t := range toks {
		if t.quote || t.punct || t.cap || p.lx.Known(t.w) {
			continue
		}
		fx := p.lx.fixes(t.w, p.vocab)
		if len(fx) == 0 {
			continue
		}
		slots = append(slots, i)
		opts = append(opts, fx)
		if len(slots) == maxRepairs {
			break
		}
	}
	if len(slots) == 0 {
		return nil
	}
	var out []*Frame
	choice := make([]int, len(slots))
	tried := 0
	var walk func(k, fixed int)
	walk = func(k, fixed int) {
		if tried >= maxCombos {
			return
		}
		if k == len(slots) {
			if fixed == 0 {
				return
			}
			tried++
			cp := append([]token(nil), toks...)
			for j, c := range choice {
				if c > 0 {
					w := opts[j][c-1]
					cp[slots[j]] = token{w: w, orig: w}
				}
			}
			out = append(out, p.readings(cp, q, math.Pow(repairScore, float64(fixed)))...)
			return
		}
		for c := 0; c <= len(opts[k]); c++ {
			choice[k] = c
			f := fixed
			if c > 0 {
				f++
			}
			walk(k+1, f)
		}
	}
	walk(0, 0)
	if len(out) > 0 {
		logging.LangDebug("typo repair produced %d readings", len(out))
	}
	return out
}

// grammars are the sentence families, tried independently.
var grammars = []func(*state) *Frame{
	(*state).teachDo,
	(*state).teachWhen,
	(*state).teachBefore,
	(*state).teachFail,
	(*state).teachGate,
	(*state).ruleIf,
	(*state).conditional,
	(*state).each,
	(*state).wait,
	(*state).yesNo,
	(*state).wh,
	(*state).statement,
	(*state).command,
}

// =============================================================================
// CURSOR
// =============================================================================

type state struct {
	lx       *Lexicon
	toks     []token
	i        int
	loose    int // unknown words accepted as open-class words
	question bool
}

func (s *state) done() bool { return s.i >= len(s.toks) }

func (s *state) tok() token {
	if s.done() {
		return token{}
	}
	return s.toks[s.i]
}

// peek returns the next word; quotes and the end read as "".
func (s *state) peek() string { return s.peekAt(0) }

func (s *state) peekAt(n int) string {
	if s.i+n >= len(s.toks) {
		return ""
	}
	if t := s.toks[s.i+n]; !t.quote {
		return t.w
	}
	return ""
}

func (s *state) at(ws ...string) bool {
	w := s.peek()
	if w == "" {
		return false
	}
	for _, x := range ws {
		if w == x {
			return true
		}
	}
	return false
}

func (s *state) eat(ws ...string) bool {
	if s.at(ws...) {
		s.i++
		return true
	}
	return false
}

// seq consumes the exact word sequence or nothing.
func (s *state) seq(ws ...string) bool {
	save := s.i
	for _, w := range ws {
		if !s.eat(w) {
			s.i = save
			return false
		}
	}
	return true
}

func (s *state) mark() (int, int)   { return s.i, s.loose }
func (s *state) reset(i, loose int) { s.i, s.loose = i, loose }

func (s *state) unknown(t token) bool {
	return t.w != "" && !t.quote && !t.punct && !s.lx.Known(t.w)
}

func upper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// boundary reports whether the current clause ends here.
func (s *state) boundary() bool {
	if s.done() {
		return true
	}
	if t := s.tok(); t.punct {
		return true
	}
	return s.at("and", "then", "while", "until", "otherwise", "else", "instead", "when", "whenever", "if", "but")
}

// =============================================================================
// PHRASES
// =============================================================================

var pronouns = map[string]string{
	"it": "it", "them": "it", "they": "it", "him": "it", "her": "it", "he": "it", "she": "it",
	"you": "you", "yourself": "you",
	"me": "me", "i": "me", "myself": "me",
}

var dets = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true, "these": true, "those": true,
	"some": true, "any": true, "each": true, "every": true, "your": true, "my": true, "all": true,
}

var preps = map[string]bool{"at": true, "to": true, "toward": true, "towards": true, "with": true, "for": true, "by": true}

// np reads a noun phrase: a pronoun, a rule variable, a proper name, or
// [det] adjective* noun.
func (s *state) np() *Phrase {
	i0, l0 := s.mark()
	t := s.tok()
	if s.done() || t.quote || t.punct {
		return nil
	}
	w := t.w
	if pron, ok := pronouns[w]; ok && !(w == "her" && s.nounAt(1)) {
		s.i++
		return &Phrase{Pron: pron}
	}
	switch w {
	case "someone", "something", "anyone", "anything", "somebody":
		s.i++
		return &Phrase{Det: "a", Any: true}
	}
	if r := []rune(t.orig); len(r) == 1 && unicode.IsUpper(r[0]) && t.orig != "I" && t.orig != "A" {
		s.i++
		return &Phrase{Var: t.orig}
	}
	ph := &Phrase{}
	if dets[w] {
		ph.Det = w
		s.i++
	}
	for {
		cat, ok := s.lx.Quality(s.peek())
		if !ok {
			break
		}
		ph.Quals = append(ph.Quals, Qual{Word: s.peek(), Cat: cat})
		s.i++
	}
	if lemma, plural, ok := s.lx.Noun(s.peek()); ok {
		ph.Noun, ph.Plural = lemma, plural
		s.i++
		return ph
	}
	if ph.Det == "" && len(ph.Quals) == 0 {
		if name, ok := s.lx.Name(w); ok {
			s.i++
			return &Phrase{Name: name}
		}
		if upper(t.orig) && !s.lx.Known(w) {
			s.i++
			return &Phrase{Name: t.orig}
		}
	}
	if ph.Det != "" && s.unknown(s.tok()) && !upper(s.tok().orig) {
		ph.Noun = s.peek()
		s.loose++
		s.i++
		return ph
	}
	if (ph.Det == "this" || ph.Det == "that") && len(ph.Quals) == 0 {
		s.reset(i0+1, l0)
		return &Phrase{Pron: "it"}
	}
	s.reset(i0, l0)
	return nil
}

func (s *state) nounAt(n int) bool {
	_, _, ok := s.lx.Noun(s.peekAt(n))
	if !ok {
		_, ok = s.lx.Quality(s.peekAt(n))
	}
	return ok
}

// verb reads a verb lemma. Particles of a phrasal verb that do not follow
// the head directly ("pick it up") are returned as pending.
func (s *state) verb(loose bool) (lemma string, pending []string, ok bool) {
	t := s.tok()
	if s.done() || t.quote || t.punct {
		return "", nil, false
	}
	w := t.w
	if w == "wait" && s.peekAt(1) != "until" {
		s.i++
		return "pause", nil, true
	}
	if head, ok := s.lx.Head(w); ok {
		s.i++
		for _, p := range s.lx.Particles(head) {
			if s.seq(strings.Fields(p)...) {
				return head + "_" + strings.ReplaceAll(p, " ", "_"), nil, true
			}
		}
		if v, ok := s.lx.Verb(w); ok {
			return v, nil, true
		}
		return head, s.lx.Particles(head), true
	}
	if v, ok := s.lx.Verb(w); ok {
		s.i++
		return v, nil, true
	}
	if loose && s.unknown(t) && !upper(t.orig) {
		s.i++
		s.loose++
		return w, nil, true
	}
	return "", nil, false
}

// words joins the original text of the words up to the clause boundary.
func (s *state) words() string {
	var parts []string
	for !s.boundary() && !s.tok().quote {
		parts = append(parts, s.tok().orig)
		s.i++
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// CLAUSES
// =============================================================================

// action reads an imperative clause: [you] [modal] [please] verb args.
func (s *state) action(loose bool) (*Clause, bool) {
	i0, l0 := s.mark()
	fail := func() (*Clause, bool) {
		s.reset(i0, l0)
		return nil, false
	}
	c := &Clause{}
	s.eat("please")
	if s.at("you") && !s.boundaryAt(1) {
		s.i++
		c.Subj = &Phrase{Pron: "you"}
	}
	if m, ok := s.lx.Modal(s.peek()); ok && s.peekAt(1) != "not" {
		c.Modal = m
		s.i++
	}
	s.eat("please")
	verb, pending, ok := s.verb(loose)
	if !ok {
		return fail()
	}
	c.Verb = verb
	if verb == "say" && !s.tok().quote && !s.boundary() {
		c.Quote = s.words()
	}
	for !s.boundary() {
		t := s.tok()
		if len(pending) > 0 {
			matched := false
			for _, p := range pending {
				if s.seq(strings.Fields(p)...) {
					c.Verb = verb + "_" + strings.ReplaceAll(p, " ", "_")
					pending, matched = nil, true
					break
				}
			}
			if matched {
				continue
			}
		}
		switch {
		case t.quote:
			if c.Quote != "" {
				return fail()
			}
			c.Quote = t.w
			s.i++
		case s.lx.Direction(t.w) && c.Dir == "":
			c.Dir = t.w
			s.i++
		case c.Amt == nil && isNumber(s.lx, t.w):
			n, _ := s.lx.Number(t.w)
			c.Amt = &Amount{Num: n}
			s.i++
			if u, ok := s.lx.Unit(s.peek()); ok {
				c.Amt.Unit = u
				s.i++
			}
		case preps[t.w], t.w == "please":
			s.i++
		default:
			ph := s.np()
			if ph == nil || c.Obj != nil {
				return fail()
			}
			c.Obj = ph
		}
	}
	if len(pending) > 0 {
		return fail()
	}
	return c, true
}

func isNumber(lx *Lexicon, w string) bool {
	_, ok := lx.Number(w)
	return ok
}

func (s *state) boundaryAt(n int) bool {
	save := s.i
	s.i += n
	b := s.boundary()
	s.i = save
	return b
}

// body reads actions joined by "and", "then" or commas.
func (s *state) body(loose bool) ([]Clause, bool) {
	c, ok := s.action(loose)
	if !ok {
		return nil, false
	}
	out := []Clause{*c}
	for {
		save := s.i
		s.eat(",")
		s.eat("and")
		s.eat("then")
		if s.i == save {
			return out, true
		}
		c, ok := s.action(loose)
		if !ok {
			s.i = save
			return out, true
		}
		out = append(out, *c)
	}
}

// situation reads a condition: "there is a N", "you see a N", or a copula
// clause "NP is [not] PRED".
func (s *state) situation() *Clause {
	i0, l0 := s.mark()
	if s.seq("there", "is") || s.seq("there", "are") {
		neg := s.eat("not", "no")
		if ph := s.np(); ph != nil && ph.Noun != "" {
			return &Clause{Subj: ph, Exist: true, Neg: neg}
		}
		s.reset(i0, l0)
		return nil
	}
	if s.eat("you") && s.eat("see", "notice", "find") {
		if ph := s.np(); ph != nil && ph.Noun != "" {
			return &Clause{Subj: ph, Exist: true}
		}
	}
	s.reset(i0, l0)
	ph := s.np()
	if ph == nil || !s.eat("is", "are", "am") {
		s.reset(i0, l0)
		return nil
	}
	c := &Clause{Subj: ph}
	if !s.predicate(c) {
		s.reset(i0, l0)
		return nil
	}
	return c
}

// predicate reads what follows a copula: [not] (a N | ADJ [and ADJ]*).
func (s *state) predicate(c *Clause) bool {
	i0, l0 := s.mark()
	c.Neg = s.eat("not")
	if ph := s.np(); ph != nil {
		if ph.Noun != "" && (ph.Det == "" || ph.Det == "a" || ph.Det == "an") {
			c.Class = ph
			return true
		}
		s.reset(i0, l0)
		c.Neg = s.eat("not")
	}
	for {
		w := s.peek()
		cat, ok := s.lx.Quality(w)
		if !ok {
			if !s.unknown(s.tok()) || len(c.Quals) > 0 || !s.boundaryAt(1) {
				break
			}
			s.loose++
		}
		c.Quals = append(c.Quals, Qual{Word: w, Cat: cat})
		s.i++
		if !s.at("and") || s.boundaryAt(1) {
			break
		}
		if _, ok := s.lx.Quality(s.peekAt(1)); !ok {
			break
		}
		s.i++
	}
	if len(c.Quals) == 0 {
		s.reset(i0, l0)
		return false
	}
	return true
}

func modalOf(cs []Clause) string {
	for _, c := range cs {
		if c.Modal != "" {
			return c.Modal
		}
	}
	return ""
}

// =============================================================================
// SENTENCE FAMILIES
// =============================================================================

// teachDo: to V [args], BODY [instead of V2]
func (s *state) teachDo() *Frame {
	if !s.eat("to") {
		return nil
	}
	trig, ok := s.action(true)
	if !ok || trig.Subj != nil || trig.Modal != "" {
		return nil
	}
	s.eat(",")
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	f := &Frame{Kind: FrameOp, OpKind: "do", Trigger: trig, Main: body, Modal: modalOf(body)}
	if s.eat("instead") {
		if !s.eat("of") {
			return nil
		}
		old, ok := s.action(false)
		if !ok {
			return nil
		}
		f.Kind, f.OpKind, f.Instead = FrameEdit, "", old
	}
	return f
}

// teachWhen: when SITUATION, BODY
func (s *state) teachWhen() *Frame {
	if !s.eat("when", "whenever") {
		return nil
	}
	trig := s.situation()
	if trig == nil || trig.Subj.Var != "" {
		return nil
	}
	s.eat(",")
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	return &Frame{Kind: FrameOp, OpKind: "note", Trigger: trig, Main: body, Modal: modalOf(body)}
}

// teachBefore: before you V [args], BODY
func (s *state) teachBefore() *Frame {
	if !s.eat("before") {
		return nil
	}
	trig, ok := s.action(true)
	if !ok {
		return nil
	}
	trig.Subj = nil
	s.eat(",")
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	return &Frame{Kind: FrameOp, OpKind: "ante", Trigger: trig, Main: body, Modal: modalOf(body)}
}

// teachFail: if you can not V, BODY
func (s *state) teachFail() *Frame {
	if !s.seq("if", "you") {
		return nil
	}
	if !s.seq("can", "not") && !s.seq("fail", "to") && !s.seq("could", "not") && !s.seq("do", "not", "manage", "to") {
		return nil
	}
	trig, ok := s.action(true)
	if !ok {
		return nil
	}
	s.eat(",")
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	return &Frame{Kind: FrameOp, OpKind: "fail", Trigger: trig, Main: body, Modal: modalOf(body)}
}

// teachGate: [you] [modal] (do not | never) V [args] [when SITUATION]
func (s *state) teachGate() *Frame {
	s.eat("please")
	s.eat("you")
	var modal string
	if m, ok := s.lx.Modal(s.peek()); ok && s.at("must", "should", "always") {
		modal = m
		s.i++
	}
	switch {
	case s.seq("do", "not"), s.eat("never"), modal != "" && s.eat("not"):
	default:
		return nil
	}
	trig, ok := s.action(false)
	if !ok {
		return nil
	}
	trig.Subj = nil
	f := &Frame{Kind: FrameOp, OpKind: "gate", Trigger: trig, Modal: modal}
	if s.eat("when", "while", "if") {
		if f.Cond = s.situation(); f.Cond == nil {
			return nil
		}
	}
	return f
}

// ruleIf: if X is a N [,] then X is a M
func (s *state) ruleIf() *Frame {
	if !s.eat("if") {
		return nil
	}
	cond := s.situation()
	if cond == nil || cond.Exist || (cond.Subj.Var == "" && !cond.Subj.Any) {
		return nil
	}
	s.eat(",")
	s.eat("then")
	res := s.situation()
	if res == nil || res.Exist {
		return nil
	}
	if res.Subj.Var != cond.Subj.Var && res.Subj.Pron != "it" {
		return nil
	}
	return &Frame{Kind: FrameRule, Cond: cond, Main: []Clause{*res}}
}

// conditional: if SITUATION [,] [then] BODY [; otherwise BODY]
func (s *state) conditional() *Frame {
	if !s.eat("if") {
		return nil
	}
	cond := s.situation()
	if cond == nil || cond.Subj.Var != "" || cond.Subj.Any {
		return nil
	}
	s.eat(",")
	s.eat("then")
	then, ok := s.body(false)
	if !ok {
		return nil
	}
	f := &Frame{Kind: FrameCond, Cond: cond, Then: then}
	save := s.i
	s.eat(";", ",")
	if s.eat("otherwise", "else") {
		s.eat(",")
		if f.Else, ok = s.body(false); !ok {
			return nil
		}
	} else {
		s.i = save
	}
	return f
}

// each: for each N, BODY
func (s *state) each() *Frame {
	if !s.seq("for", "each") && !s.seq("for", "every") {
		return nil
	}
	ph := s.np()
	if ph == nil || ph.Noun == "" {
		return nil
	}
	ph.Det = "each"
	s.eat(",")
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	return &Frame{Kind: FrameEach, Over: ph, Main: body}
}

// wait: wait until SITUATION
func (s *state) wait() *Frame {
	if !s.seq("wait", "until") {
		return nil
	}
	c := s.situation()
	if c == nil {
		return nil
	}
	return &Frame{Kind: FrameWait, Cond: c}
}

// yesNo: is NP PRED? | is there a N? | do you see a N?
func (s *state) yesNo() *Frame {
	if s.seq("do", "you", "see") {
		if ph := s.np(); ph != nil && ph.Noun != "" {
			return &Frame{Kind: FrameYesNo, Main: []Clause{{Subj: ph, Exist: true}}}
		}
		return nil
	}
	if !s.eat("is", "are", "am") {
		return nil
	}
	if s.eat("there") {
		neg := s.eat("not", "no")
		if ph := s.np(); ph != nil && ph.Noun != "" {
			return &Frame{Kind: FrameYesNo, Main: []Clause{{Subj: ph, Exist: true, Neg: neg}}}
		}
		return nil
	}
	ph := s.np()
	if ph == nil {
		return nil
	}
	c := Clause{Subj: ph}
	if !s.predicate(&c) {
		return nil
	}
	return &Frame{Kind: FrameYesNo, Main: []Clause{c}}
}

// wh: what CAT is NP? | what is NP? | who is NP?
func (s *state) wh() *Frame {
	ask := ""
	switch {
	case s.eat("what", "which"):
		if s.lx.Category(s.peek()) {
			ask = s.peek()
			s.i++
		} else {
			ask = "what"
		}
	case s.eat("who"):
		ask = "who"
	default:
		return nil
	}
	if !s.eat("is", "are", "am") {
		return nil
	}
	ph := s.np()
	if ph == nil {
		return nil
	}
	return &Frame{Kind: FrameWh, Ask: ask, Main: []Clause{{Subj: ph}}}
}

// statement: NP is PRED | there is a N. Generic subjects teach rules.
func (s *state) statement() *Frame {
	if s.question {
		return nil
	}
	c := s.situation()
	if c == nil || c.Subj.Var != "" || c.Subj.Any {
		return nil
	}
	if !c.Exist && c.Subj.Generic() {
		return &Frame{Kind: FrameRule, Main: []Clause{*c}}
	}
	return &Frame{Kind: FrameFact, Main: []Clause{*c}}
}

// command: BODY [while BODY | until SITUATION]
func (s *state) command() *Frame {
	if s.question {
		return nil
	}
	body, ok := s.body(false)
	if !ok {
		return nil
	}
	f := &Frame{Kind: FrameCommand, Main: body}
	switch {
	case s.eat("while"):
		s.eat("you")
		if f.While, ok = s.body(false); !ok {
			return nil
		}
	case s.eat("until"):
		if f.Cond = s.situation(); f.Cond == nil {
			return nil
		}
		f.Looped = true
	}
	s.eat("please")
	return f
}
