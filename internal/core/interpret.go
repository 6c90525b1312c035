package core

import (
	"fmt"

	"alia/internal/body"
	"alia/internal/engine"
	"alia/internal/graphize"
	"alia/internal/kernel"
	"alia/internal/logging"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// Misunderstood is said when no reading of a sentence can be used.
const Misunderstood = "I don't understand"

// Interpret parses one sentence and pushes what it means. Teaching
// sentences add knowledge at once and acknowledge; other sentences become
// a focus whose alternates are the lower-ranked readings.
func (c *Core) Interpret(text string) {
	c.stats.Sentences++
	logging.Core("heard %q", text)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditHeard, Cycle: c.stats.Cycles, Text: text, Success: true})
	frames, err := c.parser.Parse(text)
	if err != nil {
		c.stats.ParseFails++
		logging.Core("%v", err)
		c.said = append(c.said, Misunderstood)
		return
	}
	var results []*graphize.Result
	for _, f := range frames {
		res, err := c.gz.Lower(f)
		if err != nil {
			c.check(err)
			if c.fatal != nil {
				return
			}
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		c.stats.ParseFails++
		c.said = append(c.said, Misunderstood)
		return
	}

	best := results[0]
	if best.Teaches() {
		for _, r := range results[1:] {
			r.Release(c.w)
		}
		nr, no := c.kb.Teach(best, rules.Accumulated)
		c.stats.Taught++
		logging.Core("taught %d rules and %d operators", nr, no)
		if nr > 0 {
			logging.Audit(logging.AuditEvent{EventType: logging.AuditRuleLearned, Target: text, Success: true, Text: fmt.Sprintf("%d rules", nr)})
		}
		if no > 0 {
			logging.Audit(logging.AuditEvent{EventType: logging.AuditOpLearned, Target: text, Success: true, Text: fmt.Sprintf("%d operators", no)})
		}
		c.eng.Add(best.Focus, engine.Owning(), engine.WithLabel("teach"))
		return
	}
	var alts []*proc.Chain
	for _, r := range results[1:] {
		if r.Teaches() || r.Focus == nil {
			r.Release(c.w)
			continue
		}
		alts = append(alts, r.Focus)
	}
	c.eng.Add(best.Focus, engine.Owning(), engine.WithAlts(alts...), engine.WithLabel(text))
}

// volunteered turns a kernel note into a NOTE focus.
func (c *Core) volunteered(n kernel.Note) {
	subj := c.w.Self()
	if n.Subject == "user" {
		subj = c.w.User()
	}
	blf := n.Blf
	if blf <= 0 {
		blf = 1
	}
	ch, err := c.noteChain(subj, n.Role, n.Lex, n.Neg, blf)
	if err != nil {
		c.check(err)
		return
	}
	c.stats.Notes++
	logging.CoreDebug("kernel notes %s(%s %s)", n.Lex, n.Role, n.Subject)
	c.eng.Add(ch, engine.Owning(), engine.WithLabel("sensed:"+n.Lex))
}

// noteChain builds a one-step NOTE of lex(role: subj). Qualities carry
// their category, as parsed sentences do.
func (c *Core) noteChain(subj wmem.ID, role, lex string, neg bool, blf float64) (*proc.Chain, error) {
	key := wmem.NewGraphlet()
	restore := c.w.Build(key)
	p, err := c.w.AddProp(subj, role, lex, neg, blf)
	if err == nil && role == "hq" {
		if cat, ok := c.parser.Lexicon().Quality(lex); ok {
			_, err = c.w.AddProp(p, "ako", cat, false, blf)
		}
	}
	restore()
	if err != nil {
		c.w.Release(key)
		return nil, err
	}
	ch := proc.Step(proc.Note, key)
	ch.Dir.Blf = blf
	return ch, nil
}

var moods = []struct {
	bit  uint32
	word string
}{
	{body.MoodBored, "bored"},
	{body.MoodTired, "tired"},
	{body.MoodHappy, "happy"},
	{body.MoodAlarmed, "alarmed"},
}

// senseMood notes mood bits that changed since the last cycle.
func (c *Core) senseMood(mood uint32) {
	changed := mood ^ c.mood
	c.mood = mood
	for _, m := range moods {
		if changed&m.bit == 0 {
			continue
		}
		c.volunteered(kernel.Note{Subject: "self", Role: "hq", Lex: m.word, Neg: mood&m.bit == 0, Blf: 1})
	}
}
