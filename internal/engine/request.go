package engine

import (
	"fmt"
	"strconv"

	"alia/internal/kernel"
	"alia/internal/ops"
	"alia/internal/wmem"
)

// request turns a resolved action into a kernel call. The action word
// names the function; counts become numbers, quotes the text, and every
// other argument or modifier becomes a role word.
func (e *Engine) request(trig ops.Trigger, bid float64) (kernel.Request, error) {
	n := e.w.Node(trig.Anchor)
	if n == nil || n.Lex == "" {
		return kernel.Request{}, fmt.Errorf("action %d has no verb", trig.Anchor)
	}
	req := kernel.Request{Fcn: n.Lex, Args: make(map[string]string), Bid: bid}
	add := func(role string, id wmem.ID) {
		t := e.w.Node(id)
		if t == nil {
			return
		}
		switch t.Kind {
		case wmem.Count:
			if f, err := strconv.ParseFloat(t.Lex, 64); err == nil {
				req.Nums = append(req.Nums, f)
			}
		case wmem.Quote:
			req.Text = t.Lex
		default:
			if word := e.word(id); word != "" {
				req.Args[role] = word
			}
		}
	}
	for _, a := range n.Args() {
		add(a.Role, a.Tgt)
	}
	for _, r := range n.Refs() {
		add(r.Role, r.Src)
	}
	return req, nil
}

// word is the best single word for a node: its own lex, else its name,
// else its class.
func (e *Engine) word(id wmem.ID) string {
	n := e.w.Node(id)
	if n.Lex != "" {
		return n.Lex
	}
	var class string
	for _, r := range n.Refs() {
		p := e.w.Node(r.Src)
		if p == nil || p.Neg || (p.Blf < e.w.MinBlf() && p.Part != wmem.Pattern) {
			continue
		}
		switch p.Kind {
		case wmem.Name:
			return p.Lex
		case wmem.Class:
			if class == "" {
				class = p.Lex
			}
		}
	}
	return class
}
