package lang

import (
	"strings"
	"unicode"
)

// token is one word, number, punctuation mark or quoted string.
type token struct {
	w     string // lower case, or the quoted text
	orig  string
	quote bool
	cap   bool // written with a capital, not sentence initial
	punct bool
}

var contractions = map[string]string{
	"don't":   "do not",
	"doesn't": "does not",
	"can't":   "can not",
	"cannot":  "can not",
	"won't":   "will not",
	"isn't":   "is not",
	"aren't":  "are not",
	"you're":  "you are",
	"i'm":     "i am",
	"it's":    "it is",
	"what's":  "what is",
	"there's": "there is",
	"that's":  "that is",
}

// tokenize splits a sentence. Single or double quotes enclose literal
// text; an apostrophe inside a word is a contraction, not a quote.
func tokenize(s string) []token {
	var out []token
	rs := []rune(s)
	i := 0
	wordStart := func(j int) bool { return j == 0 || unicode.IsSpace(rs[j-1]) || strings.ContainsRune(",;:(", rs[j-1]) }
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case (r == '"' || r == '\'' || r == '‘' || r == '“') && wordStart(i):
			closer := r
			switch r {
			case '‘':
				closer = '’'
			case '“':
				closer = '”'
			}
			j := i + 1
			for j < len(rs) && !(rs[j] == closer && (j+1 == len(rs) || !unicode.IsLetter(rs[j+1]))) {
				j++
			}
			text := string(rs[i+1 : min(j, len(rs))])
			out = append(out, token{w: text, orig: text, quote: true})
			i = j + 1
		case strings.ContainsRune(",;:.!?", r):
			out = append(out, token{w: string(r), orig: string(r), punct: true})
			i++
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune(",;:!?\"", rs[j]) {
				if rs[j] == '.' && (j+1 == len(rs) || !unicode.IsDigit(rs[j+1])) {
					break
				}
				j++
			}
			word := string(rs[i:j])
			lower := strings.ToLower(strings.NewReplacer("’", "'").Replace(word))
			if exp, ok := contractions[lower]; ok {
				for _, part := range strings.Fields(exp) {
					out = append(out, token{w: part, orig: part})
				}
			} else {
				lower = strings.TrimSuffix(lower, "'s")
				out = append(out, token{w: lower, orig: word, cap: unicode.IsUpper([]rune(word)[0]) && len(out) > 0})
			}
			i = j
		}
	}
	return out
}

// Sentences splits text into sentences at terminal punctuation outside
// quotes.
func Sentences(text string) []string {
	var out []string
	var sb strings.Builder
	var quote rune
	rs := []rune(text)
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for i, r := range rs {
		sb.WriteRune(r)
		switch {
		case quote != 0:
			if r == quote && (i+1 == len(rs) || !unicode.IsLetter(rs[i+1])) {
				quote = 0
			}
		case (r == '"' || r == '\'') && (i == 0 || unicode.IsSpace(rs[i-1])):
			quote = r
		case r == '.' || r == '!' || r == '?':
			if r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) {
				continue
			}
			flush()
		}
	}
	flush()
	return out
}

// trimEnd strips trailing punctuation and reports whether it held a
// question mark.
func trimEnd(toks []token) ([]token, bool) {
	q := false
	for len(toks) > 0 && toks[len(toks)-1].punct && toks[len(toks)-1].w != "," {
		if toks[len(toks)-1].w == "?" {
			q = true
		}
		toks = toks[:len(toks)-1]
	}
	return toks, q
}
