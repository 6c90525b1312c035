package lang

import (
	"sort"

	"github.com/sahilm/fuzzy"
)

// maxFixes bounds the candidates kept per misspelled word.
const maxFixes = 3

// fixes returns likely intended words for an unknown word, closest first.
// Candidates come from two sources: subsequence matches (dropped letters,
// "blck") and small edit distances (swaps and substitutions, "blcok").
func (lx *Lexicon) fixes(word string, vocab []string) []string {
	limit := 1
	if len([]rune(word)) > 4 {
		limit = 2
	}
	type cand struct {
		w    string
		dist int
	}
	best := make(map[string]int)
	consider := func(w string) {
		d := editDistance(word, w)
		if d > limit {
			return
		}
		if old, ok := best[w]; !ok || d < old {
			best[w] = d
		}
	}
	for _, m := range fuzzy.Find(word, vocab) {
		if n := len(m.Str) - len(word); n >= 0 && n <= limit {
			consider(m.Str)
		}
	}
	for _, w := range vocab {
		if abs(len(w)-len(word)) <= limit {
			consider(w)
		}
	}
	cands := make([]cand, 0, len(best))
	for w, d := range best {
		cands = append(cands, cand{w, d})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].w < cands[j].w
	})
	out := make([]string, 0, maxFixes)
	for _, c := range cands {
		if len(out) == maxFixes {
			break
		}
		out = append(out, c.w)
	}
	return out
}

// editDistance is the optimal string alignment distance: insertions,
// deletions, substitutions and adjacent transpositions each cost one.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[len(ra)][len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
