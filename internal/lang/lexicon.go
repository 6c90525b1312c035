// Package lang is the reference parser: it turns one English sentence into
// ranked association lists (Frames) for the graphizer. Vocabulary comes
// from an embedded base lexicon extended by the robot's language/ files
// and its list of known names.
package lang

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"alia/internal/logging"
)

//go:embed lexicon.yaml
var baseLexicon []byte

// LexiconFile is the YAML layout of a vocabulary file.
type LexiconFile struct {
	Nouns      []string            `yaml:"nouns"`
	Plurals    map[string]string   `yaml:"plurals"`
	Qualities  map[string][]string `yaml:"qualities"`
	Verbs      []string            `yaml:"verbs"`
	Directions []string            `yaml:"directions"`
	Units      map[string]string   `yaml:"units"`
	Numbers    map[string]float64  `yaml:"numbers"`
	Modals     map[string]string   `yaml:"modals"`
	Names      []string            `yaml:"names"`
}

// Lexicon is the parser vocabulary. Words are stored lower case; multi-word
// verbs ("pick up") are stored with a space and lowered with an underscore.
type Lexicon struct {
	nouns   map[string]bool
	plurals map[string]string
	quals   map[string]string // adjective -> category
	cats    map[string]bool
	verbs   map[string]bool
	phrasal map[string][]string // head word -> particles
	dirs    map[string]bool
	units   map[string]string
	numbers map[string]float64
	modals  map[string]string
	names   map[string]string // lower -> as written
}

func newLexicon() *Lexicon {
	return &Lexicon{
		nouns:   make(map[string]bool),
		plurals: make(map[string]string),
		quals:   make(map[string]string),
		cats:    make(map[string]bool),
		verbs:   make(map[string]bool),
		phrasal: make(map[string][]string),
		dirs:    make(map[string]bool),
		units:   make(map[string]string),
		numbers: make(map[string]float64),
		modals:  make(map[string]string),
		names:   make(map[string]string),
	}
}

// DefaultLexicon returns the embedded base vocabulary.
func DefaultLexicon() *Lexicon {
	lx := newLexicon()
	var f LexiconFile
	if err := yaml.Unmarshal(baseLexicon, &f); err != nil {
		panic(fmt.Sprintf("embedded lexicon: %v", err))
	}
	lx.Merge(&f)
	return lx
}

// Merge adds every word of f.
func (lx *Lexicon) Merge(f *LexiconFile) {
	for _, n := range f.Nouns {
		lx.nouns[strings.ToLower(n)] = true
	}
	for pl, sg := range f.Plurals {
		lx.plurals[strings.ToLower(pl)] = strings.ToLower(sg)
	}
	for cat, words := range f.Qualities {
		cat = strings.ToLower(cat)
		lx.cats[cat] = true
		for _, w := range words {
			lx.quals[strings.ToLower(w)] = cat
		}
	}
	for _, v := range f.Verbs {
		lx.AddVerb(v)
	}
	for _, d := range f.Directions {
		lx.dirs[strings.ToLower(d)] = true
	}
	for w, u := range f.Units {
		lx.units[strings.ToLower(w)] = strings.ToLower(u)
	}
	for w, n := range f.Numbers {
		lx.numbers[strings.ToLower(w)] = n
	}
	for w, m := range f.Modals {
		lx.modals[strings.ToLower(w)] = strings.ToLower(m)
	}
	for _, n := range f.Names {
		lx.AddName(n)
	}
}

// AddVerb adds a verb, possibly phrasal ("pick up").
func (lx *Lexicon) AddVerb(v string) {
	parts := strings.Fields(strings.ToLower(v))
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		lx.verbs[parts[0]] = true
		return
	}
	lx.verbs[strings.Join(parts, "_")] = true
	lx.phrasal[parts[0]] = append(lx.phrasal[parts[0]], strings.Join(parts[1:], " "))
}

// AddNoun adds a common noun.
func (lx *Lexicon) AddNoun(n string) { lx.nouns[strings.ToLower(n)] = true }

// AddName adds a proper name.
func (lx *Lexicon) AddName(n string) {
	n = strings.TrimSpace(n)
	if n != "" {
		lx.names[strings.ToLower(n)] = n
	}
}

// LoadDir merges every *.yaml file of a language directory. A missing
// directory is not an error.
func (lx *Lexicon) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p, err)
		}
		var f LexiconFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return 0, fmt.Errorf("parse %s: %w", p, err)
		}
		lx.Merge(&f)
		logging.LangDebug("merged vocabulary from %s", p)
	}
	return len(paths), nil
}

// LoadNames reads proper names, one per line; # starts a comment. A
// missing file is not an error.
func (lx *Lexicon) LoadNames(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		lx.AddName(line)
		n++
	}
	return n, sc.Err()
}

// =============================================================================
// LOOKUP
// =============================================================================

// Noun returns the singular lemma of a noun and whether it was plural.
func (lx *Lexicon) Noun(w string) (lemma string, plural, ok bool) {
	if lx.nouns[w] {
		return w, false, true
	}
	if sg, ok := lx.plurals[w]; ok {
		return sg, true, true
	}
	for _, suf := range []string{"es", "s"} {
		if sg := strings.TrimSuffix(w, suf); sg != w && lx.nouns[sg] {
			return sg, true, true
		}
	}
	return "", false, false
}

// Quality returns the category of an adjective.
func (lx *Lexicon) Quality(w string) (cat string, ok bool) {
	cat, ok = lx.quals[w]
	return
}

// Category reports whether w names a quality category ("color").
func (lx *Lexicon) Category(w string) bool { return lx.cats[w] }

// Verb reports whether w is a known verb lemma. Simple inflections are
// stripped: waves, waving, waved.
func (lx *Lexicon) Verb(w string) (string, bool) {
	return stem(w, func(s string) bool { return lx.verbs[s] })
}

// Head reports whether w is the head of a phrasal verb ("pick" in
// "pick up") and returns its lemma.
func (lx *Lexicon) Head(w string) (string, bool) {
	return stem(w, func(s string) bool { return len(lx.phrasal[s]) > 0 })
}

func stem(w string, known func(string) bool) (string, bool) {
	if known(w) {
		return w, true
	}
	for _, suf := range []string{"ing", "ed", "es", "s", "d"} {
		s := strings.TrimSuffix(w, suf)
		if s == w {
			continue
		}
		if known(s) {
			return s, true
		}
		if known(s + "e") {
			return s + "e", true
		}
		if n := len(s); n > 2 && s[n-1] == s[n-2] && known(s[:n-1]) {
			return s[:n-1], true
		}
	}
	return "", false
}

// Particles returns the particles that can follow a phrasal verb head.
func (lx *Lexicon) Particles(head string) []string { return lx.phrasal[head] }

// Direction reports whether w is a direction word.
func (lx *Lexicon) Direction(w string) bool { return lx.dirs[w] }

// Unit returns the canonical unit for w.
func (lx *Lexicon) Unit(w string) (string, bool) {
	u, ok := lx.units[w]
	return u, ok
}

// Number parses digits or a number word.
func (lx *Lexicon) Number(w string) (float64, bool) {
	if n, ok := lx.numbers[w]; ok {
		return n, true
	}
	n, err := strconv.ParseFloat(w, 64)
	return n, err == nil
}

// Modal maps a modal word to its preference word.
func (lx *Lexicon) Modal(w string) (string, bool) {
	m, ok := lx.modals[w]
	return m, ok
}

// Name returns the written form of a known proper name.
func (lx *Lexicon) Name(w string) (string, bool) {
	n, ok := lx.names[w]
	return n, ok
}

// Known reports whether w is in any open or closed class.
func (lx *Lexicon) Known(w string) bool {
	if function[w] || lx.cats[w] {
		return true
	}
	if _, _, ok := lx.Noun(w); ok {
		return true
	}
	if _, ok := lx.Verb(w); ok {
		return true
	}
	if _, ok := lx.Head(w); ok {
		return true
	}
	if _, ok := lx.quals[w]; ok {
		return true
	}
	if _, ok := lx.Number(w); ok {
		return true
	}
	if _, ok := lx.units[w]; ok {
		return true
	}
	if _, ok := lx.modals[w]; ok {
		return true
	}
	_, named := lx.names[w]
	return named || lx.dirs[w] || particles[w]
}

// Words returns the open-class vocabulary used for typo repair.
func (lx *Lexicon) Words() []string {
	seen := make(map[string]bool)
	add := func(w string) {
		if !strings.Contains(w, "_") {
			seen[w] = true
		}
	}
	for w := range lx.nouns {
		add(w)
	}
	for w := range lx.verbs {
		add(w)
	}
	for w := range lx.quals {
		add(w)
	}
	for w := range lx.dirs {
		add(w)
	}
	for w := range lx.cats {
		add(w)
	}
	for w := range lx.units {
		add(w)
	}
	for w := range lx.numbers {
		add(w)
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// function words the grammar matches literally.
var function = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true, "these": true, "those": true,
	"some": true, "any": true, "each": true, "every": true, "your": true, "my": true,
	"is": true, "are": true, "am": true, "be": true, "not": true, "no": true, "do": true, "does": true,
	"if": true, "then": true, "otherwise": true, "else": true, "and": true, "or": true,
	"to": true, "when": true, "whenever": true, "before": true, "while": true, "until": true,
	"for": true, "there": true, "what": true, "which": true, "who": true, "you": true, "i": true,
	"me": true, "it": true, "them": true, "him": true, "her": true, "he": true, "she": true, "they": true,
	"please": true, "never": true, "instead": true, "of": true, "fail": true, "can": true,
	"wait": true, "someone": true, "something": true, "anyone": true, "anything": true, "somebody": true,
	"at": true, "with": true, "toward": true, "towards": true, "by": true, "will": true, "but": true,
	"notice": true, "find": true, "manage": true, "yourself": true, "myself": true,
}

var particles = map[string]bool{"up": true, "down": true, "on": true, "off": true, "over": true, "away": true}
