// Package kb reads and writes the robot's on-disk knowledge base:
//
//	language/*.yaml       vocabulary merged into the parser lexicon
//	config/VIPs.txt       known proper names
//	KB0/<tag>.*           kernel rules and operators, by kernel base tag
//	KB0/<tag>/**/*.*
//	KB2/baseline.lst      base files X, each supplying X.rules, X.ops, X.facts, X.sgm
//	KB/learned.*          knowledge taught since, saved at shutdown
//
// .rules and .ops files hold rule and operator blocks, .facts files one
// asserted pattern per line and .sgm files English sentences.
package kb

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"

	"alia/internal/graphize"
	"alia/internal/lang"
	"alia/internal/logging"
	"alia/internal/ops"
	"alia/internal/proc"
	"alia/internal/rules"
	"alia/internal/wmem"
)

// ErrConfigMissing is returned when the knowledge-base directory is absent.
var ErrConfigMissing = errors.New("knowledge base missing")

//go:embed builtin.ops
var builtin string

// File extensions in load order.
var exts = []string{".rules", ".ops", ".facts", ".sgm"}

// Learned knowledge lives in KB/learned.<ext>.
const (
	LearnedDir  = "KB"
	learnedBase = "learned"
)

// Stats counts what a load added.
type Stats struct {
	Files     int
	Rules     int
	Ops       int
	Facts     int
	Sentences int
	Skipped   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.Rules += o.Rules
	s.Ops += o.Ops
	s.Facts += o.Facts
	s.Sentences += o.Sentences
	s.Skipped += o.Skipped
}

func (s Stats) String() string {
	return fmt.Sprintf("%d files, %d rules, %d ops, %d facts, %d sentences, %d skipped",
		s.Files, s.Rules, s.Ops, s.Facts, s.Sentences, s.Skipped)
}

// KB loads knowledge into the stores of one core.
type KB struct {
	dir     string
	w       *wmem.WMem
	rules   *rules.Store
	ops     *ops.Store
	parser  *lang.Parser
	gz      *graphize.Graphizer
	pending []*proc.Chain
}

// New creates a loader for dir.
func New(dir string, w *wmem.WMem, rs *rules.Store, opStore *ops.Store, p *lang.Parser) *KB {
	return &KB{dir: dir, w: w, rules: rs, ops: opStore, parser: p, gz: graphize.New(w)}
}

// Dir returns the knowledge-base root.
func (k *KB) Dir() string { return k.dir }

// Path joins elements onto the knowledge-base root.
func (k *KB) Path(elem ...string) string {
	return filepath.Join(append([]string{k.dir}, elem...)...)
}

// Pending returns and clears the foci of sentences read from .sgm files
// that state facts or give commands rather than teach.
func (k *KB) Pending() []*proc.Chain {
	p := k.pending
	k.pending = nil
	return p
}

// Load reads the whole layout: vocabulary, built-in operators, the kernel
// files for tags, the baseline list and learned knowledge. File errors are
// logged and skipped; a missing root or an exhausted node pool is fatal.
func (k *KB) Load(tags []string) (Stats, error) {
	timer := logging.StartTimer(logging.CategoryKB, "Load")
	defer timer.Stop()

	var total Stats
	if fi, err := os.Stat(k.dir); err != nil || !fi.IsDir() {
		return total, fmt.Errorf("%s: %w", k.dir, ErrConfigMissing)
	}

	lx := k.parser.Lexicon()
	if n, err := lx.LoadDir(k.Path("language")); err != nil {
		logging.KBWarn("language: %v", err)
	} else if n > 0 {
		logging.KB("merged %d vocabulary files", n)
	}
	if n, err := lx.LoadNames(k.Path("config", "VIPs.txt")); err != nil {
		logging.KBWarn("VIPs: %v", err)
	} else if n > 0 {
		logging.KB("loaded %d names", n)
	}
	k.parser.Refresh()

	st, err := k.Builtin()
	total.Add(st)
	if err != nil {
		if errors.Is(err, wmem.ErrExhausted) {
			return total, err
		}
		logging.KBWarn("builtin: %v", err)
	}

	files, err := k.kernelFiles(tags)
	if err != nil {
		logging.KBWarn("KB0: %v", err)
	}
	files = append(files, k.baselineFiles()...)
	for _, f := range files {
		st, err := k.LoadFile(f, rules.Kernel)
		total.Add(st)
		if err != nil {
			if errors.Is(err, wmem.ErrExhausted) {
				return total, err
			}
			logging.KBWarn("%v", err)
		}
	}

	for _, ext := range exts {
		p := k.Path(LearnedDir, learnedBase+ext)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		st, err := k.LoadFile(p, rules.Accumulated)
		total.Add(st)
		if err != nil {
			if errors.Is(err, wmem.ErrExhausted) {
				return total, err
			}
			logging.KBWarn("%v", err)
		}
	}
	if _, err := k.ApplyOverrides(); err != nil {
		logging.KBWarn("overrides: %v", err)
	}
	logging.KB("loaded %s from %s", total, k.dir)
	return total, nil
}

// Builtin loads the operators mapping base verbs onto kernel functions.
func (k *KB) Builtin() (Stats, error) {
	return k.ReadBlocks(strings.NewReader(builtin), "builtin.ops", rules.Kernel)
}

// kernelFiles finds the KB0 files of every tag, rules first.
func (k *KB) kernelFiles(tags []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	var errs error
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		for _, pat := range []string{
			filepath.Join(k.dir, "KB0", tag+".{rules,ops,facts,sgm}"),
			filepath.Join(k.dir, "KB0", tag, "**", "*.{rules,ops,facts,sgm}"),
		} {
			matches, err := doublestar.FilepathGlob(pat)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("glob %s: %w", pat, err))
				continue
			}
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := extRank(out[i]), extRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out, errs
}

func extRank(path string) int {
	ext := filepath.Ext(path)
	for i, e := range exts {
		if e == ext {
			return i
		}
	}
	return len(exts)
}

// baselineFiles expands KB2/baseline.lst in list order.
func (k *KB) baselineFiles() []string {
	lst := k.Path("KB2", "baseline.lst")
	f, err := os.Open(lst)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.KBWarn("baseline list: %v", err)
		}
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		entry := strings.TrimSpace(sc.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		found := false
		for _, ext := range exts {
			p := filepath.Join(k.dir, "KB2", entry+ext)
			if _, err := os.Stat(p); err == nil {
				out = append(out, p)
				found = true
			}
		}
		if !found {
			logging.KBWarn("baseline entry %q has no files", entry)
		}
	}
	return out
}

// LoadFile reads one file according to its extension.
func (k *KB) LoadFile(path string, level rules.Level) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	name := filepath.Base(path)
	var st Stats
	switch filepath.Ext(path) {
	case ".rules", ".ops":
		st, err = k.ReadBlocks(f, name, level)
	case ".facts":
		st, err = k.ReadFacts(f, name)
	case ".sgm":
		st, err = k.ReadSentences(f, name, level)
	default:
		return Stats{}, fmt.Errorf("%s: unknown file type", path)
	}
	st.Files++
	logging.KBDebug("%s: %s", path, st)
	return st, err
}

// =============================================================================
// BLOCK FILES
// =============================================================================

type rawLine struct {
	n    int
	text string
}

type rawBlock struct {
	head rawLine
	body []rawLine
}

// blocks groups a file into headed blocks: an unindented line starts a
// block, indented lines continue it. Lines starting with # are comments.
func blocks(r io.Reader) ([]rawBlock, error) {
	var out []rawBlock
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		text := strings.TrimSpace(line)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'
		if !indented {
			out = append(out, rawBlock{head: rawLine{n, text}})
			continue
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("line %d: %w: indented line outside a block", n, ErrSyntax)
		}
		out[len(out)-1].body = append(out[len(out)-1].body, rawLine{n, text})
	}
	return out, sc.Err()
}

// ReadBlocks loads every rule and operator block of r. A bad block is
// skipped and reported; the others still load.
func (k *KB) ReadBlocks(r io.Reader, name string, level rules.Level) (Stats, error) {
	var st Stats
	bs, err := blocks(r)
	if err != nil {
		return st, fmt.Errorf("%s: %w", name, err)
	}
	var errs error
	publish := level == rules.Accumulated
	for _, b := range bs {
		var err error
		switch strings.Fields(b.head.text)[0] {
		case "rule":
			var rl *rules.Rule
			if rl, err = k.ruleBlock(b); err == nil {
				if _, added := k.rules.AddRule(k.w, rl, level, publish); added {
					st.Rules++
				} else {
					graphize.ReleaseRule(k.w, rl)
				}
			}
		case "op":
			var o *ops.Operator
			if o, err = k.opBlock(b); err == nil {
				if _, added := k.ops.AddOperator(k.w, o, level, publish); added {
					st.Ops++
				} else {
					graphize.ReleaseOp(k.w, o)
				}
			}
		default:
			err = fmt.Errorf("%w: unknown block %q", ErrSyntax, b.head.text)
		}
		if err != nil {
			st.Skipped++
			errs = multierr.Append(errs, fmt.Errorf("%s:%d: %w", name, b.head.n, err))
		}
	}
	return st, errs
}

func (k *KB) ruleBlock(b rawBlock) (*rules.Rule, error) {
	f := strings.Fields(b.head.text)
	if len(f) < 2 || len(f) > 3 {
		return nil, fmt.Errorf("%w: expected rule NAME [CONF]", ErrSyntax)
	}
	rl := &rules.Rule{Name: f[1], Conf: 1}
	if len(f) == 3 {
		c, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confidence %q", ErrSyntax, f[2])
		}
		rl.Conf = c
	}
	blk := newBlock(k.w)
	fail := func(err error) (*rules.Rule, error) {
		blk.release()
		return nil, err
	}
	for _, ln := range b.body {
		word, rest, _ := strings.Cut(ln.text, " ")
		var err error
		switch word {
		case "if":
			rl.Cond, err = blk.pattern(rest, 0)
		case "then":
			rl.Result, err = blk.pattern(rest, 1)
		default:
			err = fmt.Errorf("%w: unexpected %q", ErrSyntax, word)
		}
		if err != nil {
			return fail(fmt.Errorf("line %d: %w", ln.n, err))
		}
	}
	if rl.Cond == nil || rl.Result == nil {
		return fail(fmt.Errorf("%w: rule needs if and then", ErrSyntax))
	}
	if err := blk.link(); err != nil {
		return fail(err)
	}
	return rl, nil
}

func (k *KB) opBlock(b rawBlock) (*ops.Operator, error) {
	f := strings.Fields(b.head.text)
	if len(f) < 3 || len(f) > 4 {
		return nil, fmt.Errorf("%w: expected op NAME KIND [PREF]", ErrSyntax)
	}
	kind, ok := proc.ParseKind(f[2])
	if !ok {
		return nil, fmt.Errorf("%w: operator kind %q", ErrSyntax, f[2])
	}
	o := &ops.Operator{Name: f[1], Kind: kind, Pref: ops.Default}
	if len(f) == 4 {
		p, err := ops.ParsePref(f[3])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		o.Pref = p
	}
	blk := newBlock(k.w)
	fail := func(err error) (*ops.Operator, error) {
		blk.release()
		return nil, err
	}
	var steps []stepSpec
	for _, ln := range b.body {
		word, rest, _ := strings.Cut(ln.text, " ")
		var err error
		switch {
		case word == "when":
			if o.Cond != nil {
				err = fmt.Errorf("%w: second when", ErrSyntax)
				break
			}
			o.Cond, err = blk.pattern(rest, 0)
		case word == "unless":
			var u *wmem.Graphlet
			if u, err = blk.pattern(rest, 0); err == nil {
				o.Unless = append(o.Unless, u)
			}
		default:
			var sp stepSpec
			if sp, err = parseStep(ln.text); err == nil {
				sp.line = ln.n
				steps = append(steps, sp)
			}
		}
		if err != nil {
			return fail(fmt.Errorf("line %d: %w", ln.n, err))
		}
	}
	if o.Cond == nil {
		return fail(fmt.Errorf("%w: operator needs when", ErrSyntax))
	}
	m, err := blk.method(steps)
	if err != nil {
		return fail(err)
	}
	o.Method = m
	if err := blk.link(); err != nil {
		return fail(err)
	}
	return o, nil
}

// =============================================================================
// FACTS AND SENTENCES
// =============================================================================

// ReadFacts asserts one believed pattern per line into main.
func (k *KB) ReadFacts(r io.Reader, name string) (Stats, error) {
	var st Stats
	var errs error
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := k.fact(text); err != nil {
			st.Skipped++
			errs = multierr.Append(errs, fmt.Errorf("%s:%d: %w", name, n, err))
			continue
		}
		st.Facts++
	}
	return st, multierr.Append(errs, sc.Err())
}

func (k *KB) fact(text string) error {
	blk := newBlock(k.w)
	defer blk.release()
	g, err := blk.pattern(text, 1)
	if err != nil {
		return err
	}
	if err := blk.link(); err != nil {
		return err
	}
	_, err = k.w.Assert(g, nil, 1, false)
	return err
}

// ReadSentences parses and lowers every sentence of r. Teaching sentences
// add rules and operators at level; the rest are kept for Pending.
func (k *KB) ReadSentences(r io.Reader, name string, level rules.Level) (Stats, error) {
	var st Stats
	var errs error
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, s := range lang.Sentences(text) {
			frames, err := k.parser.Parse(s)
			if err != nil {
				st.Skipped++
				errs = multierr.Append(errs, fmt.Errorf("%s:%d: %q: %w", name, n, s, err))
				continue
			}
			res, err := k.gz.Lower(frames[0])
			if err != nil {
				st.Skipped++
				errs = multierr.Append(errs, fmt.Errorf("%s:%d: %w", name, n, err))
				continue
			}
			st.Sentences++
			if res.Teaches() {
				r, o := k.Teach(res, level)
				st.Rules += r
				st.Ops += o
				if res.Focus != nil {
					res.Focus.Release(k.w)
				}
				continue
			}
			k.pending = append(k.pending, res.Focus)
		}
	}
	return st, multierr.Append(errs, sc.Err())
}

// Teach stores the rules and operators of a lowered sentence, releasing
// duplicates, and adds the action words it defines to the lexicon.
// Returns how many rules and operators were new.
func (k *KB) Teach(res *graphize.Result, level rules.Level) (nr, no int) {
	publish := level == rules.Accumulated
	for _, rl := range res.Rules {
		if _, added := k.rules.AddRule(k.w, rl, level, publish); added {
			nr++
		} else {
			graphize.ReleaseRule(k.w, rl)
		}
	}
	for _, o := range res.Ops {
		if _, added := k.ops.AddOperator(k.w, o, level, publish); added {
			no++
		} else {
			graphize.ReleaseOp(k.w, o)
		}
	}
	lx := k.parser.Lexicon()
	learned := false
	for _, v := range res.Verbs {
		if _, known := lx.Verb(v); !known {
			lx.AddVerb(strings.ReplaceAll(v, "_", " "))
			learned = true
			logging.KB("learned the verb %q", v)
		}
	}
	if learned {
		k.parser.Refresh()
	}
	return nr, no
}

// =============================================================================
// LEARNED KNOWLEDGE
// =============================================================================

// ApplyOverrides re-reads KB/learned.pref and KB/learned.conf. Returns how
// many operators and rules were re-scored.
func (k *KB) ApplyOverrides() (int, error) {
	n, err := k.ops.Overrides(k.Path(LearnedDir, learnedBase+".pref"))
	m, err2 := k.confOverrides(k.Path(LearnedDir, learnedBase+".conf"))
	return n + m, multierr.Append(err, err2)
}

// confOverrides reads a YAML mapping of rule name to confidence and
// re-scores rules by name.
func (k *KB) confOverrides(path string) (int, error) {
	entries, err := ops.ReadScores(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		c, err := strconv.ParseFloat(e.Value, 64)
		if err != nil || c <= 0 || c > 1 {
			logging.KBWarn("%s:%d: bad confidence %q for %s", path, e.Line, e.Value, e.Name)
			continue
		}
		for _, r := range k.rules.Rules() {
			if r.Name == e.Name {
				r.Conf = c
				n++
			}
		}
	}
	if n > 0 {
		k.w.Invalidate()
	}
	return n, nil
}

// SaveLearned writes the accumulated rules and operators to
// KB/learned.rules and KB/learned.ops, replacing the old files.
func (k *KB) SaveLearned() error {
	dir := k.Path(LearnedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("save learned: %w", err)
	}
	err := writeFile(filepath.Join(dir, learnedBase+".rules"), func(w io.Writer) error {
		return WriteRules(w, k.w, k.rules.Learned())
	})
	err = multierr.Append(err, writeFile(filepath.Join(dir, learnedBase+".ops"), func(w io.Writer) error {
		return WriteOps(w, k.w, k.ops.Learned())
	}))
	if err == nil {
		logging.KB("saved %d learned rules and %d learned operators", len(k.rules.Learned()), len(k.ops.Learned()))
	}
	return err
}

// writeFile writes through a temporary file renamed over path.
func writeFile(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := multierr.Combine(bw.Flush(), tmp.Close()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
