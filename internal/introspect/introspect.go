// Package introspect answers Datalog queries over working-memory dumps.
//
// A dump's main and halo nodes become node/arg/neg/done facts; the
// embedded policy derives readable views (is_a, quality, prop, action, ...)
// and callers may add their own rules or fact files, such as the audit
// trail written by the logging package.
package introspect

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"alia/internal/logging"
	"alia/internal/wmem"
)

//go:embed policy.mg
var policy string

// derivedFactLimit caps evaluation of user rules that recurse without end.
const derivedFactLimit = 200000

// ErrUnknownPredicate is returned for queries on predicates the program
// does not declare or define.
var ErrUnknownPredicate = errors.New("unknown predicate")

// Program is a compiled policy.
type Program struct {
	info *analysis.ProgramInfo
	src  string
}

// Compile parses and analyzes the built-in policy plus extra sources,
// each a Mangle program text (rules, facts or declarations).
func Compile(extra ...string) (*Program, error) {
	timer := logging.StartTimer(logging.CategoryStore, "introspect.Compile")
	defer timer.Stop()

	var sb strings.Builder
	sb.WriteString(policy)
	for _, src := range extra {
		sb.WriteString("\n")
		sb.WriteString(src)
	}
	src := sb.String()
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze program: %w", err)
	}
	return &Program{info: info, src: src}, nil
}

// Predicates returns the names of every predicate the program knows.
func (p *Program) Predicates() []string {
	out := make([]string, 0, len(p.info.Decls))
	for sym := range p.info.Decls {
		out = append(out, fmt.Sprintf("%s/%d", sym.Symbol, sym.Arity))
	}
	return out
}

// View is a program evaluated against one dump.
type View struct {
	prog  *Program
	store factstore.FactStore
	Facts int
}

// Eval loads snap as facts and evaluates the program to fixpoint.
func (p *Program) Eval(snap wmem.Snapshot) (*View, error) {
	timer := logging.StartTimer(logging.CategoryStore, "introspect.Eval")
	defer timer.Stop()

	atoms, err := Facts(snap)
	if err != nil {
		return nil, err
	}
	base := factstore.NewSimpleInMemoryStore()
	for _, a := range atoms {
		base.Add(a)
	}
	stats, err := engine.EvalProgramWithStats(p.info, base, engine.WithCreatedFactLimit(derivedFactLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate program: %w", err)
	}
	logging.StoreDebug("introspect: %d facts, %d strata", len(atoms), len(stats.Strata))
	return &View{prog: p, store: base, Facts: len(atoms)}, nil
}

// Row is one answer to a query.
type Row struct {
	Atom string        // the matching fact in Mangle syntax
	Args []interface{} // argument values: string, int64 or name
}

// Query returns the facts matching q, a predicate name ("is_a") or an
// atom pattern whose constants must match ("is_a(X, \"dog\")").
func (v *View) Query(q string) ([]Row, error) {
	q = strings.TrimSuffix(strings.TrimSpace(q), ".")
	if q == "" {
		return nil, fmt.Errorf("empty query")
	}
	name := q
	var pattern *ast.Atom
	if i := strings.Index(q, "("); i > 0 {
		a, err := parse.Atom(q)
		if err != nil {
			return nil, fmt.Errorf("failed to parse query %q: %w", q, err)
		}
		pattern = &a
		name = a.Predicate.Symbol
	}

	var out []Row
	found := false
	for sym := range v.prog.info.Decls {
		if sym.Symbol != name || (pattern != nil && sym.Arity != pattern.Predicate.Arity) {
			continue
		}
		found = true
		err := v.store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
			if pattern == nil || matches(*pattern, a) {
				out = append(out, toRow(a))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, name)
	}
	return out, nil
}

func matches(pattern, a ast.Atom) bool {
	if len(pattern.Args) != len(a.Args) {
		return false
	}
	for i, t := range pattern.Args {
		c, ok := t.(ast.Constant)
		if !ok {
			continue
		}
		if !c.Equals(a.Args[i]) {
			return false
		}
	}
	return true
}

func toRow(a ast.Atom) Row {
	args := make([]interface{}, len(a.Args))
	for i, t := range a.Args {
		c, ok := t.(ast.Constant)
		if !ok {
			args[i] = t.String()
			continue
		}
		switch c.Type {
		case ast.NumberType:
			args[i] = c.NumValue
		default:
			args[i] = c.Symbol
		}
	}
	return Row{Atom: a.String(), Args: args}
}
