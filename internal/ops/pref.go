package ops

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"alia/internal/logging"
)

// Default is the preference of an operator taught without a modifier.
const Default = 1.0

// prefs maps linguistic modifiers to operator preferences.
var prefs = map[string]float64{
	"must":       1.5,
	"always":     1.3,
	"definitely": 1.2,
	"probably":   0.8,
	"might":      0.6,
	"could":      0.5,
	"maybe":      0.3,
}

// PrefFor returns the preference for a modifier word.
func PrefFor(word string) (float64, bool) {
	p, ok := prefs[strings.ToLower(word)]
	return p, ok
}

// ParsePref accepts a modifier word or a number.
func ParsePref(s string) (float64, error) {
	if p, ok := PrefFor(s); ok {
		return p, nil
	}
	if s == "default" {
		return Default, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad preference %q", s)
	}
	return p, nil
}

// Overrides reads a preference side file and re-scores operators by name.
// The file is a YAML mapping from operator name to a number or a modifier,
// e.g. "greet: maybe". A missing file is not an error.
func (s *Store) Overrides(path string) (int, error) {
	entries, err := ReadScores(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		p, err := ParsePref(e.Value)
		if err != nil {
			logging.OpsWarn("%s:%d: %s: %v", path, e.Line, e.Name, err)
			continue
		}
		n += s.SetPref(e.Name, p)
	}
	if len(entries) > 0 {
		logging.Ops("applied preference overrides from %s to %d operators", path, n)
	}
	return n, nil
}

// Score is one entry of a hand-tuned side file.
type Score struct {
	Name  string
	Value string
	Line  int
}

// ReadScores reads a YAML mapping of names to scalar values, in file
// order. Entries with non-scalar values are skipped with a warning. A
// missing or empty file yields no entries.
func ReadScores(path string) ([]Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("read %s: line %d: expected a mapping of names", path, m.Line)
	}
	var out []Score
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			logging.OpsWarn("%s:%d: %s: expected a single value", path, v.Line, k.Value)
			continue
		}
		out = append(out, Score{Name: k.Value, Value: v.Value, Line: k.Line})
	}
	return out, nil
}

// Prefs returns the current override table.
func (s *Store) Prefs() map[string]float64 {
	out := make(map[string]float64, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}
