// Package script loads grounding functions written as Go source and runs
// them in a yaegi interpreter, so a robot can gain kernel verbs without a
// rebuild.
//
// A script is a main package defining:
//
//	func Fcns() []string
//	func Run(fcn string, args map[string]string, nums []float64, text string) (string, bool)
//
// Run returns text to speak (may be empty) and whether the call succeeded.
// Scripts finish within the call that starts them.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"alia/internal/kernel"
	"alia/internal/logging"
)

// RunFunc is the signature scripts export as Run.
type RunFunc func(fcn string, args map[string]string, nums []float64, text string) (string, bool)

// DefaultTimeout bounds one script call.
const DefaultTimeout = 50 * time.Millisecond

// allowed lists the stdlib packages scripts may import. No filesystem,
// process or network access.
var allowed = map[string]bool{
	"strings":       true,
	"strconv":       true,
	"fmt":           true,
	"math":          true,
	"regexp":        true,
	"encoding/json": true,
	"time":          true,
	"sort":          true,
	"bytes":         true,
	"unicode":       true,
}

// Load interprets every .go file in dir and returns a pool offering the
// functions they export. A missing directory gives an empty pool.
func Load(dir string, timeout time.Duration) (*kernel.Pool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := kernel.NewPool("script", "script")
	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		fcns, run, err := Compile(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		for _, name := range fcns {
			p.Handle(name, handler(run, timeout))
		}
		logging.Kernel("script %s provides %s", filepath.Base(f), strings.Join(fcns, ", "))
	}
	return p, nil
}

// Compile evaluates one script and returns its function names and runner.
func Compile(src string) ([]string, RunFunc, error) {
	if err := checkImports(src); err != nil {
		return nil, nil, err
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if !strings.Contains(src, "package main") {
		src = "package main\n\n" + src
	}
	if _, err := i.Eval(src); err != nil {
		return nil, nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	v, err := i.Eval("main.Fcns")
	if err != nil {
		return nil, nil, fmt.Errorf("Fcns not found: %w", err)
	}
	fcnsFn, ok := v.Interface().(func() []string)
	if !ok {
		return nil, nil, fmt.Errorf("Fcns has incorrect signature (expected: func() []string)")
	}
	v, err = i.Eval("main.Run")
	if err != nil {
		return nil, nil, fmt.Errorf("Run not found: %w", err)
	}
	run, ok := v.Interface().(func(string, map[string]string, []float64, string) (string, bool))
	if !ok {
		return nil, nil, fmt.Errorf("Run has incorrect signature")
	}
	return fcnsFn(), run, nil
}

func handler(run RunFunc, timeout time.Duration) kernel.Func {
	return func(env *kernel.Env, c *kernel.Call) (kernel.Status, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		type result struct {
			text string
			ok   bool
		}
		done := make(chan result, 1)
		go func() {
			text, ok := run(c.Req.Fcn, c.Req.Args, c.Req.Nums, c.Req.Text)
			done <- result{text, ok}
		}()

		select {
		case r := <-done:
			if r.text != "" {
				env.Say(r.text)
			}
			if r.ok {
				return kernel.Success, nil
			}
			return kernel.Failure, nil
		case <-ctx.Done():
			logging.KernelWarn("script %s timed out after %s", c.Req.Fcn, timeout)
			return kernel.Failure, nil
		}
	}
}

// checkImports rejects scripts importing packages outside the allow list.
func checkImports(src string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}
	var forbidden []string
	for _, pkg := range imports {
		if !allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}
