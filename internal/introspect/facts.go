package introspect

import (
	"fmt"
	"strings"

	"github.com/google/mangle/ast"

	"alia/internal/wmem"
)

// Facts converts a dump to EDB atoms. Belief is given in percent.
func Facts(snap wmem.Snapshot) ([]ast.Atom, error) {
	var out []ast.Atom
	add := func(views []wmem.NodeView, part ast.Constant) error {
		for _, n := range views {
			kind, err := name(n.Kind)
			if err != nil {
				return err
			}
			id := ast.Number(int64(n.ID))
			out = append(out, ast.NewAtom("node", id, kind, ast.String(n.Lex), ast.Number(int64(n.Blf*100+0.5)), part))
			if n.Neg {
				out = append(out, ast.NewAtom("neg", id))
			}
			if n.Done {
				out = append(out, ast.NewAtom("done", id))
			}
			for _, a := range n.Args {
				role, err := name(a.Role)
				if err != nil {
					return err
				}
				out = append(out, ast.NewAtom("arg", id, role, ast.Number(int64(a.Tgt))))
			}
		}
		return nil
	}
	mainPart, _ := ast.Name("/main")
	haloPart, _ := ast.Name("/halo")
	if err := add(snap.Main, mainPart); err != nil {
		return nil, err
	}
	if err := add(snap.Halo, haloPart); err != nil {
		return nil, err
	}
	return out, nil
}

// name makes a Mangle name constant from a kind or role word.
func name(word string) (ast.Constant, error) {
	var sb strings.Builder
	sb.WriteByte('/')
	for _, r := range strings.ToLower(word) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 1 {
		return ast.Constant{}, fmt.Errorf("empty name")
	}
	return ast.Name(sb.String())
}
