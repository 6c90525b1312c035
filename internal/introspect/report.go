package introspect

import (
	"fmt"
	"sort"
	"strings"

	"alia/internal/wmem"
)

// Report renders a dump as a markdown summary: what each known object is,
// its qualities, what was inferred about it, and the actions on record.
func Report(p *Program, snap wmem.Snapshot) (string, error) {
	v, err := p.Eval(snap)
	if err != nil {
		return "", err
	}
	type about struct {
		names, kinds, quals, not, inferred []string
	}
	objs := map[int64]*about{}
	get := func(id interface{}) *about {
		n, _ := id.(int64)
		a := objs[n]
		if a == nil {
			a = &about{}
			objs[n] = a
		}
		return a
	}
	collect := func(pred string, f func(r Row)) error {
		rows, err := v.Query(pred)
		if err != nil {
			return err
		}
		for _, r := range rows {
			f(r)
		}
		return nil
	}
	str := func(x interface{}) string { return fmt.Sprint(x) }

	steps := []struct {
		pred string
		f    func(r Row)
	}{
		{"known", func(r Row) { get(r.Args[0]) }},
		{"named", func(r Row) { a := get(r.Args[0]); a.names = append(a.names, str(r.Args[1])) }},
		{"is_a", func(r Row) { a := get(r.Args[0]); a.kinds = append(a.kinds, str(r.Args[1])) }},
		{"quality", func(r Row) { a := get(r.Args[0]); a.quals = append(a.quals, str(r.Args[1])) }},
		{"denied", func(r Row) { a := get(r.Args[0]); a.not = append(a.not, str(r.Args[2])) }},
		{"derived_about", func(r Row) {
			a := get(r.Args[0])
			a.inferred = append(a.inferred, strings.TrimPrefix(str(r.Args[1]), "/")+":"+str(r.Args[2]))
		}},
	}
	for _, s := range steps {
		if err := collect(s.pred, s.f); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Working memory\n\nVersion %d, %d main and %d halo nodes, belief threshold %.2f.\n\n",
		snap.Version, len(snap.Main), len(snap.Halo), snap.Bth)

	ids := make([]int64, 0, len(objs))
	for id := range objs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > 0 {
		sb.WriteString("## Objects\n\n| Node | Name | Is a | Qualities | Not | Inferred |\n|---|---|---|---|---|---|\n")
		for _, id := range ids {
			a := objs[id]
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s |\n", id,
				list(a.names), list(a.kinds), list(a.quals), list(a.not), list(a.inferred))
		}
		sb.WriteString("\n")
	}

	rows, err := v.Query("action")
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		sb.WriteString("## Actions\n\n")
		sort.Slice(rows, func(i, j int) bool { return rows[i].Atom < rows[j].Atom })
		for _, r := range rows {
			fmt.Fprintf(&sb, "- `%v` by node %v\n", r.Args[1], r.Args[2])
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func list(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	sort.Strings(xs)
	return strings.Join(xs, ", ")
}
