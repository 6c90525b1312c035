package wmem

// Graphlet is an ordered list of node handles with one designated main node.
// It serves as rule condition or result, directive key, operator situation,
// and assertion fragment.
type Graphlet struct {
	items []ID
	main  ID
}

// NewGraphlet returns an empty graphlet.
func NewGraphlet() *Graphlet { return &Graphlet{} }

// Add appends id if not already present. The first node added becomes main.
func (g *Graphlet) Add(id ID) {
	if id == None || g.Has(id) {
		return
	}
	g.items = append(g.items, id)
	if g.main == None {
		g.main = id
	}
}

// SetMain designates the main node, adding it if needed.
func (g *Graphlet) SetMain(id ID) {
	g.Add(id)
	g.main = id
}

// Main returns the main node.
func (g *Graphlet) Main() ID {
	if g == nil {
		return None
	}
	return g.main
}

// Items returns the nodes in insertion order. The slice must not be modified.
func (g *Graphlet) Items() []ID {
	if g == nil {
		return nil
	}
	return g.items
}

// Len returns the number of items.
func (g *Graphlet) Len() int {
	if g == nil {
		return 0
	}
	return len(g.items)
}

// Has reports whether id is an item.
func (g *Graphlet) Has(id ID) bool {
	if g == nil {
		return false
	}
	for _, x := range g.items {
		if x == id {
			return true
		}
	}
	return false
}

// Index returns the position of id or -1.
func (g *Graphlet) Index(id ID) int {
	for i, x := range g.items {
		if x == id {
			return i
		}
	}
	return -1
}

// Empty reports whether the graphlet has no items.
func (g *Graphlet) Empty() bool { return g.Len() == 0 }
