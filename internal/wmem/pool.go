package wmem

// Pool is the node arena. Handles are indexes into nodes; released slots
// are recycled through the free list.
type Pool struct {
	nodes []*Node
	free  []ID
	live  int
	cap   int
}

// NewPool creates an arena holding at most cap live nodes.
func NewPool(cap int) *Pool {
	return &Pool{
		nodes: make([]*Node, 1, 256), // slot 0 is None
		cap:   cap,
	}
}

// Live returns the number of allocated nodes.
func (p *Pool) Live() int { return p.live }

// Cap returns the maximum number of live nodes.
func (p *Pool) Cap() int { return p.cap }

// Get returns the node for id, or nil if id is not live.
func (p *Pool) Get(id ID) *Node {
	if id <= None || int(id) >= len(p.nodes) {
		return nil
	}
	n := p.nodes[id]
	if n == nil || n.Part == Free {
		return nil
	}
	return n
}

func (p *Pool) alloc(part Partition) (*Node, error) {
	if p.live >= p.cap {
		return nil, ErrExhausted
	}
	var id ID
	if k := len(p.free); k > 0 {
		id = p.free[k-1]
		p.free = p.free[:k-1]
	} else {
		id = ID(len(p.nodes))
		p.nodes = append(p.nodes, nil)
	}
	n := &Node{ID: id, Part: part, Blf: 1}
	p.nodes[id] = n
	p.live++
	return n, nil
}

// link adds src -(role)-> tgt and the matching inverse entry.
func (p *Pool) link(src *Node, role string, tgt *Node) {
	src.args = append(src.args, Arg{Role: role, Tgt: tgt.ID})
	tgt.refs = append(tgt.refs, Ref{Role: role, Src: src.ID})
}

// unlink removes one src -(role)-> tgt edge and its inverse.
func (p *Pool) unlink(src *Node, role string, tgt *Node) {
	for i, a := range src.args {
		if a.Role == role && a.Tgt == tgt.ID {
			src.args = append(src.args[:i], src.args[i+1:]...)
			break
		}
	}
	for i, r := range tgt.refs {
		if r.Role == role && r.Src == src.ID {
			tgt.refs = append(tgt.refs[:i], tgt.refs[i+1:]...)
			break
		}
	}
}

// release frees a node, dropping its edges in both directions.
func (p *Pool) release(id ID) {
	n := p.Get(id)
	if n == nil {
		return
	}
	for len(n.args) > 0 {
		a := n.args[0]
		if t := p.Get(a.Tgt); t != nil {
			p.unlink(n, a.Role, t)
		} else {
			n.args = n.args[1:]
		}
	}
	for len(n.refs) > 0 {
		r := n.refs[0]
		if s := p.Get(r.Src); s != nil {
			p.unlink(s, r.Role, n)
		} else {
			n.refs = n.refs[1:]
		}
	}
	n.Part = Free
	p.nodes[id] = nil
	p.free = append(p.free, id)
	p.live--
}

// Each visits every live node in handle order.
func (p *Pool) Each(fn func(n *Node)) {
	for _, n := range p.nodes {
		if n != nil && n.Part != Free {
			fn(n)
		}
	}
}
