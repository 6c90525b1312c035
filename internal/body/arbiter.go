package body

// Arbiter keeps, per resource, the most important bid of the current cycle.
// Ties keep the earlier bid; foci are stepped newest first, so the newest
// focus wins a tie.
type Arbiter struct {
	bids [numResources]*Bid
}

// NewArbiter returns an empty arbiter.
func NewArbiter() *Arbiter { return &Arbiter{} }

// Offer submits a bid and reports whether it is now the winner.
func (a *Arbiter) Offer(r Resource, b Bid) bool {
	if r < 0 || r >= numResources {
		return false
	}
	if cur := a.bids[r]; cur != nil && cur.Importance >= b.Importance {
		return false
	}
	a.bids[r] = &b
	return true
}

// Winner returns the retained bid for r.
func (a *Arbiter) Winner(r Resource) (Bid, bool) {
	if r < 0 || r >= numResources || a.bids[r] == nil {
		return Bid{}, false
	}
	return *a.bids[r], true
}

// Clear drops every bid. Called at the start of each cycle.
func (a *Arbiter) Clear() {
	for i := range a.bids {
		a.bids[i] = nil
	}
}

// Commands returns the winning bids.
func (a *Arbiter) Commands() map[Resource]Bid {
	out := make(map[Resource]Bid)
	for i, b := range a.bids {
		if b != nil {
			out[Resource(i)] = *b
		}
	}
	return out
}
