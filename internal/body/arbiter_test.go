package body

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestArbiterKeepsMostImportant(t *testing.T) {
	a := NewArbiter()
	assert.True(t, a.Offer(Move, Bid{Target: Vec3{X: 6}, Rate: 1, Importance: 10}))
	assert.True(t, a.Offer(Move, Bid{Target: Vec3{}, Rate: 0, Importance: 20}))
	assert.False(t, a.Offer(Move, Bid{Target: Vec3{X: 3}, Importance: 15}))

	got, ok := a.Winner(Move)
	assert.True(t, ok)
	assert.Equal(t, 20.0, got.Importance)
	assert.Equal(t, Vec3{}, got.Target)
}

func TestArbiterTieKeepsEarlier(t *testing.T) {
	a := NewArbiter()
	a.Offer(Pan, Bid{Target: Vec3{X: 1}, Importance: 5})
	assert.False(t, a.Offer(Pan, Bid{Target: Vec3{X: 2}, Importance: 5}))
	got, _ := a.Winner(Pan)
	assert.Equal(t, 1.0, got.Target.X)
}

func TestArbiterClear(t *testing.T) {
	a := NewArbiter()
	a.Offer(Lift, Bid{Importance: 1})
	a.Offer(Turn, Bid{Importance: 2})
	assert.Len(t, a.Commands(), 2)
	a.Clear()
	assert.Empty(t, a.Commands())
	_, ok := a.Winner(Lift)
	assert.False(t, ok)
	assert.False(t, a.Offer(Resource(99), Bid{Importance: 1}))
}

func TestPublish(t *testing.T) {
	a := NewArbiter()
	a.Offer(GripWidth, Bid{Target: Vec3{X: 0.5}, Rate: 2, Importance: 3})
	var x Exchange
	x.Publish(a)
	want := map[string]Bid{"grip_width": {Target: Vec3{X: 0.5}, Rate: 2, Importance: 3}}
	if diff := cmp.Diff(want, x.Named); diff != "" {
		t.Errorf("Named mismatch (-want +got):\n%s", diff)
	}
}

func TestHardwareAndNames(t *testing.T) {
	h := Hardware{Neck: true}
	assert.True(t, h.Has(Pan))
	assert.False(t, h.Has(Move))
	assert.False(t, h.Has(GripForce))
	for _, r := range Resources() {
		got, ok := ParseResource(r.String())
		assert.True(t, ok)
		assert.Equal(t, r, got)
	}
}
