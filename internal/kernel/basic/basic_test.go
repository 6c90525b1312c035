package basic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alia/internal/body"
	"alia/internal/kernel"
)

type rig struct {
	sensors body.Sensors
	hw      body.Hardware
	arb     *body.Arbiter
	said    []string
	quit    bool
	now     time.Time
	d       *kernel.Dispatch
}

func newRig(t *testing.T) *rig {
	r := &rig{
		hw:  body.Hardware{Neck: true, Arm: true, Fork: true, Base: true},
		arb: body.NewArbiter(),
		now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r.d = kernel.NewDispatch(All()...)
	require.NoError(t, r.d.Bind(&kernel.Env{
		Sensors:  func() body.Sensors { return r.sensors },
		Hardware: func() body.Hardware { return r.hw },
		Bid:      r.arb.Offer,
		Say:      func(s string) { r.said = append(r.said, s) },
		Quit:     func() { r.quit = true },
		Val:      func(_ string, def float64) float64 { return def },
		Now:      func() time.Time { return r.now },
	}))
	return r
}

func TestSpeech(t *testing.T) {
	r := newRig(t)
	h, err := r.d.Start(kernel.Request{Fcn: "say", Text: "no cup"})
	require.NoError(t, err)
	assert.Equal(t, kernel.Success, r.d.Status(h))
	_, err = r.d.Start(kernel.Request{Fcn: "say", Args: map[string]string{"obj": "red"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"no cup", "red"}, r.said)

	h, err = r.d.Start(kernel.Request{Fcn: "punt"})
	require.NoError(t, err)
	assert.Equal(t, kernel.Failure, r.d.Status(h))

	_, err = r.d.Start(kernel.Request{Fcn: "quit"})
	require.NoError(t, err)
	assert.True(t, r.quit)
}

func TestPause(t *testing.T) {
	r := newRig(t)
	h, err := r.d.Start(kernel.Request{Fcn: "pause", Nums: []float64{2}})
	require.NoError(t, err)
	r.now = r.now.Add(time.Second)
	assert.Equal(t, kernel.Running, r.d.Status(h))
	r.now = r.now.Add(time.Second)
	assert.Equal(t, kernel.Success, r.d.Status(h))
}

func TestBaseMoveBidsUntilThere(t *testing.T) {
	r := newRig(t)
	h, err := r.d.Start(kernel.Request{Fcn: "base_move", Args: map[string]string{"dir": "forward"}, Nums: []float64{6}, Bid: 10})
	require.NoError(t, err)
	b, ok := r.arb.Winner(body.Move)
	require.True(t, ok)
	assert.Equal(t, 6.0, b.Target.X)
	assert.Equal(t, 10.0, b.Importance)

	r.arb.Clear()
	r.sensors.Odometer = 4
	assert.Equal(t, kernel.Running, r.d.Status(h))
	b, _ = r.arb.Winner(body.Move)
	assert.Equal(t, 2.0, b.Target.X)

	r.arb.Clear()
	r.sensors.Odometer = 6
	assert.Equal(t, kernel.Success, r.d.Status(h))
	_, ok = r.arb.Winner(body.Move)
	assert.False(t, ok)
}

func TestStopOutbidsMove(t *testing.T) {
	r := newRig(t)
	_, err := r.d.Start(kernel.Request{Fcn: "stop", Bid: 20})
	require.NoError(t, err)
	_, err = r.d.Start(kernel.Request{Fcn: "base_move", Nums: []float64{6}, Bid: 10})
	require.NoError(t, err)
	b, _ := r.arb.Winner(body.Move)
	assert.Equal(t, 20.0, b.Importance)
	assert.Equal(t, 0.0, b.Target.X)
}

func TestHardwareAbsent(t *testing.T) {
	r := newRig(t)
	r.hw.Arm = false
	_, err := r.d.Start(kernel.Request{Fcn: "raise"})
	assert.ErrorIs(t, err, kernel.ErrHardwareAbsent)
	_, err = r.d.Start(kernel.Request{Fcn: "look", Args: map[string]string{"dir": "left"}})
	assert.NoError(t, err)
}

func TestGestureHeld(t *testing.T) {
	r := newRig(t)
	h, err := r.d.Start(kernel.Request{Fcn: "raise", Bid: 3})
	require.NoError(t, err)
	n := 1
	for r.d.Status(h) == kernel.Running {
		n++
		require.Less(t, n, 20)
	}
	assert.Equal(t, 5, n, "a gesture runs for its configured steps")
}

func TestVolunteerEdges(t *testing.T) {
	r := newRig(t)
	var got []kernel.Note
	sink := func(n kernel.Note) { got = append(got, n) }

	r.sensors.Battery = 0.1
	r.d.Volunteer(sink)
	r.d.Volunteer(sink)
	require.Len(t, got, 1, "low battery is reported once")
	assert.Equal(t, "tired", got[0].Lex)

	r.sensors.Bump = true
	r.d.Volunteer(sink)
	require.Len(t, got, 2)
	assert.Equal(t, kernel.Note{Subject: "self", Role: "agt", Lex: "bump", Blf: 1}, got[1])
}
