package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alia/internal/body"
	"alia/internal/config"
	"alia/internal/core"
	"alia/internal/host"
	"alia/internal/kernel/basic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// serve runs a fresh core behind a test server until the test ends.
func serve(t *testing.T) (*httptest.Server, *host.Runner) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.KB.ScriptDir = ""
	cfg.Core.SenseHz = 200
	cfg.Core.ThinkHz = 400
	cfg.Robot.Vals["gesture_steps"] = 0
	cfg.Transport.GinMode = "test"
	c := core.New(cfg, core.WithKernels(basic.All()...))
	c.Body(body.Hardware{Neck: true, Arm: true, Fork: true, Base: true})
	require.NoError(t, c.Reset(t.TempDir(), "Test Robot", "transport-test"))

	reg := prometheus.NewRegistry()
	r := host.New(c, host.WithMetrics(host.NewMetrics(reg)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	ts := httptest.NewServer(NewServer(r, cfg, reg).Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, r.Close(false))
	})
	return ts, r
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return ws
}

// next reads frames until one of the given type arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) OutFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f OutFrame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestBodyConversation(t *testing.T) {
	ts, _ := serve(t)
	ws := dial(t, ts)
	defer ws.Close()

	hello := next(t, ws, TypeHello)
	assert.NotEmpty(t, hello.Session)

	require.NoError(t, ws.WriteJSON(InFrame{Type: TypeSay, Input: "The block is red."}))
	require.NoError(t, ws.WriteJSON(InFrame{
		Type:    TypeSense,
		Input:   "What color is the block?",
		Sensors: &body.Sensors{Battery: 0.9},
	}))
	said := next(t, ws, TypeSaid)
	assert.Equal(t, "red", said.Output)
	assert.Equal(t, core.CodeOK, said.Code)
	assert.Positive(t, said.Cycle)
}

func TestBodyCommands(t *testing.T) {
	ts, _ := serve(t)
	ws := dial(t, ts)
	defer ws.Close()
	next(t, ws, TypeHello)

	require.NoError(t, ws.WriteJSON(InFrame{Type: TypeSay, Input: "Move forward 6 inches."}))
	for {
		f := next(t, ws, TypeCommands)
		if b, ok := f.Commands["move"]; ok {
			assert.Equal(t, 6.0, b.Target.X)
			break
		}
	}
}

func TestBodyRejectsBadFrame(t *testing.T) {
	ts, _ := serve(t)
	ws := dial(t, ts)
	defer ws.Close()
	next(t, ws, TypeHello)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "dance"}))
	f := next(t, ws, TypeError)
	assert.Contains(t, f.Error, "oneof")

	// The connection survives a rejected frame.
	require.NoError(t, ws.WriteJSON(InFrame{Type: TypeSay, Input: "Dogs are animals."}))
	assert.Equal(t, "OK", next(t, ws, TypeSaid).Output)
}

func TestSecondBodyRefused(t *testing.T) {
	ts, _ := serve(t)
	ws := dial(t, ts)
	defer ws.Close()
	next(t, ws, TypeHello)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStatusAndMetrics(t *testing.T) {
	ts, r := serve(t)
	require.Eventually(t, func() bool { return r.Stats().Cycles > 0 }, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.True(t, st.Ready)
	assert.False(t, st.Body)
	assert.Positive(t, st.Stats.Cycles)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(text), "alia_cycles_total")
}

func TestSayEndpoint(t *testing.T) {
	ts, r := serve(t)

	resp, err := http.Post(ts.URL+"/say", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/say", "application/json", strings.NewReader(`{"text":"The block is red."}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/say", "application/json", strings.NewReader(`{"text":"What color is the block?"}`))
	require.NoError(t, err)
	resp.Body.Close()
	select {
	case line := <-r.Said():
		assert.Equal(t, "red", line)
	case <-time.After(5 * time.Second):
		t.Fatal("nothing said")
	}
}
