package console

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
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

func start(t *testing.T) (*host.Runner, <-chan struct{}) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.KB.ScriptDir = ""
	cfg.Core.SenseHz = 200
	cfg.Core.ThinkHz = 400
	cfg.Robot.Vals["gesture_steps"] = 0
	c := core.New(cfg, core.WithKernels(basic.All()...))
	c.Body(body.Hardware{Neck: true, Arm: true, Fork: true, Base: true})
	require.NoError(t, c.Reset(t.TempDir(), "Test Robot", "console-test"))

	r := host.New(c)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, r.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		assert.NoError(t, r.Close(false))
	})
	return r, stopped
}

func typeLine(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

// hear runs the speech listener once and feeds the result back.
func hear(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.listen()()
	next, _ := m.Update(msg)
	return next.(Model)
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func TestChat(t *testing.T) {
	r, stopped := start(t)
	m := sized(New(r, stopped, "Alia", "notty"))

	m = typeLine(t, m, "The block is red.")
	m = typeLine(t, m, "What color is the block?")
	m = hear(t, m)
	assert.Equal(t, []string{
		"You: The block is red.",
		"You: What color is the block?",
		"Alia: red",
	}, m.Transcript())
	assert.Contains(t, m.View(), "red")
	assert.Empty(t, m.input.Value())
}

func TestChatCommands(t *testing.T) {
	r, stopped := start(t)
	m := sized(New(r, stopped, "Alia", "notty"))

	m = typeLine(t, m, "   ")
	assert.Empty(t, m.history)

	m = typeLine(t, m, "/stats")
	require.Len(t, m.history, 1)
	assert.Contains(t, m.history[0].text, "cycles")

	m = typeLine(t, m, "Dogs are animals.")
	m = hear(t, m)
	m = typeLine(t, m, "/explain")
	last := m.history[len(m.history)-1]
	assert.Equal(t, fromMarkdown, last.who)
	assert.Contains(t, last.text, "# Working memory")

	m = typeLine(t, m, "/bogus")
	assert.Equal(t, fromError, m.history[len(m.history)-1].who)

	m = typeLine(t, m, "/clear")
	assert.Empty(t, m.history)

	m.input.SetValue("/quit")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, next.(Model).done)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestChatStopsWithRunner(t *testing.T) {
	r, stopped := start(t)
	m := sized(New(r, stopped, "Alia", "notty"))
	m = typeLine(t, m, "Quit.")
	for !m.done {
		m = hear(t, m)
	}
	assert.Contains(t, m.render(), "Alia has stopped.")
}
