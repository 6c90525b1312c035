// Package console is the interactive terminal chat with a running core.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"alia/internal/host"
	"alia/internal/introspect"
)

const helpText = `Type a sentence and press Enter.
/stats    core counters
/explain  what the robot currently believes
/clear    clear the transcript
/quit     leave (or say "Quit.")`

type role int

const (
	fromYou role = iota
	fromRobot
	fromNote
	fromError
	fromMarkdown
)

type entry struct {
	who  role
	text string
}

// Messages.
type (
	saidMsg    string
	stoppedMsg struct{}
)

// Model is the bubbletea model of the chat.
type Model struct {
	r       *host.Runner
	stopped <-chan struct{}
	name    string
	style   string

	input    textarea.Model
	view     viewport.Model
	renderer *glamour.TermRenderer
	st       styles

	history []entry
	width   int
	height  int
	ready   bool
	done    bool
}

// New builds a chat over r. stopped must close when r.Run returns.
// style is a glamour style name, "auto" to detect from the terminal.
func New(r *host.Runner, stopped <-chan struct{}, name, style string) Model {
	ta := textarea.New()
	ta.Placeholder = "Say something..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 1024
	ta.SetHeight(1)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	m := Model{
		r:       r,
		stopped: stopped,
		name:    name,
		style:   style,
		input:   ta,
		st:      newStyles(),
	}
	m.renderer = m.newRenderer(80)
	return m
}

func (m Model) newRenderer(wrap int) *glamour.TermRenderer {
	opt := glamour.WithAutoStyle()
	if m.style != "" && m.style != "auto" {
		opt = glamour.WithStylePath(m.style)
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(wrap))
	if err != nil {
		return nil
	}
	return r
}

// Init starts the speech listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.listen())
}

// listen waits for the next spoken line or for the runner to stop.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.r.Said():
			return saidMsg(s)
		case <-m.stopped:
			return stoppedMsg{}
		}
	}
}

// Update handles keys, speech and resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case saidMsg:
		m.add(fromRobot, string(msg))
		cmds = append(cmds, m.listen())

	case stoppedMsg:
		m.add(fromNote, fmt.Sprintf("%s has stopped.", m.name))
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}
	m.add(fromYou, text)
	m.r.Say(text)
	return m, nil
}

func (m Model) command(text string) (tea.Model, tea.Cmd) {
	switch strings.Fields(text)[0] {
	case "/quit", "/exit":
		m.done = true
		return m, tea.Quit
	case "/help":
		m.add(fromNote, helpText)
	case "/clear":
		m.history = nil
		m.refresh()
	case "/stats":
		st := m.r.Stats()
		m.add(fromNote, fmt.Sprintf(
			"cycles %d, steps %d, sentences %d (%d unparsed), rules %d, ops %d, foci %d, nodes %d+%d",
			st.Cycles, st.Steps, st.Sentences, st.ParseFails, st.Rules, st.Ops, st.Foci, st.Main, st.Halo))
	case "/explain":
		md, err := m.explain()
		if err != nil {
			m.add(fromError, err.Error())
		} else {
			m.add(fromMarkdown, md)
		}
	default:
		m.add(fromError, "unknown command "+text+" (try /help)")
	}
	return m, nil
}

func (m Model) explain() (string, error) {
	snap, err := m.r.Dump()
	if err != nil {
		return "", err
	}
	p, err := introspect.Compile()
	if err != nil {
		return "", err
	}
	return introspect.Report(p, snap)
}

func (m *Model) add(who role, text string) {
	m.history = append(m.history, entry{who: who, text: text})
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(m.render())
	m.view.GotoBottom()
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	vh := max(h-6, 1)
	vw := max(w-2, 1)
	if !m.ready {
		m.view = viewport.New(vw, vh)
		m.ready = true
	} else {
		m.view.Width, m.view.Height = vw, vh
	}
	m.input.SetWidth(max(w-4, 1))
	m.renderer = m.newRenderer(max(w-6, 20))
	m.refresh()
}

// render draws the transcript.
func (m Model) render() string {
	var sb strings.Builder
	width := max(m.width-4, 10)
	for _, e := range m.history {
		switch e.who {
		case fromYou:
			sb.WriteString(m.st.You.Render("You") + "\n")
			sb.WriteString(m.st.Text.Width(width).Render(e.text) + "\n")
		case fromRobot:
			sb.WriteString(m.st.Robot.Render(m.name) + "\n")
			sb.WriteString(m.st.Text.Width(width).Render(e.text) + "\n")
		case fromNote:
			sb.WriteString(m.st.Note.Render(e.text) + "\n")
		case fromError:
			sb.WriteString(m.st.Error.Render(e.text) + "\n")
		case fromMarkdown:
			sb.WriteString(m.markdown(e.text))
		}
	}
	return sb.String()
}

func (m Model) markdown(md string) (out string) {
	defer func() {
		if recover() != nil {
			out = md + "\n"
		}
	}()
	if m.renderer == nil {
		return md + "\n"
	}
	s, err := m.renderer.Render(md)
	if err != nil {
		return md + "\n"
	}
	return s
}

// View draws the whole screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	header := m.st.Header.Render(m.name)
	footer := m.st.Footer.Render(fmt.Sprintf("cycle %d  |  /help  |  esc to leave", m.r.Stats().Cycles))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.view.View(),
		m.st.Input.Render(m.input.View()),
		footer,
	)
}

// Transcript returns the plain transcript lines, "You: ..." and
// "<name>: ...".
func (m Model) Transcript() []string {
	var out []string
	for _, e := range m.history {
		switch e.who {
		case fromYou:
			out = append(out, "You: "+e.text)
		case fromRobot:
			out = append(out, m.name+": "+e.text)
		}
	}
	return out
}
