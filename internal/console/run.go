package console

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/multierr"

	"alia/internal/host"
)

// Run starts r and the chat, and returns when either ends. The runner is
// stopped before Run returns.
func Run(ctx context.Context, r *host.Runner, name, style string, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	var runErr error
	go func() {
		defer close(stopped)
		runErr = r.Run(ctx)
	}()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(New(r, stopped, name, style), opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	cancel()
	<-stopped
	return multierr.Append(err, runErr)
}
