package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alia/internal/console"
	"alia/internal/transport"
)

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run headless, one utterance per input line",
		Long: `Runs the core at its sense rate, reading utterances from standard input
one per line and printing what the robot says. Exits when the robot is
told to quit or on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeadless(cmd, o)
		},
	}
}

func newChatCmd(o *options) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the robot in an interactive terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, o, style)
		},
	}
	cmd.Flags().StringVar(&style, "style", "auto", "Markdown style for /explain (auto, dark, light, notty)")
	return cmd
}

func newServeCmd(o *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a remote body over a websocket",
		Long: `Runs the core and accepts one remote body on /ws. The body sends sensor
bundles and utterances as JSON frames and receives speech and actuator
commands. /status reports the core and /metrics exposes Prometheus
metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, o, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: config transport.listen)")
	return cmd
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runHeadless(cmd *cobra.Command, o *options) (err error) {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close(o.save)) }()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				s.runner.Say(line)
			}
		}
	}()

	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case line := <-s.runner.Said():
				fmt.Fprintln(out, line)
			case <-done:
				for {
					select {
					case line := <-s.runner.Said():
						fmt.Fprintln(out, line)
					default:
						return
					}
				}
			}
		}
	}()

	err = s.runner.Run(ctx)
	close(done)
	<-printed
	o.logger.Debug("runner stopped", zap.Int("code", s.runner.Code()), zap.Error(err))
	return err
}

func runChat(cmd *cobra.Command, o *options, style string) (err error) {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close(o.save)) }()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	name := s.cfg.KB.Robot
	if name == "" {
		name = s.cfg.Name
	}
	return console.Run(ctx, s.runner, name, style)
}

func runServe(cmd *cobra.Command, o *options, listen string) (err error) {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close(o.save)) }()
	if listen != "" {
		s.cfg.Transport.Listen = listen
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	srv := transport.NewServer(s.runner, s.cfg, s.gatherer())

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error {
		// The server goes down with the core.
		defer stop()
		return s.runner.Run(runCtx)
	})
	g.Go(func() error { return srv.ListenAndServe(runCtx) })
	fmt.Fprintf(cmd.OutOrStdout(), "serving on %s\n", s.cfg.Transport.Listen)
	return g.Wait()
}
