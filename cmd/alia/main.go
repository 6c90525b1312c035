package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"alia/internal/body"
	"alia/internal/config"
	"alia/internal/core"
	"alia/internal/host"
	"alia/internal/kernel/basic"
	"alia/internal/logging"
	"alia/internal/store"
)

// version is set at link time.
var version = "dev"

// options are the persistent flags.
type options struct {
	dir      string
	config   string
	robot    string
	label    string
	hardware []string
	verbose  bool
	save     bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "alia",
		Short: "alia - a conversational robot core",
		Long: `alia runs the reasoning core of a conversational robot: it interprets
what it hears, keeps a semantic-network working memory, learns rules and
operators from instruction, and schedules actuator commands for its body.

Run without arguments to start the interactive chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zc := zap.NewProductionConfig()
			zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if o.verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			o.logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.logger != nil {
				_ = o.logger.Sync()
			}
			logging.CloseAudit()
			logging.CloseAll()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, o, "auto")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.dir, "dir", "d", "", "Robot directory holding the knowledge base (default: config kb.dir or $ALIA_DIR)")
	pf.StringVarP(&o.config, "config", "c", "", "Config file (default: <dir>/config/alia.yaml)")
	pf.StringVar(&o.robot, "robot", "", "Full robot name; the last word selects config/<last>_vals.yaml")
	pf.StringVar(&o.label, "label", "", "Program label shown in logs")
	pf.StringSliceVar(&o.hardware, "hardware", []string{"neck", "arm", "fork", "base"}, "Subsystems present (neck, arm, fork, base)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging and the audit log")
	pf.BoolVar(&o.save, "save", true, "Save learned knowledge when the session ends")

	root.AddCommand(
		newRunCmd(o),
		newChatCmd(o),
		newServeCmd(o),
		newQueryCmd(o),
		newExplainCmd(o),
		newSessionsCmd(o),
		newTranscriptCmd(o),
		newVersionCmd(o),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// loadConfig reads the config file and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	path := o.config
	if path == "" {
		dir := o.dir
		if dir == "" {
			dir = os.Getenv("ALIA_DIR")
		}
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, "config", "alia.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.dir != "" {
		cfg.KB.Dir = o.dir
	}
	if o.robot != "" {
		cfg.KB.Robot = o.robot
	}
	if o.label != "" {
		cfg.KB.Label = o.label
	}
	if o.verbose {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.KB.Dir, cfg.Logging.Settings()); err != nil {
		return nil, err
	}
	if err := logging.InitAudit(); err != nil {
		o.logger.Warn("audit log unavailable", zap.Error(err))
	}
	return cfg, nil
}

func parseHardware(names []string) (body.Hardware, error) {
	var hw body.Hardware
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "neck":
			hw.Neck = true
		case "arm":
			hw.Arm = true
		case "fork":
			hw.Fork = true
		case "base":
			hw.Base = true
		case "", "none":
		default:
			return hw, fmt.Errorf("unknown subsystem %q", n)
		}
	}
	return hw, nil
}

// session is a reset core wrapped in a runner, plus what it opened.
type session struct {
	cfg     *config.Config
	runner  *host.Runner
	reg     *prometheus.Registry
	journal *store.Journal
	learned *store.LearnedStore
}

// gatherer returns the metrics registry, nil without metrics.
func (s *session) gatherer() prometheus.Gatherer {
	if s.reg == nil {
		return nil
	}
	return s.reg
}

// open builds and resets a core. A reset failure is returned as is, so
// the process exits non-zero.
func (o *options) open() (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	hw, err := parseHardware(o.hardware)
	if err != nil {
		return nil, err
	}
	c := core.New(cfg, core.WithKernels(basic.All()...))
	c.Body(hw)
	if err := c.Reset(cfg.KB.Dir, cfg.KB.Robot, cfg.KB.Label); err != nil {
		return nil, err
	}
	o.logger.Debug("core ready", zap.String("dir", cfg.KB.Dir), zap.Any("stats", c.Stats()))

	s := &session{cfg: cfg}
	var opts []host.Option
	if cfg.Host.Metrics {
		s.reg = prometheus.NewRegistry()
		opts = append(opts, host.WithMetrics(host.NewMetrics(s.reg)))
	}
	if cfg.Store.Enabled {
		if s.journal, err = store.NewJournal(cfg.Resolve(cfg.Store.JournalPath)); err != nil {
			return nil, err
		}
		if s.learned, err = store.NewLearnedStore(cfg.Resolve(cfg.Store.LearnedPath)); err != nil {
			s.journal.Close()
			return nil, err
		}
		opts = append(opts, host.WithJournal(s.journal), host.WithLearned(s.learned))
	}
	s.runner = host.New(c, opts...)
	return s, nil
}

// close ends the core session and the stores.
func (s *session) close(save bool) error {
	err := s.runner.Close(save)
	if s.learned != nil {
		err = multierr.Append(err, s.learned.Close())
	}
	if s.journal != nil {
		err = multierr.Append(err, s.journal.Close())
	}
	return err
}
