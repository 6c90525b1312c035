package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alia/internal/introspect"
	"alia/internal/store"
	"alia/internal/wmem"
)

func newQueryCmd(o *options) *cobra.Command {
	var (
		sessionID string
		ruleFiles []string
		list      bool
	)
	cmd := &cobra.Command{
		Use:   "query [predicate or pattern]",
		Short: "Query the latest working-memory dump with Datalog",
		Long: `Loads the latest working-memory dump from the journal as facts, derives
the standard views and prints the matching facts.

Examples:
  alia query is_a
  alia query 'quality(X, "red")'
  alia query --rules extra.mg pet
  alia query --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []string
			for _, f := range ruleFiles {
				src, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				extra = append(extra, string(src))
			}
			p, err := introspect.Compile(extra...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list {
				for _, pred := range p.Predicates() {
					fmt.Fprintln(out, pred)
				}
				return nil
			}
			if len(args) == 0 {
				return errors.New("a predicate or pattern is required (or --list)")
			}
			snap, err := o.latestDump(sessionID)
			if err != nil {
				return err
			}
			v, err := p.Eval(snap)
			if err != nil {
				return err
			}
			o.logger.Debug("evaluated dump", zap.Int("facts", v.Facts))
			rows, err := v.Query(args[0])
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No facts found.")
				return nil
			}
			for _, r := range rows {
				fmt.Fprintln(out, r.Atom)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Journal session (default: latest dump of any session)")
	cmd.Flags().StringSliceVar(&ruleFiles, "rules", nil, "Extra Mangle source files (rules or facts, e.g. an audit log)")
	cmd.Flags().BoolVar(&list, "list", false, "List the queryable predicates")
	return cmd
}

func newExplainCmd(o *options) *cobra.Command {
	var (
		sessionID string
		style     string
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Describe what the robot believed at its latest dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := o.latestDump(sessionID)
			if err != nil {
				return err
			}
			p, err := introspect.Compile()
			if err != nil {
				return err
			}
			md, err := introspect.Report(p, snap)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprint(out, md)
				return nil
			}
			opt := glamour.WithAutoStyle()
			if style != "auto" {
				opt = glamour.WithStylePath(style)
			}
			r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(100))
			if err != nil {
				return err
			}
			rendered, err := r.Render(md)
			if err != nil {
				return err
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Journal session (default: latest dump of any session)")
	cmd.Flags().StringVar(&style, "style", "auto", "Markdown style (auto, dark, light, notty)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without rendering")
	return cmd
}

func newSessionsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := o.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()
			ss, err := j.Sessions()
			if err != nil {
				return err
			}
			if len(ss) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("SESSION", "ROBOT", "LABEL", "STARTED", "ENDED")
			for _, s := range ss {
				ended := "running"
				if s.Ended.Valid {
					ended = s.Ended.Time.Local().Format(time.DateTime)
				}
				t.Row(s.ID, s.Robot, s.Label, s.Started.Local().Format(time.DateTime), ended)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func newTranscriptCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript [session]",
		Short: "Print what was heard and said in a session (default: latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := o.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()
			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				ss, err := j.Sessions()
				if err != nil {
					return err
				}
				if len(ss) == 0 {
					return errors.New("no sessions")
				}
				id = ss[0].ID
			}
			lines, err := j.Transcript(id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range lines {
				who := "robot"
				if u.Dir == store.Heard {
					who = "user "
				}
				fmt.Fprintf(out, "%6d %s %s\n", u.Cycle, who, u.Text)
			}
			return nil
		},
	}
}

func newVersionCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "alia %s\n", version)
			return nil
		},
	}
}

// openJournal opens the configured journal, which must already exist.
func (o *options) openJournal() (*store.Journal, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Resolve(cfg.Store.JournalPath)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no journal at %s (enable store in the config and run the robot first)", path)
	}
	return store.NewJournal(path)
}

func (o *options) latestDump(sessionID string) (wmem.Snapshot, error) {
	j, err := o.openJournal()
	if err != nil {
		return wmem.Snapshot{}, err
	}
	defer j.Close()
	snap, err := j.LatestDump(strings.TrimSpace(sessionID))
	if err != nil {
		return wmem.Snapshot{}, err
	}
	return snap, nil
}
