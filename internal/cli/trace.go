package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmom/playbook/internal/engine"
	"github.com/tmom/playbook/internal/outcome"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/store"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "trace <playbook-dir> <snapshot.yaml>",
		Short: "Evaluate without persisting, showing every sub-result",
		Long: `Run one evaluation cycle against an in-memory copy of the state
database and print every primitive sub-result. Nothing is persisted:
trace answers "what would this snapshot do" without advancing any
cooldowns or the audit trail.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], args[1], subject, cmd)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "entity the stateful rules track (defaults to the snapshot's subject)")

	return cmd
}

func runTrace(opts *RootOptions, dir, snapPath, subject string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, snap, fileSubject, err := loadCycleInputs(formatter, dir, snapPath, false)
	if err != nil {
		return err
	}
	if subject == "" {
		subject = fileSubject
	}
	if subject == "" {
		subject = "default"
	}

	// In-memory database: prior state starts Normal and nothing the
	// trace does survives it.
	st, err := store.Open(":memory:")
	if err != nil {
		return WrapExitError(ExitCommandError, "open in-memory database", err)
	}
	defer st.Close()

	eng := engine.New(primitive.Builtin(), st,
		engine.WithTokenGenerator(engine.NewFixedGenerator("trace")),
		engine.WithLogger(cycleLogger(opts)),
	)

	agg, err := eng.EvaluateCycle(cmd.Context(), snap, defs, subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "evaluate cycle", err)
	}

	return formatter.SuccessText(renderTrace(agg), agg)
}

// renderTrace renders the full evaluation tree: each rule, its status,
// and every primitive sub-result with its numeric value when present.
func renderTrace(agg *outcome.AggregateOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", renderAggregate(agg, false))
	for _, ro := range agg.Rules {
		fmt.Fprintf(&b, "\n%s [%s, priority %d] %s -> %s\n", ro.RuleID, ro.Category, ro.Priority, ro.Action, ro.Status)
		for _, res := range ro.Results {
			fmt.Fprintf(&b, "  %-20s %-20s %v", res.Ref, res.Kind, res.Bool)
			if res.Numeric {
				fmt.Fprintf(&b, "  value=%g %s", res.Value, res.Unit)
			}
			b.WriteByte('\n')
		}
		if ro.Transition != nil {
			fmt.Fprintf(&b, "  state: %s -> %s", ro.Transition.From, ro.Transition.To)
			if ro.Transition.Level > 0 {
				fmt.Fprintf(&b, " (level %d)", ro.Transition.Level)
			}
			b.WriteByte('\n')
		}
		if ro.Err != "" {
			fmt.Fprintf(&b, "  error: %s\n", ro.Err)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
