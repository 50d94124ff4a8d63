package cli

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmom/playbook/internal/engine"
	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/ruleset"
	"github.com/tmom/playbook/internal/snapshot"
	"github.com/tmom/playbook/internal/store"
)

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject  string
		noSafety bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <playbook-dir> <snapshot.yaml>",
		Short: "Evaluate a playbook against one snapshot",
		Long: `Run one evaluation cycle: every rule in the playbook (plus the
built-in account safety rules) against the given snapshot.

Violation state is read from and written to the database, and the
cycle is appended to the audit trail. Exit code 1 means the aggregate
action was BLOCK.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(rootOpts, args[0], args[1], subject, noSafety, cmd)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "entity the stateful rules track (defaults to the snapshot's subject)")
	cmd.Flags().BoolVar(&noSafety, "no-safety", false, "skip the built-in account safety rules")

	return cmd
}

func runEvaluate(opts *RootOptions, dir, snapPath, subject string, noSafety bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, snap, fileSubject, err := loadCycleInputs(formatter, dir, snapPath, noSafety)
	if err != nil {
		return err
	}
	if subject == "" {
		subject = fileSubject
	}
	if subject == "" {
		subject = "default"
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	lastSeq, err := st.LastSeq(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "read audit trail", err)
	}

	eng := engine.New(primitive.Builtin(), st,
		engine.WithClock(engine.NewClockAt(lastSeq)),
		engine.WithAuditor(st),
		engine.WithLogger(cycleLogger(opts)),
	)

	agg, err := eng.EvaluateCycle(cmd.Context(), snap, defs, subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "evaluate cycle", err)
	}

	if err := formatter.SuccessText(renderAggregate(agg, opts.Verbose), agg); err != nil {
		return err
	}
	if agg.Action == rule.Block {
		return NewExitError(ExitFailure, "aggregate action is BLOCK")
	}
	return nil
}

// loadCycleInputs loads and validates the playbook, prepends the
// safety rules, and builds the snapshot. Shared by evaluate and trace.
func loadCycleInputs(formatter *OutputFormatter, dir, snapPath string, noSafety bool) ([]rule.Definition, *snapshot.Snapshot, string, error) {
	set, loadErrors := ruleset.Load(dir, ruleset.LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *ruleset.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			formatter.Error(loadErr.Code, loadErr.Message, nil)
		} else {
			formatter.Error(ruleset.ErrCodeGeneric, loadErrors[0].Error(), nil)
		}
		return nil, nil, "", NewExitError(ExitFailure, "playbook failed to load")
	}

	if verrs := ruleset.Validate(set.Rules, primitive.Builtin(), false); len(verrs) > 0 {
		formatter.Error(ruleset.ErrCodeInvalid, "playbook failed validation", verrs)
		return nil, nil, "", NewExitError(ExitFailure, "playbook failed validation")
	}

	defs := set.Rules
	if !noSafety {
		defs = append(ruleset.SafetyRules(), defs...)
	}

	snap, fileSubject, err := LoadSnapshot(snapPath)
	if err != nil {
		return nil, nil, "", WrapExitError(ExitCommandError, "load snapshot", err)
	}

	formatter.VerboseLog("playbook %q: %d rules, snapshot seq %d", set.Name, len(defs), snap.Seq())
	return defs, snap, fileSubject, nil
}

// cycleLogger builds the engine's logger: text to stderr, quiet unless
// verbose.
func cycleLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
