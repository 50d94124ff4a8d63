package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmom/playbook/internal/fsm"
	"github.com/tmom/playbook/internal/store"
)

// StateRow is one persisted violation state, shaped for output.
type StateRow struct {
	RuleID          string    `json:"rule_id"`
	Subject         string    `json:"subject"`
	Phase           fsm.Phase `json:"phase"`
	EnteredAt       int64     `json:"entered_at"`
	Violations      int       `json:"violations"`
	CooldownUntil   int64     `json:"cooldown_until,omitempty"`
	EscalationLevel int       `json:"escalation_level,omitempty"`
	UpdatedSeq      int64     `json:"updated_seq"`
}

// NewStatesCommand creates the states command group.
func NewStatesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Inspect and reset persisted violation state",
	}

	cmd.AddCommand(newStatesListCommand(rootOpts))
	cmd.AddCommand(newStatesResetCommand(rootOpts))

	return cmd
}

func newStatesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every tracked (rule, subject) state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatesList(rootOpts, cmd)
		},
	}
}

func newStatesResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <rule-id> <subject>",
		Short: "Reset one (rule, subject) state to Normal",
		Long: `Delete the persisted violation state for one (rule, subject) pair.
The next cycle starts it from Normal. This is the only way out of
Escalated besides further escalation, so it is deliberately manual.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatesReset(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runStatesList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	records, err := st.ListStates(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "list states", err)
	}

	rows := make([]StateRow, len(records))
	for i, rec := range records {
		rows[i] = StateRow{
			RuleID:          rec.Key.RuleID,
			Subject:         rec.Key.Subject,
			Phase:           rec.State.Phase,
			EnteredAt:       rec.State.EnteredAt,
			Violations:      rec.State.Violations,
			CooldownUntil:   rec.State.CooldownUntil,
			EscalationLevel: rec.State.EscalationLevel,
			UpdatedSeq:      rec.UpdatedSeq,
		}
	}

	return formatter.SuccessText(renderStates(rows), rows)
}

func runStatesReset(opts *RootOptions, ruleID, subject string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	key := fsm.Key{RuleID: ruleID, Subject: subject}
	deleted, err := st.ResetState(cmd.Context(), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "reset state", err)
	}
	if !deleted {
		if err := formatter.Error("STATE_NOT_FOUND", fmt.Sprintf("no state for %s", key), nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, "no such state")
	}

	return formatter.SuccessText(
		fmt.Sprintf("state %s reset to normal", key),
		map[string]string{"rule_id": ruleID, "subject": subject, "phase": "normal"},
	)
}

func renderStates(rows []StateRow) string {
	if len(rows) == 0 {
		return "no tracked states"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-12s %-10s %-10s %-6s\n", "RULE", "SUBJECT", "PHASE", "LEVEL", "SEQ")
	for _, r := range rows {
		level := "-"
		if r.EscalationLevel > 0 {
			level = fmt.Sprintf("%d", r.EscalationLevel)
		}
		fmt.Fprintf(&b, "%-30s %-12s %-10s %-10s %-6d\n", r.RuleID, r.Subject, r.Phase, level, r.UpdatedSeq)
	}
	return strings.TrimRight(b.String(), "\n")
}
