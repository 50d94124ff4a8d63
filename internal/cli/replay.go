package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmom/playbook/internal/engine"
	"github.com/tmom/playbook/internal/store"
)

// ReplayResult holds the outcome of an audit trail verification.
type ReplayResult struct {
	Cycles      int                 `json:"cycles"`
	LastSeq     int64               `json:"last_seq"`
	Clean       bool                `json:"clean"`
	Divergences []engine.Divergence `json:"divergences,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify the audit trail",
		Long: `Re-verify every recorded cycle in the database: each stored outcome
is re-canonicalized and re-hashed, and the result compared against the
hash written at record time. Exit code 1 means at least one cycle
diverged.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
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

	report, err := engine.Replay(cmd.Context(), st)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay audit trail", err)
	}

	result := ReplayResult{
		Cycles:      report.Cycles,
		LastSeq:     report.LastSeq,
		Clean:       report.Clean(),
		Divergences: report.Divergences,
	}

	if !result.Clean {
		var lines []string
		for _, d := range report.Divergences {
			lines = append(lines, "  "+d.String())
		}
		formatter.VerboseLog("%s", strings.Join(lines, "\n"))
		if err := formatter.Error("REPLAY_DIVERGED",
			fmt.Sprintf("%d of %d cycles diverged", len(report.Divergences), report.Cycles),
			report.Divergences); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "audit trail diverged")
	}

	return formatter.SuccessText(
		fmt.Sprintf("audit trail clean: %s verified (last seq %d)", plural(report.Cycles, "cycle"), report.LastSeq),
		result,
	)
}
