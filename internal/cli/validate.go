package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tmom/playbook/internal/primitive"
	"github.com/tmom/playbook/internal/ruleset"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                      `json:"valid"`
	Playbook  string                    `json:"playbook,omitempty"`
	RuleCount int                       `json:"rule_count"`
	FileCount int                       `json:"file_count"`
	Errors    []ruleset.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <playbook-dir>",
		Short: "Validate a playbook without evaluating it",
		Long: `Validate CUE playbook rules without running a cycle.

Checks syntax, primitive kinds and parameters, condition references,
and stateful configuration. Faster than evaluate for development
feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	set, loadErrors := ruleset.Load(dir, ruleset.LoadModeCollectAll)
	if len(loadErrors) > 0 {
		for _, err := range loadErrors {
			var loadErr *ruleset.LoadError
			if errors.As(err, &loadErr) {
				formatter.Error(loadErr.Code, loadErr.Message, nil)
			} else {
				formatter.Error(ruleset.ErrCodeGeneric, err.Error(), nil)
			}
		}
		return NewExitError(ExitFailure, "playbook failed to load")
	}

	formatter.VerboseLog("loaded %d rules from %d files", len(set.Rules), set.FileCount)

	validationErrs := ruleset.Validate(set.Rules, primitive.Builtin(), false)
	result := ValidationResult{
		Valid:     len(validationErrs) == 0,
		Playbook:  set.Name,
		RuleCount: len(set.Rules),
		FileCount: set.FileCount,
		Errors:    validationErrs,
	}

	if !result.Valid {
		for _, verr := range validationErrs {
			formatter.VerboseLog("%s", verr.Error())
		}
		if err := formatter.Error(ruleset.ErrCodeInvalid, "playbook failed validation", validationErrs); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "playbook failed validation")
	}

	return formatter.SuccessText(
		renderValidation(result),
		result,
	)
}

func renderValidation(r ValidationResult) string {
	name := r.Playbook
	if name == "" {
		name = "(unnamed)"
	}
	return "playbook " + name + ": valid" +
		" (" + plural(r.RuleCount, "rule") + ", " + plural(r.FileCount, "file") + ")"
}
