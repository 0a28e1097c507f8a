package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gents83/INOX-sub002/internal/config"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/scripted"
)

// ValidationIssue is one problem found in a configuration file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	File    string            `json:"file"`
	Valid   bool              `json:"valid"`
	Phases  int               `json:"phases"`
	Systems int               `json:"systems"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file",
		Long: `Validate a scheduler configuration without running it.

The file is checked against the configuration schema and cross-checked
(phase names, dependency references). Its systems are then registered on
a scratch scheduler, so registration errors surface as they would in run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	result := ValidationResult{File: path, Valid: true}

	cfg, err := config.Load(path)
	if err != nil {
		var le *config.LoadError
		if errors.As(err, &le) && le.Code == config.ErrCodeRead {
			_ = formatter.Error(le.Code, le.Message, nil)
			return WrapExitError(ExitCommandError, "failed to read config", err)
		}
		result.Valid = false
		result.Errors = append(result.Errors, issueFromError(err))
		return outputValidation(formatter, result)
	}
	result.Phases = len(cfg.Phases)
	result.Systems = len(cfg.Systems)
	formatter.VerboseLog("schema ok: %d phase(s), %d system(s)", result.Phases, result.Systems)

	sched, err := schedule.NewWithPhases(cfg.Phases, schedule.WithLogger(logging.Discard()))
	if err == nil {
		_, err = scripted.Register(sched, cfg.Systems, scripted.Options{})
	}
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, issueFromError(err))
	}
	return outputValidation(formatter, result)
}

func issueFromError(err error) ValidationIssue {
	var le *config.LoadError
	if errors.As(err, &le) {
		issue := ValidationIssue{Code: le.Code, Message: le.Message, Path: le.Path}
		if le.Pos.IsValid() {
			issue.Line = le.Pos.Line()
			issue.Column = le.Pos.Column()
		}
		return issue
	}
	var ce *schedule.ConfigError
	if errors.As(err, &ce) {
		return ValidationIssue{Code: string(ce.Code), Message: err.Error()}
	}
	return ValidationIssue{Code: "INVALID", Message: err.Error()}
}

func outputValidation(f *OutputFormatter, result ValidationResult) error {
	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: result.Errors[0].Code, Message: "configuration is invalid"}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		printValidation(f.Writer, result)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is invalid", result.File))
	}
	return nil
}

func printValidation(w io.Writer, result ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "✓ %s is valid (%d phases, %d systems)\n", result.File, result.Phases, result.Systems)
		return
	}
	fmt.Fprintf(w, "✗ %s is invalid\n", result.File)
	for _, issue := range result.Errors {
		switch {
		case issue.Line > 0:
			fmt.Fprintf(w, "  line %d:%d: [%s] %s\n", issue.Line, issue.Column, issue.Code, issue.Message)
		case issue.Path != "":
			fmt.Fprintf(w, "  %s: [%s] %s\n", issue.Path, issue.Code, issue.Message)
		default:
			fmt.Fprintf(w, "  [%s] %s\n", issue.Code, issue.Message)
		}
	}
}
