package main

import (
	"fmt"
	"io"
	"strings"

	"guard_server/core/domain"
	"guard_server/core/port/in"
	"guard_server/internal/bootstrap"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type evaluateFlags struct {
	candidate domain.Candidate
	stdin     bool
	bypass    bool
}

func newEvaluateCommand(c *cli) *cobra.Command {
	f := &evaluateFlags{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Classify one candidate and print the result as JSON",
		Long: `Classify one candidate with the configured settings and print the
evaluation (action, verdict and decision record) as JSON.

The candidate is given with flags, or as a JSON object on stdin with --stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			candidate, err := f.resolve(cmd.InOrStdin())
			if err != nil {
				return err
			}

			deps, cleanup, err := bootstrap.NewDependencies(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result := deps.Service.Evaluate(cmd.Context(), candidate, in.EvaluateOptions{BypassHeuristics: f.bypass})
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&f.candidate.Text, "text", "", "Text to classify")
	cmd.Flags().StringVar(&f.candidate.AuthorName, "author-name", "", "Author display name")
	cmd.Flags().StringVar(&f.candidate.AuthorEmail, "author-email", "", "Author email")
	cmd.Flags().StringVar(&f.candidate.AuthorURL, "author-url", "", "Author website")
	cmd.Flags().StringVar(&f.candidate.ReferenceDocumentID, "document", "", "Reference document id for context")
	cmd.Flags().StringVar(&f.candidate.ID, "id", "", "Entity id recorded in the decision log")
	cmd.Flags().BoolVar(&f.stdin, "stdin", false, "Read the candidate as JSON from stdin")
	cmd.Flags().BoolVar(&f.bypass, "bypass-heuristics", false, "Skip local pre-filters")

	return cmd
}

func (f *evaluateFlags) resolve(r io.Reader) (*domain.Candidate, error) {
	if !f.stdin {
		if strings.TrimSpace(f.candidate.Text) == "" {
			return nil, fmt.Errorf("--text is required (or use --stdin)")
		}
		c := f.candidate
		return &c, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	var c domain.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing candidate: %w", err)
	}
	return &c, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
