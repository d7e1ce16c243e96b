package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skillgate/skillgate/pkg/journal"
	"github.com/skillgate/skillgate/pkg/presenter"
)

// HistoryConfig holds configuration for the history command
type HistoryConfig struct {
	Limit      int
	JSONOutput bool
}

// NewHistoryConfig creates a new HistoryConfig with default values
func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		Limit: 20,
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent invocations from the journal",
	Long:  `List the most recent journaled invocations, newest first, with their outcome and rejection reasons.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getHistoryConfigFromFlags(cmd)
		runHistoryCommand(ctx, config)
	},
}

func init() {
	defaults := NewHistoryConfig()
	historyCmd.Flags().Int("limit", defaults.Limit, "Maximum number of invocations to display")
	historyCmd.Flags().Bool("json", defaults.JSONOutput, "Output in JSON format")
}

// getHistoryConfigFromFlags extracts history configuration from command flags
func getHistoryConfigFromFlags(cmd *cobra.Command) *HistoryConfig {
	config := NewHistoryConfig()

	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

// HistoryOutput represents the output for the history command
type HistoryOutput struct {
	Records []journal.Record
	Format  OutputFormat
}

// Render formats and renders the invocation history to the specified writer
func (o *HistoryOutput) Render(w io.Writer) error {
	if o.Format == JSONFormat {
		return o.renderJSON(w)
	}
	return o.renderTable(w)
}

// renderJSON renders the output in JSON format
func (o *HistoryOutput) renderJSON(w io.Writer) error {
	type jsonOutput struct {
		Invocations []journal.Record `json:"invocations"`
	}

	jsonData, err := json.MarshalIndent(jsonOutput{Invocations: o.Records}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error generating JSON output")
	}

	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// renderTable renders the output in table format
func (o *HistoryOutput) renderTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Created\tInvocation\tDefinition\tKind\tAttempts\tTask")
	fmt.Fprintln(tw, "-------\t----------\t----------\t----\t--------\t----")

	for _, rec := range o.Records {
		task := rec.TaskText
		if len(task) > 60 {
			task = strings.TrimSpace(task[:57]) + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.CreatedAt.Local().Format(time.RFC3339),
			rec.InvocationID,
			rec.Definition,
			rec.Kind,
			rec.Attempts,
			task,
		)
	}

	return tw.Flush()
}

// runHistoryCommand displays recent journaled invocations
func runHistoryCommand(ctx context.Context, config *HistoryConfig) {
	path, err := journal.DefaultPath()
	if err != nil {
		presenter.Error(err, "failed to locate the journal")
		os.Exit(1)
	}

	j, err := journal.Open(ctx, path)
	if err != nil {
		presenter.Error(err, "failed to open the journal")
		os.Exit(1)
	}
	defer j.Close()

	records, err := j.Recent(ctx, config.Limit)
	if err != nil {
		presenter.Error(err, "failed to query the journal")
		os.Exit(1)
	}

	if len(records) == 0 {
		presenter.Info("no invocations recorded yet")
		return
	}

	format := TableFormat
	if config.JSONOutput {
		format = JSONFormat
	}

	output := &HistoryOutput{Records: records, Format: format}
	if err := output.Render(os.Stdout); err != nil {
		presenter.Error(err, "failed to render history")
		os.Exit(1)
	}
}
