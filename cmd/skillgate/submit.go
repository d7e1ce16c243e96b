package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skillgate/skillgate/pkg/assembler"
	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/engine"
	"github.com/skillgate/skillgate/pkg/gate"
	"github.com/skillgate/skillgate/pkg/generator"
	"github.com/skillgate/skillgate/pkg/journal"
	"github.com/skillgate/skillgate/pkg/matcher"
	"github.com/skillgate/skillgate/pkg/presenter"
	"github.com/skillgate/skillgate/pkg/resume"
)

// SubmitConfig holds configuration for the submit command
type SubmitConfig struct {
	Corpus      string
	Attach      []string
	Timeout     time.Duration
	MaxAttempts int
	NoJournal   bool
	Resume      bool
	DryRun      bool
	JSONOutput  bool
}

// NewSubmitConfig creates a new SubmitConfig with default values
func NewSubmitConfig() *SubmitConfig {
	defaults := engine.DefaultConfig()
	return &SubmitConfig{
		Timeout:     defaults.GeneratorTimeout,
		MaxAttempts: defaults.MaxAttempts,
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit [task]",
	Short: "Submit a task for resolution against the corpus",
	Long: `Submit a task for resolution. The task is matched against the corpus,
gated on the inputs the selected definition requires, and the generated
response is validated against the definition's output contract.

Attachments supply the definition's declared inputs:

  skillgate submit "draft a commit message" --attach diff=@changes.patch

When required inputs are missing the invocation is parked; supply them and
rerun with --resume to continue it. --dry-run assembles and prints the
instruction without calling a provider.`,
	Args: cobra.MinimumNArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getSubmitConfigFromFlags(cmd)
		runSubmitCommand(ctx, config, args)
	},
}

func init() {
	defaults := NewSubmitConfig()
	submitCmd.Flags().StringArray("attach", nil, "Attachment as name=value or name=@file (repeatable)")
	submitCmd.Flags().Duration("timeout", defaults.Timeout, "Per-attempt generator timeout")
	submitCmd.Flags().Int("max-attempts", defaults.MaxAttempts, "Total generate attempts per invocation")
	submitCmd.Flags().Bool("no-journal", false, "Disable invocation journaling")
	submitCmd.Flags().Bool("resume", false, "Continue the pending invocation with newly supplied attachments")
	submitCmd.Flags().Bool("dry-run", false, "Assemble and print the instruction without calling a provider")
	submitCmd.Flags().Bool("json", false, "Output the result in JSON format")
}

// getSubmitConfigFromFlags extracts submit configuration from command flags
func getSubmitConfigFromFlags(cmd *cobra.Command) *SubmitConfig {
	config := NewSubmitConfig()

	config.Corpus = viper.GetString("corpus")
	if attach, err := cmd.Flags().GetStringArray("attach"); err == nil {
		config.Attach = attach
	}
	if timeout, err := cmd.Flags().GetDuration("timeout"); err == nil {
		config.Timeout = timeout
	}
	if maxAttempts, err := cmd.Flags().GetInt("max-attempts"); err == nil {
		config.MaxAttempts = maxAttempts
	}
	if noJournal, err := cmd.Flags().GetBool("no-journal"); err == nil {
		config.NoJournal = noJournal
	}
	if resumePending, err := cmd.Flags().GetBool("resume"); err == nil {
		config.Resume = resumePending
	}
	if dryRun, err := cmd.Flags().GetBool("dry-run"); err == nil {
		config.DryRun = dryRun
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

// parseAttachments turns --attach specs into attachments. An @-prefixed
// value reads the named file.
func parseAttachments(specs []string) ([]definition.Attachment, error) {
	atts := make([]definition.Attachment, 0, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, errors.Errorf("attachment %q must be name=value or name=@file", spec)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.Errorf("attachment %q has an empty name", spec)
		}

		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "reading attachment %q", name)
			}
			atts = append(atts, definition.Attachment{Name: name, Kind: "file", Content: string(data)})
			continue
		}
		atts = append(atts, definition.Attachment{Name: name, Content: value})
	}
	return atts, nil
}

// readTaskText combines command arguments with piped stdin.
func readTaskText(args []string) (string, error) {
	taskText := strings.Join(args, " ")

	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		stdinBytes, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", errors.Wrap(err, "reading task from stdin")
		}
		if content := strings.TrimSpace(string(stdinBytes)); content != "" {
			if taskText != "" {
				taskText = taskText + "\n" + content
			} else {
				taskText = content
			}
		}
	}

	return taskText, nil
}

func runSubmitCommand(ctx context.Context, config *SubmitConfig, args []string) {
	taskText, err := readTaskText(args)
	if err != nil {
		presenter.Error(err, "failed to read the task")
		os.Exit(1)
	}

	atts, err := parseAttachments(config.Attach)
	if err != nil {
		presenter.Error(err, "invalid attachment")
		os.Exit(1)
	}

	pendingStore, err := resume.NewStore()
	if err != nil {
		presenter.Error(err, "failed to open the pending-invocation store")
		os.Exit(1)
	}

	if config.Resume {
		pending, err := pendingStore.Load()
		if err != nil {
			presenter.Error(err, "failed to load the pending invocation")
			os.Exit(1)
		}
		if pending == nil {
			presenter.Error(errors.New("nothing is pending"), "no invocation is waiting for input; submit a task first")
			os.Exit(1)
		}
		if taskText == "" {
			taskText = pending.TaskText
		}
		atts = pending.Merge(atts)
		presenter.Info(fmt.Sprintf("Resuming invocation %s", pending.InvocationID))
	}

	if strings.TrimSpace(taskText) == "" {
		presenter.Error(errors.New("no task provided"), "pass the task as arguments, pipe it on stdin, or use --resume")
		os.Exit(1)
	}

	store, _, err := loadCorpus(ctx, config.Corpus)
	if err != nil {
		exitCorpusError(err)
	}

	req := engine.Request{TaskText: taskText, Attachments: atts}

	if config.DryRun {
		runDryRun(store, req)
		return
	}

	gen, err := generator.New(ctx, generator.Config{
		Provider:  viper.GetString("provider"),
		Model:     viper.GetString("model"),
		MaxTokens: viper.GetInt("max_tokens"),
	})
	if err != nil {
		presenter.Error(err, "failed to create the generator")
		os.Exit(1)
	}

	engCfg := engine.DefaultConfig()
	engCfg.GeneratorTimeout = config.Timeout
	engCfg.MaxAttempts = config.MaxAttempts
	if maxTokens := viper.GetInt("max_tokens"); maxTokens > 0 {
		engCfg.MaxTokens = maxTokens
	}
	if err := engCfg.Validate(); err != nil {
		presenter.Error(err, "invalid engine configuration")
		os.Exit(1)
	}

	opts := []engine.Option{engine.WithConfig(engCfg)}
	if !config.NoJournal {
		if j := openJournal(ctx); j != nil {
			defer j.Close()
			opts = append(opts, engine.WithJournal(j))
		}
	}

	eng := engine.New(store, gen, opts...)
	result, err := eng.Submit(ctx, req)
	if err != nil {
		presenter.Error(err, "submit aborted")
		os.Exit(1)
	}

	renderSubmitResult(result, config, pendingStore, req)
}

// openJournal opens the default journal, downgrading failures to a warning:
// recording history must never block an invocation.
func openJournal(ctx context.Context) *journal.Journal {
	path, err := journal.DefaultPath()
	if err == nil {
		var j *journal.Journal
		j, err = journal.Open(ctx, path)
		if err == nil {
			return j
		}
	}
	presenter.Warning(fmt.Sprintf("journal disabled: %v", err))
	return nil
}

func renderSubmitResult(result *engine.Result, config *SubmitConfig, pendingStore *resume.Store, req engine.Request) {
	if config.JSONOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			presenter.Error(err, "failed to render the result")
			os.Exit(1)
		}
		fmt.Println(string(data))
	}

	switch result.Kind {
	case engine.KindSuccess:
		clearPending(pendingStore)
		if !config.JSONOutput {
			fmt.Println(result.Response)
			presenter.Success(fmt.Sprintf("Invocation %s resolved via %q in %d attempt(s)",
				result.Invocation.ID, result.Invocation.Definition, result.Invocation.Attempts))
		}

	case engine.KindNeedsInput:
		savePending(pendingStore, result, req)
		if !config.JSONOutput {
			presenter.Warning(fmt.Sprintf("Definition %q needs more input:", result.Invocation.Definition))
			for _, missing := range result.Missing {
				presenter.Info(fmt.Sprintf("  --attach %s=...  (%s)", missing.Name, missing.Purpose))
			}
			presenter.Info("Supply the missing attachments and rerun with --resume to continue.")
		}

	case engine.KindNeedsDisambiguation:
		if !config.JSONOutput {
			presenter.Warning("Several definitions fit this task about equally well:")
			for _, candidate := range result.Candidates {
				presenter.Info(fmt.Sprintf("  %s (score %d): %s", candidate.ID, candidate.Score, candidate.Description))
			}
			presenter.Info("Invoke one of them by name to disambiguate.")
		}

	case engine.KindFailure:
		clearPending(pendingStore)
		if !config.JSONOutput {
			presenter.Error(result.Err, "invocation rejected")
			for _, violation := range result.Violations {
				presenter.Info("  " + violation.String())
			}
		}
		os.Exit(1)
	}
}

func savePending(store *resume.Store, result *engine.Result, req engine.Request) {
	pending := resume.Pending{
		InvocationID: result.Invocation.ID,
		TaskText:     req.TaskText,
		Definition:   result.Invocation.Definition,
		Attachments:  req.Attachments,
		Missing:      result.Missing,
	}
	if err := store.Save(pending); err != nil {
		presenter.Warning(fmt.Sprintf("could not save the pending invocation: %v", err))
	}
}

func clearPending(store *resume.Store) {
	if err := store.Clear(); err != nil {
		presenter.Warning(fmt.Sprintf("could not clear the pending invocation: %v", err))
	}
}

// runDryRun resolves and assembles without calling a provider, printing the
// exact instruction a generator would receive.
func runDryRun(store *catalog.Store, req engine.Request) {
	snap := store.Snapshot()

	names := make([]string, len(req.Attachments))
	for i, att := range req.Attachments {
		names[i] = att.Name
	}

	cfg := matcher.DefaultConfig()
	outcome := matcher.New(cfg).Match(snap, req.TaskText, names)
	switch outcome.Decision {
	case matcher.NoMatch:
		presenter.Error(&matcher.NoMatchError{Floor: cfg.Floor, BestScore: outcome.BestScore}, "no definition matched")
		os.Exit(1)
	case matcher.Ambiguous:
		presenter.Warning("Several definitions fit this task about equally well:")
		for _, candidate := range outcome.Candidates {
			presenter.Info(fmt.Sprintf("  %s (score %d): %s", candidate.ID, candidate.Score, candidate.Description))
		}
		os.Exit(1)
	}

	def := outcome.Best
	gateRes := gate.Check(def, req.Attachments)
	if !gateRes.Ready() {
		presenter.Warning(fmt.Sprintf("Definition %q needs more input:", def.ID))
		for _, missing := range gateRes.Missing {
			presenter.Info(fmt.Sprintf("  --attach %s=...  (%s)", missing.Name, missing.Purpose))
		}
		os.Exit(1)
	}

	payload, err := assembler.Assemble(def, gateRes.Bound, gateRes.Present)
	if err != nil {
		presenter.Error(err, "failed to assemble the instruction")
		os.Exit(1)
	}

	presenter.Section(fmt.Sprintf("Instruction for %q", def.ID))
	fmt.Println(payload)
}
