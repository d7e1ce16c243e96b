package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/presenter"
)

// DefinitionListConfig holds configuration for the definitions list command
type DefinitionListConfig struct {
	Corpus     string
	JSONOutput bool
}

// NewDefinitionListConfig creates a new DefinitionListConfig with default values
func NewDefinitionListConfig() *DefinitionListConfig {
	return &DefinitionListConfig{}
}

// DefinitionShowConfig holds configuration for the definitions show command
type DefinitionShowConfig struct {
	Corpus string
	Format string
}

// NewDefinitionShowConfig creates a new DefinitionShowConfig with default values
func NewDefinitionShowConfig() *DefinitionShowConfig {
	return &DefinitionShowConfig{
		Format: "text",
	}
}

var definitionsCmd = &cobra.Command{
	Use:   "definitions",
	Short: "Inspect the definition corpus",
	Long:  `List, view, lint, and describe the definitions of the active corpus.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var definitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the definitions of the corpus",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getDefinitionListConfigFromFlags(cmd)
		runDefinitionsListCommand(ctx, config)
	},
}

var definitionsShowCmd = &cobra.Command{
	Use:   "show [definitionID]",
	Short: "Show a specific definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getDefinitionShowConfigFromFlags(cmd)
		runDefinitionsShowCommand(ctx, args[0], config)
	},
}

var definitionsLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate the corpus and report every violation",
	Long: `Load the corpus through the full validation pass and report every
violation found, across all files, in one run. Exits non-zero when the
corpus would be rejected.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		runDefinitionsLintCommand(ctx, viper.GetString("corpus"))
	},
}

var definitionsSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of definition frontmatter",
	Long:  `Print the JSON schema that corpus frontmatter is validated against, for editor integration.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDefinitionsSchemaCommand()
	},
}

func init() {
	listDefaults := NewDefinitionListConfig()
	definitionsListCmd.Flags().Bool("json", listDefaults.JSONOutput, "Output in JSON format")

	showDefaults := NewDefinitionShowConfig()
	definitionsShowCmd.Flags().String("format", showDefaults.Format, "Output format: text, json, or yaml")

	definitionsCmd.AddCommand(definitionsListCmd)
	definitionsCmd.AddCommand(definitionsShowCmd)
	definitionsCmd.AddCommand(definitionsLintCmd)
	definitionsCmd.AddCommand(definitionsSchemaCmd)
}

// getDefinitionListConfigFromFlags extracts list configuration from command flags
func getDefinitionListConfigFromFlags(cmd *cobra.Command) *DefinitionListConfig {
	config := NewDefinitionListConfig()

	config.Corpus = viper.GetString("corpus")
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

// getDefinitionShowConfigFromFlags extracts show configuration from command flags
func getDefinitionShowConfigFromFlags(cmd *cobra.Command) *DefinitionShowConfig {
	config := NewDefinitionShowConfig()

	config.Corpus = viper.GetString("corpus")
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}

	return config
}

// OutputFormat defines the format of the output
type OutputFormat int

const (
	TableFormat OutputFormat = iota
	JSONFormat
)

// DefinitionRowOutput represents a single definition for list output
type DefinitionRowOutput struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Invocations []string `json:"invocations,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Required    []string `json:"required,omitempty"`
	Path        string   `json:"path"`
}

// DefinitionListOutput represents the output for definitions list
type DefinitionListOutput struct {
	Generation  uint64
	Fingerprint string
	Definitions []DefinitionRowOutput
	Format      OutputFormat
}

// NewDefinitionListOutput creates a new DefinitionListOutput
func NewDefinitionListOutput(cat *catalog.Catalog, format OutputFormat) *DefinitionListOutput {
	output := &DefinitionListOutput{
		Generation:  cat.Generation(),
		Fingerprint: cat.Fingerprint(),
		Definitions: make([]DefinitionRowOutput, 0, cat.Len()),
		Format:      format,
	}

	for _, def := range cat.Definitions() {
		required := make([]string, 0, len(def.Inputs.Required))
		for _, slot := range def.Inputs.Required {
			required = append(required, slot.Name)
		}

		output.Definitions = append(output.Definitions, DefinitionRowOutput{
			ID:          def.ID,
			Description: def.Description,
			Invocations: def.Triggers.Invocations,
			Keywords:    def.Triggers.Keywords,
			Required:    required,
			Path:        def.Path,
		})
	}

	return output
}

// Render formats and renders the definition list to the specified writer
func (o *DefinitionListOutput) Render(w io.Writer) error {
	if o.Format == JSONFormat {
		return o.renderJSON(w)
	}
	return o.renderTable(w)
}

// renderJSON renders the output in JSON format
func (o *DefinitionListOutput) renderJSON(w io.Writer) error {
	type jsonOutput struct {
		Generation  uint64                `json:"generation"`
		Fingerprint string                `json:"fingerprint"`
		Definitions []DefinitionRowOutput `json:"definitions"`
	}

	output := jsonOutput{
		Generation:  o.Generation,
		Fingerprint: o.Fingerprint,
		Definitions: o.Definitions,
	}

	jsonData, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error generating JSON output")
	}

	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// renderTable renders the output in table format
func (o *DefinitionListOutput) renderTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tInvocations\tKeywords\tRequired\tDescription")
	fmt.Fprintln(tw, "----\t-----------\t--------\t--------\t-----------")

	for _, def := range o.Definitions {
		description := def.Description
		if len(description) > 60 {
			description = strings.TrimSpace(description[:57]) + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			def.ID,
			strings.Join(def.Invocations, ","),
			strings.Join(def.Keywords, ","),
			strings.Join(def.Required, ","),
			description,
		)
	}

	return tw.Flush()
}

// runDefinitionsListCommand displays the definitions of the corpus
func runDefinitionsListCommand(ctx context.Context, config *DefinitionListConfig) {
	store, _, err := loadCorpus(ctx, config.Corpus)
	if err != nil {
		exitCorpusError(err)
	}

	format := TableFormat
	if config.JSONOutput {
		format = JSONFormat
	}

	output := NewDefinitionListOutput(store.Snapshot(), format)
	if err := output.Render(os.Stdout); err != nil {
		presenter.Error(err, "failed to render definitions")
		os.Exit(1)
	}
}

// definitionDocument is the full serialized view of one definition.
type definitionDocument struct {
	definition.Metadata `yaml:",inline"`
	Path                string `json:"path" yaml:"path"`
	Body                string `json:"body" yaml:"body"`
}

// runDefinitionsShowCommand displays a single definition
func runDefinitionsShowCommand(ctx context.Context, id string, config *DefinitionShowConfig) {
	store, _, err := loadCorpus(ctx, config.Corpus)
	if err != nil {
		exitCorpusError(err)
	}

	def, ok := store.Snapshot().Definition(id)
	if !ok {
		presenter.Error(errors.Errorf("no definition with id %q", id), "definition not found")
		os.Exit(1)
	}

	doc := definitionDocument{Metadata: def.Metadata, Path: def.Path, Body: def.Body}

	switch config.Format {
	case "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			presenter.Error(err, "failed to render the definition")
			os.Exit(1)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(doc)
		if err != nil {
			presenter.Error(err, "failed to render the definition")
			os.Exit(1)
		}
		fmt.Print(string(data))
	case "text":
		renderDefinitionText(def)
	default:
		presenter.Error(errors.Errorf("unknown format %q (want text, json, or yaml)", config.Format), "invalid format")
		os.Exit(1)
	}
}

func renderDefinitionText(def *definition.Definition) {
	presenter.Section(def.ID)
	presenter.Info(fmt.Sprintf("Description:  %s", def.Description))
	presenter.Info(fmt.Sprintf("Path:         %s", def.Path))
	if len(def.Triggers.Invocations) > 0 {
		presenter.Info(fmt.Sprintf("Invocations:  %s", strings.Join(def.Triggers.Invocations, ", ")))
	}
	if len(def.Triggers.Keywords) > 0 {
		presenter.Info(fmt.Sprintf("Keywords:     %s", strings.Join(def.Triggers.Keywords, ", ")))
	}
	for _, slot := range def.Inputs.Required {
		presenter.Info(fmt.Sprintf("Requires:     %s (%s)", slot.Name, slot.Purpose))
	}
	for _, slot := range def.Inputs.Optional {
		presenter.Info(fmt.Sprintf("Optional:     %s (%s)", slot.Name, slot.Purpose))
	}
	for _, section := range def.Output.Sections {
		requirement := "optional"
		if section.Required {
			requirement = "required"
		}
		presenter.Info(fmt.Sprintf("Section:      %s (%s)", section.Heading, requirement))
	}
	for _, pred := range def.Output.Forbidden {
		presenter.Info(fmt.Sprintf("Forbidden:    %s", pred.Name))
	}
	for _, rail := range def.Guardrails {
		presenter.Info(fmt.Sprintf("Guardrail:    %s", rail))
	}
	presenter.Separator()
	fmt.Println(strings.TrimRight(def.Body, "\n"))
}

// runDefinitionsLintCommand validates the corpus without serving it
func runDefinitionsLintCommand(ctx context.Context, corpus string) {
	fsys, err := corpusFS(corpus)
	if err != nil {
		presenter.Error(err, "failed to open the corpus")
		os.Exit(1)
	}

	cat, err := catalog.NewStore().Reload(ctx, fsys)
	if err != nil {
		exitCorpusError(err)
	}

	presenter.Success(fmt.Sprintf("corpus is clean: %d definition(s), fingerprint %s", cat.Len(), cat.Fingerprint()))
}

// runDefinitionsSchemaCommand prints the frontmatter JSON schema
func runDefinitionsSchemaCommand() {
	data, err := json.MarshalIndent(definition.GenerateSchema(), "", "  ")
	if err != nil {
		presenter.Error(err, "failed to render the schema")
		os.Exit(1)
	}
	fmt.Println(string(data))
}
