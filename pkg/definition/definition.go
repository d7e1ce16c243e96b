// Package definition models a single skill or command definition: its
// declared frontmatter metadata, its body template and its compiled output
// contract. Compile performs every per-definition validation the corpus
// loader relies on, collecting all problems instead of stopping at the first.
package definition

import (
	"regexp"
	"strings"
	"text/template"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/contract"
)

// Triggers are the matchable signals of a definition.
type Triggers struct {
	// Invocations are explicit names that resolve directly, e.g. "commit" or "/commit".
	Invocations []string `mapstructure:"invocations" json:"invocations,omitempty" yaml:"invocations,omitempty" jsonschema:"description=Explicit invocation names that resolve directly to this definition"`
	// Keywords participate in overlap scoring against the task text.
	Keywords []string `mapstructure:"keywords" json:"keywords,omitempty" yaml:"keywords,omitempty" jsonschema:"description=Keywords scored for overlap with the task text"`
}

// Slot is one named input the definition can consume.
type Slot struct {
	Name    string `mapstructure:"name" json:"name" yaml:"name" jsonschema:"required,description=Slot name; referenced from the body template as {{.name}}"`
	Purpose string `mapstructure:"purpose" json:"purpose" yaml:"purpose" jsonschema:"required,description=What the input is for; shown to callers asked to supply it"`
}

// Inputs declares the required and optional slots of a definition.
type Inputs struct {
	Required []Slot `mapstructure:"required" json:"required,omitempty" yaml:"required,omitempty"`
	Optional []Slot `mapstructure:"optional" json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Metadata is the declared frontmatter of a definition document.
type Metadata struct {
	ID          string        `mapstructure:"id" json:"id" yaml:"id" jsonschema:"required,description=Stable unique identifier (lowercase slug)"`
	Description string        `mapstructure:"description" json:"description" yaml:"description" jsonschema:"required,description=What the definition does; also the keyword fallback for matching"`
	Triggers    Triggers      `mapstructure:"triggers" json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Inputs      Inputs        `mapstructure:"inputs" json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output      contract.Spec `mapstructure:"output" json:"output,omitempty" yaml:"output,omitempty"`
	Guardrails  []string      `mapstructure:"guardrails" json:"guardrails,omitempty" yaml:"guardrails,omitempty" jsonschema:"description=Hard constraints appended to every assembled instruction"`
}

// Definition is the compiled, immutable form served from a catalog.
type Definition struct {
	Metadata
	// Path is the corpus-relative source path the definition was loaded from.
	Path string
	// Body is the raw template text below the frontmatter.
	Body string

	tmpl *template.Template
	ct   *contract.Contract
}

// Template returns the parsed body template. Safe for concurrent execution.
func (d *Definition) Template() *template.Template {
	return d.tmpl
}

// Contract returns the compiled output contract.
func (d *Definition) Contract() *contract.Contract {
	return d.ct
}

// Slots returns every declared slot, required first, in declaration order.
func (d *Definition) Slots() []Slot {
	slots := make([]Slot, 0, len(d.Inputs.Required)+len(d.Inputs.Optional))
	slots = append(slots, d.Inputs.Required...)
	slots = append(slots, d.Inputs.Optional...)
	return slots
}

// Slot looks up a declared slot by name.
func (d *Definition) Slot(name string) (Slot, bool) {
	for _, s := range d.Slots() {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// DecodeMetadata decodes raw frontmatter (as produced by goldmark-meta) into
// typed Metadata. Unknown keys are errors so author typos surface at load.
func DecodeMetadata(raw map[string]any) (Metadata, error) {
	var meta Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &meta,
		ErrorUnused: true,
	})
	if err != nil {
		return Metadata{}, errors.Wrap(err, "creating frontmatter decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Metadata{}, errors.Wrap(err, "decoding frontmatter")
	}
	return meta, nil
}

var (
	idPattern   = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	slotPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Compile validates metadata and body, parses the template, runs the static
// placeholder analysis and compiles the output contract. Every problem found
// is reported; a definition with any problem yields no Definition at all.
func Compile(meta Metadata, body, path string) (*Definition, error) {
	var merr *multierror.Error
	for _, err := range meta.validate() {
		merr = multierror.Append(merr, err)
	}

	if strings.TrimSpace(body) == "" {
		merr = multierror.Append(merr, errors.New("body template is required"))
	}

	ct, err := contract.Compile(meta.Output)
	if err != nil {
		if group, ok := err.(*multierror.Error); ok {
			for _, sub := range group.Errors {
				merr = multierror.Append(merr, errors.Wrap(sub, "output contract"))
			}
		} else {
			merr = multierror.Append(merr, errors.Wrap(err, "output contract"))
		}
	}

	tmpl, err := parseBody(meta.ID, body)
	if err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "body template"))
	} else {
		for _, err := range analyzeTemplate(tmpl, meta.Inputs.Required, meta.Inputs.Optional) {
			merr = multierror.Append(merr, err)
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return &Definition{
		Metadata: meta,
		Path:     path,
		Body:     body,
		tmpl:     tmpl,
		ct:       ct,
	}, nil
}

func (m Metadata) validate() []error {
	var errs []error

	switch {
	case m.ID == "":
		errs = append(errs, errors.New("id is required"))
	case !idPattern.MatchString(m.ID):
		errs = append(errs, errors.Errorf("id %q must be a lowercase slug", m.ID))
	}

	if strings.TrimSpace(m.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}

	seenInvocations := make(map[string]bool, len(m.Triggers.Invocations))
	for i, name := range m.Triggers.Invocations {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed == "" {
			errs = append(errs, errors.Errorf("triggers.invocations[%d] must not be empty", i))
			continue
		}
		if seenInvocations[trimmed] {
			errs = append(errs, errors.Errorf("triggers.invocations: %q declared twice", name))
		}
		seenInvocations[trimmed] = true
	}

	for i, kw := range m.Triggers.Keywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, errors.Errorf("triggers.keywords[%d] must not be empty", i))
		}
	}

	seenSlots := make(map[string]bool, len(m.Inputs.Required)+len(m.Inputs.Optional))
	checkSlots := func(kind string, slots []Slot) {
		for i, slot := range slots {
			switch {
			case slot.Name == "":
				errs = append(errs, errors.Errorf("inputs.%s[%d]: name is required", kind, i))
				continue
			case !slotPattern.MatchString(slot.Name):
				errs = append(errs, errors.Errorf("inputs.%s[%d]: name %q is not a valid placeholder name", kind, i, slot.Name))
				continue
			case strings.HasPrefix(slot.Name, PresencePrefix):
				errs = append(errs, errors.Errorf("inputs.%s[%d]: name %q collides with the %q presence-flag prefix", kind, i, slot.Name, PresencePrefix))
				continue
			}
			if seenSlots[slot.Name] {
				errs = append(errs, errors.Errorf("inputs.%s[%d]: %q declared twice", kind, i, slot.Name))
				continue
			}
			seenSlots[slot.Name] = true
			if strings.TrimSpace(slot.Purpose) == "" {
				errs = append(errs, errors.Errorf("inputs.%s[%d]: %q needs a purpose; callers see it when asked to supply the input", kind, i, slot.Name))
			}
		}
	}
	checkSlots("required", m.Inputs.Required)
	checkSlots("optional", m.Inputs.Optional)

	return errs
}
