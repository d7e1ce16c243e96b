// Package gate decides whether an invocation may proceed: it compares a
// definition's declared inputs against the attachments the caller actually
// supplied. The check is pure and total, performs no I/O and reports every
// unmet required input at once, so a caller never needs more than one round
// trip to learn everything that is missing.
package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skillgate/skillgate/pkg/definition"
)

// MissingInput names one unmet required input together with its declared
// purpose, which is what the caller sees when asked to supply it.
type MissingInput struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

func (m MissingInput) String() string {
	return fmt.Sprintf("%s (%s)", m.Name, m.Purpose)
}

// Result is the outcome of one gate check.
type Result struct {
	// Bound maps every supplied, non-empty slot name to its content.
	Bound map[string]string
	// Present records, for every declared slot, whether the caller supplied
	// usable content for it. The template assembler keys conditional blocks
	// on these flags.
	Present map[string]bool
	// Missing lists the unmet required inputs in declaration order.
	Missing []MissingInput
	// Unknown lists attachment names that match no declared slot, sorted.
	// They never block the invocation; they are surfaced for diagnostics.
	Unknown []string
}

// Ready reports whether every required input was supplied.
func (r Result) Ready() bool {
	return len(r.Missing) == 0
}

// MissingNames returns just the names of the unmet required inputs.
func (r Result) MissingNames() []string {
	names := make([]string, len(r.Missing))
	for i, m := range r.Missing {
		names[i] = m.Name
	}
	return names
}

// Check gates a definition against the caller's attachments. An attachment
// whose content is empty after whitespace trimming counts as not supplied:
// an empty diff or log has no evidential value and would only produce a
// degenerate instruction. When the same name is attached more than once the
// last one wins, mirroring repeated-flag semantics.
func Check(def *definition.Definition, atts []definition.Attachment) Result {
	supplied := make(map[string]definition.Attachment, len(atts))
	for _, a := range atts {
		supplied[a.Name] = a
	}

	res := Result{
		Bound:   make(map[string]string),
		Present: make(map[string]bool),
	}

	for _, slot := range def.Inputs.Required {
		att, ok := supplied[slot.Name]
		delete(supplied, slot.Name)
		if !ok || att.Empty() {
			res.Present[slot.Name] = false
			res.Missing = append(res.Missing, MissingInput{Name: slot.Name, Purpose: slot.Purpose})
			continue
		}
		res.Bound[slot.Name] = att.Content
		res.Present[slot.Name] = true
	}

	for _, slot := range def.Inputs.Optional {
		att, ok := supplied[slot.Name]
		delete(supplied, slot.Name)
		if !ok || att.Empty() {
			res.Present[slot.Name] = false
			continue
		}
		res.Bound[slot.Name] = att.Content
		res.Present[slot.Name] = true
	}

	for name := range supplied {
		res.Unknown = append(res.Unknown, name)
	}
	sort.Strings(res.Unknown)

	return res
}

// Describe renders the missing list for logs and error messages.
func Describe(missing []MissingInput) string {
	parts := make([]string, len(missing))
	for i, m := range missing {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
