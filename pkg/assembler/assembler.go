// Package assembler renders a definition's body template into the final
// instruction payload. Bound values are substituted verbatim, conditional
// blocks keyed on presence flags are included or omitted wholesale, and
// declared guardrails are appended as a constraints block. The assembler
// never contacts the generator.
package assembler

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/definition"
)

// Assemble executes the definition's template against the gate's bound
// variables and presence flags. Templates are parsed with missingkey=error,
// so a placeholder the load-time analysis somehow let through fails loudly
// here instead of rendering "<no value>" into an instruction.
func Assemble(def *definition.Definition, bound map[string]string, present map[string]bool) (string, error) {
	data := make(map[string]any, 2*len(bound))
	for _, slot := range def.Slots() {
		data[definition.PresencePrefix+slot.Name] = present[slot.Name]
		if present[slot.Name] {
			data[slot.Name] = bound[slot.Name]
		}
	}

	var b strings.Builder
	if err := def.Template().Execute(&b, data); err != nil {
		return "", errors.Wrapf(err, "assembling %q", def.ID)
	}

	payload := strings.TrimRight(b.String(), "\n")
	if len(def.Guardrails) > 0 {
		payload += "\n\n" + guardrailBlock(def.Guardrails)
	}
	return payload + "\n", nil
}

// guardrailBlock renders the definition's hard constraints. They are part of
// the instruction itself: the generator must honor them, and the output
// contract is what verifies the ones that are checkable.
func guardrailBlock(guardrails []string) string {
	var b strings.Builder
	b.WriteString("Hard constraints, non-negotiable:\n")
	for _, g := range guardrails {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(g))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
