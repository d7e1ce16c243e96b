package contract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// ViolationKind classifies a contract violation.
type ViolationKind string

const (
	// ViolationMissingSection means a required section is absent from the response.
	ViolationMissingSection ViolationKind = "missing_section"
	// ViolationDuplicateSection means a declared section appears more than
	// once, making it impossible to identify unambiguously.
	ViolationDuplicateSection ViolationKind = "duplicate_section"
	// ViolationSectionOrder means declared sections appear out of their declared order.
	ViolationSectionOrder ViolationKind = "section_order"
	// ViolationForbiddenContent means a forbidden-content predicate fired.
	ViolationForbiddenContent ViolationKind = "forbidden_content"
)

// Violation is one contract failure with enough detail to fix it. Matched
// forbidden content is never echoed back; it may be exactly the secret the
// predicate exists to keep out of the output.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Subject string        `json:"subject"`
	Detail  string        `json:"detail,omitempty"`
	Line    int           `json:"line,omitempty"`
}

func (v Violation) String() string {
	switch v.Kind {
	case ViolationMissingSection:
		return fmt.Sprintf("missing section: %s", v.Subject)
	case ViolationDuplicateSection:
		return fmt.Sprintf("duplicate section: %s (%s)", v.Subject, v.Detail)
	case ViolationSectionOrder:
		return fmt.Sprintf("section out of order: %s (%s)", v.Subject, v.Detail)
	case ViolationForbiddenContent:
		if v.Line > 0 {
			return fmt.Sprintf("forbidden content: %s at line %d", v.Subject, v.Line)
		}
		return fmt.Sprintf("forbidden content: %s", v.Subject)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Subject)
}

// ViolationError carries the full violation list when a response fails its
// contract. It is the terminal error attached to a rejected invocation.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return "output contract violated: " + strings.Join(msgs, "; ")
}

// Validate checks a generated response against the contract. A nil return
// means the response passes. The check is advisory-but-blocking for the
// caller: any violation must keep the response from being surfaced as final.
func (c *Contract) Validate(response string) []Violation {
	var violations []Violation

	found := extractHeadings([]byte(response))
	occurrences := make(map[string][]foundHeading, len(c.spec.Sections))
	for _, h := range found {
		key := strings.ToLower(h.Text)
		occurrences[key] = append(occurrences[key], h)
	}

	sectionTrouble := false
	prevLine, prevHeading := 0, ""
	for _, sec := range c.spec.Sections {
		hits := occurrences[strings.ToLower(strings.TrimSpace(sec.Heading))]
		switch {
		case len(hits) == 0:
			if sec.Required {
				violations = append(violations, Violation{
					Kind:    ViolationMissingSection,
					Subject: sec.Heading,
				})
				sectionTrouble = true
			}
		case len(hits) > 1:
			violations = append(violations, Violation{
				Kind:    ViolationDuplicateSection,
				Subject: sec.Heading,
				Detail:  fmt.Sprintf("found %d occurrences", len(hits)),
				Line:    hits[1].Line,
			})
			sectionTrouble = true
		default:
			if hits[0].Line < prevLine {
				violations = append(violations, Violation{
					Kind:    ViolationSectionOrder,
					Subject: sec.Heading,
					Detail:  fmt.Sprintf("appears before %q", prevHeading),
					Line:    hits[0].Line,
				})
				sectionTrouble = true
			} else {
				prevLine, prevHeading = hits[0].Line, sec.Heading
			}
		}
	}

	if sectionTrouble {
		violations[0].Detail = appendDetail(violations[0].Detail, c.outlineDiff(found))
	}

	for _, pred := range c.forbidden {
		fired, line := pred.scan(response)
		if !fired {
			continue
		}
		violations = append(violations, Violation{
			Kind:    ViolationForbiddenContent,
			Subject: pred.spec.Name,
			Detail:  pred.spec.Description,
			Line:    line,
		})
	}

	return violations
}

// RetryInstruction renders the targeted fix-up request for a bounded
// re-generation, naming exactly the failed sections and predicates.
func RetryInstruction(violations []Violation) string {
	var b strings.Builder
	b.WriteString("Your previous response violated its output contract. Regenerate the complete response and fix exactly these problems:\n")
	for _, v := range violations {
		b.WriteString("- ")
		b.WriteString(v.String())
		if v.Kind == ViolationForbiddenContent && v.Detail != "" {
			b.WriteString(": ")
			b.WriteString(v.Detail)
		}
		b.WriteString("\n")
	}
	b.WriteString("Keep every section that was already correct, in its declared order.")
	return b.String()
}

// outlineDiff renders a unified diff between the declared section outline
// and the headings actually present, for author-facing diagnostics.
func (c *Contract) outlineDiff(found []foundHeading) string {
	var want, got strings.Builder
	for _, sec := range c.spec.Sections {
		if sec.Required {
			fmt.Fprintf(&want, "%s\n", sec.Heading)
		}
	}
	for _, h := range found {
		fmt.Fprintf(&got, "%s\n", h.Text)
	}
	diff := udiff.Unified("declared outline", "response outline", want.String(), got.String())
	return strings.TrimRight(diff, "\n")
}

func appendDetail(existing, extra string) string {
	if extra == "" {
		return existing
	}
	if existing == "" {
		return extra
	}
	return existing + "\n" + extra
}

type foundHeading struct {
	Text  string
	Level int
	Line  int
}

// extractHeadings parses the response as markdown and returns every heading
// with its 1-based source line.
func extractHeadings(source []byte) []foundHeading {
	md := goldmark.New()
	doc := md.Parser().Parse(gmtext.NewReader(source))

	var found []foundHeading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		found = append(found, foundHeading{
			Text:  headingText(h, source),
			Level: h.Level,
			Line:  headingLine(h, source),
		})
		return ast.WalkSkipChildren, nil
	})
	return found
}

func headingText(h *ast.Heading, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func headingLine(h *ast.Heading, source []byte) int {
	lines := h.Lines()
	if lines.Len() == 0 {
		return 0
	}
	return 1 + bytes.Count(source[:lines.At(0).Start], []byte("\n"))
}
