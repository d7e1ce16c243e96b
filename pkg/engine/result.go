package engine

import (
	"github.com/skillgate/skillgate/pkg/contract"
	"github.com/skillgate/skillgate/pkg/gate"
	"github.com/skillgate/skillgate/pkg/matcher"
)

// Kind classifies the outcome of a submit. Every kind is a first-class
// result, not an error: needing input or disambiguation is the designed
// behavior when context is insufficient, not a failure of the engine.
type Kind string

const (
	// KindSuccess carries a validated response.
	KindSuccess Kind = "success"
	// KindNeedsInput lists the required inputs the caller must supply.
	KindNeedsInput Kind = "needs_input"
	// KindNeedsDisambiguation lists the candidates the caller must pick from.
	KindNeedsDisambiguation Kind = "needs_disambiguation"
	// KindFailure is a terminal rejection: no match, generator trouble, or a
	// response that kept violating its contract.
	KindFailure Kind = "failure"
)

// Result is the JSON-stable outcome of one submit, shared by the CLI, the
// HTTP API and the journal.
type Result struct {
	Kind       Kind                 `json:"kind"`
	Invocation Invocation           `json:"invocation"`
	Missing    []gate.MissingInput  `json:"missing,omitempty"`
	Candidates []matcher.Candidate  `json:"candidates,omitempty"`
	Response   string               `json:"response,omitempty"`
	Violations []contract.Violation `json:"violations,omitempty"`
	Reason     string               `json:"reason,omitempty"`

	// Err is the typed failure for programmatic inspection (errors.As); the
	// JSON surface carries Reason instead.
	Err error `json:"-"`
}

func failure(inv *Invocation, err error) *Result {
	return &Result{
		Kind:       KindFailure,
		Invocation: *inv,
		Reason:     err.Error(),
		Err:        err,
	}
}
