package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one invocation.
type Status string

const (
	// StatusUnresolved is the initial state, before matching.
	StatusUnresolved Status = "unresolved"
	// StatusGated means a definition was resolved and the gate is checking inputs.
	StatusGated Status = "gated"
	// StatusReady means every required input is bound.
	StatusReady Status = "ready"
	// StatusAssembled means the instruction payload was rendered.
	StatusAssembled Status = "assembled"
	// StatusValidated is the terminal success state: the response passed its contract.
	StatusValidated Status = "validated"
	// StatusAwaitingInput is the terminal ask-and-stop state: required inputs
	// are missing and the caller was told exactly which ones.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusRetryRequested means the response violated its contract and a
	// bounded re-generation is in flight.
	StatusRetryRequested Status = "retry_requested"
	// StatusRejected is the terminal failure state.
	StatusRejected Status = "rejected"
)

// transitions is the legal move set of the invocation machine. Ambiguous
// matches terminate in Unresolved: nothing was selected, so there is nothing
// to reject.
var transitions = map[Status][]Status{
	StatusUnresolved:     {StatusGated, StatusRejected},
	StatusGated:          {StatusReady, StatusAwaitingInput},
	StatusReady:          {StatusAssembled, StatusRejected},
	StatusAssembled:      {StatusValidated, StatusRetryRequested, StatusRejected},
	StatusRetryRequested: {StatusValidated, StatusRetryRequested, StatusRejected},
}

// ValidTransition reports whether the machine allows moving from one status
// to another.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusValidated, StatusAwaitingInput, StatusRejected:
		return true
	}
	return false
}

// Invocation is the per-submit lifecycle record surfaced in results and the
// journal.
type Invocation struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Definition string `json:"definition,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

func newInvocation() *Invocation {
	return &Invocation{ID: uuid.NewString(), Status: StatusUnresolved}
}

// to advances the machine. Transitions are driven entirely by engine control
// flow, never by caller input, so an illegal move is a bug: panic instead of
// carrying a corrupt status forward.
func (inv *Invocation) to(next Status) {
	if !ValidTransition(inv.Status, next) {
		panic(fmt.Sprintf("invocation %s: illegal transition %s -> %s", inv.ID, inv.Status, next))
	}
	inv.Status = next
}
