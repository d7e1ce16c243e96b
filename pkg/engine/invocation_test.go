package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusUnresolved, StatusGated},
		{StatusUnresolved, StatusRejected},
		{StatusGated, StatusReady},
		{StatusGated, StatusAwaitingInput},
		{StatusReady, StatusAssembled},
		{StatusAssembled, StatusValidated},
		{StatusAssembled, StatusRetryRequested},
		{StatusAssembled, StatusRejected},
		{StatusRetryRequested, StatusValidated},
		{StatusRetryRequested, StatusRetryRequested},
		{StatusRetryRequested, StatusRejected},
	}
	for _, tr := range allowed {
		assert.True(t, ValidTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	denied := []struct{ from, to Status }{
		{StatusUnresolved, StatusReady},
		{StatusUnresolved, StatusValidated},
		{StatusGated, StatusValidated},
		{StatusAwaitingInput, StatusReady},
		{StatusValidated, StatusRejected},
		{StatusRejected, StatusUnresolved},
		{StatusValidated, StatusValidated},
	}
	for _, tr := range denied {
		assert.False(t, ValidTransition(tr.from, tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusValidated.Terminal())
	assert.True(t, StatusAwaitingInput.Terminal())
	assert.True(t, StatusRejected.Terminal())

	assert.False(t, StatusUnresolved.Terminal())
	assert.False(t, StatusGated.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.False(t, StatusAssembled.Terminal())
	assert.False(t, StatusRetryRequested.Terminal())
}

func TestNewInvocation(t *testing.T) {
	a := newInvocation()
	b := newInvocation()

	assert.Equal(t, StatusUnresolved, a.Status)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestInvocationToPanicsOnIllegalMove(t *testing.T) {
	inv := newInvocation()
	assert.Panics(t, func() { inv.to(StatusValidated) })
}
