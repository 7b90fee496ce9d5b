package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOutOfPending(t *testing.T) {
	assert.True(t, CanTransition(BookingPending, BookingConfirmed))
	assert.True(t, CanTransition(BookingPending, BookingCancelled))
	assert.True(t, CanTransition(BookingPending, BookingExpired))
}

func TestTerminalBookingStatesAdmitNoTransition(t *testing.T) {
	terminals := []BookingStatus{BookingConfirmed, BookingCancelled, BookingExpired}
	targets := []BookingStatus{BookingPending, BookingConfirmed, BookingCancelled, BookingExpired}
	for _, from := range terminals {
		for _, to := range targets {
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestCanTransitionRejectsSameState(t *testing.T) {
	// Same-state repeats are handled as idempotent no-ops by the ledger,
	// not as transitions.
	assert.False(t, CanTransition(BookingPending, BookingPending))
}

func TestLockStatusTerminal(t *testing.T) {
	assert.False(t, LockStatus(LockHeld).Terminal())
	assert.True(t, LockConfirmed.Terminal())
	assert.True(t, LockExpired.Terminal())
	assert.True(t, LockReleased.Terminal())
}
