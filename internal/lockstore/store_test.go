package lockstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridehub/seat-booking/internal/model"
)

func TestNormalizeSeatsDeduplicatesAndSorts(t *testing.T) {
	got := normalizeSeats([]string{"B2", "A1", "B2", "", "A10"})
	assert.Equal(t, []string{"A1", "A10", "B2"}, got)
}

func TestNormalizeSeatsEmpty(t *testing.T) {
	assert.Empty(t, normalizeSeats(nil))
	assert.Empty(t, normalizeSeats([]string{"", ""}))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	err := &ConflictError{Seats: []string{"A1", "A2"}}
	assert.True(t, errors.Is(err, ErrSeatsUnavailable))

	var conflict *ConflictError
	require.True(t, errors.As(error(err), &conflict))
	assert.Equal(t, []string{"A1", "A2"}, conflict.Seats)
}

func heldRow(seat, lease, key string, expiresAt time.Time) lockRow {
	return lockRow{seatNo: seat, leaseID: lease, idemKey: key, status: model.LockHeld, expiresAt: expiresAt}
}

func TestExistingLeaseForCompleteLiveLease(t *testing.T) {
	now := time.Now().UTC()
	exp := now.Add(4 * time.Minute)
	existing := map[string]lockRow{
		"A1": heldRow("A1", "lease-1", "key-1", exp),
		"A2": heldRow("A2", "lease-1", "key-1", exp),
	}
	lease := existingLeaseFor(existing, []string{"A1", "A2"}, "key-1", now)
	require.NotNil(t, lease)
	assert.Equal(t, "lease-1", lease.ID)
	assert.Equal(t, []string{"A1", "A2"}, lease.SeatNos)
	assert.True(t, lease.ExpiresAt.Equal(exp))
}

func TestExistingLeaseForRejectsPartialCoverage(t *testing.T) {
	now := time.Now().UTC()
	existing := map[string]lockRow{
		"A1": heldRow("A1", "lease-1", "key-1", now.Add(time.Minute)),
	}
	// A2 has no row, so this is not a complete earlier acquisition.
	assert.Nil(t, existingLeaseFor(existing, []string{"A1", "A2"}, "key-1", now))
}

func TestExistingLeaseForRejectsOtherKey(t *testing.T) {
	now := time.Now().UTC()
	existing := map[string]lockRow{
		"A1": heldRow("A1", "lease-1", "other-key", now.Add(time.Minute)),
	}
	assert.Nil(t, existingLeaseFor(existing, []string{"A1"}, "key-1", now))
}

func TestExistingLeaseForRejectsLapsedHold(t *testing.T) {
	now := time.Now().UTC()
	existing := map[string]lockRow{
		"A1": heldRow("A1", "lease-1", "key-1", now.Add(-time.Second)),
	}
	// A lapsed hold is not handed back; Acquire reuses the row under a
	// fresh lease instead.
	assert.Nil(t, existingLeaseFor(existing, []string{"A1"}, "key-1", now))
}

func TestExistingLeaseForRejectsSplitLeases(t *testing.T) {
	now := time.Now().UTC()
	exp := now.Add(time.Minute)
	existing := map[string]lockRow{
		"A1": heldRow("A1", "lease-1", "key-1", exp),
		"A2": heldRow("A2", "lease-2", "key-1", exp),
	}
	assert.Nil(t, existingLeaseFor(existing, []string{"A1", "A2"}, "key-1", now))
}
