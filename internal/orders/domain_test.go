package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded}
	allowed := map[Status][]Status{
		StatusPending:    {StatusConfirmed, StatusCancelled, StatusRefunded},
		StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
		StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
		StatusShipped:    {StatusDelivered},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				want = want || s == to
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
		assert.Equal(t, len(allowed[from]) == 0, from.IsTerminal(), from)
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	o := Order{OrderNumber: "ORD-000001", Status: StatusPending}

	require.NoError(t, o.Transition(StatusConfirmed, at))
	require.NotNil(t, o.ConfirmedAt)
	assert.Equal(t, at, *o.ConfirmedAt)

	require.NoError(t, o.Transition(StatusProcessing, at.Add(time.Hour)))
	require.NoError(t, o.Transition(StatusShipped, at.Add(2*time.Hour)))
	assert.Equal(t, at.Add(2*time.Hour), *o.ShippedAt)
	require.NoError(t, o.Transition(StatusDelivered, at.Add(48*time.Hour)))
	assert.Equal(t, at.Add(48*time.Hour), *o.DeliveredAt)
	assert.Nil(t, o.CancelledAt)

	refunded := Order{Status: StatusConfirmed}
	require.NoError(t, refunded.Transition(StatusRefunded, at))
	assert.Equal(t, at, *refunded.CancelledAt)
}

func TestIllegalTransitionLeavesOrderUnchanged(t *testing.T) {
	o := Order{OrderNumber: "ORD-000009", Status: StatusShipped}
	err := o.Transition(StatusCancelled, time.Now())

	var ist *shared.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	assert.Equal(t, "SHIPPED", ist.From)
	assert.Equal(t, "CANCELLED", ist.To)
	assert.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Nil(t, o.CancelledAt)
}

func TestStatusHelpers(t *testing.T) {
	st, err := ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)
	_, err = ParseStatus("LOST")
	assert.ErrorIs(t, err, shared.ErrValidation)

	next, ok := StatusProcessing.Next()
	assert.True(t, ok)
	assert.Equal(t, StatusShipped, next)
	_, ok = StatusDelivered.Next()
	assert.False(t, ok)

	assert.True(t, StatusProcessing.CanCancel())
	assert.False(t, StatusShipped.CanCancel())
	assert.Equal(t, "ORD-000042", FormatOrderNumber(42))
}

func TestNotesAndStats(t *testing.T) {
	o := Order{}
	o.AppendNote("")
	o.AppendNote("leave at door")
	o.AppendNote("Cancellation reason: duplicate")
	assert.Equal(t, "leave at door\nCancellation reason: duplicate", o.Notes)

	var stats CustomerStats
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusDelivered, StatusRefunded} {
		stats.Add(s)
	}
	assert.Equal(t, CustomerStats{Total: 5, Pending: 2, Completed: 1, Cancelled: 1}, stats)
}
