package services_test

import (
	"testing"

	"warung/internal/models"
	"warung/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rejectedOrder() models.OrderRecord {
	order := newOrder(models.StateRejected)
	reason := "Out of stock"
	caused := models.RoleMerchant
	order.TerminalReason = &reason
	order.TerminalCausedBy = &caused
	return order
}

func cancelledOrder(causedBy models.Role) models.OrderRecord {
	order := newOrder(models.StateCancelled)
	reason := "Changed my mind"
	order.TerminalReason = &reason
	order.TerminalCausedBy = &causedBy
	return order
}

func TestNeedsConfirmationBy(t *testing.T) {
	// Rejection: always the merchant's doing, so the client confirms.
	rejected := rejectedOrder()
	assert.True(t, services.NeedsConfirmationBy(models.RoleClient, &rejected))
	assert.False(t, services.NeedsConfirmationBy(models.RoleMerchant, &rejected))

	// Client cancellation: the merchant confirms.
	byClient := cancelledOrder(models.RoleClient)
	assert.True(t, services.NeedsConfirmationBy(models.RoleMerchant, &byClient))
	assert.False(t, services.NeedsConfirmationBy(models.RoleClient, &byClient))

	// Merchant cancellation of a confirmed order: the client confirms.
	byMerchant := cancelledOrder(models.RoleMerchant)
	assert.True(t, services.NeedsConfirmationBy(models.RoleClient, &byMerchant))
	assert.False(t, services.NeedsConfirmationBy(models.RoleMerchant, &byMerchant))

	// Nothing to confirm on a live order.
	live := newOrder(models.StateConfirmed)
	assert.False(t, services.NeedsConfirmationBy(models.RoleClient, &live))
	assert.False(t, services.NeedsConfirmationBy(models.RoleMerchant, &live))

	// Already acknowledged.
	acked := rejectedOrder()
	acked.RejectionAcknowledged = true
	assert.False(t, services.NeedsConfirmationBy(models.RoleClient, &acked))
}

func TestAcknowledge_FlipsFlagWithoutChangingState(t *testing.T) {
	order := cancelledOrder(models.RoleClient)

	result, err := services.Acknowledge(models.RoleMerchant, order)
	require.NoError(t, err)
	assert.True(t, result.CancellationAcknowledged)
	assert.Equal(t, models.StateCancelled, result.State)
	assert.Equal(t, *order.TerminalReason, *result.TerminalReason)
	assert.False(t, result.RejectionAcknowledged)
}

func TestAcknowledge_Idempotent(t *testing.T) {
	order := rejectedOrder()

	first, err := services.Acknowledge(models.RoleClient, order)
	require.NoError(t, err)
	require.True(t, first.RejectionAcknowledged)

	// Acknowledging again is a no-op, not an error, and alters nothing.
	second, err := services.Acknowledge(models.RoleClient, first)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, *first.TerminalReason, *second.TerminalReason)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestAcknowledge_RejectsWrongParty(t *testing.T) {
	// The causer does not confirm its own cancellation.
	_, err := services.Acknowledge(models.RoleClient, cancelledOrder(models.RoleClient))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	// Nothing to acknowledge on a live order.
	_, err = services.Acknowledge(models.RoleMerchant, newOrder(models.StatePending))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}
