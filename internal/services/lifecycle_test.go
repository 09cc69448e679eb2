package services_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"warung/internal/models"
	"warung/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(state models.OrderState) models.OrderRecord {
	return models.OrderRecord{
		ID:    "order-1",
		State: state,
		Actors: models.OrderActors{
			ClientID:   "client-1",
			MerchantID: "merchant-1",
		},
		Items: []models.OrderItem{
			{ProductID: "prod-1", Name: "Nasi goreng", Quantity: 2, UnitPrice: 25000},
		},
		Amounts:      models.OrderAmounts{Subtotal: 50000, DeliveryFee: 8000, Total: 58000},
		DeliveryMode: models.DeliveryModeDelivery,
		Version:      3,
		CreatedAt:    time.Now().Add(-time.Hour),
		UpdatedAt:    time.Now().Add(-time.Minute),
	}
}

func goodRating() *models.Rating {
	return &models.Rating{Quality: 5, Service: 4, Timeliness: 5, Overall: 5}
}

// goodParams returns parameters that satisfy the action's requirements.
func goodParams(action services.OrderAction) services.ActionParams {
	switch action {
	case services.ActionConfirm:
		return services.ActionParams{CommittedMinutes: 45}
	case services.ActionReject:
		return services.ActionParams{Reason: "Out of stock"}
	case services.ActionCancel:
		return services.ActionParams{Reason: "Changed my mind"}
	case services.ActionMarkDelivered, services.ActionClose:
		return services.ActionParams{Rating: goodRating()}
	}
	return services.ActionParams{}
}

func TestLifecycle_TransitionTable(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	type legal struct {
		role   models.Role
		state  models.OrderState
		action services.OrderAction
		target models.OrderState
	}
	legalTransitions := []legal{
		{models.RoleMerchant, models.StatePending, services.ActionConfirm, models.StateConfirmed},
		{models.RoleMerchant, models.StateConfirmed, services.ActionStartPreparing, models.StatePreparing},
		{models.RoleMerchant, models.StatePreparing, services.ActionMarkReady, models.StateReady},
		{models.RoleMerchant, models.StateReady, services.ActionMarkDelivered, models.StateDelivered},
		{models.RoleMerchant, models.StatePending, services.ActionReject, models.StateRejected},
		{models.RoleMerchant, models.StateConfirmed, services.ActionCancel, models.StateCancelled},
		{models.RoleClient, models.StatePending, services.ActionCancel, models.StateCancelled},
		{models.RoleClient, models.StateConfirmed, services.ActionCancel, models.StateCancelled},
		{models.RoleClient, models.StateDelivered, services.ActionClose, models.StateClosed},
	}
	isLegal := func(role models.Role, state models.OrderState, action services.OrderAction) (models.OrderState, bool) {
		for _, l := range legalTransitions {
			if l.role == role && l.state == state && l.action == action {
				return l.target, true
			}
		}
		return "", false
	}

	allStates := []models.OrderState{
		models.StatePending, models.StateConfirmed, models.StatePreparing, models.StateReady,
		models.StateDelivered, models.StateClosed, models.StateRejected, models.StateCancelled,
	}
	allActions := []services.OrderAction{
		services.ActionConfirm, services.ActionStartPreparing, services.ActionMarkReady,
		services.ActionMarkDelivered, services.ActionReject, services.ActionCancel, services.ActionClose,
	}

	for _, role := range []models.Role{models.RoleClient, models.RoleMerchant} {
		for _, state := range allStates {
			for _, action := range allActions {
				name := fmt.Sprintf("%s_%s_%s", role, state, action)
				t.Run(name, func(t *testing.T) {
					order := newOrder(state)
					result, err := lifecycle.Apply(role, order, action, goodParams(action))

					if target, ok := isLegal(role, state, action); ok {
						require.NoError(t, err)
						assert.Equal(t, target, result.State)
					} else {
						require.Error(t, err)
						assert.True(t, errors.Is(err, models.ErrIllegalTransition),
							"expected IllegalTransition, got %v", err)
					}
					// The input record is never mutated, legal or not.
					assert.Equal(t, state, order.State)
				})
			}
		}
	}
}

func TestLifecycle_ConfirmSetsCommittedMinutes(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	result, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StatePending),
		services.ActionConfirm, services.ActionParams{CommittedMinutes: 45})
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, result.State)
	require.NotNil(t, result.CommittedMinutes)
	assert.Equal(t, 45, *result.CommittedMinutes)
}

func TestLifecycle_ConfirmRejectsBadMinutes(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	for _, minutes := range []int{0, 10, 14, 125, 40, 135, -15} {
		_, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StatePending),
			services.ActionConfirm, services.ActionParams{CommittedMinutes: minutes})
		assert.ErrorIs(t, err, models.ErrIllegalTransition, "minutes=%d should be rejected", minutes)
	}

	// 15-minute steps inside 15..120 are all fine.
	for minutes := 15; minutes <= 120; minutes += 15 {
		_, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StatePending),
			services.ActionConfirm, services.ActionParams{CommittedMinutes: minutes})
		assert.NoError(t, err, "minutes=%d should be accepted", minutes)
	}
}

func TestLifecycle_TerminalTransitionsRequireReason(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	_, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StatePending),
		services.ActionReject, services.ActionParams{})
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = lifecycle.Apply(models.RoleClient, newOrder(models.StatePending),
		services.ActionCancel, services.ActionParams{Reason: "   "})
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	// Free text is as good as the fixed sets.
	result, err := lifecycle.Apply(models.RoleClient, newOrder(models.StateConfirmed),
		services.ActionCancel, services.ActionParams{Reason: "Bus broke down, can't pick up"})
	require.NoError(t, err)
	require.NotNil(t, result.TerminalReason)
	assert.Equal(t, "Bus broke down, can't pick up", *result.TerminalReason)
	require.NotNil(t, result.TerminalCausedBy)
	assert.Equal(t, models.RoleClient, *result.TerminalCausedBy)
	assert.False(t, result.CancellationAcknowledged)
}

func TestLifecycle_RatingGate(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	// No rating at all.
	_, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StateReady),
		services.ActionMarkDelivered, services.ActionParams{})
	assert.ErrorIs(t, err, models.ErrRatingIncomplete)

	// Partial rating: one criterion missing.
	_, err = lifecycle.Apply(models.RoleMerchant, newOrder(models.StateReady),
		services.ActionMarkDelivered, services.ActionParams{
			Rating: &models.Rating{Quality: 5, Service: 4, Overall: 5},
		})
	assert.ErrorIs(t, err, models.ErrRatingIncomplete)

	// Out-of-range criterion.
	_, err = lifecycle.Apply(models.RoleClient, newOrder(models.StateDelivered),
		services.ActionClose, services.ActionParams{
			Rating: &models.Rating{Quality: 6, Service: 4, Timeliness: 3, Overall: 5},
		})
	assert.ErrorIs(t, err, models.ErrRatingIncomplete)

	// Complete rating commits the transition and records it.
	result, err := lifecycle.Apply(models.RoleMerchant, newOrder(models.StateReady),
		services.ActionMarkDelivered, services.ActionParams{Rating: goodRating()})
	require.NoError(t, err)
	assert.Equal(t, models.StateDelivered, result.State)
	require.NotNil(t, result.Ratings.FromMerchant)
	assert.Equal(t, *goodRating(), *result.Ratings.FromMerchant)
}

func TestLifecycle_CloseImpliesDeliveryAcknowledged(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	result, err := lifecycle.Apply(models.RoleClient, newOrder(models.StateDelivered),
		services.ActionClose, services.ActionParams{Rating: goodRating()})
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, result.State)
	assert.True(t, result.DeliveryAcknowledged)
	require.NotNil(t, result.Ratings.FromClient)
}

func TestLifecycle_AcknowledgeDelivery(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	// Merchant cannot acknowledge delivery.
	_, err := lifecycle.AcknowledgeDelivery(models.RoleMerchant, newOrder(models.StateDelivered))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	// Not delivered yet.
	_, err = lifecycle.AcknowledgeDelivery(models.RoleClient, newOrder(models.StateReady))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	result, err := lifecycle.AcknowledgeDelivery(models.RoleClient, newOrder(models.StateDelivered))
	require.NoError(t, err)
	assert.Equal(t, models.StateDelivered, result.State)
	assert.True(t, result.DeliveryAcknowledged)

	// Idempotent: acknowledging again changes nothing.
	again, err := lifecycle.AcknowledgeDelivery(models.RoleClient, result)
	require.NoError(t, err)
	assert.Equal(t, result.UpdatedAt, again.UpdatedAt)
	assert.True(t, again.DeliveryAcknowledged)
}

func TestLifecycle_AvailableActions(t *testing.T) {
	lifecycle := services.NewLifecycleService()

	cases := []struct {
		role  models.Role
		state models.OrderState
		want  []services.OrderAction
	}{
		{models.RoleMerchant, models.StatePending, []services.OrderAction{services.ActionConfirm, services.ActionReject}},
		{models.RoleMerchant, models.StateConfirmed, []services.OrderAction{services.ActionStartPreparing, services.ActionCancel}},
		{models.RoleMerchant, models.StatePreparing, []services.OrderAction{services.ActionMarkReady}},
		{models.RoleMerchant, models.StateReady, []services.OrderAction{services.ActionMarkDelivered}},
		{models.RoleMerchant, models.StateDelivered, []services.OrderAction{}},
		{models.RoleClient, models.StatePending, []services.OrderAction{services.ActionCancel}},
		{models.RoleClient, models.StateConfirmed, []services.OrderAction{services.ActionCancel}},
		{models.RoleClient, models.StateDelivered, []services.OrderAction{services.ActionClose}},
		{models.RoleClient, models.StateClosed, []services.OrderAction{}},
		{models.RoleClient, models.StateCancelled, []services.OrderAction{}},
	}

	for _, tc := range cases {
		got := lifecycle.Available(tc.role, tc.state)
		assert.Equal(t, tc.want, got, "%s in %s", tc.role, tc.state)

		// Every listed action must have a known target state.
		for _, action := range got {
			target, ok := lifecycle.Target(tc.role, action)
			assert.True(t, ok, "%s/%s has no target", tc.role, action)
			assert.True(t, target.Valid())
		}
	}
}
