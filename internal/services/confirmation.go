package services

import (
	"fmt"
	"time"

	"warung/internal/models"
)

// The confirmation ledger is derived state: it is nothing more than the pair
// of acknowledgement booleans on the record, queried per role. Exactly one
// actor causes each terminal transition, and the other one must confirm it
// before the order leaves the pending view and enters history.

// NeedsConfirmationBy is the ledger query, exposed at the service layer for
// callers that do not hold a record pointer.
func NeedsConfirmationBy(role models.Role, order *models.OrderRecord) bool {
	return order.NeedsConfirmationBy(role)
}

// Acknowledge flips the acknowledgement flag for the order's terminal kind.
// It never changes state, and acknowledging an already-acknowledged order is
// a no-op rather than an error. The acting role must be the counter-party.
func Acknowledge(role models.Role, order models.OrderRecord) (models.OrderRecord, error) {
	if !order.State.Terminal() {
		return models.OrderRecord{}, fmt.Errorf("%w: order in state %q has nothing to acknowledge",
			models.ErrIllegalTransition, order.State)
	}
	next := order.Clone()
	if next.Acknowledged() {
		return next, nil
	}
	if !next.NeedsConfirmationBy(role) {
		return models.OrderRecord{}, fmt.Errorf("%w: %s is not the acknowledging party for this %s",
			models.ErrIllegalTransition, role, next.TerminalKind())
	}
	switch next.State {
	case models.StateRejected:
		next.RejectionAcknowledged = true
	case models.StateCancelled:
		next.CancellationAcknowledged = true
	}
	next.UpdatedAt = time.Now()
	return next, nil
}
