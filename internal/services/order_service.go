package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"warung/internal/models"
	"warung/internal/repositories"
)

// ackAttempts bounds the automatic retries of a terminal acknowledgement
// before the failure is surfaced. The call is idempotent server-side, so
// retrying cannot duplicate any downstream effect.
const ackAttempts = 3

// ActionDeliveryReceived is the state-preserving backend action that flips
// the client's delivery-acknowledged flag without closing the order.
const ActionDeliveryReceived = "acknowledge_delivery"

// OrderService is the write path for user actions: it checks legality with
// the state machine, applies the result optimistically, submits to the
// backend, and rolls back when the backend refuses.
type OrderService struct {
	lifecycle *LifecycleService
	engine    *ReconcilerService
	backend   repositories.Backend
	role      models.Role
}

// NewOrderService creates a new OrderService for the session's actor.
func NewOrderService(lifecycle *LifecycleService, engine *ReconcilerService, backend repositories.Backend, role models.Role) *OrderService {
	return &OrderService{
		lifecycle: lifecycle,
		engine:    engine,
		backend:   backend,
		role:      role,
	}
}

// Views returns the current projections.
func (s *OrderService) Views() repositories.Views {
	return s.engine.Store().Projections()
}

// Get returns one order.
func (s *OrderService) Get(orderID string) (models.OrderRecord, error) {
	return s.engine.Store().Get(orderID)
}

// AvailableActions lists the lifecycle actions this actor may take on the
// order in its current state.
func (s *OrderService) AvailableActions(orderID string) ([]OrderAction, error) {
	order, err := s.engine.Store().Get(orderID)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Available(s.role, order.State), nil
}

// Submit performs a lifecycle action: legality check, optimistic apply,
// backend submission, and either authoritative confirmation or rollback.
// For the rating-coupled actions (mark_delivered, close) the rating is
// submitted as its own idempotent call after the transition is recorded;
// if only the rating call fails, the transition stands and the returned
// error tells the caller to retry the rating alone.
func (s *OrderService) Submit(ctx context.Context, orderID string, action OrderAction, params ActionParams) (models.OrderRecord, error) {
	order, err := s.engine.Store().Get(orderID)
	if err != nil {
		return models.OrderRecord{}, err
	}

	next, err := s.lifecycle.Apply(s.role, order, action, params)
	if err != nil {
		return models.OrderRecord{}, err
	}

	s.engine.ApplyOptimistic(next)

	confirmed, err := s.backend.SubmitAction(ctx, orderID, s.role, string(action), params)
	if err != nil {
		s.engine.Rollback(orderID)
		if errors.Is(err, models.ErrActionSubmissionFailed) {
			return models.OrderRecord{}, err
		}
		return models.OrderRecord{}, fmt.Errorf("%w: %v", models.ErrActionSubmissionFailed, err)
	}
	if confirmed != nil {
		s.engine.ApplyAuthoritative(*confirmed)
	}

	result, err := s.engine.Store().Get(orderID)
	if err != nil {
		return models.OrderRecord{}, err
	}

	if params.Rating != nil && (action == ActionMarkDelivered || action == ActionClose) {
		if err := s.backend.SubmitRating(ctx, orderID, s.role, *params.Rating); err != nil {
			// The transition is already recorded server-side; only the
			// rating needs retrying.
			log.Printf("Rating for order %s did not reach the backend: %v", orderID, err)
			return result, fmt.Errorf("transition recorded but rating submission failed, retry the rating: %w", err)
		}
	}
	return result, nil
}

// AcknowledgeTerminal confirms a rejection or cancellation on behalf of the
// counter-party. Idempotent: acknowledging an already-acknowledged order
// returns the record unchanged. The backend call is retried automatically.
func (s *OrderService) AcknowledgeTerminal(ctx context.Context, orderID string) (models.OrderRecord, error) {
	order, err := s.engine.Store().Get(orderID)
	if err != nil {
		return models.OrderRecord{}, err
	}
	if order.Acknowledged() {
		return order, nil
	}

	next, err := Acknowledge(s.role, order)
	if err != nil {
		return models.OrderRecord{}, err
	}

	s.engine.ApplyOptimistic(next)

	var lastErr error
	for attempt := 1; attempt <= ackAttempts; attempt++ {
		lastErr = s.backend.AcknowledgeTerminal(ctx, orderID, s.role, order.TerminalKind())
		if lastErr == nil {
			s.engine.ApplyAuthoritative(next)
			rec, err := s.engine.Store().Get(orderID)
			if err != nil {
				return models.OrderRecord{}, err
			}
			return rec, nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Printf("Acknowledgement for order %s failed (attempt %d/%d): %v", orderID, attempt, ackAttempts, lastErr)
	}

	s.engine.Rollback(orderID)
	if errors.Is(lastErr, models.ErrAcknowledgementFailed) {
		return models.OrderRecord{}, lastErr
	}
	return models.OrderRecord{}, fmt.Errorf("%w: %v", models.ErrAcknowledgementFailed, lastErr)
}

// AcknowledgeDelivery records that the client has the order in hand. It
// does not change state; it moves the order out of the active view and
// unlocks the rating step.
func (s *OrderService) AcknowledgeDelivery(ctx context.Context, orderID string) (models.OrderRecord, error) {
	order, err := s.engine.Store().Get(orderID)
	if err != nil {
		return models.OrderRecord{}, err
	}
	if order.DeliveryAcknowledged {
		return order, nil
	}

	next, err := s.lifecycle.AcknowledgeDelivery(s.role, order)
	if err != nil {
		return models.OrderRecord{}, err
	}

	s.engine.ApplyOptimistic(next)

	confirmed, err := s.backend.SubmitAction(ctx, orderID, s.role, ActionDeliveryReceived, ActionParams{})
	if err != nil {
		s.engine.Rollback(orderID)
		if errors.Is(err, models.ErrActionSubmissionFailed) {
			return models.OrderRecord{}, err
		}
		return models.OrderRecord{}, fmt.Errorf("%w: %v", models.ErrActionSubmissionFailed, err)
	}
	if confirmed != nil {
		s.engine.ApplyAuthoritative(*confirmed)
	}
	return s.engine.Store().Get(orderID)
}

// RetryRating re-submits this actor's rating for an order whose coupled
// transition already committed but whose rating call failed. Safe to call
// any number of times.
func (s *OrderService) RetryRating(ctx context.Context, orderID string) error {
	order, err := s.engine.Store().Get(orderID)
	if err != nil {
		return err
	}

	var rating *models.Rating
	if s.role == models.RoleClient {
		rating = order.Ratings.FromClient
	} else {
		rating = order.Ratings.FromMerchant
	}
	if rating == nil || !rating.Complete() {
		return fmt.Errorf("%w: no complete rating recorded for order %s", models.ErrRatingIncomplete, orderID)
	}
	return s.backend.SubmitRating(ctx, orderID, s.role, *rating)
}
