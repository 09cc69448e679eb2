package services

import (
	"fmt"
	"strings"
	"time"

	"warung/internal/models"

	"github.com/go-playground/validator/v10"
)

// OrderAction is a user-requested lifecycle transition.
type OrderAction string

const (
	ActionConfirm        OrderAction = "confirm"
	ActionStartPreparing OrderAction = "start_preparing"
	ActionMarkReady      OrderAction = "mark_ready"
	ActionMarkDelivered  OrderAction = "mark_delivered"
	ActionReject         OrderAction = "reject"
	ActionCancel         OrderAction = "cancel"
	ActionClose          OrderAction = "close"
)

// orderedActions fixes the enumeration order for action listings.
var orderedActions = []OrderAction{
	ActionConfirm,
	ActionStartPreparing,
	ActionMarkReady,
	ActionMarkDelivered,
	ActionReject,
	ActionCancel,
	ActionClose,
}

// ActionParams carries the per-action inputs. Which fields are required
// depends on the action: confirm needs CommittedMinutes, reject and cancel
// need Reason, mark_delivered and close need a complete Rating.
type ActionParams struct {
	CommittedMinutes int            `json:"committed_minutes,omitempty" validate:"omitempty,min=15,max=120"`
	Reason           string         `json:"reason,omitempty"`
	Rating           *models.Rating `json:"rating,omitempty"`
}

// Fixed reason sets offered in the UI. Free text is equally valid; the only
// hard requirement is a non-empty reason.
var (
	RejectionReasons = []string{
		"Out of stock",
		"Closing soon",
		"Cannot deliver to this address",
		"Too busy right now",
	}
	CancellationReasons = []string{
		"Changed my mind",
		"Ordered by mistake",
		"Taking too long",
		"Found a better option",
	}
)

type transition struct {
	from []models.OrderState
	to   models.OrderState
}

func (t transition) allows(s models.OrderState) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// transitions is the full legality table. Anything absent here is an
// illegal transition for the (role, action) pair.
var transitions = map[models.Role]map[OrderAction]transition{
	models.RoleMerchant: {
		ActionConfirm:        {from: []models.OrderState{models.StatePending}, to: models.StateConfirmed},
		ActionStartPreparing: {from: []models.OrderState{models.StateConfirmed}, to: models.StatePreparing},
		ActionMarkReady:      {from: []models.OrderState{models.StatePreparing}, to: models.StateReady},
		ActionMarkDelivered:  {from: []models.OrderState{models.StateReady}, to: models.StateDelivered},
		ActionReject:         {from: []models.OrderState{models.StatePending}, to: models.StateRejected},
		ActionCancel:         {from: []models.OrderState{models.StateConfirmed}, to: models.StateCancelled},
	},
	models.RoleClient: {
		ActionCancel: {from: []models.OrderState{models.StatePending, models.StateConfirmed}, to: models.StateCancelled},
		ActionClose:  {from: []models.OrderState{models.StateDelivered}, to: models.StateClosed},
	},
}

// LifecycleService is the order state machine: it decides which transitions
// are legal for a role and produces the post-transition record. It never
// mutates its input and performs no I/O.
type LifecycleService struct {
	validate *validator.Validate
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService() *LifecycleService {
	return &LifecycleService{
		validate: validator.New(),
	}
}

// CanApply reports whether the action is legal for the role in the given
// state, ignoring parameter requirements.
func (s *LifecycleService) CanApply(role models.Role, state models.OrderState, action OrderAction) bool {
	t, ok := transitions[role][action]
	return ok && t.allows(state)
}

// Target returns the state the action leads to, for callers that need it
// before committing (optimistic rendering). Second result is false when the
// (role, action) pair is unknown.
func (s *LifecycleService) Target(role models.Role, action OrderAction) (models.OrderState, bool) {
	t, ok := transitions[role][action]
	return t.to, ok
}

// Apply validates the requested transition and returns the resulting record.
// On any failure the returned error wraps one of the taxonomy sentinels and
// the input order is untouched.
func (s *LifecycleService) Apply(role models.Role, order models.OrderRecord, action OrderAction, params ActionParams) (models.OrderRecord, error) {
	if !s.CanApply(role, order.State, action) {
		return models.OrderRecord{}, fmt.Errorf("%w: %s cannot %s an order in state %q",
			models.ErrIllegalTransition, role, action, order.State)
	}

	next := order.Clone()

	switch action {
	case ActionConfirm:
		if err := s.validate.Var(params.CommittedMinutes, "required,min=15,max=120"); err != nil {
			return models.OrderRecord{}, fmt.Errorf("%w: committed minutes must be 15-120, got %d",
				models.ErrIllegalTransition, params.CommittedMinutes)
		}
		if params.CommittedMinutes%15 != 0 {
			return models.OrderRecord{}, fmt.Errorf("%w: committed minutes must be a multiple of 15, got %d",
				models.ErrIllegalTransition, params.CommittedMinutes)
		}
		minutes := params.CommittedMinutes
		next.CommittedMinutes = &minutes

	case ActionReject, ActionCancel:
		reason := strings.TrimSpace(params.Reason)
		if reason == "" {
			return models.OrderRecord{}, fmt.Errorf("%w: %s requires a non-empty reason",
				models.ErrIllegalTransition, action)
		}
		caused := role
		next.TerminalReason = &reason
		next.TerminalCausedBy = &caused

	case ActionMarkDelivered:
		if params.Rating == nil || !params.Rating.Complete() {
			return models.OrderRecord{}, fmt.Errorf("%w: delivering requires rating the client on all four criteria",
				models.ErrRatingIncomplete)
		}
		if err := s.validate.Struct(params.Rating); err != nil {
			return models.OrderRecord{}, fmt.Errorf("%w: %v", models.ErrRatingIncomplete, err)
		}
		if next.Ratings.FromMerchant == nil {
			r := *params.Rating
			next.Ratings.FromMerchant = &r
		}

	case ActionClose:
		if params.Rating == nil || !params.Rating.Complete() {
			return models.OrderRecord{}, fmt.Errorf("%w: closing requires rating the merchant on all four criteria",
				models.ErrRatingIncomplete)
		}
		if err := s.validate.Struct(params.Rating); err != nil {
			return models.OrderRecord{}, fmt.Errorf("%w: %v", models.ErrRatingIncomplete, err)
		}
		if next.Ratings.FromClient == nil {
			r := *params.Rating
			next.Ratings.FromClient = &r
		}
		// Closing implies the client has the goods in hand.
		next.DeliveryAcknowledged = true
	}

	target, _ := s.Target(role, action)
	next.State = target
	next.UpdatedAt = time.Now()
	return next, nil
}

// Available lists the actions the role may take from the given state, in a
// fixed order the shell can render directly.
func (s *LifecycleService) Available(role models.Role, state models.OrderState) []OrderAction {
	actions := []OrderAction{}
	for _, action := range orderedActions {
		if s.CanApply(role, state, action) {
			actions = append(actions, action)
		}
	}
	return actions
}

// AcknowledgeDelivery records that the client has seen a delivered order.
// State-preserving and idempotent; it unlocks the rating step and moves the
// order out of the client's active view.
func (s *LifecycleService) AcknowledgeDelivery(role models.Role, order models.OrderRecord) (models.OrderRecord, error) {
	if role != models.RoleClient {
		return models.OrderRecord{}, fmt.Errorf("%w: only the client acknowledges delivery",
			models.ErrIllegalTransition)
	}
	if order.State != models.StateDelivered && order.State != models.StateClosed {
		return models.OrderRecord{}, fmt.Errorf("%w: order in state %q has not been delivered",
			models.ErrIllegalTransition, order.State)
	}
	next := order.Clone()
	if !next.DeliveryAcknowledged {
		next.DeliveryAcknowledged = true
		next.UpdatedAt = time.Now()
	}
	return next, nil
}
