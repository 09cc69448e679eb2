package repositories

import (
	"sort"
	"sync"

	"warung/internal/models"
)

// View names one of the three projections every order falls into.
type View string

const (
	ViewActive            View = "active"
	ViewNeedsConfirmation View = "needs_confirmation"
	ViewHistory           View = "history"
)

// Classify is the pure projection function: for a given role, every record
// lands in exactly one view. Re-running it after any store mutation yields
// the same answer for the same record.
func Classify(role models.Role, order *models.OrderRecord) View {
	switch {
	case order.State.Terminal():
		if order.NeedsConfirmationBy(role) {
			return ViewNeedsConfirmation
		}
		return ViewHistory
	case order.State == models.StateClosed:
		return ViewHistory
	case order.State == models.StateDelivered:
		// The merchant is done once it delivers; the client keeps the order
		// in front of it until it acknowledges receipt.
		if role == models.RoleClient && !order.DeliveryAcknowledged {
			return ViewActive
		}
		return ViewHistory
	default:
		return ViewActive
	}
}

// Views is one consistent projection of the whole store. The three slices
// partition the records: every order appears in exactly one of them.
type Views struct {
	Active            []models.OrderRecord `json:"active"`
	NeedsConfirmation []models.OrderRecord `json:"needs_confirmation"`
	History           []models.OrderRecord `json:"history"`
}

// OrderStore is the in-memory collection of orders visible to the current
// actor, keyed by id. Writes come only from the reconciliation engine;
// everything else reads projections.
type OrderStore struct {
	role   models.Role
	orders map[string]*models.OrderRecord
	mu     sync.RWMutex
}

// NewOrderStore creates an empty store for the given actor role.
func NewOrderStore(role models.Role) *OrderStore {
	return &OrderStore{
		role:   role,
		orders: make(map[string]*models.OrderRecord),
	}
}

// Role returns the actor role the store was built for.
func (s *OrderStore) Role() models.Role {
	return s.role
}

// Get returns a copy of the record, or ErrOrderNotFound.
func (s *OrderStore) Get(id string) (models.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return models.OrderRecord{}, models.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Put inserts or replaces a record. Only the reconciliation engine calls
// this; it has already decided the record should win.
func (s *OrderStore) Put(order models.OrderRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := order.Clone()
	s.orders[order.ID] = &c
}

// Len returns the number of records held.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// All returns copies of every record, sorted by recency.
func (s *OrderStore) All() []models.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OrderRecord, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, order.Clone())
	}
	sortByRecency(out)
	return out
}

// Projections recomputes the three views in one pass under a single read
// lock, so the result is a consistent partition of the store.
func (s *OrderStore) Projections() Views {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := Views{
		Active:            []models.OrderRecord{},
		NeedsConfirmation: []models.OrderRecord{},
		History:           []models.OrderRecord{},
	}
	for _, order := range s.orders {
		switch Classify(s.role, order) {
		case ViewActive:
			v.Active = append(v.Active, order.Clone())
		case ViewNeedsConfirmation:
			v.NeedsConfirmation = append(v.NeedsConfirmation, order.Clone())
		case ViewHistory:
			v.History = append(v.History, order.Clone())
		}
	}
	sortByRecency(v.Active)
	sortByRecency(v.NeedsConfirmation)
	sortByRecency(v.History)
	return v
}

// Active returns the role-specific active view.
func (s *OrderStore) Active() []models.OrderRecord {
	return s.Projections().Active
}

// NeedsConfirmation returns terminal orders still awaiting this actor's
// acknowledgement.
func (s *OrderStore) NeedsConfirmation() []models.OrderRecord {
	return s.Projections().NeedsConfirmation
}

// History returns closed, acknowledged-terminal and (for the merchant)
// delivered orders.
func (s *OrderStore) History() []models.OrderRecord {
	return s.Projections().History
}

// BadgeCounts returns the counts the shell shows on its tab badges.
func (s *OrderStore) BadgeCounts() (active, needsConfirmation int) {
	v := s.Projections()
	return len(v.Active), len(v.NeedsConfirmation)
}

// sortByRecency orders most-recent first, with id as the tiebreak so the
// result is deterministic for equal timestamps.
func sortByRecency(orders []models.OrderRecord) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].UpdatedAt.Equal(orders[j].UpdatedAt) {
			return orders[i].UpdatedAt.After(orders[j].UpdatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
