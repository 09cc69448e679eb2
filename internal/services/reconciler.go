package services

import (
	"context"
	"log"
	"sync"
	"time"

	"warung/internal/models"
	"warung/internal/repositories"
	"warung/pkg/metrics"
)

// mergeSource identifies where an incoming record came from. It only
// matters in fallback mode, when no backend version is available and the
// engine has to rank sources instead of comparing versions.
type mergeSource int

const (
	sourceSnapshot mergeSource = iota + 1
	sourceLocal
	sourceEvent
)

func (s mergeSource) String() string {
	switch s {
	case sourceSnapshot:
		return "snapshot"
	case sourceLocal:
		return "optimistic-local"
	case sourceEvent:
		return "event"
	}
	return "unknown"
}

// ReconcilerService owns the OrderStore and is its only writer. Snapshot
// fetches, stream events and optimistic local updates all funnel into one
// merge function; a mutex serializes them so every mutation is linearized
// no matter how the inputs interleave.
type ReconcilerService struct {
	store   *repositories.OrderStore
	backend repositories.Backend
	history repositories.HistoryRepository
	metrics *metrics.ReconcilerMetrics

	role    models.Role
	actorID string

	// trustArrivalOrder enables the degraded mode for backends that supply
	// no version marker: last write observed wins, ranked by source. Not
	// provably correct under reordering; every drop in this mode is logged.
	trustArrivalOrder bool

	mu sync.Mutex
	// baselines holds the last reconciled copy of each order, for rolling
	// back optimistic updates the backend refused.
	baselines  map[string]models.OrderRecord
	lastSource map[string]mergeSource
}

// NewReconcilerService creates the engine for one actor. history may be nil
// when no local archive is configured.
func NewReconcilerService(store *repositories.OrderStore, backend repositories.Backend, history repositories.HistoryRepository, m *metrics.ReconcilerMetrics, role models.Role, actorID string, trustArrivalOrder bool) *ReconcilerService {
	return &ReconcilerService{
		store:             store,
		backend:           backend,
		history:           history,
		metrics:           m,
		role:              role,
		actorID:           actorID,
		trustArrivalOrder: trustArrivalOrder,
		baselines:         make(map[string]models.OrderRecord),
		lastSource:        make(map[string]mergeSource),
	}
}

// Store exposes the engine's store for projection readers.
func (e *ReconcilerService) Store() *repositories.OrderStore {
	return e.store
}

// HandleEvent merges one stream notification. Duplicates and stale
// deliveries are discarded silently; a payload-less event for an unknown
// order is dropped and left for the next snapshot to materialize.
func (e *ReconcilerService) HandleEvent(event models.OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.Get(event.OrderID)
	known := err == nil

	var incoming models.OrderRecord
	switch {
	case event.Payload != nil:
		incoming = event.Payload.Clone()
		incoming.ID = event.OrderID
		if event.NewState != "" {
			incoming.State = event.NewState
		}
		if event.Version > incoming.Version {
			incoming.Version = event.Version
		}
	case known:
		incoming = existing.Clone()
		incoming.State = event.NewState
		incoming.Version = event.Version
		incoming.UpdatedAt = time.Now()
	default:
		log.Printf("Event for unknown order %s carried no payload; waiting for next snapshot", event.OrderID)
		return nil
	}

	if !incoming.State.Valid() {
		log.Printf("Dropping event for order %s with unknown state %q", event.OrderID, incoming.State)
		return nil
	}

	e.merge(incoming, sourceEvent)
	return nil
}

// ApplySnapshot reconciles a full authoritative listing. Unknown records
// are inserted; known records go through the same merge rule as events, so
// a snapshot that raced a newer event cannot regress the store. Records the
// snapshot is missing are never deleted.
func (e *ReconcilerService) ApplySnapshot(orders []models.OrderRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(orders))
	for i := range orders {
		seen[orders[i].ID] = true
		e.merge(orders[i].Clone(), sourceSnapshot)
	}

	for _, order := range e.store.All() {
		if !seen[order.ID] {
			// Absence signals a pagination or query-scope mismatch, not
			// deletion. An order never legitimately disappears.
			log.Printf("Order %s missing from snapshot; keeping local record (scope mismatch?)", order.ID)
		}
	}
	if e.metrics != nil {
		e.metrics.SnapshotsApplied.Inc()
	}
}

// Refresh fetches a snapshot and reconciles it. A timeout or bad payload
// rejects the whole fetch; the store is never half-updated.
func (e *ReconcilerService) Refresh(ctx context.Context) error {
	orders, err := e.backend.FetchOrders(ctx, e.role, e.actorID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SnapshotFailures.Inc()
		}
		return err
	}
	e.ApplySnapshot(orders)
	return nil
}

// RunPoller refreshes on the given interval until the context is cancelled.
// Polling and the push stream are deliberately the same code path: both are
// producers into merge.
func (e *ReconcilerService) RunPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Periodic snapshot refresh failed: %v", err)
			}
		}
	}
}

// ApplyOptimistic records a locally guessed post-action state before the
// backend has confirmed it. The last reconciled copy is kept as the
// rollback baseline.
func (e *ReconcilerService) ApplyOptimistic(order models.OrderRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, held := e.baselines[order.ID]; !held {
		if existing, err := e.store.Get(order.ID); err == nil {
			e.baselines[order.ID] = existing
		}
	}
	order.Optimistic = true
	e.lastSource[order.ID] = sourceLocal
	e.store.Put(order)
}

// ApplyAuthoritative merges the record the backend returned for a submitted
// action. It carries a fresh version, so it supersedes the optimistic guess.
func (e *ReconcilerService) ApplyAuthoritative(order models.OrderRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.merge(order.Clone(), sourceEvent)
}

// Rollback restores the last reconciled state after a failed submission.
// No-op if nothing optimistic is pending for the order.
func (e *ReconcilerService) Rollback(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	baseline, ok := e.baselines[orderID]
	if !ok {
		return
	}
	delete(e.baselines, orderID)
	current, err := e.store.Get(orderID)
	if err != nil || !current.Optimistic {
		return
	}
	e.store.Put(baseline)
	e.lastSource[orderID] = sourceSnapshot
	if e.metrics != nil {
		e.metrics.Rollbacks.Inc()
	}
	log.Printf("Rolled order %s back to its last reconciled state (%s)", orderID, baseline.State)
}

// NoteStreamReconnect counts a stream reconnection attempt. Wired as the
// subscriber's OnReconnect callback.
func (e *ReconcilerService) NoteStreamReconnect() {
	if e.metrics != nil {
		e.metrics.StreamReconnects.Inc()
	}
}

// merge applies the version rule from one place so it is identical for
// every input source. Caller holds e.mu.
func (e *ReconcilerService) merge(incoming models.OrderRecord, src mergeSource) bool {
	existing, err := e.store.Get(incoming.ID)
	if err != nil {
		// First sighting: insert as-is.
		e.commit(incoming, src)
		return true
	}

	if e.trustArrivalOrder || incoming.Version == 0 || existing.Version == 0 {
		return e.mergeByArrival(existing, incoming, src)
	}

	if incoming.Version < existing.Version {
		if e.metrics != nil {
			e.metrics.StaleDrops.Inc()
		}
		log.Printf("Discarding stale %s update for order %s (version %d < %d)",
			src, incoming.ID, incoming.Version, existing.Version)
		return false
	}
	if incoming.Version == existing.Version && !existing.Optimistic {
		// Exact duplicate delivery. Dropping it is what makes the merge
		// idempotent.
		if e.metrics != nil {
			e.metrics.DuplicateEvents.Inc()
		}
		return false
	}

	e.commit(e.overlay(existing, incoming), src)
	return true
}

// mergeByArrival is the weaker fallback when no version marker exists:
// trust the most recently applied source ranked event > optimistic-local >
// snapshot. Every decision against an existing record is ambiguous, so it
// is logged.
func (e *ReconcilerService) mergeByArrival(existing, incoming models.OrderRecord, src mergeSource) bool {
	prev, ok := e.lastSource[incoming.ID]
	if ok && src < prev {
		log.Printf("No version marker: keeping order %s from %s over incoming %s (last-write-observed mode)",
			incoming.ID, prev, src)
		if e.metrics != nil {
			e.metrics.StaleDrops.Inc()
		}
		return false
	}
	log.Printf("No version marker: applying %s update to order %s by arrival order (last-write-observed mode)",
		src, incoming.ID)
	e.commit(e.overlay(existing, incoming), src)
	return true
}

// overlay replaces the existing record's mutable fields with the incoming
// ones while holding the creation-time fields and the monotonic flags.
// Acknowledgements never reset, and a rating seen once is never unseen.
func (e *ReconcilerService) overlay(existing, incoming models.OrderRecord) models.OrderRecord {
	merged := incoming.Clone()

	// Immutable-at-creation fields: trust the copy we already hold if the
	// incoming one is hollow (events may carry thin payloads).
	if len(merged.Items) == 0 {
		merged.Items = existing.Items
	}
	if merged.Actors == (models.OrderActors{}) {
		merged.Actors = existing.Actors
	}
	if merged.Amounts == (models.OrderAmounts{}) {
		merged.Amounts = existing.Amounts
	}
	if merged.DeliveryMode == "" {
		merged.DeliveryMode = existing.DeliveryMode
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = existing.CreatedAt
	}

	// Set-exactly-once fields survive a thinner incoming copy.
	if merged.CommittedMinutes == nil {
		merged.CommittedMinutes = existing.CommittedMinutes
	}
	if merged.TerminalReason == nil {
		merged.TerminalReason = existing.TerminalReason
	}
	if merged.TerminalCausedBy == nil {
		merged.TerminalCausedBy = existing.TerminalCausedBy
	}
	if merged.Ratings.FromClient == nil {
		merged.Ratings.FromClient = existing.Ratings.FromClient
	}
	if merged.Ratings.FromMerchant == nil {
		merged.Ratings.FromMerchant = existing.Ratings.FromMerchant
	}

	// Monotonic flags: false -> true only.
	merged.RejectionAcknowledged = merged.RejectionAcknowledged || existing.RejectionAcknowledged
	merged.CancellationAcknowledged = merged.CancellationAcknowledged || existing.CancellationAcknowledged
	merged.DeliveryAcknowledged = merged.DeliveryAcknowledged || existing.DeliveryAcknowledged

	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = time.Now()
	}
	return merged
}

// commit writes an authoritative record, clears the optimistic bookkeeping
// and archives the order if it just entered history. Caller holds e.mu.
func (e *ReconcilerService) commit(order models.OrderRecord, src mergeSource) {
	order.Optimistic = false
	e.store.Put(order)
	e.baselines[order.ID] = order
	e.lastSource[order.ID] = src
	if e.metrics != nil && src == sourceEvent {
		e.metrics.EventsApplied.Inc()
	}

	if e.history != nil && repositories.Classify(e.role, &order) == repositories.ViewHistory {
		if err := e.history.Archive(&order); err != nil {
			log.Printf("Failed to archive order %s locally: %v", order.ID, err)
		}
	}
}
