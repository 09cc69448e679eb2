package models

import "time"

// Role identifies which side of the marketplace an actor is on.
type Role string

const (
	RoleClient   Role = "client"
	RoleMerchant Role = "merchant"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleMerchant
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleClient {
		return RoleMerchant
	}
	return RoleClient
}

// OrderState is one value of the order lifecycle.
type OrderState string

const (
	StatePending   OrderState = "pending"
	StateConfirmed OrderState = "confirmed"
	StatePreparing OrderState = "preparing"
	StateReady     OrderState = "ready"
	StateDelivered OrderState = "delivered"
	StateClosed    OrderState = "closed"
	StateRejected  OrderState = "rejected"
	StateCancelled OrderState = "cancelled"
)

// Terminal reports whether the state is a one-sided exit that requires
// acknowledgement by the counter-party.
func (s OrderState) Terminal() bool {
	return s == StateRejected || s == StateCancelled
}

// Valid reports whether the state is one of the enumerated lifecycle states.
func (s OrderState) Valid() bool {
	switch s {
	case StatePending, StateConfirmed, StatePreparing, StateReady,
		StateDelivered, StateClosed, StateRejected, StateCancelled:
		return true
	}
	return false
}

// DeliveryMode is fixed when the order is created.
type DeliveryMode string

const (
	DeliveryModeDelivery DeliveryMode = "delivery"
	DeliveryModePickup   DeliveryMode = "pickup"
)

// TerminalKind distinguishes the two acknowledgeable terminal transitions.
type TerminalKind string

const (
	TerminalRejection    TerminalKind = "rejection"
	TerminalCancellation TerminalKind = "cancellation"
)

// OrderItem is a single line of an order. Prices are snapshotted at
// submission time and never recomputed on this side.
type OrderItem struct {
	ProductID  string   `json:"product_id"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`
	UnitPrice  float64  `json:"unit_price"`
	OfferPrice *float64 `json:"offer_price,omitempty"`
}

// OrderAmounts holds the totals fixed at creation by the backend.
type OrderAmounts struct {
	Subtotal       float64 `json:"subtotal"`
	DeliveryFee    float64 `json:"delivery_fee"`
	CouponDiscount float64 `json:"coupon_discount"`
	Total          float64 `json:"total"`
}

// OrderActors names the two parties of the order. Immutable once created.
type OrderActors struct {
	ClientID   string `json:"client_id"`
	MerchantID string `json:"merchant_id"`
}

// Rating is a four-criteria score, each 1..5. A transition that requires a
// rating must not be attempted until all four criteria are present.
type Rating struct {
	Quality    int `json:"quality" validate:"required,min=1,max=5"`
	Service    int `json:"service" validate:"required,min=1,max=5"`
	Timeliness int `json:"timeliness" validate:"required,min=1,max=5"`
	Overall    int `json:"overall" validate:"required,min=1,max=5"`
}

// Complete reports whether all four criteria carry a value in range.
func (r Rating) Complete() bool {
	for _, v := range []int{r.Quality, r.Service, r.Timeliness, r.Overall} {
		if v < 1 || v > 5 {
			return false
		}
	}
	return true
}

// OrderRatings holds the at-most-once ratings from each side.
type OrderRatings struct {
	FromClient   *Rating `json:"from_client,omitempty"`
	FromMerchant *Rating `json:"from_merchant,omitempty"`
}

// OrderRecord is the canonical shape of one order as known to this client.
// Items, amounts, actors and delivery mode never change after creation;
// only the state-related fields mutate, and only through the lifecycle rules.
type OrderRecord struct {
	ID           string       `json:"id"`
	State        OrderState   `json:"state"`
	Actors       OrderActors  `json:"actors"`
	Items        []OrderItem  `json:"items"`
	Amounts      OrderAmounts `json:"amounts"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`

	// CommittedMinutes is set exactly once, when the merchant confirms.
	CommittedMinutes *int `json:"committed_minutes,omitempty"`

	// TerminalReason and TerminalCausedBy are set together, exactly once,
	// when the order enters rejected or cancelled.
	TerminalReason   *string `json:"terminal_reason,omitempty"`
	TerminalCausedBy *Role   `json:"terminal_caused_by,omitempty"`

	// Acknowledgement flags only ever flip false -> true.
	RejectionAcknowledged    bool `json:"rejection_acknowledged"`
	CancellationAcknowledged bool `json:"cancellation_acknowledged"`
	DeliveryAcknowledged     bool `json:"delivery_acknowledged"`

	Ratings OrderRatings `json:"ratings"`

	// Version is the backend-supplied monotonic marker for this record.
	// It is the sole ordering source during reconciliation.
	Version int64 `json:"version"`

	// Optimistic marks a locally guessed state awaiting backend confirmation.
	// Never serialized; cleared on any authoritative merge.
	Optimistic bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TerminalKind returns which handshake the record's terminal state belongs
// to, or "" if the order is not terminal.
func (o *OrderRecord) TerminalKind() TerminalKind {
	switch o.State {
	case StateRejected:
		return TerminalRejection
	case StateCancelled:
		return TerminalCancellation
	}
	return ""
}

// Acknowledged reports whether the terminal handshake for this record has
// completed. False for non-terminal records.
func (o *OrderRecord) Acknowledged() bool {
	switch o.State {
	case StateRejected:
		return o.RejectionAcknowledged
	case StateCancelled:
		return o.CancellationAcknowledged
	}
	return false
}

// NeedsConfirmationBy reports whether the given role still owes an
// acknowledgement for this order's terminal transition. Always false for
// non-terminal orders, for the actor that caused the transition, and for
// orders already acknowledged.
func (o *OrderRecord) NeedsConfirmationBy(role Role) bool {
	if !o.State.Terminal() || o.Acknowledged() {
		return false
	}
	switch o.State {
	case StateRejected:
		// Rejection is always the merchant's doing.
		return role == RoleClient
	case StateCancelled:
		if o.TerminalCausedBy == nil {
			// Records without attribution: cancellation is most commonly
			// the client's, so the merchant confirms.
			return role == RoleMerchant
		}
		return role == o.TerminalCausedBy.Counterpart()
	}
	return false
}

// Clone returns a deep copy so callers can hand records out of the store
// without aliasing the items slice or rating pointers.
func (o *OrderRecord) Clone() OrderRecord {
	c := *o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
		for i, it := range o.Items {
			if it.OfferPrice != nil {
				p := *it.OfferPrice
				c.Items[i].OfferPrice = &p
			}
		}
	}
	if o.CommittedMinutes != nil {
		v := *o.CommittedMinutes
		c.CommittedMinutes = &v
	}
	if o.TerminalReason != nil {
		v := *o.TerminalReason
		c.TerminalReason = &v
	}
	if o.TerminalCausedBy != nil {
		v := *o.TerminalCausedBy
		c.TerminalCausedBy = &v
	}
	if o.Ratings.FromClient != nil {
		v := *o.Ratings.FromClient
		c.Ratings.FromClient = &v
	}
	if o.Ratings.FromMerchant != nil {
		v := *o.Ratings.FromMerchant
		c.Ratings.FromMerchant = &v
	}
	return c
}

// OrderEvent is one state-change notification from the event channel.
// Delivery is at-least-once and unordered; Version dedupes and orders it.
type OrderEvent struct {
	OrderID  string       `json:"order_id"`
	NewState OrderState   `json:"new_state"`
	Version  int64        `json:"version"`
	Payload  *OrderRecord `json:"payload,omitempty"`
}
