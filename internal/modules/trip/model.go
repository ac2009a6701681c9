// README: Delivery trip aggregate and status definitions.
package trip

import (
	"time"

	"greenmile/internal/types"
)

type TripStatus string

const (
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
)

type OrderStatus string

const (
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
)

// Trip is a rider's assigned batch of deliveries, sequenced by stop order.
// The only transition is in_progress -> completed, and it happens exactly
// once, when the last out_for_delivery order is marked delivered.
type Trip struct {
	ID          types.ID
	RiderID     types.ID
	StoreID     types.ID
	Status      TripStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Order carries the subset of order fields the tracking core needs.
type Order struct {
	ID               types.ID
	CustomerID       types.ID
	TripID           types.ID
	Status           OrderStatus
	DeliverySequence int
	Dropoff          types.LatLng
	DeliveredAt      *time.Time
}

// Stop is one remaining delivery location within a trip.
type Stop struct {
	OrderID  types.ID
	Sequence int
	Point    types.LatLng
}

// StatusLog is an immutable record of an order status transition.
type StatusLog struct {
	ID              int64
	OrderID         types.ID
	FromStatus      OrderStatus
	ToStatus        OrderStatus
	ActorID         *types.ID
	CollectedAmount *int64
	Note            string
	CreatedAt       time.Time
}
