// README: Trip service implements the delivery state transition and its fan-out.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log"

	"greenmile/internal/realtime"
	"greenmile/internal/types"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotYourTrip      = errors.New("not your trip")
	ErrNotYourOrder     = errors.New("not your order")
	ErrTripNotActive    = errors.New("trip is not in progress")
	ErrOrderNotInTrip   = errors.New("order not in this trip")
	ErrUnexpectedStatus = errors.New("unexpected order status")
	ErrConflict         = errors.New("delivery state conflict")
)

// Storage is the transactional surface MarkDelivered needs. The pgx Store
// implements it; tests substitute an in-memory double.
type Storage interface {
	Trip(ctx context.Context, id types.ID) (*Trip, error)
	Order(ctx context.Context, id types.ID) (*Order, error)
	// Deliver runs the all-or-nothing transition: order to delivered, status
	// log appended, trip completed when no out_for_delivery orders remain.
	// The order status is re-checked inside the transaction.
	Deliver(ctx context.Context, cmd DeliverTx) (DeliverOutcome, error)
}

// LocationClearer removes a trip's live rider position on completion.
type LocationClearer interface {
	Clear(ctx context.Context, tripID types.ID) error
}

// RouteInvalidator drops a trip's cached route after its stop set changes.
type RouteInvalidator interface {
	Invalidate(ctx context.Context, tripID types.ID) error
}

type Service struct {
	storage   Storage
	pub       realtime.Publisher
	locations LocationClearer
	routes    RouteInvalidator
}

func NewService(storage Storage, pub realtime.Publisher, locations LocationClearer, routes RouteInvalidator) *Service {
	return &Service{storage: storage, pub: pub, locations: locations, routes: routes}
}

type DeliverCommand struct {
	TripID          types.ID
	OrderID         types.ID
	RiderID         types.ID
	CollectedAmount *int64
	Note            string
}

// DeliverTx is the storage-level command for the transactional body.
type DeliverTx struct {
	TripID          types.ID
	OrderID         types.ID
	RiderID         types.ID
	CollectedAmount *int64
	Note            string
}

// DeliverOutcome reports what the transaction observed and did.
type DeliverOutcome struct {
	AllDelivered  bool
	TripCompleted bool
	// ActualStatus is set when the in-transaction re-check found the order
	// no longer out_for_delivery; nothing was written in that case.
	ActualStatus OrderStatus
}

type DeliverResult struct {
	AllDelivered bool
}

// MarkDelivered transitions one order to delivered and, when it was the last
// remaining stop, completes the trip. Validation failures are detected before
// any mutation; the mutation itself is a single transaction. Post-commit side
// effects (cache clearing, event publication) are best-effort and never roll
// back the committed transition.
func (s *Service) MarkDelivered(ctx context.Context, cmd DeliverCommand) (DeliverResult, error) {
	t, err := s.storage.Trip(ctx, cmd.TripID)
	if err != nil {
		return DeliverResult{}, err
	}
	if t.RiderID != cmd.RiderID {
		return DeliverResult{}, ErrNotYourTrip
	}
	if t.Status != TripInProgress {
		return DeliverResult{}, ErrTripNotActive
	}
	o, err := s.storage.Order(ctx, cmd.OrderID)
	if err != nil {
		return DeliverResult{}, err
	}
	if o.TripID != cmd.TripID {
		return DeliverResult{}, ErrOrderNotInTrip
	}
	if o.Status != OrderOutForDelivery {
		return DeliverResult{}, statusError(o.Status)
	}

	out, err := s.storage.Deliver(ctx, DeliverTx{
		TripID:          cmd.TripID,
		OrderID:         cmd.OrderID,
		RiderID:         cmd.RiderID,
		CollectedAmount: cmd.CollectedAmount,
		Note:            cmd.Note,
	})
	if err != nil {
		return DeliverResult{}, err
	}
	if out.ActualStatus != "" {
		// Lost a race with a concurrent confirmation for the same order.
		return DeliverResult{}, statusError(out.ActualStatus)
	}

	s.afterDeliver(ctx, cmd, o.CustomerID, out)
	return DeliverResult{AllDelivered: out.AllDelivered}, nil
}

// afterDeliver runs the post-transaction side effects. Failures are logged
// and dropped: a missed invalidation self-heals at the next staleness check.
func (s *Service) afterDeliver(ctx context.Context, cmd DeliverCommand, customerID types.ID, out DeliverOutcome) {
	if out.TripCompleted && s.locations != nil {
		if err := s.locations.Clear(ctx, cmd.TripID); err != nil {
			log.Printf("trip %s: clear location: %v", cmd.TripID, err)
		}
	}
	if s.pub != nil {
		ev := realtime.Event{Type: realtime.EventOrderStatusChanged, Payload: map[string]any{
			"order_id": cmd.OrderID,
			"status":   OrderDelivered,
		}}
		if err := s.pub.Publish(ctx, realtime.UserTopic(customerID), ev); err != nil {
			log.Printf("trip %s: publish order status: %v", cmd.TripID, err)
		}
		stopEv := realtime.Event{Type: realtime.EventStopCompleted, Payload: map[string]any{
			"trip_id":       cmd.TripID,
			"order_id":      cmd.OrderID,
			"all_delivered": out.AllDelivered,
		}}
		if out.TripCompleted {
			stopEv.Type = realtime.EventTripCompleted
		}
		if err := s.pub.Publish(ctx, realtime.TripTopic(cmd.TripID), stopEv); err != nil {
			log.Printf("trip %s: publish stop completed: %v", cmd.TripID, err)
		}
	}
	// The stop set changed, so any cached route is stale regardless of the
	// age/displacement heuristic.
	if s.routes != nil {
		if err := s.routes.Invalidate(ctx, cmd.TripID); err != nil {
			log.Printf("trip %s: invalidate route cache: %v", cmd.TripID, err)
		}
	}
}

func statusError(actual OrderStatus) error {
	return fmt.Errorf("order is %s, expected %s: %w", actual, OrderOutForDelivery, ErrUnexpectedStatus)
}
