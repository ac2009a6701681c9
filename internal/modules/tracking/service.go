// README: Tracking service: location ingestion, route resolution, trip progress.
package tracking

import (
	"context"
	"log"
	"time"

	"greenmile/internal/maps"
	"greenmile/internal/modules/trip"
	"greenmile/internal/realtime"
	"greenmile/internal/types"
)

// TripReader is the read-only slice of the trip store this service needs.
type TripReader interface {
	Trip(ctx context.Context, id types.ID) (*trip.Trip, error)
	TripForOrder(ctx context.Context, orderID types.ID) (*trip.Trip, *trip.Order, error)
	RemainingStops(ctx context.Context, tripID types.ID) ([]trip.Stop, error)
}

type Service struct {
	trips     TripReader
	locations LocationStore
	routes    RouteCache
	provider  maps.RouteProvider
	pub       realtime.Publisher
	now       func() time.Time
}

func NewService(trips TripReader, locations LocationStore, routes RouteCache, provider maps.RouteProvider, pub realtime.Publisher) *Service {
	return &Service{
		trips:     trips,
		locations: locations,
		routes:    routes,
		provider:  provider,
		pub:       pub,
		now:       time.Now,
	}
}

type RecordCommand struct {
	TripID  types.ID
	RiderID types.ID
	Lat     float64
	Lng     float64
	Heading *float64
	Speed   *float64
}

// RecordLocation overwrites the trip's live position and fans it out to trip
// subscribers. Coordinates are accepted as given; the rider client is the
// trust boundary. The route cache is untouched: staleness is handled lazily
// by the resolver's validity check rather than on every GPS tick.
func (s *Service) RecordLocation(ctx context.Context, cmd RecordCommand) error {
	t, err := s.trips.Trip(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.RiderID != cmd.RiderID {
		return trip.ErrNotYourTrip
	}
	if t.Status != trip.TripInProgress {
		return trip.ErrTripNotActive
	}

	loc := RiderLocation{
		TripID:    cmd.TripID,
		RiderID:   cmd.RiderID,
		Lat:       cmd.Lat,
		Lng:       cmd.Lng,
		Heading:   cmd.Heading,
		Speed:     cmd.Speed,
		UpdatedAt: s.now(),
	}
	if err := s.locations.Record(ctx, loc); err != nil {
		return err
	}

	if s.pub != nil {
		ev := realtime.Event{Type: realtime.EventRiderLocation, Payload: loc}
		if err := s.pub.Publish(ctx, realtime.TripTopic(cmd.TripID), ev); err != nil {
			log.Printf("trip %s: publish location: %v", cmd.TripID, err)
		}
	}
	return nil
}

// LocationForTrip returns the trip's last known position to its own rider,
// or nil when none has been pushed (or it was swept).
func (s *Service) LocationForTrip(ctx context.Context, tripID, callerID types.ID) (*RiderLocation, error) {
	t, err := s.trips.Trip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.RiderID != callerID {
		return nil, trip.ErrNotYourTrip
	}
	return s.locations.Get(ctx, t.ID)
}

// StopView anonymizes another customer's stop: position in the run and
// whether it is the requester's own.
type StopView struct {
	Sequence int  `json:"sequence"`
	Mine     bool `json:"mine"`
}

// Progress is the customer-facing view of a delivery run.
type Progress struct {
	TripID         types.ID        `json:"trip_id"`
	TripStatus     trip.TripStatus `json:"trip_status"`
	RiderID        types.ID        `json:"rider_id"`
	Location       *RiderLocation  `json:"location"`
	RemainingStops []StopView      `json:"remaining_stops"`
	StopNumber     int             `json:"stop_number"`
}

// ProgressForOrder builds the tracking view for the order's customer.
func (s *Service) ProgressForOrder(ctx context.Context, orderID, callerID types.ID) (*Progress, error) {
	t, o, err := s.trips.TripForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != callerID {
		return nil, trip.ErrNotYourOrder
	}

	loc, err := s.locations.Get(ctx, t.ID)
	if err != nil {
		// Degrade to "no location yet" rather than failing the view.
		log.Printf("trip %s: read location: %v", t.ID, err)
		loc = nil
	}

	stops, err := s.trips.RemainingStops(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	views := make([]StopView, 0, len(stops))
	for _, st := range stops {
		views = append(views, StopView{Sequence: st.Sequence, Mine: st.OrderID == orderID})
	}

	return &Progress{
		TripID:         t.ID,
		TripStatus:     t.Status,
		RiderID:        t.RiderID,
		Location:       loc,
		RemainingStops: views,
		StopNumber:     o.DeliverySequence,
	}, nil
}

// RouteForOrder returns the current driving route for the trip serving this
// order, reusing the cached route while it is still valid. A nil result is a
// normal, displayable "no route yet" state: rider offline, nothing left to
// deliver, or the provider had no answer. Provider failures are never
// surfaced as request errors, and there are no retries; the next poll asks
// again.
func (s *Service) RouteForOrder(ctx context.Context, orderID, callerID types.ID) (*maps.RouteResult, error) {
	t, o, err := s.trips.TripForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != callerID {
		return nil, trip.ErrNotYourOrder
	}

	loc, err := s.locations.Get(ctx, t.ID)
	if err != nil {
		log.Printf("trip %s: read location: %v", t.ID, err)
		return nil, nil
	}
	if loc == nil {
		return nil, nil
	}

	stops, err := s.trips.RemainingStops(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, nil
	}

	origin := types.LatLng{Lat: loc.Lat, Lng: loc.Lng}
	cached, err := s.routes.GetIfValid(ctx, t.ID, origin, len(stops))
	if err != nil {
		log.Printf("trip %s: route cache read: %v", t.ID, err)
	}
	if cached != nil {
		return cached, nil
	}

	if s.provider == nil {
		return nil, nil
	}
	destination := stops[len(stops)-1].Point
	waypoints := make([]types.LatLng, 0, len(stops)-1)
	for _, st := range stops[:len(stops)-1] {
		waypoints = append(waypoints, st.Point)
	}
	result, err := s.provider.GetRoute(ctx, origin, destination, waypoints)
	if err != nil {
		log.Printf("trip %s: directions provider: %v", t.ID, err)
		return nil, nil
	}
	if result == nil {
		return nil, nil
	}

	if err := s.routes.Put(ctx, t.ID, *result, origin, len(stops)); err != nil {
		log.Printf("trip %s: route cache write: %v", t.ID, err)
	}
	return result, nil
}

// RunSweeper evicts stale cache entries on a fixed interval until ctx is
// cancelled. It is started once at service init; tests call Sweep directly.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.locations.Sweep(ctx); err != nil {
				log.Printf("location sweep: %v", err)
			}
			if err := s.routes.Sweep(ctx); err != nil {
				log.Printf("route cache sweep: %v", err)
			}
		}
	}
}
