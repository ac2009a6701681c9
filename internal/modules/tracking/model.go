// README: Tracking cache contracts: rider locations and computed routes.
package tracking

import (
	"context"
	"time"

	"greenmile/internal/maps"
	"greenmile/internal/types"
)

const (
	// A location entry with no push for this long belongs to a rider who went
	// offline without completing the trip; the sweep drops it.
	locationTTL = 10 * time.Minute

	// A cached route is reusable while it is younger than the reuse window,
	// the rider has drifted less than maxDriftKm from the cached origin, and
	// the remaining stop count is unchanged.
	routeReuseWindow = 60 * time.Second
	routeMaxDriftKm  = 0.5

	// Hard bound on route cache entries, coarser than the reuse window.
	routeHardTTL = 120 * time.Second
)

// RiderLocation is the most recent pushed position for an active trip.
// At most one entry exists per trip; last write wins.
type RiderLocation struct {
	TripID    types.ID `json:"trip_id"`
	RiderID   types.ID `json:"rider_id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationStore holds live rider positions keyed by trip. Implementations
// are an in-process map (single instance) or Redis (shared deployment).
type LocationStore interface {
	Record(ctx context.Context, loc RiderLocation) error
	Get(ctx context.Context, tripID types.ID) (*RiderLocation, error)
	Clear(ctx context.Context, tripID types.ID) error
	Sweep(ctx context.Context) error
}

// CachedRoute is a provider result plus the inputs it was computed from.
type CachedRoute struct {
	Result    maps.RouteResult `json:"result"`
	Origin    types.LatLng     `json:"origin"`
	StopCount int              `json:"stop_count"`
	CachedAt  time.Time        `json:"cached_at"`
}

// RouteCache holds the last computed route per trip. GetIfValid returns nil
// whenever the staleness predicate fails; the caller must recompute.
type RouteCache interface {
	GetIfValid(ctx context.Context, tripID types.ID, origin types.LatLng, stopCount int) (*maps.RouteResult, error)
	Put(ctx context.Context, tripID types.ID, result maps.RouteResult, origin types.LatLng, stopCount int) error
	Invalidate(ctx context.Context, tripID types.ID) error
	Sweep(ctx context.Context) error
}

// routeStillValid is the single staleness predicate both cache backends
// apply. Boundary values count as stale.
func routeStillValid(e *CachedRoute, now time.Time, origin types.LatLng, stopCount int) bool {
	if now.Sub(e.CachedAt) >= routeReuseWindow {
		return false
	}
	if haversineKm(e.Origin.Lat, e.Origin.Lng, origin.Lat, origin.Lng) >= routeMaxDriftKm {
		return false
	}
	return e.StopCount == stopCount
}
