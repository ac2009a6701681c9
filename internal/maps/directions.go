// README: Directions provider interface and the Google Maps implementation.
package maps

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"greenmile/internal/types"
)

// RouteLeg is one origin/waypoint/destination segment of a driving route.
type RouteLeg struct {
	DistanceMeters  int `json:"distance_meters"`
	DurationSeconds int `json:"duration_seconds"`
}

// RouteResult is the provider payload cached and returned to customers.
type RouteResult struct {
	Polyline        string     `json:"polyline"`
	Legs            []RouteLeg `json:"legs"`
	DistanceMeters  int        `json:"distance_meters"`
	DurationSeconds int        `json:"duration_seconds"`
}

// RouteProvider computes a driving route through the given stops.
// A nil result with a nil error means the provider found no route; callers
// treat that the same as a provider failure (no route to show).
type RouteProvider interface {
	GetRoute(ctx context.Context, origin, destination types.LatLng, waypoints []types.LatLng) (*RouteResult, error)
}

// GoogleRoutes calls the Google Maps Directions API.
type GoogleRoutes struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleRoutes creates a GoogleRoutes provider with the given API key.
// Every call is bounded by timeout so a slow provider cannot stall a poll.
func NewGoogleRoutes(apiKey string, timeout time.Duration) (*GoogleRoutes, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleRoutes{client: client, timeout: timeout}, nil
}

func (s *GoogleRoutes) GetRoute(ctx context.Context, origin, destination types.LatLng, waypoints []types.LatLng) (*RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r := &maps.DirectionsRequest{
		Origin:      formatLatLng(origin),
		Destination: formatLatLng(destination),
		Mode:        maps.TravelModeDriving,
	}
	for _, w := range waypoints {
		r.Waypoints = append(r.Waypoints, formatLatLng(w))
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, nil
	}

	route := routes[0]
	result := &RouteResult{Polyline: route.OverviewPolyline.Points}
	for _, leg := range route.Legs {
		l := RouteLeg{
			DistanceMeters:  leg.Distance.Meters,
			DurationSeconds: int(leg.Duration / time.Second),
		}
		result.Legs = append(result.Legs, l)
		result.DistanceMeters += l.DistanceMeters
		result.DurationSeconds += l.DurationSeconds
	}
	return result, nil
}

func formatLatLng(p types.LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
