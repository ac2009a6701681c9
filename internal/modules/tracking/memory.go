// README: In-process cache backends for single-instance deployments.
package tracking

import (
	"context"
	"sync"
	"time"

	"greenmile/internal/maps"
	"greenmile/internal/types"
)

// MemoryLocationStore keeps rider positions in a process-local map. The
// background sweep bounds memory for trips whose riders went offline.
type MemoryLocationStore struct {
	mu      sync.Mutex
	entries map[types.ID]RiderLocation
	now     func() time.Time
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{
		entries: make(map[types.ID]RiderLocation),
		now:     time.Now,
	}
}

func (m *MemoryLocationStore) Record(_ context.Context, loc RiderLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[loc.TripID] = loc
	return nil
}

func (m *MemoryLocationStore) Get(_ context.Context, tripID types.ID) (*RiderLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.entries[tripID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MemoryLocationStore) Clear(_ context.Context, tripID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, tripID)
	return nil
}

func (m *MemoryLocationStore) Sweep(_ context.Context) error {
	cutoff := m.now().Add(-locationTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, loc := range m.entries {
		if loc.UpdatedAt.Before(cutoff) {
			delete(m.entries, id)
		}
	}
	return nil
}

// MemoryRouteCache keeps computed routes in a process-local map.
type MemoryRouteCache struct {
	mu      sync.Mutex
	entries map[types.ID]CachedRoute
	now     func() time.Time
}

func NewMemoryRouteCache() *MemoryRouteCache {
	return &MemoryRouteCache{
		entries: make(map[types.ID]CachedRoute),
		now:     time.Now,
	}
}

func (m *MemoryRouteCache) GetIfValid(_ context.Context, tripID types.ID, origin types.LatLng, stopCount int) (*maps.RouteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tripID]
	if !ok {
		return nil, nil
	}
	if !routeStillValid(&e, m.now(), origin, stopCount) {
		return nil, nil
	}
	result := e.Result
	return &result, nil
}

func (m *MemoryRouteCache) Put(_ context.Context, tripID types.ID, result maps.RouteResult, origin types.LatLng, stopCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tripID] = CachedRoute{
		Result:    result,
		Origin:    origin,
		StopCount: stopCount,
		CachedAt:  m.now(),
	}
	return nil
}

func (m *MemoryRouteCache) Invalidate(_ context.Context, tripID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, tripID)
	return nil
}

func (m *MemoryRouteCache) Sweep(_ context.Context) error {
	cutoff := m.now().Add(-routeHardTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.CachedAt.Before(cutoff) {
			delete(m.entries, id)
		}
	}
	return nil
}
