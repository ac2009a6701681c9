// README: Integration tests for tracking handler authorization and wiring.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httpapi "greenmile/internal/http"
	"greenmile/internal/infra"
	"greenmile/internal/modules/tracking"
	"greenmile/internal/modules/trip"
	"greenmile/internal/realtime"
	"greenmile/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

// fakeTrips backs both the tracking reads and the delivery transaction with
// one in-memory trip: rider r1 delivering o1 (customer c1) then o2 (c2).
type fakeTrips struct {
	mu     sync.Mutex
	trips  map[types.ID]*trip.Trip
	orders map[types.ID]*trip.Order
}

func newFakeTrips() *fakeTrips {
	return &fakeTrips{
		trips: map[types.ID]*trip.Trip{
			"t1": {ID: "t1", RiderID: "r1", StoreID: "s1", Status: trip.TripInProgress},
		},
		orders: map[types.ID]*trip.Order{
			"o1": {ID: "o1", CustomerID: "c1", TripID: "t1", Status: trip.OrderOutForDelivery, DeliverySequence: 1, Dropoff: types.LatLng{Lat: 12.95, Lng: 77.58}},
			"o2": {ID: "o2", CustomerID: "c2", TripID: "t1", Status: trip.OrderOutForDelivery, DeliverySequence: 2, Dropoff: types.LatLng{Lat: 12.93, Lng: 77.62}},
		},
	}
}

func (f *fakeTrips) Trip(_ context.Context, id types.ID) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTrips) Order(_ context.Context, id types.ID) (*trip.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeTrips) TripForOrder(ctx context.Context, orderID types.ID) (*trip.Trip, *trip.Order, error) {
	o, err := f.Order(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	t, err := f.Trip(ctx, o.TripID)
	if err != nil {
		return nil, nil, err
	}
	return t, o, nil
}

func (f *fakeTrips) RemainingStops(_ context.Context, tripID types.ID) ([]trip.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stops []trip.Stop
	for _, o := range f.orders {
		if o.TripID == tripID && o.Status == trip.OrderOutForDelivery {
			stops = append(stops, trip.Stop{OrderID: o.ID, Sequence: o.DeliverySequence, Point: o.Dropoff})
		}
	}
	return stops, nil
}

func (f *fakeTrips) Deliver(_ context.Context, cmd trip.DeliverTx) (trip.DeliverOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out trip.DeliverOutcome
	o, ok := f.orders[cmd.OrderID]
	if !ok || o.TripID != cmd.TripID {
		return out, trip.ErrOrderNotInTrip
	}
	if o.Status != trip.OrderOutForDelivery {
		out.ActualStatus = o.Status
		return out, nil
	}
	now := time.Now()
	o.Status = trip.OrderDelivered
	o.DeliveredAt = &now
	remaining := 0
	for _, other := range f.orders {
		if other.TripID == cmd.TripID && other.Status == trip.OrderOutForDelivery {
			remaining++
		}
	}
	if remaining == 0 {
		f.trips[cmd.TripID].Status = trip.TripCompleted
		out.AllDelivered = true
		out.TripCompleted = true
	}
	return out, nil
}

func buildTestServer(verifier infra.TokenVerifier) (http.Handler, *fakeTrips) {
	gin.SetMode(gin.TestMode)
	world := newFakeTrips()
	locs := tracking.NewMemoryLocationStore()
	routes := tracking.NewMemoryRouteCache()
	trackingSvc := tracking.NewService(world, locs, routes, nil, realtime.NopPublisher{})
	tripSvc := trip.NewService(world, realtime.NopPublisher{}, locs, routes)
	return httpapi.NewRouter(verifier, trackingSvc, tripSvc), world
}

func doRequest(h http.Handler, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPushLocation_Unauthenticated(t *testing.T) {
	h, _ := buildTestServer(&stubTokenVerifier{err: errors.New("no token")})
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "t1", "lat": 12.97, "lng": 77.60,
	}, "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestPushLocation_RequiresRiderRole(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("c1", "")) // customer has no role claim
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "t1", "lat": 12.97, "lng": 77.60,
	}, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestPushLocation_MissingCoordinates(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r1", "rider"))
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "t1", "lat": 12.97,
	}, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPushLocation_AnotherRidersTrip(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r2", "rider"))
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "t1", "lat": 12.97, "lng": 77.60,
	}, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestPushLocation_UnknownTrip(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r1", "rider"))
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "nope", "lat": 12.97, "lng": 77.60,
	}, "Bearer sometoken")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPushLocation_OK(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r1", "rider"))
	w := doRequest(h, http.MethodPost, "/api/rider-location", map[string]any{
		"trip_id": "t1", "lat": 12.97, "lng": 77.60, "heading": 180.0,
	}, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"received":true`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestProgressByOrder_WrongCustomer(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("c2", ""))
	w := doRequest(h, http.MethodGet, "/api/rider-location/by-order/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestProgressByOrder_OK(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("c1", ""))
	w := doRequest(h, http.MethodGet, "/api/rider-location/by-order/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"trip_id":"t1"`) || !strings.Contains(body, `"stop_number":1`) {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestRouteByOrder_NoLocationYieldsNullRoute(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("c1", ""))
	w := doRequest(h, http.MethodGet, "/api/rider-location/route/by-order/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"route":null`) {
		t.Errorf("expected null route, got %s", w.Body.String())
	}
}

func TestTripLocation_RiderOnly(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r2", "rider"))
	w := doRequest(h, http.MethodGet, "/api/rider-location/t1", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestDeliver_RequiresRiderRole(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("c1", ""))
	w := doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestDeliver_AnotherRidersTrip(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r2", "rider"))
	w := doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestDeliver_OK(t *testing.T) {
	h, world := buildTestServer(makeVerifier("r1", "rider"))

	w := doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o1",
		map[string]any{"collected_amount": 45000, "cod_note": "cash"}, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"all_delivered":false`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	// Last stop completes the trip.
	w = doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o2", nil, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"all_delivered":true`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if tr, _ := world.Trip(context.Background(), "t1"); tr.Status != trip.TripCompleted {
		t.Errorf("expected completed trip, got %s", tr.Status)
	}
}

func TestDeliver_RepeatIsBadRequest(t *testing.T) {
	h, _ := buildTestServer(makeVerifier("r1", "rider"))

	if w := doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o1", nil, "Bearer sometoken"); w.Code != http.StatusOK {
		t.Fatalf("first confirmation: expected 200, got %d", w.Code)
	}
	w := doRequest(h, http.MethodPatch, "/api/rider-location/trips/t1/deliver/o1", nil, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on repeat confirmation, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "delivered") {
		t.Errorf("expected the actual status in the error, got %s", w.Body.String())
	}
}
