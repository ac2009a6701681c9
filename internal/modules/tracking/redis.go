// README: Redis cache backends for multi-instance deployments.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"greenmile/internal/maps"
	"greenmile/internal/types"
)

const (
	locKeyPrefix   = "track:loc:%s"
	routeKeyPrefix = "track:route:%s"
)

// RedisLocationStore keeps rider positions in a Redis hash per trip. The key
// TTL replaces the in-process sweep: Redis expires idle entries itself.
type RedisLocationStore struct {
	rdb *redis.Client
}

func NewRedisLocationStore(rdb *redis.Client) *RedisLocationStore {
	return &RedisLocationStore{rdb: rdb}
}

func (s *RedisLocationStore) Record(ctx context.Context, loc RiderLocation) error {
	fields := map[string]interface{}{
		"rider_id":      string(loc.RiderID),
		"lat":           strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lng":           strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		"heading":       formatOptFloat(loc.Heading),
		"speed":         formatOptFloat(loc.Speed),
		"updated_at_ms": strconv.FormatInt(loc.UpdatedAt.UnixMilli(), 10),
	}
	// Del+HSet so a push without heading/speed does not inherit stale fields.
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, locKey(loc.TripID))
	pipe.HSet(ctx, locKey(loc.TripID), fields)
	pipe.PExpire(ctx, locKey(loc.TripID), locationTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisLocationStore) Get(ctx context.Context, tripID types.ID) (*RiderLocation, error) {
	vals, err := s.rdb.HGetAll(ctx, locKey(tripID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	loc := RiderLocation{
		TripID:  tripID,
		RiderID: types.ID(vals["rider_id"]),
	}
	if loc.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return nil, fmt.Errorf("parsing lat for trip %s: %w", tripID, err)
	}
	if loc.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return nil, fmt.Errorf("parsing lng for trip %s: %w", tripID, err)
	}
	loc.Heading = parseOptFloat(vals["heading"])
	loc.Speed = parseOptFloat(vals["speed"])
	if ms, err := strconv.ParseInt(vals["updated_at_ms"], 10, 64); err == nil {
		loc.UpdatedAt = time.UnixMilli(ms)
	}
	return &loc, nil
}

func (s *RedisLocationStore) Clear(ctx context.Context, tripID types.ID) error {
	return s.rdb.Del(ctx, locKey(tripID)).Err()
}

// Sweep is a no-op: key TTLs bound memory on this backend.
func (s *RedisLocationStore) Sweep(context.Context) error { return nil }

// RedisRouteCache keeps the last computed route per trip as a JSON value
// with the hard TTL; the validity predicate is applied on read.
type RedisRouteCache struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisRouteCache(rdb *redis.Client) *RedisRouteCache {
	return &RedisRouteCache{rdb: rdb, now: time.Now}
}

func (c *RedisRouteCache) GetIfValid(ctx context.Context, tripID types.ID, origin types.LatLng, stopCount int) (*maps.RouteResult, error) {
	data, err := c.rdb.Get(ctx, routeKey(tripID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e CachedRoute
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding cached route for trip %s: %w", tripID, err)
	}
	if !routeStillValid(&e, c.now(), origin, stopCount) {
		return nil, nil
	}
	return &e.Result, nil
}

func (c *RedisRouteCache) Put(ctx context.Context, tripID types.ID, result maps.RouteResult, origin types.LatLng, stopCount int) error {
	e := CachedRoute{
		Result:    result,
		Origin:    origin,
		StopCount: stopCount,
		CachedAt:  c.now(),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, routeKey(tripID), data, routeHardTTL).Err()
}

func (c *RedisRouteCache) Invalidate(ctx context.Context, tripID types.ID) error {
	return c.rdb.Del(ctx, routeKey(tripID)).Err()
}

// Sweep is a no-op: the value TTL garbage-collects unqueried trips.
func (c *RedisRouteCache) Sweep(context.Context) error { return nil }

func locKey(tripID types.ID) string {
	return fmt.Sprintf(locKeyPrefix, string(tripID))
}

func routeKey(tripID types.ID) string {
	return fmt.Sprintf(routeKeyPrefix, string(tripID))
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
