// README: Trip store backed by PostgreSQL.
package trip

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"greenmile/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Trip(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, rider_id, store_id, status, created_at, completed_at
		FROM delivery_trips
		WHERE id = $1`, string(id),
	)
	return scanTrip(row)
}

func (s *Store) Order(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, customer_id, delivery_trip_id, status, delivery_sequence,
		       delivery_lat, delivery_lng, delivered_at
		FROM orders
		WHERE id = $1`, string(id),
	)
	return scanOrder(row)
}

// TripForOrder resolves an order together with its trip in one round trip.
func (s *Store) TripForOrder(ctx context.Context, orderID types.ID) (*Trip, *Order, error) {
	o, err := s.Order(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.Trip(ctx, o.TripID)
	if err != nil {
		return nil, nil, err
	}
	return t, o, nil
}

// RemainingStops returns the trip's still-undelivered stops in delivery
// sequence order.
func (s *Store) RemainingStops(ctx context.Context, tripID types.ID) ([]Stop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, delivery_sequence, delivery_lat, delivery_lng
		FROM orders
		WHERE delivery_trip_id = $1 AND status = $2
		ORDER BY delivery_sequence`,
		string(tripID), string(OrderOutForDelivery),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var st Stop
		if err := rows.Scan(&st.OrderID, &st.Sequence, &st.Point.Lat, &st.Point.Lng); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// Deliver runs the transactional body of a delivery confirmation. The trip
// row is locked first so concurrent confirmations for the same trip see each
// other's committed state when counting remaining stops; the order row lock
// makes the status re-check decide same-order races.
func (s *Store) Deliver(ctx context.Context, cmd DeliverTx) (DeliverOutcome, error) {
	var out DeliverOutcome

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, mapStoreErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tripStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM delivery_trips WHERE id = $1 FOR UPDATE`,
		string(cmd.TripID),
	).Scan(&tripStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, mapStoreErr(err)
	}
	if TripStatus(tripStatus) != TripInProgress {
		return out, ErrTripNotActive
	}

	var orderStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM orders
		WHERE id = $1 AND delivery_trip_id = $2
		FOR UPDATE`,
		string(cmd.OrderID), string(cmd.TripID),
	).Scan(&orderStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrOrderNotInTrip
	}
	if err != nil {
		return out, mapStoreErr(err)
	}
	if OrderStatus(orderStatus) != OrderOutForDelivery {
		out.ActualStatus = OrderStatus(orderStatus)
		return out, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, delivered_at = NOW() WHERE id = $2`,
		string(OrderDelivered), string(cmd.OrderID),
	); err != nil {
		return out, mapStoreErr(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_logs (
			order_id, from_status, to_status, actor_id, collected_amount, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		string(cmd.OrderID),
		string(OrderOutForDelivery),
		string(OrderDelivered),
		string(cmd.RiderID),
		cmd.CollectedAmount,
		cmd.Note,
	); err != nil {
		return out, mapStoreErr(err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE delivery_trip_id = $1 AND status = $2`,
		string(cmd.TripID), string(OrderOutForDelivery),
	).Scan(&remaining); err != nil {
		return out, mapStoreErr(err)
	}

	out.AllDelivered = remaining == 0
	if out.AllDelivered {
		tag, err := tx.Exec(ctx, `
			UPDATE delivery_trips SET status = $1, completed_at = NOW()
			WHERE id = $2 AND status = $3`,
			string(TripCompleted), string(cmd.TripID), string(TripInProgress),
		)
		if err != nil {
			return out, mapStoreErr(err)
		}
		out.TripCompleted = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return DeliverOutcome{}, mapStoreErr(err)
	}
	return out, nil
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.RiderID, &t.StoreID, &t.Status, &t.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var deliveredAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.TripID, &o.Status, &o.DeliverySequence,
		&o.Dropoff.Lat, &o.Dropoff.Lng, &deliveredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		v := deliveredAt.Time
		o.DeliveredAt = &v
	}
	return &o, nil
}

// mapStoreErr surfaces serialization failures and deadlocks as ErrConflict
// so the client may retry; silently succeeding here would corrupt trip state.
func mapStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return ErrConflict
		}
	}
	return err
}
