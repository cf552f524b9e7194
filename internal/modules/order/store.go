// README: Order store backed by PostgreSQL with optimistic status versioning.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/types"
)

// Transition is one compare-and-set status change.
type Transition struct {
	OrderID  types.ID
	From     Status
	To       Status
	Version  int
	DriverID *types.ID
	Reason   *string
	ActualKm *float64
	At       time.Time
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const selectOrder = `
	SELECT id, order_number, client_id, driver_id, vehicle_id, service_type,
	       status, status_version,
	       pickup_address, pickup_lat, pickup_lng,
	       dropoff_address, dropoff_lat, dropoff_lng,
	       cargo_description, estimated_km, actual_km,
	       price, platform_fee, driver_share, currency, payment_status,
	       tracking, photos, messages,
	       rating_score, rating_comment, rated_at,
	       cancel_reason, dispute_reason,
	       created_at, accepted_at, started_at, completed_at, cancelled_at
	FROM orders`

func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	var n int64
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n)
	return n, apperr.Durable("orders.next_sequence", err)
}

func (s *Store) Create(ctx context.Context, o *Order) error {
	pickupLat, pickupLng := pointArgs(o.Pickup.Point)
	dropoffLat, dropoffLng := pointArgs(o.Dropoff.Point)
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO orders (
			id, order_number, client_id, driver_id, vehicle_id, service_type,
			status, status_version,
			pickup_address, pickup_lat, pickup_lng,
			dropoff_address, dropoff_lat, dropoff_lng,
			cargo_description, estimated_km,
			price, platform_fee, driver_share, currency, payment_status,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16,
			$17, $18, $19, $20, $21,
			$22
		)`,
		string(o.ID), o.Number, string(o.ClientID), idPtr(o.DriverID), string(o.VehicleID), string(o.ServiceType),
		string(o.Status), o.StatusVersion,
		o.Pickup.Address, pickupLat, pickupLng,
		o.Dropoff.Address, dropoffLat, dropoffLng,
		o.Cargo, o.EstimatedKm,
		o.Price.Amount, o.PlatformFee.Amount, o.DriverShare.Amount, o.Price.Currency, o.PaymentStatus,
		o.CreatedAt,
	)
	return apperr.Durable("orders.insert", err)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, selectOrder+` WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Durable("orders.get", err)
	}
	return o, nil
}

func (s *Store) ListByParty(ctx context.Context, userID types.ID, limit int) ([]Order, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx,
		selectOrder+` WHERE client_id = $1 OR driver_id = $1 ORDER BY created_at DESC LIMIT $2`,
		string(userID), limit)
	if err != nil {
		return nil, apperr.Durable("orders.list", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Durable("orders.list.scan", err)
		}
		out = append(out, *o)
	}
	return out, apperr.Durable("orders.list.rows", rows.Err())
}

// UpdateStatus applies t only if the order is still at t.From/t.Version.
// A non-nil DriverID claims an unassigned order or must match the assigned one.
func (s *Store) UpdateStatus(ctx context.Context, t Transition) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET status = $1::text,
		    status_version = status_version + 1,
		    driver_id = COALESCE($2::text, driver_id),
		    accepted_at = CASE WHEN $1::text = 'accepted' THEN $6 ELSE accepted_at END,
		    started_at = CASE WHEN $1::text = 'in_transit' THEN $6 ELSE started_at END,
		    completed_at = CASE WHEN $1::text = 'completed' THEN $6 ELSE completed_at END,
		    cancelled_at = CASE WHEN $1::text = 'cancelled' THEN $6 ELSE cancelled_at END,
		    disputed_at = CASE WHEN $1::text = 'disputed' THEN $6 ELSE disputed_at END,
		    cancel_reason = CASE WHEN $1::text = 'cancelled' THEN COALESCE($7::text, cancel_reason) ELSE cancel_reason END,
		    dispute_reason = CASE WHEN $1::text = 'disputed' THEN COALESCE($7::text, dispute_reason) ELSE dispute_reason END,
		    actual_km = COALESCE(actual_km, $8::float8)
		WHERE id = $3 AND status = $4 AND status_version = $5
		  AND ($2::text IS NULL OR driver_id IS NULL OR driver_id = $2::text)`,
		string(t.To),
		idPtr(t.DriverID),
		string(t.OrderID),
		string(t.From),
		t.Version,
		t.At,
		t.Reason,
		t.ActualKm,
	)
	if err != nil {
		return false, apperr.Durable("orders.update_status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO order_state_events (order_id, from_status, to_status, actor_type, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus), string(e.ActorType), idPtr(e.ActorID), e.Reason, e.CreatedAt,
	)
	return apperr.Durable("order_state_events.insert", err)
}

// LockTracking reads the tracking path and holds the order row until the
// surrounding transaction ends, so no point lands between the read and the
// status update.
func (s *Store) LockTracking(ctx context.Context, id types.ID) ([]TrackingPoint, error) {
	var points []TrackingPoint
	err := infra.Conn(ctx, s.db).QueryRow(ctx,
		`SELECT tracking FROM orders WHERE id = $1 FOR UPDATE`, string(id)).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Durable("orders.lock_tracking", err)
	}
	return points, nil
}

func (s *Store) AppendTracking(ctx context.Context, id types.ID, p TrackingPoint) error {
	return s.appendJSON(ctx, "tracking", id, p)
}

func (s *Store) AppendPhoto(ctx context.Context, id types.ID, p Photo) error {
	return s.appendJSON(ctx, "photos", id, p)
}

func (s *Store) AppendMessage(ctx context.Context, id types.ID, m Message) error {
	return s.appendJSON(ctx, "messages", id, m)
}

// appendJSON pushes v onto a jsonb array column; column is one of the fixed names above.
func (s *Store) appendJSON(ctx context.Context, column string, id types.ID, v any) error {
	raw, err := json.Marshal([]any{v})
	if err != nil {
		return err
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx,
		`UPDATE orders SET `+column+` = `+column+` || $2::jsonb WHERE id = $1`,
		string(id), raw)
	if err != nil {
		return apperr.Durable("orders.append_"+column, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// SetRating stores the rating once on a completed order.
func (s *Store) SetRating(ctx context.Context, id types.ID, r Rating) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET rating_score = $2, rating_comment = $3, rated_at = $4
		WHERE id = $1 AND status = 'completed' AND rating_score IS NULL`,
		string(id), r.Score, r.Comment, r.At)
	if err != nil {
		return false, apperr.Durable("orders.set_rating", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID sql.NullString
	var pickupLat, pickupLng, dropoffLat, dropoffLng sql.NullFloat64
	var estimatedKm, actualKm sql.NullFloat64
	var ratingScore sql.NullInt32
	var ratingComment sql.NullString
	var ratedAt sql.NullTime
	var cancelReason, disputeReason sql.NullString
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var currency string

	err := row.Scan(
		&o.ID, &o.Number, &o.ClientID, &driverID, &o.VehicleID, &o.ServiceType,
		&o.Status, &o.StatusVersion,
		&o.Pickup.Address, &pickupLat, &pickupLng,
		&o.Dropoff.Address, &dropoffLat, &dropoffLng,
		&o.Cargo, &estimatedKm, &actualKm,
		&o.Price.Amount, &o.PlatformFee.Amount, &o.DriverShare.Amount, &currency, &o.PaymentStatus,
		&o.Tracking, &o.Photos, &o.Messages,
		&ratingScore, &ratingComment, &ratedAt,
		&cancelReason, &disputeReason,
		&o.CreatedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	o.Pickup.Point = toPoint(pickupLat, pickupLng)
	o.Dropoff.Point = toPoint(dropoffLat, dropoffLng)
	o.EstimatedKm = toFloatPtr(estimatedKm)
	o.ActualKm = toFloatPtr(actualKm)
	o.Price.Currency = currency
	o.PlatformFee.Currency = currency
	o.DriverShare.Currency = currency
	if ratingScore.Valid {
		o.Rating = &Rating{Score: int(ratingScore.Int32), Comment: ratingComment.String, At: ratedAt.Time}
	}
	if cancelReason.Valid {
		o.CancelReason = &cancelReason.String
	}
	if disputeReason.Valid {
		o.DisputeReason = &disputeReason.String
	}
	o.AcceptedAt = toTimePtr(acceptedAt)
	o.StartedAt = toTimePtr(startedAt)
	o.CompletedAt = toTimePtr(completedAt)
	o.CancelledAt = toTimePtr(cancelledAt)
	return &o, nil
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func pointArgs(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Lat, &p.Lng
}

func toPoint(lat, lng sql.NullFloat64) *types.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &types.Point{Lat: lat.Float64, Lng: lng.Float64}
}

func toFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
