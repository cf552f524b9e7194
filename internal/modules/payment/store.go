// README: Payment and wallet store backed by PostgreSQL; writes join the caller's transaction.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRecord(ctx context.Context, orderID types.ID) (*Record, error) {
	var r Record
	var driverID, reference, providerTx, proofURL, confirmedBy sql.NullString
	var paidAt, confirmedAt sql.NullTime
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT id, status, client_id, driver_id, price, platform_fee, driver_share, currency,
		       payment_status, payment_version, payment_reference, payment_provider_tx,
		       payment_paid_at, payment_proof_url, payment_confirmed_by, payment_confirmed_at
		FROM orders
		WHERE id = $1`, string(orderID),
	).Scan(&r.OrderID, &r.OrderStatus, &r.ClientID, &driverID, &r.Amount, &r.PlatformFee, &r.DriverShare, &r.Currency,
		&r.Status, &r.Version, &reference, &providerTx,
		&paidAt, &proofURL, &confirmedBy, &confirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, apperr.Durable("orders.get_payment", err)
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		r.DriverID = &d
	}
	if confirmedBy.Valid {
		a := types.ID(confirmedBy.String)
		r.ConfirmedBy = &a
	}
	r.Reference = reference.String
	r.ProviderTxID = providerTx.String
	r.ProofURL = proofURL.String
	r.PaidAt = timePtr(paidAt)
	r.ConfirmedAt = timePtr(confirmedAt)
	return &r, nil
}

func (s *Store) UpdatePayment(ctx context.Context, u Update) (bool, error) {
	var confirmedBy *string
	if u.ConfirmedBy != nil {
		v := string(*u.ConfirmedBy)
		confirmedBy = &v
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET payment_status = $1::text,
		    payment_version = payment_version + 1,
		    payment_reference = COALESCE($4, payment_reference),
		    payment_provider_tx = COALESCE($5, payment_provider_tx),
		    payment_paid_at = COALESCE($6, payment_paid_at),
		    payment_proof_url = COALESCE($7, payment_proof_url),
		    payment_confirmed_by = CASE WHEN $1::text = 'confirmed' THEN $8::text ELSE payment_confirmed_by END,
		    payment_confirmed_at = CASE WHEN $1::text = 'confirmed' THEN $9::timestamptz ELSE payment_confirmed_at END
		WHERE id = $2 AND payment_status = $3 AND payment_version = $10`,
		string(u.To), string(u.OrderID), string(u.From),
		u.Reference, u.ProviderTxID, u.PaidAt, u.ProofURL,
		confirmedBy, u.At, u.Version,
	)
	if err != nil {
		return false, apperr.Durable("orders.update_payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) InsertTx(ctx context.Context, tx *WalletTx) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, status, reference, proof_url, order_id, confirmed_by, confirmed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(tx.ID), string(tx.UserID), string(tx.Type), tx.Amount, string(tx.Status),
		nullString(tx.Reference), nullString(tx.ProofURL), idPtr(tx.OrderID), idPtr(tx.ConfirmedBy), tx.ConfirmedAt, tx.CreatedAt,
	)
	return apperr.Durable("wallet_transactions.insert", err)
}

func (s *Store) GetTx(ctx context.Context, id types.ID) (*WalletTx, error) {
	var tx WalletTx
	var reference, proofURL, orderID, confirmedBy sql.NullString
	var confirmedAt sql.NullTime
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT id, user_id, type, amount, status, reference, proof_url, order_id, confirmed_by, confirmed_at, created_at
		FROM wallet_transactions
		WHERE id = $1`, string(id),
	).Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Status, &reference, &proofURL, &orderID, &confirmedBy, &confirmedAt, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, apperr.Durable("wallet_transactions.get", err)
	}
	tx.Reference = reference.String
	tx.ProofURL = proofURL.String
	if orderID.Valid {
		o := types.ID(orderID.String)
		tx.OrderID = &o
	}
	if confirmedBy.Valid {
		a := types.ID(confirmedBy.String)
		tx.ConfirmedBy = &a
	}
	tx.ConfirmedAt = timePtr(confirmedAt)
	return &tx, nil
}

// SettleTx moves a pending transaction to status; false when it was no longer pending.
func (s *Store) SettleTx(ctx context.Context, id types.ID, status TxStatus, admin types.ID, at time.Time) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $2, confirmed_by = $3, confirmed_at = $4
		WHERE id = $1 AND status = 'pending'`,
		string(id), string(status), string(admin), at)
	if err != nil {
		return false, apperr.Durable("wallet_transactions.settle", err)
	}
	return tag.RowsAffected() == 1, nil
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
