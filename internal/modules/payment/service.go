// README: Settlement workflow: order payment proof, admin confirmation, payout, refund and wallet recharge.
package payment

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/logging"
	"fretlink/internal/types"
)

var (
	ErrOrderNotFound = apperr.NotFound("order not found", "commande introuvable")
	ErrTxNotFound    = apperr.NotFound("wallet transaction not found", "transaction introuvable")
	ErrForbidden     = apperr.Authorization("not allowed for this payment", "action non autorisee pour ce paiement")
	ErrInvalidState  = apperr.Conflict("invalid payment state", "statut de paiement invalide")
	ErrConflict      = apperr.Conflict("payment changed concurrently", "paiement modifie entre-temps")
	ErrNoUploads     = apperr.New(apperr.KindDurable, "file uploads unavailable", "televersement indisponible")
)

const proofFolder = "payment-proofs"

type Repository interface {
	GetRecord(ctx context.Context, orderID types.ID) (*Record, error)
	UpdatePayment(ctx context.Context, u Update) (bool, error)
	InsertTx(ctx context.Context, tx *WalletTx) error
	GetTx(ctx context.Context, id types.ID) (*WalletTx, error)
	SettleTx(ctx context.Context, id types.ID, status TxStatus, admin types.ID, at time.Time) (bool, error)
}

// Wallets credits a user balance; must join the transaction in ctx.
type Wallets interface {
	CreditWallet(ctx context.Context, userID types.ID, amount int64) (int64, error)
}

// Notifier pushes payment status changes to the order's parties.
type Notifier interface {
	PaymentChanged(ctx context.Context, r Record)
}

type nopNotifier struct{}

func (nopNotifier) PaymentChanged(context.Context, Record) {}

type Deps struct {
	Store    Repository
	Wallets  Wallets
	UoW      infra.UnitOfWork
	Notifier Notifier
	Events   infra.EventPublisher
	Blobs    infra.BlobStore
	Log      *slog.Logger
}

type Service struct {
	store    Repository
	wallets  Wallets
	uow      infra.UnitOfWork
	notifier Notifier
	events   infra.EventPublisher
	blobs    infra.BlobStore
	log      *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		wallets:  d.Wallets,
		uow:      d.UoW,
		notifier: d.Notifier,
		events:   d.Events,
		blobs:    d.Blobs,
		log:      d.Log,
		now:      time.Now,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = infra.NopPublisher{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	return s
}

func (s *Service) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Upload is an optional file attached to a proof or recharge.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type ProofCommand struct {
	OrderID      types.ID
	CallerID     types.ID
	Reference    string
	ProviderTxID string
	PaidAt       *time.Time
	ProofURL     string
	File         *Upload
}

type RechargeCommand struct {
	DriverID  types.ID
	Amount    int64
	Reference string
	ProofURL  string
	File      *Upload
}

func (s *Service) Get(ctx context.Context, orderID types.ID) (*Record, error) {
	return s.store.GetRecord(ctx, orderID)
}

func (s *Service) storeUpload(ctx context.Context, f *Upload, fallback string) (string, error) {
	if f == nil || f.Body == nil {
		return fallback, nil
	}
	if s.blobs == nil {
		return "", ErrNoUploads
	}
	url, err := s.blobs.Put(ctx, proofFolder, f.FileName, f.ContentType, f.Body)
	if err != nil {
		return "", apperr.Durable("blob.put", err)
	}
	return url, nil
}

// SubmitProof records the client's proof of payment. Only the order's client may submit.
func (s *Service) SubmitProof(ctx context.Context, cmd ProofCommand) (*Record, error) {
	ref := strings.TrimSpace(cmd.Reference)
	if ref == "" {
		return nil, apperr.Validation("payment reference is required", "la reference du paiement est obligatoire")
	}
	rec, err := s.store.GetRecord(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if rec.ClientID != cmd.CallerID {
		return nil, ErrForbidden
	}
	if !CanTransition(rec.Status, StatusProofSubmitted) {
		return nil, ErrInvalidState
	}
	proofURL, err := s.storeUpload(ctx, cmd.File, strings.TrimSpace(cmd.ProofURL))
	if err != nil {
		return nil, err
	}

	now := s.now()
	paidAt := now
	if cmd.PaidAt != nil {
		paidAt = *cmd.PaidAt
	}
	u := Update{
		OrderID:   rec.OrderID,
		From:      rec.Status,
		To:        StatusProofSubmitted,
		Version:   rec.Version,
		Reference: &ref,
		PaidAt:    &paidAt,
		At:        now,
	}
	if v := strings.TrimSpace(cmd.ProviderTxID); v != "" {
		u.ProviderTxID = &v
	}
	if proofURL != "" {
		u.ProofURL = &proofURL
	}
	return s.apply(ctx, rec, u, nil)
}

// Confirm marks a submitted proof as verified by an admin.
func (s *Service) Confirm(ctx context.Context, orderID, admin types.ID) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rec.Status, StatusConfirmed) {
		return nil, ErrInvalidState
	}
	return s.apply(ctx, rec, Update{
		OrderID:     rec.OrderID,
		From:        rec.Status,
		To:          StatusConfirmed,
		Version:     rec.Version,
		ConfirmedBy: &admin,
		At:          s.now(),
	}, nil)
}

// Payout pays the driver share into the driver's wallet once the order is completed.
func (s *Service) Payout(ctx context.Context, orderID, admin types.ID) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rec.Status, StatusPaidToDriver) || rec.DriverID == nil || rec.OrderStatus != "completed" {
		return nil, ErrInvalidState
	}
	credit := s.creditTx(*rec.DriverID, TxPayout, rec.DriverShare, rec.OrderID, admin)
	return s.apply(ctx, rec, Update{
		OrderID: rec.OrderID,
		From:    rec.Status,
		To:      StatusPaidToDriver,
		Version: rec.Version,
		At:      s.now(),
	}, credit)
}

// Refund returns the full amount to the client's wallet.
func (s *Service) Refund(ctx context.Context, orderID, admin types.ID) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(rec.Status, StatusRefunded) {
		return nil, ErrInvalidState
	}
	credit := s.creditTx(rec.ClientID, TxRefund, rec.Amount, rec.OrderID, admin)
	return s.apply(ctx, rec, Update{
		OrderID: rec.OrderID,
		From:    rec.Status,
		To:      StatusRefunded,
		Version: rec.Version,
		At:      s.now(),
	}, credit)
}

func (s *Service) creditTx(userID types.ID, kind TxType, amount int64, orderID, admin types.ID) *WalletTx {
	now := s.now()
	return &WalletTx{
		ID:          types.NewID(),
		UserID:      userID,
		Type:        kind,
		Amount:      amount,
		Status:      TxConfirmed,
		OrderID:     &orderID,
		ConfirmedBy: &admin,
		ConfirmedAt: &now,
		CreatedAt:   now,
	}
}

// apply persists u and, when credit is set, the matching wallet credit in the
// same transaction, then notifies.
func (s *Service) apply(ctx context.Context, rec *Record, u Update, credit *WalletTx) (*Record, error) {
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.UpdatePayment(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if credit == nil || credit.Amount <= 0 {
			return nil
		}
		if err := s.store.InsertTx(ctx, credit); err != nil {
			return err
		}
		_, err = s.wallets.CreditWallet(ctx, credit.UserID, credit.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	updated := *rec
	updated.Status = u.To
	updated.Version++
	if u.Reference != nil {
		updated.Reference = *u.Reference
	}
	if u.ProviderTxID != nil {
		updated.ProviderTxID = *u.ProviderTxID
	}
	if u.PaidAt != nil {
		updated.PaidAt = u.PaidAt
	}
	if u.ProofURL != nil {
		updated.ProofURL = *u.ProofURL
	}
	if u.To == StatusConfirmed {
		at := u.At
		updated.ConfirmedBy = u.ConfirmedBy
		updated.ConfirmedAt = &at
	}

	s.log.Info("payment status changed", "order_id", rec.OrderID, "from", u.From, "to", u.To)
	s.notifier.PaymentChanged(ctx, updated)
	if err := s.events.Publish(ctx, "payment.status", map[string]any{
		"orderId": updated.OrderID,
		"from":    u.From,
		"to":      u.To,
		"at":      u.At,
	}); err != nil {
		s.log.Warn("publish payment event failed", "order_id", rec.OrderID, logging.Err(err))
	}
	return &updated, nil
}

// SubmitRecharge records a pending wallet recharge. The balance is untouched
// until an admin confirms it.
func (s *Service) SubmitRecharge(ctx context.Context, cmd RechargeCommand) (*WalletTx, error) {
	if cmd.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive", "le montant doit etre positif")
	}
	ref := strings.TrimSpace(cmd.Reference)
	if ref == "" {
		return nil, apperr.Validation("payment reference is required", "la reference du paiement est obligatoire")
	}
	proofURL, err := s.storeUpload(ctx, cmd.File, strings.TrimSpace(cmd.ProofURL))
	if err != nil {
		return nil, err
	}
	tx := &WalletTx{
		ID:        types.NewID(),
		UserID:    cmd.DriverID,
		Type:      TxRecharge,
		Amount:    cmd.Amount,
		Status:    TxPending,
		Reference: ref,
		ProofURL:  proofURL,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertTx(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Info("wallet recharge submitted", "tx_id", tx.ID, "user_id", tx.UserID, "amount", tx.Amount)
	return tx, nil
}

// ConfirmRecharge flips a pending recharge to confirmed and credits the wallet
// in one transaction. Confirming an already confirmed recharge returns it
// unchanged without crediting again.
func (s *Service) ConfirmRecharge(ctx context.Context, txID, admin types.ID) (*WalletTx, error) {
	var out *WalletTx
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.store.GetTx(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Type != TxRecharge {
			return ErrInvalidState
		}
		switch tx.Status {
		case TxConfirmed:
			out = tx
			return nil
		case TxRejected:
			return ErrInvalidState
		}

		now := s.now()
		ok, err := s.store.SettleTx(ctx, tx.ID, TxConfirmed, admin, now)
		if err != nil {
			return err
		}
		if !ok {
			// lost the race; whoever won has already credited
			current, err := s.store.GetTx(ctx, tx.ID)
			if err != nil {
				return err
			}
			if current.Status != TxConfirmed {
				return ErrInvalidState
			}
			out = current
			return nil
		}
		if _, err := s.wallets.CreditWallet(ctx, tx.UserID, tx.Amount); err != nil {
			return err
		}
		tx.Status = TxConfirmed
		tx.ConfirmedBy = &admin
		tx.ConfirmedAt = &now
		out = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("wallet recharge confirmed", "tx_id", out.ID, "user_id", out.UserID, "admin_id", admin)
	return out, nil
}

func (s *Service) RejectRecharge(ctx context.Context, txID, admin types.ID) (*WalletTx, error) {
	tx, err := s.store.GetTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Type != TxRecharge || tx.Status != TxPending {
		return nil, ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.SettleTx(ctx, tx.ID, TxRejected, admin, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	tx.Status = TxRejected
	tx.ConfirmedBy = &admin
	tx.ConfirmedAt = &now
	return tx, nil
}

