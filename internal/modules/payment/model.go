// README: Order payment record, wallet transactions and their status graphs.
package payment

import (
	"time"

	"fretlink/internal/types"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusProofSubmitted Status = "proof_submitted"
	StatusConfirmed      Status = "confirmed"
	StatusPaidToDriver   Status = "paid_to_driver"
	StatusRefunded       Status = "refunded"
)

var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusProofSubmitted},
	StatusProofSubmitted: {StatusConfirmed},
	StatusConfirmed:      {StatusPaidToDriver, StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is the payment side of one order. PlatformFee + DriverShare == Amount
// from creation on; the split is never recomputed here.
type Record struct {
	OrderID      types.ID   `json:"orderId"`
	OrderStatus  string     `json:"orderStatus"`
	ClientID     types.ID   `json:"clientId"`
	DriverID     *types.ID  `json:"driverId,omitempty"`
	Amount       int64      `json:"amount"`
	PlatformFee  int64      `json:"platformFee"`
	DriverShare  int64      `json:"driverShare"`
	Currency     string     `json:"currency"`
	Status       Status     `json:"status"`
	Version      int        `json:"-"`
	Reference    string     `json:"reference,omitempty"`
	ProviderTxID string     `json:"providerTransactionId,omitempty"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	ProofURL     string     `json:"proofUrl,omitempty"`
	ConfirmedBy  *types.ID  `json:"confirmedBy,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
}

type TxType string

const (
	TxRecharge   TxType = "recharge"
	TxCommission TxType = "commission"
	TxWithdrawal TxType = "withdrawal"
	TxBonus      TxType = "bonus"
	TxRefund     TxType = "refund"
	TxPayout     TxType = "payout"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxRejected  TxStatus = "rejected"
)

type WalletTx struct {
	ID          types.ID   `json:"id"`
	UserID      types.ID   `json:"userId"`
	Type        TxType     `json:"type"`
	Amount      int64      `json:"amount"`
	Status      TxStatus   `json:"status"`
	Reference   string     `json:"reference,omitempty"`
	ProofURL    string     `json:"proofUrl,omitempty"`
	OrderID     *types.ID  `json:"orderId,omitempty"`
	ConfirmedBy *types.ID  `json:"confirmedBy,omitempty"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Update is one compare-and-set payment status change.
type Update struct {
	OrderID      types.ID
	From         Status
	To           Status
	Version      int
	Reference    *string
	ProviderTxID *string
	PaidAt       *time.Time
	ProofURL     *string
	ConfirmedBy  *types.ID
	At           time.Time
}
