// README: Payment settlement and wallet recharge handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fretlink/internal/modules/payment"
	"fretlink/internal/types"
)

type PaymentService interface {
	SubmitProof(ctx context.Context, cmd payment.ProofCommand) (*payment.Record, error)
	Confirm(ctx context.Context, orderID, admin types.ID) (*payment.Record, error)
	Payout(ctx context.Context, orderID, admin types.ID) (*payment.Record, error)
	Refund(ctx context.Context, orderID, admin types.ID) (*payment.Record, error)
	SubmitRecharge(ctx context.Context, cmd payment.RechargeCommand) (*payment.WalletTx, error)
	ConfirmRecharge(ctx context.Context, txID, admin types.ID) (*payment.WalletTx, error)
	RejectRecharge(ctx context.Context, txID, admin types.ID) (*payment.WalletTx, error)
}

type PaymentHandler struct {
	payment PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{payment: svc}
}

type proofReq struct {
	Reference     string     `json:"reference" form:"reference"`
	TransactionID string     `json:"transactionId" form:"transactionId"`
	PaidAt        *time.Time `json:"paidAt" form:"paidAt"`
	ProofURL      string     `json:"proofUrl" form:"proofUrl"`
}

func noop() {}

// upload opens the optional "file" part of a multipart request. The returned
// cleanup is never nil.
func upload(c *gin.Context) (*payment.Upload, func(), error) {
	fh, err := c.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, errInvalidBody
	}
	f, err := fh.Open()
	if err != nil {
		return nil, noop, errInvalidBody
	}
	up := &payment.Upload{FileName: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f}
	return up, func() { _ = f.Close() }, nil
}

// bindProof accepts JSON or a multipart form carrying the same fields.
func bindProof(c *gin.Context, v any) (*payment.Upload, func(), bool) {
	if !isMultipart(c) {
		return nil, noop, bindJSON(c, v)
	}
	if err := c.ShouldBind(v); err != nil {
		writeError(c, errInvalidBody)
		return nil, noop, false
	}
	up, cleanup, err := upload(c)
	if err != nil {
		writeError(c, err)
		return nil, cleanup, false
	}
	return up, cleanup, true
}

func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req proofReq
	file, cleanup, ok := bindProof(c, &req)
	defer cleanup()
	if !ok {
		return
	}
	rec, err := h.payment.SubmitProof(c.Request.Context(), payment.ProofCommand{
		OrderID:      id,
		CallerID:     actorOf(c).ID,
		Reference:    req.Reference,
		ProviderTxID: req.TransactionID,
		PaidAt:       req.PaidAt,
		ProofURL:     req.ProofURL,
		File:         file,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *PaymentHandler) adminAction(c *gin.Context, fn func(ctx context.Context, id, admin types.ID) (*payment.Record, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rec, err := fn(c.Request.Context(), id, actorOf(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *PaymentHandler) Confirm(c *gin.Context) { h.adminAction(c, h.payment.Confirm) }
func (h *PaymentHandler) Payout(c *gin.Context)  { h.adminAction(c, h.payment.Payout) }
func (h *PaymentHandler) Refund(c *gin.Context)  { h.adminAction(c, h.payment.Refund) }

type rechargeReq struct {
	Amount    int64  `json:"amount" form:"amount"`
	Reference string `json:"reference" form:"reference"`
	ProofURL  string `json:"proofUrl" form:"proofUrl"`
}

func (h *PaymentHandler) SubmitRecharge(c *gin.Context) {
	var req rechargeReq
	file, cleanup, ok := bindProof(c, &req)
	defer cleanup()
	if !ok {
		return
	}
	tx, err := h.payment.SubmitRecharge(c.Request.Context(), payment.RechargeCommand{
		DriverID:  actorOf(c).ID,
		Amount:    req.Amount,
		Reference: req.Reference,
		ProofURL:  req.ProofURL,
		File:      file,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, tx)
}

func (h *PaymentHandler) settle(c *gin.Context, fn func(ctx context.Context, id, admin types.ID) (*payment.WalletTx, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tx, err := fn(c.Request.Context(), id, actorOf(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tx)
}

func (h *PaymentHandler) ConfirmRecharge(c *gin.Context) { h.settle(c, h.payment.ConfirmRecharge) }
func (h *PaymentHandler) RejectRecharge(c *gin.Context)  { h.settle(c, h.payment.RejectRecharge) }
