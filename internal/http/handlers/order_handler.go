// README: Order handlers: creation, lookup and lifecycle actions.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fretlink/internal/apperr"
	"fretlink/internal/modules/order"
	"fretlink/internal/types"
)

// OrderService is the slice of the order lifecycle used over HTTP.
type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	View(ctx context.Context, id types.ID, actor order.Actor) (*order.Order, error)
	List(ctx context.Context, actor order.Actor) ([]order.Order, error)
	Accept(ctx context.Context, cmd order.AcceptCommand) (*order.Order, error)
	Refuse(ctx context.Context, cmd order.RefuseCommand) (*order.Order, error)
	UpdateStatus(ctx context.Context, cmd order.StatusCommand) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	Dispute(ctx context.Context, cmd order.DisputeCommand) (*order.Order, error)
	AddTrackingPoint(ctx context.Context, cmd order.TrackCommand) (order.TrackingPoint, error)
	AttachPhoto(ctx context.Context, cmd order.PhotoCommand) (order.Photo, error)
	Rate(ctx context.Context, cmd order.RateCommand) (order.Rating, error)
}

type OrderHandler struct {
	order OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{order: svc}
}

type stopReq struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (s stopReq) stop() order.Stop {
	st := order.Stop{Address: s.Address}
	if s.Lat != nil && s.Lng != nil {
		st.Point = &types.Point{Lat: *s.Lat, Lng: *s.Lng}
	}
	return st
}

type createOrderReq struct {
	VehicleID   string  `json:"vehicleId"`
	DriverID    string  `json:"driverId"`
	ServiceType string  `json:"serviceType"`
	Pickup      stopReq `json:"pickup"`
	Dropoff     stopReq `json:"dropoff"`
	Cargo       string  `json:"cargoDescription"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if !bindJSON(c, &req) {
		return
	}
	actor := actorOf(c)
	cmd := order.CreateCommand{
		ClientID:    actor.ID,
		VehicleID:   types.ID(req.VehicleID),
		ServiceType: order.ServiceType(req.ServiceType),
		Pickup:      req.Pickup.stop(),
		Dropoff:     req.Dropoff.stop(),
		Cargo:       req.Cargo,
	}
	if req.DriverID != "" {
		d := types.ID(req.DriverID)
		cmd.DriverID = &d
	}
	o, err := h.order.Create(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.View(c.Request.Context(), id, actorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.order.List(c.Request.Context(), actorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.Accept(c.Request.Context(), order.AcceptCommand{OrderID: id, DriverID: actorOf(c).ID})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Refuse(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.Refuse(c.Request.Context(), order.RefuseCommand{OrderID: id, DriverID: actorOf(c).ID})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	to, valid := order.ParseStatus(req.Status)
	if !valid {
		writeError(c, apperr.Validation("unknown status", "statut inconnu"))
		return
	}
	o, err := h.order.UpdateStatus(c.Request.Context(), order.StatusCommand{OrderID: id, To: to, Actor: actorOf(c)})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	// the reason is optional, an empty body is fine
	_ = c.ShouldBindJSON(&req)
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{OrderID: id, Actor: actorOf(c), Reason: req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Dispute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.Dispute(c.Request.Context(), order.DisputeCommand{OrderID: id, Actor: actorOf(c), Reason: req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type trackingReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *OrderHandler) Track(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req trackingReq
	if !bindJSON(c, &req) {
		return
	}
	tp, err := h.order.AddTrackingPoint(c.Request.Context(), order.TrackCommand{
		OrderID:  id,
		DriverID: actorOf(c).ID,
		Point:    types.Point{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, tp)
}

func (h *OrderHandler) Photo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperr.Validation("photo file is required", "le fichier photo est obligatoire"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, errInvalidBody)
		return
	}
	defer f.Close()

	photo, err := h.order.AttachPhoto(c.Request.Context(), order.PhotoCommand{
		OrderID:     id,
		DriverID:    actorOf(c).ID,
		Kind:        order.PhotoKind(c.PostForm("kind")),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, photo)
}

type ratingReq struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ratingReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.order.Rate(c.Request.Context(), order.RateCommand{
		OrderID:  id,
		ClientID: actorOf(c).ID,
		Score:    req.Score,
		Comment:  req.Comment,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}
