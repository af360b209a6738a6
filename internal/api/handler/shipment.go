package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/identity"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"go.uber.org/zap"
)

// ShipmentHandler handles HTTP requests for shipment registration and tracking.
type ShipmentHandler struct {
	svc    *shipment.Service
	tokens *identity.TokenIssuer // nil = write routes are open
	logger *zap.Logger
}

// NewShipmentHandler creates a new ShipmentHandler.
// tokens may be nil to disable operator auth on write routes.
func NewShipmentHandler(svc *shipment.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *ShipmentHandler {
	return &ShipmentHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the shipment routes on the given router group.
func (h *ShipmentHandler) Register(rg *gin.RouterGroup) {
	operator := identity.RequireOperator(h.tokens)

	s := rg.Group("/shipments")
	{
		s.POST("", operator, h.RegisterShipment)
		s.GET("", h.ListShipments)
		s.GET("/:code", h.TrackShipment)
		s.POST("/:code/status", operator, h.UpdateStatus)
		s.POST("/:code/delivery", operator, h.ConfirmDelivery)
	}
}

type statusRequest struct {
	State       string `json:"state" binding:"required"`
	CurrentCity string `json:"currentCity"`
}

type deliveryRequest struct {
	PackageCondition string `json:"packageCondition" binding:"required"`
}

// RegisterShipment handles POST /shipments.
func (h *ShipmentHandler) RegisterShipment(c *gin.Context) {
	var req shipment.Details
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sh, err := h.svc.Register(c.Request.Context(), req)
	h.refreshGauge()
	if err != nil {
		h.fail(c, err, sh)
		return
	}

	h.logger.Info("shipment registered via API",
		zap.String("tracking_code", sh.TrackingCode),
		zap.String("operator", identity.OperatorFromCtx(c)),
	)
	c.JSON(http.StatusCreated, gin.H{
		"trackingCode": sh.TrackingCode,
		"shipment":     sh,
	})
}

// ListShipments handles GET /shipments.
func (h *ShipmentHandler) ListShipments(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"shipments": list,
		"count":     len(list),
	})
}

// TrackShipment handles GET /shipments/:code.
func (h *ShipmentHandler) TrackShipment(c *gin.Context) {
	sh, err := h.svc.Track(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, sh)
}

// UpdateStatus handles POST /shipments/:code/status.
func (h *ShipmentHandler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("code"), shipment.Status{
		State:       req.State,
		CurrentCity: req.CurrentCity,
	})
	if err != nil {
		h.fail(c, err, rec)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ConfirmDelivery handles POST /shipments/:code/delivery.
func (h *ShipmentHandler) ConfirmDelivery(c *gin.Context) {
	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.ConfirmDelivery(c.Request.Context(), c.Param("code"), req.PackageCondition)
	if err != nil {
		h.fail(c, err, rec)
		return
	}
	h.logger.Info("delivery confirmed via API",
		zap.String("tracking_code", c.Param("code")),
		zap.String("operator", identity.OperatorFromCtx(c)),
	)
	c.JSON(http.StatusCreated, rec)
}

func (h *ShipmentHandler) refreshGauge() {
	entries, _ := h.svc.Stats()
	SetShipmentsGauge(float64(entries - 1))
}

// fail maps service errors to HTTP responses. partial is the in-memory
// result returned alongside a storage failure, if any.
func (h *ShipmentHandler) fail(c *gin.Context, err error, partial any) {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
	case errors.Is(err, shipment.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, shipment.ErrDelivered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, chain.ErrSerialization):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, chain.ErrStorage):
		RecordStoreFailure()
		h.logger.Error("ledger not persisted", zap.Error(err))
		body := gin.H{"error": "recorded in memory but not persisted"}
		if partial != nil {
			body["unpersisted"] = partial
		}
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		h.logger.Error("shipment request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
