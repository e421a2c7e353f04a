package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/middleware"
	"github.com/namhbcf1/kho1-sub001/internal/model"
	"github.com/namhbcf1/kho1-sub001/internal/order"
	"github.com/namhbcf1/kho1-sub001/pkg/database"
	"github.com/namhbcf1/kho1-sub001/pkg/logger"
	"github.com/namhbcf1/kho1-sub001/prometheus"
)

// ReservationRequest defines the payload for placing stock holds during
// a multi-step checkout
type ReservationRequest struct {
	OrderID    string              `json:"order_id"`
	Items      []order.ItemRequest `json:"items"`
	TTLSeconds int                 `json:"ttl_seconds,omitempty"`
}

// CreateOrder handles placing an order through the transaction coordinator
func CreateOrder(c echo.Context) error {
	log := logger.FromEcho(c)

	var req order.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse order request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	cashierID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing cashier identity"})
	}
	req.CashierID = cashierID

	defer prometheus.TrackDBOperation("order_create")(time.Now())
	res, err := orders.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return orderErrorResponse(c, log, "create", err)
	}

	prometheus.RecordOrderOperation("create", "success")
	prometheus.OrderValueHistogram.Observe(res.Total)
	if res.Attempts > 1 {
		prometheus.OrderConflictRetries.Add(float64(res.Attempts - 1))
	}

	return c.JSON(http.StatusCreated, res)
}

// GetOrder handles retrieving an order with its line items
func GetOrder(c echo.Context) error {
	log := logger.FromEcho(c)

	o, err := orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return orderErrorResponse(c, log, "get", err)
	}
	return c.JSON(http.StatusOK, o)
}

// ListOrders handles retrieving recent orders with optional status filter
func ListOrders(c echo.Context) error {
	log := logger.FromEcho(c)

	query := database.GetDB().Order("created_at DESC").Limit(100)
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var list []model.Order
	if result := query.Find(&list); result.Error != nil {
		log.Error("Failed to list orders", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to retrieve orders",
		})
	}
	return c.JSON(http.StatusOK, list)
}

// CancelOrder handles cancelling an order, restoring its stock
func CancelOrder(c echo.Context) error {
	log := logger.FromEcho(c)

	actorID, _ := middleware.UserIDFromContext(c)
	res, err := orders.CancelOrder(c.Request().Context(), c.Param("id"), actorID)
	if err != nil {
		return orderErrorResponse(c, log, "cancel", err)
	}

	prometheus.RecordOrderOperation("cancel", "success")
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "Order cancelled",
		"order_id": res.OrderID,
	})
}

// CreateReservation handles placing stock holds for an in-progress checkout
func CreateReservation(c echo.Context) error {
	log := logger.FromEcho(c)

	var req ReservationRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse reservation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.OrderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id is required"})
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	made, err := orders.ReserveInventory(c.Request().Context(), req.Items, req.OrderID, ttl)
	if err != nil {
		prometheus.RecordReservationOperation("reserve_failed")
		return orderErrorResponse(c, log, "reserve", err)
	}

	prometheus.RecordReservationOperation("reserve")
	log.Info("Stock reserved for checkout",
		zap.String("order_id", req.OrderID),
		zap.Int("count", len(made)))
	return c.JSON(http.StatusCreated, echo.Map{
		"order_id":     req.OrderID,
		"reservations": made,
	})
}

// ReleaseReservation handles dropping every hold an order carries
func ReleaseReservation(c echo.Context) error {
	log := logger.FromEcho(c)

	orderID := c.Param("order_id")
	released, err := reservations.Release(c.Request().Context(), orderID)
	if err != nil {
		return orderErrorResponse(c, log, "release", err)
	}

	prometheus.RecordReservationOperation("release")
	return c.JSON(http.StatusOK, echo.Map{
		"order_id": orderID,
		"released": released,
	})
}

// SweepReservations reclaims expired stock holds on demand, for external
// schedulers that do not rely on the in-process ticker
func SweepReservations(c echo.Context) error {
	log := logger.FromEcho(c)

	cleaned, err := orders.SweepExpiredReservations(c.Request().Context())
	if err != nil {
		log.Error("Reservation sweep failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed"})
	}

	prometheus.RecordReservationOperation("sweep")
	if cleaned > 0 {
		prometheus.SweptReservations.Add(float64(cleaned))
	}
	return c.JSON(http.StatusOK, echo.Map{"cleaned_count": cleaned})
}

// orderErrorResponse maps engine errors onto HTTP statuses
func orderErrorResponse(c echo.Context, log *zap.Logger, op string, err error) error {
	var ve *order.ValidationError
	if errors.As(err, &ve) {
		prometheus.RecordOrderOperation(op, "rejected")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Message, "code": ve.Code})
	}
	var orderNotFound *order.NotFoundError
	if errors.As(err, &orderNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": orderNotFound.Error()})
	}
	var productNotFound *inventory.NotFoundError
	if errors.As(err, &productNotFound) {
		prometheus.RecordOrderOperation(op, "rejected")
		return c.JSON(http.StatusNotFound, echo.Map{"error": productNotFound.Error()})
	}
	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		prometheus.RecordOrderOperation(op, "insufficient_stock")
		return c.JSON(http.StatusConflict, echo.Map{"error": insufficient.Error()})
	}
	if errors.Is(err, datastore.ErrConflict) {
		prometheus.RecordOrderOperation(op, "conflict")
		log.Warn("Order operation exhausted conflict retries", zap.String("op", op), zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "the product changed while processing, please retry",
		})
	}

	prometheus.RecordOrderOperation(op, "error")
	log.Error("Order operation failed", zap.String("op", op), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "order operation failed"})
}
