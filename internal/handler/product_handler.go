package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/middleware"
	"github.com/namhbcf1/kho1-sub001/internal/model"
	"github.com/namhbcf1/kho1-sub001/pkg/database"
	"github.com/namhbcf1/kho1-sub001/pkg/logger"
	"github.com/namhbcf1/kho1-sub001/prometheus"
)

// ProductRequest defines the structure for product creation/update requests.
// Stock is only honored on creation; once the product exists every stock
// change must go through the adjustment endpoint so it is guarded and audited.
type ProductRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	SKU         string  `json:"sku" validate:"required"`
	Price       float64 `json:"price" validate:"required,gt=0"`
	Stock       int     `json:"stock"`
	CategoryID  uint    `json:"category_id"`
	IsActive    bool    `json:"is_active"`
}

// StockAdjustmentRequest defines the payload for a manual stock adjustment
type StockAdjustmentRequest struct {
	Mode     string `json:"mode"` // add, subtract or set
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// ListProducts handles retrieving all products with optional filtering
func ListProducts(c echo.Context) error {
	log := logger.FromEcho(c)

	db := database.GetDB()
	var products []model.Product

	query := db

	isActive := c.QueryParam("is_active")
	if isActive != "" {
		active, err := strconv.ParseBool(isActive)
		if err == nil {
			query = query.Where("is_active = ?", active)
		} else {
			log.Warn("Invalid is_active parameter", zap.String("value", isActive), zap.Error(err))
		}
	}

	categoryID := c.QueryParam("category_id")
	if categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}

	result := query.Find(&products)
	if result.Error != nil {
		log.Error("Failed to list products", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to retrieve products",
		})
	}

	log.Info("Products retrieved successfully", zap.Int("count", len(products)))
	return c.JSON(http.StatusOK, products)
}

// GetProduct handles retrieving a single product by ID
func GetProduct(c echo.Context) error {
	log := logger.FromEcho(c)
	id := c.Param("id")

	var product model.Product
	result := database.GetDB().First(&product, id)
	if result.Error != nil {
		log.Error("Product not found",
			zap.String("product_id", id),
			zap.Error(result.Error))
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Product not found",
		})
	}

	return c.JSON(http.StatusOK, product)
}

// CreateProduct handles creating a new product
func CreateProduct(c echo.Context) error {
	log := logger.FromEcho(c)

	var req ProductRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request data",
		})
	}
	if req.Name == "" || req.SKU == "" || req.Price <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "name, sku and a positive price are required",
		})
	}
	if req.Stock < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "initial stock must not be negative",
		})
	}

	// Check if product with SKU already exists
	var count int64
	database.GetDB().Model(&model.Product{}).Where("sku = ?", req.SKU).Count(&count)
	if count > 0 {
		log.Warn("Product with this SKU already exists", zap.String("sku", req.SKU))
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "Product with this SKU already exists",
		})
	}

	product := model.Product{
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Price:       req.Price,
		Stock:       req.Stock,
		CategoryID:  req.CategoryID,
		IsActive:    req.IsActive,
	}

	result := database.GetDB().Create(&product)
	if result.Error != nil {
		log.Error("Failed to create product",
			zap.String("name", req.Name),
			zap.String("sku", req.SKU),
			zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to create product",
		})
	}

	log.Info("Product created successfully",
		zap.Uint("product_id", product.ID),
		zap.String("name", product.Name),
		zap.String("sku", product.SKU))
	return c.JSON(http.StatusCreated, product)
}

// UpdateProduct handles updating a product's catalog fields. Stock,
// reserved stock and version are deliberately not writable here.
func UpdateProduct(c echo.Context) error {
	log := logger.FromEcho(c)
	id := c.Param("id")

	var req ProductRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data",
			zap.String("product_id", id),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request data",
		})
	}

	var product model.Product
	result := database.GetDB().First(&product, id)
	if result.Error != nil {
		log.Error("Product not found for update",
			zap.String("product_id", id),
			zap.Error(result.Error))
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Product not found",
		})
	}

	// Check if SKU is changed and if new SKU already exists
	if req.SKU != product.SKU {
		var count int64
		database.GetDB().Model(&model.Product{}).Where("sku = ? AND id != ?", req.SKU, id).Count(&count)
		if count > 0 {
			log.Warn("Product with this SKU already exists", zap.String("sku", req.SKU))
			return c.JSON(http.StatusConflict, echo.Map{
				"error": "Product with this SKU already exists",
			})
		}
	}

	updates := map[string]interface{}{
		"name":        req.Name,
		"description": req.Description,
		"sku":         req.SKU,
		"price":       req.Price,
		"category_id": req.CategoryID,
		"is_active":   req.IsActive,
	}
	if err := database.GetDB().Model(&product).Updates(updates).Error; err != nil {
		log.Error("Failed to update product",
			zap.String("product_id", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to update product",
		})
	}

	log.Info("Product updated successfully",
		zap.String("product_id", id),
		zap.String("name", product.Name),
		zap.String("sku", product.SKU))
	return c.JSON(http.StatusOK, product)
}

// DeleteProduct handles deleting a product (soft delete)
func DeleteProduct(c echo.Context) error {
	log := logger.FromEcho(c)
	id := c.Param("id")

	result := database.GetDB().Delete(&model.Product{}, id)
	if result.Error != nil {
		log.Error("Failed to delete product",
			zap.String("product_id", id),
			zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to delete product",
		})
	}
	if result.RowsAffected == 0 {
		log.Warn("Product not found for deletion", zap.String("product_id", id))
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Product not found",
		})
	}

	log.Info("Product deleted successfully", zap.String("product_id", id))
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Product deleted successfully",
	})
}

// AdjustStock handles a manual stock adjustment through the inventory
// ledger, so the write is version-guarded and leaves an audit row.
func AdjustStock(c echo.Context) error {
	log := logger.FromEcho(c)

	productID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}

	var req StockAdjustmentRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid adjustment request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}

	actorID, _ := middleware.UserIDFromContext(c)

	var result *inventory.MutationResult
	err = inventory.RetryOnConflict(c.Request().Context(),
		appConfig.Order.MaxRetries, appConfig.Order.RetryBackoff,
		func(ctx context.Context) error {
			var mErr error
			result, mErr = ledger.MutateStock(ctx, inventory.MutationRequest{
				ProductID: uint(productID),
				Mode:      inventory.Mode(req.Mode),
				Quantity:  req.Quantity,
				Reason:    req.Reason,
				ActorID:   actorID,
			})
			return mErr
		})
	if err != nil {
		prometheus.RecordStockOperation(req.Mode, "error")
		return stockErrorResponse(c, log, err)
	}

	prometheus.RecordStockOperation(req.Mode, "success")
	log.Info("Stock adjusted",
		zap.Uint64("product_id", productID),
		zap.String("mode", req.Mode),
		zap.Int("previous_stock", result.PreviousStock),
		zap.Int("new_stock", result.NewStock))
	return c.JSON(http.StatusOK, result)
}

// ListStockTransactions returns the audit trail for one product, newest first
func ListStockTransactions(c echo.Context) error {
	log := logger.FromEcho(c)
	id := c.Param("id")

	var transactions []model.InventoryTransaction
	result := database.GetDB().
		Where("product_id = ?", id).
		Order("created_at DESC").
		Limit(100).
		Find(&transactions)
	if result.Error != nil {
		log.Error("Failed to list inventory transactions",
			zap.String("product_id", id),
			zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to retrieve inventory transactions",
		})
	}

	return c.JSON(http.StatusOK, transactions)
}

// stockErrorResponse maps inventory engine errors onto HTTP statuses
func stockErrorResponse(c echo.Context, log *zap.Logger, err error) error {
	var notFound *inventory.NotFoundError
	if errors.As(err, &notFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": notFound.Error()})
	}
	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		return c.JSON(http.StatusConflict, echo.Map{"error": insufficient.Error()})
	}
	var reserved *inventory.ReservedStockError
	if errors.As(err, &reserved) {
		return c.JSON(http.StatusConflict, echo.Map{"error": reserved.Error()})
	}
	log.Error("Stock operation failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stock operation failed"})
}
