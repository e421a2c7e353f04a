// Package inventory owns every mutation of product stock. The ledger is
// the only write path for the stock quantity, the reservation manager the
// only write path for reserved stock; both go through the same
// version-guarded conditional write, so two concurrent sales of the last
// unit cannot both succeed.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

// Mode selects how a mutation combines with the current stock value.
type Mode string

const (
	ModeAdd      Mode = "add"
	ModeSubtract Mode = "subtract"
	ModeSet      Mode = "set"
)

// MutationRequest describes one stock mutation.
type MutationRequest struct {
	ProductID uint
	Mode      Mode
	// Quantity is the delta for add/subtract or the target value for set.
	Quantity      int
	Reason        string
	ActorID       uint
	ReferenceType string // defaults to "adjustment"
	ReferenceID   string
}

// MutationResult reports the stock value around a successful mutation.
type MutationResult struct {
	ProductID     uint `json:"product_id"`
	PreviousStock int  `json:"previous_stock"`
	NewStock      int  `json:"new_stock"`
}

// Ledger mutates product stock under optimistic concurrency and appends
// one audit row per mutation in the same atomic batch.
type Ledger struct {
	store datastore.Store
	log   *zap.Logger
}

// NewLedger creates a ledger over the given datastore.
func NewLedger(store datastore.Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// MutateStock performs a single mutation attempt. A concurrent writer
// between the read and the conditional write surfaces as
// datastore.ErrConflict; callers wrap the call in RetryOnConflict when
// they want the bounded retry behavior.
func (l *Ledger) MutateStock(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	if req.Mode != ModeAdd && req.Mode != ModeSubtract && req.Mode != ModeSet {
		return nil, fmt.Errorf("unknown stock mutation mode %q", req.Mode)
	}
	if (req.Mode == ModeAdd || req.Mode == ModeSubtract) && req.Quantity <= 0 {
		return nil, fmt.Errorf("stock %s requires a positive quantity, got %d", req.Mode, req.Quantity)
	}
	if req.Mode == ModeSet && req.Quantity < 0 {
		return nil, fmt.Errorf("stock cannot be set to a negative value: %d", req.Quantity)
	}

	rec, err := ReadStock(ctx, l.store, req.ProductID)
	if err != nil {
		return nil, err
	}

	var newStock int
	switch req.Mode {
	case ModeAdd:
		newStock = rec.Stock + req.Quantity
	case ModeSubtract:
		if req.Quantity > rec.Available() {
			return nil, &InsufficientStockError{
				ProductID: req.ProductID,
				Requested: req.Quantity,
				Available: rec.Available(),
			}
		}
		newStock = rec.Stock - req.Quantity
	case ModeSet:
		if req.Quantity < rec.ReservedStock {
			return nil, &ReservedStockError{
				ProductID: req.ProductID,
				Target:    req.Quantity,
				Reserved:  rec.ReservedStock,
			}
		}
		newStock = req.Quantity
	}

	referenceType := req.ReferenceType
	if referenceType == "" {
		referenceType = model.ReferenceAdjustment
	}
	now := time.Now()
	txn := &model.InventoryTransaction{
		ID:            uuid.New().String(),
		ProductID:     req.ProductID,
		Quantity:      newStock - rec.Stock,
		StockBefore:   rec.Stock,
		StockAfter:    newStock,
		ReferenceType: referenceType,
		ReferenceID:   req.ReferenceID,
		Reason:        req.Reason,
		ActorID:       req.ActorID,
		CreatedAt:     now,
	}

	_, err = l.store.Batch(ctx, []datastore.Statement{
		StockWrite(rec, newStock, rec.ReservedStock, now),
		AuditInsert(txn),
	})
	if err != nil {
		return nil, err
	}

	l.log.Debug("stock mutated",
		zap.Uint("product_id", req.ProductID),
		zap.String("mode", string(req.Mode)),
		zap.Int("previous_stock", rec.Stock),
		zap.Int("new_stock", newStock),
		zap.String("reference_type", referenceType))

	return &MutationResult{
		ProductID:     req.ProductID,
		PreviousStock: rec.Stock,
		NewStock:      newStock,
	}, nil
}
