package handler

import (
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/order"
	"github.com/namhbcf1/kho1-sub001/pkg/config"
)

// Shared engine instances, wired once at startup. Catalog and customer
// CRUD talks to gorm directly; everything touching stock goes through
// these so every mutation is version-guarded and audited.
var (
	orders       *order.Coordinator
	ledger       *inventory.Ledger
	reservations *inventory.Manager
	appConfig    *config.Config
)

// Init wires the transaction engines into the handler package
func Init(coord *order.Coordinator, l *inventory.Ledger, mgr *inventory.Manager, cfg *config.Config) {
	orders = coord
	ledger = l
	reservations = mgr
	appConfig = cfg
}
