package store

import (
	"context"
	"errors"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid input")
)

// Repository is the durable ledger store. Multi-statement operations
// (CreateSale, DeleteSale) are atomic: either every row becomes visible
// or none does. Single-row operations rely on the engine's native
// row-level guarantees only.
type Repository interface {
	// CreateSale persists the header, all line items and the customer
	// rollup update as one unit. Returns ErrConflict when the sale_id
	// business key already exists.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	GetSaleBySaleID(ctx context.Context, saleID string) (*domain.Sale, error)
	// UpdateSaleHeader rewrites the header row identified by sale.ID.
	// Dependent amounts are stored as given, never recomputed.
	UpdateSaleHeader(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// DeleteSale removes the header and its items (matched via the
	// sale_id business key) and reverses the customer rollup, all in one
	// transaction. Returns the deleted sale.
	DeleteSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	AddSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error)
	UpdateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	DeleteSaleItem(ctx context.Context, id int64) error

	GetCustomerRollup(ctx context.Context, mobile string) (*domain.CustomerRollup, error)

	CreateOffer(ctx context.Context, offer domain.CustomerOffer) (*domain.CustomerOffer, error)
	GetOffer(ctx context.Context, id int64) (*domain.CustomerOffer, error)
	GetOffersByIDs(ctx context.Context, ids []int64) ([]domain.CustomerOffer, error)
	// ListOffers returns every offer for the mobile, newest first.
	// Validity windows are not applied at read time.
	ListOffers(ctx context.Context, mobile string) ([]domain.CustomerOffer, error)
	// ConsumeOffer is a single conditional update: is_used flips
	// false->true at most once. The boolean reports that the offer was
	// already used and nothing changed.
	ConsumeOffer(ctx context.Context, id int64, saleID string, usedAt time.Time) (*domain.CustomerOffer, bool, error)
	ListUsedOffersBySale(ctx context.Context, saleID string) ([]domain.CustomerOffer, error)
	ListUsedOffersByMobile(ctx context.Context, mobile string) ([]domain.CustomerOffer, error)
	DeleteOffer(ctx context.Context, id int64) error

	CreateAuditSession(ctx context.Context, session domain.AuditSession) (*domain.AuditSession, error)
	GetAuditSession(ctx context.Context, id int64) (*domain.AuditSession, error)
	// UpdateAuditSession rewrites the full session row; concurrent
	// updates from the same user are last-write-wins.
	UpdateAuditSession(ctx context.Context, session domain.AuditSession) (*domain.AuditSession, error)
	ListAuditSessions(ctx context.Context, username string) ([]domain.AuditSession, error)
	DeleteAuditSession(ctx context.Context, id int64) error

	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id int64) (*domain.InventoryItem, error)
	GetInventoryItemByBarcode(ctx context.Context, barcode string) (*domain.InventoryItem, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateActionLog(ctx context.Context, entry domain.ActionLog) error
	ListActionLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActionLog, error)
}
