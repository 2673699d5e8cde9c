package domain

import "time"

// Sale is a completed customer transaction. The numeric ID is the storage
// key; SaleID is the externally generated business key and is what line
// items reference.
type Sale struct {
	ID             int64      `json:"id"`
	SaleID         string     `json:"sale_id"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerMobile string     `json:"customer_mobile,omitempty"`
	CustomerDOB    *time.Time `json:"customer_dob,omitempty"`
	TotalCents     int64      `json:"total_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxCents       int64      `json:"tax_cents"`
	FinalCents     int64      `json:"final_cents"`
	PaymentMethod  string     `json:"payment_method"`
	CashCents      int64      `json:"cash_cents"`
	OnlineCents    int64      `json:"online_cents"`
	Cashier        string     `json:"cashier"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []SaleItem `json:"items,omitempty"`
}

// SaleItem is one line in a sale. It references the sale through the
// sale_id business key, not the numeric row id.
type SaleItem struct {
	ID              int64  `json:"id"`
	SaleID          string `json:"sale_id"`
	ItemID          int64  `json:"item_id"`
	ItemName        string `json:"item_name,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
	ManualOverride  bool   `json:"manual_override"`
}

type SaleCreateRequest struct {
	SaleID         string                  `json:"sale_id,omitempty"`
	CustomerName   string                  `json:"customer_name,omitempty"`
	CustomerMobile string                  `json:"customer_mobile,omitempty"`
	CustomerDOB    string                  `json:"customer_dob,omitempty"`
	TotalCents     int64                   `json:"total_cents" validate:"gte=0"`
	DiscountCents  int64                   `json:"discount_cents" validate:"gte=0"`
	TaxCents       int64                   `json:"tax_cents" validate:"gte=0"`
	FinalCents     int64                   `json:"final_cents" validate:"gte=0"`
	PaymentMethod  string                  `json:"payment_method" validate:"required,oneof=cash online mixed pending"`
	CashCents      int64                   `json:"cash_cents" validate:"gte=0"`
	OnlineCents    int64                   `json:"online_cents" validate:"gte=0"`
	Items          []SaleItemCreateRequest `json:"items" validate:"dive"`
}

type SaleItemCreateRequest struct {
	ItemID          int64 `json:"item_id" validate:"required,gt=0"`
	Quantity        int   `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents  int64 `json:"unit_price_cents" validate:"gte=0"`
	TotalPriceCents int64 `json:"total_price_cents" validate:"gte=0"`
	ManualOverride  bool  `json:"manual_override"`
}

// SaleHeaderUpdateRequest patches only the supplied fields. Dependent
// amounts are not recomputed on the server.
type SaleHeaderUpdateRequest struct {
	CustomerName   *string `json:"customer_name,omitempty"`
	CustomerMobile *string `json:"customer_mobile,omitempty"`
	TotalCents     *int64  `json:"total_cents,omitempty"`
	DiscountCents  *int64  `json:"discount_cents,omitempty"`
	TaxCents       *int64  `json:"tax_cents,omitempty"`
	FinalCents     *int64  `json:"final_cents,omitempty"`
	PaymentMethod  *string `json:"payment_method,omitempty"`
	CashCents      *int64  `json:"cash_cents,omitempty"`
	OnlineCents    *int64  `json:"online_cents,omitempty"`
}

type SaleItemUpdateRequest struct {
	Quantity        *int   `json:"quantity,omitempty"`
	UnitPriceCents  *int64 `json:"unit_price_cents,omitempty"`
	TotalPriceCents *int64 `json:"total_price_cents,omitempty"`
	ManualOverride  *bool  `json:"manual_override,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

// CustomerOffer is a discount or bundle entitlement keyed by mobile
// number. There is no customer id; mobile is the natural key.
type CustomerOffer struct {
	ID                 int64      `json:"id"`
	Mobile             string     `json:"mobile"`
	OfferType          string     `json:"offer_type"`
	Description        string     `json:"description,omitempty"`
	DiscountPercentage float64    `json:"discount_percentage"`
	DiscountCents      int64      `json:"discount_cents"`
	BundleEligible     bool       `json:"bundle_eligible"`
	EnabledByCashier   bool       `json:"enabled_by_cashier"`
	Stackable          bool       `json:"stackable"`
	SaleID             *string    `json:"sale_id,omitempty"`
	ValidFrom          *time.Time `json:"valid_from,omitempty"`
	ValidUntil         *time.Time `json:"valid_until,omitempty"`
	IsUsed             bool       `json:"is_used"`
	UsedAt             *time.Time `json:"used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type OfferCreateRequest struct {
	Mobile             string  `json:"mobile" validate:"required"`
	OfferType          string  `json:"offer_type" validate:"required"`
	Description        string  `json:"description,omitempty"`
	DiscountPercentage float64 `json:"discount_percentage" validate:"gte=0,lte=100"`
	DiscountCents      int64   `json:"discount_cents" validate:"gte=0"`
	BundleEligible     bool    `json:"bundle_eligible"`
	EnabledByCashier   bool    `json:"enabled_by_cashier"`
	Stackable          bool    `json:"stackable"`
	ValidFrom          string  `json:"valid_from,omitempty"`
	ValidUntil         string  `json:"valid_until,omitempty"`
}

type OfferResponse struct {
	Offer CustomerOffer `json:"offer"`
}

type OfferListResponse struct {
	Offers []CustomerOffer `json:"offers"`
}

// OfferConsumeResponse reports the outcome of a consumption attempt. A
// second attempt on the same offer is a no-op with AlreadyUsed set, never
// an error that corrupts state.
type OfferConsumeResponse struct {
	Offer       CustomerOffer `json:"offer"`
	AlreadyUsed bool          `json:"already_used"`
}

type OfferApplyRequest struct {
	SaleID   string  `json:"sale_id" validate:"required"`
	OfferIDs []int64 `json:"offer_ids" validate:"required,min=1"`
}

type OfferApplyResponse struct {
	SaleID   string          `json:"sale_id"`
	Consumed []CustomerOffer `json:"consumed"`
}

// CustomerRollup is the derived per-mobile aggregate maintained
// incrementally alongside sale writes.
type CustomerRollup struct {
	Mobile            string     `json:"mobile"`
	Name              string     `json:"name,omitempty"`
	TotalPurchases    int64      `json:"total_purchases"`
	TotalCents        int64      `json:"total_cents"`
	FirstPurchaseDate *time.Time `json:"first_purchase_date,omitempty"`
	LastPurchaseDate  *time.Time `json:"last_purchase_date,omitempty"`
}

type CustomerSummary struct {
	Rollup CustomerRollup  `json:"rollup"`
	Offers []CustomerOffer `json:"offers"`
}

// AuditSession is a persisted, pausable stock-count activity owned by one
// user. ScannedData maps barcode to scanned count.
type AuditSession struct {
	ID                int64          `json:"id"`
	Username          string         `json:"username"`
	SessionName       string         `json:"session_name"`
	AuditMode         string         `json:"audit_mode"`
	StartTime         time.Time      `json:"start_time"`
	PauseTime         *time.Time     `json:"pause_time,omitempty"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	TotalPauseSeconds int64          `json:"total_pause_seconds"`
	IsPaused          bool           `json:"is_paused"`
	ScannedData       map[string]int `json:"scanned_data"`
	CreatedAt         time.Time      `json:"created_at"`
}

type AuditSessionCreateRequest struct {
	SessionName string `json:"session_name" validate:"required"`
}

type AuditScanRequest struct {
	Barcode string `json:"barcode" validate:"required"`
}

type AuditSessionResponse struct {
	Session AuditSession `json:"session"`
	// ElapsedSeconds is active time: now - start - total pauses. Frozen
	// once the session is completed.
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

type AuditSessionListResponse struct {
	Sessions []AuditSession `json:"sessions"`
}

// InventoryItem is the thin collaborator surface used for line labels and
// barcode lookups. Catalog editing lives outside this service.
type InventoryItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Barcode    string `json:"barcode,omitempty"`
	PriceCents int64  `json:"price_cents"`
}

type InventoryListResponse struct {
	Items []InventoryItem `json:"items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// ActionLog is an append-only trail entry for sale, offer and audit
// session mutations.
type ActionLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentMethodCash    = "cash"
	PaymentMethodOnline  = "online"
	PaymentMethodMixed   = "mixed"
	PaymentMethodPending = "pending"
)

const (
	AuditModeScan      = "scan"
	AuditModePaused    = "paused"
	AuditModeCompleted = "completed"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
