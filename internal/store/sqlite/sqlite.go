package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Store is an embedded SQLite Repository for single-terminal installs
// that run without a database server. Times are stored as RFC3339 text.
type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sale_id TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_mobile TEXT NOT NULL DEFAULT '',
			customer_dob TEXT,
			total_cents INTEGER NOT NULL DEFAULT 0,
			discount_cents INTEGER NOT NULL DEFAULT 0,
			tax_cents INTEGER NOT NULL DEFAULT 0,
			final_cents INTEGER NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL,
			cash_cents INTEGER NOT NULL DEFAULT 0,
			online_cents INTEGER NOT NULL DEFAULT 0,
			cashier TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sale_id TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price_cents INTEGER NOT NULL,
			total_price_cents INTEGER NOT NULL,
			manual_override INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS sale_items_sale_id_idx ON sale_items (sale_id);`,
		`CREATE TABLE IF NOT EXISTS customers (
			mobile TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			total_purchases INTEGER NOT NULL DEFAULT 0,
			total_cents INTEGER NOT NULL DEFAULT 0,
			first_purchase_date TEXT,
			last_purchase_date TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS customer_offers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mobile TEXT NOT NULL,
			offer_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			discount_percentage REAL NOT NULL DEFAULT 0,
			discount_cents INTEGER NOT NULL DEFAULT 0,
			bundle_eligible INTEGER NOT NULL DEFAULT 0,
			enabled_by_cashier INTEGER NOT NULL DEFAULT 0,
			stackable INTEGER NOT NULL DEFAULT 0,
			sale_id TEXT,
			valid_from TEXT,
			valid_until TEXT,
			is_used INTEGER NOT NULL DEFAULT 0,
			used_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS customer_offers_mobile_idx ON customer_offers (mobile);`,
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			session_name TEXT NOT NULL,
			audit_mode TEXT NOT NULL,
			start_time TEXT NOT NULL,
			pause_time TEXT,
			end_time TEXT,
			total_pause_seconds INTEGER NOT NULL DEFAULT 0,
			is_paused INTEGER NOT NULL DEFAULT 0,
			scanned_data TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			barcode TEXT NOT NULL DEFAULT '',
			price_cents INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS action_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type saleRow struct {
	ID             int64          `db:"id"`
	SaleID         string         `db:"sale_id"`
	CustomerName   string         `db:"customer_name"`
	CustomerMobile string         `db:"customer_mobile"`
	CustomerDOB    sql.NullString `db:"customer_dob"`
	TotalCents     int64          `db:"total_cents"`
	DiscountCents  int64          `db:"discount_cents"`
	TaxCents       int64          `db:"tax_cents"`
	FinalCents     int64          `db:"final_cents"`
	PaymentMethod  string         `db:"payment_method"`
	CashCents      int64          `db:"cash_cents"`
	OnlineCents    int64          `db:"online_cents"`
	Cashier        string         `db:"cashier"`
	CreatedAt      string         `db:"created_at"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:             r.ID,
		SaleID:         r.SaleID,
		CustomerName:   r.CustomerName,
		CustomerMobile: r.CustomerMobile,
		CustomerDOB:    parseNullTime(r.CustomerDOB),
		TotalCents:     r.TotalCents,
		DiscountCents:  r.DiscountCents,
		TaxCents:       r.TaxCents,
		FinalCents:     r.FinalCents,
		PaymentMethod:  r.PaymentMethod,
		CashCents:      r.CashCents,
		OnlineCents:    r.OnlineCents,
		Cashier:        r.Cashier,
		CreatedAt:      parseTime(r.CreatedAt),
	}
}

type saleItemRow struct {
	ID              int64  `db:"id"`
	SaleID          string `db:"sale_id"`
	ItemID          int64  `db:"item_id"`
	ItemName        string `db:"item_name"`
	Quantity        int    `db:"quantity"`
	UnitPriceCents  int64  `db:"unit_price_cents"`
	TotalPriceCents int64  `db:"total_price_cents"`
	ManualOverride  bool   `db:"manual_override"`
}

func (r saleItemRow) toDomain() domain.SaleItem {
	return domain.SaleItem{
		ID:              r.ID,
		SaleID:          r.SaleID,
		ItemID:          r.ItemID,
		ItemName:        r.ItemName,
		Quantity:        r.Quantity,
		UnitPriceCents:  r.UnitPriceCents,
		TotalPriceCents: r.TotalPriceCents,
		ManualOverride:  r.ManualOverride,
	}
}

type offerRow struct {
	ID                 int64          `db:"id"`
	Mobile             string         `db:"mobile"`
	OfferType          string         `db:"offer_type"`
	Description        string         `db:"description"`
	DiscountPercentage float64        `db:"discount_percentage"`
	DiscountCents      int64          `db:"discount_cents"`
	BundleEligible     bool           `db:"bundle_eligible"`
	EnabledByCashier   bool           `db:"enabled_by_cashier"`
	Stackable          bool           `db:"stackable"`
	SaleID             sql.NullString `db:"sale_id"`
	ValidFrom          sql.NullString `db:"valid_from"`
	ValidUntil         sql.NullString `db:"valid_until"`
	IsUsed             bool           `db:"is_used"`
	UsedAt             sql.NullString `db:"used_at"`
	CreatedAt          string         `db:"created_at"`
}

func (r offerRow) toDomain() domain.CustomerOffer {
	offer := domain.CustomerOffer{
		ID:                 r.ID,
		Mobile:             r.Mobile,
		OfferType:          r.OfferType,
		Description:        r.Description,
		DiscountPercentage: r.DiscountPercentage,
		DiscountCents:      r.DiscountCents,
		BundleEligible:     r.BundleEligible,
		EnabledByCashier:   r.EnabledByCashier,
		Stackable:          r.Stackable,
		ValidFrom:          parseNullTime(r.ValidFrom),
		ValidUntil:         parseNullTime(r.ValidUntil),
		IsUsed:             r.IsUsed,
		UsedAt:             parseNullTime(r.UsedAt),
		CreatedAt:          parseTime(r.CreatedAt),
	}
	if r.SaleID.Valid {
		sid := r.SaleID.String
		offer.SaleID = &sid
	}
	return offer
}

type auditSessionRow struct {
	ID                int64          `db:"id"`
	Username          string         `db:"username"`
	SessionName       string         `db:"session_name"`
	AuditMode         string         `db:"audit_mode"`
	StartTime         string         `db:"start_time"`
	PauseTime         sql.NullString `db:"pause_time"`
	EndTime           sql.NullString `db:"end_time"`
	TotalPauseSeconds int64          `db:"total_pause_seconds"`
	IsPaused          bool           `db:"is_paused"`
	ScannedData       string         `db:"scanned_data"`
	CreatedAt         string         `db:"created_at"`
}

func (r auditSessionRow) toDomain() (domain.AuditSession, error) {
	scans := make(map[string]int)
	if strings.TrimSpace(r.ScannedData) != "" {
		if err := json.Unmarshal([]byte(r.ScannedData), &scans); err != nil {
			return domain.AuditSession{}, err
		}
	}
	return domain.AuditSession{
		ID:                r.ID,
		Username:          r.Username,
		SessionName:       r.SessionName,
		AuditMode:         r.AuditMode,
		StartTime:         parseTime(r.StartTime),
		PauseTime:         parseNullTime(r.PauseTime),
		EndTime:           parseNullTime(r.EndTime),
		TotalPauseSeconds: r.TotalPauseSeconds,
		IsPaused:          r.IsPaused,
		ScannedData:       scans,
		CreatedAt:         parseTime(r.CreatedAt),
	}, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if strings.TrimSpace(sale.SaleID) == "" || sale.PaymentMethod == "" {
		return nil, store.ErrInvalid
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (
			sale_id, customer_name, customer_mobile, customer_dob,
			total_cents, discount_cents, tax_cents, final_cents,
			payment_method, cash_cents, online_cents, cashier, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sale.SaleID, sale.CustomerName, sale.CustomerMobile, formatNullTime(sale.CustomerDOB),
		sale.TotalCents, sale.DiscountCents, sale.TaxCents, sale.FinalCents,
		sale.PaymentMethod, sale.CashCents, sale.OnlineCents, sale.Cashier, formatTime(sale.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	sale.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.Quantity < 1 {
			return nil, store.ErrInvalid
		}
		item.SaleID = sale.SaleID
		itemRes, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, item_id, quantity, unit_price_cents, total_price_cents, manual_override)
			VALUES (?,?,?,?,?,?)
		`, item.SaleID, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride)
		if err != nil {
			return nil, err
		}
		item.ID, err = itemRes.LastInsertId()
		if err != nil {
			return nil, err
		}
	}

	if sale.CustomerMobile != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO customers (mobile, name, total_purchases, total_cents, first_purchase_date, last_purchase_date)
			VALUES (?,?,1,?,?,?)
			ON CONFLICT (mobile)
			DO UPDATE SET
				total_purchases = total_purchases + 1,
				total_cents = total_cents + excluded.total_cents,
				last_purchase_date = excluded.last_purchase_date,
				name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE customers.name END
		`, sale.CustomerMobile, sale.CustomerName, sale.FinalCents, formatTime(sale.CreatedAt), formatTime(sale.CreatedAt))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) getSale(ctx context.Context, where string, arg any) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sales WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()
	items, err := s.loadItems(ctx, sale.SaleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.getSale(ctx, `id = ?`, id)
}

func (s *Store) GetSaleBySaleID(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.getSale(ctx, `sale_id = ?`, saleID)
}

func (s *Store) loadItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	var rows []saleItemRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT si.id, si.sale_id, si.item_id, COALESCE(ii.name, '') AS item_name,
			si.quantity, si.unit_price_cents, si.total_price_cents, si.manual_override
		FROM sale_items si
		LEFT JOIN inventory_items ii ON ii.id = si.item_id
		WHERE si.sale_id = ?
		ORDER BY si.id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) UpdateSaleHeader(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer_name = ?, customer_mobile = ?, total_cents = ?, discount_cents = ?,
			tax_cents = ?, final_cents = ?, payment_method = ?, cash_cents = ?, online_cents = ?
		WHERE id = ?
	`, sale.CustomerName, sale.CustomerMobile, sale.TotalCents, sale.DiscountCents,
		sale.TaxCents, sale.FinalCents, sale.PaymentMethod, sale.CashCents, sale.OnlineCents, sale.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetSaleByID(ctx, sale.ID)
}

func (s *Store) DeleteSale(ctx context.Context, id int64) (*domain.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row saleRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = ?`, sale.SaleID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if sale.CustomerMobile != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET total_purchases = total_purchases - 1,
				total_cents = total_cents - ?
			WHERE mobile = ?
		`, sale.FinalCents, sale.CustomerMobile)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	var rows []saleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sales
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale := row.toDomain()
		items, err := s.loadItems(ctx, sale.SaleID)
		if err != nil {
			return nil, err
		}
		sale.Items = items
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) AddSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.SaleID == "" || item.Quantity < 1 {
		return nil, store.ErrInvalid
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM sales WHERE sale_id = ?`, item.SaleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sale_items (sale_id, item_id, quantity, unit_price_cents, total_price_cents, manual_override)
		VALUES (?,?,?,?,?,?)
	`, item.SaleID, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride)
	if err != nil {
		return nil, err
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error) {
	var row saleItemRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, sale_id, item_id, '' AS item_name, quantity, unit_price_cents, total_price_cents, manual_override
		FROM sale_items
		WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item := row.toDomain()
	return &item, nil
}

func (s *Store) UpdateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.Quantity < 1 {
		return nil, store.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sale_items
		SET item_id = ?, quantity = ?, unit_price_cents = ?, total_price_cents = ?, manual_override = ?
		WHERE id = ?
	`, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride, item.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := item
	return &updated, nil
}

func (s *Store) DeleteSaleItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCustomerRollup(ctx context.Context, mobile string) (*domain.CustomerRollup, error) {
	var row struct {
		Mobile            string         `db:"mobile"`
		Name              string         `db:"name"`
		TotalPurchases    int64          `db:"total_purchases"`
		TotalCents        int64          `db:"total_cents"`
		FirstPurchaseDate sql.NullString `db:"first_purchase_date"`
		LastPurchaseDate  sql.NullString `db:"last_purchase_date"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM customers WHERE mobile = ?`, mobile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &domain.CustomerRollup{
		Mobile:            row.Mobile,
		Name:              row.Name,
		TotalPurchases:    row.TotalPurchases,
		TotalCents:        row.TotalCents,
		FirstPurchaseDate: parseNullTime(row.FirstPurchaseDate),
		LastPurchaseDate:  parseNullTime(row.LastPurchaseDate),
	}, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.CustomerOffer) (*domain.CustomerOffer, error) {
	if strings.TrimSpace(offer.Mobile) == "" || strings.TrimSpace(offer.OfferType) == "" {
		return nil, store.ErrInvalid
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_offers (
			mobile, offer_type, description, discount_percentage, discount_cents,
			bundle_eligible, enabled_by_cashier, stackable, sale_id,
			valid_from, valid_until, is_used, used_at, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,0,NULL,?)
	`, offer.Mobile, offer.OfferType, offer.Description, offer.DiscountPercentage, offer.DiscountCents,
		offer.BundleEligible, offer.EnabledByCashier, offer.Stackable, nullStringPtr(offer.SaleID),
		formatNullTime(offer.ValidFrom), formatNullTime(offer.ValidUntil), formatTime(offer.CreatedAt))
	if err != nil {
		return nil, err
	}
	offer.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	offer.IsUsed = false
	offer.UsedAt = nil
	created := offer
	return &created, nil
}

func (s *Store) GetOffer(ctx context.Context, id int64) (*domain.CustomerOffer, error) {
	var row offerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM customer_offers WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	offer := row.toDomain()
	return &offer, nil
}

func (s *Store) GetOffersByIDs(ctx context.Context, ids []int64) ([]domain.CustomerOffer, error) {
	offers := make([]domain.CustomerOffer, 0, len(ids))
	if len(ids) == 0 {
		return offers, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM customer_offers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		offers = append(offers, row.toDomain())
	}
	return offers, nil
}

func (s *Store) ListOffers(ctx context.Context, mobile string) ([]domain.CustomerOffer, error) {
	var rows []offerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM customer_offers
		WHERE mobile = ?
		ORDER BY created_at DESC, id DESC
	`, mobile)
	if err != nil {
		return nil, err
	}
	offers := make([]domain.CustomerOffer, 0, len(rows))
	for _, row := range rows {
		offers = append(offers, row.toDomain())
	}
	return offers, nil
}

func (s *Store) ConsumeOffer(ctx context.Context, id int64, saleID string, usedAt time.Time) (*domain.CustomerOffer, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customer_offers
		SET is_used = 1, used_at = ?, sale_id = ?
		WHERE id = ? AND is_used = 0
	`, formatTime(usedAt), nullIfEmpty(saleID), id)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	offer, err := s.GetOffer(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return offer, affected == 0, nil
}

func (s *Store) listUsedOffers(ctx context.Context, where string, arg any) ([]domain.CustomerOffer, error) {
	var rows []offerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM customer_offers
		WHERE `+where+` AND is_used = 1
		ORDER BY used_at ASC, id ASC
	`, arg)
	if err != nil {
		return nil, err
	}
	offers := make([]domain.CustomerOffer, 0, len(rows))
	for _, row := range rows {
		offers = append(offers, row.toDomain())
	}
	return offers, nil
}

func (s *Store) ListUsedOffersBySale(ctx context.Context, saleID string) ([]domain.CustomerOffer, error) {
	return s.listUsedOffers(ctx, `sale_id = ?`, saleID)
}

func (s *Store) ListUsedOffersByMobile(ctx context.Context, mobile string) ([]domain.CustomerOffer, error) {
	return s.listUsedOffers(ctx, `mobile = ?`, mobile)
}

func (s *Store) DeleteOffer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customer_offers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditSession(ctx context.Context, session domain.AuditSession) (*domain.AuditSession, error) {
	if strings.TrimSpace(session.Username) == "" || strings.TrimSpace(session.SessionName) == "" {
		return nil, store.ErrInvalid
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	blob, err := json.Marshal(orEmptyScans(session.ScannedData))
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_sessions (
			username, session_name, audit_mode, start_time, pause_time, end_time,
			total_pause_seconds, is_paused, scanned_data, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, session.Username, session.SessionName, session.AuditMode, formatTime(session.StartTime),
		formatNullTime(session.PauseTime), formatNullTime(session.EndTime), session.TotalPauseSeconds, session.IsPaused, string(blob), formatTime(session.CreatedAt))
	if err != nil {
		return nil, err
	}
	session.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := session
	return &created, nil
}

func (s *Store) GetAuditSession(ctx context.Context, id int64) (*domain.AuditSession, error) {
	var row auditSessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM audit_sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) UpdateAuditSession(ctx context.Context, session domain.AuditSession) (*domain.AuditSession, error) {
	blob, err := json.Marshal(orEmptyScans(session.ScannedData))
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_sessions
		SET session_name = ?, audit_mode = ?, pause_time = ?, end_time = ?,
			total_pause_seconds = ?, is_paused = ?, scanned_data = ?
		WHERE id = ?
	`, session.SessionName, session.AuditMode, formatNullTime(session.PauseTime), formatNullTime(session.EndTime),
		session.TotalPauseSeconds, session.IsPaused, string(blob), session.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	saved := session
	return &saved, nil
}

func (s *Store) ListAuditSessions(ctx context.Context, username string) ([]domain.AuditSession, error) {
	var rows []auditSessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM audit_sessions
		WHERE username = ?
		ORDER BY created_at DESC, id DESC
	`, username)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.AuditSession, 0, len(rows))
	for _, row := range rows {
		session, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) DeleteAuditSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	items := make([]domain.InventoryItem, 0, 64)
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, name, barcode, price_cents AS pricecents
		FROM inventory_items
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.GetContext(ctx, &item, `
		SELECT id, name, barcode, price_cents AS pricecents
		FROM inventory_items
		WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetInventoryItemByBarcode(ctx context.Context, barcode string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.GetContext(ctx, &item, `
		SELECT id, name, barcode, price_cents AS pricecents
		FROM inventory_items
		WHERE barcode = ?
	`, barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES (?,?,?,?,?)
	`, username, user.Password, user.Role, user.Active, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []struct {
		Username  string `db:"username"`
		Password  string `db:"password"`
		Role      string `db:"role"`
		Active    bool   `db:"active"`
		CreatedAt string `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM app_users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: parseTime(row.CreatedAt),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateActionLog(ctx context.Context, entry domain.ActionLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, formatTime(entry.CreatedAt))
	return err
}

func (s *Store) ListActionLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []struct {
		ID            string `db:"id"`
		ActorUsername string `db:"actor_username"`
		ActorRole     string `db:"actor_role"`
		Action        string `db:"action"`
		EntityType    string `db:"entity_type"`
		EntityID      string `db:"entity_id"`
		Detail        string `db:"detail"`
		CreatedAt     string `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM action_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, err
	}
	logs := make([]domain.ActionLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.ActionLog{
			ID:            row.ID,
			ActorUsername: row.ActorUsername,
			ActorRole:     row.ActorRole,
			Action:        row.Action,
			EntityType:    row.EntityType,
			EntityID:      row.EntityID,
			Detail:        row.Detail,
			CreatedAt:     parseTime(row.CreatedAt),
		})
	}
	return logs, nil
}

func orEmptyScans(scans map[string]int) map[string]int {
	if scans == nil {
		return map[string]int{}
	}
	return scans
}

// timeLayout pads fractional seconds to a fixed width so the TEXT
// columns sort lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullStringPtr(val *string) any {
	if val == nil || *val == "" {
		return nil
	}
	return *val
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
