package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet. sale_items
// reference sales through the sale_id business key; the secondary unique
// index on sales.sale_id backs that join and referential checks run in
// the orchestrating transactions rather than a native foreign key.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGSERIAL PRIMARY KEY,
			sale_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_mobile TEXT NOT NULL DEFAULT '',
			customer_dob DATE,
			total_cents BIGINT NOT NULL DEFAULT 0,
			discount_cents BIGINT NOT NULL DEFAULT 0,
			tax_cents BIGINT NOT NULL DEFAULT 0,
			final_cents BIGINT NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL,
			cash_cents BIGINT NOT NULL DEFAULT 0,
			online_cents BIGINT NOT NULL DEFAULT 0,
			cashier TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sales_sale_id_key ON sales (sale_id)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id BIGSERIAL PRIMARY KEY,
			sale_id TEXT NOT NULL,
			item_id BIGINT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			total_price_cents BIGINT NOT NULL,
			manual_override BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS sale_items_sale_id_idx ON sale_items (sale_id)`,
		`CREATE TABLE IF NOT EXISTS customers (
			mobile TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			total_purchases BIGINT NOT NULL DEFAULT 0,
			total_cents BIGINT NOT NULL DEFAULT 0,
			first_purchase_date TIMESTAMPTZ,
			last_purchase_date TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS customer_offers (
			id BIGSERIAL PRIMARY KEY,
			mobile TEXT NOT NULL,
			offer_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			discount_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_cents BIGINT NOT NULL DEFAULT 0,
			bundle_eligible BOOLEAN NOT NULL DEFAULT false,
			enabled_by_cashier BOOLEAN NOT NULL DEFAULT false,
			stackable BOOLEAN NOT NULL DEFAULT false,
			sale_id TEXT,
			valid_from TIMESTAMPTZ,
			valid_until TIMESTAMPTZ,
			is_used BOOLEAN NOT NULL DEFAULT false,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS customer_offers_mobile_idx ON customer_offers (mobile)`,
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			session_name TEXT NOT NULL,
			audit_mode TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			pause_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			total_pause_seconds BIGINT NOT NULL DEFAULT 0,
			is_paused BOOLEAN NOT NULL DEFAULT false,
			scanned_data TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			barcode TEXT NOT NULL DEFAULT '',
			price_cents BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS action_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if strings.TrimSpace(sale.SaleID) == "" || sale.PaymentMethod == "" {
		return nil, store.ErrInvalid
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (
			sale_id, customer_name, customer_mobile, customer_dob,
			total_cents, discount_cents, tax_cents, final_cents,
			payment_method, cash_cents, online_cents, cashier, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, sale.SaleID, sale.CustomerName, sale.CustomerMobile, nullDate(sale.CustomerDOB),
		sale.TotalCents, sale.DiscountCents, sale.TaxCents, sale.FinalCents,
		sale.PaymentMethod, sale.CashCents, sale.OnlineCents, sale.Cashier, sale.CreatedAt,
	).Scan(&sale.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.Quantity < 1 {
			return nil, store.ErrInvalid
		}
		item.SaleID = sale.SaleID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, item_id, quantity, unit_price_cents, total_price_cents, manual_override)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, item.SaleID, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
	}

	if sale.CustomerMobile != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO customers (mobile, name, total_purchases, total_cents, first_purchase_date, last_purchase_date)
			VALUES ($1,$2,1,$3,$4,$4)
			ON CONFLICT (mobile)
			DO UPDATE SET
				total_purchases = customers.total_purchases + 1,
				total_cents = customers.total_cents + EXCLUDED.total_cents,
				last_purchase_date = EXCLUDED.last_purchase_date,
				name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE customers.name END
		`, sale.CustomerMobile, sale.CustomerName, sale.FinalCents, sale.CreatedAt)
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

const saleColumns = `
	id, sale_id, customer_name, customer_mobile, customer_dob,
	total_cents, discount_cents, tax_cents, final_cents,
	payment_method, cash_cents, online_cents, cashier, created_at
`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var dob sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.SaleID,
		&sale.CustomerName,
		&sale.CustomerMobile,
		&dob,
		&sale.TotalCents,
		&sale.DiscountCents,
		&sale.TaxCents,
		&sale.FinalCents,
		&sale.PaymentMethod,
		&sale.CashCents,
		&sale.OnlineCents,
		&sale.Cashier,
		&sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if dob.Valid {
		d := dob.Time.UTC()
		sale.CustomerDOB = &d
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadItems(ctx, sale.SaleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) GetSaleBySaleID(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE sale_id = $1`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadItems(ctx, sale.SaleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) loadItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.item_id, COALESCE(ii.name, ''), si.quantity,
			si.unit_price_cents, si.total_price_cents, si.manual_override
		FROM sale_items si
		LEFT JOIN inventory_items ii ON ii.id = si.item_id
		WHERE si.sale_id = $1
		ORDER BY si.id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ItemID, &item.ItemName, &item.Quantity, &item.UnitPriceCents, &item.TotalPriceCents, &item.ManualOverride); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSaleHeader(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer_name = $2, customer_mobile = $3, total_cents = $4, discount_cents = $5,
			tax_cents = $6, final_cents = $7, payment_method = $8, cash_cents = $9, online_cents = $10
		WHERE id = $1
	`, sale.ID, sale.CustomerName, sale.CustomerMobile, sale.TotalCents, sale.DiscountCents,
		sale.TaxCents, sale.FinalCents, sale.PaymentMethod, sale.CashCents, sale.OnlineCents)
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
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := scanSale(tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.SaleID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return nil, err
	}

	if sale.CustomerMobile != "" {
		// first/last purchase dates are deliberately left in place: the
		// rollup reversal is one-directional.
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET total_purchases = total_purchases - 1,
				total_cents = total_cents - $2
			WHERE mobile = $1
		`, sale.CustomerMobile, sale.FinalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	saleIDs := make([]string, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		saleIDs = append(saleIDs, sale.SaleID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.item_id, COALESCE(ii.name, ''), si.quantity,
			si.unit_price_cents, si.total_price_cents, si.manual_override
		FROM sale_items si
		LEFT JOIN inventory_items ii ON ii.id = si.item_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.id ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsBySale := make(map[string][]domain.SaleItem, len(sales))
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ItemID, &item.ItemName, &item.Quantity, &item.UnitPriceCents, &item.TotalPriceCents, &item.ManualOverride); err != nil {
			return nil, err
		}
		itemsBySale[item.SaleID] = append(itemsBySale[item.SaleID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].SaleID]
	}
	return sales, nil
}

func (s *Store) AddSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.SaleID == "" || item.Quantity < 1 {
		return nil, store.ErrInvalid
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Referential check against the sale_id business key; sale_items has
	// no native foreign key on purpose.
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sales WHERE sale_id = $1`, item.SaleID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_items (sale_id, item_id, quantity, unit_price_cents, total_price_cents, manual_override)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, item.SaleID, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride).Scan(&item.ID)
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
	var item domain.SaleItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_id, item_id, quantity, unit_price_cents, total_price_cents, manual_override
		FROM sale_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.SaleID, &item.ItemID, &item.Quantity, &item.UnitPriceCents, &item.TotalPriceCents, &item.ManualOverride)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.Quantity < 1 {
		return nil, store.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sale_items
		SET item_id = $2, quantity = $3, unit_price_cents = $4, total_price_cents = $5, manual_override = $6
		WHERE id = $1
	`, item.ID, item.ItemID, item.Quantity, item.UnitPriceCents, item.TotalPriceCents, item.ManualOverride)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE id = $1`, id)
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
	var rollup domain.CustomerRollup
	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT mobile, name, total_purchases, total_cents, first_purchase_date, last_purchase_date
		FROM customers
		WHERE mobile = $1
	`, mobile).Scan(&rollup.Mobile, &rollup.Name, &rollup.TotalPurchases, &rollup.TotalCents, &first, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if first.Valid {
		t := first.Time.UTC()
		rollup.FirstPurchaseDate = &t
	}
	if last.Valid {
		t := last.Time.UTC()
		rollup.LastPurchaseDate = &t
	}
	return &rollup, nil
}

const offerColumns = `
	id, mobile, offer_type, description, discount_percentage, discount_cents,
	bundle_eligible, enabled_by_cashier, stackable, sale_id,
	valid_from, valid_until, is_used, used_at, created_at
`

func scanOffer(row interface{ Scan(...any) error }) (*domain.CustomerOffer, error) {
	var offer domain.CustomerOffer
	var saleID sql.NullString
	var validFrom, validUntil, usedAt sql.NullTime
	err := row.Scan(
		&offer.ID,
		&offer.Mobile,
		&offer.OfferType,
		&offer.Description,
		&offer.DiscountPercentage,
		&offer.DiscountCents,
		&offer.BundleEligible,
		&offer.EnabledByCashier,
		&offer.Stackable,
		&saleID,
		&validFrom,
		&validUntil,
		&offer.IsUsed,
		&usedAt,
		&offer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	offer.CreatedAt = offer.CreatedAt.UTC()
	if saleID.Valid {
		offer.SaleID = &saleID.String
	}
	if validFrom.Valid {
		t := validFrom.Time.UTC()
		offer.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time.UTC()
		offer.ValidUntil = &t
	}
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		offer.UsedAt = &t
	}
	return &offer, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.CustomerOffer) (*domain.CustomerOffer, error) {
	if strings.TrimSpace(offer.Mobile) == "" || strings.TrimSpace(offer.OfferType) == "" {
		return nil, store.ErrInvalid
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customer_offers (
			mobile, offer_type, description, discount_percentage, discount_cents,
			bundle_eligible, enabled_by_cashier, stackable, sale_id,
			valid_from, valid_until, is_used, used_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,NULL,$12)
		RETURNING id
	`, offer.Mobile, offer.OfferType, offer.Description, offer.DiscountPercentage, offer.DiscountCents,
		offer.BundleEligible, offer.EnabledByCashier, offer.Stackable, nullStringPtr(offer.SaleID),
		nullTimePtr(offer.ValidFrom), nullTimePtr(offer.ValidUntil), offer.CreatedAt,
	).Scan(&offer.ID)
	if err != nil {
		return nil, err
	}
	created := offer
	return &created, nil
}

func (s *Store) GetOffer(ctx context.Context, id int64) (*domain.CustomerOffer, error) {
	offer, err := scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM customer_offers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return offer, nil
}

func (s *Store) GetOffersByIDs(ctx context.Context, ids []int64) ([]domain.CustomerOffer, error) {
	offers := make([]domain.CustomerOffer, 0, len(ids))
	if len(ids) == 0 {
		return offers, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM customer_offers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// ListOffers intentionally ignores valid_until: offers remain listed and
// usable for their lifetime regardless of the stored expiry.
func (s *Store) ListOffers(ctx context.Context, mobile string) ([]domain.CustomerOffer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM customer_offers
		WHERE mobile = $1
		ORDER BY created_at DESC, id DESC
	`, mobile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.CustomerOffer, 0, 16)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// ConsumeOffer flips is_used with a single conditional update so two
// concurrent consumers cannot both win; the loser sees alreadyUsed.
func (s *Store) ConsumeOffer(ctx context.Context, id int64, saleID string, usedAt time.Time) (*domain.CustomerOffer, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customer_offers
		SET is_used = true, used_at = $2, sale_id = $3
		WHERE id = $1 AND is_used = false
	`, id, usedAt, nullIfEmpty(saleID))
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

func (s *Store) ListUsedOffersBySale(ctx context.Context, saleID string) ([]domain.CustomerOffer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM customer_offers
		WHERE sale_id = $1 AND is_used = true
		ORDER BY used_at ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.CustomerOffer, 0, 4)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *Store) ListUsedOffersByMobile(ctx context.Context, mobile string) ([]domain.CustomerOffer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM customer_offers
		WHERE mobile = $1 AND is_used = true
		ORDER BY used_at ASC, id ASC
	`, mobile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.CustomerOffer, 0, 8)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *Store) DeleteOffer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customer_offers WHERE id = $1`, id)
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
	blob, err := marshalScans(session.ScannedData)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO audit_sessions (
			username, session_name, audit_mode, start_time, pause_time, end_time,
			total_pause_seconds, is_paused, scanned_data, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, session.Username, session.SessionName, session.AuditMode, session.StartTime, nullTimePtr(session.PauseTime),
		nullTimePtr(session.EndTime), session.TotalPauseSeconds, session.IsPaused, blob, session.CreatedAt).Scan(&session.ID)
	if err != nil {
		return nil, err
	}
	created := session
	return &created, nil
}

func scanAuditSession(row interface{ Scan(...any) error }) (*domain.AuditSession, error) {
	var session domain.AuditSession
	var pauseTime sql.NullTime
	var endTime sql.NullTime
	var blob string
	err := row.Scan(
		&session.ID,
		&session.Username,
		&session.SessionName,
		&session.AuditMode,
		&session.StartTime,
		&pauseTime,
		&endTime,
		&session.TotalPauseSeconds,
		&session.IsPaused,
		&blob,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.StartTime = session.StartTime.UTC()
	session.CreatedAt = session.CreatedAt.UTC()
	if pauseTime.Valid {
		t := pauseTime.Time.UTC()
		session.PauseTime = &t
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		session.EndTime = &t
	}
	scans, err := unmarshalScans(blob)
	if err != nil {
		return nil, err
	}
	session.ScannedData = scans
	return &session, nil
}

func (s *Store) GetAuditSession(ctx context.Context, id int64) (*domain.AuditSession, error) {
	session, err := scanAuditSession(s.db.QueryRowContext(ctx, `
		SELECT id, username, session_name, audit_mode, start_time, pause_time, end_time,
			total_pause_seconds, is_paused, scanned_data, created_at
		FROM audit_sessions
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) UpdateAuditSession(ctx context.Context, session domain.AuditSession) (*domain.AuditSession, error) {
	blob, err := marshalScans(session.ScannedData)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_sessions
		SET session_name = $2, audit_mode = $3, pause_time = $4, end_time = $5,
			total_pause_seconds = $6, is_paused = $7, scanned_data = $8
		WHERE id = $1
	`, session.ID, session.SessionName, session.AuditMode, nullTimePtr(session.PauseTime),
		nullTimePtr(session.EndTime), session.TotalPauseSeconds, session.IsPaused, blob)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, session_name, audit_mode, start_time, pause_time, end_time,
			total_pause_seconds, is_paused, scanned_data, created_at
		FROM audit_sessions
		WHERE username = $1
		ORDER BY created_at DESC, id DESC
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.AuditSession, 0, 8)
	for rows.Next() {
		session, err := scanAuditSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) DeleteAuditSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_sessions WHERE id = $1`, id)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, price_cents
		FROM inventory_items
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Barcode, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, price_cents
		FROM inventory_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Barcode, &item.PriceCents)
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
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, price_cents
		FROM inventory_items
		WHERE barcode = $1
	`, barcode).Scan(&item.ID, &item.Name, &item.Barcode, &item.PriceCents)
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
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListActionLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM action_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ActionLog, 0, limit)
	for rows.Next() {
		var entry domain.ActionLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func marshalScans(scans map[string]int) (string, error) {
	if scans == nil {
		return "{}", nil
	}
	blob, err := json.Marshal(scans)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func unmarshalScans(blob string) (map[string]int, error) {
	scans := make(map[string]int)
	if strings.TrimSpace(blob) == "" {
		return scans, nil
	}
	if err := json.Unmarshal([]byte(blob), &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
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

func nullTimePtr(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
