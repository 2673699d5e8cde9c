package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Store is an in-memory Repository used for unit tests and for dev mode
// when no database is configured. All methods take the single mutex, so
// multi-row operations are trivially atomic.
type Store struct {
	mu              sync.RWMutex
	nextSaleRowID   int64
	nextItemID      int64
	nextOfferID     int64
	nextSessionID   int64
	salesByID       map[int64]domain.Sale
	saleRowBySaleID map[string]int64
	itemsByID       map[int64]domain.SaleItem
	rollups         map[string]domain.CustomerRollup
	offersByID      map[int64]domain.CustomerOffer
	sessionsByID    map[int64]domain.AuditSession
	inventoryByID   map[int64]domain.InventoryItem
	usersByUsername map[string]domain.UserAccount
	actionLogs      []domain.ActionLog
}

func New() *Store {
	return &Store{
		salesByID:       make(map[int64]domain.Sale),
		saleRowBySaleID: make(map[string]int64),
		itemsByID:       make(map[int64]domain.SaleItem),
		rollups:         make(map[string]domain.CustomerRollup),
		offersByID:      make(map[int64]domain.CustomerOffer),
		sessionsByID:    make(map[int64]domain.AuditSession),
		inventoryByID:   make(map[int64]domain.InventoryItem),
		usersByUsername: make(map[string]domain.UserAccount),
		actionLogs:      make([]domain.ActionLog, 0, 128),
	}
}

// NewSeeded returns a store preloaded with a small inventory catalog.
// User accounts are never seeded; they come from the provisioning step.
func NewSeeded() *Store {
	s := New()
	items := []domain.InventoryItem{
		{Name: "Mineral Water 600ml", Barcode: "8990001000011", PriceCents: 3900},
		{Name: "Instant Noodles", Barcode: "8990001000028", PriceCents: 3500},
		{Name: "UHT Milk 1L", Barcode: "8990001000035", PriceCents: 18900},
		{Name: "White Bread", Barcode: "8990001000042", PriceCents: 17800},
		{Name: "Coffee Sachet", Barcode: "8990001000059", PriceCents: 2600},
		{Name: "Sugar 1kg", Barcode: "8990001000066", PriceCents: 17400},
		{Name: "Bath Soap", Barcode: "8990001000073", PriceCents: 7400},
		{Name: "Cassava Chips", Barcode: "8990001000080", PriceCents: 12800},
	}
	for i, item := range items {
		item.ID = int64(i + 1)
		s.inventoryByID[item.ID] = item
	}
	return s
}

func cloneSale(sale domain.Sale) domain.Sale {
	out := sale
	if sale.Items != nil {
		out.Items = append([]domain.SaleItem(nil), sale.Items...)
	}
	return out
}

func cloneSession(session domain.AuditSession) domain.AuditSession {
	out := session
	out.ScannedData = make(map[string]int, len(session.ScannedData))
	for barcode, count := range session.ScannedData {
		out.ScannedData[barcode] = count
	}
	return out
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if strings.TrimSpace(sale.SaleID) == "" || sale.PaymentMethod == "" {
		return nil, store.ErrInvalid
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleRowBySaleID[sale.SaleID]; exists {
		return nil, store.ErrConflict
	}
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalid
		}
	}

	s.nextSaleRowID++
	sale.ID = s.nextSaleRowID

	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		s.nextItemID++
		item.ID = s.nextItemID
		item.SaleID = sale.SaleID
		s.itemsByID[item.ID] = item
		items = append(items, item)
	}
	sale.Items = items

	s.salesByID[sale.ID] = cloneSale(sale)
	s.saleRowBySaleID[sale.SaleID] = sale.ID

	if sale.CustomerMobile != "" {
		s.applyRollup(sale.CustomerMobile, sale.CustomerName, sale.FinalCents, sale.CreatedAt)
	}

	created := cloneSale(sale)
	return &created, nil
}

// applyRollup upserts the per-mobile aggregate. Callers hold the lock.
func (s *Store) applyRollup(mobile string, name string, finalCents int64, at time.Time) {
	rollup, exists := s.rollups[mobile]
	if !exists {
		first := at
		rollup = domain.CustomerRollup{Mobile: mobile, FirstPurchaseDate: &first}
	}
	if name != "" {
		rollup.Name = name
	}
	rollup.TotalPurchases++
	rollup.TotalCents += finalCents
	last := at
	rollup.LastPurchaseDate = &last
	s.rollups[mobile] = rollup
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	out.Items = s.itemsForSaleLocked(sale.SaleID)
	return &out, nil
}

func (s *Store) GetSaleBySaleID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rowID, exists := s.saleRowBySaleID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[rowID]
	out := cloneSale(sale)
	out.Items = s.itemsForSaleLocked(saleID)
	return &out, nil
}

func (s *Store) itemsForSaleLocked(saleID string) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, 8)
	for _, item := range s.itemsByID {
		if item.SaleID != saleID {
			continue
		}
		if inv, ok := s.inventoryByID[item.ItemID]; ok {
			item.ItemName = inv.Name
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Store) UpdateSaleHeader(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.salesByID[sale.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.CustomerName = sale.CustomerName
	existing.CustomerMobile = sale.CustomerMobile
	existing.TotalCents = sale.TotalCents
	existing.DiscountCents = sale.DiscountCents
	existing.TaxCents = sale.TaxCents
	existing.FinalCents = sale.FinalCents
	existing.PaymentMethod = sale.PaymentMethod
	existing.CashCents = sale.CashCents
	existing.OnlineCents = sale.OnlineCents
	s.salesByID[sale.ID] = existing

	out := cloneSale(existing)
	out.Items = s.itemsForSaleLocked(existing.SaleID)
	return &out, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	deleted := cloneSale(sale)
	deleted.Items = s.itemsForSaleLocked(sale.SaleID)

	for itemID, item := range s.itemsByID {
		if item.SaleID == sale.SaleID {
			delete(s.itemsByID, itemID)
		}
	}
	delete(s.salesByID, id)
	delete(s.saleRowBySaleID, sale.SaleID)

	if sale.CustomerMobile != "" {
		if rollup, ok := s.rollups[sale.CustomerMobile]; ok {
			rollup.TotalPurchases--
			rollup.TotalCents -= sale.FinalCents
			s.rollups[sale.CustomerMobile] = rollup
		}
	}

	return &deleted, nil
}

func (s *Store) ListSalesByDateRange(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		out := cloneSale(sale)
		out.Items = s.itemsForSaleLocked(sale.SaleID)
		sales = append(sales, out)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	return sales, nil
}

func (s *Store) AddSaleItem(_ context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.SaleID == "" || item.Quantity < 1 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleRowBySaleID[item.SaleID]; !exists {
		return nil, store.ErrNotFound
	}
	s.nextItemID++
	item.ID = s.nextItemID
	s.itemsByID[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetSaleItem(_ context.Context, id int64) (*domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := item
	return &out, nil
}

func (s *Store) UpdateSaleItem(_ context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.Quantity < 1 {
		return nil, store.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.itemsByID[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.ItemID = item.ItemID
	existing.Quantity = item.Quantity
	existing.UnitPriceCents = item.UnitPriceCents
	existing.TotalPriceCents = item.TotalPriceCents
	existing.ManualOverride = item.ManualOverride
	s.itemsByID[item.ID] = existing
	out := existing
	return &out, nil
}

func (s *Store) DeleteSaleItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.itemsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.itemsByID, id)
	return nil
}

func (s *Store) GetCustomerRollup(_ context.Context, mobile string) (*domain.CustomerRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rollup, exists := s.rollups[mobile]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := rollup
	return &out, nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.CustomerOffer) (*domain.CustomerOffer, error) {
	if strings.TrimSpace(offer.Mobile) == "" || strings.TrimSpace(offer.OfferType) == "" {
		return nil, store.ErrInvalid
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	offer.IsUsed = false
	offer.UsedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOfferID++
	offer.ID = s.nextOfferID
	s.offersByID[offer.ID] = offer
	created := offer
	return &created, nil
}

func (s *Store) GetOffer(_ context.Context, id int64) (*domain.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, exists := s.offersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := offer
	return &out, nil
}

func (s *Store) GetOffersByIDs(_ context.Context, ids []int64) ([]domain.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := make([]domain.CustomerOffer, 0, len(ids))
	for _, id := range ids {
		if offer, exists := s.offersByID[id]; exists {
			offers = append(offers, offer)
		}
	}
	return offers, nil
}

func (s *Store) ListOffers(_ context.Context, mobile string) ([]domain.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := make([]domain.CustomerOffer, 0, 16)
	for _, offer := range s.offersByID {
		if offer.Mobile == mobile {
			offers = append(offers, offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].CreatedAt.Equal(offers[j].CreatedAt) {
			return offers[i].ID > offers[j].ID
		}
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})
	return offers, nil
}

func (s *Store) ConsumeOffer(_ context.Context, id int64, saleID string, usedAt time.Time) (*domain.CustomerOffer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, exists := s.offersByID[id]
	if !exists {
		return nil, false, store.ErrNotFound
	}
	if offer.IsUsed {
		out := offer
		return &out, true, nil
	}

	offer.IsUsed = true
	at := usedAt.UTC()
	offer.UsedAt = &at
	if saleID != "" {
		sid := saleID
		offer.SaleID = &sid
	}
	s.offersByID[id] = offer
	out := offer
	return &out, false, nil
}

func (s *Store) ListUsedOffersBySale(_ context.Context, saleID string) ([]domain.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := make([]domain.CustomerOffer, 0, 4)
	for _, offer := range s.offersByID {
		if offer.IsUsed && offer.SaleID != nil && *offer.SaleID == saleID {
			offers = append(offers, offer)
		}
	}
	sortOffersByUsedAt(offers)
	return offers, nil
}

func (s *Store) ListUsedOffersByMobile(_ context.Context, mobile string) ([]domain.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers := make([]domain.CustomerOffer, 0, 8)
	for _, offer := range s.offersByID {
		if offer.IsUsed && offer.Mobile == mobile {
			offers = append(offers, offer)
		}
	}
	sortOffersByUsedAt(offers)
	return offers, nil
}

func sortOffersByUsedAt(offers []domain.CustomerOffer) {
	sort.Slice(offers, func(i, j int) bool {
		left, right := offers[i].UsedAt, offers[j].UsedAt
		if left == nil || right == nil {
			return offers[i].ID < offers[j].ID
		}
		if left.Equal(*right) {
			return offers[i].ID < offers[j].ID
		}
		return left.Before(*right)
	})
}

func (s *Store) DeleteOffer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.offersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.offersByID, id)
	return nil
}

func (s *Store) CreateAuditSession(_ context.Context, session domain.AuditSession) (*domain.AuditSession, error) {
	if strings.TrimSpace(session.Username) == "" || strings.TrimSpace(session.SessionName) == "" {
		return nil, store.ErrInvalid
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.ScannedData == nil {
		session.ScannedData = make(map[string]int)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	session.ID = s.nextSessionID
	s.sessionsByID[session.ID] = cloneSession(session)
	created := cloneSession(session)
	return &created, nil
}

func (s *Store) GetAuditSession(_ context.Context, id int64) (*domain.AuditSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := cloneSession(session)
	return &out, nil
}

func (s *Store) UpdateAuditSession(_ context.Context, session domain.AuditSession) (*domain.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.sessionsByID[session.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.SessionName = session.SessionName
	existing.AuditMode = session.AuditMode
	existing.PauseTime = session.PauseTime
	existing.EndTime = session.EndTime
	existing.TotalPauseSeconds = session.TotalPauseSeconds
	existing.IsPaused = session.IsPaused
	existing.ScannedData = make(map[string]int, len(session.ScannedData))
	for barcode, count := range session.ScannedData {
		existing.ScannedData[barcode] = count
	}
	s.sessionsByID[session.ID] = existing
	saved := cloneSession(existing)
	return &saved, nil
}

func (s *Store) ListAuditSessions(_ context.Context, username string) ([]domain.AuditSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]domain.AuditSession, 0, 8)
	for _, session := range s.sessionsByID {
		if session.Username == username {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *Store) DeleteAuditSession(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessionsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.sessionsByID, id)
	return nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.InventoryItem, 0, len(s.inventoryByID))
	for _, item := range s.inventoryByID {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) GetInventoryItem(_ context.Context, id int64) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, exists := s.inventoryByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := item
	return &out, nil
}

func (s *Store) GetInventoryItemByBarcode(_ context.Context, barcode string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.inventoryByID {
		if item.Barcode == barcode {
			out := item
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateActionLog(_ context.Context, entry domain.ActionLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionLogs = append(s.actionLogs, entry)
	return nil
}

func (s *Store) ListActionLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.ActionLog, 0, limit)
	for _, entry := range s.actionLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
