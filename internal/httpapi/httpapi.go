package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) (*API, error) {
	// No deterministic fallback: a process that cannot draw randomness
	// must not serve CSRF tokens at all.
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		return nil, fmt.Errorf("generate csrf secret: %w", err)
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      validator.New(),
	}, nil
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sale-items/", a.requireAuth(a.handleSaleItemActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/offers", a.requireAuth(a.handleOffers, "cashier", "admin"))
	mux.HandleFunc("/api/v1/offers/apply", a.requireAuth(a.handleOfferApply, "cashier", "admin"))
	mux.HandleFunc("/api/v1/offers/", a.requireAuth(a.handleOfferActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/customers/", a.requireAuth(a.handleCustomerActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/audit-sessions", a.requireAuth(a.handleAuditSessions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/audit-sessions/", a.requireAuth(a.handleAuditSessionActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, "cashier", "admin"))
	mux.HandleFunc("/api/v1/inventory/", a.requireAuth(a.handleInventoryItem, "cashier", "admin"))
	mux.HandleFunc("/api/v1/inventory/barcode/", a.requireAuth(a.handleInventoryBarcode, "cashier", "admin"))

	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))
	mux.HandleFunc("/api/v1/action-logs", a.requireAuth(a.handleActionLogs, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		from, to, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sales, err := a.service.ListSalesByDateRange(r.Context(), from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleListResponse{Sales: sales})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := a.decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.SaleResponse{Sale: *sale})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/sales/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale reference required"))
		return
	}

	if rest, ok := strings.CutSuffix(tail, "/items"); ok {
		a.handleSaleItemAdd(w, r, strings.Trim(rest, "/"))
		return
	}
	if rest, ok := strings.CutSuffix(tail, "/offers"); ok {
		a.handleSaleOffers(w, r, strings.Trim(rest, "/"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), tail)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: *sale})
	case http.MethodPatch:
		var req domain.SaleHeaderUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.UpdateSaleHeader(r.Context(), tail, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: *sale})
	case http.MethodDelete:
		sale, err := a.service.DeleteSale(r.Context(), tail)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: *sale})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleItemAdd(w http.ResponseWriter, r *http.Request, saleRef string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if saleRef == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale reference required"))
		return
	}

	var req domain.SaleItemCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.AddSaleItem(r.Context(), saleRef, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

// handleSaleOffers reconciles which offers were consumed against the
// sale, exact links first, time-window matches as fallback.
func (a *API) handleSaleOffers(w http.ResponseWriter, r *http.Request, saleRef string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if saleRef == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale reference required"))
		return
	}

	sale, err := a.service.GetSale(r.Context(), saleRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	offers, err := a.service.ResolveUsedOffersForSale(r.Context(), sale.CustomerMobile, sale.SaleID, sale.CreatedAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.OfferListResponse{Offers: offers})
}

func (a *API) handleSaleItemActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/sale-items/")
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("numeric item id required"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.SaleItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateSaleItem(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodDelete:
		if err := a.service.DeleteSaleItem(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOffers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		mobile := strings.TrimSpace(r.URL.Query().Get("mobile"))
		offers, err := a.service.ListOffers(r.Context(), mobile)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.OfferListResponse{Offers: offers})
	case http.MethodPost:
		var req domain.OfferCreateRequest
		if err := a.decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		offer, err := a.service.CreateOffer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.OfferResponse{Offer: *offer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOfferApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.OfferApplyRequest
	if err := a.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ApplyOffers(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOfferActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/offers/")

	if rest, ok := strings.CutSuffix(tail, "/consume"); ok {
		a.handleOfferConsume(w, r, strings.Trim(rest, "/"))
		return
	}

	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("numeric offer id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		offer, err := a.service.GetOffer(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.OfferResponse{Offer: *offer})
	case http.MethodDelete:
		if err := a.service.DeleteOffer(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOfferConsume(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("numeric offer id required"))
		return
	}

	var req struct {
		SaleID string `json:"sale_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ConsumeOffer(r.Context(), id, req.SaleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	tail := pathTail(r.URL.Path, "/api/v1/customers/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("customer mobile required"))
		return
	}

	if mobile, ok := strings.CutSuffix(tail, "/summary"); ok {
		summary, err := a.service.CustomerSummary(r.Context(), strings.Trim(mobile, "/"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	rollup, err := a.service.GetCustomerRollup(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": rollup})
}

func (a *API) handleAuditSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := a.service.ListSessions(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.AuditSessionListResponse{Sessions: sessions})
	case http.MethodPost:
		var req domain.AuditSessionCreateRequest
		if err := a.decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.StartSession(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAuditSessionActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/audit-sessions/")

	rawID := tail
	action := ""
	if idx := strings.IndexByte(tail, '/'); idx >= 0 {
		rawID = tail[:idx]
		action = strings.Trim(tail[idx+1:], "/")
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("numeric session id required"))
		return
	}

	if action != "" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}

		var resp *domain.AuditSessionResponse
		switch action {
		case "pause":
			resp, err = a.service.PauseSession(r.Context(), id)
		case "resume":
			resp, err = a.service.ResumeSession(r.Context(), id)
		case "complete":
			resp, err = a.service.CompleteSession(r.Context(), id)
		case "scan":
			var req domain.AuditScanRequest
			if err := a.decodeValid(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			resp, err = a.service.RecordScan(r.Context(), id, req)
		default:
			writeError(w, http.StatusBadRequest, errors.New("unknown session action"))
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp, err := a.service.GetSession(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if err := a.service.DeleteSession(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	items, err := a.service.ListInventory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.InventoryListResponse{Items: items})
}

func (a *API) handleInventoryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	tail := pathTail(r.URL.Path, "/api/v1/inventory/")
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("numeric item id required"))
		return
	}

	item, err := a.service.GetInventoryItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleInventoryBarcode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	barcode := pathTail(r.URL.Path, "/api/v1/inventory/barcode/")
	item, err := a.service.GetInventoryItemByBarcode(r.Context(), barcode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers()
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := a.decodeValid(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleActionLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	from, to, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListActionLogs(r.Context(), from, to, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) decodeValid(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func pathTail(path string, prefix string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

// parseDateRange accepts YYYY-MM-DD bounds; the end date is exclusive
// at the following midnight so a single day is queried as from==to.
func parseDateRange(rawFrom string, rawTo string) (time.Time, time.Time, error) {
	rawFrom = strings.TrimSpace(rawFrom)
	rawTo = strings.TrimSpace(rawTo)
	if rawFrom == "" || rawTo == "" {
		return time.Time{}, time.Time{}, errors.New("from and to dates are required")
	}

	from, err := time.Parse("2006-01-02", rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from date, expected YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to date, expected YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to date precedes from date")
	}
	return from.UTC(), to.AddDate(0, 0, 1).UTC(), nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps the store and service error taxonomy onto
// HTTP statuses. Anything outside the taxonomy is a storage or
// infrastructure failure and surfaces as a sanitized 500.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
