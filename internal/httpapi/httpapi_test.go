package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

const testSecret = "test-secret-0123456789-0123456789-abc"

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	repo := memory.New()
	svc := service.New(repo, nil, 0)
	auth, err := NewAuthManager(testSecret, time.Hour, repo)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	if err := auth.EnsureAdmin(context.Background(), "bootstrap-pass-123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	api, err := New(svc, auth, "http://127.0.0.1:3000")
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	return api, api.Handler()
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, api *API, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthManagerRequiresSecret(t *testing.T) {
	if _, err := NewAuthManager("", time.Hour, nil); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
	if _, err := NewAuthManager("   ", time.Hour, nil); err == nil {
		t.Fatalf("expected blank secret to be rejected")
	}
}

func TestEnsureAdminRequiresBootstrapPassword(t *testing.T) {
	repo := memory.New()
	auth, err := NewAuthManager(testSecret, time.Hour, repo)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	if err := auth.EnsureAdmin(context.Background(), ""); !errors.Is(err, ErrAdminProvisioningRequired) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if err := auth.EnsureAdmin(context.Background(), "short"); err == nil {
		t.Fatalf("expected weak bootstrap password to be rejected")
	}
	if err := auth.EnsureAdmin(context.Background(), "ninechars"); err == nil {
		t.Fatalf("expected 9-character bootstrap password to be rejected")
	}
	if err := auth.EnsureAdmin(context.Background(), "bootstrap-pass-123"); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	// Once an admin exists the bootstrap password is no longer needed.
	if err := auth.EnsureAdmin(context.Background(), ""); err != nil {
		t.Fatalf("second start should not require bootstrap password: %v", err)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	_, handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginToken(t, handler, "admin", "bootstrap-pass-123")

	body, _ := json.Marshal(map[string]any{"session_name": "aisle 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit-sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := loginToken(t, handler, "admin", "bootstrap-pass-123")

	createReq := domain.SaleCreateRequest{
		SaleID:         "S-HTTP-1",
		CustomerName:   "Meera",
		CustomerMobile: "9995550000",
		TotalCents:     12000,
		FinalCents:     12000,
		PaymentMethod:  "cash",
		CashCents:      12000,
		Items: []domain.SaleItemCreateRequest{
			{ItemID: 1, Quantity: 2, UnitPriceCents: 6000, TotalPriceCents: 12000},
		},
	}

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/sales", token, createReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: status=%d body=%s", rec.Code, rec.Body.String())
	}

	// Duplicate business key maps to 409.
	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/sales", token, createReq)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate sale: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/sales/S-HTTP-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: status=%d", rec.Code)
	}
	var got domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if got.Sale.FinalCents != 12000 || len(got.Sale.Items) != 1 {
		t.Fatalf("unexpected sale payload: %+v", got.Sale)
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/sales/S-NOPE", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing sale: status=%d", rec.Code)
	}

	rec = doJSON(t, api, handler, http.MethodDelete, "/api/v1/sales/S-HTTP-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete sale: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/customers/9995550000", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get rollup: status=%d", rec.Code)
	}
	var rollupResp struct {
		Customer domain.CustomerRollup `json:"customer"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rollupResp); err != nil {
		t.Fatalf("decode rollup: %v", err)
	}
	if rollupResp.Customer.TotalPurchases != 0 || rollupResp.Customer.TotalCents != 0 {
		t.Fatalf("rollup not reversed: %+v", rollupResp.Customer)
	}
}

func TestSaleValidationOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := loginToken(t, handler, "admin", "bootstrap-pass-123")

	// Unknown payment method is caught by request validation.
	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		SaleID:        "S-BAD",
		FinalCents:    1000,
		PaymentMethod: "barter",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid payment method: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOfferConsumeOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := loginToken(t, handler, "admin", "bootstrap-pass-123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/offers", token, domain.OfferCreateRequest{
		Mobile:             "9996660000",
		OfferType:          "percentage",
		DiscountPercentage: 10,
		EnabledByCashier:   true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create offer: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created domain.OfferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode offer: %v", err)
	}

	path := "/api/v1/offers/1/consume"
	rec = doJSON(t, api, handler, http.MethodPost, path, token, map[string]any{"sale_id": "S-OFFER-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("consume: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var first domain.OfferConsumeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode consume: %v", err)
	}
	if first.AlreadyUsed {
		t.Fatalf("first consume reported already used")
	}

	rec = doJSON(t, api, handler, http.MethodPost, path, token, map[string]any{"sale_id": "S-OFFER-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second consume: status=%d", rec.Code)
	}
	var second domain.OfferConsumeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode second consume: %v", err)
	}
	if !second.AlreadyUsed {
		t.Fatalf("second consume should be a no-op")
	}
}

func TestAuditSessionFlowOverHTTP(t *testing.T) {
	api, handler := newTestAPI(t)
	token := loginToken(t, handler, "admin", "bootstrap-pass-123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/audit-sessions", token, domain.AuditSessionCreateRequest{SessionName: "front shelves"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/audit-sessions/1/scan", token, domain.AuditScanRequest{Barcode: "8990001000011"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/audit-sessions/1/complete", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status=%d body=%s", rec.Code, rec.Body.String())
	}

	// Completed sessions reject further scans.
	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/audit-sessions/1/scan", token, domain.AuditScanRequest{Barcode: "8990001000011"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("scan after complete: status=%d", rec.Code)
	}
}

func TestCashierRoleCannotManageUsers(t *testing.T) {
	api, handler := newTestAPI(t)
	adminToken := loginToken(t, handler, "admin", "bootstrap-pass-123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{
		Username: "kasir1", Password: "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: status=%d body=%s", rec.Code, rec.Body.String())
	}

	cashierToken := loginToken(t, handler, "kasir1", "secret123")
	rec = doJSON(t, api, handler, http.MethodGet, "/api/v1/users/cashiers", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier listing users: status=%d", rec.Code)
	}
}

func TestServiceErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"conflict", store.ErrConflict, http.StatusConflict},
		{"invalid", store.ErrInvalid, http.StatusBadRequest},
		{"forbidden", fmt.Errorf("admin role required: %w", service.ErrForbidden), http.StatusForbidden},
		{"infrastructure", errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tc.err)
			if rec.Code != tc.status {
				t.Fatalf("status=%d, want %d", rec.Code, tc.status)
			}
		})
	}
}

// Errors outside the taxonomy carry storage internals and must never
// reach the client verbatim.
func TestUnknownErrorsAreSanitized(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "10.0.0.5") || strings.Contains(body, "dial tcp") {
		t.Fatalf("response leaked internal error detail: %s", body)
	}
	if !strings.Contains(body, "internal server error") {
		t.Fatalf("expected generic message, got: %s", body)
	}
}
