package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"healthtrack/backend/internal/cache"
	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/service"
	"healthtrack/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := service.New(memory.NewSeeded(), cache.NoopReportCache{}, log, 13, 1)
	auth := NewAuthManager("unit-test-secret-key-0123456789abcdef", time.Hour)
	return New(svc, auth, log, "http://127.0.0.1:3000").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func loginAs(t *testing.T, handler http.Handler, username, password string) *http.Cookie {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", domain.LoginRequest{
		Username: username,
		Password: password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("no session cookie in login response")
	return nil
}

func createCashSale(t *testing.T, handler http.Handler, cookie *http.Cookie) int64 {
	t.Helper()
	cash := decimal.RequireFromString("2260")
	rec := doJSON(t, handler, http.MethodPost, "/api/sales", domain.CreateSaleRequest{
		Items:         []domain.CartItem{{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("1000")}},
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	invoice, ok := body["invoice"].(map[string]any)
	require.True(t, ok, "missing invoice in %v", body)
	id, ok := invoice["invoiceId"].(float64)
	require.True(t, ok, "missing invoiceId in %v", invoice)
	return int64(id)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "admin", user["username"])

	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			found = true
			require.True(t, c.HttpOnly)
			require.NotEmpty(t, c.Value)
		}
	}
	require.True(t, found, "session cookie not set")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", domain.LoginRequest{
		Username: "admin",
		Password: "nope",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Invalid username or password", body["message"])
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", domain.LoginRequest{
			Username: "admin",
			Password: "wrong",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "Too many login attempts. Try again later.", decodeBody(t, rec)["message"])
}

func TestRequireAuth(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/invoices/", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Not authenticated. Please login.", body["message"])

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "not-a-token"})
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusUnauthorized, raw.Code)
}

func TestBearerTokenFallback(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "admin", user["username"])
}

func TestRoleEnforcement(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/users/", nil, cookie)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Access denied", decodeBody(t, rec)["message"])
}

func TestInvoiceNotFoundEnvelope(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/invoices/999999", nil, cookie)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Invoice not found", body["message"])
}

func TestSaleVoidFlow(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	invoiceID := createCashSale(t, handler, cookie)

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/void", invoiceID),
		domain.VoidInvoiceRequest{}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Void reason is required", decodeBody(t, rec)["message"])

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/void", invoiceID),
		domain.VoidInvoiceRequest{VoidReason: "duplicate entry"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Invoice voided successfully", decodeBody(t, rec)["message"])

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/void", invoiceID),
		domain.VoidInvoiceRequest{VoidReason: "again"}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invoice is already voided", decodeBody(t, rec)["message"])
}

func TestRefundFlow(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	invoiceID := createCashSale(t, handler, cookie)

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/refund", invoiceID),
		domain.RefundRequest{
			Amount: decimal.RequireFromString("500"),
			Reason: "damaged packaging",
			Method: domain.RefundCash,
		}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "Refund processed successfully", body["message"])
	require.NotZero(t, body["refundId"])

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/void", invoiceID),
		domain.VoidInvoiceRequest{VoidReason: "too late"}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Cannot void invoice with existing refunds", decodeBody(t, rec)["message"])
}

func TestRefundMethodValidationMessage(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	invoiceID := createCashSale(t, handler, cookie)

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/invoices/%d/refund", invoiceID),
		domain.RefundRequest{
			Amount: decimal.RequireFromString("500"),
			Reason: "test",
			Method: "BITCOIN",
		}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Valid refund method required (CASH, CARD, or CREDIT_NOTE)", decodeBody(t, rec)["message"])
}

func TestInvoicePDFEndpoint(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	invoiceID := createCashSale(t, handler, cookie)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/invoices/%d/pdf", invoiceID), nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), fmt.Sprintf("factura-%d.pdf", invoiceID))
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"), "body does not look like a PDF")
}

func TestSearchInvoicesValidation(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/invoices/search", nil, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Search term or invoice ID required", decodeBody(t, rec)["message"])

	rec = doJSON(t, handler, http.MethodGet, "/api/invoices/search?invoiceId=abc", nil, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Valid invoice ID required", decodeBody(t, rec)["message"])
}

func TestListInvoicesEnvelope(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	createCashSale(t, handler, cookie)

	rec := doJSON(t, handler, http.MethodGet, "/api/invoices/", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["count"])
	invoices, ok := body["invoices"].([]any)
	require.True(t, ok)
	require.Len(t, invoices, 1)
}

func TestLogoutClearsCookie(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cleared = true
			require.Less(t, c.MaxAge, 0)
		}
	}
	require.True(t, cleared, "logout did not clear session cookie")
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader(`{"bogus": true}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid request body", decodeBody(t, rec)["message"])
}

func TestReportRoutePaths(t *testing.T) {
	handler := newTestAPI(t)
	cookie := loginAs(t, handler, "admin", "admin123")
	createCashSale(t, handler, cookie)

	rec := doJSON(t, handler, http.MethodGet, "/api/reports/refunds", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	_, ok := body["summary"]
	require.True(t, ok, "missing summary in %v", body)

	rec = doJSON(t, handler, http.MethodGet, "/api/reports/inventory-movements", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	_, ok = body["movements"]
	require.True(t, ok, "missing movements in %v", body)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/invoices/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://127.0.0.1:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
