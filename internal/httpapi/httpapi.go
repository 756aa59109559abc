package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"healthtrack/backend/internal/service"
	"healthtrack/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logrus.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, log *logrus.Logger, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		log:           log,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/logout", a.handleLogout)
		r.Get("/auth/session", a.requireAuth(a.handleSession))

		r.Get("/roles", a.requireAuth(a.handleListRoles, service.RoleAdmin))
		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListUsers, service.RoleAdmin))
			r.Post("/", a.requireAuth(a.handleCreateUser, service.RoleAdmin))
			r.Get("/{id}", a.requireAuth(a.handleGetUser, service.RoleAdmin))
			r.Put("/{id}", a.requireAuth(a.handleUpdateUser, service.RoleAdmin))
			r.Patch("/{id}/status", a.requireAuth(a.handleSetUserStatus, service.RoleAdmin))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListInvoices))
			r.Get("/stats", a.requireAuth(a.handleInvoiceStats))
			r.Get("/search", a.requireAuth(a.handleSearchInvoices))
			r.Get("/{id}", a.requireAuth(a.handleInvoiceDetail))
			r.Get("/{id}/pdf", a.requireAuth(a.handleInvoicePDF))
			r.Post("/{id}/void", a.requireAuth(a.handleVoidInvoice))
			r.Post("/{id}/refund", a.requireAuth(a.handleProcessRefund))
		})
		r.Post("/sales", a.requireAuth(a.handleCreateSale))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListProducts))
			r.Get("/search", a.requireAuth(a.handleSearchProducts))
			r.Get("/available", a.requireAuth(a.handleAvailableProducts))
			r.Post("/", a.requireAuth(a.handleCreateProduct, service.RoleAdmin, service.RolePharmacist))
			r.Put("/{id}", a.requireAuth(a.handleUpdateProduct, service.RoleAdmin, service.RolePharmacist))
			r.Delete("/{id}", a.requireAuth(a.handleDeactivateProduct, service.RoleAdmin))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleInventoryLevels))
			r.Post("/adjust", a.requireAuth(a.handleAdjustInventory, service.RoleAdmin, service.RolePharmacist))
			r.Get("/expiring", a.requireAuth(a.handleExpiringProducts))
			r.Get("/low-stock", a.requireAuth(a.handleLowStockProducts))
			r.Get("/categories", a.requireAuth(a.handleListCategories))
			r.Get("/units", a.requireAuth(a.handleListUnits))
		})

		r.Route("/patients", func(r chi.Router) {
			r.Get("/search", a.requireAuth(a.handleSearchPatients))
			r.Post("/", a.requireAuth(a.handleCreatePatient))
			r.Get("/{id}", a.requireAuth(a.handleGetPatient))
			r.Put("/{id}", a.requireAuth(a.handleUpdatePatient))
			r.Patch("/{id}/status", a.requireAuth(a.handleSetPatientStatus))
			r.Get("/{id}/history", a.requireAuth(a.handlePatientHistory))
		})
		r.Get("/insurance-providers", a.requireAuth(a.handleListInsuranceProviders))

		r.Route("/prescribers", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListPrescribers))
			r.Post("/", a.requireAuth(a.handleCreatePrescriber))
			r.Put("/{id}", a.requireAuth(a.handleUpdatePrescriber))
			r.Patch("/{id}/status", a.requireAuth(a.handleSetPrescriberStatus, service.RoleAdmin, service.RolePharmacist))
		})
		r.Get("/insurance-discount-rates", a.requireAuth(a.handleListDiscountRates))
		r.Put("/insurance-discount-rates/{id}", a.requireAuth(a.handleUpdateDiscountRate, service.RoleAdmin))

		r.Route("/reports", func(r chi.Router) {
			r.Get("/overview", a.requireAuth(a.handleReportOverview))
			r.Get("/sales-trend", a.requireAuth(a.handleReportSalesTrend))
			r.Get("/top-products", a.requireAuth(a.handleReportTopProducts))
			r.Get("/refunds", a.requireAuth(a.handleReportRefundSummary))
			r.Get("/inventory-movements", a.requireAuth(a.handleReportInventoryMovement))
		})

		r.Get("/dashboard/summary", a.requireAuth(a.handleDashboardSummary))
		r.Get("/dashboard/top-products", a.requireAuth(a.handleDashboardTopProducts))
	})

	return r
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(startedAt).String(),
		}).Info("request")
	})
}

// fail maps service and store errors to the response envelope. Business
// sentinels carry fixed user-facing messages; validation errors carry their
// own message; anything else is a server fault answered with the handler's
// generic message while the real error goes to the log.
func (a *API) fail(w http.ResponseWriter, err error, notFoundMsg, internalMsg string) {
	switch {
	case errors.Is(err, store.ErrAlreadyVoided):
		writeMessage(w, http.StatusBadRequest, "Invoice is already voided")
	case errors.Is(err, store.ErrHasRefunds):
		writeMessage(w, http.StatusBadRequest, "Cannot void invoice with existing refunds")
	case errors.Is(err, store.ErrInvoiceVoided):
		writeMessage(w, http.StatusBadRequest, "Cannot refund a voided invoice")
	case errors.Is(err, store.ErrInvalidArgument):
		writeMessage(w, http.StatusBadRequest, userMessage(err, store.ErrInvalidArgument))
	case errors.Is(err, store.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, userMessage(err, store.ErrUnauthenticated))
	case errors.Is(err, store.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, notFoundMsg)
	default:
		a.log.WithError(err).Error(internalMsg)
		writeMessage(w, http.StatusInternalServerError, internalMsg)
	}
}

// userMessage strips the sentinel prefix, leaving the text written for the
// client.
func userMessage(err error, sentinel error) string {
	msg := err.Error()
	if rest, found := strings.CutPrefix(msg, sentinel.Error()+": "); found {
		return rest
	}
	return msg
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("valid ID required")
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveInt(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": status < 400,
		"message": message,
	})
}

// writeOK wraps the payload in the success envelope.
func writeOK(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
