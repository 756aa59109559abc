package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Auth.

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeMessage(w, http.StatusTooManyRequests, "Too many login attempts. Try again later.")
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.fail(w, err, "Invalid username or password", "Error during login")
		return
	}

	token, expiresAt, err := a.auth.Sign(user)
	if err != nil {
		a.fail(w, err, "", "Error during login")
		return
	}
	a.setSessionCookie(w, token, expiresAt)
	writeOK(w, map[string]any{"user": user})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	writeOK(w, map[string]any{"message": "Logged out"})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := service.UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated. Please login.")
		return
	}
	writeOK(w, map[string]any{"user": user})
}

// Users and roles.

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.service.ListRoles(r.Context())
	if err != nil {
		a.fail(w, err, "Roles not found", "Error loading roles")
		return
	}
	writeOK(w, map[string]any{"roles": roles})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.fail(w, err, "Users not found", "Error loading users")
		return
	}
	writeOK(w, map[string]any{"users": users})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid user ID required")
		return
	}
	user, err := a.service.GetUser(r.Context(), id)
	if err != nil {
		a.fail(w, err, "User not found", "Error loading user")
		return
	}
	writeOK(w, map[string]any{"user": user})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, err, "User not found", "Error creating user")
		return
	}
	writeOK(w, map[string]any{"userId": id, "message": "User created"})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid user ID required")
		return
	}
	var req domain.UserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.UpdateUser(r.Context(), id, req); err != nil {
		a.fail(w, err, "User not found", "Error updating user")
		return
	}
	writeOK(w, map[string]any{"message": "User updated"})
}

func (a *API) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid user ID required")
		return
	}
	var req struct {
		Active bool `json:"isActive"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.SetUserActive(r.Context(), id, req.Active); err != nil {
		a.fail(w, err, "User not found", "Error updating user status")
		return
	}
	writeOK(w, map[string]any{"message": "User status updated"})
}

// Invoices.

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var patientID *int64
	if raw := strings.TrimSpace(q.Get("patientId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "Valid patient ID required")
			return
		}
		patientID = &id
	}

	invoices, err := a.service.ListInvoices(r.Context(), q.Get("startDate"), q.Get("endDate"), q.Get("status"), patientID)
	if err != nil {
		a.fail(w, err, "Invoices not found", "Error loading invoices")
		return
	}
	writeOK(w, map[string]any{"invoices": invoices, "count": len(invoices)})
}

func (a *API) handleInvoiceStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := a.service.GetInvoiceStats(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.fail(w, err, "Stats not found", "Error loading invoice stats")
		return
	}
	writeOK(w, map[string]any{"stats": stats})
}

func (a *API) handleSearchInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var invoiceID *int64
	if raw := strings.TrimSpace(q.Get("invoiceId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "Valid invoice ID required")
			return
		}
		invoiceID = &id
	}

	invoices, err := a.service.SearchInvoices(r.Context(), q.Get("term"), invoiceID)
	if err != nil {
		a.fail(w, err, "Invoices not found", "Error searching invoices")
		return
	}
	writeOK(w, map[string]any{"invoices": invoices, "count": len(invoices)})
}

func (a *API) handleInvoiceDetail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid invoice ID required")
		return
	}
	detail, err := a.service.GetInvoiceDetail(r.Context(), id)
	if err != nil {
		a.fail(w, err, "Invoice not found", "Error loading invoice details")
		return
	}
	writeOK(w, map[string]any{
		"invoice": detail.Invoice,
		"items":   detail.Items,
		"refunds": detail.Refunds,
	})
}

func (a *API) handleInvoicePDF(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid invoice ID required")
		return
	}
	payload, err := a.service.InvoicePDF(r.Context(), id)
	if err != nil {
		a.fail(w, err, "Invoice not found", "Error generating PDF")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=factura-%d.pdf", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Invoice not found", "Error creating sale")
		return
	}
	writeOK(w, map[string]any{"invoice": resp, "message": "Sale completed"})
}

func (a *API) handleVoidInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid invoice ID required")
		return
	}
	var req domain.VoidInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.VoidInvoice(r.Context(), id, req.VoidReason); err != nil {
		a.fail(w, err, "Invoice not found", "Error voiding invoice")
		return
	}
	writeOK(w, map[string]any{"message": "Invoice voided successfully"})
}

func (a *API) handleProcessRefund(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid invoice ID required")
		return
	}
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	refundID, err := a.service.ProcessRefund(r.Context(), id, req)
	if err != nil {
		a.fail(w, err, "Invoice not found", "Error processing refund")
		return
	}
	writeOK(w, map[string]any{"refundId": refundID, "message": "Refund processed successfully"})
}

// Products.

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, err, "Products not found", "Error loading products")
		return
	}
	writeOK(w, map[string]any{"products": products})
}

func (a *API) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.SearchProducts(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		a.fail(w, err, "Products not found", "Error searching products")
		return
	}
	writeOK(w, map[string]any{"products": products})
}

func (a *API) handleAvailableProducts(w http.ResponseWriter, r *http.Request) {
	var warehouseID *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("warehouseId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "Valid warehouse ID required")
			return
		}
		warehouseID = &id
	}
	products, err := a.service.ListAvailableProducts(r.Context(), warehouseID)
	if err != nil {
		a.fail(w, err, "Products not found", "Error loading products")
		return
	}
	writeOK(w, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Product not found", "Error creating product")
		return
	}
	writeOK(w, map[string]any{"productId": id, "message": "Product created"})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid product ID required")
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.UpdateProduct(r.Context(), id, req); err != nil {
		a.fail(w, err, "Product not found", "Error updating product")
		return
	}
	writeOK(w, map[string]any{"message": "Product updated"})
}

func (a *API) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid product ID required")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.DeactivateProduct(r.Context(), id, req.Reason); err != nil {
		a.fail(w, err, "Product not found", "Error deactivating product")
		return
	}
	writeOK(w, map[string]any{"message": "Product deactivated"})
}

// Inventory.

func (a *API) handleInventoryLevels(w http.ResponseWriter, r *http.Request) {
	var warehouseID *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("warehouseId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "Valid warehouse ID required")
			return
		}
		warehouseID = &id
	}
	levels, err := a.service.GetInventoryLevels(r.Context(), warehouseID)
	if err != nil {
		a.fail(w, err, "Inventory not found", "Error loading inventory")
		return
	}
	writeOK(w, map[string]any{"inventory": levels})
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustment
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := a.service.AdjustInventory(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Product not found", "Error adjusting inventory")
		return
	}
	writeOK(w, map[string]any{"adjustment": result, "message": "Inventory adjusted"})
}

func (a *API) handleExpiringProducts(w http.ResponseWriter, r *http.Request) {
	days := parsePositiveInt(r.URL.Query().Get("days"), 90)
	levels, err := a.service.ListExpiringProducts(r.Context(), days)
	if err != nil {
		a.fail(w, err, "Products not found", "Error loading expiring products")
		return
	}
	writeOK(w, map[string]any{"products": levels})
}

func (a *API) handleLowStockProducts(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.ListLowStockProducts(r.Context())
	if err != nil {
		a.fail(w, err, "Products not found", "Error loading low stock products")
		return
	}
	writeOK(w, map[string]any{"products": levels})
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.fail(w, err, "Categories not found", "Error loading categories")
		return
	}
	writeOK(w, map[string]any{"categories": categories})
}

func (a *API) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := a.service.ListUnits(r.Context())
	if err != nil {
		a.fail(w, err, "Units not found", "Error loading units")
		return
	}
	writeOK(w, map[string]any{"units": units})
}

// Patients.

func (a *API) handleSearchPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := a.service.SearchPatients(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		a.fail(w, err, "Patients not found", "Error searching patients")
		return
	}
	writeOK(w, map[string]any{"patients": patients})
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid patient ID required")
		return
	}
	patient, err := a.service.GetPatient(r.Context(), id)
	if err != nil {
		a.fail(w, err, "Patient not found", "Error loading patient")
		return
	}
	writeOK(w, map[string]any{"patient": patient})
}

func (a *API) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req domain.PatientUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := a.service.CreatePatient(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Patient not found", "Error creating patient")
		return
	}
	writeOK(w, map[string]any{"patientId": id, "message": "Patient created"})
}

func (a *API) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid patient ID required")
		return
	}
	var req domain.PatientUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.UpdatePatient(r.Context(), id, req); err != nil {
		a.fail(w, err, "Patient not found", "Error updating patient")
		return
	}
	writeOK(w, map[string]any{"message": "Patient updated"})
}

func (a *API) handleSetPatientStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid patient ID required")
		return
	}
	var req struct {
		Active bool   `json:"isActive"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.SetPatientActive(r.Context(), id, req.Active, req.Reason); err != nil {
		a.fail(w, err, "Patient not found", "Error updating patient status")
		return
	}
	writeOK(w, map[string]any{"message": "Patient status updated"})
}

func (a *API) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid patient ID required")
		return
	}
	history, err := a.service.GetPatientPurchaseHistory(r.Context(), id)
	if err != nil {
		a.fail(w, err, "Patient not found", "Error loading purchase history")
		return
	}
	writeOK(w, map[string]any{"history": history})
}

func (a *API) handleListInsuranceProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := a.service.ListInsuranceProviders(r.Context())
	if err != nil {
		a.fail(w, err, "Providers not found", "Error loading insurance providers")
		return
	}
	writeOK(w, map[string]any{"providers": providers})
}

// Prescribers.

func (a *API) handleListPrescribers(w http.ResponseWriter, r *http.Request) {
	prescribers, err := a.service.ListPrescribers(r.Context())
	if err != nil {
		a.fail(w, err, "Prescribers not found", "Error loading prescribers")
		return
	}
	writeOK(w, map[string]any{"prescribers": prescribers})
}

func (a *API) handleCreatePrescriber(w http.ResponseWriter, r *http.Request) {
	var req domain.PrescriberUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := a.service.CreatePrescriber(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Prescriber not found", "Error creating prescriber")
		return
	}
	writeOK(w, map[string]any{"prescriberId": id, "message": "Prescriber created"})
}

func (a *API) handleUpdatePrescriber(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid prescriber ID required")
		return
	}
	var req domain.PrescriberUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.UpdatePrescriber(r.Context(), id, req); err != nil {
		a.fail(w, err, "Prescriber not found", "Error updating prescriber")
		return
	}
	writeOK(w, map[string]any{"message": "Prescriber updated"})
}

func (a *API) handleSetPrescriberStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid prescriber ID required")
		return
	}
	var req struct {
		Active bool `json:"isActive"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.SetPrescriberActive(r.Context(), id, req.Active); err != nil {
		a.fail(w, err, "Prescriber not found", "Error updating prescriber status")
		return
	}
	writeOK(w, map[string]any{"message": "Prescriber status updated"})
}

func (a *API) handleListDiscountRates(w http.ResponseWriter, r *http.Request) {
	rates, err := a.service.ListInsuranceDiscountRates(r.Context())
	if err != nil {
		a.fail(w, err, "Rates not found", "Error loading discount rates")
		return
	}
	writeOK(w, map[string]any{"rates": rates})
}

func (a *API) handleUpdateDiscountRate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Valid insurance ID required")
		return
	}
	var req domain.DiscountRate
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := a.service.UpdateInsuranceDiscountRate(r.Context(), id, req); err != nil {
		a.fail(w, err, "Insurance provider not found", "Error updating discount rate")
		return
	}
	writeOK(w, map[string]any{"message": "Discount rate updated"})
}

// Reports and dashboard.

func (a *API) handleReportOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overview, err := a.service.ReportOverview(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.fail(w, err, "Report not found", "Error loading report")
		return
	}
	writeOK(w, map[string]any{"overview": overview})
}

func (a *API) handleReportSalesTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trend, err := a.service.ReportSalesTrend(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.fail(w, err, "Report not found", "Error loading report")
		return
	}
	writeOK(w, map[string]any{"trend": trend})
}

func (a *API) handleReportTopProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	top := parsePositiveInt(q.Get("top"), 10)
	products, err := a.service.ReportTopProducts(r.Context(), q.Get("startDate"), q.Get("endDate"), top)
	if err != nil {
		a.fail(w, err, "Report not found", "Error loading report")
		return
	}
	writeOK(w, map[string]any{"products": products})
}

func (a *API) handleReportRefundSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summary, err := a.service.ReportRefundSummary(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.fail(w, err, "Report not found", "Error loading report")
		return
	}
	writeOK(w, map[string]any{"summary": summary})
}

func (a *API) handleReportInventoryMovement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	movements, err := a.service.ReportInventoryMovement(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		a.fail(w, err, "Report not found", "Error loading report")
		return
	}
	writeOK(w, map[string]any{"movements": movements})
}

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.GetDashboardSummary(r.Context())
	if err != nil {
		a.fail(w, err, "Summary not found", "Error loading dashboard")
		return
	}
	writeOK(w, map[string]any{"summary": summary})
}

func (a *API) handleDashboardTopProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveInt(q.Get("limit"), 5)
	days := parsePositiveInt(q.Get("days"), 30)
	products, err := a.service.GetTopProducts(r.Context(), limit, days)
	if err != nil {
		a.fail(w, err, "Products not found", "Error loading top products")
		return
	}
	writeOK(w, map[string]any{"products": products})
}
