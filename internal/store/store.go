package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"healthtrack/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyVoided   = errors.New("invoice is already voided")
	ErrHasRefunds      = errors.New("invoice has existing refunds")
	ErrInvoiceVoided   = errors.New("invoice is voided")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
)

// ProcedureError wraps a failure from an external stored procedure with the
// procedure name for logging. Business-rule rejections are mapped to the
// sentinels above before wrapping; everything else surfaces as a
// ProcedureError and is treated as a server fault.
type ProcedureError struct {
	Procedure string
	Err       error
}

func (e *ProcedureError) Error() string {
	return fmt.Sprintf("procedure %s: %v", e.Procedure, e.Err)
}

func (e *ProcedureError) Unwrap() error { return e.Err }

// InvalidArgumentf builds a client-facing validation error that satisfies
// errors.Is(err, ErrInvalidArgument). The message is shown to the caller
// verbatim.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

// NotFoundf builds a client-facing not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Repository is the typed contract over the external stored-procedure layer.
// Each method corresponds to one procedure call; implementations decode
// result sets into the named structs exactly once, so no caller ever indexes
// into raw recordsets.
type Repository interface {
	// Auth and users.
	AuthenticateUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	CreateUser(ctx context.Context, username, passwordHash, fullName, email string, roleID int64, warehouseID *int64) (int64, error)
	UpdateUser(ctx context.Context, userID int64, passwordHash, fullName, email string, roleID int64, warehouseID *int64) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
	ListRoles(ctx context.Context) ([]domain.Role, error)

	// Invoices.
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	GetInvoiceStats(ctx context.Context, rng domain.DateRange) (*domain.InvoiceStats, error)
	SearchInvoices(ctx context.Context, term string, invoiceID *int64) ([]domain.Invoice, error)
	GetInvoiceDetail(ctx context.Context, invoiceID int64) (*domain.InvoiceDetail, error)
	CreateSalesInvoice(ctx context.Context, inv domain.NewInvoice) (*domain.CreateSaleResponse, error)
	VoidInvoice(ctx context.Context, invoiceID int64, reason string, voidedBy int64) error
	ProcessRefund(ctx context.Context, refund domain.NewRefund) (int64, error)

	// Products and inventory.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, term string) ([]domain.Product, error)
	ListAvailableProducts(ctx context.Context, warehouseID int64) ([]domain.Product, error)
	CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (int64, error)
	UpdateProduct(ctx context.Context, productID int64, req domain.ProductUpdateRequest) error
	DeactivateProduct(ctx context.Context, productID int64, reason string, userID int64) error
	GetInventoryLevels(ctx context.Context, warehouseID *int64) ([]domain.InventoryLevel, error)
	AdjustInventory(ctx context.Context, adj domain.InventoryAdjustment) (*domain.InventoryAdjustmentResult, error)
	ListExpiringProducts(ctx context.Context, days int) ([]domain.InventoryLevel, error)
	ListLowStockProducts(ctx context.Context) ([]domain.InventoryLevel, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListUnits(ctx context.Context) ([]domain.Unit, error)

	// Patients and prescribers.
	SearchPatients(ctx context.Context, term string) ([]domain.Patient, error)
	GetPatient(ctx context.Context, patientID int64) (*domain.Patient, error)
	CreatePatient(ctx context.Context, req domain.PatientUpsertRequest) (int64, error)
	UpdatePatient(ctx context.Context, patientID int64, req domain.PatientUpsertRequest) error
	SetPatientActive(ctx context.Context, patientID int64, active bool, reason string, userID int64) error
	GetPatientPurchaseHistory(ctx context.Context, patientID int64) ([]domain.PurchaseHistoryEntry, error)
	ListInsuranceProviders(ctx context.Context) ([]domain.InsuranceProvider, error)
	ListPrescribers(ctx context.Context) ([]domain.Prescriber, error)
	CreatePrescriber(ctx context.Context, req domain.PrescriberUpsertRequest) (int64, error)
	UpdatePrescriber(ctx context.Context, prescriberID int64, req domain.PrescriberUpsertRequest) error
	SetPrescriberActive(ctx context.Context, prescriberID int64, active bool) error
	ListInsuranceDiscountRates(ctx context.Context) ([]domain.DiscountRate, error)
	UpdateInsuranceDiscountRate(ctx context.Context, insuranceID int64, rate decimal.Decimal) error

	// Reporting and dashboard.
	ReportOverview(ctx context.Context, rng domain.DateRange) (*domain.ReportOverview, error)
	ReportSalesTrend(ctx context.Context, rng domain.DateRange) ([]domain.SalesTrendPoint, error)
	ReportTopProducts(ctx context.Context, rng domain.DateRange, top int) ([]domain.TopProduct, error)
	ReportRefundSummary(ctx context.Context, rng domain.DateRange) ([]domain.RefundSummaryRow, error)
	ReportInventoryMovement(ctx context.Context, rng domain.DateRange) ([]domain.InventoryMovement, error)
	GetDashboardSummary(ctx context.Context) (*domain.DashboardSummary, error)
	GetTopProducts(ctx context.Context, limit, days int) ([]domain.TopProduct, error)
}
