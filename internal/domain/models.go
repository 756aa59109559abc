package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Monetary fields serialize as JSON numbers, matching what the POS
	// frontend expects from the API.
	decimal.MarshalJSONWithoutQuotes = true
}

// Payment methods accepted at the point of sale.
const (
	PaymentCash      = "CASH"
	PaymentCard      = "CARD"
	PaymentTransfer  = "TRANSFER"
	PaymentInsurance = "INSURANCE"
)

// Refund settlement methods.
const (
	RefundCash       = "CASH"
	RefundCard       = "CARD"
	RefundCreditNote = "CREDIT_NOTE"
)

// UserContext is the request-scoped identity resolved once at the
// authentication boundary. Workflows never read session state directly.
type UserContext struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	RoleName string `json:"roleName"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserAccount is the persistence model for auth credentials. PasswordHash is
// bcrypt; it never leaves the store and service layers.
type UserAccount struct {
	UserID       int64
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	RoleID       int64
	RoleName     string
	WarehouseID  *int64
	Active       bool
	CreatedAt    time.Time
}

type User struct {
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	FullName    string    `json:"fullName"`
	Email       string    `json:"email,omitempty"`
	RoleID      int64     `json:"roleId"`
	RoleName    string    `json:"roleName"`
	WarehouseID *int64    `json:"warehouseId,omitempty"`
	Active      bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UserCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	RoleID      int64  `json:"roleId"`
	WarehouseID *int64 `json:"warehouseId"`
}

type UserUpdateRequest struct {
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	RoleID      int64  `json:"roleId"`
	WarehouseID *int64 `json:"warehouseId"`
}

type Role struct {
	RoleID      int64  `json:"roleId"`
	RoleName    string `json:"roleName"`
	Description string `json:"description,omitempty"`
}

// Invoice is a completed sale. Exactly one of active/voided holds at any
// time; payment detail fields are populated per payment method.
type Invoice struct {
	InvoiceID         int64            `json:"invoiceId"`
	InvoiceNumber     string           `json:"invoiceNumber"`
	InvoiceDate       time.Time        `json:"invoiceDate"`
	PatientID         *int64           `json:"patientId,omitempty"`
	PatientName       string           `json:"patientName,omitempty"`
	PatientDocument   string           `json:"patientDocument,omitempty"`
	SoldBy            int64            `json:"soldBy"`
	SoldByName        string           `json:"soldByName,omitempty"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	TaxTotal          decimal.Decimal  `json:"taxTotal"`
	DiscountTotal     decimal.Decimal  `json:"discountTotal"`
	InsuranceCoverage decimal.Decimal  `json:"insuranceCoverage"`
	GrandTotal        decimal.Decimal  `json:"grandTotal"`
	PatientPays       decimal.Decimal  `json:"patientPays"`
	PaymentMethod     string           `json:"paymentMethod"`
	PaymentReference  *string          `json:"paymentReference,omitempty"`
	CashReceived      *decimal.Decimal `json:"cashReceived,omitempty"`
	ChangeDue         *decimal.Decimal `json:"changeDue,omitempty"`
	InsuranceRef      *string          `json:"insuranceReference,omitempty"`
	IsVoided          bool             `json:"isVoided"`
	VoidReason        string           `json:"voidReason,omitempty"`
	VoidedBy          *int64           `json:"voidedBy,omitempty"`
	VoidedByName      string           `json:"voidedByName,omitempty"`
	VoidedAt          *time.Time       `json:"voidedAt,omitempty"`
	RefundCount       int              `json:"refundCount"`
}

type InvoiceLineItem struct {
	LineItemID       int64           `json:"lineItemId"`
	InvoiceID        int64           `json:"invoiceId"`
	ProductID        int64           `json:"productId"`
	ProductName      string          `json:"productName"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	DiscountPercent  decimal.Decimal `json:"discountPercent"`
	LineTotal        decimal.Decimal `json:"lineTotal"`
	QuantityRefunded int             `json:"quantityRefunded"`
}

type Refund struct {
	RefundID        int64           `json:"refundId"`
	InvoiceID       int64           `json:"invoiceId"`
	Amount          decimal.Decimal `json:"refundAmount"`
	Reason          string          `json:"refundReason"`
	Method          string          `json:"refundMethod"`
	ProcessedBy     int64           `json:"processedBy"`
	ProcessedByName string          `json:"processedByName,omitempty"`
	ProcessedAt     time.Time       `json:"processedAt"`
	Notes           string          `json:"notes,omitempty"`
	Items           []RefundItem    `json:"items,omitempty"`
}

// RefundItem identifies a line and quantity for an itemized partial refund.
type RefundItem struct {
	LineItemID int64 `json:"lineItemId"`
	Quantity   int   `json:"quantity"`
}

// InvoiceDetail is the decoded result of the invoice-details procedure:
// header plus related collections, assembled once at the gateway boundary.
type InvoiceDetail struct {
	Invoice Invoice           `json:"invoice"`
	Items   []InvoiceLineItem `json:"items"`
	Refunds []Refund          `json:"refunds"`
}

// CartItem exists only for the duration of a sale-creation request.
type CartItem struct {
	ProductID       int64           `json:"productId"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

type CreateSaleRequest struct {
	PatientID        *int64           `json:"patientId"`
	WarehouseID      *int64           `json:"warehouseId"`
	Items            []CartItem       `json:"items"`
	PaymentMethod    string           `json:"paymentMethod"`
	PaymentReference string           `json:"paymentReference"`
	CashReceived     *decimal.Decimal `json:"cashReceived"`
	InsuranceRef     string           `json:"insuranceReference"`
	Notes            string           `json:"notes"`
}

type CreateSaleResponse struct {
	InvoiceID     int64            `json:"invoiceId"`
	InvoiceNumber string           `json:"invoiceNumber"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	TaxTotal      decimal.Decimal  `json:"taxTotal"`
	DiscountTotal decimal.Decimal  `json:"discountTotal"`
	GrandTotal    decimal.Decimal  `json:"grandTotal"`
	ChangeDue     *decimal.Decimal `json:"changeDue,omitempty"`
}

// NewInvoice is the parameter set of the sale-creation procedure. Totals are
// derived server-side before this struct is built; the procedure performs the
// atomic insert, inventory decrement and invoice numbering.
type NewInvoice struct {
	PatientID        *int64
	WarehouseID      int64
	UserID           int64
	PaymentMethod    string
	Subtotal         decimal.Decimal
	TaxTotal         decimal.Decimal
	DiscountTotal    decimal.Decimal
	GrandTotal       decimal.Decimal
	PaymentReference *string
	CashReceived     *decimal.Decimal
	ChangeDue        *decimal.Decimal
	InsuranceRef     *string
	Notes            string
	Items            []CartItem
}

type VoidInvoiceRequest struct {
	VoidReason string `json:"voidReason"`
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"refundAmount"`
	Reason string          `json:"refundReason"`
	Method string          `json:"refundMethod"`
	Notes  string          `json:"notes"`
	Items  []RefundItem    `json:"items"`
}

// NewRefund is the parameter set of the refund procedure.
type NewRefund struct {
	InvoiceID   int64
	Amount      decimal.Decimal
	Reason      string
	Method      string
	ProcessedBy int64
	Notes       string
	Items       []RefundItem
}

// InvoiceFilter drives the invoice listing procedure. Nil pointers mean "no
// filter"; the status sentinel "All" is normalized to nil before this struct
// is built.
type InvoiceFilter struct {
	StartDate *string
	EndDate   *string
	Status    *string
	PatientID *int64
}

type InvoiceStats struct {
	TotalInvoices  int64           `json:"totalInvoices"`
	ActiveInvoices int64           `json:"activeInvoices"`
	VoidedInvoices int64           `json:"voidedInvoices"`
	TotalSales     decimal.Decimal `json:"totalSales"`
	RefundedTotal  decimal.Decimal `json:"refundedTotal"`
}

type Product struct {
	ProductID    int64           `json:"productId"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CategoryID   int64           `json:"categoryId"`
	CategoryName string          `json:"categoryName,omitempty"`
	UnitID       int64           `json:"unitId"`
	UnitName     string          `json:"unitName,omitempty"`
	Price        decimal.Decimal `json:"price"`
	MinStock     int             `json:"minStock"`
	MaxStock     int             `json:"maxStock"`
	ReorderPoint int             `json:"reorderPoint"`
	Active       bool            `json:"isActive"`
	Stock        int             `json:"stock"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	CategoryID   int64           `json:"categoryId"`
	UnitID       int64           `json:"unitId"`
	MinStock     int             `json:"minStock"`
	MaxStock     int             `json:"maxStock"`
	ReorderPoint int             `json:"reorderPoint"`
	Price        decimal.Decimal `json:"price"`
	InitialStock *int            `json:"initialStock"`
	ExpiryDate   string          `json:"expiryDate"`
}

type ProductUpdateRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	CategoryID   int64            `json:"categoryId"`
	UnitID       int64            `json:"unitId"`
	MinStock     int              `json:"minStock"`
	MaxStock     int              `json:"maxStock"`
	ReorderPoint int              `json:"reorderPoint"`
	Price        *decimal.Decimal `json:"price"`
	Active       *bool            `json:"isActive"`
}

type InventoryLevel struct {
	ProductID    int64      `json:"productId"`
	ProductName  string     `json:"productName"`
	WarehouseID  int64      `json:"warehouseId"`
	BatchID      *int64     `json:"batchId,omitempty"`
	Quantity     int        `json:"quantity"`
	MinStock     int        `json:"minStock"`
	ReorderPoint int        `json:"reorderPoint"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
}

type InventoryAdjustment struct {
	ProductID      int64  `json:"productId"`
	BatchID        *int64 `json:"batchId"`
	WarehouseID    int64  `json:"warehouseId"`
	AdjustmentType string `json:"adjustmentType"`
	Quantity       int    `json:"quantity"`
	Reason         string `json:"reason"`
	UserID         int64  `json:"-"`
}

type InventoryAdjustmentResult struct {
	OldQuantity int `json:"oldQuantity"`
	NewQuantity int `json:"newQuantity"`
}

type Category struct {
	CategoryID int64  `json:"categoryId"`
	Name       string `json:"name"`
}

type Unit struct {
	UnitID int64  `json:"unitId"`
	Name   string `json:"name"`
}

type Patient struct {
	PatientID   int64      `json:"patientId"`
	FullName    string     `json:"fullName"`
	Document    string     `json:"document"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	BirthDate   *time.Time `json:"birthDate,omitempty"`
	InsuranceID *int64     `json:"insuranceId,omitempty"`
	Insurance   string     `json:"insuranceName,omitempty"`
	Active      bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type PatientUpsertRequest struct {
	FullName    string `json:"fullName"`
	Document    string `json:"document"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	BirthDate   string `json:"birthDate"`
	InsuranceID *int64 `json:"insuranceId"`
}

type InsuranceProvider struct {
	InsuranceID int64  `json:"insuranceId"`
	Name        string `json:"name"`
	Active      bool   `json:"isActive"`
}

type DiscountRate struct {
	InsuranceID   int64           `json:"insuranceId"`
	InsuranceName string          `json:"insuranceName"`
	Rate          decimal.Decimal `json:"rate"`
}

type Prescriber struct {
	PrescriberID int64  `json:"prescriberId"`
	FullName     string `json:"fullName"`
	License      string `json:"license"`
	Specialty    string `json:"specialty,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Active       bool   `json:"isActive"`
}

type PrescriberUpsertRequest struct {
	FullName  string `json:"fullName"`
	License   string `json:"license"`
	Specialty string `json:"specialty"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Reporting rows. All aggregation happens inside the external procedures;
// these types are pure decode targets.

type ReportOverview struct {
	InvoiceCount  int64           `json:"invoiceCount"`
	TotalSales    decimal.Decimal `json:"totalSales"`
	TaxCollected  decimal.Decimal `json:"taxCollected"`
	RefundCount   int64           `json:"refundCount"`
	RefundedTotal decimal.Decimal `json:"refundedTotal"`
	AverageTicket decimal.Decimal `json:"averageTicket"`
}

type SalesTrendPoint struct {
	Date     string          `json:"date"`
	Invoices int64           `json:"invoices"`
	Total    decimal.Decimal `json:"total"`
}

type TopProduct struct {
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	QuantitySold int64           `json:"quantitySold"`
	Total        decimal.Decimal `json:"total"`
}

type RefundSummaryRow struct {
	Date    string          `json:"date"`
	Refunds int64           `json:"refunds"`
	Total   decimal.Decimal `json:"total"`
}

type InventoryMovement struct {
	Date         time.Time `json:"date"`
	ProductID    int64     `json:"productId"`
	ProductName  string    `json:"productName"`
	MovementType string    `json:"movementType"`
	Quantity     int       `json:"quantity"`
	Reference    string    `json:"reference,omitempty"`
}

// DateRange carries optional report bounds; blank query values are
// normalized to nil pointers before this struct is built.
type DateRange struct {
	StartDate *string
	EndDate   *string
}

type DashboardSummary struct {
	TodaySales     decimal.Decimal `json:"todaySales"`
	TodayInvoices  int64           `json:"todayInvoices"`
	ActivePatients int64           `json:"activePatients"`
	LowStockCount  int64           `json:"lowStockCount"`
	ExpiringCount  int64           `json:"expiringCount"`
}

type PurchaseHistoryEntry struct {
	InvoiceID     int64           `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	InvoiceDate   time.Time       `json:"invoiceDate"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	IsVoided      bool            `json:"isVoided"`
	ItemCount     int             `json:"itemCount"`
}
