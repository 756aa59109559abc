package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"healthtrack/backend/internal/cache"
	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/pdfgen"
	"healthtrack/backend/internal/store"
)

type userContextKey struct{}

// WithUser attaches the authenticated identity to the request context. It is
// called exactly once, at the authentication boundary.
func WithUser(ctx context.Context, user domain.UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (domain.UserContext, bool) {
	user, ok := ctx.Value(userContextKey{}).(domain.UserContext)
	return user, ok
}

// statusAll is the filter sentinel meaning "no status filter". Normalizing it
// to nil here keeps voided invoices visible in the default listing.
const statusAll = "All"

var hundred = decimal.NewFromInt(100)

type Service struct {
	repo               store.Repository
	reports            cache.ReportCache
	log                *logrus.Logger
	taxRatePercent     decimal.Decimal
	defaultWarehouseID int64
}

func New(repo store.Repository, reports cache.ReportCache, log *logrus.Logger, taxRatePercent float64, defaultWarehouseID int64) *Service {
	if taxRatePercent <= 0 {
		taxRatePercent = 13
	}
	if defaultWarehouseID == 0 {
		defaultWarehouseID = 1
	}
	return &Service{
		repo:               repo,
		reports:            reports,
		log:                log,
		taxRatePercent:     decimal.NewFromFloat(taxRatePercent),
		defaultWarehouseID: defaultWarehouseID,
	}
}

// Login verifies credentials against the authentication procedure and returns
// the identity to embed in the session token. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (domain.UserContext, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.UserContext{}, store.InvalidArgumentf("Username and password are required")
	}

	account, err := s.repo.AuthenticateUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserContext{}, fmt.Errorf("%w: Invalid username or password", store.ErrUnauthenticated)
		}
		return domain.UserContext{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return domain.UserContext{}, fmt.Errorf("%w: Invalid username or password", store.ErrUnauthenticated)
	}

	s.log.WithFields(logrus.Fields{"user_id": account.UserID, "role": account.RoleName}).Info("user logged in")
	return domain.UserContext{
		UserID:   account.UserID,
		Username: account.Username,
		FullName: account.FullName,
		RoleName: account.RoleName,
	}, nil
}

// ListInvoices applies the read-model normalization: a missing or "All"
// status means no filter, so the default listing includes voided invoices.
func (s *Service) ListInvoices(ctx context.Context, startDate, endDate, status string, patientID *int64) ([]domain.Invoice, error) {
	filter := domain.InvoiceFilter{
		StartDate: optional(startDate),
		EndDate:   optional(endDate),
		PatientID: patientID,
	}
	if st := strings.TrimSpace(status); st != "" && st != statusAll {
		filter.Status = &st
	}
	return s.repo.ListInvoices(ctx, filter)
}

func (s *Service) GetInvoiceStats(ctx context.Context, startDate, endDate string) (*domain.InvoiceStats, error) {
	return s.repo.GetInvoiceStats(ctx, dateRange(startDate, endDate))
}

func (s *Service) SearchInvoices(ctx context.Context, term string, invoiceID *int64) ([]domain.Invoice, error) {
	term = strings.TrimSpace(term)
	if term == "" && invoiceID == nil {
		return nil, store.InvalidArgumentf("Search term or invoice ID required")
	}
	return s.repo.SearchInvoices(ctx, term, invoiceID)
}

func (s *Service) GetInvoiceDetail(ctx context.Context, invoiceID int64) (*domain.InvoiceDetail, error) {
	return s.repo.GetInvoiceDetail(ctx, invoiceID)
}

// CreateSale orchestrates a sale. Validation is ordered and first-fail: item
// presence, per-item sanity, payment method, then the method-specific payment
// fields. Totals are derived here from the cart, never trusted from the
// client.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.CreateSaleResponse, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: User not authenticated", store.ErrUnauthenticated)
	}

	if len(req.Items) == 0 {
		return nil, store.InvalidArgumentf("Items are required")
	}
	for _, item := range req.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return nil, store.InvalidArgumentf("Each item requires a product and a positive quantity")
		}
		if item.UnitPrice.IsNegative() {
			return nil, store.InvalidArgumentf("Item unit price cannot be negative")
		}
		if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred) {
			return nil, store.InvalidArgumentf("Item discount must be between 0 and 100")
		}
	}

	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentInsurance:
	default:
		return nil, store.InvalidArgumentf("Invalid payment method")
	}

	subtotal, discountTotal := decimal.Zero, decimal.Zero
	for _, item := range req.Items {
		gross := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		discount := gross.Mul(item.DiscountPercent).Div(hundred)
		subtotal = subtotal.Add(gross.Sub(discount))
		discountTotal = discountTotal.Add(discount)
	}
	subtotal = subtotal.Round(2)
	discountTotal = discountTotal.Round(2)
	taxTotal := subtotal.Mul(s.taxRatePercent).Div(hundred).Round(2)
	grandTotal := subtotal.Add(taxTotal)

	inv := domain.NewInvoice{
		PatientID:     req.PatientID,
		WarehouseID:   s.defaultWarehouseID,
		UserID:        user.UserID,
		PaymentMethod: method,
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		DiscountTotal: discountTotal,
		GrandTotal:    grandTotal,
		Notes:         strings.TrimSpace(req.Notes),
		Items:         req.Items,
	}
	if req.WarehouseID != nil {
		inv.WarehouseID = *req.WarehouseID
	}

	switch method {
	case domain.PaymentCard, domain.PaymentTransfer:
		ref := strings.TrimSpace(req.PaymentReference)
		if ref == "" {
			return nil, store.InvalidArgumentf("Reference/authorization number is required for card/transfer payments")
		}
		inv.PaymentReference = &ref
	case domain.PaymentInsurance:
		ref := strings.TrimSpace(req.InsuranceRef)
		if ref == "" {
			return nil, store.InvalidArgumentf("Insurance reference/claim number is required for insurance payments")
		}
		inv.InsuranceRef = &ref
	case domain.PaymentCash:
		if req.CashReceived == nil || !req.CashReceived.IsPositive() {
			return nil, store.InvalidArgumentf("Cash received must be greater than 0")
		}
		if req.CashReceived.LessThan(grandTotal) {
			return nil, store.InvalidArgumentf("Cash received is less than total amount")
		}
		change := req.CashReceived.Sub(grandTotal)
		inv.CashReceived = req.CashReceived
		inv.ChangeDue = &change
	}

	resp, err := s.repo.CreateSalesInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"invoice_id": resp.InvoiceID,
		"user_id":    user.UserID,
		"method":     method,
		"total":      resp.GrandTotal.String(),
	}).Info("sale created")
	return resp, nil
}

// VoidInvoice cancels an invoice. The procedure enforces the already-voided
// and existing-refunds rules atomically with the inventory restore.
func (s *Service) VoidInvoice(ctx context.Context, invoiceID int64, reason string) error {
	user, ok := UserFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: User not authenticated", store.ErrUnauthenticated)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.InvalidArgumentf("Void reason is required")
	}

	if err := s.repo.VoidInvoice(ctx, invoiceID, reason, user.UserID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "user_id": user.UserID}).Info("invoice voided")
	return nil
}

// ProcessRefund validates the request in order (amount, reason, method, item
// quantities) and delegates the balance checks to the procedure.
func (s *Service) ProcessRefund(ctx context.Context, invoiceID int64, req domain.RefundRequest) (int64, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("%w: User not authenticated", store.ErrUnauthenticated)
	}

	if !req.Amount.IsPositive() {
		return 0, store.InvalidArgumentf("Valid refund amount required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return 0, store.InvalidArgumentf("Refund reason is required")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	switch method {
	case domain.RefundCash, domain.RefundCard, domain.RefundCreditNote:
	default:
		return 0, store.InvalidArgumentf("Valid refund method required (CASH, CARD, or CREDIT_NOTE)")
	}
	for _, item := range req.Items {
		if item.LineItemID <= 0 || item.Quantity <= 0 {
			return 0, store.InvalidArgumentf("Each refund item requires a line item and a positive quantity")
		}
	}
	if len(req.Items) > 0 {
		if err := s.checkRefundQuantities(ctx, invoiceID, req.Items); err != nil {
			return 0, err
		}
	}

	id, err := s.repo.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   invoiceID,
		Amount:      req.Amount,
		Reason:      reason,
		Method:      method,
		ProcessedBy: user.UserID,
		Notes:       strings.TrimSpace(req.Notes),
		Items:       req.Items,
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"refund_id":  id,
		"amount":     req.Amount.String(),
	}).Info("refund processed")
	return id, nil
}

// checkRefundQuantities rejects itemized refunds that exceed what is left to
// refund on each line before the procedure is called. The procedure enforces
// the same rule; the pre-check exists so the caller gets the rejection without
// a procedure round trip.
func (s *Service) checkRefundQuantities(ctx context.Context, invoiceID int64, items []domain.RefundItem) error {
	detail, err := s.repo.GetInvoiceDetail(ctx, invoiceID)
	if err != nil {
		return err
	}
	if detail.Invoice.IsVoided {
		return store.ErrInvoiceVoided
	}
	for _, item := range items {
		idx := slices.IndexFunc(detail.Items, func(li domain.InvoiceLineItem) bool {
			return li.LineItemID == item.LineItemID
		})
		if idx < 0 {
			return store.InvalidArgumentf("Line item %d not found on invoice", item.LineItemID)
		}
		li := detail.Items[idx]
		if item.Quantity > li.Quantity-li.QuantityRefunded {
			return store.InvalidArgumentf("Refund quantity exceeds remaining quantity for %s", li.ProductName)
		}
	}
	return nil
}

// InvoicePDF renders the printable invoice document.
func (s *Service) InvoicePDF(ctx context.Context, invoiceID int64) ([]byte, error) {
	detail, err := s.repo.GetInvoiceDetail(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return pdfgen.Invoice(detail)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func dateRange(startDate, endDate string) domain.DateRange {
	return domain.DateRange{StartDate: optional(startDate), EndDate: optional(endDate)}
}
