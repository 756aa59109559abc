package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"healthtrack/backend/internal/cache"
	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/store"
	"healthtrack/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(memory.NewSeeded(), cache.NoopReportCache{}, log, 13, 1)
}

func adminCtx() context.Context {
	return WithUser(context.Background(), domain.UserContext{
		UserID:   1,
		Username: "admin",
		FullName: "System Administrator",
		RoleName: RoleAdmin,
	})
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// cashSale rings up two units of seeded product 1 (unit price 1000) paid with
// exact cash.
func cashSale(t *testing.T, svc *Service) *domain.CreateSaleResponse {
	t.Helper()
	cash := dec("2260")
	resp, err := svc.CreateSale(adminCtx(), domain.CreateSaleRequest{
		Items:         []domain.CartItem{{ProductID: 1, Quantity: 2, UnitPrice: dec("1000")}},
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	})
	require.NoError(t, err)
	return resp
}

func TestCreateSaleCashRoundTrip(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	require.True(t, resp.Subtotal.Equal(dec("2000")), "subtotal %s", resp.Subtotal)
	require.True(t, resp.TaxTotal.Equal(dec("260")), "tax %s", resp.TaxTotal)
	require.True(t, resp.GrandTotal.Equal(dec("2260")), "total %s", resp.GrandTotal)
	require.NotNil(t, resp.ChangeDue)
	require.True(t, resp.ChangeDue.IsZero(), "change %s", resp.ChangeDue)
	require.Equal(t, "INV-00001", resp.InvoiceNumber)
}

func TestCreateSaleValidationOrder(t *testing.T) {
	svc := newTestService(t)
	short := dec("10")

	cases := []struct {
		name string
		req  domain.CreateSaleRequest
		want string
	}{
		{
			name: "no items",
			req:  domain.CreateSaleRequest{PaymentMethod: domain.PaymentCash, CashReceived: &short},
			want: "Items are required",
		},
		{
			name: "unknown payment method",
			req: domain.CreateSaleRequest{
				Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
				PaymentMethod: "BITCOIN",
			},
			want: "Invalid payment method",
		},
		{
			name: "card without reference",
			req: domain.CreateSaleRequest{
				Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
				PaymentMethod: domain.PaymentCard,
			},
			want: "Reference/authorization number is required for card/transfer payments",
		},
		{
			name: "insurance without claim number",
			req: domain.CreateSaleRequest{
				Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
				PaymentMethod: domain.PaymentInsurance,
			},
			want: "Insurance reference/claim number is required for insurance payments",
		},
		{
			name: "cash without amount",
			req: domain.CreateSaleRequest{
				Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
				PaymentMethod: domain.PaymentCash,
			},
			want: "Cash received must be greater than 0",
		},
		{
			name: "cash below total",
			req: domain.CreateSaleRequest{
				Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
				PaymentMethod: domain.PaymentCash,
				CashReceived:  &short,
			},
			want: "Cash received is less than total amount",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(adminCtx(), tc.req)
			require.ErrorIs(t, err, store.ErrInvalidArgument)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestCreateSaleRequiresAuth(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{})
	require.ErrorIs(t, err, store.ErrUnauthenticated)
	require.ErrorContains(t, err, "User not authenticated")
}

func TestVoidInvoiceLifecycle(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	err := svc.VoidInvoice(adminCtx(), resp.InvoiceID, "  ")
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Void reason is required")

	require.NoError(t, svc.VoidInvoice(adminCtx(), resp.InvoiceID, "duplicate entry"))

	detail, err := svc.GetInvoiceDetail(adminCtx(), resp.InvoiceID)
	require.NoError(t, err)
	require.True(t, detail.Invoice.IsVoided)
	require.Equal(t, "duplicate entry", detail.Invoice.VoidReason)
	require.NotNil(t, detail.Invoice.VoidedAt)

	err = svc.VoidInvoice(adminCtx(), resp.InvoiceID, "again")
	require.ErrorIs(t, err, store.ErrAlreadyVoided)

	err = svc.VoidInvoice(adminCtx(), 99999, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestVoidInvoiceRejectedAfterRefund(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	_, err := svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("500"),
		Reason: "damaged packaging",
		Method: domain.RefundCash,
	})
	require.NoError(t, err)

	err = svc.VoidInvoice(adminCtx(), resp.InvoiceID, "too late")
	require.ErrorIs(t, err, store.ErrHasRefunds)
}

func TestProcessRefundValidationOrder(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	_, err := svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("0"), Reason: "r", Method: domain.RefundCash,
	})
	require.ErrorContains(t, err, "Valid refund amount required")

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"), Method: domain.RefundCash,
	})
	require.ErrorContains(t, err, "Refund reason is required")

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"), Reason: "r", Method: "BITCOIN",
	})
	require.ErrorContains(t, err, "Valid refund method required (CASH, CARD, or CREDIT_NOTE)")
}

func TestProcessRefundOnVoidedInvoice(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)
	require.NoError(t, svc.VoidInvoice(adminCtx(), resp.InvoiceID, "mistake"))

	_, err := svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"), Reason: "r", Method: domain.RefundCash,
	})
	require.ErrorIs(t, err, store.ErrInvoiceVoided)

	// Itemized refunds report the voided state, not a quantity problem.
	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"), Reason: "r", Method: domain.RefundCash,
		Items: []domain.RefundItem{{LineItemID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvoiceVoided)
}

func TestPartialRefundQuantityAccounting(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	detail, err := svc.GetInvoiceDetail(adminCtx(), resp.InvoiceID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	lineID := detail.Items[0].LineItemID

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("1130"),
		Reason: "one unit returned",
		Method: domain.RefundCash,
		Items:  []domain.RefundItem{{LineItemID: lineID, Quantity: 1}},
	})
	require.NoError(t, err)

	detail, err = svc.GetInvoiceDetail(adminCtx(), resp.InvoiceID)
	require.NoError(t, err)
	require.Equal(t, 1, detail.Items[0].QuantityRefunded)

	// Only one unit remains refundable.
	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"),
		Reason: "too many units",
		Method: domain.RefundCash,
		Items:  []domain.RefundItem{{LineItemID: lineID, Quantity: 2}},
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

// refundRecorder counts procedure-level refund calls so tests can tell a
// workflow rejection from a procedure rejection.
type refundRecorder struct {
	store.Repository
	calls int
}

func (r *refundRecorder) ProcessRefund(ctx context.Context, refund domain.NewRefund) (int64, error) {
	r.calls++
	return r.Repository.ProcessRefund(ctx, refund)
}

func TestItemizedRefundFailsFastBeforeProcedure(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	repo := &refundRecorder{Repository: memory.NewSeeded()}
	svc := New(repo, cache.NoopReportCache{}, log, 13, 1)
	resp := cashSale(t, svc)

	detail, err := svc.GetInvoiceDetail(adminCtx(), resp.InvoiceID)
	require.NoError(t, err)
	lineID := detail.Items[0].LineItemID

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"),
		Reason: "too many units",
		Method: domain.RefundCash,
		Items:  []domain.RefundItem{{LineItemID: lineID, Quantity: 3}},
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Refund quantity exceeds remaining quantity")
	require.Equal(t, 0, repo.calls)

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("100"),
		Reason: "unknown line",
		Method: domain.RefundCash,
		Items:  []domain.RefundItem{{LineItemID: 999, Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "not found on invoice")
	require.Equal(t, 0, repo.calls)
}

func TestRefundTotalCannotExceedInvoice(t *testing.T) {
	svc := newTestService(t)
	resp := cashSale(t, svc)

	_, err := svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("2000"), Reason: "partial", Method: domain.RefundCash,
	})
	require.NoError(t, err)

	_, err = svc.ProcessRefund(adminCtx(), resp.InvoiceID, domain.RefundRequest{
		Amount: dec("500"), Reason: "over", Method: domain.RefundCash,
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Refund amount exceeds invoice total")
}

func TestListInvoicesStatusNormalization(t *testing.T) {
	svc := newTestService(t)
	first := cashSale(t, svc)
	cashSale(t, svc)
	require.NoError(t, svc.VoidInvoice(adminCtx(), first.InvoiceID, "test"))

	all, err := svc.ListInvoices(adminCtx(), "", "", "", nil)
	require.NoError(t, err)
	require.Len(t, all, 2, "default listing includes voided invoices")

	explicitAll, err := svc.ListInvoices(adminCtx(), "", "", "All", nil)
	require.NoError(t, err)
	require.Len(t, explicitAll, 2)

	active, err := svc.ListInvoices(adminCtx(), "", "", "Active", nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.False(t, active[0].IsVoided)

	voided, err := svc.ListInvoices(adminCtx(), "", "", "Voided", nil)
	require.NoError(t, err)
	require.Len(t, voided, 1)
	require.True(t, voided[0].IsVoided)
}

func TestSearchInvoicesRequiresTermOrID(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SearchInvoices(adminCtx(), "   ", nil)
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Search term or invoice ID required")

	resp := cashSale(t, svc)
	found, err := svc.SearchInvoices(adminCtx(), "", &resp.InvoiceID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, resp.InvoiceNumber, found[0].InvoiceNumber)
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	require.Equal(t, "admin", user.Username)
	require.Equal(t, RoleAdmin, user.RoleName)

	_, err = svc.Login(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, store.ErrUnauthenticated)

	_, err = svc.Login(context.Background(), "ghost", "admin123")
	require.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestInsuranceSaleComputesCoverage(t *testing.T) {
	svc := newTestService(t)
	patientID := int64(1) // seeded with an 80 percent plan

	resp, err := svc.CreateSale(adminCtx(), domain.CreateSaleRequest{
		PatientID:     &patientID,
		Items:         []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("1000")}},
		PaymentMethod: domain.PaymentInsurance,
		InsuranceRef:  "CLAIM-001",
	})
	require.NoError(t, err)

	detail, err := svc.GetInvoiceDetail(adminCtx(), resp.InvoiceID)
	require.NoError(t, err)
	require.True(t, detail.Invoice.InsuranceCoverage.Equal(dec("904")), "coverage %s", detail.Invoice.InsuranceCoverage)
	require.True(t, detail.Invoice.PatientPays.Equal(dec("226")), "patient pays %s", detail.Invoice.PatientPays)
}

func TestReportOverviewExcludesVoided(t *testing.T) {
	svc := newTestService(t)
	first := cashSale(t, svc)
	cashSale(t, svc)
	require.NoError(t, svc.VoidInvoice(adminCtx(), first.InvoiceID, "test"))

	ov, err := svc.ReportOverview(adminCtx(), "", "")
	require.NoError(t, err)
	require.EqualValues(t, 1, ov.InvoiceCount)
	require.True(t, ov.TotalSales.Equal(dec("2260")), "sales %s", ov.TotalSales)
}

func TestReportTopProductsDefaultLimit(t *testing.T) {
	svc := newTestService(t)
	cashSale(t, svc)

	products, err := svc.ReportTopProducts(adminCtx(), "", "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, products)
	require.LessOrEqual(t, len(products), defaultTopProducts)
}

func TestAdjustInventoryValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AdjustInventory(adminCtx(), domain.InventoryAdjustment{
		ProductID: 1, AdjustmentType: "IN", Quantity: 0, Reason: "restock",
	})
	require.ErrorContains(t, err, "Valid quantity required")

	result, err := svc.AdjustInventory(adminCtx(), domain.InventoryAdjustment{
		ProductID: 1, AdjustmentType: "IN", Quantity: 10, Reason: "restock",
	})
	require.NoError(t, err)
	require.Equal(t, result.OldQuantity+10, result.NewQuantity)
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	svc := newTestService(t)
	cashier := WithUser(context.Background(), domain.UserContext{
		UserID: 2, Username: "cashier", RoleName: RoleCashier,
	})

	_, err := svc.ListUsers(cashier)
	require.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.CreateUser(cashier, domain.UserCreateRequest{
		Username: "newuser", Password: "longenough", FullName: "New User", RoleID: 2,
	})
	require.ErrorIs(t, err, store.ErrForbidden)
}

func TestSetUserActiveSelfDeactivation(t *testing.T) {
	svc := newTestService(t)

	err := svc.SetUserActive(adminCtx(), 1, false)
	require.ErrorContains(t, err, "You cannot deactivate your own account")

	require.NoError(t, svc.SetUserActive(adminCtx(), 2, false))
	_, err = svc.Login(context.Background(), "cashier", "cashier123")
	require.ErrorIs(t, err, store.ErrUnauthenticated)
}
