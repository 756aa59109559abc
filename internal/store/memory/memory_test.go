package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/store"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newInvoice(productID int64, qty int) domain.NewInvoice {
	price := dec("1000")
	gross := price.Mul(decimal.NewFromInt(int64(qty)))
	tax := gross.Mul(dec("13")).Div(dec("100")).Round(2)
	return domain.NewInvoice{
		WarehouseID:   1,
		UserID:        1,
		PaymentMethod: domain.PaymentCash,
		Subtotal:      gross,
		TaxTotal:      tax,
		DiscountTotal: decimal.Zero,
		GrandTotal:    gross.Add(tax),
		Items:         []domain.CartItem{{ProductID: productID, Quantity: qty, UnitPrice: price}},
	}
}

func stockOf(t *testing.T, s *Store, productID int64) int {
	t.Helper()
	levels, err := s.GetInventoryLevels(context.Background(), nil)
	require.NoError(t, err)
	for _, lvl := range levels {
		if lvl.ProductID == productID {
			return lvl.Quantity
		}
	}
	t.Fatalf("product %d not found in inventory", productID)
	return 0
}

func TestInvoiceNumbering(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, err := s.CreateSalesInvoice(ctx, newInvoice(1, 1))
	require.NoError(t, err)
	require.Equal(t, "INV-00001", first.InvoiceNumber)

	second, err := s.CreateSalesInvoice(ctx, newInvoice(1, 1))
	require.NoError(t, err)
	require.Equal(t, "INV-00002", second.InvoiceNumber)
	require.Equal(t, first.InvoiceID+1, second.InvoiceID)
}

func TestSaleDecrementsStockAndVoidRestoresIt(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	before := stockOf(t, s, 1)

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 5))
	require.NoError(t, err)
	require.Equal(t, before-5, stockOf(t, s, 1))

	require.NoError(t, s.VoidInvoice(ctx, resp.InvoiceID, "test", 1))
	require.Equal(t, before, stockOf(t, s, 1))

	movements, err := s.ReportInventoryMovement(ctx, domain.DateRange{})
	require.NoError(t, err)
	var sawSale, sawRestore bool
	for _, m := range movements {
		switch m.MovementType {
		case "SALE":
			sawSale = true
		case "VOID_RESTORE":
			sawRestore = true
		}
	}
	require.True(t, sawSale)
	require.True(t, sawRestore)
}

func warehouseStockOf(t *testing.T, s *Store, warehouseID, productID int64) int {
	t.Helper()
	levels, err := s.GetInventoryLevels(context.Background(), &warehouseID)
	require.NoError(t, err)
	for _, lvl := range levels {
		if lvl.ProductID == productID {
			return lvl.Quantity
		}
	}
	t.Fatalf("product %d not found in warehouse %d", productID, warehouseID)
	return 0
}

func TestVoidAndRefundRestoreIntoSellingWarehouse(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	s.inventory[2] = map[int64]int{1: 20}
	mainBefore := warehouseStockOf(t, s, 1, 1)

	inv := newInvoice(1, 5)
	inv.WarehouseID = 2
	resp, err := s.CreateSalesInvoice(ctx, inv)
	require.NoError(t, err)
	require.Equal(t, 15, warehouseStockOf(t, s, 2, 1))

	require.NoError(t, s.VoidInvoice(ctx, resp.InvoiceID, "wrong till", 1))
	require.Equal(t, 20, warehouseStockOf(t, s, 2, 1))
	require.Equal(t, mainBefore, warehouseStockOf(t, s, 1, 1))

	inv = newInvoice(1, 4)
	inv.WarehouseID = 2
	resp, err = s.CreateSalesInvoice(ctx, inv)
	require.NoError(t, err)
	require.Equal(t, 16, warehouseStockOf(t, s, 2, 1))

	detail, err := s.GetInvoiceDetail(ctx, resp.InvoiceID)
	require.NoError(t, err)
	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      dec("1130"),
		Reason:      "one back",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
		Items:       []domain.RefundItem{{LineItemID: detail.Items[0].LineItemID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 17, warehouseStockOf(t, s, 2, 1))
	require.Equal(t, mainBefore, warehouseStockOf(t, s, 1, 1))
}

func TestSaleRejectsInsufficientStock(t *testing.T) {
	s := NewSeeded()

	_, err := s.CreateSalesInvoice(context.Background(), newInvoice(5, 10000))
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Insufficient stock")
}

func TestVoidRules(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	require.ErrorIs(t, s.VoidInvoice(ctx, 999, "missing", 1), store.ErrNotFound)

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 1))
	require.NoError(t, err)
	require.NoError(t, s.VoidInvoice(ctx, resp.InvoiceID, "first", 1))
	require.ErrorIs(t, s.VoidInvoice(ctx, resp.InvoiceID, "second", 1), store.ErrAlreadyVoided)
}

func TestVoidRejectedWithRefunds(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 2))
	require.NoError(t, err)

	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      dec("500"),
		Reason:      "damaged",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
	})
	require.NoError(t, err)

	require.ErrorIs(t, s.VoidInvoice(ctx, resp.InvoiceID, "too late", 1), store.ErrHasRefunds)
}

func TestRefundQuantityAccounting(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	before := stockOf(t, s, 1)

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 3))
	require.NoError(t, err)

	detail, err := s.GetInvoiceDetail(ctx, resp.InvoiceID)
	require.NoError(t, err)
	lineID := detail.Items[0].LineItemID

	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      dec("1130"),
		Reason:      "one back",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
		Items:       []domain.RefundItem{{LineItemID: lineID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, before-2, stockOf(t, s, 1))

	detail, err = s.GetInvoiceDetail(ctx, resp.InvoiceID)
	require.NoError(t, err)
	require.Equal(t, 1, detail.Items[0].QuantityRefunded)
	require.Equal(t, 1, detail.Invoice.RefundCount)

	// Two units remain; refunding three must fail.
	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      dec("100"),
		Reason:      "too many",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
		Items:       []domain.RefundItem{{LineItemID: lineID, Quantity: 3}},
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Refund quantity exceeds remaining quantity")
}

func TestRefundTotalCap(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 1))
	require.NoError(t, err)

	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      resp.GrandTotal.Add(dec("1")),
		Reason:      "over",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.ErrorContains(t, err, "Refund amount exceeds invoice total")
}

func TestRefundRejectedOnVoidedInvoice(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	resp, err := s.CreateSalesInvoice(ctx, newInvoice(1, 1))
	require.NoError(t, err)
	require.NoError(t, s.VoidInvoice(ctx, resp.InvoiceID, "mistake", 1))

	_, err = s.ProcessRefund(ctx, domain.NewRefund{
		InvoiceID:   resp.InvoiceID,
		Amount:      dec("100"),
		Reason:      "late",
		Method:      domain.RefundCash,
		ProcessedBy: 1,
	})
	require.ErrorIs(t, err, store.ErrInvoiceVoided)
}

func TestSeededUsersAuthenticate(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	admin, err := s.AuthenticateUser(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, "Admin", admin.RoleName)
	require.NotEmpty(t, admin.PasswordHash)

	_, err = s.AuthenticateUser(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "newuser", "hash", "New User", "", 2, nil)
	require.NoError(t, err)
	require.Greater(t, id, int64(2))

	_, err = s.CreateUser(ctx, "NEWUSER", "hash", "Dup", "", 2, nil)
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestLowStockAndExpiring(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.AdjustInventory(ctx, domain.InventoryAdjustment{
		ProductID: 1, WarehouseID: 1, AdjustmentType: "SET", Quantity: 5, Reason: "shrinkage audit",
	})
	require.NoError(t, err)

	low, err := s.ListLowStockProducts(ctx)
	require.NoError(t, err)
	var found bool
	for _, lvl := range low {
		if lvl.ProductID == 1 {
			found = true
			require.Equal(t, 5, lvl.Quantity)
		}
	}
	require.True(t, found, "product 1 should be low on stock")

	// Product 5 is seeded to expire within 30 days.
	expiring, err := s.ListExpiringProducts(ctx, 45)
	require.NoError(t, err)
	found = false
	for _, lvl := range expiring {
		if lvl.ProductID == 5 {
			found = true
		}
	}
	require.True(t, found, "product 5 should appear in the expiring list")
}
