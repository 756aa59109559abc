package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/store"
)

// Store is a full in-memory emulation of the stored-procedure layer. It backs
// the test suite and the dev fallback when DATABASE_URL is unset. Behavior
// mirrors the production procedures: invoice numbering, inventory decrement
// and restore, refund quantity accounting, insurance coverage.
type Store struct {
	mu sync.RWMutex

	usersByID       map[int64]domain.UserAccount
	usersByUsername map[string]int64
	roles           []domain.Role

	productsByID map[int64]domain.Product
	inventory    map[int64]map[int64]int // warehouseID -> productID -> qty
	expiry       map[int64]time.Time     // productID -> expiry date
	categories   []domain.Category
	units        []domain.Unit

	patientsByID    map[int64]domain.Patient
	prescribersByID map[int64]domain.Prescriber
	insurers        map[int64]domain.InsuranceProvider
	discountRates   map[int64]decimal.Decimal

	invoicesByID map[int64]*invoiceRecord
	movements    []domain.InventoryMovement

	nextUserID       int64
	nextProductID    int64
	nextPatientID    int64
	nextPrescriberID int64
	nextInvoiceID    int64
	nextLineItemID   int64
	nextRefundID     int64
}

type invoiceRecord struct {
	invoice     domain.Invoice
	items       []domain.InvoiceLineItem
	refunds     []domain.Refund
	warehouseID int64
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev defaults
// are used with a warning when unset. Production runs against PostgreSQL and
// never touches these.
func (s *Store) seedUsers() {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		fullName string
		roleID   int64
		roleName string
	}{
		{"admin", adminPwd, "System Administrator", 1, "Admin"},
		{"cashier", cashierPwd, "Front Desk Cashier", 2, "Cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.nextUserID++
		s.usersByID[s.nextUserID] = domain.UserAccount{
			UserID:       s.nextUserID,
			Username:     u.username,
			PasswordHash: string(hash),
			FullName:     u.fullName,
			RoleID:       u.roleID,
			RoleName:     u.roleName,
			Active:       true,
			CreatedAt:    now,
		}
		s.usersByUsername[u.username] = s.nextUserID
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := &Store{
		usersByID:       make(map[int64]domain.UserAccount),
		usersByUsername: make(map[string]int64),
		roles: []domain.Role{
			{RoleID: 1, RoleName: "Admin", Description: "Full access"},
			{RoleID: 2, RoleName: "Cashier", Description: "Point of sale"},
			{RoleID: 3, RoleName: "Pharmacist", Description: "Dispensing and inventory"},
		},
		productsByID:    make(map[int64]domain.Product),
		inventory:       map[int64]map[int64]int{1: {}},
		expiry:          make(map[int64]time.Time),
		patientsByID:    make(map[int64]domain.Patient),
		prescribersByID: make(map[int64]domain.Prescriber),
		insurers:        make(map[int64]domain.InsuranceProvider),
		discountRates:   make(map[int64]decimal.Decimal),
		invoicesByID:    make(map[int64]*invoiceRecord),
		categories: []domain.Category{
			{CategoryID: 1, Name: "Analgesics"},
			{CategoryID: 2, Name: "Antibiotics"},
			{CategoryID: 3, Name: "Vitamins"},
			{CategoryID: 4, Name: "First Aid"},
		},
		units: []domain.Unit{
			{UnitID: 1, Name: "Tablet"},
			{UnitID: 2, Name: "Bottle"},
			{UnitID: 3, Name: "Box"},
		},
	}
	s.seedUsers()

	for _, p := range []struct {
		name     string
		category int64
		unit     int64
		price    string
		stock    int
		expires  int // days from now, 0 means none
	}{
		{"Acetaminofen 500mg", 1, 1, "1000", 200, 400},
		{"Ibuprofeno 400mg", 1, 1, "1500", 150, 200},
		{"Amoxicilina 500mg", 2, 3, "3200", 80, 60},
		{"Vitamina C 1g", 3, 1, "850", 300, 500},
		{"Suero Oral", 4, 2, "1200", 60, 30},
		{"Alcohol en Gel 250ml", 4, 2, "1800", 90, 0},
	} {
		s.nextProductID++
		s.productsByID[s.nextProductID] = domain.Product{
			ProductID:    s.nextProductID,
			Name:         p.name,
			CategoryID:   p.category,
			UnitID:       p.unit,
			Price:        decimal.RequireFromString(p.price),
			MinStock:     20,
			MaxStock:     500,
			ReorderPoint: 40,
			Active:       true,
		}
		s.inventory[1][s.nextProductID] = p.stock
		if p.expires > 0 {
			s.expiry[s.nextProductID] = time.Now().UTC().AddDate(0, 0, p.expires)
		}
	}

	for _, ins := range []struct {
		name string
		rate string
	}{
		{"Seguro Nacional", "80"},
		{"MediPlus", "60"},
	} {
		id := int64(len(s.insurers) + 1)
		s.insurers[id] = domain.InsuranceProvider{InsuranceID: id, Name: ins.name, Active: true}
		s.discountRates[id] = decimal.RequireFromString(ins.rate)
	}

	now := time.Now().UTC()
	insuranceID := int64(1)
	for _, p := range []domain.Patient{
		{FullName: "Maria Rodriguez", Document: "1-1111-1111", Phone: "8888-0001", InsuranceID: &insuranceID, Insurance: "Seguro Nacional", Active: true, CreatedAt: now},
		{FullName: "Carlos Jimenez", Document: "2-2222-2222", Phone: "8888-0002", Active: true, CreatedAt: now},
	} {
		s.nextPatientID++
		p.PatientID = s.nextPatientID
		s.patientsByID[p.PatientID] = p
	}

	for _, d := range []domain.Prescriber{
		{FullName: "Dra. Ana Castro", License: "MED-1042", Specialty: "General", Active: true},
		{FullName: "Dr. Luis Vargas", License: "MED-2210", Specialty: "Pediatria", Active: true},
	} {
		s.nextPrescriberID++
		d.PrescriberID = s.nextPrescriberID
		s.prescribersByID[d.PrescriberID] = d
	}

	return s
}

// Auth and users.

func (s *Store) AuthenticateUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[strings.ToLower(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.usersByID[id]
	if !u.Active {
		return nil, store.ErrNotFound
	}
	copied := u
	return &copied, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, accountToUser(u))
	}
	slices.SortFunc(users, func(a, b domain.User) int { return int(a.UserID - b.UserID) })
	return users, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := accountToUser(u)
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash, fullName, email string, roleID int64, warehouseID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, exists := s.usersByUsername[key]; exists {
		return 0, store.InvalidArgumentf("Username already exists")
	}
	roleName, ok := s.roleName(roleID)
	if !ok {
		return 0, store.InvalidArgumentf("Invalid role")
	}

	s.nextUserID++
	s.usersByID[s.nextUserID] = domain.UserAccount{
		UserID:       s.nextUserID,
		Username:     key,
		PasswordHash: passwordHash,
		FullName:     fullName,
		Email:        email,
		RoleID:       roleID,
		RoleName:     roleName,
		WarehouseID:  warehouseID,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	s.usersByUsername[key] = s.nextUserID
	return s.nextUserID, nil
}

func (s *Store) UpdateUser(_ context.Context, userID int64, passwordHash, fullName, email string, roleID int64, warehouseID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	roleName, ok := s.roleName(roleID)
	if !ok {
		return store.InvalidArgumentf("Invalid role")
	}
	if passwordHash != "" {
		u.PasswordHash = passwordHash
	}
	u.FullName = fullName
	u.Email = email
	u.RoleID = roleID
	u.RoleName = roleName
	u.WarehouseID = warehouseID
	s.usersByID[userID] = u
	return nil
}

func (s *Store) SetUserActive(_ context.Context, userID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Active = active
	s.usersByID[userID] = u
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles), nil
}

func (s *Store) roleName(roleID int64) (string, bool) {
	for _, r := range s.roles {
		if r.RoleID == roleID {
			return r.RoleName, true
		}
	}
	return "", false
}

func accountToUser(u domain.UserAccount) domain.User {
	return domain.User{
		UserID:      u.UserID,
		Username:    u.Username,
		FullName:    u.FullName,
		Email:       u.Email,
		RoleID:      u.RoleID,
		RoleName:    u.RoleName,
		WarehouseID: u.WarehouseID,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}

// Invoices.

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if filter.Status != nil {
			switch *filter.Status {
			case "Active":
				if inv.IsVoided {
					continue
				}
			case "Voided":
				if !inv.IsVoided {
					continue
				}
			}
		}
		if filter.PatientID != nil && (inv.PatientID == nil || *inv.PatientID != *filter.PatientID) {
			continue
		}
		if !withinRange(inv.InvoiceDate, filter.StartDate, filter.EndDate) {
			continue
		}
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b domain.Invoice) int {
		return int(b.InvoiceID - a.InvoiceID)
	})
	return out, nil
}

func (s *Store) GetInvoiceStats(_ context.Context, rng domain.DateRange) (*domain.InvoiceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.InvoiceStats{
		TotalSales:    decimal.Zero,
		RefundedTotal: decimal.Zero,
	}
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if !withinRange(inv.InvoiceDate, rng.StartDate, rng.EndDate) {
			continue
		}
		stats.TotalInvoices++
		if inv.IsVoided {
			stats.VoidedInvoices++
			continue
		}
		stats.ActiveInvoices++
		stats.TotalSales = stats.TotalSales.Add(inv.GrandTotal)
		for _, r := range rec.refunds {
			stats.RefundedTotal = stats.RefundedTotal.Add(r.Amount)
		}
	}
	return &stats, nil
}

func (s *Store) SearchInvoices(_ context.Context, term string, invoiceID *int64) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.Invoice, 0, 8)
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if invoiceID != nil && inv.InvoiceID == *invoiceID {
			out = append(out, inv)
			continue
		}
		if needle == "" {
			continue
		}
		if strings.Contains(strings.ToLower(inv.InvoiceNumber), needle) ||
			strings.Contains(strings.ToLower(inv.PatientName), needle) ||
			strings.Contains(strings.ToLower(inv.PatientDocument), needle) {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b domain.Invoice) int { return int(b.InvoiceID - a.InvoiceID) })
	return out, nil
}

func (s *Store) GetInvoiceDetail(_ context.Context, invoiceID int64) (*domain.InvoiceDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.invoicesByID[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail := domain.InvoiceDetail{
		Invoice: rec.invoice,
		Items:   slices.Clone(rec.items),
		Refunds: slices.Clone(rec.refunds),
	}
	return &detail, nil
}

func (s *Store) CreateSalesInvoice(_ context.Context, inv domain.NewInvoice) (*domain.CreateSaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.inventory[inv.WarehouseID]
	if !ok {
		return nil, store.InvalidArgumentf("Unknown warehouse")
	}
	for _, item := range inv.Items {
		p, exists := s.productsByID[item.ProductID]
		if !exists || !p.Active {
			return nil, store.InvalidArgumentf("Product %d not found", item.ProductID)
		}
		if stock[item.ProductID] < item.Quantity {
			return nil, store.InvalidArgumentf("Insufficient stock for %s", p.Name)
		}
	}

	seller, ok := s.usersByID[inv.UserID]
	if !ok {
		return nil, store.InvalidArgumentf("Unknown user")
	}

	s.nextInvoiceID++
	id := s.nextInvoiceID
	number := fmt.Sprintf("INV-%05d", id)
	now := time.Now().UTC()

	coverage := decimal.Zero
	patientName, patientDoc := "", ""
	if inv.PatientID != nil {
		p, exists := s.patientsByID[*inv.PatientID]
		if !exists {
			return nil, store.InvalidArgumentf("Patient not found")
		}
		patientName, patientDoc = p.FullName, p.Document
		if inv.PaymentMethod == domain.PaymentInsurance && p.InsuranceID != nil {
			if rate, has := s.discountRates[*p.InsuranceID]; has {
				coverage = inv.GrandTotal.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
			}
		}
	}

	items := make([]domain.InvoiceLineItem, 0, len(inv.Items))
	for _, item := range inv.Items {
		p := s.productsByID[item.ProductID]
		stock[item.ProductID] -= item.Quantity
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).
			Mul(decimal.NewFromInt(100).Sub(item.DiscountPercent)).Div(decimal.NewFromInt(100)).Round(2)
		s.nextLineItemID++
		items = append(items, domain.InvoiceLineItem{
			LineItemID:      s.nextLineItemID,
			InvoiceID:       id,
			ProductID:       item.ProductID,
			ProductName:     p.Name,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
			LineTotal:       lineTotal,
		})
		s.movements = append(s.movements, domain.InventoryMovement{
			Date: now, ProductID: item.ProductID, ProductName: p.Name,
			MovementType: "SALE", Quantity: -item.Quantity, Reference: number,
		})
	}

	rec := &invoiceRecord{
		invoice: domain.Invoice{
			InvoiceID:         id,
			InvoiceNumber:     number,
			InvoiceDate:       now,
			PatientID:         inv.PatientID,
			PatientName:       patientName,
			PatientDocument:   patientDoc,
			SoldBy:            inv.UserID,
			SoldByName:        seller.FullName,
			Subtotal:          inv.Subtotal,
			TaxTotal:          inv.TaxTotal,
			DiscountTotal:     inv.DiscountTotal,
			InsuranceCoverage: coverage,
			GrandTotal:        inv.GrandTotal,
			PatientPays:       inv.GrandTotal.Sub(coverage),
			PaymentMethod:     inv.PaymentMethod,
			PaymentReference:  inv.PaymentReference,
			CashReceived:      inv.CashReceived,
			ChangeDue:         inv.ChangeDue,
			InsuranceRef:      inv.InsuranceRef,
		},
		items:       items,
		warehouseID: inv.WarehouseID,
	}
	s.invoicesByID[id] = rec

	return &domain.CreateSaleResponse{
		InvoiceID:     id,
		InvoiceNumber: number,
		Subtotal:      inv.Subtotal,
		TaxTotal:      inv.TaxTotal,
		DiscountTotal: inv.DiscountTotal,
		GrandTotal:    inv.GrandTotal,
		ChangeDue:     inv.ChangeDue,
	}, nil
}

func (s *Store) VoidInvoice(_ context.Context, invoiceID int64, reason string, voidedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoicesByID[invoiceID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.invoice.IsVoided {
		return store.ErrAlreadyVoided
	}
	if len(rec.refunds) > 0 {
		return store.ErrHasRefunds
	}

	now := time.Now().UTC()
	for _, item := range rec.items {
		if stock, has := s.inventory[rec.warehouseID]; has {
			stock[item.ProductID] += item.Quantity
		}
		s.movements = append(s.movements, domain.InventoryMovement{
			Date: now, ProductID: item.ProductID, ProductName: item.ProductName,
			MovementType: "VOID_RESTORE", Quantity: item.Quantity, Reference: rec.invoice.InvoiceNumber,
		})
	}
	rec.invoice.IsVoided = true
	rec.invoice.VoidReason = reason
	rec.invoice.VoidedBy = &voidedBy
	if u, has := s.usersByID[voidedBy]; has {
		rec.invoice.VoidedByName = u.FullName
	}
	rec.invoice.VoidedAt = &now
	return nil
}

func (s *Store) ProcessRefund(_ context.Context, refund domain.NewRefund) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoicesByID[refund.InvoiceID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if rec.invoice.IsVoided {
		return 0, store.ErrInvoiceVoided
	}

	refunded := decimal.Zero
	for _, r := range rec.refunds {
		refunded = refunded.Add(r.Amount)
	}
	if refunded.Add(refund.Amount).GreaterThan(rec.invoice.GrandTotal) {
		return 0, store.InvalidArgumentf("Refund amount exceeds invoice total")
	}

	for _, ri := range refund.Items {
		idx := slices.IndexFunc(rec.items, func(li domain.InvoiceLineItem) bool {
			return li.LineItemID == ri.LineItemID
		})
		if idx < 0 {
			return 0, store.InvalidArgumentf("Line item %d not found on invoice", ri.LineItemID)
		}
		li := rec.items[idx]
		if ri.Quantity < 1 || li.QuantityRefunded+ri.Quantity > li.Quantity {
			return 0, store.InvalidArgumentf("Refund quantity exceeds remaining quantity for %s", li.ProductName)
		}
	}

	now := time.Now().UTC()
	for _, ri := range refund.Items {
		idx := slices.IndexFunc(rec.items, func(li domain.InvoiceLineItem) bool {
			return li.LineItemID == ri.LineItemID
		})
		rec.items[idx].QuantityRefunded += ri.Quantity
		if stock, has := s.inventory[rec.warehouseID]; has {
			stock[rec.items[idx].ProductID] += ri.Quantity
		}
		s.movements = append(s.movements, domain.InventoryMovement{
			Date: now, ProductID: rec.items[idx].ProductID, ProductName: rec.items[idx].ProductName,
			MovementType: "REFUND_RESTORE", Quantity: ri.Quantity, Reference: rec.invoice.InvoiceNumber,
		})
	}

	s.nextRefundID++
	processedName := ""
	if u, has := s.usersByID[refund.ProcessedBy]; has {
		processedName = u.FullName
	}
	rec.refunds = append(rec.refunds, domain.Refund{
		RefundID:        s.nextRefundID,
		InvoiceID:       refund.InvoiceID,
		Amount:          refund.Amount,
		Reason:          refund.Reason,
		Method:          refund.Method,
		ProcessedBy:     refund.ProcessedBy,
		ProcessedByName: processedName,
		ProcessedAt:     now,
		Notes:           refund.Notes,
		Items:           slices.Clone(refund.Items),
	})
	rec.invoice.RefundCount = len(rec.refunds)
	return s.nextRefundID, nil
}

// Products and inventory.

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectProducts(func(domain.Product) bool { return true }), nil
}

func (s *Store) SearchProducts(_ context.Context, term string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	return s.collectProducts(func(p domain.Product) bool {
		return p.Active && strings.Contains(strings.ToLower(p.Name), needle)
	}), nil
}

func (s *Store) ListAvailableProducts(_ context.Context, warehouseID int64) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := s.inventory[warehouseID]
	return s.collectProducts(func(p domain.Product) bool {
		return p.Active && stock[p.ProductID] > 0
	}), nil
}

func (s *Store) collectProducts(keep func(domain.Product) bool) []domain.Product {
	out := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if !keep(p) {
			continue
		}
		p.Stock = s.inventory[1][p.ProductID]
		p.CategoryName = s.categoryName(p.CategoryID)
		p.UnitName = s.unitName(p.UnitID)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Store) categoryName(id int64) string {
	for _, c := range s.categories {
		if c.CategoryID == id {
			return c.Name
		}
	}
	return ""
}

func (s *Store) unitName(id int64) string {
	for _, u := range s.units {
		if u.UnitID == id {
			return u.Name
		}
	}
	return ""
}

func (s *Store) CreateProduct(_ context.Context, req domain.ProductCreateRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	s.productsByID[s.nextProductID] = domain.Product{
		ProductID:    s.nextProductID,
		Name:         req.Name,
		Description:  req.Description,
		CategoryID:   req.CategoryID,
		UnitID:       req.UnitID,
		Price:        req.Price,
		MinStock:     req.MinStock,
		MaxStock:     req.MaxStock,
		ReorderPoint: req.ReorderPoint,
		Active:       true,
	}
	initial := 0
	if req.InitialStock != nil {
		initial = *req.InitialStock
	}
	s.inventory[1][s.nextProductID] = initial
	if req.ExpiryDate != "" {
		if t, err := time.Parse("2006-01-02", req.ExpiryDate); err == nil {
			s.expiry[s.nextProductID] = t
		}
	}
	return s.nextProductID, nil
}

func (s *Store) UpdateProduct(_ context.Context, productID int64, req domain.ProductUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.productsByID[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Name = req.Name
	p.Description = req.Description
	p.CategoryID = req.CategoryID
	p.UnitID = req.UnitID
	p.MinStock = req.MinStock
	p.MaxStock = req.MaxStock
	p.ReorderPoint = req.ReorderPoint
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	s.productsByID[productID] = p
	return nil
}

func (s *Store) DeactivateProduct(_ context.Context, productID int64, reason string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.productsByID[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Active = false
	s.productsByID[productID] = p
	s.movements = append(s.movements, domain.InventoryMovement{
		Date: time.Now().UTC(), ProductID: productID, ProductName: p.Name,
		MovementType: "DEACTIVATED", Reference: reason,
	})
	return nil
}

func (s *Store) GetInventoryLevels(_ context.Context, warehouseID *int64) ([]domain.InventoryLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryLevel, 0, len(s.productsByID))
	for wid, stock := range s.inventory {
		if warehouseID != nil && wid != *warehouseID {
			continue
		}
		for pid, qty := range stock {
			p := s.productsByID[pid]
			lvl := domain.InventoryLevel{
				ProductID:    pid,
				ProductName:  p.Name,
				WarehouseID:  wid,
				Quantity:     qty,
				MinStock:     p.MinStock,
				ReorderPoint: p.ReorderPoint,
			}
			if exp, has := s.expiry[pid]; has {
				e := exp
				lvl.ExpiryDate = &e
			}
			out = append(out, lvl)
		}
	}
	slices.SortFunc(out, func(a, b domain.InventoryLevel) int { return int(a.ProductID - b.ProductID) })
	return out, nil
}

func (s *Store) AdjustInventory(_ context.Context, adj domain.InventoryAdjustment) (*domain.InventoryAdjustmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.inventory[adj.WarehouseID]
	if !ok {
		return nil, store.InvalidArgumentf("Unknown warehouse")
	}
	p, ok := s.productsByID[adj.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}

	old := stock[adj.ProductID]
	var next int
	switch adj.AdjustmentType {
	case "IN":
		next = old + adj.Quantity
	case "OUT":
		next = old - adj.Quantity
	case "SET":
		next = adj.Quantity
	default:
		return nil, store.InvalidArgumentf("Invalid adjustment type")
	}
	if next < 0 {
		return nil, store.InvalidArgumentf("Adjustment would make stock negative")
	}
	stock[adj.ProductID] = next
	s.movements = append(s.movements, domain.InventoryMovement{
		Date: time.Now().UTC(), ProductID: adj.ProductID, ProductName: p.Name,
		MovementType: "ADJUST_" + adj.AdjustmentType, Quantity: next - old, Reference: adj.Reason,
	})
	return &domain.InventoryAdjustmentResult{OldQuantity: old, NewQuantity: next}, nil
}

func (s *Store) ListExpiringProducts(_ context.Context, days int) ([]domain.InventoryLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, days)
	out := make([]domain.InventoryLevel, 0, 8)
	for pid, exp := range s.expiry {
		if exp.After(cutoff) {
			continue
		}
		p := s.productsByID[pid]
		e := exp
		out = append(out, domain.InventoryLevel{
			ProductID:   pid,
			ProductName: p.Name,
			WarehouseID: 1,
			Quantity:    s.inventory[1][pid],
			ExpiryDate:  &e,
		})
	}
	slices.SortFunc(out, func(a, b domain.InventoryLevel) int {
		return a.ExpiryDate.Compare(*b.ExpiryDate)
	})
	return out, nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]domain.InventoryLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryLevel, 0, 8)
	for pid, qty := range s.inventory[1] {
		p := s.productsByID[pid]
		if !p.Active || qty > p.ReorderPoint {
			continue
		}
		out = append(out, domain.InventoryLevel{
			ProductID:    pid,
			ProductName:  p.Name,
			WarehouseID:  1,
			Quantity:     qty,
			MinStock:     p.MinStock,
			ReorderPoint: p.ReorderPoint,
		})
	}
	slices.SortFunc(out, func(a, b domain.InventoryLevel) int { return a.Quantity - b.Quantity })
	return out, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories), nil
}

func (s *Store) ListUnits(_ context.Context) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.units), nil
}

// Patients and prescribers.

func (s *Store) SearchPatients(_ context.Context, term string) ([]domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.Patient, 0, 8)
	for _, p := range s.patientsByID {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.FullName), needle) &&
			!strings.Contains(strings.ToLower(p.Document), needle) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Patient) int { return strings.Compare(a.FullName, b.FullName) })
	return out, nil
}

func (s *Store) GetPatient(_ context.Context, patientID int64) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patientsByID[patientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) CreatePatient(_ context.Context, req domain.PatientUpsertRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.patientsByID {
		if p.Document == req.Document {
			return 0, store.InvalidArgumentf("A patient with this document already exists")
		}
	}
	s.nextPatientID++
	p := domain.Patient{
		PatientID:   s.nextPatientID,
		FullName:    req.FullName,
		Document:    req.Document,
		Phone:       req.Phone,
		Email:       req.Email,
		InsuranceID: req.InsuranceID,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if req.BirthDate != "" {
		if t, err := time.Parse("2006-01-02", req.BirthDate); err == nil {
			p.BirthDate = &t
		}
	}
	if req.InsuranceID != nil {
		if ins, has := s.insurers[*req.InsuranceID]; has {
			p.Insurance = ins.Name
		}
	}
	s.patientsByID[p.PatientID] = p
	return p.PatientID, nil
}

func (s *Store) UpdatePatient(_ context.Context, patientID int64, req domain.PatientUpsertRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patientsByID[patientID]
	if !ok {
		return store.ErrNotFound
	}
	p.FullName = req.FullName
	p.Document = req.Document
	p.Phone = req.Phone
	p.Email = req.Email
	p.InsuranceID = req.InsuranceID
	p.Insurance = ""
	if req.InsuranceID != nil {
		if ins, has := s.insurers[*req.InsuranceID]; has {
			p.Insurance = ins.Name
		}
	}
	if req.BirthDate != "" {
		if t, err := time.Parse("2006-01-02", req.BirthDate); err == nil {
			p.BirthDate = &t
		}
	}
	s.patientsByID[patientID] = p
	return nil
}

func (s *Store) SetPatientActive(_ context.Context, patientID int64, active bool, reason string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patientsByID[patientID]
	if !ok {
		return store.ErrNotFound
	}
	p.Active = active
	s.patientsByID[patientID] = p
	return nil
}

func (s *Store) GetPatientPurchaseHistory(_ context.Context, patientID int64) ([]domain.PurchaseHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patientsByID[patientID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.PurchaseHistoryEntry, 0, 8)
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if inv.PatientID == nil || *inv.PatientID != patientID {
			continue
		}
		out = append(out, domain.PurchaseHistoryEntry{
			InvoiceID:     inv.InvoiceID,
			InvoiceNumber: inv.InvoiceNumber,
			InvoiceDate:   inv.InvoiceDate,
			GrandTotal:    inv.GrandTotal,
			IsVoided:      inv.IsVoided,
			ItemCount:     len(rec.items),
		})
	}
	slices.SortFunc(out, func(a, b domain.PurchaseHistoryEntry) int { return int(b.InvoiceID - a.InvoiceID) })
	return out, nil
}

func (s *Store) ListInsuranceProviders(_ context.Context) ([]domain.InsuranceProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InsuranceProvider, 0, len(s.insurers))
	for _, ins := range s.insurers {
		out = append(out, ins)
	}
	slices.SortFunc(out, func(a, b domain.InsuranceProvider) int { return int(a.InsuranceID - b.InsuranceID) })
	return out, nil
}

func (s *Store) ListPrescribers(_ context.Context) ([]domain.Prescriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Prescriber, 0, len(s.prescribersByID))
	for _, d := range s.prescribersByID {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Prescriber) int { return strings.Compare(a.FullName, b.FullName) })
	return out, nil
}

func (s *Store) CreatePrescriber(_ context.Context, req domain.PrescriberUpsertRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.prescribersByID {
		if d.License == req.License {
			return 0, store.InvalidArgumentf("A prescriber with this license already exists")
		}
	}
	s.nextPrescriberID++
	s.prescribersByID[s.nextPrescriberID] = domain.Prescriber{
		PrescriberID: s.nextPrescriberID,
		FullName:     req.FullName,
		License:      req.License,
		Specialty:    req.Specialty,
		Phone:        req.Phone,
		Email:        req.Email,
		Active:       true,
	}
	return s.nextPrescriberID, nil
}

func (s *Store) UpdatePrescriber(_ context.Context, prescriberID int64, req domain.PrescriberUpsertRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.prescribersByID[prescriberID]
	if !ok {
		return store.ErrNotFound
	}
	d.FullName = req.FullName
	d.License = req.License
	d.Specialty = req.Specialty
	d.Phone = req.Phone
	d.Email = req.Email
	s.prescribersByID[prescriberID] = d
	return nil
}

func (s *Store) SetPrescriberActive(_ context.Context, prescriberID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.prescribersByID[prescriberID]
	if !ok {
		return store.ErrNotFound
	}
	d.Active = active
	s.prescribersByID[prescriberID] = d
	return nil
}

func (s *Store) ListInsuranceDiscountRates(_ context.Context) ([]domain.DiscountRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DiscountRate, 0, len(s.discountRates))
	for id, rate := range s.discountRates {
		out = append(out, domain.DiscountRate{
			InsuranceID:   id,
			InsuranceName: s.insurers[id].Name,
			Rate:          rate,
		})
	}
	slices.SortFunc(out, func(a, b domain.DiscountRate) int { return int(a.InsuranceID - b.InsuranceID) })
	return out, nil
}

func (s *Store) UpdateInsuranceDiscountRate(_ context.Context, insuranceID int64, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.insurers[insuranceID]; !ok {
		return store.ErrNotFound
	}
	s.discountRates[insuranceID] = rate
	return nil
}

// Reporting and dashboard.

func (s *Store) ReportOverview(_ context.Context, rng domain.DateRange) (*domain.ReportOverview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ov := domain.ReportOverview{
		TotalSales:    decimal.Zero,
		TaxCollected:  decimal.Zero,
		RefundedTotal: decimal.Zero,
		AverageTicket: decimal.Zero,
	}
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if inv.IsVoided || !withinRange(inv.InvoiceDate, rng.StartDate, rng.EndDate) {
			continue
		}
		ov.InvoiceCount++
		ov.TotalSales = ov.TotalSales.Add(inv.GrandTotal)
		ov.TaxCollected = ov.TaxCollected.Add(inv.TaxTotal)
		for _, r := range rec.refunds {
			ov.RefundCount++
			ov.RefundedTotal = ov.RefundedTotal.Add(r.Amount)
		}
	}
	if ov.InvoiceCount > 0 {
		ov.AverageTicket = ov.TotalSales.Div(decimal.NewFromInt(ov.InvoiceCount)).Round(2)
	}
	return &ov, nil
}

func (s *Store) ReportSalesTrend(_ context.Context, rng domain.DateRange) ([]domain.SalesTrendPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := map[string]*domain.SalesTrendPoint{}
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if inv.IsVoided || !withinRange(inv.InvoiceDate, rng.StartDate, rng.EndDate) {
			continue
		}
		day := inv.InvoiceDate.Format("2006-01-02")
		pt, ok := byDay[day]
		if !ok {
			pt = &domain.SalesTrendPoint{Date: day, Total: decimal.Zero}
			byDay[day] = pt
		}
		pt.Invoices++
		pt.Total = pt.Total.Add(inv.GrandTotal)
	}
	out := make([]domain.SalesTrendPoint, 0, len(byDay))
	for _, pt := range byDay {
		out = append(out, *pt)
	}
	slices.SortFunc(out, func(a, b domain.SalesTrendPoint) int { return strings.Compare(a.Date, b.Date) })
	return out, nil
}

func (s *Store) ReportTopProducts(_ context.Context, rng domain.DateRange, top int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topProducts(rng, top), nil
}

func (s *Store) topProducts(rng domain.DateRange, top int) []domain.TopProduct {
	byProduct := map[int64]*domain.TopProduct{}
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if inv.IsVoided || !withinRange(inv.InvoiceDate, rng.StartDate, rng.EndDate) {
			continue
		}
		for _, li := range rec.items {
			tp, ok := byProduct[li.ProductID]
			if !ok {
				tp = &domain.TopProduct{ProductID: li.ProductID, ProductName: li.ProductName, Total: decimal.Zero}
				byProduct[li.ProductID] = tp
			}
			tp.QuantitySold += int64(li.Quantity)
			tp.Total = tp.Total.Add(li.LineTotal)
		}
	}
	out := make([]domain.TopProduct, 0, len(byProduct))
	for _, tp := range byProduct {
		out = append(out, *tp)
	}
	slices.SortFunc(out, func(a, b domain.TopProduct) int {
		if a.QuantitySold == b.QuantitySold {
			return strings.Compare(a.ProductName, b.ProductName)
		}
		return int(b.QuantitySold - a.QuantitySold)
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func (s *Store) ReportRefundSummary(_ context.Context, rng domain.DateRange) ([]domain.RefundSummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := map[string]*domain.RefundSummaryRow{}
	for _, rec := range s.invoicesByID {
		for _, r := range rec.refunds {
			if !withinRange(r.ProcessedAt, rng.StartDate, rng.EndDate) {
				continue
			}
			day := r.ProcessedAt.Format("2006-01-02")
			row, ok := byDay[day]
			if !ok {
				row = &domain.RefundSummaryRow{Date: day, Total: decimal.Zero}
				byDay[day] = row
			}
			row.Refunds++
			row.Total = row.Total.Add(r.Amount)
		}
	}
	out := make([]domain.RefundSummaryRow, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b domain.RefundSummaryRow) int { return strings.Compare(a.Date, b.Date) })
	return out, nil
}

func (s *Store) ReportInventoryMovement(_ context.Context, rng domain.DateRange) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryMovement, 0, len(s.movements))
	for _, m := range s.movements {
		if !withinRange(m.Date, rng.StartDate, rng.EndDate) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) GetDashboardSummary(_ context.Context) (*domain.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := time.Now().UTC().Format("2006-01-02")
	sum := domain.DashboardSummary{TodaySales: decimal.Zero}
	for _, rec := range s.invoicesByID {
		inv := rec.invoice
		if inv.IsVoided || inv.InvoiceDate.Format("2006-01-02") != today {
			continue
		}
		sum.TodayInvoices++
		sum.TodaySales = sum.TodaySales.Add(inv.GrandTotal)
	}
	for _, p := range s.patientsByID {
		if p.Active {
			sum.ActivePatients++
		}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, 90)
	for pid, qty := range s.inventory[1] {
		p := s.productsByID[pid]
		if p.Active && qty <= p.ReorderPoint {
			sum.LowStockCount++
		}
		if exp, has := s.expiry[pid]; has && !exp.After(cutoff) {
			sum.ExpiringCount++
		}
	}
	return &sum, nil
}

func (s *Store) GetTopProducts(_ context.Context, limit, days int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	return s.topProducts(domain.DateRange{StartDate: &start}, limit), nil
}

// withinRange treats bounds as inclusive calendar dates in YYYY-MM-DD form.
// Unparseable bounds are ignored, matching the lenient procedure behavior.
func withinRange(t time.Time, start, end *string) bool {
	day := t.Format("2006-01-02")
	if start != nil && *start != "" && day < *start {
		return false
	}
	if end != nil && *end != "" && day > *end {
		return false
	}
	return true
}
