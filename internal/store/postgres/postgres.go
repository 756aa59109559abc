package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/store"
)

// raiseException is the SQLSTATE produced by RAISE EXCEPTION inside the
// stored procedures. Messages with this code are business-rule rejections
// written for end users; anything else is a server fault.
const raiseException = "P0001"

// Store is the procedure gateway. All business logic lives in the database
// procedures; this layer only executes them, decodes their result sets into
// typed structs, and maps their failures to sentinel errors. No call is
// retried.
type Store struct {
	db      *sql.DB
	log     *logrus.Logger
	timeout time.Duration
}

func New(ctx context.Context, databaseURL string, timeout time.Duration, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Store{db: db, log: log, timeout: timeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// call is the single execution chokepoint. It builds `SELECT * FROM proc(...)`
// with positional placeholders, applies the bounded timeout, runs scan over
// the result rows, and maps procedure failures to sentinels.
func (s *Store) call(ctx context.Context, proc string, scan func(*sql.Rows) error, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", proc, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.mapError(proc, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return s.mapError(proc, err)
		}
	}
	return s.mapError(proc, rows.Err())
}

// exec runs a procedure whose result set is ignored.
func (s *Store) exec(ctx context.Context, proc string, args ...any) error {
	return s.call(ctx, proc, func(*sql.Rows) error { return nil }, args...)
}

// callOne runs a procedure expected to return exactly one row. A missing row
// maps to ErrNotFound.
func (s *Store) callOne(ctx context.Context, proc string, scan func(*sql.Rows) error, args ...any) error {
	found := false
	err := s.call(ctx, proc, func(rows *sql.Rows) error {
		found = true
		return scan(rows)
	}, args...)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) mapError(proc string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == raiseException {
		msg := strings.ToLower(pgErr.Message)
		switch {
		case strings.Contains(msg, "already voided"):
			return store.ErrAlreadyVoided
		case strings.Contains(msg, "existing refunds"):
			return store.ErrHasRefunds
		case strings.Contains(msg, "voided invoice"), strings.Contains(msg, "is voided"):
			return store.ErrInvoiceVoided
		case strings.Contains(msg, "not found"):
			return store.ErrNotFound
		default:
			return store.InvalidArgumentf("%s", pgErr.Message)
		}
	}

	s.log.WithFields(logrus.Fields{"procedure": proc}).WithError(err).Error("procedure call failed")
	return &store.ProcedureError{Procedure: proc, Err: err}
}

// Auth and users.

func (s *Store) AuthenticateUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.callOne(ctx, "sp_AuthenticateUser", func(rows *sql.Rows) error {
		return rows.Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.FullName, &u.Email,
			&u.RoleID, &u.RoleName, &u.WarehouseID, &u.Active, &u.CreatedAt)
	}, username)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUser(rows *sql.Rows, u *domain.User) error {
	return rows.Scan(&u.UserID, &u.Username, &u.FullName, &u.Email,
		&u.RoleID, &u.RoleName, &u.WarehouseID, &u.Active, &u.CreatedAt)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, 16)
	err := s.call(ctx, "sp_GetAllUsers", func(rows *sql.Rows) error {
		var u domain.User
		if err := scanUser(rows, &u); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var u domain.User
	err := s.callOne(ctx, "sp_GetUserDetails", func(rows *sql.Rows) error {
		return scanUser(rows, &u)
	}, userID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash, fullName, email string, roleID int64, warehouseID *int64) (int64, error) {
	var id int64
	err := s.callOne(ctx, "sp_CreateUser", func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, username, passwordHash, fullName, email, roleID, warehouseID)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID int64, passwordHash, fullName, email string, roleID int64, warehouseID *int64) error {
	var hash *string
	if passwordHash != "" {
		hash = &passwordHash
	}
	return s.exec(ctx, "sp_UpdateUser", userID, hash, fullName, email, roleID, warehouseID)
}

func (s *Store) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return s.exec(ctx, "sp_SetUserStatus", userID, active)
}

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, 4)
	err := s.call(ctx, "sp_GetAllRoles", func(rows *sql.Rows) error {
		var r domain.Role
		if err := rows.Scan(&r.RoleID, &r.RoleName, &r.Description); err != nil {
			return err
		}
		roles = append(roles, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// Invoices.

func scanInvoice(rows *sql.Rows, inv *domain.Invoice) error {
	var (
		patientName, patientDoc, soldByName sql.NullString
		voidReason, voidedByName            sql.NullString
		payRef, insRef                      sql.NullString
		cashReceived, changeDue             decimal.NullDecimal
	)
	err := rows.Scan(&inv.InvoiceID, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.PatientID, &patientName, &patientDoc, &inv.SoldBy, &soldByName,
		&inv.Subtotal, &inv.TaxTotal, &inv.DiscountTotal, &inv.InsuranceCoverage,
		&inv.GrandTotal, &inv.PatientPays, &inv.PaymentMethod, &payRef,
		&cashReceived, &changeDue, &insRef,
		&inv.IsVoided, &voidReason, &inv.VoidedBy, &voidedByName, &inv.VoidedAt,
		&inv.RefundCount)
	if err != nil {
		return err
	}
	inv.PatientName = patientName.String
	inv.PatientDocument = patientDoc.String
	inv.SoldByName = soldByName.String
	inv.VoidReason = voidReason.String
	inv.VoidedByName = voidedByName.String
	if payRef.Valid {
		inv.PaymentReference = &payRef.String
	}
	if insRef.Valid {
		inv.InsuranceRef = &insRef.String
	}
	if cashReceived.Valid {
		inv.CashReceived = &cashReceived.Decimal
	}
	if changeDue.Valid {
		inv.ChangeDue = &changeDue.Decimal
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	invoices := make([]domain.Invoice, 0, 64)
	err := s.call(ctx, "sp_GetAllInvoices", func(rows *sql.Rows) error {
		var inv domain.Invoice
		if err := scanInvoice(rows, &inv); err != nil {
			return err
		}
		invoices = append(invoices, inv)
		return nil
	}, filter.StartDate, filter.EndDate, filter.Status, filter.PatientID)
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) GetInvoiceStats(ctx context.Context, rng domain.DateRange) (*domain.InvoiceStats, error) {
	var st domain.InvoiceStats
	err := s.callOne(ctx, "sp_GetInvoiceStats", func(rows *sql.Rows) error {
		return rows.Scan(&st.TotalInvoices, &st.ActiveInvoices, &st.VoidedInvoices,
			&st.TotalSales, &st.RefundedTotal)
	}, rng.StartDate, rng.EndDate)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SearchInvoices(ctx context.Context, term string, invoiceID *int64) ([]domain.Invoice, error) {
	var termArg *string
	if term != "" {
		termArg = &term
	}
	invoices := make([]domain.Invoice, 0, 16)
	err := s.call(ctx, "sp_SearchInvoices", func(rows *sql.Rows) error {
		var inv domain.Invoice
		if err := scanInvoice(rows, &inv); err != nil {
			return err
		}
		invoices = append(invoices, inv)
		return nil
	}, termArg, invoiceID)
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetInvoiceDetail composes the three detail procedures (header, lines,
// refunds) into one typed result so callers never touch raw recordsets.
func (s *Store) GetInvoiceDetail(ctx context.Context, invoiceID int64) (*domain.InvoiceDetail, error) {
	var detail domain.InvoiceDetail
	err := s.callOne(ctx, "sp_GetInvoiceDetails", func(rows *sql.Rows) error {
		return scanInvoice(rows, &detail.Invoice)
	}, invoiceID)
	if err != nil {
		return nil, err
	}

	detail.Items = make([]domain.InvoiceLineItem, 0, 8)
	err = s.call(ctx, "sp_GetInvoiceItems", func(rows *sql.Rows) error {
		var li domain.InvoiceLineItem
		if err := rows.Scan(&li.LineItemID, &li.InvoiceID, &li.ProductID, &li.ProductName,
			&li.Quantity, &li.UnitPrice, &li.DiscountPercent, &li.LineTotal, &li.QuantityRefunded); err != nil {
			return err
		}
		detail.Items = append(detail.Items, li)
		return nil
	}, invoiceID)
	if err != nil {
		return nil, err
	}

	detail.Refunds = make([]domain.Refund, 0, 2)
	err = s.call(ctx, "sp_GetInvoiceRefunds", func(rows *sql.Rows) error {
		var r domain.Refund
		var processedByName, notes sql.NullString
		if err := rows.Scan(&r.RefundID, &r.InvoiceID, &r.Amount, &r.Reason, &r.Method,
			&r.ProcessedBy, &processedByName, &r.ProcessedAt, &notes); err != nil {
			return err
		}
		r.ProcessedByName = processedByName.String
		r.Notes = notes.String
		detail.Refunds = append(detail.Refunds, r)
		return nil
	}, invoiceID)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Store) CreateSalesInvoice(ctx context.Context, inv domain.NewInvoice) (*domain.CreateSaleResponse, error) {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return nil, err
	}

	var resp domain.CreateSaleResponse
	found := false
	err = s.call(ctx, "sp_CreateSalesInvoice", func(rows *sql.Rows) error {
		found = true
		var changeDue decimal.NullDecimal
		if err := rows.Scan(&resp.InvoiceID, &resp.InvoiceNumber, &resp.Subtotal,
			&resp.TaxTotal, &resp.DiscountTotal, &resp.GrandTotal, &changeDue); err != nil {
			return err
		}
		if changeDue.Valid {
			resp.ChangeDue = &changeDue.Decimal
		}
		return nil
	},
		inv.PatientID, inv.WarehouseID, inv.UserID, inv.PaymentMethod,
		inv.Subtotal, inv.TaxTotal, inv.DiscountTotal, inv.GrandTotal,
		inv.PaymentReference, nullDecimal(inv.CashReceived), nullDecimal(inv.ChangeDue),
		inv.InsuranceRef, inv.Notes, string(items))
	if err != nil {
		return nil, err
	}
	if !found {
		// A commit with no returned row is ambiguous; surface it rather than
		// guessing with a secondary lookup.
		return nil, &store.ProcedureError{
			Procedure: "sp_CreateSalesInvoice",
			Err:       errors.New("no invoice row returned"),
		}
	}
	return &resp, nil
}

func (s *Store) VoidInvoice(ctx context.Context, invoiceID int64, reason string, voidedBy int64) error {
	return s.exec(ctx, "sp_VoidInvoice", invoiceID, reason, voidedBy)
}

func (s *Store) ProcessRefund(ctx context.Context, refund domain.NewRefund) (int64, error) {
	items, err := json.Marshal(refund.Items)
	if err != nil {
		return 0, err
	}
	var notes *string
	if refund.Notes != "" {
		notes = &refund.Notes
	}

	var id int64
	err = s.callOne(ctx, "sp_ProcessRefund", func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, refund.InvoiceID, refund.Amount, refund.Reason, refund.Method,
		refund.ProcessedBy, notes, string(items))
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Products and inventory.

func scanProduct(rows *sql.Rows, p *domain.Product) error {
	var description, categoryName, unitName sql.NullString
	err := rows.Scan(&p.ProductID, &p.Name, &description, &p.CategoryID, &categoryName,
		&p.UnitID, &unitName, &p.Price, &p.MinStock, &p.MaxStock, &p.ReorderPoint,
		&p.Active, &p.Stock)
	if err != nil {
		return err
	}
	p.Description = description.String
	p.CategoryName = categoryName.String
	p.UnitName = unitName.String
	return nil
}

func (s *Store) collectProducts(ctx context.Context, proc string, args ...any) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := s.call(ctx, proc, func(rows *sql.Rows) error {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return err
		}
		products = append(products, p)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.collectProducts(ctx, "sp_GetAllProducts")
}

func (s *Store) SearchProducts(ctx context.Context, term string) ([]domain.Product, error) {
	return s.collectProducts(ctx, "sp_SearchProducts", term)
}

func (s *Store) ListAvailableProducts(ctx context.Context, warehouseID int64) ([]domain.Product, error) {
	return s.collectProducts(ctx, "sp_GetAvailableProducts", warehouseID)
}

func (s *Store) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (int64, error) {
	var expiry *string
	if req.ExpiryDate != "" {
		expiry = &req.ExpiryDate
	}
	var id int64
	err := s.callOne(ctx, "sp_CreateProductWithStock", func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, req.Name, req.Description, req.CategoryID, req.UnitID,
		req.MinStock, req.MaxStock, req.ReorderPoint, req.Price, req.InitialStock, expiry)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateProduct(ctx context.Context, productID int64, req domain.ProductUpdateRequest) error {
	return s.exec(ctx, "sp_UpdateProduct", productID, req.Name, req.Description,
		req.CategoryID, req.UnitID, req.MinStock, req.MaxStock, req.ReorderPoint,
		nullDecimal(req.Price), req.Active)
}

func (s *Store) DeactivateProduct(ctx context.Context, productID int64, reason string, userID int64) error {
	return s.exec(ctx, "sp_DeleteProduct", productID, reason, userID)
}

func scanInventoryLevel(rows *sql.Rows, lvl *domain.InventoryLevel) error {
	return rows.Scan(&lvl.ProductID, &lvl.ProductName, &lvl.WarehouseID, &lvl.BatchID,
		&lvl.Quantity, &lvl.MinStock, &lvl.ReorderPoint, &lvl.ExpiryDate)
}

func (s *Store) collectLevels(ctx context.Context, proc string, args ...any) ([]domain.InventoryLevel, error) {
	levels := make([]domain.InventoryLevel, 0, 64)
	err := s.call(ctx, proc, func(rows *sql.Rows) error {
		var lvl domain.InventoryLevel
		if err := scanInventoryLevel(rows, &lvl); err != nil {
			return err
		}
		levels = append(levels, lvl)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func (s *Store) GetInventoryLevels(ctx context.Context, warehouseID *int64) ([]domain.InventoryLevel, error) {
	return s.collectLevels(ctx, "sp_GetInventoryLevels", warehouseID)
}

func (s *Store) AdjustInventory(ctx context.Context, adj domain.InventoryAdjustment) (*domain.InventoryAdjustmentResult, error) {
	var res domain.InventoryAdjustmentResult
	err := s.callOne(ctx, "sp_AdjustInventory", func(rows *sql.Rows) error {
		return rows.Scan(&res.OldQuantity, &res.NewQuantity)
	}, adj.ProductID, adj.BatchID, adj.WarehouseID, adj.AdjustmentType, adj.Quantity, adj.Reason, adj.UserID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) ListExpiringProducts(ctx context.Context, days int) ([]domain.InventoryLevel, error) {
	return s.collectLevels(ctx, "sp_GetExpiringProducts", days)
}

func (s *Store) ListLowStockProducts(ctx context.Context) ([]domain.InventoryLevel, error) {
	return s.collectLevels(ctx, "sp_GetLowStockProducts")
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories := make([]domain.Category, 0, 16)
	err := s.call(ctx, "sp_GetAllCategories", func(rows *sql.Rows) error {
		var c domain.Category
		if err := rows.Scan(&c.CategoryID, &c.Name); err != nil {
			return err
		}
		categories = append(categories, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	units := make([]domain.Unit, 0, 8)
	err := s.call(ctx, "sp_GetAllUnits", func(rows *sql.Rows) error {
		var u domain.Unit
		if err := rows.Scan(&u.UnitID, &u.Name); err != nil {
			return err
		}
		units = append(units, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// Patients and prescribers.

func scanPatient(rows *sql.Rows, p *domain.Patient) error {
	var phone, email, insurance sql.NullString
	err := rows.Scan(&p.PatientID, &p.FullName, &p.Document, &phone, &email,
		&p.BirthDate, &p.InsuranceID, &insurance, &p.Active, &p.CreatedAt)
	if err != nil {
		return err
	}
	p.Phone = phone.String
	p.Email = email.String
	p.Insurance = insurance.String
	return nil
}

func (s *Store) SearchPatients(ctx context.Context, term string) ([]domain.Patient, error) {
	patients := make([]domain.Patient, 0, 16)
	err := s.call(ctx, "sp_SearchPatients", func(rows *sql.Rows) error {
		var p domain.Patient
		if err := scanPatient(rows, &p); err != nil {
			return err
		}
		patients = append(patients, p)
		return nil
	}, term)
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID int64) (*domain.Patient, error) {
	var p domain.Patient
	err := s.callOne(ctx, "sp_GetPatientDetails", func(rows *sql.Rows) error {
		return scanPatient(rows, &p)
	}, patientID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePatient(ctx context.Context, req domain.PatientUpsertRequest) (int64, error) {
	var id int64
	err := s.callOne(ctx, "sp_CreatePatientEnhanced", func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, req.FullName, req.Document, nullString(req.Phone), nullString(req.Email),
		nullString(req.BirthDate), req.InsuranceID)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdatePatient(ctx context.Context, patientID int64, req domain.PatientUpsertRequest) error {
	return s.exec(ctx, "sp_UpdatePatientEnhanced", patientID, req.FullName, req.Document,
		nullString(req.Phone), nullString(req.Email), nullString(req.BirthDate), req.InsuranceID)
}

func (s *Store) SetPatientActive(ctx context.Context, patientID int64, active bool, reason string, userID int64) error {
	return s.exec(ctx, "sp_SetPatientStatus", patientID, active, nullString(reason), userID)
}

func (s *Store) GetPatientPurchaseHistory(ctx context.Context, patientID int64) ([]domain.PurchaseHistoryEntry, error) {
	entries := make([]domain.PurchaseHistoryEntry, 0, 16)
	err := s.call(ctx, "sp_GetPatientPurchaseHistory", func(rows *sql.Rows) error {
		var e domain.PurchaseHistoryEntry
		if err := rows.Scan(&e.InvoiceID, &e.InvoiceNumber, &e.InvoiceDate,
			&e.GrandTotal, &e.IsVoided, &e.ItemCount); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}, patientID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListInsuranceProviders(ctx context.Context) ([]domain.InsuranceProvider, error) {
	providers := make([]domain.InsuranceProvider, 0, 8)
	err := s.call(ctx, "sp_GetInsuranceProviders", func(rows *sql.Rows) error {
		var ins domain.InsuranceProvider
		if err := rows.Scan(&ins.InsuranceID, &ins.Name, &ins.Active); err != nil {
			return err
		}
		providers = append(providers, ins)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (s *Store) ListPrescribers(ctx context.Context) ([]domain.Prescriber, error) {
	prescribers := make([]domain.Prescriber, 0, 16)
	err := s.call(ctx, "sp_GetAllPrescribers", func(rows *sql.Rows) error {
		var d domain.Prescriber
		var specialty, phone, email sql.NullString
		if err := rows.Scan(&d.PrescriberID, &d.FullName, &d.License,
			&specialty, &phone, &email, &d.Active); err != nil {
			return err
		}
		d.Specialty = specialty.String
		d.Phone = phone.String
		d.Email = email.String
		prescribers = append(prescribers, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prescribers, nil
}

func (s *Store) CreatePrescriber(ctx context.Context, req domain.PrescriberUpsertRequest) (int64, error) {
	var id int64
	err := s.callOne(ctx, "sp_CreatePrescriber", func(rows *sql.Rows) error {
		return rows.Scan(&id)
	}, req.FullName, req.License, nullString(req.Specialty), nullString(req.Phone), nullString(req.Email))
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdatePrescriber(ctx context.Context, prescriberID int64, req domain.PrescriberUpsertRequest) error {
	return s.exec(ctx, "sp_UpdatePrescriber", prescriberID, req.FullName, req.License,
		nullString(req.Specialty), nullString(req.Phone), nullString(req.Email))
}

func (s *Store) SetPrescriberActive(ctx context.Context, prescriberID int64, active bool) error {
	return s.exec(ctx, "sp_SetPrescriberStatus", prescriberID, active)
}

func (s *Store) ListInsuranceDiscountRates(ctx context.Context) ([]domain.DiscountRate, error) {
	rates := make([]domain.DiscountRate, 0, 8)
	err := s.call(ctx, "sp_GetInsuranceDiscountRates", func(rows *sql.Rows) error {
		var r domain.DiscountRate
		if err := rows.Scan(&r.InsuranceID, &r.InsuranceName, &r.Rate); err != nil {
			return err
		}
		rates = append(rates, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func (s *Store) UpdateInsuranceDiscountRate(ctx context.Context, insuranceID int64, rate decimal.Decimal) error {
	return s.exec(ctx, "sp_UpdateInsuranceDiscountRate", insuranceID, rate)
}

// Reporting and dashboard.

func (s *Store) ReportOverview(ctx context.Context, rng domain.DateRange) (*domain.ReportOverview, error) {
	var ov domain.ReportOverview
	err := s.callOne(ctx, "sp_Report_Overview", func(rows *sql.Rows) error {
		return rows.Scan(&ov.InvoiceCount, &ov.TotalSales, &ov.TaxCollected,
			&ov.RefundCount, &ov.RefundedTotal, &ov.AverageTicket)
	}, rng.StartDate, rng.EndDate)
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (s *Store) ReportSalesTrend(ctx context.Context, rng domain.DateRange) ([]domain.SalesTrendPoint, error) {
	points := make([]domain.SalesTrendPoint, 0, 32)
	err := s.call(ctx, "sp_Report_SalesTrend", func(rows *sql.Rows) error {
		var pt domain.SalesTrendPoint
		if err := rows.Scan(&pt.Date, &pt.Invoices, &pt.Total); err != nil {
			return err
		}
		points = append(points, pt)
		return nil
	}, rng.StartDate, rng.EndDate)
	if err != nil {
		return nil, err
	}
	return points, nil
}

func (s *Store) scanTopProducts(ctx context.Context, proc string, args ...any) ([]domain.TopProduct, error) {
	products := make([]domain.TopProduct, 0, 16)
	err := s.call(ctx, proc, func(rows *sql.Rows) error {
		var tp domain.TopProduct
		if err := rows.Scan(&tp.ProductID, &tp.ProductName, &tp.QuantitySold, &tp.Total); err != nil {
			return err
		}
		products = append(products, tp)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ReportTopProducts(ctx context.Context, rng domain.DateRange, top int) ([]domain.TopProduct, error) {
	return s.scanTopProducts(ctx, "sp_Report_TopProducts", rng.StartDate, rng.EndDate, top)
}

func (s *Store) ReportRefundSummary(ctx context.Context, rng domain.DateRange) ([]domain.RefundSummaryRow, error) {
	rowsOut := make([]domain.RefundSummaryRow, 0, 16)
	err := s.call(ctx, "sp_Report_RefundSummary", func(rows *sql.Rows) error {
		var r domain.RefundSummaryRow
		if err := rows.Scan(&r.Date, &r.Refunds, &r.Total); err != nil {
			return err
		}
		rowsOut = append(rowsOut, r)
		return nil
	}, rng.StartDate, rng.EndDate)
	if err != nil {
		return nil, err
	}
	return rowsOut, nil
}

func (s *Store) ReportInventoryMovement(ctx context.Context, rng domain.DateRange) ([]domain.InventoryMovement, error) {
	moves := make([]domain.InventoryMovement, 0, 64)
	err := s.call(ctx, "sp_Report_InventoryMovement", func(rows *sql.Rows) error {
		var m domain.InventoryMovement
		var reference sql.NullString
		if err := rows.Scan(&m.Date, &m.ProductID, &m.ProductName,
			&m.MovementType, &m.Quantity, &reference); err != nil {
			return err
		}
		m.Reference = reference.String
		moves = append(moves, m)
		return nil
	}, rng.StartDate, rng.EndDate)
	if err != nil {
		return nil, err
	}
	return moves, nil
}

func (s *Store) GetDashboardSummary(ctx context.Context) (*domain.DashboardSummary, error) {
	var sum domain.DashboardSummary
	err := s.callOne(ctx, "sp_GetDashboardSummary", func(rows *sql.Rows) error {
		return rows.Scan(&sum.TodaySales, &sum.TodayInvoices, &sum.ActivePatients,
			&sum.LowStockCount, &sum.ExpiringCount)
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *Store) GetTopProducts(ctx context.Context, limit, days int) ([]domain.TopProduct, error) {
	return s.scanTopProducts(ctx, "sp_GetTopProducts", limit, days)
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
