package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"healthtrack/backend/internal/domain"
	"healthtrack/backend/internal/store"
)

const (
	RoleAdmin      = "Admin"
	RoleCashier    = "Cashier"
	RolePharmacist = "Pharmacist"
)

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.UserContext, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return domain.UserContext{}, fmt.Errorf("%w: User not authenticated", store.ErrUnauthenticated)
	}
	for _, role := range roles {
		if user.RoleName == role {
			return user, nil
		}
	}
	return domain.UserContext{}, fmt.Errorf("%w: insufficient role", store.ErrForbidden)
}

// Users and roles. Passwords are hashed here so plaintext never reaches the
// procedure layer.

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.GetUser(ctx, userID)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (int64, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return 0, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return 0, store.InvalidArgumentf("Username is required")
	}
	if len(req.Password) < 8 {
		return 0, store.InvalidArgumentf("Password must be at least 8 characters")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return 0, store.InvalidArgumentf("Full name is required")
	}
	if req.RoleID <= 0 {
		return 0, store.InvalidArgumentf("Role is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateUser(ctx, username, string(hash), strings.TrimSpace(req.FullName),
		strings.TrimSpace(req.Email), req.RoleID, req.WarehouseID)
}

func (s *Service) UpdateUser(ctx context.Context, userID int64, req domain.UserUpdateRequest) error {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return err
	}
	if strings.TrimSpace(req.FullName) == "" {
		return store.InvalidArgumentf("Full name is required")
	}
	if req.RoleID <= 0 {
		return store.InvalidArgumentf("Role is required")
	}

	hash := ""
	if req.Password != "" {
		if len(req.Password) < 8 {
			return store.InvalidArgumentf("Password must be at least 8 characters")
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		hash = string(hashed)
	}
	return s.repo.UpdateUser(ctx, userID, hash, strings.TrimSpace(req.FullName),
		strings.TrimSpace(req.Email), req.RoleID, req.WarehouseID)
}

func (s *Service) SetUserActive(ctx context.Context, userID int64, active bool) error {
	user, err := s.requireRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if user.UserID == userID && !active {
		return store.InvalidArgumentf("You cannot deactivate your own account")
	}
	return s.repo.SetUserActive(ctx, userID, active)
}

func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListRoles(ctx)
}

// Products and inventory.

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) SearchProducts(ctx context.Context, term string) ([]domain.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, store.InvalidArgumentf("Search term is required")
	}
	return s.repo.SearchProducts(ctx, term)
}

func (s *Service) ListAvailableProducts(ctx context.Context, warehouseID *int64) ([]domain.Product, error) {
	wid := s.defaultWarehouseID
	if warehouseID != nil {
		wid = *warehouseID
	}
	return s.repo.ListAvailableProducts(ctx, wid)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (int64, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RolePharmacist); err != nil {
		return 0, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return 0, store.InvalidArgumentf("Product name is required")
	}
	if req.CategoryID <= 0 || req.UnitID <= 0 {
		return 0, store.InvalidArgumentf("Category and unit are required")
	}
	if !req.Price.IsPositive() {
		return 0, store.InvalidArgumentf("Price must be greater than 0")
	}
	return s.repo.CreateProduct(ctx, req)
}

func (s *Service) UpdateProduct(ctx context.Context, productID int64, req domain.ProductUpdateRequest) error {
	if _, err := s.requireRole(ctx, RoleAdmin, RolePharmacist); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return store.InvalidArgumentf("Product name is required")
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return store.InvalidArgumentf("Price must be greater than 0")
	}
	return s.repo.UpdateProduct(ctx, productID, req)
}

func (s *Service) DeactivateProduct(ctx context.Context, productID int64, reason string) error {
	user, err := s.requireRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.InvalidArgumentf("Deactivation reason is required")
	}
	return s.repo.DeactivateProduct(ctx, productID, reason, user.UserID)
}

func (s *Service) GetInventoryLevels(ctx context.Context, warehouseID *int64) ([]domain.InventoryLevel, error) {
	return s.repo.GetInventoryLevels(ctx, warehouseID)
}

func (s *Service) AdjustInventory(ctx context.Context, adj domain.InventoryAdjustment) (*domain.InventoryAdjustmentResult, error) {
	user, err := s.requireRole(ctx, RoleAdmin, RolePharmacist)
	if err != nil {
		return nil, err
	}
	if adj.ProductID <= 0 {
		return nil, store.InvalidArgumentf("Product is required")
	}
	switch adj.AdjustmentType {
	case "IN", "OUT", "SET":
	default:
		return nil, store.InvalidArgumentf("Adjustment type must be IN, OUT or SET")
	}
	if adj.Quantity < 0 || (adj.AdjustmentType != "SET" && adj.Quantity == 0) {
		return nil, store.InvalidArgumentf("Valid quantity required")
	}
	if strings.TrimSpace(adj.Reason) == "" {
		return nil, store.InvalidArgumentf("Adjustment reason is required")
	}
	if adj.WarehouseID == 0 {
		adj.WarehouseID = s.defaultWarehouseID
	}
	adj.UserID = user.UserID
	return s.repo.AdjustInventory(ctx, adj)
}

// ListExpiringProducts defaults to a 90 day horizon.
func (s *Service) ListExpiringProducts(ctx context.Context, days int) ([]domain.InventoryLevel, error) {
	if days <= 0 {
		days = 90
	}
	return s.repo.ListExpiringProducts(ctx, days)
}

func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.InventoryLevel, error) {
	return s.repo.ListLowStockProducts(ctx)
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	return s.repo.ListUnits(ctx)
}

// Patients and prescribers.

func (s *Service) SearchPatients(ctx context.Context, term string) ([]domain.Patient, error) {
	return s.repo.SearchPatients(ctx, strings.TrimSpace(term))
}

func (s *Service) GetPatient(ctx context.Context, patientID int64) (*domain.Patient, error) {
	return s.repo.GetPatient(ctx, patientID)
}

func (s *Service) CreatePatient(ctx context.Context, req domain.PatientUpsertRequest) (int64, error) {
	if err := validatePatient(req); err != nil {
		return 0, err
	}
	return s.repo.CreatePatient(ctx, req)
}

func (s *Service) UpdatePatient(ctx context.Context, patientID int64, req domain.PatientUpsertRequest) error {
	if err := validatePatient(req); err != nil {
		return err
	}
	return s.repo.UpdatePatient(ctx, patientID, req)
}

func validatePatient(req domain.PatientUpsertRequest) error {
	if strings.TrimSpace(req.FullName) == "" {
		return store.InvalidArgumentf("Patient name is required")
	}
	if strings.TrimSpace(req.Document) == "" {
		return store.InvalidArgumentf("Patient document is required")
	}
	return nil
}

func (s *Service) SetPatientActive(ctx context.Context, patientID int64, active bool, reason string) error {
	user, ok := UserFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: User not authenticated", store.ErrUnauthenticated)
	}
	if !active && strings.TrimSpace(reason) == "" {
		return store.InvalidArgumentf("Deactivation reason is required")
	}
	return s.repo.SetPatientActive(ctx, patientID, active, strings.TrimSpace(reason), user.UserID)
}

func (s *Service) GetPatientPurchaseHistory(ctx context.Context, patientID int64) ([]domain.PurchaseHistoryEntry, error) {
	return s.repo.GetPatientPurchaseHistory(ctx, patientID)
}

func (s *Service) ListInsuranceProviders(ctx context.Context) ([]domain.InsuranceProvider, error) {
	return s.repo.ListInsuranceProviders(ctx)
}

func (s *Service) ListPrescribers(ctx context.Context) ([]domain.Prescriber, error) {
	return s.repo.ListPrescribers(ctx)
}

func (s *Service) CreatePrescriber(ctx context.Context, req domain.PrescriberUpsertRequest) (int64, error) {
	if err := validatePrescriber(req); err != nil {
		return 0, err
	}
	return s.repo.CreatePrescriber(ctx, req)
}

func (s *Service) UpdatePrescriber(ctx context.Context, prescriberID int64, req domain.PrescriberUpsertRequest) error {
	if err := validatePrescriber(req); err != nil {
		return err
	}
	return s.repo.UpdatePrescriber(ctx, prescriberID, req)
}

func validatePrescriber(req domain.PrescriberUpsertRequest) error {
	if strings.TrimSpace(req.FullName) == "" {
		return store.InvalidArgumentf("Prescriber name is required")
	}
	if strings.TrimSpace(req.License) == "" {
		return store.InvalidArgumentf("Prescriber license is required")
	}
	return nil
}

func (s *Service) SetPrescriberActive(ctx context.Context, prescriberID int64, active bool) error {
	if _, err := s.requireRole(ctx, RoleAdmin, RolePharmacist); err != nil {
		return err
	}
	return s.repo.SetPrescriberActive(ctx, prescriberID, active)
}

func (s *Service) ListInsuranceDiscountRates(ctx context.Context) ([]domain.DiscountRate, error) {
	return s.repo.ListInsuranceDiscountRates(ctx)
}

func (s *Service) UpdateInsuranceDiscountRate(ctx context.Context, insuranceID int64, rate domain.DiscountRate) error {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return err
	}
	if rate.Rate.IsNegative() || rate.Rate.GreaterThan(hundred) {
		return store.InvalidArgumentf("Rate must be between 0 and 100")
	}
	return s.repo.UpdateInsuranceDiscountRate(ctx, insuranceID, rate.Rate)
}
