// services/iotcore/internal/core/repository.go
package core

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for data access operations.
type Repository interface {
	// Account operations
	CreateAccount(ctx context.Context, account *Account) error
	UpdateAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, id uint) error
	GetAccount(ctx context.Context, id uint) (*Account, error)
	GetAccountForUpdate(ctx context.Context, id uint) (*Account, error)
	GetAccountWithDevices(ctx context.Context, id uint) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	AccountEmailExists(ctx context.Context, email string) (bool, error)
	ListAccountsByRoles(ctx context.Context, roles []string) ([]*Account, error)
	UpdateAccountLastLogin(ctx context.Context, id uint) error

	// Account device operations
	CreateAccountDevice(ctx context.Context, device *AccountDevice) error
	UpdateAccountDevice(ctx context.Context, device *AccountDevice) error
	DeleteAccountDevice(ctx context.Context, id uint) error
	GetAccountDevice(ctx context.Context, accountID, deviceID uint) (*AccountDevice, error)
	ListAccountDevices(ctx context.Context, accountID uint) ([]*AccountDevice, error)
	CountAccountDevices(ctx context.Context, accountID uint) (int64, error)
	ClearPrimaryDevices(ctx context.Context, accountID uint, exceptID uint) error

	// Password reset token operations
	CreateResetToken(ctx context.Context, token *PasswordResetToken) error
	UpdateResetToken(ctx context.Context, token *PasswordResetToken) error
	DeleteResetTokensByEmail(ctx context.Context, email string) error
	GetUnusedResetToken(ctx context.Context, email string, otp int) (*PasswordResetToken, error)

	// Telemetry operations
	SaveTelemetry(ctx context.Context, record *TelemetryRecord) error
	SaveTelemetryBatch(ctx context.Context, records []*TelemetryRecord) error
	MarkTelemetryForwarded(ctx context.Context, id uint) error
	FindTelemetryByDeviceAndRange(ctx context.Context, deviceID string, start, end time.Time) ([]*TelemetryRecord, error)
	FindTelemetryByDevice(ctx context.Context, deviceID string, page, size int) ([]*TelemetryRecord, error)
	FindTelemetryByTenant(ctx context.Context, tenantID string, page, size int) ([]*TelemetryRecord, error)
	FindTelemetryByType(ctx context.Context, dataType string) ([]*TelemetryRecord, error)
	FindLatestTelemetry(ctx context.Context, deviceID string, limit int) ([]*TelemetryRecord, error)
	CountTelemetrySince(ctx context.Context, deviceID string, since time.Time) (int64, error)
	ListUnforwardedTelemetry(ctx context.Context, limit int) ([]*TelemetryRecord, error)

	// Device catalog operations
	CreateDeviceRegistration(ctx context.Context, device *DeviceRegistration) error
	UpdateDeviceRegistration(ctx context.Context, device *DeviceRegistration) error
	DeleteDeviceRegistration(ctx context.Context, deviceID string) error
	GetDeviceRegistration(ctx context.Context, deviceID string) (*DeviceRegistration, error)
	DeviceRegistrationExists(ctx context.Context, deviceID string) (bool, error)
	ListDeviceRegistrations(ctx context.Context, filter DeviceRegistrationFilter) ([]*DeviceRegistration, error)

	// Subscription operations
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, id uint) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uint) (*Subscription, error)
	ListAccountSubscriptions(ctx context.Context, accountID uint) ([]*Subscription, error)
	CreateTank(ctx context.Context, tank *Tank) error
	UpdateTank(ctx context.Context, tank *Tank) error
	GetTank(ctx context.Context, id uint) (*Tank, error)
	ListAccountTanks(ctx context.Context, accountID uint) ([]*Tank, error)

	// Transaction support
	WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error
}

// DeviceRegistrationFilter narrows device catalog listings. Zero values are
// ignored.
type DeviceRegistrationFilter struct {
	TenantID   string
	DeviceType string
	Status     string
}

type repository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm handle in the Repository interface.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTransaction(ctx context.Context, fn func(c context.Context, repo Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepository(tx))
	})
}

// --- Account operations ---

func (r *repository) CreateAccount(ctx context.Context, a *Account) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *repository) UpdateAccount(ctx context.Context, a *Account) error {
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *repository) DeleteAccount(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Select("Devices").Delete(&Account{ID: id}).Error
}

func (r *repository) GetAccount(ctx context.Context, id uint) (*Account, error) {
	var a Account
	return &a, r.db.WithContext(ctx).First(&a, id).Error
}

// GetAccountForUpdate loads an account holding a row lock until the
// enclosing transaction ends. Callers serialize per-account writes on it.
func (r *repository) GetAccountForUpdate(ctx context.Context, id uint) (*Account, error) {
	var a Account
	return &a, r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error
}

func (r *repository) GetAccountWithDevices(ctx context.Context, id uint) (*Account, error) {
	var a Account
	return &a, r.db.WithContext(ctx).Preload("Devices").First(&a, id).Error
}

func (r *repository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	return &a, r.db.WithContext(ctx).Where("email = ?", email).First(&a).Error
}

func (r *repository) AccountEmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (r *repository) ListAccountsByRoles(ctx context.Context, roles []string) ([]*Account, error) {
	var accounts []*Account
	return accounts, r.db.WithContext(ctx).Preload("Devices").
		Where("role IN ?", roles).Find(&accounts).Error
}

func (r *repository) UpdateAccountLastLogin(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Update("last_login_date", time.Now()).Error
}

// --- Account device operations ---

func (r *repository) CreateAccountDevice(ctx context.Context, d *AccountDevice) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *repository) UpdateAccountDevice(ctx context.Context, d *AccountDevice) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *repository) DeleteAccountDevice(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&AccountDevice{}, id).Error
}

func (r *repository) GetAccountDevice(ctx context.Context, accountID, deviceID uint) (*AccountDevice, error) {
	var d AccountDevice
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, deviceID).First(&d).Error
	return &d, err
}

func (r *repository) ListAccountDevices(ctx context.Context, accountID uint) ([]*AccountDevice, error) {
	var devices []*AccountDevice
	return devices, r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&devices).Error
}

func (r *repository) CountAccountDevices(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AccountDevice{}).
		Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}

func (r *repository) ClearPrimaryDevices(ctx context.Context, accountID uint, exceptID uint) error {
	q := r.db.WithContext(ctx).Model(&AccountDevice{}).
		Where("account_id = ? AND is_primary = ?", accountID, true)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	return q.Update("is_primary", false).Error
}

// --- Password reset token operations ---

func (r *repository) CreateResetToken(ctx context.Context, t *PasswordResetToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) UpdateResetToken(ctx context.Context, t *PasswordResetToken) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *repository) DeleteResetTokensByEmail(ctx context.Context, email string) error {
	return r.db.WithContext(ctx).Where("email = ?", email).Delete(&PasswordResetToken{}).Error
}

func (r *repository) GetUnusedResetToken(ctx context.Context, email string, otp int) (*PasswordResetToken, error) {
	var t PasswordResetToken
	err := r.db.WithContext(ctx).
		Where("email = ? AND otp = ? AND used = ?", email, otp, false).First(&t).Error
	return &t, err
}

// --- Telemetry operations ---

func (r *repository) SaveTelemetry(ctx context.Context, rec *TelemetryRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repository) SaveTelemetryBatch(ctx context.Context, records []*TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

func (r *repository) MarkTelemetryForwarded(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&TelemetryRecord{}).Where("id = ?", id).
		Update("forwarded", true).Error
}

func (r *repository) FindTelemetryByDeviceAndRange(ctx context.Context, deviceID string, start, end time.Time) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	return records, r.db.WithContext(ctx).
		Where("device_id = ? AND timestamp BETWEEN ? AND ?", deviceID, start, end).
		Order("timestamp DESC").Find(&records).Error
}

func (r *repository) FindTelemetryByDevice(ctx context.Context, deviceID string, page, size int) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	return records, r.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("timestamp DESC").Offset(page * size).Limit(size).Find(&records).Error
}

func (r *repository) FindTelemetryByTenant(ctx context.Context, tenantID string, page, size int) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	return records, r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").Offset(page * size).Limit(size).Find(&records).Error
}

func (r *repository) FindTelemetryByType(ctx context.Context, dataType string) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	return records, r.db.WithContext(ctx).Where("data_type = ?", dataType).
		Order("timestamp DESC").Find(&records).Error
}

func (r *repository) FindLatestTelemetry(ctx context.Context, deviceID string, limit int) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	return records, r.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("timestamp DESC").Limit(limit).Find(&records).Error
}

func (r *repository) CountTelemetrySince(ctx context.Context, deviceID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&TelemetryRecord{}).
		Where("device_id = ? AND timestamp >= ?", deviceID, since).Count(&count).Error
	return count, err
}

func (r *repository) ListUnforwardedTelemetry(ctx context.Context, limit int) ([]*TelemetryRecord, error) {
	var records []*TelemetryRecord
	q := r.db.WithContext(ctx).Where("forwarded = ?", false).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return records, q.Find(&records).Error
}

// --- Device catalog operations ---

func (r *repository) CreateDeviceRegistration(ctx context.Context, d *DeviceRegistration) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *repository) UpdateDeviceRegistration(ctx context.Context, d *DeviceRegistration) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *repository) DeleteDeviceRegistration(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&DeviceRegistration{}).Error
}

func (r *repository) GetDeviceRegistration(ctx context.Context, deviceID string) (*DeviceRegistration, error) {
	var d DeviceRegistration
	return &d, r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
}

func (r *repository) DeviceRegistrationExists(ctx context.Context, deviceID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DeviceRegistration{}).
		Where("device_id = ?", deviceID).Count(&count).Error
	return count > 0, err
}

func (r *repository) ListDeviceRegistrations(ctx context.Context, filter DeviceRegistrationFilter) ([]*DeviceRegistration, error) {
	var devices []*DeviceRegistration
	q := r.db.WithContext(ctx)
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.DeviceType != "" {
		q = q.Where("device_type = ?", filter.DeviceType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	return devices, q.Find(&devices).Error
}

// --- Subscription operations ---

func (r *repository) CreatePlan(ctx context.Context, p *Plan) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) GetPlan(ctx context.Context, id uint) (*Plan, error) {
	var p Plan
	return &p, r.db.WithContext(ctx).First(&p, id).Error
}

func (r *repository) ListPlans(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	return plans, r.db.WithContext(ctx).Find(&plans).Error
}

func (r *repository) CreateSubscription(ctx context.Context, s *Subscription) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, s *Subscription) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *repository) GetSubscription(ctx context.Context, id uint) (*Subscription, error) {
	var s Subscription
	return &s, r.db.WithContext(ctx).Preload("Plan").First(&s, id).Error
}

func (r *repository) ListAccountSubscriptions(ctx context.Context, accountID uint) ([]*Subscription, error) {
	var subs []*Subscription
	return subs, r.db.WithContext(ctx).Preload("Plan").
		Where("account_id = ?", accountID).Find(&subs).Error
}

func (r *repository) CreateTank(ctx context.Context, t *Tank) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) UpdateTank(ctx context.Context, t *Tank) error {
	return r.db.WithContext(ctx).Save(t).Error
}

func (r *repository) GetTank(ctx context.Context, id uint) (*Tank, error) {
	var t Tank
	return &t, r.db.WithContext(ctx).First(&t, id).Error
}

func (r *repository) ListAccountTanks(ctx context.Context, accountID uint) ([]*Tank, error) {
	var tanks []*Tank
	return tanks, r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&tanks).Error
}
