// services/iotcore/internal/core/account_service.go
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateAccountRequest creates a managed account (typically a secondary
// user) with a system-generated password and an initial device binding.
type CreateAccountRequest struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone" binding:"required"`
	Role        string `json:"role"`
	AccessLevel string `json:"access_level"`
	Address     string `json:"address"`
	DeviceID    string `json:"device_id"`
	Saviour     string `json:"saviour"`
	DeviceSimNo string `json:"device_sim_no"`
}

// UpdateAccountRequest carries the mutable account fields. Nil pointers
// leave the stored value untouched.
type UpdateAccountRequest struct {
	Name           *string `json:"name"`
	Phone          *string `json:"phone"`
	Address        *string `json:"address"`
	AccessLevel    *string `json:"access_level"`
	Status         *string `json:"status"`
	SecondaryQuota *int    `json:"no_of_sec_users"`
}

// DeviceRequest binds or updates a device on an account.
type DeviceRequest struct {
	DeviceID    string `json:"device_id" binding:"required"`
	Saviour     string `json:"saviour"`
	DeviceSimNo string `json:"device_sim_no"`
	HouseType   string `json:"house_type"`
	SensorType  string `json:"sensor_type"`
	OS          string `json:"os"`
	Browser     string `json:"browser"`
	IsPrimary   bool   `json:"is_primary"`
}

// PasswordFunc produces a generated password for managed accounts.
type PasswordFunc func() (string, error)

// AccountService manages account records and their device bindings.
type AccountService struct {
	repo     Repository
	signer   PasswordSigner
	idgen    IDGenerator
	mailer   Mailer
	genPass  PasswordFunc
	logger   *logrus.Logger
	tenantID string
}

// NewAccountService creates the account management service.
func NewAccountService(repo Repository, signer PasswordSigner, idgen IDGenerator,
	mailer Mailer, genPass PasswordFunc, logger *logrus.Logger, tenantID string) *AccountService {
	return &AccountService{
		repo:     repo,
		signer:   signer,
		idgen:    idgen,
		mailer:   mailer,
		genPass:  genPass,
		logger:   logger,
		tenantID: tenantID,
	}
}

// Get loads an account with its devices, subject to the requester's rights.
func (s *AccountService) Get(ctx context.Context, claims *Claims, id uint) (*Account, error) {
	account, err := s.repo.GetAccountWithDevices(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := Authorize(claims, account); err != nil {
		return nil, err
	}
	return account, nil
}

// List returns the accounts visible to the requester's role.
func (s *AccountService) List(ctx context.Context, claims *Claims) ([]*Account, error) {
	if claims == nil {
		return nil, ErrForbidden
	}
	return s.repo.ListAccountsByRoles(ctx, ListableRoles(claims.Role))
}

// Create provisions a managed account with a generated password and, when a
// device id is supplied, an initial primary device binding. The generated
// password is delivered by mail only; it is never returned to the caller.
func (s *AccountService) Create(ctx context.Context, claims *Claims, req CreateAccountRequest) (*Account, error) {
	if claims == nil || claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}

	exists, err := s.repo.AccountEmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	plain, err := s.genPass()
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	encoded, err := s.encodePassword(ctx, plain)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = RoleSecondaryUser
	}
	access := req.AccessLevel
	if access == "" {
		access = AccessLimited
	}

	account := &Account{
		AccountCode: s.nextCode(ctx),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    encoded,
		Role:        role,
		AccessLevel: access,
		Status:      StatusActive,
		Address:     req.Address,
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		if req.DeviceID == "" {
			return nil
		}
		return tx.CreateAccountDevice(ctx, &AccountDevice{
			AccountID:   account.ID,
			DeviceID:    req.DeviceID,
			Saviour:     req.Saviour,
			DeviceSimNo: req.DeviceSimNo,
			IsPrimary:   true,
			Status:      StatusActive,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	go func(to, name, password string) {
		if err := s.mailer.SendWelcome(to, name, password); err != nil {
			s.logger.WithError(err).WithField("email", to).Error("Failed to send welcome mail")
		}
	}(account.Email, account.Name, plain)

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"role":       account.Role,
		"created_by": claims.AccountID,
	}).Info("Account created")

	return account, nil
}

// Update applies partial changes to an account.
func (s *AccountService) Update(ctx context.Context, claims *Claims, id uint, req UpdateAccountRequest) (*Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := Authorize(claims, account); err != nil {
		return nil, err
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.Phone != nil {
		account.Phone = *req.Phone
	}
	if req.Address != nil {
		account.Address = *req.Address
	}
	if req.AccessLevel != nil {
		account.AccessLevel = *req.AccessLevel
	}
	if req.Status != nil {
		account.Status = *req.Status
	}
	if req.SecondaryQuota != nil {
		account.SecondaryQuota = *req.SecondaryQuota
	}

	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.WithField("account_id", account.ID).Info("Account updated")
	return account, nil
}

// Delete removes an account and all its device bindings.
func (s *AccountService) Delete(ctx context.Context, claims *Claims, id uint) error {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := Authorize(claims, account); err != nil {
		return err
	}

	if err := s.repo.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("account_id", id).Info("Account deleted")
	return nil
}

// AddDevice binds a device to an account. Binding as primary demotes any
// existing primary in the same transaction so at most one survives.
func (s *AccountService) AddDevice(ctx context.Context, claims *Claims, accountID uint, req DeviceRequest) (*AccountDevice, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := Authorize(claims, account); err != nil {
		return nil, err
	}

	device := &AccountDevice{
		AccountID:   accountID,
		DeviceID:    req.DeviceID,
		Saviour:     req.Saviour,
		DeviceSimNo: req.DeviceSimNo,
		HouseType:   req.HouseType,
		SensorType:  req.SensorType,
		OS:          req.OS,
		Browser:     req.Browser,
		IsPrimary:   req.IsPrimary,
		Status:      StatusActive,
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		// Lock the account row so concurrent primary changes serialize.
		if _, err := tx.GetAccountForUpdate(ctx, accountID); err != nil {
			return err
		}
		if err := tx.CreateAccountDevice(ctx, device); err != nil {
			return err
		}
		if !device.IsPrimary {
			return nil
		}
		return tx.ClearPrimaryDevices(ctx, accountID, device.ID)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDeviceAlreadyExists
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  device.DeviceID,
		"is_primary": device.IsPrimary,
	}).Info("Device bound to account")

	return device, nil
}

// UpdateDevice edits a device binding, keeping the single-primary invariant.
func (s *AccountService) UpdateDevice(ctx context.Context, claims *Claims, accountID, deviceID uint, req DeviceRequest) (*AccountDevice, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := Authorize(claims, account); err != nil {
		return nil, err
	}

	device, err := s.repo.GetAccountDevice(ctx, accountID, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	device.Saviour = req.Saviour
	device.DeviceSimNo = req.DeviceSimNo
	device.HouseType = req.HouseType
	device.SensorType = req.SensorType
	device.OS = req.OS
	device.Browser = req.Browser
	device.IsPrimary = req.IsPrimary

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		// Same account row lock as AddDevice; keeps at most one primary.
		if _, err := tx.GetAccountForUpdate(ctx, accountID); err != nil {
			return err
		}
		if err := tx.UpdateAccountDevice(ctx, device); err != nil {
			return err
		}
		if !device.IsPrimary {
			return nil
		}
		return tx.ClearPrimaryDevices(ctx, accountID, device.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  device.DeviceID,
	}).Info("Device binding updated")

	return device, nil
}

// DeleteDevice unbinds a device. The last device on an account cannot be
// removed; delete the account instead.
func (s *AccountService) DeleteDevice(ctx context.Context, claims *Claims, accountID, deviceID uint) error {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := Authorize(claims, account); err != nil {
		return err
	}

	device, err := s.repo.GetAccountDevice(ctx, accountID, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	count, err := s.repo.CountAccountDevices(ctx, accountID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastDevice
	}

	if err := s.repo.DeleteAccountDevice(ctx, device.ID); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  device.DeviceID,
	}).Info("Device unbound from account")
	return nil
}

// ListDevices returns the device bindings of an account.
func (s *AccountService) ListDevices(ctx context.Context, claims *Claims, accountID uint) ([]*AccountDevice, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := Authorize(claims, account); err != nil {
		return nil, err
	}
	return s.repo.ListAccountDevices(ctx, accountID)
}

func (s *AccountService) encodePassword(ctx context.Context, password string) (string, error) {
	signature, err := s.signer.Sign(ctx, password)
	if err == nil && signature != "" {
		return NewSignedCredential(signature).Encode(), nil
	}
	if err != nil {
		s.logger.WithError(err).Warn("Signing authority unavailable, falling back to bcrypt")
	}
	cred, err := NewLegacyCredential(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return cred.Encode(), nil
}

func (s *AccountService) nextCode(ctx context.Context) string {
	code, err := s.idgen.Next(ctx, s.tenantID, "user.id")
	if err != nil || code == "" {
		s.logger.WithError(err).Warn("ID generator unavailable, using local id")
		return localCode("USER")
	}
	return code
}
