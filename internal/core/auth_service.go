// services/iotcore/internal/core/auth_service.go
package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// otpValidity is the lifetime of a password reset OTP.
const otpValidity = 15 * time.Minute

// RegisterRequest carries the fields needed to create an account.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
	Address  string `json:"address"`
}

// AuthService owns the password credential lifecycle: login verification,
// registration, and OTP-based password reset.
type AuthService struct {
	repo     Repository
	tokens   *TokenService
	signer   PasswordSigner
	registry RoleRegistry
	idgen    IDGenerator
	mailer   Mailer
	logger   *logrus.Logger
	tenantID string
}

// NewAuthService wires the credential store with its collaborators.
func NewAuthService(repo Repository, tokens *TokenService, signer PasswordSigner,
	registry RoleRegistry, idgen IDGenerator, mailer Mailer,
	logger *logrus.Logger, tenantID string) *AuthService {
	return &AuthService{
		repo:     repo,
		tokens:   tokens,
		signer:   signer,
		registry: registry,
		idgen:    idgen,
		mailer:   mailer,
		logger:   logger,
		tenantID: tenantID,
	}
}

// Login verifies credentials and returns the account plus a session token.
// A missing account and a wrong password are indistinguishable to the
// caller; the signing authority being down is not.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Account, string, error) {
	account, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := s.verifyCredential(ctx, account, password); err != nil {
		s.logger.WithField("email", email).Warn("Login failed")
		return nil, "", err
	}

	if account.Status != StatusActive {
		s.logger.WithField("email", email).Warn("Inactive account login attempt")
		return nil, "", ErrAccountInactive
	}

	if err := s.repo.UpdateAccountLastLogin(ctx, account.ID); err != nil {
		return nil, "", err
	}
	now := time.Now()
	account.LastLoginDate = &now

	token, err := s.tokens.Issue(account)
	if err != nil {
		return nil, "", err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"role":       account.Role,
	}).Info("Login successful")

	return account, token, nil
}

func (s *AuthService) verifyCredential(ctx context.Context, account *Account, password string) error {
	cred := ParseCredential(account.Password)

	switch cred.Mode {
	case CredentialSigned:
		ok, err := s.signer.Verify(ctx, password, cred.Signature)
		if err != nil {
			// Fail closed: a signer outage must not let anyone in, but the
			// caller can tell it apart from bad credentials.
			s.logger.WithError(err).Error("Signing authority unreachable during login")
			return ErrServiceUnavailable
		}
		if !ok {
			return ErrInvalidCredentials
		}
		return nil
	default:
		if !cred.VerifyLegacy(password) {
			return ErrInvalidCredentials
		}
		return nil
	}
}

// Register creates a new account with the preferred credential mode.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	exists, err := s.repo.AccountEmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	role := req.Role
	if role == "" {
		role = RoleUser
	}
	if err := s.validateRole(ctx, role); err != nil {
		return nil, err
	}

	encoded, err := s.encodePreferred(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	account := &Account{
		AccountCode:    s.nextCode(ctx, "user.id", "USER"),
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Password:       encoded,
		Role:           role,
		AccessLevel:    AccessLimited,
		Status:         StatusActive,
		SecondaryQuota: 3,
		Address:        req.Address,
	}

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Fire-and-forget: mail failure never rolls back the registration.
	go func(to, name string) {
		if err := s.mailer.SendWelcome(to, name, ""); err != nil {
			s.logger.WithError(err).WithField("email", to).Error("Failed to send welcome mail")
		}
	}(account.Email, account.Name)

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"role":       account.Role,
	}).Info("Account registered")

	return account, nil
}

// ForgotPassword invalidates prior tokens for the email and issues a fresh
// 6-digit OTP valid for 15 minutes.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if _, err := s.repo.GetAccountByEmail(ctx, email); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	otp, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate OTP: %w", err)
	}

	now := time.Now()
	token := &PasswordResetToken{
		Email:      email,
		OTP:        otp,
		ExpiryDate: now.Add(otpValidity),
		Used:       false,
		CreatedAt:  now,
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.DeleteResetTokensByEmail(ctx, email); err != nil {
			return err
		}
		return tx.CreateResetToken(ctx, token)
	})
	if err != nil {
		return err
	}

	go func(to string, otp int) {
		if err := s.mailer.SendPasswordResetOTP(to, otp); err != nil {
			s.logger.WithError(err).WithField("email", to).Error("Failed to send OTP mail")
		}
	}(email, otp)

	s.logger.WithField("email", email).Info("Password reset OTP issued")
	return nil
}

// ResetPassword consumes an OTP and rotates the password. The token update
// and the password update commit atomically.
func (s *AuthService) ResetPassword(ctx context.Context, email string, otp int, newPassword string) error {
	return s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		token, err := tx.GetUnusedResetToken(ctx, email, otp)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidOTP
			}
			return err
		}

		if token.Expired(time.Now()) {
			s.logger.WithField("email", email).Warn("Expired OTP used")
			return ErrOTPExpired
		}

		account, err := tx.GetAccountByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}

		encoded, err := s.encodePreferred(ctx, newPassword)
		if err != nil {
			return err
		}

		account.Password = encoded
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		token.Used = true
		if err := tx.UpdateResetToken(ctx, token); err != nil {
			return err
		}

		s.logger.WithField("account_id", account.ID).Info("Password reset completed")
		return nil
	})
}

// encodePreferred stores the password in the preferred credential mode:
// signed when the signing authority is reachable, bcrypt otherwise.
func (s *AuthService) encodePreferred(ctx context.Context, password string) (string, error) {
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

// validateRole checks the role against the registry, falling back to the
// fixed default set when the registry is unreachable.
func (s *AuthService) validateRole(ctx context.Context, role string) error {
	valid, err := s.registry.Roles(ctx, s.tenantID)
	if err != nil || len(valid) == 0 {
		if err != nil {
			s.logger.WithError(err).Warn("Role registry unavailable, using default role set")
		}
		valid = DefaultRoles
	}

	for _, r := range valid {
		if r == role {
			return nil
		}
	}
	return ErrInvalidRole
}

// nextCode fetches a human-readable id, with a local fallback when the
// generator is down.
func (s *AuthService) nextCode(ctx context.Context, kind, prefix string) string {
	code, err := s.idgen.Next(ctx, s.tenantID, kind)
	if err != nil || code == "" {
		fallback := localCode(prefix)
		s.logger.WithError(err).WithField("fallback", fallback).
			Warn("ID generator unavailable, using local id")
		return fallback
	}
	return code
}

// localCode is the fallback id format when the generator is unreachable.
func localCode(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// generateOTP draws a uniform 6-digit code from crypto/rand.
func generateOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return 100000 + int(n.Int64()), nil
}
