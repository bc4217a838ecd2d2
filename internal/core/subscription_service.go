// services/iotcore/internal/core/subscription_service.go
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubscribeRequest binds a device to a plan for an account.
type SubscribeRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	PlanID   uint   `json:"plan_id" binding:"required"`
	Quantity int    `json:"quantity"`
}

// TankRequest creates or updates tank thresholds for a device.
type TankRequest struct {
	DeviceID        string  `json:"device_id" binding:"required"`
	SaviourName     string  `json:"saviour_name"`
	SaviourCapacity float64 `json:"saviour_capacity"`
	UpperThreshold  float64 `json:"upper_threshold"`
	LowerThreshold  float64 `json:"lower_threshold"`
	SaviourHeight   float64 `json:"saviour_height"`
}

// SubscriptionService manages plans, subscriptions, and tank settings.
type SubscriptionService struct {
	repo     Repository
	idgen    IDGenerator
	logger   *logrus.Logger
	tenantID string
}

// NewSubscriptionService creates the subscription service.
func NewSubscriptionService(repo Repository, idgen IDGenerator, logger *logrus.Logger, tenantID string) *SubscriptionService {
	return &SubscriptionService{
		repo:     repo,
		idgen:    idgen,
		logger:   logger,
		tenantID: tenantID,
	}
}

// ListPlans returns the plan catalog.
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListPlans(ctx)
}

// CreatePlan adds a plan to the catalog. Admin only.
func (s *SubscriptionService) CreatePlan(ctx context.Context, claims *Claims, plan *Plan) error {
	if claims == nil || claims.Role != RoleAdmin {
		return ErrForbidden
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	s.logger.WithField("plan", plan.Plan).Info("Plan created")
	return nil
}

// Subscribe creates an active subscription for the requester's account.
// The period and amount come from the plan; the start date is now.
func (s *SubscriptionService) Subscribe(ctx context.Context, claims *Claims, req SubscribeRequest) (*Subscription, error) {
	if claims == nil {
		return nil, ErrForbidden
	}

	plan, err := s.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	now := time.Now()
	sub := &Subscription{
		SubscriptionCode: s.nextCode(ctx),
		AccountID:        claims.AccountID,
		DeviceID:         req.DeviceID,
		PlanID:           plan.ID,
		Period:           plan.Period,
		Quantity:         quantity,
		StartDate:        &now,
		Amount:           plan.Amount * float64(quantity),
		Status:           StatusActive,
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": sub.AccountID,
		"device_id":  sub.DeviceID,
		"plan_id":    sub.PlanID,
	}).Info("Subscription created")

	sub.Plan = *plan
	return sub, nil
}

// ListSubscriptions returns an account's subscriptions with their plans.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, claims *Claims, accountID uint) ([]*Subscription, error) {
	if claims == nil {
		return nil, ErrForbidden
	}
	if claims.Role != RoleAdmin && claims.AccountID != accountID {
		return nil, ErrForbidden
	}
	return s.repo.ListAccountSubscriptions(ctx, accountID)
}

// Cancel ends a subscription, stamping the end date.
func (s *SubscriptionService) Cancel(ctx context.Context, claims *Claims, id uint) error {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	if claims == nil || (claims.Role != RoleAdmin && claims.AccountID != sub.AccountID) {
		return ErrForbidden
	}

	now := time.Now()
	sub.Status = StatusInactive
	sub.EndDate = &now

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.WithField("subscription_id", id).Info("Subscription cancelled")
	return nil
}

// SaveTank creates or updates tank thresholds for the requester's device.
func (s *SubscriptionService) SaveTank(ctx context.Context, claims *Claims, tankID uint, req TankRequest) (*Tank, error) {
	if claims == nil {
		return nil, ErrForbidden
	}

	var tank *Tank
	if tankID > 0 {
		existing, err := s.repo.GetTank(ctx, tankID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTankNotFound
			}
			return nil, err
		}
		if claims.Role != RoleAdmin && claims.AccountID != existing.AccountID {
			return nil, ErrForbidden
		}
		tank = existing
	} else {
		tank = &Tank{AccountID: claims.AccountID}
	}

	tank.DeviceID = req.DeviceID
	tank.SaviourName = req.SaviourName
	tank.SaviourCapacity = req.SaviourCapacity
	tank.UpperThreshold = req.UpperThreshold
	tank.LowerThreshold = req.LowerThreshold
	tank.SaviourHeight = req.SaviourHeight

	var err error
	if tank.ID == 0 {
		err = s.repo.CreateTank(ctx, tank)
	} else {
		err = s.repo.UpdateTank(ctx, tank)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save tank: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tank_id":   tank.ID,
		"device_id": tank.DeviceID,
	}).Info("Tank settings saved")
	return tank, nil
}

// ListTanks returns an account's tanks.
func (s *SubscriptionService) ListTanks(ctx context.Context, claims *Claims, accountID uint) ([]*Tank, error) {
	if claims == nil {
		return nil, ErrForbidden
	}
	if claims.Role != RoleAdmin && claims.AccountID != accountID {
		return nil, ErrForbidden
	}
	return s.repo.ListAccountTanks(ctx, accountID)
}

func (s *SubscriptionService) nextCode(ctx context.Context) string {
	code, err := s.idgen.Next(ctx, s.tenantID, "subscription.id")
	if err != nil || code == "" {
		s.logger.WithError(err).Warn("ID generator unavailable, using local id")
		return localCode("SUB")
	}
	return code
}
