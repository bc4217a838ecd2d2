// services/iotcore/internal/core/registry_service.go
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeviceCache is the read-through cache in front of the device catalog.
type DeviceCache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// RegistryRequest creates or updates a device catalog entry.
type RegistryRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	DeviceName string `json:"device_name" binding:"required"`
	DeviceType string `json:"device_type"`
	Location   string `json:"location"`
	Status     string `json:"status"`
	Metadata   string `json:"metadata"`
}

// RegistryService manages the tenant-scoped device catalog with a
// read-through cache on lookups by device id.
type RegistryService struct {
	repo     Repository
	cache    DeviceCache
	logger   *logrus.Logger
	tenantID string
}

// NewRegistryService creates the device catalog service. The cache may be
// nil; lookups then always hit the database.
func NewRegistryService(repo Repository, cache DeviceCache, logger *logrus.Logger, tenantID string) *RegistryService {
	return &RegistryService{
		repo:     repo,
		cache:    cache,
		logger:   logger,
		tenantID: tenantID,
	}
}

// Register adds a device to the catalog.
func (s *RegistryService) Register(ctx context.Context, actor string, req RegistryRequest) (*DeviceRegistration, error) {
	exists, err := s.repo.DeviceRegistrationExists(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDeviceAlreadyExists
	}

	status := req.Status
	if status == "" {
		status = DeviceStatusActive
	}

	device := &DeviceRegistration{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		DeviceType: req.DeviceType,
		Location:   req.Location,
		Status:     status,
		TenantID:   s.tenantID,
		Metadata:   req.Metadata,
		CreatedBy:  actor,
		UpdatedBy:  actor,
	}

	if err := s.repo.CreateDeviceRegistration(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	s.cacheDevice(ctx, device)
	s.logger.WithFields(logrus.Fields{
		"device_id":   device.DeviceID,
		"device_type": device.DeviceType,
	}).Info("Device registered")

	return device, nil
}

// Get looks up a catalog entry, trying the cache first.
func (s *RegistryService) Get(ctx context.Context, deviceID string) (*DeviceRegistration, error) {
	if cached, err := s.getCachedDevice(ctx, deviceID); err == nil && cached != nil {
		return cached, nil
	}

	device, err := s.repo.GetDeviceRegistration(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	s.cacheDevice(ctx, device)
	return device, nil
}

// List returns catalog entries matching the filter.
func (s *RegistryService) List(ctx context.Context, filter DeviceRegistrationFilter) ([]*DeviceRegistration, error) {
	if filter.TenantID == "" {
		filter.TenantID = s.tenantID
	}
	return s.repo.ListDeviceRegistrations(ctx, filter)
}

// Update edits a catalog entry and refreshes the cache.
func (s *RegistryService) Update(ctx context.Context, actor string, req RegistryRequest) (*DeviceRegistration, error) {
	device, err := s.repo.GetDeviceRegistration(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if req.DeviceName != "" {
		device.DeviceName = req.DeviceName
	}
	if req.DeviceType != "" {
		device.DeviceType = req.DeviceType
	}
	if req.Location != "" {
		device.Location = req.Location
	}
	if req.Status != "" {
		device.Status = req.Status
	}
	if req.Metadata != "" {
		device.Metadata = req.Metadata
	}
	device.UpdatedBy = actor

	if err := s.repo.UpdateDeviceRegistration(ctx, device); err != nil {
		return nil, err
	}

	s.cacheDevice(ctx, device)
	s.logger.WithField("device_id", device.DeviceID).Info("Device registration updated")
	return device, nil
}

// Deactivate marks a device INACTIVE without removing its history.
func (s *RegistryService) Deactivate(ctx context.Context, actor, deviceID string) error {
	_, err := s.Update(ctx, actor, RegistryRequest{
		DeviceID: deviceID,
		Status:   DeviceStatusInactive,
	})
	return err
}

// Delete removes a catalog entry and evicts it from the cache.
func (s *RegistryService) Delete(ctx context.Context, deviceID string) error {
	exists, err := s.repo.DeviceRegistrationExists(ctx, deviceID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrDeviceNotFound
	}

	if err := s.repo.DeleteDeviceRegistration(ctx, deviceID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, deviceKey(deviceID)); err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).
				Warn("Failed to evict device from cache")
		}
	}

	s.logger.WithField("device_id", deviceID).Info("Device registration deleted")
	return nil
}

func (s *RegistryService) cacheDevice(ctx context.Context, device *DeviceRegistration) {
	if s.cache == nil {
		return
	}
	data, _ := json.Marshal(device)
	if err := s.cache.Set(ctx, deviceKey(device.DeviceID), string(data), 24*time.Hour); err != nil {
		s.logger.WithError(err).WithField("device_id", device.DeviceID).
			Warn("Failed to cache device")
	}
}

func (s *RegistryService) getCachedDevice(ctx context.Context, deviceID string) (*DeviceRegistration, error) {
	if s.cache == nil {
		return nil, errors.New("cache not available")
	}

	data, err := s.cache.Get(ctx, deviceKey(deviceID))
	if err != nil {
		return nil, err
	}

	var device DeviceRegistration
	if err := json.Unmarshal([]byte(data), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}
