package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"example.com/backstage/services/iotcore/internal/core"
	"github.com/gin-gonic/gin"
)

// APIHandlers holds all HTTP handlers
type APIHandlers struct {
	services *core.Services
}

// NewAPIHandlers creates a new handler instance
func NewAPIHandlers(services *core.Services) *APIHandlers {
	return &APIHandlers{services: services}
}

// HealthCheck returns service health status
func (h *APIHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "iotcore-api",
	})
}

// respondError maps business errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrTokenInvalid),
		errors.Is(err, core.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrAccountInactive),
		errors.Is(err, core.ErrForbidden),
		errors.Is(err, core.ErrLastDevice):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrDeviceNotFound),
		errors.Is(err, core.ErrPlanNotFound),
		errors.Is(err, core.ErrSubscriptionNotFound),
		errors.Is(err, core.ErrTankNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDuplicateEmail),
		errors.Is(err, core.ErrDeviceAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidRole),
		errors.Is(err, core.ErrInvalidOTP),
		errors.Is(err, core.ErrOTPExpired),
		errors.Is(err, core.ErrMissingFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// --- Auth Endpoints ---

// Login authenticates credentials and issues a session token.
func (h *APIHandlers) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	account, token, err := h.services.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  account,
	})
}

// Register creates a self-service account.
func (h *APIHandlers) Register(c *gin.Context) {
	var req core.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	account, err := h.services.Auth.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// ForgotPassword issues a reset OTP by mail.
func (h *APIHandlers) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if err := h.services.Auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reset code sent"})
}

// ResetPassword consumes an OTP and sets a new password.
func (h *APIHandlers) ResetPassword(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		OTP         int    `json:"otp" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if err := h.services.Auth.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// --- Account Endpoints ---

// ListAccounts returns accounts visible to the requester.
func (h *APIHandlers) ListAccounts(c *gin.Context) {
	accounts, err := h.services.Accounts.List(c.Request.Context(), ClaimsFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": accounts,
		"count": len(accounts),
	})
}

// CreateAccount provisions a managed account.
func (h *APIHandlers) CreateAccount(c *gin.Context) {
	var req core.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	account, err := h.services.Accounts.Create(c.Request.Context(), ClaimsFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// GetAccount retrieves an account with its devices.
func (h *APIHandlers) GetAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	account, err := h.services.Accounts.Get(c.Request.Context(), ClaimsFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// UpdateAccount applies partial account changes.
func (h *APIHandlers) UpdateAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req core.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	account, err := h.services.Accounts.Update(c.Request.Context(), ClaimsFromContext(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// DeleteAccount removes an account and its device bindings.
func (h *APIHandlers) DeleteAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.services.Accounts.Delete(c.Request.Context(), ClaimsFromContext(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// ListAccountDevices returns an account's device bindings.
func (h *APIHandlers) ListAccountDevices(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	devices, err := h.services.Accounts.ListDevices(c.Request.Context(), ClaimsFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// AddAccountDevice binds a device to an account.
func (h *APIHandlers) AddAccountDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req core.DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	device, err := h.services.Accounts.AddDevice(c.Request.Context(), ClaimsFromContext(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, device)
}

// UpdateAccountDevice edits a device binding.
func (h *APIHandlers) UpdateAccountDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "deviceId")
	if !ok {
		return
	}

	var req core.DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	device, err := h.services.Accounts.UpdateDevice(c.Request.Context(), ClaimsFromContext(c), id, deviceID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// DeleteAccountDevice unbinds a device from an account.
func (h *APIHandlers) DeleteAccountDevice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deviceID, ok := pathID(c, "deviceId")
	if !ok {
		return
	}

	if err := h.services.Accounts.DeleteDevice(c.Request.Context(), ClaimsFromContext(c), id, deviceID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "device removed"})
}

// --- Telemetry Endpoints ---

// IngestTelemetry stores a single telemetry point.
func (h *APIHandlers) IngestTelemetry(c *gin.Context) {
	var req core.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry format", "details": err.Error()})
		return
	}

	record, err := h.services.Telemetry.Ingest(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// IngestTelemetryBatch stores a batch of telemetry points atomically.
func (h *APIHandlers) IngestTelemetryBatch(c *gin.Context) {
	var req struct {
		Records []core.IngestRequest `json:"records" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch format"})
		return
	}

	if len(req.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	records, err := h.services.Telemetry.IngestBatch(c.Request.Context(), req.Records)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"count":  len(records),
		"status": "created",
	})
}

// SearchTelemetry runs a filtered telemetry query from query parameters.
func (h *APIHandlers) SearchTelemetry(c *gin.Context) {
	var q core.TelemetrySearch
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search parameters", "details": err.Error()})
		return
	}

	records, err := h.services.Telemetry.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// LatestTelemetry returns the newest points for a device.
func (h *APIHandlers) LatestTelemetry(c *gin.Context) {
	deviceID := c.Query("device_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1"))

	records, err := h.services.Telemetry.Latest(c.Request.Context(), deviceID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// TelemetryStats reports a device's point count since an instant.
func (h *APIHandlers) TelemetryStats(c *gin.Context) {
	deviceID := c.Query("device_id")

	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	count, err := h.services.Telemetry.CountSince(c.Request.Context(), deviceID, since)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"since":     since,
		"count":     count,
	})
}

// PublishCommand sends a command to a device over the broker.
func (h *APIHandlers) PublishCommand(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
		Payload  string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command format"})
		return
	}

	if err := h.services.Telemetry.PublishCommand(c.Request.Context(), req.DeviceID, []byte(req.Payload)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

// --- Device Catalog Endpoints ---

// RegisterCatalogDevice adds a device to the catalog.
func (h *APIHandlers) RegisterCatalogDevice(c *gin.Context) {
	var req core.RegistryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	device, err := h.services.Registry.Register(c.Request.Context(), actorEmail(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, device)
}

// GetCatalogDevice looks up a catalog entry.
func (h *APIHandlers) GetCatalogDevice(c *gin.Context) {
	device, err := h.services.Registry.Get(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// ListCatalogDevices returns catalog entries matching query filters.
func (h *APIHandlers) ListCatalogDevices(c *gin.Context) {
	filter := core.DeviceRegistrationFilter{
		TenantID:   c.Query("tenant_id"),
		DeviceType: c.Query("device_type"),
		Status:     c.Query("status"),
	}

	devices, err := h.services.Registry.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// UpdateCatalogDevice edits a catalog entry.
func (h *APIHandlers) UpdateCatalogDevice(c *gin.Context) {
	var req core.RegistryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}
	req.DeviceID = c.Param("deviceId")

	device, err := h.services.Registry.Update(c.Request.Context(), actorEmail(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// DeleteCatalogDevice removes a catalog entry.
func (h *APIHandlers) DeleteCatalogDevice(c *gin.Context) {
	if err := h.services.Registry.Delete(c.Request.Context(), c.Param("deviceId")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "device deleted"})
}

// --- Subscription Endpoints ---

// ListPlans returns the plan catalog.
func (h *APIHandlers) ListPlans(c *gin.Context) {
	plans, err := h.services.Subscription.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": plans,
		"count": len(plans),
	})
}

// CreatePlan adds a plan to the catalog.
func (h *APIHandlers) CreatePlan(c *gin.Context) {
	var plan core.Plan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if err := h.services.Subscription.CreatePlan(c.Request.Context(), ClaimsFromContext(c), &plan); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// Subscribe creates a subscription for the requester.
func (h *APIHandlers) Subscribe(c *gin.Context) {
	var req core.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	sub, err := h.services.Subscription.Subscribe(c.Request.Context(), ClaimsFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// ListSubscriptions returns an account's subscriptions.
func (h *APIHandlers) ListSubscriptions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	subs, err := h.services.Subscription.ListSubscriptions(c.Request.Context(), ClaimsFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// CancelSubscription ends a subscription.
func (h *APIHandlers) CancelSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.services.Subscription.Cancel(c.Request.Context(), ClaimsFromContext(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "subscription cancelled"})
}

// SaveTank creates or updates tank thresholds.
func (h *APIHandlers) SaveTank(c *gin.Context) {
	var tankID uint
	if raw := c.Param("id"); raw != "" {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		tankID = id
	}

	var req core.TankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	tank, err := h.services.Subscription.SaveTank(c.Request.Context(), ClaimsFromContext(c), tankID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	if tankID == 0 {
		c.JSON(http.StatusCreated, tank)
		return
	}
	c.JSON(http.StatusOK, tank)
}

// ListTanks returns an account's tanks.
func (h *APIHandlers) ListTanks(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	tanks, err := h.services.Subscription.ListTanks(c.Request.Context(), ClaimsFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tanks": tanks,
		"count": len(tanks),
	})
}

func actorEmail(c *gin.Context) string {
	if claims := ClaimsFromContext(c); claims != nil {
		return claims.Email()
	}
	return "system"
}
