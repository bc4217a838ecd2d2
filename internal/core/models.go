// services/iotcore/internal/core/models.go
package core

import (
	"time"

	"gorm.io/gorm"
)

// Account represents a platform user (primary or secondary).
type Account struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	AccountCode    string          `json:"account_code" gorm:"uniqueIndex;size:50"` // e.g. "USER-2024-000001"
	Name           string          `json:"name" gorm:"not null"`
	Email          string          `json:"email" gorm:"uniqueIndex;not null"`
	Phone          string          `json:"phone" gorm:"not null"`
	Password       string          `json:"-" gorm:"not null"` // encoded credential, see credential.go
	Role           string          `json:"role" gorm:"index;default:user"`
	AccessLevel    string          `json:"access_level" gorm:"default:limited"`
	Status         string          `json:"status" gorm:"default:active"`
	SecondaryQuota int             `json:"no_of_sec_users" gorm:"column:noofsecuser;default:0"`
	Address        string          `json:"address" gorm:"type:text"`
	LastLoginDate  *time.Time      `json:"last_login_date"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Devices        []AccountDevice `json:"devices,omitempty" gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

// AccountDevice is a device bound to an account. At most one device per
// account carries IsPrimary=true.
type AccountDevice struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AccountID   uint      `json:"account_id" gorm:"uniqueIndex:idx_account_device;not null"`
	DeviceID    string    `json:"device_id" gorm:"uniqueIndex:idx_account_device;not null"`
	Saviour     string    `json:"saviour" gorm:"size:50"`
	DeviceSimNo string    `json:"device_sim_no" gorm:"size:20"`
	HouseType   string    `json:"house_type" gorm:"size:50"`
	SensorType  string    `json:"sensor_type" gorm:"size:50"`
	OS          string    `json:"os" gorm:"size:100"`
	Browser     string    `json:"browser" gorm:"size:100"`
	IsPrimary   bool      `json:"is_primary" gorm:"default:false"`
	Status      string    `json:"status" gorm:"size:20;default:active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PasswordResetToken is a single-use OTP bound to an email address.
type PasswordResetToken struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Email      string    `json:"email" gorm:"index;not null"`
	OTP        int       `json:"otp" gorm:"not null"`
	ExpiryDate time.Time `json:"expiry_date" gorm:"not null"`
	Used       bool      `json:"used" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiryDate)
}

// TelemetryRecord is a normalized, immutable device data point.
type TelemetryRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	DeviceID  string    `json:"device_id" gorm:"index;not null"`
	TenantID  string    `json:"tenant_id" gorm:"index"`
	DataType  string    `json:"data_type" gorm:"index"` // SENSOR, TELEMETRY, COMMAND, EVENT
	Payload   string    `json:"payload" gorm:"type:text;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"index;not null"`
	Source    string    `json:"source"` // MQTT, REST, WEBHOOK
	Metadata  string    `json:"metadata" gorm:"type:text"`
	Forwarded bool      `json:"forwarded" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate defaults the observation timestamp to the ingest time.
func (r *TelemetryRecord) BeforeCreate(tx *gorm.DB) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

// DeviceRegistration is the tenant-scoped device catalog entry.
type DeviceRegistration struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	DeviceID   string    `json:"device_id" gorm:"uniqueIndex;not null"`
	DeviceName string    `json:"device_name" gorm:"not null"`
	DeviceType string    `json:"device_type"`
	Location   string    `json:"location"`
	Status     string    `json:"status" gorm:"index"` // ACTIVE, INACTIVE, MAINTENANCE
	TenantID   string    `json:"tenant_id" gorm:"index"`
	Metadata   string    `json:"metadata" gorm:"type:text"`
	CreatedBy  string    `json:"created_by"`
	UpdatedBy  string    `json:"updated_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Plan is a subscription plan catalog entry.
type Plan struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Plan      string    `json:"plan" gorm:"not null"`
	Profile   string    `json:"profile"`
	Period    string    `json:"period"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription binds an account's device to a plan.
type Subscription struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	SubscriptionCode string     `json:"subscription_code" gorm:"uniqueIndex;size:50"`
	AccountID        uint       `json:"account_id" gorm:"index;not null"`
	DeviceID         string     `json:"device_id" gorm:"not null"`
	PlanID           uint       `json:"plan_id" gorm:"index;not null"`
	Period           string     `json:"period"`
	Quantity         int        `json:"quantity" gorm:"default:1"`
	StartDate        *time.Time `json:"start_date"`
	EndDate          *time.Time `json:"end_date"`
	Amount           float64    `json:"amount"`
	Status           string     `json:"status" gorm:"default:active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Plan             Plan       `json:"plan,omitempty" gorm:"foreignKey:PlanID"`
}

// Tank holds level thresholds for a water-tank device.
type Tank struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	AccountID       uint      `json:"account_id" gorm:"index;not null"`
	DeviceID        string    `json:"device_id" gorm:"not null"`
	SaviourName     string    `json:"saviour_name"`
	SaviourCapacity float64   `json:"saviour_capacity"`
	UpperThreshold  float64   `json:"upper_threshold"`
	LowerThreshold  float64   `json:"lower_threshold"`
	SaviourHeight   float64   `json:"saviour_height"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName overrides for GORM
func (Account) TableName() string            { return "users" }
func (AccountDevice) TableName() string      { return "user_device" }
func (PasswordResetToken) TableName() string { return "password_reset_tokens" }
func (TelemetryRecord) TableName() string    { return "iot_data" }
func (DeviceRegistration) TableName() string { return "iot_device" }
func (Plan) TableName() string               { return "plans" }
func (Subscription) TableName() string       { return "subscriptions" }
func (Tank) TableName() string               { return "tanks" }

// Business constants.
const (
	// Roles
	RoleAdmin         = "admin"
	RoleUser          = "user"
	RoleSecondaryUser = "secondary_user"

	// Access levels
	AccessFull     = "full"
	AccessLimited  = "limited"
	AccessViewOnly = "view_only"

	// Account statuses
	StatusActive   = "active"
	StatusInactive = "inactive"

	// Device catalog statuses
	DeviceStatusActive      = "ACTIVE"
	DeviceStatusInactive    = "INACTIVE"
	DeviceStatusMaintenance = "MAINTENANCE"

	// Telemetry data types
	DataTypeSensor    = "SENSOR"
	DataTypeTelemetry = "TELEMETRY"
	DataTypeCommand   = "COMMAND"
	DataTypeEvent     = "EVENT"

	// Telemetry sources
	SourceMQTT    = "MQTT"
	SourceREST    = "REST"
	SourceWebhook = "WEBHOOK"
)

// DefaultRoles is the fixed role set used when the role registry is unreachable.
var DefaultRoles = []string{RoleAdmin, RoleUser, RoleSecondaryUser}
