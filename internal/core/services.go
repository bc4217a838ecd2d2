// services/iotcore/internal/core/services.go
package core

// Services bundles the business services for wiring into the HTTP layer.
type Services struct {
	Auth         *AuthService
	Accounts     *AccountService
	Telemetry    *TelemetryService
	Registry     *RegistryService
	Subscription *SubscriptionService
	Tokens       *TokenService
}
