// services/iotcore/internal/core/collaborators.go
package core

import "context"

// PasswordSigner is the external signing authority used for the signed
// credential mode. A transport failure is reported as an error, distinct
// from a failed verification.
type PasswordSigner interface {
	Sign(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, signature string) (bool, error)
}

// RoleRegistry validates roles against the tenant's master data service.
type RoleRegistry interface {
	Roles(ctx context.Context, tenantID string) ([]string, error)
}

// IDGenerator produces human-readable sequential identifiers.
type IDGenerator interface {
	Next(ctx context.Context, tenantID, kind string) (string, error)
}

// Mailer dispatches templated notification mail. Failures are reported but
// never roll back the operation that triggered them.
type Mailer interface {
	SendWelcome(to, name, password string) error
	SendPasswordResetOTP(to string, otp int) error
}

// TelemetryForwarder pushes stored telemetry to the downstream queue.
type TelemetryForwarder interface {
	Forward(ctx context.Context, record *TelemetryRecord) error
}

// CommandPublisher publishes command payloads to devices over the bus.
type CommandPublisher interface {
	Publish(topic string, payload []byte) error
}
