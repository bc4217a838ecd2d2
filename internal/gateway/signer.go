// services/iotcore/internal/gateway/signer.go
package gateway

import (
	"context"
	"net/http"
)

// EncryptionSigner talks to the platform encryption service to sign and
// verify password material. It implements core.PasswordSigner.
type EncryptionSigner struct {
	client *http.Client
	host   string
}

// NewEncryptionSigner creates a signer backed by the encryption service.
func NewEncryptionSigner(client *http.Client, host string) *EncryptionSigner {
	return &EncryptionSigner{client: client, host: host}
}

type signRequest struct {
	Value string `json:"value"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type verifyRequest struct {
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// Sign returns a signature over the plaintext.
func (s *EncryptionSigner) Sign(ctx context.Context, plaintext string) (string, error) {
	var resp signResponse
	err := postJSON(ctx, s.client, joinURL(s.host, "/crypto/v1/_sign"), signRequest{Value: plaintext}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// Verify checks a plaintext against a stored signature. A transport error
// is returned as-is so callers can fail closed.
func (s *EncryptionSigner) Verify(ctx context.Context, plaintext, signature string) (bool, error) {
	var resp verifyResponse
	err := postJSON(ctx, s.client, joinURL(s.host, "/crypto/v1/_verify"),
		verifyRequest{Value: plaintext, Signature: signature}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Verified, nil
}
