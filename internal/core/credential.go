// services/iotcore/internal/core/credential.go
package core

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// signedPrefix tags credentials verified by the external signing authority.
// Everything else is treated as a legacy bcrypt hash.
const signedPrefix = "sig:"

// CredentialMode discriminates how a stored password credential is verified.
type CredentialMode int

const (
	// CredentialLegacy is a locally stored bcrypt hash.
	CredentialLegacy CredentialMode = iota
	// CredentialSigned is a signature produced by the signing authority.
	CredentialSigned
)

// PasswordCredential is the parsed form of the single password column. The
// column keeps a discriminating prefix on disk; code only ever works with
// the tagged value.
type PasswordCredential struct {
	Mode      CredentialMode
	Hash      string // set when Mode == CredentialLegacy
	Signature string // set when Mode == CredentialSigned
}

// ParseCredential decodes the stored column value into a tagged credential.
func ParseCredential(stored string) PasswordCredential {
	if sig, ok := strings.CutPrefix(stored, signedPrefix); ok {
		return PasswordCredential{Mode: CredentialSigned, Signature: sig}
	}
	return PasswordCredential{Mode: CredentialLegacy, Hash: stored}
}

// Encode renders the credential back to its single-column storage form.
func (c PasswordCredential) Encode() string {
	if c.Mode == CredentialSigned {
		return signedPrefix + c.Signature
	}
	return c.Hash
}

// NewLegacyCredential hashes a plaintext password with bcrypt.
func NewLegacyCredential(plaintext string) (PasswordCredential, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return PasswordCredential{}, err
	}
	return PasswordCredential{Mode: CredentialLegacy, Hash: string(hash)}, nil
}

// NewSignedCredential wraps a signature from the signing authority.
func NewSignedCredential(signature string) PasswordCredential {
	return PasswordCredential{Mode: CredentialSigned, Signature: signature}
}

// VerifyLegacy compares a plaintext password against the bcrypt hash in
// constant time.
func (c PasswordCredential) VerifyLegacy(plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(plaintext)) == nil
}
