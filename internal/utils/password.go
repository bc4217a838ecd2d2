// services/iotcore/internal/utils/password.go
package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordLength = 12

	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*"
	allChars     = lowerChars + upperChars + digitChars + specialChars
)

// GeneratePassword returns a random password containing at least one lower,
// upper, digit, and special character.
func GeneratePassword() (string, error) {
	password := make([]byte, passwordLength)

	// One guaranteed character from each class, the rest from the full set.
	classes := []string{lowerChars, upperChars, digitChars, specialChars}
	for i := range password {
		set := allChars
		if i < len(classes) {
			set = classes[i]
		}
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		password[i] = ch
	}

	// Shuffle so the class positions are not predictable.
	for i := len(password) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to draw random char: %w", err)
	}
	return set[n.Int64()], nil
}
