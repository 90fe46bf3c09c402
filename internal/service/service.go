// Package service implements business logic on top of ports.
package service

import (
	"crypto/rand"
	"encoding/hex"
)

func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
