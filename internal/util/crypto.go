package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TenantTokenPrefix marks API tokens so they are recognizable in logs and
// secret scanners.
const TenantTokenPrefix = "rdk_"

const tokenBytes = 32

// GenerateToken returns a fresh tenant API token. Only its HashToken digest
// is stored.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return TenantTokenPrefix + hex.EncodeToString(buf), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
