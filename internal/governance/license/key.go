package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"datahub.migas.id/clearinghouse/internal/domain"
)

// Keys look like CHL-7KQ2-M9XD-P4TR-ZW3H. The alphabet drops 0/O and 1/I.
const (
	keyPrefix   = "CHL"
	keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyGroups   = 4
	keyGroupLen = 4
	lookupLen   = 8
)

var keyPattern = regexp.MustCompile(`^CHL(-[A-HJ-NP-Z2-9]{4}){4}$`)

// GenerateKey returns a new random license key.
func GenerateKey() (string, error) {
	raw := make([]byte, keyGroups*keyGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i, r := range raw {
		if i%keyGroupLen == 0 {
			b.WriteByte('-')
		}
		// 256 is a multiple of 32, so the modulo is unbiased.
		b.WriteByte(keyAlphabet[int(r)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// NormalizeKey upper-cases and trims a presented key and checks its shape.
func NormalizeKey(key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if !keyPattern.MatchString(key) {
		return "", domain.ErrLicenseKeyInvalid
	}
	return key, nil
}

// LookupDigest is the indexed value that locates a key's row: the first
// lookupLen bytes of SHA-256 over the normalized key, hex encoded. No key
// characters are stored in clear.
func LookupDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:lookupLen])
}

// HashKey returns the bcrypt hash stored for key.
func HashKey(key string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hash license key: %w", err)
	}
	return string(h), nil
}

// VerifyKey reports whether key matches a stored hash.
func VerifyKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
