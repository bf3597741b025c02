package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminKey checks the shared secret presented on admin endpoints. The configured value
// may be plain text or a bcrypt hash.
type AdminKey struct {
	value string
}

func NewAdminKey(configured string) AdminKey {
	return AdminKey{value: strings.TrimSpace(configured)}
}

// Configured reports whether any admin key is set; without one every check fails.
func (k AdminKey) Configured() bool { return k.value != "" }

func (k AdminKey) Check(presented string) bool {
	presented = strings.TrimSpace(presented)
	if k.value == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(k.value, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(k.value), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(k.value), []byte(presented)) == 1
}
