package voter

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"votechain.org/internal/identity"
)

var (
	ErrNotFound   = errors.New("voter: not found")
	ErrEmailTaken = errors.New("voter: email bound to another identity")
	ErrNoPhoto    = errors.New("voter: reference photo missing")
)

// Record is an identity record issued by the identity authority. Read-only here.
type Record struct {
	UUID        uuid.UUID
	IDNumber    string
	NameEN      string
	NameKH      string
	DateOfBirth time.Time
	// ExpiryDate is kept verbatim in day.month.year form.
	ExpiryDate string
	Photo      string
	QRToken    string
}

// Key returns the canonical identity key of the record.
func (r Record) Key() identity.Key { return identity.Canonical(r.IDNumber) }

// DisplayName prefers the latin name.
func (r Record) DisplayName() string {
	if strings.TrimSpace(r.NameEN) != "" {
		return r.NameEN
	}
	return r.NameKH
}

// PhotoBytes decodes the stored reference photo (raw base64 or a data URI).
func (r Record) PhotoBytes() ([]byte, error) {
	return DecodeImage(r.Photo)
}

// Contact binds reachability data to an identity.
type Contact struct {
	IdentityKey identity.Key
	Phone       string
	Email       string
	ProofPath   string
	UpdatedAt   time.Time
}

// Directory looks up identity records.
type Directory interface {
	FindIdentity(ctx context.Context, key identity.Key) (Record, error)
	FindByQRToken(ctx context.Context, token string) (Record, error)
}

// ContactStore persists contact records: upsert by identity, unique by case-folded email.
type ContactStore interface {
	ContactByEmail(ctx context.Context, email string) (Contact, error)
	ContactByKey(ctx context.Context, key identity.Key) (Contact, error)
	UpsertContact(ctx context.Context, c Contact) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DecodeImage accepts raw base64 or a data URI and returns the image bytes.
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "base64,"); i >= 0 {
		s = s[i+len("base64,"):]
	}
	if s == "" {
		return nil, ErrNoPhoto
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
