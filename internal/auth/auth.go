package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"votechain.org/internal/identity"
)

const (
	DefaultIssuer     = "votechain"
	DefaultSessionTTL = 24 * time.Hour
)

// Claims carries only the canonical identity key (subject) and the display name.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Voter is the authenticated principal of a session.
type Voter struct {
	Key  identity.Key
	Name string
}

// Signer mints and verifies HS256 session credentials.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Signer)

func WithIssuer(issuer string) Option {
	return func(s *Signer) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(secret string, ttl time.Duration, opts ...Option) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Signer{secret: []byte(secret), issuer: DefaultIssuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a credential for v.
func (s *Signer) Issue(v Voter) (string, time.Time, error) {
	if v.Key.Empty() {
		return "", time.Time{}, errors.New("auth: identity key is required")
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	claims := Claims{
		Name: v.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   v.Key.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, issuer and expiry and returns the principal.
func (s *Signer) Verify(token string) (Voter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Voter{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Voter{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Voter{}, ErrInvalidToken
	}
	key := identity.Canonical(claims.Subject)
	if key.Empty() {
		return Voter{}, ErrInvalidToken
	}
	return Voter{Key: key, Name: claims.Name}, nil
}
