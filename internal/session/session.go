// Package session turns a face-matched login into a signed session credential.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"votechain.org/internal/audit"
	"votechain.org/internal/auth"
	"votechain.org/internal/biometric"
	"votechain.org/internal/eligibility"
	"votechain.org/internal/identity"
	"votechain.org/internal/voter"
)

// ErrLivenessFailed is returned before any face comparison when liveness was not confirmed.
var ErrLivenessFailed = errors.New("session: liveness check failed")

type Request struct {
	Identifier     string
	Face           []byte
	LivenessPassed bool
}

type Session struct {
	Token      string
	ExpiresAt  time.Time
	Voter      voter.Record
	Confidence float64
}

type Policy struct {
	MinConfidence float64
	CallTimeout   time.Duration
}

type Issuer struct {
	directory voter.Directory
	faces     biometric.Comparer
	signer    *auth.Signer
	policy    Policy
	now       func() time.Time
}

func NewIssuer(directory voter.Directory, faces biometric.Comparer, signer *auth.Signer, policy Policy, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = 10 * time.Second
	}
	return &Issuer{directory: directory, faces: faces, signer: signer, policy: policy, now: now}
}

// Login checks liveness, then standing, then the face, and mints a credential carrying
// only the canonical key and display name.
func (s *Issuer) Login(ctx context.Context, req Request) (Session, error) {
	if !req.LivenessPassed {
		return Session{}, ErrLivenessFailed
	}
	key := identity.Canonical(req.Identifier)
	if key.Empty() {
		return Session{}, eligibility.ErrNotFound
	}

	lctx, cancel := context.WithTimeout(ctx, s.policy.CallTimeout)
	rec, err := s.directory.FindIdentity(lctx, key)
	cancel()
	if errors.Is(err, voter.ErrNotFound) {
		return Session{}, eligibility.ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup identity: %w", err)
	}

	if _, err := eligibility.CheckStanding(rec, s.now()); err != nil {
		return Session{}, err
	}

	score, err := eligibility.Compare(ctx, s.faces, rec, req.Face, s.policy.MinConfidence, s.policy.CallTimeout)
	if err != nil {
		return Session{}, err
	}

	token, expires, err := s.signer.Issue(auth.Voter{Key: key, Name: rec.DisplayName()})
	if err != nil {
		return Session{}, err
	}
	_ = audit.LogEvent(ctx, "session.login", map[string]any{
		"subject":    audit.Subject(key),
		"confidence": score,
	})
	return Session{Token: token, ExpiresAt: expires, Voter: rec, Confidence: score}, nil
}
