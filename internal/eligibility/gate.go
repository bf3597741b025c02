// Package eligibility decides whether a person may receive a voting token.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"votechain.org/internal/biometric"
	"votechain.org/internal/identity"
	"votechain.org/internal/proof"
	"votechain.org/internal/voter"
)

// ProofDecoder recovers the QR payload of a card photo.
type ProofDecoder interface {
	Decode(ctx context.Context, image []byte) (proof.Result, error)
}

type Policy struct {
	RequireQR     bool
	MinConfidence float64
	// CallTimeout bounds each external call made by the gate.
	CallTimeout time.Duration
}

// Request is a registration attempt.
type Request struct {
	IDNumber string
	NameEN   string
	NameKH   string
	Phone    string
	Email    string
	// Image is the photographed identity card.
	Image []byte
}

// Outcome describes an accepted request.
type Outcome struct {
	Record     voter.Record
	Key        identity.Key
	Expiry     time.Time
	Confidence float64
	QRVerified bool
}

type Gate struct {
	directory voter.Directory
	contacts  voter.ContactStore
	decoder   ProofDecoder
	faces     biometric.Comparer
	policy    Policy
	now       func() time.Time
}

// NewGate wires the gate. A nil clock means time.Now.
func NewGate(directory voter.Directory, contacts voter.ContactStore, decoder ProofDecoder, faces biometric.Comparer, policy Policy, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = 10 * time.Second
	}
	return &Gate{
		directory: directory,
		contacts:  contacts,
		decoder:   decoder,
		faces:     faces,
		policy:    policy,
		now:       now,
	}
}

// Evaluate runs the checks in order and stops at the first failure. Refusals are
// returned as *Rejection; anything else is an infrastructure error.
func (g *Gate) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	key := identity.Canonical(req.IDNumber)
	if key.Empty() {
		return Outcome{}, reject(ReasonNotFound, "empty id number")
	}

	rec, err := g.lookup(ctx, key)
	if err != nil {
		return Outcome{}, err
	}

	if !identity.SameName(req.NameEN, rec.NameEN) || !identity.SameName(req.NameKH, rec.NameKH) {
		return Outcome{}, reject(ReasonIdentityMismatch, "")
	}

	now := g.now()
	expiry, err := CheckStanding(rec, now)
	if err != nil {
		return Outcome{}, err
	}

	if err := g.checkEmail(ctx, key, req.Email); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Record: rec, Key: key, Expiry: expiry}
	if g.policy.RequireQR {
		if err := g.checkProof(ctx, rec, req.Image); err != nil {
			return Outcome{}, err
		}
		out.QRVerified = true
	}

	score, err := Compare(ctx, g.faces, rec, req.Image, g.policy.MinConfidence, g.policy.CallTimeout)
	if err != nil {
		return Outcome{}, err
	}
	out.Confidence = score
	return out, nil
}

// CheckStanding applies the age and card-validity checks to rec as of now and returns
// the parsed expiry date.
func CheckStanding(rec voter.Record, now time.Time) (time.Time, error) {
	if rec.DateOfBirth.IsZero() {
		return time.Time{}, reject(ReasonInvalidRecord, "missing date of birth")
	}
	if !identity.Adult(rec.DateOfBirth, now) {
		return time.Time{}, reject(ReasonUnderage, "")
	}
	expiry, err := identity.ParseExpiry(rec.ExpiryDate)
	if err != nil {
		return time.Time{}, reject(ReasonInvalidRecord, "unparseable expiry date")
	}
	if identity.Expired(expiry, now) {
		return time.Time{}, reject(ReasonExpired, "")
	}
	return expiry, nil
}

func (g *Gate) lookup(ctx context.Context, key identity.Key) (voter.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
	defer cancel()
	rec, err := g.directory.FindIdentity(ctx, key)
	if errors.Is(err, voter.ErrNotFound) {
		return voter.Record{}, reject(ReasonNotFound, "")
	}
	if err != nil {
		return voter.Record{}, fmt.Errorf("lookup identity: %w", err)
	}
	return rec, nil
}

func (g *Gate) checkEmail(ctx context.Context, key identity.Key, email string) error {
	ctx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
	defer cancel()
	existing, err := g.contacts.ContactByEmail(ctx, email)
	if errors.Is(err, voter.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if existing.IdentityKey != key {
		return reject(ReasonEmailConflict, "")
	}
	return nil
}

func (g *Gate) checkProof(ctx context.Context, rec voter.Record, image []byte) error {
	expected := strings.TrimSpace(rec.QRToken)
	if expected == "" {
		return reject(ReasonInvalidRecord, "no proof mark on record")
	}
	ctx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
	defer cancel()
	res, err := g.decoder.Decode(ctx, image)
	if errors.Is(err, proof.ErrUndecodableImage) {
		return reject(ReasonProofMissing, "unreadable image")
	}
	if err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}
	if !res.Found {
		return reject(ReasonProofMissing, "")
	}
	if !strings.Contains(res.Text, expected) {
		return reject(ReasonProofMismatch, "")
	}
	return nil
}

// Compare scores probe against the record's reference photo and rejects scores below threshold.
func Compare(ctx context.Context, faces biometric.Comparer, rec voter.Record, probe []byte, threshold float64, timeout time.Duration) (float64, error) {
	reference, err := rec.PhotoBytes()
	if err != nil {
		return 0, reject(ReasonInvalidRecord, "no reference photo")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	score, err := faces.Compare(ctx, reference, probe)
	if errors.Is(err, biometric.ErrInvalidImage) {
		return 0, rejectScored(ReasonBiometricMismatch, 0)
	}
	if err != nil {
		return 0, fmt.Errorf("compare faces: %w", err)
	}
	if score < threshold {
		return score, rejectScored(ReasonBiometricMismatch, score)
	}
	return score, nil
}
