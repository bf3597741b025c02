// Package token issues, reuses and spends voting tokens held on the ledger.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"votechain.org/internal/audit"
	"votechain.org/internal/identity"
	"votechain.org/internal/ledger"
	"votechain.org/internal/obs"
)

var (
	ErrInvalidOrUsedToken = errors.New("token: invalid or already used")
	ErrInvalidCandidate   = errors.New("token: invalid candidate")
	ErrInactiveCandidate  = errors.New("token: candidate not active")
	// ErrNotIssued means the ledger accepted an issuance but no token could be read back.
	ErrNotIssued = errors.New("token: issuance not visible on ledger")
)

// Grant is the token an identity holds after IssueOrReuse. TxHash is empty when an
// existing token was reused.
type Grant struct {
	Token       string
	ExpiresAt   time.Time
	IssuedNewly bool
	TxHash      string
}

type Manager struct {
	ledger ledger.Service
	ttl    time.Duration
}

const DefaultTTL = 30 * time.Minute

func NewManager(svc ledger.Service, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{ledger: svc, ttl: ttl}
}

// IssueOrReuse returns the identity's valid token, issuing one only when none is active.
// A lost issuance race is reconciled by re-reading the ledger.
func (m *Manager) IssueOrReuse(ctx context.Context, key identity.Key) (Grant, error) {
	id := key.Hash()

	if g, ok, err := m.reusable(ctx, id); err != nil {
		return Grant{}, err
	} else if ok {
		obs.RecordToken("reused")
		_ = audit.LogEvent(ctx, "token.reused", map[string]any{"subject": audit.Subject(key)})
		return g, nil
	}

	issued, err := m.ledger.IssueToken(ctx, id, m.ttl)
	if errors.Is(err, ledger.ErrActiveTokenExists) {
		g, ok, rerr := m.reusable(ctx, id)
		if rerr != nil {
			return Grant{}, rerr
		}
		if !ok {
			return Grant{}, fmt.Errorf("issue token: %w", err)
		}
		obs.RecordToken("recovered")
		_ = audit.LogEvent(ctx, "token.recovered", map[string]any{"subject": audit.Subject(key)})
		return g, nil
	}
	if err != nil {
		return Grant{}, fmt.Errorf("issue token: %w", err)
	}

	g := Grant{Token: issued.Token, ExpiresAt: issued.ExpiresAt, IssuedNewly: true, TxHash: issued.TxHash}
	if g.Token == "" {
		rec, err := m.ledger.GetToken(ctx, id)
		if err != nil {
			return Grant{}, fmt.Errorf("read issued token: %w", err)
		}
		if rec.Empty() {
			return Grant{}, ErrNotIssued
		}
		g.Token, g.ExpiresAt = rec.Token, rec.ExpiresAt
	}
	obs.RecordToken("issued")
	_ = audit.LogEvent(ctx, "token.issued", map[string]any{"subject": audit.Subject(key), "tx_hash": g.TxHash})
	return g, nil
}

// reusable reports the stored token when the ledger confirms it is still valid.
func (m *Manager) reusable(ctx context.Context, id ledger.Hash) (Grant, bool, error) {
	rec, err := m.ledger.GetToken(ctx, id)
	if err != nil {
		return Grant{}, false, fmt.Errorf("read token: %w", err)
	}
	if rec.Empty() || rec.Used {
		return Grant{}, false, nil
	}
	ok, err := m.ledger.ValidateToken(ctx, id, rec.Token)
	if err != nil {
		return Grant{}, false, fmt.Errorf("validate token: %w", err)
	}
	if !ok {
		return Grant{}, false, nil
	}
	return Grant{Token: rec.Token, ExpiresAt: rec.ExpiresAt}, true, nil
}

// Validate is a read-only check of token against the identity's ledger record.
func (m *Manager) Validate(ctx context.Context, key identity.Key, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	ok, err := m.ledger.ValidateToken(ctx, key.Hash(), token)
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	return ok, nil
}

// MarkUsed consumes the identity's active token without recording a vote.
func (m *Manager) MarkUsed(ctx context.Context, key identity.Key) (ledger.Receipt, error) {
	rc, err := m.ledger.MarkUsed(ctx, key.Hash())
	if err != nil {
		return ledger.Receipt{}, translate(err)
	}
	_ = audit.LogEvent(ctx, "token.marked_used", map[string]any{"subject": audit.Subject(key), "tx_hash": rc.TxHash})
	return rc, nil
}

// Spend casts one vote with token. key must come from the authenticated session.
func (m *Manager) Spend(ctx context.Context, key identity.Key, token string, candidateID uint64) (ledger.Receipt, error) {
	if token == "" {
		obs.RecordVote("invalid_token")
		return ledger.Receipt{}, ErrInvalidOrUsedToken
	}
	rc, err := m.ledger.VoteWithToken(ctx, key.Hash(), token, candidateID)
	if err != nil {
		err = translate(err)
		obs.RecordVote(voteResult(err))
		return ledger.Receipt{}, err
	}
	obs.RecordVote("ok")
	return rc, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidToken):
		return fmt.Errorf("%w: %v", ErrInvalidOrUsedToken, err)
	case errors.Is(err, ledger.ErrInvalidCandidate):
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	case errors.Is(err, ledger.ErrInactiveCandidate):
		return fmt.Errorf("%w: %v", ErrInactiveCandidate, err)
	default:
		return err
	}
}

func voteResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrUsedToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidCandidate), errors.Is(err, ErrInactiveCandidate):
		return "invalid_candidate"
	default:
		return "error"
	}
}
