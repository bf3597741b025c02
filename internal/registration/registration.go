// Package registration runs a token request end to end: eligibility, proof storage,
// contact upsert, token issuance and delivery.
package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"votechain.org/internal/audit"
	"votechain.org/internal/eligibility"
	"votechain.org/internal/identity"
	"votechain.org/internal/obs"
	"votechain.org/internal/token"
	"votechain.org/internal/uploads"
	"votechain.org/internal/voter"
)

var (
	// ErrTokenPending means the identity was accepted and its contact stored, but no token
	// could be obtained. The request can be retried as is.
	ErrTokenPending = errors.New("registration: eligible, token issuance pending")
	// ErrDeliveryFailed means the token exists on the ledger but could not be handed off.
	ErrDeliveryFailed = errors.New("registration: token delivery failed")
)

// Delivery is what a Notifier forwards to the voter.
type Delivery struct {
	Key       identity.Key
	Name      string
	Email     string
	Phone     string
	Token     string
	ExpiresAt time.Time
}

type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// AuditNotifier records the hand-off in the audit log. Token and contact data stay out of the log.
type AuditNotifier struct{}

func (AuditNotifier) Deliver(ctx context.Context, d Delivery) error {
	return audit.LogEvent(ctx, "token.delivery", map[string]any{
		"subject":    audit.Subject(d.Key),
		"expires_at": d.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type Request struct {
	eligibility.Request
	// Upload holds the card image; Request.Image is taken from it when empty.
	Upload *uploads.File
}

type Result struct {
	Outcome eligibility.Outcome
	Grant   token.Grant
}

type Service struct {
	gate        *eligibility.Gate
	contacts    voter.ContactStore
	tokens      *token.Manager
	notifier    Notifier
	callTimeout time.Duration
}

type Option func(*Service)

// WithCallTimeout bounds each contact store and notifier call. Defaults to 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

func NewService(gate *eligibility.Gate, contacts voter.ContactStore, tokens *token.Manager, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = AuditNotifier{}
	}
	s := &Service{gate: gate, contacts: contacts, tokens: tokens, notifier: notifier, callTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register evaluates req and hands out a token. The upload is deleted on every path
// except once the contact record referencing it is stored; the proof it supersedes is
// removed at that point.
func (s *Service) Register(ctx context.Context, req Request) (Result, error) {
	if req.Upload != nil {
		defer func() {
			if err := req.Upload.Discard(); err != nil {
				obs.Warn("upload_discard_failed", map[string]any{"error": err.Error()})
			}
		}()
		if len(req.Image) == 0 {
			req.Image = req.Upload.Bytes()
		}
	}

	out, err := s.gate.Evaluate(ctx, req.Request)
	if err != nil {
		obs.RecordRegistration(outcomeOf(err))
		return Result{}, err
	}

	prev, err := s.previousContact(ctx, out.Key)
	if err != nil {
		obs.RecordRegistration("error")
		return Result{}, fmt.Errorf("load contact: %w", err)
	}
	proofPath := prev.ProofPath
	if req.Upload != nil {
		if proofPath, err = req.Upload.Commit(); err != nil {
			obs.RecordRegistration("error")
			return Result{}, err
		}
	}
	err = s.upsertContact(ctx, voter.Contact{
		IdentityKey: out.Key,
		Phone:       req.Phone,
		Email:       req.Email,
		ProofPath:   proofPath,
	})
	if errors.Is(err, voter.ErrEmailTaken) {
		obs.RecordRegistration(string(eligibility.ReasonEmailConflict))
		return Result{}, eligibility.ErrEmailConflict
	}
	if err != nil {
		obs.RecordRegistration("error")
		return Result{}, fmt.Errorf("store contact: %w", err)
	}
	if req.Upload != nil {
		req.Upload.Keep()
		if err := req.Upload.Replace(prev.ProofPath); err != nil {
			obs.Warn("proof_cleanup_failed", map[string]any{"error": err.Error()})
		}
	}

	res := Result{Outcome: out}
	res.Grant, err = s.tokens.IssueOrReuse(ctx, out.Key)
	if err != nil {
		obs.RecordRegistration("token_pending")
		return res, fmt.Errorf("%w: %w", ErrTokenPending, err)
	}

	err = s.deliver(ctx, Delivery{
		Key:       out.Key,
		Name:      out.Record.DisplayName(),
		Email:     voter.NormalizeEmail(req.Email),
		Phone:     req.Phone,
		Token:     res.Grant.Token,
		ExpiresAt: res.Grant.ExpiresAt,
	})
	if err != nil {
		obs.RecordRegistration("delivery_failed")
		return res, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	obs.RecordRegistration("accepted")
	_ = audit.LogEvent(ctx, "registration.accepted", map[string]any{
		"subject":     audit.Subject(out.Key),
		"reused":      !res.Grant.IssuedNewly,
		"qr_verified": out.QRVerified,
		"confidence":  out.Confidence,
	})
	return res, nil
}

func (s *Service) previousContact(ctx context.Context, key identity.Key) (voter.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	c, err := s.contacts.ContactByKey(ctx, key)
	if errors.Is(err, voter.ErrNotFound) {
		return voter.Contact{}, nil
	}
	return c, bounded(ctx, err)
}

func (s *Service) upsertContact(ctx context.Context, c voter.Contact) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return bounded(ctx, s.contacts.UpsertContact(ctx, c))
}

func (s *Service) deliver(ctx context.Context, d Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return bounded(ctx, s.notifier.Deliver(ctx, d))
}

// bounded makes a failure caused by ctx expiring match context.DeadlineExceeded even when
// the callee reported it in its own words.
func bounded(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
}

func outcomeOf(err error) string {
	var rej *eligibility.Rejection
	if errors.As(err, &rej) {
		return string(rej.Reason)
	}
	return "error"
}
