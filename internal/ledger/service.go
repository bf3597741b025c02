package ledger

import (
	"context"
	"time"
)

// Service is the ledger capability: token storage, candidates, votes and the event log.
// Implementations return *Error for every classified failure.
type Service interface {
	GetToken(ctx context.Context, id Hash) (TokenRecord, error)
	// ValidateToken is the authoritative validity check: present, unused, unexpired.
	ValidateToken(ctx context.Context, id Hash, token string) (bool, error)
	// IssueToken waits for finalization. It fails with CodeActiveTokenExists while an
	// active token is held by id.
	IssueToken(ctx context.Context, id Hash, ttl time.Duration) (Issued, error)
	MarkUsed(ctx context.Context, id Hash) (Receipt, error)
	// VoteWithToken validates and consumes the token and records one vote in a single write.
	VoteWithToken(ctx context.Context, id Hash, token string, candidateID uint64) (Receipt, error)
	AddCandidate(ctx context.Context, c CandidateInput) (Receipt, error)
	// Events returns candidate and vote events at or after fromBlock in ledger order.
	Events(ctx context.Context, fromBlock uint64) ([]Event, error)
	Ping(ctx context.Context) error
}

// WithTimeout bounds a ledger call, defaulting to ten seconds.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
