package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"votechain.org/internal/identity"
	"votechain.org/internal/ledger"
)

func newLedger() *ledger.InMemory {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return ledger.NewInMemory(func() time.Time { return now })
}

func TestIssueThenReuse(t *testing.T) {
	m := NewManager(newLedger(), 30*time.Minute)
	ctx := context.Background()

	first, err := m.IssueOrReuse(ctx, "AB123")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if !first.IssuedNewly || first.TxHash == "" || first.Token == "" {
		t.Fatalf("unexpected first grant %+v", first)
	}
	second, err := m.IssueOrReuse(ctx, "AB123")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if second.IssuedNewly || second.TxHash != "" || second.Token != first.Token {
		t.Fatalf("expected reuse of %q, got %+v", first.Token, second)
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("expiry changed: %v vs %v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestEquivalentIDsShareToken(t *testing.T) {
	m := NewManager(newLedger(), time.Minute)
	ctx := context.Background()
	var tokens []string
	for _, raw := range []string{" AB 123 ", "ab123", "AB123"} {
		g, err := m.IssueOrReuse(ctx, identity.Canonical(raw))
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		tokens = append(tokens, g.Token)
	}
	if tokens[0] != tokens[1] || tokens[1] != tokens[2] {
		t.Fatalf("expected one token, got %v", tokens)
	}
}

// racingLedger lets a rival issuance land between the manager's read and its write.
type racingLedger struct {
	*ledger.InMemory
	raced bool
}

func (r *racingLedger) IssueToken(ctx context.Context, id ledger.Hash, ttl time.Duration) (ledger.Issued, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.InMemory.IssueToken(ctx, id, ttl); err != nil {
			return ledger.Issued{}, err
		}
	}
	return r.InMemory.IssueToken(ctx, id, ttl)
}

func TestIssueRaceReconciles(t *testing.T) {
	l := &racingLedger{InMemory: newLedger()}
	m := NewManager(l, time.Minute)
	key := identity.Key("AB123")

	g, err := m.IssueOrReuse(context.Background(), key)
	if err != nil {
		t.Fatalf("expected recovered grant, got %v", err)
	}
	if g.IssuedNewly || g.Token == "" {
		t.Fatalf("unexpected grant %+v", g)
	}
	rec, _ := l.GetToken(context.Background(), key.Hash())
	if rec.Token != g.Token {
		t.Fatalf("grant %q does not match ledger %q", g.Token, rec.Token)
	}
}

type silentIssueLedger struct{ *ledger.InMemory }

func (s silentIssueLedger) IssueToken(ctx context.Context, id ledger.Hash, ttl time.Duration) (ledger.Issued, error) {
	iss, err := s.InMemory.IssueToken(ctx, id, ttl)
	iss.Token = ""
	iss.ExpiresAt = time.Time{}
	return iss, err
}

func TestIssueFallsBackToRead(t *testing.T) {
	l := silentIssueLedger{newLedger()}
	m := NewManager(l, time.Minute)

	g, err := m.IssueOrReuse(context.Background(), "AB123")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := l.GetToken(context.Background(), identity.Key("AB123").Hash())
	if !g.IssuedNewly || g.Token != rec.Token || g.ExpiresAt.IsZero() || g.TxHash == "" {
		t.Fatalf("unexpected grant %+v", g)
	}
}

type failingLedger struct {
	*ledger.InMemory
	err error
}

func (f failingLedger) IssueToken(context.Context, ledger.Hash, time.Duration) (ledger.Issued, error) {
	return ledger.Issued{}, f.err
}

func (f failingLedger) VoteWithToken(context.Context, ledger.Hash, string, uint64) (ledger.Receipt, error) {
	return ledger.Receipt{}, f.err
}

func TestIssueUnavailablePropagates(t *testing.T) {
	m := NewManager(failingLedger{InMemory: newLedger(), err: ledger.Unavailable("issueToken", context.DeadlineExceeded)}, time.Minute)
	_, err := m.IssueOrReuse(context.Background(), "AB123")
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ledger.ErrUnavailable, got %v", err)
	}
}

func TestConcurrentIssueConverges(t *testing.T) {
	m := NewManager(newLedger(), time.Minute)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = map[string]int{}
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := m.IssueOrReuse(context.Background(), "AB123")
			if err != nil {
				t.Errorf("IssueOrReuse: %v", err)
				return
			}
			mu.Lock()
			tokens[g.Token]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(tokens) != 1 {
		t.Fatalf("expected all requests to converge on one token, got %v", tokens)
	}
}

func TestSpendOnce(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	if _, err := l.AddCandidate(ctx, ledger.CandidateInput{NameEN: "A"}); err != nil {
		t.Fatal(err)
	}
	m := NewManager(l, time.Minute)
	g, _ := m.IssueOrReuse(ctx, "AB123")

	ok, err := m.Validate(ctx, "AB123", g.Token)
	if err != nil || !ok {
		t.Fatalf("expected valid token: %v %v", ok, err)
	}
	if _, err := m.Spend(ctx, "AB123", g.Token, 1); err != nil {
		t.Fatalf("first spend: %v", err)
	}
	if _, err := m.Spend(ctx, "AB123", g.Token, 1); !errors.Is(err, ErrInvalidOrUsedToken) {
		t.Fatalf("expected ErrInvalidOrUsedToken, got %v", err)
	}
	if ok, _ := m.Validate(ctx, "AB123", g.Token); ok {
		t.Fatal("spent token must not validate")
	}
}

func TestSpendRequiresOwnToken(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	_, _ = l.AddCandidate(ctx, ledger.CandidateInput{NameEN: "A"})
	m := NewManager(l, time.Minute)
	victim, _ := m.IssueOrReuse(ctx, "AB123")

	if _, err := m.Spend(ctx, "CD456", victim.Token, 1); !errors.Is(err, ErrInvalidOrUsedToken) {
		t.Fatalf("foreign token must be rejected, got %v", err)
	}
	if ok, _ := m.Validate(ctx, "AB123", victim.Token); !ok {
		t.Fatal("victim token must remain valid")
	}
}

func TestSpendCandidateErrors(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	m := NewManager(l, time.Minute)
	g, _ := m.IssueOrReuse(ctx, "AB123")
	if _, err := m.Spend(ctx, "AB123", g.Token, 9); !errors.Is(err, ErrInvalidCandidate) {
		t.Fatalf("expected ErrInvalidCandidate, got %v", err)
	}

	m = NewManager(failingLedger{InMemory: l, err: ledger.ErrInactiveCandidate}, time.Minute)
	if _, err := m.Spend(ctx, "AB123", g.Token, 1); !errors.Is(err, ErrInactiveCandidate) {
		t.Fatalf("expected ErrInactiveCandidate, got %v", err)
	}
	if _, err := m.Spend(ctx, "AB123", "", 1); !errors.Is(err, ErrInvalidOrUsedToken) {
		t.Fatalf("expected ErrInvalidOrUsedToken for empty token, got %v", err)
	}
}

func TestMarkUsed(t *testing.T) {
	m := NewManager(newLedger(), time.Minute)
	ctx := context.Background()
	g, _ := m.IssueOrReuse(ctx, "AB123")
	if _, err := m.MarkUsed(ctx, "AB123"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MarkUsed(ctx, "AB123"); !errors.Is(err, ErrInvalidOrUsedToken) {
		t.Fatalf("expected ErrInvalidOrUsedToken, got %v", err)
	}
	next, err := m.IssueOrReuse(ctx, "AB123")
	if err != nil || !next.IssuedNewly || next.Token == g.Token {
		t.Fatalf("expected fresh token after use, got %+v %v", next, err)
	}
}
