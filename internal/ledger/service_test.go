package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"votechain.org/internal/identity"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLedger() (*InMemory, *clock) {
	c := &clock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	return NewInMemory(c.Now), c
}

func TestIssueAndValidate(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()

	iss, err := s.IssueToken(ctx, id, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if iss.Token == "" || iss.TxHash == "" {
		t.Fatalf("unexpected issuance %+v", iss)
	}
	ok, err := s.ValidateToken(ctx, id, iss.Token)
	if err != nil || !ok {
		t.Fatalf("expected valid token, ok=%v err=%v", ok, err)
	}
	if ok, _ := s.ValidateToken(ctx, id, "other"); ok {
		t.Fatal("foreign token must not validate")
	}
}

func TestIssueRejectsActiveToken(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()

	if _, err := s.IssueToken(ctx, id, time.Minute); err != nil {
		t.Fatal(err)
	}
	_, err := s.IssueToken(ctx, id, time.Minute)
	if !errors.Is(err, ErrActiveTokenExists) {
		t.Fatalf("expected ErrActiveTokenExists, got %v", err)
	}
	if CodeOf(err) != CodeActiveTokenExists {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}

func TestReissueAfterExpiry(t *testing.T) {
	s, c := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()

	first, _ := s.IssueToken(ctx, id, time.Minute)
	c.Advance(2 * time.Minute)
	if ok, _ := s.ValidateToken(ctx, id, first.Token); ok {
		t.Fatal("expired token must not validate")
	}
	second, err := s.IssueToken(ctx, id, time.Minute)
	if err != nil {
		t.Fatalf("reissue after expiry: %v", err)
	}
	if second.Token == first.Token {
		t.Fatal("expected a fresh token")
	}
}

func TestVoteSpendsTokenOnce(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()
	if _, err := s.AddCandidate(ctx, CandidateInput{NameEN: "A"}); err != nil {
		t.Fatal(err)
	}
	iss, _ := s.IssueToken(ctx, id, time.Minute)

	if _, err := s.VoteWithToken(ctx, id, iss.Token, 1); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := s.VoteWithToken(ctx, id, iss.Token, 1); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on second vote, got %v", err)
	}
	rec, _ := s.GetToken(ctx, id)
	if !rec.Used {
		t.Fatal("token must be marked used")
	}
}

func TestVoteUnknownCandidate(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()
	iss, _ := s.IssueToken(ctx, id, time.Minute)

	for _, cid := range []uint64{0, 7} {
		if _, err := s.VoteWithToken(ctx, id, iss.Token, cid); !errors.Is(err, ErrInvalidCandidate) {
			t.Fatalf("candidate %d: expected ErrInvalidCandidate, got %v", cid, err)
		}
	}
	if ok, _ := s.ValidateToken(ctx, id, iss.Token); !ok {
		t.Fatal("rejected vote must not consume the token")
	}
}

func TestMarkUsed(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()

	if _, err := s.MarkUsed(ctx, id); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without token, got %v", err)
	}
	iss, _ := s.IssueToken(ctx, id, time.Minute)
	if _, err := s.MarkUsed(ctx, id); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ValidateToken(ctx, id, iss.Token); ok {
		t.Fatal("used token must not validate")
	}
}

func TestEventsOrderedAndFiltered(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	_, _ = s.AddCandidate(ctx, CandidateInput{NameEN: "A"})
	_, _ = s.AddCandidate(ctx, CandidateInput{NameEN: "B"})
	id := identity.Canonical("AB123").Hash()
	iss, _ := s.IssueToken(ctx, id, time.Minute)
	rc, _ := s.VoteWithToken(ctx, id, iss.Token, 2)

	all, err := s.Events(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Candidate.ID != 1 || all[1].Candidate.ID != 2 || all[2].CandidateID != 2 {
		t.Fatalf("unexpected events %+v", all)
	}
	tail, _ := s.Events(ctx, rc.Block)
	if len(tail) != 1 || tail[0].Kind != EventVoteCast {
		t.Fatalf("unexpected tail %+v", tail)
	}
	if got := s.BlockNumber(); got != rc.Block {
		t.Fatalf("block number %d, want %d", got, rc.Block)
	}
}

func TestConcurrentIssueSingleWinner(t *testing.T) {
	s, _ := newLedger()
	ctx := context.Background()
	id := identity.Canonical("AB123").Hash()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IssueToken(ctx, id, time.Minute); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one issuance, got %d", winners)
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("spend: %w", Fail(CodeInactiveCandidate, "candidate 3", nil))
	if !errors.Is(err, ErrInactiveCandidate) {
		t.Fatal("expected match on code")
	}
	if errors.Is(err, ErrInvalidCandidate) {
		t.Fatal("unexpected match on other code")
	}
	if CodeOf(context.DeadlineExceeded) != CodeUnavailable {
		t.Fatal("deadline must classify as unavailable")
	}
	if CodeOf(errors.New("boom")) != CodeOther {
		t.Fatal("unknown error must classify as other")
	}
}
