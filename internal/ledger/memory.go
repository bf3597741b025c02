package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// InMemory implements Service with the contract's semantics in process. Every write is
// mined into its own block.
type InMemory struct {
	mu         sync.RWMutex
	now        func() time.Time
	block      uint64
	tokens     map[Hash]*TokenRecord
	candidates []Candidate
	events     []Event
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger. A nil clock means time.Now.
func NewInMemory(now func() time.Time) *InMemory {
	if now == nil {
		now = time.Now
	}
	return &InMemory{
		now:    now,
		tokens: make(map[Hash]*TokenRecord),
	}
}

func (s *InMemory) GetToken(ctx context.Context, id Hash) (TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return TokenRecord{}, Unavailable("getToken", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[id]
	if !ok {
		return TokenRecord{}, nil
	}
	return *rec, nil
}

func (s *InMemory) ValidateToken(ctx context.Context, id Hash, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Unavailable("validateToken", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked(id, token), nil
}

func (s *InMemory) IssueToken(ctx context.Context, id Hash, ttl time.Duration) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, Unavailable("issueToken", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.tokens[id]; ok && s.activeLocked(rec) {
		return Issued{}, ErrActiveTokenExists
	}
	rc := s.mineLocked()
	rec := &TokenRecord{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExpiresAt: time.Unix(s.now().Add(ttl).Unix(), 0).UTC(),
	}
	s.tokens[id] = rec
	return Issued{Token: rec.Token, ExpiresAt: rec.ExpiresAt, TxHash: rc.TxHash}, nil
}

func (s *InMemory) MarkUsed(ctx context.Context, id Hash) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable("markUsed", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[id]
	if !ok || !s.activeLocked(rec) {
		return Receipt{}, ErrInvalidToken
	}
	rec.Used = true
	return s.mineLocked(), nil
}

func (s *InMemory) VoteWithToken(ctx context.Context, id Hash, token string, candidateID uint64) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable("voteWithToken", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(id, token) {
		return Receipt{}, ErrInvalidToken
	}
	if candidateID == 0 || candidateID > uint64(len(s.candidates)) {
		return Receipt{}, ErrInvalidCandidate
	}
	if !s.candidates[candidateID-1].Active {
		return Receipt{}, ErrInactiveCandidate
	}
	s.tokens[id].Used = true
	rc := s.mineLocked()
	s.events = append(s.events, Event{Block: rc.Block, Kind: EventVoteCast, CandidateID: candidateID})
	return rc, nil
}

func (s *InMemory) AddCandidate(ctx context.Context, in CandidateInput) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Unavailable("addCandidate", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Candidate{
		ID:       uint64(len(s.candidates)) + 1,
		NameEN:   in.NameEN,
		NameKH:   in.NameKH,
		Party:    in.Party,
		PhotoURL: in.PhotoURL,
		Active:   true,
	}
	s.candidates = append(s.candidates, c)
	rc := s.mineLocked()
	s.events = append(s.events, Event{Block: rc.Block, Kind: EventCandidateAdded, Candidate: c})
	return rc, nil
}

func (s *InMemory) Events(ctx context.Context, fromBlock uint64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("events", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Event
	for _, ev := range s.events {
		if ev.Block >= fromBlock {
			res = append(res, ev)
		}
	}
	return res, nil
}

func (s *InMemory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

// BlockNumber returns the number of the latest mined block.
func (s *InMemory) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block
}

func (s *InMemory) activeLocked(rec *TokenRecord) bool {
	return !rec.Used && s.now().Before(rec.ExpiresAt)
}

func (s *InMemory) validLocked(id Hash, token string) bool {
	rec, ok := s.tokens[id]
	return ok && token != "" && rec.Token == token && s.activeLocked(rec)
}

func (s *InMemory) mineLocked() Receipt {
	s.block++
	tx := crypto.Keccak256Hash([]byte(fmt.Sprintf("inmemory-tx-%d", s.block)))
	return Receipt{TxHash: tx.Hex(), Block: s.block}
}
