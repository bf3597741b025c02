package ledger

import (
	"time"

	"votechain.org/internal/identity"
)

// Hash keys every token operation. It is the Keccak-256 digest of a canonical identity key.
type Hash = identity.Hash

// TokenRecord is the ledger-owned token state of one identity.
type TokenRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Empty reports whether no token was ever issued for the identity.
func (r TokenRecord) Empty() bool { return r.Token == "" }

// Issued is the outcome of a successful issueToken transaction. Token is empty when the
// receipt carried no decodable TokenIssued log.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	TxHash    string
}

// Receipt identifies a finalized ledger write.
type Receipt struct {
	TxHash string `json:"tx_hash"`
	Block  uint64 `json:"block"`
}

// CandidateInput carries the fields of a new candidate.
type CandidateInput struct {
	NameEN   string `json:"name_en"`
	NameKH   string `json:"name_kh"`
	Party    string `json:"party"`
	PhotoURL string `json:"photo_url"`
}

// Candidate is an append-only ledger candidate.
type Candidate struct {
	ID       uint64 `json:"id"`
	NameEN   string `json:"name_en"`
	NameKH   string `json:"name_kh"`
	Party    string `json:"party"`
	PhotoURL string `json:"photo_url"`
	Active   bool   `json:"is_active"`
}

type EventKind int

const (
	EventCandidateAdded EventKind = iota + 1
	EventVoteCast
)

func (k EventKind) String() string {
	switch k {
	case EventCandidateAdded:
		return "CandidateAdded"
	case EventVoteCast:
		return "VoteCast"
	default:
		return "unknown"
	}
}

// Event is one decoded ledger log entry. Events are ordered by (Block, Index).
type Event struct {
	Block uint64
	Index uint
	Kind  EventKind
	// Candidate is set for EventCandidateAdded.
	Candidate Candidate
	// CandidateID is set for EventVoteCast.
	CandidateID uint64
}

// After reports whether e comes strictly after the position (block, index) in ledger order.
func (e Event) After(block uint64, index uint) bool {
	if e.Block != block {
		return e.Block > block
	}
	return e.Index > index
}
