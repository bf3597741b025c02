package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"votechain.org/internal/identity"
	"votechain.org/internal/ledger"
)

var testAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func newTestContract(t *testing.T) *Contract {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(issuerABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &Contract{
		address: testAddress,
		abi:     parsed,
		bound:   bind.NewBoundContract(testAddress, parsed, nil, nil, nil),
	}
}

type revertError struct{ data string }

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

func legacyRevert(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		t.Fatal(err)
	}
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestClassifyCustomErrors(t *testing.T) {
	c := newTestContract(t)
	cases := map[string]error{
		"ActiveTokenExists": ledger.ErrActiveTokenExists,
		"InvalidToken":      ledger.ErrInvalidToken,
		"InvalidCandidate":  ledger.ErrInvalidCandidate,
		"CandidateInactive": ledger.ErrInactiveCandidate,
	}
	for name, want := range cases {
		id := c.abi.Errors[name].ID
		err := classify(c.abi, "op", fmt.Errorf("wrapped: %w", revertError{data: hexutil.Encode(id[:4])}))
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", name, want, err)
		}
	}
}

func TestClassifyLegacyReasons(t *testing.T) {
	c := newTestContract(t)
	cases := map[string]ledger.Code{
		"Active token exists":   ledger.CodeActiveTokenExists,
		"Invalid or used token": ledger.CodeInvalidToken,
		"Invalid candidate":     ledger.CodeInvalidCandidate,
		"Candidate not active":  ledger.CodeInactiveCandidate,
		"Only admin":            ledger.CodeOther,
		"active token exists":   ledger.CodeOther,
	}
	for reason, want := range cases {
		err := classify(c.abi, "op", revertError{data: legacyRevert(t, reason)})
		if got := ledger.CodeOf(err); got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", reason, want, got, err)
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyTransportFailures(t *testing.T) {
	c := newTestContract(t)
	var _ net.Error = timeoutError{}

	if got := ledger.CodeOf(classify(c.abi, "op", context.DeadlineExceeded)); got != ledger.CodeUnavailable {
		t.Fatalf("deadline: got %s", got)
	}
	if got := ledger.CodeOf(classify(c.abi, "op", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutError{}})); got != ledger.CodeUnavailable {
		t.Fatalf("dial: got %s", got)
	}
	if got := ledger.CodeOf(classify(c.abi, "op", errors.New("nonce too low"))); got != ledger.CodeOther {
		t.Fatalf("other: got %s", got)
	}
	if classify(c.abi, "op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestDecodeEvents(t *testing.T) {
	c := newTestContract(t)

	added := c.abi.Events["CandidateAdded"]
	data, err := added.Inputs.NonIndexed().Pack("JOHN DOE", "ចន ដូ", "Party A", "https://example.org/a.png")
	if err != nil {
		t.Fatal(err)
	}
	ev, err := c.decodeEvent(types.Log{
		Address:     testAddress,
		Topics:      []common.Hash{added.ID, common.BigToHash(big.NewInt(3))},
		Data:        data,
		BlockNumber: 12,
		Index:       2,
	})
	if err != nil {
		t.Fatalf("decode CandidateAdded: %v", err)
	}
	if ev.Kind != ledger.EventCandidateAdded || ev.Block != 12 || ev.Index != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Candidate.ID != 3 || ev.Candidate.NameKH != "ចន ដូ" || ev.Candidate.PhotoURL != "https://example.org/a.png" || !ev.Candidate.Active {
		t.Fatalf("unexpected candidate %+v", ev.Candidate)
	}

	vote := c.abi.Events["VoteCast"]
	ev, err = c.decodeEvent(types.Log{
		Address:     testAddress,
		Topics:      []common.Hash{vote.ID, common.BigToHash(big.NewInt(3))},
		BlockNumber: 13,
	})
	if err != nil {
		t.Fatalf("decode VoteCast: %v", err)
	}
	if ev.Kind != ledger.EventVoteCast || ev.CandidateID != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := c.decodeEvent(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}

func TestDecodeTokenIssued(t *testing.T) {
	c := newTestContract(t)
	id := identity.Canonical("AB123").Hash()
	issued := c.abi.Events["TokenIssued"]
	expires := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	data, err := issued.Inputs.NonIndexed().Pack("tok-1", big.NewInt(expires.Unix()))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := c.decodeTokenIssued(types.Log{Topics: []common.Hash{issued.ID, id}, Data: data})
	if err != nil {
		t.Fatalf("decode TokenIssued: %v", err)
	}
	if common.Hash(ev.IdHash) != id || ev.Token != "tok-1" || !unixTime(ev.ExpiresAt).Equal(expires) {
		t.Fatalf("unexpected log %+v", ev)
	}
}
