// Package eth implements ledger.Service against a deployed VotingTokenIssuer contract.
package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"votechain.org/internal/ledger"
	"votechain.org/internal/obs"
)

// Backend is the node surface the adapter needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Config struct {
	RPCURL     string
	Address    string
	PrivateKey string
	// CallTimeout bounds reads; TxTimeout bounds a write up to its receipt.
	CallTimeout time.Duration
	TxTimeout   time.Duration
}

// Contract is the ledger.Service backed by the contract. It is safe for concurrent use;
// submissions from the single signer are serialized to keep nonces ordered.
type Contract struct {
	backend Backend
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	signer  *bind.TransactOpts

	callTimeout time.Duration
	txTimeout   time.Duration

	sendMu sync.Mutex
}

var _ ledger.Service = (*Contract)(nil)

// Dial connects to the node and prepares the signer.
func Dial(ctx context.Context, cfg Config) (*Contract, *ethclient.Client, error) {
	if !common.IsHexAddress(cfg.Address) {
		return nil, nil, fmt.Errorf("eth: invalid contract address %q", cfg.Address)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("eth: parse signing key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("eth: dial %s: %w", cfg.RPCURL, err)
	}
	c, err := New(ctx, client, common.HexToAddress(cfg.Address), key, cfg.CallTimeout, cfg.TxTimeout)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client, nil
}

// New binds the contract at address on backend, signing with key.
func New(ctx context.Context, backend Backend, address common.Address, key *ecdsa.PrivateKey, callTimeout, txTimeout time.Duration) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(issuerABI))
	if err != nil {
		return nil, fmt.Errorf("eth: parse abi: %w", err)
	}
	cctx, cancel := ledger.WithTimeout(ctx, callTimeout)
	defer cancel()
	chainID, err := backend.ChainID(cctx)
	if err != nil {
		return nil, ledger.Unavailable("chainId", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("eth: signer: %w", err)
	}
	if txTimeout <= 0 {
		txTimeout = 60 * time.Second
	}
	return &Contract{
		backend:     backend,
		address:     address,
		abi:         parsed,
		bound:       bind.NewBoundContract(address, parsed, backend, backend, backend),
		signer:      signer,
		callTimeout: callTimeout,
		txTimeout:   txTimeout,
	}, nil
}

func (c *Contract) GetToken(ctx context.Context, id ledger.Hash) (ledger.TokenRecord, error) {
	var out []interface{}
	if err := c.call(ctx, "getToken", &out, [32]byte(id)); err != nil {
		return ledger.TokenRecord{}, err
	}
	if len(out) != 3 {
		return ledger.TokenRecord{}, ledger.Fail(ledger.CodeOther, "getToken: unexpected output", nil)
	}
	token, _ := out[0].(string)
	expires, _ := out[1].(*big.Int)
	used, _ := out[2].(bool)
	return ledger.TokenRecord{Token: token, ExpiresAt: unixTime(expires), Used: used}, nil
}

func (c *Contract) ValidateToken(ctx context.Context, id ledger.Hash, token string) (bool, error) {
	var out []interface{}
	if err := c.call(ctx, "validateToken", &out, [32]byte(id), token); err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, ledger.Fail(ledger.CodeOther, "validateToken: unexpected output", nil)
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (c *Contract) IssueToken(ctx context.Context, id ledger.Hash, ttl time.Duration) (ledger.Issued, error) {
	rcpt, err := c.transact(ctx, "issueToken", [32]byte(id), big.NewInt(int64(ttl/time.Second)))
	if err != nil {
		return ledger.Issued{}, err
	}
	out := ledger.Issued{TxHash: rcpt.TxHash.Hex()}
	for _, lg := range rcpt.Logs {
		ev, err := c.decodeTokenIssued(*lg)
		if err != nil || common.Hash(ev.IdHash) != id {
			continue
		}
		out.Token = ev.Token
		out.ExpiresAt = unixTime(ev.ExpiresAt)
		break
	}
	return out, nil
}

func (c *Contract) MarkUsed(ctx context.Context, id ledger.Hash) (ledger.Receipt, error) {
	rcpt, err := c.transact(ctx, "markUsed", [32]byte(id))
	if err != nil {
		return ledger.Receipt{}, err
	}
	return toReceipt(rcpt), nil
}

func (c *Contract) VoteWithToken(ctx context.Context, id ledger.Hash, token string, candidateID uint64) (ledger.Receipt, error) {
	rcpt, err := c.transact(ctx, "voteWithToken", [32]byte(id), token, new(big.Int).SetUint64(candidateID))
	if err != nil {
		return ledger.Receipt{}, err
	}
	return toReceipt(rcpt), nil
}

func (c *Contract) AddCandidate(ctx context.Context, in ledger.CandidateInput) (ledger.Receipt, error) {
	rcpt, err := c.transact(ctx, "addCandidate", in.NameEN, in.NameKH, in.Party, in.PhotoURL)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return toReceipt(rcpt), nil
}

// Events replays CandidateAdded and VoteCast logs of the contract from fromBlock.
func (c *Contract) Events(ctx context.Context, fromBlock uint64) ([]ledger.Event, error) {
	start := time.Now()
	ctx, cancel := ledger.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{{
			c.abi.Events["CandidateAdded"].ID,
			c.abi.Events["VoteCast"].ID,
		}},
	})
	if err != nil {
		err = classify(c.abi, "events", err)
		obs.ObserveLedgerCall("events", start, err)
		return nil, err
	}
	obs.ObserveLedgerCall("events", start, nil)

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	events := make([]ledger.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := c.decodeEvent(lg)
		if err != nil {
			obs.Warn("ledger_log_undecodable", map[string]any{
				"block": lg.BlockNumber,
				"index": lg.Index,
				"tx":    lg.TxHash.Hex(),
				"error": err.Error(),
			})
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Contract) Ping(ctx context.Context) error {
	ctx, cancel := ledger.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.backend.BlockNumber(ctx); err != nil {
		return ledger.Unavailable("blockNumber", err)
	}
	return nil
}

func (c *Contract) call(ctx context.Context, op string, out *[]interface{}, args ...interface{}) error {
	start := time.Now()
	ctx, cancel := ledger.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	err := classify(c.abi, op, c.bound.Call(&bind.CallOpts{Context: ctx}, out, op, args...))
	obs.ObserveLedgerCall(op, start, err)
	return err
}

// transact simulates the write to surface revert data, submits it and waits for the receipt.
func (c *Contract) transact(ctx context.Context, op string, args ...interface{}) (*types.Receipt, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	rcpt, err := c.send(ctx, op, args...)
	obs.ObserveLedgerCall(op, start, err)
	return rcpt, err
}

func (c *Contract) send(ctx context.Context, op string, args ...interface{}) (*types.Receipt, error) {
	if err := c.simulate(ctx, op, args...); err != nil {
		return nil, err
	}

	c.sendMu.Lock()
	opts := *c.signer
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, op, args...)
	c.sendMu.Unlock()
	if err != nil {
		return nil, classify(c.abi, op, err)
	}

	rcpt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, classify(c.abi, op, err)
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		return rcpt, nil
	}
	// The receipt carries no reason; replaying the call against current state recovers it.
	if err := c.simulate(ctx, op, args...); err != nil {
		return nil, err
	}
	return nil, ledger.Fail(ledger.CodeOther, op+": transaction reverted "+tx.Hash().Hex(), nil)
}

func (c *Contract) simulate(ctx context.Context, op string, args ...interface{}) error {
	input, err := c.abi.Pack(op, args...)
	if err != nil {
		return ledger.Fail(ledger.CodeOther, op+": pack", err)
	}
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.From,
		To:   &c.address,
		Data: input,
	}, nil)
	return classify(c.abi, op, err)
}

type tokenIssuedLog struct {
	IdHash    [32]byte
	Token     string
	ExpiresAt *big.Int
}

type candidateAddedLog struct {
	Id       *big.Int
	NameEn   string
	NameKh   string
	Party    string
	PhotoUrl string
}

type voteCastLog struct {
	CandidateId *big.Int
}

func (c *Contract) decodeTokenIssued(lg types.Log) (tokenIssuedLog, error) {
	var ev tokenIssuedLog
	err := c.bound.UnpackLog(&ev, "TokenIssued", lg)
	return ev, err
}

var errUnknownEvent = errors.New("eth: unknown event")

func (c *Contract) decodeEvent(lg types.Log) (ledger.Event, error) {
	if len(lg.Topics) == 0 {
		return ledger.Event{}, errUnknownEvent
	}
	out := ledger.Event{Block: lg.BlockNumber, Index: lg.Index}
	switch lg.Topics[0] {
	case c.abi.Events["CandidateAdded"].ID:
		var ev candidateAddedLog
		if err := c.bound.UnpackLog(&ev, "CandidateAdded", lg); err != nil {
			return ledger.Event{}, err
		}
		if ev.Id == nil || !ev.Id.IsUint64() {
			return ledger.Event{}, fmt.Errorf("eth: candidate id out of range")
		}
		out.Kind = ledger.EventCandidateAdded
		out.Candidate = ledger.Candidate{
			ID:       ev.Id.Uint64(),
			NameEN:   ev.NameEn,
			NameKH:   ev.NameKh,
			Party:    ev.Party,
			PhotoURL: ev.PhotoUrl,
			Active:   true,
		}
	case c.abi.Events["VoteCast"].ID:
		var ev voteCastLog
		if err := c.bound.UnpackLog(&ev, "VoteCast", lg); err != nil {
			return ledger.Event{}, err
		}
		if ev.CandidateId == nil || !ev.CandidateId.IsUint64() {
			return ledger.Event{}, fmt.Errorf("eth: vote candidate id out of range")
		}
		out.Kind = ledger.EventVoteCast
		out.CandidateID = ev.CandidateId.Uint64()
	default:
		return ledger.Event{}, errUnknownEvent
	}
	return out, nil
}

func toReceipt(r *types.Receipt) ledger.Receipt {
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return ledger.Receipt{TxHash: r.TxHash.Hex(), Block: block}
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
