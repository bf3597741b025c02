package eth

import (
	"bytes"
	"context"
	"errors"
	"net"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"votechain.org/internal/ledger"
)

var customErrorCodes = map[string]ledger.Code{
	"ActiveTokenExists": ledger.CodeActiveTokenExists,
	"InvalidToken":      ledger.CodeInvalidToken,
	"InvalidCandidate":  ledger.CodeInvalidCandidate,
	"CandidateInactive": ledger.CodeInactiveCandidate,
}

// legacyReasons maps the exact Error(string) reasons of older deployments.
var legacyReasons = map[string]ledger.Code{
	"Active token exists":   ledger.CodeActiveTokenExists,
	"Invalid or used token": ledger.CodeInvalidToken,
	"Invalid candidate":     ledger.CodeInvalidCandidate,
	"Candidate not active":  ledger.CodeInactiveCandidate,
}

// classify turns a transport or execution error into a tagged ledger failure.
func classify(parsed abi.ABI, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *ledger.Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ledger.Unavailable(op, err)
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if out := decodeRevert(parsed, revertData(de.ErrorData())); out != nil {
			return out
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ledger.Unavailable(op, err)
	}
	return ledger.Fail(ledger.CodeOther, op, err)
}

// decodeRevert resolves revert data against the custom errors first, then the legacy
// Error(string) reasons. It returns nil when data carries no selector.
func decodeRevert(parsed abi.ABI, data []byte) *ledger.Error {
	if len(data) < 4 {
		return nil
	}
	for name, e := range parsed.Errors {
		if !bytes.Equal(data[:4], e.ID[:4]) {
			continue
		}
		if code, ok := customErrorCodes[name]; ok {
			return ledger.Fail(code, name, nil)
		}
		return ledger.Fail(ledger.CodeOther, name, nil)
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return ledger.Fail(ledger.CodeOther, hexutil.Encode(data[:4]), nil)
	}
	if code, ok := legacyReasons[reason]; ok {
		return ledger.Fail(code, reason, nil)
	}
	return ledger.Fail(ledger.CodeOther, reason, nil)
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	default:
		return nil
	}
}
