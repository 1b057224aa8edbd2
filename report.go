package faucet

import (
	"fmt"
	"math"
	"net/http"

	"github.com/cockroachdb/errors"
)

// DisbursementResult is the caller-facing shape of an Issue outcome. Field
// names follow the JSON the faucet frontend already consumes.
type DisbursementResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	Wallet      string `json:"wallet,omitempty"`
	Token       string `json:"token,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	ExplorerURL string `json:"etherscan_url,omitempty"`

	Error             string    `json:"error,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
}

// Report formats the result of Issue. Exactly one of d and err is expected
// to be non-nil.
func Report(d *Disbursement, err error) DisbursementResult {
	if err != nil {
		return reportError(err)
	}
	if d == nil {
		return reportError(errors.New("no disbursement"))
	}
	return DisbursementResult{
		Success:     true,
		Message:     fmt.Sprintf("Sent %d %s to %s", d.Amount, d.Token.Symbol, d.Wallet.Hex()),
		Wallet:      d.Wallet.Hex(),
		Token:       d.Token.Symbol,
		Amount:      d.Amount,
		TxHash:      d.TxHash,
		ExplorerURL: d.ExplorerURL,
	}
}

func reportError(err error) DisbursementResult {
	res := DisbursementResult{ErrorKind: KindOf(err)}
	var fe *Error
	if errors.As(err, &fe) {
		res.Error = fe.Message
		if fe.RetryAfter > 0 {
			res.RetryAfterSeconds = int64(math.Ceil(fe.RetryAfter.Seconds()))
		}
	} else {
		res.Error = "unexpected error while sending tokens"
	}
	return res
}

// HTTPStatus maps an ErrorKind to the status code the HTTP layer answers with.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case InvalidInput, UnknownToken:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case InsufficientFaucetBalance, NonceUnavailable, BroadcastCollision:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
