package faucet

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"go-faucet/logger"
	"go-faucet/networks"
	"go-faucet/ratelimit"
	"go-faucet/tokens"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// Disbursement describes a transfer that was accepted by the node.
type Disbursement struct {
	RequestID   string
	Wallet      common.Address
	Token       tokens.TokenDescriptor
	Amount      uint64
	RawAmount   *big.Int
	TxHash      string
	ExplorerURL string
	Nonce       uint64
	Attempts    int
}

// Issue sends the configured amount of tokenSymbol to wallet. Failures are
// returned as *Error. Once the rate limiter admits the request, Issue runs to
// completion even if ctx is cancelled; each node call has its own timeout.
func (i *Issuer) Issue(ctx context.Context, wallet, tokenSymbol string) (*Disbursement, error) {
	requestID := uuid.NewString()
	lggr := i.lggr.With("requestID", requestID, "wallet", wallet, "token", tokenSymbol)

	token, err := i.registry.Resolve(tokenSymbol)
	if err != nil {
		lggr.Infow("Rejected request for unknown token")
		return nil, newError(UnknownToken, fmt.Sprintf("token %q is not supported", tokenSymbol), err)
	}
	recipient, err := ParseWallet(wallet)
	if err != nil {
		lggr.Infow("Rejected request with invalid wallet", "err", err)
		return nil, newError(InvalidInput, err.Error(), nil)
	}

	key := ratelimit.Key(recipient.Hex(), token.Symbol)
	admitted, err := i.limiter.CheckAndSet(ctx, key)
	if err != nil {
		lggr.Errorw("Rate limit check failed", "key", key, "err", err)
		return nil, newError(ChainError, "rate limit store unavailable", err)
	}
	if !admitted {
		return nil, i.rateLimited(ctx, lggr, key, token.Symbol)
	}

	// Admitted: the cooldown is already spent, so finish regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	amount := token.Amount(i.amount)
	sender := i.chain.Sender()

	balance, err := i.chain.GetTokenBalance(ctx, token.ContractAddress, sender)
	switch {
	case err != nil:
		lggr.Warnw("Advisory balance check failed, continuing", "err", err)
	case balance.Cmp(amount) < 0:
		lggr.Errorw("Faucet balance too low", "balance", balance.String(), "required", amount.String())
		return nil, newError(InsufficientFaucetBalance,
			fmt.Sprintf("faucet is out of %s, please try again later", token.Symbol), nil)
	}

	if err := i.sleep(ctx, i.jitter()); err != nil {
		return nil, newError(ChainError, "interrupted before sending", err)
	}

	hash, nonce, attempts, err := i.send(ctx, lggr, token, recipient, amount)
	if err != nil {
		return nil, err
	}

	txHash := NormalizeTxHash(hash.Hex())
	if !ValidTxHash(txHash) {
		lggr.Warnw("Node returned an anomalous transaction hash", "hash", txHash)
	}
	lggr.Infow("Disbursement broadcast", "txHash", txHash, "nonce", nonce, "attempts", attempts)

	return &Disbursement{
		RequestID:   requestID,
		Wallet:      recipient,
		Token:       token,
		Amount:      i.amount,
		RawAmount:   amount,
		TxHash:      txHash,
		ExplorerURL: networks.ExplorerURL(i.explorerTxURL, txHash),
		Nonce:       nonce,
		Attempts:    attempts,
	}, nil
}

func (i *Issuer) rateLimited(ctx context.Context, lggr logger.Logger, key, symbol string) error {
	e := newError(RateLimited, fmt.Sprintf("Rate limit reached for %s. Try again in 24h.", symbol), nil)
	st, err := i.limiter.Status(ctx, key)
	if err != nil {
		lggr.Warnw("Rate limit status lookup failed", "key", key, "err", err)
	} else if secs := st.RemainingSeconds(); st.Limited && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
		e.Message = fmt.Sprintf("Rate limit reached for %s. Try again in %s.", symbol, e.RetryAfter)
	}
	lggr.Infow("Request rate limited", "key", key, "retryAfter", e.RetryAfter)
	return e
}

// collisionError marks a broadcast rejected because the nonce was taken.
type collisionError struct {
	kind  BroadcastErrorKind
	nonce uint64
	err   error
}

func (e *collisionError) Error() string {
	return fmt.Sprintf("nonce %d collided (%s): %v", e.nonce, e.kind, e.err)
}

func (e *collisionError) Unwrap() error { return e.err }

func isCollision(err error) bool {
	var ce *collisionError
	return errors.As(err, &ce)
}

// send builds, signs and broadcasts the transfer. Each attempt reads a fresh
// pending nonce; only nonce collisions are retried.
func (i *Issuer) send(ctx context.Context, lggr logger.Logger, token tokens.TokenDescriptor, to common.Address, amount *big.Int) (common.Hash, uint64, int, error) {
	var (
		hash     common.Hash
		nonce    uint64
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			n, err := i.acquireNonce(ctx, lggr.With("attempt", attempts))
			if err != nil {
				return err
			}
			nonce = n

			pending, err := i.chain.BuildTransfer(token.ContractAddress, to, amount, nonce, i.gasLimit, i.gasPrice)
			if err != nil {
				lggr.Errorw("Building transfer failed", "attempt", attempts, "err", err)
				return newError(ChainError, "could not build transfer", err)
			}
			signed, err := i.chain.Sign(pending)
			if err != nil {
				lggr.Errorw("Signing transfer failed", "attempt", attempts, "err", err)
				return newError(ChainError, "could not sign transfer", err)
			}
			h, err := i.chain.Broadcast(ctx, signed)
			if err != nil {
				if kind := ClassifyBroadcastError(err); kind.IsCollision() {
					lggr.Warnw("Broadcast collided with another transaction",
						"attempt", attempts, "maxAttempts", i.broadcastAttempts, "nonce", nonce, "collision", kind.String(), "err", err)
					return &collisionError{kind: kind, nonce: nonce, err: err}
				}
				lggr.Errorw("Broadcast failed", "attempt", attempts, "nonce", nonce, "err", err)
				return newError(ChainError, "node rejected the transaction", err)
			}
			hash = h
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(i.broadcastAttempts),
		retry.Delay(i.collisionDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isCollision),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return hash, nonce, attempts, nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return common.Hash{}, 0, attempts, fe
	}
	if isCollision(err) {
		lggr.Errorw("Broadcast retries exhausted on nonce collisions", "attempts", attempts, "err", err)
		return common.Hash{}, 0, attempts, newError(BroadcastCollision,
			"faucet is busy, please try again shortly", err)
	}
	return common.Hash{}, 0, attempts, newError(ChainError, "sending transaction failed", err)
}

// acquireNonce reads the sender's pending nonce with exponential backoff.
func (i *Issuer) acquireNonce(ctx context.Context, lggr logger.Logger) (uint64, error) {
	sender := i.chain.Sender()
	base := i.nonceBaseDelay
	nonce, err := retry.DoWithData(
		func() (uint64, error) {
			return i.chain.GetNonce(ctx, sender, true)
		},
		retry.Context(ctx),
		retry.Attempts(i.nonceAttempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			if n > 0 {
				n--
			}
			return base << n
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			lggr.Warnw("Nonce read failed", "nonceAttempt", n+1, "maxAttempts", i.nonceAttempts, "err", err)
		}),
	)
	if err != nil {
		lggr.Errorw("Nonce unavailable after retries", "maxAttempts", i.nonceAttempts, "err", err)
		return 0, newError(NonceUnavailable, "could not read the faucet nonce, please try again later", err)
	}
	lggr.Debugw("Nonce acquired", "nonce", nonce)
	return nonce, nil
}

// NormalizeTxHash lowercases h and ensures the 0x prefix.
func NormalizeTxHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

// ValidTxHash reports whether h is 0x followed by 64 lowercase hex digits.
func ValidTxHash(h string) bool {
	return txHashPattern.MatchString(h)
}
