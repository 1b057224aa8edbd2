package faucet

import (
	"context"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"go-faucet/chain"
	"go-faucet/logger"
	"go-faucet/ratelimit"
	"go-faucet/tokens"
)

const (
	DefaultAmount   = 10
	DefaultGasLimit = 120000

	DefaultNonceAttempts     = 5
	DefaultNonceBaseDelay    = 200 * time.Millisecond
	DefaultBroadcastAttempts = 3
	DefaultCollisionDelay    = 300 * time.Millisecond
	DefaultJitterMin         = 100 * time.Millisecond
	DefaultJitterMax         = 500 * time.Millisecond
)

// DefaultGasPrice is 3 gwei.
var DefaultGasPrice = big.NewInt(3_000_000_000)

// Chain is the node-facing collaborator of the Issuer. *chain.Client implements it.
type Chain interface {
	Sender() common.Address
	GetNonce(ctx context.Context, address common.Address, includePending bool) (uint64, error)
	GetTokenBalance(ctx context.Context, contract, owner common.Address) (*big.Int, error)
	BuildTransfer(contract, to common.Address, amount *big.Int, nonce, gasLimit uint64, gasPrice *big.Int) (*chain.PendingTransaction, error)
	Sign(tx *chain.PendingTransaction) (*types.Transaction, error)
	Broadcast(ctx context.Context, signed *types.Transaction) (common.Hash, error)
}

// Limiter gates requests per (wallet, token). *ratelimit.Limiter implements it.
type Limiter interface {
	CheckAndSet(ctx context.Context, key string) (bool, error)
	Status(ctx context.Context, key string) (ratelimit.Status, error)
}

// Registry resolves token symbols. *tokens.Registry implements it.
type Registry interface {
	Resolve(symbol string) (tokens.TokenDescriptor, error)
}

var (
	_ Chain    = (*chain.Client)(nil)
	_ Limiter  = (*ratelimit.Limiter)(nil)
	_ Registry = (*tokens.Registry)(nil)
)

// Issuer turns validated faucet requests into signed ERC-20 transfers from
// the shared sender account. It is safe for concurrent use and holds no lock
// across node calls.
type Issuer struct {
	chain    Chain
	limiter  Limiter
	registry Registry
	lggr     logger.Logger

	amount        uint64
	gasLimit      uint64
	gasPrice      *big.Int
	explorerTxURL string

	nonceAttempts     uint
	nonceBaseDelay    time.Duration
	broadcastAttempts uint
	collisionDelay    time.Duration
	jitterMin         time.Duration
	jitterMax         time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Issuer)

func WithLogger(lggr logger.Logger) Option {
	return func(i *Issuer) { i.lggr = lggr }
}

// WithAmount sets the whole-token amount sent per request.
func WithAmount(whole uint64) Option {
	return func(i *Issuer) { i.amount = whole }
}

func WithGas(limit uint64, price *big.Int) Option {
	return func(i *Issuer) {
		if limit > 0 {
			i.gasLimit = limit
		}
		if price != nil && price.Sign() > 0 {
			i.gasPrice = new(big.Int).Set(price)
		}
	}
}

// WithExplorerTxURL sets the explorer link template, e.g. "https://sepolia.etherscan.io/tx/%s".
func WithExplorerTxURL(template string) Option {
	return func(i *Issuer) { i.explorerTxURL = template }
}

func WithNonceRetry(attempts uint, baseDelay time.Duration) Option {
	return func(i *Issuer) {
		i.nonceAttempts = attempts
		i.nonceBaseDelay = baseDelay
	}
}

func WithBroadcastRetry(attempts uint, delay time.Duration) Option {
	return func(i *Issuer) {
		i.broadcastAttempts = attempts
		i.collisionDelay = delay
	}
}

// WithJitter sets the random pause taken before reading the nonce. A zero max disables it.
func WithJitter(min, max time.Duration) Option {
	return func(i *Issuer) {
		i.jitterMin = min
		i.jitterMax = max
	}
}

func NewIssuer(c Chain, limiter Limiter, registry Registry, opts ...Option) (*Issuer, error) {
	if c == nil || limiter == nil || registry == nil {
		return nil, errors.New("issuer needs a chain client, a limiter and a token registry")
	}
	i := &Issuer{
		chain:             c,
		limiter:           limiter,
		registry:          registry,
		lggr:              logger.Nop(),
		amount:            DefaultAmount,
		gasLimit:          DefaultGasLimit,
		gasPrice:          new(big.Int).Set(DefaultGasPrice),
		nonceAttempts:     DefaultNonceAttempts,
		nonceBaseDelay:    DefaultNonceBaseDelay,
		broadcastAttempts: DefaultBroadcastAttempts,
		collisionDelay:    DefaultCollisionDelay,
		jitterMin:         DefaultJitterMin,
		jitterMax:         DefaultJitterMax,
		sleep:             sleepCtx,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.amount == 0 {
		return nil, errors.New("disbursement amount must be positive")
	}
	if i.nonceAttempts == 0 || i.broadcastAttempts == 0 {
		return nil, errors.New("retry attempts must be positive")
	}
	if i.jitterMax < i.jitterMin {
		return nil, errors.Newf("jitter max %s is below min %s", i.jitterMax, i.jitterMin)
	}
	return i, nil
}

// Amount is the whole-token amount sent per request.
func (i *Issuer) Amount() uint64 { return i.amount }

func (i *Issuer) jitter() time.Duration {
	if i.jitterMax <= 0 {
		return 0
	}
	if i.jitterMax == i.jitterMin {
		return i.jitterMin
	}
	return i.jitterMin + rand.N(i.jitterMax-i.jitterMin)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
