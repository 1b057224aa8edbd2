package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"go-faucet/logger"
)

// DefaultTimeout bounds every node call made by the Client.
const DefaultTimeout = 10 * time.Second

// Error is a node or network failure seen by the Client.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Backend is the subset of ethclient.Client the adapter needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Client owns the node connection and the sender key. The underlying
// ethclient is safe for concurrent use, so one Client serves all requests.
type Client struct {
	backend Backend
	signer  *Signer
	chainID *big.Int
	timeout time.Duration
	lggr    logger.Logger
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Dial connects to rpcURL and returns a Client signing for chainID.
func Dial(ctx context.Context, rpcURL string, chainID uint64, signer *Signer, lggr logger.Logger, opts ...Option) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	ec, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	return New(ec, chainID, signer, lggr, opts...), nil
}

func New(backend Backend, chainID uint64, signer *Signer, lggr logger.Logger, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		signer:  signer,
		chainID: new(big.Int).SetUint64(chainID),
		timeout: DefaultTimeout,
		lggr:    lggr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Sender() common.Address { return c.signer.Address() }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// VerifyChainID fails when the node serves a different chain than configured.
func (c *Client) VerifyChainID(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	remote, err := c.backend.ChainID(ctx)
	if err != nil {
		return &Error{Op: "chainId", Err: err}
	}
	if remote.Cmp(c.chainID) != 0 {
		return errors.Newf("node reports chain id %s, configured %s", remote, c.chainID)
	}
	return nil
}

// GetNonce reads the transaction count of address. includePending counts
// transactions still in the node's pool.
func (c *Client) GetNonce(ctx context.Context, address common.Address, includePending bool) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		nonce uint64
		err   error
	)
	if includePending {
		nonce, err = c.backend.PendingNonceAt(ctx, address)
	} else {
		nonce, err = c.backend.NonceAt(ctx, address, nil)
	}
	if err != nil {
		return 0, &Error{Op: "getTransactionCount", Err: err}
	}
	return nonce, nil
}

// GetTokenBalance calls balanceOf(owner) on contract at the latest block.
func (c *Client) GetTokenBalance(ctx context.Context, contract, owner common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, &Error{Op: "call balanceOf", Err: err}
	}
	balance, err := unpackBalanceOf(out)
	if err != nil {
		return nil, &Error{Op: "call balanceOf", Err: err}
	}
	return balance, nil
}

// BuildTransfer builds an unsigned transfer from the sender for this chain.
func (c *Client) BuildTransfer(contract, to common.Address, amount *big.Int, nonce, gasLimit uint64, gasPrice *big.Int) (*PendingTransaction, error) {
	return BuildTransfer(contract, to, amount, c.Sender(), nonce, gasLimit, gasPrice, c.chainID)
}

// Sign signs tx with the sender key.
func (c *Client) Sign(tx *PendingTransaction) (*types.Transaction, error) {
	if tx.From != c.Sender() {
		return nil, errors.Newf("transaction from %s cannot be signed by %s", tx.From.Hex(), c.Sender().Hex())
	}
	return c.signer.SignTx(tx.Tx(), tx.ChainID)
}

// Broadcast submits signed via eth_sendRawTransaction and returns its hash
// without waiting for inclusion.
func (c *Client) Broadcast(ctx context.Context, signed *types.Transaction) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &Error{Op: "sendRawTransaction", Err: err}
	}
	c.lggr.Debugw("Transaction broadcast", "hash", signed.Hash().Hex(), "nonce", signed.Nonce())
	return signed.Hash(), nil
}

func (c *Client) Close() {
	c.backend.Close()
}
