package faucet

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"

	"go-faucet/chain"
	"go-faucet/logger"
	"go-faucet/ratelimit"
	"go-faucet/tokens"
)

const (
	testWallet  = "0xabcdef0123456789abcdef0123456789abcdef01"
	usdcAddress = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
)

var testSender = common.HexToAddress("0xeFd86F9EA9b981edA887f984C7883481Ec665b65")

type fakeChain struct {
	mu sync.Mutex

	balance    *big.Int
	balanceErr error

	nonce      uint64
	nonceErrs  []error // consumed one per GetNonce call
	nonceCalls int
	nonceAt    []time.Time

	broadcastErrs  []error // consumed one per Broadcast call
	broadcastCalls int
	broadcastAt    []time.Time
	sent           []*types.Transaction
}

func (f *fakeChain) Sender() common.Address { return testSender }

func (f *fakeChain) GetNonce(_ context.Context, _ common.Address, includePending bool) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	f.nonceAt = append(f.nonceAt, time.Now())
	if !includePending {
		return 0, errors.New("pending nonce required")
	}
	if len(f.nonceErrs) > 0 {
		err := f.nonceErrs[0]
		f.nonceErrs = f.nonceErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.nonce, nil
}

func (f *fakeChain) GetTokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return new(big.Int).Lsh(big.NewInt(1), 100), nil
	}
	return f.balance, nil
}

func (f *fakeChain) BuildTransfer(contract, to common.Address, amount *big.Int, nonce, gasLimit uint64, gasPrice *big.Int) (*chain.PendingTransaction, error) {
	return chain.BuildTransfer(contract, to, amount, testSender, nonce, gasLimit, gasPrice, big.NewInt(11155111))
}

func (f *fakeChain) Sign(tx *chain.PendingTransaction) (*types.Transaction, error) {
	return tx.Tx(), nil
}

func (f *fakeChain) Broadcast(_ context.Context, signed *types.Transaction) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastCalls++
	f.broadcastAt = append(f.broadcastAt, time.Now())
	if len(f.broadcastErrs) > 0 {
		err := f.broadcastErrs[0]
		f.broadcastErrs = f.broadcastErrs[1:]
		if err != nil {
			// another sender took this nonce
			f.nonce++
			return common.Hash{}, err
		}
	}
	f.sent = append(f.sent, signed)
	f.nonce++
	return signed.Hash(), nil
}

type countingLimiter struct {
	*ratelimit.Limiter
	calls atomic.Int64
}

func (l *countingLimiter) CheckAndSet(ctx context.Context, key string) (bool, error) {
	l.calls.Inc()
	return l.Limiter.CheckAndSet(ctx, key)
}

func testTokens(t *testing.T) *tokens.Registry {
	t.Helper()
	r, err := tokens.NewRegistry([]tokens.Config{{Symbol: "USDC", Address: usdcAddress, Decimals: 6}})
	require.NoError(t, err)
	return r
}

func newTestIssuer(t *testing.T, c Chain, lim Limiter, opts ...Option) *Issuer {
	t.Helper()
	opts = append([]Option{
		WithLogger(logger.Test(t)),
		WithExplorerTxURL("https://sepolia.etherscan.io/tx/%s"),
		WithNonceRetry(DefaultNonceAttempts, 0),
		WithBroadcastRetry(DefaultBroadcastAttempts, 0),
		WithJitter(0, 0),
	}, opts...)
	i, err := NewIssuer(c, lim, testTokens(t), opts...)
	require.NoError(t, err)
	return i
}

func memLimiter(t *testing.T, window time.Duration) *countingLimiter {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return &countingLimiter{Limiter: ratelimit.New(store, window, logger.Test(t))}
}

// stubLimiter always refuses and reports a fixed status.
type stubLimiter struct {
	status ratelimit.Status
}

func (stubLimiter) CheckAndSet(context.Context, string) (bool, error) { return false, nil }
func (l stubLimiter) Status(context.Context, string) (ratelimit.Status, error) {
	return l.status, nil
}

func gaps(ts []time.Time) []time.Duration {
	var out []time.Duration
	for n := 1; n < len(ts); n++ {
		out = append(out, ts[n].Sub(ts[n-1]))
	}
	return out
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	require.Error(t, err)
	var fe *Error
	require.True(t, errors.As(err, &fe), "want *Error, got %T", err)
	assert.Equal(t, kind, fe.Kind)
	return fe
}

func TestIssue_Success(t *testing.T) {
	fc := &fakeChain{nonce: 7}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	d, err := i.Issue(context.Background(), testWallet, "usdc")
	require.NoError(t, err)

	assert.Equal(t, "USDC", d.Token.Symbol)
	assert.Equal(t, uint64(10), d.Amount)
	assert.Equal(t, "10000000", d.RawAmount.String())
	assert.Equal(t, common.HexToAddress(testWallet), d.Wallet)
	assert.True(t, ValidTxHash(d.TxHash), d.TxHash)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+d.TxHash, d.ExplorerURL)
	assert.Equal(t, uint64(7), d.Nonce)
	assert.Equal(t, 1, d.Attempts)
	assert.NotEmpty(t, d.RequestID)

	require.Len(t, fc.sent, 1)
	tx := fc.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(DefaultGasLimit), tx.Gas())
	assert.Equal(t, 0, tx.GasPrice().Cmp(DefaultGasPrice))
	assert.Equal(t, common.HexToAddress(usdcAddress), *tx.To())
	assert.Equal(t, 0, tx.Value().Sign())
}

func TestIssue_SecondCallRateLimited(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, memLimiter(t, 0))
	ctx := context.Background()

	_, err := i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)

	_, err = i.Issue(ctx, testWallet, "USDC")
	fe := requireKind(t, err, RateLimited)
	assert.Greater(t, fe.RetryAfter, 23*time.Hour)
	assert.LessOrEqual(t, fe.RetryAfter, 24*time.Hour)
	assert.Equal(t, 1, fc.broadcastCalls)

	// Wallet case does not open a second window.
	_, err = i.Issue(ctx, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01", "USDC")
	requireKind(t, err, RateLimited)
	assert.Equal(t, 1, fc.broadcastCalls)
}

func TestIssue_RateLimitedWithoutExpiryKeepsDefaultMessage(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, stubLimiter{status: ratelimit.Status{Limited: true}})

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	fe := requireKind(t, err, RateLimited)
	assert.Zero(t, fe.RetryAfter)
	assert.Contains(t, fe.Message, "Try again in 24h.")
	assert.NotContains(t, fe.Message, "0s")
	assert.Zero(t, fc.broadcastCalls)
}

func TestIssue_AdmittedAgainAfterWindow(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, memLimiter(t, 50*time.Millisecond))
	ctx := context.Background()

	_, err := i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)
	_, err = i.Issue(ctx, testWallet, "USDC")
	requireKind(t, err, RateLimited)

	time.Sleep(80 * time.Millisecond)
	_, err = i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 2, fc.broadcastCalls)
}

func TestIssue_AdmittedAgainAfterClear(t *testing.T) {
	fc := &fakeChain{}
	lim := memLimiter(t, 0)
	i := newTestIssuer(t, fc, lim)
	ctx := context.Background()

	_, err := i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)

	removed, err := lim.Clear(ctx, ratelimit.Key(common.HexToAddress(testWallet).Hex(), "USDC"))
	require.NoError(t, err)
	require.True(t, removed)

	_, err = i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)
}

func TestIssue_UnknownTokenHasNoSideEffects(t *testing.T) {
	fc := &fakeChain{}
	lim := memLimiter(t, 0)
	i := newTestIssuer(t, fc, lim)

	_, err := i.Issue(context.Background(), testWallet, "WBTC")
	requireKind(t, err, UnknownToken)
	assert.Zero(t, lim.calls.Load())
	assert.Zero(t, fc.nonceCalls)
	assert.Zero(t, fc.broadcastCalls)
}

func TestIssue_InvalidWallet(t *testing.T) {
	for _, w := range []string{"", "0x1234", "not-a-wallet", "0xAbCdEf0123456789aBcDeF0123456789AbCdEf02"} {
		t.Run(w, func(t *testing.T) {
			fc := &fakeChain{}
			lim := memLimiter(t, 0)
			i := newTestIssuer(t, fc, lim)

			_, err := i.Issue(context.Background(), w, "USDC")
			requireKind(t, err, InvalidInput)
			assert.Zero(t, lim.calls.Load())
			assert.Zero(t, fc.broadcastCalls)
		})
	}
}

func TestIssue_InsufficientBalance(t *testing.T) {
	fc := &fakeChain{balance: big.NewInt(9_999_999)}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	requireKind(t, err, InsufficientFaucetBalance)
	assert.Zero(t, fc.nonceCalls)
	assert.Zero(t, fc.broadcastCalls)
}

func TestIssue_BalanceCheckFailureIsAdvisory(t *testing.T) {
	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	fc := &fakeChain{balanceErr: errors.New("execution reverted")}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithLogger(lggr))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 1, fc.broadcastCalls)
	assert.Equal(t, 1, logs.FilterMessage("Advisory balance check failed, continuing").Len())
}

func TestIssue_CollisionRetriedWithFreshNonce(t *testing.T) {
	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	fc := &fakeChain{
		nonce: 3,
		broadcastErrs: []error{
			errors.New("nonce too low"),
			errors.New("replacement transaction underpriced"),
		},
	}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithLogger(lggr))

	d, err := i.Issue(context.Background(), testWallet, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, uint64(5), d.Nonce)
	assert.Equal(t, 3, fc.broadcastCalls)
	assert.Equal(t, 3, fc.nonceCalls)
	assert.Equal(t, 2, logs.FilterMessage("Broadcast collided with another transaction").Len())
}

func TestIssue_CollisionBudgetExhausted(t *testing.T) {
	fc := &fakeChain{
		broadcastErrs: []error{
			errors.New("already known"),
			errors.New("ALREADY KNOWN"),
			errors.New("could not replace existing tx"),
			errors.New("already known"),
		},
	}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	requireKind(t, err, BroadcastCollision)
	assert.Equal(t, DefaultBroadcastAttempts, fc.broadcastCalls)
	assert.Empty(t, fc.sent)
}

func TestIssue_OtherBroadcastErrorNotRetried(t *testing.T) {
	fc := &fakeChain{broadcastErrs: []error{errors.New("insufficient funds for gas * price + value")}}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	requireKind(t, err, ChainError)
	assert.Equal(t, 1, fc.broadcastCalls)
}

func TestIssue_NonceUnavailable(t *testing.T) {
	lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
	boom := errors.New("connection refused")
	fc := &fakeChain{nonceErrs: []error{boom, boom, boom, boom, boom}}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithLogger(lggr))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	fe := requireKind(t, err, NonceUnavailable)
	assert.True(t, errors.Is(fe, boom))
	assert.Equal(t, DefaultNonceAttempts, fc.nonceCalls)
	assert.Zero(t, fc.broadcastCalls)
	assert.GreaterOrEqual(t, logs.FilterMessage("Nonce read failed").Len(), DefaultNonceAttempts-1)
}

func TestIssue_NonceBackoffDoubles(t *testing.T) {
	boom := errors.New("connection refused")
	fc := &fakeChain{nonceErrs: []error{boom, boom, boom, boom, boom}}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithNonceRetry(5, 10*time.Millisecond))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	requireKind(t, err, NonceUnavailable)
	require.Len(t, fc.nonceAt, 5)

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for n, got := range gaps(fc.nonceAt) {
		assert.GreaterOrEqual(t, got, want[n], "gap %d", n)
		assert.Less(t, got, want[n]+60*time.Millisecond, "gap %d", n)
	}
}

func TestIssue_CollisionWaitsBeforeRetry(t *testing.T) {
	fc := &fakeChain{
		broadcastErrs: []error{
			errors.New("already known"),
			errors.New("already known"),
			errors.New("already known"),
		},
	}
	delay := 30 * time.Millisecond
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithBroadcastRetry(3, delay))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	requireKind(t, err, BroadcastCollision)
	require.Len(t, fc.broadcastAt, 3)
	for n, got := range gaps(fc.broadcastAt) {
		assert.GreaterOrEqual(t, got, delay, "gap %d", n)
	}
}

func TestIssue_JitterPausesBeforeNonceRead(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithJitter(20*time.Millisecond, 40*time.Millisecond))

	var (
		slept       []time.Duration
		nonceCalled []int
	)
	i.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		fc.mu.Lock()
		nonceCalled = append(nonceCalled, fc.nonceCalls)
		fc.mu.Unlock()
		return sleepCtx(ctx, d)
	}

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], 20*time.Millisecond)
	assert.Less(t, slept[0], 40*time.Millisecond)
	assert.Equal(t, []int{0}, nonceCalled)
	assert.Equal(t, 1, fc.nonceCalls)
}

func TestIssue_NonceRecoversWithinBudget(t *testing.T) {
	boom := errors.New("timeout")
	fc := &fakeChain{nonceErrs: []error{boom, boom, boom, boom}}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	_, err := i.Issue(context.Background(), testWallet, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 5, fc.nonceCalls)
	assert.Equal(t, 1, fc.broadcastCalls)
}

func TestIssue_RunsToCompletionAfterCancel(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, memLimiter(t, 0), WithJitter(20*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := i.Issue(ctx, testWallet, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 1, fc.broadcastCalls)
}

func TestIssue_ConcurrentDistinctWallets(t *testing.T) {
	fc := &fakeChain{}
	i := newTestIssuer(t, fc, memLimiter(t, 0))

	wallets := []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003",
		"0x0000000000000000000000000000000000000004",
	}
	var wg sync.WaitGroup
	errs := make([]error, len(wallets))
	for n, w := range wallets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[n] = i.Issue(context.Background(), w, "USDC")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, fc.sent, len(wallets))
}

func TestNewIssuer_Validation(t *testing.T) {
	lim := memLimiter(t, 0)
	_, err := NewIssuer(nil, lim, testTokens(t))
	require.Error(t, err)

	_, err = NewIssuer(&fakeChain{}, lim, testTokens(t), WithAmount(0))
	require.Error(t, err)

	_, err = NewIssuer(&fakeChain{}, lim, testTokens(t), WithBroadcastRetry(0, 0))
	require.Error(t, err)

	_, err = NewIssuer(&fakeChain{}, lim, testTokens(t), WithJitter(time.Second, time.Millisecond))
	require.Error(t, err)
}

func TestJitterWithinBounds(t *testing.T) {
	i, err := NewIssuer(&fakeChain{}, memLimiter(t, 0), testTokens(t))
	require.NoError(t, err)
	for range 100 {
		d := i.jitter()
		assert.GreaterOrEqual(t, d, DefaultJitterMin)
		assert.Less(t, d, DefaultJitterMax)
	}
}

func TestNormalizeTxHash(t *testing.T) {
	h := "ABCDEF0123456789abcdef0123456789ABCDEF0123456789abcdef0123456789"
	got := NormalizeTxHash(h)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", got)
	assert.True(t, ValidTxHash(got))
	assert.False(t, ValidTxHash("0x1234"))
	assert.False(t, ValidTxHash("0x"+h))
}
