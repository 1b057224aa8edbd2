package loadrun

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	faucet "go-faucet"
	"go-faucet/logger"
)

type Config struct {
	BaseURL     string
	Token       string
	Requests    int
	Concurrency int
	// Rate caps requests per second across all workers. Zero means unpaced.
	Rate    float64
	Timeout time.Duration
	// Seed makes recipient wallets deterministic; empty picks random wallets.
	Seed string
	// Repeat sends this many requests per wallet, to exercise the rate limiter.
	Repeat int
}

func (c Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url is required")
	case c.Token == "":
		return errors.New("token is required")
	case c.Requests <= 0:
		return errors.New("requests must be positive")
	case c.Concurrency <= 0:
		return errors.New("concurrency must be positive")
	}
	return nil
}

// Result is the outcome of one faucet request.
type Result struct {
	Wallet    common.Address
	Status    int
	Success   bool
	ErrorKind string
	TxHash    string
	Duration  time.Duration
	Err       error
}

type Runner struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
	lggr    logger.Logger

	inFlight  atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
}

func NewRunner(cfg Config, lggr logger.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Repeat <= 0 {
		cfg.Repeat = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Runner{
		cfg: cfg,
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		limiter: rate.NewLimiter(limit, 1),
		lggr:    lggr,
	}, nil
}

// Run fires cfg.Requests faucet requests through a pool of cfg.Concurrency
// workers and returns every result together with the wall-clock time taken.
func (r *Runner) Run(ctx context.Context) ([]Result, time.Duration, error) {
	wallets, err := Wallets(r.cfg.Seed, (r.cfg.Requests+r.cfg.Repeat-1)/r.cfg.Repeat)
	if err != nil {
		return nil, 0, err
	}

	pool, err := ants.NewPool(r.cfg.Concurrency, ants.WithNonblocking(false))
	if err != nil {
		return nil, 0, errors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	results := make([]Result, r.cfg.Requests)
	var wg sync.WaitGroup
	start := time.Now()

	stopProgress := r.reportProgress(ctx)
	defer stopProgress()

	for i := 0; i < r.cfg.Requests; i++ {
		if err := r.limiter.Wait(ctx); err != nil {
			wg.Wait()
			return results[:i], time.Since(start), errors.Wrap(err, "load run interrupted")
		}
		wallet := wallets[i/r.cfg.Repeat]
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = r.request(ctx, wallet)
		}); err != nil {
			wg.Done()
			results[i] = Result{Wallet: wallet, Err: errors.Wrap(err, "submit")}
		}
	}
	wg.Wait()
	elapsed := time.Since(start)
	r.lggr.Infow("Load run finished", "requests", r.cfg.Requests, "succeeded", r.succeeded.Load(), "elapsed", elapsed)
	return results, elapsed, nil
}

func (r *Runner) request(ctx context.Context, wallet common.Address) Result {
	r.inFlight.Inc()
	defer r.inFlight.Dec()
	defer r.completed.Inc()

	var body faucet.DisbursementResult
	start := time.Now()
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"wallet": wallet.Hex(), "token": r.cfg.Token}).
		SetResult(&body).
		SetError(&body).
		Post("/api/faucet")
	res := Result{Wallet: wallet, Duration: time.Since(start)}
	if err != nil {
		res.Err = err
		r.lggr.Debugw("Faucet request failed", "wallet", wallet.Hex(), "err", err)
		return res
	}
	res.Status = resp.StatusCode()
	res.Success = body.Success
	res.ErrorKind = string(body.ErrorKind)
	res.TxHash = body.TxHash
	if res.Success {
		r.succeeded.Inc()
	}
	return res
}

func (r *Runner) reportProgress(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.lggr.Infow("Load run progress",
					"completed", r.completed.Load(),
					"inFlight", r.inFlight.Load(),
					"succeeded", r.succeeded.Load(),
					"total", r.cfg.Requests,
				)
			}
		}
	}()
	return cancel
}
