package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"go-faucet/loadrun"
	"go-faucet/logger"
)

func main() {
	var cfg loadrun.Config
	pflag.StringVar(&cfg.BaseURL, "url", "http://127.0.0.1:5000", "faucet base URL")
	pflag.StringVar(&cfg.Token, "token", "USDC", "token symbol to request")
	pflag.IntVarP(&cfg.Requests, "requests", "n", 100, "total number of requests")
	pflag.IntVarP(&cfg.Concurrency, "concurrency", "c", 10, "concurrent workers")
	pflag.Float64Var(&cfg.Rate, "rate", 0, "requests per second across all workers (0 = unpaced)")
	pflag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	pflag.StringVar(&cfg.Seed, "seed", "", "derive recipient wallets from this seed instead of random keys")
	pflag.IntVar(&cfg.Repeat, "repeat", 1, "requests per wallet; values above 1 exercise the rate limiter")
	logLevel := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	lggr, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "faucet-load: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lggr.Sync() }()

	runner, err := loadrun.NewRunner(cfg, lggr.Named("loadrun"))
	if err != nil {
		lggr.Errorw("Invalid load configuration", "err", err)
		_ = lggr.Sync()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lggr.Infow("Starting load run", "url", cfg.BaseURL, "token", cfg.Token, "requests", cfg.Requests, "concurrency", cfg.Concurrency, "rate", cfg.Rate)
	results, elapsed, err := runner.Run(ctx)
	if err != nil {
		lggr.Warnw("Load run stopped early", "err", err, "completed", len(results))
	}
	loadrun.CalculateStatistics(results, elapsed).PrintReport(os.Stdout)
}
