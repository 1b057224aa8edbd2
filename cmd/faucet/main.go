package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"

	faucet "go-faucet"
	"go-faucet/api"
	"go-faucet/chain"
	"go-faucet/config"
	"go-faucet/logger"
	"go-faucet/ratelimit"
	"go-faucet/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "faucet: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("faucet", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML, TOML or JSON config file")
	flags.String("listen", config.DefaultListen, "HTTP listen address")
	flags.String("log-level", config.DefaultLogLevel, "debug, info, warn or error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	v, err := config.NewViper()
	if err != nil {
		return err
	}
	if err := v.BindPFlag("http.listen", flags.Lookup("listen")); err != nil {
		return err
	}
	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		return err
	}
	cfg, err := config.LoadViper(v, *configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	lggr, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = lggr.Sync() }()
	lggr.Infow("Starting faucet", "config", cfg.String())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	signer, err := chain.NewSigner(cfg.PrivateKey)
	if err != nil {
		return err
	}
	if cfg.SenderAddress != "" && common.HexToAddress(cfg.SenderAddress) != signer.Address() {
		return errors.Newf("sender_address %s does not match the private key (%s)", cfg.SenderAddress, signer.Address().Hex())
	}

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, signer, lggr.Named("chain"), chain.WithTimeout(cfg.RPCTimeout))
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.VerifyChainID(ctx); err != nil {
		return err
	}

	store, closeStore, err := ratelimit.OpenStore(ctx, ratelimit.StoreConfig{
		RedisURL: cfg.Redis.URL,
		Prefix:   cfg.Redis.Prefix,
	}, lggr.Named("ratelimit"))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			lggr.Warnw("Closing rate limit store failed", "err", err)
		}
	}()
	limiter := ratelimit.New(store, cfg.Cooldown, lggr.Named("ratelimit"))

	registry, err := tokens.NewRegistry(cfg.Tokens)
	if err != nil {
		return err
	}

	issuer, err := faucet.NewIssuer(client, limiter, registry,
		faucet.WithLogger(lggr.Named("issuer")),
		faucet.WithAmount(cfg.Amount),
		faucet.WithGas(cfg.GasLimit, cfg.GasPrice()),
		faucet.WithExplorerTxURL(cfg.ExplorerTxURL),
	)
	if err != nil {
		return err
	}

	srv := api.New(issuer, limiter, registry,
		api.WithLogger(lggr.Named("api")),
		api.WithAdminKey(cfg.HTTP.AdminKey),
		api.WithAmount(cfg.Amount),
	).NewHTTPServer(cfg.HTTP.Listen)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	symbols := make([]string, 0, registry.Len())
	for _, t := range registry.All() {
		symbols = append(symbols, t.Symbol)
	}
	lggr.Infow("Faucet listening",
		"listen", cfg.HTTP.Listen,
		"sender", signer.Address().Hex(),
		"chainID", cfg.ChainID,
		"store", store.Name(),
		"tokens", strings.Join(symbols, ","),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	lggr.Info("Faucet stopped")
	return nil
}
