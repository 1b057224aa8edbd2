package config

import (
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"go-faucet/networks"
	"go-faucet/tokens"
)

const (
	DefaultNetwork     = "sepolia"
	DefaultGasLimit    = 120000
	DefaultGasPriceWei = 3_000_000_000
	DefaultAmount      = 10
	DefaultCooldown    = 24 * time.Hour
	DefaultRPCTimeout  = 10 * time.Second
	DefaultRedisPrefix = "faucet"
	DefaultListen      = ":5000"
	DefaultLogLevel    = "info"
)

type Redis struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

type HTTP struct {
	Listen string `mapstructure:"listen"`
	// AdminKey enables DELETE /api/ratelimit when set.
	AdminKey string `mapstructure:"admin_key"`
}

// Config is everything the faucet process reads at startup.
type Config struct {
	Network       string          `mapstructure:"network"`
	RPCURL        string          `mapstructure:"rpc_url"`
	ChainID       uint64          `mapstructure:"chain_id"`
	PrivateKey    string          `mapstructure:"private_key"`
	SenderAddress string          `mapstructure:"sender_address"`
	GasLimit      uint64          `mapstructure:"gas_limit"`
	GasPriceWei   uint64          `mapstructure:"gas_price_wei"`
	Amount        uint64          `mapstructure:"amount"`
	Cooldown      time.Duration   `mapstructure:"cooldown"`
	ExplorerTxURL string          `mapstructure:"explorer_tx_url"`
	RPCTimeout    time.Duration   `mapstructure:"rpc_timeout"`
	Redis         Redis           `mapstructure:"redis"`
	HTTP          HTTP            `mapstructure:"http"`
	LogLevel      string          `mapstructure:"log_level"`
	Tokens        []tokens.Config `mapstructure:"tokens"`
}

// envBindings maps config keys to environment variables. The first name is
// preferred; later names are the ones the original deployment used.
var envBindings = map[string][]string{
	"network":         {"FAUCET_NETWORK"},
	"rpc_url":         {"FAUCET_RPC_URL", "RPC_URL"},
	"chain_id":        {"FAUCET_CHAIN_ID", "CHAIN_ID"},
	"private_key":     {"FAUCET_PRIVATE_KEY", "PRIVATE_KEY"},
	"sender_address":  {"FAUCET_SENDER_ADDRESS", "FAUCET_ADDRESS"},
	"gas_limit":       {"FAUCET_GAS_LIMIT"},
	"gas_price_wei":   {"FAUCET_GAS_PRICE_WEI"},
	"amount":          {"FAUCET_AMOUNT"},
	"cooldown":        {"FAUCET_COOLDOWN"},
	"explorer_tx_url": {"FAUCET_EXPLORER_TX_URL"},
	"rpc_timeout":     {"FAUCET_RPC_TIMEOUT"},
	"redis.url":       {"FAUCET_REDIS_URL", "REDIS_URL"},
	"redis.prefix":    {"FAUCET_REDIS_PREFIX"},
	"http.listen":     {"FAUCET_HTTP_LISTEN"},
	"http.admin_key":  {"FAUCET_ADMIN_KEY"},
	"log_level":       {"FAUCET_LOG_LEVEL", "LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", DefaultNetwork)
	v.SetDefault("gas_limit", DefaultGasLimit)
	v.SetDefault("gas_price_wei", DefaultGasPriceWei)
	v.SetDefault("amount", DefaultAmount)
	v.SetDefault("cooldown", DefaultCooldown)
	v.SetDefault("rpc_timeout", DefaultRPCTimeout)
	v.SetDefault("redis.prefix", DefaultRedisPrefix)
	v.SetDefault("http.listen", DefaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)
		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings applied.
// Callers may bind flags onto it before passing it to LoadViper.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnvs(v); err != nil {
		return nil, errors.Wrap(err, "bind env")
	}
	return v, nil
}

// Load reads path (when not empty) and the environment. Network presets fill
// in rpc_url, chain_id and explorer_tx_url when those are left unset.
func Load(path string) (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return LoadViper(v, path)
}

func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.applyNetwork(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyNetwork() error {
	if c.Network == "" {
		return nil
	}
	nc, err := networks.Lookup(c.Network)
	if err != nil {
		return err
	}
	if c.RPCURL == "" {
		c.RPCURL = nc.NodeUrl
	}
	if c.ChainID == 0 {
		c.ChainID = nc.ChainId
	}
	if c.ExplorerTxURL == "" {
		c.ExplorerTxURL = nc.ExplorerTxUrl
	}
	return nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	switch {
	case c.RPCURL == "":
		return errors.New("rpc_url is required")
	case c.ChainID == 0:
		return errors.New("chain_id is required")
	case c.PrivateKey == "":
		return errors.New("private_key is required")
	case c.SenderAddress != "" && !common.IsHexAddress(c.SenderAddress):
		return errors.Newf("sender_address %q is not an address", c.SenderAddress)
	case c.GasLimit == 0:
		return errors.New("gas_limit must be positive")
	case c.GasPriceWei == 0:
		return errors.New("gas_price_wei must be positive")
	case c.Amount == 0:
		return errors.New("amount must be positive")
	case c.Cooldown <= 0:
		return errors.New("cooldown must be positive")
	case len(c.Tokens) == 0:
		return errors.New("at least one token must be configured")
	}
	return nil
}

func (c *Config) GasPrice() *big.Int {
	return new(big.Int).SetUint64(c.GasPriceWei)
}

// String renders the config for logs with secrets redacted.
func (c *Config) String() string {
	syms := make([]string, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		syms = append(syms, t.Symbol)
	}
	return fmt.Sprintf("network=%s rpc_url=%s chain_id=%d sender=%s private_key=%s gas_limit=%d gas_price_wei=%d amount=%d cooldown=%s redis=%s listen=%s admin_key=%s tokens=[%s]",
		c.Network, redactURL(c.RPCURL), c.ChainID, c.SenderAddress, redact(c.PrivateKey),
		c.GasLimit, c.GasPriceWei, c.Amount, c.Cooldown, redactURL(c.Redis.URL), c.HTTP.Listen,
		redact(c.HTTP.AdminKey), strings.Join(syms, ","))
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// redactURL drops userinfo and everything after the host, where RPC
// providers and Redis put credentials.
func redactURL(s string) string {
	if s == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return "<redacted>"
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}
