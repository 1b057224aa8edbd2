package tokens

import (
	"math/big"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by Resolve for symbols the faucet does not dispense.
var ErrNotFound = errors.New("token not found")

// TokenDescriptor describes one ERC-20 token the faucet can dispense.
type TokenDescriptor struct {
	Symbol          string         `json:"symbol"`
	ContractAddress common.Address `json:"address"`
	Decimals        uint8          `json:"decimals"`
}

// Amount scales a whole-token amount by the token's decimals.
func (d TokenDescriptor) Amount(whole uint64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Decimals)), nil)
	return scale.Mul(scale, new(big.Int).SetUint64(whole))
}

// Config is the static form of a token entry, as read from configuration.
type Config struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// Registry maps token symbols to descriptors. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	bySymbol map[string]TokenDescriptor
}

// NewRegistry validates cfgs and builds a Registry. Symbols are matched
// case-insensitively and must be unique.
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{bySymbol: make(map[string]TokenDescriptor, len(cfgs))}
	for i, c := range cfgs {
		symbol := normalize(c.Symbol)
		if symbol == "" {
			return nil, errors.Newf("token %d: empty symbol", i)
		}
		if !common.IsHexAddress(c.Address) {
			return nil, errors.Newf("token %s: invalid contract address %q", symbol, c.Address)
		}
		if c.Decimals > 77 {
			return nil, errors.Newf("token %s: decimals %d out of range", symbol, c.Decimals)
		}
		if _, dup := r.bySymbol[symbol]; dup {
			return nil, errors.Newf("token %s: duplicate symbol", symbol)
		}
		r.bySymbol[symbol] = TokenDescriptor{
			Symbol:          symbol,
			ContractAddress: common.HexToAddress(c.Address),
			Decimals:        c.Decimals,
		}
	}
	return r, nil
}

// Resolve returns the descriptor for symbol or an error wrapping ErrNotFound.
func (r *Registry) Resolve(symbol string) (TokenDescriptor, error) {
	d, ok := r.bySymbol[normalize(symbol)]
	if !ok {
		return TokenDescriptor{}, errors.Wrapf(ErrNotFound, "symbol %q", symbol)
	}
	return d, nil
}

// All returns every descriptor ordered by symbol.
func (r *Registry) All() []TokenDescriptor {
	out := make([]TokenDescriptor, 0, len(r.bySymbol))
	for _, d := range r.bySymbol {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) Len() int { return len(r.bySymbol) }

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
