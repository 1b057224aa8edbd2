package loadrun

import (
	"crypto/sha256"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSeed prefixes deterministic recipient wallets.
const DefaultSeed = "go-faucet-load-deterministic-seed"

// DeterministicWallet derives the index-th recipient address for seed, so a
// run can be repeated against the same set of wallets.
func DeterministicWallet(seed string, index int) (common.Address, error) {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", seed, index)))
	key, err := crypto.ToECDSA(hash[:])
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "derive wallet %d", index)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// RandomWallet returns a fresh address nobody holds the key to after the call.
func RandomWallet() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, errors.Wrap(err, "generate key")
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Wallets returns n recipients: deterministic when seed is set, random otherwise.
func Wallets(seed string, n int) ([]common.Address, error) {
	out := make([]common.Address, 0, n)
	for i := range n {
		var (
			addr common.Address
			err  error
		)
		if seed != "" {
			addr, err = DeterministicWallet(seed, i)
		} else {
			addr, err = RandomWallet()
		}
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
