package chain

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the faucet's hot wallet key. The key is never exported
// or logged.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without the 0x prefix.
func NewSigner(privateKey string) (*Signer, error) {
	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	key, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		// the parse error can echo key material, so it is dropped
		return nil, errors.New("invalid private key")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// SignTx signs tx for chainID with the EIP-155 replay-protected signer.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

func (s *Signer) String() string {
	return "Signer(" + s.address.Hex() + ")"
}

// GoString keeps %#v from dumping the key.
func (s *Signer) GoString() string { return s.String() }
