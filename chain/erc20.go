package chain

import (
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PendingTransaction is an unsigned ERC-20 transfer. It is rebuilt on every
// send attempt because the nonce may change between attempts.
type PendingTransaction struct {
	From      common.Address
	Contract  common.Address
	Recipient common.Address
	Amount    *big.Int
	Nonce     uint64
	GasLimit  uint64
	GasPrice  *big.Int
	ChainID   *big.Int
	Data      []byte
}

// BuildTransfer encodes transfer(to, amount) against contract.
func BuildTransfer(contract, to common.Address, amount *big.Int, from common.Address, nonce, gasLimit uint64, gasPrice, chainID *big.Int) (*PendingTransaction, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("transfer amount must be positive")
	}
	if gasPrice == nil || chainID == nil {
		return nil, errors.New("gas price and chain id are required")
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "pack transfer")
	}
	return &PendingTransaction{
		From:      from,
		Contract:  contract,
		Recipient: to,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasPrice:  new(big.Int).Set(gasPrice),
		ChainID:   new(big.Int).Set(chainID),
		Data:      data,
	}, nil
}

// Tx returns the legacy transaction carrying the transfer call.
func (p *PendingTransaction) Tx() *types.Transaction {
	contract := p.Contract
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: p.GasPrice,
		Gas:      p.GasLimit,
		To:       &contract,
		Value:    new(big.Int),
		Data:     p.Data,
	})
}

func packBalanceOf(owner common.Address) ([]byte, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	return data, errors.Wrap(err, "pack balanceOf")
}

func unpackBalanceOf(out []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, errors.Wrap(err, "unpack balanceOf")
	}
	if len(values) != 1 {
		return nil, errors.Newf("balanceOf returned %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Newf("balanceOf returned %T", values[0])
	}
	return balance, nil
}
