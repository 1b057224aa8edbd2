package faucet

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// ParseWallet validates a recipient address. All-lowercase and all-uppercase
// hex are accepted as-is; mixed case must carry a valid EIP-55 checksum.
func ParseWallet(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, errors.New("wallet is required")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Newf("wallet %q is not a valid address", s)
	}
	addr := common.HexToAddress(s)
	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if "0x"+hexPart != addr.Hex() {
			return common.Address{}, errors.Newf("wallet %q has an invalid checksum", s)
		}
	}
	return addr, nil
}
