package networks

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

type NetworkConfig struct {
	Name    string
	ChainId uint64
	NodeUrl string
	// ExplorerTxUrl is a printf template taking the 0x-prefixed transaction hash.
	ExplorerTxUrl string
}

var SepoliaConfig = NetworkConfig{
	Name:          "sepolia",
	ChainId:       11155111,
	NodeUrl:       "https://ethereum-sepolia-rpc.publicnode.com",
	ExplorerTxUrl: "https://sepolia.etherscan.io/tx/%s",
}

var HoleskyConfig = NetworkConfig{
	Name:          "holesky",
	ChainId:       17000,
	NodeUrl:       "https://ethereum-holesky-rpc.publicnode.com",
	ExplorerTxUrl: "https://holesky.etherscan.io/tx/%s",
}

// LocalConfig targets a development node such as anvil or geth --dev.
var LocalConfig = NetworkConfig{
	Name:          "local",
	ChainId:       1337,
	NodeUrl:       "http://127.0.0.1:8545",
	ExplorerTxUrl: "http://127.0.0.1:4000/tx/%s",
}

// NamedNetworks Map from network name to NetworkConfig
var NamedNetworks map[string]NetworkConfig

func init() {
	NamedNetworks = make(map[string]NetworkConfig, 4)
	setNN := func(nc NetworkConfig) {
		NamedNetworks[nc.Name] = nc
	}
	setNN(SepoliaConfig)
	setNN(HoleskyConfig)
	setNN(LocalConfig)
}

// Lookup returns the preset registered under name, case-insensitively.
func Lookup(name string) (NetworkConfig, error) {
	nc, ok := NamedNetworks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NetworkConfig{}, errors.Newf("unknown network %q", name)
	}
	return nc, nil
}

// ExplorerURL renders the explorer link for a transaction hash.
func (nc NetworkConfig) ExplorerURL(txHash string) string {
	return ExplorerURL(nc.ExplorerTxUrl, txHash)
}

// ExplorerURL fills template with txHash. Templates without a verb get the
// hash appended.
func ExplorerURL(template, txHash string) string {
	if template == "" {
		return ""
	}
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, txHash)
	}
	return strings.TrimSuffix(template, "/") + "/" + txHash
}
