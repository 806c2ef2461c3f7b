package etherman

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/config"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrIncompleteConfig = errors.New("evm settings incomplete")

type Config struct {
	// URL is the URL of the Ethereum node
	URL string

	// TokenAddress is the wrapped bitcoin ERC20 the user approves
	TokenAddress ethcommon.Address

	// GatewayAddress is the burn gateway, spender of the approval
	GatewayAddress ethcommon.Address

	// ChainId is checked against the node when set
	ChainId *big.Int

	// GasLimit skips gas estimation when non zero
	GasLimit uint64
}

// ConfigFromProfile reads the evm side of a network profile.
func ConfigFromProfile(p config.NetworkProfile) (*Config, error) {
	if p.EvmRpcUrl == "" {
		return nil, fmt.Errorf("%w: network %s has no evm rpc url", ErrIncompleteConfig, p.Name)
	}
	if !common.IsEvmAddress(p.TokenContractAddress) {
		return nil, fmt.Errorf("%w: token contract %q", common.ErrInvalidEvmAddress, p.TokenContractAddress)
	}
	if !common.IsEvmAddress(p.BurnContractAddress) {
		return nil, fmt.Errorf("%w: burn contract %q", common.ErrInvalidEvmAddress, p.BurnContractAddress)
	}

	cfg := &Config{
		URL:            p.EvmRpcUrl,
		TokenAddress:   ethcommon.HexToAddress(p.TokenContractAddress),
		GatewayAddress: ethcommon.HexToAddress(p.BurnContractAddress),
	}
	if id := strings.TrimSpace(p.EvmChainId); id != "" {
		chainId, ok := new(big.Int).SetString(id, 0)
		if !ok || chainId.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidChainId, p.EvmChainId)
		}
		cfg.ChainId = chainId
	}
	return cfg, nil
}
