package etherman

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"
)

var ErrChainIdMismatch = errors.New("evm chain id mismatch")

// A connection to a real ethereum network with the account that pays for
// approve and burn transactions.
type RealEthChain struct {
	RpcClient *ethclient.Client  // work with ethereum chain
	ChainId   *big.Int           // chain id reported by the node
	Account   *bind.TransactOpts // signs approve() and callBurn()
}

// rpcUrl: the ethereum json rpc to connect to.
// privKey: the key of the account holding the wrapped tokens.
// expectedChainId: optional, the node must report the same id.
func NewRealEthChain(ctx context.Context, rpcUrl string, privKey *ecdsa.PrivateKey, expectedChainId *big.Int) (*RealEthChain, error) {
	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the ethereum client: %w", err)
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if expectedChainId != nil && expectedChainId.Cmp(chainId) != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: node reports %s, configured %s", ErrChainIdMismatch, chainId, expectedChainId)
	}

	account, err := NewAuth(privKey, chainId)
	if err != nil {
		client.Close()
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"chainId": chainId.String(),
		"account": account.From.Hex(),
	}).Info("connected to evm chain")

	return &RealEthChain{
		RpcClient: client,
		ChainId:   chainId,
		Account:   account,
	}, nil
}
