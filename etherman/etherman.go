package etherman

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/TEENet-io/vault-bridge/contracts/BurnGateway"
	"github.com/TEENet-io/vault-bridge/contracts/ERC20"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrTxReverted     = errors.New("transaction reverted")
	ErrNoContractCode = errors.New("no contract code at address")
	ErrNoAccount      = errors.New("no transacting account configured")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// EthereumClient is satisfied by *ethclient.Client and the simulated
// backend client.
type EthereumClient interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Etherman approves the wrapped token and burns it through the gateway.
type Etherman struct {
	ethClient      EthereumClient
	auth           *bind.TransactOpts
	tokenAddress   ethcommon.Address
	gatewayAddress ethcommon.Address
	gasLimit       uint64

	mu              sync.Mutex
	tokenContract   *ERC20.ERC20
	gatewayContract *BurnGateway.BurnGateway

	// one sender at a time, pending nonces are read per transaction
	txMu sync.Mutex
}

// NewEtherman binds to an existing client. auth may be nil for a read
// only instance.
func NewEtherman(client EthereumClient, cfg *Config, auth *bind.TransactOpts) (*Etherman, error) {
	if client == nil || cfg == nil {
		return nil, ErrIncompleteConfig
	}
	return &Etherman{
		ethClient:      client,
		auth:           auth,
		tokenAddress:   cfg.TokenAddress,
		gatewayAddress: cfg.GatewayAddress,
		gasLimit:       cfg.GasLimit,
	}, nil
}

// Dial connects to cfg.URL, signs with key and makes sure both contracts
// are deployed.
func Dial(ctx context.Context, cfg *Config, key *ecdsa.PrivateKey) (*Etherman, error) {
	chain, err := NewRealEthChain(ctx, cfg.URL, key, cfg.ChainId)
	if err != nil {
		return nil, err
	}
	etherman, err := NewEtherman(chain.RpcClient, cfg, chain.Account)
	if err != nil {
		chain.RpcClient.Close()
		return nil, err
	}
	if err := etherman.CheckContracts(ctx); err != nil {
		chain.RpcClient.Close()
		return nil, err
	}
	return etherman, nil
}

func (etherman *Etherman) Account() ethcommon.Address {
	if etherman.auth == nil {
		return ethcommon.Address{}
	}
	return etherman.auth.From
}

func (etherman *Etherman) TokenAddress() ethcommon.Address {
	return etherman.tokenAddress
}

func (etherman *Etherman) GatewayAddress() ethcommon.Address {
	return etherman.gatewayAddress
}

// CheckContracts fails when either configured address holds no code.
func (etherman *Etherman) CheckContracts(ctx context.Context) error {
	for _, addr := range []ethcommon.Address{etherman.tokenAddress, etherman.gatewayAddress} {
		code, err := etherman.ethClient.CodeAt(ctx, addr, nil)
		if err != nil {
			return fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
		}
		if len(code) == 0 {
			return fmt.Errorf("%w: %s", ErrNoContractCode, addr.Hex())
		}
	}
	return nil
}

// Approve lets the gateway spend amount of the account's tokens and waits
// until the approval is mined.
func (etherman *Etherman) Approve(ctx context.Context, amount *big.Int) (ethcommon.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ethcommon.Hash{}, ErrInvalidAmount
	}
	contract, err := etherman.getTokenContract()
	if err != nil {
		return ethcommon.Hash{}, err
	}

	tx, err := etherman.transact(ctx, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return contract.Approve(opts, etherman.gatewayAddress, amount)
	})
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("approve: %w", err)
	}
	logger.WithFields(logger.Fields{
		"tx":      tx.Hash().Hex(),
		"spender": etherman.gatewayAddress.Hex(),
		"amount":  amount.String(),
	}).Info("approve tx sent")

	if _, err := etherman.WaitMined(ctx, tx); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// CallBurn burns amount through the gateway, handing it the staker signed
// unbonding psbt, and waits until mined.
func (etherman *Etherman) CallBurn(ctx context.Context, destChain, destAddress string, amount *big.Int, psbtBase64 string) (ethcommon.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ethcommon.Hash{}, ErrInvalidAmount
	}
	contract, err := etherman.getGatewayContract()
	if err != nil {
		return ethcommon.Hash{}, err
	}

	tx, err := etherman.transact(ctx, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return contract.CallBurn(opts, destChain, destAddress, amount, psbtBase64)
	})
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("callBurn: %w", err)
	}
	logger.WithFields(logger.Fields{
		"tx":          tx.Hash().Hex(),
		"destChain":   destChain,
		"destAddress": destAddress,
		"amount":      amount.String(),
	}).Info("burn tx sent")

	if _, err := etherman.WaitMined(ctx, tx); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// WaitMined blocks until tx has a receipt. A failed receipt is returned
// together with ErrTxReverted.
func (etherman *Etherman) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, etherman.ethClient, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

// Allowance of owner towards the gateway.
func (etherman *Etherman) Allowance(ctx context.Context, owner ethcommon.Address) (*big.Int, error) {
	contract, err := etherman.getTokenContract()
	if err != nil {
		return nil, err
	}
	return contract.Allowance(&bind.CallOpts{Context: ctx}, owner, etherman.gatewayAddress)
}

func (etherman *Etherman) BalanceOf(ctx context.Context, owner ethcommon.Address) (*big.Int, error) {
	contract, err := etherman.getTokenContract()
	if err != nil {
		return nil, err
	}
	return contract.BalanceOf(&bind.CallOpts{Context: ctx}, owner)
}

func (etherman *Etherman) Decimals(ctx context.Context) (uint8, error) {
	contract, err := etherman.getTokenContract()
	if err != nil {
		return 0, err
	}
	return contract.Decimals(&bind.CallOpts{Context: ctx})
}

func (etherman *Etherman) transact(ctx context.Context, send func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	if etherman.auth == nil {
		return nil, ErrNoAccount
	}

	etherman.txMu.Lock()
	defer etherman.txMu.Unlock()

	opts := *etherman.auth
	opts.Context = ctx
	if etherman.gasLimit != 0 {
		opts.GasLimit = etherman.gasLimit
	}
	return send(&opts)
}

func (etherman *Etherman) getTokenContract() (*ERC20.ERC20, error) {
	etherman.mu.Lock()
	defer etherman.mu.Unlock()

	if etherman.tokenContract != nil {
		return etherman.tokenContract, nil
	}

	contract, err := ERC20.NewERC20(etherman.tokenAddress, etherman.ethClient)
	if err != nil {
		return nil, err
	}

	etherman.tokenContract = contract

	return contract, nil
}

func (etherman *Etherman) getGatewayContract() (*BurnGateway.BurnGateway, error) {
	etherman.mu.Lock()
	defer etherman.mu.Unlock()

	if etherman.gatewayContract != nil {
		return etherman.gatewayContract, nil
	}

	contract, err := BurnGateway.NewBurnGateway(etherman.gatewayAddress, etherman.ethClient)
	if err != nil {
		return nil, err
	}

	etherman.gatewayContract = contract

	return contract, nil
}
