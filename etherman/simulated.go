package etherman

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

var blockGasLimit = uint64(999999999999999999)

type SimulatedChain struct {
	Backend  *simulated.Backend
	Accounts []*bind.TransactOpts
	ChainId  *big.Int
}

// NewSimulatedChain funds every key with 100 ether. The simulated
// backend always runs with chain id 1337, chainId only signs.
func NewSimulatedChain(keys []*ecdsa.PrivateKey, chainId *big.Int) *SimulatedChain {
	accounts := make([]*bind.TransactOpts, 0, len(keys))
	for _, sk := range keys {
		auth, err := NewAuth(sk, chainId)
		if err != nil {
			return nil
		}
		accounts = append(accounts, auth)
	}

	// allocate funds to accounts
	genesisAlloc := map[common.Address]types.Account{}
	for _, account := range accounts {
		balance, _ := new(big.Int).SetString("100000000000000000000", 10)
		genesisAlloc[account.From] = types.Account{
			Balance: balance,
		}
	}

	backend := simulated.NewBackend(genesisAlloc, simulated.WithBlockGasLimit(blockGasLimit))

	return &SimulatedChain{
		Backend:  backend,
		Accounts: accounts,
		ChainId:  chainId,
	}
}

// Client is the backend client, usable as an EthereumClient.
func (sim *SimulatedChain) Client() EthereumClient {
	return sim.Backend.Client()
}

// AutoCommit seals a block every interval so receipts show up for code
// waiting on them. The returned func stops it.
func (sim *SimulatedChain) AutoCommit(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sim.Backend.Commit()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (sim *SimulatedChain) Close() error {
	return sim.Backend.Close()
}
