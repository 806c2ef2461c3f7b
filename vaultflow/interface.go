// Implement following interfaces to plug a node, a fee api or an evm
// chain into the flow.

package vaultflow

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/etherman"
	"github.com/TEENet-io/vault-bridge/indexer"
	"github.com/TEENet-io/vault-bridge/mempool"
)

// Node is the bitcoin node the flow broadcasts through. On regtest it
// also lists the spendable outputs of the staker.
type Node interface {
	ListUnspent(ctx context.Context, address string) ([]utxo.UTXO, error)
	SendRawTx(ctx context.Context, txHex string) (string, error)
	TestMempoolAccept(ctx context.Context, txHex string) (*rpc.MempoolAcceptResult, error)
}

// Chain is the public block explorer api. It lists utxos outside of
// regtest and answers fee queries everywhere.
type Chain interface {
	AddressUTXOs(ctx context.Context, address string) ([]utxo.UTXO, error)
	// Returns the default rate and a *mempool.FallbackWarning when the
	// recommendation can not be fetched.
	FastestFeeRate(ctx context.Context) (int64, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
}

// Burner approves and burns the wrapped token. Both calls return once
// the tx is mined.
type Burner interface {
	Approve(ctx context.Context, amount *big.Int) (ethcommon.Hash, error)
	CallBurn(ctx context.Context, destChain, destAddress string, amount *big.Int, psbtBase64 string) (ethcommon.Hash, error)
}

// CovenantSource serves the covenant policy when the profile has none.
type CovenantSource interface {
	GetCovenantParams(ctx context.Context) (*config.CovenantParams, error)
}

var (
	_ Node           = (*rpc.RpcClient)(nil)
	_ Chain          = (*mempool.Client)(nil)
	_ Burner         = (*etherman.Etherman)(nil)
	_ CovenantSource = (*indexer.Client)(nil)
)
