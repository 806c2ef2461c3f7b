package apiserver

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/vaultflow"
	"github.com/TEENet-io/vault-bridge/wallet"
)

func regtestWallet(t *testing.T, env *testEnv) *wallet.RegtestWallet {
	wif, err := btcutil.NewWIF(randKey(t), config.Regtest.ChainParams(), true)
	require.NoError(t, err)
	n := env.server.networks["regtest"]
	w, err := wallet.NewRegtestWallet(n.Flow.Profile(), wif.String(), true, env.node, env.fees)
	require.NoError(t, err)
	return w
}

func TestMintWithServerWallet(t *testing.T) {
	env := newTestEnv(t)
	env.server.networks["regtest"].Wallet = regtestWallet(t, env)

	res := env.call(t, http.MethodPost, "/api/mint", map[string]interface{}{
		"tokenReceiverAddress": testReceiver,
		"stakingAmount":        100000,
		"mintingAmount":        "100000",
	})
	require.Equal(t, http.StatusOK, res.Status, res.Error)

	var out vaultflow.MintResult
	require.NoError(t, json.Unmarshal(res.Data, &out))
	require.NotNil(t, out.Broadcast)
	require.Len(t, env.node.sent, 1)
	assert.Equal(t, env.node.sent[0], out.Broadcast.TxHex)

	tx, err := assembler.DecodeTxHex(out.Broadcast.TxHex)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), out.Broadcast.TxId)
	assert.NotEmpty(t, tx.TxIn[0].Witness)
	assert.EqualValues(t, 100_000, tx.TxOut[0].Value)
}

func TestMintWithoutWallet(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(t, http.MethodPost, "/api/mint", map[string]interface{}{
		"tokenReceiverAddress": testReceiver,
		"stakingAmount":        100000,
		"mintingAmount":        100000,
	})
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, ErrNoWallet.Error(), res.Error)

	// with a bridge but no page connected
	env.server.EnableWalletBridge(wallet.NewWSBridge(), 50*time.Millisecond)
	env.router = env.server.SetupRouter()
	res = env.call(t, http.MethodPost, "/signet/api/mint", map[string]interface{}{
		"tokenReceiverAddress": testReceiver,
		"stakingAmount":        100000,
		"mintingAmount":        100000,
	})
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Contains(t, res.Error, ErrNoWalletConnected.Error())
}

func TestBurnNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.server.networks["regtest"].Wallet = regtestWallet(t, env)

	res := env.call(t, http.MethodPost, "/api/burn", vaultflow.BurnRequest{
		ReceiverAddress: "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080",
		VaultTxHex:      dummyTxHex(t),
	})
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Contains(t, res.Error, vaultflow.ErrBurnNotConfigured.Error())
	assert.Empty(t, env.node.sent)
}
