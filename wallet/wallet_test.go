package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
)

const testWIF = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"

// fakePage plays the companion page and the extension behind it.
type fakePage struct {
	mu       sync.Mutex
	version  string
	network  string
	address  string
	pubkey   string
	reject   map[string]bool
	calls    []rpcRequestIn
	conn     *websocket.Conn
	switched []string
}

type rpcRequestIn struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (p *fakePage) serve(t *testing.T) string {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		defer conn.Close()

		for {
			var req rpcRequestIn
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := p.handle(req)
			p.mu.Lock()
			err := conn.WriteJSON(resp)
			p.mu.Unlock()
			if err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (p *fakePage) handle(req rpcRequestIn) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if p.reject[req.Method] {
		resp["error"] = map[string]interface{}{"code": 4001, "message": "User rejected the request."}
		return resp
	}
	switch req.Method {
	case "getVersion":
		resp["result"] = p.version
	case "getNetwork":
		resp["result"] = p.network
	case "switchNetwork":
		var n string
		_ = json.Unmarshal(req.Params[0], &n)
		p.network = n
		p.switched = append(p.switched, n)
		resp["result"] = n
	case "requestAccounts", "getAccounts":
		resp["result"] = []string{p.address}
	case "getPublicKey":
		resp["result"] = p.pubkey
	case "signPsbt":
		var h string
		_ = json.Unmarshal(req.Params[0], &h)
		resp["result"] = h + "00"
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}
	return resp
}

// push sends an event to the wallet side.
func (p *fakePage) push(method string, params interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params})
}

func (p *fakePage) lastCall(method string) *rpcRequestIn {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].Method == method {
			c := p.calls[i]
			return &c
		}
	}
	return nil
}

func testnetKey(t *testing.T) (string, string) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(priv.PubKey().SerializeCompressed()), &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return addr.EncodeAddress(), hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func newExtensionWallet(t *testing.T, page *fakePage) (*ExtensionWallet, *WSInjected) {
	url := page.serve(t)
	injected, err := DialWSInjected(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = injected.Close() })

	w, err := NewExtensionWallet(injected, config.NetworkProfile{Name: "Testnet", Kind: config.Testnet}, nil)
	require.NoError(t, err)
	return w, injected
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, compareVersions("1.10.0", "1.4.5"))
	assert.Equal(t, -1, compareVersions("1.4.4", "1.4.5"))
	assert.Equal(t, 0, compareVersions("v1.4.5", "1.4.5"))
	assert.Equal(t, 0, compareVersions("1.4", "1.4.0"))
}

func TestExtensionNotFound(t *testing.T) {
	_, err := NewExtensionWallet(nil, config.NetworkProfile{}, nil)
	assert.ErrorIs(t, err, ErrExtensionNotFound)
	assert.Equal(t, "Unisat Wallet extension not found", err.Error())
}

func TestExtensionConnect(t *testing.T) {
	address, pubkey := testnetKey(t)
	page := &fakePage{version: "1.5.0", network: "livenet", address: address, pubkey: pubkey}
	w, _ := newExtensionWallet(t, page)
	ctx := context.Background()

	_, err := w.Address(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = w.SignPsbt(ctx, "70736274ff", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, w.Connect(ctx))
	assert.Equal(t, []string{"testnet"}, page.switched)

	got, err := w.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, address, got)
	pk, err := w.PublicKeyHex(ctx)
	require.NoError(t, err)
	assert.Equal(t, pubkey, pk)
	kind, err := w.Network(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.Testnet, kind)

	// options reach the extension untouched
	signed, err := w.SignPsbt(ctx, "aa", &SignOptions{
		Mode:         ExtensionWithOptions,
		ToSignInputs: []ToSignInput{{Index: 0, Address: address, DisableTweakSigner: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "aa00", signed)
	call := page.lastCall("signPsbt")
	require.NotNil(t, call)
	require.Len(t, call.Params, 2)
	assert.JSONEq(t, `{"autoFinalized": false, "toSignInputs": [{"index": 0, "address": "`+address+`", "disableTweakSigner": true}]}`, string(call.Params[1]))

	// default mode sends no options
	_, err = w.SignPsbt(ctx, "bb", &SignOptions{Mode: ExtensionDefault})
	require.NoError(t, err)
	assert.Len(t, page.lastCall("signPsbt").Params, 1)

	_, err = w.SignPsbt(ctx, "bb", &SignOptions{Mode: LocalKey})
	assert.ErrorIs(t, err, ErrUnsupportedSigningMode)
}

func TestExtensionConnectErrors(t *testing.T) {
	address, pubkey := testnetKey(t)

	old := &fakePage{version: "1.4.4", network: "testnet", address: address, pubkey: pubkey}
	w, _ := newExtensionWallet(t, old)
	assert.ErrorIs(t, w.Connect(context.Background()), ErrVersionTooOld)

	rejecting := &fakePage{version: "1.4.5", network: "testnet", address: address, pubkey: pubkey, reject: map[string]bool{"requestAccounts": true}}
	w, _ = newExtensionWallet(t, rejecting)
	err := w.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.True(t, IsUserCancelled(err))
	assert.Empty(t, rejecting.switched)

	// a mainnet account on a testnet profile
	mainAddr := "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	wrong := &fakePage{version: "2.0.0", network: "testnet", address: mainAddr, pubkey: pubkey}
	w, _ = newExtensionWallet(t, wrong)
	assert.ErrorIs(t, w.Connect(context.Background()), config.ErrWrongNetwork)

	local := &fakePage{version: "1.5.0", network: "testnet", address: address, pubkey: pubkey}
	w, _ = newExtensionWallet(t, local)
	w.profile = config.NetworkProfile{Name: "Regtest", Kind: config.Regtest}
	assert.ErrorIs(t, w.Connect(context.Background()), ErrUnsupportedNetwork)
}

func TestExtensionEvents(t *testing.T) {
	address, pubkey := testnetKey(t)
	page := &fakePage{version: "1.5.0", network: "testnet", address: address, pubkey: pubkey}
	w, _ := newExtensionWallet(t, page)
	ctx := context.Background()

	assert.ErrorIs(t, w.On(EventAccountsChanged, func(json.RawMessage) {}), ErrNotConnected)
	require.NoError(t, w.Connect(ctx))

	got := make(chan json.RawMessage, 1)
	require.NoError(t, w.On(EventAccountsChanged, func(data json.RawMessage) { got <- data }))
	require.NoError(t, page.push(EventAccountsChanged, []string{"tb1qother"}))

	select {
	case data := <-got:
		assert.JSONEq(t, `["tb1qother"]`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	_, err := w.Address(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWSInjectedClosed(t *testing.T) {
	page := &fakePage{version: "1.5.0"}
	url := page.serve(t)
	injected, err := DialWSInjected(context.Background(), url)
	require.NoError(t, err)

	v, err := injected.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", v)

	_, err = injected.PushPsbt(context.Background(), "aa")
	var injErr *InjectedError
	require.ErrorAs(t, err, &injErr)
	assert.Equal(t, -32601, injErr.Code)

	require.NoError(t, injected.Close())
	<-injected.Done()
	_, err = injected.GetVersion(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWSBridge(t *testing.T) {
	bridge := NewWSBridge()
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	// the page dials in and answers calls
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	go func() {
		for {
			var req rpcRequestIn
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "signet"})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	injected, err := bridge.Wait(ctx)
	require.NoError(t, err)
	network, err := injected.GetNetwork(ctx)
	require.NoError(t, err)
	assert.Equal(t, "signet", network)
}

type fakeNodeClient struct {
	utxos []utxo.UTXO
	sent  []string
}

func (f *fakeNodeClient) ListUnspent(ctx context.Context, address string) ([]utxo.UTXO, error) {
	return f.utxos, nil
}

func (f *fakeNodeClient) GetBlockCount(ctx context.Context) (int64, error) {
	return 101, nil
}

func (f *fakeNodeClient) SendRawTx(ctx context.Context, txHex string) (string, error) {
	f.sent = append(f.sent, txHex)
	return "txid", nil
}

func regtestProfile() config.NetworkProfile {
	return config.NetworkProfile{Name: "Regtest", Kind: config.Regtest}
}

func TestRegtestWalletGated(t *testing.T) {
	_, err := NewRegtestWallet(regtestProfile(), testWIF, false, &fakeNodeClient{}, nil)
	assert.ErrorIs(t, err, ErrRegtestKeyGated)

	_, err = NewRegtestWallet(config.NetworkProfile{Name: "Mainnet", Kind: config.Mainnet}, testWIF, true, &fakeNodeClient{}, nil)
	assert.ErrorIs(t, err, ErrRegtestKeyGated)
}

func TestRegtestWallet(t *testing.T) {
	node := &fakeNodeClient{}
	w, err := NewRegtestWallet(regtestProfile(), testWIF, true, node, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Connect(ctx))

	address, err := w.Address(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(address, "bcrt1q"))
	pubkey, err := w.PublicKeyHex(ctx)
	require.NoError(t, err)

	node.utxos = []utxo.UTXO{
		{TxID: chainhash.DoubleHashH([]byte("1")).String(), Vout: 0, Value: 300_000},
		{TxID: chainhash.DoubleHashH([]byte("2")).String(), Vout: 0, Value: 50_000},
	}
	balance, err := w.Balance(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 350_000, balance)

	picked, err := w.Utxos(ctx, address, 100_000)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	_, err = w.Utxos(ctx, address, 1_000_000)
	assert.ErrorIs(t, err, utxo.ErrInsufficientFunds)

	fees, err := w.NetworkFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, mempool.DefaultFeeRate, fees.FastestFee)

	height, err := w.TipHeight(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 101, height)

	// sign a mint psbt and get a finalized packet back
	service, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	covenant, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	staker, err := assembler.NewStaker(assembler.GetRegtestParams(), address, pubkey,
		common.XOnlyHex(service.PubKey()), []string{common.XOnlyHex(covenant.PubKey())}, 1,
		"01020304", 0, "0539",
		"8617E340B3D01FA5F11F306F4090FD50E238070D", "52908400098527886E0F7030069857D2E4169EE7", 100_000)
	require.NoError(t, err)
	res, err := staker.GetUnsignedVaultPsbt(picked, 100_000, 2, true)
	require.NoError(t, err)
	unsigned, err := assembler.PsbtToHex(res.Psbt)
	require.NoError(t, err)

	signed, err := w.SignPsbt(ctx, unsigned, nil)
	require.NoError(t, err)
	p, err := assembler.DecodePsbt(signed)
	require.NoError(t, err)
	_, txHex, err := assembler.ExtractTx(p)
	require.NoError(t, err)

	txid, err := w.PushTx(ctx, txHex)
	require.NoError(t, err)
	assert.Equal(t, "txid", txid)
	assert.Equal(t, []string{txHex}, node.sent)

	// without auto finalize the packet stays partial
	partial, err := w.SignPsbt(ctx, unsigned, &SignOptions{Mode: ExtensionWithOptions, ToSignInputs: []ToSignInput{{Index: 0}}})
	require.NoError(t, err)
	p, err = assembler.DecodePsbt(partial)
	require.NoError(t, err)
	assert.Empty(t, p.Inputs[0].FinalScriptWitness)
	assert.Len(t, p.Inputs[0].PartialSigs, 1)
}

func TestBIP322(t *testing.T) {
	w, err := NewRegtestWallet(regtestProfile(), testWIF, true, &fakeNodeClient{}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	address, err := w.Address(ctx)
	require.NoError(t, err)

	sig, err := w.SignMessageBIP322(ctx, "Hello World")
	require.NoError(t, err)
	require.NoError(t, VerifyBIP322Simple(address, "Hello World", sig, &chaincfg.RegressionNetParams))
	assert.ErrorIs(t, VerifyBIP322Simple(address, "Hello World!", sig, &chaincfg.RegressionNetParams), ErrBIP322Signature)

	taproot, err := w.Signer().P2TR()
	require.NoError(t, err)
	sig, err = SignBIP322Simple(w.Signer().PrivKey, taproot, "")
	require.NoError(t, err)
	require.NoError(t, VerifyBIP322Simple(taproot.EncodeAddress(), "", sig, &chaincfg.RegressionNetParams))

	_, err = SignBIP322Simple(w.Signer().PrivKey, mustLegacy(t, w), "x")
	assert.ErrorIs(t, err, ErrBIP322Address)
}

func mustLegacy(t *testing.T, w *RegtestWallet) btcutil.Address {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(w.Signer().PubKey.SerializeCompressed()), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestKeyFile(t *testing.T) {
	params := ScryptParams{N: 1 << 10, R: 8, P: 1}
	data, err := EncryptKey(testWIF, "hunter2", params)
	require.NoError(t, err)
	assert.NotContains(t, string(data), testWIF)

	wif, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testWIF, wif)

	_, err = DecryptKey(data, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
	_, err = DecryptKey([]byte("{}"), "hunter2")
	assert.ErrorIs(t, err, ErrInvalidKeyFile)
	_, err = EncryptKey(testWIF, "", params)
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	file := filepath.Join(t.TempDir(), "service.key")
	require.NoError(t, os.WriteFile(file, data, 0o600))
	signer, err := LoadServiceKey("", file, "hunter2", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	direct, err := LoadServiceKey(testWIF, "", "", &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.True(t, signer.PubKey.IsEqual(direct.PubKey))

	_, err = LoadServiceKey("", "", "", &chaincfg.RegressionNetParams)
	assert.ErrorIs(t, err, ErrNoServiceKey)
}
