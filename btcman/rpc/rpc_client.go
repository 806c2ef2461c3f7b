package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
)

const (
	MAX_CONFIRM = 9999999
)

var ErrNoMempoolVerdict = errors.New("testmempoolaccept returned no result")

// IsAlreadyBroadcast reports whether a send failed only because the node
// (or explorer) already has the tx, in a block or in its mempool.
func IsAlreadyBroadcast(err error) bool {
	if err == nil {
		return false
	}
	if rpcErr, ok := IsRPCError(err); ok && rpcErr.Code == btcjson.ErrRPCVerifyAlreadyInChain {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transaction already in block chain") ||
		strings.Contains(msg, "txn-already-in-mempool") ||
		strings.Contains(msg, "txn-already-known")
}

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Wallet     string // optional wallet name, requests then go to /wallet/<name>
	Username   string
	Pwd        string
	DisableTLS bool
	Params     *chaincfg.Params // used to decode addresses, regtest if nil
}

// Wrapper of btc rpc client.
type RpcClient struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Wallet     string
	params     *chaincfg.Params
	client     *rpcclient.Client
}

// MempoolAcceptResult is the first entry of a testmempoolaccept reply.
type MempoolAcceptResult struct {
	TxID         string `json:"txid"`
	WTxID        string `json:"wtxid"`
	Allowed      bool   `json:"allowed"`
	VSize        int64  `json:"vsize,omitempty"`
	Fees         *Fees  `json:"fees,omitempty"`
	RejectReason string `json:"reject-reason,omitempty"`
}

type Fees struct {
	Base float64 `json:"base"`
}

// Create a new RPC client which
// contains several useful functions
// to interact with bitcoin node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	host := rcc.ServerAddr + ":" + rcc.Port
	if rcc.Wallet != "" {
		host += "/wallet/" + rcc.Wallet
	}

	// Connect to Bitcoin node using HTTP
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   rcc.DisableTLS,
	}, nil)
	if err != nil {
		return nil, err
	}

	params := rcc.Params
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}

	return &RpcClient{
		ServerAddr: rcc.ServerAddr,
		Port:       rcc.Port,
		Wallet:     rcc.Wallet,
		params:     params,
		client:     client,
	}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// await blocks on a btcd future but gives up once ctx is done.
// The request itself keeps running in the background.
func await[T any](ctx context.Context, receive func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := receive()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.v, res.err
	}
}

// Fetch a raw tx with a given TxID.
// Enable -txindex on your bitcoin node before using this function.
func (r *RpcClient) GetTx(ctx context.Context, txID string) (*btcutil.Tx, error) {
	txHash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, err
	}
	return await(ctx, r.client.GetRawTransactionAsync(txHash).Receive)
}

// GetTxHex is GetTx serialized to hex.
func (r *RpcClient) GetTxHex(ctx context.Context, txID string) (string, error) {
	tx, err := r.GetTx(ctx, txID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tx.MsgTx().Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Get the latest block height.
func (r *RpcClient) GetBlockCount(ctx context.Context) (int64, error) {
	return await(ctx, r.client.GetBlockCountAsync().Receive)
}

// ListUnspent returns the UTXOs the node wallet tracks for address, or all
// of them when address is empty.
// Notice: only addresses imported to the node wallet are tracked.
func (r *RpcClient) ListUnspent(ctx context.Context, address string) ([]utxo.UTXO, error) {
	var future rpcclient.FutureListUnspentResult
	if address == "" {
		future = r.client.ListUnspentMinMaxAsync(0, MAX_CONFIRM)
	} else {
		addr, err := btcutil.DecodeAddress(address, r.params)
		if err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", address, err)
		}
		future = r.client.ListUnspentMinMaxAddressesAsync(0, MAX_CONFIRM, []btcutil.Address{addr})
	}

	unspent, err := await(ctx, future.Receive)
	if err != nil {
		return nil, err
	}

	utxos := make([]utxo.UTXO, 0, len(unspent))
	for _, item := range unspent {
		u, err := utxo.FromUnspent(item)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}
	return utxos, nil
}

// Unfortunately there is no direct "get balance of an address" on btc node.
// To get the total balance of an address,
// this function sums up the value of all UTXOs associated with the given address.
// Note: if balance = 0, it can mean
// 1) the address really doesn't have any money.
// 2) the address is not tracked by the node.
func (r *RpcClient) GetBalance(ctx context.Context, address string) (int64, error) {
	utxos, err := r.ListUnspent(ctx, address)
	if err != nil {
		return 0, err
	}
	return utxo.Total(utxos), nil
}

// Send raw transaction (hex) to bitcoin network, returns the txid.
func (r *RpcClient) SendRawTx(ctx context.Context, txHex string) (string, error) {
	if _, err := hex.DecodeString(txHex); err != nil {
		return "", fmt.Errorf("invalid tx hex: %w", err)
	}

	// maxfeerate=0 turns off the node's fee sanity check, same as
	// allowHighFees=true on older nodes.
	params, err := marshalParams(txHex, 0)
	if err != nil {
		return "", err
	}
	raw, err := await(ctx, r.client.RawRequestAsync("sendrawtransaction", params).Receive)
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", fmt.Errorf("unexpected sendrawtransaction reply: %w", err)
	}
	logger.WithField("txid", txid).Debug("raw tx sent")
	return txid, nil
}

// SendMsgTx serializes tx and sends it.
func (r *RpcClient) SendMsgTx(ctx context.Context, tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return r.SendRawTx(ctx, hex.EncodeToString(buf.Bytes()))
}

// TestMempoolAccept asks the node whether it would accept the tx without
// broadcasting it.
func (r *RpcClient) TestMempoolAccept(ctx context.Context, txHex string) (*MempoolAcceptResult, error) {
	params, err := marshalParams([]string{txHex})
	if err != nil {
		return nil, err
	}
	raw, err := await(ctx, r.client.RawRequestAsync("testmempoolaccept", params).Receive)
	if err != nil {
		return nil, err
	}

	var results []MempoolAcceptResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("unexpected testmempoolaccept reply: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoMempoolVerdict
	}
	return &results[0], nil
}

// Command passes any json-rpc call through to the node.
func (r *RpcClient) Command(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	return await(ctx, r.client.RawRequestAsync(method, params).Receive)
}

// IsRPCError reports whether err is a json-rpc error returned by the node.
func IsRPCError(err error) (*btcjson.RPCError, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

func marshalParams(vals ...interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
