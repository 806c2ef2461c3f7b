package mempool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fastestFee": 25, "halfHourFee": 20, "hourFee": 10, "economyFee": 5, "minimumFee": 1}`))
	})
	mux.HandleFunc("/api/address/tb1qxyz/utxo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"txid": "aa", "vout": 0, "value": 1500, "status": {"confirmed": true, "block_height": 100}},
			{"txid": "bb", "vout": 3, "value": 700, "status": {"confirmed": false}}
		]`))
	})
	mux.HandleFunc("/api/tx/known/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confirmed": true, "block_height": 101}`))
	})
	mux.HandleFunc("/api/tx/unknown/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
	})
	mux.HandleFunc("/api/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`840000`))
	})
	mux.HandleFunc("/api/tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "0200" {
			http.Error(w, "sendrawtransaction RPC error: TX decode failed", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("cafe\n"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRecommendedFees(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/api/", nil)

	fees, err := c.RecommendedFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Fees{FastestFee: 25, HalfHourFee: 20, HourFee: 10, EconomyFee: 5, MinimumFee: 1}, fees)

	rate, warn := c.FastestFeeRate(context.Background())
	assert.NoError(t, warn)
	assert.EqualValues(t, 25, rate)
}

func TestFastestFeeRateFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rate, warn := NewClient(srv.URL, nil).FastestFeeRate(context.Background())
	assert.EqualValues(t, DefaultFeeRate, rate)
	require.Error(t, warn)

	var fw *FallbackWarning
	require.True(t, errors.As(warn, &fw))
	assert.EqualValues(t, 2, fw.Rate)
	assert.ErrorIs(t, warn, ErrUnexpectedStatus)

	zero := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fastestFee": 0}`))
	}))
	defer zero.Close()

	rate, warn = NewClient(zero.URL, nil).FastestFeeRate(context.Background())
	assert.EqualValues(t, DefaultFeeRate, rate)
	assert.Error(t, warn)

	// unreachable
	rate, warn = NewClient("http://127.0.0.1:1", nil).FastestFeeRate(context.Background())
	assert.EqualValues(t, DefaultFeeRate, rate)
	assert.Error(t, warn)
}

func TestAddressUTXOs(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/api", nil)

	utxos, err := c.AddressUTXOs(context.Background(), "tb1qxyz")
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, "aa", utxos[0].TxID)
	assert.EqualValues(t, 1500, utxos[0].Value)
	assert.True(t, utxos[0].Confirmed)
	assert.EqualValues(t, 100, utxos[0].BlockHeight)
	assert.EqualValues(t, 3, utxos[1].Vout)
	assert.False(t, utxos[1].Confirmed)

	_, err = c.AddressUTXOs(context.Background(), "tb1qother")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestTxConfirmed(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/api", nil)

	found, confirmed, err := c.TxConfirmed(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, confirmed)

	found, confirmed, err = c.TxConfirmed(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, confirmed)
}

func TestTipHeightAndBroadcast(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/api", nil)

	h, err := c.TipHeight(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 840000, h)

	txid, err := c.Broadcast(context.Background(), "0200")
	require.NoError(t, err)
	assert.Equal(t, "cafe", txid)

	_, err = c.Broadcast(context.Background(), "ff")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestTxExplorerURL(t *testing.T) {
	assert.Equal(t, "https://mempool.space/testnet/tx/abc", TxExplorerURL("https://mempool.space/testnet/", "abc"))
}
