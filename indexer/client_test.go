package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-bridge/config"
)

// fakeBackend keeps dApp registrations in memory.
type fakeBackend struct {
	mu     sync.Mutex
	dApps  map[string]*DApp
	nextID int
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	fb := &fakeBackend{dApps: map[string]*DApp{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/dApp", fb.handleDApp)
	mux.HandleFunc("/v1/vault/searchVault", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stakerPubkey"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message": "stakerPubkey is required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"id": "1", "status": "active", "simplified_status": "Active", "source_tx_hash": "aa", "staker_pubkey": "` + req["stakerPubkey"] + `", "amount": "10000", "created_at": 1700000000}], "pagination": {"next_key": "k", "total": "1"}}`))
	})
	mux.HandleFunc("/v1/params/covenant", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"CovenantPubkeys": ["79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", "c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"], "Quorum": 3, "Tag": "01020304", "Version": 1}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/", nil)
	require.NoError(t, err)
	return fb, client
}

func (fb *fakeBackend) handleDApp(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	var in DAppInput
	if r.Method != http.MethodGet {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		list := []DApp{}
		for i := 1; i <= fb.nextID; i++ {
			if d, ok := fb.dApps[strconv.Itoa(i)]; ok {
				list = append(list, *d)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": list})
	case http.MethodPost:
		fb.nextID++
		id := strconv.Itoa(fb.nextID)
		fb.dApps[id] = &DApp{ID: id, ChainName: in.ChainName, BTCAddressHex: in.BTCAddressHex, PublicKeyHex: in.PublicKeyHex, SmartContractAddress: in.SmartContractAddress, State: true}
		w.WriteHeader(http.StatusAccepted)
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		d, ok := fb.dApps[in.ID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "dApp not found"}`))
			return
		}
		switch r.Method {
		case http.MethodPut:
			d.ChainName = in.ChainName
			d.BTCAddressHex = in.BTCAddressHex
			d.PublicKeyHex = in.PublicKeyHex
			d.SmartContractAddress = in.SmartContractAddress
		case http.MethodPatch:
			d.State = !d.State
		default:
			delete(fb.dApps, in.ID)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(" ", nil)
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestDAppLifecycle(t *testing.T) {
	_, c := newFakeBackend(t)
	ctx := context.Background()

	dApps, err := c.GetDApps(ctx)
	require.NoError(t, err)
	assert.Empty(t, dApps)

	require.NoError(t, c.PostDApp(ctx, DAppInput{ChainName: "evm|1337", BTCAddressHex: "aa", PublicKeyHex: "bb", SmartContractAddress: "0x01"}))
	dApps, err = c.GetDApps(ctx)
	require.NoError(t, err)
	require.Len(t, dApps, 1)
	assert.Equal(t, "evm|1337", dApps[0].ChainName)
	assert.True(t, dApps[0].State)
	id := dApps[0].ID

	require.NoError(t, c.UpdateDApp(ctx, id, DAppInput{ChainName: "evm|1", BTCAddressHex: "cc", PublicKeyHex: "dd"}))
	dApps, err = c.GetDApps(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evm|1", dApps[0].ChainName)
	assert.Equal(t, "cc", dApps[0].BTCAddressHex)

	require.NoError(t, c.DeleteDApp(ctx, id))
	dApps, err = c.GetDApps(ctx)
	require.NoError(t, err)
	assert.Empty(t, dApps)

	err = c.DeleteDApp(ctx, id)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "dApp not found", apiErr.Message)
}

func TestToggleTwiceRestoresState(t *testing.T) {
	_, c := newFakeBackend(t)
	ctx := context.Background()

	require.NoError(t, c.PostDApp(ctx, DAppInput{ChainName: "evm|1337"}))
	before, err := c.GetDApps(ctx)
	require.NoError(t, err)
	id := before[0].ID

	require.NoError(t, c.ToggleDApp(ctx, id))
	mid, err := c.GetDApps(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before[0].State, mid[0].State)

	require.NoError(t, c.ToggleDApp(ctx, id))
	after, err := c.GetDApps(ctx)
	require.NoError(t, err)
	assert.Equal(t, before[0].State, after[0].State)
}

func TestRequestErrorMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.GetDApps(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Error getting dApps", apiErr.Message)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)

	// transport failure
	down, err := NewClient("http://127.0.0.1:1", nil)
	require.NoError(t, err)
	err = down.ToggleDApp(context.Background(), "1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Error toggling dApp request", apiErr.Message)
}

func TestGetBonds(t *testing.T) {
	_, c := newFakeBackend(t)

	bonds, pagination, err := c.GetBonds(context.Background(), "abcd")
	require.NoError(t, err)
	require.Len(t, bonds, 1)
	assert.Equal(t, ACTIVE, bonds[0].Status)
	assert.Equal(t, "abcd", bonds[0].StakerPubkey)
	assert.EqualValues(t, 1700000000, bonds[0].CreatedAt)
	assert.Equal(t, "k", pagination.NextKey)

	_, _, err = c.GetBonds(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoPublicKey)
}

func TestGetCovenantParams(t *testing.T) {
	_, c := newFakeBackend(t)

	// quorum 3 with two keys is rejected
	_, err := c.GetCovenantParams(context.Background())
	assert.ErrorIs(t, err, config.ErrQuorumExceedsKeys)
}
