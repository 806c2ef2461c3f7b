// RouteClient reads and drives the routes of a running HttpServer.

package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TEENet-io/vault-bridge/bondstore"
	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/vaultflow"
)

// RouteError carries the envelope status and message of a failed call.
type RouteError struct {
	Route   string
	Status  int
	Message string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Route, e.Status, e.Message)
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type RouteClient struct {
	baseURL string
	network string
	http    *http.Client
}

// NewRouteClient targets baseURL, e.g. http://127.0.0.1:8080. An empty
// network uses the server default.
func NewRouteClient(baseURL, network string, httpClient *http.Client) *RouteClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RouteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: network,
		http:    httpClient,
	}
}

func (rc *RouteClient) url(route string) string {
	if rc.network == "" {
		return rc.baseURL + route
	}
	return rc.baseURL + "/" + url.PathEscape(rc.network) + route
}

func (rc *RouteClient) do(ctx context.Context, method, route string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rc.url(route), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := rc.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &RouteError{Route: route, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w", route, err)
	}
	if env.Status != http.StatusOK {
		return &RouteError{Route: route, Status: env.Status, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (rc *RouteClient) GetHello(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.baseURL+ROUTE_HELLO, nil)
	if err != nil {
		return "", err
	}
	resp, err := rc.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (rc *RouteClient) Bitcoind(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	var out BitcoindResponse
	if err := rc.do(ctx, http.MethodPost, ROUTE_BITCOIND, BitcoindRequest{Method: method, Params: raw}, &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

func (rc *RouteClient) Broadcast(ctx context.Context, txHex string) (string, error) {
	var txid string
	err := rc.do(ctx, http.MethodPost, ROUTE_BROADCAST, TxHexRequest{HexTxFromPsbt: txHex}, &txid)
	return txid, err
}

func (rc *RouteClient) TestTransaction(ctx context.Context, txHex string) (*rpc.MempoolAcceptResult, error) {
	var out rpc.MempoolAcceptResult
	if err := rc.do(ctx, http.MethodPost, ROUTE_TEST_TX, TxHexRequest{HexTxFromPsbt: txHex}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (rc *RouteClient) MintPsbt(ctx context.Context, req vaultflow.MintRequest) (*vaultflow.MintPsbtResult, error) {
	var out vaultflow.MintPsbtResult
	if err := rc.do(ctx, http.MethodPost, ROUTE_MINT_PSBT, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (rc *RouteClient) UnbondPsbt(ctx context.Context, req vaultflow.UnbondRequest) (*vaultflow.UnbondPsbtResult, error) {
	var out vaultflow.UnbondPsbtResult
	if err := rc.do(ctx, http.MethodPost, ROUTE_UNBOND_PSBT, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (rc *RouteClient) Fees(ctx context.Context) (*FeesResponse, error) {
	var out FeesResponse
	if err := rc.do(ctx, http.MethodGet, ROUTE_FEES, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BurnIntents lists all intents when status is empty.
func (rc *RouteClient) BurnIntents(ctx context.Context, status burnintent.Status) ([]*burnintent.Intent, error) {
	route := ROUTE_BURN_INTENTS
	if status != "" {
		route += "?status=" + url.QueryEscape(string(status))
	}
	var out []*burnintent.Intent
	if err := rc.do(ctx, http.MethodGet, route, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (rc *RouteClient) Bonds(ctx context.Context, stakerPubkey string) (*BondsResponse, error) {
	var out BondsResponse
	if err := rc.do(ctx, http.MethodGet, ROUTE_BONDS+"?pk="+url.QueryEscape(stakerPubkey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (rc *RouteClient) PutShadowBond(ctx context.Context, req ShadowBondRequest) (*bondstore.LocalBond, error) {
	var out bondstore.LocalBond
	if err := rc.do(ctx, http.MethodPost, ROUTE_BONDS, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
