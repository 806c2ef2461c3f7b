// Package mempool talks to a mempool.space style REST api for fee
// recommendations, address UTXOs and tx status.
package mempool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
)

const (
	// used whenever the recommended fee cannot be fetched
	DefaultFeeRate int64 = 2

	defaultTimeout = 10 * time.Second
)

var ErrUnexpectedStatus = errors.New("mempool api http error")

// Fees are sat/vB per confirmation tier.
type Fees struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
	EconomyFee  int64 `json:"economyFee"`
	MinimumFee  int64 `json:"minimumFee"`
}

// FallbackWarning is returned next to the default fee rate. Callers
// surface it and keep going.
type FallbackWarning struct {
	Rate  int64
	Cause error
}

func (w *FallbackWarning) Error() string {
	return fmt.Sprintf("failed to fetch the recommended fee rate, using %d sat/vB: %v", w.Rate, w.Cause)
}

func (w *FallbackWarning) Unwrap() error {
	return w.Cause
}

type Client struct {
	api  string
	http *http.Client
}

// NewClient expects the network specific api root, see
// config.MempoolApiFor.
func NewClient(api string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{api: strings.TrimRight(api, "/"), http: httpClient}
}

func (c *Client) Api() string {
	return c.api
}

func (c *Client) get(ctx context.Context, out interface{}, elem ...string) (int, error) {
	endpoint, err := url.JoinPath(c.api, elem...)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: %s %s (%s)", ErrUnexpectedStatus, endpoint, resp.Status, strings.TrimSpace(string(content)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// RecommendedFees reads GET /v1/fees/recommended.
func (c *Client) RecommendedFees(ctx context.Context) (*Fees, error) {
	var fees Fees
	if _, err := c.get(ctx, &fees, "v1", "fees", "recommended"); err != nil {
		return nil, err
	}
	return &fees, nil
}

// FastestFeeRate never fails: when the api is unreachable or returns a
// non positive rate the default rate is returned with a *FallbackWarning.
func (c *Client) FastestFeeRate(ctx context.Context) (int64, error) {
	fees, err := c.RecommendedFees(ctx)
	if err == nil && fees.FastestFee <= 0 {
		err = fmt.Errorf("non positive fastest fee %d", fees.FastestFee)
	}
	if err != nil {
		w := &FallbackWarning{Rate: DefaultFeeRate, Cause: err}
		logger.WithField("api", c.api).Warn(w.Error())
		return DefaultFeeRate, w
	}
	return fees.FastestFee, nil
}

type addressUtxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

// AddressUTXOs reads GET /address/{addr}/utxo.
func (c *Client) AddressUTXOs(ctx context.Context, address string) ([]utxo.UTXO, error) {
	var items []addressUtxo
	if _, err := c.get(ctx, &items, "address", address, "utxo"); err != nil {
		return nil, err
	}

	out := make([]utxo.UTXO, 0, len(items))
	for _, item := range items {
		out = append(out, utxo.UTXO{
			TxID:        item.TxID,
			Vout:        item.Vout,
			Value:       item.Value,
			Confirmed:   item.Status.Confirmed,
			BlockHeight: item.Status.BlockHeight,
		})
	}
	return out, nil
}

// TxConfirmed reads GET /tx/{txid}/status. A 404 means the tx is unknown
// to the mempool and is not an error.
func (c *Client) TxConfirmed(ctx context.Context, txid string) (found bool, confirmed bool, err error) {
	var status struct {
		Confirmed bool `json:"confirmed"`
	}
	code, err := c.get(ctx, &status, "tx", txid, "status")
	if code == http.StatusNotFound {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, status.Confirmed, nil
}

// TipHeight reads GET /blocks/tip/height.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var height int64
	if _, err := c.get(ctx, &height, "blocks", "tip", "height"); err != nil {
		return 0, err
	}
	return height, nil
}

// Broadcast posts the raw tx hex to POST /tx and returns the txid.
func (c *Client) Broadcast(ctx context.Context, txHex string) (string, error) {
	endpoint, err := url.JoinPath(c.api, "tx")
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(txHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: failed to broadcast transaction (%s, %s)", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(content)))
	}
	return strings.TrimSpace(string(content)), nil
}

// TxExplorerURL is the block explorer deep link of a tx.
func TxExplorerURL(web, txid string) string {
	return strings.TrimRight(web, "/") + "/tx/" + txid
}
