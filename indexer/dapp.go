package indexer

import (
	"context"
	"encoding/json"
	"net/http"
)

const dAppPath = "/v1/dApp"

// DApp is a destination chain registration as returned by the backend.
type DApp struct {
	ID                   string `json:"ID"`
	ChainName            string `json:"ChainName"`
	ChainID              string `json:"ChainID,omitempty"`
	ChainEndpoint        string `json:"ChainEndpoint,omitempty"`
	RpcUrl               string `json:"RpcUrl,omitempty"`
	AccessToken          string `json:"AccessToken,omitempty"`
	BTCAddressHex        string `json:"BTCAddressHex"`
	PublicKeyHex         string `json:"PublicKeyHex"`
	SmartContractAddress string `json:"SmartContractAddress,omitempty"`
	State                bool   `json:"State"`
}

// DAppInput is the create/update payload.
type DAppInput struct {
	ID                   string `json:"id,omitempty"`
	ChainName            string `json:"chain_name"`
	ChainID              string `json:"chain_id,omitempty"`
	ChainEndpoint        string `json:"chain_endpoint,omitempty"`
	BTCAddressHex        string `json:"btc_address_hex"`
	PublicKeyHex         string `json:"public_key_hex"`
	SmartContractAddress string `json:"smart_contract_address,omitempty"`
}

type idPayload struct {
	ID string `json:"id"`
}

func (c *Client) GetDApps(ctx context.Context) ([]DApp, error) {
	var env envelope
	if _, err := c.Request(ctx, http.MethodGet, dAppPath, "Error getting dApps", nil, &env); err != nil {
		return nil, err
	}

	dApps := []DApp{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &dApps); err != nil {
			return nil, &APIError{Message: "Error getting dApps"}
		}
	}
	return dApps, nil
}

func (c *Client) PostDApp(ctx context.Context, in DAppInput) error {
	in.ID = ""
	_, err := c.Request(ctx, http.MethodPost, dAppPath, "Error submitting dApp request", in, nil)
	return err
}

func (c *Client) UpdateDApp(ctx context.Context, id string, in DAppInput) error {
	in.ID = id
	_, err := c.Request(ctx, http.MethodPut, dAppPath, "Error updating dApp request", in, nil)
	return err
}

// ToggleDApp flips the enabled state, so two calls are a no-op.
func (c *Client) ToggleDApp(ctx context.Context, id string) error {
	_, err := c.Request(ctx, http.MethodPatch, dAppPath, "Error toggling dApp request", idPayload{ID: id}, nil)
	return err
}

func (c *Client) DeleteDApp(ctx context.Context, id string) error {
	_, err := c.Request(ctx, http.MethodDelete, dAppPath, "Error deleting dApp", idPayload{ID: id}, nil)
	return err
}
