package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Bond states as reported by the backend. The intermediate ones only
// exist in the local shadow store.
const (
	ACTIVE                  = "active"
	UNBONDING_REQUESTED     = "unbonding_requested"
	UNBONDING               = "unbonding"
	UNBONDED                = "unbonded"
	WITHDRAWN               = "withdrawn"
	PENDING                 = "pending"
	OVERFLOW                = "overflow"
	EXPIRED                 = "expired"
	INTERMEDIATE_UNBONDING  = "intermediate_unbonding"
	INTERMEDIATE_WITHDRAWAL = "intermediate_withdrawal"
)

var ErrNoPublicKey = errors.New("No public key provided")

type Bond struct {
	ID                              string `json:"id"`
	Status                          string `json:"status"`
	SimplifiedStatus                string `json:"simplified_status"`
	SourceChain                     string `json:"source_chain"`
	DestinationChain                string `json:"destination_chain"`
	DestinationSmartContractAddress string `json:"destination_smart_contract_address"`
	SourceTxHash                    string `json:"source_tx_hash"`
	SourceTxHex                     string `json:"source_tx_hex"`
	StakerPubkey                    string `json:"staker_pubkey"`
	Amount                          string `json:"amount"`
	ExecutedAmount                  string `json:"executed_amount,omitempty"`
	CreatedAt                       int64  `json:"created_at"`
	UpdatedAt                       int64  `json:"updated_at"`
}

type Pagination struct {
	NextKey string `json:"next_key"`
	Total   string `json:"total,omitempty"`
}

// GetBonds searches the vaults of a staker by x-only public key.
func (c *Client) GetBonds(ctx context.Context, stakerPubkey string) ([]Bond, *Pagination, error) {
	if stakerPubkey == "" {
		return nil, nil, ErrNoPublicKey
	}

	params := map[string]string{"stakerPubkey": stakerPubkey}
	var env envelope
	if _, err := c.Request(ctx, http.MethodPost, "/v1/vault/searchVault", "Error getting bonds", params, &env); err != nil {
		return nil, nil, err
	}

	bonds := []Bond{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &bonds); err != nil {
			return nil, nil, &APIError{Message: "Error getting bonds"}
		}
	}
	pagination := env.Pagination
	if pagination == nil {
		pagination = &Pagination{}
	}
	return bonds, pagination, nil
}
