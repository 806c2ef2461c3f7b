package indexer

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/TEENet-io/vault-bridge/config"
)

type covenantParamsAPI struct {
	CovenantPubkeys []string `json:"CovenantPubkeys"`
	Quorum          uint8    `json:"Quorum"`
	Tag             string   `json:"Tag"`
	Version         uint8    `json:"Version"`
}

// GetCovenantParams fetches the current covenant policy and validates it
// before handing it out.
func (c *Client) GetCovenantParams(ctx context.Context) (*config.CovenantParams, error) {
	const msg = "Error getting covenant params"

	var env envelope
	if _, err := c.Request(ctx, http.MethodGet, "/v1/params/covenant", msg, nil, &env); err != nil {
		return nil, err
	}

	var api covenantParamsAPI
	if err := json.Unmarshal(env.Data, &api); err != nil {
		return nil, &APIError{Message: msg}
	}

	params := &config.CovenantParams{
		CovenantPubkeys: api.CovenantPubkeys,
		Quorum:          api.Quorum,
		Tag:             api.Tag,
		Version:         api.Version,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
