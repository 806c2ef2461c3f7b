package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/TEENet-io/vault-bridge/common"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed networks.json
var DefaultNetworkList []byte

var ErrInvalidNetworkList = errors.New("invalid network list")

const networkListSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["networks"],
  "properties": {
    "networks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["mainnet", "testnet", "signet", "regtest"]},
          "node_host": {"type": "string"},
          "node_port": {"type": "string", "pattern": "^[0-9]*$"},
          "node_wallet": {"type": "string"},
          "node_user": {"type": "string"},
          "node_password": {"type": "string"},
          "node_ssl": {"type": "boolean"},
          "mempool_api_url": {"type": "string"},
          "mempool_web_url": {"type": "string"},
          "scanner_url": {"type": "string"},
          "covenant": {
            "type": "object",
            "properties": {
              "covenant_pubkeys": {
                "type": "array",
                "items": {"type": "string", "pattern": "^(0x)?([0-9a-fA-F]{64}|[0-9a-fA-F]{66})$"}
              },
              "quorum": {"type": "integer", "minimum": 0, "maximum": 255},
              "tag": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$"},
              "version": {"type": "integer", "minimum": 0, "maximum": 255}
            }
          },
          "service_public_key": {"type": "string"},
          "burn_contract_address": {"type": "string"},
          "token_contract_address": {"type": "string"},
          "token_decimals": {"type": "integer", "minimum": 1, "maximum": 36},
          "evm_rpc_url": {"type": "string"},
          "evm_chain_id": {"type": "string", "pattern": "^[0-9]*$"},
          "destination_chain_name": {"type": "string"},
          "destination_address": {"type": "string"},
          "staking_amount": {"type": "integer", "minimum": 0},
          "minting_amount": {"type": "string"},
          "burning_amount": {"type": "string"},
          "unbonding_fee_sats": {"type": "integer", "minimum": 0},
          "regtest_wif": {"type": "string"}
        }
      }
    }
  }
}`

// LoadNetworkList validates a JSON network list against the schema above
// and decodes it.
func LoadNetworkList(data []byte) ([]NetworkProfile, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(networkListSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetworkList, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidNetworkList, strings.Join(msgs, "; "))
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetworkList, err)
	}

	var profiles []NetworkProfile
	if err := v.UnmarshalKey("networks", &profiles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetworkList, err)
	}

	seen := make(map[string]struct{}, len(profiles))
	for i := range profiles {
		kind, err := ParseNetworkKind(string(profiles[i].Kind))
		if err != nil {
			return nil, err
		}
		profiles[i].Kind = kind
		if profiles[i].TokenDecimals == 0 {
			profiles[i].TokenDecimals = common.TokenDecimalsEVM
		}
		if _, ok := seen[profiles[i].Key()]; ok {
			return nil, fmt.Errorf("%w: duplicate network %s", ErrInvalidNetworkList, profiles[i].Name)
		}
		seen[profiles[i].Key()] = struct{}{}
	}
	return profiles, nil
}
