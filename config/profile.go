package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TEENet-io/vault-bridge/common"
)

var (
	ErrQuorumNotSet           = errors.New("Quorum is not set")
	ErrCovenantKeysNotSet     = errors.New("Covenant public keys are not set")
	ErrQuorumExceedsKeys      = errors.New("quorum exceeds the number of covenant public keys")
	ErrInvalidCovenantKey     = errors.New("invalid covenant public key")
	ErrServiceKeyNotSet       = errors.New("service public key is not set")
	ErrUnknownProfile         = errors.New("unknown network profile")
	ErrNoProfiles             = errors.New("no network profiles configured")
	ErrRegtestKeyInProduction = errors.New("plaintext regtest key refused: set allow_regtest_keys and leave production mode off")
)

// CovenantParams is the policy of one protocol epoch used to build the
// vault script.
type CovenantParams struct {
	CovenantPubkeys []string `mapstructure:"covenant_pubkeys" json:"covenantPubkeys"`
	Quorum          uint8    `mapstructure:"quorum" json:"quorum"`
	Tag             string   `mapstructure:"tag" json:"tag"`
	Version         uint8    `mapstructure:"version" json:"version"`
}

// Validate rejects (never clamps) a quorum larger than the key set.
func (c CovenantParams) Validate() error {
	if c.Quorum == 0 {
		return ErrQuorumNotSet
	}
	if len(c.CovenantPubkeys) == 0 {
		return ErrCovenantKeysNotSet
	}
	if int(c.Quorum) > len(c.CovenantPubkeys) {
		return fmt.Errorf("%w: quorum=%d, keys=%d", ErrQuorumExceedsKeys, c.Quorum, len(c.CovenantPubkeys))
	}
	for i, k := range c.CovenantPubkeys {
		if _, err := common.ParsePubKeyHex(k); err != nil {
			return fmt.Errorf("%w #%d (%s): %v", ErrInvalidCovenantKey, i, k, err)
		}
	}
	return nil
}

// Copy returns a deep copy so callers cannot alter a loaded profile.
func (c CovenantParams) Copy() CovenantParams {
	out := c
	out.CovenantPubkeys = append([]string(nil), c.CovenantPubkeys...)
	return out
}

// NetworkProfile is everything needed to talk to one bitcoin network and
// its EVM counterpart.
type NetworkProfile struct {
	Name string      `mapstructure:"name" json:"name"`
	Kind NetworkKind `mapstructure:"kind" json:"kind"`

	// bitcoin node
	NodeHost     string `mapstructure:"node_host" json:"nodeHost"`
	NodePort     string `mapstructure:"node_port" json:"nodePort"`
	NodeWallet   string `mapstructure:"node_wallet" json:"nodeWallet"`
	NodeUser     string `mapstructure:"node_user" json:"nodeUser"`
	NodePassword string `mapstructure:"node_password" json:"-"`
	NodeSSL      bool   `mapstructure:"node_ssl" json:"nodeSsl"`

	MempoolApiUrl string `mapstructure:"mempool_api_url" json:"mempoolApiUrl"`
	MempoolWebUrl string `mapstructure:"mempool_web_url" json:"mempoolWebUrl"`
	ScannerUrl    string `mapstructure:"scanner_url" json:"scannerUrl"`

	Covenant         CovenantParams `mapstructure:"covenant" json:"covenant"`
	ServicePublicKey string         `mapstructure:"service_public_key" json:"servicePublicKey"`

	// evm side
	BurnContractAddress  string `mapstructure:"burn_contract_address" json:"burnContractAddress"`
	TokenContractAddress string `mapstructure:"token_contract_address" json:"tokenContractAddress"`
	TokenDecimals        uint8  `mapstructure:"token_decimals" json:"tokenDecimals"`
	EvmRpcUrl            string `mapstructure:"evm_rpc_url" json:"evmRpcUrl"`
	EvmChainId           string `mapstructure:"evm_chain_id" json:"evmChainId"`
	DestinationChainName string `mapstructure:"destination_chain_name" json:"destinationChainName"`
	// btc address the burn contract reports as the release destination
	DestinationAddress string `mapstructure:"destination_address" json:"destinationAddress"`

	// amounts; staking and unbonding fee in sats, minting and burning in
	// token units as decimal strings
	StakingAmount    int64  `mapstructure:"staking_amount" json:"stakingAmount"`
	MintingAmount    string `mapstructure:"minting_amount" json:"mintingAmount"`
	BurningAmount    string `mapstructure:"burning_amount" json:"burningAmount"`
	UnbondingFeeSats int64  `mapstructure:"unbonding_fee_sats" json:"unbondingFeeSats"`

	// only honoured for regtest, see Settings.checkRegtestKeys
	RegtestWIF string `mapstructure:"regtest_wif" json:"-"`
}

// Copy returns a deep copy.
func (p NetworkProfile) Copy() NetworkProfile {
	out := p
	out.Covenant = p.Covenant.Copy()
	return out
}

// IsRegtest is true for local development networks.
func (p NetworkProfile) IsRegtest() bool {
	return p.Kind == Regtest
}

// MempoolApi is the network specific mempool API root.
func (p NetworkProfile) MempoolApi() string {
	return MempoolApiFor(p.Kind, p.MempoolApiUrl)
}

// Key is the lookup key of the profile.
func (p NetworkProfile) Key() string {
	return strings.ToLower(p.Name)
}

func (p NetworkProfile) validate() error {
	if p.Name == "" {
		return errors.New("network profile without a name")
	}
	if _, err := ParseNetworkKind(string(p.Kind)); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if p.TokenDecimals == 0 {
		return fmt.Errorf("profile %s: token decimals must be set", p.Name)
	}
	return nil
}
