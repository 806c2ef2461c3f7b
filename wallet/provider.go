// Package wallet abstracts the Bitcoin wallet that holds the staker key.
// A browser extension reached over a websocket, or a local regtest key.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
)

var (
	ErrExtensionNotFound      = errors.New("Unisat Wallet extension not found")
	ErrNotConnected           = errors.New("Unisat Wallet not connected")
	ErrVersionTooOld          = errors.New("Please update Unisat Wallet to the latest version")
	ErrUserRejected           = errors.New("user rejected the request")
	ErrUnsupportedSigningMode = errors.New("unsupported signing mode")
	ErrUnsupportedNetwork     = errors.New("Unsupported network")
	ErrCouldNotConnect        = errors.New("Could not connect to Unisat Wallet")
	ErrRegtestKeyGated        = errors.New("plaintext wallet keys are only allowed on regtest when explicitly enabled")
	ErrConnectionClosed       = errors.New("wallet connection closed")
)

// MinExtensionVersion is the oldest extension release with the signing
// options used here.
const MinExtensionVersion = "1.4.5"

// Events pushed by the extension.
const (
	EventAccountsChanged = "accountsChanged"
	EventNetworkChanged  = "networkChanged"
)

type SigningMode int

const (
	// let the extension decide, finalize everything
	ExtensionDefault SigningMode = iota
	// pass ToSignInputs and AutoFinalize to the extension
	ExtensionWithOptions
	// sign in process with a key we hold
	LocalKey
)

func (m SigningMode) String() string {
	switch m {
	case ExtensionDefault:
		return "extension-default"
	case ExtensionWithOptions:
		return "extension-with-options"
	case LocalKey:
		return "local-key"
	default:
		return "unknown"
	}
}

type ToSignInput struct {
	Index              int    `json:"index"`
	Address            string `json:"address,omitempty"`
	PublicKey          string `json:"publicKey,omitempty"`
	DisableTweakSigner bool   `json:"disableTweakSigner,omitempty"`
}

// SignOptions is serialized the way the extension expects its options.
type SignOptions struct {
	Mode         SigningMode   `json:"-"`
	AutoFinalize bool          `json:"autoFinalized"`
	ToSignInputs []ToSignInput `json:"toSignInputs,omitempty"`
}

// Indexes of ToSignInputs, nil when every input may be signed.
func (o *SignOptions) Indexes() []int {
	if o == nil || len(o.ToSignInputs) == 0 {
		return nil
	}
	out := make([]int, 0, len(o.ToSignInputs))
	for _, in := range o.ToSignInputs {
		out = append(out, in.Index)
	}
	return out
}

// finalize reports whether signed inputs should be finalized.
func (o *SignOptions) finalize() bool {
	return o == nil || o.Mode == ExtensionDefault || o.AutoFinalize
}

type EventCallback func(data json.RawMessage)

type Provider interface {
	Connect(ctx context.Context) error
	Address(ctx context.Context) (string, error)
	PublicKeyHex(ctx context.Context) (string, error)
	SignPsbt(ctx context.Context, psbtHex string, opts *SignOptions) (string, error)
	SignPsbts(ctx context.Context, psbtHexes []string) ([]string, error)
	SignMessageBIP322(ctx context.Context, msg string) (string, error)
	Network(ctx context.Context) (config.NetworkKind, error)
	Balance(ctx context.Context) (int64, error)
	Utxos(ctx context.Context, address string, amount int64) ([]utxo.UTXO, error)
	NetworkFees(ctx context.Context) (*mempool.Fees, error)
	PushTx(ctx context.Context, txHex string) (string, error)
	TipHeight(ctx context.Context) (int64, error)
	On(event string, cb EventCallback) error
	Name() string
}

// IsUserCancelled reports whether the user declined in the wallet. The
// caller may retry.
func IsUserCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUserRejected) || strings.Contains(strings.ToLower(err.Error()), "rejected")
}

// fundingUtxos keeps the largest utxos until amount is covered. A non
// positive amount keeps all of them.
func fundingUtxos(utxos []utxo.UTXO, amount int64) ([]utxo.UTXO, error) {
	if amount <= 0 {
		return utxos, nil
	}
	selected, _, err := utxo.SelectLargestFirst(utxos, amount)
	return selected, err
}

// staticFees answers fee queries where no fee estimator is reachable.
func staticFees() *mempool.Fees {
	r := int64(mempool.DefaultFeeRate)
	return &mempool.Fees{FastestFee: r, HalfHourFee: r, HourFee: r, EconomyFee: r, MinimumFee: r}
}
