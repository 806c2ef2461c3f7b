package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkKind is the bitcoin network a profile runs against.
type NetworkKind string

const (
	Mainnet NetworkKind = "mainnet"
	Testnet NetworkKind = "testnet"
	Signet  NetworkKind = "signet"
	Regtest NetworkKind = "regtest"
)

var (
	ErrUnknownNetwork = errors.New("unsupported network")
	ErrUnknownAddress = errors.New("Unknown address")
	ErrWrongNetwork   = errors.New("incorrect address prefix")
)

// ParseNetworkKind is case insensitive. "livenet" is how browser wallets
// name mainnet.
func ParseNetworkKind(s string) (NetworkKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "livenet", "bitcoin":
		return Mainnet, nil
	case "testnet", "testnet3":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
}

func (k NetworkKind) String() string {
	return string(k)
}

// ChainParams returns the btcd parameters of the network.
func (k NetworkKind) ChainParams() *chaincfg.Params {
	switch k {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Testnet:
		return &chaincfg.TestNet3Params
	case Signet:
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// MempoolApiFor derives the mempool API root of a network from the
// shared base url.
func MempoolApiFor(kind NetworkKind, base string) string {
	base = strings.TrimRight(base, "/")
	switch kind {
	case Testnet:
		return base + "/testnet"
	case Signet:
		return base + "/signet"
	default:
		return base
	}
}

// ClassifyAddress maps a segwit v0/v1 address to its network by prefix.
// Signet shares the testnet prefix and is reported as testnet.
func ClassifyAddress(address string) (NetworkKind, error) {
	switch {
	case strings.HasPrefix(address, "bc1q"), strings.HasPrefix(address, "bc1p"):
		return Mainnet, nil
	case strings.HasPrefix(address, "tb1q"), strings.HasPrefix(address, "tb1p"):
		return Testnet, nil
	case strings.HasPrefix(address, "bcrt1q"), strings.HasPrefix(address, "bcrt1p"):
		return Regtest, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAddress, address)
}

// ValidateAddress checks the human readable prefix expected on kind and
// then fully decodes the address against the chain parameters.
func ValidateAddress(kind NetworkKind, address string) (btcutil.Address, error) {
	var prefix string
	switch kind {
	case Mainnet:
		prefix = "bc1"
	case Testnet, Signet:
		prefix = "tb1"
	case Regtest:
		prefix = "bcrt1"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, kind)
	}

	// "bcrt1" also starts with "bc" but not with "bc1"
	if !strings.HasPrefix(address, prefix) {
		return nil, fmt.Errorf("%w for %s: expected address to start with '%s'", ErrWrongNetwork, kind, prefix)
	}

	addr, err := btcutil.DecodeAddress(address, kind.ChainParams())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownAddress, address, err)
	}
	if !addr.IsForNet(kind.ChainParams()) {
		return nil, fmt.Errorf("%w for %s: %s", ErrWrongNetwork, kind, address)
	}
	return addr, nil
}
