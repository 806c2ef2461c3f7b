package common

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidEvmAddress = errors.New("invalid evm address")
	ErrInvalidChainId    = errors.New("invalid chain id")

	evmAddressRegexp = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

func RandEthAddress() ethcommon.Address {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return ethcommon.Address{}
	}
	return ethcommon.BytesToAddress(b[:])
}

// IsEvmAddress reports whether s is a 0x prefixed 20 byte hex address.
// Unlike ethcommon.IsHexAddress the prefix is mandatory.
func IsEvmAddress(s string) bool {
	return evmAddressRegexp.MatchString(s)
}

// StripEvmAddress validates s and returns it without the 0x prefix.
func StripEvmAddress(s string) (string, error) {
	if !IsEvmAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEvmAddress, s)
	}
	return s[2:], nil
}

// ChainIdToHex converts a decimal chain id to hex, left padded with a
// zero so the result always has an even length. "11" -> "0b".
func ChainIdToHex(chainId string) (string, error) {
	id, err := strconv.ParseUint(chainId, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidChainId, chainId)
	}
	h := strconv.FormatUint(id, 16)
	if len(h)%2 == 1 {
		h = "0" + h
	}
	return h, nil
}
