package common

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var ErrInvalidPubKey = errors.New("invalid public key")

func IsValidBtcAddress(address string, cfg *chaincfg.Params) bool {
	if _, err := btcutil.DecodeAddress(address, cfg); err != nil {
		return false
	}

	return true
}

// ParsePubKeyHex accepts a 33 byte compressed or a 32 byte x-only key,
// with or without 0x prefix.
func ParsePubKeyHex(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(Trim0xPrefix(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	switch len(b) {
	case schnorr.PubKeyBytesLen:
		pk, err := schnorr.ParsePubKey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
		}
		return pk, nil
	case btcec.PubKeyBytesLenCompressed:
		pk, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
		}
		return pk, nil
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidPubKey, len(b))
	}
}

// XOnlyHex is the 32 byte x-only serialization in hex.
func XOnlyHex(pk *btcec.PublicKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(pk))
}
