package assembler

/*
Locking scripts need no private key, so building outputs is shared by
every assembler here.
*/

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var ErrNotSegwitAddress = errors.New("only segwit v0 and taproot addresses are accepted")

// PayToAddress builds an output of amount satoshi paying dstAddr.
// Legacy and script hash addresses are refused.
func PayToAddress(dstChainCfg *chaincfg.Params, dstAddr string, amount int64) (*wire.TxOut, error) {
	btcDstAddress, err := DecodeAddress(dstAddr, dstChainCfg)
	if err != nil {
		return nil, err
	}

	switch btcDstAddress.(type) {
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressTaproot:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotSegwitAddress, dstAddr)
	}

	txOutScript, err := txscript.PayToAddrScript(btcDstAddress)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(amount, txOutScript), nil
}
