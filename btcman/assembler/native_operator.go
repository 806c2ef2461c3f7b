// Implements PsbtSigner with a local private key.
// Used for the service co-signing key and for regtest wallets.

package assembler

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Basic single private key signer.
type NativeSigner struct {
	ChainConfig *chaincfg.Params  // which BTC chain it is on. (mainnet, testnet, signet, regtest)
	PrivKey     *btcec.PrivateKey // private key
	PubKey      *btcec.PublicKey  // public key accordingly
}

// Recover a basic signer from
// private key string (aka wallet-import-format, WIF)
// This is the standard private key string that bitcoin-core software exports.
func NewNativeSigner(privKeyWIF string, chainConfig *chaincfg.Params) (*NativeSigner, error) {
	wif, err := DecodeWIF(privKeyWIF)
	if err != nil {
		return nil, err
	}
	return NewNativeSignerFromKey(wif.PrivKey, chainConfig), nil
}

func NewNativeSignerFromKey(key *btcec.PrivateKey, chainConfig *chaincfg.Params) *NativeSigner {
	return &NativeSigner{chainConfig, key, key.PubKey()}
}

func (ns *NativeSigner) PublicKey() *btcec.PublicKey {
	return ns.PubKey
}

// P2WPKH is the native segwit address of the key.
func (ns *NativeSigner) P2WPKH() (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(ns.PubKey.SerializeCompressed()), ns.ChainConfig)
}

// P2TR is the BIP-86 taproot address of the key.
func (ns *NativeSigner) P2TR() (*btcutil.AddressTaproot, error) {
	outputKey := txscript.ComputeTaprootKeyNoScript(ns.PubKey)
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), ns.ChainConfig)
}

// SignPsbt signs every input of p the key can sign, or only opts.Indexes.
func (ns *NativeSigner) SignPsbt(p *psbt.Packet, opts *SignOpts) (int, error) {
	return SignInputsWithKey(p, ns.PrivKey, opts)
}
