package wallet

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrBIP322Address   = errors.New("bip322 signing supports p2wpkh and p2tr addresses only")
	ErrBIP322Signature = errors.New("invalid bip322 signature")
)

var bip322Tag = []byte("BIP0322-signed-message")

// bip322ToSpend is the virtual tx whose only output is "spent" by the
// signature.
func bip322ToSpend(msg []byte, pkScript []byte) (*wire.MsgTx, error) {
	msgHash := chainhash.TaggedHash(bip322Tag, msg)
	sigScript, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(msgHash[:]).Script()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(0)
	prev := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex)
	in := wire.NewTxIn(prev, sigScript, nil)
	in.Sequence = 0
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(0, pkScript))
	return tx, nil
}

func bip322ToSign(toSpend *wire.MsgTx) *wire.MsgTx {
	hash := toSpend.TxHash()
	tx := wire.NewMsgTx(0)
	in := wire.NewTxIn(wire.NewOutPoint(&hash, 0), nil, nil)
	in.Sequence = 0
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	return tx
}

// SignBIP322Simple produces the base64 "simple" signature of msg for
// address, which must be the p2wpkh or bip86 p2tr address of key.
func SignBIP322Simple(key *btcec.PrivateKey, address btcutil.Address, msg string) (string, error) {
	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return "", err
	}
	toSpend, err := bip322ToSpend([]byte(msg), pkScript)
	if err != nil {
		return "", err
	}
	toSign := bip322ToSign(toSpend)

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)
	sigHashes := txscript.NewTxSigHashes(toSign, fetcher)

	var witness wire.TxWitness
	switch address.(type) {
	case *btcutil.AddressWitnessPubKeyHash:
		sig, err := txscript.RawTxInWitnessSignature(toSign, sigHashes, 0, 0, pkScript, txscript.SigHashAll, key)
		if err != nil {
			return "", err
		}
		witness = wire.TxWitness{sig, key.PubKey().SerializeCompressed()}
	case *btcutil.AddressTaproot:
		sig, err := txscript.RawTxInTaprootSignature(toSign, sigHashes, 0, 0, pkScript, []byte{}, txscript.SigHashDefault, key)
		if err != nil {
			return "", err
		}
		witness = wire.TxWitness{sig}
	default:
		return "", ErrBIP322Address
	}

	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifyBIP322Simple runs the signature through the script engine.
func VerifyBIP322Simple(address string, msg string, signature string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return err
	}
	switch addr.(type) {
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressTaproot:
	default:
		return ErrBIP322Address
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBIP322Signature, err)
	}
	witness, err := readWitness(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBIP322Signature, err)
	}

	toSpend, err := bip322ToSpend([]byte(msg), pkScript)
	if err != nil {
		return err
	}
	toSign := bip322ToSign(toSpend)
	toSign.TxIn[0].Witness = witness

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)
	sigHashes := txscript.NewTxSigHashes(toSign, fetcher)
	vm, err := txscript.NewEngine(pkScript, toSign, 0, txscript.StandardVerifyFlags, nil, sigHashes, 0, fetcher)
	if err != nil {
		return err
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("%w: %v", ErrBIP322Signature, err)
	}
	return nil
}

func readWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("witness claims %d items", count)
	}
	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(r, 0, uint32(len(raw)), "witness item")
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return witness, nil
}
