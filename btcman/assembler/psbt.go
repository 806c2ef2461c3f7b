package assembler

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DecodePsbt accepts a hex or base64 serialized packet.
func DecodePsbt(s string) (*psbt.Packet, error) {
	s = strings.TrimSpace(s)
	if raw, err := hex.DecodeString(s); err == nil {
		return psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return nil, fmt.Errorf("psbt is neither hex nor base64: %w", err)
	}
	return psbt.NewFromRawBytes(strings.NewReader(s), true)
}

func PsbtToHex(p *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func PsbtToBase64(p *psbt.Packet) (string, error) {
	return p.B64Encode()
}

// PsbtFee is the sum of the inputs' witness utxos minus the outputs.
func PsbtFee(p *psbt.Packet) (int64, error) {
	var in, out int64
	for i := range p.Inputs {
		if p.Inputs[i].WitnessUtxo == nil {
			return 0, fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, i)
		}
		in += p.Inputs[i].WitnessUtxo.Value
	}
	for _, o := range p.UnsignedTx.TxOut {
		out += o.Value
	}
	return in - out, nil
}

// SignOpts restricts signing to some inputs. Nil signs every input the
// key can sign.
type SignOpts struct {
	Indexes []int
}

func (o *SignOpts) wants(i int) bool {
	if o == nil || len(o.Indexes) == 0 {
		return true
	}
	for _, idx := range o.Indexes {
		if idx == i {
			return true
		}
	}
	return false
}

func prevOutFetcher(p *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range p.UnsignedTx.TxIn {
		wu := p.Inputs[i].WitnessUtxo
		if wu == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, i)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, wu)
	}
	return fetcher, nil
}

// SignInputsWithKey adds key's signature to every input it can sign:
// tapscript leaves that contain the key, P2WPKH outputs of the key and
// BIP-86 key path outputs of the key. Returns how many inputs were signed.
func SignInputsWithKey(p *psbt.Packet, key *btcec.PrivateKey, opts *SignOpts) (int, error) {
	fetcher, err := prevOutFetcher(p)
	if err != nil {
		return 0, err
	}
	tx := p.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	pub := key.PubKey()
	xOnly := schnorr.SerializePubKey(pub)
	compressed := pub.SerializeCompressed()

	signed := 0
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if !opts.wants(i) || len(in.FinalScriptWitness) > 0 {
			continue
		}
		prev := in.WitnessUtxo

		if len(in.TaprootLeafScript) > 0 {
			ok, err := signLeaves(in, tx, sigHashes, i, key, xOnly)
			if err != nil {
				return signed, err
			}
			if ok {
				signed++
			}
			continue
		}

		switch txscript.GetScriptClass(prev.PkScript) {
		case txscript.WitnessV0PubKeyHashTy:
			if !bytes.Equal(prev.PkScript[2:], btcutil.Hash160(compressed)) {
				continue
			}
			sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, i, prev.Value, prev.PkScript, txscript.SigHashAll, key)
			if err != nil {
				return signed, err
			}
			in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{PubKey: compressed, Signature: sig})
			signed++

		case txscript.WitnessV1TaprootTy:
			outputKey := txscript.ComputeTaprootKeyNoScript(pub)
			if !bytes.Equal(prev.PkScript[2:], schnorr.SerializePubKey(outputKey)) {
				continue
			}
			sig, err := txscript.RawTxInTaprootSignature(tx, sigHashes, i, prev.Value, prev.PkScript, []byte{}, txscript.SigHashDefault, key)
			if err != nil {
				return signed, err
			}
			in.TaprootKeySpendSig = sig
			signed++
		}
	}

	if signed == 0 {
		return 0, ErrNothingSigned
	}
	return signed, nil
}

func signLeaves(in *psbt.PInput, tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, key *btcec.PrivateKey, xOnly []byte) (bool, error) {
	signed := false
	for _, ls := range in.TaprootLeafScript {
		if !bytes.Contains(ls.Script, xOnly) {
			continue
		}
		leaf := txscript.NewTapLeaf(ls.LeafVersion, ls.Script)
		leafHash := leaf.TapHash()
		if hasLeafSig(in, xOnly, leafHash[:]) {
			signed = true
			continue
		}

		sig, err := txscript.RawTxInTapscriptSignature(
			tx, sigHashes, idx, in.WitnessUtxo.Value, in.WitnessUtxo.PkScript, leaf, txscript.SigHashDefault, key,
		)
		if err != nil {
			return false, err
		}
		in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: xOnly,
			LeafHash:    leafHash[:],
			Signature:   sig,
			SigHash:     txscript.SigHashDefault,
		})
		signed = true
	}
	return signed, nil
}

func hasLeafSig(in *psbt.PInput, xOnly, leafHash []byte) bool {
	return leafSig(in, xOnly, leafHash) != nil
}

func leafSig(in *psbt.PInput, xOnly, leafHash []byte) []byte {
	for _, s := range in.TaprootScriptSpendSig {
		if bytes.Equal(s.XOnlyPubKey, xOnly) && bytes.Equal(s.LeafHash, leafHash) {
			sig := append([]byte(nil), s.Signature...)
			if s.SigHash != txscript.SigHashDefault {
				sig = append(sig, byte(s.SigHash))
			}
			return sig
		}
	}
	return nil
}

// FinalizeBurningInput builds the burning leaf witness
// [service sig, staker sig, script, control block] for input idx.
func FinalizeBurningInput(p *psbt.Packet, idx int, staker, service *btcec.PublicKey) error {
	if idx < 0 || idx >= len(p.Inputs) {
		return fmt.Errorf("input %d out of range", idx)
	}
	in := &p.Inputs[idx]
	if len(in.TaprootLeafScript) == 0 {
		return ErrNotBurningInput
	}
	ls := in.TaprootLeafScript[0]
	leafHash := txscript.NewTapLeaf(ls.LeafVersion, ls.Script).TapHash()

	stakerSig := leafSig(in, schnorr.SerializePubKey(staker), leafHash[:])
	if stakerSig == nil {
		return fmt.Errorf("%w: staker, input %d", ErrMissingSignature, idx)
	}
	serviceSig := leafSig(in, schnorr.SerializePubKey(service), leafHash[:])
	if serviceSig == nil {
		return fmt.Errorf("%w: service, input %d", ErrMissingSignature, idx)
	}

	witness := wire.TxWitness{serviceSig, stakerSig, ls.Script, ls.ControlBlock}
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return err
	}

	in.FinalScriptWitness = buf.Bytes()
	in.TaprootScriptSpendSig = nil
	in.TaprootLeafScript = nil
	in.TaprootBip32Derivation = nil
	return nil
}

// FinalizeKeyInputs finalizes every signed key path input not yet final.
// Script path inputs are left alone.
func FinalizeKeyInputs(p *psbt.Packet) error {
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if len(in.FinalScriptWitness) > 0 || len(in.FinalScriptSig) > 0 || len(in.TaprootLeafScript) > 0 {
			continue
		}
		if err := psbt.Finalize(p, i); err != nil {
			return fmt.Errorf("finalize input %d: %w", i, err)
		}
	}
	return nil
}

// VerifyTx runs the script engine over every input of tx, which must be
// the tx extracted from p. Prevouts are the witness utxos of p.
func VerifyTx(p *psbt.Packet, tx *wire.MsgTx) error {
	fetcher, err := prevOutFetcher(p)
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prev := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrScriptFailed, i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrScriptFailed, i, err)
		}
	}
	return nil
}

// ExtractTx returns the network tx of a fully finalized packet.
func ExtractTx(p *psbt.Packet) (*wire.MsgTx, string, error) {
	tx, err := psbt.Extract(p)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, "", err
	}
	return tx, hex.EncodeToString(buf.Bytes()), nil
}
