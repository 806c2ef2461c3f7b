package assembler

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// InputKind tells the size estimator what witness an input will carry.
type InputKind int

const (
	InputP2WPKH InputKind = iota
	InputP2TRKeyPath
	InputVaultBurning
)

const (
	// count + (len + DER sig with sighash byte) + (len + compressed key)
	p2wpkhWitnessSize = 1 + 1 + 73 + 1 + 33
	// count + (len + schnorr sig, default sighash)
	p2trKeyWitnessSize = 1 + 1 + 64
	// segwit marker and flag
	segwitOverhead = 2
)

// InputSpec describes one input for EstimateVSize. Script and
// ControlBlock are only read for InputVaultBurning.
type InputSpec struct {
	Kind         InputKind
	Script       []byte
	ControlBlock []byte
}

// KindOfPkScript maps a previous output script to the witness it needs
// when spent by its owner's key.
func KindOfPkScript(pkScript []byte) (InputKind, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.WitnessV0PubKeyHashTy:
		return InputP2WPKH, nil
	case txscript.WitnessV1TaprootTy:
		return InputP2TRKeyPath, nil
	default:
		return 0, fmt.Errorf("%w: %x", ErrUnsupportedInput, pkScript)
	}
}

func witnessSize(in InputSpec) (int, error) {
	switch in.Kind {
	case InputP2WPKH:
		return p2wpkhWitnessSize, nil
	case InputP2TRKeyPath:
		return p2trKeyWitnessSize, nil
	case InputVaultBurning:
		// two schnorr signatures, the leaf script and the control block
		size := 1 + 2*(1+64)
		size += wire.VarIntSerializeSize(uint64(len(in.Script))) + len(in.Script)
		size += wire.VarIntSerializeSize(uint64(len(in.ControlBlock))) + len(in.ControlBlock)
		return size, nil
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrUnsupportedInput, in.Kind)
	}
}

// EstimateVSize returns the virtual size tx will have once every input
// carries the witness described by inputs. Existing witnesses on tx are
// ignored.
func EstimateVSize(tx *wire.MsgTx, inputs []InputSpec) (int64, error) {
	if len(inputs) != len(tx.TxIn) {
		return 0, fmt.Errorf("have %d input specs for %d inputs", len(inputs), len(tx.TxIn))
	}

	weight := int64(tx.SerializeSizeStripped()) * blockchain.WitnessScaleFactor
	if len(inputs) > 0 {
		weight += segwitOverhead
	}
	for _, in := range inputs {
		size, err := witnessSize(in)
		if err != nil {
			return 0, err
		}
		weight += int64(size)
	}

	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor, nil
}

// FeeForVSize is vsize * rate, both already whole numbers.
func FeeForVSize(vsize, feeRate int64) int64 {
	return vsize * feeRate
}
