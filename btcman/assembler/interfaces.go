/*
PsbtSigner is what an assembled tx needs from a key holder.

Assemblers only build the "lock" side and record in every input what is
being spent (witness utxo, leaf script, control block), so any signer
that understands PSBT can unlock it afterwards.
*/
package assembler

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

type PsbtSigner interface {
	// Public key whose signatures are added.
	PublicKey() *btcec.PublicKey
	// Sign the inputs the key controls, returns how many were signed.
	SignPsbt(p *psbt.Packet, opts *SignOpts) (int, error)
}

var _ PsbtSigner = (*NativeSigner)(nil)
