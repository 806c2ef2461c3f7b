package assembler

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/common"
)

// UnStaker spends a vault output back to the staker through the burning
// leaf. The result needs both the staker and the service signature.
type UnStaker struct {
	StakerAddress btcutil.Address
	VaultTx       *wire.MsgTx
	Vault         *VaultScript
	Params        *chaincfg.Params

	// FixedFee replaces fee rate estimation when positive.
	FixedFee int64
}

// BurningPsbt is the unsigned unbond tx.
type BurningPsbt struct {
	Psbt             *psbt.Packet
	FeeEstimate      int64
	VaultOutputIndex uint32
	BurningLeaf      txscript.TapLeaf
}

// NewUnStaker decodes the vault tx and rebuilds its script tree. When
// stakerPublicKey is empty the key is read from the witness of the vault
// tx's first input, which works for P2WPKH funded vaults.
func NewUnStaker(
	params *chaincfg.Params,
	stakerAddress string,
	vaultTxHex string,
	covenantPublicKeys []string,
	quorum uint8,
	servicePublicKey string,
	stakerPublicKey string,
) (*UnStaker, error) {
	addr, err := DecodeAddress(stakerAddress, params)
	if err != nil {
		return nil, fmt.Errorf("invalid staker address %s: %w", stakerAddress, err)
	}

	vaultTx, err := DecodeTxHex(vaultTxHex)
	if err != nil {
		return nil, err
	}

	var stakerKey *btcec.PublicKey
	if stakerPublicKey != "" {
		stakerKey, err = common.ParsePubKeyHex(stakerPublicKey)
	} else {
		stakerKey, err = StakerKeyFromVaultTx(vaultTx)
	}
	if err != nil {
		return nil, err
	}

	serviceKey, err := common.ParsePubKeyHex(servicePublicKey)
	if err != nil {
		return nil, fmt.Errorf("service public key: %w", err)
	}
	covenants, err := ParseCovenantKeys(covenantPublicKeys)
	if err != nil {
		return nil, err
	}
	vault, err := NewVaultScript(stakerKey, serviceKey, covenants, quorum)
	if err != nil {
		return nil, err
	}

	return &UnStaker{
		StakerAddress: addr,
		VaultTx:       vaultTx,
		Vault:         vault,
		Params:        params,
	}, nil
}

// DecodeTxHex parses a serialized tx, with or without witness.
func DecodeTxHex(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(common.Trim0xPrefix(txHex))
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}
	tx := wire.NewMsgTx(TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid tx: %w", err)
	}
	return tx, nil
}

// StakerKeyFromVaultTx reads the public key from a P2WPKH witness
// (signature, pubkey) on input 0.
func StakerKeyFromVaultTx(tx *wire.MsgTx) (*btcec.PublicKey, error) {
	if len(tx.TxIn) == 0 {
		return nil, ErrStakerKeyUnknown
	}
	w := tx.TxIn[0].Witness
	if len(w) != 2 || len(w[1]) != btcec.PubKeyBytesLenCompressed {
		return nil, ErrStakerKeyUnknown
	}
	pk, err := btcec.ParsePubKey(w[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStakerKeyUnknown, err)
	}
	return pk, nil
}

// VaultOutput finds the output paying to the re-derived vault script.
func (u *UnStaker) VaultOutput() (uint32, *wire.TxOut, error) {
	pkScript, err := u.Vault.PkScript()
	if err != nil {
		return 0, nil, err
	}
	for i, out := range u.VaultTx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return uint32(i), out, nil
		}
	}
	return 0, nil, ErrVaultOutputNotFound
}

// GetUnsignedBurningPsbt spends the vault output to receiverAddress,
// paying value minus fee.
func (u *UnStaker) GetUnsignedBurningPsbt(receiverAddress string, feeRate int64, rbf bool) (*BurningPsbt, error) {
	out, err := PayToAddress(u.Params, receiverAddress, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver address %s: %w", receiverAddress, err)
	}

	idx, vaultOut, err := u.VaultOutput()
	if err != nil {
		return nil, err
	}
	leaf := u.Vault.BurningLeaf()
	controlBlock, err := u.Vault.ControlBlock(BurningLeafIndex)
	if err != nil {
		return nil, err
	}

	vaultHash := u.VaultTx.TxHash()
	outpoint := wire.NewOutPoint(&vaultHash, idx)

	fee := u.FixedFee
	if fee <= 0 {
		if feeRate <= 0 {
			return nil, ErrInvalidFeeRate
		}
		tx := wire.NewMsgTx(TxVersion)
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
		tx.AddTxOut(out)
		vsize, err := EstimateVSize(tx, []InputSpec{{Kind: InputVaultBurning, Script: leaf.Script, ControlBlock: controlBlock}})
		if err != nil {
			return nil, err
		}
		fee = FeeForVSize(vsize, feeRate)
	}

	out.Value = vaultOut.Value - fee
	if out.Value <= 0 || mempool.IsDust(out, mempool.DefaultMinRelayTxFee) {
		return nil, fmt.Errorf("%w: vault holds %d, fee %d", ErrOutputBelowDust, vaultOut.Value, fee)
	}

	p, err := psbt.New([]*wire.OutPoint{outpoint}, []*wire.TxOut{out}, TxVersion, 0, []uint32{sequenceFor(rbf)})
	if err != nil {
		return nil, err
	}
	updater, err := psbt.NewUpdater(p)
	if err != nil {
		return nil, err
	}
	if err := updater.AddInWitnessUtxo(vaultOut, 0); err != nil {
		return nil, err
	}

	in := &p.Inputs[0]
	in.TaprootInternalKey = schnorr.SerializePubKey(u.Vault.InternalKey())
	in.TaprootMerkleRoot = u.Vault.MerkleRoot()
	in.TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: controlBlock,
		Script:       leaf.Script,
		LeafVersion:  leaf.LeafVersion,
	}}

	logger.WithFields(logger.Fields{
		"vaultTx": u.VaultTx.TxHash().String(),
		"vout":    idx,
		"fee":     fee,
	}).Debug("burning psbt assembled")

	return &BurningPsbt{Psbt: p, FeeEstimate: fee, VaultOutputIndex: idx, BurningLeaf: leaf}, nil
}
