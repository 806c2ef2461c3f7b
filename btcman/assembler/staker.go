package assembler

import (
	"errors"
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

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/common"
)

const (
	TxVersion = 2

	SequenceRBF   uint32 = 0xfffffffd
	SequenceFinal uint32 = wire.MaxTxInSequenceNum
)

func sequenceFor(rbf bool) uint32 {
	if rbf {
		return SequenceRBF
	}
	return SequenceFinal
}

// Staker assembles the unsigned vault (mint) tx of one staker.
type Staker struct {
	SourceAddress btcutil.Address
	StakerKey     *btcec.PublicKey
	Vault         *VaultScript
	Data          *EmbeddedData
	Params        *chaincfg.Params

	sourceScript []byte
	sourceKind   InputKind
}

// VaultPsbt is an unsigned vault tx. Inputs minus outputs equals FeeEstimate.
type VaultPsbt struct {
	Psbt        *psbt.Packet
	FeeEstimate int64
}

// NewStaker takes its arguments in the order the mint route receives
// them. Keys and addresses are hex, with or without 0x.
func NewStaker(
	params *chaincfg.Params,
	sourceAddress string,
	stakerPublicKey string,
	servicePublicKey string,
	covenantPublicKeys []string,
	quorum uint8,
	tag string,
	version uint8,
	chainIDHex string,
	receiverAddress string,
	contractAddress string,
	mintingAmount uint64,
) (*Staker, error) {
	addr, err := DecodeAddress(sourceAddress, params)
	if err != nil {
		return nil, fmt.Errorf("invalid source address %s: %w", sourceAddress, err)
	}
	sourceScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	kind, err := KindOfPkScript(sourceScript)
	if err != nil {
		return nil, err
	}

	stakerKey, err := common.ParsePubKeyHex(stakerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("staker public key: %w", err)
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
	data, err := NewEmbeddedData(tag, version, chainIDHex, contractAddress, receiverAddress, mintingAmount)
	if err != nil {
		return nil, err
	}

	return &Staker{
		SourceAddress: addr,
		StakerKey:     stakerKey,
		Vault:         vault,
		Data:          data,
		Params:        params,
		sourceScript:  sourceScript,
		sourceKind:    kind,
	}, nil
}

// ParseCovenantKeys parses compressed or x-only hex keys.
func ParseCovenantKeys(keys []string) ([]*btcec.PublicKey, error) {
	if len(keys) == 0 {
		return nil, ErrNoCovenantKeys
	}
	out := make([]*btcec.PublicKey, 0, len(keys))
	for _, k := range keys {
		pk, err := common.ParsePubKeyHex(k)
		if err != nil {
			return nil, fmt.Errorf("covenant key %s: %w", k, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// GetUnsignedVaultPsbt selects utxos largest first and builds
// output 0 vault, output 1 OP_RETURN, output 2 change (unless dust).
// Every utxo must belong to the source address.
func (s *Staker) GetUnsignedVaultPsbt(utxos []utxo.UTXO, stakingAmount int64, feeRate int64, rbf bool) (*VaultPsbt, error) {
	if stakingAmount <= 0 {
		return nil, ErrInvalidStakingAmount
	}
	if feeRate <= 0 {
		return nil, ErrInvalidFeeRate
	}

	vaultScript, err := s.Vault.PkScript()
	if err != nil {
		return nil, err
	}
	vaultOut := wire.NewTxOut(stakingAmount, vaultScript)
	if mempool.IsDust(vaultOut, mempool.DefaultMinRelayTxFee) {
		return nil, fmt.Errorf("%w: staking amount %d", ErrOutputBelowDust, stakingAmount)
	}
	dataOut, err := s.Data.TxOut()
	if err != nil {
		return nil, err
	}

	target := stakingAmount
	for {
		selected, sum, err := utxo.SelectLargestFirst(utxos, target)
		if err != nil {
			return nil, err
		}

		changeOut := wire.NewTxOut(0, s.sourceScript)
		fee, err := s.estimateFee(selected, []*wire.TxOut{vaultOut, dataOut, changeOut}, feeRate)
		if err != nil {
			return nil, err
		}
		if sum < stakingAmount+fee {
			// more inputs needed, and every input adds to the fee
			target = stakingAmount + fee
			continue
		}

		outputs := []*wire.TxOut{vaultOut, dataOut}
		changeOut.Value = sum - stakingAmount - fee
		if mempool.IsDust(changeOut, mempool.DefaultMinRelayTxFee) {
			// dust change goes to the miner
			fee = sum - stakingAmount
		} else {
			outputs = append(outputs, changeOut)
		}

		p, err := s.buildPacket(selected, outputs, rbf)
		if err != nil {
			return nil, err
		}

		logger.WithFields(logger.Fields{
			"inputs":  len(selected),
			"staking": stakingAmount,
			"fee":     fee,
			"feeRate": feeRate,
			"change":  len(outputs) == 3,
		}).Debug("vault psbt assembled")

		return &VaultPsbt{Psbt: p, FeeEstimate: fee}, nil
	}
}

func (s *Staker) estimateFee(selected []utxo.UTXO, outputs []*wire.TxOut, feeRate int64) (int64, error) {
	tx := wire.NewMsgTx(TxVersion)
	specs := make([]InputSpec, 0, len(selected))
	for _, u := range selected {
		op, err := u.Outpoint()
		if err != nil {
			return 0, err
		}
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		specs = append(specs, InputSpec{Kind: s.sourceKind})
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	vsize, err := EstimateVSize(tx, specs)
	if err != nil {
		return 0, err
	}
	return FeeForVSize(vsize, feeRate), nil
}

func (s *Staker) buildPacket(selected []utxo.UTXO, outputs []*wire.TxOut, rbf bool) (*psbt.Packet, error) {
	ins := make([]*wire.OutPoint, 0, len(selected))
	seqs := make([]uint32, 0, len(selected))
	for _, u := range selected {
		op, err := u.Outpoint()
		if err != nil {
			return nil, err
		}
		ins = append(ins, op)
		seqs = append(seqs, sequenceFor(rbf))
	}

	p, err := psbt.New(ins, outputs, TxVersion, 0, seqs)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(p)
	if err != nil {
		return nil, err
	}
	for i, u := range selected {
		// mempool utxos carry no script, they all pay the source address
		pkScript := u.PkScript
		if len(pkScript) == 0 {
			pkScript = s.sourceScript
		}
		if err := updater.AddInWitnessUtxo(wire.NewTxOut(u.Value, pkScript), i); err != nil {
			return nil, err
		}
		if s.sourceKind == InputP2TRKeyPath {
			p.Inputs[i].TaprootInternalKey = schnorr.SerializePubKey(s.StakerKey)
		}
	}
	return p, nil
}

// IsInsufficientFunds reports whether err came from coin selection.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, utxo.ErrInsufficientFunds)
}
