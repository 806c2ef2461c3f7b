package assembler

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Leaf positions inside the vault script tree.
const (
	BurningLeafIndex = iota
	ProtocolLeafIndex
	UserLeafIndex
)

// unspendableKey is the BIP-341 NUMS point H. Nobody knows its discrete
// log, so a vault can only be spent through one of its leaves.
var unspendableKey = []byte{
	0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b,
	0x60, 0x35, 0xe9, 0x7a, 0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96,
	0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// UnspendableInternalKey returns the NUMS point used as taproot internal key.
func UnspendableInternalKey() *btcec.PublicKey {
	key, err := btcec.ParsePubKey(unspendableKey)
	if err != nil {
		panic(err)
	}
	return key
}

// VaultScript is the taproot tree locking a staked amount:
// a burning leaf (staker + service), a protocol leaf (service + covenant
// quorum) and a user leaf (staker + covenant quorum).
type VaultScript struct {
	StakerKey    *btcec.PublicKey
	ServiceKey   *btcec.PublicKey
	CovenantKeys []*btcec.PublicKey // sorted by x-only bytes
	Quorum       uint8

	internalKey *btcec.PublicKey
	leaves      []txscript.TapLeaf
	tree        *txscript.IndexedTapScriptTree
}

func NewVaultScript(staker, service *btcec.PublicKey, covenants []*btcec.PublicKey, quorum uint8) (*VaultScript, error) {
	if len(covenants) == 0 {
		return nil, ErrNoCovenantKeys
	}
	if quorum == 0 || int(quorum) > len(covenants) {
		return nil, ErrInvalidQuorum
	}

	sorted := make([]*btcec.PublicKey, len(covenants))
	copy(sorted, covenants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(schnorr.SerializePubKey(sorted[i]), schnorr.SerializePubKey(sorted[j])) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(schnorr.SerializePubKey(sorted[i-1]), schnorr.SerializePubKey(sorted[i])) {
			return nil, ErrDuplicateCovenantKey
		}
	}

	burning, err := burningScript(staker, service)
	if err != nil {
		return nil, err
	}
	protocol, err := covenantScript(service, sorted, quorum)
	if err != nil {
		return nil, err
	}
	user, err := covenantScript(staker, sorted, quorum)
	if err != nil {
		return nil, err
	}

	leaves := []txscript.TapLeaf{
		txscript.NewBaseTapLeaf(burning),
		txscript.NewBaseTapLeaf(protocol),
		txscript.NewBaseTapLeaf(user),
	}

	return &VaultScript{
		StakerKey:    staker,
		ServiceKey:   service,
		CovenantKeys: sorted,
		Quorum:       quorum,
		internalKey:  UnspendableInternalKey(),
		leaves:       leaves,
		tree:         txscript.AssembleTaprootScriptTree(leaves...),
	}, nil
}

// <staker> CHECKSIGVERIFY <service> CHECKSIG
func burningScript(staker, service *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(staker)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddData(schnorr.SerializePubKey(service)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// <owner> CHECKSIGVERIFY <cov_0> CHECKSIG <cov_1> CHECKSIGADD ... <quorum> NUMEQUAL
func covenantScript(owner *btcec.PublicKey, covenants []*btcec.PublicKey, quorum uint8) ([]byte, error) {
	builder := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(owner)).
		AddOp(txscript.OP_CHECKSIGVERIFY)

	for i, key := range covenants {
		builder.AddData(schnorr.SerializePubKey(key))
		if i == 0 {
			builder.AddOp(txscript.OP_CHECKSIG)
		} else {
			builder.AddOp(txscript.OP_CHECKSIGADD)
		}
	}
	builder.AddInt64(int64(quorum))
	builder.AddOp(txscript.OP_NUMEQUAL)
	return builder.Script()
}

func (v *VaultScript) InternalKey() *btcec.PublicKey {
	return v.internalKey
}

// MerkleRoot is the tap tree root committed to by the output key.
func (v *VaultScript) MerkleRoot() []byte {
	root := v.tree.RootNode.TapHash()
	return root[:]
}

func (v *VaultScript) OutputKey() *btcec.PublicKey {
	return txscript.ComputeTaprootOutputKey(v.internalKey, v.MerkleRoot())
}

// PkScript is the segwit v1 locking script of the vault output.
func (v *VaultScript) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(v.OutputKey())
}

func (v *VaultScript) Address(params *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(v.OutputKey()), params)
}

func (v *VaultScript) Leaf(idx int) txscript.TapLeaf {
	return v.leaves[idx]
}

func (v *VaultScript) BurningLeaf() txscript.TapLeaf {
	return v.leaves[BurningLeafIndex]
}

// ControlBlock returns the serialized control block proving leaf idx.
func (v *VaultScript) ControlBlock(idx int) ([]byte, error) {
	proof := v.tree.LeafMerkleProofs[idx]
	cb := proof.ToControlBlock(v.internalKey)
	return cb.ToBytes()
}
