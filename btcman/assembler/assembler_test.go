package assembler

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/common"
)

const (
	p1PrivKeyWIF    = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	p1LegacyAddress = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"

	testTag        = "01020304"
	testChainIDHex = "0539" // 1337
	testContract   = "0x52908400098527886E0F7030069857D2E4169EE7"
	testRecipient  = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type testKeys struct {
	staker    *NativeSigner
	service   *NativeSigner
	covenants []string
}

func newTestKeys(t *testing.T) testKeys {
	keys := testKeys{}
	for i := 0; i < 5; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		switch i {
		case 0:
			keys.staker = NewNativeSignerFromKey(priv, GetRegtestParams())
		case 1:
			keys.service = NewNativeSignerFromKey(priv, GetRegtestParams())
		default:
			keys.covenants = append(keys.covenants, common.XOnlyHex(priv.PubKey()))
		}
	}
	return keys
}

func (k testKeys) stakerAddress(t *testing.T) string {
	addr, err := k.staker.P2WPKH()
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func (k testKeys) newStaker(t *testing.T) *Staker {
	s, err := NewStaker(
		GetRegtestParams(),
		k.stakerAddress(t),
		hex.EncodeToString(k.staker.PubKey.SerializeCompressed()),
		common.XOnlyHex(k.service.PubKey),
		k.covenants,
		2,
		testTag,
		0,
		testChainIDHex,
		testRecipient[2:],
		testContract[2:],
		100_000,
	)
	require.NoError(t, err)
	return s
}

func fakeTxID(seed string) string {
	return chainhash.DoubleHashH([]byte(seed)).String()
}

func verifyInput(t *testing.T, tx *wire.MsgTx, idx int, fetcher txscript.PrevOutputFetcher) {
	prev := fetcher.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	require.NotNil(t, prev)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	vm, err := txscript.NewEngine(prev.PkScript, tx, idx, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

func TestNativeSigner(t *testing.T) {
	ns, err := NewNativeSigner(p1PrivKeyWIF, GetRegtestParams())
	require.NoError(t, err)

	legacy, err := DecodeAddress(p1LegacyAddress, GetRegtestParams())
	require.NoError(t, err)
	segwit, err := ns.P2WPKH()
	require.NoError(t, err)
	// same key hash, different encoding
	assert.Equal(t, legacy.ScriptAddress(), segwit.ScriptAddress())
	assert.Contains(t, segwit.EncodeAddress(), "bcrt1q")

	taproot, err := ns.P2TR()
	require.NoError(t, err)
	assert.Contains(t, taproot.EncodeAddress(), "bcrt1p")

	_, err = NewNativeSigner("not a key", GetRegtestParams())
	assert.Error(t, err)

	_, err = DecodeAddress(segwit.EncodeAddress(), GetMainnetParams())
	assert.Error(t, err)
}

func TestVaultScript(t *testing.T) {
	keys := newTestKeys(t)
	covenants, err := ParseCovenantKeys(keys.covenants)
	require.NoError(t, err)

	v, err := NewVaultScript(keys.staker.PubKey, keys.service.PubKey, covenants, 2)
	require.NoError(t, err)

	// covenant order does not change the vault
	reversed := []*btcec.PublicKey{covenants[2], covenants[1], covenants[0]}
	v2, err := NewVaultScript(keys.staker.PubKey, keys.service.PubKey, reversed, 2)
	require.NoError(t, err)
	s1, err := v.PkScript()
	require.NoError(t, err)
	s2, err := v2.PkScript()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, txscript.WitnessV1TaprootTy, txscript.GetScriptClass(s1))

	addr, err := v.Address(GetRegtestParams())
	require.NoError(t, err)
	assert.Contains(t, addr.EncodeAddress(), "bcrt1p")

	burning, err := txscript.DisasmString(v.BurningLeaf().Script)
	require.NoError(t, err)
	assert.Equal(t,
		common.XOnlyHex(keys.staker.PubKey)+" OP_CHECKSIGVERIFY "+common.XOnlyHex(keys.service.PubKey)+" OP_CHECKSIG",
		burning)

	protocol, err := txscript.DisasmString(v.Leaf(ProtocolLeafIndex).Script)
	require.NoError(t, err)
	assert.Contains(t, protocol, common.XOnlyHex(keys.service.PubKey)+" OP_CHECKSIGVERIFY")
	assert.Contains(t, protocol, "OP_CHECKSIGADD")
	assert.Contains(t, protocol, "2 OP_NUMEQUAL")

	user, err := txscript.DisasmString(v.Leaf(UserLeafIndex).Script)
	require.NoError(t, err)
	assert.Contains(t, user, common.XOnlyHex(keys.staker.PubKey)+" OP_CHECKSIGVERIFY")

	cb, err := v.ControlBlock(BurningLeafIndex)
	require.NoError(t, err)
	parsed, err := txscript.ParseControlBlock(cb)
	require.NoError(t, err)
	root := parsed.RootHash(v.BurningLeaf().Script)
	assert.Equal(t, v.MerkleRoot(), root)

	_, err = NewVaultScript(keys.staker.PubKey, keys.service.PubKey, covenants, 4)
	assert.ErrorIs(t, err, ErrInvalidQuorum)
	_, err = NewVaultScript(keys.staker.PubKey, keys.service.PubKey, covenants, 0)
	assert.ErrorIs(t, err, ErrInvalidQuorum)
	_, err = NewVaultScript(keys.staker.PubKey, keys.service.PubKey, nil, 1)
	assert.ErrorIs(t, err, ErrNoCovenantKeys)
	_, err = NewVaultScript(keys.staker.PubKey, keys.service.PubKey, []*btcec.PublicKey{covenants[0], covenants[0]}, 1)
	assert.ErrorIs(t, err, ErrDuplicateCovenantKey)
}

func TestEmbeddedData(t *testing.T) {
	d, err := NewEmbeddedData(testTag, 1, "539", testContract, testRecipient, 123_456)
	require.NoError(t, err)
	assert.EqualValues(t, 1337, d.ChainIDUint64())

	raw := d.Bytes()
	require.Len(t, raw, 4+57)
	assert.Equal(t, []byte{1, 2, 3, 4, 1}, raw[:5])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x05, 0x39}, raw[5:13])
	assert.Equal(t, strings.ToLower(testContract[2:]), hex.EncodeToString(raw[13:33]))
	assert.Equal(t, strings.ToLower(testRecipient[2:]), hex.EncodeToString(raw[33:53]))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0x01, 0xe2, 0x40}, raw[53:])

	script, err := d.Script()
	require.NoError(t, err)
	assert.Equal(t, txscript.NullDataTy, txscript.GetScriptClass(script))

	back, err := ParseEmbeddedData(script)
	require.NoError(t, err)
	assert.Equal(t, d, back)

	_, err = ParseEmbeddedData([]byte{txscript.OP_TRUE})
	assert.ErrorIs(t, err, ErrInvalidEmbeddedData)

	short, err := txscript.NullDataScript([]byte{1, 2, 3})
	require.NoError(t, err)
	_, err = ParseEmbeddedData(short)
	assert.ErrorIs(t, err, ErrInvalidEmbeddedData)

	_, err = NewEmbeddedData(testTag, 1, "0102030405060708090a", testContract, testRecipient, 1)
	assert.ErrorIs(t, err, ErrInvalidEmbeddedData)
	_, err = NewEmbeddedData(testTag, 1, "01", "0x1234", testRecipient, 1)
	assert.ErrorIs(t, err, ErrInvalidEmbeddedData)
}

func TestEstimateVSize(t *testing.T) {
	keys := newTestKeys(t)
	out, err := PayToAddress(GetRegtestParams(), keys.stakerAddress(t), 1000)
	require.NoError(t, err)

	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	tx.AddTxOut(out)

	// 82 stripped bytes, 2 marker bytes and a 109 byte witness
	vsize, err := EstimateVSize(tx, []InputSpec{{Kind: InputP2WPKH}})
	require.NoError(t, err)
	assert.EqualValues(t, 110, vsize)

	vsize, err = EstimateVSize(tx, []InputSpec{{Kind: InputP2TRKeyPath}})
	require.NoError(t, err)
	assert.EqualValues(t, 99, vsize)

	_, err = EstimateVSize(tx, nil)
	assert.Error(t, err)
	_, err = EstimateVSize(tx, []InputSpec{{Kind: InputKind(9)}})
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = KindOfPkScript([]byte{txscript.OP_TRUE})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestMintPsbt(t *testing.T) {
	keys := newTestKeys(t)
	staker := keys.newStaker(t)

	utxos := []utxo.UTXO{
		{TxID: fakeTxID("a"), Vout: 0, Value: 50_000},
		{TxID: fakeTxID("b"), Vout: 1, Value: 200_000},
		{TxID: fakeTxID("c"), Vout: 2, Value: 30_000},
	}
	res, err := staker.GetUnsignedVaultPsbt(utxos, 100_000, 10, true)
	require.NoError(t, err)

	p := res.Psbt
	tx := p.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, fakeTxID("b"), tx.TxIn[0].PreviousOutPoint.Hash.String())
	assert.Equal(t, SequenceRBF, tx.TxIn[0].Sequence)

	require.Len(t, tx.TxOut, 3)
	vaultScript, err := staker.Vault.PkScript()
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, tx.TxOut[0].Value)
	assert.Equal(t, vaultScript, tx.TxOut[0].PkScript)

	data, err := ParseEmbeddedData(tx.TxOut[1].PkScript)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, data.MintingAmount)
	assert.EqualValues(t, 1337, data.ChainIDUint64())

	fee, err := PsbtFee(p)
	require.NoError(t, err)
	assert.Equal(t, res.FeeEstimate, fee)
	assert.Greater(t, fee, int64(0))
	assert.Equal(t, 200_000-100_000-fee, tx.TxOut[2].Value)

	// the packet survives a round trip through both encodings
	h, err := PsbtToHex(p)
	require.NoError(t, err)
	b64, err := PsbtToBase64(p)
	require.NoError(t, err)
	fromHex, err := DecodePsbt(h)
	require.NoError(t, err)
	fromB64, err := DecodePsbt(b64)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), fromHex.UnsignedTx.TxHash())
	assert.Equal(t, tx.TxHash(), fromB64.UnsignedTx.TxHash())

	// sign, finalize and run the scripts
	n, err := keys.staker.SignPsbt(fromHex, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, FinalizeKeyInputs(fromHex))
	signed, signedHex, err := ExtractTx(fromHex)
	require.NoError(t, err)
	assert.NotEmpty(t, signedHex)

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	fetcher.AddPrevOut(signed.TxIn[0].PreviousOutPoint, res.Psbt.Inputs[0].WitnessUtxo)
	verifyInput(t, signed, 0, fetcher)

	// the estimate never undershoots
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(signed))
	assert.LessOrEqual(t, weight, fee/10*4)
}

func TestMintPsbtDustChange(t *testing.T) {
	keys := newTestKeys(t)
	staker := keys.newStaker(t)

	final, err := staker.GetUnsignedVaultPsbt([]utxo.UTXO{{TxID: fakeTxID("x"), Value: 1_000_000}}, 100_000, 5, false)
	require.NoError(t, err)
	assert.Equal(t, SequenceFinal, final.Psbt.UnsignedTx.TxIn[0].Sequence)

	value := 100_000 + final.FeeEstimate + 100
	res, err := staker.GetUnsignedVaultPsbt([]utxo.UTXO{{TxID: fakeTxID("y"), Value: value}}, 100_000, 5, false)
	require.NoError(t, err)
	require.Len(t, res.Psbt.UnsignedTx.TxOut, 2)
	assert.Equal(t, final.FeeEstimate+100, res.FeeEstimate)

	fee, err := PsbtFee(res.Psbt)
	require.NoError(t, err)
	assert.Equal(t, res.FeeEstimate, fee)
}

func TestMintPsbtErrors(t *testing.T) {
	keys := newTestKeys(t)
	staker := keys.newStaker(t)
	utxos := []utxo.UTXO{{TxID: fakeTxID("a"), Value: 100_500}}

	_, err := staker.GetUnsignedVaultPsbt(utxos, 100_000, 10, true)
	assert.True(t, IsInsufficientFunds(err))

	_, err = staker.GetUnsignedVaultPsbt(nil, 100_000, 10, true)
	assert.True(t, IsInsufficientFunds(err))

	_, err = staker.GetUnsignedVaultPsbt(utxos, 0, 10, true)
	assert.ErrorIs(t, err, ErrInvalidStakingAmount)

	_, err = staker.GetUnsignedVaultPsbt(utxos, 1_000, 0, true)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	_, err = staker.GetUnsignedVaultPsbt(utxos, 100, 1, true)
	assert.ErrorIs(t, err, ErrOutputBelowDust)

	_, err = NewStaker(GetRegtestParams(), "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
		common.XOnlyHex(keys.staker.PubKey), common.XOnlyHex(keys.service.PubKey),
		keys.covenants, 2, testTag, 0, testChainIDHex, testRecipient, testContract, 1)
	assert.Error(t, err)
}

// mintVault signs and extracts a vault tx funded by the staker.
func mintVault(t *testing.T, keys testKeys) (*Staker, *wire.MsgTx, string) {
	staker := keys.newStaker(t)
	res, err := staker.GetUnsignedVaultPsbt([]utxo.UTXO{{TxID: fakeTxID("fund"), Value: 500_000}}, 100_000, 2, true)
	require.NoError(t, err)
	_, err = keys.staker.SignPsbt(res.Psbt, nil)
	require.NoError(t, err)
	require.NoError(t, FinalizeKeyInputs(res.Psbt))
	tx, txHex, err := ExtractTx(res.Psbt)
	require.NoError(t, err)
	return staker, tx, txHex
}

func TestBurningPsbt(t *testing.T) {
	keys := newTestKeys(t)
	_, vaultTx, vaultHex := mintVault(t, keys)

	// staker key recovered from the funding witness
	unstaker, err := NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), vaultHex, keys.covenants, 2,
		common.XOnlyHex(keys.service.PubKey), "")
	require.NoError(t, err)
	unstaker.FixedFee = 1000

	res, err := unstaker.GetUnsignedBurningPsbt(keys.stakerAddress(t), 0, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.VaultOutputIndex)
	assert.EqualValues(t, 1000, res.FeeEstimate)
	assert.Equal(t, unstaker.Vault.BurningLeaf().Script, res.BurningLeaf.Script)

	tx := res.Psbt.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, vaultTx.TxHash(), tx.TxIn[0].PreviousOutPoint.Hash)
	assert.EqualValues(t, 0, tx.TxIn[0].PreviousOutPoint.Index)
	require.Len(t, tx.TxOut, 1)
	assert.EqualValues(t, 99_000, tx.TxOut[0].Value)

	fee, err := PsbtFee(res.Psbt)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, fee)

	in := res.Psbt.Inputs[0]
	require.Len(t, in.TaprootLeafScript, 1)
	assert.Equal(t, UnspendableInternalKey().SerializeCompressed()[1:], in.TaprootInternalKey)

	// staker signs in a wallet, the service co-signs later
	b64, err := PsbtToBase64(res.Psbt)
	require.NoError(t, err)
	p, err := DecodePsbt(b64)
	require.NoError(t, err)
	_, err = keys.staker.SignPsbt(p, &SignOpts{Indexes: []int{0}})
	require.NoError(t, err)
	assert.ErrorIs(t, FinalizeBurningInput(p, 0, keys.staker.PubKey, keys.service.PubKey), ErrMissingSignature)

	_, err = keys.service.SignPsbt(p, nil)
	require.NoError(t, err)
	require.NoError(t, FinalizeBurningInput(p, 0, keys.staker.PubKey, keys.service.PubKey))
	require.NoError(t, FinalizeKeyInputs(p))
	signed, _, err := ExtractTx(p)
	require.NoError(t, err)
	require.Len(t, signed.TxIn[0].Witness, 4)

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	fetcher.AddPrevOut(signed.TxIn[0].PreviousOutPoint, vaultTx.TxOut[0])
	verifyInput(t, signed, 0, fetcher)
}

func TestBurningPsbtFeeRate(t *testing.T) {
	keys := newTestKeys(t)
	_, _, vaultHex := mintVault(t, keys)

	unstaker, err := NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), vaultHex, keys.covenants, 2,
		common.XOnlyHex(keys.service.PubKey), common.XOnlyHex(keys.staker.PubKey))
	require.NoError(t, err)

	res, err := unstaker.GetUnsignedBurningPsbt(keys.stakerAddress(t), 3, false)
	require.NoError(t, err)
	assert.Equal(t, SequenceFinal, res.Psbt.UnsignedTx.TxIn[0].Sequence)
	assert.EqualValues(t, 0, res.FeeEstimate%3)
	assert.EqualValues(t, 100_000-res.FeeEstimate, res.Psbt.UnsignedTx.TxOut[0].Value)

	_, err = unstaker.GetUnsignedBurningPsbt(keys.stakerAddress(t), 0, false)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)
}

func TestBurningPsbtErrors(t *testing.T) {
	keys := newTestKeys(t)
	_, _, vaultHex := mintVault(t, keys)
	service := common.XOnlyHex(keys.service.PubKey)

	// a different quorum derives a different vault
	unstaker, err := NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), vaultHex, keys.covenants, 3, service, "")
	require.NoError(t, err)
	_, err = unstaker.GetUnsignedBurningPsbt(keys.stakerAddress(t), 2, true)
	assert.ErrorIs(t, err, ErrVaultOutputNotFound)

	_, err = NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), "zz", keys.covenants, 2, service, "")
	assert.Error(t, err)

	// no witness to recover the staker key from
	unsignedTx := wire.NewMsgTx(TxVersion)
	unsignedTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	var buf bytes.Buffer
	require.NoError(t, unsignedTx.Serialize(&buf))
	_, err = NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), hex.EncodeToString(buf.Bytes()), keys.covenants, 2, service, "")
	assert.ErrorIs(t, err, ErrStakerKeyUnknown)

	unstaker, err = NewUnStaker(GetRegtestParams(), keys.stakerAddress(t), vaultHex, keys.covenants, 2, service, "")
	require.NoError(t, err)
	unstaker.FixedFee = 100_000
	_, err = unstaker.GetUnsignedBurningPsbt(keys.stakerAddress(t), 2, true)
	assert.ErrorIs(t, err, ErrOutputBelowDust)

	_, err = unstaker.GetUnsignedBurningPsbt(p1LegacyAddress, 2, true)
	assert.ErrorIs(t, err, ErrNotSegwitAddress)
}
