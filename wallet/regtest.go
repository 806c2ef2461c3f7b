package wallet

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
)

// NodeClient is the part of the bitcoin node rpc a regtest wallet uses.
type NodeClient interface {
	ListUnspent(ctx context.Context, address string) ([]utxo.UTXO, error)
	GetBlockCount(ctx context.Context) (int64, error)
	SendRawTx(ctx context.Context, txHex string) (string, error)
}

var _ NodeClient = (*rpc.RpcClient)(nil)

type FeeSource interface {
	RecommendedFees(ctx context.Context) (*mempool.Fees, error)
}

// RegtestWallet signs with a key held in memory. Only for local chains.
type RegtestWallet struct {
	signer  *assembler.NativeSigner
	address btcutil.Address
	profile config.NetworkProfile
	node    NodeClient
	fees    FeeSource
}

var _ Provider = (*RegtestWallet)(nil)

// NewRegtestWallet refuses to hold a plaintext key unless allowed and
// the profile is a regtest one. fees may be nil.
func NewRegtestWallet(profile config.NetworkProfile, wif string, allowPlaintextKey bool, node NodeClient, fees FeeSource) (*RegtestWallet, error) {
	if !allowPlaintextKey || !profile.IsRegtest() {
		return nil, ErrRegtestKeyGated
	}
	signer, err := assembler.NewNativeSigner(wif, profile.Kind.ChainParams())
	if err != nil {
		return nil, err
	}
	address, err := signer.P2WPKH()
	if err != nil {
		return nil, err
	}

	logger.WithField("address", address.EncodeAddress()).Warn("using a plaintext regtest wallet key")
	return &RegtestWallet{signer: signer, address: address, profile: profile, node: node, fees: fees}, nil
}

func (w *RegtestWallet) Connect(ctx context.Context) error {
	return nil
}

func (w *RegtestWallet) Name() string {
	return "Regtest Wallet"
}

func (w *RegtestWallet) Address(ctx context.Context) (string, error) {
	return w.address.EncodeAddress(), nil
}

func (w *RegtestWallet) PublicKeyHex(ctx context.Context) (string, error) {
	return hex.EncodeToString(w.signer.PubKey.SerializeCompressed()), nil
}

// Signer exposes the key, the same role the WIF getter had.
func (w *RegtestWallet) Signer() *assembler.NativeSigner {
	return w.signer
}

// SignPsbt signs what the key can sign and finalizes key path inputs
// unless the options ask otherwise.
func (w *RegtestWallet) SignPsbt(ctx context.Context, psbtHex string, opts *SignOptions) (string, error) {
	p, err := assembler.DecodePsbt(psbtHex)
	if err != nil {
		return "", err
	}
	if _, err := w.signer.SignPsbt(p, &assembler.SignOpts{Indexes: opts.Indexes()}); err != nil {
		return "", err
	}
	if opts.finalize() {
		if err := assembler.FinalizeKeyInputs(p); err != nil {
			return "", err
		}
	}
	return assembler.PsbtToHex(p)
}

func (w *RegtestWallet) SignPsbts(ctx context.Context, psbtHexes []string) ([]string, error) {
	out := make([]string, 0, len(psbtHexes))
	for i, h := range psbtHexes {
		signed, err := w.SignPsbt(ctx, h, nil)
		if err != nil {
			return nil, fmt.Errorf("psbt %d: %w", i, err)
		}
		out = append(out, signed)
	}
	return out, nil
}

func (w *RegtestWallet) SignMessageBIP322(ctx context.Context, msg string) (string, error) {
	return SignBIP322Simple(w.signer.PrivKey, w.address, msg)
}

func (w *RegtestWallet) Network(ctx context.Context) (config.NetworkKind, error) {
	return w.profile.Kind, nil
}

func (w *RegtestWallet) On(event string, cb EventCallback) error {
	return nil
}

func (w *RegtestWallet) Balance(ctx context.Context) (int64, error) {
	utxos, err := w.node.ListUnspent(ctx, w.address.EncodeAddress())
	if err != nil {
		return 0, err
	}
	return utxo.Total(utxos), nil
}

func (w *RegtestWallet) Utxos(ctx context.Context, address string, amount int64) ([]utxo.UTXO, error) {
	utxos, err := w.node.ListUnspent(ctx, address)
	if err != nil {
		return nil, err
	}
	return fundingUtxos(utxos, amount)
}

func (w *RegtestWallet) NetworkFees(ctx context.Context) (*mempool.Fees, error) {
	if w.fees == nil {
		return staticFees(), nil
	}
	fees, err := w.fees.RecommendedFees(ctx)
	if err != nil {
		logger.WithField("err", err).Warn("fee source unavailable, using static fees")
		return staticFees(), nil
	}
	return fees, nil
}

func (w *RegtestWallet) PushTx(ctx context.Context, txHex string) (string, error) {
	return w.node.SendRawTx(ctx, txHex)
}

func (w *RegtestWallet) TipHeight(ctx context.Context) (int64, error) {
	return w.node.GetBlockCount(ctx)
}
