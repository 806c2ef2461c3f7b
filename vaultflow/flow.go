package vaultflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
	"github.com/TEENet-io/vault-bridge/metrics"
	"github.com/TEENet-io/vault-bridge/wallet"
)

var (
	ErrMissingChain        = errors.New("a chain api client is required")
	ErrMissingNode         = errors.New("a bitcoin node client is required on regtest")
	ErrServiceKeyMismatch  = errors.New("service signer does not match the service public key")
	ErrBurnNotConfigured   = errors.New("burning needs a burner, a service signer and an intent store")
	ErrInvalidMintingValue = errors.New("minting amount must be positive")
)

// Deps are the collaborators of a Flow. Node, Burner, ServiceSigner,
// Covenants, Intents and Metrics may be nil; the operations needing
// them then fail.
type Deps struct {
	Node          Node
	Chain         Chain
	Burner        Burner
	ServiceSigner assembler.PsbtSigner
	Covenants     CovenantSource
	Intents       *burnintent.Store
	Metrics       *metrics.Metrics
}

// Flow drives mint and burn for one network profile.
type Flow struct {
	profile config.NetworkProfile
	params  *chaincfg.Params

	node      Node
	chain     Chain
	burner    Burner
	service   assembler.PsbtSigner
	covenants CovenantSource
	intents   *burnintent.Store
	metrics   *metrics.Metrics

	// serializes co-signing so a burned intent is broadcast once
	finishLock sync.Mutex
}

func New(profile config.NetworkProfile, deps Deps) (*Flow, error) {
	if deps.Chain == nil {
		return nil, ErrMissingChain
	}
	if profile.IsRegtest() && deps.Node == nil {
		return nil, ErrMissingNode
	}

	profile = profile.Copy()
	if deps.ServiceSigner != nil {
		signerKey := common.XOnlyHex(deps.ServiceSigner.PublicKey())
		if profile.ServicePublicKey == "" {
			profile.ServicePublicKey = signerKey
		} else {
			configured, err := common.ParsePubKeyHex(profile.ServicePublicKey)
			if err != nil {
				return nil, fmt.Errorf("service public key: %w", err)
			}
			if common.XOnlyHex(configured) != signerKey {
				return nil, ErrServiceKeyMismatch
			}
		}
	}

	return &Flow{
		profile:   profile,
		params:    profile.Kind.ChainParams(),
		node:      deps.Node,
		chain:     deps.Chain,
		burner:    deps.Burner,
		service:   deps.ServiceSigner,
		covenants: deps.Covenants,
		intents:   deps.Intents,
		metrics:   deps.Metrics,
	}, nil
}

func (f *Flow) Profile() config.NetworkProfile {
	return f.profile.Copy()
}

// Covenant returns the profile policy, or the indexer's when the
// profile leaves it empty. The result is validated.
func (f *Flow) Covenant(ctx context.Context) (config.CovenantParams, error) {
	params := f.profile.Covenant.Copy()
	if params.Quorum == 0 && len(params.CovenantPubkeys) == 0 && f.covenants != nil {
		fetched, err := f.covenants.GetCovenantParams(ctx)
		if err != nil {
			return config.CovenantParams{}, err
		}
		params = fetched.Copy()
		if params.Tag == "" {
			params.Tag = f.profile.Covenant.Tag
		}
	}
	if err := params.Validate(); err != nil {
		return config.CovenantParams{}, err
	}
	return params, nil
}

// feeRate is the fastest recommended rate. A fallback rate is used as is
// and reported as a warning.
func (f *Flow) feeRate(ctx context.Context) (int64, []string, error) {
	rate, err := f.chain.FastestFeeRate(ctx)
	var fallback *mempool.FallbackWarning
	if errors.As(err, &fallback) {
		f.metrics.FeeFallback()
		return rate, []string{fallback.Error()}, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return rate, nil, nil
}

// utxos lists the outputs of address from the node on regtest and from
// the explorer api otherwise.
func (f *Flow) utxos(ctx context.Context, address string) ([]utxo.UTXO, error) {
	if f.profile.IsRegtest() {
		return f.node.ListUnspent(ctx, address)
	}
	return f.chain.AddressUTXOs(ctx, address)
}

type MintRequest struct {
	SourceAddress   string `json:"sourceChainAddress"`
	SourcePublicKey string `json:"sourceChainPublicKey"`
	// decimal evm chain id, defaults to the profile's
	DestinationChainId string `json:"destinationChainId"`
	// defaults to the profile's token contract
	ContractAddress string `json:"smartContractAddress"`
	ReceiverAddress string `json:"tokenReceiverAddress"`
	StakingAmount   int64  `json:"stakingAmount"`
	MintingAmount   uint64 `json:"mintingAmount"`
	// defaults to the profile's service key
	ServicePublicKey string `json:"servicePublicKey"`
}

type MintPsbtResult struct {
	PsbtHex     string   `json:"unsignedVaultPsbtHex"`
	FeeEstimate int64    `json:"feeEstimate"`
	FeeRate     int64    `json:"feeRate"`
	Warnings    []string `json:"warnings,omitempty"`
}

// BuildMintPsbt assembles the unsigned vault tx: vault output, OP_RETURN
// mint instructions and change, opted in to RBF.
func (f *Flow) BuildMintPsbt(ctx context.Context, req MintRequest) (*MintPsbtResult, error) {
	covenant, err := f.Covenant(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := config.ValidateAddress(f.profile.Kind, req.SourceAddress); err != nil {
		return nil, fmt.Errorf("source address: %w", err)
	}
	if req.StakingAmount <= 0 {
		return nil, assembler.ErrInvalidStakingAmount
	}
	if req.MintingAmount == 0 {
		return nil, ErrInvalidMintingValue
	}
	contract := firstNonEmpty(req.ContractAddress, f.profile.TokenContractAddress)
	contractHex, err := common.StripEvmAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("smart contract address: %w", err)
	}
	receiverHex, err := common.StripEvmAddress(req.ReceiverAddress)
	if err != nil {
		return nil, fmt.Errorf("token receiver address: %w", err)
	}
	chainIdHex, err := common.ChainIdToHex(firstNonEmpty(req.DestinationChainId, f.profile.EvmChainId))
	if err != nil {
		return nil, err
	}
	serviceKey := common.Trim0xPrefix(firstNonEmpty(req.ServicePublicKey, f.profile.ServicePublicKey))
	if serviceKey == "" {
		return nil, config.ErrServiceKeyNotSet
	}

	staker, err := assembler.NewStaker(
		f.params,
		req.SourceAddress,
		common.Trim0xPrefix(req.SourcePublicKey),
		serviceKey,
		covenant.CovenantPubkeys,
		covenant.Quorum,
		covenant.Tag,
		covenant.Version,
		chainIdHex,
		receiverHex,
		contractHex,
		req.MintingAmount,
	)
	if err != nil {
		return nil, err
	}

	var (
		utxos    []utxo.UTXO
		rate     int64
		warnings []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		utxos, err = f.utxos(gctx, req.SourceAddress)
		return err
	})
	g.Go(func() error {
		var err error
		rate, warnings, err = f.feeRate(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vault, err := staker.GetUnsignedVaultPsbt(utxos, req.StakingAmount, rate, true)
	if err != nil {
		return nil, err
	}
	psbtHex, err := assembler.PsbtToHex(vault.Psbt)
	if err != nil {
		return nil, err
	}

	f.metrics.PsbtBuilt("mint", f.profile.Name)
	logger.WithFields(logger.Fields{
		"network": f.profile.Name,
		"source":  req.SourceAddress,
		"staking": req.StakingAmount,
		"fee":     vault.FeeEstimate,
	}).Info("mint psbt built")

	return &MintPsbtResult{PsbtHex: psbtHex, FeeEstimate: vault.FeeEstimate, FeeRate: rate, Warnings: warnings}, nil
}

type BroadcastResult struct {
	TxId        string                   `json:"txId"`
	TxHex       string                   `json:"txHex"`
	ExplorerUrl string                   `json:"explorerUrl,omitempty"`
	Accept      *rpc.MempoolAcceptResult `json:"accept,omitempty"`
}

// FinalizeAndBroadcast finalizes the key path inputs a wallet left open,
// extracts the tx and sends it. With testFirst the node's mempool verdict
// is attached to the result; a rejection does not stop the broadcast.
func (f *Flow) FinalizeAndBroadcast(ctx context.Context, signedPsbt string, testFirst bool) (*BroadcastResult, error) {
	p, err := assembler.DecodePsbt(signedPsbt)
	if err != nil {
		return nil, err
	}
	if err := assembler.FinalizeKeyInputs(p); err != nil {
		return nil, err
	}
	_, txHex, err := assembler.ExtractTx(p)
	if err != nil {
		return nil, err
	}

	res := &BroadcastResult{TxHex: txHex}
	if testFirst && f.node != nil {
		accept, err := f.node.TestMempoolAccept(ctx, txHex)
		if err != nil {
			logger.WithField("err", err).Warn("testmempoolaccept failed")
		} else {
			res.Accept = accept
			if !accept.Allowed {
				logger.WithField("reason", accept.RejectReason).Warn("node would reject the tx")
			}
		}
	}

	txid, err := f.BroadcastTx(ctx, txHex)
	if err != nil {
		return nil, err
	}
	res.TxId = txid
	res.ExplorerUrl = f.ExplorerUrl(txid)
	return res, nil
}

// BroadcastTx sends a raw tx through the node, or through the explorer
// api when no node is configured.
func (f *Flow) BroadcastTx(ctx context.Context, txHex string) (string, error) {
	var (
		txid string
		err  error
	)
	if f.node != nil {
		txid, err = f.node.SendRawTx(ctx, txHex)
	} else {
		txid, err = f.chain.Broadcast(ctx, txHex)
	}
	f.metrics.Broadcast(f.profile.Name, err)
	if err != nil {
		return "", err
	}
	logger.WithFields(logger.Fields{"network": f.profile.Name, "txid": txid}).Info("tx broadcast")
	return txid, nil
}

// ExplorerUrl links txid on the profile's block explorer, empty when
// none is configured.
func (f *Flow) ExplorerUrl(txid string) string {
	if f.profile.MempoolWebUrl == "" {
		return ""
	}
	return mempool.TxExplorerURL(f.profile.MempoolWebUrl, txid)
}

type MintResult struct {
	Psbt      *MintPsbtResult  `json:"psbt"`
	Broadcast *BroadcastResult `json:"broadcast"`
}

// Mint runs the whole mint with a wallet: the wallet supplies the source
// address and key when the request leaves them empty, signs and
// finalizes, then the tx is broadcast. A declined signature is returned
// as is, see wallet.IsUserCancelled.
func (f *Flow) Mint(ctx context.Context, req MintRequest, provider wallet.Provider) (*MintResult, error) {
	if err := provider.Connect(ctx); err != nil {
		return nil, err
	}
	if req.SourceAddress == "" {
		addr, err := provider.Address(ctx)
		if err != nil {
			return nil, err
		}
		req.SourceAddress = addr
	}
	if req.SourcePublicKey == "" {
		pk, err := provider.PublicKeyHex(ctx)
		if err != nil {
			return nil, err
		}
		req.SourcePublicKey = pk
	}

	built, err := f.BuildMintPsbt(ctx, req)
	if err != nil {
		return nil, err
	}
	signed, err := provider.SignPsbt(ctx, built.PsbtHex, &wallet.SignOptions{Mode: wallet.ExtensionDefault, AutoFinalize: true})
	if err != nil {
		return nil, err
	}
	sent, err := f.FinalizeAndBroadcast(ctx, signed, true)
	if err != nil {
		return nil, err
	}
	return &MintResult{Psbt: built, Broadcast: sent}, nil
}

type UnbondRequest struct {
	StakerAddress   string `json:"btcStakerAddress"`
	ReceiverAddress string `json:"btcReceiverAddress"`
	VaultTxHex      string `json:"vaultTxHex"`
	// read from the vault tx witness when empty
	StakerPublicKey string `json:"btcStakerPublicKey,omitempty"`
}

type UnbondPsbtResult struct {
	PsbtHex     string   `json:"unsignedUnbondPsbtHex"`
	PsbtBase64  string   `json:"-"`
	VaultTxId   string   `json:"vaultTxId"`
	FeeEstimate int64    `json:"feeEstimate"`
	FeeRate     int64    `json:"feeRate,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// BuildUnbondPsbt assembles the unsigned tx spending the vault output
// through the burning leaf. A configured unbonding fee replaces fee rate
// estimation.
func (f *Flow) BuildUnbondPsbt(ctx context.Context, req UnbondRequest) (*UnbondPsbtResult, error) {
	covenant, err := f.Covenant(ctx)
	if err != nil {
		return nil, err
	}
	if f.profile.ServicePublicKey == "" {
		return nil, config.ErrServiceKeyNotSet
	}
	if _, err := config.ValidateAddress(f.profile.Kind, req.StakerAddress); err != nil {
		return nil, fmt.Errorf("staker address: %w", err)
	}
	if _, err := config.ValidateAddress(f.profile.Kind, req.ReceiverAddress); err != nil {
		return nil, fmt.Errorf("receiver address: %w", err)
	}

	unstaker, err := assembler.NewUnStaker(
		f.params,
		req.StakerAddress,
		req.VaultTxHex,
		covenant.CovenantPubkeys,
		covenant.Quorum,
		common.Trim0xPrefix(f.profile.ServicePublicKey),
		common.Trim0xPrefix(req.StakerPublicKey),
	)
	if err != nil {
		return nil, err
	}

	var (
		rate     int64
		warnings []string
	)
	if f.profile.UnbondingFeeSats > 0 {
		unstaker.FixedFee = f.profile.UnbondingFeeSats
	} else {
		rate, warnings, err = f.feeRate(ctx)
		if err != nil {
			return nil, err
		}
	}

	burning, err := unstaker.GetUnsignedBurningPsbt(req.ReceiverAddress, rate, true)
	if err != nil {
		return nil, err
	}
	psbtHex, err := assembler.PsbtToHex(burning.Psbt)
	if err != nil {
		return nil, err
	}
	psbtB64, err := assembler.PsbtToBase64(burning.Psbt)
	if err != nil {
		return nil, err
	}

	f.metrics.PsbtBuilt("unbond", f.profile.Name)
	vaultTxId := unstaker.VaultTx.TxHash().String()
	logger.WithFields(logger.Fields{
		"network":   f.profile.Name,
		"vaultTxId": vaultTxId,
		"fee":       burning.FeeEstimate,
	}).Info("unbond psbt built")

	return &UnbondPsbtResult{
		PsbtHex:     psbtHex,
		PsbtBase64:  psbtB64,
		VaultTxId:   vaultTxId,
		FeeEstimate: burning.FeeEstimate,
		FeeRate:     rate,
		Warnings:    warnings,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
