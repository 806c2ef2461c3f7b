package vaultflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/wallet"
)

// Progress messages reported to a StatusFunc, in order.
const (
	StatusEstimating = "Estimating the fee"
	StatusSigning    = "Signing the PSBT"
	StatusApproving  = "Approving the token"
	StatusBurning    = "Burning the token"
	StatusCoSigning  = "Broadcasting the unbond transaction"
	StatusBurned     = "Token burned successfully"
)

// Steps of the burn saga, used in errors and metrics.
const (
	StepValidate  = "validate"
	StepEstimate  = "estimate"
	StepSign      = "sign"
	StepApprove   = "approve"
	StepBurn      = "burn"
	StepBroadcast = "broadcast"
)

const burnErrorPrefix = "Failed to burn the token: "

var (
	ErrMissingDestination = errors.New("Missing destination chain or address")
	ErrMissingBurnAmount  = errors.New("Missing burn amount")
	ErrStakerNotSigned    = errors.New("the staker did not sign the burning input")
	ErrStakerSigInvalid   = errors.New("the staker signature does not unlock the vault")
	ErrPsbtModified       = errors.New("the wallet changed the unbond transaction")
)

const burnedRetries = 3

type StatusFunc func(status string)

// StepError reports where a burn stopped. When State is burned the
// token is gone and the intent will be finished by ResumeBurned.
type StepError struct {
	Step     string
	IntentId string
	State    burnintent.Status
	Err      error
}

func (e *StepError) Error() string {
	return burnErrorPrefix + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type BurnRequest struct {
	StakerAddress   string `json:"btcStakerAddress"`
	ReceiverAddress string `json:"btcReceiverAddress"`
	VaultTxHex      string `json:"vaultTxHex"`
	StakerPublicKey string `json:"btcStakerPublicKey,omitempty"`

	// default to the profile
	DestinationChain   string `json:"destinationChain,omitempty"`
	DestinationAddress string `json:"destinationAddress,omitempty"`
	Amount             string `json:"amount,omitempty"`
}

type BurnResult struct {
	IntentId      string `json:"intentId"`
	ApproveTxHash string `json:"approveTxHash"`
	BurnTxHash    string `json:"burnTxHash"`
	BtcTxId       string `json:"btcTxId"`
	ExplorerUrl   string `json:"explorerUrl,omitempty"`
	// burned token amount, in whole tokens
	Amount string `json:"amount"`
}

// Burn releases a vault: the staker signs the burning input, the token
// is approved and burned on the evm chain, then the service co-signs and
// the release is broadcast. Every step is recorded on an intent so a
// crash after the burn can be finished by ResumeBurned.
func (f *Flow) Burn(ctx context.Context, req BurnRequest, provider wallet.Provider, onStatus StatusFunc) (*BurnResult, error) {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	if f.burner == nil || f.service == nil || f.intents == nil {
		return nil, &StepError{Step: StepValidate, Err: ErrBurnNotConfigured}
	}

	destChain := firstNonEmpty(req.DestinationChain, f.profile.DestinationChainName)
	destAddress := firstNonEmpty(req.DestinationAddress, f.profile.DestinationAddress)
	if destChain == "" || destAddress == "" {
		return nil, &StepError{Step: StepValidate, Err: ErrMissingDestination}
	}
	amountStr := firstNonEmpty(req.Amount, f.profile.BurningAmount)
	if amountStr == "" {
		return nil, &StepError{Step: StepValidate, Err: ErrMissingBurnAmount}
	}
	amount, err := common.ParseTokenUnits(amountStr, f.profile.TokenDecimals)
	if err != nil {
		return nil, &StepError{Step: StepValidate, Err: err}
	}
	vaultTx, err := assembler.DecodeTxHex(req.VaultTxHex)
	if err != nil {
		return nil, &StepError{Step: StepValidate, Err: err}
	}

	if err := provider.Connect(ctx); err != nil {
		return nil, &StepError{Step: StepValidate, Err: err}
	}
	if req.StakerAddress == "" {
		if req.StakerAddress, err = provider.Address(ctx); err != nil {
			return nil, &StepError{Step: StepValidate, Err: err}
		}
	}

	id, err := f.intents.Insert(ctx, &burnintent.Intent{
		StakerAddress:   req.StakerAddress,
		ReceiverAddress: req.ReceiverAddress,
		VaultTxId:       vaultTx.TxHash().String(),
	})
	if err != nil {
		return nil, &StepError{Step: StepValidate, Err: err}
	}
	log := logger.WithFields(logger.Fields{"intent": id, "network": f.profile.Name})

	res := &BurnResult{IntentId: id, Amount: common.FormatTokenUnits(amount, f.profile.TokenDecimals)}
	state := burnintent.StatusCreated
	fail := func(step string, err error) (*BurnResult, error) {
		f.metrics.BurnStep(step, err)
		// record the outcome even when ctx was cancelled
		ctx := context.WithoutCancel(ctx)
		log.WithFields(logger.Fields{"step": step, "err": err}).Error("burn failed")
		// a confirmed burn can only go forward
		if state == burnintent.StatusBurned {
			if rerr := f.intents.RecordError(ctx, id, err); rerr != nil {
				log.WithField("err", rerr).Error("failed to record the burn error")
			}
		} else if merr := f.intents.MarkFailed(ctx, id, err); merr != nil {
			log.WithField("err", merr).Error("failed to mark the burn intent failed")
		} else {
			state = burnintent.StatusFailed
		}
		return res, &StepError{Step: step, IntentId: id, State: state, Err: err}
	}
	advance := func(next burnintent.Status, fields burnintent.Fields) error {
		if err := f.intents.Advance(ctx, id, next, fields); err != nil {
			return err
		}
		state = next
		return nil
	}

	onStatus(StatusEstimating)
	unbond, err := f.BuildUnbondPsbt(ctx, UnbondRequest{
		StakerAddress:   req.StakerAddress,
		ReceiverAddress: req.ReceiverAddress,
		VaultTxHex:      req.VaultTxHex,
		StakerPublicKey: req.StakerPublicKey,
	})
	if err != nil {
		return fail(StepEstimate, err)
	}
	f.metrics.BurnStep(StepEstimate, nil)

	onStatus(StatusSigning)
	signedHex, err := provider.SignPsbt(ctx, unbond.PsbtHex, &wallet.SignOptions{
		Mode:         wallet.ExtensionWithOptions,
		AutoFinalize: false,
		ToSignInputs: []wallet.ToSignInput{{Index: 0, Address: req.StakerAddress, DisableTweakSigner: true}},
	})
	if err != nil {
		return fail(StepSign, err)
	}
	signed, err := f.adoptStakerSig(unbond.PsbtHex, signedHex)
	if err != nil {
		return fail(StepSign, err)
	}
	signedB64, err := assembler.PsbtToBase64(signed)
	if err != nil {
		return fail(StepSign, err)
	}
	if err := advance(burnintent.StatusSigned, burnintent.Fields{SignedPsbt: signedB64}); err != nil {
		return fail(StepSign, err)
	}
	f.metrics.BurnStep(StepSign, nil)

	onStatus(StatusApproving)
	start := time.Now()
	approveHash, err := f.burner.Approve(ctx, amount)
	f.metrics.EvmTx("approve", time.Since(start))
	if err != nil {
		return fail(StepApprove, err)
	}
	res.ApproveTxHash = approveHash.Hex()
	if err := advance(burnintent.StatusApproved, burnintent.Fields{ApproveTxHash: res.ApproveTxHash}); err != nil {
		return fail(StepApprove, err)
	}
	f.metrics.BurnStep(StepApprove, nil)

	onStatus(StatusBurning)
	start = time.Now()
	burnHash, err := f.burner.CallBurn(ctx, destChain, destAddress, amount, signedB64)
	f.metrics.EvmTx("callBurn", time.Since(start))
	if err != nil {
		return fail(StepBurn, err)
	}
	res.BurnTxHash = burnHash.Hex()
	if err := f.recordBurned(ctx, id, res.BurnTxHash); err != nil {
		// the token is gone whatever the store says
		log.WithField("burnTx", res.BurnTxHash).Error("burn mined but not recorded, reconcile by hand")
		state = burnintent.StatusBurned
		return fail(StepBurn, err)
	}
	state = burnintent.StatusBurned
	f.metrics.BurnStep(StepBurn, nil)
	log.WithField("burnTx", res.BurnTxHash).Info("token burned")

	onStatus(StatusCoSigning)
	txid, err := f.finishBurned(ctx, id)
	if err != nil {
		return fail(StepBroadcast, err)
	}
	state = burnintent.StatusBroadcast
	f.metrics.BurnStep(StepBroadcast, nil)

	res.BtcTxId = txid
	res.ExplorerUrl = f.ExplorerUrl(txid)
	onStatus(StatusBurned)
	return res, nil
}

// finishBurned co-signs and broadcasts a burned intent. An intent another
// caller already finished is returned with its txid.
func (f *Flow) finishBurned(ctx context.Context, id string) (string, error) {
	f.finishLock.Lock()
	defer f.finishLock.Unlock()

	intent, err := f.intents.GetById(ctx, id)
	if err != nil {
		return "", err
	}
	switch intent.Status {
	case burnintent.StatusBroadcast:
		return intent.BtcTxId, nil
	case burnintent.StatusBurned:
	default:
		return "", fmt.Errorf("%w: intent %s is %s", burnintent.ErrInvalidTransition, id, intent.Status)
	}

	p, err := assembler.DecodePsbt(intent.SignedPsbt)
	if err != nil {
		return "", err
	}
	txid, txHex, err := f.coSign(p)
	if err != nil {
		return "", err
	}
	if _, err := f.BroadcastTx(ctx, txHex); err != nil {
		if !rpc.IsAlreadyBroadcast(err) {
			return "", err
		}
		logger.WithFields(logger.Fields{"intent": id, "txid": txid}).Info("release already broadcast")
	}
	if err := f.intents.Advance(ctx, id, burnintent.StatusBroadcast, burnintent.Fields{BtcTxId: txid}); err != nil {
		// already on chain, the next resume finds the tx known to the node
		return txid, err
	}
	return txid, nil
}

// recordBurned moves the intent to burned. The burn is already mined, so
// a cancelled ctx does not stop it and store errors are retried.
func (f *Flow) recordBurned(ctx context.Context, id, burnTxHash string) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := 0; i < burnedRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * 100 * time.Millisecond)
		}
		if err = f.intents.Advance(ctx, id, burnintent.StatusBurned, burnintent.Fields{BurnTxHash: burnTxHash}); err == nil {
			return nil
		}
	}
	return err
}

// adoptStakerSig copies the staker's burning leaf signature from the
// wallet's packet onto the one built here, then co-signs a copy to make
// sure the release verifies before any token is burned. Nothing else the
// wallet returns is kept.
func (f *Flow) adoptStakerSig(unsignedHex, signedHex string) (*psbt.Packet, error) {
	ours, err := assembler.DecodePsbt(unsignedHex)
	if err != nil {
		return nil, err
	}
	theirs, err := assembler.DecodePsbt(signedHex)
	if err != nil {
		return nil, err
	}
	if theirs.UnsignedTx.TxHash() != ours.UnsignedTx.TxHash() {
		return nil, ErrPsbtModified
	}

	serviceXOnly := schnorr.SerializePubKey(f.service.PublicKey())
	for _, sig := range theirs.Inputs[0].TaprootScriptSpendSig {
		if bytes.Equal(sig.XOnlyPubKey, serviceXOnly) {
			continue
		}
		ours.Inputs[0].TaprootScriptSpendSig = append(ours.Inputs[0].TaprootScriptSpendSig, sig)
	}
	if _, err := stakerLeafKey(ours, f.service.PublicKey()); err != nil {
		return nil, err
	}

	b64, err := assembler.PsbtToBase64(ours)
	if err != nil {
		return nil, err
	}
	check, err := assembler.DecodePsbt(b64)
	if err != nil {
		return nil, err
	}
	if _, _, err := f.coSign(check); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStakerSigInvalid, err)
	}
	return ours, nil
}

// coSign adds the service signature to the burning input, finalizes it,
// verifies the scripts and returns the network tx with its id.
func (f *Flow) coSign(p *psbt.Packet) (string, string, error) {
	serviceKey := f.service.PublicKey()
	stakerKey, err := stakerLeafKey(p, serviceKey)
	if err != nil {
		return "", "", err
	}
	if _, err := f.service.SignPsbt(p, &assembler.SignOpts{Indexes: []int{0}}); err != nil {
		return "", "", err
	}
	if err := assembler.FinalizeBurningInput(p, 0, stakerKey, serviceKey); err != nil {
		return "", "", err
	}
	if err := assembler.FinalizeKeyInputs(p); err != nil {
		return "", "", err
	}
	tx, txHex, err := assembler.ExtractTx(p)
	if err != nil {
		return "", "", err
	}
	if err := assembler.VerifyTx(p, tx); err != nil {
		return "", "", err
	}
	return tx.TxHash().String(), txHex, nil
}

// stakerLeafKey finds the staker's script path signature on input 0, the
// one not made by the service key.
func stakerLeafKey(p *psbt.Packet, service *btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(p.Inputs) == 0 || len(p.Inputs[0].TaprootLeafScript) == 0 {
		return nil, assembler.ErrNotBurningInput
	}
	serviceXOnly := schnorr.SerializePubKey(service)
	for _, sig := range p.Inputs[0].TaprootScriptSpendSig {
		if bytes.Equal(sig.XOnlyPubKey, serviceXOnly) {
			continue
		}
		return schnorr.ParsePubKey(sig.XOnlyPubKey)
	}
	return nil, ErrStakerNotSigned
}

// ResumeBurned finishes every intent whose token burn confirmed but whose
// release was never broadcast. Returns how many were broadcast.
func (f *Flow) ResumeBurned(ctx context.Context) (int, error) {
	if f.intents == nil || f.service == nil {
		return 0, ErrBurnNotConfigured
	}
	intents, err := f.intents.GetByStatus(ctx, burnintent.StatusBurned)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, intent := range intents {
		log := logger.WithFields(logger.Fields{"intent": intent.Id, "burnTx": intent.BurnTxHash})
		txid, err := f.finishBurned(ctx, intent.Id)
		if err != nil {
			log.WithField("err", err).Warn("failed to resume burned intent")
			if rerr := f.intents.RecordError(ctx, intent.Id, err); rerr != nil {
				log.WithField("err", rerr).Error("failed to record the resume error")
			}
			continue
		}
		f.metrics.Resumed()
		log.WithField("txid", txid).Info("burned intent broadcast")
		done++
	}
	return done, nil
}

// RunResumeLoop calls ResumeBurned on every tick until ctx is done.
func (f *Flow) RunResumeLoop(ctx context.Context, interval time.Duration) error {
	logger.WithField("network", f.profile.Name).Debug("starting burn resume loop")
	defer logger.WithField("network", f.profile.Name).Debug("stopping burn resume loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.ResumeBurned(ctx); err != nil {
				logger.Errorf("failed to resume burned intents: err=%v", err)
			}
		}
	}
}
