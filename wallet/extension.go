package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/btcman/utxo"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
)

// Injected is the object a wallet extension exposes to web pages.
type Injected interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	GetAccounts(ctx context.Context) ([]string, error)
	GetPublicKey(ctx context.Context) (string, error)
	GetNetwork(ctx context.Context) (string, error)
	SwitchNetwork(ctx context.Context, network string) (string, error)
	GetVersion(ctx context.Context) (string, error)
	SignPsbt(ctx context.Context, psbtHex string, opts *SignOptions) (string, error)
	SignPsbts(ctx context.Context, psbtHexes []string, opts []*SignOptions) ([]string, error)
	SignMessage(ctx context.Context, msg string, kind string) (string, error)
	GetBalance(ctx context.Context) (*InjectedBalance, error)
	PushPsbt(ctx context.Context, psbtHex string) (string, error)
	PushTx(ctx context.Context, rawTx string) (string, error)
	On(event string, cb EventCallback)
}

type InjectedBalance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
	Total       int64 `json:"total"`
}

// ChainReader answers chain queries the extension can not.
// *mempool.Client implements it.
type ChainReader interface {
	AddressUTXOs(ctx context.Context, address string) ([]utxo.UTXO, error)
	RecommendedFees(ctx context.Context) (*mempool.Fees, error)
	TipHeight(ctx context.Context) (int64, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
}

var _ ChainReader = (*mempool.Client)(nil)

// extension network names
var internalNetworkNames = map[config.NetworkKind]string{
	config.Mainnet: "livenet",
	config.Testnet: "testnet",
	config.Signet:  "signet",
}

type walletInfo struct {
	address      string
	publicKeyHex string
}

// ExtensionWallet drives an Unisat style extension.
type ExtensionWallet struct {
	injected Injected
	profile  config.NetworkProfile
	chain    ChainReader

	mu   sync.RWMutex
	info *walletInfo
}

var _ Provider = (*ExtensionWallet)(nil)

func NewExtensionWallet(injected Injected, profile config.NetworkProfile, chain ChainReader) (*ExtensionWallet, error) {
	if injected == nil {
		return nil, ErrExtensionNotFound
	}
	return &ExtensionWallet{injected: injected, profile: profile, chain: chain}, nil
}

func (w *ExtensionWallet) Connect(ctx context.Context) error {
	version, err := w.injected.GetVersion(ctx)
	if err != nil {
		return err
	}
	if compareVersions(version, MinExtensionVersion) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrVersionTooOld, version, MinExtensionVersion)
	}

	want, ok := internalNetworkNames[w.profile.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedNetwork, w.profile.Kind)
	}
	current, err := w.injected.GetNetwork(ctx)
	if err != nil || current != want {
		if _, err := w.injected.SwitchNetwork(ctx, want); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{"from": current, "to": want}).Info("switched wallet network")
	}

	accounts, err := w.injected.RequestAccounts(ctx)
	if err != nil {
		if IsUserCancelled(err) {
			return err
		}
		return fmt.Errorf("BTC %s is not enabled in Unisat Wallet, %v", w.profile.Kind, err)
	}
	if len(accounts) == 0 {
		return ErrCouldNotConnect
	}
	address := accounts[0]
	if _, err := config.ValidateAddress(w.profile.Kind, address); err != nil {
		return err
	}

	publicKeyHex, err := w.injected.GetPublicKey(ctx)
	if err != nil {
		return err
	}
	if publicKeyHex == "" {
		return ErrCouldNotConnect
	}

	w.mu.Lock()
	w.info = &walletInfo{address: address, publicKeyHex: publicKeyHex}
	w.mu.Unlock()

	logger.WithFields(logger.Fields{"address": address, "network": w.profile.Name}).Info("wallet connected")
	return nil
}

func (w *ExtensionWallet) connected() (*walletInfo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.info == nil {
		return nil, ErrNotConnected
	}
	return w.info, nil
}

func (w *ExtensionWallet) Name() string {
	return "Unisat"
}

func (w *ExtensionWallet) Address(ctx context.Context) (string, error) {
	info, err := w.connected()
	if err != nil {
		return "", err
	}
	return info.address, nil
}

func (w *ExtensionWallet) PublicKeyHex(ctx context.Context) (string, error) {
	info, err := w.connected()
	if err != nil {
		return "", err
	}
	return info.publicKeyHex, nil
}

// SignPsbt hands the packet to the extension, which shows the fee to the
// user before signing.
func (w *ExtensionWallet) SignPsbt(ctx context.Context, psbtHex string, opts *SignOptions) (string, error) {
	if _, err := w.connected(); err != nil {
		return "", err
	}
	if opts != nil {
		switch opts.Mode {
		case ExtensionDefault:
			opts = nil
		case ExtensionWithOptions:
		default:
			return "", fmt.Errorf("%w: %s", ErrUnsupportedSigningMode, opts.Mode)
		}
	}
	return w.injected.SignPsbt(ctx, psbtHex, opts)
}

func (w *ExtensionWallet) SignPsbts(ctx context.Context, psbtHexes []string) ([]string, error) {
	if _, err := w.connected(); err != nil {
		return nil, err
	}
	return w.injected.SignPsbts(ctx, psbtHexes, nil)
}

func (w *ExtensionWallet) SignMessageBIP322(ctx context.Context, msg string) (string, error) {
	if _, err := w.connected(); err != nil {
		return "", err
	}
	return w.injected.SignMessage(ctx, msg, "bip322-simple")
}

// Network is the configured network. The extension can not tell signet
// from testnet, so the check happens once in Connect.
func (w *ExtensionWallet) Network(ctx context.Context) (config.NetworkKind, error) {
	return w.profile.Kind, nil
}

func (w *ExtensionWallet) On(event string, cb EventCallback) error {
	if _, err := w.connected(); err != nil {
		return err
	}
	switch event {
	case EventAccountsChanged, "accountChanged":
		w.injected.On(EventAccountsChanged, func(data json.RawMessage) {
			// the cached account is stale now
			w.mu.Lock()
			w.info = nil
			w.mu.Unlock()
			cb(data)
		})
	case EventNetworkChanged:
		w.injected.On(event, cb)
	}
	return nil
}

func (w *ExtensionWallet) Balance(ctx context.Context) (int64, error) {
	address, err := w.Address(ctx)
	if err != nil {
		return 0, err
	}
	utxos, err := w.chain.AddressUTXOs(ctx, address)
	if err != nil {
		return 0, err
	}
	return utxo.Total(utxos), nil
}

func (w *ExtensionWallet) NetworkFees(ctx context.Context) (*mempool.Fees, error) {
	return w.chain.RecommendedFees(ctx)
}

func (w *ExtensionWallet) PushTx(ctx context.Context, txHex string) (string, error) {
	return w.chain.Broadcast(ctx, txHex)
}

func (w *ExtensionWallet) Utxos(ctx context.Context, address string, amount int64) ([]utxo.UTXO, error) {
	utxos, err := w.chain.AddressUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}
	return fundingUtxos(utxos, amount)
}

func (w *ExtensionWallet) TipHeight(ctx context.Context) (int64, error) {
	return w.chain.TipHeight(ctx)
}

// compareVersions compares dotted numeric versions, "1.10.0" > "1.4.5".
// Missing or non numeric parts count as zero.
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(strings.TrimSpace(a), "v"), ".")
	pb := strings.Split(strings.TrimPrefix(strings.TrimSpace(b), "v"), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(pb[i])
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}
