// Server = per network flows (btc node, mempool api, evm side) + burn
// intent and shadow bond stores + http api.
// All components are configured from config.Settings.

package cmd

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/apiserver"
	"github.com/TEENet-io/vault-bridge/bondstore"
	btcrpc "github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/etherman"
	"github.com/TEENet-io/vault-bridge/indexer"
	"github.com/TEENet-io/vault-bridge/mempool"
	"github.com/TEENet-io/vault-bridge/metrics"
	"github.com/TEENet-io/vault-bridge/vaultflow"
	"github.com/TEENet-io/vault-bridge/wallet"
	_ "github.com/mattn/go-sqlite3"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	frequencyToResumeBurns = 30 * time.Second // finish intents whose evm burn confirmed.
	timeoutOnEvmDial       = 15 * time.Second
)

type VaultServerConfig struct {
	Settings *config.Settings

	// zero uses frequencyToResumeBurns
	ResumeInterval time.Duration
}

// NetworkComponents are the objects serving one network profile.
// BtcRpcClient, Etherman and Wallet are nil when the profile does not
// configure them.
type NetworkComponents struct {
	Profile      config.NetworkProfile
	BtcRpcClient *btcrpc.RpcClient
	Mempool      *mempool.Client
	Etherman     *etherman.Etherman
	Wallet       *wallet.RegtestWallet
	Flow         *vaultflow.Flow
}

// VaultServer holds the objects that consists of the vault server.
type VaultServer struct {
	Settings *config.Settings
	Metrics  *metrics.Metrics
	Intents  *burnintent.Store
	Bonds    *bondstore.Store
	Indexer  *indexer.Client
	Networks map[string]*NetworkComponents
	Api      *apiserver.HttpServer

	db *sql.DB
}

// NewVaultServer creates a new vault server.
// ctx is used for parental context to cancel the operation of vault server.
// wg is used to wait for all the goroutines inside the server (api, resume loops) to finish.
func NewVaultServer(vsc *VaultServerConfig, ctx context.Context, wg *sync.WaitGroup) (*VaultServer, error) {
	s := vsc.Settings
	interval := vsc.ResumeInterval
	if interval <= 0 {
		interval = frequencyToResumeBurns
	}

	vs := &VaultServer{
		Settings: s,
		Metrics:  metrics.New(),
		Networks: make(map[string]*NetworkComponents, len(s.Profiles)),
	}

	db, err := sql.Open("sqlite3", s.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// sqlite takes one writer
	db.SetMaxOpenConns(1)
	vs.db = db

	vs.Intents, err = burnintent.NewStore(db)
	if err != nil {
		vs.Close()
		return nil, fmt.Errorf("failed to create burn intent store: %w", err)
	}
	vs.Bonds, err = bondstore.NewStore(db)
	if err != nil {
		vs.Close()
		return nil, fmt.Errorf("failed to create bond store: %w", err)
	}

	if s.IndexerApiUrl != "" {
		vs.Indexer, err = indexer.NewClient(s.IndexerApiUrl, nil)
		if err != nil {
			vs.Close()
			return nil, fmt.Errorf("failed to create indexer client: %w", err)
		}
	}

	var evmKey *ecdsa.PrivateKey
	if s.EvmPrivateKey != "" {
		evmKey, err = etherman.StringToPrivateKey(s.EvmPrivateKey)
		if err != nil {
			vs.Close()
			return nil, fmt.Errorf("failed to load evm account: %w", err)
		}
	}

	for key, profile := range s.Profiles {
		nc, err := vs.setupNetwork(ctx, profile, evmKey)
		if err != nil {
			vs.Close()
			return nil, fmt.Errorf("network %s: %w", profile.Name, err)
		}
		vs.Networks[key] = nc
	}

	networks := make(map[string]*apiserver.Network, len(vs.Networks))
	for key, nc := range vs.Networks {
		n := &apiserver.Network{Flow: nc.Flow, Fees: nc.Mempool, Txs: nc.Mempool, Chain: nc.Mempool}
		if nc.BtcRpcClient != nil {
			n.Node = nc.BtcRpcClient
		}
		if nc.Wallet != nil {
			n.Wallet = nc.Wallet
		}
		networks[key] = n
	}
	vs.Api, err = apiserver.NewHttpServer(apiserver.Config{
		HttpIp:         s.HttpIp,
		HttpPort:       s.HttpPort,
		GrpcPort:       s.GrpcPort,
		DefaultNetwork: s.DefaultNetwork,
	}, networks, vs.Intents, vs.Metrics)
	if err != nil {
		vs.Close()
		return nil, err
	}
	if vs.Indexer != nil {
		vs.Api.EnableBonds(vs.Bonds, vs.Indexer)
	} else {
		vs.Api.EnableBonds(vs.Bonds, nil)
	}
	if s.WalletBridge {
		vs.Api.EnableWalletBridge(wallet.NewWSBridge(s.WalletBridgeOrigins...), 0)
	}

	// Important: Turn on the resume loops of networks that can burn.
	for _, nc := range vs.Networks {
		if nc.Etherman == nil {
			continue
		}
		flow := nc.Flow
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flow.RunResumeLoop(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("burn resume loop stopped")
			}
		}()
	}

	// Turn on the http server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := vs.Api.Run(ctx); err != nil {
			logger.Fatalf("api server failed: %v", err)
		}
	}()
	// Don't forget to call wg.Wait() in the main routine.

	return vs, nil
}

func (vs *VaultServer) setupNetwork(ctx context.Context, profile config.NetworkProfile, evmKey *ecdsa.PrivateKey) (*NetworkComponents, error) {
	s := vs.Settings
	params := profile.Kind.ChainParams()
	nc := &NetworkComponents{
		Profile: profile,
		Mempool: mempool.NewClient(profile.MempoolApi(), nil),
	}
	deps := vaultflow.Deps{
		Chain:   nc.Mempool,
		Intents: vs.Intents,
		Metrics: vs.Metrics,
	}
	if vs.Indexer != nil {
		deps.Covenants = vs.Indexer
	}

	// 0) connect to the btc node
	if profile.NodeHost != "" {
		r, err := SetupBtcRpc(profile)
		if err != nil {
			return nil, err
		}
		nc.BtcRpcClient = r
		deps.Node = r

		// plaintext key wallet, Load already refused it outside of regtest
		if profile.RegtestWIF != "" {
			w, err := wallet.NewRegtestWallet(profile, profile.RegtestWIF, s.AllowRegtestKeys && !s.ProductionMode, r, nc.Mempool)
			if err != nil {
				return nil, fmt.Errorf("failed to load regtest wallet: %w", err)
			}
			nc.Wallet = w
		}
	}

	// 1) service co-signing key
	if s.ServicePrivateKey != "" || s.ServiceKeyFile != "" {
		signer, err := wallet.LoadServiceKey(s.ServicePrivateKey, s.ServiceKeyFile, s.ServiceKeyPassphrase, params)
		if err != nil {
			return nil, fmt.Errorf("failed to load service key: %w", err)
		}
		deps.ServiceSigner = signer
	}

	// 2) evm side, only when the account and the contracts are configured
	if evmKey != nil && deps.ServiceSigner != nil {
		cfg, err := etherman.ConfigFromProfile(profile)
		if err != nil {
			logger.WithField("network", profile.Name).WithError(err).Warn("burning disabled")
		} else {
			dialCtx, cancel := context.WithTimeout(ctx, timeoutOnEvmDial)
			em, err := etherman.Dial(dialCtx, cfg, evmKey)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed to connect to evm chain: %w", err)
			}
			nc.Etherman = em
			deps.Burner = em
			logger.WithFields(logger.Fields{
				"network": profile.Name,
				"account": em.Account().Hex(),
				"token":   em.TokenAddress().Hex(),
				"gateway": em.GatewayAddress().Hex(),
			}).Info("evm side connected")
		}
	}

	flow, err := vaultflow.New(profile, deps)
	if err != nil {
		return nil, err
	}
	nc.Flow = flow
	return nc, nil
}

// Close releases node connections and the stores.
func (vs *VaultServer) Close() {
	for _, nc := range vs.Networks {
		if nc.BtcRpcClient != nil {
			nc.BtcRpcClient.Close()
		}
	}
	if vs.Intents != nil {
		if err := vs.Intents.Close(); err != nil {
			logger.WithError(err).Warn("failed to close burn intent store")
		}
	}
	if vs.Bonds != nil {
		vs.Bonds.Close()
	}
	if vs.db != nil {
		if err := vs.db.Close(); err != nil {
			logger.WithError(err).Warn("failed to close db")
		}
	}
}

// Create, then start the vault server and wait.
// Press Ctrl-C to kill the server.
func StartVaultServerAndWait(vsc *VaultServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("cancelling context")
		cancel()
	}()

	var wg sync.WaitGroup

	vs, err := NewVaultServer(vsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create vault server: %v", err)
		return
	}

	// wait for all routines to finish (until a signal arrives)
	wg.Wait()
	vs.Close()
}
