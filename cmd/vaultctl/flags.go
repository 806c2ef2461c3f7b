package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/vault-bridge/config"
)

const (
	urlFlagName           = "url"
	networkFlagName       = "network"
	kindFlagName          = "kind"
	statusFlagName        = "status"
	methodFlagName        = "method"
	txFlagName            = "tx"
	wifFlagName           = "wif"
	addressFlagName       = "address"
	pubkeyFlagName        = "pubkey"
	receiverFlagName      = "receiver"
	contractFlagName      = "contract"
	chainIdFlagName       = "chain-id"
	servicePubkeyFlagName = "service-pubkey"
	stakingFlagName       = "staking"
	mintingFlagName       = "minting"
	stakerFlagName        = "staker"
	btcReceiverFlagName   = "btc-receiver"
	vaultTxFlagName       = "vault-tx"
	stakerPubkeyFlagName  = "staker-pubkey"
	passphraseFlagName    = "passphrase"
	outFlagName           = "out"
	skipTestFlagName      = "skip-test"
	stakerPkFlagName      = "pk"
	apiFlagName           = "api"
	dAppIdFlagName        = "id"
	chainNameFlagName     = "chain-name"
	chainEndpointFlagName = "chain-endpoint"
	btcAddressFlagName    = "btc-address"
	publicKeyFlagName     = "public-key"
)

var (
	urlFlag = &cli.StringFlag{
		Name:    urlFlagName,
		Usage:   "the url where to reach the vault server",
		Value:   fmt.Sprintf("http://localhost:%s", config.DEFAULT_HTTP_PORT),
		EnvVars: []string{"VAULTCTL_URL"},
	}
	networkFlag = &cli.StringFlag{
		Name:    networkFlagName,
		Usage:   "network profile name, the server default when empty",
		EnvVars: []string{"VAULTCTL_NETWORK"},
	}
	kindFlag = &cli.StringFlag{
		Name:  kindFlagName,
		Usage: "bitcoin network kind of local keys (mainnet, testnet, signet, regtest)",
		Value: string(config.Regtest),
	}
	statusFlag = &cli.StringFlag{
		Name:  statusFlagName,
		Usage: "only list intents in this state",
	}
	methodFlag = &cli.StringFlag{
		Name:     methodFlagName,
		Usage:    "json-rpc method, positional args are its params",
		Required: true,
	}
	txFlag = &cli.StringFlag{
		Name:     txFlagName,
		Usage:    "raw transaction hex",
		Required: true,
	}
	wifFlag = &cli.StringFlag{
		Name:     wifFlagName,
		Usage:    "private key in wallet import format",
		Required: true,
		EnvVars:  []string{"VAULTCTL_WIF"},
	}
	addressFlag = &cli.StringFlag{
		Name:     addressFlagName,
		Usage:    "btc address funding the vault",
		Required: true,
	}
	pubkeyFlag = &cli.StringFlag{
		Name:     pubkeyFlagName,
		Usage:    "public key of the funding address",
		Required: true,
	}
	receiverFlag = &cli.StringFlag{
		Name:     receiverFlagName,
		Usage:    "evm address receiving the minted token",
		Required: true,
	}
	contractFlag = &cli.StringFlag{
		Name:  contractFlagName,
		Usage: "token contract, the profile's when empty",
	}
	chainIdFlag = &cli.StringFlag{
		Name:  chainIdFlagName,
		Usage: "destination evm chain id, the profile's when empty",
	}
	servicePubkeyFlag = &cli.StringFlag{
		Name:  servicePubkeyFlagName,
		Usage: "service public key, the profile's when empty",
	}
	stakingFlag = &cli.Int64Flag{
		Name:     stakingFlagName,
		Usage:    "sats locked in the vault",
		Required: true,
	}
	mintingFlag = &cli.Uint64Flag{
		Name:     mintingFlagName,
		Usage:    "token amount minted on the evm side",
		Required: true,
	}
	stakerFlag = &cli.StringFlag{
		Name:     stakerFlagName,
		Usage:    "btc address of the staker",
		Required: true,
	}
	btcReceiverFlag = &cli.StringFlag{
		Name:     btcReceiverFlagName,
		Usage:    "btc address receiving the released funds",
		Required: true,
	}
	vaultTxFlag = &cli.StringFlag{
		Name:     vaultTxFlagName,
		Usage:    "raw hex of the vault transaction",
		Required: true,
	}
	stakerPubkeyFlag = &cli.StringFlag{
		Name:  stakerPubkeyFlagName,
		Usage: "staker public key, recovered from the vault tx when empty",
	}
	passphraseFlag = &cli.StringFlag{
		Name:     passphraseFlagName,
		Usage:    "passphrase sealing the key file",
		Required: true,
		EnvVars:  []string{"VAULTCTL_PASSPHRASE"},
	}
	outFlag = &cli.StringFlag{
		Name:     outFlagName,
		Usage:    "path of the key file to write",
		Required: true,
	}
	stakerPkFlag = &cli.StringFlag{
		Name:     stakerPkFlagName,
		Usage:    "x-only public key of the staker",
		Required: true,
	}
	apiFlag = &cli.StringFlag{
		Name:     apiFlagName,
		Usage:    "the url of the backend indexer",
		Required: true,
		EnvVars:  []string{"VAULTCTL_API_URL", "API_URL"},
	}
	dAppIdFlag = &cli.StringFlag{
		Name:     dAppIdFlagName,
		Usage:    "id of the dApp registration",
		Required: true,
	}
	chainNameFlag = &cli.StringFlag{
		Name:     chainNameFlagName,
		Usage:    "destination chain name, e.g. evm|1337",
		Required: true,
	}
	dAppChainIdFlag = &cli.StringFlag{
		Name:  chainIdFlagName,
		Usage: "destination chain id",
	}
	chainEndpointFlag = &cli.StringFlag{
		Name:  chainEndpointFlagName,
		Usage: "rpc endpoint of the destination chain",
	}
	btcAddressFlag = &cli.StringFlag{
		Name:     btcAddressFlagName,
		Usage:    "btc address of the dApp signer, hex",
		Required: true,
	}
	publicKeyFlag = &cli.StringFlag{
		Name:     publicKeyFlagName,
		Usage:    "public key of the dApp signer, hex",
		Required: true,
	}
	dAppContractFlag = &cli.StringFlag{
		Name:     contractFlagName,
		Usage:    "token contract on the destination chain",
		Required: true,
	}
	skipTestFlag = &cli.BoolFlag{
		Name:  skipTestFlagName,
		Usage: "broadcast without asking testmempoolaccept first",
	}
)
