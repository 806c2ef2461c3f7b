package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/vault-bridge/apiserver"
	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/indexer"
	"github.com/TEENet-io/vault-bridge/vaultflow"
	"github.com/TEENet-io/vault-bridge/wallet"
)

// commands
var (
	feesCmd = &cli.Command{
		Name:   "fees",
		Usage:  "Show the recommended fee rates of the network",
		Action: feesAction,
	}
	intentsCmd = &cli.Command{
		Name:   "intents",
		Usage:  "List burn intents kept by the server",
		Flags:  []cli.Flag{statusFlag},
		Action: intentsAction,
	}
	bondsCmd = &cli.Command{
		Name:   "bonds",
		Usage:  "List the bonds of a staker, shadow bonds included",
		Flags:  []cli.Flag{stakerPkFlag},
		Action: bondsAction,
	}
	dAppFlags = []cli.Flag{
		chainNameFlag, dAppChainIdFlag, chainEndpointFlag,
		btcAddressFlag, publicKeyFlag, dAppContractFlag,
	}
	dAppCmd = &cli.Command{
		Name:  "dapp",
		Usage: "Manage the dApp registrations of the backend",
		Flags: []cli.Flag{apiFlag},
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered dApps",
				Action: dAppListAction,
			},
			{
				Name:   "add",
				Usage:  "Register a dApp",
				Flags:  dAppFlags,
				Action: dAppAddAction,
			},
			{
				Name:   "update",
				Usage:  "Update a registration",
				Flags:  append([]cli.Flag{dAppIdFlag}, dAppFlags...),
				Action: dAppUpdateAction,
			},
			{
				Name:   "toggle",
				Usage:  "Enable or disable a registration",
				Flags:  []cli.Flag{dAppIdFlag},
				Action: dAppToggleAction,
			},
			{
				Name:   "delete",
				Usage:  "Remove a registration",
				Flags:  []cli.Flag{dAppIdFlag},
				Action: dAppDeleteAction,
			},
		},
	}
	bitcoindCmd = &cli.Command{
		Name:      "bitcoind",
		Usage:     "Pass a json-rpc call through to the network's node",
		ArgsUsage: "[param...]",
		Flags:     []cli.Flag{methodFlag},
		Action:    bitcoindAction,
	}
	mintPsbtCmd = &cli.Command{
		Name:  "mint-psbt",
		Usage: "Build an unsigned vault psbt",
		Flags: []cli.Flag{
			addressFlag, pubkeyFlag, receiverFlag, stakingFlag, mintingFlag,
			contractFlag, chainIdFlag, servicePubkeyFlag,
		},
		Action: mintPsbtAction,
	}
	mintCmd = &cli.Command{
		Name:  "mint",
		Usage: "Build, sign with a local key and broadcast a vault tx",
		Flags: []cli.Flag{
			wifFlag, kindFlag, receiverFlag, stakingFlag, mintingFlag,
			contractFlag, chainIdFlag, skipTestFlag,
		},
		Action: mintAction,
	}
	unbondPsbtCmd = &cli.Command{
		Name:   "unbond-psbt",
		Usage:  "Build an unsigned burning psbt spending a vault",
		Flags:  []cli.Flag{stakerFlag, btcReceiverFlag, vaultTxFlag, stakerPubkeyFlag},
		Action: unbondPsbtAction,
	}
	testTxCmd = &cli.Command{
		Name:   "test-tx",
		Usage:  "Ask the node whether it would accept a raw tx",
		Flags:  []cli.Flag{txFlag},
		Action: testTxAction,
	}
	broadcastCmd = &cli.Command{
		Name:   "broadcast",
		Usage:  "Broadcast a raw tx",
		Flags:  []cli.Flag{txFlag},
		Action: broadcastAction,
	}
	keygenCmd = &cli.Command{
		Name:   "keygen",
		Usage:  "Generate a key and print its WIF, public keys and addresses",
		Flags:  []cli.Flag{kindFlag},
		Action: keygenAction,
	}
	encryptKeyCmd = &cli.Command{
		Name:   "encrypt-key",
		Usage:  "Seal a service key WIF into a passphrase protected key file",
		Flags:  []cli.Flag{wifFlag, passphraseFlag, outFlag},
		Action: encryptKeyAction,
	}
)

func routeClient(ctx *cli.Context) *apiserver.RouteClient {
	return apiserver.NewRouteClient(ctx.String(urlFlagName), ctx.String(networkFlagName), nil)
}

func indexerClient(ctx *cli.Context) (*indexer.Client, error) {
	return indexer.NewClient(ctx.String(apiFlagName), nil)
}

func dAppInput(ctx *cli.Context) (indexer.DAppInput, error) {
	contract := ctx.String(contractFlagName)
	if !common.IsEvmAddress(contract) {
		return indexer.DAppInput{}, fmt.Errorf("%w: %s", common.ErrInvalidEvmAddress, contract)
	}
	return indexer.DAppInput{
		ChainName:            ctx.String(chainNameFlagName),
		ChainID:              ctx.String(chainIdFlagName),
		ChainEndpoint:        ctx.String(chainEndpointFlagName),
		BTCAddressHex:        ctx.String(btcAddressFlagName),
		PublicKeyHex:         ctx.String(publicKeyFlagName),
		SmartContractAddress: contract,
	}, nil
}

func dAppListAction(ctx *cli.Context) error {
	client, err := indexerClient(ctx)
	if err != nil {
		return err
	}
	dApps, err := client.GetDApps(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(dApps)
}

func dAppAddAction(ctx *cli.Context) error {
	in, err := dAppInput(ctx)
	if err != nil {
		return err
	}
	client, err := indexerClient(ctx)
	if err != nil {
		return err
	}
	return client.PostDApp(ctx.Context, in)
}

func dAppUpdateAction(ctx *cli.Context) error {
	in, err := dAppInput(ctx)
	if err != nil {
		return err
	}
	client, err := indexerClient(ctx)
	if err != nil {
		return err
	}
	return client.UpdateDApp(ctx.Context, ctx.String(dAppIdFlagName), in)
}

func dAppToggleAction(ctx *cli.Context) error {
	client, err := indexerClient(ctx)
	if err != nil {
		return err
	}
	return client.ToggleDApp(ctx.Context, ctx.String(dAppIdFlagName))
}

func dAppDeleteAction(ctx *cli.Context) error {
	client, err := indexerClient(ctx)
	if err != nil {
		return err
	}
	return client.DeleteDApp(ctx.Context, ctx.String(dAppIdFlagName))
}

func printJSON(resp interface{}) error {
	respJson, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to json encode response: %s", err)
	}
	fmt.Println(string(respJson))
	return nil
}

func feesAction(ctx *cli.Context) error {
	fees, err := routeClient(ctx).Fees(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(fees)
}

func intentsAction(ctx *cli.Context) error {
	var status burnintent.Status
	if s := ctx.String(statusFlagName); s != "" {
		var err error
		if status, err = burnintent.ParseStatus(s); err != nil {
			return fmt.Errorf("%w: %q", err, s)
		}
	}
	intents, err := routeClient(ctx).BurnIntents(ctx.Context, status)
	if err != nil {
		return err
	}
	return printJSON(intents)
}

func bondsAction(ctx *cli.Context) error {
	bonds, err := routeClient(ctx).Bonds(ctx.Context, ctx.String(stakerPkFlagName))
	if err != nil {
		return err
	}
	return printJSON(bonds)
}

// bitcoindParams keeps json literals as they are and sends anything
// else as a string.
func bitcoindParams(args []string) []interface{} {
	params := make([]interface{}, 0, len(args))
	for _, a := range args {
		if json.Valid([]byte(a)) {
			params = append(params, json.RawMessage(a))
		} else {
			params = append(params, a)
		}
	}
	return params
}

func bitcoindAction(ctx *cli.Context) error {
	res, err := routeClient(ctx).Bitcoind(ctx.Context, ctx.String(methodFlagName), bitcoindParams(ctx.Args().Slice())...)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func mintRequest(ctx *cli.Context, address, pubkey string) vaultflow.MintRequest {
	return vaultflow.MintRequest{
		SourceAddress:      address,
		SourcePublicKey:    pubkey,
		DestinationChainId: ctx.String(chainIdFlagName),
		ContractAddress:    ctx.String(contractFlagName),
		ReceiverAddress:    ctx.String(receiverFlagName),
		StakingAmount:      ctx.Int64(stakingFlagName),
		MintingAmount:      ctx.Uint64(mintingFlagName),
		ServicePublicKey:   ctx.String(servicePubkeyFlagName),
	}
}

func mintPsbtAction(ctx *cli.Context) error {
	req := mintRequest(ctx, ctx.String(addressFlagName), ctx.String(pubkeyFlagName))
	res, err := routeClient(ctx).MintPsbt(ctx.Context, req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type mintOutput struct {
	Psbt  *vaultflow.MintPsbtResult `json:"psbt"`
	TxHex string                    `json:"txHex"`
	TxId  string                    `json:"txId"`
}

func mintAction(ctx *cli.Context) error {
	kind, err := config.ParseNetworkKind(ctx.String(kindFlagName))
	if err != nil {
		return err
	}
	signer, err := assembler.NewNativeSigner(ctx.String(wifFlagName), kind.ChainParams())
	if err != nil {
		return err
	}
	address, err := signer.P2WPKH()
	if err != nil {
		return err
	}
	client := routeClient(ctx)

	req := mintRequest(ctx, address.EncodeAddress(), hex.EncodeToString(signer.PubKey.SerializeCompressed()))
	res, err := client.MintPsbt(ctx.Context, req)
	if err != nil {
		return err
	}

	p, err := assembler.DecodePsbt(res.PsbtHex)
	if err != nil {
		return err
	}
	if _, err := signer.SignPsbt(p, nil); err != nil {
		return err
	}
	if err := assembler.FinalizeKeyInputs(p); err != nil {
		return err
	}
	_, txHex, err := assembler.ExtractTx(p)
	if err != nil {
		return err
	}

	if !ctx.Bool(skipTestFlagName) {
		accept, err := client.TestTransaction(ctx.Context, txHex)
		if err != nil {
			return err
		}
		if !accept.Allowed {
			return fmt.Errorf("node rejects the vault tx: %s", accept.RejectReason)
		}
	}

	txid, err := client.Broadcast(ctx.Context, txHex)
	if err != nil {
		return err
	}
	return printJSON(mintOutput{Psbt: res, TxHex: txHex, TxId: txid})
}

func unbondPsbtAction(ctx *cli.Context) error {
	res, err := routeClient(ctx).UnbondPsbt(ctx.Context, vaultflow.UnbondRequest{
		StakerAddress:   ctx.String(stakerFlagName),
		ReceiverAddress: ctx.String(btcReceiverFlagName),
		VaultTxHex:      ctx.String(vaultTxFlagName),
		StakerPublicKey: ctx.String(stakerPubkeyFlagName),
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func testTxAction(ctx *cli.Context) error {
	res, err := routeClient(ctx).TestTransaction(ctx.Context, ctx.String(txFlagName))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func broadcastAction(ctx *cli.Context) error {
	txid, err := routeClient(ctx).Broadcast(ctx.Context, ctx.String(txFlagName))
	if err != nil {
		return err
	}
	fmt.Println(txid)
	return nil
}

type keyInfo struct {
	WIF       string `json:"wif"`
	PublicKey string `json:"publicKey"`
	XOnly     string `json:"xOnlyPublicKey"`
	P2WPKH    string `json:"p2wpkh"`
	P2TR      string `json:"p2tr"`
}

func keygenAction(ctx *cli.Context) error {
	kind, err := config.ParseNetworkKind(ctx.String(kindFlagName))
	if err != nil {
		return err
	}
	params := kind.ChainParams()

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return err
	}
	signer := assembler.NewNativeSignerFromKey(priv, params)
	p2wpkh, err := signer.P2WPKH()
	if err != nil {
		return err
	}
	p2tr, err := signer.P2TR()
	if err != nil {
		return err
	}
	return printJSON(keyInfo{
		WIF:       wif.String(),
		PublicKey: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		XOnly:     common.XOnlyHex(priv.PubKey()),
		P2WPKH:    p2wpkh.EncodeAddress(),
		P2TR:      p2tr.EncodeAddress(),
	})
}

func encryptKeyAction(ctx *cli.Context) error {
	data, err := wallet.EncryptKey(ctx.String(wifFlagName), ctx.String(passphraseFlagName), wallet.DefaultScryptParams)
	if err != nil {
		return err
	}
	out := ctx.String(outFlagName)
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("key file written to %s\n", out)
	return nil
}
