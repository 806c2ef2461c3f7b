package main

import (
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "vaultctl"
	app.Usage = "drive a vault bridge server and manage local keys"
	app.Commands = append(
		app.Commands,
		feesCmd,
		intentsCmd,
		bondsCmd,
		dAppCmd,
		bitcoindCmd,
		mintPsbtCmd,
		mintCmd,
		unbondPsbtCmd,
		testTxCmd,
		broadcastCmd,
		keygenCmd,
		encryptKeyCmd,
	)
	app.Flags = append(app.Flags, urlFlag, networkFlag)

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}
