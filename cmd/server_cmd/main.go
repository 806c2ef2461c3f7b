package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/TEENet-io/vault-bridge/cmd"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "VAULT_BRIDGE_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	// Without a file everything comes from the environment.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		fmt.Printf("Vault server configuration file = %s\n", _config_file)

		// See if file exists
		if !cmd.FileExists(_config_file) {
			fmt.Printf("Vault server configuration file not found: %s\n", _config_file)
			os.Exit(1)
		}

		// Read from config file.
		if !initializeViper(_config_file) {
			os.Exit(1)
		}
	}

	// Make the configuration
	vsc, err := PrepareVaultServerConfig()
	if err != nil {
		fmt.Printf("Error loading vault server configuration: %v\n", err)
		os.Exit(1)
	}
	logconfig.ConfigFromLevel(vsc.Settings.LogLevel)

	fmt.Printf("Starting vault server for %v (default %s)... press Ctrl+C to kill the server\n",
		vsc.Settings.Names(), vsc.Settings.DefaultNetwork)
	// Start server and block.
	cmd.StartVaultServerAndWait(vsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s\n", err)
		return false
	}
	return true
}

// PrepareVaultServerConfig reads configuration variables and returns a VaultServerConfig.
func PrepareVaultServerConfig() (*cmd.VaultServerConfig, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return &cmd.VaultServerConfig{
		Settings:       settings,
		ResumeInterval: viper.GetDuration("RESUME_INTERVAL"),
	}, nil
}
