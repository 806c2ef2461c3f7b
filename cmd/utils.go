package cmd

import (
	"os"

	logger "github.com/sirupsen/logrus"

	btcrpc "github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/config"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Shared Helper function. Create a btc rpc client for the node of a
// network profile.
func SetupBtcRpc(p config.NetworkProfile) (*btcrpc.RpcClient, error) {
	_config := btcrpc.RpcClientConfig{
		ServerAddr: p.NodeHost,
		Port:       p.NodePort,
		Wallet:     p.NodeWallet,
		Username:   p.NodeUser,
		Pwd:        p.NodePassword,
		DisableTLS: !p.NodeSSL,
		Params:     p.Kind.ChainParams(),
	}
	r, err := btcrpc.NewRpcClient(&_config)
	if err != nil {
		logger.WithField("network", p.Name).Errorf("failed to create btc rpc client: %v", err)
		return nil, err
	}
	return r, nil
}
