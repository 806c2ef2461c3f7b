package etherman

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/TEENet-io/vault-bridge/common"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// StringToPrivateKey parses a hex secp256k1 key, 0x prefix optional.
func StringToPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(common.Trim0xPrefix(hexKey))
}

func NewAuth(sk *ecdsa.PrivateKey, chainId *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(sk, chainId)
}

func GenPrivateKeys(n int) []*ecdsa.PrivateKey {
	keys := make([]*ecdsa.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		sk, err := crypto.GenerateKey()
		if err != nil {
			return nil
		}
		keys = append(keys, sk)
	}
	return keys
}
