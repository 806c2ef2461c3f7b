package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/TEENet-io/vault-bridge/btcman/assembler"
)

var (
	ErrNoServiceKey      = errors.New("no service key configured")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrInvalidKeyFile    = errors.New("invalid key file")
)

const keyFileVersion = 1

// ScryptParams of the key derivation, stored in the file.
type ScryptParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

var DefaultScryptParams = ScryptParams{N: 1 << 18, R: 8, P: 1}

type keyFile struct {
	Version    int          `json:"version"`
	Scrypt     ScryptParams `json:"scrypt"`
	Salt       string       `json:"salt"`
	Nonce      string       `json:"nonce"`
	Ciphertext string       `json:"ciphertext"`
}

func deriveKey(passphrase []byte, salt []byte, p ScryptParams) (*[32]byte, error) {
	k, err := scrypt.Key(passphrase, salt, p.N, p.R, p.P, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], k)
	return &key, nil
}

// EncryptKey seals a WIF with a passphrase into the key file format.
func EncryptKey(wif string, passphrase string, p ScryptParams) ([]byte, error) {
	defer debug.FreeOSMemory()

	if wif == "" {
		return nil, ErrNoServiceKey
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPassphrase)
	}
	if _, err := assembler.DecodeWIF(wif); err != nil {
		return nil, err
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	key, err := deriveKey([]byte(passphrase), salt, p)
	if err != nil {
		return nil, err
	}

	sealed := secretbox.Seal(nil, []byte(wif), &nonce, key)
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Scrypt:     p,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce[:]),
		Ciphertext: hex.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file and returns the WIF inside.
func DecryptKey(data []byte, passphrase string) (string, error) {
	defer debug.FreeOSMemory()

	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if f.Version != keyFileVersion {
		return "", fmt.Errorf("%w: version %d", ErrInvalidKeyFile, f.Version)
	}
	salt, err := hex.DecodeString(f.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: salt", ErrInvalidKeyFile)
	}
	nonceBytes, err := hex.DecodeString(f.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return "", fmt.Errorf("%w: nonce", ErrInvalidKeyFile)
	}
	sealed, err := hex.DecodeString(f.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext", ErrInvalidKeyFile)
	}

	key, err := deriveKey([]byte(passphrase), salt, f.Scrypt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	plain, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return "", ErrInvalidPassphrase
	}
	return string(plain), nil
}

// LoadServiceKey returns the service co-signing key. A plain WIF wins
// over the key file.
func LoadServiceKey(wif, keyFilePath, passphrase string, params *chaincfg.Params) (*assembler.NativeSigner, error) {
	if wif == "" && keyFilePath != "" {
		data, err := os.ReadFile(keyFilePath)
		if err != nil {
			return nil, err
		}
		wif, err = DecryptKey(data, passphrase)
		if err != nil {
			return nil, err
		}
	}
	if wif == "" {
		return nil, ErrNoServiceKey
	}
	return assembler.NewNativeSigner(wif, params)
}
