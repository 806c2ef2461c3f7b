package assembler

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/vault-bridge/common"
)

const (
	chainIDLen = 8
	addressLen = 20
	amountLen  = 8

	// everything after the tag
	embeddedBodyLen = 1 + chainIDLen + addressLen + addressLen + amountLen
)

// EmbeddedData is the mint instruction carried by the vault tx's
// OP_RETURN output.
type EmbeddedData struct {
	Tag              []byte
	Version          uint8
	ChainID          []byte // big endian, at most 8 bytes
	ContractAddress  [20]byte
	RecipientAddress [20]byte
	MintingAmount    uint64
}

// NewEmbeddedData decodes the hex encoded fields used on the wire.
// Addresses and chain id may carry a 0x prefix.
func NewEmbeddedData(tagHex string, version uint8, chainIDHex, contractHex, recipientHex string, mintingAmount uint64) (*EmbeddedData, error) {
	tag, err := hex.DecodeString(common.Trim0xPrefix(tagHex))
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrInvalidEmbeddedData, err)
	}

	chainHex := common.Trim0xPrefix(chainIDHex)
	if len(chainHex)%2 == 1 {
		chainHex = "0" + chainHex
	}
	chainID, err := hex.DecodeString(chainHex)
	if err != nil || len(chainID) > chainIDLen {
		return nil, fmt.Errorf("%w: chain id %q", ErrInvalidEmbeddedData, chainIDHex)
	}

	d := &EmbeddedData{Tag: tag, Version: version, ChainID: chainID, MintingAmount: mintingAmount}
	if err := decodeAddress20(contractHex, &d.ContractAddress); err != nil {
		return nil, fmt.Errorf("%w: contract address: %v", ErrInvalidEmbeddedData, err)
	}
	if err := decodeAddress20(recipientHex, &d.RecipientAddress); err != nil {
		return nil, fmt.Errorf("%w: recipient address: %v", ErrInvalidEmbeddedData, err)
	}
	return d, nil
}

func decodeAddress20(s string, out *[20]byte) error {
	b, err := hex.DecodeString(common.Trim0xPrefix(s))
	if err != nil {
		return err
	}
	if len(b) != addressLen {
		return fmt.Errorf("want %d bytes, have %d", addressLen, len(b))
	}
	copy(out[:], b)
	return nil
}

// Bytes is tag | version | chain id | contract | recipient | amount.
func (d *EmbeddedData) Bytes() []byte {
	out := make([]byte, 0, len(d.Tag)+embeddedBodyLen)
	out = append(out, d.Tag...)
	out = append(out, d.Version)

	var chainID [chainIDLen]byte
	copy(chainID[chainIDLen-len(d.ChainID):], d.ChainID)
	out = append(out, chainID[:]...)

	out = append(out, d.ContractAddress[:]...)
	out = append(out, d.RecipientAddress[:]...)
	out = binary.BigEndian.AppendUint64(out, d.MintingAmount)
	return out
}

// Script is the OP_RETURN script carrying Bytes.
func (d *EmbeddedData) Script() ([]byte, error) {
	return txscript.NullDataScript(d.Bytes())
}

func (d *EmbeddedData) TxOut() (*wire.TxOut, error) {
	script, err := d.Script()
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(0, script), nil
}

// ChainIDUint64 is the destination chain id as a number.
func (d *EmbeddedData) ChainIDUint64() uint64 {
	var buf [chainIDLen]byte
	copy(buf[chainIDLen-len(d.ChainID):], d.ChainID)
	return binary.BigEndian.Uint64(buf[:])
}

// ParseEmbeddedData reads the payload back from an OP_RETURN script.
// The tag length is whatever precedes the fixed size body.
func ParseEmbeddedData(script []byte) (*EmbeddedData, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil || len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, fmt.Errorf("%w: not a null data script", ErrInvalidEmbeddedData)
	}
	var data []byte
	for _, p := range pushes {
		data = append(data, p...)
	}
	if len(data) < embeddedBodyLen {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidEmbeddedData, len(data))
	}

	tagLen := len(data) - embeddedBodyLen
	d := &EmbeddedData{Tag: append([]byte(nil), data[:tagLen]...)}
	rest := data[tagLen:]
	d.Version = rest[0]
	rest = rest[1:]

	chainID := rest[:chainIDLen]
	i := 0
	for i < len(chainID)-1 && chainID[i] == 0 {
		i++
	}
	d.ChainID = append([]byte(nil), chainID[i:]...)
	rest = rest[chainIDLen:]

	copy(d.ContractAddress[:], rest[:addressLen])
	rest = rest[addressLen:]
	copy(d.RecipientAddress[:], rest[:addressLen])
	rest = rest[addressLen:]
	d.MintingAmount = binary.BigEndian.Uint64(rest)
	return d, nil
}
