/*
This file contains the canonical UTXO shape shared by the node client,
the mempool client and the PSBT builder.
*/
package utxo

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/vault-bridge/common"
)

// Represents the unspent transaction output (UTXO)
// in our program
type UTXO struct {
	TxID        string `json:"txid"`  // Identifier, human readable
	Vout        uint32 `json:"vout"`  // exact index of the Tx's outputs to be spent
	Value       int64  `json:"value"` // in satoshi
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"blockHeight,omitempty"`
	PkScript    []byte `json:"scriptPubKey,omitempty"` // Locking Script itself, may be empty
}

// Outpoint of the UTXO for use as a tx input.
func (u *UTXO) Outpoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %w", u.TxID, err)
	}
	return wire.NewOutPoint(hash, u.Vout), nil
}

// Return a human-readable amount in BTC
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (u *UTXO) AmountHuman() float64 {
	return common.SatsToBtc(u.Value)
}

// FromUnspent adapts a listunspent entry. The BTC amount is floored to
// satoshi and an entry is confirmed once it has any confirmation.
func FromUnspent(item btcjson.ListUnspentResult) (UTXO, error) {
	u := UTXO{
		TxID:      item.TxID,
		Vout:      item.Vout,
		Value:     common.BtcToSats(item.Amount),
		Confirmed: item.Confirmations > 0,
	}
	if item.ScriptPubKey != "" {
		pk, err := hex.DecodeString(item.ScriptPubKey)
		if err != nil {
			return UTXO{}, fmt.Errorf("invalid scriptPubKey of %s:%d: %w", item.TxID, item.Vout, err)
		}
		u.PkScript = pk
	}
	return u, nil
}
