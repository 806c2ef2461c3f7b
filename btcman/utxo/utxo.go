/*
This file contains filter/select operations on UTXO.
*/
package utxo

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// SelectLargestFirst picks UTXOs from the largest down until their sum
// reaches target. The given slice is left untouched.
// Returns the chosen UTXOs and their total value.
func SelectLargestFirst(utxos []UTXO, target int64) ([]UTXO, int64, error) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	var sum int64
	for idx, item := range sorted {
		sum += item.Value
		if sum >= target {
			return sorted[:idx+1], sum, nil
		}
	}
	return nil, sum, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, sum, target)
}

// Sum of all values.
func Total(utxos []UTXO) int64 {
	var sum int64
	for _, u := range utxos {
		sum += u.Value
	}
	return sum
}
