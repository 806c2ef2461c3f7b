package vaultflow

import (
	"errors"
	"time"

	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/wallet"
)

// Where an error surfaced, for callers that show it to a user.
const (
	ErrorStateServer    = "SERVER_ERROR"
	ErrorStateWallet    = "WALLET"
	ErrorStateStaking   = "STAKING"
	ErrorStateUnbonding = "UNBONDING"
	ErrorStateWithdraw  = "WITHDRAW"
)

// ErrorInfo is the uniform error shape handed to callers.
type ErrorInfo struct {
	Message    string    `json:"message"`
	ErrorState string    `json:"errorState"`
	ErrorTime  time.Time `json:"errorTime"`
}

// NewErrorInfo classifies err. Wallet and configuration errors win over
// the state of the operation that hit them.
func NewErrorInfo(err error, state string) *ErrorInfo {
	if err == nil {
		return nil
	}
	switch {
	case wallet.IsUserCancelled(err),
		errors.Is(err, wallet.ErrNotConnected),
		errors.Is(err, wallet.ErrExtensionNotFound),
		errors.Is(err, wallet.ErrVersionTooOld):
		state = ErrorStateWallet
	case errors.Is(err, config.ErrQuorumNotSet),
		errors.Is(err, config.ErrCovenantKeysNotSet),
		errors.Is(err, config.ErrServiceKeyNotSet):
		state = ErrorStateServer
	}
	return &ErrorInfo{Message: err.Error(), ErrorState: state, ErrorTime: time.Now()}
}
