package assembler

import "errors"

var (
	ErrAddressNetwork       = errors.New("address does not belong to this network")
	ErrNoCovenantKeys       = errors.New("no covenant public keys")
	ErrDuplicateCovenantKey = errors.New("duplicate covenant public key")
	ErrInvalidQuorum        = errors.New("quorum must be between 1 and the number of covenant keys")
	ErrUnsupportedInput     = errors.New("unsupported input script type")
	ErrVaultOutputNotFound  = errors.New("vault output not found, covenant configuration does not match the vault tx")
	ErrStakerKeyUnknown     = errors.New("staker public key can not be recovered from the vault tx")
	ErrOutputBelowDust      = errors.New("output value is below dust")
	ErrMissingWitnessUtxo   = errors.New("psbt input is missing its witness utxo")
	ErrMissingSignature     = errors.New("psbt input is missing a signature")
	ErrInvalidEmbeddedData  = errors.New("invalid embedded data")
	ErrInvalidFeeRate       = errors.New("fee rate must be positive")
	ErrInvalidStakingAmount = errors.New("staking amount must be positive")
	ErrNotBurningInput      = errors.New("psbt input does not spend the burning leaf")
	ErrNothingSigned        = errors.New("key does not sign any input")
	ErrScriptFailed         = errors.New("input script does not verify")
)
