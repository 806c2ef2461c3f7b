package burnintent

import (
	"errors"
	"time"
)

var (
	ErrIntentNotFound    = errors.New("burn intent not found")
	ErrInvalidTransition = errors.New("invalid burn intent transition")
	ErrInvalidStatus     = errors.New("invalid burn intent status")
	ErrMissingField      = errors.New("burn intent field missing")
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusSigned    Status = "signed"
	StatusApproved  Status = "approved"
	StatusBurned    Status = "burned"
	StatusBroadcast Status = "broadcast"
	StatusFailed    Status = "failed"
)

// position on the happy path, failed is off it
var rank = map[Status]int{
	StatusCreated:   0,
	StatusSigned:    1,
	StatusApproved:  2,
	StatusBurned:    3,
	StatusBroadcast: 4,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := rank[st]; ok || st == StatusFailed {
		return st, nil
	}
	return "", ErrInvalidStatus
}

// CanAdvanceTo only allows moving forward along the happy path.
func (s Status) CanAdvanceTo(next Status) bool {
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	return ok && to > from
}

// Terminal intents are never touched again.
func (s Status) Terminal() bool {
	return s == StatusBroadcast || s == StatusFailed
}

// Intent records one burn so a crash after the evm burn confirmed can be
// finished by co-signing and broadcasting later.
type Intent struct {
	Id              string    `json:"id"`
	StakerAddress   string    `json:"stakerAddress"`
	ReceiverAddress string    `json:"receiverAddress"`
	VaultTxId       string    `json:"vaultTxId"`
	SignedPsbt      string    `json:"signedPsbt,omitempty"`
	ApproveTxHash   string    `json:"approveTxHash,omitempty"`
	BurnTxHash      string    `json:"burnTxHash,omitempty"`
	BtcTxId         string    `json:"btcTxId,omitempty"`
	Status          Status    `json:"status"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Fields set alongside a transition. Empty values leave the column as is.
type Fields struct {
	SignedPsbt    string
	ApproveTxHash string
	BurnTxHash    string
	BtcTxId       string
}
