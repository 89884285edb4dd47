// Package events streams matrix contract events over a websocket
// subscription. Delivery is best-effort and at-least-once: consumers treat
// payloads as hints and re-read authoritative state from the gateway rather
// than trusting them as sole truth.
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type names a decoded contract event.
type Type string

const (
	TypeRegistration   Type = "registration"
	TypePaymentSent    Type = "payment_sent"
	TypeLevelActivated Type = "level_activated"
	TypeMatrixClosed   Type = "matrix_closed"
	TypeMatrixOverflow Type = "matrix_overflow"
)

// Event is one decoded log. Fields are populated per type; absent fields
// stay zero.
type Event struct {
	Type        Type
	TxHash      common.Hash
	BlockNumber uint64
	ObservedAt  time.Time

	User     common.Address
	Referrer common.Address
	From     common.Address
	To       common.Address

	UserID        uint64
	Program       uint8
	Level         uint8
	Amount        *big.Int
	ReinvestCount uint64
}

var (
	topicRegistration   = crypto.Keccak256Hash([]byte("Registration(address,address,uint256)"))
	topicPaymentSent    = crypto.Keccak256Hash([]byte("PaymentSent(address,address,uint8,uint8,uint256)"))
	topicLevelActivated = crypto.Keccak256Hash([]byte("LevelActivated(address,uint8,uint8,uint256)"))
	topicMatrixClosed   = crypto.Keccak256Hash([]byte("MatrixClosed(address,uint8,uint8,uint256)"))
	topicMatrixOverflow = crypto.Keccak256Hash([]byte("MatrixOverflow(address,address,uint8,uint8)"))
)
