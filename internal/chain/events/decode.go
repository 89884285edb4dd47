package events

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
)

// errUnknownTopic marks logs this package does not decode; callers skip
// them silently.
var errUnknownTopic = fmt.Errorf("unknown event topic")

// decodeLog turns one eth_subscribe log notification into an Event. The
// input is the raw `params.result` JSON object of the notification.
func decodeLog(raw gjson.Result, now time.Time) (Event, error) {
	topics := raw.Get("topics").Array()
	if len(topics) == 0 {
		return Event{}, fmt.Errorf("log without topics")
	}

	ev := Event{
		TxHash:      common.HexToHash(raw.Get("transactionHash").String()),
		BlockNumber: hexToUint64(raw.Get("blockNumber").String()),
		ObservedAt:  now,
	}
	data := common.FromHex(raw.Get("data").String())

	switch common.HexToHash(topics[0].String()) {
	case topicRegistration:
		if len(topics) < 3 {
			return Event{}, fmt.Errorf("registration log missing indexed topics")
		}
		ev.Type = TypeRegistration
		ev.User = topicAddress(topics[1].String())
		ev.Referrer = topicAddress(topics[2].String())
		ev.UserID = wordAt(data, 0).Uint64()

	case topicPaymentSent:
		if len(topics) < 3 {
			return Event{}, fmt.Errorf("payment log missing indexed topics")
		}
		ev.Type = TypePaymentSent
		ev.From = topicAddress(topics[1].String())
		ev.To = topicAddress(topics[2].String())
		ev.Program = uint8(wordAt(data, 0).Uint64())
		ev.Level = uint8(wordAt(data, 1).Uint64())
		ev.Amount = wordAt(data, 2)

	case topicLevelActivated:
		if len(topics) < 2 {
			return Event{}, fmt.Errorf("level activation log missing indexed topic")
		}
		ev.Type = TypeLevelActivated
		ev.User = topicAddress(topics[1].String())
		ev.Program = uint8(wordAt(data, 0).Uint64())
		ev.Level = uint8(wordAt(data, 1).Uint64())
		ev.Amount = wordAt(data, 2)

	case topicMatrixClosed:
		if len(topics) < 2 {
			return Event{}, fmt.Errorf("matrix closed log missing indexed topic")
		}
		ev.Type = TypeMatrixClosed
		ev.User = topicAddress(topics[1].String())
		ev.Program = uint8(wordAt(data, 0).Uint64())
		ev.Level = uint8(wordAt(data, 1).Uint64())
		ev.ReinvestCount = wordAt(data, 2).Uint64()

	case topicMatrixOverflow:
		if len(topics) < 3 {
			return Event{}, fmt.Errorf("matrix overflow log missing indexed topics")
		}
		ev.Type = TypeMatrixOverflow
		ev.User = topicAddress(topics[1].String())
		ev.Referrer = topicAddress(topics[2].String())
		ev.Program = uint8(wordAt(data, 0).Uint64())
		ev.Level = uint8(wordAt(data, 1).Uint64())

	default:
		return Event{}, errUnknownTopic
	}

	return ev, nil
}

// topicAddress extracts the address from a 32-byte indexed topic.
func topicAddress(topic string) common.Address {
	return common.BytesToAddress(common.HexToHash(topic).Bytes()[12:])
}

// wordAt reads the i-th 32-byte ABI word from event data, zero when out of
// range.
func wordAt(data []byte, i int) *big.Int {
	start := i * 32
	if start+32 > len(data) {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(data[start : start+32])
}

func hexToUint64(s string) uint64 {
	v, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return 0
	}
	return v.Uint64()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
