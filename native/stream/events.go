package stream

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"paystream/core/types"
)

const (
	EventTypeStreamCreated   = "stream.created"
	EventTypeStreamWithdrawn = "stream.withdrawn"
	EventTypeStreamCancelled = "stream.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// stream, carrying every creation parameter.
func NewCreatedEvent(s *Stream) *types.Event {
	attrs := baseAttributes(s)
	attrs["deposit"] = amountString(s.Deposit)
	attrs["asset"] = s.Asset
	attrs["ratePerSecond"] = amountString(s.RatePerSecond)
	attrs["startTime"] = strconv.FormatUint(s.StartTime, 10)
	attrs["stopTime"] = strconv.FormatUint(s.StopTime, 10)
	attrs["cancelFee"] = amountString(s.CancelFee)
	return &types.Event{Type: EventTypeStreamCreated, Attributes: attrs}
}

// NewWithdrawnEvent returns the canonical event payload for a payout to the
// recipient.
func NewWithdrawnEvent(s *Stream, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"id":        strconv.FormatUint(s.ID, 10),
		"recipient": hex.EncodeToString(s.Recipient[:]),
		"amount":    amountString(amount),
	}
	return &types.Event{Type: EventTypeStreamWithdrawn, Attributes: attrs}
}

// NewCancelledEvent returns the canonical event payload for a cancellation,
// carrying both pre-fee settled shares and the fee moved between them.
func NewCancelledEvent(s *Stream, senderBalance, recipientBalance, cancelFee *big.Int) *types.Event {
	attrs := baseAttributes(s)
	attrs["senderBalance"] = amountString(senderBalance)
	attrs["recipientBalance"] = amountString(recipientBalance)
	attrs["cancelFee"] = amountString(cancelFee)
	return &types.Event{Type: EventTypeStreamCancelled, Attributes: attrs}
}

func baseAttributes(s *Stream) map[string]string {
	return map[string]string{
		"id":        strconv.FormatUint(s.ID, 10),
		"sender":    hex.EncodeToString(s.Sender[:]),
		"recipient": hex.EncodeToString(s.Recipient[:]),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
