package stream

import (
	"fmt"
	"math/big"
	"strings"
)

// Stream captures the immutable parameters and the single mutable counter of
// one payment stream. Everything except RemainingBalance is fixed at
// creation; RemainingBalance only ever decreases, tracking principal not yet
// withdrawn by the recipient.
type Stream struct {
	ID               uint64
	Sender           [20]byte
	Recipient        [20]byte
	Asset            string
	Deposit          *big.Int
	RatePerSecond    *big.Int
	StartTime        uint64
	StopTime         uint64
	RemainingBalance *big.Int
	CancelFee        *big.Int
}

// Clone returns a deep copy of the stream so callers can safely mutate the
// copy without affecting the stored instance.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Deposit = cloneBigInt(s.Deposit)
	clone.RatePerSecond = cloneBigInt(s.RatePerSecond)
	clone.RemainingBalance = cloneBigInt(s.RemainingBalance)
	clone.CancelFee = cloneBigInt(s.CancelFee)
	return &clone
}

// Duration returns the vesting interval length in seconds.
func (s *Stream) Duration() uint64 {
	return s.StopTime - s.StartTime
}

// Withdrawn returns the principal already paid out to the recipient.
func (s *Stream) Withdrawn() *big.Int {
	return new(big.Int).Sub(s.Deposit, s.RemainingBalance)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// NormalizeAsset canonicalises a fungible asset symbol: trimmed, uppercase,
// 1 to 16 characters from [A-Z0-9].
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" || len(trimmed) > 16 {
		return "", fmt.Errorf("invalid asset symbol: %q", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("invalid asset symbol: %q", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeStream validates and normalises a stream record, returning a
// cloned instance with canonical asset casing and non-nil amounts. The
// function does not mutate the original value.
func SanitizeStream(s *Stream) (*Stream, error) {
	if s == nil {
		return nil, fmt.Errorf("nil stream")
	}
	clone := s.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.ID == 0 {
		return nil, fmt.Errorf("stream id must be positive")
	}
	if clone.Deposit.Sign() <= 0 {
		return nil, fmt.Errorf("stream deposit must be positive")
	}
	if clone.StopTime <= clone.StartTime {
		return nil, fmt.Errorf("stream stop time must follow start time")
	}
	if clone.RemainingBalance.Sign() < 0 || clone.RemainingBalance.Cmp(clone.Deposit) > 0 {
		return nil, fmt.Errorf("stream remaining balance out of range")
	}
	if clone.CancelFee.Sign() < 0 || clone.CancelFee.Cmp(clone.Deposit) >= 0 {
		return nil, fmt.Errorf("stream cancel fee out of range")
	}
	duration := new(big.Int).SetUint64(clone.Duration())
	expected := new(big.Int).Mul(clone.RatePerSecond, duration)
	if expected.Cmp(clone.Deposit) != 0 {
		return nil, fmt.Errorf("stream rate does not divide deposit exactly")
	}
	return clone, nil
}
