package stream

import (
	"fmt"
	"math/big"
)

// Elapsed returns the number of seconds the stream has been vesting at the
// given instant: zero before the start, capped at the full duration after
// the stop. Monotonic non-decreasing in now.
func Elapsed(s *Stream, now uint64) uint64 {
	if now <= s.StartTime {
		return 0
	}
	if now < s.StopTime {
		return now - s.StartTime
	}
	return s.Duration()
}

// RecipientBalance returns the amount the recipient is currently entitled to
// withdraw: the vested gross minus everything already withdrawn. The gross
// never exceeds the deposit because the rate divides it exactly, so the
// result never exceeds the remaining balance. A negative result means the
// ledger broke a maintenance invariant and is reported as such.
func RecipientBalance(s *Stream, now uint64) (*big.Int, error) {
	gross := new(big.Int).SetUint64(Elapsed(s, now))
	gross.Mul(gross, s.RatePerSecond)
	entitled := gross.Sub(gross, s.Withdrawn())
	if entitled.Sign() < 0 {
		return nil, fmt.Errorf("%w: withdrawn exceeds vested amount for stream %d", ErrInvariantViolated, s.ID)
	}
	return entitled, nil
}

// SenderBalance returns the principal the sender could still reclaim if the
// stream were cancelled at the given instant.
func SenderBalance(s *Stream, now uint64) (*big.Int, error) {
	entitled, err := RecipientBalance(s, now)
	if err != nil {
		return nil, err
	}
	reclaimable := new(big.Int).Sub(s.RemainingBalance, entitled)
	if reclaimable.Sign() < 0 {
		return nil, fmt.Errorf("%w: recipient entitlement exceeds remaining balance for stream %d", ErrInvariantViolated, s.ID)
	}
	return reclaimable, nil
}

// BalanceOf is the single externally queryable accounting primitive. Every
// mutating operation reuses it so read and write paths can never drift.
// Addresses other than the stream's parties are entitled to nothing.
func BalanceOf(s *Stream, who [20]byte, now uint64) (*big.Int, error) {
	switch who {
	case s.Recipient:
		return RecipientBalance(s, now)
	case s.Sender:
		return SenderBalance(s, now)
	default:
		return big.NewInt(0), nil
	}
}
