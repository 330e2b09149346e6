package stream

import (
	"errors"
	"math/big"
	"testing"
)

func stubAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func isInvariantErr(err error) bool {
	return errors.Is(err, ErrInvariantViolated)
}

func TestNormalizeAsset(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"pay", "PAY", false},
		{"  usdx ", "USDX", false},
		{"TOKEN9", "TOKEN9", false},
		{"", "", true},
		{"   ", "", true},
		{"with-dash", "", true},
		{"waytoolongassetsymbol", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeAsset(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeAsset(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeAsset(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeAsset(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := testStream(1000, 1, 100, 1100)
	clone := original.Clone()
	clone.RemainingBalance.Sub(clone.RemainingBalance, big.NewInt(400))
	if original.RemainingBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatal("mutating the clone changed the original")
	}
}

func TestSanitizeStreamNormalisesAsset(t *testing.T) {
	s := testStream(1000, 1, 100, 1100)
	s.Asset = " pay "
	sanitized, err := SanitizeStream(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sanitized.Asset != "PAY" {
		t.Fatalf("asset not normalised: %q", sanitized.Asset)
	}
	if s.Asset != " pay " {
		t.Fatal("sanitize mutated the original")
	}
}

func TestSanitizeStreamRejectsBrokenRecords(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Stream)
	}{
		{"zero id", func(s *Stream) { s.ID = 0 }},
		{"zero deposit", func(s *Stream) { s.Deposit = big.NewInt(0); s.RemainingBalance = big.NewInt(0) }},
		{"stop before start", func(s *Stream) { s.StopTime = s.StartTime }},
		{"remaining above deposit", func(s *Stream) { s.RemainingBalance = big.NewInt(2000) }},
		{"fee at deposit", func(s *Stream) { s.CancelFee = big.NewInt(1000) }},
		{"inexact rate", func(s *Stream) { s.RatePerSecond = big.NewInt(3) }},
		{"bad asset", func(s *Stream) { s.Asset = "no pe" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testStream(1000, 1, 100, 1100)
			tc.mutate(s)
			if _, err := SanitizeStream(s); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWithdrawnTracksRemaining(t *testing.T) {
	s := testStream(1000, 1, 100, 1100)
	s.RemainingBalance = big.NewInt(250)
	if got := s.Withdrawn(); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("withdrawn: got %s, want 750", got)
	}
}
