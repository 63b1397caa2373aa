package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestComputeNetValue(t *testing.T) {
	cases := []struct {
		name       string
		gross      string
		percentage string
		fixed      string
		want       string
	}{
		{"eight percent plus fifty cents", "100.00", "8.0", "0.50", "91.5"},
		{"zero fees", "250.00", "0", "0", "250"},
		{"percentage only", "80.00", "12.5", "0", "70"},
		{"fixed only", "19.90", "0", "1.99", "17.91"},
		{"rounds to two places", "10.00", "3.33", "0", "9.67"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeNetValue(
				decimal.RequireFromString(tc.gross),
				decimal.RequireFromString(tc.percentage),
				decimal.RequireFromString(tc.fixed),
			)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("net value = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEffectiveReleaseDate(t *testing.T) {
	scheduled := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	anticipated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tx := &Transaction{ScheduledReleaseDate: scheduled}
	if got := EffectiveReleaseDate(tx); !got.Equal(scheduled) {
		t.Fatalf("expected scheduled date, got %s", got)
	}

	tx.Anticipated = true
	tx.AnticipatedReleaseDate = &anticipated
	if got := EffectiveReleaseDate(tx); !got.Equal(anticipated) {
		t.Fatalf("expected anticipated date, got %s", got)
	}

	// A reverted anticipation leaves the flag false even if the date column
	// still holds a stale value; the scheduled date must win.
	tx.Anticipated = false
	if got := EffectiveReleaseDate(tx); !got.Equal(scheduled) {
		t.Fatalf("expected scheduled date after revert, got %s", got)
	}
}

func TestReleasableAt(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	base := Transaction{Status: StatusPending, ScheduledReleaseDate: due}

	if tx := base; !ReleasableAt(&tx, now) {
		t.Fatal("pending transaction due today should be releasable")
	}

	if tx := base; ReleasableAt(&tx, now.AddDate(0, 0, -1)) {
		t.Fatal("transaction must not release before its effective date")
	}

	blocked := base
	blocked.Blocked = true
	if ReleasableAt(&blocked, now) {
		t.Fatal("blocked transaction must never be releasable")
	}

	released := base
	released.Status = StatusReleased
	if ReleasableAt(&released, now) {
		t.Fatal("already released transaction must not match again")
	}

	anticipatedEarlier := base
	anticipatedEarlier.ScheduledReleaseDate = future
	anticipatedEarlier.Anticipated = true
	anticipatedEarlier.AnticipatedReleaseDate = &due
	if !ReleasableAt(&anticipatedEarlier, now) {
		t.Fatal("anticipated transaction due today should be releasable")
	}
}

func TestParseModality(t *testing.T) {
	for raw, want := range map[string]Modality{
		"D+1":    ModalityD1,
		"d+15":   ModalityD15,
		" D+30 ": ModalityD30,
	} {
		got, ok := ParseModality(raw)
		if !ok || got != want {
			t.Fatalf("ParseModality(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseModality("D+7"); ok {
		t.Fatal("D+7 is not a valid modality")
	}
}

func TestModalityReleaseDelayDays(t *testing.T) {
	if d := ModalityD1.ReleaseDelayDays(); d != 1 {
		t.Fatalf("D+1 delay = %d", d)
	}
	if d := ModalityD15.ReleaseDelayDays(); d != 15 {
		t.Fatalf("D+15 delay = %d", d)
	}
	if d := ModalityD30.ReleaseDelayDays(); d != 30 {
		t.Fatalf("D+30 delay = %d", d)
	}
}

func TestVirtualPayoutIDPattern(t *testing.T) {
	sellerID := uuid.New()
	id := VirtualPayoutID(sellerID)
	if !IsVirtualPayoutID(id) {
		t.Fatalf("expected %q to match the virtual pattern", id)
	}
	if IsVirtualPayoutID(uuid.New().String()) {
		t.Fatal("plain uuid must not match the virtual pattern")
	}
}
