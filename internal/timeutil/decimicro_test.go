package timeutil

import "testing"

func TestToMillisAndSubmillis(t *testing.T) {
	decimicro := int64(12345)
	if got := ToMillis(decimicro); got != 1 {
		t.Errorf("ToMillis(%d) = %d, want 1", decimicro, got)
	}
	if got := Submillis(decimicro); got != 2345 {
		t.Errorf("Submillis(%d) = %d, want 2345", decimicro, got)
	}
}

func TestFromMillisRoundTrip(t *testing.T) {
	ms := int64(1700000000123)
	decimicro := FromMillis(ms)
	if got := ToMillis(decimicro); got != ms {
		t.Errorf("ToMillis(FromMillis(%d)) = %d, want %d", ms, got, ms)
	}
}

func TestFromTimeToTime(t *testing.T) {
	decimicro := FromTime(ToTime(987654321000))
	if decimicro != 987654321000 {
		t.Errorf("round trip mismatch: got %d", decimicro)
	}
}
