package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "45", want: 45 * time.Second},
		{raw: "nonsense", want: time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("DGNL_TEST_DURATION", tc.raw)
		if got := Duration("DGNL_TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("Duration(%q): got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("DGNL_TEST_BOOL", "off")
	if Bool("DGNL_TEST_BOOL", true) {
		t.Fatalf("Bool: expected false for off")
	}
	t.Setenv("DGNL_TEST_BOOL", "maybe")
	if !Bool("DGNL_TEST_BOOL", true) {
		t.Fatalf("Bool: expected default for unparseable value")
	}
	t.Setenv("DGNL_TEST_INT", "7")
	if got := Int("DGNL_TEST_INT", 1); got != 7 {
		t.Fatalf("Int: got %d want 7", got)
	}
}
