package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/unidos/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func TestGetBit(t *testing.T) {
	var b byte = 0b00000101
	expected := []bool{true, false, true, false, false, false, false, false}
	for i, want := range expected {
		if got := util.GetBit(b, uint(i)); got != want {
			t.Errorf("bit %d of %08b: expected %v got %v", i, b, want, got)
		}
	}
}

func TestSetBitRoundTrip(t *testing.T) {
	for i := uint(0); i < 8; i++ {
		b := util.SetBit(0, i, true)
		if !util.GetBit(b, i) {
			t.Errorf("bit %d not set in %08b", i, b)
		}
		if util.SetBit(b, i, false) != 0 {
			t.Errorf("bit %d not cleared", i)
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
