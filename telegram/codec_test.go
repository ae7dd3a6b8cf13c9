package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBitsPerFrame(t *testing.T) {
	if got := SevenE1.BitsPerFrame(); got != 10 {
		t.Errorf("SevenE1.BitsPerFrame() = %d, want 10", got)
	}
	if got := SevenE2.BitsPerFrame(); got != 11 {
		t.Errorf("SevenE2.BitsPerFrame() = %d, want 11", got)
	}
}

func TestEncode_SevenE2_0x55(t *testing.T) {
	// 0x55 = 0b1010101, even parity 0 (four 1-bits).
	got := Encode(0x55, SevenE2)
	want := []uint8{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bit %d = %d, want %d (got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}

func TestValidate_SevenE2_BadSecondStopBit(t *testing.T) {
	frame := []uint8{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0} // stop1=1, stop2=0
	err := Validate(frame, SevenE2)
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if fe.Kind != InvalidStopBit {
		t.Errorf("Kind = %v, want InvalidStopBit", fe.Kind)
	}
}

func TestValidate_InvalidStartBit(t *testing.T) {
	frame := Encode('A', SevenE1)
	frame[0] = 1
	err := Validate(frame, SevenE1)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != InvalidStartBit {
		t.Fatalf("got %v, want InvalidStartBit", err)
	}
}

func TestValidate_InvalidBitCount(t *testing.T) {
	frame := Encode('A', SevenE1)[:9]
	err := Validate(frame, SevenE1)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != InvalidBitCount {
		t.Fatalf("got %v, want InvalidBitCount", err)
	}
}

func TestExtractByte_RoundTripTable(t *testing.T) {
	for _, f := range []Framing{SevenE1, SevenE2} {
		for b := 0; b < 128; b++ {
			frame := Encode(byte(b), f)
			got, err := ExtractByte(frame, f)
			if err != nil {
				t.Fatalf("framing=%v byte=%d: unexpected error %v", f, b, err)
			}
			if got != byte(b) {
				t.Fatalf("framing=%v byte=%d: round-trip gave %d", f, b, got)
			}
		}
	}
}

// TestProperty_CodecRoundTrip is the property from spec section 8:
// ∀ byte b ∈ [0,127], ∀ framing f: extract_byte(encode(b,f), f) = b.
func TestProperty_CodecRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := byte(rapid.IntRange(0, 127).Draw(t, "b"))
		f := Framing(rapid.IntRange(0, 1).Draw(t, "framing"))

		frame := Encode(b, f)
		got, err := ExtractByte(frame, f)
		assert.NoError(t, err)
		assert.Equal(t, b, got)
	})
}

// TestProperty_Encoding checks the data-bit ordering and parity computation
// described in spec section 8.
func TestProperty_Encoding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := byte(rapid.IntRange(0, 127).Draw(t, "b"))
		f := Framing(rapid.IntRange(0, 1).Draw(t, "framing"))

		frame := Encode(b, f)
		var ones int
		for i := 0; i < 7; i++ {
			want := (b >> uint(i)) & 1
			assert.Equalf(t, want, frame[1+i], "data bit %d", i)
			if want == 1 {
				ones++
			}
		}
		assert.Equal(t, uint8(ones%2), frame[8], "parity bit")
	})
}

// TestProperty_FlipDataOrParityBreaksParity verifies that flipping exactly
// one data bit or the parity bit of an otherwise-valid frame always fails
// validation with ParityMismatch.
func TestProperty_FlipDataOrParityBreaksParity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := byte(rapid.IntRange(0, 127).Draw(t, "b"))
		f := Framing(rapid.IntRange(0, 1).Draw(t, "framing"))
		flipIdx := rapid.IntRange(1, 8).Draw(t, "flipIdx") // data bits 1-7, or parity at 8

		frame := Encode(b, f)
		frame[flipIdx] ^= 1

		err := Validate(frame, f)
		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Fatalf("expected validation failure after flipping bit %d, got nil", flipIdx)
		}
		assert.Equal(t, ParityMismatch, fe.Kind)
	})
}

func TestValidate_NeverReadsBeyondBitsPerFrame(t *testing.T) {
	// A frame with extra trailing garbage past BitsPerFrame must still be
	// rejected on length, not silently accepted by ignoring the tail.
	frame := append(Encode('A', SevenE1), 1, 1, 1)
	err := Validate(frame, SevenE1)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != InvalidBitCount {
		t.Fatalf("got %v, want InvalidBitCount", err)
	}
}
