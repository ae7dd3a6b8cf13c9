package telegram

import "fmt"

// Framing selects the on-wire character format used by a link.
type Framing int

const (
	// SevenE1 is 7 data bits, even parity, 1 stop bit (10-bit frame).
	SevenE1 Framing = iota
	// SevenE2 is 7 data bits, even parity, 2 stop bits (11-bit frame).
	SevenE2
)

// BitsPerFrame returns the total number of bits carried by one character
// frame under this framing, including start, data, parity, and stop bits.
func (f Framing) BitsPerFrame() int {
	switch f {
	case SevenE2:
		return 11
	default:
		return 10
	}
}

func (f Framing) stopBits() int {
	if f == SevenE2 {
		return 2
	}
	return 1
}

// String implements fmt.Stringer.
func (f Framing) String() string {
	switch f {
	case SevenE1:
		return "7E1"
	case SevenE2:
		return "7E2"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ErrorKind enumerates the ways a candidate frame can fail validation.
type ErrorKind int

const (
	// InvalidBitCount means the candidate frame did not carry exactly
	// BitsPerFrame() bits, usually caused by a per-bit timeout upstream.
	InvalidBitCount ErrorKind = iota
	// InvalidStartBit means bit 0 was not 0.
	InvalidStartBit
	// InvalidStopBit means a stop-bit slot did not hold 1.
	InvalidStopBit
	// ParityMismatch means the parity bit disagreed with the XOR of the
	// seven data bits.
	ParityMismatch
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case InvalidBitCount:
		return "InvalidBitCount"
	case InvalidStartBit:
		return "InvalidStartBit"
	case InvalidStopBit:
		return "InvalidStopBit"
	case ParityMismatch:
		return "ParityMismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// FrameError reports a framing failure, carrying enough of the candidate
// frame's bits for triage diagnostics, per spec section 7.
type FrameError struct {
	Kind     ErrorKind
	BitCount int
	// StartBit, ParityBit and StopBits are only meaningful when BitCount
	// matches the expected frame length; otherwise they are zero.
	StartBit  uint8
	StopBits  []uint8
	ParityBit uint8
	DataOnes  int
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case InvalidBitCount:
		return fmt.Sprintf("telegram: invalid bit count: got %d", e.BitCount)
	case InvalidStartBit:
		return fmt.Sprintf("telegram: invalid start bit: %d", e.StartBit)
	case InvalidStopBit:
		return fmt.Sprintf("telegram: invalid stop bit(s): %v", e.StopBits)
	case ParityMismatch:
		return fmt.Sprintf("telegram: parity mismatch: parity=%d data_ones=%d", e.ParityBit, e.DataOnes)
	default:
		return "telegram: frame error"
	}
}

// Encode returns the ordered on-wire bits for b under the given framing:
// a start bit (0), the low 7 bits of b LSB-first, an even-parity bit, and
// one or two stop bits (1). The high bit of b is discarded; the link only
// ever carries 7-bit ASCII.
func Encode(b byte, f Framing) []uint8 {
	frame := make([]uint8, 0, f.BitsPerFrame())
	frame = append(frame, 0) // start bit

	var ones int
	for i := 0; i < 7; i++ {
		bit := (b >> uint(i)) & 1
		frame = append(frame, bit)
		if bit == 1 {
			ones++
		}
	}

	frame = append(frame, uint8(ones%2)) // even parity

	for i := 0; i < f.stopBits(); i++ {
		frame = append(frame, 1)
	}
	return frame
}

// Validate checks that frame is a well-formed character of the given
// framing: the right bit count, a 0 start bit, 1 stop bit(s), and parity
// consistent with the data bits. Validate never looks at more than
// f.BitsPerFrame() elements.
func Validate(frame []uint8, f Framing) error {
	want := f.BitsPerFrame()
	if len(frame) != want {
		return &FrameError{Kind: InvalidBitCount, BitCount: len(frame)}
	}

	if frame[0] != 0 {
		return &FrameError{Kind: InvalidStartBit, BitCount: want, StartBit: frame[0]}
	}

	dataBits := frame[1:8]
	parityBit := frame[8]

	stopStart := 9
	stops := make([]uint8, f.stopBits())
	copy(stops, frame[stopStart:want])
	for _, s := range stops {
		if s != 1 {
			return &FrameError{Kind: InvalidStopBit, BitCount: want, StopBits: stops}
		}
	}

	var ones int
	for _, bit := range dataBits {
		if bit == 1 {
			ones++
		}
	}
	wantParity := uint8(ones % 2)
	if parityBit != wantParity {
		return &FrameError{
			Kind:      ParityMismatch,
			BitCount:  want,
			StartBit:  frame[0],
			StopBits:  stops,
			ParityBit: parityBit,
			DataOnes:  ones,
		}
	}
	return nil
}

// ExtractByte validates frame and, on success, returns the decoded 7-bit
// ASCII value Σ dᵢ·2ⁱ. Values above 127 are unreachable by construction
// since only 7 data bits are ever decoded.
func ExtractByte(frame []uint8, f Framing) (byte, error) {
	if err := Validate(frame, f); err != nil {
		return 0, err
	}
	var b byte
	for i, bit := range frame[1:8] {
		if bit == 1 {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}
