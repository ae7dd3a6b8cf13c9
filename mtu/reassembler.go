package mtu

import (
	"context"
	"log"

	"github.com/istorrs/watermeter-link/telegram"
)

// maxMessageLen bounds how many decoded characters a single transaction
// accumulates before the reassembler gives up on ever seeing a
// terminating CR; it guards against leaking memory on a METER that never
// stops talking.
const maxMessageLen = 256

// runReassembler hunts for start bits on q, gathers whole frames, decodes
// them, and accumulates characters until a CR terminates a message
// (spec.md section 4.4). A frame that fails codec validation, or stalls
// mid-gather past cfg.BitTimeout, is discarded and hunting resumes from
// the next 0 bit; no partial message is ever returned for that reason.
// runReassembler only returns once a full CR-terminated message is ready,
// or once ctx is cancelled (session max-duration elapsed or a sibling
// goroutine failed).
func runReassembler(ctx context.Context, q *bitQueue, cfg Config, logger *log.Logger) ([]byte, error) {
	bitsPerFrame := cfg.Framing.BitsPerFrame()
	frame := make([]uint8, 0, bitsPerFrame)
	message := make([]byte, 0, 32)

	for {
		frame = frame[:0]
		// Hunt: discard idle 1 bits until a start bit (0) arrives.
		for {
			bit, err := q.receive(ctx, 0)
			if err != nil {
				return nil, err
			}
			if bit == 0 {
				frame = append(frame, bit)
				break
			}
		}

		stalled := false
		for len(frame) < bitsPerFrame {
			bit, err := q.receive(ctx, cfg.BitTimeout)
			if err != nil {
				if err == errBitTimeout {
					stalled = true
					break
				}
				return nil, err
			}
			frame = append(frame, bit)
		}
		if stalled {
			if logger != nil {
				logger.Printf("mtu: bit timeout mid-frame, resynchronizing")
			}
			continue
		}

		b, err := telegram.ExtractByte(frame, cfg.Framing)
		if err != nil {
			if logger != nil {
				logger.Printf("mtu: frame rejected, resynchronizing: %v", err)
			}
			continue
		}

		if len(message) < maxMessageLen {
			message = append(message, b)
		}
		if b == '\r' {
			return message, nil
		}
	}
}
