package meter

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/istorrs/watermeter-link/telegram"
	"periph.io/x/conn/v3/gpio"
)

// State is one of the three states of the bit-pump's edge-driven state
// machine (spec.md section 4.2).
type State int

const (
	StateIdle State = iota
	StateWakeCounting
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWakeCounting:
		return "WAKE_COUNTING"
	case StateTransmitting:
		return "TRANSMITTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// edgePollInterval bounds how long Run's WaitForEdge call blocks before
// re-checking context cancellation; it is not the protocol's inter-edge
// timeout.
const edgePollInterval = 50 * time.Millisecond

// snapshot is the unit of atomically-published configuration: the config
// struct plus the response-bit buffer built from it. Publishing both
// together means the edge handler, which only ever does an atomic load,
// never observes a config/bits pair that don't match each other.
type snapshot struct {
	cfg  Config
	bits []uint8 // nil means "not yet built from cfg"
}

// Handler is the METER role's bit-pump: a state machine driven purely by
// rising edges observed on CLK, shifting a pre-built response onto DATA.
// Per spec.md section 5, Handler.handleEdge (the hot path) never acquires
// a mutex; SetResponse/SetFraming/Enable/Disable publish a fresh
// *snapshot via an atomic pointer instead.
type Handler struct {
	state   atomic.Pointer[snapshot]
	dataPin gpio.PinOut
	diag    *diagSink

	// fsm is read by State() from arbitrary goroutines (tests,
	// diagnostics), so it is an atomic value even though it is only ever
	// written by the goroutine running Run.
	fsm atomic.Int32

	// Touched only by the goroutine running Run; no synchronization needed.
	pulseCount int
	bitIndex   int
	lastEdge   time.Time

	// activeBits is the response-bit buffer for the transmission in
	// progress, captured once in beginTransmission. handleEdge's
	// StateTransmitting case indexes this field, never snap.bits, so a
	// SetResponse/SetFraming call publishing a fresh snapshot mid-
	// transmission cannot truncate the buffer out from under an in-flight
	// shift-out (spec.md section 3: the response buffer is immutable for
	// the duration of one response cycle).
	activeBits []uint8
}

// NewHandler constructs a bit-pump that drives dataPin. logger may be nil,
// in which case diagnostics are discarded.
func NewHandler(cfg Config, dataPin gpio.PinOut, logger *log.Logger) *Handler {
	h := &Handler{
		dataPin: dataPin,
		diag:    newDiagSink(logger),
	}
	h.state.Store(&snapshot{cfg: cfg})
	return h
}

// Close stops the handler's background diagnostic forwarder. Call after
// Run has returned.
func (h *Handler) Close() { h.diag.close() }

// State returns the bit-pump's current state machine position. Safe to
// call concurrently; intended for tests and diagnostics, not for control
// flow.
func (h *Handler) State() State { return State(h.fsm.Load()) }

// SetResponse replaces the telegram transmitted on the next wake-up. The
// in-flight transmission, if any, is unaffected; the new message takes
// effect once the bit-pump returns to IDLE and wakes again.
func (h *Handler) SetResponse(msg []byte) {
	cur := h.state.Load()
	cfg := cur.cfg
	cfg.ResponseMessage = append([]byte(nil), msg...)
	h.state.Store(&snapshot{cfg: cfg})
}

// SetFraming changes 7E1/7E2 framing for subsequent transmissions.
func (h *Handler) SetFraming(f telegram.Framing) {
	cur := h.state.Load()
	cfg := cur.cfg
	cfg.Framing = f
	h.state.Store(&snapshot{cfg: cfg})
}

// Enable allows the bit-pump to respond to wake-up sequences.
func (h *Handler) Enable() {
	cur := h.state.Load()
	cfg := cur.cfg
	cfg.Enabled = true
	h.state.Store(&snapshot{cfg: cfg, bits: cur.bits})
}

// Disable makes the bit-pump ignore CLK entirely; DATA is left untouched
// (idle), simulating an unreachable or powered-down meter (spec.md section
// 8, scenario 3: "METER disabled").
func (h *Handler) Disable() {
	cur := h.state.Load()
	cfg := cur.cfg
	cfg.Enabled = false
	h.state.Store(&snapshot{cfg: cfg, bits: cur.bits})
}

// Run observes clockPin for rising edges and drives the bit-pump state
// machine until ctx is cancelled. It blocks; callers run it in its own
// goroutine.
func (h *Handler) Run(ctx context.Context, clockPin gpio.PinIn) error {
	if err := clockPin.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return fmt.Errorf("meter: configuring clock pin: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if clockPin.WaitForEdge(edgePollInterval) {
			h.handleEdge(time.Now())
		}
	}
}

// handleEdge implements the per-rising-edge algorithm of spec.md section
// 4.2. It is the only method that touches fsm/pulseCount/bitIndex/lastEdge
// and the only one that writes dataPin; it never blocks.
func (h *Handler) handleEdge(now time.Time) {
	snap := h.state.Load()
	cfg := snap.cfg

	if !cfg.Enabled {
		h.fsm.Store(int32(StateIdle))
		h.pulseCount = 0
		h.bitIndex = 0
		h.lastEdge = now
		return
	}

	h.checkInterEdgeTimeout(cfg, now)

	h.pulseCount++
	h.lastEdge = now

	switch State(h.fsm.Load()) {
	case StateIdle:
		h.fsm.Store(int32(StateWakeCounting))
		if h.pulseCount >= cfg.WakeThreshold {
			h.beginTransmission(snap, cfg)
		}
	case StateWakeCounting:
		if h.pulseCount >= cfg.WakeThreshold {
			h.beginTransmission(snap, cfg)
		}
	case StateTransmitting:
		bits := h.activeBits
		if h.bitIndex < len(bits) {
			_ = h.dataPin.Out(bitLevel(bits[h.bitIndex]))
			h.bitIndex++
			if h.bitIndex >= len(bits) {
				h.fsm.Store(int32(StateIdle))
				h.pulseCount = 0
				h.activeBits = nil
				_ = h.dataPin.Out(gpio.High)
				h.diag.emit(diagTransmitDone, "transmission complete, returning to idle")
			}
		}
	}
}

// beginTransmission latches the response buffer for this transmission into
// h.activeBits. snap/cfg are the live snapshot observed at the IDLE/
// WAKE_COUNTING edge that crossed the wake threshold: this is the only
// point that may pick up a response/framing change queued by SetResponse/
// SetFraming since the last transmission completed.
func (h *Handler) beginTransmission(snap *snapshot, cfg Config) {
	bits := snap.bits
	if len(bits) == 0 {
		bits = buildResponseBits(cfg.ResponseMessage, cfg.Framing)
		h.state.Store(&snapshot{cfg: cfg, bits: bits})
	}
	h.activeBits = bits
	h.fsm.Store(int32(StateTransmitting))
	h.diag.emit(diagWake, "wake threshold reached, starting transmission")
	if len(bits) > 0 {
		_ = h.dataPin.Out(bitLevel(bits[0]))
	}
	h.bitIndex = 1
}

// checkInterEdgeTimeout implements spec.md section 4.2 step 1: on a
// rising edge, if the responder is TRANSMITTING and too much time elapsed
// since the previous edge, abandon back to IDLE before processing this
// edge any further. Called only from handleEdge.
func (h *Handler) checkInterEdgeTimeout(cfg Config, now time.Time) {
	if State(h.fsm.Load()) != StateTransmitting || h.lastEdge.IsZero() {
		return
	}
	if now.Sub(h.lastEdge) > cfg.InterEdgeTimeout {
		h.diag.emit(diagInterEdgeTimeout, "inter-edge timeout, MTU abandoned transaction")
		h.fsm.Store(int32(StateIdle))
		h.pulseCount = 0
		h.bitIndex = 0
		h.activeBits = nil
	}
}

// buildResponseBits flattens every character of msg into one bit sequence
// in transmission order, per spec.md section 9 ("Response buffer as
// pre-computed bit ordered sequence").
func buildResponseBits(msg []byte, framing telegram.Framing) []uint8 {
	bits := make([]uint8, 0, len(msg)*framing.BitsPerFrame())
	for _, b := range msg {
		bits = append(bits, telegram.Encode(b, framing)...)
	}
	return bits
}

func bitLevel(b uint8) gpio.Level {
	return gpio.Level(b == 1)
}
