package meter

import (
	"context"
	"testing"
	"time"

	"github.com/istorrs/watermeter-link/link"
	"github.com/istorrs/watermeter-link/telegram"
)

func driveEdges(t *testing.T, p *link.Pair, n int) {
	t.Helper()
	clk := p.MTUClock()
	for i := 0; i < n; i++ {
		if err := clk.Out(false); err != nil {
			t.Fatal(err)
		}
		if err := clk.Out(true); err != nil {
			t.Fatal(err)
		}
		// Give Run time to observe this rising edge: the simulated wire
		// reports only the latest change to a waiter, so edges driven
		// back-to-back would be counted as one.
		time.Sleep(time.Millisecond)
	}
}

func newTestHandler(cfg Config, p *link.Pair) (*Handler, context.CancelFunc) {
	h := NewHandler(cfg, p.MeterData(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, p.MeterClock())
	// Let Run's In() call land before the first edge.
	time.Sleep(5 * time.Millisecond)
	return h, cancel
}

func TestHandler_WakeThresholdExactBoundary(t *testing.T) {
	p := link.NewPair()
	cfg := DefaultConfig()
	cfg.ResponseMessage = []byte("A\r")
	h, cancel := newTestHandler(cfg, p)
	defer cancel()
	defer h.Close()

	// 9 edges: still counting, DATA must remain idle high (no start bit).
	driveEdges(t, p, 9)
	time.Sleep(5 * time.Millisecond)
	if h.State() != StateWakeCounting {
		t.Fatalf("after 9 edges, state = %v, want WAKE_COUNTING", h.State())
	}
	if p.MTUData().Read() != true {
		t.Fatalf("DATA must still be idle high after 9 edges")
	}

	// 10th edge: must begin transmission with the start bit on this same edge.
	driveEdges(t, p, 1)
	time.Sleep(5 * time.Millisecond)
	if h.State() != StateTransmitting {
		t.Fatalf("after 10th edge, state = %v, want TRANSMITTING", h.State())
	}
	if p.MTUData().Read() != false {
		t.Fatalf("DATA must be low (start bit) on the same edge that crosses the wake threshold")
	}
}

func TestHandler_FullMessageTransmitted(t *testing.T) {
	p := link.NewPair()
	cfg := DefaultConfig()
	cfg.ResponseMessage = []byte("AB\r")
	cfg.Framing = telegram.SevenE1
	h, cancel := newTestHandler(cfg, p)
	defer cancel()
	defer h.Close()

	totalBits := (cfg.WakeThreshold - 1) + len(cfg.ResponseMessage)*telegram.SevenE1.BitsPerFrame()

	var received []uint8
	clk := p.MTUClock()
	data := p.MTUData()
	for i := 0; i < totalBits; i++ {
		if err := clk.Out(false); err != nil {
			t.Fatal(err)
		}
		if err := clk.Out(true); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
		if i >= cfg.WakeThreshold-1 {
			lvl := data.Read()
			bit := uint8(0)
			if lvl {
				bit = 1
			}
			received = append(received, bit)
		}
	}

	want := len(cfg.ResponseMessage) * telegram.SevenE1.BitsPerFrame()
	if len(received) != want {
		t.Fatalf("collected %d bits, want %d", len(received), want)
	}

	frameLen := telegram.SevenE1.BitsPerFrame()
	for i, b := range cfg.ResponseMessage {
		frame := received[i*frameLen : (i+1)*frameLen]
		got, err := telegram.ExtractByte(frame, telegram.SevenE1)
		if err != nil {
			t.Fatalf("char %d: %v (frame=%v)", i, err, frame)
		}
		if got != b {
			t.Fatalf("char %d: got %q, want %q", i, got, b)
		}
	}
}

func TestHandler_Disabled_NeverDrivesData(t *testing.T) {
	p := link.NewPair()
	cfg := DefaultConfig()
	cfg.Enabled = false
	h, cancel := newTestHandler(cfg, p)
	defer cancel()
	defer h.Close()

	driveEdges(t, p, 30)
	time.Sleep(5 * time.Millisecond)
	if p.MTUData().Read() != true {
		t.Fatalf("disabled meter must never drive DATA low")
	}
}

func TestHandler_SetResponseMidTransmissionDoesNotStall(t *testing.T) {
	p := link.NewPair()
	cfg := DefaultConfig()
	cfg.ResponseMessage = []byte("ABCDEFGH\r") // long enough to still be transmitting mid-way
	cfg.Framing = telegram.SevenE1
	h, cancel := newTestHandler(cfg, p)
	defer cancel()
	defer h.Close()

	totalBits := (cfg.WakeThreshold - 1) + len(cfg.ResponseMessage)*telegram.SevenE1.BitsPerFrame()
	clk := p.MTUClock()

	// Drive edges up to the midpoint of the transmission, then publish a new
	// response while the handler is still shifting out the old one.
	for i := 0; i < totalBits/2; i++ {
		if err := clk.Out(false); err != nil {
			t.Fatal(err)
		}
		if err := clk.Out(true); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	if h.State() != StateTransmitting {
		t.Fatalf("state = %v, want TRANSMITTING partway through", h.State())
	}

	h.SetResponse([]byte("ZZ\r"))

	// Finish driving the remaining edges of the ORIGINAL (longer) message;
	// if SetResponse truncated the in-flight buffer the handler would stall
	// in TRANSMITTING forever instead of returning to IDLE here.
	for i := totalBits / 2; i < totalBits; i++ {
		if err := clk.Out(false); err != nil {
			t.Fatal(err)
		}
		if err := clk.Out(true); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if h.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE once the in-flight transmission finishes", h.State())
	}
}

func TestHandler_InterEdgeTimeoutResetsToIdle(t *testing.T) {
	p := link.NewPair()
	cfg := DefaultConfig()
	cfg.ResponseMessage = []byte("ABCDEFGH\r") // long enough to still be transmitting
	cfg.InterEdgeTimeout = 30 * time.Millisecond
	h, cancel := newTestHandler(cfg, p)
	defer cancel()
	defer h.Close()

	driveEdges(t, p, cfg.WakeThreshold)
	time.Sleep(5 * time.Millisecond)
	if h.State() != StateTransmitting {
		t.Fatalf("state = %v, want TRANSMITTING", h.State())
	}

	time.Sleep(60 * time.Millisecond) // exceed inter-edge timeout with no edges

	driveEdges(t, p, 1)
	time.Sleep(5 * time.Millisecond)
	if h.State() != StateWakeCounting {
		t.Fatalf("after stall and one edge, state = %v, want WAKE_COUNTING (re-armed)", h.State())
	}
}
