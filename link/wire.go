package link

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// errNotSupported is returned by capabilities the simulated wire doesn't
// implement (PWM drive, pull resistors). Real GPIO lines on this protocol
// never use them either; see spec.md section 4.3/4.2.
var errNotSupported = errors.New("link: not supported on a simulated digital wire")

// wire is the shared state of one simulated signal (CLK or DATA): a single
// digital level, observed by an edge-waiter and driven by a writer. Both
// roles hold the same *Pin of a wire (see Pair), each using it one way
// only, matching the half-duplex discipline of spec.md section 5 ("CLK pin: writer=sampler, no readers
// other than the meter's edge detector; DATA pin: writer=meter,
// reader=sampler") even though Pin itself implements the full gpio.PinIO
// interface, mirroring how a real GPIO line is direction-capable in
// hardware but is used one way by convention.
type wire struct {
	name string

	mu       sync.Mutex
	level    gpio.Level
	version  uint64 // incremented on every level change
	lastEdge gpio.Edge
	changed  chan struct{} // closed and replaced on every level change
}

func newWire(name string, initial gpio.Level) *wire {
	return &wire{
		name:    name,
		level:   initial,
		changed: make(chan struct{}),
	}
}

func (w *wire) setLevel(l gpio.Level) {
	w.mu.Lock()
	old := w.level
	if old == l {
		w.mu.Unlock()
		return
	}
	w.level = l
	w.version++
	if l {
		w.lastEdge = gpio.RisingEdge
	} else {
		w.lastEdge = gpio.FallingEdge
	}
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

func (w *wire) read() gpio.Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.level
}

// snapshot returns the current version, level and change channel under lock.
func (w *wire) snapshot() (version uint64, level gpio.Level, edge gpio.Edge, ch chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version, w.level, w.lastEdge, w.changed
}

// waitForEdge blocks until a transition matching want occurs after
// sinceVersion, or timeout elapses (timeout<=0 means wait forever).
// It returns the version observed and whether a qualifying edge arrived.
func (w *wire) waitForEdge(sinceVersion uint64, want gpio.Edge, timeout time.Duration) (uint64, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		version, _, edge, ch := w.snapshot()
		if version > sinceVersion && edgeMatches(edge, want) {
			return version, true
		}
		if version > sinceVersion {
			// A change happened but didn't match (e.g. a falling edge while
			// waiting for rising); keep waiting from here.
			sinceVersion = version
		}
		if want == gpio.NoEdge {
			return version, false
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return sinceVersion, false
			}
			timer := time.NewTimer(remaining)
			select {
			case <-ch:
				timer.Stop()
			case <-timer.C:
				return sinceVersion, false
			}
		} else {
			<-ch
		}
	}
}

func edgeMatches(got, want gpio.Edge) bool {
	switch want {
	case gpio.RisingEdge:
		return got == gpio.RisingEdge
	case gpio.FallingEdge:
		return got == gpio.FallingEdge
	case gpio.BothEdges:
		return got == gpio.RisingEdge || got == gpio.FallingEdge
	default:
		return false
	}
}

// Pin is one end of a simulated wire, implementing the full gpio.PinIO
// interface the same way a real periph.io hardware pin does: the
// capability to drive and to read/wait-for-edge both exist on the one
// value, and which one a given goroutine actually exercises is a matter of
// the static interface type a caller was handed (gpio.PinOut vs
// gpio.PinIn), not a property enforced by a second concrete type. Pair's
// MTUClock/MeterClock/MTUData/MeterData accessors hand out narrowed views
// of the same *Pin for exactly that reason; CLKPinIO/DataPinIO hand out the
// full interface for gpioreg registration.
type Pin struct {
	w      *wire
	number int

	mu          sync.Mutex
	edge        gpio.Edge
	lastVersion uint64
}

func newPin(w *wire, number int) *Pin {
	return &Pin{w: w, number: number}
}

func (p *Pin) String() string   { return p.w.name }
func (p *Pin) Halt() error      { return nil }
func (p *Pin) Number() int      { return p.number }
func (p *Pin) Function() string { return p.w.name }
func (p *Pin) Name() string     { return p.w.name }

func (p *Pin) Out(l gpio.Level) error {
	p.w.setLevel(l)
	return nil
}

func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return errNotSupported
}

func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return errNotSupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = edge
	version, _, _, _ := p.w.snapshot()
	p.lastVersion = version
	return nil
}

func (p *Pin) Read() gpio.Level {
	return p.w.read()
}

func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge := p.edge
	since := p.lastVersion
	p.mu.Unlock()

	if edge == gpio.NoEdge {
		return false
	}
	version, ok := p.w.waitForEdge(since, edge, timeout)
	if ok {
		p.mu.Lock()
		p.lastVersion = version
		p.mu.Unlock()
	}
	return ok
}

func (p *Pin) Pull() gpio.Pull        { return gpio.Float }
func (p *Pin) DefaultPull() gpio.Pull { return gpio.Float }
