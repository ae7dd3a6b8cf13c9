package link

import "periph.io/x/conn/v3/gpio"

// Pair is a simulated CLK/DATA wire pair. Both lines idle HIGH, matching
// spec.md section 2. The MTU side drives CLK and reads DATA; the meter
// side reads CLK and drives DATA; neither side ever calls a method outside
// the gpio.PinOut/gpio.PinIn view it was handed, so the two roles never
// exercise more of the underlying *Pin than their role allows even though
// the same value backs both views.
type Pair struct {
	clk  *Pin
	data *Pin
}

// NewPair creates a fresh simulated link with both lines idle HIGH.
func NewPair() *Pair {
	return &Pair{
		clk:  newPin(newWire("CLK", gpio.High), 0),
		data: newPin(newWire("DATA", gpio.High), 1),
	}
}

// MTUClock returns the CLK output endpoint driven by the MTU's clock+sampler.
func (p *Pair) MTUClock() gpio.PinOut { return p.clk }

// MTUData returns the DATA input endpoint sampled by the MTU.
func (p *Pair) MTUData() gpio.PinIn { return p.data }

// MeterClock returns the CLK input endpoint observed by the meter's bit-pump.
func (p *Pair) MeterClock() gpio.PinIn { return p.clk }

// MeterData returns the DATA output endpoint driven by the meter's bit-pump.
func (p *Pair) MeterData() gpio.PinOut { return p.data }

// CLKPinIO returns CLK as a full gpio.PinIO, for registering with gpioreg.
// meter and mtu code should use MeterClock/MTUClock instead; this exists
// only so a collaborator can look CLK up by name (see cmd/watermeter-sim).
func (p *Pair) CLKPinIO() gpio.PinIO { return p.clk }

// DataPinIO returns DATA as a full gpio.PinIO, for registering with
// gpioreg. meter and mtu code should use MeterData/MTUData instead.
func (p *Pair) DataPinIO() gpio.PinIO { return p.data }
