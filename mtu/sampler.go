package mtu

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// runSampler drives CLK and samples DATA for the duration of one
// transaction (spec.md section 4.3). It holds CLK high for
// cfg.PowerUpHold, then free-runs a square wave at cfg.CycleTime, reading
// DATA at the end of every low half-cycle (the cycle midpoint, just before
// CLK is driven high) and pushing the sampled bit onto q. It returns when
// ctx is cancelled or when RunOnce clears running, always leaving CLK
// parked high.
func runSampler(ctx context.Context, clockPin gpio.PinOut, dataPin gpio.PinIn, cfg Config, q *bitQueue, running *atomic.Bool) error {
	if err := dataPin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return &Error{Kind: GpioError, Err: fmt.Errorf("configuring data pin: %w", err)}
	}
	if err := clockPin.Out(gpio.High); err != nil {
		return &Error{Kind: GpioError, Err: fmt.Errorf("parking clock high: %w", err)}
	}
	defer clockPin.Out(gpio.High)

	if err := sleepCtx(ctx, cfg.PowerUpHold); err != nil {
		return err
	}

	half := cfg.BitRate.Period() / 2
	for running.Load() {
		if err := clockPin.Out(gpio.Low); err != nil {
			return &Error{Kind: GpioError, Err: fmt.Errorf("driving clock low: %w", err)}
		}
		if err := sleepCtx(ctx, half); err != nil {
			return err
		}
		if !running.Load() {
			return nil
		}

		bit := uint8(0)
		if dataPin.Read() == gpio.High {
			bit = 1
		}
		q.trySend(bit)

		if err := clockPin.Out(gpio.High); err != nil {
			return &Error{Kind: GpioError, Err: fmt.Errorf("driving clock high: %w", err)}
		}
		if err := sleepCtx(ctx, half); err != nil {
			return err
		}
	}
	return nil
}

// sleepCtx blocks for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
