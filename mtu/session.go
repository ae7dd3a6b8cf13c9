package mtu

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
)

// Stats accumulates the outcome of every transaction run by a Session
// (spec.md section 4.5).
type Stats struct {
	SuccessfulReads uint64
	CorruptedReads  uint64
	DroppedBits     uint64
}

// Session is the MTU role's orchestration layer: it owns the CLK/DATA
// pins, runs transactions, and keeps running statistics plus the last
// message seen, all behind a mutex so a caller can poll Stats/LastMessage
// from another goroutine while a transaction is in flight (spec.md
// section 4.5, grounded on periph-host/sysfs/gpio.go's pattern of a mutex
// guarding shared pin state touched from multiple goroutines).
type Session struct {
	mu    sync.Mutex
	cfg   Config
	stats Stats
	last  []byte

	clockPin gpio.PinOut
	dataPin  gpio.PinIn
	logger   *log.Logger
}

// NewSession constructs a Session driving clockPin and sampling dataPin.
// logger may be nil, in which case resync/reject diagnostics are
// discarded.
func NewSession(cfg Config, clockPin gpio.PinOut, dataPin gpio.PinIn, logger *log.Logger) *Session {
	return &Session{
		cfg:      cfg,
		clockPin: clockPin,
		dataPin:  dataPin,
		logger:   logger,
	}
}

// SetBaudRate updates the nominal bit rate for subsequent transactions.
func (s *Session) SetBaudRate(baud int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SetBaudRate(baud)
}

// BaudRate reports the nominal bit rate implied by the current CycleTime.
func (s *Session) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BaudRate()
}

// SetExpectedMessage updates the reference message the comparator checks
// each transaction's decoded message against.
func (s *Session) SetExpectedMessage(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ExpectedMessage = append([]byte(nil), msg...)
}

// ExpectedMessage returns the reference message currently in effect.
func (s *Session) ExpectedMessage() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.cfg.ExpectedMessage...)
}

// Stats returns a copy of the running statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ResetStats zeroes the running statistics.
func (s *Session) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
}

// LastMessage returns the most recently decoded message, or nil if no
// transaction has produced one yet.
func (s *Session) LastMessage() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}

// RunOnce drives exactly one wake/read transaction to completion: the
// power-up hold, the clock free-run, and the reassembly of one
// CR-terminated message (or a timeout). It never returns an error for a
// corrupted or timed-out transaction, those are reflected in Stats; it
// returns an error only for a hard GPIO failure, an invalid
// configuration, or ctx itself being cancelled.
func (s *Session) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.BitRate <= 0 {
		return &Error{Kind: ConfigError, Err: fmt.Errorf("bit rate must be positive")}
	}

	transCtx, cancel := context.WithTimeout(ctx, cfg.MaxDuration)
	defer cancel()

	q := newBitQueue(cfg.QueueCapacity)
	var running atomic.Bool
	running.Store(true)

	type reassembleResult struct {
		msg []byte
		err error
	}
	resultCh := make(chan reassembleResult, 1)
	go func() {
		msg, err := runReassembler(transCtx, q, cfg, s.logger)
		resultCh <- reassembleResult{msg: msg, err: err}
	}()

	samplerErrCh := make(chan error, 1)
	go func() {
		samplerErrCh <- runSampler(transCtx, s.clockPin, s.dataPin, cfg, q, &running)
	}()

	var result reassembleResult
	var samplerErr error
	select {
	case result = <-resultCh:
	case samplerErr = <-samplerErrCh:
		result = reassembleResult{err: samplerErr}
	case <-transCtx.Done():
		result = reassembleResult{err: transCtx.Err()}
	}
	running.Store(false)
	cancel()
	if samplerErr == nil {
		samplerErr = <-samplerErrCh
	}

	if mtuErr, ok := samplerErr.(*Error); ok && mtuErr.Kind == GpioError {
		return samplerErr
	}

	if result.err != nil {
		// Context cancellation (outer ctx, or MaxDuration) and bit-queue
		// timeouts both mean "no message this transaction": counted, not
		// returned as a hard error, unless the outer context was the one
		// cancelled.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordOutcome(cfg, nil, q.droppedCount())
		return nil
	}

	s.recordOutcome(cfg, result.msg, q.droppedCount())
	return nil
}

func (s *Session) recordOutcome(cfg Config, msg []byte, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg != nil {
		s.last = msg
	}
	if msg != nil && bytes.Equal(msg, cfg.ExpectedMessage) {
		s.stats.SuccessfulReads++
	} else {
		s.stats.CorruptedReads++
	}
	s.stats.DroppedBits += dropped
}

// RunTest runs n back-to-back transactions, pausing cfg.InterTestPause
// between each, and returns the successful/corrupted counts accumulated
// over just this run (spec.md section 6: "run_test(n) -> repeatability
// measurement"). It stops early and returns ctx.Err() if ctx is
// cancelled.
func (s *Session) RunTest(ctx context.Context, n int) (successful, corrupted int, err error) {
	before := s.Stats()

	s.mu.Lock()
	pause := s.cfg.InterTestPause
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := s.RunOnce(ctx); err != nil {
			return 0, 0, err
		}
		if i < n-1 {
			if err := sleepCtx(ctx, pause); err != nil {
				break
			}
		}
	}

	after := s.Stats()
	return int(after.SuccessfulReads - before.SuccessfulReads),
		int(after.CorruptedReads - before.CorruptedReads),
		ctx.Err()
}
