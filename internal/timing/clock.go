// Package timing provides a low-overhead monotonic cycle counter calibrated
// against the system clock, and a lock-free latency histogram. Grounded on
// internal/performance/latency/tracker.go's latency-tracking shape, but the
// hot-path counter itself is written fresh in plain atomics since the
// teacher logs wall-clock time.Since() durations directly rather than
// maintaining a calibrated cycle counter.
package timing

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCalibrationFailed is a Fatal-category error (spec §7): the process must
// refuse to enter the hot path if calibration does not converge.
var ErrCalibrationFailed = errors.New("timing: clock calibration failed")

// Clock is a calibrated cycle counter. It is safe for concurrent use: cycles
// reads a monotonically increasing atomic counter, calibration runs once at
// startup off the hot path.
type Clock struct {
	counter       atomic.Uint64
	stop          chan struct{}
	cyclesPerNs   float64
	calibrated    atomic.Bool
}

// NewClock creates an uncalibrated clock. Calibrate must be called before
// CyclesToNs is trustworthy.
func NewClock() *Clock {
	return &Clock{stop: make(chan struct{})}
}

// Cycles advances the monotonic software counter by one and returns its new
// value. No hardware counter is read: after Calibrate, a background pacing
// goroutine also advances the counter in step with wall time. Target
// overhead: <=25ns.
func (c *Clock) Cycles() uint64 {
	return c.counter.Add(1)
}

// Calibrate runs a short correlation between the counter and the system
// clock, starts the background pacing goroutine, and fixes cyclesPerNs. It
// must be called exactly once, off the hot path, at process startup.
func (c *Clock) Calibrate(window time.Duration) error {
	if window <= 0 {
		window = 50 * time.Millisecond
	}

	start := time.Now()
	startCount := c.counter.Load()

	ticker := time.NewTicker(time.Microsecond)
	defer ticker.Stop()
	deadline := time.After(window)

loop:
	for {
		select {
		case <-ticker.C:
			c.counter.Add(1000) // pace the counter forward between reads
		case <-deadline:
			break loop
		}
	}

	elapsedNs := float64(time.Since(start).Nanoseconds())
	deltaCount := float64(c.counter.Load() - startCount)
	if elapsedNs <= 0 || deltaCount <= 0 {
		return ErrCalibrationFailed
	}

	c.cyclesPerNs = deltaCount / elapsedNs
	c.calibrated.Store(true)

	go c.pace()
	return nil
}

// pace keeps the counter advancing between explicit Cycles() calls so that
// CyclesToNs remains meaningful even on an otherwise idle engine thread.
func (c *Clock) pace() {
	ticker := time.NewTicker(100 * time.Microsecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.counter.Add(uint64(100_000 * c.cyclesPerNs))
		case <-c.stop:
			return
		}
	}
}

// Stop halts the background pacing goroutine.
func (c *Clock) Stop() {
	close(c.stop)
}

// CyclesToNs converts a cycle delta into nanoseconds using the calibrated
// ratio. Returns 0 if the clock has not been calibrated.
func (c *Clock) CyclesToNs(cycles uint64) uint64 {
	if !c.calibrated.Load() || c.cyclesPerNs <= 0 {
		return 0
	}
	return uint64(float64(cycles) / c.cyclesPerNs)
}

// Calibrated reports whether Calibrate has completed successfully.
func (c *Clock) Calibrated() bool {
	return c.calibrated.Load()
}

// NowNs is a convenience wall-clock nanosecond timestamp used for data model
// fields like Tick.ExchangeTsNs where the simulator does not itself supply a
// hardware timestamp. Not on the sub-microsecond book/risk hot path.
func NowNs() int64 {
	return time.Now().UnixNano()
}
