package core

import (
	"errors"
	"sync/atomic"
)

// Timer tick rate. One tick per microsecond.
const ClockFreqHz = 1000000

// WrapPeriodMicros is how long the 32-bit low counter runs before it
// wraps: 2^32 ticks at 1 MHz, a little under 72 minutes.
const WrapPeriodMicros = uint64(1) << 32

// MaxPollIntervalMicros is the contract for PolledClock: the wrap check
// must run at least this often or a rollover can be silently lost. Half
// the wrap period leaves headroom for jitter in the polling loop.
const MaxPollIntervalMicros = WrapPeriodMicros / 2

var ErrClockRunning = errors.New("hardware timer already started")

// TimerDriver is the hardware interface for a free-running 32-bit counter
// ticking at 1 MHz. Target code registers an implementation; tests supply
// fakes. Running must reflect a hardware enable bit, not a software flag,
// so the other core can poll it without any shared software state.
type TimerDriver interface {
	// Start configures and starts the counter. Called exactly once,
	// from the initializing core.
	Start() error

	// Running reports the hardware enable bit.
	Running() bool

	// Low reads the free-running 32-bit counter.
	Low() uint32

	// Zero resets the counter. Only legal while running.
	Zero()
}

// CascadedTimerDriver extends TimerDriver for hardware that chains a
// second 32-bit counter off the low counter's overflow, giving a full
// 64-bit count in hardware.
type CascadedTimerDriver interface {
	TimerDriver

	// High reads the overflow counter.
	High() uint32
}

// Clock is a 64-bit monotonic microsecond clock shared by both cores.
// Micros64 is non-decreasing for the life of the process, counted from an
// arbitrary epoch fixed at Begin. Reads before Begin completes return 0,
// never garbage; callers that need to distinguish use Initialized.
type Clock interface {
	Begin() error
	Initialized() bool
	Micros64() uint64
	Micros() uint32
	Millis() uint32
	Reset()
}

// CascadedClock composes the 64-bit time from two hardware counters. The
// hi-lo-hi read sequence avoids a torn read when the low counter wraps
// between the two register reads.
type CascadedClock struct {
	drv CascadedTimerDriver
}

func NewCascadedClock(drv CascadedTimerDriver) *CascadedClock {
	return &CascadedClock{drv: drv}
}

// Begin starts the hardware counters. Call once, before any other core
// reads the clock; other cores poll Initialized before first use.
func (c *CascadedClock) Begin() error {
	if c.drv.Running() {
		return ErrClockRunning
	}
	return c.drv.Start()
}

// Initialized reports whether the hardware counter is running. Safe from
// either core with no synchronization: it is a hardware register read.
func (c *CascadedClock) Initialized() bool { return c.drv.Running() }

// Micros64 returns microseconds since Begin.
func (c *CascadedClock) Micros64() uint64 {
	if !c.drv.Running() {
		return 0
	}
	// Read high, low, high again: if high moved, the low counter
	// wrapped between the reads and both must be re-sampled.
	for {
		hi1 := c.drv.High()
		lo := c.drv.Low()
		hi2 := c.drv.High()
		if hi1 == hi2 {
			return uint64(hi1)<<32 | uint64(lo)
		}
	}
}

// Micros returns the low 32 bits of the counter.
func (c *CascadedClock) Micros() uint32 {
	if !c.drv.Running() {
		return 0
	}
	return c.drv.Low()
}

// Millis returns milliseconds since Begin, truncated to 32 bits.
func (c *CascadedClock) Millis() uint32 {
	return uint32(c.Micros64() / 1000)
}

// Reset zeroes the counters. Legal only when initialized. Read order
// makes the reset safe against concurrent Micros64 callers; they see
// either the old time or the new, never a mix.
func (c *CascadedClock) Reset() {
	if !c.drv.Running() {
		return
	}
	c.drv.Zero()
}

// PolledClock composes the 64-bit time from the low hardware counter plus
// a software rollover count. The wrap check runs on every access and
// detects a wrap when the counter reads lower than it did last time.
//
// This backend is strictly weaker than CascadedClock: if nothing touches
// the clock for longer than one wrap period (see MaxPollIntervalMicros),
// a whole rollover is lost and the composed time jumps backward by 2^32
// microseconds. The clock cannot recover the lost epoch, but it does
// count observed inter-poll gaps above the contract bound in
// BoundViolations so the violation is visible rather than silent.
//
// Poll, Micros64 and the other accessors must all be called from the
// owning context; only Initialized is safe cross-core.
type PolledClock struct {
	drv TimerDriver

	lastLow   uint32
	rollovers atomic.Uint32

	violations uint32
}

func NewPolledClock(drv TimerDriver) *PolledClock {
	return &PolledClock{drv: drv}
}

func (c *PolledClock) Begin() error {
	if c.drv.Running() {
		return ErrClockRunning
	}
	return c.drv.Start()
}

func (c *PolledClock) Initialized() bool { return c.drv.Running() }

// Poll runs the rollover check and returns the current low counter. Must
// run at least once per MaxPollIntervalMicros; the sampling loop at 10 kHz
// satisfies this by five orders of magnitude.
func (c *PolledClock) Poll() uint32 {
	cur := c.drv.Low()
	prev := c.lastLow
	c.lastLow = cur
	if cur < prev {
		c.rollovers.Add(1)
	} else if uint64(cur-prev) > MaxPollIntervalMicros {
		// Gap beyond the contract bound. If it exceeded the full wrap
		// period a rollover was already lost; either way the caller
		// discipline is broken and that must not stay invisible.
		c.violations++
	}
	return cur
}

// BoundViolations counts polls that arrived later than the contract
// allows. Non-zero means composed timestamps may have lost an epoch.
func (c *PolledClock) BoundViolations() uint32 { return c.violations }

func (c *PolledClock) Micros64() uint64 {
	if !c.drv.Running() {
		return 0
	}
	low := c.Poll()
	return uint64(c.rollovers.Load())<<32 | uint64(low)
}

func (c *PolledClock) Micros() uint32 {
	if !c.drv.Running() {
		return 0
	}
	return c.Poll()
}

func (c *PolledClock) Millis() uint32 {
	return uint32(c.Micros64() / 1000)
}

func (c *PolledClock) Reset() {
	if !c.drv.Running() {
		return
	}
	c.drv.Zero()
	c.lastLow = 0
	c.rollovers.Store(0)
}
