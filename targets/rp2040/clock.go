//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"
)

// RP2040 TIMER peripheral. The hardware keeps a 64-bit microsecond count
// split across two 32-bit registers; the RAW pair reads without the
// latching side effects of TIMEHR/TIMELR, which matters because both
// cores read the clock and the latch is a single shared resource.
const (
	timerBase = 0x40054000

	timerTIMEHW   = timerBase + 0x00 // write high word
	timerTIMELW   = timerBase + 0x04 // write low word
	timerTIMERAWH = timerBase + 0x24 // raw read high word
	timerTIMERAWL = timerBase + 0x28 // raw read low word
	timerPAUSE    = timerBase + 0x30
)

var (
	timerHW    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMEHW)))
	timerLW    = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMELW)))
	timerRAWH  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	timerPause = (*volatile.Register32)(unsafe.Pointer(uintptr(timerPAUSE)))
)

// rpTimer drives the hardware timer as a cascaded 64-bit counter.
// The counter free-runs out of reset, so the constructor pauses it;
// the pipeline then owns the start instant through Clock.Begin.
type rpTimer struct{}

func newRPTimer() *rpTimer {
	timerPause.Set(1)
	return &rpTimer{}
}

func (t *rpTimer) Start() error {
	// Write order is fixed by the hardware: low word first, the high
	// word write commits both.
	timerLW.Set(0)
	timerHW.Set(0)
	timerPause.Set(0)
	return nil
}

func (t *rpTimer) Running() bool {
	return timerPause.Get()&1 == 0
}

func (t *rpTimer) Low() uint32 {
	return timerRAWL.Get()
}

func (t *rpTimer) High() uint32 {
	return timerRAWH.Get()
}

func (t *rpTimer) Zero() {
	timerLW.Set(0)
	timerHW.Set(0)
}
