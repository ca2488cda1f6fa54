//go:build rp2040 || rp2350

// Firmware entry for the RP2040 acquisition board. Core 1 owns the
// analog front end and produces timestamped samples into the cross-core
// ring; core 0 drains the ring into the windowed store and streams each
// completed window out over USB CDC as CRC-framed records.
package main

import (
	"machine"
	"time"

	"godaq/core"
	"godaq/protocol"
	"godaq/timesync"
)

var (
	clock   *core.CascadedClock
	ring    *core.Ring
	sampler *core.Sampler

	framesSent uint32
	writeFails uint32
)

func main() {
	// Clear any watchdog state left over from a previous reset.
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	// machine.Serial is USB CDC on this chip; the UARTConfig is ignored.
	machine.Serial.Configure(machine.UARTConfig{})

	clock = core.NewCascadedClock(newRPTimer())
	if err := clock.Begin(); err != nil {
		fatalBlink(2)
	}

	adc, err := newMCPADC()
	if err != nil {
		fatalBlink(3)
	}
	core.SetADCDriver(adc)
	if err := core.MustADC().Configure(); err != nil {
		fatalBlink(4)
	}

	ring, err = core.NewRing(ringCapacity)
	if err != nil {
		fatalBlink(5)
	}
	collector, err := core.NewCollector(ring, storeCapacity)
	if err != nil {
		fatalBlink(5)
	}

	// The wall-clock mapper only runs when the board variant has a
	// network transport (installed via timesync.Client.SetConn). The
	// plain Pico streams raw hardware timestamps; the host maps them.
	ntpClient := timesync.NewClient(clock)
	mapper := timesync.NewMapper(clock, ntpClient)
	if netTimeEnabled {
		mapper.Begin()
	}

	// Producer runs on core 1 so nothing on core 0 (USB, extraction)
	// can delay a conversion.
	sampler = core.NewSampler(clock, ring, samplePeriodMicros)
	machine.Core1.Start(producerMain)

	consumerMain(collector, mapper)
}

// producerMain is the core 1 entry: a tight polling loop around the
// sample pacer. It never blocks and never allocates.
func producerMain() {
	for !clock.Initialized() {
	}
	for {
		sampler.Step()
	}
}

// batchSamples is how many samples accumulate per stream-out window.
const batchSamples = batchPeriodMicros / samplePeriodMicros

func consumerMain(collector *core.Collector, mapper *timesync.Mapper) {
	var enc protocol.Encoder
	var batch [protocol.MaxRecordsPerFrame]core.Sample
	wire := make([]byte, 0, protocol.FrameLengthMax)

	nextBatch := clock.Micros64() + batchPeriodMicros
	for {
		collector.Ingest()

		if netTimeEnabled {
			mapper.Update()
		}

		now := clock.Micros64()
		if now >= nextBatch && !collector.Gathering() {
			// Most recent batch: everything already arrived, so the
			// window resolves immediately.
			collector.RequestWindow(-batchSamples, 0)
			nextBatch += batchPeriodMicros
		}

		if collector.Gathering() && collector.CanFulfill() {
			streamWindow(collector, &enc, batch[:], &wire)
		}

		// Yield so TinyGo's scheduler can run the USB stack.
		time.Sleep(10 * time.Microsecond)
	}
}

// streamWindow drains the active window frame by frame.
func streamWindow(collector *core.Collector, enc *protocol.Encoder, batch []core.Sample, wire *[]byte) {
	for {
		rep, err := collector.Extract(batch)
		if err != nil {
			return
		}
		if rep.Copied > 0 {
			*wire = enc.AppendFrame((*wire)[:0], batch[:rep.Copied])
			if _, werr := machine.Serial.Write(*wire); werr != nil {
				writeFails++
			} else {
				framesSent++
			}
		}
		if rep.Complete || rep.Copied == 0 {
			return
		}
	}
}

// fatalBlink signals an unrecoverable init failure on the LED. The code
// is the blink count per burst.
func fatalBlink(code int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		for i := 0; i < code; i++ {
			led.High()
			time.Sleep(100 * time.Millisecond)
			led.Low()
			time.Sleep(100 * time.Millisecond)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
