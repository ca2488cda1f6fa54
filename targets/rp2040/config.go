//go:build rp2040 || rp2350

package main

import "machine"

// Build-time configuration for the acquisition pipeline. Changing the
// board wiring means changing these and reflashing; there is no runtime
// reconfiguration.
const (
	// samplePeriodMicros paces the producer at 10 kHz.
	samplePeriodMicros = 100

	// ringCapacity is the cross-core hand-off ring. At 10 kHz a full
	// ring is ~100 ms of consumer stall before overruns start.
	ringCapacity = 1024

	// storeCapacity is the consumer-side history the windowed
	// extraction draws from: ~26 s at 10 kHz.
	storeCapacity = 1 << 18

	// batchPeriodMicros is how often the consumer requests and streams
	// out the most recent window.
	batchPeriodMicros = 100_000

	// netTimeEnabled gates the wall-clock mapper. Plain Pico boards
	// have no network transport; variants with one install it via
	// timesync.Client.SetConn and flip this on.
	netTimeEnabled = false
)

// MCP3008 front end on SPI0.
const (
	adcCSPin     = machine.GP17
	adcSPIFreqHz = 1_350_000
	adcSCKPin    = machine.GP18
	adcSDOPin    = machine.GP19 // MOSI
	adcSDIPin    = machine.GP16 // MISO
)
