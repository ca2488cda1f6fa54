package core

// ADCDriver is the abstract analog front-end interface the core uses.
// Target code registers a driver for the real hardware; tests supply
// fakes. The core does not configure channel scanning or conversion
// parameters beyond this.
type ADCDriver interface {
	// Configure powers up the front end. Called once before sampling.
	Configure() error

	// Read performs a one-shot sample of the given channel.
	// Returns a 16-bit scaled value.
	Read(ch int) (uint16, error)
}

// Global singleton used by core code.
var adcDriver ADCDriver

// SetADCDriver is called by target-specific code to register its driver.
func SetADCDriver(d ADCDriver) {
	adcDriver = d
}

// MustADC returns the configured driver or panics if missing.
func MustADC() ADCDriver {
	if adcDriver == nil {
		panic("ADC driver not configured")
	}
	return adcDriver
}

// DefaultSamplePeriodMicros is the nominal sampling period: 100 us, 10 kHz.
const DefaultSamplePeriodMicros = 100

// Sampler is the producer side of the pipeline. Each Step reads the five
// channels, timestamps the frame with the monotonic clock and pushes it
// into the cross-core ring. It runs in the producer core's tight polling
// loop and never blocks: pacing is deadline arithmetic against the clock,
// pushing exactly one sample per period.
type Sampler struct {
	clock Clock
	ring  *Ring
	adc   ADCDriver

	period uint64 // sampling period in microseconds
	next   uint64 // deadline for the next sample
	armed  bool

	// last holds the previous readings; a faulted channel read reuses
	// its last value rather than unwinding out of the hot path.
	last [NumChannels]uint16

	produced   uint64
	lateTicks  uint32
	readFaults uint32
}

// NewSampler creates a sampler pacing at the given period in microseconds
// (DefaultSamplePeriodMicros if zero).
func NewSampler(clock Clock, ring *Ring, periodMicros uint64) *Sampler {
	if periodMicros == 0 {
		periodMicros = DefaultSamplePeriodMicros
	}
	return &Sampler{
		clock:  clock,
		ring:   ring,
		adc:    MustADC(),
		period: periodMicros,
	}
}

// Step takes one sample if the period has elapsed. Returns whether a
// sample was pushed. Producer core only.
func (s *Sampler) Step() bool {
	now := s.clock.Micros64()
	if !s.armed {
		// First call fixes the phase of the sampling grid.
		s.next = now + s.period
		s.armed = true
		return false
	}
	if now < s.next {
		return false
	}

	var smp Sample
	smp.SetTime64(now)
	for ch := 0; ch < NumChannels; ch++ {
		v, err := s.adc.Read(ch)
		if err != nil {
			v = s.last[ch]
			s.readFaults++
		} else {
			s.last[ch] = v
		}
		smp.Ch[ch] = v
	}

	before := s.ring.Overruns()
	s.ring.Add(smp)
	if after := s.ring.Overruns(); after != before {
		RecordEvent(EvtOverrun, smp.TLow, after, 0)
	}
	s.produced++

	s.next += s.period
	if now >= s.next {
		// Fell behind by at least a full period; count the missed
		// ticks and re-phase instead of bursting to catch up.
		missed := (now-s.next)/s.period + 1
		s.lateTicks += uint32(missed)
		RecordEvent(EvtLateTick, smp.TLow, uint32(missed), 0)
		s.next = now + s.period
	}
	return true
}

// Produced returns how many samples this sampler has pushed.
func (s *Sampler) Produced() uint64 { return s.produced }

// LateTicks returns how many sampling deadlines were missed.
func (s *Sampler) LateTicks() uint32 { return s.lateTicks }

// ReadFaults returns how many channel reads failed and were substituted
// with the previous reading.
func (s *Sampler) ReadFaults() uint32 { return s.readFaults }
