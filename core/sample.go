package core

// NumChannels is the number of analog channels captured per sample.
const NumChannels = 5

// SampleBytes is the encoded size of one Sample record: five 16-bit
// readings plus the two-word capture time. The ring stride and the wire
// record size are both derived from this; a layout test pins it so it
// never silently changes.
const SampleBytes = NumChannels*2 + 4 + 4

// Sample is one acquisition frame: five raw ADC readings and the two-word
// hardware capture time (low 32 bits of the 1 MHz counter plus the
// rollover/high word). Immutable once written into a ring.
type Sample struct {
	Ch    [NumChannels]uint16
	TLow  uint32
	THigh uint32
}

// Time64 composes the two-word capture time into 64-bit microseconds.
func (s *Sample) Time64() uint64 {
	return uint64(s.THigh)<<32 | uint64(s.TLow)
}

// SetTime64 splits a 64-bit microsecond timestamp into the two-word
// capture time fields.
func (s *Sample) SetTime64(t uint64) {
	s.TLow = uint32(t)
	s.THigh = uint32(t >> 32)
}
