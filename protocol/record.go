// Package protocol defines the wire format the board streams captured
// samples over: fixed-size little-endian records packed into length- and
// CRC-delimited frames.
package protocol

import (
	"encoding/binary"
	"errors"

	"godaq/core"
)

// RecordSize is the wire size of one sample record: five channel words
// followed by the two timestamp words.
const RecordSize = core.SampleBytes

var ErrShortRecord = errors.New("record truncated")

// AppendRecord encodes s onto dst and returns the extended slice.
func AppendRecord(dst []byte, s core.Sample) []byte {
	for i := 0; i < core.NumChannels; i++ {
		dst = binary.LittleEndian.AppendUint16(dst, s.Ch[i])
	}
	dst = binary.LittleEndian.AppendUint32(dst, s.TLow)
	dst = binary.LittleEndian.AppendUint32(dst, s.THigh)
	return dst
}

// DecodeRecord decodes one record from the front of p.
func DecodeRecord(p []byte) (core.Sample, error) {
	var s core.Sample
	if len(p) < RecordSize {
		return s, ErrShortRecord
	}
	for i := 0; i < core.NumChannels; i++ {
		s.Ch[i] = binary.LittleEndian.Uint16(p[i*2:])
	}
	s.TLow = binary.LittleEndian.Uint32(p[core.NumChannels*2:])
	s.THigh = binary.LittleEndian.Uint32(p[core.NumChannels*2+4:])
	return s, nil
}
