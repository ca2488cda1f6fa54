package protocol

import "godaq/core"

// Frame layout: [len][seq][records...][crc hi][crc lo][sync]. len covers
// the whole frame including the trailer. seq is a free-running 8-bit
// counter; the host detects dropped frames by gaps in it.
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameLengthMin   = FrameHeaderSize + FrameTrailerSize
	FrameLengthMax   = 255

	FramePosLen = 0
	FramePosSeq = 1

	FrameSyncByte = 0x7E

	// MaxRecordsPerFrame is how many records fit under FrameLengthMax.
	MaxRecordsPerFrame = (FrameLengthMax - FrameLengthMin) / RecordSize
)

// Encoder packs sample records into frames. Not safe for concurrent use;
// the board encodes from its single consumer loop.
type Encoder struct {
	seq uint8
}

// AppendFrame encodes up to MaxRecordsPerFrame records as one frame onto
// dst and returns the extended slice. Oversized batches are the caller's
// bug and panic rather than silently truncate.
func (e *Encoder) AppendFrame(dst []byte, records []core.Sample) []byte {
	if len(records) > MaxRecordsPerFrame {
		panic("protocol: batch exceeds MaxRecordsPerFrame")
	}
	frameLen := FrameLengthMin + len(records)*RecordSize

	base := len(dst)
	dst = append(dst, uint8(frameLen), e.seq)
	e.seq++
	for _, s := range records {
		dst = AppendRecord(dst, s)
	}
	crc := CRC16(dst[base : base+frameLen-FrameTrailerSize])
	dst = append(dst, uint8(crc>>8), uint8(crc), FrameSyncByte)
	return dst
}

// FrameFn receives each decoded frame. records aliases the decoder's
// internal buffer and is only valid for the duration of the call.
type FrameFn func(seq uint8, records []core.Sample)

// Decoder reassembles frames from an arbitrary byte stream. Corruption
// drops synchronization; the decoder then discards bytes until the next
// sync byte, the same recovery the sender's trailer byte exists for.
type Decoder struct {
	buf     []byte
	synced  bool
	records []core.Sample
	emit    FrameFn
	lastSeq uint8
	haveSeq bool
	frames  uint64
	crcErrs uint64
	resyncs uint64
	seqGaps uint64
}

// NewDecoder creates a decoder delivering frames to emit. It starts
// synchronized; a fresh connection begins at a frame boundary.
func NewDecoder(emit FrameFn) *Decoder {
	return &Decoder{
		synced:  true,
		records: make([]core.Sample, 0, MaxRecordsPerFrame),
		emit:    emit,
	}
}

// Frames returns how many valid frames have been decoded.
func (d *Decoder) Frames() uint64 { return d.frames }

// CRCErrors returns how many frames failed the checksum.
func (d *Decoder) CRCErrors() uint64 { return d.crcErrs }

// Resyncs returns how many times the decoder lost and regained sync.
func (d *Decoder) Resyncs() uint64 { return d.resyncs }

// SeqGaps returns the total number of frames missing from sequence
// number discontinuities.
func (d *Decoder) SeqGaps() uint64 { return d.seqGaps }

// Feed consumes a chunk of the stream, emitting every complete valid
// frame it contains. Partial frames are buffered for the next call.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)

	for len(d.buf) > 0 {
		if !d.synced {
			idx := -1
			for i, b := range d.buf {
				if b == FrameSyncByte {
					idx = i
					break
				}
			}
			if idx < 0 {
				d.buf = d.buf[:0]
				return
			}
			d.buf = d.buf[idx+1:]
			d.synced = true
			d.resyncs++
			continue
		}

		// Idle sync bytes between frames are legal padding.
		if d.buf[0] == FrameSyncByte {
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < FrameLengthMin {
			return
		}

		frameLen := int(d.buf[FramePosLen])
		if frameLen < FrameLengthMin || (frameLen-FrameLengthMin)%RecordSize != 0 {
			d.desync()
			continue
		}
		if len(d.buf) < frameLen {
			return
		}
		if d.buf[frameLen-1] != FrameSyncByte {
			d.desync()
			continue
		}

		wantCRC := uint16(d.buf[frameLen-3])<<8 | uint16(d.buf[frameLen-2])
		if CRC16(d.buf[:frameLen-FrameTrailerSize]) != wantCRC {
			d.crcErrs++
			d.desync()
			continue
		}

		seq := d.buf[FramePosSeq]
		if d.haveSeq {
			if gap := seq - (d.lastSeq + 1); gap != 0 {
				d.seqGaps += uint64(gap)
			}
		}
		d.lastSeq = seq
		d.haveSeq = true

		d.records = d.records[:0]
		payload := d.buf[FrameHeaderSize : frameLen-FrameTrailerSize]
		for off := 0; off < len(payload); off += RecordSize {
			s, _ := DecodeRecord(payload[off:])
			d.records = append(d.records, s)
		}
		d.frames++
		if d.emit != nil {
			d.emit(seq, d.records)
		}
		d.buf = d.buf[frameLen:]
	}
}

func (d *Decoder) desync() {
	d.synced = false
	d.buf = d.buf[1:]
}
