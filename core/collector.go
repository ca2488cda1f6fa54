package core

import "errors"

var (
	// ErrInvalidWindow is returned for a window request with stop <= start.
	ErrInvalidWindow = errors.New("window stop must be greater than start")

	// ErrNoRequest is returned when extraction is attempted with no
	// active window request.
	ErrNoRequest = errors.New("no active window request")
)

// MaxFetch is the scratch batch size for draining the cross-core ring.
const MaxFetch = 1024

// DefaultStoreCapacity holds a bit over 26 seconds at 10 kHz.
const DefaultStoreCapacity = 1 << 18

// ExtractReport describes the outcome of one extraction pass.
type ExtractReport struct {
	TooOld    int  // indices already overwritten (or before the first sample)
	Copied    int  // samples copied to the caller's buffer
	Remaining int  // indices not yet resolved (future, or buffer was full)
	Complete  bool // every index in the window has been resolved
}

// windowRequest is the state of an active gather. Indices are relative to
// reference, the total sample count at the moment the request was issued:
// negative indices address samples received before the request, indices
// >= 0 address samples that had not yet arrived.
type windowRequest struct {
	start     int64
	stop      int64
	reference uint64
	collected int64 // indices resolved so far, counting from start
}

// Collector is the secondary bulk store. It continuously drains the
// cross-core ring into a larger ring and serves window requests addressed
// by index relative to the request moment. Consumer side only; nothing
// here is safe for concurrent use from two goroutines.
type Collector struct {
	ring *Ring

	slots    []Sample
	capacity uint64
	mask     uint64

	total uint64 // samples ever ingested; only increases

	scratch [MaxFetch]Sample

	req    windowRequest
	active bool
}

// NewCollector creates a collector draining the given ring into a bulk
// store of the given capacity (DefaultStoreCapacity if zero). The
// capacity must be a power of two.
func NewCollector(ring *Ring, capacity uint64) (*Collector, error) {
	if capacity == 0 {
		capacity = DefaultStoreCapacity
	}
	if capacity&(capacity-1) != 0 {
		return nil, ErrNotPow2
	}
	return &Collector{
		ring:     ring,
		slots:    make([]Sample, capacity),
		capacity: capacity,
		mask:     capacity - 1,
	}, nil
}

// Ingest drains everything currently available from the cross-core ring
// into the bulk store and returns the count drained. Call every loop
// iteration, unconditionally: the producer runs at 10 kHz whether or not
// anyone is gathering, and a stalled drain turns into overruns upstream.
func (c *Collector) Ingest() int {
	drained := 0
	for {
		n := c.ring.Consume(c.scratch[:])
		if n == 0 {
			return drained
		}
		for i := 0; i < n; i++ {
			c.slots[c.total&c.mask] = c.scratch[i]
			c.total++
		}
		drained += n
	}
}

// RequestWindow records a half-open relative window [start, stop) against
// the current total. start < 0 addresses samples already received,
// counting backward from now; start >= 0 addresses samples not yet
// received. A new request replaces any active one.
func (c *Collector) RequestWindow(start, stop int64) error {
	if stop <= start {
		return ErrInvalidWindow
	}
	c.req = windowRequest{
		start:     start,
		stop:      stop,
		reference: c.total,
	}
	c.active = true
	RecordEvent(EvtWindowRequest, uint32(c.total), uint32(start), uint32(stop))
	DebugPrintln("[collector] window request start=" + itoa(int(start)) +
		" stop=" + itoa(int(stop)) + " ref=" + utoa(uint32(c.req.reference)))
	return nil
}

// Gathering reports whether a window request is active.
func (c *Collector) Gathering() bool { return c.active }

// TotalReceived returns the monotonic count of samples ever ingested.
func (c *Collector) TotalReceived() uint64 { return c.total }

// Capacity returns the bulk store capacity in samples.
func (c *Collector) Capacity() uint64 { return c.capacity }

// Overruns reports the upstream ring's overrun count.
func (c *Collector) Overruns() uint32 { return c.ring.Overruns() }

// CanFulfill reports whether every index in the active window is
// resolvable right now: already-arrived indices resolve immediately
// (possibly as too-old), future indices resolve only once that many new
// samples have been ingested past the reference count.
func (c *Collector) CanFulfill() bool {
	if !c.active {
		return false
	}
	if c.req.stop <= 0 {
		return true
	}
	return c.total-c.req.reference >= uint64(c.req.stop)
}

// Extract resolves indices of the active window in order, copying
// available samples into out. Each index is classified as too-old
// (already overwritten, or before the first sample ever received),
// available, or future; extraction stops at the first future index since
// every later index is equally unavailable. Extraction is incremental: a
// later call picks up where this one stopped. When the last index is
// resolved the request is cleared and the report is marked Complete.
//
// Too-old indices are counted in the report, never silently skipped: a
// window that reached back past the store depth at request time fails
// partially but deterministically.
func (c *Collector) Extract(out []Sample) (ExtractReport, error) {
	if !c.active {
		return ExtractReport{}, ErrNoRequest
	}
	rep := c.extractAvailable(out)
	if rep.Complete {
		c.active = false
		RecordEvent(EvtWindowComplete, uint32(c.total), uint32(rep.Copied), uint32(rep.TooOld))
	}
	return rep, nil
}

// Flush is the forced mode: it emits whatever is available right now,
// abandons the unresolved remainder and clears the request.
func (c *Collector) Flush(out []Sample) (ExtractReport, error) {
	if !c.active {
		return ExtractReport{}, ErrNoRequest
	}
	rep := c.extractAvailable(out)
	c.active = false
	if !rep.Complete {
		RecordEvent(EvtWindowFlush, uint32(c.total), uint32(rep.Copied), uint32(rep.Remaining))
	} else {
		RecordEvent(EvtWindowComplete, uint32(c.total), uint32(rep.Copied), uint32(rep.TooOld))
	}
	return rep, nil
}

func (c *Collector) extractAvailable(out []Sample) ExtractReport {
	var rep ExtractReport

	idx := c.req.start + c.req.collected
	for idx < c.req.stop {
		abs := int64(c.req.reference) + idx

		if abs < 0 || (c.total > c.capacity && uint64(abs) < c.total-c.capacity) {
			// Overwritten, or before the first sample ever received.
			rep.TooOld++
			c.req.collected++
			idx++
			continue
		}

		if uint64(abs) >= c.total {
			// Not yet arrived. Later indices are later in time, so
			// there is nothing more to resolve on this pass.
			break
		}

		if rep.Copied >= len(out) {
			break
		}
		out[rep.Copied] = c.slots[uint64(abs)&c.mask]
		rep.Copied++
		c.req.collected++
		idx++
	}

	rep.Remaining = int((c.req.stop - c.req.start) - c.req.collected)
	rep.Complete = rep.Remaining == 0
	return rep
}
