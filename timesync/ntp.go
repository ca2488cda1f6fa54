// Package timesync maps the board's monotonic hardware clock onto
// wall-clock time using a minimal NTP client-mode exchange, and keeps the
// mapping fresh with periodic re-synchronization.
package timesync

import (
	"errors"
	"sync/atomic"
	"time"

	"godaq/core"
)

const (
	// PacketSize is the fixed NTP v4 packet size with no extensions.
	PacketSize = 48

	// requestHeader is LI=0, VN=4, Mode=3 (client).
	requestHeader = 0x23

	// serverMode is the mode field of a valid reply.
	serverMode = 4

	// transmitTimestampOffset is where the server's transmit timestamp
	// starts in the reply: 32-bit seconds then 32-bit fraction, both
	// big-endian, referenced to the 1900 epoch.
	transmitTimestampOffset = 40

	// ntpUnixEpochDiff is the offset between the NTP epoch (1900) and
	// the Unix epoch (1970) in seconds.
	ntpUnixEpochDiff = 2208988800

	// sanityFloorUnixSecs rejects replies that decode to a time before
	// Jan 1, 2000: such a server is unset or the packet is garbage.
	sanityFloorUnixSecs = 946684800
)

var (
	ErrResolution  = errors.New("server address did not parse or resolve")
	ErrNotResolved = errors.New("server not resolved")
	ErrSyncTimeout = errors.New("no valid reply within timeout")
)

// Conn is the datagram transport the client speaks over. The real
// implementation dials UDP (see DialUDP); tests inject fakes that drop,
// delay, or corrupt replies.
type Conn interface {
	// Send transmits one request datagram.
	Send(p []byte) error

	// Recv waits up to wait for one datagram and returns its length,
	// or 0 when none arrived in time. wait == 0 polls without waiting.
	Recv(p []byte, wait time.Duration) (int, error)

	Close() error
}

// syncAnchor pairs a wall-clock reading with the monotonic clock reading
// captured at the same instant. Replaced as a unit on every successful
// sync, never field by field.
type syncAnchor struct {
	wallMicros uint64 // Unix epoch microseconds at sync
	monoMicros uint64 // monotonic clock at sync
}

// Client performs the NTP exchange and anchors wall-clock time to the
// monotonic hardware clock. Sync is never called from a time-critical
// path; NowMicros and the predicates are safe from any goroutine.
type Client struct {
	clock core.Clock
	conn  Conn

	anchor atomic.Pointer[syncAnchor]

	syncCount  uint32
	timeouts   uint32
	rejects    uint32
	sentMicros uint64
	lastRTT    uint64
}

// NewClient creates a client reading timestamps from the given clock.
// Call Resolve (or SetConn) before Sync.
func NewClient(clock core.Clock) *Client {
	return &Client{clock: clock}
}

// SetConn installs a transport directly, replacing any prior one.
// Bare-metal targets without an OS network stack use this instead of
// Resolve.
func (c *Client) SetConn(conn Conn) {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
}

// HasSynced reports whether at least one sync has succeeded. Callers
// must treat false as "time unavailable", never as "time is zero".
func (c *Client) HasSynced() bool {
	return c.anchor.Load() != nil
}

// NowMicros returns Unix time in microseconds based on the last
// successful sync, or the 0 sentinel if never synced.
func (c *Client) NowMicros() uint64 {
	a := c.anchor.Load()
	if a == nil {
		return 0
	}
	// Unsigned arithmetic keeps the delta correct across any wrap
	// quirks in the monotonic composition.
	elapsed := c.clock.Micros64() - a.monoMicros
	return a.wallMicros + elapsed
}

// LastSyncUnixMicros returns the wall-clock anchor of the last
// successful sync, or 0 if never synced.
func (c *Client) LastSyncUnixMicros() uint64 {
	a := c.anchor.Load()
	if a == nil {
		return 0
	}
	return a.wallMicros
}

// BaseOffsetMicros returns the offset between the monotonic clock and
// the Unix epoch at the last sync, or 0 if never synced.
func (c *Client) BaseOffsetMicros() uint64 {
	a := c.anchor.Load()
	if a == nil {
		return 0
	}
	return a.wallMicros - a.monoMicros
}

// SyncCount returns how many syncs have succeeded.
func (c *Client) SyncCount() uint32 { return c.syncCount }

// Timeouts returns how many sync attempts timed out.
func (c *Client) Timeouts() uint32 { return c.timeouts }

// Rejects returns how many replies failed validation and were discarded.
func (c *Client) Rejects() uint32 { return c.rejects }

// LastRTTMicros returns the round-trip time of the last successful
// exchange.
func (c *Client) LastRTTMicros() uint64 { return c.lastRTT }

// Sync performs one exchange: flush stale replies, send a request
// timestamped with the monotonic clock, poll for a valid reply until the
// timeout elapses. On success the anchor is replaced as a unit with the
// server time corrected by half the round trip. All failures are
// recoverable; the caller retries on its own schedule.
func (c *Client) Sync(timeout time.Duration) error {
	if c.conn == nil {
		return ErrNotResolved
	}

	var buf [256]byte

	// Drop any replies left over from an abandoned attempt so a stale
	// timestamp can't be paired with this request's send time.
	for {
		n, _ := c.conn.Recv(buf[:], 0)
		if n == 0 {
			break
		}
	}

	var req [PacketSize]byte
	req[0] = requestHeader
	// Transmit timestamp stays zero; the server fills its own.
	if err := c.conn.Send(req[:]); err != nil {
		return err
	}
	// Capture as close to transmission as possible.
	c.sentMicros = c.clock.Micros64()

	timeoutMicros := uint64(timeout.Microseconds())
	start := c.clock.Micros64()
	for c.clock.Micros64()-start < timeoutMicros {
		n, err := c.conn.Recv(buf[:], time.Millisecond)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		secs, frac, ok := decodeReply(buf[:n])
		if !ok {
			c.rejects++
			continue
		}
		recvMicros := c.clock.Micros64()

		rtt := recvMicros - c.sentMicros
		serverMicros := uint64(secs-ntpUnixEpochDiff)*1000000 + fracToMicros(frac)

		// Half the round trip estimates the one-way delay from the
		// server's transmit instant to our receive instant.
		corrected := serverMicros + rtt/2

		c.anchor.Store(&syncAnchor{
			wallMicros: corrected,
			monoMicros: recvMicros,
		})
		c.syncCount++
		c.lastRTT = rtt
		core.RecordEvent(core.EvtSyncApplied, uint32(recvMicros), uint32(rtt), c.syncCount)
		return nil
	}

	c.timeouts++
	core.RecordEvent(core.EvtSyncFailed, uint32(c.clock.Micros64()), c.timeouts, 0)
	return ErrSyncTimeout
}

// Close releases the transport.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// decodeReply validates a reply and extracts the transmit timestamp.
func decodeReply(buf []byte) (secs, frac uint32, ok bool) {
	if len(buf) < PacketSize {
		return 0, 0, false
	}
	if buf[0]&0x07 != serverMode {
		return 0, 0, false
	}

	o := transmitTimestampOffset
	secs = uint32(buf[o])<<24 | uint32(buf[o+1])<<16 | uint32(buf[o+2])<<8 | uint32(buf[o+3])
	frac = uint32(buf[o+4])<<24 | uint32(buf[o+5])<<16 | uint32(buf[o+6])<<8 | uint32(buf[o+7])

	// A server clock that decodes to before 2000 is unset or garbage.
	if uint64(secs) < ntpUnixEpochDiff+sanityFloorUnixSecs {
		return 0, 0, false
	}
	return secs, frac, true
}

// fracToMicros converts 32-bit NTP fractional seconds to microseconds.
func fracToMicros(frac uint32) uint64 {
	return (uint64(frac) * 1000000) >> 32
}
