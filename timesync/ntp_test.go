package timesync

import (
	"errors"
	"testing"
	"time"
)

// stepClock is a monotonic clock the tests advance by hand, plus an
// optional per-Recv advance to simulate network latency.
type stepClock struct {
	now   uint64
	began bool
}

func (c *stepClock) Begin() error      { c.began = true; return nil }
func (c *stepClock) Initialized() bool { return c.began }
func (c *stepClock) Micros64() uint64  { return c.now }
func (c *stepClock) Micros() uint32    { return uint32(c.now) }
func (c *stepClock) Millis() uint32    { return uint32(c.now / 1000) }
func (c *stepClock) Reset()            { c.now = 0 }

// scriptConn replays queued datagrams, advancing the clock on each
// waiting Recv to model the round trip. stale datagrams are already
// pending before the request goes out; replies arrive only after Send.
type scriptConn struct {
	clock     *stepClock
	stale     [][]byte
	replies   [][]byte
	recvDelay uint64 // clock advance applied by each waiting Recv
	sent      [][]byte
	closed    bool
}

func (s *scriptConn) Send(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *scriptConn) Recv(p []byte, wait time.Duration) (int, error) {
	if len(s.stale) > 0 {
		n := copy(p, s.stale[0])
		s.stale = s.stale[1:]
		return n, nil
	}
	if wait == 0 {
		return 0, nil
	}
	s.clock.now += s.recvDelay
	if len(s.replies) == 0 || len(s.sent) == 0 {
		// Block for the full wait when nothing arrives.
		s.clock.now += uint64(wait.Microseconds())
		return 0, nil
	}
	n := copy(p, s.replies[0])
	s.replies = s.replies[1:]
	return n, nil
}

func (s *scriptConn) Close() error {
	s.closed = true
	return nil
}

// serverReply builds a mode-4 packet whose transmit timestamp is the
// given Unix microsecond instant.
func serverReply(unixMicros uint64) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = 0x24 // LI=0 VN=4 Mode=4
	secs := uint32(unixMicros/1000000) + ntpUnixEpochDiff
	frac := uint32((unixMicros % 1000000) << 32 / 1000000)
	o := transmitTimestampOffset
	buf[o] = byte(secs >> 24)
	buf[o+1] = byte(secs >> 16)
	buf[o+2] = byte(secs >> 8)
	buf[o+3] = byte(secs)
	buf[o+4] = byte(frac >> 24)
	buf[o+5] = byte(frac >> 16)
	buf[o+6] = byte(frac >> 8)
	buf[o+7] = byte(frac)
	return buf
}

const testServerTime = uint64(1_700_000_000_000_000) // Unix µs, well past 2000

func newTestClient(recvDelay uint64, replies ...[]byte) (*Client, *stepClock, *scriptConn) {
	clk := &stepClock{}
	clk.Begin()
	clk.now = 5_000_000
	conn := &scriptConn{clock: clk, replies: replies, recvDelay: recvDelay}
	c := NewClient(clk)
	c.SetConn(conn)
	return c, clk, conn
}

func TestSyncRequestShape(t *testing.T) {
	c, _, conn := newTestClient(1000, serverReply(testServerTime))
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(conn.sent))
	}
	req := conn.sent[0]
	if len(req) != PacketSize {
		t.Errorf("request size = %d, want %d", len(req), PacketSize)
	}
	if req[0] != requestHeader {
		t.Errorf("request header = %#x, want %#x", req[0], requestHeader)
	}
	for i, b := range req[1:] {
		if b != 0 {
			t.Errorf("request byte %d = %#x, want 0", i+1, b)
		}
	}
}

func TestSyncAppliesHalfRTTCorrection(t *testing.T) {
	// 20ms round trip: the anchor should land at server time + 10ms.
	c, clk, _ := newTestClient(20_000, serverReply(testServerTime))
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !c.HasSynced() {
		t.Fatal("HasSynced = false after successful sync")
	}
	want := testServerTime + 10_000
	if got := c.NowMicros(); got != want {
		t.Errorf("NowMicros = %d, want %d", got, want)
	}
	if c.LastRTTMicros() != 20_000 {
		t.Errorf("LastRTTMicros = %d, want 20000", c.LastRTTMicros())
	}

	// Time keeps advancing off the monotonic clock.
	clk.now += 123_456
	if got := c.NowMicros(); got != want+123_456 {
		t.Errorf("NowMicros after advance = %d, want %d", got, want+123_456)
	}
}

func TestSyncBeforeResolve(t *testing.T) {
	c := NewClient(&stepClock{})
	if err := c.Sync(time.Second); !errors.Is(err, ErrNotResolved) {
		t.Errorf("Sync without transport = %v, want ErrNotResolved", err)
	}
	if c.NowMicros() != 0 {
		t.Errorf("NowMicros before any sync = %d, want 0", c.NowMicros())
	}
}

func TestSyncTimeout(t *testing.T) {
	c, _, _ := newTestClient(50_000) // no replies queued
	err := c.Sync(200 * time.Millisecond)
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Sync = %v, want ErrSyncTimeout", err)
	}
	if c.HasSynced() {
		t.Error("HasSynced = true after timeout")
	}
	if c.Timeouts() != 1 {
		t.Errorf("Timeouts = %d, want 1", c.Timeouts())
	}
}

func TestSyncRejectsWrongMode(t *testing.T) {
	bad := serverReply(testServerTime)
	bad[0] = 0x23 // client mode, not a server reply
	c, _, _ := newTestClient(50_000, bad)
	if err := c.Sync(200 * time.Millisecond); !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Sync = %v, want ErrSyncTimeout", err)
	}
	if c.Rejects() != 1 {
		t.Errorf("Rejects = %d, want 1", c.Rejects())
	}
}

func TestSyncRejectsShortPacket(t *testing.T) {
	c, _, _ := newTestClient(50_000, serverReply(testServerTime)[:20])
	if err := c.Sync(200 * time.Millisecond); !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Sync = %v, want ErrSyncTimeout", err)
	}
	if c.Rejects() != 1 {
		t.Errorf("Rejects = %d, want 1", c.Rejects())
	}
}

func TestSyncRejectsPreEpochTime(t *testing.T) {
	// A reply decoding to 1999 means the server clock is unset.
	reply := serverReply(uint64(915_148_800) * 1_000_000)
	c, _, _ := newTestClient(50_000, reply)
	if err := c.Sync(200 * time.Millisecond); !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Sync = %v, want ErrSyncTimeout", err)
	}
	if c.Rejects() != 1 {
		t.Errorf("Rejects = %d, want 1", c.Rejects())
	}
}

func TestSyncRejectThenAccept(t *testing.T) {
	bad := serverReply(testServerTime)
	bad[0] = 0x26
	c, _, _ := newTestClient(1000, bad, serverReply(testServerTime))
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if c.Rejects() != 1 || c.SyncCount() != 1 {
		t.Errorf("Rejects=%d SyncCount=%d, want 1/1", c.Rejects(), c.SyncCount())
	}
}

func TestSyncFlushesStaleReplies(t *testing.T) {
	// A reply queued before the request goes out is from an abandoned
	// attempt; it must be discarded, not paired with the new request.
	c, _, conn := newTestClient(2000, serverReply(testServerTime))
	conn.stale = [][]byte{serverReply(testServerTime - 60_000_000)}
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := testServerTime + 1000
	if got := c.NowMicros(); got != want {
		t.Errorf("NowMicros = %d, want %d (stale reply used?)", got, want)
	}
}

func TestSyncFailureKeepsPriorAnchor(t *testing.T) {
	c, clk, conn := newTestClient(1000, serverReply(testServerTime))
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	before := c.LastSyncUnixMicros()

	conn.replies = nil
	clk.now += 1_000_000
	if err := c.Sync(200 * time.Millisecond); !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("second Sync = %v, want ErrSyncTimeout", err)
	}
	if c.LastSyncUnixMicros() != before {
		t.Error("failed sync disturbed the anchor")
	}
	if !c.HasSynced() {
		t.Error("HasSynced flipped false after failed re-sync")
	}
}

func TestBaseOffset(t *testing.T) {
	c, clk, _ := newTestClient(0, serverReply(testServerTime))
	if err := c.Sync(time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	off := c.BaseOffsetMicros()
	if got := off + clk.now; got != c.NowMicros() {
		t.Errorf("offset+mono = %d, NowMicros = %d", got, c.NowMicros())
	}
}
