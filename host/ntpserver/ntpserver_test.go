package ntpserver

import (
	"context"
	"testing"
	"time"

	"godaq/timesync"
)

// hostClock satisfies the monotonic clock interface with the host's own
// monotonic time, for running the sync client on the host in tests.
type hostClock struct {
	base  time.Time
	began bool
}

func (c *hostClock) Begin() error      { c.base = time.Now(); c.began = true; return nil }
func (c *hostClock) Initialized() bool { return c.began }
func (c *hostClock) Micros64() uint64 {
	if !c.began {
		return 0
	}
	return uint64(time.Since(c.base).Microseconds())
}
func (c *hostClock) Micros() uint32 { return uint32(c.Micros64()) }
func (c *hostClock) Millis() uint32 { return uint32(c.Micros64() / 1000) }
func (c *hostClock) Reset()         { c.base = time.Now() }

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := New(nil)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return srv
}

func TestClientSyncsAgainstServer(t *testing.T) {
	srv := startServer(t)

	clk := &hostClock{}
	clk.Begin()
	client := timesync.NewClient(clk)
	if err := client.Resolve(srv.Addr().String()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer client.Close()

	if err := client.Sync(2 * time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if srv.Requests() != 1 {
		t.Errorf("server answered %d requests, want 1", srv.Requests())
	}

	// On loopback against the same host clock, the synced time should
	// land within a small bound of time.Now.
	got := int64(client.NowMicros())
	want := time.Now().UnixMicro()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > 50_000 {
		t.Errorf("synced time off by %dµs", diff)
	}
}

func TestRTTCorrectionAgainstDelayedServer(t *testing.T) {
	srv := startServer(t)
	srv.Delay = 40 * time.Millisecond

	clk := &hostClock{}
	clk.Begin()
	client := timesync.NewClient(clk)
	if err := client.Resolve(srv.Addr().String()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer client.Close()

	if err := client.Sync(2 * time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if client.LastRTTMicros() < 40_000 {
		t.Errorf("LastRTTMicros = %d, want >= 40000", client.LastRTTMicros())
	}

	// The half-RTT correction cancels the symmetric part of the delay;
	// the residual error is the asymmetry, which on loopback with a
	// one-sided 40ms delay is about half the RTT. Just require the
	// result lands within the RTT of true time.
	got := int64(client.NowMicros())
	want := time.Now().UnixMicro()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(client.LastRTTMicros()) {
		t.Errorf("synced time off by %dµs with RTT %dµs", diff, client.LastRTTMicros())
	}
}

func TestServerOffset(t *testing.T) {
	srv := startServer(t)
	srv.Offset = 5 * time.Second

	clk := &hostClock{}
	clk.Begin()
	client := timesync.NewClient(clk)
	if err := client.Resolve(srv.Addr().String()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer client.Close()

	if err := client.Sync(2 * time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	diff := int64(client.NowMicros()) - time.Now().UnixMicro()
	if diff < 4_900_000 || diff > 5_100_000 {
		t.Errorf("offset server skewed client by %dµs, want ~5s", diff)
	}
}

func TestShortRequestIgnored(t *testing.T) {
	srv := startServer(t)

	conn, err := timesync.DialUDP(srv.Addr().String())
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte{0x23, 0x00}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var buf [64]byte
	n, err := conn.Recv(buf[:], 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 0 {
		t.Errorf("server replied to a %d-byte runt", 2)
	}
	if srv.Requests() != 0 {
		t.Errorf("Requests = %d, want 0", srv.Requests())
	}
}
