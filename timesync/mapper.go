package timesync

import (
	"sync/atomic"
	"time"

	"godaq/core"
)

// DefaultSyncInterval is how often Update re-synchronizes against the
// server.
const DefaultSyncInterval = 10 * time.Second

// DefaultSyncTimeout bounds one exchange; re-sync runs on the main loop
// and must not stall sample extraction for long.
const DefaultSyncTimeout = 500 * time.Millisecond

// mapAnchor is one wall/monotonic correspondence point. Stored behind an
// atomic pointer so conversions never see a half-updated pair.
type mapAnchor struct {
	wallMicros uint64
	monoMicros uint64
}

// Mapper converts between monotonic hardware timestamps and wall-clock
// time. One goroutine drives Begin/Update/SyncNow; the conversion
// methods are safe from any goroutine.
type Mapper struct {
	clock  core.Clock
	client *Client

	anchor atomic.Pointer[mapAnchor]

	interval     time.Duration
	timeout      time.Duration
	nextSyncMono uint64
	syncCount    uint32
	failCount    uint32
	lastSyncMono uint64

	unsyncedCalls atomic.Uint32
}

// NewMapper creates a mapper over the given clock and NTP client. The
// client must already be resolved (or have a transport installed).
func NewMapper(clock core.Clock, client *Client) *Mapper {
	return &Mapper{
		clock:    clock,
		client:   client,
		interval: DefaultSyncInterval,
		timeout:  DefaultSyncTimeout,
	}
}

// SetSyncInterval overrides the re-sync period. Zero restores the
// default.
func (m *Mapper) SetSyncInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultSyncInterval
	}
	m.interval = d
}

// Begin performs the initial synchronization. Until it succeeds (here or
// via a later SyncNow) conversions return the 0 sentinel.
func (m *Mapper) Begin() error {
	return m.SyncNow()
}

// SyncNow forces one exchange regardless of the interval. On failure the
// previous anchor stays in effect.
func (m *Mapper) SyncNow() error {
	if err := m.client.Sync(m.timeout); err != nil {
		m.failCount++
		return err
	}
	now := m.clock.Micros64()
	m.anchor.Store(&mapAnchor{
		wallMicros: m.client.NowMicros(),
		monoMicros: now,
	})
	m.syncCount++
	m.lastSyncMono = now
	m.nextSyncMono = now + uint64(m.interval.Microseconds())
	return nil
}

// Update re-synchronizes when the interval has elapsed. Call it from the
// main loop; it is cheap when no sync is due.
func (m *Mapper) Update() {
	now := m.clock.Micros64()
	if now < m.nextSyncMono {
		return
	}
	if err := m.SyncNow(); err != nil {
		// Back off a full interval rather than hammering the server.
		m.nextSyncMono = now + uint64(m.interval.Microseconds())
	}
}

// Synced reports whether at least one sync has succeeded.
func (m *Mapper) Synced() bool {
	return m.anchor.Load() != nil
}

// HardwareToWall converts a monotonic timestamp to Unix microseconds.
// Returns 0 if never synced; callers must check Synced when 0 is a
// legal input. Signed delta arithmetic keeps timestamps on either side
// of the anchor exact.
func (m *Mapper) HardwareToWall(monoMicros uint64) uint64 {
	a := m.anchor.Load()
	if a == nil {
		m.warnUnsynced()
		return 0
	}
	delta := int64(monoMicros) - int64(a.monoMicros)
	return uint64(int64(a.wallMicros) + delta)
}

// WallToHardware converts Unix microseconds to a monotonic timestamp.
// Returns 0 if never synced.
func (m *Mapper) WallToHardware(wallMicros uint64) uint64 {
	a := m.anchor.Load()
	if a == nil {
		m.warnUnsynced()
		return 0
	}
	delta := int64(wallMicros) - int64(a.wallMicros)
	return uint64(int64(a.monoMicros) + delta)
}

// warnUnsynced records the first conversion attempted before the anchor
// exists. Counted rather than logged per call: conversions can run at
// sample rate.
func (m *Mapper) warnUnsynced() {
	if m.unsyncedCalls.Add(1) == 1 {
		core.DebugPrintln("[timesync] conversion requested before first sync")
	}
}

// UnsyncedConversions counts conversions that returned the 0 sentinel
// because no sync had succeeded yet.
func (m *Mapper) UnsyncedConversions() uint32 {
	return m.unsyncedCalls.Load()
}

// SampleToWall converts a sample's capture timestamp to Unix
// microseconds.
func (m *Mapper) SampleToWall(s core.Sample) uint64 {
	return m.HardwareToWall(s.Time64())
}

// WallToSampleTime converts Unix microseconds to the two-word timestamp
// layout samples carry, for comparing wall-clock instants against
// captured data.
func (m *Mapper) WallToSampleTime(wallMicros uint64) (low, high uint32) {
	mono := m.WallToHardware(wallMicros)
	return uint32(mono), uint32(mono >> 32)
}

// NowWallMicros returns the current wall-clock time derived from the
// monotonic clock and the anchor, or 0 if never synced.
func (m *Mapper) NowWallMicros() uint64 {
	return m.HardwareToWall(m.clock.Micros64())
}

// SyncCount returns how many syncs have succeeded.
func (m *Mapper) SyncCount() uint32 { return m.syncCount }

// FailCount returns how many sync attempts have failed.
func (m *Mapper) FailCount() uint32 { return m.failCount }

// TimeSinceLastSync returns the monotonic time elapsed since the last
// successful sync, or 0 if never synced.
func (m *Mapper) TimeSinceLastSync() time.Duration {
	if m.anchor.Load() == nil {
		return 0
	}
	return time.Duration(m.clock.Micros64()-m.lastSyncMono) * time.Microsecond
}

// LastSyncWallMicros returns the wall-clock anchor of the last
// successful sync, or 0 if never synced.
func (m *Mapper) LastSyncWallMicros() uint64 {
	a := m.anchor.Load()
	if a == nil {
		return 0
	}
	return a.wallMicros
}
