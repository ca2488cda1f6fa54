// Package capture reads the board's framed sample stream from a serial
// port and writes it out as CSV, one row per sample. It is the host half
// of the acquisition pipeline: the board guarantees ordered, timestamped
// records; capture only reassembles, converts timestamps, and accounts
// for anything the link lost.
package capture

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"godaq/core"
	"godaq/host/serial"
	"godaq/protocol"
)

// Config controls one capture run.
type Config struct {
	// Out receives the CSV stream.
	Out io.Writer

	// WallOffsetMicros, when nonzero, is added to each sample's
	// hardware timestamp to produce a wall_us column. The board prints
	// its base offset after its own sync; zero leaves the column 0.
	WallOffsetMicros uint64

	// StatsInterval is how often link statistics are logged.
	// Zero disables periodic stats.
	StatsInterval time.Duration
}

// Capture pumps one port into one CSV writer.
type Capture struct {
	log *zap.Logger
	cfg Config

	w       *csv.Writer
	dec     *protocol.Decoder
	samples uint64
	rowErr  error
}

// New creates a capture writing to cfg.Out and logging through log.
func New(log *zap.Logger, cfg Config) *Capture {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Capture{
		log: log,
		cfg: cfg,
		w:   csv.NewWriter(cfg.Out),
	}
	c.dec = protocol.NewDecoder(c.onFrame)
	return c
}

// Samples returns how many rows have been written.
func (c *Capture) Samples() uint64 { return c.samples }

// SeqGaps returns how many frames the link lost.
func (c *Capture) SeqGaps() uint64 { return c.dec.SeqGaps() }

// CRCErrors returns how many frames arrived corrupted.
func (c *Capture) CRCErrors() uint64 { return c.dec.CRCErrors() }

// Run reads port until ctx is cancelled or the port fails. The CSV
// header goes out first; rows follow as frames decode. Returns nil on
// cancellation.
func (c *Capture) Run(ctx context.Context, port serial.Port) error {
	if err := c.w.Write(c.header()); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	var lastStats time.Time
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
			if c.rowErr != nil {
				return c.rowErr
			}
		}
		if err != nil {
			c.w.Flush()
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logStats()
				return c.w.Error()
			}
			return err
		}

		if c.cfg.StatsInterval > 0 && time.Since(lastStats) >= c.cfg.StatsInterval {
			c.w.Flush()
			c.logStats()
			lastStats = time.Now()
		}
	}
}

func (c *Capture) header() []string {
	row := []string{"t_us", "wall_us"}
	for i := 0; i < core.NumChannels; i++ {
		row = append(row, "ch"+strconv.Itoa(i))
	}
	return row
}

func (c *Capture) onFrame(seq uint8, records []core.Sample) {
	for _, s := range records {
		t := s.Time64()
		row := make([]string, 0, 2+core.NumChannels)
		row = append(row, strconv.FormatUint(t, 10))
		if c.cfg.WallOffsetMicros != 0 {
			row = append(row, strconv.FormatUint(t+c.cfg.WallOffsetMicros, 10))
		} else {
			row = append(row, "0")
		}
		for i := 0; i < core.NumChannels; i++ {
			row = append(row, strconv.FormatUint(uint64(s.Ch[i]), 10))
		}
		if err := c.w.Write(row); err != nil && c.rowErr == nil {
			c.rowErr = err
		}
		c.samples++
	}
}

func (c *Capture) logStats() {
	c.log.Info("capture stats",
		zap.Uint64("samples", c.samples),
		zap.Uint64("frames", c.dec.Frames()),
		zap.Uint64("seq_gaps", c.dec.SeqGaps()),
		zap.Uint64("crc_errors", c.dec.CRCErrors()),
	)
}
