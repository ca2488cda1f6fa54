// Package ntpserver implements a minimal NTP responder for benches with
// no route to a public time server. It answers every request with the
// host's clock in the server transmit-timestamp field; boards on the
// bench sync against it exactly as they would against a real server.
package ntpserver

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	packetSize = 48

	// replyHeader is LI=0, VN=4, Mode=4 (server).
	replyHeader = 0x24

	transmitTimestampOffset = 40
	ntpUnixEpochDiff        = 2208988800
)

// Server answers NTP client requests on a UDP socket.
type Server struct {
	log *zap.Logger

	// Offset shifts every reply by a fixed amount. Bench use only:
	// lets tests point two boards at deliberately skewed servers.
	Offset time.Duration

	// Delay holds each reply back before sending, to exercise the
	// client's round-trip correction.
	Delay time.Duration

	conn     *net.UDPConn
	requests atomic.Uint64
}

// New creates a server logging through log.
func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log}
}

// Listen binds the UDP socket. addr is "host:port"; ":123" needs
// privileges, benches usually pick a high port.
func (s *Server) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.log.Info("ntp server listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address, for tests that listen on port 0.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Requests returns how many requests have been answered.
func (s *Server) Requests() uint64 { return s.requests.Load() }

// Serve answers requests until ctx is cancelled. Listen must have been
// called first.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 256)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if n < packetSize {
			s.log.Debug("short request dropped",
				zap.Int("size", n), zap.Stringer("peer", peer))
			continue
		}

		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}

		reply := s.buildReply(time.Now().Add(s.Offset))
		if _, err := s.conn.WriteToUDP(reply, peer); err != nil {
			s.log.Warn("reply failed", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		s.requests.Add(1)
	}
}

// buildReply fills a mode-4 packet whose transmit timestamp is now.
func (s *Server) buildReply(now time.Time) []byte {
	reply := make([]byte, packetSize)
	reply[0] = replyHeader
	reply[1] = 1 // stratum: pretend primary, it's a bench clock

	secs := uint32(now.Unix()) + ntpUnixEpochDiff
	frac := uint32((uint64(now.Nanosecond()) << 32) / 1_000_000_000)
	binary.BigEndian.PutUint32(reply[transmitTimestampOffset:], secs)
	binary.BigEndian.PutUint32(reply[transmitTimestampOffset+4:], frac)
	return reply
}
