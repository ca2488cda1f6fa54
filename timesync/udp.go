//go:build !tinygo

package timesync

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Resolve parses the server as an address literal or resolves it as a
// name, then opens the transport. server is "host" or "host:port"; the
// NTP port 123 is assumed when none is given.
func (c *Client) Resolve(server string) error {
	conn, err := DialUDP(server)
	if err != nil {
		return err
	}
	c.SetConn(conn)
	return nil
}

// udpConn adapts a connected UDP socket to the Conn interface.
type udpConn struct {
	conn *net.UDPConn
}

// DialUDP resolves server ("host" or "host:port", port 123 assumed) and
// opens a connected UDP socket to it.
func DialUDP(server string) (Conn, error) {
	if !strings.Contains(server, ":") {
		server += ":123"
	}
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolution, server, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &udpConn{conn: conn}, nil
}

func (u *udpConn) Send(p []byte) error {
	_, err := u.conn.Write(p)
	return err
}

func (u *udpConn) Recv(p []byte, wait time.Duration) (int, error) {
	if wait <= 0 {
		// Poll: treat an immediate timeout as "nothing pending".
		wait = time.Microsecond
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, err
	}
	n, err := u.conn.Read(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (u *udpConn) Close() error {
	return u.conn.Close()
}
