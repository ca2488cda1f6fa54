// Package serial abstracts the serial link the board streams sample
// frames over, so the capture pipeline can run against a real device or
// an in-memory stream in tests.
package serial

import (
	"io"
)

// Port is the transport the capture pipeline reads frames from.
// Implementations: native serial (github.com/tarm/serial) and in-memory
// pipes for tests.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3").
	Device string

	// Baud rate. USB CDC ignores it but the field must still be set
	// for real UART adapters.
	Baud int

	// Read timeout in milliseconds (0 = blocking).
	ReadTimeout int
}

// DefaultConfig returns the configuration for a board on USB CDC.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
