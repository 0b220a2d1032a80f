package bootloader

import "sync/atomic"

// Port is the byte-oriented transport the core consumes.
// Implementations live outside this package (see serialport).
type Port interface {
	// Open acquires the device at portID, configured for 8 data bits,
	// even parity, 1 stop bit, at baud. Implementations that cannot
	// express even parity / 1 stop bit should fail Open rather than
	// silently substitute a different framing.
	Open(portID string, baud int) error
	// Send transmits b verbatim. It is fire-and-forget at the
	// transport: a write error is reported but does not itself await a
	// response.
	Send(b []byte) error
	// OnReceive registers the single handler invoked with every
	// inbound chunk for the lifetime of the port.
	OnReceive(handler func([]byte))
	// Close releases the underlying device. Idempotent.
	Close() error
}

// portShim is the Port I/O shim: it owns the receiveBuffer, clears it
// before every send, and tracks the `alive` flag the watchdog
// consumes.
type portShim struct {
	port  Port
	rx    receiveBuffer
	alive atomic.Bool
}

func newPortShim(port Port) *portShim {
	s := &portShim{port: port}
	port.OnReceive(s.rx.push)
	return s
}

// send clears stale bytes, marks the session alive, and transmits.
func (s *portShim) send(b []byte) error {
	s.rx.reset()
	s.alive.Store(true)
	return s.port.Send(b)
}

// retrieve returns a channel that receives exactly n bytes, once
// available, synchronously or otherwise.
func (s *portShim) retrieve(n int) <-chan []byte {
	ch := make(chan []byte, 1)
	s.rx.retrieve(n, func(b []byte) { ch <- b })
	return ch
}
