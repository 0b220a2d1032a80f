// Package serialport provides concrete bootloader.Port implementations.
// The STM32 USART bootloader core only consumes the Port interface;
// opening, configuring, and reading an actual tty is kept here,
// outside the core.
package serialport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/term"
	"github.com/tarm/serial"
)

// Backend selects which underlying serial library opens the device.
type Backend int

const (
	// BackendTerm uses github.com/pkg/term: raw-mode termios,
	// speed-only configuration.
	BackendTerm Backend = iota
	// BackendTarm uses github.com/tarm/serial, which exposes parity and
	// stop-bits directly in its Config — needed on platforms where the
	// termios backend's defaults don't already land on 8 data bits,
	// even parity, 1 stop bit.
	BackendTarm
)

// Port is the default concrete bootloader.Port: a blocking tty wrapped
// in a background read loop that feeds an OnReceive handler, matching
// the asynchronous Port contract the core expects even though the
// underlying library is synchronous.
type Port struct {
	backend Backend

	mu      sync.Mutex
	rwc     io.ReadWriteCloser
	handler func([]byte)
	closing atomic.Bool

	// ResetBeforeSync, when true, toggles DTR low then high before the
	// bootloader session starts — a common way target boards wire
	// BOOT0/NRST for auto-entry into the bootloader. This sits outside
	// the core's phase 1-7 state machine; the reboot-into-bootloader
	// handshake is board wiring, not protocol.
	ResetBeforeSync bool
}

// New constructs an unopened Port using the given backend.
func New(backend Backend) *Port {
	return &Port{backend: backend}
}

// Open acquires portID at baud, 8 data bits, even parity, 1 stop bit.
func (p *Port) Open(portID string, baud int) error {
	var rwc io.ReadWriteCloser
	var err error
	switch p.backend {
	case BackendTerm:
		rwc, err = openTerm(portID, baud)
	case BackendTarm:
		rwc, err = openTarm(portID, baud)
	default:
		return fmt.Errorf("serialport: unknown backend %d", p.backend)
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.rwc = rwc
	p.mu.Unlock()

	if p.ResetBeforeSync {
		p.toggleReset()
	}

	go p.readLoop(rwc)
	return nil
}

func openTerm(portID string, baud int) (io.ReadWriteCloser, error) {
	t, err := term.Open(portID, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portID, err)
	}
	return t, nil
}

func openTarm(portID string, baud int) (io.ReadWriteCloser, error) {
	cfg := &serial.Config{
		Name:        portID,
		Baud:        baud,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop1,
		Size:        8,
		ReadTimeout: 0,
	}
	s, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portID, err)
	}
	return s, nil
}

// toggleReset is a best-effort DTR pulse; backends that can't express
// it (the plain io.ReadWriteCloser surface gives us no DTR control
// without a type assertion) simply skip it.
func (p *Port) toggleReset() {
	type dtrSetter interface {
		SetDTR(bool) error
	}
	if d, ok := p.rwc.(dtrSetter); ok {
		_ = d.SetDTR(false)
		_ = d.SetDTR(true)
	}
}

func (p *Port) readLoop(rwc io.ReadWriteCloser) {
	buf := make([]byte, 256)
	for {
		n, err := rwc.Read(buf)
		if n > 0 {
			p.mu.Lock()
			h := p.handler
			p.mu.Unlock()
			if h != nil {
				h(append([]byte(nil), buf[:n]...))
			}
		}
		if err != nil {
			return
		}
		if p.closing.Load() {
			return
		}
	}
}

// OnReceive registers the single inbound-byte handler.
func (p *Port) OnReceive(handler func([]byte)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Send transmits b verbatim, fire-and-forget.
func (p *Port) Send(b []byte) error {
	p.mu.Lock()
	rwc := p.rwc
	p.mu.Unlock()
	if rwc == nil {
		return fmt.Errorf("serialport: send on unopened port")
	}
	_, err := rwc.Write(b)
	return err
}

// Close releases the device. Idempotent.
func (p *Port) Close() error {
	p.closing.Store(true)
	p.mu.Lock()
	rwc := p.rwc
	p.rwc = nil
	p.mu.Unlock()
	if rwc == nil {
		return nil
	}
	return rwc.Close()
}
