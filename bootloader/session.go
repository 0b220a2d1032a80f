package bootloader

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/tinkerator/stm32flash/internal/logx"
)

// probeInterval and watchdogInterval are package vars, not constants,
// so tests can shrink them instead of sleeping through the real
// 250ms / 2000ms intervals a live session uses.
var (
	probeInterval    = 250 * time.Millisecond
	watchdogInterval = 2000 * time.Millisecond
)

const maxProbeAttempts = 4
const watchdogMissesBeforeTimeout = 2

// Session holds the state of one flashing attempt: options, image,
// chip profile, erase dialect, verification buffer, phase, and the
// port shim that owns the watchdog's `alive` signal.
type Session struct {
	opts             Options
	img              *FirmwareImage
	shim             *portShim
	port             Port
	chip             ChipProfile
	useExtendedErase bool
	verifyBuf        [][]byte
	phase            int
	log              *logrus.Entry
}

// NewSession constructs a session over an already-Open'd Port. log may
// be nil, in which case a silent logger is used.
func NewSession(port Port, img *FirmwareImage, opts Options, log *logrus.Entry) *Session {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Session{
		opts: opts,
		img:  img,
		shim: newPortShim(port),
		port: port,
		log:  log,
	}
}

// Flash is the core's single entry point: it opens portID at
// opts.Baud, runs the upload phases 1-7, tears down in phase 99
// regardless of outcome, and invokes onDone exactly once.
func Flash(port Port, portID string, img *FirmwareImage, opts Options, log *logrus.Entry, onDone func(error)) {
	if err := port.Open(portID, opts.Baud); err != nil {
		onDone(wrap(KindPortOpen, err, "open %s at %d baud", portID, opts.Baud))
		return
	}
	s := NewSession(port, img, opts, log)
	onDone(s.Run())
}

// IdentifyChip opens portID at baud and runs only phases 1-3: useful
// bring-up tooling that never risks an erase.
func IdentifyChip(port Port, portID string, opts Options, log *logrus.Entry) (ChipProfile, error) {
	if err := port.Open(portID, opts.Baud); err != nil {
		return ChipProfile{}, wrap(KindPortOpen, err, "open %s at %d baud", portID, opts.Baud)
	}
	s := NewSession(port, &FirmwareImage{}, opts, log)
	return s.Identify()
}

type sessionStep struct {
	phase int
	name  string
	fn    func(context.Context) error
}

// steps lists every phase in order. identifyPhaseCount marks how many
// of them (from the front) constitute "identify": sync, GET, GET ID.
const identifyPhaseCount = 3

func (s *Session) steps() []sessionStep {
	return []sessionStep{
		{1, "sync", s.phaseSync},
		{2, "get", s.phaseGet},
		{3, "get-id", s.phaseGetID},
		{4, "erase", s.phaseErase},
		{5, "write", s.phaseWrite},
		{6, "verify", s.phaseVerify},
		{7, "go", s.phaseGo},
	}
}

// Run drives phases 1 through 7, arms the watchdog for the duration,
// and always executes phase 99 teardown before returning. If
// opts.DryRun is set, only phases 1-3 run (sync, GET, GET ID): the
// session reports the detected chip and stops short of phase 4,
// leaving flash untouched.
func (s *Session) Run() error {
	limit := len(s.steps())
	if s.opts.DryRun {
		limit = identifyPhaseCount
	}
	return s.runWithWatchdog(limit)
}

// Identify runs only phases 1-3 (sync, GET, GET ID) and reports the
// detected chip, for bring-up without risking an erase. It always
// tears down the port.
func (s *Session) Identify() (ChipProfile, error) {
	err := s.runWithWatchdog(identifyPhaseCount)
	return s.chip, err
}

func (s *Session) runWithWatchdog(limit int) error {
	watchdogCtx, cancelTimeout := context.WithCancel(context.Background())
	defer cancelTimeout()
	stop := make(chan struct{})
	go s.watchdog(cancelTimeout, stop)

	err := s.runPhases(watchdogCtx, limit)
	close(stop)
	return s.teardown(err)
}

func (s *Session) runPhases(ctx context.Context, limit int) error {
	for _, step := range s.steps()[:limit] {
		s.phase = step.phase
		s.log.WithField("phase", step.name).Debug("entering phase")
		if err := step.fn(ctx); err != nil {
			s.log.WithField("phase", step.name).WithError(err).Error("phase failed")
			return err
		}
	}
	return nil
}

// watchdog fires every watchdogInterval and requires `alive` to have
// been set since its last tick; two consecutive misses cancel the
// session with a Timeout.
func (s *Session) watchdog(cancelTimeout context.CancelFunc, stop <-chan struct{}) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-ticker.C:
			if s.shim.alive.Swap(false) {
				misses = 0
				continue
			}
			misses++
			if misses >= watchdogMissesBeforeTimeout {
				cancelTimeout()
				return
			}
		case <-stop:
			return
		}
	}
}

// teardown is phase 99: stop the watchdog (already done by the
// caller), close the port if still open, and return the terminal
// error, aggregating a port-close failure onto it rather than
// discarding one or the other.
func (s *Session) teardown(sessionErr error) error {
	s.phase = 99
	closeErr := s.port.Close()
	if closeErr == nil {
		return sessionErr
	}
	if sessionErr == nil {
		return wrap(KindProtocolMismatch, closeErr, "port close")
	}
	merr := multierror.Append(sessionErr, closeErr)
	return merr.ErrorOrNil()
}

// --- low-level exchange helpers, shared by every phase ---

func (s *Session) awaitBytes(ctx context.Context, n int) ([]byte, error) {
	select {
	case b := <-s.shim.retrieve(n):
		logx.DumpFrame(s.log, "recv", b)
		if s.opts.DumpFrames {
			logx.PrintStdout(0, b)
		}
		return b, nil
	case <-ctx.Done():
		return nil, wrap(KindTimeout, ctx.Err(), "watchdog expired awaiting %d byte(s)", n)
	}
}

func (s *Session) awaitACK(ctx context.Context) error {
	b, err := s.awaitBytes(ctx, 1)
	if err != nil {
		return err
	}
	switch b[0] {
	case ack:
		return nil
	case nack:
		return wrap(KindProtocolMismatch, nil, "received NACK")
	default:
		return wrap(KindProtocolMismatch, nil, "expected ACK (0x%02X), got 0x%02X", ack, b[0])
	}
}

func (s *Session) send(b []byte) error {
	logx.DumpFrame(s.log, "send", b)
	if s.opts.DumpFrames {
		logx.PrintStdout(0, b)
	}
	if err := s.shim.send(b); err != nil {
		return wrap(KindProtocolMismatch, err, "send")
	}
	return nil
}

func (s *Session) sendFrameAwaitACK(ctx context.Context, frame []byte) error {
	if err := s.send(frame); err != nil {
		return err
	}
	return s.awaitACK(ctx)
}

// --- phase 1: auto-baud sync ---

func (s *Session) phaseSync(ctx context.Context) error {
	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		if err := s.send([]byte{probeByte}); err != nil {
			return err
		}
		select {
		case b := <-s.shim.retrieve(1):
			switch b[0] {
			case probeByte, ack, nack:
				return nil
			}
		case <-time.After(probeInterval):
		case <-ctx.Done():
			return wrap(KindTimeout, ctx.Err(), "sync: watchdog expired")
		}
	}
	return wrap(KindBootloaderUnresponsive, nil, "no response after %d probes", maxProbeAttempts)
}

// --- phase 2: GET ---

func (s *Session) phaseGet(ctx context.Context) error {
	if err := s.send(commandFrame(opGet)); err != nil {
		return err
	}
	if err := s.awaitACK(ctx); err != nil {
		return err
	}
	lenB, err := s.awaitBytes(ctx, 1)
	if err != nil {
		return err
	}
	n := int(lenB[0])
	block, err := s.awaitBytes(ctx, n+1)
	if err != nil {
		return err
	}
	if err := s.awaitACK(ctx); err != nil {
		return err
	}
	// block[0] is the bootloader version; block[1:] are supported
	// command opcodes. Index 7 of the retrieved block is where the
	// extended-erase opcode 0x44 appears when supported; a block too
	// short to have an index 7 is rejected.
	if len(block) <= 7 {
		return wrap(KindProtocolMismatch, nil, "GET block too short (%d bytes) to contain extended-erase opcode", len(block))
	}
	s.useExtendedErase = block[7] == opExtendedErase
	return nil
}

// --- phase 3: GET ID ---

func (s *Session) phaseGetID(ctx context.Context) error {
	if err := s.send(commandFrame(opGetID)); err != nil {
		return err
	}
	if err := s.awaitACK(ctx); err != nil {
		return err
	}
	lenB, err := s.awaitBytes(ctx, 1)
	if err != nil {
		return err
	}
	if lenB[0] != 1 {
		return wrap(KindProtocolMismatch, nil, "GET ID length byte %d, expected 1", lenB[0])
	}
	idBytes, err := s.awaitBytes(ctx, 2)
	if err != nil {
		return err
	}
	if err := s.awaitACK(ctx); err != nil {
		return err
	}
	productID := uint16(idBytes[0])<<8 | uint16(idBytes[1])
	chip, ok := lookupChip(productID)
	if !ok {
		return wrap(KindUnknownChip, nil, "unrecognized product id 0x%03X", productID)
	}
	if !chip.KnownGeometry() {
		return wrap(KindUnknownChip, nil, "%s (0x%03X) recognized but geometry unknown", chip.Family, productID)
	}
	// Strict less-than: an image exactly the size of flash is
	// rejected, not just an image that overflows it.
	if !(s.img.BytesTotal() < chip.AvailableFlashSize) {
		return wrap(KindImageTooLarge, nil, "image is %d bytes, %s flash is %d bytes", s.img.BytesTotal(), chip.Family, chip.AvailableFlashSize)
	}
	s.chip = chip
	s.log.WithFields(logrus.Fields{
		"family":     chip.Family,
		"product_id": productID,
		"flash":      chip.AvailableFlashSize,
	}).Info("chip identified")
	return nil
}

// --- phase 7: GO ---

func (s *Session) phaseGo(ctx context.Context) error {
	if err := s.sendFrameAwaitACK(ctx, commandFrame(opGo)); err != nil {
		return err
	}
	return s.sendFrameAwaitACK(ctx, addressFrame(s.opts.goAddress()))
}
