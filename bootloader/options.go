package bootloader

// Options carries the recognized configuration keys for a session.
type Options struct {
	// EraseChip, if true, performs a global erase in phase 4. Otherwise
	// a partial erase bounded by the image's top address is performed.
	EraseChip bool

	// Baud is the bit rate for the bootloader session. Tested range is
	// 1200 to 921600, 8 data bits, even parity, 1 stop bit.
	Baud int

	// DryRun, when true, stops the session after phase 3 (chip
	// identification) and never erases or writes.
	DryRun bool

	// GoAddress overrides the address phase 7 jumps to. Zero means
	// FlashBase.
	GoAddress uint32

	// DumpFrames, when true, additionally writes every frame to stdout
	// as a raw hex dump, independent of the logger's level.
	DumpFrames bool
}

// goAddress resolves the effective phase-7 jump address.
func (o Options) goAddress() uint32 {
	if o.GoAddress == 0 {
		return FlashBase
	}
	return o.GoAddress
}

// DefaultOptions is a conservative starting point: partial erase, a
// baud rate that STM32 system bootloaders accept out of reset.
func DefaultOptions() Options {
	return Options{
		EraseChip: false,
		Baud:      115200,
	}
}
