package bootloader

// Wire-level constants for the AN3155 USART bootloader protocol.
const (
	opGet            byte = 0x00
	opGetID          byte = 0x02
	opReadMemory     byte = 0x11
	opGo             byte = 0x21
	opWriteMemory    byte = 0x31
	opErase          byte = 0x43
	opExtendedErase  byte = 0x44
	probeByte        byte = 0x7F
	ack              byte = 0x79
	nack             byte = 0x1F
	maxChunkBytes         = 256
)

// commandFrame builds the 2-byte [cmd, cmd XOR 0xFF] shape.
func commandFrame(cmd byte) []byte {
	return []byte{cmd, cmd ^ 0xFF}
}

// addressFrame builds the 5-byte big-endian address plus XOR checksum.
func addressFrame(addr uint32) []byte {
	b := []byte{
		byte(addr >> 24),
		byte(addr >> 16),
		byte(addr >> 8),
		byte(addr),
	}
	check := xorFold(b)
	return append(b, check)
}

// dataFrame builds the N+2 byte write-memory payload frame: a
// declared-length byte (N-1), the payload, and an XOR checksum over
// both. 1 <= len(payload) <= 256.
func dataFrame(payload []byte) []byte {
	n := len(payload)
	frame := make([]byte, 0, n+2)
	frame = append(frame, byte(n-1))
	frame = append(frame, payload...)
	frame = append(frame, xorFold(frame))
	return frame
}

// readCountFrame builds the 2-byte [N-1, ~(N-1)] read-count request.
func readCountFrame(n int) []byte {
	c := byte(n - 1)
	return []byte{c, ^c}
}

// xorFold XORs every byte of b together.
func xorFold(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// extendedEraseListFrame builds the two-byte-page-number erase list
// frame. pages may be empty only for the global-erase special case,
// signalled by globalErase.
func extendedEraseListFrame(pages []uint16, globalErase bool) []byte {
	if globalErase {
		return []byte{0xFF, 0xFF, 0x00}
	}
	frame := make([]byte, 0, 2+2*len(pages)+1)
	frame = append(frame, byte((len(pages)-1)>>8), byte(len(pages)-1))
	for _, p := range pages {
		frame = append(frame, byte(p>>8), byte(p))
	}
	frame = append(frame, xorFold(frame))
	return frame
}

// classicEraseListFrame builds the one-byte-page-number erase list
// frame. Global erase is [0xFF, 0x00] (pages-byte + checksum) per the
// AN3155 application note, not the complement-checksum reading some
// datasheets suggest.
func classicEraseListFrame(pages []byte, globalErase bool) []byte {
	if globalErase {
		return []byte{0xFF, 0x00}
	}
	frame := make([]byte, 0, 1+len(pages)+1)
	frame = append(frame, byte(len(pages)-1))
	frame = append(frame, pages...)
	frame = append(frame, xorFold(frame))
	return frame
}
