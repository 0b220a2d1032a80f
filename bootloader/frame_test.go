package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every command, address, and data frame satisfies its checksum law.
func TestChecksumLaws(t *testing.T) {
	for _, cmd := range []byte{opGet, opGetID, opErase, opExtendedErase, opWriteMemory, opReadMemory, opGo} {
		f := commandFrame(cmd)
		assert.Equal(t, []byte{cmd, cmd ^ 0xFF}, f)
	}

	for _, addr := range []uint32{0x0800_0000, 0x0801_FFFF, 0xFFFF_FFFF, 0} {
		f := addressFrame(addr)
		assert.Len(t, f, 5)
		assert.Equal(t, xorFold(f[:4]), f[4])
	}

	for _, n := range []int{1, 16, 255, 256} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + 3)
		}
		f := dataFrame(payload)
		assert.Len(t, f, n+2)
		assert.Equal(t, byte(n-1), f[0])
		want := xorFold(f[:len(f)-1])
		assert.Equal(t, want, f[len(f)-1])
	}
}

func TestReadCountFrame(t *testing.T) {
	f := readCountFrame(1)
	assert.Equal(t, []byte{0x00, 0xFF}, f)
	f = readCountFrame(256)
	assert.Equal(t, []byte{0xFF, 0x00}, f)
}

func TestExtendedEraseListFrame(t *testing.T) {
	f := extendedEraseListFrame(nil, true)
	assert.Equal(t, []byte{0xFF, 0xFF, 0x00}, f)

	f = extendedEraseListFrame([]uint16{0, 1, 2}, false)
	assert.Equal(t, byte(0x00), f[0])
	assert.Equal(t, byte(0x02), f[1]) // pages-1 = 2
	assert.Equal(t, xorFold(f[:len(f)-1]), f[len(f)-1])
}

func TestClassicEraseListFrame(t *testing.T) {
	f := classicEraseListFrame(nil, true)
	assert.Equal(t, []byte{0xFF, 0x00}, f)

	f = classicEraseListFrame([]byte{0, 1, 2, 3}, false)
	assert.Equal(t, byte(3), f[0]) // pages-1 = 3
	assert.Equal(t, xorFold(f[:len(f)-1]), f[len(f)-1])
}
