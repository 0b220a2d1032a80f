package ihex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A tiny two-record Intel-HEX file: 4 bytes at 0x0000, then 4 more
// immediately adjacent at 0x0004, which Load should coalesce into one
// segment, plus the EOF record.
const sampleHex = ":04000000DEADBEEFC4\n:040004000011223392\n:00000001FF\n"

func TestLoadCoalescesAdjacentSegments(t *testing.T) {
	img, err := Load(strings.NewReader(sampleHex), nil)
	require.NoError(t, err)
	require.Len(t, img.Segments, 1)
	assert.Equal(t, uint32(0), img.Segments[0].Address)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11, 0x22, 0x33}, img.Segments[0].Data)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(strings.NewReader("not hex at all"), nil)
	assert.Error(t, err)
}
