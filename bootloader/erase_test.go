package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// erasePageCount rounds up to the nearest whole page.
func TestErasePageCount(t *testing.T) {
	cases := []struct {
		maxOffset uint32
		pageSize  int
		want      int
	}{
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2048, 1024, 2},
		{1, 1024, 1},
		{0, 1024, 0},
	}
	for _, c := range cases {
		got := erasePageCount(c.maxOffset, c.pageSize)
		assert.Equalf(t, c.want, got, "maxOffset=%d pageSize=%d", c.maxOffset, c.pageSize)
	}
}

func TestChunksOf(t *testing.T) {
	seg := Segment{Address: FlashBase, Data: make([]byte, 600)}
	chunks := chunksOf(seg)
	// ceil(600/256) == 3 chunks, lengths 256, 256, 88.
	if assert.Len(t, chunks, 3) {
		assert.Equal(t, 256, len(chunks[0].data))
		assert.Equal(t, 256, len(chunks[1].data))
		assert.Equal(t, 88, len(chunks[2].data))
		assert.Equal(t, FlashBase, chunks[0].address)
		assert.Equal(t, FlashBase+256, chunks[1].address)
		assert.Equal(t, FlashBase+512, chunks[2].address)
	}
}
