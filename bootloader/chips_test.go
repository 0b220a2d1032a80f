package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupChipKnownGeometry(t *testing.T) {
	p, ok := lookupChip(0x410)
	assert.True(t, ok)
	assert.True(t, p.KnownGeometry())
	assert.Equal(t, 131072, p.AvailableFlashSize)
	assert.Equal(t, 1024, p.PageSize)
}

func TestLookupChipRecognizedNoGeometry(t *testing.T) {
	p, ok := lookupChip(0x413)
	assert.True(t, ok)
	assert.False(t, p.KnownGeometry())
}

func TestLookupChipUnknown(t *testing.T) {
	_, ok := lookupChip(0x999)
	assert.False(t, ok)
}

func TestChipRegistrySnapshotSorted(t *testing.T) {
	snap := ChipRegistrySnapshot()
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].ProductID, snap[i].ProductID)
	}
}
