// Package ihex loads an Intel-HEX firmware file into a
// bootloader.FirmwareImage. Parsing the firmware file format is kept
// outside the bootloader core; this package is the loader a shippable
// CLI needs to produce the pre-parsed image the core actually
// consumes.
package ihex

import (
	"io"
	"sort"

	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
	"zappem.net/pub/debug/xcrc32"

	"github.com/tinkerator/stm32flash/bootloader"
)

// Load parses r as Intel-HEX and returns a FirmwareImage whose
// segments are merged into ascending address order, the ordering the
// core assumes when it computes erase bounds and write offsets. log
// may be nil; when given, each merged segment's CRC32 is logged at
// Debug level, a sanity check independent of the device-side XOR
// checksums the wire protocol itself uses.
func Load(r io.Reader, log *logrus.Entry) (*bootloader.FirmwareImage, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}
	raw := mem.GetDataSegments()
	segs := make([]bootloader.Segment, 0, len(raw))
	for _, s := range raw {
		segs = append(segs, bootloader.Segment{
			Address: s.Address,
			Data:    append([]byte(nil), s.Data...),
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
	merged := coalesce(segs)
	if log != nil {
		for _, s := range merged {
			_, crc := xcrc32.NewCRC32(s.Data)
			log.WithFields(logrus.Fields{
				"address": s.Address,
				"bytes":   len(s.Data),
				"crc32":   crc,
			}).Debug("loaded segment")
		}
	}
	return &bootloader.FirmwareImage{Segments: merged}, nil
}

// coalesce merges adjacent segments (next.Address == prev end) into
// one, the way a flat .hex image of a single application normally
// parses, while leaving genuinely disjoint regions (e.g. an image that
// also touches option bytes far from the main flash window) as
// separate segments.
func coalesce(segs []bootloader.Segment) []bootloader.Segment {
	if len(segs) == 0 {
		return segs
	}
	out := []bootloader.Segment{segs[0]}
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if last.Address+uint32(len(last.Data)) == s.Address {
			last.Data = append(last.Data, s.Data...)
			continue
		}
		out = append(out, s)
	}
	return out
}
