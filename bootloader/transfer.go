package bootloader

import (
	"bytes"
	"context"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// chunk is one ≤256-byte slice of a segment at its absolute address.
type chunk struct {
	address uint32
	data    []byte
}

// chunksOf splits seg into maxChunkBytes-sized pieces: ceil(L/256)
// chunks, every chunk but possibly the last is exactly 256 bytes.
func chunksOf(seg Segment) []chunk {
	var out []chunk
	for off := 0; off < len(seg.Data); off += maxChunkBytes {
		end := off + maxChunkBytes
		if end > len(seg.Data) {
			end = len(seg.Data)
		}
		out = append(out, chunk{
			address: seg.Address + uint32(off),
			data:    seg.Data[off:end],
		})
	}
	return out
}

// phaseWrite is phase 5: walk every segment in order, write-memory
// each chunk as command + address + data frames, one ACK per frame.
func (s *Session) phaseWrite(ctx context.Context) error {
	written := 0
	total := s.img.BytesTotal()
	for _, seg := range s.img.Segments {
		for _, c := range chunksOf(seg) {
			if err := s.sendFrameAwaitACK(ctx, commandFrame(opWriteMemory)); err != nil {
				return err
			}
			if err := s.sendFrameAwaitACK(ctx, addressFrame(c.address)); err != nil {
				return err
			}
			if err := s.sendFrameAwaitACK(ctx, dataFrame(c.data)); err != nil {
				return err
			}
			written += len(c.data)
			s.log.WithFields(logrus.Fields{
				"address": c.address,
				"written": humanize.Bytes(uint64(written)),
				"total":   humanize.Bytes(uint64(total)),
			}).Debug("wrote chunk")
		}
	}
	return nil
}

// phaseVerify is phase 6: walk every segment in the same shape,
// read-memory each chunk back, and compare.
func (s *Session) phaseVerify(ctx context.Context) error {
	s.verifyBuf = make([][]byte, len(s.img.Segments))
	for segIdx, seg := range s.img.Segments {
		buf := make([]byte, 0, len(seg.Data))
		for _, c := range chunksOf(seg) {
			if err := s.sendFrameAwaitACK(ctx, commandFrame(opReadMemory)); err != nil {
				return err
			}
			if err := s.sendFrameAwaitACK(ctx, addressFrame(c.address)); err != nil {
				return err
			}
			if err := s.send(readCountFrame(len(c.data))); err != nil {
				return err
			}
			if err := s.awaitACK(ctx); err != nil {
				return err
			}
			got, err := s.awaitBytes(ctx, len(c.data))
			if err != nil {
				return err
			}
			buf = append(buf, got...)
		}
		s.verifyBuf[segIdx] = buf
	}
	return s.compareVerify()
}

// compareVerify byte-compares every segment's original payload to the
// corresponding verification buffer, aborting on the first mismatch
// with the offending segment index and byte offset.
func (s *Session) compareVerify() error {
	for segIdx, seg := range s.img.Segments {
		got := s.verifyBuf[segIdx]
		if !bytes.Equal(seg.Data, got) {
			for off := range seg.Data {
				if off >= len(got) || seg.Data[off] != got[off] {
					return verifyMismatch(segIdx, off)
				}
			}
			return verifyMismatch(segIdx, len(seg.Data))
		}
	}
	return nil
}
