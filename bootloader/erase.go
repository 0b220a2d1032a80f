package bootloader

import "context"

// phaseErase is phase 4: select the erase dialect from
// useExtendedErase (latched in phase 2, never toggled again), then
// perform either a global or a partial erase bounded by the image's
// top address.
func (s *Session) phaseErase(ctx context.Context) error {
	if s.opts.EraseChip {
		return s.eraseGlobal(ctx)
	}
	return s.erasePartial(ctx)
}

func (s *Session) eraseCommand() byte {
	if s.useExtendedErase {
		return opExtendedErase
	}
	return opErase
}

func (s *Session) eraseGlobal(ctx context.Context) error {
	if err := s.sendFrameAwaitACK(ctx, commandFrame(s.eraseCommand())); err != nil {
		return err
	}
	var listFrame []byte
	if s.useExtendedErase {
		listFrame = extendedEraseListFrame(nil, true)
	} else {
		listFrame = classicEraseListFrame(nil, true)
	}
	s.log.Debug("erase: global")
	return s.sendFrameAwaitACK(ctx, listFrame)
}

func (s *Session) erasePartial(ctx context.Context) error {
	pages := erasePageCount(s.img.MaxOffset(), s.chip.PageSize)
	if err := s.sendFrameAwaitACK(ctx, commandFrame(s.eraseCommand())); err != nil {
		return err
	}
	var listFrame []byte
	if s.useExtendedErase {
		idx := make([]uint16, pages)
		for i := range idx {
			idx[i] = uint16(i)
		}
		listFrame = extendedEraseListFrame(idx, false)
	} else {
		idx := make([]byte, pages)
		for i := range idx {
			idx[i] = byte(i)
		}
		listFrame = classicEraseListFrame(idx, false)
	}
	s.log.WithField("pages", pages).Debug("erase: partial")
	return s.sendFrameAwaitACK(ctx, listFrame)
}

// erasePageCount computes ceil(maxOffset/pageSize): the number of
// pages from page 0 needed to cover every byte the image touches.
func erasePageCount(maxOffset uint32, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	p := pageSize
	return (int(maxOffset) + p - 1) / p
}
