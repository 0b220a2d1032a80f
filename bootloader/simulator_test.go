package bootloader

import "sync"

// deviceSim is a faithful in-memory stand-in for an STM32 system
// bootloader, used to drive the Session through named scenarios
// (partial erase, global erase, oversize image, verify mismatch,
// silent device). It is a state machine expressed the same way a real
// device's firmware is: each inbound frame advances a continuation
// that decides the next reply.
type deviceSim struct {
	mu      sync.Mutex
	handler func([]byte)
	opened  bool
	closed  int

	// behavior knobs
	silent          bool // never reply to anything
	productID       uint16
	advertiseExtErase bool
	corruptFirstReadByte bool

	mem         map[uint32]byte
	pendingAddr uint32
	next        func([]byte)

	sawGlobalErase  bool
	sawPartialErase bool
	eraseDialectExtended bool
}

func newDeviceSim(productID uint16, advertiseExtErase bool) *deviceSim {
	d := &deviceSim{
		productID:         productID,
		advertiseExtErase: advertiseExtErase,
		mem:               make(map[uint32]byte),
	}
	d.next = d.awaitCommand
	return d
}

func (d *deviceSim) Open(portID string, baud int) error {
	d.opened = true
	return nil
}

func (d *deviceSim) OnReceive(h func([]byte)) {
	d.handler = h
}

func (d *deviceSim) Close() error {
	d.closed++
	return nil
}

func (d *deviceSim) Send(b []byte) error {
	if d.silent {
		return nil
	}
	d.next(append([]byte(nil), b...))
	return nil
}

func (d *deviceSim) reply(b []byte) {
	if d.handler != nil {
		d.handler(b)
	}
}

// awaitCommand handles both the auto-baud probe and every 2-byte
// command frame.
func (d *deviceSim) awaitCommand(b []byte) {
	if len(b) == 1 && b[0] == probeByte {
		d.reply([]byte{ack})
		return
	}
	if len(b) != 2 {
		return
	}
	switch b[0] {
	case opGet:
		d.reply([]byte{ack})
		block := d.getBlock()
		d.reply(append([]byte{byte(len(block) - 1)}, block...))
		d.reply([]byte{ack})
	case opGetID:
		d.reply([]byte{ack})
		d.reply([]byte{0x01})
		d.reply([]byte{byte(d.productID >> 8), byte(d.productID)})
		d.reply([]byte{ack})
	case opErase, opExtendedErase:
		d.eraseDialectExtended = b[0] == opExtendedErase
		d.reply([]byte{ack})
		d.next = d.awaitEraseList
	case opWriteMemory:
		d.reply([]byte{ack})
		d.next = d.awaitWriteAddress
	case opReadMemory:
		d.reply([]byte{ack})
		d.next = d.awaitReadAddress
	case opGo:
		d.reply([]byte{ack})
		d.next = d.awaitGoAddress
	}
}

func (d *deviceSim) getBlock() []byte {
	block := []byte{0x31, 0x00, 0x01, 0x02, 0x11, 0x21, 0x31, opErase}
	if d.advertiseExtErase {
		block[7] = opExtendedErase
	}
	return block
}

func (d *deviceSim) awaitEraseList(b []byte) {
	if d.eraseDialectExtended {
		if len(b) == 3 && b[0] == 0xFF && b[1] == 0xFF {
			d.sawGlobalErase = true
		} else {
			d.sawPartialErase = true
		}
	} else {
		if len(b) == 2 && b[0] == 0xFF {
			d.sawGlobalErase = true
		} else {
			d.sawPartialErase = true
		}
	}
	d.reply([]byte{ack})
	d.next = d.awaitCommand
}

func (d *deviceSim) awaitWriteAddress(b []byte) {
	d.pendingAddr = beAddr(b)
	d.reply([]byte{ack})
	d.next = d.awaitWriteData
}

func (d *deviceSim) awaitWriteData(b []byte) {
	n := int(b[0]) + 1
	payload := b[1 : 1+n]
	for i, v := range payload {
		d.mem[d.pendingAddr+uint32(i)] = v
	}
	d.reply([]byte{ack})
	d.next = d.awaitCommand
}

func (d *deviceSim) awaitReadAddress(b []byte) {
	d.pendingAddr = beAddr(b)
	d.reply([]byte{ack})
	d.next = d.awaitReadCount
}

func (d *deviceSim) awaitReadCount(b []byte) {
	n := int(b[0]) + 1
	d.reply([]byte{ack})
	data := make([]byte, n)
	for i := range data {
		data[i] = d.mem[d.pendingAddr+uint32(i)]
	}
	if d.corruptFirstReadByte {
		data[0] ^= 0xFF
		d.corruptFirstReadByte = false
	}
	d.reply(data)
	d.next = d.awaitCommand
}

func (d *deviceSim) awaitGoAddress(b []byte) {
	d.reply([]byte{ack})
	d.next = d.awaitCommand
}

func beAddr(frame []byte) uint32 {
	return uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])
}
