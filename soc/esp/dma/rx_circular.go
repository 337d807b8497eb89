// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "sync"

// RXCircular tracks hardware progress filling a circular RX descriptor
// chain, reconciling the DMA engine's advancing write cursor with a software
// read cursor into the underlying ring buffer. Unlike TXCircular, data only
// becomes visible to Pop in whole-descriptor units: a descriptor is not
// reclaimed for reuse until all of its bytes have been popped out.
//
// RX progress is read entirely from each descriptor's owner bit; no
// hardware register is consulted. Hardware releases a descriptor back to
// the CPU (owner = false) as soon as it finishes filling it, so walking the
// chain's ownership bits directly is both sufficient and simpler than
// TX's hardware-cursor reconciliation.
type RXCircular struct {
	sync.Mutex

	firstDescPtr uint32
	bufferStart  uint32
	bufferLen    int

	readOffset   int
	readDescrPtr uint32
	filled       int
	lastSeen     uint32
}

// NewRXCircular creates circular RX tracking state for a chain already built
// with BuildRX(circular=true), bound to buffer[bufferStart:bufferStart+bufferLen].
func NewRXCircular(chain *Chain, bufferStart uint32, bufferLen int) *RXCircular {
	return &RXCircular{
		firstDescPtr: chain.First(),
		bufferStart:  bufferStart,
		bufferLen:    bufferLen,
		readDescrPtr: chain.First(),
		// seed from the terminal descriptor so that its next pointer
		// (which loops back to the head) is the first one examined.
		lastSeen: chain.Last(),
	}
}

// Available returns the number of bytes currently poppable without blocking.
func (s *RXCircular) Available() int {
	s.Lock()
	defer s.Unlock()

	s.update()

	return s.filled
}

// update is the RX reconciliation step of spec §4.4: starting from
// last_seen's next descriptor, while that descriptor is CPU-owned (meaning
// hardware has finished filling it), its length is added to filled and
// last_seen advances to it. The walk stops at the first still DMA-owned
// descriptor. No hardware register is read or cleared here.
func (s *RXCircular) update() {
	for {
		next := descriptorAt(s.lastSeen).Next

		if next == 0 {
			next = s.firstDescPtr
		}

		d := descriptorAt(next)

		if d.Flags().Owner() {
			break
		}

		s.filled += d.Flags().Length()
		s.lastSeen = next
	}

	if s.filled > s.bufferLen {
		s.filled = s.bufferLen
	}
}

// Pop copies up to len(out) bytes from the ring into out, returning the
// number of bytes copied. Pop only releases whole descriptors: if the oldest
// unread descriptor's length exceeds the remaining space in out, Pop returns
// ErrBufferTooSmall and copies nothing, since partial descriptor reclamation
// would desynchronize the read cursor from the descriptor boundary hardware
// expects back under its ownership.
func (s *RXCircular) Pop(out []byte) (int, error) {
	s.Lock()
	defer s.Unlock()

	s.update()

	total := 0

	for s.filled > 0 {
		d := descriptorAt(s.readDescrPtr)
		dl := d.Flags().Length()

		if dl == 0 {
			break
		}

		if total+dl > len(out) {
			if total == 0 {
				return 0, ErrBufferTooSmall
			}
			break
		}

		copy(out[total:total+dl], bufferSlice(s.bufferStart+uint32(s.readOffset), dl))

		d.reset()

		total += dl
		s.filled -= dl
		s.readOffset = (s.readOffset + dl) % s.bufferLen

		if d.Next != 0 {
			s.readDescrPtr = d.Next
		} else {
			s.readDescrPtr = s.firstDescPtr
		}
	}

	return total, nil
}
