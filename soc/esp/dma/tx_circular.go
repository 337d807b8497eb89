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

// TXCircular tracks hardware progress through a circular TX descriptor
// chain, reconciling the DMA engine's advancing descriptor cursor with a
// software write cursor into the underlying ring buffer.
type TXCircular struct {
	sync.Mutex

	tx TXRegisters

	firstDescPtr uint32
	bufferStart  uint32
	bufferLen    int

	writeOffset   int
	writeDescrPtr uint32
	available     int
	lastSeen      uint32
}

// NewTXCircular creates circular TX tracking state for a chain already built
// with BuildTX(circular=true), bound to buffer[bufferStart:bufferStart+bufferLen].
func NewTXCircular(chain *Chain, tx TXRegisters, bufferStart uint32, bufferLen int) *TXCircular {
	first := chain.First()

	return &TXCircular{
		tx:            tx,
		firstDescPtr:  first,
		bufferStart:   bufferStart,
		bufferLen:     bufferLen,
		writeDescrPtr: first,
		lastSeen:      first,
	}
}

// Available returns the number of bytes that may currently be pushed without
// overwriting data hardware has not yet consumed.
func (s *TXCircular) Available() int {
	s.Lock()
	defer s.Unlock()

	s.update()

	return s.available
}

// update is the reconciliation step described in spec §4.3, run before every
// query or push. It is a no-op unless the TX EOF interrupt latch is set.
func (s *TXCircular) update() {
	if !s.tx.IsEOF() {
		return
	}

	s.tx.ClearEOF()

	h := s.tx.LastOutboundDescriptor()

	ptr := s.lastSeen

	walk := func(from, to uint32) {
		for from != to {
			d := descriptorAt(from)
			s.available += d.Flags().Length()
			from = d.Next
		}
	}

	if h == ptr {
		// nothing new since last reconciliation
	} else if isForward(ptr, h, s.firstDescPtr) {
		walk(ptr, h)
	} else {
		// hardware wrapped: walk to the terminal descriptor of the ring
		// (next == null or next == head), include it, then continue from
		// head up to h.
		from := ptr

		for {
			d := descriptorAt(from)
			s.available += d.Flags().Length()

			if d.Next == 0 || d.Next == s.firstDescPtr {
				break
			}

			from = d.Next
		}

		walk(s.firstDescPtr, h)
	}

	if s.available >= s.bufferLen {
		// overrun recovery: the caller lagged a full round trip behind
		// hardware. Silently reclaim one descriptor's worth of data loss
		// to keep the cursors consistent (documented data-loss path,
		// spec.md §4.3 step 4 / §7).
		d := descriptorAt(s.writeDescrPtr)
		reclaimed := d.Flags().Length()

		s.available -= reclaimed
		s.writeOffset = (s.writeOffset + reclaimed) % s.bufferLen

		if d.Next != 0 {
			s.writeDescrPtr = d.Next
		} else {
			s.writeDescrPtr = s.firstDescPtr
		}
	}

	s.lastSeen = h
}

// isForward reports whether walking the ring from cur toward target (without
// passing through head again) reaches target without wraparound, i.e.
// whether hardware has simply advanced rather than lapped the ring.
func isForward(cur, target, head uint32) bool {
	if cur == head {
		return true
	}

	for from := cur; ; {
		d := descriptorAt(from)

		if d.Next == target {
			return true
		}

		if d.Next == 0 || d.Next == head {
			return false
		}

		from = d.Next
	}
}

// Push copies buf into the ring, failing with ErrOverflow if there is
// insufficient available space. On success the number of bytes accepted
// always equals len(buf).
func (s *TXCircular) Push(buf []byte) (int, error) {
	off := 0

	return s.PushWith(func(dst []byte) int {
		n := copy(dst, buf[off:])
		off += n
		return n
	}, len(buf))
}

// PushWith repeatedly hands f a contiguous writable slice of the ring
// starting at the current write offset, until want bytes have been placed or
// f stops accepting data. f returns the number of bytes it actually wrote;
// returning less than the slice length ends the loop early. Fails with
// ErrOverflow before copying anything if want exceeds Available().
func (s *TXCircular) PushWith(f func(dst []byte) int, want int) (int, error) {
	s.Lock()
	defer s.Unlock()

	s.update()

	if want > s.available {
		return 0, ErrOverflow
	}

	total := 0

	for total < want {
		span := s.available
		if room := s.bufferLen - s.writeOffset; room < span {
			span = room
		}
		if remaining := want - total; remaining < span {
			span = remaining
		}

		if span == 0 {
			break
		}

		dst := ringSlice(s.bufferStart, s.bufferLen, s.writeOffset, span)
		n := f(dst)

		if n <= 0 {
			break
		}

		// advance descriptor-by-descriptor: each descriptor's length is the
		// granularity at which the write cursor and descriptor pointer move.
		advanced := 0

		for advanced < n {
			d := descriptorAt(s.writeDescrPtr)
			dl := d.Flags().Length()

			if dl == 0 {
				break
			}

			advanced += dl
			s.writeOffset = (s.writeOffset + dl) % s.bufferLen
			s.available -= dl

			if d.Next != 0 {
				s.writeDescrPtr = d.Next
			} else {
				s.writeDescrPtr = s.firstDescPtr
			}
		}

		total += n

		if n < span {
			break
		}
	}

	return total, nil
}

func ringSlice(start uint32, bufferLen int, offset int, length int) []byte {
	return bufferSlice(start+uint32(offset), length)
}
