// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"context"
	"log"
	"sync/atomic"
)

// direction distinguishes the two independent completion wakers a Channel
// carries, one per register capability set.
type direction int

const (
	directionTX direction = iota
	directionRX
)

// Channel is the ISR-facing handle for one DMA channel: a Controller plus a
// single-slot waker per direction. Dispatch is called from interrupt
// context; a Future registers its result channel here when it is created
// (and again when Wait is called), so a completion that Dispatch observes
// before Wait runs is buffered in the Future rather than lost.
type Channel struct {
	ctrl Controller

	tx atomic.Pointer[chan error]
	rx atomic.Pointer[chan error]
}

// NewChannel wraps ctrl for future-based completion waiting.
func NewChannel(ctrl Controller) *Channel {
	return &Channel{ctrl: ctrl}
}

func (ch *Channel) slot(dir direction) *atomic.Pointer[chan error] {
	if dir == directionTX {
		return &ch.tx
	}
	return &ch.rx
}

// Future represents a single in-flight completion wait on one direction of a
// Channel. It is created fresh for each transfer; unlike the channel's waker
// slot, a Future is not reused across transfers.
type Future struct {
	ch  *Channel
	dir direction
	c   chan error
}

func newFuture(ch *Channel, dir direction) *Future {
	f := &Future{
		ch:  ch,
		dir: dir,
		c:   make(chan error, 1),
	}

	ch.slot(dir).Store(&f.c)

	return f
}

// Wait blocks until the transfer this Future was created for completes,
// fails, or ctx is done, whichever happens first. The Future is registered
// as the channel's waker for this direction from its creation on, so a
// completion dispatched before Wait is called is returned from the buffered
// channel; Wait registers it again before blocking.
//
// A result is returned once: calling Wait again after it returned blocks
// until a further completion is dispatched. Wait must not be called
// concurrently from two goroutines for the same Future.
func (f *Future) Wait(ctx context.Context) error {
	slot := f.ch.slot(f.dir)
	slot.Store(&f.c)

	select {
	case err := <-f.c:
		return err
	case <-ctx.Done():
		// best-effort unregister: if Dispatch already fired between the
		// status race and here, this CompareAndSwap loses and the result
		// sits buffered in f.c, harmlessly orphaned with the Future.
		slot.CompareAndSwap(&f.c, nil)
		return ctx.Err()
	}
}

// Dispatch is the interrupt-context entry point: it inspects ctrl's TX/RX
// status, clears the latched interrupt condition, and wakes any Future
// currently waiting on the direction(s) that completed. It must be safe to
// call from an ISR with interrupts otherwise disabled, so it never blocks.
func Dispatch(ch *Channel) {
	tx := ch.ctrl.TX()
	rx := ch.ctrl.RX()

	if tx.IsEOF() || tx.IsDescriptorError() {
		if tx.IsDescriptorError() {
			log.Printf("dma: tx descriptor error on peripheral %s", ch.ctrl.Peripheral())
		}

		dispatchDirection(ch, directionTX, tx.IsDescriptorError())
		tx.ClearEOF()
		tx.ClearDescriptorError()
	}

	rxErr := rx.IsDescriptorError() || rx.IsDescriptorErrorEmpty() || rx.IsDescriptorErrorEOF()

	if rx.IsEOF() || rx.IsDone() || rxErr {
		if rxErr {
			log.Printf("dma: rx descriptor error on peripheral %s (empty=%v eof=%v)",
				ch.ctrl.Peripheral(), rx.IsDescriptorErrorEmpty(), rx.IsDescriptorErrorEOF())
		}

		dispatchDirection(ch, directionRX, rxErr)
		rx.ClearEOF()
		rx.ClearDescriptorError()
		rx.ClearDescriptorErrorEmpty()
		rx.ClearDescriptorErrorEOF()
	}
}

func dispatchDirection(ch *Channel, dir direction, failed bool) {
	slot := ch.slot(dir)

	c := slot.Swap(nil)
	if c == nil {
		return
	}

	var err error
	if failed {
		err = ErrDescriptorError
	}

	select {
	case *c <- err:
	default:
		// buffered channel of capacity 1 already holds a result: a Future
		// that never collected its previous completion. Dropping the new
		// result here is preferable to blocking the ISR.
	}
}
