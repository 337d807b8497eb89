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
	"runtime"

	alloc "github.com/tamago-dma/tamago/dma"
)

// Transfer is a handle to a single in-flight, non-circular DMA operation. It
// may cover TX only, RX only, or both directions of the same Channel (a
// full-duplex exchange sharing one start/stop), and its buffer may be
// borrowed (caller-supplied, caller-owned) or owned (allocated by the
// package out of the DMA-reachable region and released automatically).
//
// Go has no destructor equivalent to the original's scope-exit guarantee, so
// an owned Transfer instead carries a runtime.SetFinalizer backstop: if the
// caller forgets to call Wait or Close, the finalizer still reclaims the
// owned buffer when the Transfer is garbage collected. The backstop is best
// effort only — it runs at an unspecified time after the Transfer becomes
// unreachable, never synchronously — so correct code always calls Wait or
// Close explicitly and treats the finalizer purely as a leak guard.
type Transfer struct {
	ch *Channel

	tx *Future
	rx *Future

	owned []ownedBuf

	closed bool
}

// ownedBuf records one allocation a Transfer is responsible for releasing,
// tagged by the direction it feeds so a duplex owned transfer can tell its
// two buffers apart (Take/TakeRX).
type ownedBuf struct {
	dir    direction
	addr   uint32
	region *alloc.Region
	taken  bool
}

func newTransfer(ch *Channel, tx, rx *Future, owned []ownedBuf) *Transfer {
	t := &Transfer{ch: ch, tx: tx, rx: rx, owned: owned}

	if len(owned) > 0 {
		runtime.SetFinalizer(t, (*Transfer).finalize)
	}

	return t
}

// NewTXTransfer starts an outbound transfer over a chain already built with
// BuildTX. The buffer is borrowed: the caller retains ownership and must
// keep it alive and DMA-reachable until Wait or Close returns.
func NewTXTransfer(ch *Channel, chain *Chain) *Transfer {
	ch.ctrl.TX().SetDescriptorAddr(chain.First())
	ch.ctrl.TX().Start()

	return newTransfer(ch, newFuture(ch, directionTX), nil, nil)
}

// NewRXTransfer starts an inbound transfer over a chain already built with
// BuildRX. The buffer is borrowed.
func NewRXTransfer(ch *Channel, chain *Chain) *Transfer {
	ch.ctrl.RX().SetDescriptorAddr(chain.First())
	ch.ctrl.RX().Start()

	return newTransfer(ch, nil, newFuture(ch, directionRX), nil)
}

// NewDuplexTransfer starts a simultaneous TX+RX exchange over two chains
// sharing the same Channel. Both buffers are borrowed.
func NewDuplexTransfer(ch *Channel, txChain, rxChain *Chain) *Transfer {
	ch.ctrl.RX().SetDescriptorAddr(rxChain.First())
	ch.ctrl.RX().Start()
	ch.ctrl.TX().SetDescriptorAddr(txChain.First())
	ch.ctrl.TX().Start()

	return newTransfer(ch, newFuture(ch, directionTX), newFuture(ch, directionRX), nil)
}

// NewOwnedTXTransfer allocates len(data) bytes from the DMA-reachable region,
// copies data into it, builds a TX chain over it from descriptors at the
// given chunk size, and starts the transfer. The allocation is released automatically on Wait or
// Close, or may be reclaimed early via Take.
func NewOwnedTXTransfer(ch *Channel, descriptors []Descriptor, chunkSize int, data []byte, region *alloc.Region) (*Transfer, error) {
	addr, buf := region.Reserve(len(data), 1)
	copy(buf, data)

	chain, err := NewChain(descriptors, chunkSize)
	if err != nil {
		region.Release(addr)
		return nil, err
	}

	if err := chain.BuildTX(uint32(addr), len(data), false, region); err != nil {
		region.Release(addr)
		return nil, err
	}

	ch.ctrl.TX().SetDescriptorAddr(chain.First())
	ch.ctrl.TX().Start()

	owned := []ownedBuf{{dir: directionTX, addr: uint32(addr), region: region}}

	return newTransfer(ch, newFuture(ch, directionTX), nil, owned), nil
}

// NewOwnedRXTransfer allocates length bytes from the DMA-reachable region,
// builds an RX chain over it from descriptors at the given chunk size, and
// starts the transfer. Wait and Close release the buffer unless it was
// reclaimed with Take first; Take after Wait or Close returns ok == false.
func NewOwnedRXTransfer(ch *Channel, descriptors []Descriptor, chunkSize int, length int, region *alloc.Region) (*Transfer, error) {
	addr, _ := region.Reserve(length, 1)

	chain, err := NewChain(descriptors, chunkSize)
	if err != nil {
		region.Release(addr)
		return nil, err
	}

	if err := chain.BuildRX(uint32(addr), length, false, region); err != nil {
		region.Release(addr)
		return nil, err
	}

	ch.ctrl.RX().SetDescriptorAddr(chain.First())
	ch.ctrl.RX().Start()

	owned := []ownedBuf{{dir: directionRX, addr: uint32(addr), region: region}}

	return newTransfer(ch, nil, newFuture(ch, directionRX), owned), nil
}

// NewOwnedDuplexTransfer starts a simultaneous TX+RX exchange, both buffers
// moved: the TX buffer is allocated and filled from data, the RX buffer is
// allocated with room for rxLength bytes. Both allocations are released
// automatically on Wait or Close, or may be reclaimed individually via
// Take/TakeRX. On failure, any allocation already made is released before
// returning so a failed call never leaks.
func NewOwnedDuplexTransfer(ch *Channel, txDescriptors []Descriptor, txChunkSize int, data []byte, rxDescriptors []Descriptor, rxChunkSize int, rxLength int, region *alloc.Region) (*Transfer, error) {
	txAddr, txBuf := region.Reserve(len(data), 1)
	copy(txBuf, data)

	txChain, err := NewChain(txDescriptors, txChunkSize)
	if err != nil {
		region.Release(txAddr)
		return nil, err
	}

	if err := txChain.BuildTX(uint32(txAddr), len(data), false, region); err != nil {
		region.Release(txAddr)
		return nil, err
	}

	rxAddr, _ := region.Reserve(rxLength, 1)

	rxChain, err := NewChain(rxDescriptors, rxChunkSize)
	if err != nil {
		region.Release(txAddr)
		region.Release(rxAddr)
		return nil, err
	}

	if err := rxChain.BuildRX(uint32(rxAddr), rxLength, false, region); err != nil {
		region.Release(txAddr)
		region.Release(rxAddr)
		return nil, err
	}

	ch.ctrl.RX().SetDescriptorAddr(rxChain.First())
	ch.ctrl.RX().Start()
	ch.ctrl.TX().SetDescriptorAddr(txChain.First())
	ch.ctrl.TX().Start()

	owned := []ownedBuf{
		{dir: directionTX, addr: uint32(txAddr), region: region},
		{dir: directionRX, addr: uint32(rxAddr), region: region},
	}

	return newTransfer(ch, newFuture(ch, directionTX), newFuture(ch, directionRX), owned), nil
}

// Wait blocks until every direction of the transfer completes or ctx is
// done, then releases an owned buffer (if any). The first error encountered
// across directions is returned; Wait always waits out every direction
// before returning, so a TX failure does not abandon a concurrent RX wait.
//
// Both directions register their completion waker concurrently, before
// either blocks: a duplex transfer that registers TX then RX sequentially
// could miss an RX completion interrupt that fires while still waiting on
// TX.
func (t *Transfer) Wait(ctx context.Context) error {
	var txCh, rxCh chan error

	if t.tx != nil {
		txCh = make(chan error, 1)
		go func() { txCh <- t.tx.Wait(ctx) }()
	}

	if t.rx != nil {
		rxCh = make(chan error, 1)
		go func() { rxCh <- t.rx.Wait(ctx) }()
	}

	var txErr, rxErr error

	if txCh != nil {
		txErr = <-txCh
	}

	if rxCh != nil {
		rxErr = <-rxCh
	}

	t.release()

	if txErr != nil {
		return txErr
	}

	return rxErr
}

// Close stops the transfer's direction(s) at the controller and releases an
// owned buffer (if any), without waiting for completion. It does not cancel
// wakers already registered by a concurrent Wait call.
func (t *Transfer) Close() error {
	if t.tx != nil {
		t.ch.ctrl.TX().Stop()
	}

	if t.rx != nil {
		t.ch.ctrl.RX().Stop()
	}

	t.release()

	return nil
}

// Take reclaims the TX (or, for a single-direction RX owned Transfer, the
// RX) buffer's address without releasing it, handing responsibility for
// eventually calling the region's Release to the caller. Take is for callers
// that need the data to outlive the Transfer value itself (e.g. handing a
// received buffer to another subsystem). On a duplex owned Transfer, pair it
// with TakeRX to reclaim both buffers individually; the finalizer backstop
// clears only once every owned buffer has been taken or released, mirroring
// the original's mem::forget on the scope-exit guard.
func (t *Transfer) Take() (addr uint32, ok bool) {
	return t.take(directionTX)
}

// TakeRX reclaims the RX buffer's address of a duplex owned Transfer, the
// counterpart to Take for its inbound allocation.
func (t *Transfer) TakeRX() (addr uint32, ok bool) {
	return t.take(directionRX)
}

func (t *Transfer) take(dir direction) (addr uint32, ok bool) {
	if t.closed {
		return 0, false
	}

	for i := range t.owned {
		b := &t.owned[i]

		if b.taken {
			continue
		}

		// A single-direction owned Transfer has exactly one entry, which
		// Take and TakeRX must both be able to reclaim regardless of which
		// one the caller happens to use.
		if b.dir != dir && len(t.owned) > 1 {
			continue
		}

		addr, ok = b.addr, true
		b.taken = true
		break
	}

	if !ok {
		return 0, false
	}

	if t.allTaken() {
		t.closed = true
		runtime.SetFinalizer(t, nil)
	}

	return addr, true
}

func (t *Transfer) allTaken() bool {
	for _, b := range t.owned {
		if !b.taken {
			return false
		}
	}
	return true
}

func (t *Transfer) release() {
	if t.closed || len(t.owned) == 0 {
		return
	}

	t.closed = true

	for _, b := range t.owned {
		if !b.taken {
			b.region.Release(uint(b.addr))
		}
	}

	runtime.SetFinalizer(t, nil)
}

// finalize is the SetFinalizer backstop: it only ever needs to release a
// buffer the caller leaked without calling Wait, Close or Take.
func (t *Transfer) finalize() {
	t.release()
}

// TXCircularTransfer is a scoped handle over a running TXCircular: it
// guarantees the TX side of the channel is stopped at the controller when
// the caller is done with it, the circular counterpart of the scope-exit
// guarantee a plain Transfer gives a non-circular operation. The embedded
// *TXCircular promotes Push/Available/etc. directly onto this handle.
type TXCircularTransfer struct {
	*TXCircular

	tx TXRegisters

	closed bool
}

// NewTXCircularTransfer starts a circular outbound transfer over a chain
// already built with BuildTX(circular=true) and returns a scoped handle
// that stops TX at the controller on Close.
func NewTXCircularTransfer(tx TXRegisters, chain *Chain, bufferStart uint32, bufferLen int) *TXCircularTransfer {
	tx.SetDescriptorAddr(chain.First())
	tx.Start()

	t := &TXCircularTransfer{
		TXCircular: NewTXCircular(chain, tx, bufferStart, bufferLen),
		tx:         tx,
	}

	runtime.SetFinalizer(t, (*TXCircularTransfer).finalize)

	return t
}

// Close stops DMA at the peripheral. It is idempotent and safe to call
// after the transfer has already stopped on its own.
func (t *TXCircularTransfer) Close() error {
	if t.closed {
		return nil
	}

	t.closed = true
	t.tx.Stop()
	runtime.SetFinalizer(t, nil)

	return nil
}

func (t *TXCircularTransfer) finalize() {
	t.Close()
}

// RXCircularTransfer is a scoped handle over a running RXCircular: the
// circular counterpart of TXCircularTransfer, guaranteeing RX is stopped at
// the controller when the caller is done with it.
type RXCircularTransfer struct {
	*RXCircular

	rx RXRegisters

	closed bool
}

// NewRXCircularTransfer starts a circular inbound transfer over a chain
// already built with BuildRX(circular=true) and returns a scoped handle
// that stops RX at the controller on Close.
func NewRXCircularTransfer(rx RXRegisters, chain *Chain, bufferStart uint32, bufferLen int) *RXCircularTransfer {
	rx.SetDescriptorAddr(chain.First())
	rx.Start()

	t := &RXCircularTransfer{
		RXCircular: NewRXCircular(chain, bufferStart, bufferLen),
		rx:         rx,
	}

	runtime.SetFinalizer(t, (*RXCircularTransfer).finalize)

	return t
}

// Close stops DMA at the peripheral. It is idempotent and safe to call
// after the transfer has already stopped on its own.
func (t *RXCircularTransfer) Close() error {
	if t.closed {
		return nil
	}

	t.closed = true
	t.rx.Stop()
	runtime.SetFinalizer(t, nil)

	return nil
}

func (t *RXCircularTransfer) finalize() {
	t.Close()
}
