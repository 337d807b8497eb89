// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma implements the descriptor-chain engine and circular streaming
// state machines shared by the "general" and "peripheral" DMA controller
// generations found on this family of microcontrollers.
//
// The package only depends on an abstract Controller capability set
// (controller.go): the concrete register-access layer for a given silicon
// variant lives outside this package (see soc/esp/gdma, soc/esp/pdma) and is
// never imported here.
package dma

import (
	"sync/atomic"
	"unsafe"

	"github.com/tamago-dma/tamago/bits"
)

// Descriptor field positions and widths, bit-exact with the hardware layout:
//
//	bits  0-11: size   (fragment buffer capacity, <= MaxChunkSize)
//	bits 12-23: length (bytes actually transferred/to transfer)
//	bits 24-29: reserved, always zero
//	bit     30: suc_eof (end-of-frame interrupt marker)
//	bit     31: owner   (0 = CPU, 1 = DMA)
const (
	flagsSizePos   = 0
	flagsSizeMask  = 0xfff
	flagsLengthPos = 12
	flagsLengthMask = 0xfff
	flagsSucEOFPos = 30
	flagsOwnerPos  = 31
)

// MaxChunkSize is the largest number of data bytes a single descriptor can
// describe: the largest multiple of 4 below the 12-bit size field's maximum
// value (4095), to leave room for alignment rounding.
const MaxChunkSize = 4092

// DefaultChunkSize is used by Chain builders when no explicit chunk size is
// configured.
const DefaultChunkSize = MaxChunkSize

// DescriptorSize is the on-the-wire size, in bytes, of a single Descriptor:
// a 32-bit flags word followed by two 32-bit pointers, naturally aligned.
const DescriptorSize = 12

// Flags is the bit-packed 32-bit control word prefixing every Descriptor.
type Flags uint32

// Size returns the fragment's buffer capacity in bytes.
func (f Flags) Size() int {
	v := uint32(f)
	return int(bits.GetN(&v, flagsSizePos, flagsSizeMask))
}

// Length returns the number of bytes actually transferred (RX) or to
// transfer (TX).
func (f Flags) Length() int {
	v := uint32(f)
	return int(bits.GetN(&v, flagsLengthPos, flagsLengthMask))
}

// SucEOF reports whether the end-of-frame interrupt marker is set.
func (f Flags) SucEOF() bool {
	v := uint32(f)
	return bits.Get(&v, flagsSucEOFPos)
}

// Owner reports whether the descriptor is currently owned by the DMA engine
// (true) or by the CPU (false).
func (f Flags) Owner() bool {
	v := uint32(f)
	return bits.Get(&v, flagsOwnerPos)
}

// newFlags packs a Flags word from its constituent fields.
func newFlags(size int, length int, sucEOF bool, owner bool) Flags {
	var v uint32

	bits.SetN(&v, flagsSizePos, flagsSizeMask, uint32(size))
	bits.SetN(&v, flagsLengthPos, flagsLengthMask, uint32(length))
	bits.SetTo(&v, flagsSucEOFPos, sucEOF)
	bits.SetTo(&v, flagsOwnerPos, owner)

	return Flags(v)
}

// Descriptor is the fixed 12-byte hardware-visible record describing one
// fragment of a DMA transfer (offset 0: flags, offset 4: buffer pointer,
// offset 8: next pointer). Descriptors are mutated in place by both CPU and
// DMA engine; the owner bit in Flags arbitrates who may write the fragment's
// data area at any given time.
type Descriptor struct {
	flags  uint32
	Buffer uint32
	Next   uint32
}

// Flags returns a volatile (atomic) snapshot of the descriptor's control
// word. DMA hardware may update this word concurrently with CPU reads, so a
// plain field read is not sufficient.
func (d *Descriptor) Flags() Flags {
	return Flags(atomic.LoadUint32(&d.flags))
}

// SetFlags volatilely (atomically) replaces the descriptor's control word.
// Callers must not invoke SetFlags while the descriptor is DMA-owned except
// as part of a state-machine transition that simultaneously clears length
// and flips ownership (reset, which hands the descriptor back to the DMA
// engine).
func (d *Descriptor) SetFlags(f Flags) {
	atomic.StoreUint32(&d.flags, uint32(f))
}

// setLength rewrites only the length field, preserving the rest of the flags
// word.
func (d *Descriptor) setLength(n int) {
	d.SetFlags(newFlags(d.Flags().Size(), n, d.Flags().SucEOF(), d.Flags().Owner()))
}

// reset clears a descriptor back to DMA ownership with zero length and no
// EOF marker, as required after an RX descriptor is consumed (§4.4).
func (d *Descriptor) reset() {
	d.SetFlags(newFlags(d.Flags().Size(), 0, false, true))
}

// Addr returns the address of a descriptor within its backing array, as
// DMA-reachable storage. Used to publish the head of a chain to a
// Controller and to compare against hardware-reported descriptor pointers.
func Addr(d *Descriptor) uint32 {
	return uint32(uintptr(unsafe.Pointer(d)))
}

// descriptorAt returns a pointer to the Descriptor located at the given
// address within the backing array base. Used to translate hardware-reported
// descriptor pointers back into Go pointers for chain walking.
func descriptorAt(addr uint32) *Descriptor {
	return (*Descriptor)(unsafe.Pointer(uintptr(addr)))
}

// bufferSlice reinterprets a raw DMA-reachable address range as a Go byte
// slice, for copying to/from ring buffer storage addressed only by its base
// address and length (e.g. buffers obtained via alloc.Reserve).
func bufferSlice(addr uint32, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}
