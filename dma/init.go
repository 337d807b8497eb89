// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides primitives for direct memory allocation and alignment,
// it is primarily used in bare metal device driver operation to avoid passing
// Go pointers for DMA purposes.
//
// This package is only meant to be used with `GOOS=tamago` as supported by the
// TamaGo framework for bare metal Go, see https://github.com/usbarmory/tamago.
package dma

import (
	"container/list"
)

// Init initializes a memory region for DMA buffer allocation, the application
// must guarantee that the passed memory range is never used by the Go
// runtime (defining runtime.ramStart and runtime.ramSize accordingly).
func (r *Region) Init(start uint, size uint) {
	b := &block{
		addr: start,
		size: size,
	}

	r.Lock()
	defer r.Unlock()

	r.start = start
	r.size = size

	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(b)

	r.usedBlocks = make(map[uint]*block)
}

// Reachable reports whether the address range [addr, addr+size) lies
// entirely within the region, regardless of whether it was allocated through
// this package. It is used to validate that descriptors and buffers handed
// to a DMA engine are placed in DMA-reachable RAM.
func (r *Region) Reachable(addr uint, size uint) bool {
	if size == 0 {
		return addr >= r.start && addr <= r.End()
	}

	return addr >= r.start && addr+size <= r.End()
}

// Init initializes the global memory region for DMA buffer allocation, the
// application must guarantee that the passed memory range is never used by
// the Go runtime (defining runtime.ramStart and runtime.ramSize accordingly).
//
// The global region is used throughout the tamago package for all DMA
// allocations.
//
// Separate DMA regions can be allocated in other areas (e.g. external RAM) by
// the application using Region.Init().
func Init(start uint, size uint) {
	dma = &Region{}
	dma.Init(start, size)
}

// Reachable is the equivalent of Region.Reachable() on the global DMA region.
func Reachable(addr uint, size uint) bool {
	return dma.Reachable(addr, size)
}

// Reserve is the equivalent of Region.Reserve() on the global DMA region.
func Reserve(size int, align int) (addr uint, buf []byte) {
	return dma.Reserve(size, align)
}

// Reserved is the equivalent of Region.Reserved() on the global DMA region.
func Reserved(buf []byte) (res bool, addr uint) {
	return dma.Reserved(buf)
}

// Alloc is the equivalent of Region.Alloc() on the global DMA region.
func Alloc(buf []byte, align int) (addr uint) {
	return dma.Alloc(buf, align)
}

// Read is the equivalent of Region.Read() on the global DMA region.
func Read(addr uint, off int, buf []byte) {
	dma.Read(addr, off, buf)
}

// Write is the equivalent of Region.Write() on the global DMA region.
func Write(addr uint, off int, buf []byte) {
	dma.Write(addr, off, buf)
}

// Free is the equivalent of Region.Free() on the global DMA region.
func Free(addr uint) {
	dma.Free(addr)
}

// Release is the equivalent of Region.Release() on the global DMA region.
func Release(addr uint) {
	dma.Release(addr)
}
