// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "errors"

// Configuration errors, caught before a transfer starts and never fatal to
// the system.
var (
	ErrInvalidAlignment       = errors.New("dma: invalid alignment")
	ErrOutOfDescriptors       = errors.New("dma: out of descriptors")
	ErrUnsupportedMemoryRegion = errors.New("dma: unsupported memory region")
	ErrInvalidChunkSize       = errors.New("dma: invalid chunk size")
)

// ErrDescriptorError is reported uniformly to waiting callers when Dispatch
// observes a descriptor error flagged by hardware; no check is made when a
// transfer is started.
var ErrDescriptorError = errors.New("dma: descriptor error")

// Flow-control errors, caller-programmable outcomes of circular push/pop.
var (
	ErrOverflow      = errors.New("dma: overflow")
	ErrBufferTooSmall = errors.New("dma: buffer too small")
)
