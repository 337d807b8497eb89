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
	alloc "github.com/tamago-dma/tamago/dma"
)

// Chain is a borrowed, caller-owned, contiguous array of Descriptors plus a
// configured chunk size. Callers must provide descriptor storage with
// program lifetime (e.g. a package-level var, or a buffer obtained from
// alloc.Reserve), since the chain only ever exposes descriptor addresses,
// never a Go-managed reference that could be relocated.
type Chain struct {
	descriptors []Descriptor
	chunkSize   int
	circular    bool
	burstMode   bool
	built       int
}

// NewChain wraps a caller-owned descriptor array with the given chunk size.
// chunkSize must be in [1, MaxChunkSize]; zero selects DefaultChunkSize.
func NewChain(descriptors []Descriptor, chunkSize int) (*Chain, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	if chunkSize < 1 || chunkSize > MaxChunkSize {
		return nil, ErrInvalidChunkSize
	}

	return &Chain{
		descriptors: descriptors,
		chunkSize:   chunkSize,
	}, nil
}

// Descriptors returns the chain's backing descriptor array.
func (c *Chain) Descriptors() []Descriptor {
	return c.descriptors
}

// First returns the address of the chain's head descriptor.
func (c *Chain) First() uint32 {
	return Addr(&c.descriptors[0])
}

// last returns the nth descriptor of the array (1-indexed), used to locate
// a chain's terminal descriptor without assuming it is always the array's
// last element.
func (c *Chain) last(n int) *Descriptor {
	return &c.descriptors[n-1]
}

// Last returns the address of the terminal descriptor built by the most
// recent BuildTX/BuildRX call. A circular state machine seeds its
// last-seen-handled cursor from this address, since the terminal
// descriptor's next pointer is the one that loops back to the head.
func (c *Chain) Last() uint32 {
	return Addr(c.last(c.built))
}

// Circular reports whether the chain was most recently built in circular
// mode.
func (c *Chain) Circular() bool {
	return c.circular
}

// SetBurstMode enables or disables burst-mode alignment checking for
// subsequent BuildTX/BuildRX calls. When enabled, the controller generation
// requires every descriptor's buffer address and length to be 4-byte
// aligned; BuildTX/BuildRX report ErrInvalidAlignment otherwise.
func (c *Chain) SetBurstMode(enabled bool) {
	c.burstMode = enabled
}

// checkAlignment validates burst-mode's 4-byte alignment requirement against
// the fragment plan before any descriptor is written.
func (c *Chain) checkAlignment(data uint32, sizes []int) error {
	processed := 0

	for _, size := range sizes {
		if (data+uint32(processed))%4 != 0 || size%4 != 0 {
			return ErrInvalidAlignment
		}

		processed += size
	}

	return nil
}

func divCeil(n, d int) int {
	return (n + d - 1) / d
}

// fragmentSizes returns the per-descriptor data length for a transfer of len
// bytes, applying the chunking policy of spec §4.1.
func (c *Chain) fragmentSizes(length int, circular bool) []int {
	if !circular || length > 2*c.chunkSize {
		n := divCeil(length, c.chunkSize)
		sizes := make([]int, n)

		rest := length

		for i := 0; i < n; i++ {
			if rest >= c.chunkSize {
				sizes[i] = c.chunkSize
				rest -= c.chunkSize
			} else {
				sizes[i] = rest
			}
		}

		return sizes
	}

	// circular, len <= 2*chunkSize: three near-equal fragments, first one
	// absorbing the remainder of len/3.
	first := length/3 + length%3
	rest := length / 3

	return []int{first, rest, rest}
}

// validateCommon checks the shared preconditions of BuildTX/BuildRX, in the
// order spec'd: memory region reachability, descriptor supply, then the
// circular minimum-length rule.
func (c *Chain) validateCommon(data uint32, length int, circular bool, region *alloc.Region) error {
	want := divCeil(length, c.chunkSize)
	if circular && length <= 2*c.chunkSize {
		want = 3
	}

	last := want
	if last > len(c.descriptors) {
		last = len(c.descriptors)
	}

	if !region.Reachable(uint(c.First()), 0) ||
		(last > 0 && !region.Reachable(uint(Addr(c.last(last))), 0)) ||
		!region.Reachable(uint(data), uint(length)) {
		return ErrUnsupportedMemoryRegion
	}

	if want > len(c.descriptors) {
		return ErrOutOfDescriptors
	}

	if circular && length <= 3 {
		return ErrBufferTooSmall
	}

	return nil
}

// link connects descriptors 0..n-1 in sequence, terminating with a null
// pointer (non-circular) or a pointer back to the head (circular).
func (c *Chain) link(n int, circular bool) {
	for i := 0; i < n; i++ {
		d := &c.descriptors[i]

		if i == n-1 {
			if circular {
				d.Next = c.First()
			} else {
				d.Next = 0
			}
		} else {
			d.Next = Addr(&c.descriptors[i+1])
		}
	}
}

// BuildTX prepares descriptors for an outbound transfer of length bytes
// starting at data, optionally circular. A failing precondition leaves every
// descriptor unmodified.
func (c *Chain) BuildTX(data uint32, length int, circular bool, region *alloc.Region) error {
	if err := c.validateCommon(data, length, circular, region); err != nil {
		return err
	}

	sizes := c.fragmentSizes(length, circular)
	n := len(sizes)

	if c.burstMode {
		if err := c.checkAlignment(data, sizes); err != nil {
			return err
		}
	}

	processed := 0

	for i, size := range sizes {
		d := &c.descriptors[i]

		sucEOF := circular || i == n-1

		d.Buffer = data + uint32(processed)
		d.SetFlags(newFlags(size, size, sucEOF, true))

		processed += size
	}

	c.link(n, circular)
	c.circular = circular
	c.built = n

	return nil
}

// BuildRX prepares descriptors for an inbound transfer capable of receiving
// up to length bytes starting at data, optionally circular. A failing
// precondition leaves every descriptor unmodified.
func (c *Chain) BuildRX(data uint32, length int, circular bool, region *alloc.Region) error {
	if err := c.validateCommon(data, length, circular, region); err != nil {
		return err
	}

	sizes := c.fragmentSizes(length, circular)
	n := len(sizes)

	if c.burstMode {
		if err := c.checkAlignment(data, sizes); err != nil {
			return err
		}
	}

	processed := 0

	for i, size := range sizes {
		d := &c.descriptors[i]

		d.Buffer = data + uint32(processed)
		d.SetFlags(newFlags(size, 0, false, true))

		processed += size
	}

	c.link(n, circular)
	c.circular = circular
	c.built = n

	return nil
}
