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
	"testing"

	alloc "github.com/tamago-dma/tamago/dma"
)

// wideOpenRegion returns a Region that treats every address as reachable,
// isolating chain validation/fragmentation logic from real memory layout.
func wideOpenRegion() *alloc.Region {
	r := &alloc.Region{}
	r.Init(0, ^uint(0))
	return r
}

func TestDivCeil(t *testing.T) {
	cases := map[[2]int]int{
		{0, 4}:  0,
		{1, 4}:  1,
		{4, 4}:  1,
		{5, 4}:  2,
		{8, 4}:  2,
		{9, 4}:  3,
	}

	for in, want := range cases {
		if got := divCeil(in[0], in[1]); got != want {
			t.Errorf("divCeil(%d, %d) = %d, want %d", in[0], in[1], got, want)
		}
	}
}

func TestFragmentSizesLinear(t *testing.T) {
	c := &Chain{chunkSize: 100}

	sizes := c.fragmentSizes(250, false)

	want := []int{100, 100, 50}

	if len(sizes) != len(want) {
		t.Fatalf("got %d fragments, want %d", len(sizes), len(want))
	}

	for i, w := range want {
		if sizes[i] != w {
			t.Errorf("sizes[%d] = %d, want %d", i, sizes[i], w)
		}
	}
}

func TestFragmentSizesCircularSmall(t *testing.T) {
	c := &Chain{chunkSize: 100}

	// circular, len <= 2*chunkSize: always exactly three fragments
	sizes := c.fragmentSizes(10, true)

	if len(sizes) != 3 {
		t.Fatalf("got %d fragments, want 3", len(sizes))
	}

	total := 0
	for _, s := range sizes {
		total += s
	}

	if total != 10 {
		t.Errorf("fragments sum to %d, want 10", total)
	}
}

func TestFragmentSizesCircularLarge(t *testing.T) {
	c := &Chain{chunkSize: 100}

	// circular, len > 2*chunkSize: falls back to linear chunking
	sizes := c.fragmentSizes(350, true)

	want := []int{100, 100, 100, 50}

	if len(sizes) != len(want) {
		t.Fatalf("got %d fragments, want %d", len(sizes), len(want))
	}

	for i, w := range want {
		if sizes[i] != w {
			t.Errorf("sizes[%d] = %d, want %d", i, sizes[i], w)
		}
	}
}

func TestValidateCommonOutOfDescriptors(t *testing.T) {
	descriptors := make([]Descriptor, 2)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	// 350 bytes at chunk size 100 needs 4 descriptors, only 2 available
	if err := c.validateCommon(0x1000, 350, false, region); err != ErrOutOfDescriptors {
		t.Errorf("got %v, want ErrOutOfDescriptors", err)
	}
}

func TestValidateCommonBufferTooSmall(t *testing.T) {
	descriptors := make([]Descriptor, 8)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.validateCommon(0x1000, 3, true, region); err != ErrBufferTooSmall {
		t.Errorf("got %v, want ErrBufferTooSmall", err)
	}
}

func TestValidateCommonUnreachable(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := &alloc.Region{}
	region.Init(0x2000, 0x1000)

	// neither the descriptor storage nor 0x500 fall inside [0x2000, 0x3000)
	if err := c.validateCommon(0x500, 10, false, region); err != ErrUnsupportedMemoryRegion {
		t.Errorf("got %v, want ErrUnsupportedMemoryRegion", err)
	}
}

func TestNewChainInvalidChunkSize(t *testing.T) {
	if _, err := NewChain(nil, -1); err != ErrInvalidChunkSize {
		t.Errorf("got %v, want ErrInvalidChunkSize", err)
	}

	if _, err := NewChain(nil, MaxChunkSize+1); err != ErrInvalidChunkSize {
		t.Errorf("got %v, want ErrInvalidChunkSize", err)
	}
}

func TestNewChainDefaultChunkSize(t *testing.T) {
	c, err := NewChain(nil, 0)

	if err != nil {
		t.Fatal(err)
	}

	if c.chunkSize != DefaultChunkSize {
		t.Errorf("chunkSize = %d, want %d", c.chunkSize, DefaultChunkSize)
	}
}

func TestBuildTXFieldsNonCircular(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.BuildTX(0x1000, 250, false, region); err != nil {
		t.Fatal(err)
	}

	want := []int{100, 100, 50}

	for i, w := range want {
		d := &descriptors[i]
		f := d.Flags()

		if f.Size() != w || f.Length() != w {
			t.Errorf("descriptor %d: size/length = %d/%d, want %d", i, f.Size(), f.Length(), w)
		}

		if !f.Owner() {
			t.Errorf("descriptor %d: Owner() = false, want true (DMA)", i)
		}

		wantEOF := i == len(want)-1
		if f.SucEOF() != wantEOF {
			t.Errorf("descriptor %d: SucEOF() = %v, want %v", i, f.SucEOF(), wantEOF)
		}

		wantNext := uint32(0)
		if i < len(want)-1 {
			wantNext = Addr(&descriptors[i+1])
		}

		if d.Next != wantNext {
			t.Errorf("descriptor %d: Next = %#x, want %#x", i, d.Next, wantNext)
		}
	}

	if c.Circular() {
		t.Error("Circular() = true after non-circular BuildTX")
	}
}

func TestBuildTXFieldsCircular(t *testing.T) {
	descriptors := make([]Descriptor, 3)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.BuildTX(0x1000, 10, true, region); err != nil {
		t.Fatal(err)
	}

	// all three descriptors mark SucEOF in circular mode
	for i := range descriptors {
		if !descriptors[i].Flags().SucEOF() {
			t.Errorf("descriptor %d: SucEOF() = false, want true (circular)", i)
		}
	}

	// terminal descriptor wraps back to the head
	last := &descriptors[len(descriptors)-1]

	if last.Next != c.First() {
		t.Errorf("terminal Next = %#x, want head %#x", last.Next, c.First())
	}

	if !c.Circular() {
		t.Error("Circular() = false after circular BuildTX")
	}
}

func TestBuildRXFields(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.BuildRX(0x1000, 250, false, region); err != nil {
		t.Fatal(err)
	}

	want := []int{100, 100, 50}

	for i, w := range want {
		f := descriptors[i].Flags()

		if f.Size() != w {
			t.Errorf("descriptor %d: Size() = %d, want %d", i, f.Size(), w)
		}

		// RX descriptors are pre-filled with zero length; hardware fills it in
		if f.Length() != 0 {
			t.Errorf("descriptor %d: Length() = %d, want 0", i, f.Length())
		}

		if f.SucEOF() {
			t.Errorf("descriptor %d: SucEOF() = true, want false before reception", i)
		}

		if !f.Owner() {
			t.Errorf("descriptor %d: Owner() = false, want true (DMA)", i)
		}
	}
}

func TestBuildTXBurstModeRejectsMisalignedAddress(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	c.SetBurstMode(true)

	region := wideOpenRegion()

	if err := c.BuildTX(0x1001, 100, false, region); err != ErrInvalidAlignment {
		t.Errorf("BuildTX() with misaligned address = %v, want ErrInvalidAlignment", err)
	}
}

func TestBuildTXBurstModeRejectsMisalignedLength(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	c.SetBurstMode(true)

	region := wideOpenRegion()

	if err := c.BuildTX(0x1000, 101, false, region); err != ErrInvalidAlignment {
		t.Errorf("BuildTX() with misaligned length = %v, want ErrInvalidAlignment", err)
	}
}

func TestBuildTXBurstModeAcceptsAlignedTransfer(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	c.SetBurstMode(true)

	region := wideOpenRegion()

	if err := c.BuildTX(0x1000, 100, false, region); err != nil {
		t.Errorf("BuildTX() with aligned address/length = %v, want nil", err)
	}
}

func TestBuildRXWithoutBurstModeIgnoresAlignment(t *testing.T) {
	descriptors := make([]Descriptor, 4)
	c, err := NewChain(descriptors, 100)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.BuildRX(0x1001, 101, false, region); err != nil {
		t.Errorf("BuildRX() without burst mode = %v, want nil even when misaligned", err)
	}
}

func TestChainLastSeedsFromTerminalDescriptor(t *testing.T) {
	descriptors := make([]Descriptor, 8)
	c, err := NewChain(descriptors, 16)

	if err != nil {
		t.Fatal(err)
	}

	region := wideOpenRegion()

	if err := c.BuildRX(0x1000, 48, true, region); err != nil {
		t.Fatal(err)
	}

	// a 48-byte circular RX build over a 16-byte chunk size uses exactly 3
	// descriptors; Last must point at the third, not the array's eighth.
	want := Addr(&descriptors[2])

	if got := c.Last(); got != want {
		t.Errorf("Last() = %#x, want %#x (terminal descriptor, not array end)", got, want)
	}
}
