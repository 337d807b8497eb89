// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "testing"

// fakeController is a test double implementing Controller entirely in plain
// Go fields, standing in for gdma/pdma's real MMIO-backed implementations.
type fakeController struct {
	peri Peripheral

	txEOF      bool
	txErr      bool
	txLastDesc uint32
	txStarted  bool

	rxEOF      bool
	rxDone     bool
	rxErr      bool
	rxErrEmpty bool
	rxErrEOF   bool
	rxLastDesc uint32
	rxStarted  bool
}

func (f *fakeController) Peripheral() Peripheral {
	return f.peri
}

func (f *fakeController) TX() TXRegisters {
	return TXRegisters{
		IsEOF: func() bool { return f.txEOF },
		ClearEOF: func() {
			f.txEOF = false
		},
		IsDescriptorError: func() bool { return f.txErr },
		ClearDescriptorError: func() {
			f.txErr = false
		},
		LastOutboundDescriptor: func() uint32 { return f.txLastDesc },
		SetDescriptorAddr:      func(addr uint32) { f.txLastDesc = addr },
		Start:                  func() { f.txStarted = true },
		Stop:                   func() { f.txStarted = false },
		IsBusy:                 func() bool { return f.txStarted },
	}
}

func (f *fakeController) RX() RXRegisters {
	return RXRegisters{
		IsEOF:  func() bool { return f.rxEOF },
		IsDone: func() bool { return f.rxDone },
		ClearEOF: func() {
			f.rxEOF = false
			f.rxDone = false
		},
		IsDescriptorError: func() bool { return f.rxErr },
		ClearDescriptorError: func() {
			f.rxErr = false
		},
		IsDescriptorErrorEmpty: func() bool { return f.rxErrEmpty },
		ClearDescriptorErrorEmpty: func() {
			f.rxErrEmpty = false
		},
		IsDescriptorErrorEOF: func() bool { return f.rxErrEOF },
		ClearDescriptorErrorEOF: func() {
			f.rxErrEOF = false
		},
		SetDescriptorAddr: func(addr uint32) { f.rxLastDesc = addr },
		Start:             func() { f.rxStarted = true },
		Stop:              func() { f.rxStarted = false },
		IsBusy:            func() bool { return f.rxStarted },
	}
}

func TestPeripheralString(t *testing.T) {
	// a slice rather than a map: the MEM2MEM aliases share their
	// counterparts' values and would be duplicate map keys.
	cases := []struct {
		p    Peripheral
		want string
	}{
		{SPI2, "SPI2"},
		{SPI3, "SPI3"},
		{MEM2MEM1, "SPI3"},
		{I2S1, "I2S1"},
		{MEM2MEM4, "I2S1"},
		{LCDCAM, "LCDCAM"},
		{MEM2MEM5, "LCDCAM"},
		{RMT, "RMT"},
		{Peripheral(0xff), "unknown"},
	}

	for _, c := range cases {
		p, want := c.p, c.want
		if got := p.String(); got != want {
			t.Errorf("Peripheral(%d).String() = %q, want %q", p, got, want)
		}
	}
}
