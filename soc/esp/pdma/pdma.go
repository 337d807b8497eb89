// ESP32 Peripheral DMA (PDMA) controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pdma implements a reference dma.Controller for the older PDMA
// generation of DMA engine: each channel is hard-wired to a fixed
// peripheral (no PERI_SEL equivalent), and unlike gdma its RX side exposes
// only a single combined empty/eof/error status bit, used for IsDone/ClearEOF,
// so the RXRegisters descriptor-error accessors always report no error.
package pdma

import (
	"sync"

	"github.com/tamago-dma/tamago/internal/reg"
	"github.com/tamago-dma/tamago/soc/esp/dma"
)

// PDMA per-channel register offsets. PDMA interleaves TX and RX within a
// single register block per channel, rather than GDMA's separate TX/RX
// address ranges.
const (
	OUT_CONF0 = 0x00
	OUT_CONF0_RST = 0

	OUT_LINK  = 0x04
	LINK_ADDR_MASK = 0xfffff
	LINK_START     = 20
	LINK_STOP      = 21

	OUT_EOF_DES_ADDR = 0x08

	IN_CONF0 = 0x10
	IN_CONF0_RST = 0

	IN_LINK = 0x14

	INT_RAW  = 0x20
	INT_ST   = 0x24
	INT_ENA  = 0x28
	INT_CLR  = 0x2c

	INT_OUT_EOF      = 0
	INT_OUT_DSCR_ERR = 1
	// IN_SUC_EOF doubles as PDMA's only RX completion/error indicator:
	// the hardware does not distinguish a clean end-of-frame from a
	// descriptor error on the RX side of this generation.
	INT_IN_SUC_EOF = 8

	// MISC configures burst mode and channel arbitration priority.
	MISC          = 0x30
	MISC_BURST_EN = 0
	MISC_PRIORITY_POS  = 4
	MISC_PRIORITY_MASK = 0x3
)

// Stride is the byte distance between consecutive channel register blocks.
const Stride = 0x38

// Channel implements dma.Controller for one fixed-peripheral PDMA channel.
type Channel struct {
	sync.Mutex

	// Base is the PDMA instance's channel-0 register base address.
	Base uint32
	// Index is the channel number, fixing both the register block offset
	// and, on this generation, the bound peripheral.
	Index int
	// Peri is the peripheral this channel is hard-wired to.
	Peri dma.Peripheral
	// BurstMode enables INCR burst transfers for both directions of this
	// channel, configured once at Init.
	BurstMode bool
	// Priority is this channel's arbitration priority, configured once
	// at Init.
	Priority dma.Priority

	base uint32
}

// Init resets both directions of the channel and configures burst mode and
// arbitration priority.
func (c *Channel) Init() {
	c.Lock()
	defer c.Unlock()

	if c.Base == 0 {
		panic("invalid PDMA channel instance")
	}

	c.base = c.Base + uint32(c.Index)*Stride

	reg.Set(c.base+OUT_CONF0, OUT_CONF0_RST)
	reg.Clear(c.base+OUT_CONF0, OUT_CONF0_RST)
	reg.Set(c.base+IN_CONF0, IN_CONF0_RST)
	reg.Clear(c.base+IN_CONF0, IN_CONF0_RST)

	reg.SetTo(c.base+MISC, MISC_BURST_EN, c.BurstMode)
	reg.SetN(c.base+MISC, MISC_PRIORITY_POS, MISC_PRIORITY_MASK, uint32(c.Priority))
}

// Peripheral implements dma.Controller.
func (c *Channel) Peripheral() dma.Peripheral {
	return c.Peri
}

// TX implements dma.Controller.
func (c *Channel) TX() dma.TXRegisters {
	base := c.base

	return dma.TXRegisters{
		IsEOF: func() bool {
			return reg.IsSet(base+INT_ST, INT_OUT_EOF)
		},
		ClearEOF: func() {
			reg.Set(base+INT_CLR, INT_OUT_EOF)
		},
		IsDescriptorError: func() bool {
			return reg.IsSet(base+INT_ST, INT_OUT_DSCR_ERR)
		},
		ClearDescriptorError: func() {
			reg.Set(base+INT_CLR, INT_OUT_DSCR_ERR)
		},
		LastOutboundDescriptor: func() uint32 {
			return reg.Read(base + OUT_EOF_DES_ADDR)
		},
		SetDescriptorAddr: func(addr uint32) {
			reg.SetN(base+OUT_LINK, 0, LINK_ADDR_MASK, addr)
		},
		Start: func() {
			reg.Set(base+OUT_LINK, LINK_START)
			reg.Set(base+INT_ENA, INT_OUT_EOF)
			reg.Set(base+INT_ENA, INT_OUT_DSCR_ERR)
		},
		Stop: func() {
			reg.Set(base+OUT_LINK, LINK_STOP)
		},
		IsBusy: func() bool {
			return !reg.IsSet(base+OUT_LINK, LINK_STOP)
		},
	}
}

// RX implements dma.Controller. All three RX error accessors
// (IsDescriptorError, IsDescriptorErrorEmpty, IsDescriptorErrorEOF) always
// return false and their Clear counterparts do nothing, while the IN_SUC_EOF
// bit backs IsEOF/IsDone/ClearEOF: this generation cannot report a
// descriptor error on RX separately from completion, let alone distinguish
// the three error kinds GDMA exposes, so dma.Dispatch observes every RX
// wakeup as a plain completion, never as ErrDescriptorError, for channels
// built on this controller.
func (c *Channel) RX() dma.RXRegisters {
	base := c.base

	return dma.RXRegisters{
		IsEOF: func() bool {
			return reg.IsSet(base+INT_ST, INT_IN_SUC_EOF)
		},
		IsDone: func() bool {
			return reg.IsSet(base+INT_ST, INT_IN_SUC_EOF)
		},
		ClearEOF: func() {
			reg.Set(base+INT_CLR, INT_IN_SUC_EOF)
		},
		IsDescriptorError:         func() bool { return false },
		ClearDescriptorError:      func() {},
		IsDescriptorErrorEmpty:    func() bool { return false },
		ClearDescriptorErrorEmpty: func() {},
		IsDescriptorErrorEOF:      func() bool { return false },
		ClearDescriptorErrorEOF:   func() {},
		SetDescriptorAddr: func(addr uint32) {
			reg.SetN(base+IN_LINK, 0, LINK_ADDR_MASK, addr)
		},
		Start: func() {
			reg.Set(base+IN_LINK, LINK_START)
			reg.Set(base+INT_ENA, INT_IN_SUC_EOF)
		},
		Stop: func() {
			reg.Set(base+IN_LINK, LINK_STOP)
		},
		IsBusy: func() bool {
			return !reg.IsSet(base+IN_LINK, LINK_STOP)
		},
	}
}
