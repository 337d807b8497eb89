// ESP32 General Purpose DMA (GDMA) controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gdma implements a reference dma.Controller for the GDMA
// generation of DMA engine: any channel may be bound to any Peripheral via
// the PERI_SEL register, and both TX and RX expose independent descriptor
// error status.
package gdma

import (
	"sync"

	"github.com/tamago-dma/tamago/internal/reg"
	"github.com/tamago-dma/tamago/soc/esp/dma"
)

// GDMA channel register offsets, relative to Base, common across the
// channels of a GDMA instance (channel N's block starts at Base + N*Stride).
const (
	CONF0     = 0x00
	CONF0_RST = 0
	CONF0_EOF_MODE = 12

	INT_RAW          = 0x04
	INT_ST           = 0x08
	INT_ENA          = 0x0c
	INT_CLR          = 0x10
	INT_EOF          = 0
	INT_DONE         = 1
	INT_DSCR_ERR     = 2
	INT_DSCR_EMPTY   = 3
	INT_ERR_EOF      = 4

	PERI_SEL     = 0x14
	PERI_SEL_MASK = 0x3f

	LINK      = 0x18
	LINK_ADDR_MASK = 0xfffff
	LINK_START     = 20
	LINK_STOP      = 21

	STATE = 0x1c

	// MISC configures burst mode and channel arbitration priority,
	// independent of the interleaved interrupt/link registers above.
	MISC          = 0x20
	MISC_BURST_EN = 0
	MISC_PRIORITY_POS  = 4
	MISC_PRIORITY_MASK = 0xf
)

// Stride is the byte distance between consecutive channel register blocks.
const Stride = 0x24

// Channel implements dma.Controller for one GDMA TX/RX pair.
type Channel struct {
	sync.Mutex

	// Base is the GDMA instance's channel-0 TX register base address.
	Base uint32
	// RXBase is the GDMA instance's channel-0 RX register base address.
	// TX and RX register blocks are separate address ranges on GDMA,
	// unlike the interleaved layout of PDMA.
	RXBase uint32
	// Index is the channel number, used to compute this channel's
	// register block offset and PERI_SEL binding.
	Index int
	// Peri is the peripheral this channel is bound to.
	Peri dma.Peripheral
	// BurstMode enables INCR burst transfers for both directions of this
	// channel, configured once at Init.
	BurstMode bool
	// Priority is this channel's arbitration priority, configured once
	// at Init.
	Priority dma.Priority

	txBase uint32
	rxBase uint32
}

// Init binds the channel to its configured peripheral, configures burst
// mode and arbitration priority, and resets both directions.
func (c *Channel) Init() {
	c.Lock()
	defer c.Unlock()

	if c.Base == 0 || c.RXBase == 0 {
		panic("invalid GDMA channel instance")
	}

	c.txBase = c.Base + uint32(c.Index)*Stride
	c.rxBase = c.RXBase + uint32(c.Index)*Stride

	reg.Set(c.txBase+CONF0, CONF0_RST)
	reg.Clear(c.txBase+CONF0, CONF0_RST)
	reg.Set(c.rxBase+CONF0, CONF0_RST)
	reg.Clear(c.rxBase+CONF0, CONF0_RST)

	reg.SetN(c.txBase+PERI_SEL, 0, PERI_SEL_MASK, uint32(c.Peri))
	reg.SetN(c.rxBase+PERI_SEL, 0, PERI_SEL_MASK, uint32(c.Peri))

	reg.SetTo(c.txBase+MISC, MISC_BURST_EN, c.BurstMode)
	reg.SetTo(c.rxBase+MISC, MISC_BURST_EN, c.BurstMode)
	reg.SetN(c.txBase+MISC, MISC_PRIORITY_POS, MISC_PRIORITY_MASK, uint32(c.Priority))
	reg.SetN(c.rxBase+MISC, MISC_PRIORITY_POS, MISC_PRIORITY_MASK, uint32(c.Priority))
}

// Peripheral implements dma.Controller.
func (c *Channel) Peripheral() dma.Peripheral {
	return c.Peri
}

// TX implements dma.Controller.
func (c *Channel) TX() dma.TXRegisters {
	base := c.txBase

	return dma.TXRegisters{
		IsEOF: func() bool {
			return reg.IsSet(base+INT_ST, INT_EOF)
		},
		ClearEOF: func() {
			reg.Set(base+INT_CLR, INT_EOF)
			reg.Set(base+INT_CLR, INT_DONE)
		},
		IsDescriptorError: func() bool {
			return reg.IsSet(base+INT_ST, INT_DSCR_ERR)
		},
		ClearDescriptorError: func() {
			reg.Set(base+INT_CLR, INT_DSCR_ERR)
		},
		LastOutboundDescriptor: func() uint32 {
			return reg.Get(base+STATE, 0, 0xfffff)
		},
		SetDescriptorAddr: func(addr uint32) {
			reg.SetN(base+LINK, 0, LINK_ADDR_MASK, addr)
		},
		Start: func() {
			reg.Set(base+LINK, LINK_START)
			reg.Set(base+INT_ENA, INT_EOF)
			reg.Set(base+INT_ENA, INT_DSCR_ERR)
		},
		Stop: func() {
			reg.Set(base+LINK, LINK_STOP)
		},
		IsBusy: func() bool {
			return !reg.IsSet(base+LINK, LINK_STOP)
		},
	}
}

// RX implements dma.Controller.
func (c *Channel) RX() dma.RXRegisters {
	base := c.rxBase

	return dma.RXRegisters{
		IsEOF: func() bool {
			return reg.IsSet(base+INT_ST, INT_EOF)
		},
		IsDone: func() bool {
			return reg.IsSet(base+INT_ST, INT_DONE)
		},
		ClearEOF: func() {
			reg.Set(base+INT_CLR, INT_EOF)
			reg.Set(base+INT_CLR, INT_DONE)
		},
		IsDescriptorError: func() bool {
			return reg.IsSet(base+INT_ST, INT_DSCR_ERR)
		},
		ClearDescriptorError: func() {
			reg.Set(base+INT_CLR, INT_DSCR_ERR)
		},
		IsDescriptorErrorEmpty: func() bool {
			return reg.IsSet(base+INT_ST, INT_DSCR_EMPTY)
		},
		ClearDescriptorErrorEmpty: func() {
			reg.Set(base+INT_CLR, INT_DSCR_EMPTY)
		},
		IsDescriptorErrorEOF: func() bool {
			return reg.IsSet(base+INT_ST, INT_ERR_EOF)
		},
		ClearDescriptorErrorEOF: func() {
			reg.Set(base+INT_CLR, INT_ERR_EOF)
		},
		SetDescriptorAddr: func(addr uint32) {
			reg.SetN(base+LINK, 0, LINK_ADDR_MASK, addr)
		},
		Start: func() {
			reg.Set(base+LINK, LINK_START)
			reg.Set(base+INT_ENA, INT_EOF)
			reg.Set(base+INT_ENA, INT_DONE)
			reg.Set(base+INT_ENA, INT_DSCR_ERR)
			reg.Set(base+INT_ENA, INT_DSCR_EMPTY)
			reg.Set(base+INT_ENA, INT_ERR_EOF)
		},
		Stop: func() {
			reg.Set(base+LINK, LINK_STOP)
		},
		IsBusy: func() bool {
			return !reg.IsSet(base+LINK, LINK_STOP)
		},
	}
}
