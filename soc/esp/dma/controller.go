// DMA descriptor chain engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

// TXRegisters is the subset of a DMA channel's outbound register block this
// package depends on. Concrete implementations live outside this package
// (see soc/esp/gdma, soc/esp/pdma) and translate these calls into the
// vendor-specific MMIO sequence for their controller generation.
type TXRegisters struct {
	IsEOF                   func() bool
	ClearEOF                func()
	IsDescriptorError       func() bool
	ClearDescriptorError    func()
	LastOutboundDescriptor  func() uint32
	SetDescriptorAddr       func(addr uint32)
	Start                   func()
	Stop                    func()
	IsBusy                  func() bool
}

// RXRegisters is the subset of a DMA channel's inbound register block this
// package depends on. RX exposes three independent descriptor-error kinds
// where TX has one: a plain descriptor error, an error discovered because
// the ring ran out of descriptors to receive into (descriptor-error-empty),
// and one discovered only at end-of-frame (descriptor-error-eof). soc/esp/pdma
// reports all three as never set (its generation only exposes a single
// combined empty/eof/error status for RX, which it uses for IsDone), so RX
// descriptor errors are not distinguished on that controller generation.
type RXRegisters struct {
	IsEOF                     func() bool
	IsDone                    func() bool
	ClearEOF                  func()
	IsDescriptorError         func() bool
	ClearDescriptorError      func()
	IsDescriptorErrorEmpty    func() bool
	ClearDescriptorErrorEmpty func()
	IsDescriptorErrorEOF      func() bool
	ClearDescriptorErrorEOF   func()
	SetDescriptorAddr         func(addr uint32)
	Start                     func()
	Stop                      func()
	IsBusy                    func() bool
}

// Controller is a single DMA channel bound to a peripheral, exposing its TX
// and RX register capability sets. Both TXRegisters and RXRegisters are
// plain struct-of-funcs rather than interfaces because the set of functions
// used varies by caller (future/transfer/circular code each close over a
// different subset) and a struct literal lets soc/esp/gdma and soc/esp/pdma
// share field names while omitting what their generation doesn't support.
type Controller interface {
	// Peripheral returns the fixed hardware peripheral this channel is wired
	// to.
	Peripheral() Peripheral

	// TX returns the channel's outbound register capability set.
	TX() TXRegisters

	// RX returns the channel's inbound register capability set.
	RX() RXRegisters
}

// Priority selects a DMA channel's arbitration priority relative to other
// channels sharing the same controller instance; higher values win
// arbitration ties. The valid range is controller-generation-specific; this
// package only carries the value through to a concrete Controller's
// one-time channel initialization (see soc/esp/gdma, soc/esp/pdma).
type Priority uint8

// Peripheral identifies the hardware consumer or producer a DMA channel is
// bound to. The selector space is shared between general-purpose DMA (GDMA),
// which can bind any channel to any peripheral, and peripheral DMA (PDMA),
// where the binding is fixed by the channel number itself.
type Peripheral uint8

const (
	SPI2 Peripheral = iota
	SPI3
	UHCI0
	I2S0
	I2S1
	LCDCAM
	AES
	SHA
	ADC
	RMT
	MEM2MEM10
	MEM2MEM11
	MEM2MEM12
	MEM2MEM13
	MEM2MEM14
	MEM2MEM15
)

// MEM2MEM1, MEM2MEM4 and MEM2MEM5 are peripheral-memory aliases: on this
// family several DMA-incapable peripherals are instead reached through a
// memory-to-memory channel multiplexed onto the same selector value as their
// GDMA-capable counterpart.
const (
	MEM2MEM1 = SPI3
	MEM2MEM4 = I2S1
	MEM2MEM5 = LCDCAM
)

func (p Peripheral) String() string {
	switch p {
	case SPI2:
		return "SPI2"
	case SPI3:
		return "SPI3"
	case UHCI0:
		return "UHCI0"
	case I2S0:
		return "I2S0"
	case I2S1:
		return "I2S1"
	case LCDCAM:
		return "LCDCAM"
	case AES:
		return "AES"
	case SHA:
		return "SHA"
	case ADC:
		return "ADC"
	case RMT:
		return "RMT"
	case MEM2MEM10:
		return "MEM2MEM10"
	case MEM2MEM11:
		return "MEM2MEM11"
	case MEM2MEM12:
		return "MEM2MEM12"
	case MEM2MEM13:
		return "MEM2MEM13"
	case MEM2MEM14:
		return "MEM2MEM14"
	case MEM2MEM15:
		return "MEM2MEM15"
	default:
		return "unknown"
	}
}
