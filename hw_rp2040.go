//go:build rp2040

package bootsel

import (
	"device/arm"
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

const (
	// The RP2040 DMA block has 12 channels, all capable of reading the
	// flash-mapped range.
	numDMAChannels = 12

	// settleCycles is the calibrated instruction count the chip select line
	// needs to settle through the 1k BOOTSEL pull after the output driver is
	// disabled, comfortably over 10us at 125MHz.
	settleCycles = 2000
)

// Per-channel DMA register block. Each channel occupies 16 words: the four
// control registers followed by the alias register sets, 2.5.7 in the RP2040
// datasheet.
type dmaChannel struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // aliases
}

var dmaChannels = (*[numDMAChannels]dmaChannel)(unsafe.Pointer(rp.DMA))

// HW is the memory mapped register backend for the RP2040.
//
// Construct the poller with the zero value:
//
//	btn := bootsel.New(bootsel.HW{}, mc, bootsel.Config{})
type HW struct{}

func (HW) CoreID() uint32 {
	return rp.SIO.CPUID.Get()
}

// Exclusive masks interrupts on the executing core around fn. The returned
// state token restores the previous mask level, so sections nest.
func (HW) Exclusive(fn func()) {
	is := interrupt.Disable()
	fn()
	interrupt.Restore(is)
}

func (HW) NumDMAChannels() int {
	return numDMAChannels
}

func (HW) DMAReadAddr(ch int) uint32 {
	return dmaChannels[ch].READ_ADDR.Get()
}

func (HW) DMABusy(ch int) bool {
	return dmaChannels[ch].CTRL_TRIG.HasBits(rp.DMA_CH0_CTRL_TRIG_BUSY)
}

func (HW) StreamCount() uint32 {
	return rp.XIP_CTRL.STREAM_CTR.Get()
}

func (HW) RxFIFOEmpty() bool {
	return rp.XIP_CTRL.STAT.HasBits(rp.XIP_CTRL_STAT_FIFO_EMPTY)
}

func (HW) FlushReady() bool {
	return rp.XIP_CTRL.STAT.HasBits(rp.XIP_CTRL_STAT_FLUSH_READY)
}

func (HW) SetCSOverride(o Oeover) {
	rp.IO_QSPI.GPIO_QSPI_SS_CTRL.ReplaceBits(
		uint32(o)<<rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Pos,
		rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Msk, 0)
}

func (HW) CSInFromPad() bool {
	return rp.IO_QSPI.GPIO_QSPI_SS_STATUS.HasBits(rp.IO_QSPI_GPIO_QSPI_SS_STATUS_INFROMPAD)
}

func (HW) Settle() {
	settle()
}

// sampleRAM is the bus transparency window. It is placed in RAM so that
// overriding the flash chip select cannot corrupt its own instruction fetch,
// and must not be inlined into flash-resident callers. Everything it calls
// compiles to inline volatile accesses or single instructions.
//
//go:section .data.ram_func
//go:noinline
func (HW) sampleRAM() bool {
	// Wait until the XIP controller has no partially completed transaction:
	// receive FIFO empty and no flush outstanding.
	const xipIdle = rp.XIP_CTRL_STAT_FIFO_EMPTY | rp.XIP_CTRL_STAT_FLUSH_READY
	for rp.XIP_CTRL.STAT.Get()&xipIdle != xipIdle {
	}

	// Float the chip select pad. The BOOTSEL pull takes over the line.
	rp.IO_QSPI.GPIO_QSPI_SS_CTRL.ReplaceBits(
		uint32(OeoverDisable)<<rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Pos,
		rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Msk, 0)

	// Let the line settle. time.Sleep lives in flash, spin instead.
	settle()

	// The button shorts the line to ground, so pressed reads low.
	pressed := !rp.IO_QSPI.GPIO_QSPI_SS_STATUS.HasBits(rp.IO_QSPI_GPIO_QSPI_SS_STATUS_INFROMPAD)

	// Give chip select back to the flash controller. XIP fetches resume the
	// moment this write lands, so it must happen before returning to any
	// flash-resident caller.
	rp.IO_QSPI.GPIO_QSPI_SS_CTRL.ReplaceBits(
		uint32(OeoverNormal)<<rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Pos,
		rp.IO_QSPI_GPIO_QSPI_SS_CTRL_OEOVER_Msk, 0)

	return pressed
}

// settle burns the calibrated settling delay as a tight instruction loop.
//
//go:inline
func settle() {
	for i := 0; i < settleCycles; i++ {
		arm.Asm("nop")
	}
}
