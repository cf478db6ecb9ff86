package bootsel

// Oeover selects the output enable override of a QSPI pad. The values match
// the OEOVER field encoding of the IO_QSPI GPIO control registers, 2.19.6.2
// in the RP2040 datasheet.
type Oeover uint8

const (
	// OeoverNormal drives output enable from the selected peripheral, for
	// the chip select pad that is the XIP flash controller.
	OeoverNormal Oeover = 0
	// OeoverInvert drives the inverse of the peripheral output enable.
	OeoverInvert Oeover = 1
	// OeoverDisable forces the output driver off so the pad floats and
	// external pulls dominate the line.
	OeoverDisable Oeover = 2
	// OeoverEnable forces the output driver on.
	OeoverEnable Oeover = 3
)

// Hardware is the narrow register surface the polling protocol touches. The
// RP2040 backend in this package maps it onto the real registers; tests use a
// scripted implementation.
//
// Exclusive and Settle carry the two execution-environment requirements of
// the protocol: Exclusive must run fn with interrupts and preemption masked
// on the calling core, and Settle must burn a fixed, calibrated delay without
// sleeping or otherwise handing control to a scheduler (scheduler code may
// live in flash).
type Hardware interface {
	// CoreID returns the hardware identifier of the executing core.
	CoreID() uint32

	// Exclusive runs fn with interrupts masked on the calling core. The
	// closure scope stands in for an explicit proof token: code may touch
	// the chip select override only from inside fn, and the mask is
	// restored when fn returns on any path.
	Exclusive(fn func())

	// NumDMAChannels returns the number of DMA channels capable of reading
	// flash-mapped addresses.
	NumDMAChannels() int
	// DMAReadAddr returns the current read address of channel ch.
	DMAReadAddr(ch int) uint32
	// DMABusy reports whether channel ch has a transfer in flight.
	DMABusy(ch int) bool

	// StreamCount returns the number of outstanding XIP streamed reads.
	StreamCount() uint32
	// RxFIFOEmpty reports whether the XIP receive FIFO is empty.
	RxFIFOEmpty() bool
	// FlushReady reports whether the XIP cache is ready to accept a flush,
	// i.e. no flush is outstanding.
	FlushReady() bool

	// SetCSOverride applies o to the flash chip select pad.
	SetCSOverride(o Oeover)
	// CSInFromPad returns the raw input level seen on the chip select pad.
	CSInFromPad() bool
	// Settle busy-waits for the calibrated line settling delay.
	Settle()
}

// Multicore pauses and resumes the cooperative scheduler on core 1. The
// implementation belongs to whatever runs core 1; this package only consumes
// it.
//
// PauseCore1 must not return while core 1 could still be mid flash access:
// it blocks until the core 1 scheduler reaches a safe suspension point and
// holds it there. ResumeCore1 releases the core. The pair establishes the
// "core 1 touches no flash" invariant the polling protocol relies on.
type Multicore interface {
	PauseCore1()
	ResumeCore1()
}

// UnusedCore1 is a no-op Multicore for applications that never start core 1.
// With nothing running on the other core there is nothing to pause.
type UnusedCore1 struct{}

func (UnusedCore1) PauseCore1()  {}
func (UnusedCore1) ResumeCore1() {}

// Config carries the construction-time parameters of a Poller.
type Config struct {
	// HomeCore is the hardware identifier of the only core allowed to poll.
	// The zero value designates core 0, the right choice on the RP2040.
	HomeCore uint32
}
