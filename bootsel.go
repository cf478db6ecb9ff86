// Package bootsel polls the BOOTSEL button on RP2040 boards.
//
// The bootrom enters the USB bootloader when BOOTSEL is held during reset. To
// avoid spending a GPIO pin the button is multiplexed onto the chip select
// line of the QSPI flash, which makes reading it at runtime expensive: both
// cores and all flash-capable DMA must be off the bus before the pin can be
// floated and sampled, and the code doing the sampling must not itself be
// fetched from flash while chip select is overridden.
//
// Poll pauses core 1, masks interrupts on the calling core, waits for DMA and
// the XIP streaming FIFO to drain, then briefly disables the chip select
// output drive, lets the line settle, samples the pad and restores normal
// operation. On the RP2040 the window runs from RAM, see hw_rp2040.go.
//
// The runtime checks are best effort. The caller must avoid a few edge cases
// the checks cannot see:
//
//   - core 1 running non-cooperative code that accesses flash while "paused"
//   - DMA chains that trigger new flash transfers after their channel was
//     inspected
//   - code that bypasses XIP and drives the SSI directly
package bootsel

import "errors"

// ErrNotQuiesced is returned by TryPoll when the flash bus did not go idle
// within the caller's spin budget.
var ErrNotQuiesced = errors.New("bootsel: flash bus did not quiesce")

// sramLower is the bottom of main SRAM in the RP2040 address map. A DMA
// channel whose read address is below it is reading ROM, flash or the XIP
// aliases and is treated as flash traffic.
const sramLower = 0x2000_0000

// Poller samples the BOOTSEL button through a Hardware backend.
//
// A Poller is stateless between calls. It is not safe for concurrent use:
// the protocol assumes the home core is the only one running it.
type Poller struct {
	hw   Hardware
	mc   Multicore
	home uint32
}

// New returns a Poller using the given register backend and core 1
// coordinator. A nil Multicore is allowed for applications that never start
// core 1 and behaves like UnusedCore1.
func New(hw Hardware, mc Multicore, cfg Config) *Poller {
	if mc == nil {
		mc = UnusedCore1{}
	}
	return &Poller{
		hw:   hw,
		mc:   mc,
		home: cfg.HomeCore,
	}
}

// Poll returns the current state of the BOOTSEL button, true when pressed.
//
// Polling is not cheap. The call pauses core 1 until its scheduler reaches a
// safe point, spins until all flash DMA and streamed reads have drained and
// only then samples the pin inside an interrupt-masked window. Core 1 sees
// the whole call as a latency spike.
//
// Poll must be called from the home core configured in New; calling it from
// the other core panics. The quiescence waits have no timeout: if flash
// traffic never stops, Poll never returns. Use TryPoll for a bounded variant.
func (p *Poller) Poll() bool {
	p.assertHomeCore()

	p.mc.PauseCore1()
	// Resume must happen on every exit path, including panics; a skipped
	// resume leaves core 1 stalled forever.
	defer p.mc.ResumeCore1()

	var pressed bool
	p.hw.Exclusive(func() {
		p.quiesce(spinForever())
		pressed = p.sample()
	})
	return pressed
}

// TryPoll is Poll with a bounded quiescence wait. The two busy-waits of the
// quiescence check give up after maxSpins register polls in total and TryPoll
// returns ErrNotQuiesced without touching the chip select override. The
// transparency window itself is never entered on failure.
//
// Like Poll it must be called from the home core and pauses core 1 for the
// duration of the call.
func (p *Poller) TryPoll(maxSpins uint32) (pressed bool, err error) {
	p.assertHomeCore()

	p.mc.PauseCore1()
	defer p.mc.ResumeCore1()

	p.hw.Exclusive(func() {
		if !p.quiesce(spinBounded(maxSpins)) {
			err = ErrNotQuiesced
			return
		}
		pressed = p.sample()
	})
	return pressed, err
}

func (p *Poller) assertHomeCore() {
	if p.hw.CoreID() != p.home {
		panic("bootsel: polled from a core other than the home core")
	}
}

// quiesce spins until nothing else is using the flash bus. It returns false
// only when the budget runs out.
//
// A channel that is still busy but whose read address has moved out of the
// flash-mapped range (into SRAM or a peripheral) no longer touches the bus
// and counts as safe. This check is best effort: a chained DMA transfer can
// retarget flash after its channel was inspected.
func (p *Poller) quiesce(b budget) bool {
	// Wait for every flash-capable DMA channel to finish or leave flash.
	for ch := 0; ch < p.hw.NumDMAChannels(); ch++ {
		for p.hw.DMAReadAddr(ch) < sramLower && p.hw.DMABusy(ch) {
			if !b.spin() {
				return false
			}
		}
	}
	// Wait for completion of any streaming reads.
	for p.hw.StreamCount() > 0 {
		if !b.spin() {
			return false
		}
	}
	return true
}

// sample runs the bus transparency window. It must only be called with
// interrupts masked, core 1 paused and the flash bus quiescent.
//
// Backends whose window has to execute from RAM implement ramSampler and take
// over the whole window, see hw_rp2040.go. The generic sequence below is the
// same protocol expressed through the fine grained register interface.
func (p *Poller) sample() bool {
	if rs, ok := p.hw.(ramSampler); ok {
		return rs.sampleRAM()
	}

	// Make sure no partially completed XIP transaction is outstanding.
	for !(p.hw.RxFIFOEmpty() && p.hw.FlushReady()) {
	}

	// BOOTSEL pulls the flash chip select low through a 1k resistor, weak
	// enough not to disturb normal operation. Disabling the output drive lets
	// the pad float so the pull, and therefore the button, wins.
	p.hw.SetCSOverride(OeoverDisable)

	// Let the line settle through the pull resistor. The backend must delay
	// without involving the scheduler.
	p.hw.Settle()

	// The signal is active low.
	pressed := !p.hw.CSInFromPad()

	// Restore chip select to the flash controller before anything can touch
	// flash again. This write is not optional on any path.
	p.hw.SetCSOverride(OeoverNormal)

	return pressed
}

// ramSampler is implemented by backends that replace the generic transparency
// window with one guaranteed to execute outside the region being disabled.
type ramSampler interface {
	sampleRAM() bool
}

// budget counts down the register polls a bounded quiescence check is allowed
// to burn.
type budget struct {
	n       uint32
	bounded bool
}

func spinForever() budget         { return budget{} }
func spinBounded(n uint32) budget { return budget{n: n, bounded: true} }

func (b *budget) spin() bool {
	if !b.bounded {
		return true
	}
	if b.n == 0 {
		return false
	}
	b.n--
	return true
}
