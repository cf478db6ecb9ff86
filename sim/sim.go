// Package sim is a scripted register-level stand-in for the RP2040 flash bus
// hardware the bootsel package polls. It implements bootsel.Hardware and
// bootsel.Multicore, records every observation the protocol makes in order,
// and lets tests script how the simulated DMA channels, XIP controller and
// chip select pad behave over time.
//
// The simulator is deliberately strict: register accesses that the real
// protocol would never make outside its window, such as writing the chip
// select override without interrupts masked and core 1 paused, panic instead
// of being recorded.
package sim

import (
	"fmt"

	"github.com/ysoldak/bootsel"
)

// NumDMAChannels matches the RP2040 DMA block.
const NumDMAChannels = 12

// EventKind identifies one protocol observation or action.
type EventKind uint8

const (
	EvPause EventKind = iota
	EvResume
	EvExclusiveEnter
	EvExclusiveExit
	EvReadAddr // Channel valid
	EvReadBusy // Channel valid
	EvReadStream
	EvReadStat
	EvOverride // Arg holds the Oeover value written
	EvSettle
	EvReadPad
)

func (k EventKind) String() string {
	switch k {
	case EvPause:
		return "pause"
	case EvResume:
		return "resume"
	case EvExclusiveEnter:
		return "exclusive-enter"
	case EvExclusiveExit:
		return "exclusive-exit"
	case EvReadAddr:
		return "read-addr"
	case EvReadBusy:
		return "read-busy"
	case EvReadStream:
		return "read-stream"
	case EvReadStat:
		return "read-stat"
	case EvOverride:
		return "override"
	case EvSettle:
		return "settle"
	case EvReadPad:
		return "read-pad"
	}
	return "unknown"
}

// Event is one entry in the simulator trace.
type Event struct {
	Kind    EventKind
	Channel int    // for EvReadAddr and EvReadBusy
	Arg     uint32 // for EvOverride
}

func (e Event) String() string {
	switch e.Kind {
	case EvReadAddr, EvReadBusy:
		return fmt.Sprintf("%v(ch%d)", e.Kind, e.Channel)
	case EvOverride:
		return fmt.Sprintf("%v(%d)", e.Kind, e.Arg)
	}
	return e.Kind.String()
}

type channel struct {
	addr uint32
	busy bool

	// busyFor > 0 means busy reads true for that many more observations of
	// the channel's busy flag, then clears.
	busyFor int

	// retargetAfter > 0 moves addr to retargetAddr once the channel's read
	// address has been observed that many times.
	retargetAfter int
	retargetAddr  uint32
}

// Sim is a scripted flash bus. The zero value is not ready for use, call New.
type Sim struct {
	// Core is the value reported by CoreID. Defaults to 0.
	Core uint32

	// OnSample, when set, runs on every pad read. Tests use it to inject
	// faults into the middle of the transparency window.
	OnSample func()

	channels [NumDMAChannels]channel

	// Outstanding streamed reads. Drains by one per observation, like a
	// streaming FIFO being consumed while the poller watches the counter.
	stream uint32

	// xipBusyFor holds the XIP status bits deasserted for that many more
	// status observations before the controller reports idle.
	xipBusyFor int

	padLow   bool
	override bootsel.Oeover

	paused    bool
	exclusive bool

	pauses  int
	resumes int

	trace []Event
}

var (
	_ bootsel.Hardware  = (*Sim)(nil)
	_ bootsel.Multicore = (*Sim)(nil)
)

// New returns an idle simulated bus: no DMA activity, no streamed reads, XIP
// idle, chip select under flash controller drive and the pad held high
// (button released).
func New() *Sim {
	return &Sim{override: bootsel.OeoverNormal}
}

// SetChannel scripts DMA channel ch with a fixed read address and busy flag.
func (s *Sim) SetChannel(ch int, addr uint32, busy bool) {
	s.channels[ch] = channel{addr: addr, busy: busy}
}

// ClearBusyAfter scripts channel ch to report busy for n observations of its
// busy flag and then clear, as a transfer completing under the poller's nose.
func (s *Sim) ClearBusyAfter(ch int, addr uint32, n int) {
	s.channels[ch] = channel{addr: addr, busy: true, busyFor: n}
}

// RetargetAfter scripts channel ch to stay busy but move its read address to
// addr after n observations of the address, as a chained transfer leaving
// flash for SRAM.
func (s *Sim) RetargetAfter(ch int, from, to uint32, n int) {
	s.channels[ch] = channel{addr: from, busy: true, retargetAfter: n, retargetAddr: to}
}

// SetStreamCount scripts n outstanding streamed reads.
func (s *Sim) SetStreamCount(n uint32) {
	s.stream = n
}

// XIPIdleAfter holds the XIP controller non-idle for the next n status
// observations.
func (s *Sim) XIPIdleAfter(n int) {
	s.xipBusyFor = n
}

// SetPadLow scripts the raw electrical level of the chip select pad; low
// means the button is held.
func (s *Sim) SetPadLow(low bool) {
	s.padLow = low
}

// Trace returns the observations recorded so far, oldest first.
func (s *Sim) Trace() []Event {
	return s.trace
}

// ResetTrace discards the recorded trace, keeping all scripting.
func (s *Sim) ResetTrace() {
	s.trace = nil
}

// Pauses and Resumes report how often core 1 was paused and resumed.
func (s *Sim) Pauses() int  { return s.pauses }
func (s *Sim) Resumes() int { return s.resumes }

// Paused reports whether core 1 is currently held.
func (s *Sim) Paused() bool { return s.paused }

// Override returns the current output enable override on the chip select
// pad.
func (s *Sim) Override() bootsel.Oeover { return s.override }

func (s *Sim) record(e Event) {
	s.trace = append(s.trace, e)
}

// bootsel.Multicore

func (s *Sim) PauseCore1() {
	if s.paused {
		panic("sim: core 1 paused twice")
	}
	s.paused = true
	s.pauses++
	s.record(Event{Kind: EvPause})
}

func (s *Sim) ResumeCore1() {
	if !s.paused {
		panic("sim: core 1 resumed while not paused")
	}
	s.paused = false
	s.resumes++
	s.record(Event{Kind: EvResume})
}

// bootsel.Hardware

func (s *Sim) CoreID() uint32 {
	return s.Core
}

func (s *Sim) Exclusive(fn func()) {
	if s.exclusive {
		panic("sim: nested exclusive section")
	}
	s.exclusive = true
	s.record(Event{Kind: EvExclusiveEnter})
	defer func() {
		s.exclusive = false
		s.record(Event{Kind: EvExclusiveExit})
	}()
	fn()
}

func (s *Sim) NumDMAChannels() int {
	return NumDMAChannels
}

func (s *Sim) DMAReadAddr(ch int) uint32 {
	c := &s.channels[ch]
	s.record(Event{Kind: EvReadAddr, Channel: ch})
	addr := c.addr
	if c.retargetAfter > 0 {
		c.retargetAfter--
		if c.retargetAfter == 0 {
			c.addr = c.retargetAddr
		}
	}
	return addr
}

func (s *Sim) DMABusy(ch int) bool {
	c := &s.channels[ch]
	s.record(Event{Kind: EvReadBusy, Channel: ch})
	busy := c.busy
	if c.busyFor > 0 {
		c.busyFor--
		if c.busyFor == 0 {
			c.busy = false
		}
	}
	return busy
}

func (s *Sim) StreamCount() uint32 {
	s.record(Event{Kind: EvReadStream})
	n := s.stream
	if s.stream > 0 {
		s.stream--
	}
	return n
}

func (s *Sim) RxFIFOEmpty() bool {
	return s.xipIdle()
}

func (s *Sim) FlushReady() bool {
	return s.xipIdle()
}

func (s *Sim) xipIdle() bool {
	s.record(Event{Kind: EvReadStat})
	if s.xipBusyFor > 0 {
		s.xipBusyFor--
		return false
	}
	return true
}

func (s *Sim) SetCSOverride(o bootsel.Oeover) {
	if !s.exclusive {
		panic("sim: chip select override written outside the exclusive section")
	}
	if !s.paused {
		panic("sim: chip select override written while core 1 runs")
	}
	s.record(Event{Kind: EvOverride, Arg: uint32(o)})
	s.override = o
}

func (s *Sim) CSInFromPad() bool {
	s.record(Event{Kind: EvReadPad})
	if s.OnSample != nil {
		s.OnSample()
	}
	if s.override != bootsel.OeoverDisable {
		// The flash controller is driving the line; between transactions
		// chip select rests high and the button cannot be seen.
		return true
	}
	return !s.padLow
}

func (s *Sim) Settle() {
	s.record(Event{Kind: EvSettle})
}
