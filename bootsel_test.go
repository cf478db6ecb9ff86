package bootsel_test

import (
	"errors"
	"testing"

	"github.com/ysoldak/bootsel"
	"github.com/ysoldak/bootsel/sim"
)

const (
	flashAddr = 0x1000_0000 // inside the XIP flash-mapped range
	sramAddr  = 0x2000_1000 // main SRAM, outside flash
)

func newPoller(s *sim.Sim) *bootsel.Poller {
	return bootsel.New(s, s, bootsel.Config{HomeCore: 0})
}

// firstIndex returns the index of the first trace event matching pred, or -1.
func firstIndex(trace []sim.Event, pred func(sim.Event) bool) int {
	for i, e := range trace {
		if pred(e) {
			return i
		}
	}
	return -1
}

func countEvents(trace []sim.Event, pred func(sim.Event) bool) int {
	n := 0
	for _, e := range trace {
		if pred(e) {
			n++
		}
	}
	return n
}

func TestActiveLowInversion(t *testing.T) {
	s := sim.New()
	p := newPoller(s)

	s.SetPadLow(true)
	if !p.Poll() {
		t.Error("pad held low: want pressed")
	}

	s.SetPadLow(false)
	if p.Poll() {
		t.Error("pad held high: want released")
	}
}

func TestPauseResumePairing(t *testing.T) {
	s := sim.New()
	p := newPoller(s)

	p.Poll()

	if s.Pauses() != 1 || s.Resumes() != 1 {
		t.Errorf("pause/resume called %d/%d times, want 1/1", s.Pauses(), s.Resumes())
	}
	if s.Paused() {
		t.Error("core 1 still paused after Poll")
	}

	// Resume must come after chip select is handed back to the flash
	// controller: a resumed core 1 may touch flash immediately.
	trace := s.Trace()
	resume := firstIndex(trace, func(e sim.Event) bool { return e.Kind == sim.EvResume })
	restore := firstIndex(trace, func(e sim.Event) bool {
		return e.Kind == sim.EvOverride && e.Arg == uint32(bootsel.OeoverNormal)
	})
	if restore == -1 || resume < restore {
		t.Errorf("resume at %d before override restore at %d", resume, restore)
	}
}

func TestOverrideRestored(t *testing.T) {
	for _, low := range []bool{true, false} {
		s := sim.New()
		s.SetPadLow(low)
		newPoller(s).Poll()
		if got := s.Override(); got != bootsel.OeoverNormal {
			t.Errorf("pad low %v: override ends as %d, want normal", low, got)
		}
	}
}

func TestWrongCorePanics(t *testing.T) {
	s := sim.New()
	s.Core = 1
	p := newPoller(s)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("Poll from core 1 did not panic")
			}
		}()
		p.Poll()
	}()

	// The precondition failure must fire before any protocol step runs.
	if s.Pauses() != 0 {
		t.Error("core 1 was paused before the core check")
	}
	if n := countEvents(s.Trace(), func(e sim.Event) bool { return e.Kind == sim.EvOverride }); n != 0 {
		t.Error("transparency window reached from the wrong core")
	}
}

func TestQuiescenceBlocksOnBusyChannel(t *testing.T) {
	const ch, holds = 3, 5

	s := sim.New()
	s.ClearBusyAfter(ch, flashAddr, holds)
	newPoller(s).Poll()

	trace := s.Trace()
	busyReads := countEvents(trace, func(e sim.Event) bool {
		return e.Kind == sim.EvReadBusy && e.Channel == ch
	})
	// holds observations read busy, plus the final one that sees the flag
	// clear and lets the checker move on.
	if busyReads != holds+1 {
		t.Errorf("channel %d busy flag observed %d times, want %d", ch, busyReads, holds+1)
	}

	// The streaming counter must not be consulted until the channel is done.
	stream := firstIndex(trace, func(e sim.Event) bool { return e.Kind == sim.EvReadStream })
	lastBusy := -1
	for i, e := range trace {
		if e.Kind == sim.EvReadBusy && e.Channel == ch {
			lastBusy = i
		}
	}
	if stream != -1 && stream < lastBusy {
		t.Errorf("streaming counter read at %d while channel %d still busy at %d", stream, ch, lastBusy)
	}
}

func TestQuiescenceRetargetLeavesFlash(t *testing.T) {
	// A channel that stays busy but moves its read address into SRAM is off
	// the flash bus and must not hold up the poll.
	s := sim.New()
	s.RetargetAfter(4, flashAddr, sramAddr, 3)

	// Completes only because the channel leaves the flash range; the busy
	// flag never clears.
	newPoller(s).Poll()

	if n := countEvents(s.Trace(), func(e sim.Event) bool {
		return e.Kind == sim.EvReadAddr && e.Channel == 4
	}); n < 3 {
		t.Errorf("channel 4 address observed %d times, want at least 3", n)
	}
}

func TestBusyOutsideFlashIsSafe(t *testing.T) {
	s := sim.New()
	s.SetChannel(0, sramAddr, true)
	newPoller(s).Poll()

	// With the read address already out of range the busy flag is
	// irrelevant and is never even inspected.
	if n := countEvents(s.Trace(), func(e sim.Event) bool {
		return e.Kind == sim.EvReadBusy && e.Channel == 0
	}); n != 0 {
		t.Errorf("busy flag of an out-of-range channel observed %d times", n)
	}
}

func TestStreamedReadsDrain(t *testing.T) {
	s := sim.New()
	s.SetStreamCount(4)
	newPoller(s).Poll()

	if n := countEvents(s.Trace(), func(e sim.Event) bool { return e.Kind == sim.EvReadStream }); n < 5 {
		t.Errorf("stream counter observed %d times, want at least 5 to drain 4 reads", n)
	}
}

func TestWindowWaitsForXIPIdle(t *testing.T) {
	const busyReads = 6

	s := sim.New()
	s.XIPIdleAfter(busyReads)
	newPoller(s).Poll()

	trace := s.Trace()
	disable := firstIndex(trace, func(e sim.Event) bool {
		return e.Kind == sim.EvOverride && e.Arg == uint32(bootsel.OeoverDisable)
	})
	if disable == -1 {
		t.Fatal("chip select was never floated")
	}
	statReads := countEvents(trace[:disable], func(e sim.Event) bool { return e.Kind == sim.EvReadStat })
	if statReads < busyReads {
		t.Errorf("chip select floated after %d status reads, want at least %d", statReads, busyReads)
	}
}

func TestRepeatedPollsAreIndependent(t *testing.T) {
	const rounds = 5

	s := sim.New()
	s.SetPadLow(true)
	p := newPoller(s)

	for i := 0; i < rounds; i++ {
		if !p.Poll() {
			t.Fatalf("poll %d: stable low input read as released", i)
		}
	}
	if s.Pauses() != rounds || s.Resumes() != rounds {
		t.Errorf("pause/resume called %d/%d times over %d polls", s.Pauses(), s.Resumes(), rounds)
	}
	if got := s.Override(); got != bootsel.OeoverNormal {
		t.Errorf("override ends as %d after repeated polls", got)
	}
}

func TestTryPollNotQuiesced(t *testing.T) {
	s := sim.New()
	s.SetChannel(2, flashAddr, true) // never completes
	p := newPoller(s)

	_, err := p.TryPoll(10)
	if !errors.Is(err, bootsel.ErrNotQuiesced) {
		t.Fatalf("got error %v, want ErrNotQuiesced", err)
	}

	// The window must not have been entered and core 1 must still have been
	// resumed.
	if n := countEvents(s.Trace(), func(e sim.Event) bool { return e.Kind == sim.EvOverride }); n != 0 {
		t.Error("transparency window entered despite failed quiescence")
	}
	if s.Resumes() != 1 {
		t.Errorf("core 1 resumed %d times after failed TryPoll, want 1", s.Resumes())
	}
	if got := s.Override(); got != bootsel.OeoverNormal {
		t.Errorf("override is %d after failed TryPoll, want untouched normal", got)
	}
}

func TestTryPollSucceedsOnceQuiet(t *testing.T) {
	s := sim.New()
	s.ClearBusyAfter(0, flashAddr, 3)
	s.SetPadLow(true)

	pressed, err := newPoller(s).TryPoll(100)
	if err != nil {
		t.Fatalf("TryPoll: %v", err)
	}
	if !pressed {
		t.Error("pad held low: want pressed")
	}
}

func TestTryPollZeroBudget(t *testing.T) {
	// An already idle bus needs no spins at all.
	s := sim.New()
	if _, err := newPoller(s).TryPoll(0); err != nil {
		t.Errorf("idle bus with zero budget: %v", err)
	}

	// A single busy flash read must exhaust the zero budget immediately.
	s = sim.New()
	s.SetChannel(0, flashAddr, true)
	if _, err := newPoller(s).TryPoll(0); !errors.Is(err, bootsel.ErrNotQuiesced) {
		t.Errorf("busy bus with zero budget: got %v, want ErrNotQuiesced", err)
	}
}

func TestResumeSurvivesWindowPanic(t *testing.T) {
	s := sim.New()
	s.OnSample = func() { panic("injected fault") }
	p := newPoller(s)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("injected fault did not propagate")
			}
		}()
		p.Poll()
	}()

	if s.Resumes() != 1 {
		t.Errorf("core 1 resumed %d times after a mid-window panic, want 1", s.Resumes())
	}
	if s.Paused() {
		t.Error("core 1 left paused after a mid-window panic")
	}
}
