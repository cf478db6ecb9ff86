// Command bootselsim runs the BOOTSEL polling protocol against the scripted
// register simulator and logs what the protocol observes. It exists to
// exercise the package off-target and to make the quiescence behaviour easy
// to eyeball.
package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/ysoldak/bootsel"
	"github.com/ysoldak/bootsel/sim"
)

func main() {
	var (
		pressed = flag.Bool("pressed", false, "hold the simulated button during the run")
		busy    = flag.Int("busy", 4, "observations until the scripted flash DMA channel completes")
		stream  = flag.Uint("stream", 2, "outstanding streamed reads to drain")
		spins   = flag.Uint("spins", 0, "use TryPoll with this spin budget instead of Poll")
		trace   = flag.Bool("trace", false, "dump the full register trace")
	)
	flag.Parse()

	s := sim.New()
	s.SetPadLow(*pressed)
	if *busy > 0 {
		s.ClearBusyAfter(0, 0x1000_0000, *busy)
	}
	s.SetStreamCount(uint32(*stream))

	p := bootsel.New(s, s, bootsel.Config{HomeCore: 0})

	log.WithFields(log.Fields{
		"busy":   *busy,
		"stream": *stream,
	}).Infoln("polling simulated BOOTSEL")

	var (
		state bool
		err   error
	)
	if *spins > 0 {
		state, err = p.TryPoll(uint32(*spins))
	} else {
		state = p.Poll()
	}
	if err != nil {
		log.WithError(err).Fatal("flash bus never went quiet")
	}

	log.WithFields(log.Fields{
		"pressed": state,
		"pauses":  s.Pauses(),
		"resumes": s.Resumes(),
	}).Infoln("poll complete")

	if *trace {
		log.SetLevel(log.DebugLevel)
		for i, e := range s.Trace() {
			log.Debugf("%3d %v", i, e)
		}
	}
}
