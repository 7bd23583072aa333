package app

import (
	"log"
	"time"

	"github.com/inkstat/inkstat/sysmon"
)

// statusProbes is the monitor slice the LED task polls.
type statusProbes interface {
	ServiceActive(unit string) bool
	Battery() (sysmon.BatteryState, error)
}

// ledTask reflects service and battery health on the front LEDs on a
// fixed cadence. It never touches the panel.
type ledTask struct {
	cfg    Config
	state  *State
	probes statusProbes

	sysGreen blinker
	sysRed   blinker
	chgGreen blinker
	chgRed   blinker

	lastBatt sysmon.BatteryState
	warned   bool
}

func newLEDTask(cfg Config, st *State, probes statusProbes, sysGreen, sysRed, chgGreen, chgRed blinker) *ledTask {
	return &ledTask{
		cfg:      cfg,
		state:    st,
		probes:   probes,
		sysGreen: sysGreen,
		sysRed:   sysRed,
		chgGreen: chgGreen,
		chgRed:   chgRed,
	}
}

func (t *ledTask) run(done <-chan struct{}) {
	log.Printf("app: led task started")
	tick := time.NewTicker(t.cfg.LEDTick)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			t.apply()
		}
	}
}

func (t *ledTask) apply() {
	// The system LED belongs to the refresh blink while the panel is
	// busy; reasserting it here would cut the blink short.
	if !t.state.PanelBusy() {
		set(t.sysGreen.Blink(false))
		set(t.sysGreen.On())
		if t.probes.ServiceActive(t.cfg.ServiceUnit) {
			set(t.sysRed.Off())
		} else {
			// Green plus red reads as amber: board up, service down.
			set(t.sysRed.On())
		}
	}

	batt, err := t.probes.Battery()
	if err != nil {
		if !t.warned {
			log.Printf("app: %v", err)
			t.warned = true
		}
		return
	}
	t.warned = false
	if batt != t.lastBatt {
		log.Printf("app: battery state %v", batt)
		t.lastBatt = batt
	}
	switch batt {
	case sysmon.BatteryPowered:
		set(t.chgRed.Off())
		set(t.chgGreen.On())
	case sysmon.BatteryOnBattery:
		set(t.chgGreen.On())
		set(t.chgRed.On())
	case sysmon.BatteryCritical:
		set(t.chgGreen.Off())
		set(t.chgRed.On())
	}
}

func set(err error) {
	if err != nil {
		log.Printf("app: led: %v", err)
	}
}
