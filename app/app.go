// Package app is the coordination core of the appliance: the shared
// state, the refresh scheduler and the input and LED tasks that drive
// the e-paper panel together.
package app

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/inkstat/inkstat/epd"
	"github.com/inkstat/inkstat/leds"
	"github.com/inkstat/inkstat/sysmon"
	"github.com/inkstat/inkstat/views"
)

// App owns the panel, the coordination state and the three tasks.
type App struct {
	cfg       Config
	transport *epd.SPITransport
	driver    *epd.EPD
	opts      *epd.Opts
	state     *State
	mon       *sysmon.Monitor
	renderer  *views.Renderer

	sysGreen *leds.LED
	sysRed   *leds.LED
	chgGreen *leds.LED
	chgRed   *leds.LED
}

// New opens the display hardware and wires the collaborators together.
// A transport failure is fatal here: the appliance must not come up
// with a dead display.
func New(cfg Config) (*App, error) {
	transport, err := epd.NewSPITransport(cfg.SPIDev, cfg.Pins)
	if err != nil {
		return nil, err
	}
	opts := epd.DefaultOpts()
	driver, err := epd.New(transport, opts)
	if err != nil {
		transport.Close()
		return nil, err
	}

	state := NewState(views.Available(cfg.CustomImagePath))
	mon := sysmon.New()

	renderer := views.NewRenderer(mon)
	renderer.Name = cfg.Name
	renderer.CustomImagePath = cfg.CustomImagePath
	// The canvas is the panel transpose: views draw in landscape.
	renderer.Width = opts.Height
	renderer.Height = opts.Width
	renderer.TakeSelectPress = state.TakeSelectPress
	renderer.RequestRefresh = state.MarkDirty

	a := &App{
		cfg:       cfg,
		transport: transport,
		driver:    driver,
		opts:      opts,
		state:     state,
		mon:       mon,
		renderer:  renderer,
	}

	a.sysGreen, err = leds.New(cfg.LEDRoot, 1, leds.Green)
	if err == nil {
		a.sysRed, err = leds.New(cfg.LEDRoot, 1, leds.Red)
	}
	if err == nil {
		a.chgGreen, err = leds.New(cfg.LEDRoot, 3, leds.Green)
	}
	if err == nil {
		a.chgRed, err = leds.New(cfg.LEDRoot, 3, leds.Red)
	}
	if err != nil {
		transport.Close()
		return nil, err
	}
	return a, nil
}

// RunForever shows the startup view, then runs the refresh, input and
// LED tasks until done closes.
func (a *App) RunForever(done <-chan struct{}) error {
	// Drop whatever the previous run left on the LEDs.
	for _, number := range []int{1, 3} {
		if err := leds.Reset(a.cfg.LEDRoot, number); err != nil {
			log.Printf("app: led reset: %v", err)
		}
	}

	if err := a.driver.Init(); err != nil {
		return fmt.Errorf("app: panel init: %w", err)
	}
	// Let the panel settle before the first image.
	time.Sleep(500 * time.Millisecond)

	sched := newScheduler(a.cfg, a.state, a.driver, a.renderer, a.opts, a.sysGreen)
	if err := sched.showBase(); err != nil {
		return fmt.Errorf("app: startup image: %w", err)
	}

	buttons, err := OpenButtons(a.cfg)
	if err != nil {
		return err
	}
	defer buttons.Close()
	input := newInputTask(a.cfg, a.state, buttons, a.sysGreen, a.sysRed, a.mon.Reboot)
	ledt := newLEDTask(a.cfg, a.state, a.mon, a.sysGreen, a.sysRed, a.chgGreen, a.chgRed)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); sched.run(done) }()
	go func() { defer wg.Done(); input.run(done) }()
	go func() { defer wg.Done(); ledt.run(done) }()

	<-done
	log.Printf("app: shutting down")
	wg.Wait()

	if !a.driver.Busy() {
		if err := a.driver.EnterDeepSleep(); err != nil {
			log.Printf("app: deep sleep: %v", err)
		}
	}
	return a.transport.Close()
}

// ResetPanel initializes the panel and wipes it white. One-shot
// maintenance entry point.
func (a *App) ResetPanel() error {
	log.Printf("app: resetting panel")
	if err := a.driver.Init(); err != nil {
		return err
	}
	if err := a.driver.Clear(0xFF); err != nil {
		return err
	}
	return a.transport.Close()
}
