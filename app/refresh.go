package app

import (
	"crypto/sha256"
	"image"
	"log"
	"time"

	"github.com/inkstat/inkstat/epd"
	"github.com/inkstat/inkstat/views"
)

// panel is the driver surface the scheduler owns. No other task
// touches the bus.
type panel interface {
	Init() error
	InitPartial() error
	WriteFramebuffer(buf []byte, target epd.RAM) error
	TriggerRefresh(mode epd.Mode) error
	DisplayBase(buf []byte) error
}

var _ panel = (*epd.EPD)(nil)

// renderer supplies view bitmaps in either panel orientation.
type renderer interface {
	Render(v views.View, wait bool) image.Image
}

// blinker is the LED surface the tasks drive.
type blinker interface {
	On() error
	Off() error
	Blink(start bool) error
}

// scheduler decides, once per tick, whether the panel needs a full
// refresh (periodic, or compensating after a partial), a partial
// refresh (dirty content), or nothing.
type scheduler struct {
	cfg      Config
	state    *State
	panel    panel
	render   renderer
	opts     *epd.Opts
	activity blinker // pulsed while the panel redraws, may be nil

	lastFull time.Time
	now      func() time.Time
}

func newScheduler(cfg Config, st *State, p panel, r renderer, opts *epd.Opts, activity blinker) *scheduler {
	return &scheduler{
		cfg:      cfg,
		state:    st,
		panel:    p,
		render:   r,
		opts:     opts,
		activity: activity,
		now:      time.Now,
	}
}

func (s *scheduler) run(done <-chan struct{}) {
	log.Printf("app: refresh task started, full every %v", s.cfg.FullEvery)
	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			s.tick()
		}
	}
}

// tick applies the decision table once. The periodic full beats a
// pending partial so a dirty flag raised just before the deadline
// cannot starve the contrast-restoring full refresh.
func (s *scheduler) tick() {
	switch {
	case s.now().Sub(s.lastFull) >= s.cfg.FullEvery || s.state.ForceFull():
		s.refresh(epd.Full)
	case s.state.Dirty():
		s.refresh(epd.Partial)
	}
}

func (s *scheduler) refresh(mode epd.Mode) {
	view := s.state.SyncActiveView()
	s.state.ClearDirty()
	if mode == epd.Full {
		s.lastFull = s.now()
		s.state.SetForceFull(false)
	} else if s.cfg.PartialThenFull {
		// Partial updates smear over time; arm a compensating full
		// for the very next tick.
		s.state.SetForceFull(true)
	}

	// Busy covers the render too: a select press consumed by the setup
	// view mid-render must not race a second one.
	s.state.SetPanelBusy(true)
	defer s.state.SetPanelBusy(false)

	img := s.render.Render(view, false)
	buf, err := epd.Encode(img, s.opts)
	if err != nil {
		log.Printf("app: encode %v view: %v", view, err)
		buf = epd.Blank(s.opts)
	}
	fp := sha256.Sum256(buf)
	if s.state.FingerprintMatches(fp) {
		log.Printf("app: %v view unchanged, skipping %s refresh", view, mode)
		return
	}

	if s.activity != nil {
		if err := s.activity.Blink(true); err != nil {
			log.Printf("app: led: %v", err)
		}
	}

	log.Printf("app: %s refresh of %v view", mode, view)
	if err := s.transmit(mode, buf); err != nil {
		// Failed mid-cycle: panel content is unknown. Leave dirty set
		// so the next tick retries, and forget the fingerprint so the
		// retry actually transmits.
		log.Printf("app: %s refresh: %v", mode, err)
		s.state.MarkDirty()
		s.state.ResetFingerprint()
		if mode == epd.Full {
			s.state.SetForceFull(true)
		}
		return
	}
	s.state.SetFingerprint(fp)
}

// transmit runs one whole panel transaction for the given mode. Full
// re-runs the power-on init and parks the panel in deep sleep; partial
// swaps the light waveform in and leaves the panel addressable.
func (s *scheduler) transmit(mode epd.Mode, buf []byte) error {
	if mode == epd.Full {
		if err := s.panel.Init(); err != nil {
			return err
		}
		if err := s.panel.WriteFramebuffer(buf, epd.RAMCurrent); err != nil {
			return err
		}
		if err := s.panel.WriteFramebuffer(buf, epd.RAMPrevious); err != nil {
			return err
		}
		return s.panel.TriggerRefresh(epd.Full)
	}

	if err := s.panel.InitPartial(); err != nil {
		return err
	}
	if err := s.panel.WriteFramebuffer(buf, epd.RAMCurrent); err != nil {
		return err
	}
	return s.panel.TriggerRefresh(epd.Partial)
}

// showBase renders the view at the cycle head and displays it as the
// partial-refresh baseline. Called once at startup before the tasks
// run.
func (s *scheduler) showBase() error {
	view := s.state.SyncActiveView()
	img := s.render.Render(view, true)
	buf, err := epd.Encode(img, s.opts)
	if err != nil {
		log.Printf("app: encode %v view: %v", view, err)
		buf = epd.Blank(s.opts)
	}
	if err := s.panel.DisplayBase(buf); err != nil {
		return err
	}
	s.state.SetFingerprint(sha256.Sum256(buf))
	s.lastFull = s.now()
	return nil
}
