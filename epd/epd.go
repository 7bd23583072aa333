// Package epd drives an SSD1680-class monochrome e-paper panel:
// register-level command sequencing, full and partial refresh
// waveforms, framebuffer packing and busy-wait timing.
package epd

import (
	"fmt"
	"time"
)

// Display resolution of the stock 2.13" module.
const (
	Width  = 122
	Height = 250
)

// Controller command set.
const (
	driverOutputControl   byte = 0x01
	gateVoltage           byte = 0x03
	sourceVoltage         byte = 0x04
	deepSleepMode         byte = 0x10
	dataEntryMode         byte = 0x11
	swReset               byte = 0x12
	tempSensorSelect      byte = 0x18
	masterActivation      byte = 0x20
	displayUpdateControl1 byte = 0x21
	displayUpdateControl2 byte = 0x22
	writeVCOM             byte = 0x2C
	writeLUTRegister      byte = 0x32
	writeOptionRegister   byte = 0x37
	borderWaveformControl byte = 0x3C
	endOption             byte = 0x3F
	ramXRange             byte = 0x44
	ramYRange             byte = 0x45
	ramXCounter           byte = 0x4E
	ramYCounter           byte = 0x4F
)

// Mode selects the refresh waveform.
type Mode int

const (
	Full Mode = iota
	Partial
)

func (m Mode) String() string {
	if m == Partial {
		return "partial"
	}
	return "full"
}

// RAM selects which controller RAM plane a framebuffer write lands in.
// The value is the controller's write command for that plane.
type RAM byte

const (
	// RAMCurrent is the plane shown by the next refresh.
	RAMCurrent RAM = 0x24
	// RAMPrevious is the baseline plane partial refreshes diff against.
	RAMPrevious RAM = 0x26
)

// State is the panel state machine position. Owned by the driver;
// everything else observes it through Busy and State.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateBusy
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateSleeping:
		return "sleeping"
	}
	return "uninitialized"
}

// Opts holds the panel configuration.
type Opts struct {
	Width  int
	Height int

	// Waveform tables loaded during Init and InitPartial.
	FullUpdate    LUT
	PartialUpdate LUT

	// Bound and poll interval for busy-line waits.
	BusyTimeout time.Duration
	BusyPoll    time.Duration
}

// DefaultOpts returns the configuration for the stock 2.13" panel.
func DefaultOpts() *Opts {
	return &Opts{
		Width:         Width,
		Height:        Height,
		FullUpdate:    wfFull2in13,
		PartialUpdate: wfPartial2in13,
		BusyTimeout:   6 * time.Second,
		BusyPoll:      10 * time.Millisecond,
	}
}

// BufferLen is the packed framebuffer size: rows padded to whole
// bytes, MSB first.
func (o *Opts) BufferLen() int {
	return (o.Width + 7) / 8 * o.Height
}

// EPD sequences the vendor command protocol over a Transport. It is
// not safe for concurrent use; the refresh task owns it.
type EPD struct {
	t    Transport
	opts Opts

	state State
	mode  Mode // waveform currently loaded
}

// New wires a driver to a transport. The panel is untouched until
// Init; the state machine starts Uninitialized.
func New(t Transport, opts *Opts) (*EPD, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("epd: invalid geometry %dx%d", opts.Width, opts.Height)
	}
	for _, lut := range []LUT{opts.FullUpdate, opts.PartialUpdate} {
		if len(lut) != 159 {
			return nil, fmt.Errorf("epd: waveform table must be 159 bytes, got %d", len(lut))
		}
	}
	return &EPD{t: t, opts: *opts, state: StateUninitialized}, nil
}

// Busy reports whether a refresh is in flight.
func (e *EPD) Busy() bool {
	return e.state == StateBusy
}

// State returns the panel state machine position.
func (e *EPD) State() State {
	return e.state
}

func (e *EPD) sendCommand(cmd byte) error {
	if err := e.t.WriteCommand(cmd); err != nil {
		return &BusError{Op: fmt.Sprintf("command %#02x", cmd), Err: err}
	}
	return nil
}

func (e *EPD) sendDataBulk(data []byte) error {
	if err := e.t.WriteData(data); err != nil {
		return &BusError{Op: "data", Err: err}
	}
	return nil
}

// waitBusy polls the busy line until it clears or timeout elapses.
func (e *EPD) waitBusy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		busy, err := e.t.ReadBusy()
		if err != nil {
			return &BusError{Op: "busy read", Err: err}
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (waited %v)", ErrBusyTimeout, timeout)
		}
		time.Sleep(e.opts.BusyPoll)
	}
}

// errorHandler accumulates the first failure across a command
// sequence so the init paths can stay linear.
type errorHandler struct {
	e   *EPD
	err error
}

func (eh *errorHandler) command(cmd byte) {
	if eh.err == nil {
		eh.err = eh.e.sendCommand(cmd)
	}
}

func (eh *errorHandler) data(data ...byte) {
	if eh.err == nil {
		eh.err = eh.e.sendDataBulk(data)
	}
}

func (eh *errorHandler) waitBusy() {
	if eh.err == nil {
		eh.err = eh.e.waitBusy(eh.e.opts.BusyTimeout)
	}
}

// Init runs the full power-on sequence: reset pulse, software reset,
// driver output control, data entry mode, addressing window over the
// whole panel, border waveform, temperature sensor and RAM option
// bytes, then the full-update waveform table. Idempotent: from
// Uninitialized, Idle or Sleeping it always lands in Idle.
func (e *EPD) Init() error {
	if e.state == StateBusy {
		return ErrPanelBusy
	}
	if err := e.t.PulseReset(); err != nil {
		return &BusError{Op: "reset", Err: err}
	}
	if err := e.waitBusy(e.opts.BusyTimeout); err != nil {
		return err
	}

	eh := errorHandler{e: e}
	eh.command(swReset)
	if eh.err == nil {
		time.Sleep(10 * time.Millisecond)
	}

	eh.command(driverOutputControl)
	eh.data(0xF9, 0x00, 0x00)

	// Source from S8 to S167, increment x then y.
	eh.command(dataEntryMode)
	eh.data(0x03)
	if eh.err != nil {
		e.state = StateUninitialized
		return eh.err
	}

	if err := e.SetWindow(0, 0, e.opts.Width-1, e.opts.Height-1); err != nil {
		e.state = StateUninitialized
		return err
	}

	eh.command(borderWaveformControl)
	eh.data(0x05)

	eh.command(tempSensorSelect)
	eh.data(0x80) // internal sensor

	eh.command(displayUpdateControl1)
	eh.data(0x00, 0x80)
	if eh.err == nil {
		eh.err = e.setLUT(e.opts.FullUpdate)
	}
	eh.waitBusy()
	if eh.err != nil {
		e.state = StateUninitialized
		return eh.err
	}

	e.state = StateIdle
	e.mode = Full
	return nil
}

// InitPartial swaps in the partial-update waveform: reset pulse,
// partial LUT, display option register, border waveform, then one
// activation to latch the settings. Leaves the panel Idle with the
// partial waveform loaded; WriteFramebuffer plus
// TriggerRefresh(Partial) may follow.
func (e *EPD) InitPartial() error {
	if e.state == StateBusy {
		return ErrPanelBusy
	}
	if err := e.t.PulseReset(); err != nil {
		return &BusError{Op: "reset", Err: err}
	}
	if err := e.waitBusy(e.opts.BusyTimeout); err != nil {
		return err
	}

	if err := e.setLUT(e.opts.PartialUpdate); err != nil {
		e.state = StateUninitialized
		return err
	}

	eh := errorHandler{e: e}
	eh.command(writeOptionRegister)
	eh.data(0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00)

	eh.command(borderWaveformControl)
	eh.data(0x80)

	eh.command(displayUpdateControl2)
	eh.data(0xC0)
	eh.command(masterActivation)
	eh.waitBusy()
	if eh.err != nil {
		e.state = StateUninitialized
		return eh.err
	}

	if err := e.SetWindow(0, 0, e.opts.Width-1, e.opts.Height-1); err != nil {
		e.state = StateUninitialized
		return err
	}
	if err := e.SetCursor(0, 0); err != nil {
		e.state = StateUninitialized
		return err
	}

	e.state = StateIdle
	e.mode = Partial
	return nil
}

// setLUT loads a waveform table: 153 bytes through the LUT register,
// then the trailing end option, gate voltage, source voltages and
// VCOM values through their own commands.
func (e *EPD) setLUT(lut LUT) error {
	eh := errorHandler{e: e}
	eh.command(writeLUTRegister)
	eh.data(lut[0:153]...)
	eh.waitBusy()

	eh.command(endOption)
	eh.data(lut[153])

	eh.command(gateVoltage)
	eh.data(lut[154])

	eh.command(sourceVoltage)
	eh.data(lut[155], lut[156], lut[157])

	eh.command(writeVCOM)
	eh.data(lut[158])
	return eh.err
}

// SetWindow programs the RAM addressing rectangle. X coordinates are
// used in units of 8 pixels; the controller ignores the low 3 bits,
// so callers pass multiples of 8 (or the full extent).
func (e *EPD) SetWindow(x0, y0, x1, y1 int) error {
	eh := errorHandler{e: e}
	eh.command(ramXRange)
	eh.data(byte(x0>>3), byte(x1>>3))

	eh.command(ramYRange)
	eh.data(byte(y0), byte(y0>>8), byte(y1), byte(y1>>8))
	return eh.err
}

// SetCursor positions the RAM address counters.
func (e *EPD) SetCursor(x, y int) error {
	eh := errorHandler{e: e}
	eh.command(ramXCounter)
	eh.data(byte(x))

	eh.command(ramYCounter)
	eh.data(byte(y), byte(y>>8))
	return eh.err
}

// WriteFramebuffer streams a packed buffer into the given RAM plane.
// The panel must be Idle and the buffer must match the panel's packed
// size exactly.
func (e *EPD) WriteFramebuffer(buf []byte, target RAM) error {
	if e.state == StateBusy {
		return ErrPanelBusy
	}
	if e.state != StateIdle {
		return fmt.Errorf("epd: panel %s, initialize first", e.state)
	}
	if len(buf) != e.opts.BufferLen() {
		return fmt.Errorf("epd: framebuffer is %d bytes, want %d: %w",
			len(buf), e.opts.BufferLen(), ErrDimensionMismatch)
	}
	if err := e.sendCommand(byte(target)); err != nil {
		return err
	}
	return e.sendDataBulk(buf)
}

// TriggerRefresh runs the activation sequence for the given mode and
// busy-waits until the panel settles. Full refreshes park the panel in
// deep sleep afterwards (even after a timeout, best effort); partial
// refreshes leave it Idle and addressable for the next update. The
// loaded waveform must match the requested mode.
func (e *EPD) TriggerRefresh(mode Mode) error {
	if e.state == StateBusy {
		return ErrPanelBusy
	}
	if e.state != StateIdle {
		return fmt.Errorf("epd: panel %s, initialize first", e.state)
	}
	if mode != e.mode {
		return fmt.Errorf("epd: %s waveform loaded, want %s", e.mode, mode)
	}

	e.state = StateBusy
	eh := errorHandler{e: e}
	eh.command(displayUpdateControl2)
	if mode == Full {
		eh.data(0xF7)
	} else {
		eh.data(0xCF)
	}
	eh.command(masterActivation)
	if eh.err != nil {
		e.state = StateUninitialized
		return eh.err
	}

	waitErr := e.waitBusy(e.opts.BusyTimeout)
	if mode == Full {
		// Park the panel regardless; a timed-out refresh may still
		// settle on its own and should not keep drawing power.
		if sleepErr := e.EnterDeepSleep(); waitErr == nil {
			return sleepErr
		}
		return waitErr
	}
	if waitErr != nil {
		// Waveform state is unknown now; force a re-init.
		e.state = StateUninitialized
		return waitErr
	}
	e.state = StateIdle
	return nil
}

// EnterDeepSleep commands low-power mode. The panel needs a full Init
// before any further writes.
func (e *EPD) EnterDeepSleep() error {
	if err := e.sendCommand(deepSleepMode); err != nil {
		e.state = StateUninitialized
		return err
	}
	e.state = StateSleeping
	return nil
}

// DisplayBase seeds both RAM planes with the same buffer and runs a
// full refresh, leaving the panel awake. Partial refreshes diff
// against the baseline plane this establishes, so the startup screen
// goes through here before the scheduler takes over.
func (e *EPD) DisplayBase(buf []byte) error {
	if e.mode != Full {
		return fmt.Errorf("epd: %s waveform loaded, want full", e.mode)
	}
	if err := e.WriteFramebuffer(buf, RAMCurrent); err != nil {
		return err
	}
	if err := e.WriteFramebuffer(buf, RAMPrevious); err != nil {
		return err
	}
	return e.activateFull()
}

// Clear fills the current RAM plane with a solid color (0xFF is
// white) and runs a full refresh, leaving the panel awake. This is
// the maintenance path used by the reset subcommand.
func (e *EPD) Clear(color byte) error {
	buf := make([]byte, e.opts.BufferLen())
	for i := range buf {
		buf[i] = color
	}
	if err := e.WriteFramebuffer(buf, RAMCurrent); err != nil {
		return err
	}
	return e.activateFull()
}

// activateFull runs the full activation sequence and leaves the panel
// Idle, unlike TriggerRefresh(Full) which parks it in deep sleep.
func (e *EPD) activateFull() error {
	e.state = StateBusy
	eh := errorHandler{e: e}
	eh.command(displayUpdateControl2)
	eh.data(0xF7)
	eh.command(masterActivation)
	eh.waitBusy()
	if eh.err != nil {
		e.state = StateUninitialized
		return eh.err
	}
	e.state = StateIdle
	return nil
}
