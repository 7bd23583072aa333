package app

import (
	"time"

	"github.com/inkstat/inkstat/epd"
	"github.com/inkstat/inkstat/leds"
)

// Config collects the appliance tunables. DefaultConfig matches the
// carrier board wiring; the command line overrides the paths.
type Config struct {
	// SPIDev is the SPI port name, empty for the first registered one.
	SPIDev string
	// Pins locates the panel's reset, data/command and busy lines.
	Pins epd.Pins

	// Tick is the scheduler poll period.
	Tick time.Duration
	// FullEvery bounds the age of the displayed image: a full refresh
	// runs at least this often. Partial updates in between answer
	// button presses quickly.
	FullEvery time.Duration
	// PartialThenFull schedules a compensating full refresh right
	// after every partial one, trading refresh time for contrast.
	PartialThenFull bool

	// EventWait bounds the input task's blocking wait so shutdown is
	// noticed even when no button is ever pressed.
	EventWait time.Duration
	// Debounce is the dead time between accepted presses per button.
	Debounce time.Duration
	// A select press still held after HoldCount polls HoldPoll apart
	// counts as a long-hold.
	HoldCount int
	HoldPoll  time.Duration

	// LEDTick is the LED task cadence.
	LEDTick time.Duration
	// LEDRoot is the kernel LED class directory.
	LEDRoot string
	// ServiceUnit is probed for the system LED (green when active).
	ServiceUnit string

	// SelectChip and SelectLine locate the select button.
	SelectChip string
	SelectLine int
	// NavChip carries both navigation buttons.
	NavChip  string
	NextLine int
	PrevLine int

	// Name brands the home view and names the fallback access point.
	Name string
	// CustomImagePath adds the custom view to the cycle when the file
	// exists.
	CustomImagePath string
}

// DefaultConfig returns the stock appliance configuration.
func DefaultConfig() Config {
	return Config{
		Pins: epd.DefaultPins(),

		Tick:            500 * time.Millisecond,
		FullEvery:       60 * time.Second,
		PartialThenFull: true,

		EventWait: 10 * time.Second,
		Debounce:  3 * time.Second,
		HoldCount: 30,
		HoldPoll:  100 * time.Millisecond,

		LEDTick:     time.Second,
		LEDRoot:     leds.DefaultRoot,
		ServiceUnit: "docker.service",

		SelectChip: "gpiochip0",
		SelectLine: 18,
		NavChip:    "gpiochip2",
		NextLine:   1,
		PrevLine:   0,

		Name:            "inkstat",
		CustomImagePath: "/var/lib/inkstat/custom.jpg",
	}
}
