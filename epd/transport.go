package epd

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Transport moves bytes to the panel. It knows nothing about command
// meanings; the command/data distinction is just the level of the DC
// line during the transfer. Every call blocks until the transfer
// completes.
type Transport interface {
	// WriteCommand sends a single command byte with DC low.
	WriteCommand(cmd byte) error
	// WriteData sends payload bytes with DC high.
	WriteData(data []byte) error
	// ReadBusy samples the busy line. True means the panel is
	// mid-operation and must not be sent new commands.
	ReadBusy() (bool, error)
	// PulseReset toggles the reset line through its wake pulse.
	PulseReset() error
	Close() error
}

// Pins names the GPIO character device lines wired to the panel.
// Chip select is owned by spidev, so only reset, data/command and busy
// are requested here.
type Pins struct {
	Chip string
	RST  int
	DC   int
	Busy int
}

// DefaultPins is the carrier board wiring.
func DefaultPins() Pins {
	return Pins{Chip: "gpiochip1", RST: 13, DC: 14, Busy: 12}
}

// spidev transfers are capped at the kernel's default bufsiz.
const spiChunk = 4096

// SPITransport drives the panel over Linux spidev plus three GPIO
// character device lines.
type SPITransport struct {
	port spi.PortCloser
	conn spi.Conn
	rst  *gpiocdev.Line
	dc   *gpiocdev.Line
	busy *gpiocdev.Line
}

var _ Transport = &SPITransport{}

// NewSPITransport opens the SPI device and requests the panel lines.
// A failure here means the display hardware is unusable and should
// abort startup.
func NewSPITransport(dev string, pins Pins) (*SPITransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: host init: %w", err)
	}

	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("epd: open %s: %w", dev, err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("epd: connect %s: %w", dev, err)
	}

	t := &SPITransport{port: port, conn: conn}

	t.rst, err = gpiocdev.RequestLine(pins.Chip, pins.RST,
		gpiocdev.AsOutput(1), gpiocdev.WithConsumer("epd-rst"))
	if err == nil {
		t.dc, err = gpiocdev.RequestLine(pins.Chip, pins.DC,
			gpiocdev.AsOutput(0), gpiocdev.WithConsumer("epd-dc"))
	}
	if err == nil {
		t.busy, err = gpiocdev.RequestLine(pins.Chip, pins.Busy,
			gpiocdev.AsInput, gpiocdev.WithConsumer("epd-busy"))
	}
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("epd: request %s lines: %w", pins.Chip, err)
	}
	return t, nil
}

func (t *SPITransport) WriteCommand(cmd byte) error {
	if err := t.dc.SetValue(0); err != nil {
		return err
	}
	return t.conn.Tx([]byte{cmd}, nil)
}

func (t *SPITransport) WriteData(data []byte) error {
	if err := t.dc.SetValue(1); err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > spiChunk {
			n = spiChunk
		}
		if err := t.conn.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *SPITransport) ReadBusy() (bool, error) {
	v, err := t.busy.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// PulseReset wakes the controller: high 20ms, low 10ms, high 20ms.
func (t *SPITransport) PulseReset() error {
	if err := t.rst.SetValue(1); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	if err := t.rst.SetValue(0); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	if err := t.rst.SetValue(1); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

func (t *SPITransport) Close() error {
	for _, l := range []*gpiocdev.Line{t.rst, t.dc, t.busy} {
		if l != nil {
			l.Close()
		}
	}
	if t.port != nil {
		return t.port.Close()
	}
	return nil
}
