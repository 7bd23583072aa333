// Package leds drives the front-panel status LEDs through the kernel
// LED class. Each LED exposes brightness and trigger attributes under
// /sys/class/leds/LED<n>_<color>; blinking is delegated to the kernel
// timer trigger so it keeps running without userspace involvement.
package leds

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultRoot is the kernel LED class directory.
const DefaultRoot = "/sys/class/leds"

// Blink half-period handed to the timer trigger, in milliseconds.
const blinkDelayMS = "100"

// Color selects a LED color channel.
type Color string

const (
	Red   Color = "R"
	Green Color = "G"
	Blue  Color = "B"
)

// LED controls one color channel of a front-panel LED. Safe for
// concurrent use; the input task and the LED task both touch the
// system LED.
type LED struct {
	mu       sync.Mutex
	path     string
	blinking bool
}

// New returns the LED for number (1..3) and color, rooted at the
// kernel LED class directory (DefaultRoot outside of tests).
func New(root string, number int, color Color) (*LED, error) {
	if number < 1 || number > 3 {
		return nil, fmt.Errorf("leds: no LED%d on this board", number)
	}
	switch color {
	case Red, Green, Blue:
	default:
		return nil, fmt.Errorf("leds: unknown color %q", color)
	}
	return &LED{path: filepath.Join(root, fmt.Sprintf("LED%d_%s", number, color))}, nil
}

func (l *LED) write(attr, value string) error {
	if err := os.WriteFile(filepath.Join(l.path, attr), []byte(value), 0o644); err != nil {
		return fmt.Errorf("leds: %w", err)
	}
	return nil
}

// On sets the LED solid.
func (l *LED) On() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write("brightness", "1")
}

// Off extinguishes the LED.
func (l *LED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write("brightness", "0")
}

// Blink starts or stops the kernel timer trigger. Starting an
// already-blinking LED is a no-op so the phase is preserved; stop and
// restart explicitly to re-align a batch of LEDs.
func (l *LED) Blink(start bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if start && l.blinking {
		return nil
	}
	if !start {
		l.blinking = false
		return l.write("trigger", "none")
	}
	if err := l.write("trigger", "timer"); err != nil {
		return err
	}
	if err := l.write("delay_on", blinkDelayMS); err != nil {
		return err
	}
	if err := l.write("delay_off", blinkDelayMS); err != nil {
		return err
	}
	l.blinking = true
	return nil
}

// Reset extinguishes every color channel of the numbered LED and
// drops any trigger, whatever state the previous run left behind.
func Reset(root string, number int) error {
	for _, color := range []Color{Red, Green, Blue} {
		l, err := New(root, number, color)
		if err != nil {
			return err
		}
		if err := l.write("brightness", "0"); err != nil {
			return err
		}
		if err := l.write("trigger", "none"); err != nil {
			return err
		}
	}
	return nil
}
