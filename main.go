// Command inkstat runs the e-paper status appliance: a panel showing
// rotating status views, driven alongside the front LEDs and buttons.
//
// Subcommands: "app" (the default) runs the control loop until
// SIGINT/SIGTERM; "reset" initializes the panel and wipes it white.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/inkstat/inkstat/app"
)

func main() {
	cfg := app.DefaultConfig()
	spidev := flag.String("spi", cfg.SPIDev, "SPI port name, empty for the first registered port")
	name := flag.String("name", cfg.Name, "appliance name shown on the home view")
	custom := flag.String("custom-image", cfg.CustomImagePath, "image file for the custom view")
	ledroot := flag.String("led-root", cfg.LEDRoot, "kernel LED class directory")
	fullEvery := flag.Duration("full-every", cfg.FullEvery, "period between full panel refreshes")
	debounce := flag.Duration("debounce", cfg.Debounce, "dead time between accepted presses per button")
	flag.Parse()

	cfg.SPIDev = *spidev
	cfg.Name = *name
	cfg.CustomImagePath = *custom
	cfg.LEDRoot = *ledroot
	cfg.FullEvery = *fullEvery
	cfg.Debounce = *debounce

	switch flag.Arg(0) {
	case "", "app":
		a, err := app.New(cfg)
		if err != nil {
			log.Fatalf("startup: %s", err)
		}
		done := make(chan struct{})
		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			close(done)
		}()
		if err := a.RunForever(done); err != nil {
			log.Fatalf("run: %s", err)
		}
	case "reset":
		a, err := app.New(cfg)
		if err != nil {
			log.Fatalf("startup: %s", err)
		}
		if err := a.ResetPanel(); err != nil {
			log.Fatalf("reset: %s", err)
		}
	default:
		log.Fatalf("unknown command %q (want app or reset)", flag.Arg(0))
	}
}
