// Package sysmon collects the system health facts shown on the panel
// and drives the small amount of system plumbing the appliance needs
// (service probes, charger state, wifi access point fallback).
//
// Every query degrades gracefully: a failed probe returns an error
// wrapped around ErrUnknownMetric and the caller substitutes a
// placeholder instead of aborting a refresh.
package sysmon

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/warthog618/go-gpiocdev"
)

// ErrUnknownMetric reports that a status probe could not produce a
// value. Callers show a placeholder and carry on.
var ErrUnknownMetric = errors.New("sysmon: metric unavailable")

// BatteryState classifies the power situation reported on the status
// view and the charge LED.
type BatteryState int

const (
	BatteryUnknown BatteryState = iota
	BatteryPowered
	BatteryOnBattery
	BatteryCritical
)

func (s BatteryState) String() string {
	switch s {
	case BatteryPowered:
		return "POWERED"
	case BatteryOnBattery:
		return "ON BATTERY"
	case BatteryCritical:
		return "CRITICAL BATTERY"
	}
	return "UNKNOWN"
}

var pskLine = regexp.MustCompile(`(?m)psk=.*`)

// Monitor answers the status questions the views and the LED task
// ask. The zero value is not usable; call New.
type Monitor struct {
	// DataMount is the filesystem whose usage is reported as storage.
	DataMount string
	// OSReleasePath is parsed for the PRETTY_NAME shown on the home view.
	OSReleasePath string
	// APConfigPath is the wpa_supplicant config of the fallback access
	// point; its psk line is rewritten when the AP comes up.
	APConfigPath string
	// APUnit is the systemd unit running the access point.
	APUnit string
	// StationUnit is the normal wifi client unit, stopped while the
	// access point is active.
	StationUnit string
	// WebUnits are started and stopped together when the setup view
	// toggles the embedded webserver. The first unit is the one probed
	// for "is the webserver running".
	WebUnits []string
	// ChargerChip and ChargerLine locate the charger presence input,
	// active high.
	ChargerChip string
	ChargerLine int

	run          func(name string, arg ...string) ([]byte, error)
	chargerLevel func() (int, error)

	mu         sync.Mutex
	wifiPasswd string
}

// New returns a Monitor wired to the live system.
func New() *Monitor {
	m := &Monitor{
		DataMount:     "/",
		OSReleasePath: "/etc/os-release",
		APConfigPath:  "/etc/wpa_supplicant/wpa_supplicant-ap.conf",
		APUnit:        "wpa_supplicant-ap",
		StationUnit:   "wpa_supplicant@wlan0",
		WebUnits:      []string{"inkstat-web", "nginx"},
		ChargerChip:   "gpiochip2",
		ChargerLine:   10,
	}
	m.run = func(name string, arg ...string) ([]byte, error) {
		return exec.Command(name, arg...).Output()
	}
	m.chargerLevel = m.readChargerLine
	return m
}

func (m *Monitor) readChargerLine() (int, error) {
	l, err := gpiocdev.RequestLine(m.ChargerChip, m.ChargerLine,
		gpiocdev.AsInput, gpiocdev.WithConsumer("charger-detect"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Value()
}

// CPUPercent reports current CPU load.
func (m *Monitor) CPUPercent() (float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil || len(pcts) == 0 {
		return 0, fmt.Errorf("%w: cpu: %v", ErrUnknownMetric, err)
	}
	return pcts[0], nil
}

// MemoryPercent reports RAM usage.
func (m *Monitor) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("%w: memory: %v", ErrUnknownMetric, err)
	}
	return vm.UsedPercent, nil
}

// StoragePercent reports usage of the data filesystem.
func (m *Monitor) StoragePercent() (float64, error) {
	du, err := disk.Usage(m.DataMount)
	if err != nil {
		return 0, fmt.Errorf("%w: disk %s: %v", ErrUnknownMetric, m.DataMount, err)
	}
	return du.UsedPercent, nil
}

// Uptime reports time since boot.
func (m *Monitor) Uptime() (time.Duration, error) {
	secs, err := host.Uptime()
	if err != nil {
		return 0, fmt.Errorf("%w: uptime: %v", ErrUnknownMetric, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// CPUTemperature reports the SoC temperature in degrees Celsius.
func (m *Monitor) CPUTemperature() (float64, error) {
	temps, err := host.SensorsTemperatures()
	if err != nil {
		return 0, fmt.Errorf("%w: temperature: %v", ErrUnknownMetric, err)
	}
	for _, t := range temps {
		if strings.Contains(t.SensorKey, "cpu_thermal") || strings.Contains(t.SensorKey, "cpu-thermal") {
			return t.Temperature, nil
		}
	}
	return 0, fmt.Errorf("%w: no cpu thermal sensor", ErrUnknownMetric)
}

// IPAddress reports the address of the interface holding the default
// route.
func (m *Monitor) IPAddress() (net.IP, error) {
	ip, err := gateway.DiscoverInterface()
	if err != nil {
		return nil, fmt.Errorf("%w: ip: %v", ErrUnknownMetric, err)
	}
	return ip, nil
}

// Hostname reports the machine hostname.
func (m *Monitor) Hostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("%w: hostname: %v", ErrUnknownMetric, err)
	}
	return h, nil
}

// OSPrettyName reports the PRETTY_NAME from os-release.
func (m *Monitor) OSPrettyName() (string, error) {
	b, err := os.ReadFile(m.OSReleasePath)
	if err != nil {
		return "", fmt.Errorf("%w: os-release: %v", ErrUnknownMetric, err)
	}
	name := parseOSRelease(string(b), "PRETTY_NAME")
	if name == "" {
		return "", fmt.Errorf("%w: no PRETTY_NAME in %s", ErrUnknownMetric, m.OSReleasePath)
	}
	return name, nil
}

func parseOSRelease(content, key string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, key+"=") {
			return strings.Trim(strings.TrimPrefix(line, key+"="), `"`)
		}
	}
	return ""
}

// InternetReachable sends a single short ping to a public resolver.
func (m *Monitor) InternetReachable() bool {
	_, err := m.run("ping", "-c", "1", "-W", "1", "8.8.8.8")
	return err == nil
}

// ServiceActive reports whether a systemd unit is active.
func (m *Monitor) ServiceActive(unit string) bool {
	_, err := m.run("systemctl", "is-active", "--quiet", unit)
	return err == nil
}

// WebserverActive reports whether the embedded webserver is up.
func (m *Monitor) WebserverActive() bool {
	if len(m.WebUnits) == 0 {
		return false
	}
	return m.ServiceActive(m.WebUnits[0])
}

// StartWebserver brings the embedded webserver units up.
func (m *Monitor) StartWebserver() {
	for _, unit := range m.WebUnits {
		if _, err := m.run("systemctl", "start", unit); err != nil {
			log.Printf("sysmon: start %s: %v", unit, err)
		}
	}
}

// StopWebserver brings the webserver units down along with the
// fallback access point.
func (m *Monitor) StopWebserver() {
	units := append(append([]string{}, m.WebUnits...), m.APUnit)
	for _, unit := range units {
		if _, err := m.run("systemctl", "stop", unit); err != nil {
			log.Printf("sysmon: stop %s: %v", unit, err)
		}
	}
}

// Reboot asks the system to restart. Long-hold on the select button
// lands here.
func (m *Monitor) Reboot() {
	if _, err := m.run("reboot"); err != nil {
		log.Printf("sysmon: reboot: %v", err)
	}
}

// BatteryVoltage reads the battery sense input from the PMIC and maps
// it to a coarse charge percentage (100/75/50/25/0).
func (m *Monitor) BatteryVoltage() (float64, int, error) {
	model, err := m.pmicRead("0")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: pmic model: %v", ErrUnknownMetric, err)
	}
	var volts float64
	if model == 0xa0 {
		// MXL7704, battery sense on AIN0
		raw, err := m.pmicRead("1d")
		if err != nil {
			return 0, 0, fmt.Errorf("%w: battery: %v", ErrUnknownMetric, err)
		}
		volts = 2 * float64(raw) / 100
	} else {
		// DA9090
		raw, err := m.pmicRead("0x13")
		if err != nil {
			return 0, 0, fmt.Errorf("%w: battery: %v", ErrUnknownMetric, err)
		}
		volts = 4 * float64(raw) / 100
	}
	return volts, batteryPercent(volts), nil
}

func (m *Monitor) pmicRead(register string) (uint8, error) {
	out, err := m.run("vcgencmd", "pmicrd", register)
	if err != nil {
		return 0, err
	}
	return parsePMICByte(string(out))
}

// parsePMICByte extracts the register value from vcgencmd pmicrd
// output, whose last field is the hex byte.
func parsePMICByte(out string) (uint8, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty pmicrd output")
	}
	raw := strings.TrimPrefix(fields[len(fields)-1], "0x")
	v, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("pmicrd output %q: %v", out, err)
	}
	return uint8(v), nil
}

func batteryPercent(volts float64) int {
	switch {
	case volts > 4:
		return 100
	case volts > 3.75:
		return 75
	case volts > 3.5:
		return 50
	case volts > 3.25:
		return 25
	}
	return 0
}

// Battery classifies the power situation. The charger presence line is
// active high; low means the board runs on battery.
func (m *Monitor) Battery() (BatteryState, error) {
	level, err := m.chargerLevel()
	if err != nil {
		return BatteryUnknown, fmt.Errorf("%w: charger line: %v", ErrUnknownMetric, err)
	}
	if level == 0 {
		return BatteryOnBattery, nil
	}
	_, percent, err := m.BatteryVoltage()
	if err != nil {
		return BatteryUnknown, err
	}
	if percent <= 25 {
		return BatteryCritical, nil
	}
	return BatteryPowered, nil
}

// EnableAccessPoint brings up the fallback wifi access point with a
// fresh password and reports that password. Calling it while the AP is
// already active keeps the existing password and changes nothing.
func (m *Monitor) EnableAccessPoint() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ServiceActive(m.APUnit) {
		return m.wifiPasswd, nil
	}
	log.Printf("sysmon: enabling wifi access point")
	passwd, err := randomPassword(8)
	if err != nil {
		return "", err
	}
	conf, err := os.ReadFile(m.APConfigPath)
	if err != nil {
		return "", fmt.Errorf("sysmon: read ap config: %w", err)
	}
	conf = pskLine.ReplaceAll(conf, []byte(`psk="`+passwd+`"`))
	if err := os.WriteFile(m.APConfigPath, conf, 0o600); err != nil {
		return "", fmt.Errorf("sysmon: write ap config: %w", err)
	}
	if _, err := m.run("systemctl", "stop", m.StationUnit); err != nil {
		log.Printf("sysmon: stop %s: %v", m.StationUnit, err)
	}
	if _, err := m.run("systemctl", "restart", m.APUnit); err != nil {
		return "", fmt.Errorf("sysmon: restart %s: %w", m.APUnit, err)
	}
	m.wifiPasswd = passwd
	return passwd, nil
}

// WifiPassword reports the password of the last access point bring-up,
// empty if the AP was never enabled by this process.
func (m *Monitor) WifiPassword() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wifiPasswd
}

func randomPassword(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("sysmon: password: %w", err)
	}
	for i := range b {
		b[i] = 'a' + b[i]%26
	}
	return string(b), nil
}
