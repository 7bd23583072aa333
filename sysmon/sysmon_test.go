package sysmon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records commands and answers them from a canned table
// keyed on the joined command line.
type fakeRunner struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeRunner) run(name string, arg ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, arg...), " ")
	f.calls = append(f.calls, cmd)
	if f.fail[cmd] {
		return nil, errors.New("exit status 1")
	}
	return []byte("ok"), nil
}

func newTestMonitor(f *fakeRunner) *Monitor {
	m := New()
	m.run = f.run
	m.chargerLevel = func() (int, error) { return 1, nil }
	return m
}

func TestParsePMICByte(t *testing.T) {
	cases := []struct {
		out     string
		want    uint8
		wantErr bool
	}{
		{"register 0x00: a0\n", 0xa0, false},
		{"register 0x1d: 0x7a\n", 0x7a, false},
		{"a0\n", 0xa0, false},
		{"", 0, true},
		{"register 0x00: zz", 0, true},
	}
	for _, c := range cases {
		got, err := parsePMICByte(c.out)
		if c.wantErr {
			if err == nil {
				t.Errorf("parsePMICByte(%q): expected error", c.out)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePMICByte(%q): %v", c.out, err)
			continue
		}
		if got != c.want {
			t.Errorf("parsePMICByte(%q) = %#x, want %#x", c.out, got, c.want)
		}
	}
}

func TestBatteryPercentThresholds(t *testing.T) {
	cases := []struct {
		volts float64
		want  int
	}{
		{4.2, 100},
		{4.0, 75},
		{3.8, 75},
		{3.6, 50},
		{3.3, 25},
		{3.0, 0},
	}
	for _, c := range cases {
		if got := batteryPercent(c.volts); got != c.want {
			t.Errorf("batteryPercent(%v) = %d, want %d", c.volts, got, c.want)
		}
	}
}

func TestBatteryStateOnBattery(t *testing.T) {
	m := newTestMonitor(&fakeRunner{})
	m.chargerLevel = func() (int, error) { return 0, nil }
	state, err := m.Battery()
	if err != nil {
		t.Fatal(err)
	}
	if state != BatteryOnBattery {
		t.Errorf("state = %v, want %v", state, BatteryOnBattery)
	}
}

func TestBatteryStateUnknownWrapsSentinel(t *testing.T) {
	m := newTestMonitor(&fakeRunner{})
	m.chargerLevel = func() (int, error) { return 0, errors.New("no such chip") }
	state, err := m.Battery()
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("error %v does not wrap ErrUnknownMetric", err)
	}
	if state != BatteryUnknown {
		t.Errorf("state = %v, want %v", state, BatteryUnknown)
	}
}

func TestServiceActive(t *testing.T) {
	f := &fakeRunner{fail: map[string]bool{
		"systemctl is-active --quiet docker.service": true,
	}}
	m := newTestMonitor(f)
	if m.ServiceActive("docker.service") {
		t.Error("inactive unit reported active")
	}
	if !m.ServiceActive("nginx") {
		t.Error("active unit reported inactive")
	}
}

func TestWebserverToggleCommands(t *testing.T) {
	f := &fakeRunner{}
	m := newTestMonitor(f)
	m.WebUnits = []string{"web-back", "nginx"}
	m.APUnit = "wpa_supplicant-ap"

	m.StartWebserver()
	m.StopWebserver()

	want := []string{
		"systemctl start web-back",
		"systemctl start nginx",
		"systemctl stop web-back",
		"systemctl stop nginx",
		"systemctl stop wpa_supplicant-ap",
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, f.calls[i], want[i])
		}
	}
}

func TestParseOSRelease(t *testing.T) {
	content := `NAME="Example OS"
VERSION_ID=12
PRETTY_NAME="Example OS 12 (appliance)"
`
	if got := parseOSRelease(content, "PRETTY_NAME"); got != "Example OS 12 (appliance)" {
		t.Errorf("PRETTY_NAME = %q", got)
	}
	if got := parseOSRelease(content, "VERSION_ID"); got != "12" {
		t.Errorf("VERSION_ID = %q", got)
	}
	if got := parseOSRelease(content, "MISSING"); got != "" {
		t.Errorf("MISSING = %q, want empty", got)
	}
}

func TestEnableAccessPointRewritesPassword(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "wpa_supplicant-ap.conf")
	orig := "network={\n\tssid=\"PANEL\"\n\tpsk=\"oldsecret\"\n}\n"
	if err := os.WriteFile(conf, []byte(orig), 0o600); err != nil {
		t.Fatal(err)
	}

	f := &fakeRunner{fail: map[string]bool{
		// AP not active yet, so the is-active probe must fail.
		"systemctl is-active --quiet wpa_supplicant-ap": true,
	}}
	m := newTestMonitor(f)
	m.APConfigPath = conf

	passwd, err := m.EnableAccessPoint()
	if err != nil {
		t.Fatal(err)
	}
	if len(passwd) != 8 {
		t.Errorf("password %q: want 8 characters", passwd)
	}
	for _, r := range passwd {
		if r < 'a' || r > 'z' {
			t.Errorf("password %q: want lowercase letters only", passwd)
			break
		}
	}
	got, err := os.ReadFile(conf)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("psk=%q", passwd)
	if !strings.Contains(string(got), want) {
		t.Errorf("config %q does not contain %q", got, want)
	}
	if strings.Contains(string(got), "oldsecret") {
		t.Error("old password still present in config")
	}
	if m.WifiPassword() != passwd {
		t.Errorf("WifiPassword() = %q, want %q", m.WifiPassword(), passwd)
	}

	var restarted bool
	for _, c := range f.calls {
		if c == "systemctl restart wpa_supplicant-ap" {
			restarted = true
		}
	}
	if !restarted {
		t.Errorf("access point unit never restarted: %v", f.calls)
	}
}

func TestEnableAccessPointIsIdempotentWhileActive(t *testing.T) {
	f := &fakeRunner{} // is-active succeeds, AP already up
	m := newTestMonitor(f)
	m.wifiPasswd = "existing1"

	passwd, err := m.EnableAccessPoint()
	if err != nil {
		t.Fatal(err)
	}
	if passwd != "existing1" {
		t.Errorf("password = %q, want existing password preserved", passwd)
	}
	for _, c := range f.calls {
		if strings.Contains(c, "restart") {
			t.Errorf("unit restarted while already active: %v", f.calls)
		}
	}
}
