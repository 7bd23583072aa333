package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/inkstat/inkstat/sysmon"
	"github.com/inkstat/inkstat/views"
)

type fakeLED struct{ ops []string }

func (l *fakeLED) On() error  { l.ops = append(l.ops, "on"); return nil }
func (l *fakeLED) Off() error { l.ops = append(l.ops, "off"); return nil }

func (l *fakeLED) Blink(start bool) error {
	l.ops = append(l.ops, fmt.Sprintf("blink-%v", start))
	return nil
}

func (l *fakeLED) last() string {
	if len(l.ops) == 0 {
		return ""
	}
	return l.ops[len(l.ops)-1]
}

type fakeStatus struct {
	active bool
	batt   sysmon.BatteryState
	err    error
}

func (f *fakeStatus) ServiceActive(string) bool { return f.active }

func (f *fakeStatus) Battery() (sysmon.BatteryState, error) { return f.batt, f.err }

func newLEDFixture(probes *fakeStatus) (*ledTask, *fakeLED, *fakeLED, *fakeLED, *fakeLED) {
	st := NewState([]views.View{views.Home})
	sysGreen, sysRed := &fakeLED{}, &fakeLED{}
	chgGreen, chgRed := &fakeLED{}, &fakeLED{}
	t := newLEDTask(DefaultConfig(), st, probes, sysGreen, sysRed, chgGreen, chgRed)
	return t, sysGreen, sysRed, chgGreen, chgRed
}

func TestLEDHealthyService(t *testing.T) {
	task, sysGreen, sysRed, chgGreen, chgRed := newLEDFixture(&fakeStatus{
		active: true,
		batt:   sysmon.BatteryPowered,
	})
	task.apply()

	wantGreen := []string{"blink-false", "on"}
	if len(sysGreen.ops) != 2 || sysGreen.ops[0] != wantGreen[0] || sysGreen.ops[1] != wantGreen[1] {
		t.Errorf("system green ops = %v, want %v", sysGreen.ops, wantGreen)
	}
	if sysRed.last() != "off" {
		t.Errorf("system red = %v, want off", sysRed.ops)
	}
	if chgGreen.last() != "on" || chgRed.last() != "off" {
		t.Errorf("charge LEDs = %v / %v, want green on, red off", chgGreen.ops, chgRed.ops)
	}
}

func TestLEDAmberWhenServiceDown(t *testing.T) {
	task, _, sysRed, _, _ := newLEDFixture(&fakeStatus{
		active: false,
		batt:   sysmon.BatteryPowered,
	})
	task.apply()

	if sysRed.last() != "on" {
		t.Errorf("system red = %v, want on while service is down", sysRed.ops)
	}
}

func TestLEDLeavesSystemLEDDuringRefresh(t *testing.T) {
	task, sysGreen, sysRed, chgGreen, _ := newLEDFixture(&fakeStatus{
		active: true,
		batt:   sysmon.BatteryPowered,
	})
	task.state.SetPanelBusy(true)
	task.apply()

	if len(sysGreen.ops) != 0 || len(sysRed.ops) != 0 {
		t.Errorf("system LED touched during refresh: %v / %v", sysGreen.ops, sysRed.ops)
	}
	if chgGreen.last() != "on" {
		t.Errorf("charge LED skipped during refresh: %v", chgGreen.ops)
	}
}

func TestLEDBatteryStates(t *testing.T) {
	cases := []struct {
		batt      sysmon.BatteryState
		wantGreen string
		wantRed   string
	}{
		{sysmon.BatteryPowered, "on", "off"},
		{sysmon.BatteryOnBattery, "on", "on"},
		{sysmon.BatteryCritical, "off", "on"},
	}
	for _, c := range cases {
		task, _, _, chgGreen, chgRed := newLEDFixture(&fakeStatus{
			active: true,
			batt:   c.batt,
		})
		task.apply()
		if chgGreen.last() != c.wantGreen || chgRed.last() != c.wantRed {
			t.Errorf("%v: charge LEDs = %v / %v, want %s / %s",
				c.batt, chgGreen.ops, chgRed.ops, c.wantGreen, c.wantRed)
		}
	}
}

func TestLEDUnknownBatteryLeavesChargeLED(t *testing.T) {
	task, _, _, chgGreen, chgRed := newLEDFixture(&fakeStatus{
		active: true,
		batt:   sysmon.BatteryUnknown,
		err:    errors.New("probe lost"),
	})
	task.apply()
	task.apply()

	if len(chgGreen.ops) != 0 || len(chgRed.ops) != 0 {
		t.Errorf("charge LEDs driven on unknown state: %v / %v", chgGreen.ops, chgRed.ops)
	}
}
