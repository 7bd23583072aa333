package epd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeTransport records wire traffic and plays back a scripted busy
// line.
type fakeTransport struct {
	ops    []string
	writes int // framebuffer-sized data writes
	resets int
	stuck  bool // busy line never clears
	err    error
}

func (f *fakeTransport) WriteCommand(cmd byte) error {
	if f.err != nil {
		return f.err
	}
	f.ops = append(f.ops, fmt.Sprintf("cmd:%02x", cmd))
	return nil
}

func (f *fakeTransport) WriteData(data []byte) error {
	if f.err != nil {
		return f.err
	}
	if len(data) <= 8 {
		f.ops = append(f.ops, "data:"+hex.EncodeToString(data))
	} else {
		f.ops = append(f.ops, fmt.Sprintf("data:%dB", len(data)))
		f.writes++
	}
	return nil
}

func (f *fakeTransport) ReadBusy() (bool, error) {
	return f.stuck, nil
}

func (f *fakeTransport) PulseReset() error {
	f.resets++
	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) trace() string {
	return strings.Join(f.ops, " ")
}

func testOpts() *Opts {
	o := DefaultOpts()
	o.BusyTimeout = 50 * time.Millisecond
	o.BusyPoll = time.Millisecond
	return o
}

func newTestEPD(t *testing.T) (*EPD, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	e, err := New(ft, testOpts())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, ft
}

func TestNewValidatesOpts(t *testing.T) {
	tests := []struct {
		name string
		opts *Opts
	}{
		{"zero width", &Opts{Width: 0, Height: 250, FullUpdate: wfFull2in13, PartialUpdate: wfPartial2in13}},
		{"zero height", &Opts{Width: 122, Height: 0, FullUpdate: wfFull2in13, PartialUpdate: wfPartial2in13}},
		{"short lut", &Opts{Width: 122, Height: 250, FullUpdate: LUT{0x00}, PartialUpdate: wfPartial2in13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&fakeTransport{}, tt.opts); err == nil {
				t.Error("New accepted invalid opts")
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	e, ft := newTestEPD(t)

	for i := 0; i < 2; i++ {
		if err := e.Init(); err != nil {
			t.Fatalf("Init #%d: %v", i+1, err)
		}
		if got := e.State(); got != StateIdle {
			t.Fatalf("Init #%d: state = %v, want %v", i+1, got, StateIdle)
		}
	}
	if ft.resets != 2 {
		t.Errorf("resets = %d, want 2", ft.resets)
	}
}

func TestInitCommandSequence(t *testing.T) {
	e, ft := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Key steps in protocol order.
	wantInOrder := []string{
		"cmd:12",               // software reset
		"cmd:01 data:f90000",   // driver output control: 250 gate lines
		"cmd:11 data:03",       // data entry mode
		"cmd:44 data:000f",     // x window 0..121 in byte units
		"cmd:45 data:0000f900", // y window 0..249
		"cmd:3c data:05",       // border waveform
		"cmd:18 data:80",       // internal temperature sensor
		"cmd:21 data:0080",
		"cmd:32 data:153B",
		"cmd:3f", "cmd:03", "cmd:04", "cmd:2c",
	}
	trace := ft.trace()
	pos := 0
	for _, want := range wantInOrder {
		idx := strings.Index(trace[pos:], want)
		if idx < 0 {
			t.Fatalf("init trace missing %q after position %d\ntrace: %s", want, pos, trace)
		}
		pos += idx + len(want)
	}
}

func TestWriteFramebufferTargets(t *testing.T) {
	tests := []struct {
		name   string
		target RAM
		want   string
	}{
		{"current plane", RAMCurrent, "cmd:24 data:500B"},
		{"previous plane", RAMPrevious, "cmd:26 data:500B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{}
			o := testOpts()
			o.Width = 40
			o.Height = 100 // 5 * 100 bytes
			e, err := New(ft, o)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := e.Init(); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if err := e.WriteFramebuffer(make([]byte, 500), tt.target); err != nil {
				t.Fatalf("WriteFramebuffer: %v", err)
			}
			if !strings.Contains(ft.trace(), tt.want) {
				t.Errorf("trace does not contain %q\ntrace: %s", tt.want, ft.trace())
			}
		})
	}
}

func TestWriteFramebufferRejectsBadLength(t *testing.T) {
	e, _ := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	err := e.WriteFramebuffer(make([]byte, 100), RAMCurrent)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestWriteFramebufferRequiresInit(t *testing.T) {
	e, _ := newTestEPD(t)
	if err := e.WriteFramebuffer(make([]byte, e.opts.BufferLen()), RAMCurrent); err == nil {
		t.Error("write on uninitialized panel succeeded")
	}
}

func TestTriggerRefreshFullEntersDeepSleep(t *testing.T) {
	e, ft := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.WriteFramebuffer(Blank(&e.opts), RAMCurrent); err != nil {
		t.Fatalf("WriteFramebuffer: %v", err)
	}
	if err := e.TriggerRefresh(Full); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if got := e.State(); got != StateSleeping {
		t.Errorf("state = %v, want %v", got, StateSleeping)
	}
	if !strings.Contains(ft.trace(), "cmd:22 data:f7 cmd:20") {
		t.Errorf("full activation sequence missing\ntrace: %s", ft.trace())
	}
	if !strings.HasSuffix(ft.trace(), "cmd:10") {
		t.Errorf("deep sleep not last on the wire\ntrace: %s", ft.trace())
	}
}

func TestTriggerRefreshPartialStaysAddressable(t *testing.T) {
	e, ft := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.InitPartial(); err != nil {
		t.Fatalf("InitPartial: %v", err)
	}
	if err := e.WriteFramebuffer(Blank(&e.opts), RAMCurrent); err != nil {
		t.Fatalf("WriteFramebuffer: %v", err)
	}
	if err := e.TriggerRefresh(Partial); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if got := e.State(); got != StateIdle {
		t.Errorf("state = %v, want %v", got, StateIdle)
	}
	if !strings.Contains(ft.trace(), "cmd:22 data:cf cmd:20") {
		t.Errorf("partial activation sequence missing\ntrace: %s", ft.trace())
	}
	if strings.HasSuffix(ft.trace(), "cmd:10") {
		t.Errorf("partial refresh must not deep sleep\ntrace: %s", ft.trace())
	}
}

func TestTriggerRefreshRejectsWaveformMismatch(t *testing.T) {
	e, _ := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.TriggerRefresh(Partial); err == nil {
		t.Error("partial refresh accepted with full waveform loaded")
	}
}

func TestTriggerRefreshBusyTimeout(t *testing.T) {
	e, ft := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.WriteFramebuffer(Blank(&e.opts), RAMCurrent); err != nil {
		t.Fatalf("WriteFramebuffer: %v", err)
	}

	ft.stuck = true
	start := time.Now()
	err := e.TriggerRefresh(Full)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("err = %v, want ErrBusyTimeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("TriggerRefresh took %v, bound is 50ms", elapsed)
	}
	// Parked best effort even after the timeout.
	if got := e.State(); got != StateSleeping {
		t.Errorf("state = %v, want %v", got, StateSleeping)
	}
}

func TestBusErrorWrapsTransportFailure(t *testing.T) {
	cause := errors.New("spi broke")
	ft := &fakeTransport{err: cause}
	e, err := New(ft, testOpts())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = e.Init()
	var be *BusError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BusError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("BusError does not wrap the transport cause")
	}
}

func TestStateMachineEndToEnd(t *testing.T) {
	e, _ := newTestEPD(t)
	if got := e.State(); got != StateUninitialized {
		t.Fatalf("initial state = %v, want %v", got, StateUninitialized)
	}

	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := e.State(); got != StateIdle {
		t.Fatalf("after Init: state = %v, want %v", got, StateIdle)
	}

	if err := e.WriteFramebuffer(Blank(&e.opts), RAMCurrent); err != nil {
		t.Fatalf("WriteFramebuffer: %v", err)
	}
	if err := e.TriggerRefresh(Full); err != nil {
		t.Fatalf("TriggerRefresh: %v", err)
	}
	if got := e.State(); got != StateSleeping {
		t.Fatalf("after full refresh: state = %v, want %v", got, StateSleeping)
	}

	// Wake up again and run a partial round.
	if err := e.Init(); err != nil {
		t.Fatalf("Init from sleep: %v", err)
	}
	if err := e.InitPartial(); err != nil {
		t.Fatalf("InitPartial: %v", err)
	}
	if err := e.WriteFramebuffer(Blank(&e.opts), RAMCurrent); err != nil {
		t.Fatalf("WriteFramebuffer: %v", err)
	}
	if err := e.TriggerRefresh(Partial); err != nil {
		t.Fatalf("TriggerRefresh partial: %v", err)
	}
	if got := e.State(); got != StateIdle {
		t.Fatalf("after partial refresh: state = %v, want %v", got, StateIdle)
	}
}

func TestClearFillsPanel(t *testing.T) {
	e, ft := newTestEPD(t)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Clear(0xFF); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := e.State(); got != StateIdle {
		t.Errorf("state = %v, want %v", got, StateIdle)
	}
	want := fmt.Sprintf("cmd:24 data:%dB cmd:22 data:f7 cmd:20", e.opts.BufferLen())
	if !strings.Contains(ft.trace(), want) {
		t.Errorf("trace does not contain %q\ntrace: %s", want, ft.trace())
	}
}
