package app

import (
	"fmt"
	"log"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ButtonSource identifies a front-panel button.
type ButtonSource int

const (
	ButtonNext ButtonSource = iota
	ButtonPrev
	ButtonSelect
)

func (b ButtonSource) String() string {
	switch b {
	case ButtonNext:
		return "NEXT"
	case ButtonPrev:
		return "PREV"
	case ButtonSelect:
		return "SELECT"
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// ButtonEvent is one falling edge from a button line. Events are
// consumed immediately; nothing stores them.
type ButtonEvent struct {
	Source ButtonSource
	Time   time.Time
}

// Buttons delivers edge events and instantaneous levels from the
// front-panel buttons.
type Buttons struct {
	// Events carries one entry per falling edge. The channel is small
	// and lossy; edges arriving while the input task is occupied with
	// a long-hold poll are dropped, not queued up.
	Events <-chan ButtonEvent
	// Level reads the instantaneous line level of a source, 0 while
	// the button is held down.
	Level func(ButtonSource) (int, error)

	lines []*gpiocdev.Line
}

// OpenButtons requests the three button lines and streams their
// falling edges. Buttons are wired active low.
func OpenButtons(cfg Config) (*Buttons, error) {
	events := make(chan ButtonEvent, 4)
	levels := make(map[ButtonSource]*gpiocdev.Line, 3)
	b := &Buttons{Events: events}
	b.Level = func(src ButtonSource) (int, error) {
		l, ok := levels[src]
		if !ok {
			return 0, fmt.Errorf("app: no line for button %v", src)
		}
		return l.Value()
	}

	request := func(chip string, offset int, src ButtonSource) error {
		l, err := gpiocdev.RequestLine(chip, offset,
			gpiocdev.WithConsumer(src.String()),
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
				select {
				case events <- ButtonEvent{Source: src, Time: time.Now()}:
				default:
				}
			}))
		if err != nil {
			return fmt.Errorf("app: button %v on %s:%d: %w", src, chip, offset, err)
		}
		levels[src] = l
		b.lines = append(b.lines, l)
		return nil
	}

	if err := request(cfg.SelectChip, cfg.SelectLine, ButtonSelect); err != nil {
		return nil, err
	}
	if err := request(cfg.NavChip, cfg.NextLine, ButtonNext); err != nil {
		b.Close()
		return nil, err
	}
	if err := request(cfg.NavChip, cfg.PrevLine, ButtonPrev); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the button lines.
func (b *Buttons) Close() {
	for _, l := range b.lines {
		l.Close()
	}
	b.lines = nil
}

// inputTask turns debounced button edges into coordination state
// changes: navigation rotates the view cycle, a short select press
// queues the pending action, a long select hold restarts the system.
type inputTask struct {
	cfg      Config
	state    *State
	buttons  *Buttons
	activity blinker // system LED green
	alert    blinker // system LED red
	restart  func()
	sleep    func(time.Duration)

	last map[ButtonSource]time.Time
}

func newInputTask(cfg Config, st *State, b *Buttons, activity, alert blinker, restart func()) *inputTask {
	return &inputTask{
		cfg:      cfg,
		state:    st,
		buttons:  b,
		activity: activity,
		alert:    alert,
		restart:  restart,
		sleep:    time.Sleep,
		last:     make(map[ButtonSource]time.Time),
	}
}

func (t *inputTask) run(done <-chan struct{}) {
	log.Printf("app: input task started")
	for {
		// Bounded wait so shutdown is noticed even on a silent panel.
		wait := time.NewTimer(t.cfg.EventWait)
		select {
		case <-done:
			wait.Stop()
			return
		case ev := <-t.buttons.Events:
			wait.Stop()
			t.handle(ev)
		case <-wait.C:
		}
	}
}

func (t *inputTask) handle(ev ButtonEvent) {
	if last, ok := t.last[ev.Source]; ok && ev.Time.Sub(last) < t.cfg.Debounce {
		log.Printf("app: debounce, dropping %v", ev.Source)
		return
	}
	t.last[ev.Source] = ev.Time

	if t.state.PanelBusy() {
		log.Printf("app: panel busy, dropping %v", ev.Source)
		return
	}

	switch ev.Source {
	case ButtonNext:
		next := t.state.Rotate(1)
		t.state.MarkDirty()
		t.blinkActivity()
		log.Printf("app: next view is %v", next)
	case ButtonPrev:
		next := t.state.Rotate(-1)
		t.state.MarkDirty()
		t.blinkActivity()
		log.Printf("app: next view is %v", next)
	case ButtonSelect:
		if t.longHold() {
			log.Printf("app: select held down, restarting system")
			if t.activity != nil {
				t.activity.Off()
			}
			if t.alert != nil {
				t.alert.On()
			}
			t.restart()
			return
		}
		t.state.SetSelectPress()
		t.state.MarkDirty()
		t.blinkActivity()
		log.Printf("app: select pressed")
	}
}

// longHold polls the select line after the edge. A press still held
// through the whole window is a hold; any release ends the poll early
// so other buttons are not blocked for long.
func (t *inputTask) longHold() bool {
	for i := 0; i < t.cfg.HoldCount; i++ {
		level, err := t.buttons.Level(ButtonSelect)
		if err != nil || level != 0 {
			return false
		}
		t.sleep(t.cfg.HoldPoll)
	}
	return true
}

func (t *inputTask) blinkActivity() {
	if t.activity == nil {
		return
	}
	if err := t.activity.Blink(true); err != nil {
		log.Printf("app: led: %v", err)
	}
}
