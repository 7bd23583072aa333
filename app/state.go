package app

import (
	"crypto/sha256"
	"sync"

	"github.com/inkstat/inkstat/views"
)

// State is the coordination state shared by the refresh, input and LED
// tasks. One mutex guards every field; holders never sleep or touch
// the bus while holding it, so mutations from the input task are
// visible to the scheduler's next tick.
type State struct {
	mu sync.Mutex

	ring   []views.View // rotation order, fixed after construction
	head   int          // position the next refresh will show
	active views.View   // view of the last (or in-flight) refresh

	dirty       bool
	forceFull   bool
	selectPress bool
	panelBusy   bool

	fingerprint [sha256.Size]byte
	havePrint   bool
}

// NewState builds the coordination state around a view cycle. The
// first ring entry is the startup view.
func NewState(ring []views.View) *State {
	if len(ring) == 0 {
		ring = []views.View{views.Home}
	}
	return &State{ring: ring, active: ring[0]}
}

// Rotate moves the view cycle head by steps (positive is forward) and
// returns the view now at the head. The active view is untouched until
// the next refresh syncs it.
func (s *State) Rotate(steps int) views.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ring)
	s.head = ((s.head+steps)%n + n) % n
	return s.ring[s.head]
}

// SyncActiveView aligns the active view with the cycle head and
// returns it. The scheduler calls this at the start of every refresh
// so queued-up button presses collapse into one redraw.
func (s *State) SyncActiveView() views.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.ring[s.head]
	return s.active
}

// ActiveView returns the view of the last refresh.
func (s *State) ActiveView() views.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MarkDirty requests a redraw on the next scheduler tick.
func (s *State) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Dirty reports whether a redraw is pending.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// ClearDirty acknowledges the pending redraw.
func (s *State) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// SetForceFull arms or disarms the compensating full refresh that
// follows partial updates.
func (s *State) SetForceFull(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceFull = v
}

// ForceFull reports whether the next refresh must be a full one.
func (s *State) ForceFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceFull
}

// SetSelectPress records a short press of the select button for the
// setup view to consume.
func (s *State) SetSelectPress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectPress = true
}

// TakeSelectPress consumes the pending select press, reporting whether
// one was recorded.
func (s *State) TakeSelectPress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.selectPress
	s.selectPress = false
	return was
}

// SetPanelBusy flags that a refresh holds the panel. The input task
// drops button actions and the LED task leaves the activity blink
// alone while this is set.
func (s *State) SetPanelBusy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelBusy = v
}

// PanelBusy reports whether a refresh is in flight.
func (s *State) PanelBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panelBusy
}

// SetFingerprint stores the hash of the last transmitted framebuffer.
func (s *State) SetFingerprint(fp [sha256.Size]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fp
	s.havePrint = true
}

// FingerprintMatches reports whether fp equals the stored hash. It
// never matches before the first SetFingerprint or after a reset.
func (s *State) FingerprintMatches(fp [sha256.Size]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.havePrint && s.fingerprint == fp
}

// ResetFingerprint forgets the stored hash so the next refresh always
// transmits, used after a failed refresh left the panel content
// unknown.
func (s *State) ResetFingerprint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.havePrint = false
}
