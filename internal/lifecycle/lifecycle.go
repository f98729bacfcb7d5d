// Package lifecycle tracks the host's foreground/background phase and
// delivers transitions to observers. It also provides the disarm nudge: a
// deliberately induced, transient trip through the background phase for
// platforms that only allow the reader to be switched off while backgrounded.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrStopped is returned by Nudge once the adapter has been stopped.
var ErrStopped = errors.New("lifecycle adapter stopped")

type Phase int

const (
	Foreground Phase = iota
	Background
)

var phaseNames = map[Phase]string{
	Foreground: "foreground",
	Background: "background",
}

var phaseFromName = map[string]Phase{
	"foreground": Foreground,
	"resumed":    Foreground,
	"background": Background,
	"paused":     Background,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePhase accepts the phase names and the host event names
// ("resumed", "paused").
func ParsePhase(s string) (Phase, error) {
	if v, ok := phaseFromName[s]; ok {
		return v, nil
	}
	return Foreground, fmt.Errorf("unknown lifecycle phase %q", s)
}

// Adapter is the single source of lifecycle transitions for the process.
type Adapter struct {
	// notifyMu serialises transitions so observers see them in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	observers []func(Phase)
	hold      time.Duration
	hostGen   uint64 // bumped on every host-driven Transition call
	nudging   bool
	stopped   bool
}

// NewAdapter returns an adapter in the initial phase. hold is how long an
// induced nudge stays in the background before returning.
func NewAdapter(initial Phase, hold time.Duration) *Adapter {
	return &Adapter{phase: initial, hold: hold}
}

// Observe registers fn for every subsequent phase change. Observers run on
// the goroutine that caused the transition.
func (a *Adapter) Observe(fn func(Phase)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Transition records a host-driven phase change. Repeated reports of the
// current phase are ignored. It reports whether the phase changed.
func (a *Adapter) Transition(p Phase) bool {
	a.mu.Lock()
	a.hostGen++
	a.mu.Unlock()
	return a.set(p)
}

func (a *Adapter) set(p Phase) bool {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if a.stopped || a.phase == p {
		a.mu.Unlock()
		return false
	}
	a.phase = p
	observers := append([]func(Phase){}, a.observers...)
	a.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
	return true
}

// Nudge induces a transient background phase: the adapter moves to
// Background, waits for the hold period and returns to Foreground. It does
// not block. Concurrent nudges coalesce, and a nudge while already
// backgrounded is a no-op. If the host reports its own transition during the
// hold, the return to Foreground is left to the host.
func (a *Adapter) Nudge() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	if a.phase == Background || a.nudging {
		a.mu.Unlock()
		return nil
	}
	a.nudging = true
	a.mu.Unlock()

	go a.cycle()
	return nil
}

func (a *Adapter) cycle() {
	a.mu.Lock()
	gen := a.hostGen
	a.mu.Unlock()

	if !a.set(Background) {
		a.endNudge()
		return
	}
	if a.hold > 0 {
		time.Sleep(a.hold)
	}

	a.mu.Lock()
	interrupted := a.hostGen != gen
	a.nudging = false
	a.mu.Unlock()
	if interrupted {
		log.Printf("lifecycle: nudge interrupted by host transition")
		return
	}
	// nudging is already clear so observers of this Foreground may nudge again.
	a.set(Foreground)
}

func (a *Adapter) endNudge() {
	a.mu.Lock()
	a.nudging = false
	a.mu.Unlock()
}

// Stop freezes the adapter. Later transitions are ignored and Nudge fails.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}
