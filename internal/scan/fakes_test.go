package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/operator-mobile/tagscan/internal/sink"
)

type fakeReception struct {
	active      bool
	activations int
	deactivates int
	activateErr error
}

func (f *fakeReception) Activate() error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.active = true
	f.activations++
	return nil
}

func (f *fakeReception) Deactivate() error {
	f.active = false
	f.deactivates++
	return nil
}

type fakeProbe struct{ ok bool }

func (f *fakeProbe) PresentAndEnabled() bool { return f.ok }

type fakeSink struct {
	attached bool
	refuse   bool
	got      []sink.Delivery
}

func (f *fakeSink) Attached() bool { return f.attached }

func (f *fakeSink) Deliver(d sink.Delivery) bool {
	if !f.attached || f.refuse {
		return false
	}
	f.got = append(f.got, d)
	return true
}

func (f *fakeSink) uids() []string {
	out := make([]string, len(f.got))
	for i, d := range f.got {
		out[i] = d.UID
	}
	return out
}

type fakeNudger struct {
	calls int
	err   error
}

func (f *fakeNudger) Nudge() error {
	f.calls++
	return f.err
}

type scheduled struct {
	d         time.Duration
	ev        Event
	cancelled bool
}

// manualScheduler records retries; the test fires them explicitly.
type manualScheduler struct {
	items []*scheduled
}

func (m *manualScheduler) After(d time.Duration, ev Event) func() {
	s := &scheduled{d: d, ev: ev}
	m.items = append(m.items, s)
	return func() { s.cancelled = true }
}

func (m *manualScheduler) live() []*scheduled {
	var out []*scheduled
	for _, s := range m.items {
		if !s.cancelled {
			out = append(out, s)
		}
	}
	return out
}

type harness struct {
	ctrl   *Controller
	rx     *fakeReception
	probe  *fakeProbe
	sink   *fakeSink
	nudger *fakeNudger
	sched  *manualScheduler
}

func newHarness(opts Options) *harness {
	h := &harness{
		rx:     &fakeReception{},
		probe:  &fakeProbe{ok: true},
		sink:   &fakeSink{},
		nudger: &fakeNudger{},
		sched:  &manualScheduler{},
	}
	ids := 0
	if opts.NewSessionID == nil {
		opts.NewSessionID = func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		}
	}
	h.ctrl = NewController(Deps{
		Reception: h.rx,
		Probe:     h.probe,
		Sink:      h.sink,
		Nudger:    h.nudger,
	}, opts, h.sched)
	return h
}

func restricted() Options { return Options{Restricted: true} }

// fire delivers the newest live retry to the controller.
func (h *harness) fire() bool {
	live := h.sched.live()
	if len(live) == 0 {
		return false
	}
	s := live[len(live)-1]
	s.cancelled = true
	h.ctrl.Handle(s.ev)
	return true
}

var errRadio = errors.New("radio busy")
