package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/operator-mobile/tagscan/internal/lifecycle"
	"github.com/operator-mobile/tagscan/internal/reader"
)

// ErrStopped is returned by Run when called on a loop that already ran.
var ErrStopped = errors.New("scan loop stopped")

// Commands is the synchronous command surface exposed to callers.
type Commands interface {
	EnableScan() bool
	DisableScan() bool
	IsAvailable() bool
	Status() Status
}

// Loop owns a Controller on a single goroutine. Commands, lifecycle
// transitions, discoveries and retry continuations are all applied there in
// arrival order.
type Loop struct {
	ctrl        *Controller
	probe       Probe
	sink        Sink
	discoveries <-chan reader.Discovery
	inbox       chan Event

	stopped  chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	mu     sync.RWMutex
	status Status
}

// NewLoop builds the controller around deps. discoveries may be nil when
// tags are only fed through Post.
func NewLoop(deps Deps, opts Options, discoveries <-chan reader.Discovery, inboxSize int) *Loop {
	if inboxSize <= 0 {
		inboxSize = 32
	}
	l := &Loop{
		probe:       deps.Probe,
		sink:        deps.Sink,
		discoveries: discoveries,
		inbox:       make(chan Event, inboxSize),
		stopped:     make(chan struct{}),
	}
	l.ctrl = NewController(deps, opts, timerScheduler{post: l.Post})
	l.status = l.ctrl.Status()
	return l
}

// Run processes events until ctx is cancelled. A loop runs at most once;
// any other call returns ErrStopped immediately.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrStopped
	}
	l.run(ctx)
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer l.stopOnce.Do(func() { close(l.stopped) })

	disc := l.discoveries
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.inbox:
			l.apply(ev)
		case d, ok := <-disc:
			if !ok {
				disc = nil
				continue
			}
			l.apply(TagDiscovered{UID: d.UID})
		}
	}
}

func (l *Loop) apply(ev Event) {
	l.ctrl.Handle(ev)
	st := l.ctrl.Status()
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

// Post queues ev for the owner goroutine. It blocks while the inbox is full
// and reports false once the loop has stopped.
func (l *Loop) Post(ev Event) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.inbox <- ev:
		return true
	case <-l.stopped:
		return false
	}
}

func (l *Loop) EnableScan() bool  { return l.Post(EnableRequested{}) }
func (l *Loop) DisableScan() bool { return l.Post(DisableRequested{}) }

// IsAvailable reads the capability probe directly; it has no effect on
// session state.
func (l *Loop) IsAvailable() bool { return l.probe.PresentAndEnabled() }

// OnPhase feeds a lifecycle transition into the loop. It is intended to be
// registered with lifecycle.Adapter.Observe.
func (l *Loop) OnPhase(p lifecycle.Phase) {
	if p == lifecycle.Background {
		l.Post(Paused{})
		return
	}
	l.Post(Resumed{})
}

// Status returns the state as of the last applied event, with the live
// listener flag.
func (l *Loop) Status() Status {
	l.mu.RLock()
	st := l.status
	l.mu.RUnlock()
	st.ListenerAttached = l.sink.Attached()
	return st
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.stopped }

// timerScheduler posts the continuation back into the loop's inbox so it
// runs on the owner goroutine.
type timerScheduler struct {
	post func(Event) bool
}

func (s timerScheduler) After(d time.Duration, ev Event) func() {
	t := time.AfterFunc(d, func() { s.post(ev) })
	return func() { t.Stop() }
}
