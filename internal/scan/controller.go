// Package scan coordinates a single tag scan: it arms the reader, hands at
// most one identifier per session to the listener and disarms the reader
// again, reconciling its own intent with host lifecycle transitions.
package scan

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/operator-mobile/tagscan/internal/reader"
	"github.com/operator-mobile/tagscan/internal/sink"
)

// DefaultRetryDelay is the wait before the single delivery retry.
const DefaultRetryDelay = 250 * time.Millisecond

// Reception switches the hardware reception mechanism.
type Reception interface {
	Activate() error
	Deactivate() error
}

// Probe reports whether the reader is present and enabled.
type Probe interface {
	PresentAndEnabled() bool
}

// Sink is the single-listener delivery channel.
type Sink interface {
	Attached() bool
	Deliver(d sink.Delivery) bool
}

// Nudger induces a transient trip through the background phase.
type Nudger interface {
	Nudge() error
}

// Scheduler delivers ev back to the controller after d. The returned func
// cancels delivery if it has not happened yet.
type Scheduler interface {
	After(d time.Duration, ev Event) (cancel func())
}

type Deps struct {
	Reception Reception
	Probe     Probe
	Sink      Sink
	Nudger    Nudger
}

type Options struct {
	RetryDelay time.Duration
	// Restricted means the reader may only be deactivated while the host is
	// backgrounded; disable then goes through the Nudger.
	Restricted bool
	// Background is the host phase at construction.
	Background   bool
	NewSessionID func() string
	Now          func() time.Time
}

type pendingRetry struct {
	seq    uint64
	uid    []byte
	cancel func()
}

// Controller is the session state machine. It is not safe for concurrent
// use; Loop serialises all calls onto one goroutine.
type Controller struct {
	deps  Deps
	opts  Options
	sched Scheduler

	armed           bool
	delivered       bool
	foreground      bool
	receptionActive bool
	sessionID       string
	lastUID         string

	pending  *pendingRetry
	retrySeq uint64

	counters Counters
}

func NewController(deps Deps, opts Options, sched Scheduler) *Controller {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		deps:       deps,
		opts:       opts,
		sched:      sched,
		foreground: !opts.Background,
	}
}

// Handle applies one event.
func (c *Controller) Handle(ev Event) {
	switch e := ev.(type) {
	case EnableRequested:
		c.enable()
	case DisableRequested:
		c.disable()
	case Resumed:
		c.onResumed()
	case Paused:
		c.onPaused()
	case TagDiscovered:
		c.onDiscovery(e.UID)
	case retryDue:
		c.onRetry(e.seq)
	default:
		log.Printf("scan: unknown event %T", ev)
	}
}

func (c *Controller) enable() {
	if !c.deps.Probe.PresentAndEnabled() {
		log.Printf("scan: enable ignored, reader unavailable")
		return
	}
	if c.foreground {
		if err := c.deps.Reception.Activate(); err != nil {
			c.counters.ActivateFailures++
			log.Printf("scan: enable: activate reception: %v", err)
			return
		}
		c.receptionActive = true
	} else {
		log.Printf("scan: host backgrounded, activation deferred until resumed")
	}

	c.cancelRetry()
	c.armed = true
	c.delivered = false
	c.sessionID = c.opts.NewSessionID()
	c.counters.Sessions++
	log.Printf("scan: session %s armed", c.sessionID)
}

// disable stops accepting discoveries at once. Turning the reader off is
// deferred to the background phase when the platform requires it.
func (c *Controller) disable() {
	c.armed = false
	if !c.receptionActive {
		return
	}
	if !c.opts.Restricted || !c.foreground {
		c.deactivate()
		return
	}
	if err := c.deps.Nudger.Nudge(); err != nil {
		c.counters.NudgeFailures++
		log.Printf("scan: disable: lifecycle nudge failed, reception stays on until next background: %v", err)
	}
}

func (c *Controller) deactivate() {
	if err := c.deps.Reception.Deactivate(); err != nil {
		log.Printf("scan: deactivate reception: %v", err)
	}
	c.receptionActive = false
}

func (c *Controller) onResumed() {
	c.foreground = true
	if !c.armed || c.receptionActive {
		return
	}
	if err := c.deps.Reception.Activate(); err != nil {
		c.counters.ActivateFailures++
		log.Printf("scan: resumed: activate reception: %v", err)
		return
	}
	c.receptionActive = true
}

// onPaused turns reception off regardless of session state.
func (c *Controller) onPaused() {
	c.foreground = false
	c.armed = false
	c.deactivate()
}

func (c *Controller) onDiscovery(uid []byte) {
	if c.delivered {
		c.counters.IgnoredDuplicates++
		return
	}
	if !c.armed && !c.deps.Sink.Attached() {
		c.counters.IgnoredStale++
		log.Printf("scan: discovery %s ignored, no session and no listener", reader.FormatUID(uid))
		return
	}
	if c.deps.Sink.Attached() && c.deliver(uid) {
		return
	}
	c.scheduleRetry(uid)
}

func (c *Controller) deliver(uid []byte) bool {
	d := sink.Delivery{
		UID:       reader.FormatUID(uid),
		SessionID: c.sessionID,
		TS:        c.opts.Now(),
	}
	if !c.deps.Sink.Deliver(d) {
		return false
	}
	c.delivered = true
	c.lastUID = d.UID
	c.counters.Delivered++
	c.cancelRetry()
	log.Printf("scan: delivered %s (session %s)", d.UID, d.SessionID)
	c.disable()
	return true
}

// scheduleRetry replaces any outstanding retry; at most one is pending.
func (c *Controller) scheduleRetry(uid []byte) {
	c.cancelRetry()
	c.retrySeq++
	p := &pendingRetry{
		seq: c.retrySeq,
		uid: append([]byte(nil), uid...),
	}
	p.cancel = c.sched.After(c.opts.RetryDelay, retryDue{seq: p.seq})
	c.pending = p
	c.counters.Retries++
	log.Printf("scan: no listener for %s, retrying in %v", reader.FormatUID(uid), c.opts.RetryDelay)
}

func (c *Controller) onRetry(seq uint64) {
	p := c.pending
	if p == nil || p.seq != seq {
		return
	}
	c.pending = nil
	if c.delivered {
		return
	}
	if c.deps.Sink.Attached() && c.deliver(p.uid) {
		return
	}
	c.counters.Dropped++
	log.Printf("scan: dropped %s, still no listener after retry", reader.FormatUID(p.uid))
}

func (c *Controller) cancelRetry() {
	if c.pending == nil {
		return
	}
	if c.pending.cancel != nil {
		c.pending.cancel()
	}
	c.pending = nil
}

func (c *Controller) state() State {
	switch {
	case c.delivered && c.receptionActive:
		return Delivered
	case c.armed && !c.delivered:
		return Armed
	default:
		return Idle
	}
}

// Status returns a copy of the session state.
func (c *Controller) Status() Status {
	return Status{
		State:            c.state(),
		SessionID:        c.sessionID,
		Armed:            c.armed,
		Delivered:        c.delivered,
		ReceptionActive:  c.receptionActive,
		Foreground:       c.foreground,
		ListenerAttached: c.deps.Sink.Attached(),
		RetryPending:     c.pending != nil,
		LastUID:          c.lastUID,
		Counters:         c.counters,
	}
}
