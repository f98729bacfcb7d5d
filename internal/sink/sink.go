// Package sink is the delivery side of a scan: a single active listener that
// receives tag identifiers. Attaching a new listener supersedes the previous
// one.
package sink

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrListenerBusy   = errors.New("listener send buffer full")
	ErrListenerClosed = errors.New("listener closed")
)

// Delivery is one tag identifier handed to the listener.
type Delivery struct {
	UID       string    `json:"uid"`
	SessionID string    `json:"sessionId"`
	TS        time.Time `json:"ts"`
}

// Listener is the consumer end of the sink.
type Listener interface {
	ID() string
	Send(d Delivery) error
	Close()
}

type Sink struct {
	mu     sync.Mutex
	active Listener
}

func New() *Sink {
	return &Sink{}
}

// Attach makes l the active listener. A previously attached listener is
// closed. It reports whether a listener was replaced.
func (s *Sink) Attach(l Listener) bool {
	s.mu.Lock()
	prev := s.active
	s.active = l
	s.mu.Unlock()

	if prev != nil && prev != l {
		log.Printf("sink: listener %s superseded by %s", prev.ID(), l.ID())
		prev.Close()
		return true
	}
	log.Printf("sink: listener %s attached", l.ID())
	return false
}

// Detach clears l if it is still the active listener.
func (s *Sink) Detach(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != l {
		return false
	}
	s.active = nil
	log.Printf("sink: listener %s detached", l.ID())
	return true
}

func (s *Sink) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Deliver hands d to the active listener. It reports false when no listener
// is attached or the listener refused the delivery.
func (s *Sink) Deliver(d Delivery) bool {
	s.mu.Lock()
	l := s.active
	s.mu.Unlock()
	if l == nil {
		return false
	}
	if err := l.Send(d); err != nil {
		log.Printf("sink: deliver %s to %s: %v", d.UID, l.ID(), err)
		return false
	}
	return true
}

// Close detaches and closes the active listener.
func (s *Sink) Close() {
	s.mu.Lock()
	l := s.active
	s.active = nil
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}
}
