// Package reader models the proximity-tag reader hardware: the capability
// probe, the reception mechanism that can be switched on and off, and the
// discovery events it reports while switched on.
package reader

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrUnavailable is returned by Activate when the reader is absent or
	// switched off by the user.
	ErrUnavailable = errors.New("reader unavailable")
	// ErrClosed is returned by operations on a closed reader.
	ErrClosed = errors.New("reader closed")
)

// Discovery is a single hardware report of a tag in the field. The same
// physical tap may be reported more than once.
type Discovery struct {
	UID []byte
	At  time.Time
}

// Reader is the hardware port consumed by the scan controller.
type Reader interface {
	Name() string
	// PresentAndEnabled is the capability probe. It never changes state.
	PresentAndEnabled() bool
	Activate() error
	Deactivate() error
	Active() bool
	// Discoveries delivers reports while reception is active. The channel is
	// closed by Close.
	Discoveries() <-chan Discovery
	Close() error
}

// radio holds the reception state shared by the concrete backends.
type radio struct {
	name    string
	mu      sync.Mutex
	enabled bool
	active  bool
	closed  bool
	ch      chan Discovery
}

func (r *radio) init(name string, enabled bool, buf int) {
	if buf <= 0 {
		buf = 8
	}
	r.name = name
	r.enabled = enabled
	r.ch = make(chan Discovery, buf)
}

func (r *radio) Name() string { return r.name }

func (r *radio) Discoveries() <-chan Discovery { return r.ch }

func (r *radio) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetEnabled flips the user-facing enabled flag. Disabling the radio also
// stops reception, as the hardware does.
func (r *radio) SetEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.enabled = enabled
	if !enabled {
		r.active = false
	}
	return nil
}

func (r *radio) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.active = false
	return nil
}

// emit reports uid if reception is active. It never blocks; a full queue
// drops the report.
func (r *radio) emit(uid []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.active {
		return false
	}
	d := Discovery{UID: append([]byte(nil), uid...), At: time.Now()}
	select {
	case r.ch <- d:
		return true
	default:
		log.Printf("reader: %s: discovery queue full, dropped %s", r.name, FormatUID(uid))
		return false
	}
}

// close marks the radio closed and closes the discovery channel. It reports
// whether this call performed the close.
func (r *radio) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.active = false
	close(r.ch)
	return true
}
