package reader

import "log"

// Sim is an in-memory reader. Taps are injected by the caller and reported
// only while reception is active, each one echo times to mimic the duplicate
// reports real controllers produce for a single tap.
type Sim struct {
	radio
	echo int
}

func NewSim(enabled bool, echo, buf int) *Sim {
	if echo <= 0 {
		echo = 1
	}
	s := &Sim{echo: echo}
	s.init("sim", enabled, buf)
	return s
}

func (s *Sim) PresentAndEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.enabled
}

func (s *Sim) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.enabled {
		return ErrUnavailable
	}
	s.active = true
	return nil
}

// Tap places a tag in the field. It reports whether any discovery was
// emitted.
func (s *Sim) Tap(uid []byte) bool {
	emitted := false
	for i := 0; i < s.echo; i++ {
		if s.emit(uid) {
			emitted = true
		}
	}
	if !emitted {
		log.Printf("reader: sim: tap %s ignored, reception inactive", FormatUID(uid))
	}
	return emitted
}

func (s *Sim) Close() error {
	s.close()
	return nil
}
