package reader

import (
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

const defaultLinePoll = 100 * time.Millisecond

// Line reads identifiers from a character device, FIFO or file that yields
// one hexadecimal identifier per line, the output format of keyboard-wedge
// and serial tag readers. Only lines written after the first activation are
// considered, and lines that arrive while reception is inactive are
// discarded.
type Line struct {
	radio
	path string
	poll time.Duration
	open func(path string) (io.ReadCloser, error)

	src       io.ReadCloser
	started   bool
	ready     chan struct{} // closed once the source is open
	readyOnce sync.Once
}

func NewLine(path string, enabled bool, buf int) *Line {
	l := &Line{
		path:  path,
		poll:  defaultLinePoll,
		open:  openDevice,
		ready: make(chan struct{}),
	}
	l.init("line", enabled, buf)
	return l
}

// openDevice opens path without blocking on a FIFO that has no writer yet.
// Regular files are positioned at their end.
func openDevice(path string) (io.ReadCloser, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (l *Line) PresentAndEnabled() bool {
	l.mu.Lock()
	enabled := l.enabled && !l.closed
	l.mu.Unlock()
	if !enabled {
		return false
	}
	_, err := os.Stat(l.path)
	return err == nil
}

// Activate switches reception on. The device is opened by the reader
// goroutine, started on first use, so Activate never waits on I/O.
func (l *Line) Activate() error {
	if !l.PresentAndEnabled() {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return ErrUnavailable
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.active = true
	if !l.started {
		l.started = true
		go l.run()
	}
	return nil
}

func (l *Line) run() {
	src, err := l.open(l.path)

	l.mu.Lock()
	if err != nil {
		l.started = false
		l.active = false
		l.mu.Unlock()
		log.Printf("reader: line: open %s: %v", l.path, err)
		return
	}
	if l.closed {
		l.mu.Unlock()
		src.Close()
		return
	}
	l.src = src
	l.mu.Unlock()

	l.readyOnce.Do(func() { close(l.ready) })
	l.readLoop(src)
}

// readLoop follows src like tail -f: end of input means no tag yet, not the
// end of the device.
func (l *Line) readLoop(src io.ReadCloser) {
	br := bufio.NewReader(src)
	var partial strings.Builder
	for {
		chunk, err := br.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			l.handleLine(partial.String())
			partial.Reset()
			continue
		}
		if l.isClosed() {
			return
		}
		if errors.Is(err, io.EOF) {
			time.Sleep(l.poll)
			continue
		}

		log.Printf("reader: line: %s: %v", l.path, err)
		l.mu.Lock()
		if l.src == src {
			l.src = nil
			l.started = false
		}
		l.mu.Unlock()
		src.Close()
		return
	}
}

func (l *Line) handleLine(line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return
	}
	uid, err := ParseUID(text)
	if err != nil {
		log.Printf("reader: line: skipping %q: %v", text, err)
		return
	}
	l.emit(uid)
}

func (l *Line) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close marks the reader closed before taking the source, so a concurrent
// open in run either publishes its source here or sees closed and drops it.
func (l *Line) Close() error {
	l.close()
	l.mu.Lock()
	src := l.src
	l.src = nil
	l.mu.Unlock()
	if src != nil {
		return src.Close()
	}
	return nil
}
