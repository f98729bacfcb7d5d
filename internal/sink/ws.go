package sink

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WSListener delivers to a WebSocket peer through a buffered write pump.
type WSListener struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
	dead   atomic.Bool // write pump exited
}

func NewWSListener(conn *websocket.Conn, buffer int) *WSListener {
	if buffer <= 0 {
		buffer = 16
	}
	l := &WSListener{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	go l.writePump()
	return l
}

func (l *WSListener) ID() string { return l.id }

// Done is closed once the write pump has exited and the connection is closed.
func (l *WSListener) Done() <-chan struct{} { return l.done }

func (l *WSListener) writePump() {
	defer close(l.done)
	defer l.conn.Close()
	defer l.dead.Store(true)

	for msg := range l.send {
		l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "listener closed"),
		time.Now().Add(time.Second))
}

func (l *WSListener) Send(d Delivery) error {
	data, err := json.Marshal(Message{Type: MsgTag, Payload: d})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.dead.Load() {
		return ErrListenerClosed
	}
	select {
	case l.send <- data:
		return nil
	default:
		return ErrListenerBusy
	}
}

func (l *WSListener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.send)
}
