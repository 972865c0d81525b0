package relay

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// viewerQueueHighWater bounds a viewer's outbound backlog in bytes. A
	// viewer that falls this far behind is dropped rather than letting it
	// backpressure ingestion. Must exceed the history limit so a join replay
	// always fits.
	viewerQueueHighWater = 4 << 20

	viewerWriteTimeout = 10 * time.Second
)

type viewerMsg struct {
	text bool
	data []byte
}

// Viewer is one remote consumer attached to a session. Messages are queued
// and drained by a dedicated writer goroutine so a slow socket never blocks
// the upstream ingestion path.
type Viewer struct {
	conn *websocket.Conn

	mu      sync.Mutex
	queue   []viewerMsg
	queued  int // bytes
	dropped bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newViewer(conn *websocket.Conn) *Viewer {
	return &Viewer{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// enqueue queues a message for delivery in order. It never blocks: a viewer
// over the high-water mark is marked dropped and its socket closed, and the
// caller removes it from the session.
func (v *Viewer) enqueue(m viewerMsg) bool {
	v.mu.Lock()
	if v.dropped {
		v.mu.Unlock()
		return false
	}
	if v.queued+len(m.data) > viewerQueueHighWater {
		v.dropped = true
		v.mu.Unlock()
		v.close()
		if v.conn != nil {
			v.conn.CloseNow()
		}
		return false
	}
	v.queue = append(v.queue, m)
	v.queued += len(m.data)
	v.mu.Unlock()

	select {
	case v.wake <- struct{}{}:
	default:
	}
	return true
}

// take pops the queued batch, preserving order.
func (v *Viewer) take() []viewerMsg {
	v.mu.Lock()
	defer v.mu.Unlock()
	batch := v.queue
	v.queue = nil
	v.queued = 0
	return batch
}

func (v *Viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// writeLoop drains the queue onto the socket until the viewer is closed or a
// write fails. Write failures close the socket; the read side then errors
// out and the connection handler unregisters the viewer.
func (v *Viewer) writeLoop(ctx context.Context) {
	for {
		batch := v.take()
		if batch == nil {
			select {
			case <-v.wake:
				continue
			case <-v.done:
				return
			case <-ctx.Done():
				return
			}
		}
		for _, m := range batch {
			kind := websocket.MessageBinary
			if m.text {
				kind = websocket.MessageText
			}
			wctx, cancel := context.WithTimeout(ctx, viewerWriteTimeout)
			err := v.conn.Write(wctx, kind, m.data)
			cancel()
			if err != nil {
				v.mu.Lock()
				v.dropped = true
				v.mu.Unlock()
				v.close()
				v.conn.CloseNow()
				return
			}
		}
	}
}
