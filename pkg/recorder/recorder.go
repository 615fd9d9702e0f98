/*
Recorder service for recast.
It persists terminal events into an asciicast v2 file without adding
latency to the interactive path. The relay loop produces events, a
single background goroutine owns the file and does all writes.

Producers never block: the queue is bounded and when it fills up the
oldest pending event is dropped and counted. A slow or dead disk can
only cost recording fidelity, never interactive latency.
*/
package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qnkhuat/recast/internal/cfg"
	"github.com/qnkhuat/recast/pkg/message"
)

// Writer appends timestamped events to one .cast file.
// It owns the file descriptor exclusively for the life of a session
type Writer struct {
	path  string
	f     *os.File
	start time.Time

	queue    chan message.Event
	done     chan struct{} // closed by Close to stop the consumer
	finished chan struct{} // closed by the consumer after the final flush

	lock   sync.Mutex // serializes enqueue so drop-oldest stays ordered
	closed bool

	dropped     uint64
	writeErrors uint64

	// consumer-local: highest timestamp emitted so far, events are
	// clamped to it so the file sequence is non-decreasing even if
	// producers race between timestamping and enqueueing
	lastTime float64
}

// Open creates the recording file, writes the header line and starts
// the background consumer. The parent directory is created if absent
func Open(path string, header message.Header) (*Writer, error) {
	return open(path, header, cfg.RECORDER_QUEUE_SIZE)
}

func open(path string, header message.Header, queueSize int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	headerLine, err := json.Marshal(header)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(append(headerLine, '\n')); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	w := &Writer{
		path:     path,
		f:        f,
		start:    time.Now(),
		queue:    make(chan message.Event, queueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.consume()
	return w, nil
}

// Path returns the location of the recording file
func (w *Writer) Path() string {
	return w.path
}

// Dropped returns how many events were discarded under backpressure or
// left undrained at close
func (w *Writer) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

// WriteErrors returns how many events failed to persist (disk full,
// permission revoked mid-session)
func (w *Writer) WriteErrors() uint64 {
	return atomic.LoadUint64(&w.writeErrors)
}

// WriteEvent queues one event for asynchronous persistence. It never
// blocks and never fails: invalid UTF-8 is replaced, a full queue drops
// the oldest pending event, a closed writer ignores the call
func (w *Writer) WriteEvent(t message.EventType, data []byte) {
	ev := message.Event{
		Time: time.Since(w.start).Seconds(),
		Type: t,
		Data: strings.ToValidUTF8(string(data), "�"),
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		// Queue full: make room by dropping the oldest pending event.
		// Dropping old data beats blocking the relay loop
		select {
		case <-w.queue:
			atomic.AddUint64(&w.dropped, 1)
		default:
		}
		select {
		case w.queue <- ev:
		default:
			atomic.AddUint64(&w.dropped, 1)
		}
	}
}

// Close stops the consumer, giving it a grace period to drain the
// queue, then closes the file. Events still queued after the grace
// period are counted as dropped. Safe to call more than once
func (w *Writer) Close() error {
	w.lock.Lock()
	if w.closed {
		w.lock.Unlock()
		<-w.finished
		return nil
	}
	w.closed = true
	w.lock.Unlock()

	close(w.done)
	<-w.finished

	w.f.Sync()
	return w.f.Close()
}

// consume is the only goroutine that touches the file
func (w *Writer) consume() {
	defer close(w.finished)
	for {
		select {
		case ev := <-w.queue:
			w.persist(ev)
		case <-w.done:
			w.drain()
			return
		}
	}
}

// drain flushes whatever is still queued, bounded by the close timeout
func (w *Writer) drain() {
	deadline := time.NewTimer(cfg.RECORDER_CLOSE_TIMEOUT * time.Second)
	defer deadline.Stop()
	for {
		select {
		case ev := <-w.queue:
			w.persist(ev)
		case <-deadline.C:
			if n := len(w.queue); n > 0 {
				atomic.AddUint64(&w.dropped, uint64(n))
				log.Printf("Close timeout with %d events still queued: %s", n, w.path)
			}
			return
		default:
			return
		}
	}
}

// persist writes one complete event line. Errors are counted, never
// raised: a broken recording must not touch the live session
func (w *Writer) persist(ev message.Event) {
	if ev.Time < w.lastTime {
		ev.Time = w.lastTime
	}
	w.lastTime = ev.Time

	line, err := ev.Marshal()
	if err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
		log.Printf("Failed to encode event: %s", err)
		return
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
		log.Printf("Failed to write event: %s", err)
	}
}
