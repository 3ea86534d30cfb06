package logger

import (
	"bufio"
	"io"
	"sync"
	"time"
)

const writerFlushEvery = 200 * time.Millisecond

// asyncWriter hands lines to a single goroutine that owns the buffered
// output. Buffers are flushed on a short interval, on Flush and on Close.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	done    chan struct{}
	close   sync.Once

	out *bufio.Writer

	mu  sync.Mutex
	err error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	var live []io.Writer
	for _, w := range writers {
		if w != nil {
			live = append(live, w)
		}
	}
	w := &asyncWriter{
		lines:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		out:     bufio.NewWriterSize(io.MultiWriter(live...), bufSize),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	tick := time.NewTicker(writerFlushEvery)
	defer tick.Stop()
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.out.Flush())
				return
			}
			_, err := w.out.Write(line)
			w.fail(err)
		case <-tick.C:
			if w.out.Buffered() > 0 {
				w.fail(w.out.Flush())
			}
		case ack := <-w.flushes:
			w.drain()
			err := w.out.Flush()
			w.fail(err)
			ack <- err
		}
	}
}

// drain writes lines already queued so Flush covers every earlier Write.
func (w *asyncWriter) drain() {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return
			}
			_, err := w.out.Write(line)
			w.fail(err)
		default:
			return
		}
	}
}

// Write queues a copy of p. It blocks when the queue is full rather than
// dropping lines.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush writes out everything queued before the call.
func (w *asyncWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.done:
		return w.Err()
	}
}

// Close drains the queue and returns the first write error.
func (w *asyncWriter) Close() error {
	w.close.Do(func() { close(w.lines) })
	<-w.done
	return w.Err()
}

func (w *asyncWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}
