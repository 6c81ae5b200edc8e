// Package display hands short text messages from any task to the one task
// that owns the screen.
package display

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const (
	// QueueLen is the number of messages waiting for the render task
	QueueLen = 10
	// MaxText is the longest message shown, in bytes
	MaxText = 31
)

// Banner is rendered when the render task starts
const Banner = "Starting..."

// Sink renders one message, replacing what was shown before
type Sink interface {
	Render(text string) error
}

// Queue is a bounded FIFO of messages in front of a Sink
type Queue struct {
	ch   chan string
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	last string
}

func NewQueue() *Queue {
	return &Queue{
		ch:   make(chan string, QueueLen),
		done: make(chan struct{}),
	}
}

// Truncate cuts text to MaxText bytes without splitting a character
func Truncate(text string) string {
	if len(text) <= MaxText {
		return text
	}
	text = text[:MaxText]
	for len(text) > 0 && !utf8.ValidString(text) {
		text = text[:len(text)-1]
	}
	return text
}

// Push queues text for rendering and blocks while the queue is full. Once
// the render task has stopped, messages are discarded.
func (q *Queue) Push(text string) {
	select {
	case q.ch <- Truncate(text):
	case <-q.done:
		log.Debugf("Display stopped, dropping %q", text)
	}
}

// Last returns the message rendered most recently
func (q *Queue) Last() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

func (q *Queue) render(sink Sink, text string) {
	if err := sink.Render(text); err != nil {
		log.Errorf("Display: %v", err)
		return
	}
	q.mu.Lock()
	q.last = text
	q.mu.Unlock()
}

// Run shows the banner, then renders each queued message once until ctx is
// done
func (q *Queue) Run(ctx context.Context, sink Sink) error {
	defer q.once.Do(func() { close(q.done) })

	q.render(sink, Banner)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-q.ch:
			q.render(sink, text)
		}
	}
}

// LogSink renders to the log
type LogSink struct{}

func (LogSink) Render(text string) error {
	log.Infof("Display: %s", text)
	return nil
}

// WriterSink renders one line per message, e.g. to a terminal
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Render(text string) error {
	_, err := fmt.Fprintln(s.W, text)
	return err
}
