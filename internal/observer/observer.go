package observer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Observer is the single capability every progress listener implements.
// Receive is called with each non-empty message, in the order the run
// produces them.
type Observer interface {
	Receive(msg string)
}

// Func adapts a function to Observer.
type Func func(msg string)

// Receive calls f(msg).
func (f Func) Receive(msg string) { f(msg) }

// Writer prints each message on its own line.
type Writer struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriter returns an observer printing to w.
func NewWriter(w io.Writer) *Writer { return &Writer{W: w} }

// Receive writes msg followed by a newline.
func (w *Writer) Receive(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.W, msg)
}

// Log forwards messages to a structured logger at Info.
type Log struct {
	Logger *slog.Logger
}

// Receive logs msg.
func (l Log) Receive(msg string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("generation", "message", msg)
}

// Recorder collects messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Receive appends msg.
func (r *Recorder) Receive(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the received messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
