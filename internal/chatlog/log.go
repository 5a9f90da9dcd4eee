// Package chatlog holds the append-only ordered message log for one open
// conversation. The log is fed exclusively by server frames: history replay
// replaces it wholesale, live messages append at the tail, and a cleared
// acknowledgment empties it. Entries are never reordered after insertion.
package chatlog

import (
	"sync"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

// Reason identifies which mutation fired a change notification.
type Reason int

const (
	Replaced Reason = iota
	Appended
	Cleared
)

// Log is safe for concurrent use. One writer (the session dispatch loop) and
// any number of readers is the expected pattern.
type Log struct {
	mu       sync.RWMutex
	msgs     []models.Message
	onChange func(Reason)
}

func New() *Log {
	return &Log{}
}

// OnChange registers a single mutation observer, used by UI layers to
// scroll-to-bottom. The callback runs synchronously on the mutating
// goroutine, after the lock is released.
func (l *Log) OnChange(fn func(Reason)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// ReplaceAll installs the history replay, discarding any prior content.
// The input is assumed pre-ordered by the sender.
func (l *Log) ReplaceAll(msgs []models.Message) {
	l.mu.Lock()
	l.msgs = make([]models.Message, len(msgs))
	copy(l.msgs, msgs)
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn(Replaced)
	}
}

// Append adds one message at the tail.
func (l *Log) Append(m models.Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn(Appended)
	}
}

// Clear empties the log. Clearing an already-empty log is a no-op and does
// not notify.
func (l *Log) Clear() {
	l.mu.Lock()
	if len(l.msgs) == 0 {
		l.mu.Unlock()
		return
	}
	l.msgs = nil
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn(Cleared)
	}
}

// Messages returns a copy of the current log in order.
func (l *Log) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
