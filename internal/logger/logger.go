// Package logger keeps a bounded, in-memory history of operator-facing
// status lines and mirrors each one to the standard logger.
package logger

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Message is a single status line.
type Message struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"`
}

// Logger is a fixed-size ring of messages.
type Logger struct {
	mu      sync.RWMutex
	ring    []Message
	next    int
	count   int
	seq     uint64
	mirror  bool
	waiters []chan struct{}
}

// New creates a logger that keeps the last maxSize messages.
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Logger{ring: make([]Message, maxSize), mirror: true}
}

// Quiet stops mirroring to the standard logger.
func (l *Logger) Quiet() *Logger {
	l.mu.Lock()
	l.mirror = false
	l.mu.Unlock()
	return l
}

// Log appends a message at level.
func (l *Logger) Log(level, text string) {
	l.mu.Lock()
	l.seq++
	l.ring[l.next] = Message{Seq: l.seq, Timestamp: time.Now(), Text: text, Level: level}
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	mirror := l.mirror
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if mirror {
		log.Printf("%s: %s", prefix(level), text)
	}
}

func prefix(level string) string {
	switch level {
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) Info(text string)    { l.Log(LevelInfo, text) }
func (l *Logger) Warning(text string) { l.Log(LevelWarning, text) }
func (l *Logger) Error(text string)   { l.Log(LevelError, text) }

func (l *Logger) Infof(format string, args ...any) { l.Log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any) { l.Log(LevelWarning, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) {
	l.Log(LevelError, fmt.Sprintf(format, args...))
}

// GetRecent returns up to n messages, newest first.
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.count || n < 0 {
		n = l.count
	}
	out := make([]Message, n)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.ring)) % len(l.ring)
		out[i] = l.ring[idx]
	}
	return out
}

// GetAll returns every retained message, oldest first.
func (l *Logger) GetAll() []Message {
	return l.Since(0)
}

// Since returns retained messages with Seq greater than seq, oldest first.
func (l *Logger) Since(seq uint64) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := (l.next - l.count + len(l.ring)) % len(l.ring)
	var out []Message
	for i := 0; i < l.count; i++ {
		m := l.ring[(start+i)%len(l.ring)]
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

// Wait returns a channel closed by the next Log call.
func (l *Logger) Wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	return ch
}
