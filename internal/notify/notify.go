// Package notify defines the user-facing notification channel.
package notify

import (
	"log"
	"sync"
	"time"
)

// Level classifies how a notification is presented.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one user-visible message.
type Notification struct {
	Level   Level
	Message string
	// Kind tags the origin, e.g. a gateway error kind or "login".
	Kind string
	At   time.Time
}

// Notifier receives notifications.
type Notifier interface {
	Notify(Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify implements Notifier.
func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(n Notification) {
	l.logger.Printf("[%s] %s", n.Level, n.Message)
}

// Multi fans a notification out to several notifiers.
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(n Notification) {
		for _, notifier := range notifiers {
			notifier.Notify(n)
		}
	})
}

// Recorder keeps every notification it receives. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Reset forgets recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
