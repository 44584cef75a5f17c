// Package monitoring forwards unexpected errors and panics to an error
// tracker. The default monitor drops everything.
package monitoring

import (
	"errors"
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. Nil restores the no-op
// monitor.
func Init(m Monitor) {
	if m == nil {
		m = NopMonitor{}
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Report captures err unless it was reported already and returns it marked
// as reported. The returned error keeps the message and chain of err.
func Report(err error, tags map[string]string) error {
	if err == nil || Reported(err) {
		return err
	}
	CaptureException(err, tags)
	return reportedError{err}
}

// Reported reports whether err, or an error it wraps, went through Report.
func Reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// Recover reports a panic of the calling goroutine and panics again. It
// must be deferred directly:
//
//	defer monitoring.Recover()
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
