package scans

import (
	"sync"

	"github.com/sirupsen/logrus"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

// Registry supervises one worker goroutine per in-flight scan. It replaces
// bare `go func` fire-and-forget: every worker is tracked by job id, panics
// are contained, and callers can join a specific scan or all of them.
// Cancellation is intentionally absent; a launched scan runs to process
// exit. The registry is the seam where a timeout would hook in later.
type Registry struct {
	mu     sync.Mutex
	active map[domain.ScanID]chan struct{}
	log    *logrus.Logger
}

func NewRegistry(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		active: make(map[domain.ScanID]chan struct{}),
		log:    log,
	}
}

// Go runs fn on a dedicated worker registered under the job id. A panic in
// fn is logged and absorbed; it never takes down the host process.
func (r *Registry) Go(id domain.ScanID, fn func()) {
	done := make(chan struct{})

	r.mu.Lock()
	r.active[id] = done
	r.mu.Unlock()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.WithField("scan_id", id).Errorf("scan worker panicked: %v", p)
			}
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
			close(done)
		}()
		fn()
	}()
}

// Wait blocks until the worker for id has finished. No-op when none is
// registered.
func (r *Registry) Wait(id domain.ScanID) {
	r.mu.Lock()
	done := r.active[id]
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running returns the number of in-flight scan workers.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
