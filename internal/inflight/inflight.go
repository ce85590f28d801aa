// Package inflight counts requests that must finish before the server stops.
package inflight

import (
	"context"
	"net/http"
	"sync"
)

// Counter tracks in-flight requests. The zero value is ready to use.
type Counter struct {
	mu   sync.Mutex
	n    int64
	idle chan struct{} // closed while n == 0
}

func (c *Counter) idleLocked() chan struct{} {
	if c.idle == nil {
		c.idle = make(chan struct{})
		if c.n == 0 {
			close(c.idle)
		}
	}
	return c.idle
}

// Inc marks the start of a request.
func (c *Counter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleLocked()
	if c.n == 0 {
		c.idle = make(chan struct{})
	}
	c.n++
}

// Dec marks the end of a request.
func (c *Counter) Dec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	idle := c.idleLocked()
	if c.n == 0 {
		return
	}
	c.n--
	if c.n == 0 {
		close(idle)
	}
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// WaitForZero blocks until the count drops to zero or ctx ends. It reports
// whether zero was reached.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	idle := c.idleLocked()
	c.mu.Unlock()
	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

// Middleware counts each request for the duration of the handler.
func (c *Counter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Inc()
		defer c.Dec()
		next.ServeHTTP(w, r)
	})
}
