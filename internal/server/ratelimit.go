package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// slidingWindow limits how many requests are accepted within a sliding
// window. Requests rejected in a row push the next acceptance out with an
// exponential backoff, so a client hammering the endpoint stays throttled.
type slidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu           sync.Mutex
	timestamps   []time.Time
	violations   int
	lastRejected time.Time
	backoffUntil time.Time

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:       limit,
		window:      window,
		now:         time.Now,
		timestamps:  make([]time.Time, 0, limit),
		baseBackoff: time.Second,
		maxBackoff:  time.Minute,
	}
}

// allow records a request and reports whether it is accepted. When it is
// not, retry is how long the caller should wait.
func (w *slidingWindow) allow() (ok bool, retry time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Before(w.backoffUntil) {
		w.reject(now)
		return false, w.backoffUntil.Sub(now)
	}

	w.expire(now)
	if len(w.timestamps) >= w.limit {
		w.reject(now)
		return false, w.backoffUntil.Sub(now)
	}

	// Forgive clients that behaved for two windows.
	if w.violations > 0 && now.Sub(w.lastRejected) > 2*w.window {
		w.violations = 0
		w.backoffUntil = time.Time{}
	}
	w.timestamps = append(w.timestamps, now)
	return true, 0
}

// Must be called with mu held.
func (w *slidingWindow) reject(now time.Time) {
	w.violations++
	w.lastRejected = now

	backoff := w.baseBackoff
	for i := 1; i < w.violations && backoff < w.maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > w.maxBackoff {
		backoff = w.maxBackoff
	}
	w.backoffUntil = now.Add(backoff)
}

// Must be called with mu held.
func (w *slidingWindow) expire(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(w.timestamps, w.timestamps[i:])
		w.timestamps = w.timestamps[:n]
	}
}

// limitBuilds rejects requests that would start builds beyond limit per
// minute. A limit of zero or less disables it.
func limitBuilds(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := newSlidingWindow(limit, time.Minute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, retry := window.allow(); !ok {
				seconds := int(retry.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error: "too many build requests",
					Type:  "rate_limit",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
