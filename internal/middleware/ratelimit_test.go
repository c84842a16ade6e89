package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(perMin int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMin)
	rl.now = clock.now
	return rl, clock
}

func TestAllowSpendsAndRefills(t *testing.T) {
	rl, clock := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per client")

	clock.t = clock.t.Add(20 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	clock.t = clock.t.Add(5 * time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"))
	}
	assert.False(t, rl.Allow("a"), "refill is capped at the per-minute limit")
}

func TestSweepEvictsIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(5)
	rl.Allow("old")
	clock.t = clock.t.Add(8 * time.Minute)
	rl.Allow("recent")
	clock.t = clock.t.Add(3 * time.Minute)

	rl.sweep()
	assert.Equal(t, 1, rl.Clients())
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(1)
	r := mux.NewRouter()
	r.Use(rl.Middleware())
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000").Code)

	w := send("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "ports of one host share a bucket")
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000").Code)
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
