package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockCounter struct {
	counts map[string]int64
	err    error
}

func (m *mockCounter) Incr(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], nil
}

func unlockMux(counter WindowCounter, limit int64) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/links/{id}/unlock", RateLimitMiddleware(counter, limit, UnlockKey)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	))
	return mux
}

func TestRateLimitMiddleware(t *testing.T) {
	counter := &mockCounter{}
	handler := unlockMux(counter, 2)

	send := func(id, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/links/"+id+"/unlock", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("abc", "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, code, http.StatusOK)
		}
	}
	if code := send("abc", "10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("abc", "10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("other client status = %d, want %d", code, http.StatusOK)
	}
	if code := send("xyz", "10.0.0.1:5000"); code != http.StatusOK {
		t.Fatalf("other link status = %d, want %d", code, http.StatusOK)
	}
	if _, ok := counter.counts["abc:10.0.0.1"]; !ok {
		t.Fatalf("unexpected keys: %v", counter.counts)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	handler := unlockMux(&mockCounter{err: errors.New("store down")}, 1)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/links/abc/unlock", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	counter := &mockCounter{}
	handler := unlockMux(counter, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/links/abc/unlock", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if len(counter.counts) != 0 {
		t.Fatal("disabled limiter should not touch the counter")
	}
}
