package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestDoSendsJSON(t *testing.T) {
	var got map[string]string
	var ctype, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctype = r.Header.Get("Content-Type")
		custom = r.Header.Get("X-Bot")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Bot", "momentum"))
	req := NewRequest(http.MethodPost, srv.URL+"/hook").WithBody(map[string]string{"text": "hi"})
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ctype != "application/json" || custom != "momentum" {
		t.Errorf("Expected JSON content type and default header, got %q %q", ctype, custom)
	}
	if got["text"] != "hi" {
		t.Errorf("Expected body text hi, got %v", got)
	}

	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("Expected ok response, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient().Do(NewRequest(http.MethodGet, srv.URL).WithContext(context.Background()))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusForbidden || se.Retryable() {
		t.Errorf("Expected non-retryable 403, got %d", se.StatusCode)
	}
}

func TestRetryRecoversFromServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	req := NewRequest(http.MethodPost, srv.URL).WithBody(map[string]int{"n": 1})
	if _, err := c.DoWithRetry(req, fastRetry()); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestRetryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient().DoWithRetry(NewRequest(http.MethodGet, srv.URL), fastRetry())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestRetryHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour}
	_, err := NewClient().DoWithRetry(NewRequest(http.MethodGet, srv.URL).WithContext(ctx), cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
