package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestUpsertRoutesAndBody(t *testing.T) {
	var gotMethod, gotPath, gotBody string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))

	payload := json.RawMessage(`{"id":"c1"}`)
	if err := c.Upsert(context.Background(), "claims", "c1", payload); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/rest/claims/c1" {
		t.Errorf("path = %s, want /rest/claims/c1", gotPath)
	}
	if gotBody != `{"id":"c1"}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestUpsertClassifiesStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantErr       bool
		wantTransient bool
	}{
		{"ok", http.StatusOK, false, false},
		{"created", http.StatusCreated, false, false},
		{"server error is transient", http.StatusInternalServerError, true, true},
		{"throttled is transient", http.StatusTooManyRequests, true, true},
		{"timeout is transient", http.StatusRequestTimeout, true, true},
		{"validation reject is permanent", http.StatusUnprocessableEntity, true, false},
		{"forbidden is permanent", http.StatusForbidden, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			err := c.Upsert(context.Background(), "claims", "c1", json.RawMessage(`{}`))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("upsert = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("upsert succeeded, want error")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	if err := c.Delete(context.Background(), "claims", "ghost"); err != nil {
		t.Errorf("delete of missing remote row = %v, want nil", err)
	}
}

func TestPutObjectReturnsLocator(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/objects" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"locator": "obj-42"})
	}))

	locator, err := c.PutObject(context.Background(), []byte("bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("put object failed: %v", err)
	}
	if locator != "obj-42" {
		t.Errorf("locator = %q, want obj-42", locator)
	}
}

func TestPutObjectMissingLocatorIsPermanent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := c.PutObject(context.Background(), []byte("bytes"), "")
	if err == nil {
		t.Fatal("put object succeeded without locator")
	}
	if IsTransient(err) {
		t.Error("missing locator classified transient; retrying cannot help")
	}
}

func TestPingHealthRoute(t *testing.T) {
	healthy := true
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping of healthy backend = %v", err)
	}

	healthy = false
	if err := c.Ping(context.Background()); err == nil {
		t.Error("ping of unhealthy backend succeeded")
	}
}

func TestAuthTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Token:   func(ctx context.Context) (string, error) { return "tok-123", nil },
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := c.Upsert(context.Background(), "claims", "c1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("authorization = %q, want Bearer tok-123", gotAuth)
	}
}

func TestAuthFailureIsTransient(t *testing.T) {
	c, err := NewClient(ClientConfig{
		BaseURL: "http://127.0.0.1:0",
		Token:   func(ctx context.Context) (string, error) { return "", errors.New("token expired") },
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = c.Upsert(context.Background(), "claims", "c1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("upsert succeeded despite token failure")
	}
	if !IsTransient(err) {
		t.Error("token refresh failure classified permanent")
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: base, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = c.Upsert(context.Background(), "claims", "c1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("upsert against closed server succeeded")
	}
	if !IsTransient(err) {
		t.Error("connection refusal classified permanent")
	}
}
