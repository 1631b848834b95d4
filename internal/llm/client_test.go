package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Generate(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(GenerateResponse{Response: "  Skip orders under $6.  ", Done: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "llama3.2", time.Second)
	text, err := c.Generate(context.Background(), "tips please")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Skip orders under $6." {
		t.Errorf("Generate() = %q", text)
	}
	if got.Model != "llama3.2" || got.Prompt != "tips please" || got.Stream {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name:    "status error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "model not found", http.StatusNotFound) },
			check:   func(err error) bool { return err != nil && strings.Contains(err.Error(), "status 404") },
		},
		{
			name:    "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"response":"   ","done":true}`)) },
			check:   func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name:    "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`not json`)) },
			check:   func(err error) bool { return err != nil && strings.Contains(err.Error(), "decode response") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewClient(srv.URL, "m", time.Second).Generate(context.Background(), "p")
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestClient_GenerateHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "m", time.Minute).Generate(ctx, "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
