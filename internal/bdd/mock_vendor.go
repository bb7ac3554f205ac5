package bdd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	MockVendorExtraKey = "mockVendor"
	MockElevenLabsKey  = "test-elevenlabs-key"
	MockPerplexityKey  = "test-perplexity-key"
)

// MockVendor stands in for the ElevenLabs and Perplexity APIs. It also
// accepts offline actions and webhook calls, recording every request body.
type MockVendor struct {
	Server    *httptest.Server
	mu        sync.Mutex
	available bool
	received  map[string][]json.RawMessage
}

// NewMockVendor starts a vendor mock that is torn down with the test.
func NewMockVendor(t *testing.T) *MockVendor {
	t.Helper()
	mv := &MockVendor{available: true, received: map[string][]json.RawMessage{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/convai/conversation/token", mv.conversationToken)
	mux.HandleFunc("POST /chat/completions", mv.completions)
	mux.HandleFunc("POST /hooks/{name}", mv.hook)
	mv.Server = httptest.NewServer(mux)
	t.Cleanup(mv.Server.Close)
	return mv
}

// SetAvailable toggles whether the mock answers or returns 503.
func (m *MockVendor) SetAvailable(value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = value
}

// Received returns the bodies posted to path, oldest first.
func (m *MockVendor) Received(path string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.received[path]...)
}

func (m *MockVendor) record(r *http.Request) (json.RawMessage, bool) {
	body, _ := io.ReadAll(r.Body)
	if len(body) == 0 {
		body = []byte("null")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[r.URL.Path] = append(m.received[r.URL.Path], body)
	return body, m.available
}

func unavailable(w http.ResponseWriter) {
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"detail":"service unavailable"}`))
}

func (m *MockVendor) conversationToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := m.record(r); !ok {
		unavailable(w)
		return
	}
	if r.Header.Get("xi-api-key") != MockElevenLabsKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
		return
	}
	agent := r.URL.Query().Get("agent_id")
	if agent == "unknown-agent" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"agent not found"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"token":"token-for-%s"}`, agent)
}

func (m *MockVendor) completions(w http.ResponseWriter, r *http.Request) {
	body, ok := m.record(r)
	if !ok {
		unavailable(w)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+MockPerplexityKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
		return
	}
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Messages) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
		return
	}
	query := req.Messages[len(req.Messages)-1].Content
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":     req.Model,
		"citations": []string{"https://example.com/source"},
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": "Answer: " + query}},
		},
	})
}

func (m *MockVendor) hook(w http.ResponseWriter, r *http.Request) {
	if _, ok := m.record(r); !ok {
		unavailable(w)
		return
	}
	if r.PathValue("name") == "fail" {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
