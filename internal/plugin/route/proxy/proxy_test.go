package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(p *Proxy) *gin.Engine {
	r := gin.New()
	MountRoutes(r, p, func(c *gin.Context) { c.Next() })
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestMissingSecretsNeverCallUpstream(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	r := newRouter(&Proxy{Client: upstream.Client(), ElevenLabsBaseURL: upstream.URL, PerplexityBaseURL: upstream.URL})

	w := post(r, "/functions/v1/elevenlabs-conversation-token", `{"agentId":"a"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, decode(t, w)["error"], "ELEVENLABS_API_KEY")

	w = post(r, "/functions/v1/perplexity-search", `{"query":"q"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, decode(t, w)["error"], "PERPLEXITY_API_KEY")

	require.Zero(t, calls.Load())
}

func TestConversationToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convai/conversation/token", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("xi-api-key"))
		if r.URL.Query().Get("agent_id") == "bad" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"invalid agent"}`)
			return
		}
		_, _ = io.WriteString(w, `{"token":"tok-`+r.URL.Query().Get("agent_id")+`"}`)
	}))
	defer upstream.Close()

	r := newRouter(&Proxy{Client: upstream.Client(), ElevenLabsAPIKey: "secret", ElevenLabsBaseURL: upstream.URL, ElevenLabsAgentID: "default"})

	w := post(r, "/functions/v1/elevenlabs-conversation-token", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tok-default", decode(t, w)["token"])

	w = post(r, "/functions/v1/elevenlabs-conversation-token", `{"agentId":"agent-7"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tok-agent-7", decode(t, w)["token"])

	w = post(r, "/functions/v1/elevenlabs-conversation-token", `{"agentId":"bad"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	require.Equal(t, "ElevenLabs API error", body["error"])
	require.Contains(t, body["details"], "invalid agent")

	w = post(r, "/functions/v1/elevenlabs-conversation-token", `{"agentId":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer pplx", r.Header.Get("Authorization"))
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sonar", req.Model)
		require.Equal(t, "what is go", req.Messages[1].Content)
		require.Equal(t, "week", req.SearchRecencyFilter)
		require.Equal(t, []string{"go.dev"}, req.SearchDomainFilter)
		_, _ = io.WriteString(w, `{"model":"sonar","citations":["https://go.dev"],"choices":[{"message":{"role":"assistant","content":"A language."}}]}`)
	}))
	defer upstream.Close()

	r := newRouter(&Proxy{Client: upstream.Client(), PerplexityAPIKey: "pplx", PerplexityBaseURL: upstream.URL, PerplexityModel: "sonar"})

	w := post(r, "/functions/v1/perplexity-search", `{"query":"what is go","dateFilter":"week","domains":["go.dev"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"answer":"A language.","citations":["https://go.dev"],"model":"sonar"}`, w.Body.String())

	w = post(r, "/functions/v1/perplexity-search", `{"query":"  "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = post(r, "/functions/v1/perplexity-search", `nope`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpstreamTimeoutAndTransportFailure(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	r := newRouter(&Proxy{Client: slow.Client(), PerplexityAPIKey: "k", PerplexityBaseURL: slow.URL, Timeout: 50 * time.Millisecond})
	w := post(r, "/functions/v1/perplexity-search", `{"query":"q"}`)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Contains(t, decode(t, w)["error"], "timed out")

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	r = newRouter(&Proxy{Client: http.DefaultClient, ElevenLabsAPIKey: "k", ElevenLabsBaseURL: deadURL, ElevenLabsAgentID: "a"})
	w = post(r, "/functions/v1/elevenlabs-conversation-token", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
}
