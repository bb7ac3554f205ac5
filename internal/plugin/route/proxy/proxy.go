// Package proxy forwards voice-token and search requests to their vendors so
// the API keys never reach the client.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	fnElevenLabs = "elevenlabs-conversation-token"
	fnPerplexity = "perplexity-search"

	maxUpstreamBody = 1 << 20
)

// Proxy holds the vendor settings and the outbound client.
type Proxy struct {
	Client *http.Client

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsAgentID string

	PerplexityAPIKey  string
	PerplexityBaseURL string
	PerplexityModel   string

	Timeout time.Duration
}

// New builds a Proxy from the application config.
func New(cfg *config.Config, client *http.Client) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{
		Client:            client,
		ElevenLabsAPIKey:  cfg.ElevenLabsAPIKey,
		ElevenLabsBaseURL: strings.TrimRight(cfg.ElevenLabsBaseURL, "/"),
		ElevenLabsAgentID: cfg.ElevenLabsAgentID,
		PerplexityAPIKey:  cfg.PerplexityAPIKey,
		PerplexityBaseURL: strings.TrimRight(cfg.PerplexityBaseURL, "/"),
		PerplexityModel:   cfg.PerplexityModel,
		Timeout:           cfg.ProxyTimeout,
	}
}

// MountRoutes mounts the proxy functions on the given router.
func MountRoutes(r *gin.Engine, p *Proxy, auth gin.HandlerFunc) {
	g := r.Group("/functions/v1", auth)
	g.POST("/"+fnElevenLabs, p.conversationToken)
	g.POST("/"+fnPerplexity, p.search)
}

// upstreamError is an upstream failure already mapped to a client status.
type upstreamError struct {
	status  int
	message string
	details string
}

func (e *upstreamError) Error() string { return e.message }

func (p *Proxy) fail(c *gin.Context, fn string, err *upstreamError) {
	body := gin.H{"error": err.message}
	if err.details != "" {
		body["details"] = err.details
	}
	c.JSON(err.status, body)
	log.Warn("Proxy call failed", "function", fn, "status", err.status, "err", err.message)
}

func (p *Proxy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

// do sends req and returns the body of a 2xx response. Any other outcome is
// an upstreamError carrying the status for the client.
func (p *Proxy) do(fn, vendor string, req *http.Request) ([]byte, *upstreamError) {
	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			security.CountProxyCall(fn, "timeout")
			return nil, &upstreamError{
				status:  http.StatusGatewayTimeout,
				message: vendor + " request timed out",
				details: fmt.Sprintf("no response within %s", p.timeout()),
			}
		}
		security.CountProxyCall(fn, "error")
		return nil, &upstreamError{status: http.StatusBadGateway, message: vendor + " request failed", details: err.Error()}
	}
	defer resp.Body.Close()
	security.CountProxyCall(fn, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, &upstreamError{status: http.StatusBadGateway, message: vendor + " response unreadable", details: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &upstreamError{status: resp.StatusCode, message: vendor + " API error", details: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// bindOptional decodes an optional JSON body. An empty body leaves v untouched.
func bindOptional(c *gin.Context, v any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

type tokenRequest struct {
	AgentID string `json:"agentId"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (p *Proxy) conversationToken(c *gin.Context) {
	if p.ElevenLabsAPIKey == "" {
		security.CountProxyCall(fnElevenLabs, "unconfigured")
		p.fail(c, fnElevenLabs, &upstreamError{status: http.StatusInternalServerError, message: "ELEVENLABS_API_KEY is not configured"})
		return
	}
	var in tokenRequest
	if err := bindOptional(c, &in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	agentID := strings.TrimSpace(in.AgentID)
	if agentID == "" {
		agentID = p.ElevenLabsAgentID
	}
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout())
	defer cancel()
	u := p.ElevenLabsBaseURL + "/v1/convai/conversation/token?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		p.fail(c, fnElevenLabs, &upstreamError{status: http.StatusInternalServerError, message: "invalid upstream request", details: err.Error()})
		return
	}
	req.Header.Set("xi-api-key", p.ElevenLabsAPIKey)

	body, uerr := p.do(fnElevenLabs, "ElevenLabs", req)
	if uerr != nil {
		p.fail(c, fnElevenLabs, uerr)
		return
	}
	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Token == "" {
		p.fail(c, fnElevenLabs, &upstreamError{status: http.StatusBadGateway, message: "ElevenLabs response missing token"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type searchRequest struct {
	Query      string   `json:"query"`
	SearchMode string   `json:"searchMode"`
	DateFilter string   `json:"dateFilter"`
	Domains    []string `json:"domains"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	SearchMode          string        `json:"search_mode,omitempty"`
	SearchRecencyFilter string        `json:"search_recency_filter,omitempty"`
	SearchDomainFilter  []string      `json:"search_domain_filter,omitempty"`
}

type completionResponse struct {
	Model     string   `json:"model"`
	Citations []string `json:"citations"`
	Choices   []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type searchResponse struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
	Model     string   `json:"model"`
}

func (p *Proxy) search(c *gin.Context) {
	if p.PerplexityAPIKey == "" {
		security.CountProxyCall(fnPerplexity, "unconfigured")
		p.fail(c, fnPerplexity, &upstreamError{status: http.StatusInternalServerError, message: "PERPLEXITY_API_KEY is not configured"})
		return
	}
	var in searchRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if strings.TrimSpace(in.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	payload, err := json.Marshal(completionRequest{
		Model: p.PerplexityModel,
		Messages: []chatMessage{
			{Role: "system", Content: "Be precise and concise."},
			{Role: "user", Content: in.Query},
		},
		SearchMode:          in.SearchMode,
		SearchRecencyFilter: in.DateFilter,
		SearchDomainFilter:  in.Domains,
	})
	if err != nil {
		p.fail(c, fnPerplexity, &upstreamError{status: http.StatusInternalServerError, message: "invalid upstream request", details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.PerplexityBaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		p.fail(c, fnPerplexity, &upstreamError{status: http.StatusInternalServerError, message: "invalid upstream request", details: err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.PerplexityAPIKey)

	body, uerr := p.do(fnPerplexity, "Perplexity", req)
	if uerr != nil {
		p.fail(c, fnPerplexity, uerr)
		return
	}
	var res completionResponse
	if err := json.Unmarshal(body, &res); err != nil || len(res.Choices) == 0 {
		p.fail(c, fnPerplexity, &upstreamError{status: http.StatusBadGateway, message: "Perplexity response missing answer"})
		return
	}
	out := searchResponse{Answer: res.Choices[0].Message.Content, Citations: res.Citations, Model: res.Model}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	if out.Model == "" {
		out.Model = p.PerplexityModel
	}
	c.JSON(http.StatusOK, out)
}
