// Package openaicompat forwards chat requests to any OpenAI-compatible
// upstream.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
)

// DefaultHeaderTimeout bounds the wait for upstream response headers. Body
// reads, including long streams, are bounded only by the request context.
const DefaultHeaderTimeout = 5 * time.Minute

// Provider is an OpenAI-compatible upstream adapter.
type Provider struct {
	desc          provider.Descriptor
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	headerTimeout time.Duration
	proxies       *provider.ProxyList
}

var _ provider.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey sets the upstream bearer key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithProxies routes upstream calls through a random proxy from list.
func WithProxies(list *provider.ProxyList) Option {
	return func(p *Provider) { p.proxies = list }
}

// WithHeaderTimeout overrides DefaultHeaderTimeout.
func WithHeaderTimeout(d time.Duration) Option {
	return func(p *Provider) { p.headerTimeout = d }
}

// New creates a provider declared by desc that talks to baseURL.
func New(desc provider.Descriptor, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		desc:          desc,
		baseURL:       strings.TrimRight(baseURL, "/"),
		headerTimeout: DefaultHeaderTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Transport: p.transport()}
	}
	return p
}

func (p *Provider) transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = p.headerTimeout
	if p.proxies != nil && p.proxies.Len() > 0 {
		t.Proxy = p.proxies.ProxyFunc()
	}
	return t
}

func (p *Provider) Descriptor() provider.Descriptor { return p.desc }

type apiRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Stop        json.RawMessage  `json:"stop,omitempty"`
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req provider.Request) (string, error) {
	httpResp, err := p.doRequest(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	if err := p.mapHTTPError(httpResp); err != nil {
		return "", err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", apierr.Wrap(apierr.ErrUpstream, p.desc.Name+": decode response", err)
	}
	if len(resp.Choices) == 0 {
		return "", apierr.New(apierr.ErrUpstream, p.desc.Name+": empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	httpResp, err := p.doRequest(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	if err := p.mapHTTPError(httpResp); err != nil {
		httpResp.Body.Close()
		return nil, err
	}
	return &sseStream{
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
	}, nil
}

func (p *Provider) buildRequest(req provider.Request, stream bool) apiRequest {
	return apiRequest{
		Model:       p.desc.Resolve(req.Model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      stream,
		Stop:        req.Stop,
	}
}

func (p *Provider) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.desc.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.desc.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrUpstream, p.desc.Name+": upstream unavailable", err)
	}
	return resp, nil
}

func (p *Provider) mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return apierr.New(apierr.ErrUpstream,
		fmt.Sprintf("%s: upstream status %d: %s", p.desc.Name, resp.StatusCode, strings.TrimSpace(string(body))))
}

// sseStream parses Server-Sent Events from an upstream response body.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) Next() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", apierr.Wrap(apierr.ErrUpstream, "read stream", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return "", io.EOF
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
