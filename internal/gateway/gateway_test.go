package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/audit"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/static"
	"github.com/G4FproAPI/Astra-OSS/internal/ratelimit"
)

type countingStore struct {
	*accounts.MemoryStore
	increments atomic.Int64
}

func (s *countingStore) IncrementUsage(ctx context.Context, id string, amount float64, now time.Time) (models.Account, error) {
	s.increments.Add(1)
	return s.MemoryStore.IncrementUsage(ctx, id, amount, now)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(ev audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) Titles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Title)
	}
	return out
}

type failingProvider struct{ desc provider.Descriptor }

func (p failingProvider) Descriptor() provider.Descriptor { return p.desc }

func (p failingProvider) ChatCompletion(context.Context, provider.Request) (string, error) {
	return "", errors.New("upstream exploded: secret detail")
}

func (p failingProvider) ChatCompletionStream(context.Context, provider.Request) (provider.Stream, error) {
	return nil, errors.New("upstream exploded: secret detail")
}

// tickingProvider streams forever until its context is cancelled.
type tickingProvider struct {
	desc   provider.Descriptor
	closed chan struct{}
}

func (p *tickingProvider) Descriptor() provider.Descriptor { return p.desc }

func (p *tickingProvider) ChatCompletion(context.Context, provider.Request) (string, error) {
	return "tick", nil
}

func (p *tickingProvider) ChatCompletionStream(ctx context.Context, _ provider.Request) (provider.Stream, error) {
	return &tickingStream{ctx: ctx, closed: p.closed}, nil
}

type tickingStream struct {
	ctx    context.Context
	closed chan struct{}
	once   sync.Once
}

func (s *tickingStream) Next() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return "tick", nil
	}
}

func (s *tickingStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fixture struct {
	store   *countingStore
	events  *recordingEmitter
	ticker  *tickingProvider
	gw      *Gateway
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := &countingStore{MemoryStore: accounts.NewMemoryStore()}
	ticker := &tickingProvider{
		desc:   provider.Descriptor{Name: "ticker", Models: []string{"ticker-model"}, Streaming: true},
		closed: make(chan struct{}),
	}
	catalog := models.NewCatalog(map[string]models.ModelConfig{
		"double":           {Multiplier: 2, Restrictions: map[string]bool{"free": true, "premium": true}},
		"restricted-model": {Multiplier: 1, Restrictions: map[string]bool{"free": false, "premium": true}},
		"stream-model":     {Multiplier: 1.5, Restrictions: map[string]bool{"free": true}},
	})
	registry := provider.NewRegistry(
		static.New(provider.Descriptor{
			Name:      "alpha",
			Models:    []string{"gpt-3.5-turbo", "double", "restricted-model", "stream-model"},
			Streaming: true,
			Priority:  true,
		}, "one two three"),
		static.New(provider.Descriptor{
			Name:   "beta",
			Models: []string{"gpt-3.5-turbo", "beta-only"},
		}, "beta reply"),
		failingProvider{desc: provider.Descriptor{Name: "broken", Models: []string{"broken-model"}, Streaming: true}},
		ticker,
	)

	events := &recordingEmitter{}
	opts = append([]Option{WithEmitter(events)}, opts...)
	g := New(store, accounts.NewAccountant(store), ratelimit.NewMemoryLimiter(), catalog, registry, opts...)

	router := mux.NewRouter()
	g.RegisterRoutes(router)
	return &fixture{store: store, events: events, ticker: ticker, gw: g, handler: CORS(AccessLog(router))}
}

func (f *fixture) put(acc models.Account) models.Account {
	if acc.Plan == "" {
		acc.Plan = models.PlanFree
	}
	if acc.MaxUsagePerDay == 0 {
		acc.MaxUsagePerDay = models.MaxUsageForPlan(acc.Plan)
	}
	if acc.LastReset == 0 {
		acc.LastReset = time.Now().Unix()
	}
	f.store.Put(acc)
	return acc
}

func (f *fixture) do(method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) usage(t *testing.T, id string) float64 {
	t.Helper()
	acc, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return acc.Usage
}

type envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.True(t, env.Error)
	return env
}

func TestUnknownAPIKeyRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do("POST", "/v1/chat/completions", "sk-nope", `{"model":"gpt-3.5-turbo","messages":[]}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API key", decodeEnvelope(t, rec).Message)
}

func TestMissingOrMalformedCredential(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/v1/chat/completions", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing or invalid authorization header", decodeEnvelope(t, rec).Message)

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing or invalid authorization header", decodeEnvelope(t, rec).Message)
}

func TestQuotaAdmitsLastRequestAndOvershoots(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1", Usage: 399})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"double","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out models.ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "double", out.Model)
	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "one two three", out.Choices[0].Message.Content)

	assert.Equal(t, 401.0, f.usage(t, "u1"))
	assert.Contains(t, f.events.Titles(), audit.TitleRequest)

	// Now over quota.
	rec = f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"double","messages":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Not enough credits", decodeEnvelope(t, rec).Message)
	assert.Equal(t, 401.0, f.usage(t, "u1"))
}

func TestRestrictedModelForbidden(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"restricted-model","messages":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Your plan (free) doesn't have access to restricted-model", decodeEnvelope(t, rec).Message)
	assert.Zero(t, f.usage(t, "u1"))
	assert.Contains(t, f.events.Titles(), audit.TitleError)

	premium := f.put(models.Account{ID: "u2", APIKey: "sk-u2", Plan: models.PlanPremium})
	rec = f.do("POST", "/v1/chat/completions", premium.APIKey, `{"model":"restricted-model","messages":[]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNinthRequestRateLimited(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	for i := 0; i < 8; i++ {
		rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"messages":[]}`)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "8", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"messages":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded. Maximum 8 requests per minute allowed for free plan.", decodeEnvelope(t, rec).Message)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 8.0, f.usage(t, "u1"))

	// The listing stays reachable.
	rec = f.do("GET", "/v1/models", acc.APIKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBannedAccountNotCharged(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1", Banned: true})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"gpt-3.5-turbo","messages":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "User is banned", decodeEnvelope(t, rec).Message)
	assert.Zero(t, f.usage(t, "u1"))
	assert.Zero(t, f.store.increments.Load())
}

func readEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, e := range strings.Split(body, "\n\n") {
		if e == "" {
			continue
		}
		require.True(t, strings.HasPrefix(e, "data: "), "event %q", e)
		events = append(events, strings.TrimPrefix(e, "data: "))
	}
	return events
}

func TestStreamingChargesPerChunk(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"stream-model","stream":true,"messages":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "[DONE]", events[3])

	var text strings.Builder
	var ids []string
	for _, e := range events[:3] {
		var c models.ChatChunk
		require.NoError(t, json.Unmarshal([]byte(e), &c))
		assert.Equal(t, "chat.completion.chunk", c.Object)
		assert.Equal(t, "stream-model", c.Model)
		text.WriteString(c.Choices[0].Delta.Content)
		ids = append(ids, c.ID)
	}
	assert.Equal(t, "one two three", text.String())
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])

	assert.Equal(t, int64(3), f.store.increments.Load())
	assert.InDelta(t, 4.5, f.usage(t, "u1"), 1e-9)
}

func TestStreamingChargesPerRequest(t *testing.T) {
	f := newFixture(t, WithStreamBilling(BillPerRequest))
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"stream-model","stream":true,"messages":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, readEvents(t, rec.Body.String()), 4)

	assert.Equal(t, int64(1), f.store.increments.Load())
	assert.InDelta(t, 1.5, f.usage(t, "u1"), 1e-9)
}

func TestStreamingWithoutCapableProvider(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"beta-only","stream":true,"messages":[]}`)
	assert.Equal(t, 469, rec.Code)
	assert.Equal(t, "Internal server error", decodeEnvelope(t, rec).Message)
	assert.Contains(t, f.events.Titles(), audit.TitleCritical)

	rec = f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"beta-only","messages":[]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpstreamFailureIsGeneralized(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":"broken-model","messages":[]}`)
	assert.Equal(t, 469, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Internal server error", env.Message)
	assert.NotContains(t, rec.Body.String(), "secret detail")
	assert.Zero(t, f.usage(t, "u1"))
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1"})

	rec := f.do("POST", "/v1/chat/completions", acc.APIKey, `{"model":`)
	assert.Equal(t, 469, rec.Code)
	assert.Equal(t, "Internal server error", decodeEnvelope(t, rec).Message)
}

func TestStreamStopsWhenClientDisconnects(t *testing.T) {
	f := newFixture(t)
	acc := f.put(models.Account{ID: "u1", APIKey: "sk-u1", Plan: models.PlanEnterprise})

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "POST", srv.URL+"/v1/chat/completions",
		strings.NewReader(`{"model":"ticker-model","stream":true,"messages":[]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+acc.APIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	cancel()

	select {
	case <-f.ticker.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("stream not abandoned after disconnect")
	}

	// Delivered chunks stay charged.
	require.Eventually(t, func() bool {
		return f.usage(t, "u1") >= 1
	}, time.Second, 10*time.Millisecond)
	charged := f.usage(t, "u1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, charged, f.usage(t, "u1"))
}

type blockingRecorder struct {
	release chan struct{}
	written atomic.Int32
}

func (r *blockingRecorder) LogRequest(ctx context.Context, _ models.RequestLog) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.written.Add(1)
	return nil
}

func TestDrainWaitsForRequestLogs(t *testing.T) {
	recorder := &blockingRecorder{release: make(chan struct{})}
	f := newFixture(t, WithRequestRecorder(recorder))
	f.put(models.Account{ID: "u1", APIKey: "sk-u1", MaxUsagePerDay: 100})

	rec := f.do("POST", "/v1/chat/completions", "sk-u1", `{"model":"gpt-3.5-turbo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	drained := make(chan struct{})
	go func() {
		f.gw.Drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned while a request log write was pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(recorder.release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after the write finished")
	}
	assert.Equal(t, int32(1), recorder.written.Load())
}
