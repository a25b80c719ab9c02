// Package gateway serves the OpenAI-compatible HTTP surface. Every chat
// request walks the same ordered checks: credential, rate limit, account,
// ban, quota, model access, provider selection, dispatch, metering, audit.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/audit"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
	"github.com/G4FproAPI/Astra-OSS/internal/ratelimit"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// DefaultOwnedBy is the owned_by value of listed models.
const DefaultOwnedBy = "G4F.PRO"

// NotFoundMessage is returned for unknown routes.
const NotFoundMessage = "This route does not exist. If you need support, please stop needing support."

// StreamBilling decides how streamed completions are charged.
type StreamBilling string

const (
	// BillPerChunk charges the model multiplier for every delivered chunk.
	BillPerChunk StreamBilling = "per_chunk"
	// BillPerRequest charges the multiplier once per streamed completion.
	BillPerRequest StreamBilling = "per_request"
)

// ParseStreamBilling validates a billing policy name. Empty means per_chunk.
func ParseStreamBilling(s string) (StreamBilling, error) {
	switch StreamBilling(s) {
	case "", BillPerChunk:
		return BillPerChunk, nil
	case BillPerRequest:
		return BillPerRequest, nil
	default:
		return "", fmt.Errorf("unknown stream billing policy %q", s)
	}
}

// RequestRecorder persists request logs. *db.DB satisfies it.
type RequestRecorder interface {
	LogRequest(ctx context.Context, log models.RequestLog) error
}

type nopRecorder struct{}

func (nopRecorder) LogRequest(context.Context, models.RequestLog) error { return nil }

// Gateway holds everything the request path needs.
type Gateway struct {
	store      accounts.Store
	accountant *accounts.Accountant
	limiter    ratelimit.Limiter
	catalog    *models.Catalog
	registry   *provider.Registry
	selector   *provider.Selector

	events   audit.Emitter
	requests RequestRecorder
	billing  StreamBilling
	ownedBy  string
	now      func() time.Time

	pending sync.WaitGroup // request log writes in flight
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithEmitter sets where audit events go.
func WithEmitter(e audit.Emitter) Option {
	return func(g *Gateway) { g.events = e }
}

// WithRequestRecorder sets where request logs go.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(g *Gateway) { g.requests = r }
}

// WithStreamBilling sets the stream charging policy.
func WithStreamBilling(b StreamBilling) Option {
	return func(g *Gateway) { g.billing = b }
}

// WithOwnedBy sets the owned_by value of listed models.
func WithOwnedBy(owner string) Option {
	return func(g *Gateway) { g.ownedBy = owner }
}

// WithSelector replaces the default provider selector.
func WithSelector(s *provider.Selector) Option {
	return func(g *Gateway) { g.selector = s }
}

// WithClock overrides the time source used for response timestamps and
// request timing.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New wires a gateway.
func New(store accounts.Store, accountant *accounts.Accountant, limiter ratelimit.Limiter,
	catalog *models.Catalog, registry *provider.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		store:      store,
		accountant: accountant,
		limiter:    limiter,
		catalog:    catalog,
		registry:   registry,
		events:     audit.Discard{},
		requests:   nopRecorder{},
		billing:    BillPerChunk,
		ownedBy:    DefaultOwnedBy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.selector == nil {
		g.selector = provider.NewSelector(registry)
	}
	return g
}

// RegisterRoutes mounts the public API on router. Routes under /v1 sit
// behind the rate limiter.
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", g.Health).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(g.RateLimit)
	v1.HandleFunc("/models", g.ListModels).Methods("GET")
	v1.HandleFunc("/models/", g.ListModels).Methods("GET")
	v1.HandleFunc("/chat/completions", g.ChatCompletions).Methods("POST")

	router.NotFoundHandler = http.HandlerFunc(NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)
}

// Drain waits for request log writes started by finished requests. Call it
// after the HTTP server has shut down and before closing the recorder.
func (g *Gateway) Drain() {
	g.pending.Wait()
}

// Health reports liveness.
func (g *Gateway) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.New(apierr.ErrRouteNotFound, NotFoundMessage))
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.New(apierr.ErrMethodNotAllowed, "Method not allowed"))
}

// fail answers with the error envelope and emits the matching audit event.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.Status(err)
	if apierr.CallerFacing(err) {
		log.Printf("⚠️  %s %s: %d %s", r.Method, r.URL.Path, status, apierr.Public(err))
	} else {
		log.Printf("❌ %s %s: %v", r.Method, r.URL.Path, err)
	}
	g.events.Emit(audit.ErrorEvent(status, fmt.Sprintf("Status: %d\nError: %s", status, err.Error())))
	apierr.Write(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
