package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/auth"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/ratelimit"
)

type contextKey string

const accountContextKey contextKey = "account"

// WithAccount returns ctx carrying acc.
func WithAccount(ctx context.Context, acc models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, acc)
}

// AccountFromContext returns the account resolved by RateLimit.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	acc, ok := ctx.Value(accountContextKey).(models.Account)
	return acc, ok
}

// resolve maps an API key to its account.
func (g *Gateway) resolve(ctx context.Context, key string) (models.Account, error) {
	acc, err := g.store.GetByAPIKey(ctx, key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return models.Account{}, apierr.New(apierr.ErrInvalidAPIKey, "Invalid API key")
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("resolve api key: %w", err)
	}
	return acc, nil
}

// RateLimit applies the per-plan sliding window keyed by API key. Requests
// without credentials pass through untouched, as do preflight requests and
// the model listing.
func (g *Gateway) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || (r.Method == http.MethodGet && isModelsPath(r.URL.Path)) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		key, err := auth.ParseBearer(header)
		if err != nil {
			g.fail(w, r, err)
			return
		}

		acc, err := g.resolve(r.Context(), key)
		if err != nil {
			g.fail(w, r, err)
			return
		}

		limit := ratelimit.LimitForPlan(acc.Plan)
		d, err := g.limiter.Allow(r.Context(), key, limit)
		if err != nil {
			g.fail(w, r, fmt.Errorf("rate limit check: %w", err))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			log.Printf("🚫 Rate limit exceeded for account: %s", acc.ID)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			g.fail(w, r, apierr.New(apierr.ErrRateLimited, fmt.Sprintf(
				"Rate limit exceeded. Maximum %d requests per minute allowed for %s plan.", limit, acc.Plan)))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
	})
}

func isModelsPath(p string) bool {
	return p == "/v1/models" || p == "/v1/models/"
}

// CORS allows browser clients from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "*")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLog logs one line per request with its status and latency.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("📨 %s %s → %d (%dB) in %dms", r.Method, r.URL.Path, rec.statusCode, rec.size, time.Since(start).Milliseconds())
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.headerWritten = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.headerWritten = true
	size, err := r.ResponseWriter.Write(b)
	r.size += size
	return size, err
}

// Flush keeps streamed responses streaming through the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
