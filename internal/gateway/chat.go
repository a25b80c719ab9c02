package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/audit"
	"github.com/G4FproAPI/Astra-OSS/internal/auth"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
)

// maxBodyBytes bounds the chat request body.
const maxBodyBytes = 8 << 20

// exchange tracks one chat request through the pipeline for the request log.
type exchange struct {
	start    time.Time
	account  models.Account
	model    string
	provider string
	stream   bool
	charged  float64
}

// ChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	x := &exchange{start: g.now()}

	acc, ok := AccountFromContext(r.Context())
	if !ok {
		key, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if acc, err = g.resolve(r.Context(), key); err != nil {
			g.fail(w, r, err)
			return
		}
	}
	x.account = acc

	if err := g.checkAccount(acc); err != nil {
		g.reject(w, r, x, err)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		g.reject(w, r, x, fmt.Errorf("decode request body: %w", err))
		return
	}
	req.Normalize()
	x.model = req.Model
	x.stream = req.Stream

	p, multiplier, err := g.route(acc, req)
	if err != nil {
		g.reject(w, r, x, err)
		return
	}
	x.provider = p.Descriptor().Name

	if req.Stream {
		g.stream(w, r, x, p, req, multiplier)
		return
	}
	g.complete(w, r, x, p, req, multiplier)
}

// checkAccount runs the ban and quota checks against the account as read.
func (g *Gateway) checkAccount(acc models.Account) error {
	if acc.Banned {
		return apierr.New(apierr.ErrBanned, "User is banned")
	}
	if !g.accountant.HasQuota(acc) {
		return apierr.New(apierr.ErrQuotaExceeded, "Not enough credits")
	}
	return nil
}

// route authorizes the model for the account's plan and picks a provider.
func (g *Gateway) route(acc models.Account, req models.ChatRequest) (provider.Provider, float64, error) {
	if !g.catalog.Allowed(acc.Plan, req.Model) {
		return nil, 0, apierr.New(apierr.ErrModelRestricted,
			fmt.Sprintf("Your plan (%s) doesn't have access to %s", acc.Plan, req.Model))
	}
	p, err := g.selector.Select(req.Model, req.Stream)
	if err != nil {
		return nil, 0, err
	}
	return p, g.catalog.Multiplier(req.Model), nil
}

func (g *Gateway) complete(w http.ResponseWriter, r *http.Request, x *exchange, p provider.Provider, req models.ChatRequest, multiplier float64) {
	content, err := p.ChatCompletion(r.Context(), provider.NewRequest(req))
	if err != nil {
		g.reject(w, r, x, err)
		return
	}

	g.charge(r.Context(), x, multiplier)

	writeJSON(w, http.StatusOK, models.NewChatCompletion(models.NewCompletionID(), req.Model, content, g.now()))

	elapsed := g.now().Sub(x.start)
	log.Printf("✅ %s served %s via %s in %dms", x.account.ID, req.Model, x.provider, elapsed.Milliseconds())
	g.events.Emit(audit.RequestEvent(x.account.ID, req.Model, p.Descriptor().ShortName(), elapsed))
	g.record(r.Context(), x, http.StatusOK, nil)
}

// stream relays provider chunks as server-sent events. Every chunk is
// flushed as soon as it arrives. Usage already charged for delivered chunks
// stays charged when the client goes away.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, x *exchange, p provider.Provider, req models.ChatRequest, multiplier float64) {
	ctx := r.Context()
	s, err := p.ChatCompletionStream(ctx, provider.NewRequest(req))
	if err != nil {
		g.reject(w, r, x, err)
		return
	}
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	id := models.NewCompletionID()
	delivered := 0
	var streamErr error

	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}

		data, err := json.Marshal(models.NewChatChunk(id, req.Model, chunk, g.now()))
		if err != nil {
			streamErr = err
			break
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			streamErr = err
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
		delivered++

		if g.billing == BillPerChunk {
			g.charge(ctx, x, multiplier)
		}
	}

	if g.billing == BillPerRequest && delivered > 0 {
		g.charge(ctx, x, multiplier)
	}

	elapsed := g.now().Sub(x.start)
	switch {
	case streamErr == nil:
		fmt.Fprint(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		log.Printf("✅ %s streamed %d chunks of %s via %s in %dms", x.account.ID, delivered, req.Model, x.provider, elapsed.Milliseconds())
		g.events.Emit(audit.RequestEvent(x.account.ID, req.Model, p.Descriptor().ShortName(), elapsed))
		g.record(ctx, x, http.StatusOK, nil)
	case ctx.Err() != nil:
		log.Printf("⚠️  %s disconnected after %d chunks", x.account.ID, delivered)
		g.record(ctx, x, http.StatusOK, ctx.Err())
	default:
		log.Printf("❌ stream from %s failed after %d chunks: %v", x.provider, delivered, streamErr)
		g.events.Emit(audit.ErrorEvent(apierr.Status(streamErr), fmt.Sprintf("Error: %s", streamErr)))
		g.record(ctx, x, apierr.Status(streamErr), streamErr)
	}
}

// charge meters one unit of work. It outlives the request context so a
// disconnect after delivery does not lose the charge.
func (g *Gateway) charge(ctx context.Context, x *exchange, amount float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := g.accountant.AddUsage(ctx, x.account.ID, amount); err != nil {
		log.Printf("❌ Failed to record usage: %v", err)
		return
	}
	x.charged += amount
}

// reject fails a request whose account is known and logs it.
func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, x *exchange, err error) {
	g.fail(w, r, err)
	g.record(r.Context(), x, apierr.Status(err), err)
}

func (g *Gateway) record(ctx context.Context, x *exchange, status int, err error) {
	entry := models.RequestLog{
		AccountID:   x.account.ID,
		Model:       x.model,
		Provider:    x.provider,
		Stream:      x.stream,
		StatusCode:  status,
		UsageCharge: x.charged,
		DurationMs:  int(g.now().Sub(x.start).Milliseconds()),
		Timestamp:   x.start.UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.requests.LogRequest(ctx, entry); err != nil {
			log.Printf("❌ Failed to log request: %v", err)
		}
	}()
}
