// Package provider defines the backend provider contract, the registry of
// providers known to the process, and the selection policy.
package provider

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

// Descriptor is what a provider declares about itself.
type Descriptor struct {
	Name      string
	Models    []string
	Aliases   map[string]string
	Streaming bool
	Priority  bool
}

// Supports reports whether model is in the declared model list.
func (d Descriptor) Supports(model string) bool {
	return slices.Contains(d.Models, model)
}

// Resolve maps a public model id to the provider-internal id.
func (d Descriptor) Resolve(model string) string {
	if internal, ok := d.Aliases[model]; ok && internal != "" {
		return internal
	}
	return model
}

// ShortName is the abbreviated provider name used in request audit logs.
func (d Descriptor) ShortName() string {
	if len(d.Name) <= 3 {
		return d.Name
	}
	return d.Name[:3]
}

// Request is the normalized chat request handed to a provider. Model is the
// public id; providers resolve aliases themselves.
type Request struct {
	Model       string
	Messages    []models.Message
	Stream      bool
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Stop        json.RawMessage
}

// NewRequest builds a provider request from the caller's body.
func NewRequest(req models.ChatRequest) Request {
	return Request{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
}

// Stream is a finite, lazily produced sequence of content fragments.
type Stream interface {
	// Next returns the next fragment, or io.EOF after the last one.
	Next() (string, error)

	// Close abandons the stream and releases its resources.
	Close() error
}

// Provider is one backend unit.
type Provider interface {
	Descriptor() Descriptor

	// ChatCompletion produces exactly one completion.
	ChatCompletion(ctx context.Context, req Request) (string, error)

	// ChatCompletionStream starts a streaming completion. The stream stops
	// producing when ctx is cancelled.
	ChatCompletionStream(ctx context.Context, req Request) (Stream, error)
}
