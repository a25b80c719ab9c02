// Package static implements a provider that answers with fixed text. It backs
// local runs without upstream credentials and the gateway tests.
package static

import (
	"context"
	"io"
	"strings"

	"github.com/G4FproAPI/Astra-OSS/internal/provider"
)

// Provider replies with the same text to every request.
type Provider struct {
	desc  provider.Descriptor
	reply string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider that always answers reply.
func New(desc provider.Descriptor, reply string) *Provider {
	return &Provider{desc: desc, reply: reply}
}

func (p *Provider) Descriptor() provider.Descriptor { return p.desc }

func (p *Provider) ChatCompletion(ctx context.Context, _ provider.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.reply, nil
}

// ChatCompletionStream yields the reply word by word; every chunk but the
// first keeps its leading space so the chunks concatenate to the reply.
func (p *Provider) ChatCompletionStream(ctx context.Context, _ provider.Request) (provider.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Stream{ctx: ctx, chunks: Chunks(p.reply)}, nil
}

// Chunks splits text into word chunks.
func Chunks(text string) []string {
	words := strings.Fields(text)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks[i] = w
	}
	return chunks
}

// Stream replays a fixed list of chunks.
type Stream struct {
	ctx    context.Context
	chunks []string
	closed bool
}

// NewStream returns a stream over chunks bound to ctx.
func NewStream(ctx context.Context, chunks ...string) *Stream {
	return &Stream{ctx: ctx, chunks: chunks}
}

func (s *Stream) Next() (string, error) {
	if s.closed || len(s.chunks) == 0 {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *Stream) Close() error {
	s.closed = true
	return nil
}
