package main

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/openaicompat"
)

var mockDesc = provider.Descriptor{Name: "mock", Models: []string{"gpt-4o"}, Streaming: true}

func mockRequest(stream bool) provider.Request {
	return provider.Request{
		Model: "gpt-4o",
		Messages: []models.Message{
			models.TextMessage("system", "be brief"),
			models.TextMessage("user", "hello there"),
		},
		Stream: stream,
	}
}

func TestEchoCompletion(t *testing.T) {
	srv := httptest.NewServer(newRouter("", 0))
	defer srv.Close()

	out, err := openaicompat.New(mockDesc, srv.URL+"/v1").ChatCompletion(context.Background(), mockRequest(false))
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there", out)
}

func TestEchoStream(t *testing.T) {
	srv := httptest.NewServer(newRouter("", 0))
	defer srv.Close()

	stream, err := openaicompat.New(mockDesc, srv.URL+"/v1").ChatCompletionStream(context.Background(), mockRequest(true))
	require.NoError(t, err)
	defer stream.Close()

	var parts []string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, chunk)
	}
	assert.Equal(t, []string{"echo:", " hello", " there"}, parts)
	assert.Equal(t, "echo: hello there", strings.Join(parts, ""))
}

func TestUpstreamKeyRequired(t *testing.T) {
	srv := httptest.NewServer(newRouter("secret", 0))
	defer srv.Close()

	_, err := openaicompat.New(mockDesc, srv.URL+"/v1").ChatCompletion(context.Background(), mockRequest(false))
	assert.True(t, errors.Is(err, apierr.ErrUpstream))

	out, err := openaicompat.New(mockDesc, srv.URL+"/v1", openaicompat.WithAPIKey("secret")).
		ChatCompletion(context.Background(), mockRequest(false))
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there", out)
}

func TestEchoWithoutUserMessage(t *testing.T) {
	assert.Equal(t, "echo: (no user message)", echo(models.ChatRequest{}))
}
