package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G4FproAPI/Astra-OSS/internal/provider"
)

const sample = `
providers:
  - name: g4f
    kind: openai
    base_url: http://localhost:9000/v1
    api_key: ${TEST_UPSTREAM_KEY}
    models: [llama-3.1-8b-instruct, gemini-1.5-flash-latest]
    aliases:
      llama-3.1-8b-instruct: llama-3.1-8b
    streaming: true
    priority: true
    use_proxies: true
  - name: echo
    kind: static
    reply: hello there
    models: [gpt-3.5-turbo]
`

func TestParseAndBuild(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-upstream")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-upstream", cfg.Providers[0].APIKey)

	ps := cfg.Build(provider.NewProxyList())
	require.Len(t, ps, 2)
	assert.Equal(t, "llama-3.1-8b", ps[0].Descriptor().Resolve("llama-3.1-8b-instruct"))
	assert.True(t, ps[0].Descriptor().Priority)
	assert.False(t, ps[1].Descriptor().Streaming)

	r := provider.NewRegistry(ps...)
	assert.Equal(t, []string{"llama-3.1-8b-instruct", "gemini-1.5-flash-latest", "gpt-3.5-turbo"}, r.Models())
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing name":    "providers: [{kind: static, models: [m]}]",
		"duplicate name":  "providers: [{name: a, kind: static, models: [m]}, {name: a, kind: static, models: [m]}]",
		"no models":       "providers: [{name: a, kind: static}]",
		"unknown kind":    "providers: [{name: a, kind: grpc, models: [m]}]",
		"openai base url": "providers: [{name: a, kind: openai, models: [m]}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestShippedProvidersFile(t *testing.T) {
	t.Setenv("G4F_BASE_URL", "")

	cfg, err := Load("../../../providers.yaml")
	require.NoError(t, err)

	registry := provider.NewRegistry(cfg.Build(provider.NewProxyList())...)
	assert.Len(t, registry.All(), 3)
	assert.Contains(t, registry.Models(), "claude-3-opus")
}

func TestExpandEnvFallback(t *testing.T) {
	t.Setenv("LOADER_SET", "from-env")
	t.Setenv("LOADER_EMPTY", "")

	assert.Equal(t, "from-env", expandEnv("${LOADER_SET:-unused}"))
	assert.Equal(t, "http://localhost:9000/v1", expandEnv("${LOADER_EMPTY:-http://localhost:9000/v1}"))
	assert.Equal(t, "", expandEnv("${LOADER_EMPTY}"))
	assert.Equal(t, "from-env/v1", expandEnv("$LOADER_SET/v1"))

	cfg, err := Parse([]byte(`
providers:
  - name: local
    kind: openai
    base_url: ${LOADER_EMPTY:-http://localhost:9000/v1}
    models: [m]
`))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v1", cfg.Providers[0].BaseURL)

	_, err = Parse([]byte(`
providers:
  - name: local
    kind: openai
    base_url: ${LOADER_EMPTY}
    models: [m]
`))
	assert.ErrorContains(t, err, "base_url is required")
}
