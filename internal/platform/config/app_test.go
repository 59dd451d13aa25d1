package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain/qa"
	"docqa/internal/domain/rag"
)

// setBaseEnv 设置通过校验所需的最小环境
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AUTH_TOKEN", "secret-token")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("VECTOR_BACKEND", "")
	t.Setenv("RAG_VECTOR_BACKEND", "")
	t.Setenv("OPENSEARCH_URL", "http://localhost:9200")
	t.Setenv("DATABASE_URL", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300*time.Second, cfg.RunTimeout())
	assert.Equal(t, rag.VectorBackendOpenSearch, cfg.RAG.VectorBackend)
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 150, cfg.RAG.ChunkOverlap)
	assert.Zero(t, cfg.RAG.ScoreThreshold)

	fetch := cfg.FetcherConfig()
	assert.Equal(t, 15*time.Second, fetch.Timeout)
	assert.Equal(t, int64(50<<20), fetch.MaxFileSize)

	synth := cfg.SynthesizerConfig()
	assert.Equal(t, 2, synth.MaxRetries)
	assert.Equal(t, time.Second, synth.Backoff)
	assert.Equal(t, qa.BackoffFixed, synth.BackoffKind)
	assert.Equal(t, 5, synth.MaxContext)
}

func TestLoadEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RAG_VECTOR_BACKEND", "PGVector")
	t.Setenv("DATABASE_URL", "postgres://localhost/docqa")
	t.Setenv("RAG_EMBEDDING_MODE", "parallel")
	t.Setenv("RAG_EMBEDDING_WORKERS", "8")
	t.Setenv("RAG_SCORE_THRESHOLD", "0.3")
	t.Setenv("FETCH_MAX_FILE_SIZE", "10")
	t.Setenv("SERVER_RUN_TIMEOUT", "60")
	t.Setenv("ANSWER_BACKOFF_KIND", "Exponential")
	t.Setenv("ANSWER_MAX_RETRIES", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, rag.VectorBackendPGVector, cfg.RAG.VectorBackend)
	assert.Equal(t, rag.EmbeddingModeParallel, cfg.RAG.EmbeddingMode)
	assert.Equal(t, 8, cfg.RAG.EmbeddingWorkers)
	assert.InDelta(t, 0.3, cfg.RAG.ScoreThreshold, 1e-9)
	assert.Equal(t, int64(10<<20), cfg.FetcherConfig().MaxFileSize)
	assert.Equal(t, time.Minute, cfg.RunTimeout())
	assert.Equal(t, qa.BackoffExponential, cfg.SynthesizerConfig().BackoffKind)
	assert.Equal(t, 4, cfg.SynthesizerConfig().MaxRetries)
}

func TestLoadVectorBackendLegacyName(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VECTOR_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, rag.VectorBackendMemory, cfg.RAG.VectorBackend)

	// 两个都设置时以 RAG_VECTOR_BACKEND 为准
	t.Setenv("RAG_VECTOR_BACKEND", "opensearch")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, rag.VectorBackendOpenSearch, cfg.RAG.VectorBackend)
}

func TestLoadYAMLFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
server:
  port: 9090
rag:
  vector_backend: memory
  chunk_size: 400
  chunk_overlap: 50
answer:
  model: gpt-4o
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("PORT", "9191")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9191, cfg.Server.Port, "env wins over file")
	assert.Equal(t, rag.VectorBackendMemory, cfg.RAG.VectorBackend)
	assert.Equal(t, 400, cfg.RAG.ChunkSize)
	assert.Equal(t, "gpt-4o", cfg.Answer.Model)
	assert.Equal(t, 5, cfg.RAG.DefaultTopK, "unset file fields keep defaults")
}

func TestLoadJSONFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "docqa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rag":{"index_name":"policies","embedding_dims":1536}}`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "policies", cfg.RAG.IndexName)
	assert.Equal(t, 1536, cfg.RAG.EmbeddingDims)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "docqa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateMissingSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{"missing api key", map[string]string{"OPENAI_API_KEY": ""}, rag.ErrConfiguration},
		{"missing auth", map[string]string{"AUTH_TOKEN": ""}, rag.ErrConfiguration},
		{"missing opensearch url", map[string]string{"OPENSEARCH_URL": ""}, rag.ErrConfiguration},
		{"pgvector without database", map[string]string{"RAG_VECTOR_BACKEND": "pgvector"}, rag.ErrConfiguration},
		{"overlap not below size", map[string]string{"RAG_CHUNK_SIZE": "100", "RAG_CHUNK_OVERLAP": "100"}, rag.ErrInvalidConfiguration},
		{"unknown backend", map[string]string{"RAG_VECTOR_BACKEND": "pinecone"}, rag.ErrInvalidConfiguration},
		{"unknown backoff", map[string]string{"ANSWER_BACKOFF_KIND": "jitter"}, rag.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAcceptsJWTInsteadOfToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("JWT_SECRET", "jwt-secret")

	_, err := Load()
	assert.NoError(t, err)
}
