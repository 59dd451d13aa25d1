package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	embedopenai "docqa/internal/adapter/provider/embedding/openai"
	"docqa/internal/app/runner"
	"docqa/internal/db/memory"
	"docqa/internal/db/opensearch"
	"docqa/internal/db/postgres"
	redisdb "docqa/internal/db/redis"
	"docqa/internal/domain/qa"
	"docqa/internal/domain/rag"
	"docqa/internal/platform/config"
	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

// Components 启动时装配好的依赖
type Components struct {
	Runner   *runner.Runner
	Pipeline *rag.Pipeline

	db    *sql.DB
	redis *goredis.Client
}

// Close 释放数据库与 Redis 连接
func (c *Components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// Options 装配时可替换的依赖，零值使用配置中的真实实现
type Options struct {
	Embedder rag.Embedder
	LLM      provider.LLMProvider
}

// Build 按配置装配 数据库 / Redis / 向量库 / Pipeline / Runner。
// DATABASE_URL 与 REDIS_URL 都是可选的：前者启用入库台账（pgvector 后端必需），
// 后者启用跨进程的 Embedding 二级缓存与替换标记。
func Build(ctx context.Context, cfg *config.AppConfig, opts Options) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if cfg.Database.URL != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		c.db = db
	}

	if cfg.Redis.URL != "" {
		client, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.redis = client
	}

	ragCfg := &cfg.RAG
	store, err := newVectorStore(ragCfg, c.db)
	if err != nil {
		return nil, err
	}

	index := rag.NewVectorIndex(store, ragCfg)
	cache, err := rag.NewEmbeddingCache(ragCfg.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	if c.redis != nil {
		cache.SetStore(redisdb.NewEmbeddingCache(c.redis, ragCfg.EmbeddingModel, ragCfg.EmbeddingDims, ragCfg.EmbeddingCacheTTL))
		index.SetMarker(redisdb.NewReplaceMarker(c.redis, ragCfg.ReplaceMarkerTTL))
		applog.Info("✅ Redis embedding cache and replace marker enabled")
	}

	if err := index.EnsureReady(ctx); err != nil {
		return nil, err
	}
	applog.Infof("✅ Vector index ready (backend: %s, index: %s, dims: %d)",
		ragCfg.VectorBackend, ragCfg.IndexName, ragCfg.EmbeddingDims)

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embedopenai.New(embedopenai.Config{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			Model:     ragCfg.EmbeddingModel,
			Dims:      ragCfg.EmbeddingDims,
			BatchSize: ragCfg.EmbeddingBatchSize,
			Timeout:   time.Duration(ragCfg.EmbeddingTimeoutSecs) * time.Second,
		})
		applog.Infof("✅ Embedder initialized (model: %s, mode: %s)", ragCfg.EmbeddingModel, ragCfg.EmbeddingMode)
	}
	if d := embedder.Dims(); d > 0 && d != ragCfg.EmbeddingDims {
		return nil, fmt.Errorf("%w: embedder produces %d dims, index expects %d", rag.ErrConfiguration, d, ragCfg.EmbeddingDims)
	}

	pipeline, err := rag.NewPipeline(ragCfg, embedder, cache, index)
	if err != nil {
		return nil, err
	}
	c.Pipeline = pipeline
	applog.Infof("✅ Retrieval pipeline ready (chunk size: %d, overlap: %d)",
		pipeline.Chunker().Size(), pipeline.Chunker().Overlap())
	if !ragCfg.HasScoreThreshold() {
		applog.Info("ℹ️  Score threshold disabled, returning top-K matches", "suggested", rag.SuggestedScoreThreshold)
	}

	llm := opts.LLM
	if llm == nil {
		RegisterLLMProviders(cfg.OpenAI)
		llm, err = provider.GetProvider(cfg.Answer.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %w (registered: %v)", rag.ErrConfiguration, err, provider.ListProviders())
		}
	}
	synth, err := qa.NewSynthesizer(llm, cfg.SynthesizerConfig())
	if err != nil {
		return nil, err
	}

	parsers := rag.NewParserRegistry()
	applog.Infof("✅ Parser registry initialized (types: %s)", parsers.SupportedTypes())
	loader := rag.NewDocumentLoader(rag.NewFetcher(cfg.FetcherConfig()), parsers)

	c.Runner = runner.New(runner.Config{Timeout: cfg.RunTimeout()}, loader, pipeline, synth)

	if c.db != nil {
		repo := postgres.NewRepository(c.db)
		if err := repo.EnsureDocumentsTable(ctx); err != nil {
			applog.Warnf("⚠️  Failed to ensure documents table: %v (ledger disabled)", err)
		} else {
			c.Runner.SetLedger(repo)
			applog.Info("✅ Document ledger ready (documents)")
		}
	}

	ok = true
	return c, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	applog.Info("✅ Connected to PostgreSQL")
	return db, nil
}

func openRedis(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REDIS_URL: %w", rag.ErrConfiguration, err)
	}
	goredis.SetLogger(redisLogger{log: applog.Zap().Sugar().Named("redis")})
	client := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	applog.Info("✅ Connected to Redis")
	return client, nil
}

// redisLogger 把 go-redis 内部日志（重连、连接池告警）接入 zap
type redisLogger struct {
	log *zap.SugaredLogger
}

func (l redisLogger) Printf(_ context.Context, format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

func newVectorStore(cfg *rag.Config, db *sql.DB) (rag.VectorStore, error) {
	switch cfg.VectorBackend {
	case rag.VectorBackendOpenSearch:
		return opensearch.NewClient(cfg), nil
	case rag.VectorBackendPGVector:
		if db == nil {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the pgvector backend", rag.ErrConfiguration)
		}
		return postgres.NewVectorStore(db, cfg.IndexName)
	case rag.VectorBackendMemory:
		applog.Warn("⚠️  Using in-memory vector store, data is lost on restart")
		return memory.NewVectorStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", rag.ErrInvalidConfiguration, cfg.VectorBackend)
	}
}
