package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	domainrag "docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

var validTableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

const (
	minEFSearch = 100
	maxEFSearch = 1000 // pgvector 上限
)

// VectorStore 基于 pgvector 的向量存储，实现 domainrag.VectorStore。
// 每条 chunk 一行，namespace 列承担文档隔离。
//
// HNSW 扫描先取 ef_search 个近邻再按 namespace 过滤，共享表里一个小文档
// 可能被过滤到不足 topK 条。查询时调大 ef_search，pgvector >= 0.8 还会开启
// iterative scan，不够时继续扫描。
type VectorStore struct {
	db            *sql.DB
	table         string
	iterativeScan bool
}

// NewVectorStore 创建 pgvector 存储，表名取自 IndexName
func NewVectorStore(db *sql.DB, table string) (*VectorStore, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid pgvector table name %q", domainrag.ErrInvalidConfiguration, table)
	}
	return &VectorStore{db: db, table: table}, nil
}

// EnsureIndex 确保扩展、表和 HNSW 索引存在
func (s *VectorStore) EnsureIndex(ctx context.Context, dims int) error {
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			namespace   VARCHAR(64) NOT NULL,
			chunk_index INTEGER NOT NULL,
			text        TEXT NOT NULL,
			document_url TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			embedding   vector(%d) NOT NULL
		)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_namespace ON %s(namespace)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure pgvector table: %w", err)
		}
	}

	var version string
	if err := s.db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version); err != nil {
		applog.Warn("[RAG] Failed to read pgvector version", "error", err)
	}
	s.iterativeScan = supportsIterativeScan(version)

	applog.Info("[RAG] pgvector table ready",
		"table", s.table,
		"dims", dims,
		"pgvector", version,
		"iterative_scan", s.iterativeScan,
	)
	return nil
}

// supportsIterativeScan hnsw.iterative_scan 从 pgvector 0.8.0 开始提供
func supportsIterativeScan(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return major > 0 || minor >= 8
}

// querySettings 仅对当前事务生效的 HNSW 参数
func (s *VectorStore) querySettings(topK int) []string {
	ef := min(max(minEFSearch, topK*10), maxEFSearch)
	settings := []string{fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, ef)}
	if s.iterativeScan {
		settings = append(settings, `SET LOCAL hnsw.iterative_scan = strict_order`)
	}
	return settings
}

// Upsert 在单个事务内写入一批记录，同 ID 覆盖
func (s *VectorStore) Upsert(ctx context.Context, records []domainrag.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.Metadata.DocumentHash,
			rec.Metadata.ChunkIndex,
			rec.Metadata.Text,
			rec.Metadata.DocumentURL,
			rec.Metadata.Timestamp,
			pgvector.NewVector(rec.Vector),
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *VectorStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (id, namespace, chunk_index, text, document_url, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			document_url = EXCLUDED.document_url,
			created_at = EXCLUDED.created_at,
			embedding = EXCLUDED.embedding`, s.table)
}

// Query 余弦相似度检索，score = 1 - cosine distance
func (s *VectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domainrag.Match, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range s.querySettings(topK) {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("apply query settings: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, s.querySQL(), namespace, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query pgvector: %w", err)
	}
	defer rows.Close()

	var matches []domainrag.Match
	for rows.Next() {
		var m domainrag.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.ChunkIndex, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *VectorStore) querySQL() string {
	return fmt.Sprintf(`SELECT id, text, chunk_index, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE namespace = $1
		ORDER BY embedding <=> $2, chunk_index
		LIMIT $3`, s.table)
}

// DeleteNamespace 删除 namespace 下全部记录
func (s *VectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1`, s.table), namespace)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	n, _ := res.RowsAffected()
	applog.Debug("[RAG] pgvector namespace deleted", "namespace", namespace, "rows", n)
	return nil
}

// DeleteAll 清空表
func (s *VectorStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table)); err != nil {
		return fmt.Errorf("truncate %s: %w", s.table, err)
	}
	return nil
}

// Ping 检查数据库连通性
func (s *VectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ domainrag.VectorStore = (*VectorStore)(nil)
