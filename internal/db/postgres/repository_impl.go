package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainrag "docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

// Repository 文档入库台账，实现 domainrag.DocumentLedger
type Repository struct {
	db *sql.DB
}

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureDocumentsTable 确保 documents 表存在
func (r *Repository) EnsureDocumentsTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		namespace   VARCHAR(64) PRIMARY KEY,
		url         TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		status      VARCHAR(32) NOT NULL,
		last_run_id UUID,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at DESC);
	`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

// UpsertDocument 写入或覆盖一条台账记录
func (r *Repository) UpsertDocument(ctx context.Context, rec *domainrag.DocumentRecord) error {
	var runID interface{}
	if rec.LastRunID != "" {
		id, err := uuid.Parse(rec.LastRunID)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", rec.LastRunID, err)
		}
		runID = id.String()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (namespace, url, chunk_count, status, last_run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namespace) DO UPDATE SET
			url = EXCLUDED.url,
			chunk_count = EXCLUDED.chunk_count,
			status = EXCLUDED.status,
			last_run_id = EXCLUDED.last_run_id,
			updated_at = EXCLUDED.updated_at`,
		rec.Namespace, rec.URL, rec.ChunkCount, string(rec.Status), runID, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", rec.Namespace, err)
	}
	applog.Debug("[Storage] Document recorded", "namespace", rec.Namespace, "status", rec.Status)
	return nil
}

// GetDocument 按 namespace 查询，不存在返回 ErrDocumentNotFound
func (r *Repository) GetDocument(ctx context.Context, namespace string) (*domainrag.DocumentRecord, error) {
	rec := &domainrag.DocumentRecord{}
	var status string
	var runID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT namespace, url, chunk_count, status, last_run_id::text, updated_at
		 FROM documents WHERE namespace = $1`, namespace,
	).Scan(&rec.Namespace, &rec.URL, &rec.ChunkCount, &status, &runID, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainrag.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", namespace, err)
	}
	rec.Status = domainrag.DocumentStatus(status)
	rec.LastRunID = runID.String
	return rec, nil
}

// DeleteDocument 删除台账记录，不存在时不报错
func (r *Repository) DeleteDocument(ctx context.Context, namespace string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("delete document %s: %w", namespace, err)
	}
	return nil
}

var _ domainrag.DocumentLedger = (*Repository)(nil)
