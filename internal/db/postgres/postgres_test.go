package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrag "docqa/internal/domain/rag"
)

func TestNewVectorStoreRejectsUnsafeTableNames(t *testing.T) {
	for _, name := range []string{"", "Chunks", "chunks;drop table x", "1chunks", "docqa-chunks"} {
		_, err := NewVectorStore(nil, name)
		assert.ErrorIs(t, err, domainrag.ErrInvalidConfiguration, name)
	}
	s, err := NewVectorStore(nil, "docqa_chunks")
	require.NoError(t, err)
	assert.Contains(t, s.querySQL(), "FROM docqa_chunks")
	assert.Contains(t, s.querySQL(), "1 - (embedding <=> $2)")
	assert.Contains(t, s.upsertSQL(), "ON CONFLICT (id) DO UPDATE")
}

func TestQuerySettings(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"0.8.0", true},
		{"0.8.1", true},
		{"1.0.0", true},
		{"0.7.4", false},
		{"0.5", false},
		{"", false},
		{"dev", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, supportsIterativeScan(tt.version), tt.version)
	}

	s, err := NewVectorStore(nil, "docqa_chunks")
	require.NoError(t, err)
	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 100"}, s.querySettings(5))
	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 1000"}, s.querySettings(500))

	s.iterativeScan = true
	assert.Equal(t, []string{
		"SET LOCAL hnsw.ef_search = 200",
		"SET LOCAL hnsw.iterative_scan = strict_order",
	}, s.querySettings(20))
}

// openTestDB 需要一个启用 pgvector 扩展的数据库，未设置 DOCQA_TEST_DATABASE_URL 时跳过
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DOCQA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DOCQA_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(context.Background()))
	return db
}

func TestVectorStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	table := "docqa_test_" + uuid.NewString()[:8]
	s, err := NewVectorStore(db, table)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec("DROP TABLE IF EXISTS " + table) })

	require.NoError(t, s.EnsureIndex(ctx, 3))
	require.NoError(t, s.EnsureIndex(ctx, 3))

	now := time.Now().UTC()
	require.NoError(t, s.Upsert(ctx, []domainrag.ChunkRecord{
		{ID: "a_0", Vector: []float32{1, 0, 0}, Metadata: domainrag.ChunkMetadata{Text: "x", ChunkIndex: 0, DocumentHash: "a", Timestamp: now}},
		{ID: "a_1", Vector: []float32{0, 1, 0}, Metadata: domainrag.ChunkMetadata{Text: "y", ChunkIndex: 1, DocumentHash: "a", Timestamp: now}},
		{ID: "b_0", Vector: []float32{1, 0, 0}, Metadata: domainrag.ChunkMetadata{Text: "z", ChunkIndex: 0, DocumentHash: "b", Timestamp: now}},
	}))

	matches, err := s.Query(ctx, "a", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a_0", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)

	require.NoError(t, s.DeleteNamespace(ctx, "a"))
	matches, err = s.Query(ctx, "a", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.Query(ctx, "b", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestVectorStoreSmallNamespaceInSharedTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	table := "docqa_test_" + uuid.NewString()[:8]
	s, err := NewVectorStore(db, table)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec("DROP TABLE IF EXISTS " + table) })
	require.NoError(t, s.EnsureIndex(ctx, 3))

	now := time.Now().UTC()
	var records []domainrag.ChunkRecord
	// 大文档的向量都贴近查询向量，小文档的离得远
	for i := 0; i < 500; i++ {
		records = append(records, domainrag.ChunkRecord{
			ID:       fmt.Sprintf("big_%d", i),
			Vector:   []float32{1, float32(i) / 1000, 0},
			Metadata: domainrag.ChunkMetadata{Text: "big", ChunkIndex: i, DocumentHash: "big", Timestamp: now},
		})
	}
	for i := 0; i < 3; i++ {
		records = append(records, domainrag.ChunkRecord{
			ID:       fmt.Sprintf("small_%d", i),
			Vector:   []float32{0, 0, 1 + float32(i)},
			Metadata: domainrag.ChunkMetadata{Text: "small", ChunkIndex: i, DocumentHash: "small", Timestamp: now},
		})
	}
	require.NoError(t, s.Upsert(ctx, records))
	_, err = db.ExecContext(ctx, "ANALYZE "+table)
	require.NoError(t, err)

	matches, err := s.Query(ctx, "small", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestRepositoryDocumentLedger(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewRepository(db)
	require.NoError(t, repo.EnsureDocumentsTable(ctx))

	ns := "test_" + uuid.NewString()[:8]
	t.Cleanup(func() { repo.DeleteDocument(ctx, ns) })

	runID := uuid.NewString()
	require.NoError(t, repo.UpsertDocument(ctx, &domainrag.DocumentRecord{
		Namespace: ns, URL: "https://example.com/a.pdf", ChunkCount: 4,
		Status: domainrag.DocumentStatusIndexed, LastRunID: runID,
	}))

	rec, err := repo.GetDocument(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.ChunkCount)
	assert.Equal(t, runID, rec.LastRunID)
	assert.Equal(t, domainrag.DocumentStatusIndexed, rec.Status)

	require.NoError(t, repo.DeleteDocument(ctx, ns))
	_, err = repo.GetDocument(ctx, ns)
	assert.ErrorIs(t, err, domainrag.ErrDocumentNotFound)
}

func TestUpsertDocumentRejectsBadRunID(t *testing.T) {
	repo := NewRepository(nil)
	err := repo.UpsertDocument(context.Background(), &domainrag.DocumentRecord{Namespace: "n", LastRunID: "not-a-uuid"})
	assert.Error(t, err)
}
