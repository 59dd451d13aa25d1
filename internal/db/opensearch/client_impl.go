package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainrag "docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

// Client OpenSearch HTTP 客户端，实现 domainrag.VectorStore
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	indexName  string
}

// NewClient 创建 OpenSearch 客户端
func NewClient(cfg *domainrag.Config) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // 开发环境自签证书
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.OpenSearchURL, "/"),
		username: cfg.OpenSearchUsername,
		password: cfg.OpenSearchPassword,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		indexName: cfg.IndexName,
	}
}

// chunkSource 索引中一条记录的 _source
type chunkSource struct {
	Vector       []float32 `json:"vector,omitempty"`
	Text         string    `json:"text"`
	ChunkIndex   int       `json:"chunk_index"`
	DocumentHash string    `json:"document_hash"`
	DocumentURL  string    `json:"document_url"`
	Timestamp    time.Time `json:"timestamp"`
}

// EnsureIndex 确保索引存在（不存在则按维度创建），并等待分片可用
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	resp, err := c.doRequest(ctx, http.MethodHead, "/"+c.indexName, nil)
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		applog.Info("[RAG] Index already exists", "index", c.indexName)
	case http.StatusNotFound:
		if err := c.createIndex(ctx, dims); err != nil {
			return err
		}
	default:
		return fmt.Errorf("check index existence: unexpected status %d", resp.StatusCode)
	}

	return c.waitReady(ctx)
}

func (c *Client) createIndex(ctx context.Context, dims int) error {
	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"index.knn": true,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"vector": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dims,
					"method": map[string]interface{}{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
				"text":          map[string]string{"type": "text"},
				"chunk_index":   map[string]string{"type": "integer"},
				"document_hash": map[string]string{"type": "keyword"},
				"document_url":  map[string]string{"type": "keyword"},
				"timestamp":     map[string]string{"type": "date"},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	resp, err := c.doRequest(ctx, http.MethodPut, "/"+c.indexName, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		// 并发启动时另一实例可能已创建
		if strings.Contains(string(respBody), "resource_already_exists_exception") {
			applog.Info("[RAG] Index created concurrently", "index", c.indexName)
			return nil
		}
		return fmt.Errorf("create index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	applog.Info("[RAG] Index created", "index", c.indexName, "dims", dims)
	return nil
}

// waitReady 等待索引健康状态至少为 yellow
func (c *Client) waitReady(ctx context.Context) error {
	path := "/_cluster/health/" + c.indexName + "?wait_for_status=yellow&timeout=30s"
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("wait for index: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		TimedOut bool   `json:"timed_out"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("parse cluster health: %w", err)
	}
	if health.TimedOut || health.Status == "red" {
		return fmt.Errorf("index %s not ready (status=%s)", c.indexName, health.Status)
	}
	return nil
}

// Upsert 通过 _bulk 写入记录，同 ID 覆盖
func (c *Client) Upsert(ctx context.Context, records []domainrag.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, rec := range records {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": c.indexName,
				"_id":    rec.ID,
			},
		}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')

		docLine, _ := json.Marshal(chunkSource{
			Vector:       rec.Vector,
			Text:         rec.Metadata.Text,
			ChunkIndex:   rec.Metadata.ChunkIndex,
			DocumentHash: rec.Metadata.DocumentHash,
			DocumentURL:  rec.Metadata.DocumentURL,
			Timestamp:    rec.Metadata.Timestamp,
		})
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/_bulk?refresh=true", &buf)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bulk index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	// _bulk 整体返回 200 时单条仍可能失败
	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(respBody, &bulkResp); err != nil {
		return fmt.Errorf("parse bulk response: %w", err)
	}
	if bulkResp.Errors {
		failed := 0
		var first string
		for _, item := range bulkResp.Items {
			for _, res := range item {
				if len(res.Error) > 0 {
					if failed == 0 {
						first = fmt.Sprintf("%s: %s", res.ID, string(res.Error))
					}
					failed++
				}
			}
		}
		return fmt.Errorf("bulk index: %d of %d items failed, first: %s", failed, len(records), first)
	}

	applog.Debug("[RAG] Bulk indexed", "count", len(records))
	return nil
}

// Query kNN 检索，过滤条件限制在 namespace 内。
// lucene cosinesimil 的 _score 为 (1+cos)/2，这里换算回余弦相似度。
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domainrag.Match, error) {
	query := map[string]interface{}{
		"size":    topK,
		"_source": []string{"text", "chunk_index"},
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				"vector": map[string]interface{}{
					"vector": vector,
					"k":      topK,
					"filter": map[string]interface{}{
						"term": map[string]string{"document_hash": namespace},
					},
				},
			},
		},
	}

	body, _ := json.Marshal(query)
	resp, err := c.doRequest(ctx, http.MethodPost, "/"+c.indexName+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID     string      `json:"_id"`
				Score  float64     `json:"_score"`
				Source chunkSource `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	matches := make([]domainrag.Match, 0, len(osResp.Hits.Hits))
	for _, hit := range osResp.Hits.Hits {
		matches = append(matches, domainrag.Match{
			ID:         hit.ID,
			Text:       hit.Source.Text,
			ChunkIndex: hit.Source.ChunkIndex,
			Score:      2*hit.Score - 1,
		})
	}
	return matches, nil
}

// DeleteNamespace 删除 namespace 下所有记录
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	return c.deleteByQuery(ctx, map[string]interface{}{
		"term": map[string]string{"document_hash": namespace},
	})
}

// DeleteAll 删除索引内所有记录（保留索引）
func (c *Client) DeleteAll(ctx context.Context) error {
	return c.deleteByQuery(ctx, map[string]interface{}{
		"match_all": map[string]interface{}{},
	})
}

func (c *Client) deleteByQuery(ctx context.Context, q map[string]interface{}) error {
	body, _ := json.Marshal(map[string]interface{}{"query": q})

	path := "/" + c.indexName + "/_delete_by_query?refresh=true&conflicts=proceed"
	resp, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delete by query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result)
	applog.Debug("[RAG] Deleted by query", "index", c.indexName, "deleted", result.Deleted)
	return nil
}

// Ping 检查 OpenSearch 连通性
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("ping opensearch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensearch returned status %d", resp.StatusCode)
	}
	return nil
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(path, "/_bulk") {
		req.Header.Set("Content-Type", "application/x-ndjson")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}

var _ domainrag.VectorStore = (*Client)(nil)
