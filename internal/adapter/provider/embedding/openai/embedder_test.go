package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions"`
}

// newEmbeddingServer 以输入文本长度作为向量首维，倒序返回 data 以验证按 index 回填
func newEmbeddingServer(t *testing.T, requests *[]embeddingRequest, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		var req embeddingRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		*requests = append(*requests, req)
		mu.Unlock()

		var items []string
		for i := len(req.Input) - 1; i >= 0; i-- {
			items = append(items, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,0.5]}`, i, len(req.Input[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":%q,"data":[%s],"usage":{"prompt_tokens":3,"total_tokens":3}}`,
			req.Model, strings.Join(items, ","))
	}))
}

func TestEmbedSplitsIntoBatchesAndKeepsOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []embeddingRequest
	)
	srv := newEmbeddingServer(t, &requests, &mu)
	defer srv.Close()

	e := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dims: 2, BatchSize: 2})
	vectors, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i + 1), 0.5}, v)
	}

	require.Len(t, requests, 3)
	assert.Equal(t, []string{"a", "bb"}, requests[0].Input)
	assert.Equal(t, []string{"eeeee"}, requests[2].Input)
	assert.Equal(t, DefaultModel, requests[0].Model)
	assert.Equal(t, 2, requests[0].Dimensions)
	assert.Equal(t, 2, e.Dims())
}

func TestEmbedReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "nope"})
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create embeddings")
}

func TestEmbedEmptyInputMakesNoRequest(t *testing.T) {
	e := New(Config{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"})
	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
