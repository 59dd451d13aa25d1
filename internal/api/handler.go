package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"docqa/internal/app/runner"
	"docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

const maxRunBodyBytes = 1 << 20

// QAHandler 文档问答 API 处理器
type QAHandler struct {
	runner *runner.Runner
}

// NewQAHandler 创建处理器
func NewQAHandler(r *runner.Runner) *QAHandler {
	return &QAHandler{runner: r}
}

// RegisterRoutes 注册路由
func (h *QAHandler) RegisterRoutes(r chi.Router) {
	r.Post("/hackrx/run", h.Run)
}

// Run 下载文档并依次回答问题，响应体为 {"answers": [...]}，不包信封
func (h *QAHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runner.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRunBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if msg := validateRunRequest(&req); msg != "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	resp, err := h.runner.Run(r.Context(), req)
	if err != nil {
		status, code := classifyRunError(err)
		applog.Error("[API] Run failed",
			"request_id", requestID(r.Context()),
			"status", status,
			"error", err,
		)
		writeErrorCode(w, status, code, err.Error())
		return
	}
	writeRaw(w, http.StatusOK, resp)
}

func validateRunRequest(req *runner.Request) string {
	req.Documents = strings.TrimSpace(req.Documents)
	if req.Documents == "" {
		return "documents is required"
	}
	u, err := url.Parse(req.Documents)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "documents must be an http(s) URL"
	}
	if req.Questions == nil {
		req.Questions = []string{}
	}
	return ""
}

// classifyRunError 文档本身的问题归为 4xx，依赖服务失败归为 5xx
func classifyRunError(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrFetch):
		return http.StatusBadRequest, "document_fetch_failed"
	case errors.Is(err, rag.ErrExtraction):
		return http.StatusBadRequest, "document_extraction_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, rag.ErrEmbedding):
		return http.StatusInternalServerError, "embedding_failed"
	case errors.Is(err, rag.ErrIndex):
		return http.StatusInternalServerError, "index_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
