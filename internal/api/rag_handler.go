package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

// DocumentHandler 文档与索引管理 API
type DocumentHandler struct {
	pipeline *rag.Pipeline
	ledger   rag.DocumentLedger // 可选
}

// NewDocumentHandler 创建处理器
func NewDocumentHandler(pipeline *rag.Pipeline, ledger rag.DocumentLedger) *DocumentHandler {
	return &DocumentHandler{pipeline: pipeline, ledger: ledger}
}

// RegisterRoutes 注册路由
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents", h.GetDocument)
		r.Delete("/documents", h.DeleteDocument)
		r.Delete("/index", h.ResetIndex)
	})
}

// documentStatus 台账记录加上当前替换状态
type documentStatus struct {
	*rag.DocumentRecord
	Replacing bool `json:"replacing"`
}

func documentFromQuery(r *http.Request) (rag.Document, bool) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	return rag.Document{URL: u}, u != ""
}

// GetDocument 查询文档最近一次入库记录
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := documentFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "document ledger not configured")
		return
	}

	rec, err := h.ledger.GetDocument(r.Context(), doc.Namespace())
	if errors.Is(err, rag.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		applog.Error("[API] Failed to get document", "namespace", doc.Namespace(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}

	replacing, err := h.pipeline.IsReplacing(r.Context(), doc)
	if err != nil {
		applog.Warn("[API] Failed to check replace marker", "namespace", doc.Namespace(), "error", err)
	}
	writeJSON(w, http.StatusOK, documentStatus{DocumentRecord: rec, Replacing: replacing})
}

// DeleteDocument 删除文档的全部 chunk 与台账记录
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := documentFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	ns := doc.Namespace()

	deleted := h.pipeline.DeleteDocument(r.Context(), doc)
	if h.ledger != nil {
		if err := h.ledger.DeleteDocument(r.Context(), ns); err != nil {
			applog.Warn("[API] Failed to delete ledger record", "namespace", ns, "error", err)
		}
	}
	if !deleted {
		writeError(w, http.StatusInternalServerError, "failed to delete document vectors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"namespace": ns})
}

// ResetIndex 清空索引与 Embedding 缓存
func (h *DocumentHandler) ResetIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reset(r.Context()); err != nil {
		applog.Error("[API] Failed to reset index", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset index")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
