package rag

import "errors"

// 入库与检索链路的错误分类。调用方通过 errors.Is 判断，具体原因用 %w 包装。
var (
	// ErrFetch 文档下载失败（网络错误、非 2xx、超出大小限制）
	ErrFetch = errors.New("document fetch failed")
	// ErrExtraction 文档类型无法识别或正文提取失败/为空
	ErrExtraction = errors.New("document extraction failed")
	// ErrConfiguration 启动时缺少必需的凭据或服务地址
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidConfiguration 组件参数非法，例如 overlap >= size
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEmbedding 向量生成失败
	ErrEmbedding = errors.New("embedding failed")
	// ErrIndex 向量库操作失败
	ErrIndex = errors.New("vector index operation failed")
	// ErrDocumentNotFound 台账中没有该文档
	ErrDocumentNotFound = errors.New("document not found")
)
