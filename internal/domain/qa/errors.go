package qa

import "errors"

var (
	// ErrSynthesis 答案生成重试耗尽
	ErrSynthesis = errors.New("answer synthesis failed")
	// ErrEmptyResponse 模型返回空内容（可重试）
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrSchemaMismatch 返回了合法 JSON 但不符合答案结构（可重试）
	ErrSchemaMismatch = errors.New("response does not match answer schema")
)
