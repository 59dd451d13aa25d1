package rag

import "context"

// Embedder 向量生成接口
type Embedder interface {
	// Embed 将文本列表转为向量，返回顺序与输入一致
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dims 返回向量维度
	Dims() int
}
