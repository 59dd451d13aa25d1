package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// namespaceHexLen 命名空间取 SHA-256 前 16 个十六进制字符（64 bit）。
const namespaceHexLen = 16

// Namespace 由文档 URL 派生的分区键，与内容无关。
func Namespace(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:namespaceHexLen]
}

// ContentHash 文本的完整 SHA-256，作为 Embedding 缓存 key。
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID 由 (namespace, 序号, 内容哈希) 派生。同位置同内容重复入库得到同一 ID。
func ChunkID(namespace string, index int, contentHash string) string {
	short := contentHash
	if len(short) > namespaceHexLen {
		short = short[:namespaceHexLen]
	}
	return fmt.Sprintf("%s_%d_%s", namespace, index, short)
}
