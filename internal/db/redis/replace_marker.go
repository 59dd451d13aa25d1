package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

const replaceMarkerPrefix = "docqa:replacing:"

// clearIfOwner 仅当标记值仍是调用方的 owner 时删除
var clearIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReplaceMarker 基于 Redis SETNX 的命名空间替换标记，多实例共享。
// 标记值为本次替换的 owner，TTL 防止异常退出后标记永久残留。
type ReplaceMarker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplaceMarker 创建替换标记
func NewReplaceMarker(client *redis.Client, ttlSeconds int) *ReplaceMarker {
	ttl := 10 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &ReplaceMarker{client: client, ttl: ttl}
}

func (m *ReplaceMarker) key(namespace string) string {
	return replaceMarkerPrefix + namespace
}

// Mark 写入标记；已存在时改写为自己的 owner、刷新 TTL 并返回 stale=true
func (m *ReplaceMarker) Mark(ctx context.Context, namespace, owner string) (bool, error) {
	key := m.key(namespace)
	created, err := m.client.SetNX(ctx, key, owner, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set replace marker: %w", err)
	}
	if created {
		return false, nil
	}

	if err := m.client.Set(ctx, key, owner, m.ttl).Err(); err != nil {
		applog.Warn("[ReplaceMarker] Failed to refresh marker", "namespace", namespace, "error", err)
	}
	return true, nil
}

// Clear 删除自己写入的标记（compare-and-delete）
func (m *ReplaceMarker) Clear(ctx context.Context, namespace, owner string) error {
	if err := clearIfOwner.Run(ctx, m.client, []string{m.key(namespace)}, owner).Err(); err != nil {
		return fmt.Errorf("clear replace marker: %w", err)
	}
	return nil
}

// IsMarked 是否存在标记
func (m *ReplaceMarker) IsMarked(ctx context.Context, namespace string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(namespace)).Result()
	if err != nil {
		return false, fmt.Errorf("check replace marker: %w", err)
	}
	return n > 0, nil
}

var _ domainrag.ReplaceMarker = (*ReplaceMarker)(nil)
