package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteCache 二级缓存接口，由 internal/cache.Manager 实现.
type RemoteCache interface {
	GetVector(ctx context.Context, key string) ([]float64, error)
	SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error
}

// CacheRecorder 记录缓存命中情况（可选）.
type CacheRecorder interface {
	RecordEmbeddingCache(hit bool)
}

// CacheConfig 嵌入缓存配置
type CacheConfig struct {
	// 本地 LRU 最大条目数
	MaxEntries int `yaml:"max_entries" json:"max_entries" env:"MAX_ENTRIES"`

	// 本地条目过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`

	// 二级缓存过期时间
	RemoteTTL time.Duration `yaml:"remote_ttl" json:"remote_ttl" env:"REMOTE_TTL"`
}

// DefaultCacheConfig 默认配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 1024,
		TTL:        30 * time.Minute,
		RemoteTTL:  24 * time.Hour,
	}
}

// CachedProvider 按内容缓存嵌入结果：本地有界 LRU，可选 Redis 二级缓存，
// 并发的相同请求通过 singleflight 合并为一次上游调用。
type CachedProvider struct {
	inner    Provider
	local    *lruCache
	remote   RemoteCache
	recorder CacheRecorder
	config   CacheConfig
	group    singleflight.Group
	logger   *zap.Logger
}

// CachedOption 配置 CachedProvider.
type CachedOption func(*CachedProvider)

// WithRemoteCache 启用二级缓存.
func WithRemoteCache(rc RemoteCache) CachedOption {
	return func(p *CachedProvider) { p.remote = rc }
}

// WithCacheRecorder 设置命中率记录器.
func WithCacheRecorder(r CacheRecorder) CachedOption {
	return func(p *CachedProvider) { p.recorder = r }
}

// NewCachedProvider 包装 inner.
func NewCachedProvider(inner Provider, config CacheConfig, logger *zap.Logger, opts ...CachedOption) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	p := &CachedProvider{
		inner:  inner,
		local:  newLRUCache(config.MaxEntries, config.TTL),
		config: config,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 Provider.
func (p *CachedProvider) Name() string {
	return p.inner.Name()
}

// Embed 实现 Provider。返回的向量是副本，调用方可以安全修改.
func (p *CachedProvider) Embed(ctx context.Context, text string) (Vector, error) {
	key := p.cacheKey(text)

	if v, ok := p.local.get(key); ok {
		p.record(true)
		return v.Clone(), nil
	}

	res, err, _ := p.group.Do(key, func() (any, error) {
		if p.remote != nil {
			if cached, err := p.remote.GetVector(ctx, key); err == nil && len(cached) > 0 {
				p.local.set(key, Vector(cached))
				p.record(true)
				return Vector(cached), nil
			}
		}

		p.record(false)
		v, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.local.set(key, v)
		if p.remote != nil {
			if err := p.remote.SetVector(ctx, key, v, p.config.RemoteTTL); err != nil {
				p.logger.Warn("remote embedding cache write failed", zap.Error(err))
			}
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(Vector).Clone(), nil
}

// Len 返回本地缓存条目数.
func (p *CachedProvider) Len() int {
	return p.local.len()
}

// Reset 清空本地缓存.
func (p *CachedProvider) Reset() {
	p.local.reset()
}

func (p *CachedProvider) record(hit bool) {
	if p.recorder != nil {
		p.recorder.RecordEmbeddingCache(hit)
	}
}

func (p *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(p.inner.Name() + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// =============================================================================
// 本地 LRU
// =============================================================================

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
}

type lruNode struct {
	key       string
	value     Vector
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
	}
}

func (c *lruCache) get(key string) (Vector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(node.expiresAt) {
		c.unlink(node)
		delete(c.items, key)
		return nil, false
	}
	c.moveToHead(node)
	return node.value, true
}

func (c *lruCache) set(key string, v Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.value = v
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity && c.tail != nil {
		old := c.tail
		c.unlink(old)
		delete(c.items, old.key)
	}

	node := &lruNode{key: key, value: v, expiresAt: time.Now().Add(c.ttl)}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruNode)
	c.head, c.tail = nil, nil
}

func (c *lruCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *lruCache) moveToHead(node *lruNode) {
	if c.head == node {
		return
	}
	c.unlink(node)
	c.addToHead(node)
}
