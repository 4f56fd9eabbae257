package forward

import (
	"strconv"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
)

const (
	defaultChatCacheBytes = 4 * 1024 * 1024
	defaultChatCacheTTL   = 10 * time.Minute
)

// chatInfo 缓存的频道信息
type chatInfo struct {
	Title      string `json:"title"`
	Accessible bool   `json:"accessible"`
}

// chatCache 频道标题与可访问性缓存，避免每轮都调用 getChat
type chatCache struct {
	cache *freecache.Cache
	ttl   int
}

func newChatCache(sizeBytes int, ttl time.Duration) *chatCache {
	if sizeBytes <= 0 {
		sizeBytes = defaultChatCacheBytes
	}
	if ttl <= 0 {
		ttl = defaultChatCacheTTL
	}
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &chatCache{
		cache: freecache.NewCache(sizeBytes),
		ttl:   seconds,
	}
}

func chatCacheKey(chatID int64) []byte {
	return strconv.AppendInt([]byte("chat:"), chatID, 10)
}

func (c *chatCache) Get(chatID int64) (chatInfo, bool) {
	raw, err := c.cache.Get(chatCacheKey(chatID))
	if err != nil {
		return chatInfo{}, false
	}

	var info chatInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return chatInfo{}, false
	}
	return info, true
}

func (c *chatCache) Set(chatID int64, info chatInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = c.cache.Set(chatCacheKey(chatID), raw, c.ttl)
}

func (c *chatCache) Invalidate(chatID int64) {
	c.cache.Del(chatCacheKey(chatID))
}
