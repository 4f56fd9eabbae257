package forward

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Telegram 官方限制：全局约 30 条/秒，同一聊天约 20 条/分钟
const (
	defaultGlobalRatePerSecond = 25
	defaultChatRatePerMinute   = 20
)

// RateLimiter 发送限速：全局令牌桶 + 每个聊天独立令牌桶
type RateLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	perChat map[int64]*rate.Limiter
	chatRPS rate.Limit
	burst   int
}

// NewRateLimiter 创建速率限制器
// ratePerSecond: 全局每秒允许的请求数；chatPerMinute: 单个聊天每分钟允许的请求数
func NewRateLimiter(ratePerSecond float64, chatPerMinute int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = defaultGlobalRatePerSecond
	}
	if chatPerMinute <= 0 {
		chatPerMinute = defaultChatRatePerMinute
	}

	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		perChat: make(map[int64]*rate.Limiter),
		chatRPS: rate.Every(time.Minute / time.Duration(chatPerMinute)),
		burst:   chatPerMinute,
	}
}

// Wait 等待获取令牌（阻塞直到有可用令牌或上下文取消）
func (r *RateLimiter) Wait(ctx context.Context, chatID int64) error {
	if err := r.chat(chatID).Wait(ctx); err != nil {
		return err
	}
	return r.global.Wait(ctx)
}

func (r *RateLimiter) chat(chatID int64) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.perChat[chatID]
	if !ok {
		limiter = rate.NewLimiter(r.chatRPS, r.burst)
		r.perChat[chatID] = limiter
	}
	return limiter
}
