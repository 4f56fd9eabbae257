package scheduler

import (
	"errors"
	"time"
)

const (
	defaultSendRetryDelay   = 3 * time.Second
	maxSendExponentialDelay = 15 * time.Second
	maxSendAttempts         = 3

	defaultBackoffBase = time.Second
	defaultBackoffMax  = 30 * time.Minute
)

// sendRetryDelay 计算发送重试等待时间
// 限流时使用平台建议值并按频道错开，其他错误按 1s、2s、4s... 指数退避
func sendRetryDelay(err error, attempt int, channelID int64) time.Duration {
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		wait := rateLimited.RetryAfter
		if wait <= 0 {
			wait = defaultSendRetryDelay
		}
		return wait + sendRetryJitter(channelID)
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := time.Second << (attempt - 1)
	if delay > maxSendExponentialDelay || delay <= 0 {
		delay = maxSendExponentialDelay
	}
	return delay
}

func sendRetryJitter(channelID int64) time.Duration {
	if channelID < 0 {
		channelID = -channelID
	}
	return time.Duration(channelID%5+1) * 200 * time.Millisecond
}

// fetchRetryDelay 拉取失败后的等待时间，不短于平台给出的 retry_after
func fetchRetryDelay(err error, backoff *Backoff) time.Duration {
	wait := backoff.Next()
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > wait {
		wait = rateLimited.RetryAfter
	}
	return wait
}

// Backoff 拉取失败时的指数退避，成功后 Reset
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// NewBackoff 创建退避器，max<=0 时使用默认上限
func NewBackoff(maxDelay time.Duration) *Backoff {
	if maxDelay <= 0 {
		maxDelay = defaultBackoffMax
	}
	return &Backoff{Base: defaultBackoffBase, Max: maxDelay}
}

// Next 返回下一次等待时间
func (b *Backoff) Next() time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}

	delay := base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.Max || delay <= 0 {
			delay = b.Max
			break
		}
	}
	if delay > b.Max {
		delay = b.Max
	}

	b.attempt++
	return delay
}

// Reset 清零失败次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts 当前连续失败次数
func (b *Backoff) Attempts() int {
	return b.attempt
}
