package forward

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterPerChatBurst(t *testing.T) {
	limiter := NewRateLimiter(1000, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := limiter.Wait(ctx, -1001); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}

	// 同一聊天第三次需要等待约 30s，超出上下文期限
	if err := limiter.Wait(ctx, -1001); err == nil {
		t.Fatalf("expected per-chat limit to block")
	}

	// 其他聊天不受影响
	if err := limiter.Wait(context.Background(), -1002); err != nil {
		t.Fatalf("other chat should not be limited: %v", err)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	if limiter.burst != defaultChatRatePerMinute {
		t.Fatalf("expected default burst %d, got %d", defaultChatRatePerMinute, limiter.burst)
	}
	if err := limiter.Wait(context.Background(), 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestChatCache(t *testing.T) {
	cache := newChatCache(0, time.Minute)

	if _, ok := cache.Get(-100); ok {
		t.Fatalf("expected empty cache")
	}

	cache.Set(-100, chatInfo{Title: "频道", Accessible: true})
	info, ok := cache.Get(-100)
	if !ok || info.Title != "频道" || !info.Accessible {
		t.Fatalf("unexpected cache entry: %+v, %v", info, ok)
	}

	cache.Invalidate(-100)
	if _, ok := cache.Get(-100); ok {
		t.Fatalf("expected entry to be invalidated")
	}
}
