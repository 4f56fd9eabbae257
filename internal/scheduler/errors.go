package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// 配置类错误：直接返回给调用方，不自动重试
var (
	ErrInvalidTimeFormat    = errors.New("invalid time format")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// 平台与存储类错误
var (
	// ErrPermissionDenied 目标频道无写权限，任务不可恢复
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient 临时性平台错误，可重试
	ErrTransient = errors.New("transient platform error")
	// ErrSourceUnavailable 源频道暂不可访问，按指数退避重试
	ErrSourceUnavailable = errors.New("source channel unavailable")
	// ErrPersistence 存储不可用
	ErrPersistence = errors.New("persistence error")
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")
)

// RateLimitedError 平台限流，RetryAfter 为平台建议的等待时间
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// isRetryableSendError 判断发送错误是否值得在本轮内重试
func isRetryableSendError(err error) bool {
	if err == nil {
		return false
	}
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	return errors.Is(err, ErrTransient)
}

// isFetchRetryable 判断拉取错误是否应进入退避
func isFetchRetryable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrTransient)
}
