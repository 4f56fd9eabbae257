package forward

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"forward_bot/internal/scheduler"

	"github.com/go-telegram/bot"
)

var errEmptyMessage = errors.New("message has no content to send")

// 这些 Bad Request 描述表示 Bot 无法在该聊天发言
var permissionHints = []string{
	"chat not found",
	"not enough rights",
	"have no rights",
	"chat_write_forbidden",
	"need administrator rights",
	"bot is not a member",
}

// classifySendError 将 Bot API 错误映射为调度器错误类别
//   - 限流 -> RateLimitedError
//   - 无权限/被踢/聊天迁移 -> ErrPermissionDenied
//   - 其他 4xx -> 原样返回（消息被拒绝，跳过）
//   - 网络错误等 -> ErrTransient
func classifySendError(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return fmt.Errorf("%w: %v", &scheduler.RateLimitedError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second}, err)
	}

	if chatID, ok := migrateToChatIDFromError(err); ok {
		return fmt.Errorf("%w: chat migrated to %d", scheduler.ErrPermissionDenied, chatID)
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden), errors.Is(err, bot.ErrorUnauthorized):
		return fmt.Errorf("%w: %v", scheduler.ErrPermissionDenied, err)
	case errors.Is(err, bot.ErrorBadRequest):
		if hasPermissionHint(err) {
			return fmt.Errorf("%w: %v", scheduler.ErrPermissionDenied, err)
		}
		return err
	case errors.Is(err, bot.ErrorNotFound), errors.Is(err, errEmptyMessage):
		return err
	}

	return fmt.Errorf("%w: %v", scheduler.ErrTransient, err)
}

// classifySourceError 源频道访问失败：全部按可退避处理，限流时保留 retry_after
func classifySourceError(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		rateLimited := &scheduler.RateLimitedError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second}
		return fmt.Errorf("%w: %w", scheduler.ErrSourceUnavailable, rateLimited)
	}
	if errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorBadRequest) ||
		errors.Is(err, bot.ErrorNotFound) {
		return fmt.Errorf("%w: %v", scheduler.ErrSourceUnavailable, err)
	}
	if errors.Is(err, bot.ErrorUnauthorized) {
		return fmt.Errorf("%w: %v", scheduler.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", scheduler.ErrTransient, err)
}

func migrateToChatIDFromError(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}

	var migrateErr *bot.MigrateError
	if !errors.As(err, &migrateErr) || migrateErr.MigrateToChatID == 0 {
		return 0, false
	}
	return int64(migrateErr.MigrateToChatID), true
}

func hasPermissionHint(err error) bool {
	text := strings.ToLower(err.Error())
	for _, hint := range permissionHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}
