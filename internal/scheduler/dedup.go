package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
)

// DefaultDedupCacheSize 每个目标频道保留的最近指纹数
const DefaultDedupCacheSize = 100

// 跳过原因
const (
	SkipReasonAlreadyForwarded = "already_forwarded"
	SkipReasonDuplicateContent = "duplicate_content"
)

// Verdict 去重判定结果
type Verdict struct {
	Skip        bool
	Reason      string
	Fingerprint string
}

// Fingerprint 计算消息内容指纹；没有文本或说明文字时返回空串
func Fingerprint(msg *models.ChannelMessage) string {
	content := strings.ToLower(strings.TrimSpace(msg.Content()))
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// fingerprintRing 单个频道的指纹窗口，FIFO 淘汰
type fingerprintRing struct {
	mu     sync.Mutex
	size   int
	order  []string
	set    map[string]struct{}
	warmed bool
}

func newFingerprintRing(size int) *fingerprintRing {
	return &fingerprintRing{
		size:  size,
		order: make([]string, 0, size),
		set:   make(map[string]struct{}, size),
	}
}

func (r *fingerprintRing) contains(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[fp]
	return ok
}

func (r *fingerprintRing) add(fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(fp)
}

func (r *fingerprintRing) addLocked(fp string) {
	if _, ok := r.set[fp]; ok {
		return
	}
	if len(r.order) >= r.size {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.order = append(r.order, fp)
	r.set[fp] = struct{}{}
}

func (r *fingerprintRing) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// DedupFilter 判断候选消息是否应跳过
// 转发日志是"已转发"的权威来源；内存窗口只做尽力而为的内容去重，漏判安全，误判不允许
type DedupFilter struct {
	log       ForwardLog
	cacheSize int

	mu       sync.Mutex
	channels map[int64]*fingerprintRing
}

// NewDedupFilter 创建去重过滤器
func NewDedupFilter(log ForwardLog, cacheSize int) *DedupFilter {
	if cacheSize <= 0 {
		cacheSize = DefaultDedupCacheSize
	}
	return &DedupFilter{
		log:       log,
		cacheSize: cacheSize,
		channels:  make(map[int64]*fingerprintRing),
	}
}

func (f *DedupFilter) ring(channelID int64) *fingerprintRing {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.channels[channelID]
	if !ok {
		r = newFingerprintRing(f.cacheSize)
		f.channels[channelID] = r
	}
	return r
}

// ShouldSkip 依次执行已转发检查和内容重复检查
func (f *DedupFilter) ShouldSkip(ctx context.Context, key models.TaskKey, msg *models.ChannelMessage) (Verdict, error) {
	fp := Fingerprint(msg)

	forwarded, err := f.log.HasForwarded(ctx, key, msg.TelegramMessageID)
	if err != nil {
		return Verdict{}, fmt.Errorf("check forwarded log: %w", err)
	}
	if forwarded {
		return Verdict{Skip: true, Reason: SkipReasonAlreadyForwarded, Fingerprint: fp}, nil
	}

	if fp == "" {
		return Verdict{}, nil
	}

	f.Warm(ctx, key.TargetChannelID)
	if f.ring(key.TargetChannelID).contains(fp) {
		return Verdict{Skip: true, Reason: SkipReasonDuplicateContent, Fingerprint: fp}, nil
	}

	return Verdict{Fingerprint: fp}, nil
}

// Remember 记录已发送到目标频道的指纹
func (f *DedupFilter) Remember(targetChannelID int64, fingerprint string) {
	if fingerprint == "" {
		return
	}
	f.ring(targetChannelID).add(fingerprint)
}

// Warm 首次访问某频道时，从转发日志加载最近的指纹
// 加载失败只记录日志，窗口保持为空
func (f *DedupFilter) Warm(ctx context.Context, targetChannelID int64) {
	r := f.ring(targetChannelID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warmed {
		return
	}

	fingerprints, err := f.log.RecentFingerprints(ctx, targetChannelID, f.cacheSize)
	if err != nil {
		logger.L().Warnf("Failed to warm dedup cache: target=%d, err=%v", targetChannelID, err)
		return
	}

	// 日志按新到旧返回，倒序写入以保持 FIFO 顺序
	for i := len(fingerprints) - 1; i >= 0; i-- {
		if fingerprints[i] != "" {
			r.addLocked(fingerprints[i])
		}
	}
	r.warmed = true
}

// CachedCount 返回频道窗口中的指纹数量
func (f *DedupFilter) CachedCount(channelID int64) int {
	return f.ring(channelID).count()
}
