package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"forward_bot/internal/telegram/models"
)

// memStore 内存实现的 Store，遵循与 Mongo 实现相同的单调/幂等语义
type memStore struct {
	mu        sync.Mutex
	tasks     map[models.TaskKey]*models.ForwardingTask
	records   []*models.ForwardedRecord
	recordSet map[recordKey]struct{}
	counters  map[string]int64

	// 注入故障
	appendErr    error
	watermarkErr error
	getErr       error

	watermarkCalls int
}

type recordKey struct {
	key      models.TaskKey
	sourceID int64
}

func newMemStore() *memStore {
	return &memStore{
		tasks:     make(map[models.TaskKey]*models.ForwardingTask),
		recordSet: make(map[recordKey]struct{}),
		counters:  make(map[string]int64),
	}
}

func (s *memStore) put(task *models.ForwardingTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Key()] = task.Clone()
}

func (s *memStore) task(key models.TaskKey) *models.ForwardingTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[key].Clone()
}

func (s *memStore) GetTask(ctx context.Context, key models.TaskKey) (*models.ForwardingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	task, ok := s.tasks[key]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *memStore) UpsertTask(ctx context.Context, task *models.ForwardingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := task.Clone()
	if existing, ok := s.tasks[task.Key()]; ok {
		if existing.LastForwardedMessageID > next.LastForwardedMessageID {
			next.LastForwardedMessageID = existing.LastForwardedMessageID
		}
		next.CreatedAt = existing.CreatedAt
	}
	s.tasks[task.Key()] = next
	return nil
}

func (s *memStore) SetActive(ctx context.Context, key models.TaskKey, active bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	task.Active = active
	if reason != "" {
		task.LastError = reason
	}
	return nil
}

func (s *memStore) SetWatermark(ctx context.Context, key models.TaskKey, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarkCalls++
	if s.watermarkErr != nil {
		return s.watermarkErr
	}
	task, ok := s.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	if messageID > task.LastForwardedMessageID {
		task.LastForwardedMessageID = messageID
	}
	return nil
}

func (s *memStore) ListActiveTasks(ctx context.Context) ([]*models.ForwardingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.ForwardingTask
	for _, task := range s.tasks {
		if task.Active {
			result = append(result, task.Clone())
		}
	}
	return result, nil
}

func (s *memStore) ListTasksByOwner(ctx context.Context, ownerID int64) ([]*models.ForwardingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.ForwardingTask
	for _, task := range s.tasks {
		if task.OwnerID == ownerID {
			result = append(result, task.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SourceChannelID < result[j].SourceChannelID
	})
	return result, nil
}

func (s *memStore) CountTasks(ctx context.Context, activeOnly bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, task := range s.tasks {
		if !activeOnly || task.Active {
			n++
		}
	}
	return n, nil
}

func (s *memStore) AppendForwarded(ctx context.Context, record *models.ForwardedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	rk := recordKey{key: record.Key(), sourceID: record.SourceMessageID}
	if _, ok := s.recordSet[rk]; ok {
		return nil
	}
	s.recordSet[rk] = struct{}{}
	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *memStore) HasForwarded(ctx context.Context, key models.TaskKey, sourceMessageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recordSet[recordKey{key: key, sourceID: sourceMessageID}]
	return ok, nil
}

func (s *memStore) RecentFingerprints(ctx context.Context, targetChannelID int64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.records[i]
		if r.TargetChannelID == targetChannelID && r.Fingerprint != "" {
			result = append(result, r.Fingerprint)
		}
	}
	return result, nil
}

func (s *memStore) CountForwarded(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *memStore) Track(ctx context.Context, name string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
	return nil
}

func (s *memStore) Counters(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		result[k] = v
	}
	return result, nil
}

func (s *memStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// sentMessage 记录一次发送
type sentMessage struct {
	channelID int64
	sourceID  int64
	content   string
	opts      SendOptions
}

// fakePlatform 内存平台
type fakePlatform struct {
	mu       sync.Mutex
	messages map[int64][]*models.ChannelMessage
	sent     []sentMessage
	titles   map[int64]string

	fetchErr error
	// sendErrs 按源消息 ID 注入发送错误，每次发送消耗一个
	sendErrs map[int64][]error
	// sendHook 每次发送时调用（可用于阻塞）
	sendHook func(msg *models.ChannelMessage)
	nextID   int64
	fetches  int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		messages: make(map[int64][]*models.ChannelMessage),
		titles:   make(map[int64]string),
		sendErrs: make(map[int64][]error),
		nextID:   1000,
	}
}

func (p *fakePlatform) post(channelID, messageID int64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[channelID] = append(p.messages[channelID], &models.ChannelMessage{
		TelegramMessageID: messageID,
		ChatID:            channelID,
		Text:              text,
		MediaKind:         models.MediaKindNone,
		SentAt:            time.Now(),
	})
}

func (p *fakePlatform) failSend(sourceID int64, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErrs[sourceID] = append(p.sendErrs[sourceID], errs...)
}

func (p *fakePlatform) FetchSince(ctx context.Context, channelID, afterID int64, limit int) ([]*models.ChannelMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	var result []*models.ChannelMessage
	for _, msg := range p.messages[channelID] {
		if msg.TelegramMessageID > afterID {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TelegramMessageID < result[j].TelegramMessageID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (p *fakePlatform) Send(ctx context.Context, channelID int64, msg *models.ChannelMessage, opts SendOptions) (int64, error) {
	p.mu.Lock()
	hook := p.sendHook
	p.mu.Unlock()
	if hook != nil {
		hook(msg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if errs := p.sendErrs[msg.TelegramMessageID]; len(errs) > 0 {
		err := errs[0]
		p.sendErrs[msg.TelegramMessageID] = errs[1:]
		return 0, err
	}
	p.nextID++
	p.sent = append(p.sent, sentMessage{
		channelID: channelID,
		sourceID:  msg.TelegramMessageID,
		content:   msg.Content(),
		opts:      opts,
	})
	return p.nextID, nil
}

func (p *fakePlatform) ChatTitle(ctx context.Context, channelID int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	title, ok := p.titles[channelID]
	if !ok {
		return "", errors.New("chat not found")
	}
	return title, nil
}

func (p *fakePlatform) sentMessages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func (p *fakePlatform) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// recordingNotifier 记录通知
type recordingNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{messages: make(map[int64][]string)}
}

func (n *recordingNotifier) NotifyOwner(ctx context.Context, ownerID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[ownerID] = append(n.messages[ownerID], text)
	return nil
}

func (n *recordingNotifier) count(ownerID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages[ownerID])
}

// newTestEngine 创建使用极短等待时间的引擎
func newTestEngine(store *memStore, platform *fakePlatform, notifier *recordingNotifier, delay time.Duration) *Engine {
	engine := NewEngine(EngineConfig{BatchSize: 10, PersistRetries: 3}, store, platform, NewDedupFilter(store, 0), notifier, nil)
	engine.nextDelay = func(*models.ForwardingTask) (time.Duration, error) { return delay, nil }
	engine.retryDelay = func(error, int, int64) time.Duration { return time.Millisecond }
	engine.persistWait = func(int) time.Duration { return time.Millisecond }
	engine.backoffBase = time.Millisecond
	return engine
}

func testKey() models.TaskKey {
	return models.TaskKey{OwnerID: 1, SourceChannelID: -100111, TargetChannelID: -100222}
}

func activeTask(key models.TaskKey) *models.ForwardingTask {
	task := models.NewForwardingTask(key)
	task.Mode = models.ScheduleModeFixed
	task.FixedIntervalSeconds = MinIntervalSeconds
	task.Active = true
	return task
}

// waitFor 轮询等待条件成立
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
