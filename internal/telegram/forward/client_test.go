package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/models"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBotAPI struct {
	mu sync.Mutex

	nextID   int
	calls    []string
	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	sendErr  error

	chats       map[int64]string
	getChatErr  error
	getChatHits int
}

func newStubBotAPI() *stubBotAPI {
	return &stubBotAPI{nextID: 500, chats: make(map[int64]string)}
}

func (s *stubBotAPI) record(call string) (*botModels.Message, error) {
	s.calls = append(s.calls, call)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.nextID++
	return &botModels.Message{ID: s.nextID}, nil
}

func (s *stubBotAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, params)
	return s.record("message")
}

func (s *stubBotAPI) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = append(s.photos, params)
	return s.record("photo")
}

func (s *stubBotAPI) SendVideo(ctx context.Context, params *bot.SendVideoParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("video")
}

func (s *stubBotAPI) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("document")
}

func (s *stubBotAPI) SendSticker(ctx context.Context, params *bot.SendStickerParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("sticker")
}

func (s *stubBotAPI) SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("animation")
}

func (s *stubBotAPI) SendAudio(ctx context.Context, params *bot.SendAudioParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("audio")
}

func (s *stubBotAPI) SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*botModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("voice")
}

func (s *stubBotAPI) GetChat(ctx context.Context, params *bot.GetChatParams) (*botModels.ChatFullInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getChatHits++
	if s.getChatErr != nil {
		return nil, s.getChatErr
	}
	id, _ := params.ChatID.(int64)
	title, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w, chat not found", bot.ErrorBadRequest)
	}
	return &botModels.ChatFullInfo{ID: id, Title: title}, nil
}

type stubInbox struct {
	messages []*models.ChannelMessage
	created  []*models.ChannelMessage
	err      error
}

func (s *stubInbox) CreateMessage(ctx context.Context, message *models.ChannelMessage) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, message)
	return nil
}

func (s *stubInbox) ListAfter(ctx context.Context, chatID, afterID int64, limit int) ([]*models.ChannelMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	var result []*models.ChannelMessage
	for _, msg := range s.messages {
		if msg.ChatID == chatID && msg.TelegramMessageID > afterID {
			result = append(result, msg)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *stubInbox) LatestMessageID(ctx context.Context, chatID int64) (int64, error) {
	return 0, nil
}

func (s *stubInbox) EnsureIndexes(ctx context.Context) error {
	return nil
}

func newTestClient(api *stubBotAPI, inbox *stubInbox) *Client {
	return NewClient(api, inbox, ClientConfig{RatePerSecond: 1000, ChatPerMinute: 6000})
}

func TestClientSendText(t *testing.T) {
	api := newStubBotAPI()
	client := newTestClient(api, &stubInbox{})

	msg := &models.ChannelMessage{TelegramMessageID: 1, Text: "see https://example.com", MediaKind: models.MediaKindNone}
	id, err := client.Send(context.Background(), -100200, msg, scheduler.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(501), id)

	require.Len(t, api.messages, 1)
	params := api.messages[0]
	assert.Equal(t, int64(-100200), params.ChatID)
	assert.Equal(t, "see https://example.com", params.Text)
	require.NotNil(t, params.LinkPreviewOptions)
	require.NotNil(t, params.LinkPreviewOptions.IsDisabled)
	assert.True(t, *params.LinkPreviewOptions.IsDisabled)

	_, err = client.Send(context.Background(), -100200, msg, scheduler.SendOptions{PreserveLinkPreview: true})
	require.NoError(t, err)
	assert.False(t, *api.messages[1].LinkPreviewOptions.IsDisabled)
}

func TestClientSendMediaByKind(t *testing.T) {
	api := newStubBotAPI()
	client := newTestClient(api, &stubInbox{})

	kinds := []string{
		models.MediaKindPhoto,
		models.MediaKindVideo,
		models.MediaKindDocument,
		models.MediaKindSticker,
		models.MediaKindAnimation,
		models.MediaKindAudio,
		models.MediaKindVoice,
	}
	for i, kind := range kinds {
		msg := &models.ChannelMessage{TelegramMessageID: int64(i + 1), MediaKind: kind, MediaRef: "file-" + kind, Caption: "cap"}
		_, err := client.Send(context.Background(), -100200, msg, scheduler.SendOptions{})
		require.NoError(t, err, kind)
	}

	assert.Equal(t, kinds, api.calls)
	require.Len(t, api.photos, 1)
	assert.Equal(t, "cap", api.photos[0].Caption)
	assert.Equal(t, &botModels.InputFileString{Data: "file-photo"}, api.photos[0].Photo)
}

func TestClientSendEmptyMessageIsRejected(t *testing.T) {
	client := newTestClient(newStubBotAPI(), &stubInbox{})

	_, err := client.Send(context.Background(), -100200, &models.ChannelMessage{TelegramMessageID: 1}, scheduler.SendOptions{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, scheduler.ErrTransient))
	assert.False(t, errors.Is(err, scheduler.ErrPermissionDenied))
}

func TestClientSendClassifiesErrors(t *testing.T) {
	api := newStubBotAPI()
	api.sendErr = fmt.Errorf("%w, bot was kicked from the channel chat", bot.ErrorForbidden)
	client := newTestClient(api, &stubInbox{})

	msg := &models.ChannelMessage{TelegramMessageID: 1, Text: "hi"}
	_, err := client.Send(context.Background(), -100200, msg, scheduler.SendOptions{})
	assert.ErrorIs(t, err, scheduler.ErrPermissionDenied)
}

func TestClientFetchSince(t *testing.T) {
	api := newStubBotAPI()
	api.chats[-100100] = "Source"
	inbox := &stubInbox{messages: []*models.ChannelMessage{
		{TelegramMessageID: 1, ChatID: -100100, Text: "a"},
		{TelegramMessageID: 2, ChatID: -100100, Text: "b"},
		{TelegramMessageID: 3, ChatID: -100100, Text: "c"},
		{TelegramMessageID: 4, ChatID: -100999, Text: "other"},
	}}
	client := newTestClient(api, inbox)

	messages, err := client.FetchSince(context.Background(), -100100, 1, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(2), messages[0].TelegramMessageID)

	// 频道信息已缓存
	_, err = client.FetchSince(context.Background(), -100100, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, api.getChatHits)
}

func TestClientFetchSinceSourceUnavailable(t *testing.T) {
	api := newStubBotAPI()
	client := newTestClient(api, &stubInbox{})

	_, err := client.FetchSince(context.Background(), -100100, 0, 10)
	assert.ErrorIs(t, err, scheduler.ErrSourceUnavailable)

	// 失败结果不缓存
	api.chats[-100100] = "Source"
	_, err = client.FetchSince(context.Background(), -100100, 0, 10)
	require.NoError(t, err)
}

func TestClientFetchSinceInboxError(t *testing.T) {
	api := newStubBotAPI()
	api.chats[-100100] = "Source"
	client := newTestClient(api, &stubInbox{err: errors.New("mongo down")})

	_, err := client.FetchSince(context.Background(), -100100, 0, 10)
	assert.ErrorIs(t, err, scheduler.ErrTransient)
}

func TestClientChatTitle(t *testing.T) {
	api := newStubBotAPI()
	api.chats[-100100] = "Daily News"
	client := newTestClient(api, &stubInbox{})

	title, err := client.ChatTitle(context.Background(), -100100)
	require.NoError(t, err)
	assert.Equal(t, "Daily News", title)

	_, err = client.ChatTitle(context.Background(), -100404)
	assert.Error(t, err)
}
