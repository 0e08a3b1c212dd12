// Package telegram implements the channel capability for the Telegram
// Bot API: long-polling inbound stream with media group buffering,
// chunked outbound text and native typing actions.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"axon/pkg/api"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds the credentials and tunables for one bot instance.
type Config struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
	// MessageLimit is the maximum character count per single message
	// bubble. Longer responses are split. Defaults to 4000.
	MessageLimit int `json:"message_limit"`
	// DownloadTimeoutMs bounds photo downloads. Defaults to 10000.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
}

// Telegram is the Telegram implementation of the channel capability.
type Telegram struct {
	config     Config
	bot        *tgbotapi.BotAPI
	events     chan api.InboundMessage
	httpClient *http.Client

	mu          sync.Mutex
	mediaGroups map[string]*mediaGroupBuffer
	pollCancel  context.CancelFunc
}

// mediaGroupBuffer aggregates incoming messages sharing one MediaGroupID
// into a single inbound event, so multi-image posts reach the assistant
// as one atomic context.
type mediaGroupBuffer struct {
	userID   string
	username string
	chatID   string
	content  string
	photoIDs []string
	timer    *time.Timer
}

// New authenticates against the Bot API and returns a disconnected
// channel instance. The long-poll loop starts on Connect.
func New(cfg Config) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token: %w", api.ErrValidation)
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 4000
	}
	if cfg.DownloadTimeoutMs <= 0 {
		cfg.DownloadTimeoutMs = 10000
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{
		config: cfg,
		bot:    bot,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.DownloadTimeoutMs) * time.Millisecond,
		},
		mediaGroups: make(map[string]*mediaGroupBuffer),
	}, nil
}

// Connect starts the long-polling loop. The bot's HTTP client gets a
// dialer tied to the poll context so an in-flight GetUpdates request is
// aborted on Disconnect; otherwise a replacement instance polling with
// the same token hits a 409 Conflict on the Telegram side.
func (t *Telegram) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pollCancel != nil {
		return nil // already connected
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	t.pollCancel = cancel
	t.events = make(chan api.InboundMessage, 64)

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	t.bot.Client = &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				merged, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-pollCtx.Done():
						mergedCancel()
					case <-merged.Done():
					}
				}()
				return dialer.DialContext(merged, network, addr)
			},
			ForceAttemptHTTP2: true,
			MaxIdleConns:      100,
			IdleConnTimeout:   90 * time.Second,
		},
	}

	go t.pollLoop(pollCtx)
	return nil
}

// Disconnect aborts the poll loop and closes the event stream.
func (t *Telegram) Disconnect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pollCancel == nil {
		return nil
	}
	t.pollCancel()
	t.pollCancel = nil
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}

// Shutdown tears down the platform connection.
func (t *Telegram) Shutdown(ctx context.Context) error {
	return t.Disconnect(ctx)
}

// Events returns the inbound stream. Valid after Connect.
func (t *Telegram) Events() <-chan api.InboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// pollLoop drives GetUpdates manually instead of GetUpdatesChan so the
// offset stays under our control and the loop exits promptly on cancel.
func (t *Telegram) pollLoop(ctx context.Context) {
	defer close(t.events)

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-ctx.Done():
				return // shutting down, the aborted request is expected
			default:
				slog.Debug("Failed to get telegram updates", "error", err)
				time.Sleep(3 * time.Second)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if update.Message == nil {
				continue
			}
			t.handleUpdate(ctx, update.Message)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, m *tgbotapi.Message) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	userID := ""
	username := ""
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
		username = m.From.UserName
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	// Largest resolution is last in the photo size list.
	var photoID string
	if len(m.Photo) > 0 {
		photoID = m.Photo[len(m.Photo)-1].FileID
	}

	// Albums arrive as separate updates sharing a MediaGroupID; buffer
	// them and emit one combined event after the group settles.
	if m.MediaGroupID != "" {
		t.bufferMediaGroup(ctx, m.MediaGroupID, chatID, userID, username, content, photoID)
		return
	}

	msg := api.InboundMessage{
		ExternalChannelID: chatID,
		UserID:            userID,
		Username:          username,
		Content:           content,
	}
	if m.IsCommand() {
		msg.Command = m.Command()
		msg.Content = strings.TrimSpace(m.CommandArguments())
	}

	if photoID == "" {
		t.emit(ctx, msg)
		return
	}

	// Download asynchronously so a slow transfer never blocks the poll loop.
	go func() {
		if img, err := t.downloadPhoto(photoID); err == nil {
			msg.Images = append(msg.Images, *img)
		} else {
			slog.Error("Photo download failed", "error", err)
		}
		t.emit(ctx, msg)
	}()
}

func (t *Telegram) emit(ctx context.Context, msg api.InboundMessage) {
	select {
	case t.events <- msg:
	case <-ctx.Done():
	}
}

func (t *Telegram) bufferMediaGroup(ctx context.Context, groupID, chatID, userID, username, text, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if ok {
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}
		buf.timer.Reset(time.Second)
		return
	}

	buf = &mediaGroupBuffer{userID: userID, username: username, chatID: chatID, content: text}
	if photoID != "" {
		buf.photoIDs = append(buf.photoIDs, photoID)
	}
	t.mediaGroups[groupID] = buf

	// Flush one second after the last member arrived.
	buf.timer = time.AfterFunc(time.Second, func() {
		t.mu.Lock()
		final, exists := t.mediaGroups[groupID]
		delete(t.mediaGroups, groupID)
		t.mu.Unlock()
		if !exists {
			return
		}

		var wg sync.WaitGroup
		images := make([]*api.ImageAttachment, len(final.photoIDs))
		for i, pid := range final.photoIDs {
			wg.Add(1)
			go func(index int, id string) {
				defer wg.Done()
				img, err := t.downloadPhoto(id)
				if err != nil {
					slog.Error("MediaGroup download failed", "file_id", id, "error", err)
					return
				}
				images[index] = img
			}(i, pid)
		}
		wg.Wait()

		msg := api.InboundMessage{
			ExternalChannelID: final.chatID,
			UserID:            final.userID,
			Username:          final.username,
			Content:           final.content,
		}
		for _, img := range images {
			if img != nil {
				msg.Images = append(msg.Images, *img)
			}
		}
		t.emit(ctx, msg)
		slog.Info("MediaGroup received", "group", groupID, "images", fmt.Sprintf("%d/%d", len(msg.Images), len(final.photoIDs)))
	})
}

// downloadPhoto fetches one Telegram file into memory.
func (t *Telegram) downloadPhoto(fileID string) (*api.ImageAttachment, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get photo file info: %w", err)
	}

	resp, err := t.httpClient.Get(fileInfo.Link(t.config.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo data: %w", err)
	}

	mimeType := http.DetectContentType(data)
	return &api.ImageAttachment{MimeType: mimeType, Data: data}, nil
}

// Send delivers one outbound message, splitting text that exceeds the
// platform bubble limit and sending image attachments as photos.
func (t *Telegram) Send(_ context.Context, msg api.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ExternalChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", msg.ExternalChannelID)
	}

	if msg.Content != "" {
		if err := t.sendText(chatID, msg.Content); err != nil {
			return err
		}
	}

	for _, att := range msg.Attachments {
		if err := t.sendPhoto(chatID, att); err != nil {
			slog.Error("Failed to send photo", "filename", att.Filename, "error", err)
		}
	}
	return nil
}

func (t *Telegram) sendText(chatID int64, text string) error {
	msgRunes := []rune(text)
	totalLen := len(msgRunes)

	if totalLen <= t.config.MessageLimit {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	for i := 0; i < totalLen; i += t.config.MessageLimit {
		end := i + t.config.MessageLimit
		if end > totalLen {
			end = totalLen
		}
		chunk := string(msgRunes[i:end])
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}
	return nil
}

func (t *Telegram) sendPhoto(chatID int64, att api.Attachment) error {
	var photo tgbotapi.Chattable
	switch {
	case len(att.Data) > 0:
		name := att.Filename
		if name == "" {
			name = "image.png"
		}
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: att.Data})
	case att.URL != "":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(att.URL))
	default:
		return fmt.Errorf("attachment has neither data nor url")
	}
	_, err := t.bot.Send(photo)
	return err
}

// SendTyping emits the platform-native chat action.
func (t *Telegram) SendTyping(_ context.Context, externalChannelID string) error {
	chatID, err := strconv.ParseInt(externalChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", externalChannelID)
	}
	_, err = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}
