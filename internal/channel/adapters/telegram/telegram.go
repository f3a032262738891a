package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/tgdownloader/internal/channel"
	"github.com/memohai/tgdownloader/internal/config"
	"github.com/memohai/tgdownloader/internal/media"
)

// Type is the channel type served by this adapter.
const Type channel.ChannelType = "telegram"

const (
	telegramMaxMessageLength = 4096
	pollSlack                = 10 * time.Second
)

// tgbotapi keeps a single package-level logger.
var botLoggerOnce sync.Once

// TelegramAdapter implements channel.Adapter, channel.Sender and channel.Receiver
// for Telegram, and media.Source for files attached to Telegram messages.
type TelegramAdapter struct {
	logger     *slog.Logger
	cfg        config.TelegramConfig
	apiClient  *http.Client
	fileClient *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramAdapter creates a TelegramAdapter. The bot is created lazily on
// first use so that construction never touches the network.
func NewTelegramAdapter(log *slog.Logger, cfg config.TelegramConfig) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		cfg:    cfg,
		// File downloads may take longer than any fixed timeout; they are bounded by ctx.
		fileClient: &http.Client{},
	}
	botLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	})
	return adapter
}

func (a *TelegramAdapter) getOrCreateBot() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	s, err := normalizeConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	// The long poll must fit inside one API request.
	timeout := s.requestTimeout
	if floor := time.Duration(s.pollTimeout)*time.Second + pollSlack; timeout < floor {
		timeout = floor
	}
	a.apiClient = &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(s.token, s.apiEndpoint, a.apiClient)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.bot = bot
	return bot, nil
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: telegramMaxMessageLength,
		},
	}
}

// Connect starts long-polling for Telegram updates and forwards messages to the handler
// in arrival order.
func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	bot, err := a.getOrCreateBot()
	if err != nil {
		return nil, err
	}
	s, err := normalizeConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BotID == "" {
		cfg.BotID = bot.Self.UserName
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = s.pollTimeout
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				msg, ok := buildInboundMessage(update.Message, bot.Self.UserName)
				if !ok {
					continue
				}
				msg.BotID = cfg.BotID
				a.logger.Info(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_type", msg.Conversation.Type),
					slog.String("chat_id", msg.Conversation.ID),
					slog.String("user_id", msg.Sender.Attribute("user_id")),
					slog.String("username", msg.Sender.Attribute("username")),
					slog.Int("attachments", len(msg.Message.Attachments)),
				)
				// handler only enqueues, so calling it inline keeps arrival order.
				if err := handler(connCtx, cfg, msg); err != nil && !errors.Is(err, channel.ErrQueueFull) {
					a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		// Drain so the library's polling goroutine can finish its in-flight
		// getUpdates call and exit.
		go func() {
			for range updates {
			}
		}()
		return nil
	}
	return channel.NewConnection(stop), nil
}

// Send delivers an outbound text message to a chat id or @channel username.
func (a *TelegramAdapter) Send(_ context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	to := strings.TrimSpace(msg.Target)
	if to == "" {
		return fmt.Errorf("telegram target is required")
	}
	text := msg.Message.PlainText()
	if text == "" {
		return fmt.Errorf("message is required")
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	if err := sendTelegramText(bot, to, text); err != nil {
		a.logger.Error("send text failed", slog.String("config_id", cfg.ID), slog.String("target", to), slog.Any("error", err))
		return err
	}
	return nil
}

// Resolve exchanges a Telegram file id for download coordinates via getFile.
func (a *TelegramAdapter) Resolve(_ context.Context, ref string) (media.Handle, error) {
	fileID := strings.TrimSpace(ref)
	if fileID == "" {
		return media.Handle{}, fmt.Errorf("telegram file id is required")
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return media.Handle{}, err
	}
	s, err := normalizeConfig(a.cfg)
	if err != nil {
		return media.Handle{}, err
	}
	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return media.Handle{}, fmt.Errorf("get telegram file: %w", err)
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return media.Handle{}, fmt.Errorf("telegram returned no file path for %s", fileID)
	}
	canonical := strings.TrimSpace(file.FileUniqueID)
	if canonical == "" {
		canonical = fileID
	}
	return media.Handle{
		Ref:         fileID,
		CanonicalID: canonical,
		Location:    fmt.Sprintf(s.fileEndpoint, s.token, file.FilePath),
		Size:        int64(file.FileSize),
	}, nil
}

// StreamTo downloads the resolved file into w.
func (a *TelegramAdapter) StreamTo(ctx context.Context, handle media.Handle, w io.Writer) (int64, error) {
	if strings.TrimSpace(handle.Location) == "" {
		return 0, fmt.Errorf("telegram file location is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.Location, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.fileClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; report the file id instead.
		return 0, fmt.Errorf("download telegram file %s: %w", handle.Ref, redactURLError(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("download telegram file %s: status %d", handle.Ref, resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download telegram file %s: %w", handle.Ref, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("download telegram file %s: %w (%d of %d bytes)", handle.Ref, io.ErrUnexpectedEOF, n, resp.ContentLength)
	}
	return n, nil
}

// redactURLError strips the request URL from net/http errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// buildInboundMessage maps a Telegram message to a channel message. It
// reports false for messages that should be ignored.
func buildInboundMessage(msg *tgbotapi.Message, botUsername string) (channel.InboundMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	entities := msg.Entities
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
		entities = msg.CaptionEntities
	}
	cmd, forUs := parseTelegramCommand(text, entities, botUsername)
	if !forUs {
		return channel.InboundMessage{}, false
	}
	attachments := collectTelegramAttachments(msg)
	messageText := text
	if cmd != nil {
		messageText = ""
	}
	subjectID, displayName, attrs := resolveTelegramSender(msg)
	inbound := channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:          strconv.Itoa(msg.MessageID),
			Text:        messageText,
			Command:     cmd,
			Attachments: attachments,
		},
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Conversation: channel.Conversation{
			ID:   strconv.FormatInt(msg.Chat.ID, 10),
			Type: strings.TrimSpace(msg.Chat.Type),
			Name: strings.TrimSpace(msg.Chat.Title),
		},
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if origin := msg.ForwardFromChat; origin != nil {
		inbound.ForwardedFrom = &channel.Conversation{
			ID:   strconv.FormatInt(origin.ID, 10),
			Type: strings.TrimSpace(origin.Type),
			Name: strings.TrimSpace(origin.Title),
		}
	}
	if inbound.Message.IsEmpty() && inbound.ForwardedFrom == nil {
		return channel.InboundMessage{}, false
	}
	return inbound, true
}

// parseTelegramCommand extracts a leading bot command from text. It reports
// false when the command is addressed to another bot.
func parseTelegramCommand(text string, entities []tgbotapi.MessageEntity, botUsername string) (*channel.Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, true
	}
	if len(entities) > 0 && (entities[0].Type != "bot_command" || entities[0].Offset != 0) {
		return nil, true
	}
	head, rest := text, ""
	if idx := strings.IndexFunc(text, unicode.IsSpace); idx >= 0 {
		head, rest = text[:idx], text[idx:]
	}
	name := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return nil, false
		}
	}
	if name == "" {
		return nil, true
	}
	return &channel.Command{Name: strings.ToLower(name), Args: strings.TrimSpace(rest)}, true
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		userID := strconv.FormatInt(msg.From.ID, 10)
		username := strings.TrimSpace(msg.From.UserName)
		attrs["user_id"] = userID
		if username != "" {
			attrs["username"] = username
		}
		displayName := username
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return userID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		if msg.SenderChat.UserName != "" {
			attrs["sender_chat_username"] = strings.TrimSpace(msg.SenderChat.UserName)
		}
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

// collectTelegramAttachments lists downloadable files, most specific kind first.
func collectTelegramAttachments(msg *tgbotapi.Message) []channel.Attachment {
	if msg == nil {
		return nil
	}
	attachments := make([]channel.Attachment, 0, 1)
	if v := msg.Video; v != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentVideo, v.FileID, v.FileUniqueID, v.FileName, v.MimeType, v.FileSize))
	}
	if v := msg.Animation; v != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentGIF, v.FileID, v.FileUniqueID, v.FileName, v.MimeType, v.FileSize))
	}
	// Telegram mirrors animations into Document; keep only one of them.
	if v := msg.Document; v != nil && msg.Animation == nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentFile, v.FileID, v.FileUniqueID, v.FileName, v.MimeType, v.FileSize))
	}
	if v := msg.Audio; v != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentAudio, v.FileID, v.FileUniqueID, v.FileName, v.MimeType, v.FileSize))
	}
	if v := msg.Voice; v != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentVoice, v.FileID, v.FileUniqueID, "", v.MimeType, v.FileSize))
	}
	if v := msg.VideoNote; v != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentVideoNote, v.FileID, v.FileUniqueID, "", "", v.FileSize))
	}
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentImage, photo.FileID, photo.FileUniqueID, "", "image/jpeg", photo.FileSize))
	}
	return attachments
}

func buildTelegramAttachment(attType channel.AttachmentType, fileID, uniqueID, name, mime string, size int) channel.Attachment {
	return channel.Attachment{
		Type:        attType,
		PlatformKey: strings.TrimSpace(fileID),
		UniqueID:    strings.TrimSpace(uniqueID),
		Name:        strings.TrimSpace(name),
		Mime:        strings.TrimSpace(mime),
		Size:        int64(size),
	}
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func sendTelegramText(bot *tgbotapi.BotAPI, target string, text string) error {
	text = truncateTelegramText(sanitizeTelegramText(text))
	if strings.HasPrefix(target, "@") {
		_, err := bot.Send(tgbotapi.NewMessageToChannel(target, text))
		return err
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be @username or chat_id")
	}
	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
