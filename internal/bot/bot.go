// Package bot implements the per-command behaviors on top of the
// conversation manager, the chunker and the external model services.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/proffust/telegram-bot-serverless-yc/internal/conversation"
	"github.com/proffust/telegram-bot-serverless-yc/internal/dispatch"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramutil"
)

// Messenger is the outbound Telegram surface the handlers use.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMarkdownV2(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, filename string) error
	SendVoice(ctx context.Context, chatID int64, voice []byte, filename string) error
	GetFile(ctx context.Context, fileID string) (*telegramclient.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Conversations is the manager surface the handlers need.
type Conversations interface {
	GetModel(ctx context.Context, userID int64) (string, error)
	SetModel(ctx context.Context, userID int64, model string) error
	Reset(ctx context.Context, userID int64) error
	Converse(ctx context.Context, userID int64, userText string) (string, error)
	AllowedModels() []string
}

type Transcriber interface {
	Recognize(ctx context.Context, ogg []byte) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type Bot struct {
	tg     Messenger
	conv   Conversations
	stt    Transcriber
	tts    Synthesizer
	images ImageGenerator
	maxLen int
	logger *slog.Logger
}

type Options struct {
	Messenger      Messenger
	Conversations  Conversations
	Transcriber    Transcriber
	Synthesizer    Synthesizer
	ImageGenerator ImageGenerator
	// MaxMessageLength bounds each outbound chunk.
	MaxMessageLength int
	Logger           *slog.Logger
}

func New(opts Options) (*Bot, error) {
	if opts.Messenger == nil {
		return nil, fmt.Errorf("bot: messenger is required")
	}
	if opts.Conversations == nil {
		return nil, fmt.Errorf("bot: conversation manager is required")
	}
	maxLen := opts.MaxMessageLength
	if maxLen <= 0 {
		maxLen = telegramutil.DefaultMaxMessageLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		tg:     opts.Messenger,
		conv:   opts.Conversations,
		stt:    opts.Transcriber,
		tts:    opts.Synthesizer,
		images: opts.ImageGenerator,
		maxLen: maxLen,
		logger: logger,
	}, nil
}

// Routes is the one-time routing table for the dispatcher.
func (b *Bot) Routes() dispatch.Options {
	return dispatch.Options{
		Commands: map[string]dispatch.Handler{
			"/start":       b.Start,
			"/help":        b.Help,
			"/new_session": b.NewSession,
			"/get_model":   b.GetModel,
			"/set_model":   b.SetModel,
			"/image":       b.Image,
		},
		Text:    b.Text,
		Voice:   b.Voice,
		Photo:   b.Photo,
		Unknown: b.Unknown,
		Logger:  b.logger,
	}
}

const (
	msgWelcome        = "Привет! Я бот для общения с моделями Яндекс.Облака."
	msgContextCleared = "Контекст очищен."
	msgUnknownCommand = "Неизвестная команда. Используйте /help для списка команд."
	msgPhotoNotReady  = "Обработка фото не реализована."
	msgOperationError = "Не удалось выполнить операцию. Попробуйте ещё раз."
	msgTranscribeFail = "Не удалось распознать сообщение."
	msgImageUsage     = "Использование: /image <текстовый запрос>"

	msgHelp = "/start - Начать общение с ботом\n" +
		"/new_session - Очистить контекст общения\n" +
		"/set_model <model_name> - Установить модель для общения\n" +
		"/get_model - Показать текущую модель\n" +
		"/image <текстовый запрос> - Сгенерировать изображение по текстовому запросу\n" +
		"Вы также можете отправлять голосовые сообщения, и я отвечу вам голосом!"
)

func (b *Bot) Start(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	return b.tg.SendMessage(ctx, req.ChatID(), msgWelcome)
}

func (b *Bot) Help(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	return b.tg.SendMessage(ctx, req.ChatID(), msgHelp)
}

func (b *Bot) Unknown(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	return b.tg.SendMessage(ctx, req.ChatID(), msgUnknownCommand)
}

func (b *Bot) Photo(ctx context.Context, req *dispatch.Request) error {
	return b.tg.SendMessage(ctx, req.ChatID(), msgPhotoNotReady)
}

func (b *Bot) NewSession(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	if err := b.conv.Reset(ctx, req.UserID()); err != nil {
		return b.fail(ctx, req, "reset_failed", err)
	}
	return b.tg.SendMessage(ctx, req.ChatID(), msgContextCleared)
}

func (b *Bot) GetModel(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	model, err := b.conv.GetModel(ctx, req.UserID())
	if err != nil {
		return b.fail(ctx, req, "get_model_failed", err)
	}
	return b.tg.SendMessage(ctx, req.ChatID(), "Текущая модель: "+model)
}

func (b *Bot) SetModel(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)

	model, usageErr := parseSetModelArgs(req.Args)
	if usageErr != nil {
		return b.tg.SendMessage(ctx, req.ChatID(), b.setModelUsage())
	}

	err := b.conv.SetModel(ctx, req.UserID(), model)
	switch {
	case errors.Is(err, conversation.ErrInvalidModel):
		text := fmt.Sprintf("Модель %s недоступна. Доступные модели: %s",
			model, strings.Join(b.conv.AllowedModels(), ", "))
		return b.tg.SendMessage(ctx, req.ChatID(), text)
	case err != nil:
		return b.fail(ctx, req, "set_model_failed", err)
	}
	return b.tg.SendMessage(ctx, req.ChatID(), "Модель установлена на: "+model)
}

func (b *Bot) setModelUsage() string {
	return "Использование: /set_model <model_name>, где model_name - одна из доступных моделей: " +
		strings.Join(b.conv.AllowedModels(), ", ")
}

// parseSetModelArgs requires exactly one argument token.
func parseSetModelArgs(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "", fmt.Errorf("expected exactly one model name, got %d tokens", len(fields))
	}
	return fields[0], nil
}

func (b *Bot) Image(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionUploadPhoto)
	if b.images == nil {
		return b.tg.SendMessage(ctx, req.ChatID(), msgOperationError)
	}

	prompt := strings.TrimSpace(req.Args)
	if prompt == "" {
		return b.tg.SendMessage(ctx, req.ChatID(), msgImageUsage)
	}

	image, err := b.images.Generate(ctx, prompt)
	if err != nil {
		return b.fail(ctx, req, "image_generation_failed", err)
	}
	return b.tg.SendPhoto(ctx, req.ChatID(), image, "image.png")
}

func (b *Bot) Text(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionTyping)
	return b.reply(ctx, req, req.Message.Text)
}

// Voice downloads and transcribes the voice note, converses with the
// transcribed text, then answers with both a synthesized voice note and the
// chunked text. A transcription failure stops here: the completion service
// is never called with an empty transcript.
func (b *Bot) Voice(ctx context.Context, req *dispatch.Request) error {
	b.action(ctx, req, telegramclient.ActionRecordVoice)
	if b.stt == nil || b.tts == nil {
		return b.tg.SendMessage(ctx, req.ChatID(), msgOperationError)
	}

	fileID := voiceFileID(req.Message)
	if fileID == "" {
		return b.tg.SendMessage(ctx, req.ChatID(), msgTranscribeFail)
	}

	speechText, err := b.transcribe(ctx, fileID)
	if err != nil {
		b.logger.Warn("transcription_failed", "correlation_id", req.CorrelationID, "error", err.Error())
		return b.tg.SendMessage(ctx, req.ChatID(), msgTranscribeFail)
	}

	reply, err := b.conv.Converse(ctx, req.UserID(), speechText)
	if err != nil {
		return b.fail(ctx, req, "converse_failed", err)
	}

	if err := b.tg.SendMessage(ctx, req.ChatID(), "Вы сказали: "+speechText); err != nil {
		return err
	}
	voice, err := b.tts.Synthesize(ctx, reply)
	if err != nil {
		// The exchange is already persisted; degrade to text only.
		b.logger.Warn("synthesis_failed", "correlation_id", req.CorrelationID, "error", err.Error())
	} else if err := b.tg.SendVoice(ctx, req.ChatID(), voice, "reply.ogg"); err != nil {
		return err
	}
	return b.sendChunks(ctx, req.ChatID(), reply)
}

func voiceFileID(msg *telegramclient.Message) string {
	switch {
	case msg.Voice != nil:
		return msg.Voice.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	default:
		return ""
	}
}

func (b *Bot) transcribe(ctx context.Context, fileID string) (string, error) {
	file, err := b.tg.GetFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	ogg, err := b.tg.DownloadFile(ctx, file.FilePath)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	return b.stt.Recognize(ctx, ogg)
}

func (b *Bot) reply(ctx context.Context, req *dispatch.Request, userText string) error {
	answer, err := b.conv.Converse(ctx, req.UserID(), userText)
	if err != nil {
		return b.fail(ctx, req, "converse_failed", err)
	}
	return b.sendChunks(ctx, req.ChatID(), answer)
}

func (b *Bot) sendChunks(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range telegramutil.SplitMarkdownSafe(text, b.maxLen) {
		if err := b.tg.SendMarkdownV2(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// action sends the presence indicator; failures are logged, not fatal.
func (b *Bot) action(ctx context.Context, req *dispatch.Request, action string) {
	if err := b.tg.SendChatAction(ctx, req.ChatID(), action); err != nil {
		b.logger.Debug("chat_action_failed", "correlation_id", req.CorrelationID, "error", err.Error())
	}
}

// fail informs the user the operation failed and propagates the cause.
func (b *Bot) fail(ctx context.Context, req *dispatch.Request, event string, err error) error {
	b.logger.Error(event,
		"correlation_id", req.CorrelationID,
		"user_id", req.UserID(),
		"error", err.Error(),
	)
	if sendErr := b.tg.SendMessage(ctx, req.ChatID(), msgOperationError); sendErr != nil {
		b.logger.Warn("failure_notice_failed", "correlation_id", req.CorrelationID, "error", sendErr.Error())
	}
	return err
}
