// Package dispatch classifies inbound Telegram updates and routes each one
// to exactly one handler. The routing table is built once at startup and is
// immutable afterwards.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
)

// ErrMalformedUpdate means the inbound payload is not a processable update.
// It is distinct from a successful no-op (an update this bot ignores).
var ErrMalformedUpdate = errors.New("dispatch: malformed update")

// Request is what a handler receives: the message plus the parsed command
// word and argument tail (empty for non-command updates) and a correlation
// id for logging.
type Request struct {
	CorrelationID string
	Message       *telegramclient.Message
	Command       string
	Args          string
}

func (r *Request) ChatID() int64 {
	if r.Message == nil || r.Message.Chat == nil {
		return 0
	}
	return r.Message.Chat.ID
}

func (r *Request) UserID() int64 {
	if r.Message == nil || r.Message.From == nil {
		return 0
	}
	return r.Message.From.ID
}

type Handler func(ctx context.Context, req *Request) error

type Options struct {
	// Commands maps normalized command words ("/start") to handlers.
	Commands map[string]Handler
	Text     Handler
	Voice    Handler
	Photo    Handler
	Unknown  Handler
	Logger   *slog.Logger
}

type Router struct {
	commands map[string]Handler
	text     Handler
	voice    Handler
	photo    Handler
	unknown  Handler
	logger   *slog.Logger
}

func NewRouter(opts Options) (*Router, error) {
	if opts.Text == nil || opts.Voice == nil || opts.Unknown == nil {
		return nil, fmt.Errorf("dispatch: text, voice and unknown handlers are required")
	}
	commands := make(map[string]Handler, len(opts.Commands))
	for word, h := range opts.Commands {
		normalized := normalizeSlashCommand(word)
		if normalized == "" || h == nil {
			return nil, fmt.Errorf("dispatch: invalid command registration %q", word)
		}
		commands[normalized] = h
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		commands: commands,
		text:     opts.Text,
		voice:    opts.Voice,
		photo:    opts.Photo,
		unknown:  opts.Unknown,
		logger:   logger,
	}, nil
}

// Dispatch invokes exactly one handler for the update. A parseable update
// carrying no message (edited_message, channel_post and the rest of the
// Update union) is a successful no-op; Telegram redelivers anything not
// acknowledged, so only genuinely broken payloads may fail. A message
// without sender or chat identity is malformed.
func (r *Router) Dispatch(ctx context.Context, upd *telegramclient.Update) error {
	if upd == nil {
		return fmt.Errorf("%w: no update", ErrMalformedUpdate)
	}
	if upd.Message == nil {
		if upd.UpdateID == 0 {
			return fmt.Errorf("%w: no message", ErrMalformedUpdate)
		}
		r.logger.Debug("update_ignored", "update_id", upd.UpdateID, "kind", "no_message")
		return nil
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return fmt.Errorf("%w: message has no chat or sender", ErrMalformedUpdate)
	}

	req := &Request{
		CorrelationID: uuid.NewString(),
		Message:       msg,
	}
	logger := r.logger.With(
		"correlation_id", req.CorrelationID,
		"update_id", upd.UpdateID,
		"user_id", msg.From.ID,
	)

	kind, handler := r.classify(msg, req)
	if handler == nil {
		logger.Debug("update_ignored", "kind", kind)
		return nil
	}
	logger.Info("update_dispatched", "kind", kind, "command", req.Command)
	return handler(ctx, req)
}

func (r *Router) classify(msg *telegramclient.Message, req *Request) (string, Handler) {
	if msg.Voice != nil || msg.Audio != nil {
		return "voice", r.voice
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/"):
		word, rest := splitCommand(text)
		req.Command = normalizeSlashCommand(word)
		req.Args = rest
		if handler, ok := r.commands[req.Command]; ok {
			return "command", handler
		}
		return "unknown_command", r.unknown
	case text != "":
		return "text", r.text
	case len(msg.Photo) > 0:
		return "photo", r.photo
	default:
		return "empty", nil
	}
}

func splitCommand(text string) (cmd, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	// Allow "/cmd@BotName" variants by stripping "@...".
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
