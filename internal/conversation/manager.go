// Package conversation owns the lifecycle of a user's model selection and
// message transcript.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/proffust/telegram-bot-serverless-yc/internal/convstore"
	"github.com/proffust/telegram-bot-serverless-yc/llm"
)

var (
	// ErrInvalidModel means the requested model is not on the allow-list.
	ErrInvalidModel = errors.New("conversation: model not available")
	// ErrEmptyCompletion means the completion service returned no text.
	ErrEmptyCompletion = errors.New("conversation: empty completion")
)

type Manager struct {
	store    convstore.Store
	client   llm.Client
	folderID string
	allowed  []string
	logger   *slog.Logger
}

type Options struct {
	Store    convstore.Store
	Client   llm.Client
	FolderID string
	// AllowedModels is the fixed allow-list a user may select from.
	AllowedModels []string
	Logger        *slog.Logger
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("conversation: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("conversation: completion client is required")
	}
	if len(opts.AllowedModels) == 0 {
		return nil, fmt.Errorf("conversation: allow-list is empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    opts.Store,
		client:   opts.Client,
		folderID: opts.FolderID,
		allowed:  append([]string(nil), opts.AllowedModels...),
		logger:   logger,
	}, nil
}

func (m *Manager) AllowedModels() []string {
	return append([]string(nil), m.allowed...)
}

func (m *Manager) allowedModel(name string) bool {
	for _, model := range m.allowed {
		if model == name {
			return true
		}
	}
	return false
}

// ModelURI renders the fully qualified completion URI for an allow-listed
// model name.
func (m *Manager) ModelURI(name string) string {
	return fmt.Sprintf("gpt://%s/%s/latest", m.folderID, name)
}

func (m *Manager) GetModel(ctx context.Context, userID int64) (string, error) {
	rec, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	return rec.Model, nil
}

func (m *Manager) SetModel(ctx context.Context, userID int64, model string) error {
	if !m.allowedModel(model) {
		return fmt.Errorf("%w: %s", ErrInvalidModel, model)
	}
	rec, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	rec.Model = model
	return m.store.Save(ctx, userID, rec)
}

// Reset empties the transcript while preserving the selected model.
func (m *Manager) Reset(ctx context.Context, userID int64) error {
	rec, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	rec.Messages = rec.Messages[:0]
	return m.store.Save(ctx, userID, rec)
}

// Converse appends the user turn, asks the completion service with the full
// transcript, and persists user and assistant turns together. On any failure
// nothing is persisted, so the stored transcript never carries an unanswered
// user turn.
func (m *Manager) Converse(ctx context.Context, userID int64, userText string) (string, error) {
	rec, err := m.store.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}

	messages := append(rec.Clone().Messages, llm.Message{Role: llm.RoleUser, Content: userText})
	res, err := m.client.Chat(ctx, llm.Request{
		Model:    m.ModelURI(rec.Model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	reply := strings.TrimSpace(res.Text)
	if reply == "" {
		return "", ErrEmptyCompletion
	}

	rec.Messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	if err := m.store.Save(ctx, userID, rec); err != nil {
		return "", err
	}

	m.logger.Debug("converse_ok",
		"user_id", userID,
		"model", rec.Model,
		"transcript_len", len(rec.Messages),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return reply, nil
}
