package speechkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
)

const defaultTTSBaseURL = "https://tts.api.cloud.yandex.net"

// Synthesizer renders reply text as an OGG/Opus voice message.
type Synthesizer struct {
	BaseURL  string
	Tokens   iamtoken.Provider
	FolderID string
	Voice    string
	Lang     string
	HTTP     *http.Client
}

func NewSynthesizer(baseURL string, tokens iamtoken.Provider, folderID string) *Synthesizer {
	if baseURL == "" {
		baseURL = defaultTTSBaseURL
	}
	return &Synthesizer{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Tokens:   tokens,
		FolderID: folderID,
		Voice:    "alena",
		Lang:     "ru-RU",
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speechkit: empty synthesis text")
	}
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("speechkit: %w", err)
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("lang", s.Lang)
	form.Set("voice", s.Voice)
	form.Set("format", "oggopus")
	if s.FolderID != "" {
		form.Set("folderId", s.FolderID)
	}

	endpoint := s.BaseURL + "/speech/v1/tts:synthesize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speechkit: %w", err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speechkit http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err != nil {
		return nil, fmt.Errorf("speechkit: read audio: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("speechkit: empty audio response")
	}
	return raw, nil
}
