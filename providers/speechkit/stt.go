// Package speechkit wraps the Yandex SpeechKit recognition and synthesis
// REST APIs.
package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
)

const defaultSTTBaseURL = "https://stt.api.cloud.yandex.net"

// Recognizer transcribes short OGG/Opus voice messages.
type Recognizer struct {
	BaseURL  string
	Tokens   iamtoken.Provider
	FolderID string
	Topic    string
	Lang     string
	HTTP     *http.Client
}

func NewRecognizer(baseURL string, tokens iamtoken.Provider, folderID string) *Recognizer {
	if baseURL == "" {
		baseURL = defaultSTTBaseURL
	}
	return &Recognizer{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Tokens:   tokens,
		FolderID: folderID,
		Topic:    "general",
		Lang:     "ru-RU",
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}
}

type recognizeResponse struct {
	Result    string `json:"result"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Recognize sends raw ogg bytes and returns the recognized text. An empty
// recognition result is an error: downstream must never converse with an
// empty transcript.
func (r *Recognizer) Recognize(ctx context.Context, ogg []byte) (string, error) {
	if len(ogg) == 0 {
		return "", fmt.Errorf("speechkit: empty audio")
	}
	token, err := r.Tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("speechkit: %w", err)
	}

	query := url.Values{}
	query.Set("topic", r.Topic)
	query.Set("lang", r.Lang)
	if r.FolderID != "" {
		query.Set("folderId", r.FolderID)
	}
	endpoint := r.BaseURL + "/speech/v1/stt:recognize?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(ogg))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "audio/ogg")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("speechkit: %w", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("speechkit http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out recognizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("speechkit: decode response: %w", err)
	}
	if out.ErrorCode != "" {
		return "", fmt.Errorf("speechkit: %s: %s", out.ErrorCode, out.Message)
	}
	text := strings.TrimSpace(out.Result)
	if text == "" {
		return "", fmt.Errorf("speechkit: empty recognition result")
	}
	return text, nil
}
