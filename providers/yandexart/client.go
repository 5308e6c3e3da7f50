// Package yandexart runs deferred image generation against the Yandex ART
// foundation model: start an async operation, poll it, return image bytes.
package yandexart

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
)

const (
	defaultBaseURL       = "https://llm.api.cloud.yandex.net"
	defaultOperationsURL = "https://operation.api.cloud.yandex.net"
	defaultPollInterval  = 2 * time.Second
	defaultPollTimeout   = 2 * time.Minute
)

type Client struct {
	BaseURL       string
	OperationsURL string
	Tokens        iamtoken.Provider
	FolderID      string
	Model         string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	HTTP          *http.Client
}

func New(baseURL, operationsURL string, tokens iamtoken.Provider, folderID string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if operationsURL == "" {
		operationsURL = defaultOperationsURL
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		OperationsURL: strings.TrimRight(operationsURL, "/"),
		Tokens:        tokens,
		FolderID:      folderID,
		Model:         "yandex-art",
		PollInterval:  defaultPollInterval,
		PollTimeout:   defaultPollTimeout,
		HTTP:          &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	ModelURI string            `json:"modelUri"`
	Messages []generateMessage `json:"messages"`
}

type generateMessage struct {
	Text string `json:"text"`
}

type operation struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	Response *struct {
		Image string `json:"image"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate starts a deferred generation for prompt and polls until the
// operation completes, the poll budget runs out, or ctx is done.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("yandexart: empty prompt")
	}

	op, err := c.start(ctx, prompt)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.PollTimeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for !op.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("yandexart: operation %s timed out", op.ID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		op, err = c.poll(ctx, op.ID)
		if err != nil {
			return nil, err
		}
	}

	if op.Error != nil {
		return nil, fmt.Errorf("yandexart: operation failed: %s", op.Error.Message)
	}
	if op.Response == nil || op.Response.Image == "" {
		return nil, fmt.Errorf("yandexart: operation %s finished without an image", op.ID)
	}
	image, err := base64.StdEncoding.DecodeString(op.Response.Image)
	if err != nil {
		return nil, fmt.Errorf("yandexart: decode image: %w", err)
	}
	return image, nil
}

func (c *Client) start(ctx context.Context, prompt string) (operation, error) {
	body, err := json.Marshal(generateRequest{
		ModelURI: fmt.Sprintf("art://%s/%s", c.FolderID, c.Model),
		Messages: []generateMessage{{Text: prompt}},
	})
	if err != nil {
		return operation{}, err
	}
	url := c.BaseURL + "/foundationModels/v1/imageGenerationAsync"
	op, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return operation{}, err
	}
	if op.ID == "" {
		return operation{}, fmt.Errorf("yandexart: start returned no operation id")
	}
	return op, nil
}

func (c *Client) poll(ctx context.Context, id string) (operation, error) {
	return c.do(ctx, http.MethodGet, c.OperationsURL+"/operations/"+id, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (operation, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return operation{}, fmt.Errorf("yandexart: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return operation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return operation{}, fmt.Errorf("yandexart: %w", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return operation{}, fmt.Errorf("yandexart http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var op operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return operation{}, fmt.Errorf("yandexart: decode operation: %w", err)
	}
	return op, nil
}
