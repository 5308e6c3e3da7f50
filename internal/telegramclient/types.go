package telegramclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Update is the webhook wire format (subset used by this bot).
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`

	Voice *Voice      `json:"voice,omitempty"`
	Audio *Audio      `json:"audio,omitempty"`
	Photo []PhotoSize `json:"photo,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"` // private|group|supergroup|channel
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type Audio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type File struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// ParseUpdate decodes a webhook body. A body that is not JSON, or that does
// not look like an update at all, is rejected here so the caller can report
// a malformed payload instead of dispatching garbage.
func ParseUpdate(body []byte) (*Update, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("telegram: empty update body")
	}
	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}
	if upd.UpdateID == 0 && upd.Message == nil {
		return nil, fmt.Errorf("telegram: body is not an update")
	}
	return &upd, nil
}
