// Package convstore persists one conversation record per user. The record is
// a JSON object {"model": ..., "messages": [...]} stored under the decimal
// string form of the user id, the same format the original bucket layout
// uses, so an existing bucket keeps working.
package convstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/proffust/telegram-bot-serverless-yc/llm"
)

// ErrUnavailable wraps every backing-store I/O failure. Callers must not
// assume retries happen beneath this layer.
var ErrUnavailable = errors.New("convstore: store unavailable")

type Record struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

func NewRecord(model string) Record {
	return Record{Model: model, Messages: []llm.Message{}}
}

func (r Record) Clone() Record {
	out := Record{Model: r.Model, Messages: make([]llm.Message, len(r.Messages))}
	copy(out.Messages, r.Messages)
	return out
}

// Store is keyed by user id. GetOrCreate on a never-seen id persists the
// default record exactly once and returns it; Save overwrites, last write
// wins.
type Store interface {
	GetOrCreate(ctx context.Context, userID int64) (Record, error)
	Save(ctx context.Context, userID int64, rec Record) error
}

func storageKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func normalize(rec Record, defaultModel string) Record {
	if rec.Model == "" {
		rec.Model = defaultModel
	}
	if rec.Messages == nil {
		rec.Messages = []llm.Message{}
	}
	return rec
}
