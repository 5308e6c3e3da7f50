package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
)

type recorded struct {
	name string
	req  *Request
}

func testRouter(t *testing.T, calls *[]recorded) *Router {
	t.Helper()
	record := func(name string) Handler {
		return func(_ context.Context, req *Request) error {
			*calls = append(*calls, recorded{name: name, req: req})
			return nil
		}
	}
	router, err := NewRouter(Options{
		Commands: map[string]Handler{
			"/start":     record("start"),
			"/set_model": record("set_model"),
		},
		Text:    record("text"),
		Voice:   record("voice"),
		Photo:   record("photo"),
		Unknown: record("unknown"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return router
}

func message(text string) *telegramclient.Message {
	return &telegramclient.Message{
		MessageID: 1,
		Chat:      &telegramclient.Chat{ID: 10, Type: "private"},
		From:      &telegramclient.User{ID: 20},
		Text:      text,
	}
}

func TestDispatchRoutesExactlyOneHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      *telegramclient.Message
		want     string
		wantArgs string
	}{
		{
			name: "known_command",
			msg:  message("/start"),
			want: "start",
		},
		{
			name:     "command_with_args",
			msg:      message("/set_model yandexgpt-lite"),
			want:     "set_model",
			wantArgs: "yandexgpt-lite",
		},
		{
			name: "command_with_bot_suffix",
			msg:  message("/START@MyBot"),
			want: "start",
		},
		{
			name: "unknown_command",
			msg:  message("/frobnicate"),
			want: "unknown",
		},
		{
			name: "plain_text",
			msg:  message("hello there"),
			want: "text",
		},
		{
			name: "voice",
			msg: func() *telegramclient.Message {
				m := message("")
				m.Voice = &telegramclient.Voice{FileID: "v1"}
				return m
			}(),
			want: "voice",
		},
		{
			name: "audio_routes_to_voice",
			msg: func() *telegramclient.Message {
				m := message("")
				m.Audio = &telegramclient.Audio{FileID: "a1"}
				return m
			}(),
			want: "voice",
		},
		{
			name: "photo",
			msg: func() *telegramclient.Message {
				m := message("")
				m.Photo = []telegramclient.PhotoSize{{FileID: "p1"}}
				return m
			}(),
			want: "photo",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls []recorded
			router := testRouter(t, &calls)

			err := router.Dispatch(context.Background(), &telegramclient.Update{UpdateID: 5, Message: tt.msg})
			if err != nil {
				t.Fatal(err)
			}
			if len(calls) != 1 {
				t.Fatalf("dispatched %d handlers, want 1", len(calls))
			}
			if calls[0].name != tt.want {
				t.Fatalf("handler = %q, want %q", calls[0].name, tt.want)
			}
			if calls[0].req.Args != tt.wantArgs {
				t.Fatalf("args = %q, want %q", calls[0].req.Args, tt.wantArgs)
			}
			if calls[0].req.CorrelationID == "" {
				t.Fatal("missing correlation id")
			}
		})
	}
}

func TestDispatchMalformedUpdate(t *testing.T) {
	t.Parallel()

	var calls []recorded
	router := testRouter(t, &calls)
	ctx := context.Background()

	if err := router.Dispatch(ctx, nil); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if err := router.Dispatch(ctx, &telegramclient.Update{}); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	noChat := &telegramclient.Update{UpdateID: 1, Message: &telegramclient.Message{Text: "hi"}}
	if err := router.Dispatch(ctx, noChat); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if len(calls) != 0 {
		t.Fatalf("handlers ran for malformed updates: %#v", calls)
	}
}

// Edited messages, channel posts and other non-message updates decode to an
// Update with an id but no message. They must be acknowledged, not rejected,
// or Telegram keeps redelivering them.
func TestDispatchIgnoresUpdatesWithoutMessage(t *testing.T) {
	t.Parallel()

	var calls []recorded
	router := testRouter(t, &calls)

	if err := router.Dispatch(context.Background(), &telegramclient.Update{UpdateID: 99}); err != nil {
		t.Fatalf("messageless update returned %v, want nil", err)
	}
	if len(calls) != 0 {
		t.Fatalf("handlers ran: %#v", calls)
	}
}

func TestDispatchEmptyMessageIsNoOp(t *testing.T) {
	t.Parallel()

	var calls []recorded
	router := testRouter(t, &calls)

	err := router.Dispatch(context.Background(), &telegramclient.Update{UpdateID: 2, Message: message("")})
	if err != nil {
		t.Fatalf("no-op dispatch returned %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("handlers ran: %#v", calls)
	}
}
