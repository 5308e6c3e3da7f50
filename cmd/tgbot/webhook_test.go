package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/proffust/telegram-bot-serverless-yc/internal/convstore"
	"github.com/proffust/telegram-bot-serverless-yc/internal/dispatch"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
)

type stubDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, update *telegramclient.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validUpdateBody(userID int64) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"message_id":1,"chat":{"id":%d},"from":{"id":%d},"text":"hi"}}`, userID, userID)
}

func postUpdate(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		body       string
		dispatchEr error
		wantStatus int
	}{
		{"ok", validUpdateBody(1), nil, http.StatusOK},
		{"empty body", "", nil, http.StatusBadRequest},
		{"not json", "not json", nil, http.StatusBadRequest},
		{"not an update", `{"foo":"bar"}`, nil, http.StatusBadRequest},
		{"malformed update", validUpdateBody(2), dispatch.ErrMalformedUpdate, http.StatusBadRequest},
		{"store unavailable", validUpdateBody(3), fmt.Errorf("load: %w", convstore.ErrUnavailable), http.StatusInternalServerError},
		{"handler failure", validUpdateBody(4), errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newWebhookHandler(&stubDispatcher{err: tc.dispatchEr}, testLogger())
			rec := postUpdate(h, tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("got status %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

// An edit to an earlier message arrives as edited_message with no message
// field. The webhook must acknowledge it with 200 or Telegram redelivers
// the update forever.
func TestWebhookAcknowledgesNonMessageUpdates(t *testing.T) {
	t.Parallel()

	noop := func(ctx context.Context, req *dispatch.Request) error { return nil }
	router, err := dispatch.NewRouter(dispatch.Options{
		Text:    noop,
		Voice:   noop,
		Unknown: noop,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	h := newWebhookHandler(router, testLogger())

	body := `{"update_id":99,"edited_message":{"message_id":5,"chat":{"id":1},"from":{"id":1},"text":"edited"}}`
	rec := postUpdate(h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhookDoesNotDispatchUnparsableBodies(t *testing.T) {
	t.Parallel()

	d := &stubDispatcher{}
	h := newWebhookHandler(d, testLogger())
	postUpdate(h, "{{{")
	if d.calls != 0 {
		t.Fatalf("dispatch called %d times for unparsable body, want 0", d.calls)
	}
}

func TestWebhookThrottlesBursts(t *testing.T) {
	t.Parallel()

	d := &stubDispatcher{}
	h := newWebhookHandler(d, testLogger())

	var throttled int
	for i := 0; i < 10; i++ {
		rec := postUpdate(h, validUpdateBody(7))
		if rec.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled == 0 {
		t.Fatal("expected at least one throttled request in a burst of 10")
	}
	if d.calls == 0 {
		t.Fatal("expected at least one dispatched request before throttling")
	}
}

func TestSenderGateBoundsItsMap(t *testing.T) {
	t.Parallel()

	g := newSenderGate()
	for i := 0; i < 3*maxGateSenders; i++ {
		g.release(g.acquire(int64(i)))
	}
	if n := len(g.senders); n > maxGateSenders {
		t.Fatalf("gate holds %d senders, want at most %d", n, maxGateSenders)
	}
}

func TestSenderGateKeepsInflightSenders(t *testing.T) {
	t.Parallel()

	g := newSenderGate()
	held := g.acquire(7)

	// Flood the gate past its bound while sender 7 is still in flight.
	for i := 0; i < 2*maxGateSenders; i++ {
		g.release(g.acquire(int64(1000 + i)))
	}

	if again := g.acquire(7); again != held {
		t.Fatal("in-flight sender was evicted; serialization lost")
	}
	g.release(held)
	g.release(held)
}

func TestWebhookIsolatesSenderLimits(t *testing.T) {
	t.Parallel()

	d := &stubDispatcher{}
	h := newWebhookHandler(d, testLogger())

	// Exhaust one sender's burst, then a different sender must still pass.
	for i := 0; i < 10; i++ {
		postUpdate(h, validUpdateBody(100))
	}
	rec := postUpdate(h, validUpdateBody(200))
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh sender got status %d, want %d", rec.Code, http.StatusOK)
	}
}
