package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/proffust/telegram-bot-serverless-yc/internal/convstore"
	"github.com/proffust/telegram-bot-serverless-yc/internal/dispatch"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
)

const maxWebhookBody = 1 << 20

type dispatcher interface {
	Dispatch(ctx context.Context, update *telegramclient.Update) error
}

const (
	maxGateSenders = 4096
	gateIdleAfter  = 10 * time.Minute
)

// senderGate serializes processing per sender and throttles bursts.
// Telegram may deliver a user's next update before the previous one
// finished; the mutex keeps each user's read-modify-write cycle whole.
// The map is bounded: once it reaches maxGateSenders, senders with no
// in-flight update are evicted on the next acquire. Evicting a sender
// resets their burst allowance, which only ever relaxes throttling.
type senderGate struct {
	mu      sync.Mutex
	senders map[int64]*senderState
}

type senderState struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	inflight int
	lastSeen time.Time
}

func newSenderGate() *senderGate {
	return &senderGate{senders: make(map[int64]*senderState)}
}

func (g *senderGate) acquire(userID int64) *senderState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.senders[userID]
	if !ok {
		if len(g.senders) >= maxGateSenders {
			g.evictLocked()
		}
		st = &senderState{limiter: rate.NewLimiter(rate.Limit(1), 3)}
		g.senders[userID] = st
	}
	st.inflight++
	st.lastSeen = time.Now()
	return st
}

func (g *senderGate) release(st *senderState) {
	g.mu.Lock()
	st.inflight--
	g.mu.Unlock()
}

// evictLocked first drops senders idle long enough for their burst to have
// refilled anyway, then if the map is still full drops any sender without
// an in-flight update. A held sender mutex is never evicted.
func (g *senderGate) evictLocked() {
	cutoff := time.Now().Add(-gateIdleAfter)
	for id, st := range g.senders {
		if st.inflight == 0 && st.lastSeen.Before(cutoff) {
			delete(g.senders, id)
		}
	}
	if len(g.senders) < maxGateSenders {
		return
	}
	for id, st := range g.senders {
		if st.inflight == 0 {
			delete(g.senders, id)
		}
	}
}

type webhookHandler struct {
	router dispatcher
	gate   *senderGate
	logger *slog.Logger
}

func newWebhookHandler(router dispatcher, logger *slog.Logger) *webhookHandler {
	return &webhookHandler{
		router: router,
		gate:   newSenderGate(),
		logger: logger,
	}
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	update, err := telegramclient.ParseUpdate(body)
	if err != nil {
		h.logger.Warn("webhook_bad_body", "error", err.Error())
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	if update.Message != nil && update.Message.From != nil {
		st := h.gate.acquire(update.Message.From.ID)
		defer h.gate.release(st)
		if !st.limiter.Allow() {
			h.logger.Warn("webhook_throttled", "user_id", update.Message.From.ID)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
	}

	switch err := h.router.Dispatch(r.Context(), update); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, dispatch.ErrMalformedUpdate):
		http.Error(w, "bad update", http.StatusBadRequest)
	case errors.Is(err, convstore.ErrUnavailable):
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
