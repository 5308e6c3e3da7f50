package speechkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
)

func TestRecognize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech/v1/stt:recognize" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("topic") != "general" || q.Get("lang") != "ru-RU" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"привет мир"}`))
	}))
	defer srv.Close()

	rec := NewRecognizer(srv.URL, iamtoken.Static("iam"), "folder")
	rec.HTTP = srv.Client()

	text, err := rec.Recognize(context.Background(), []byte("OggS..."))
	if err != nil {
		t.Fatal(err)
	}
	if text != "привет мир" {
		t.Fatalf("text = %q", text)
	}
}

func TestRecognizeEmptyResultIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":""}`))
	}))
	defer srv.Close()

	rec := NewRecognizer(srv.URL, iamtoken.Static("iam"), "folder")
	rec.HTTP = srv.Client()

	if _, err := rec.Recognize(context.Background(), []byte("OggS...")); err == nil {
		t.Fatal("expected error for empty recognition")
	}
}

func TestRecognizeServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error_code":"BAD_REQUEST","message":"audio too long"}`))
	}))
	defer srv.Close()

	rec := NewRecognizer(srv.URL, iamtoken.Static("iam"), "folder")
	rec.HTTP = srv.Client()

	_, err := rec.Recognize(context.Background(), []byte("OggS..."))
	if err == nil || !strings.Contains(err.Error(), "audio too long") {
		t.Fatalf("err = %v", err)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech/v1/tts:synthesize" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("format") != "oggopus" || r.PostForm.Get("text") == "" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("OggS\x00fake-audio"))
	}))
	defer srv.Close()

	syn := NewSynthesizer(srv.URL, iamtoken.Static("iam"), "folder")
	syn.HTTP = srv.Client()

	audio, err := syn.Synthesize(context.Background(), "ответ")
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) == 0 {
		t.Fatal("empty audio")
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer("http://unused", iamtoken.Static("iam"), "folder")
	if _, err := syn.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error")
	}
}
