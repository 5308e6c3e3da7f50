package yandexart

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
)

func newTestClient(srv *httptest.Server) *Client {
	client := New(srv.URL, srv.URL, iamtoken.Static("iam"), "folder")
	client.HTTP = srv.Client()
	client.PollInterval = time.Millisecond
	client.PollTimeout = time.Second
	return client
}

func TestGeneratePollsUntilDone(t *testing.T) {
	t.Parallel()

	image := []byte{0x89, 'P', 'N', 'G'}
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/foundationModels/v1/imageGenerationAsync", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelURI string `json:"modelUri"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ModelURI != "art://folder/yandex-art" {
			http.Error(w, "bad model uri "+req.ModelURI, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"op-1","done":false}`))
	})
	mux.HandleFunc("/operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			_, _ = w.Write([]byte(`{"id":"op-1","done":false}`))
			return
		}
		fmt.Fprintf(w, `{"id":"op-1","done":true,"response":{"image":%q}}`,
			base64.StdEncoding.EncodeToString(image))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestClient(srv).Generate(context.Background(), "a cat")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(image) {
		t.Fatalf("image = %v", got)
	}
	if polls < 2 {
		t.Fatalf("polls = %d, want >= 2", polls)
	}
}

func TestGenerateOperationError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/foundationModels/v1/imageGenerationAsync", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"op-2","done":false}`))
	})
	mux.HandleFunc("/operations/op-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"op-2","done":true,"error":{"code":3,"message":"prompt rejected"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := newTestClient(srv).Generate(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	t.Parallel()

	client := New("http://unused", "http://unused", iamtoken.Static("iam"), "folder")
	if _, err := client.Generate(context.Background(), "  "); err == nil {
		t.Fatal("expected error")
	}
}
