package iamtoken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticToken(t *testing.T) {
	t.Parallel()

	token, err := Static("t1.9eu...").Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "t1.9eu..." {
		t.Fatalf("token = %q", token)
	}

	if _, err := Static("  ").Token(context.Background()); err == nil {
		t.Fatal("expected error for empty static token")
	}
}

func TestMetadataTokenCached(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata-Flavor") != "Google" {
			http.Error(w, "missing flavor header", http.StatusForbidden)
			return
		}
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	provider := NewMetadata(srv.Client(), srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		token, err := provider.Token(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if token != "tok-1" {
			t.Fatalf("token = %q", token)
		}
	}
	if requests != 1 {
		t.Fatalf("metadata hit %d times, want 1", requests)
	}
}

func TestMetadataTokenHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no service account", http.StatusNotFound)
	}))
	defer srv.Close()

	provider := NewMetadata(srv.Client(), srv.URL)
	if _, err := provider.Token(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
