package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/becomeliminal/nim-companion/memory/embedder/openai"
)

func TestEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["model"] != "text-embedding-3-small" || body["input"] != "hello" || body["dimensions"] != float64(3) {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"index":0,"embedding":[0.1,-0.2,0.3]}]}`))
	}))
	defer srv.Close()

	emb, err := openai.New(openai.Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != float32(0.1) || vec[1] != float32(-0.2) {
		t.Fatalf("unexpected vector %v", vec)
	}
	if emb.Dimensions() != 3 {
		t.Fatalf("unexpected dimensions %d", emb.Dimensions())
	}
}

func TestEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	emb, _ := openai.New(openai.Config{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := emb.Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestEmbedder_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	emb, _ := openai.New(openai.Config{APIKey: "sk-test", BaseURL: srv.URL})
	if _, err := emb.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := openai.New(openai.Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
