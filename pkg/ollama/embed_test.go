package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.5, -0.25, 1}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL+"/", "nomic-embed-text", 3)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != -0.25 {
		t.Fatalf("got %v", vec)
	}
	if c.Model() != "nomic-embed-text" || c.Dimensions() != 3 {
		t.Errorf("model=%s dims=%d", c.Model(), c.Dimensions())
	}
}

func TestEmbed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nomic\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := NewEmbedClient(srv.URL, "nomic", 3).Embed(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || !strings.Contains(apiErr.Message, "try pulling") {
		t.Fatalf("got %v", err)
	}
}

func TestEmbed_BadStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewEmbedClient(srv.URL, "m", 3).Embed(context.Background(), "x")
	if err == nil || err.Error() != "ollama: status 502" {
		t.Fatalf("got %v", err)
	}
}

func TestEmbed_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	if _, err := NewEmbedClient(srv.URL, "m", 3).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	if _, err := NewEmbedClient(srv.URL, "llama3", 3).Embed(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "empty embedding") {
		t.Fatalf("got %v", err)
	}
}

func TestEmbed_HTTPClientOption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "m", 3, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected client timeout")
	}
}

func TestEmbed_Unreachable(t *testing.T) {
	if _, err := NewEmbedClient("http://127.0.0.1:1", "m", 3).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
