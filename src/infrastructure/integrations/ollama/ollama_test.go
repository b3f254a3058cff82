package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/rag"
)

func TestEmbedderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		fmt.Fprint(w, `{"embedding":[0.5,-1,2]}`)
	}))
	defer srv.Close()

	e := NewEmbedder(NewClient(srv.URL+"/api", srv.Client()), "mxbai-embed-large", time.Second)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, vec)
}

func TestEmbedderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"empty vector", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"embedding":[]}`) }},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"embedding":`) }},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewEmbedder(NewClient(srv.URL, srv.Client()), "m", 0).Embed(context.Background(), "x")
			assert.ErrorIs(t, err, rag.ErrEmbedding)
		})
	}
}

func TestGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `{"response":", world","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	g := NewGenerator(NewClient(srv.URL, srv.Client()), "llama3", nil, time.Second)
	out, err := g.Generate(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)
}

func TestGeneratorTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","truncated":true}`)
	}))
	defer srv.Close()

	_, err := NewGenerator(NewClient(srv.URL, srv.Client()), "m", nil, 0).Generate(context.Background(), "p")
	var truncated *ErrTruncated
	assert.True(t, errors.As(err, &truncated))
}

func TestGeneratorEmptyStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	_, err := NewGenerator(NewClient(srv.URL, srv.Client()), "m", nil, 0).Generate(context.Background(), "p")
	assert.Error(t, err)
}

func TestGeneratorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewGenerator(NewClient(srv.URL, srv.Client()), "m", nil, 50*time.Millisecond).Generate(context.Background(), "p")
	assert.Error(t, err)
}
