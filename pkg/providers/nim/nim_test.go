package nim_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/germanamz/modelrouter/pkg/chats/content"
	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/chats/role"
	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/germanamz/modelrouter/pkg/providers/nim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *nim.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return nim.New(srv.URL+"/v1", "test-key")
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}

	return req
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	for i, c := range chunks {
		fmt.Fprintf(w, "data: {\"id\":\"c%d\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
			"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", i, c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func completion(text string) map[string]any {
	return map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "m",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
	}
}

func TestComplete(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, []string{"Bearer test-key"}, r.Header.Values("Authorization"))

		req := readBody(t, r)
		assert.Equal(t, "nvidia/nemotron-parse", req["model"])
		assert.InDelta(t, 0.1, req["temperature"], 1e-9)
		assert.InDelta(t, 1400, req["max_tokens"], 0)
		assert.NotEqual(t, true, req["stream"])

		msgs, ok := req["messages"].([]any)
		assert.True(t, ok)
		assert.Len(t, msgs, 1)

		writeJSON(t, w, completion(`{"title":"T"}`))
	})

	out, err := client.Complete(context.Background(), modeladapter.Request{
		Model:       "nvidia/nemotron-parse",
		Messages:    []message.Message{message.NewText(role.User, "parse me")},
		Temperature: modeladapter.Float(0.1),
		MaxTokens:   1400,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"T"}`, out)
}

func TestComplete_ImagesAsContentParts(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)

		msgs, _ := req["messages"].([]any)
		if !assert.Len(t, msgs, 2) {
			return
		}

		sys, _ := msgs[0].(map[string]any)
		assert.Equal(t, "system", sys["role"])
		assert.Equal(t, "be brief", sys["content"])

		user, _ := msgs[1].(map[string]any)
		parts, _ := user["content"].([]any)
		if !assert.Len(t, parts, 2) {
			return
		}

		img, _ := parts[1].(map[string]any)
		assert.Equal(t, "image_url", img["type"])
		url, _ := img["image_url"].(map[string]any)
		assert.Equal(t, "data:image/png;base64,AQI=", url["url"])

		writeJSON(t, w, completion("text in image"))
	})

	out, err := client.Complete(context.Background(), modeladapter.Request{
		Model: "nvidia/ocdrnet",
		Messages: []message.Message{
			message.NewText(role.System, "be brief"),
			message.New(role.User,
				content.Text{Text: "Extract all readable text from the image. Return only the text."},
				content.Image{Data: []byte{1, 2}, MediaType: "image/png"},
			),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "text in image", out)
}

func TestComplete_EmptyChoices(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": "x", "object": "chat.completion", "choices": []any{}})
	})

	_, err := client.Complete(context.Background(), modeladapter.Request{Model: "m"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestStream(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		assert.Equal(t, true, req["stream"])
		assert.Equal(t, "meta/llama-3.3-70b-instruct", req["model"])
		assert.InDelta(t, 0.7, req["temperature"], 1e-9)

		writeSSE(w, "Hel", "lo")
	})
	client.Temperature = 0.7

	s, err := client.Stream(context.Background(), modeladapter.Request{
		Model:    "meta/llama-3.3-70b-instruct",
		Messages: []message.Message{message.NewText(role.User, "hi")},
	})
	require.NoError(t, err)

	out, err := modeladapter.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestStream_StatusErrorAtOpen(t *testing.T) {
	var calls atomic.Int32
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})

	s, err := client.Stream(context.Background(), modeladapter.Request{Model: "m"})

	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 503, modeladapter.StatusCode(err))
	assert.Equal(t, int32(1), calls.Load(), "the SDK must not retry on its own")

	var se *modeladapter.StatusError
	assert.True(t, errors.As(err, &se))
}

func TestStream_CloseAborts(t *testing.T) {
	release := make(chan struct{})
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	})
	defer close(release)

	s, err := client.Stream(context.Background(), modeladapter.Request{Model: "m"})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- s.Next() }()

	require.NoError(t, s.Close())

	select {
	case more := <-done:
		assert.False(t, more)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestListModels(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "meta/llama-3.3-70b-instruct", "object": "model", "created": 0, "owned_by": "meta"},
				{"id": "nvidia/nemotron-parse", "object": "model", "created": 0, "owned_by": "nvidia"},
			},
		})
	})

	ids, err := client.ListModels(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"meta/llama-3.3-70b-instruct", "nvidia/nemotron-parse"}, ids)
}

func TestListModels_Error(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	})

	_, err := client.ListModels(context.Background())

	require.Error(t, err)
	assert.Equal(t, 401, modeladapter.StatusCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "nim: list models"))
}

func TestTranscribe_NotConfigured(t *testing.T) {
	client := nim.New("http://127.0.0.1:1/v1", "k")

	res := client.Transcribe(context.Background(), attachment.Attachment{Name: "a.wav", Data: []byte("RIFF")})

	assert.ErrorIs(t, res.Err, modeladapter.ErrASRNotConfigured)
	assert.Empty(t, res.Text)
}

func TestTranscribe(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "nvidia/parakeet-ctc-1.1b-asr", r.FormValue("model"))

		_, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "note.wav", hdr.Filename)
		}

		writeJSON(t, w, map[string]any{"text": "remember the milk"})
	})
	client.ASRModel = "nvidia/parakeet-ctc-1.1b-asr"

	res := client.Transcribe(context.Background(), attachment.Attachment{
		Name: "note.wav", MimeType: "audio/wav", Type: attachment.TypeAudio, Data: []byte("RIFF...."),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "remember the milk", res.Text)
}

func TestNew_DefaultBaseURL(t *testing.T) {
	c := nim.New("", "k")

	assert.Equal(t, nim.DefaultBaseURL, c.BaseURL)
}

func TestComplete_CustomAuthHeader(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"Key secret"}, r.Header.Values("X-Api-Key"))
		assert.Equal(t, []string{"acme"}, r.Header.Values("X-Org"))

		writeJSON(t, w, completion("ok"))
	})
	client.Auth = modeladapter.Auth{Key: "secret", Header: "x-api-key", Scheme: "Key"}
	client.Headers = map[string]string{"X-Org": "acme"}

	out, err := client.Complete(context.Background(), modeladapter.Request{
		Model:    "m",
		Messages: []message.Message{message.NewText(role.User, "hi")},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
