// Package nim provides a Backend for OpenAI-compatible chat completion APIs,
// such as the NVIDIA NIM hosted endpoints, built on the official openai-go
// SDK. The same Client lists the served models and transcribes audio clips.
package nim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/germanamz/modelrouter/pkg/chats/content"
	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/chats/role"
	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/germanamz/modelrouter/pkg/turncontext"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultBaseURL is the NVIDIA hosted inference endpoint.
const DefaultBaseURL = "https://integrate.api.nvidia.com/v1"

var (
	_ modeladapter.Backend    = (*Client)(nil)
	_ modeladapter.Lister     = (*Client)(nil)
	_ turncontext.Transcriber = (*Client)(nil)
)

// Client talks to an OpenAI-compatible API.
type Client struct {
	modeladapter.ModelAdapter

	// ASRModel is the transcription model id. Empty disables transcription.
	ASRModel string

	once sync.Once
	api  openai.Client
}

// New creates a Client for baseURL authenticated with apiKey. Settings on the
// embedded ModelAdapter may be changed until the first request.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{}
	c.ModelAdapter = modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey}, nil)

	return c
}

func (c *Client) sdk() *openai.Client {
	c.once.Do(func() {
		opts := []option.RequestOption{
			option.WithBaseURL(c.BaseURL),
			option.WithHTTPClient(c.HTTPClient()),
			// Retries belong to the dispatch loop.
			option.WithMaxRetries(0),
		}

		// Auth travels in the adapter headers so custom header names work.
		for name, values := range c.RequestHeaders() {
			for _, v := range values {
				opts = append(opts, option.WithHeader(name, v))
			}
		}

		c.api = openai.NewClient(opts...)
	})

	return &c.api
}

// Complete runs a non-streaming chat completion and returns the text of the
// first choice.
func (c *Client) Complete(ctx context.Context, req modeladapter.Request) (string, error) {
	completion, err := c.sdk().Chat.Completions.New(ctx, c.params(req, false))
	if err != nil {
		return "", fmt.Errorf("nim: complete %s: %w", req.Model, mapError(err))
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("nim: complete %s: empty choices in response", req.Model)
	}

	return completion.Choices[0].Message.Content, nil
}

// Stream opens a streaming chat completion. HTTP failures are reported here,
// before any delta is read.
func (c *Client) Stream(ctx context.Context, req modeladapter.Request) (modeladapter.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	s := c.sdk().Chat.Completions.NewStreaming(ctx, c.params(req, true))
	if err := s.Err(); err != nil {
		_ = s.Close()
		cancel()
		return nil, fmt.Errorf("nim: stream %s: %w", req.Model, mapError(err))
	}

	return &stream{s: s, cancel: cancel}, nil
}

// ListModels returns the ids of the models served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.sdk().Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("nim: list models: %w", mapError(err))
	}

	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}

	return ids, nil
}

// Transcribe converts an audio attachment to text. Without an ASR model it
// reports modeladapter.ErrASRNotConfigured.
func (c *Client) Transcribe(ctx context.Context, a attachment.Attachment) turncontext.Transcript {
	if c.ASRModel == "" {
		return turncontext.Transcript{Err: modeladapter.ErrASRNotConfigured}
	}

	name := a.Name
	if name == "" {
		name = "audio." + a.Extension()
	}

	res, err := c.sdk().Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(a.Data), name, a.MimeType),
		Model: openai.AudioModel(c.ASRModel),
	})
	if err != nil {
		return turncontext.Transcript{Err: fmt.Errorf("nim: transcribe %s: %w", name, mapError(err))}
	}

	return turncontext.Transcript{Text: res.Text}
}

func (c *Client) params(req modeladapter.Request, streaming bool) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
	}

	switch {
	case req.Temperature != nil:
		p.Temperature = openai.Float(*req.Temperature)
	case streaming && c.Temperature != 0:
		p.Temperature = openai.Float(c.Temperature)
	}

	switch {
	case req.MaxTokens > 0:
		p.MaxTokens = openai.Int(int64(req.MaxTokens))
	case streaming && c.MaxTokens > 0:
		p.MaxTokens = openai.Int(int64(c.MaxTokens))
	}

	return p
}

func convertMessages(msgs []message.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case role.System:
			out = append(out, openai.SystemMessage(m.TextContent()))
		case role.Assistant:
			out = append(out, openai.AssistantMessage(m.TextContent()))
		case role.User:
			if !m.HasImages() {
				out = append(out, openai.UserMessage(m.TextContent()))
				continue
			}

			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch v := p.(type) {
				case content.Text:
					parts = append(parts, openai.TextContentPart(v.Text))
				case content.Image:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: v.DataURL(),
					}))
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}

	return out
}

// mapError converts SDK API errors into modeladapter.StatusError so callers
// can classify them without importing the SDK.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}

	return &modeladapter.StatusError{Code: apiErr.StatusCode, Message: msg}
}

// stream adapts an SDK chunk stream to modeladapter.Stream.
type stream struct {
	s      *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc

	mu  sync.Mutex
	cur modeladapter.Delta
}

func (s *stream) Next() bool {
	for s.s.Next() {
		chunk := s.s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		s.mu.Lock()
		s.cur = modeladapter.Delta{Content: choice.Delta.Content, FinishReason: choice.FinishReason}
		s.mu.Unlock()
		return true
	}
	return false
}

func (s *stream) Current() modeladapter.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *stream) Err() error {
	err := s.s.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("nim: stream: %w", mapError(err))
}

// Close aborts the request and releases the connection.
func (s *stream) Close() error {
	s.cancel()
	return s.s.Close()
}
