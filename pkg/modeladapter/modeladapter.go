package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/germanamz/modelrouter/pkg/chats/message"
)

// ErrASRNotConfigured is returned by transcribers that have no speech backend
// configured. Callers treat it as a silent skip rather than a failure.
var ErrASRNotConfigured = errors.New("asr_not_configured")

// Request describes one chat completion call.
type Request struct {
	Model       string
	Messages    []message.Message
	Temperature *float64 // nil means backend default.
	MaxTokens   int      // 0 means backend default.
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }

// Completer runs a non-streaming chat completion and returns the text of the
// first choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Streamer opens a streaming chat completion. A returned error means no
// stream was obtained; errors after that surface through Stream.Err.
type Streamer interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Backend is a chat completion service supporting both call styles.
type Backend interface {
	Completer
	Streamer
}

// Lister returns the raw model identifiers an upstream currently serves.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusError is an upstream failure with an HTTP status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// HTTPStatus implements StatusCoder.
func (e *StatusError) HTTPStatus() int { return e.Code }

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// HeaderValue returns the header name and value to send, or empty strings
// when no key is configured.
func (a Auth) HeaderValue() (string, string) {
	if a.Key == "" {
		return "", ""
	}

	header := a.Header
	if header == "" {
		header = "Authorization"
	}

	value := a.Key
	if header == "Authorization" {
		scheme := a.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}

		value = scheme + " " + value
	} else if a.Scheme != "" {
		value = a.Scheme + " " + value
	}

	return header, value
}

// ModelAdapter holds connection settings shared by provider implementations.
// Embed it in concrete provider structs.
type ModelAdapter struct {
	BaseURL     string            // API base URL (no trailing slash).
	Auth        Auth              // Authentication settings.
	Client      *http.Client      // HTTP client; falls back to a default with a 10-minute timeout.
	Headers     map[string]string // Extra headers applied to every request.
	Temperature float64           // Default sampling temperature for streamed turns.
	MaxTokens   int               // Default maximum tokens for streamed turns.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// HTTPClient returns the configured client or a cached default client.
func (a *ModelAdapter) HTTPClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// RequestHeaders returns auth and custom headers as an http.Header.
func (a *ModelAdapter) RequestHeaders() http.Header {
	h := make(http.Header)

	if name, value := a.Auth.HeaderValue(); name != "" {
		h.Set(name, value)
	}

	for k, v := range a.Headers {
		h.Set(k, v)
	}

	return h
}
