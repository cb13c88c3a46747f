// Package providers groups the concrete inference backends.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/modelrouter/pkg/providers/nim]: OpenAI-compatible endpoints such as NVIDIA NIM: chat completions, model listing, audio transcription
//
// The interfaces they satisfy live in
// [github.com/germanamz/modelrouter/pkg/modeladapter]; this package contains
// no code of its own.
package providers
