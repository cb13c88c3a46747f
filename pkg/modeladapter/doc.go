// Package modeladapter defines the contracts between the router core and the
// LLM backends it drives.
//
// It contains:
//   - [Completer] and [Streamer], the non-streaming and streaming chat
//     completion calls, and [Lister] for model discovery
//   - [Stream], a pull-based token sequence with an explicit abort hook
//   - [StatusError], the error shape carrying an upstream HTTP status
//   - [ModelAdapter], the embeddable connection settings shared by providers
//   - [RateLimitedBackend], proactive requests-per-minute throttling
//
// This package contains no provider-specific code; concrete backends live in
// separate packages that import modeladapter.
package modeladapter
