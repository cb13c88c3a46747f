// Package chats provides the provider-agnostic data model for a routed turn.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/modelrouter/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/germanamz/modelrouter/pkg/chats/content]: content parts (text, inline image)
//   - [github.com/germanamz/modelrouter/pkg/chats/message]: messages composed of a role and content parts
//   - [github.com/germanamz/modelrouter/pkg/chats/chat]: ordered conversation with copy-on-write edits
//
// No provider or API code is included; adapters translate these types to
// their wire formats.
package chats
