// Package content defines the content parts carried by routed messages.
package content

import "encoding/base64"

// Part is a piece of content within a message.
// External packages can implement this interface to add custom content types.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return "text" }

// Image is an image content part, referenced by URL or embedded as raw bytes.
type Image struct {
	URL       string
	Data      []byte
	MediaType string
}

func (i Image) PartKind() string { return "image" }

// DataURL returns the URL when set, otherwise the bytes encoded as a
// base64 data URL.
func (i Image) DataURL() string {
	if i.URL != "" {
		return i.URL
	}

	return "data:" + i.MediaType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
