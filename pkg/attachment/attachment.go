// Package attachment defines turn attachments, their classification into
// images, audio clips and documents, and the per-turn admission limits.
package attachment

import (
	"path"
	"strings"

	"github.com/germanamz/modelrouter/pkg/chats/content"
)

const (
	// MaxCount is the maximum number of attachments processed per turn.
	MaxCount = 6
	// MaxBytes is the maximum size of a single attachment.
	MaxBytes = 25 * 1024 * 1024
)

// Type is the coarse type declared by the client.
type Type string

const (
	TypeImage Type = "image"
	TypeAudio Type = "audio"
	TypeFile  Type = "file"
)

// Kind is the category an attachment is classified into.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindAudio
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindDocument:
		return "document"
	}
	return "other"
}

// Attachment is a file sent along with a user turn.
type Attachment struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
	Type     Type
	Data     []byte
}

var documentExtensions = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"pptx": {},
	"xlsx": {},
	"odt":  {},
	"odp":  {},
	"ods":  {},
}

var documentMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.oasis.opendocument.text":                                   {},
	"application/vnd.oasis.opendocument.presentation":                           {},
	"application/vnd.oasis.opendocument.spreadsheet":                            {},
}

// Extension returns the lower-cased file extension of the attachment name
// without the leading dot, or "" when the name has none.
func (a Attachment) Extension() string {
	ext := path.Ext(strings.ToLower(a.Name))
	return strings.TrimPrefix(ext, ".")
}

// IsImage reports whether a is an image with a payload.
func IsImage(a Attachment) bool {
	return hasMedia(a, TypeImage, "image/")
}

// IsAudio reports whether a is an audio clip with a payload.
func IsAudio(a Attachment) bool {
	return hasMedia(a, TypeAudio, "audio/")
}

// IsDocument reports whether a is a supported office or PDF document with a
// payload, judged by mime type or file extension.
func IsDocument(a Attachment) bool {
	if len(a.Data) == 0 {
		return false
	}
	if _, ok := documentMimeTypes[strings.ToLower(a.MimeType)]; ok {
		return true
	}
	_, ok := documentExtensions[a.Extension()]
	return ok
}

// Classify returns the single category of a. Images win over audio and audio
// over documents, so every attachment lands in exactly one bucket.
func Classify(a Attachment) Kind {
	switch {
	case IsImage(a):
		return KindImage
	case IsAudio(a):
		return KindAudio
	case IsDocument(a):
		return KindDocument
	}
	return KindOther
}

// Sanitize drops attachments without payload or larger than MaxBytes and
// keeps at most MaxCount of the remainder, preserving order. A zero Size is
// treated as unknown and checked against the payload length.
func Sanitize(in []Attachment) []Attachment {
	out := make([]Attachment, 0, min(len(in), MaxCount))
	for _, a := range in {
		if len(out) == MaxCount {
			break
		}
		if len(a.Data) == 0 {
			continue
		}
		size := a.Size
		if size == 0 {
			size = int64(len(a.Data))
		}
		if size > MaxBytes {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Filter returns the attachments of the given kind.
func Filter(in []Attachment, k Kind) []Attachment {
	var out []Attachment
	for _, a := range in {
		if Classify(a) == k {
			out = append(out, a)
		}
	}
	return out
}

// Images converts image attachments into inline image parts.
func Images(in []Attachment) []content.Image {
	var out []content.Image
	for _, a := range in {
		if Classify(a) != KindImage {
			continue
		}
		mt := a.MimeType
		if mt == "" {
			mt = "image/" + a.Extension()
		}
		out = append(out, content.Image{Data: a.Data, MediaType: mt})
	}
	return out
}

// Counts summarizes a set of attachments by kind.
type Counts struct {
	Total     int `json:"total"`
	Images    int `json:"images"`
	Audio     int `json:"audio"`
	Documents int `json:"documents"`
}

// Count tallies in by kind.
func Count(in []Attachment) Counts {
	c := Counts{Total: len(in)}
	for _, a := range in {
		switch Classify(a) {
		case KindImage:
			c.Images++
		case KindAudio:
			c.Audio++
		case KindDocument:
			c.Documents++
		}
	}
	return c
}

func hasMedia(a Attachment, t Type, mimePrefix string) bool {
	if len(a.Data) == 0 {
		return false
	}
	return Type(strings.ToLower(string(a.Type))) == t ||
		strings.HasPrefix(strings.ToLower(a.MimeType), mimePrefix)
}
