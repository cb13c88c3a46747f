package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/google/uuid"
)

// loadAttachment reads path into an Attachment. The MIME type comes from the
// extension, falling back to content sniffing.
func loadAttachment(path string) (attachment.Attachment, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an explicit CLI argument
	if err != nil {
		return attachment.Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}

	name := filepath.Base(path)
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		mt = mimetype.Detect(data).String()
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	return attachment.Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mt,
		Type:     declaredType(mt),
		Data:     data,
	}, nil
}

func declaredType(mimeType string) attachment.Type {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return attachment.TypeImage
	case strings.HasPrefix(mimeType, "audio/"):
		return attachment.TypeAudio
	}
	return attachment.TypeFile
}
