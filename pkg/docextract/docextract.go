// Package docextract extracts plain text from document attachments: PDF via
// MuPDF (go-fitz), Office Open XML (docx, pptx, xlsx) and OpenDocument (odt,
// odp, ods) by reading the text runs of their XML parts.
package docextract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/germanamz/modelrouter/pkg/turncontext"
)

var _ turncontext.Extractor = (*Extractor)(nil)

var (
	// ErrInvalidBuffer is returned for attachments without a payload.
	ErrInvalidBuffer = errors.New("invalid_buffer")
	// ErrUnsupported is returned for formats the extractor cannot read.
	ErrUnsupported = errors.New("docextract: unsupported document format")
)

// Extractor implements turncontext.Extractor.
type Extractor struct {
	log *slog.Logger
}

// New creates an Extractor. A nil logger discards output.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{log: logger}
}

// Extract returns the trimmed text of a. Failures are reported in
// Extraction.Err with empty text.
func (e *Extractor) Extract(ctx context.Context, a attachment.Attachment) turncontext.Extraction {
	if err := ctx.Err(); err != nil {
		return turncontext.Extraction{Err: err}
	}

	if len(a.Data) == 0 {
		return turncontext.Extraction{Err: ErrInvalidBuffer}
	}

	format := Format(a)

	text, err := extract(format, a.Data)
	if err != nil {
		e.log.ErrorContext(ctx, "docextract: extraction failed", "name", a.Name, "format", format, "error", err)
		return turncontext.Extraction{Err: err}
	}

	e.log.DebugContext(ctx, "docextract: extracted", "name", a.Name, "format", format, "chars", len(text))

	return turncontext.Extraction{Text: strings.TrimSpace(text)}
}

var mimeFormats = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.oasis.opendocument.text":                                   "odt",
	"application/vnd.oasis.opendocument.presentation":                           "odp",
	"application/vnd.oasis.opendocument.spreadsheet":                            "ods",
}

// Format returns the document format of a, taken from its mime type, then
// its file extension, then the sniffed content type.
func Format(a attachment.Attachment) string {
	if f, ok := mimeFormats[strings.ToLower(a.MimeType)]; ok {
		return f
	}

	ext := a.Extension()
	if knownFormat(ext) || len(a.Data) == 0 {
		return ext
	}

	if f, ok := mimeFormats[mimetype.Detect(a.Data).String()]; ok {
		return f
	}
	return ext
}

func knownFormat(ext string) bool {
	for _, f := range mimeFormats {
		if f == ext {
			return true
		}
	}
	return false
}

func extract(format string, data []byte) (string, error) {
	switch format {
	case "pdf":
		return PDFText(data)
	case "docx", "pptx", "xlsx", "odt", "odp", "ods":
		return OfficeText(format, data)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, format)
}

// PDFText returns the text of every page of a PDF, pages separated by a
// blank line.
func PDFText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("docextract: open pdf: %w", err)
	}
	defer func() {
		_ = doc.Close()
	}()

	pages := make([]string, 0, doc.NumPage())
	for i := range doc.NumPage() {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("docextract: pdf page %d: %w", i+1, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			pages = append(pages, t)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}
