package docextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
)

// maxPartBytes caps how much of a single XML part is read.
const maxPartBytes = 64 << 20

// textRules describe where text lives in a family of XML parts.
type textRules struct {
	// runs are elements whose character data is text. When empty, all
	// character data inside a paragraph counts.
	runs   []string
	paras  []string
	tabs   []string
	breaks []string
	spaces []string
}

var (
	wordRules = textRules{
		runs:   []string{"t"},
		paras:  []string{"p"},
		tabs:   []string{"tab"},
		breaks: []string{"br", "cr"},
	}
	slideRules = textRules{
		runs:   []string{"t"},
		paras:  []string{"p"},
		breaks: []string{"br"},
	}
	sheetStringRules = textRules{
		runs:  []string{"t"},
		paras: []string{"si"},
	}
	odfRules = textRules{
		paras:  []string{"p", "h"},
		tabs:   []string{"tab"},
		breaks: []string{"line-break"},
		spaces: []string{"s"},
	}
)

// OfficeText returns the text of an Office Open XML or OpenDocument file.
func OfficeText(format string, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docextract: open %s: %w", format, err)
	}

	var (
		parts []*zip.File
		rules textRules
	)

	switch format {
	case "docx":
		parts, rules = matchParts(zr, func(n string) bool { return n == "word/document.xml" }), wordRules
	case "pptx":
		parts, rules = matchParts(zr, isSlide), slideRules
	case "xlsx":
		parts, rules = matchParts(zr, func(n string) bool { return n == "xl/sharedStrings.xml" }), sheetStringRules
	case "odt", "odp", "ods":
		parts, rules = matchParts(zr, func(n string) bool { return n == "content.xml" }), odfRules
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, format)
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("docextract: %s: no text parts found", format)
	}

	var out []string
	for _, f := range parts {
		text, err := partText(f, rules)
		if err != nil {
			return "", fmt.Errorf("docextract: %s: %s: %w", format, f.Name, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			out = append(out, t)
		}
	}

	return strings.Join(out, "\n\n"), nil
}

// matchParts returns the archive members accepted by keep, slides in
// presentation order.
func matchParts(zr *zip.Reader, keep func(string) bool) []*zip.File {
	var out []*zip.File
	for _, f := range zr.File {
		if keep(f.Name) {
			out = append(out, f)
		}
	}

	slices.SortFunc(out, func(a, b *zip.File) int { return partNumber(a.Name) - partNumber(b.Name) })

	return out
}

func isSlide(name string) bool {
	dir, file := path.Split(name)
	return dir == "ppt/slides/" && strings.HasPrefix(file, "slide") && strings.HasSuffix(file, ".xml")
}

// partNumber returns N of ".../slideN.xml", or 0.
func partNumber(name string) int {
	base := strings.TrimSuffix(path.Base(name), ".xml")
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	n, _ := strconv.Atoi(base[i:])
	return n
}

func partText(f *zip.File, rules textRules) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return xmlText(io.LimitReader(rc, maxPartBytes), rules)
}

// xmlText walks an XML document and collects its text according to rules.
// Paragraphs end with a newline.
func xmlText(r io.Reader, rules textRules) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		inRun  int
		inPara int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case slices.Contains(rules.paras, name):
				inPara++
			case slices.Contains(rules.runs, name):
				inRun++
			case slices.Contains(rules.tabs, name):
				b.WriteByte('\t')
			case slices.Contains(rules.breaks, name):
				b.WriteByte('\n')
			case slices.Contains(rules.spaces, name):
				b.WriteString(strings.Repeat(" ", spaceCount(t)))
			}

		case xml.EndElement:
			name := t.Name.Local
			switch {
			case slices.Contains(rules.paras, name):
				inPara--
				if inPara == 0 {
					b.WriteByte('\n')
				}
			case slices.Contains(rules.runs, name):
				inRun--
			}

		case xml.CharData:
			if inRun > 0 || (len(rules.runs) == 0 && inPara > 0) {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

// spaceCount reads the text:c attribute of an ODF <text:s> element.
func spaceCount(el xml.StartElement) int {
	for _, a := range el.Attr {
		if a.Name.Local == "c" {
			if n, err := strconv.Atoi(a.Value); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}
