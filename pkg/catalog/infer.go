package catalog

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Role names a configured purpose a model is recommended for.
type Role string

// Recommended-role labels.
const (
	RoleChatDefault Role = "chat_default"
	RoleHardTask    Role = "hard_task"
	RoleVision      Role = "vision"
	RoleMultimodal  Role = "multimodal"
	RoleDocParse    Role = "doc_parse"
	RoleOCR         Role = "ocr"
	RoleSafety      Role = "safety"
	RoleEmbedding   Role = "embedding"
	RoleRerank      Role = "rerank"
)

// Blueprint holds the configured role ids used for identity matches during
// capability inference, plus the filtering inputs of the registry.
type Blueprint struct {
	ChatDefault string
	HardTask    []string
	Vision      string
	Multimodal  string
	DocParse    string
	OCR         string
	Safety      string
	Embedding   string
	Rerank      string

	// Denylist holds case-insensitive substring tokens. Ids containing
	// "video" are always denied in addition to these.
	Denylist []string
	// FallbackIDs is the static catalog served when the upstream listing
	// fails and no previous catalog exists.
	FallbackIDs []string
}

// roles returns the recommended roles of id by exact identity comparison.
func (bp *Blueprint) roles(id string) []Role {
	var out []Role
	add := func(match bool, r Role) {
		if match {
			out = append(out, r)
		}
	}

	add(id == bp.ChatDefault, RoleChatDefault)
	add(slices.Contains(bp.HardTask, id), RoleHardTask)
	add(id == bp.Vision, RoleVision)
	add(id == bp.Multimodal, RoleMultimodal)
	add(id == bp.DocParse, RoleDocParse)
	add(id == bp.OCR, RoleOCR)
	add(id == bp.Safety, RoleSafety)
	add(id == bp.Embedding, RoleEmbedding)
	add(id == bp.Rerank, RoleRerank)

	return out
}

// Descriptor is one catalog entry.
type Descriptor struct {
	ID string `json:"id"`

	IsChat             bool `json:"is_chat"`
	SupportsVision     bool `json:"supports_vision"`
	SupportsMultimodal bool `json:"supports_multimodal"`
	IsParse            bool `json:"is_parse"`
	IsOCR              bool `json:"is_ocr"`
	IsSafety           bool `json:"is_safety"`
	IsEmbedding        bool `json:"is_embedding"`
	IsRerank           bool `json:"is_rerank"`
	IsVideo            bool `json:"is_video"`

	// SizeB is the parameter count in billions parsed from the id, or nil
	// when the id carries none.
	SizeB *float64 `json:"size_b,omitempty"`

	Tags           []string `json:"tags"`
	RecommendedFor []Role   `json:"recommended_for,omitempty"`
}

// Recommended reports whether the model matches any configured role id.
func (d Descriptor) Recommended() bool { return len(d.RecommendedFor) > 0 }

// Predicate selects catalog entries.
type Predicate func(Descriptor) bool

// Common predicates.
var (
	Chat       Predicate = func(d Descriptor) bool { return d.IsChat }
	Vision     Predicate = func(d Descriptor) bool { return d.SupportsVision }
	Multimodal Predicate = func(d Descriptor) bool { return d.SupportsMultimodal }
	Parse      Predicate = func(d Descriptor) bool { return d.IsParse }
	OCR        Predicate = func(d Descriptor) bool { return d.IsOCR }
)

// probe is the input to one capability rule.
type probe struct {
	bp    *Blueprint
	id    string
	lower string
	d     *Descriptor // flags set by earlier rules
}

func (p probe) contains(tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(p.lower, t) {
			return true
		}
	}
	return false
}

// capabilityRules is evaluated in order; later rules may read flags set by
// earlier ones.
var capabilityRules = []struct {
	flag  func(d *Descriptor) *bool
	match func(p probe) bool
}{
	{
		flag:  func(d *Descriptor) *bool { return &d.IsParse },
		match: func(p probe) bool { return p.id == p.bp.DocParse || p.contains("parse") },
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.IsOCR },
		match: func(p probe) bool { return p.id == p.bp.OCR || p.contains("ocdr", "ocr") },
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.IsSafety },
		match: func(p probe) bool { return p.id == p.bp.Safety || p.contains("safety", "guard") },
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.IsEmbedding },
		match: func(p probe) bool { return p.id == p.bp.Embedding || p.contains("embed") },
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.IsRerank },
		match: func(p probe) bool { return p.id == p.bp.Rerank || p.contains("rerank") },
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.SupportsMultimodal },
		match: func(p probe) bool { return p.id == p.bp.Multimodal || p.contains("multimodal") },
	},
	{
		flag: func(d *Descriptor) *bool { return &d.SupportsVision },
		match: func(p probe) bool {
			return p.id == p.bp.Vision || p.d.SupportsMultimodal || p.contains("vision", "vlm")
		},
	},
	{
		flag:  func(d *Descriptor) *bool { return &d.IsVideo },
		match: func(p probe) bool { return p.contains("video") },
	},
	{
		flag: func(d *Descriptor) *bool { return &d.IsChat },
		match: func(p probe) bool {
			named := p.id == p.bp.ChatDefault ||
				slices.Contains(p.bp.HardTask, p.id) ||
				p.contains("instruct", "chat", "nemotron")
			return named && !p.d.IsParse && !p.d.IsEmbedding && !p.d.IsRerank && !p.d.IsVideo
		},
	},
}

// tagOrder lists capability tags in the order they appear on a descriptor.
var tagOrder = []struct {
	tag string
	has func(d *Descriptor) bool
}{
	{"chat", func(d *Descriptor) bool { return d.IsChat }},
	{"vision", func(d *Descriptor) bool { return d.SupportsVision }},
	{"multimodal", func(d *Descriptor) bool { return d.SupportsMultimodal }},
	{"parse", func(d *Descriptor) bool { return d.IsParse }},
	{"ocr", func(d *Descriptor) bool { return d.IsOCR }},
	{"safety", func(d *Descriptor) bool { return d.IsSafety }},
	{"embedding", func(d *Descriptor) bool { return d.IsEmbedding }},
	{"rerank", func(d *Descriptor) bool { return d.IsRerank }},
	{"video", func(d *Descriptor) bool { return d.IsVideo }},
}

// InferCapabilities derives a descriptor for id from substring rules over the
// lowercased id and exact matches against the blueprint's role ids.
func InferCapabilities(bp Blueprint, id string) Descriptor {
	d := Descriptor{ID: id}
	p := probe{bp: &bp, id: id, lower: strings.ToLower(id), d: &d}

	for _, r := range capabilityRules {
		*r.flag(&d) = r.match(p)
	}

	if size, ok := ExtractModelSizeB(id); ok {
		d.SizeB = &size
	}

	d.Tags = make([]string, 0, len(tagOrder))
	for _, t := range tagOrder {
		if t.has(&d) {
			d.Tags = append(d.Tags, t.tag)
		}
	}

	d.RecommendedFor = bp.roles(id)

	return d
}

var sizePattern = regexp.MustCompile(`(?i)-(\d+)(?:\.\d+)?b`)

// ExtractModelSizeB returns the whole-billion parameter count encoded in id
// as "-<digits>[.digits]b", e.g. 70 for "meta/llama-3.3-70b-instruct".
// A fractional part is ignored.
func ExtractModelSizeB(id string) (float64, bool) {
	m := sizePattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// IsDenied reports whether id must never enter a catalog: it contains
// "video" or any non-empty denylist token, compared case-insensitively.
func IsDenied(denylist []string, id string) bool {
	lower := strings.ToLower(id)
	if strings.Contains(lower, "video") {
		return true
	}

	for _, tok := range denylist {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return true
		}
	}

	return false
}
