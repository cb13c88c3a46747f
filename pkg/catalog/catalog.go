package catalog

import (
	"log/slog"
	"strings"
)

// Source tells where a catalog's ids came from.
type Source string

// Catalog sources.
const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// maxDuplicateSample caps the duplicate ids quoted in the build warning.
const maxDuplicateSample = 5

// Catalog is an immutable set of model descriptors in upstream order.
type Catalog struct {
	byID   map[string]Descriptor
	models []Descriptor
	source Source
}

// Build creates a catalog from ids. Empty ids are skipped and the first
// occurrence of a repeated id wins; repeats are reported once as a warning.
// A nil logger discards the warning.
func Build(bp Blueprint, ids []string, source Source, logger *slog.Logger) *Catalog {
	c := &Catalog{
		byID:   make(map[string]Descriptor, len(ids)),
		models: make([]Descriptor, 0, len(ids)),
		source: source,
	}

	var dupes []string
	seenDupe := make(map[string]bool)

	for _, id := range ids {
		if id == "" {
			continue
		}

		if _, ok := c.byID[id]; ok {
			if !seenDupe[id] {
				seenDupe[id] = true
				dupes = append(dupes, id)
			}
			continue
		}

		d := InferCapabilities(bp, id)
		c.byID[id] = d
		c.models = append(c.models, d)
	}

	if len(dupes) > 0 && logger != nil {
		sample := dupes
		if len(sample) > maxDuplicateSample {
			sample = sample[:maxDuplicateSample]
		}
		logger.Warn("catalog: duplicate model ids",
			"source", string(source),
			"count", len(dupes),
			"sample", strings.Join(sample, ", "),
		)
	}

	return c
}

// Source reports where the catalog came from.
func (c *Catalog) Source() Source { return c.source }

// Len returns the number of models.
func (c *Catalog) Len() int { return len(c.models) }

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Models returns a copy of the descriptors in upstream order.
func (c *Catalog) Models() []Descriptor {
	out := make([]Descriptor, len(c.models))
	copy(out, c.models)
	return out
}

// IDs returns model ids in upstream order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.models))
	for i, d := range c.models {
		out[i] = d.ID
	}
	return out
}

// Find returns the first descriptor matching pred.
func (c *Catalog) Find(pred Predicate) (Descriptor, bool) {
	for _, d := range c.models {
		if pred(d) {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Filter returns the descriptors matching pred in upstream order.
func (c *Catalog) Filter(pred Predicate) []Descriptor {
	var out []Descriptor
	for _, d := range c.models {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// Resolve returns preferred when it is cataloged, otherwise the id of the
// first model matching pred. It returns "" when neither applies; a nil pred
// only accepts preferred.
func (c *Catalog) Resolve(preferred string, pred Predicate) string {
	if preferred != "" && c.Has(preferred) {
		return preferred
	}

	if pred != nil {
		if d, ok := c.Find(pred); ok {
			return d.ID
		}
	}

	return ""
}
