package catalog_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_DedupesFirstWins(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := catalog.Build(testBlueprint(), []string{
		"a/model-chat", "", "b/model-instruct", "a/model-chat", "a/model-chat",
	}, catalog.SourceLive, logger)

	assert.Equal(t, []string{"a/model-chat", "b/model-instruct"}, c.IDs())
	assert.Equal(t, catalog.SourceLive, c.Source())
	assert.Equal(t, 2, c.Len())

	out := buf.String()
	assert.Contains(t, out, "duplicate model ids")
	assert.Contains(t, out, "a/model-chat")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("duplicate model ids")))
}

func TestBuild_DuplicateSampleCapped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ids := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	c := catalog.Build(catalog.Blueprint{}, append(ids, ids...), catalog.SourceLive, logger)

	assert.Equal(t, 7, c.Len())
	assert.Contains(t, buf.String(), "count=7")
	assert.Contains(t, buf.String(), "m5")
	assert.NotContains(t, buf.String(), "m6")
}

func TestBuild_NoDuplicatesNoWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	catalog.Build(catalog.Blueprint{}, []string{"x", "y"}, catalog.SourceFallback, logger)

	assert.Empty(t, buf.String())
}

func TestCatalog_Resolve(t *testing.T) {
	bp := testBlueprint()
	c := catalog.Build(bp, []string{
		"nvidia/nemotron-parse",
		"meta/llama-3.2-11b-vision-instruct",
		"meta/llama-3.3-70b-instruct",
	}, catalog.SourceLive, nil)

	assert.Equal(t, "meta/llama-3.3-70b-instruct", c.Resolve("meta/llama-3.3-70b-instruct", catalog.Chat))
	assert.Equal(t, "meta/llama-3.2-11b-vision-instruct", c.Resolve(bp.Vision, catalog.Vision))
	assert.Equal(t, "nvidia/nemotron-parse", c.Resolve("", catalog.Parse))
	assert.Empty(t, c.Resolve("missing", catalog.OCR))
	assert.Empty(t, c.Resolve("missing", nil))
}

func TestCatalog_GetFindFilter(t *testing.T) {
	c := catalog.Build(testBlueprint(), []string{
		"meta/llama-3.3-70b-instruct",
		"microsoft/phi-4-multimodal-instruct",
		"nvidia/nemotron-parse",
	}, catalog.SourceLive, nil)

	d, ok := c.Get("nvidia/nemotron-parse")
	require.True(t, ok)
	assert.True(t, d.IsParse)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	chat := c.Filter(catalog.Chat)
	require.Len(t, chat, 2)
	assert.Equal(t, "meta/llama-3.3-70b-instruct", chat[0].ID)

	mm, ok := c.Find(catalog.Multimodal)
	require.True(t, ok)
	assert.Equal(t, "microsoft/phi-4-multimodal-instruct", mm.ID)
}

func TestCatalog_ModelsReturnsCopy(t *testing.T) {
	c := catalog.Build(catalog.Blueprint{}, []string{"a-chat"}, catalog.SourceLive, nil)

	models := c.Models()
	models[0].ID = "mutated"

	assert.Equal(t, []string{"a-chat"}, c.IDs())
}
