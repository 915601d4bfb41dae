package assemble

import (
	"strings"
	"testing"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_NumbersAndSkipsEmpty(t *testing.T) {
	results := []model.SearchResult{
		{Chunk: "  First passage.  ", Title: "A", DocumentID: "d1"},
		{Chunk: "   ", Title: "Empty"},
		{Chunk: "Second passage", Title: "B"},
	}

	ctx := Build(results, 5)
	require.Len(t, ctx.Sources, 2)
	assert.Equal(t, "A", ctx.Sources["1"].Title)
	assert.Equal(t, "d1", ctx.Sources["1"].DocumentID)
	assert.Equal(t, "B", ctx.Sources["2"].Title)
	assert.Equal(t, "Second passage...", ctx.Sources["2"].Content)

	want := `<source id="1">First passage.</source>` + "\n\n" + `<source id="2">Second passage...</source>`
	assert.Equal(t, want, ctx.Text)
}

func TestBuild_CapsAtMaxChunks(t *testing.T) {
	results := []model.SearchResult{{Chunk: "a."}, {Chunk: "b."}, {Chunk: "c."}}
	ctx := Build(results, 2)
	assert.Len(t, ctx.Sources, 2)
	assert.NotContains(t, ctx.Text, `id="3"`)
}

func TestBuild_EmptyUsesSentinel(t *testing.T) {
	ctx := Build([]model.SearchResult{{Chunk: ""}}, 5)
	assert.True(t, ctx.Empty())
	assert.Equal(t, EmptyContext, ctx.Text)

	ctx = Build(nil, 5)
	assert.Equal(t, EmptyContext, ctx.Text)
}

func TestBuild_TerminalPunctuation(t *testing.T) {
	for _, chunk := range []string{"Done.", "Really?", "Yes!", `He said "go"`, "(see above)", "list]", "end}", "quote”"} {
		ctx := Build([]model.SearchResult{{Chunk: chunk}}, 1)
		assert.False(t, strings.HasSuffix(ctx.Sources["1"].Content, "..."), chunk)
	}
}

func TestBuild_SplitsSentencesAndDedupes(t *testing.T) {
	ctx := Build([]model.SearchResult{{Chunk: "Restart the app. Check logs. Restart the app. Version 2.5 is current."}}, 1)
	assert.Equal(t, "Restart the app.\n\nCheck logs.\n\nVersion 2.5 is current.", ctx.Sources["1"].Content)
}

func TestBuild_StripsMarkup(t *testing.T) {
	ctx := Build([]model.SearchResult{{Chunk: "<p>Open <b>Settings</b>.</p><script>x()</script><p>Choose Reset.</p>"}}, 1)
	assert.Equal(t, "Open Settings.\n\nChoose Reset.", ctx.Sources["1"].Content)
}

func TestDedupeLines(t *testing.T) {
	in := "a\n\n\n\nb\na\n  \n\nc"
	assert.Equal(t, "a\n\nb\n\nc", DedupeLines(in))
}

func TestStripMarkup_PlainTextUntouched(t *testing.T) {
	in := "Use a < b and x > y comparisons."
	assert.Equal(t, in, StripMarkup(in))
}
