package extract

import (
	"strconv"
	"strings"
	"testing"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSources() model.SourceMap {
	return model.SourceMap{
		"1": {Title: "Reset Guide", Content: "Open settings and choose reset.", DocumentID: "doc-a"},
		"2": {Title: "Reset Guide", Content: "Confirm with your password.", DocumentID: "doc-a"},
		"3": {Title: "Billing FAQ", Content: "Invoices are emailed at the start of each month."},
	}
}

func TestCitedIDs(t *testing.T) {
	ids := CitedIDs("See [2] and [1, 3]. Again [2][ 4 ] and [x] and [].")
	assert.Equal(t, []string{"2", "1", "3", "4"}, ids)
}

func TestContextIDs(t *testing.T) {
	ctx := `<source id="1">a</source>` + "\n\n" + `<source id="2">b</source>`
	assert.Equal(t, []string{"1", "2"}, ContextIDs(ctx))
	assert.Empty(t, ContextIDs("[No context available from knowledge base]"))
}

func TestCited_ExplicitKeepsKnownIDsInOrder(t *testing.T) {
	e := NewExtractor(0)
	cited := e.Cited("Billing works monthly [3]. Reset it [1][9].", sampleSources())
	require.Len(t, cited, 2)
	assert.Equal(t, "3", cited[0].ID)
	assert.Equal(t, "1", cited[1].ID)
	assert.Equal(t, "Billing FAQ", cited[0].Title)
}

func TestCited_ImplicitFallback(t *testing.T) {
	e := NewExtractor(0)
	answer := "As the FAQ says, INVOICES ARE EMAILED AT THE START OF EACH MONTH. Nothing else."
	cited := e.Cited(answer, sampleSources())
	require.Len(t, cited, 1)
	assert.Equal(t, "3", cited[0].ID)

	// Short sentences never count
	assert.Empty(t, e.Cited("confirm with your password.", sampleSources()))
}

func TestCited_ImplicitThresholdConfigurable(t *testing.T) {
	e := NewExtractor(10)
	cited := e.Cited("Just confirm with your password.", sampleSources())
	require.Len(t, cited, 1)
	assert.Equal(t, "2", cited[0].ID)
}

func TestCited_EmptySourceMap(t *testing.T) {
	assert.Empty(t, NewExtractor(0).Cited("anything [1]", model.SourceMap{}))
}

// Two chunks of one document are cited; only one document survives and the
// text carries only its new id
func TestRenumber_SameDocumentCollapses(t *testing.T) {
	e := NewExtractor(0)
	draft := "Open settings [1]. Then confirm [2]."
	cited := e.Cited(draft, sampleSources())
	require.Len(t, cited, 2)

	r := Renumber(draft, cited)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "1", r.Sources[0].ID)
	assert.Equal(t, "Open settings [1]. Then confirm [1].", r.Text)
	assert.NotContains(t, r.Text, "[2]")
	assert.Equal(t, map[string]string{"1": "1", "2": "1"}, r.Mapping)
}

func TestRenumber_ContiguousInFirstAppearanceOrder(t *testing.T) {
	sources := sampleSources()
	draft := "Billing [3]. Reset [2]. Also [1]."
	r := Renumber(draft, NewExtractor(0).Cited(draft, sources))

	require.Len(t, r.Sources, 2)
	assert.Equal(t, "Billing FAQ", r.Sources[0].Title)
	assert.Equal(t, "1", r.Sources[0].ID)
	assert.Equal(t, "2", r.Sources[1].ID)
	assert.Equal(t, "Billing [1]. Reset [2]. Also [2].", r.Text)
}

func TestRenumber_TitleKeyWhenNoDocumentID(t *testing.T) {
	cited := []model.CitedSource{
		{ID: "4", Title: " Guide "},
		{ID: "7", Title: "guide"},
	}
	r := Renumber("x [4] y [7]", cited)
	assert.Len(t, r.Sources, 1)
	assert.Equal(t, "x [1] y [1]", r.Text)
}

func TestRenumber_GroupedAndUnknownMarkers(t *testing.T) {
	cited := []model.CitedSource{
		{ID: "2", DocumentID: "a"},
		{ID: "5", DocumentID: "b"},
		{ID: "6", DocumentID: "a"},
	}
	r := Renumber("one [5, 6, 2] two [9] three [8, 10]", cited)
	assert.Equal(t, "one [2, 1] two [9] three [8, 10]", r.Text)
}

func TestRenumber_CollapsesAdjacentDuplicates(t *testing.T) {
	cited := []model.CitedSource{
		{ID: "1", DocumentID: "a"},
		{ID: "2", DocumentID: "a"},
	}
	r := Renumber("Fact [1][2]. Other [2] [1]\n[1].", cited)
	assert.Equal(t, "Fact [1]. Other [1].", r.Text)
}

func TestCollapseAdjacent(t *testing.T) {
	assert.Equal(t, "a [1] b [1]", CollapseAdjacent("a [1] b [1]"))
	assert.Equal(t, "a [1][2]", CollapseAdjacent("a [1][2]"))
	assert.Equal(t, "a [3]!", CollapseAdjacent("a [3] [3][3]!"))
	assert.Equal(t, "plain", CollapseAdjacent("plain"))
}

func TestRenumber_IDsContiguousForManyDocuments(t *testing.T) {
	var cited []model.CitedSource
	var b strings.Builder
	for i := 10; i > 0; i-- {
		id := strconv.Itoa(i)
		cited = append(cited, model.CitedSource{ID: id, DocumentID: "doc" + strconv.Itoa(i%4)})
		b.WriteString("claim [" + id + "] ")
	}
	r := Renumber(b.String(), cited)
	require.Len(t, r.Sources, 4)
	for i, s := range r.Sources {
		assert.Equal(t, strconv.Itoa(i+1), s.ID)
	}
	for _, id := range CitedIDs(r.Text) {
		n, err := strconv.Atoi(id)
		require.NoError(t, err)
		assert.True(t, n >= 1 && n <= 4, id)
	}
}
