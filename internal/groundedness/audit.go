package groundedness

import (
	"sort"
	"strconv"

	"github.com/ppiankov/groundwork/internal/extract"
	"github.com/ppiankov/groundwork/internal/model"
)

// Audit compares the ids an answer cites with the <source id> tags of its
// context. It calls no model and is safe to run on every answer.
func Audit(answer, sources string) model.CitationAudit {
	cited := extract.CitedIDs(answer)
	inContext := extract.ContextIDs(sources)

	known := make(map[string]bool, len(inContext))
	for _, id := range inContext {
		known[id] = true
	}
	used := make(map[string]bool, len(cited))
	for _, id := range cited {
		used[id] = true
	}

	audit := model.CitationAudit{
		CitedIDs:         sortIDs(cited),
		ContextIDs:       sortIDs(inContext),
		MissingIDs:       []string{},
		UnusedContextIDs: []string{},
		HasAnyCitations:  len(cited) > 0,
	}

	valid := 0
	for _, id := range audit.CitedIDs {
		if known[id] {
			valid++
		} else {
			audit.MissingIDs = append(audit.MissingIDs, id)
		}
	}
	for _, id := range audit.ContextIDs {
		if !used[id] {
			audit.UnusedContextIDs = append(audit.UnusedContextIDs, id)
		}
	}

	if len(cited) > 0 {
		audit.CoverageRatio = float64(valid) / float64(len(cited))
	}
	audit.OK = len(audit.MissingIDs) == 0
	return audit
}

func sortIDs(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i])
		b, _ := strconv.Atoi(out[j])
		return a < b
	})
	return out
}
