package agent

import (
	"regexp"
	"strconv"

	"github.com/haasonsaas/nexus/pkg/evidence"
)

// citationMarkerPattern matches inline citation markers like "[1]" or "[12]"
// in a generated answer (spec.md §4.3.5).
var citationMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

// CollectCitations scans answerText for [n] markers and resolves each
// referenced index against the evidence gathered across every round of the
// session (not just the final round), deduping while preserving first-seen
// order. Indices with no corresponding evidence record are skipped rather
// than erroring — a stray bracketed number in prose should not fail
// citation assembly.
func CollectCitations(answerText string, allEvidence []evidence.EvidenceRecord) []evidence.Citation {
	var citations []evidence.Citation
	seen := make(map[int]bool)

	for _, match := range citationMarkerPattern.FindAllStringSubmatch(answerText, -1) {
		idx, err := strconv.Atoi(match[1])
		if err != nil || idx < 1 || idx > len(allEvidence) {
			continue
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true

		record := allEvidence[idx-1]
		citations = append(citations, evidence.Citation{
			ID:      record.ID,
			Title:   record.Title,
			Preview: record.Preview(),
		})
	}

	return citations
}
