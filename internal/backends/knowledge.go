// Package backends provides the default, in-process implementations of the
// external systems C2's tools dispatch to (knowledge_retrieval's corpus,
// code_execution's sandbox). spec.md §4.1 treats the LLM backend as opaque;
// §4.2 treats these the same way — a real deployment points
// KnowledgeRetrievalTool/CodeExecutionTool at its own RAG index and sandbox
// service instead. These exist so cmd/evidence-agent runs standalone.
package backends

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
)

// Document is one entry in an InMemoryCorpus.
type Document struct {
	ID       string
	Title    string
	Content  string
	Datasets []string
}

// InMemoryCorpus is a naive keyword-overlap retrieval backend, grounded on
// the teacher's internal/tools/rag/search.go SearchTool's scoring shape
// (sorted-by-score results) but without an embedding model: term overlap
// between the query and each document substitutes for cosine similarity
// over vectors, which keeps this dependency-free and deterministic for a
// standalone demo server.
type InMemoryCorpus struct {
	mu   sync.RWMutex
	docs []Document
}

// NewInMemoryCorpus builds a corpus from docs.
func NewInMemoryCorpus(docs []Document) *InMemoryCorpus {
	return &InMemoryCorpus{docs: docs}
}

// Search implements agent.RetrievalBackend.
func (c *InMemoryCorpus) Search(ctx context.Context, query string, datasetIDs []string, limit int) ([]agent.RetrievedPassage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	terms := tokenize(query)
	wantDatasets := make(map[string]bool, len(datasetIDs))
	for _, d := range datasetIDs {
		wantDatasets[d] = true
	}

	var scored []agent.RetrievedPassage
	for _, doc := range c.docs {
		if len(wantDatasets) > 0 && !datasetMatches(doc.Datasets, wantDatasets) {
			continue
		}
		score := overlapScore(terms, doc.Content+" "+doc.Title)
		if score <= 0 {
			continue
		}
		scored = append(scored, agent.RetrievedPassage{
			ID:      doc.ID,
			Title:   doc.Title,
			Content: doc.Content,
			Score:   score,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func datasetMatches(docDatasets []string, want map[string]bool) bool {
	for _, d := range docDatasets {
		if want[d] {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,?!;:\"'()")] = true
	}
	return set
}

func overlapScore(queryTerms map[string]bool, text string) float32 {
	docTerms := tokenize(text)
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	hits := 0
	for t := range queryTerms {
		if docTerms[t] {
			hits++
		}
	}
	return float32(hits) / float32(len(queryTerms))
}
