package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RetrievalBackend is the opaque document-search RPC this tool dispatches
// to, mirroring the shape of the teacher's
// internal/rag/store.DocumentStore.Search: a free-text query scoped to one
// or more dataset IDs, returning ranked passages with a similarity score.
type RetrievalBackend interface {
	Search(ctx context.Context, query string, datasetIDs []string, limit int) ([]RetrievedPassage, error)
}

// RetrievedPassage is one ranked result from a RetrievalBackend.Search call.
type RetrievedPassage struct {
	ID      string
	Title   string
	Content string
	Score   float32
}

// DepartmentClassifier infers which dataset(s) a question concerns when the
// caller's tool call omits dataset_ids, mirroring the teacher's session-scope
// inference in internal/tools/rag/search.go. Treated as an external service:
// the tool never retries it, and a failure here does not abort the round.
type DepartmentClassifier interface {
	Classify(ctx context.Context, query string) ([]string, error)
}

// DefaultDataset is used when dataset_ids is omitted and the classifier is
// unavailable or fails, per SPEC_FULL.md's resolution of spec.md §9's open
// question: a retrieval silently scoped to the wrong department is worse
// than one that fails visibly, so classifier failure surfaces as a
// tool_error-flavored note in the result text rather than being swallowed,
// while the round still proceeds against the default dataset.
const DefaultDataset = "general"

// KnowledgeRetrievalTool implements the knowledge_retrieval tool
// (spec.md §4.2), grounded on internal/tools/rag/search.go's SearchTool.
type KnowledgeRetrievalTool struct {
	backend      RetrievalBackend
	classifier   DepartmentClassifier
	defaultLimit int
	maxLimit     int
}

// NewKnowledgeRetrievalTool constructs the tool. classifier may be nil, in
// which case an omitted dataset_ids always falls back to DefaultDataset.
func NewKnowledgeRetrievalTool(backend RetrievalBackend, classifier DepartmentClassifier) *KnowledgeRetrievalTool {
	return &KnowledgeRetrievalTool{
		backend:      backend,
		classifier:   classifier,
		defaultLimit: 5,
		maxLimit:     20,
	}
}

func (t *KnowledgeRetrievalTool) Name() string { return "knowledge_retrieval" }

func (t *KnowledgeRetrievalTool) Description() string {
	return "Searches the organization's knowledge base for passages relevant to a query. Use this to ground an answer in cited evidence before answering."
}

func (t *KnowledgeRetrievalTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The search query to find relevant passages"
    },
    "dataset_ids": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Restrict the search to these dataset IDs. If omitted, the dataset is inferred from the query."
    },
    "limit": {
      "type": "integer",
      "description": "Maximum number of passages to return (default 5, max 20)"
    }
  },
  "required": ["query"]
}`)
}

type knowledgeRetrievalInput struct {
	Query      string   `json:"query"`
	DatasetIDs []string `json:"dataset_ids,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

func (t *KnowledgeRetrievalTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input knowledgeRetrievalInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid knowledge_retrieval arguments: %w", err)
	}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}
	if limit > t.maxLimit {
		limit = t.maxLimit
	}

	datasetIDs := input.DatasetIDs
	var classifierNote string
	if len(datasetIDs) == 0 {
		datasetIDs, classifierNote = t.resolveDatasets(ctx, query)
	}

	passages, err := t.backend.Search(ctx, query, datasetIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval backend search: %w", err)
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })

	if len(passages) == 0 {
		content := fmt.Sprintf("No relevant passages found for query: %q (datasets: %s)", query, strings.Join(datasetIDs, ", "))
		if classifierNote != "" {
			content = classifierNote + "\n" + content
		}
		return &ToolResult{Content: content}, nil
	}

	outputJSON, err := json.MarshalIndent(struct {
		Query    string             `json:"query"`
		Datasets []string           `json:"datasets"`
		Results  []RetrievedPassage `json:"results"`
	}{Query: query, Datasets: datasetIDs, Results: passages}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval results: %w", err)
	}

	content := string(outputJSON)
	if classifierNote != "" {
		content = classifierNote + "\n" + content
	}
	return &ToolResult{Content: content, Structured: passages}, nil
}

// resolveDatasets infers dataset_ids via the classifier, falling back to
// DefaultDataset with a visible note on classifier failure or absence.
func (t *KnowledgeRetrievalTool) resolveDatasets(ctx context.Context, query string) ([]string, string) {
	if t.classifier == nil {
		return []string{DefaultDataset}, ""
	}
	datasets, err := t.classifier.Classify(ctx, query)
	if err != nil || len(datasets) == 0 {
		note := fmt.Sprintf("note: department classification failed (%v); falling back to dataset %q", err, DefaultDataset)
		return []string{DefaultDataset}, note
	}
	return datasets, ""
}
