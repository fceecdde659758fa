package backends

import (
	"context"
	"testing"
)

func TestInMemoryCorpus_RanksByOverlap(t *testing.T) {
	corpus := NewInMemoryCorpus([]Document{
		{ID: "d1", Title: "Refund policy", Content: "Refunds are issued within 30 days of purchase.", Datasets: []string{"billing"}},
		{ID: "d2", Title: "Shipping policy", Content: "Standard shipping takes five to seven business days.", Datasets: []string{"logistics"}},
	})

	results, err := corpus.Search(context.Background(), "refund days purchase", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "d1" {
		t.Fatalf("expected d1 to rank first, got %+v", results)
	}
}

func TestInMemoryCorpus_FiltersByDataset(t *testing.T) {
	corpus := NewInMemoryCorpus([]Document{
		{ID: "d1", Title: "Refund policy", Content: "Refunds within 30 days.", Datasets: []string{"billing"}},
		{ID: "d2", Title: "Refund policy duplicate", Content: "Refunds within 30 days.", Datasets: []string{"logistics"}},
	})

	results, err := corpus.Search(context.Background(), "refund", []string{"logistics"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == "d1" {
			t.Errorf("expected d1 excluded by dataset filter, got %+v", results)
		}
	}
}

func TestInMemoryCorpus_NoMatchReturnsEmpty(t *testing.T) {
	corpus := NewInMemoryCorpus([]Document{{ID: "d1", Title: "X", Content: "completely unrelated text"}})
	results, err := corpus.Search(context.Background(), "quantum gravity", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no matches, got %+v", results)
	}
}
