package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/haasonsaas/rlmd/internal/storage"
	"github.com/haasonsaas/rlmd/pkg/models"
)

func TestClampOptions(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		want    storage.RetrievalOptions
	}{
		{
			name:    "nil options use defaults",
			options: nil,
			want: storage.RetrievalOptions{
				IncludeGlobal: true,
				TopK:          20,
				PreviewChars:  240,
				AllowedTypes:  []string{"doc", "code", "note"},
			},
		},
		{
			name: "out of range values clamp",
			options: map[string]any{
				"top_k":         float64(9999),
				"preview_chars": float64(-5),
			},
			want: storage.RetrievalOptions{
				IncludeGlobal: true,
				TopK:          200,
				PreviewChars:  0,
				AllowedTypes:  []string{"doc", "code", "note"},
			},
		},
		{
			name: "explicit values pass through",
			options: map[string]any{
				"include_global": false,
				"top_k":          float64(5),
				"preview_chars":  float64(100),
				"allowed_types":  []any{"doc"},
			},
			want: storage.RetrievalOptions{
				IncludeGlobal: false,
				TopK:          5,
				PreviewChars:  100,
				AllowedTypes:  []string{"doc"},
			},
		},
		{
			name: "non-numeric top_k falls back to default",
			options: map[string]any{
				"top_k": "lots",
			},
			want: storage.RetrievalOptions{
				IncludeGlobal: true,
				TopK:          20,
				PreviewChars:  240,
				AllowedTypes:  []string{"doc", "code", "note"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampOptions(tt.options)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ClampOptions = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuildCandidateIndex_PinnedOutranksRelevance(t *testing.T) {
	store := storage.NewMemoryStore()
	sessionID := store.AddSession("project-1")

	relevant := store.AddArtifact(models.Artifact{
		ProjectID: "project-1",
		Scope:     models.ScopeProject,
		Type:      models.ArtifactDoc,
		Content:   "alpha alpha alpha highly relevant",
		Weight:    2.0,
	})
	pinned := store.AddArtifact(models.Artifact{
		ProjectID: "project-1",
		Scope:     models.ScopeProject,
		Type:      models.ArtifactDoc,
		Content:   "nothing to do with the query",
		Weight:    0.1,
		Pinned:    true,
	})

	svc := NewService(store, nil)
	index, err := svc.BuildCandidateIndex(context.Background(), sessionID, "alpha", nil)
	if err != nil {
		t.Fatalf("BuildCandidateIndex: %v", err)
	}
	if got := index.CandidateIDs(); len(got) != 2 || got[0] != pinned || got[1] != relevant {
		t.Errorf("order = %v, want pinned first", got)
	}
	if index.Candidates[0].BaseScore <= index.Candidates[1].BaseScore {
		t.Errorf("pinned score %v should exceed %v",
			index.Candidates[0].BaseScore, index.Candidates[1].BaseScore)
	}
}

func TestBuildCandidateIndex_SessionNotFound(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), nil)
	_, err := svc.BuildCandidateIndex(context.Background(), "missing", "q", nil)
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestBuildCandidateIndex_Deterministic(t *testing.T) {
	store := storage.NewMemoryStore()
	sessionID := store.AddSession("project-1")
	for i := 0; i < 5; i++ {
		store.AddArtifact(models.Artifact{
			ProjectID: "project-1",
			Scope:     models.ScopeProject,
			Type:      models.ArtifactDoc,
			Content:   "alpha content shared by all rows",
			Weight:    float64(i),
		})
	}

	svc := NewService(store, nil)
	first, err := svc.BuildCandidateIndex(context.Background(), sessionID, "alpha", nil)
	if err != nil {
		t.Fatalf("BuildCandidateIndex: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := svc.BuildCandidateIndex(context.Background(), sessionID, "alpha", nil)
		if err != nil {
			t.Fatalf("BuildCandidateIndex: %v", err)
		}
		if !reflect.DeepEqual(again.CandidateIDs(), first.CandidateIDs()) {
			t.Fatalf("ordering changed between runs: %v != %v",
				again.CandidateIDs(), first.CandidateIDs())
		}
	}
}
