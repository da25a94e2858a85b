package retrieval

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "plain words",
			query: "alpha beta gamma",
			want:  []string{"alpha", "beta", "gamma"},
		},
		{
			name:  "underscores split",
			query: "run_pipeline_id",
			want:  []string{"run", "pipeline", "id"},
		},
		{
			name:  "camel case split",
			query: "buildCandidateIndex HTTPServer2Go",
			want:  []string{"build", "Candidate", "Index", "HTTPServer2", "Go"},
		},
		{
			name:  "digit to upper boundary",
			query: "v2Beta",
			want:  []string{"v2", "Beta"},
		},
		{
			name:  "cjk short run kept whole",
			query: "缓存",
			want:  []string{"缓存"},
		},
		{
			name:  "cjk long run windows",
			query: "候选检索",
			want:  []string{"候选", "选检", "检索"},
		},
		{
			name:  "mixed ascii and cjk",
			query: "glimpse 缓存键",
			want:  []string{"glimpse", "缓存", "存键"},
		},
		{
			name:  "punctuation only falls back to trimmed query",
			query: "  !!! ",
			want:  []string{"!!!"},
		},
		{
			name:  "blank query yields no tokens",
			query: "   ",
			want:  []string{},
		},
		{
			name:  "cap at twelve tokens",
			query: "a b c d e f g h i j k l m n o",
			want:  []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestTokenize_Deterministic(t *testing.T) {
	query := "assembleContext 运行管线 fallback_top_k"
	first := Tokenize(query)
	for i := 0; i < 5; i++ {
		if got := Tokenize(query); !reflect.DeepEqual(got, first) {
			t.Fatalf("iteration %d: %v != %v", i, got, first)
		}
	}
}
