package retrieval

import (
	"context"
	"math"

	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/storage"
	"github.com/haasonsaas/rlmd/pkg/models"
)

// Option bounds. Values outside a range are clamped, never rejected.
const (
	DefaultTopK        = 20
	MinTopK            = 1
	MaxTopK            = 200
	DefaultPreviewLen  = 240
	MinPreviewLen      = 0
	MaxPreviewLen      = 4000
	defaultIncludeGlob = true
)

// DefaultAllowedTypes is the artifact type filter applied when the request
// does not name its own. Cache artifacts are excluded from retrieval.
var DefaultAllowedTypes = []string{"doc", "code", "note"}

// Service builds candidate indexes over a candidate store.
type Service struct {
	store  storage.CandidateStore
	logger *observability.Logger
}

// NewService creates a retrieval service. A nil logger disables logging.
func NewService(store storage.CandidateStore, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{store: store, logger: logger}
}

// BuildCandidateIndex tokenizes the query, clamps options, and returns the
// ranked candidate set. Deterministic for a fixed store snapshot.
func (s *Service) BuildCandidateIndex(ctx context.Context, sessionID, query string, options map[string]any) (*models.CandidateIndex, error) {
	opt := ClampOptions(options)
	tokens := Tokenize(query)

	index, err := s.store.ListCandidates(ctx, sessionID, query, tokens, opt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "candidate index built",
		"session_id", sessionID,
		"tokens", len(tokens),
		"candidates", len(index.Candidates),
		"top_k", opt.TopK,
	)
	return index, nil
}

// ClampOptions extracts and bounds retrieval options from a raw options map.
func ClampOptions(options map[string]any) storage.RetrievalOptions {
	opt := storage.RetrievalOptions{
		IncludeGlobal: defaultIncludeGlob,
		TopK:          DefaultTopK,
		PreviewChars:  DefaultPreviewLen,
		AllowedTypes:  DefaultAllowedTypes,
	}
	if options == nil {
		return opt
	}
	if v, ok := options["include_global"].(bool); ok {
		opt.IncludeGlobal = v
	}
	opt.TopK = ClampInt(options["top_k"], DefaultTopK, MinTopK, MaxTopK)
	opt.PreviewChars = ClampInt(options["preview_chars"], DefaultPreviewLen, MinPreviewLen, MaxPreviewLen)
	if raw, ok := options["allowed_types"].([]any); ok {
		types := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				types = append(types, s)
			}
		}
		if len(types) > 0 {
			opt.AllowedTypes = types
		}
	}
	return opt
}

// ClampInt coerces a JSON-decoded numeric option into [lo, hi], falling back
// to def when the value is absent or not a number.
func ClampInt(v any, def, lo, hi int) int {
	n := def
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		if !math.IsNaN(val) && !math.IsInf(val, 0) {
			n = int(val)
		}
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
