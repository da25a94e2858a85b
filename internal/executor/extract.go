package executor

import "strings"

// Deterministic excerpt extraction. Offsets are byte offsets into the
// artifact text; identical (text, spec) inputs always produce identical
// excerpts and metadata, which is what makes glimpse caching sound.

// buildSpec derives the canonical extraction spec from a glimpse step.
// Unknown modes collapse to head.
func buildSpec(mode string, step map[string]any, limits Limits) map[string]any {
	switch mode {
	case "range":
		return map[string]any{
			"mode":  "range",
			"start": safeInt(step["start"], 0),
			"end":   safeInt(step["end"], 0),
		}
	case "grep":
		maxHits := safeInt(step["max_hits"], limits.MaxGrepHits)
		if maxHits > limits.MaxGrepHits {
			maxHits = limits.MaxGrepHits
		}
		if maxHits < 1 {
			maxHits = 1
		}
		return map[string]any{
			"mode":     "grep",
			"pattern":  stringField(step, "pattern", ""),
			"window":   safeInt(step["window"], 120),
			"max_hits": maxHits,
		}
	default:
		n := safeInt(step["n"], 0)
		if n <= 0 {
			n = safeInt(step["head_chars"], limits.MaxGlimpseChars)
		}
		if n > limits.MaxGlimpseChars {
			n = limits.MaxGlimpseChars
		}
		return map[string]any{"mode": "head", "n": n}
	}
}

// extract applies a spec to the full text, returning the excerpt and its
// extraction metadata.
func extract(text string, spec map[string]any) (string, map[string]any) {
	switch spec["mode"] {
	case "range":
		return extractRange(text, specInt(spec, "start"), specInt(spec, "end"))
	case "grep":
		pattern, _ := spec["pattern"].(string)
		return extractGrep(text, pattern, specInt(spec, "window"), specInt(spec, "max_hits"))
	default:
		return extractHead(text, specInt(spec, "n"))
	}
}

func extractHead(text string, n int) (string, map[string]any) {
	if n < 0 {
		n = 0
	}
	if n > len(text) {
		n = len(text)
	}
	excerpt := text[:n]
	return excerpt, map[string]any{"mode": "head", "start": 0, "end": len(excerpt)}
}

func extractRange(text string, start, end int) (string, map[string]any) {
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		start = len(text)
	}
	if end <= 0 || end > len(text) {
		end = len(text)
	}
	if end < start {
		start, end = end, start
	}
	excerpt := text[start:end]
	return excerpt, map[string]any{"mode": "range", "start": start, "end": end}
}

func extractGrep(text, pattern string, window, maxHits int) (string, map[string]any) {
	meta := map[string]any{"mode": "grep", "pattern": pattern, "matches": 0, "window": window}
	if pattern == "" {
		return "", meta
	}

	type span struct{ start, end int }
	var spans []span
	cursor := 0
	for len(spans) < maxHits {
		idx := indexFrom(text, pattern, cursor)
		if idx < 0 {
			break
		}
		start := idx - window
		if start < 0 {
			start = 0
		}
		end := idx + len(pattern) + window
		if end > len(text) {
			end = len(text)
		}
		spans = append(spans, span{start: start, end: end})
		cursor = idx + len(pattern)
	}

	excerpts := make([]string, len(spans))
	spanMeta := make([]map[string]any, len(spans))
	for i, s := range spans {
		excerpts[i] = text[s.start:s.end]
		spanMeta[i] = map[string]any{"start": s.start, "end": s.end}
	}
	meta["matches"] = len(spans)
	meta["spans"] = spanMeta
	return strings.Join(excerpts, "\n...\n"), meta
}

// spanFromMeta projects extraction metadata onto the glimpse span shape:
// {start, end} for head/range, {spans: [...]} for grep.
func spanFromMeta(meta map[string]any) map[string]any {
	if spans, ok := meta["spans"]; ok {
		return map[string]any{"spans": spans}
	}
	return map[string]any{"start": meta["start"], "end": meta["end"]}
}

func indexFrom(text, pattern string, from int) int {
	if from >= len(text) {
		return -1
	}
	idx := strings.Index(text[from:], pattern)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func safeInt(v any, def int) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	default:
		return def
	}
}

func specInt(spec map[string]any, key string) int {
	return safeInt(spec[key], 0)
}
