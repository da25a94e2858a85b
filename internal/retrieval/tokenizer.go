// Package retrieval builds the ranked candidate index for a query: it
// tokenizes the query deterministically, clamps retrieval options, and
// delegates the scored lookup to the candidate store.
package retrieval

import (
	"regexp"
	"strings"
)

// MaxTokens bounds the token list so the store's unnest/ILIKE subquery stays
// cheap regardless of query length.
const MaxTokens = 12

var wordOrCJK = regexp.MustCompile(`[A-Za-z0-9_]+|[\x{4e00}-\x{9fff}]+`)

// Tokenize derives match tokens from a query.
//
// ASCII word runs are split on underscores and at camelCase boundaries
// (a lowercase letter or digit followed by an uppercase letter). CJK runs of
// length >= 3 emit every length-2 sliding window; shorter runs are emitted
// whole. The result is capped at MaxTokens. An empty result falls back to the
// trimmed query, or to no tokens at all when the query is blank.
func Tokenize(query string) []string {
	tokens := []string{}
	for _, run := range wordOrCJK.FindAllString(query, -1) {
		if len(tokens) >= MaxTokens {
			break
		}
		if isCJK([]rune(run)[0]) {
			tokens = appendCapped(tokens, cjkWindows(run))
		} else {
			tokens = appendCapped(tokens, splitWordRun(run))
		}
	}
	if len(tokens) == 0 {
		trimmed := strings.TrimSpace(query)
		if trimmed == "" {
			return []string{}
		}
		return []string{trimmed}
	}
	return tokens
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

// splitWordRun breaks an ASCII word run on underscores and camelCase
// boundaries.
func splitWordRun(run string) []string {
	var out []string
	for _, part := range strings.Split(run, "_") {
		if part == "" {
			continue
		}
		out = append(out, splitCamel(part)...)
	}
	return out
}

func splitCamel(s string) []string {
	var out []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		lowerOrDigit := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')
		if lowerOrDigit && cur >= 'A' && cur <= 'Z' {
			out = append(out, string(runes[start:i]))
			start = i
		}
	}
	out = append(out, string(runes[start:]))
	return out
}

// cjkWindows emits length-2 sliding windows of a CJK run, or the run itself
// when it has at most two characters.
func cjkWindows(run string) []string {
	runes := []rune(run)
	if len(runes) <= 2 {
		return []string{run}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+2 <= len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

func appendCapped(tokens, more []string) []string {
	for _, t := range more {
		if len(tokens) >= MaxTokens {
			break
		}
		tokens = append(tokens, t)
	}
	return tokens
}
