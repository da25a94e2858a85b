package rootlm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SchemaVersion is the payload revision this adapter understands. Payloads
// without a schema_version are accepted; a present but different version is
// rejected as unparseable.
const SchemaVersion = 1

var (
	jsonFenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
	jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON recovers a JSON object from model output. Three stages: direct
// parse, parse inside a fenced code block, then the greedy outermost brace
// block. Returns nil when no stage yields an object.
func ExtractJSON(text string) map[string]any {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil
	}
	if match := jsonFenceRe.FindStringSubmatch(cleaned); match != nil {
		cleaned = strings.TrimSpace(match[1])
	}
	if payload := parseObject(cleaned); payload != nil {
		return payload
	}
	if match := jsonBlockRe.FindString(cleaned); match != "" {
		return parseObject(match)
	}
	return nil
}

func parseObject(s string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil
	}
	return payload
}

// SchemaVersionOK reports whether a payload's schema_version, if any, matches
// the supported revision.
func SchemaVersionOK(payload map[string]any) bool {
	v, present := payload["schema_version"]
	if !present {
		return true
	}
	switch n := v.(type) {
	case float64:
		return int(n) == SchemaVersion
	case int:
		return n == SchemaVersion
	}
	return false
}
