// Package glimpse provides the content-addressed cache for extracted artifact
// excerpts. Identical (artifact, content hash, extraction spec) inputs always
// map to the same cache entry, so cached text can be reused across retries of
// the same run without re-reading artifact bodies.
package glimpse

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// KeyPrefix namespaces cache keys in the shared Redis keyspace.
const KeyPrefix = "rlm:glimpse"

// ID derives the content-addressed glimpse id: the SHA-256 hex digest of the
// canonical JSON of {artifact_id, content_hash, spec}. Map keys serialize in
// sorted order, so the digest is stable for equal inputs.
func ID(artifactID, contentHash string, spec map[string]any) string {
	payload, err := json.Marshal(map[string]any{
		"artifact_id":  artifactID,
		"content_hash": contentHash,
		"spec":         spec,
	})
	if err != nil {
		// Specs are plain decoded JSON; marshaling them cannot fail. Fall
		// back to hashing the identifying pair alone.
		payload = []byte(artifactID + ":" + contentHash)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Key renders the full cache key for a run-scoped glimpse.
func Key(runID, glimpseID string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, runID, glimpseID)
}
