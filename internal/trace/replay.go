package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AnswerPreviewChars bounds the decision answer preview in replay output.
const AnswerPreviewChars = 120

// ReadLines parses every line of a trace file. Blank lines are skipped;
// a malformed line fails the whole read so corruption is visible.
func ReadLines(r io.Reader) ([]Line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []Line
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadFile parses the trace file for a run id under dir.
func ReadFile(dir, runID string) ([]Line, error) {
	f, err := os.Open(filepath.Join(dir, runID+".jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLines(f)
}

// Replay writes one human-readable timeline row per trace line.
func Replay(w io.Writer, lines []Line) error {
	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%s %s %s\n", line.TS, line.Stage, Summarize(line)); err != nil {
			return err
		}
	}
	return nil
}

// Summarize renders the stage-specific one-line summary of a trace line.
func Summarize(line Line) string {
	switch line.Stage {
	case StagePlan:
		return fmt.Sprintf("steps=%d candidate_ids=%d",
			listLen(line.Payload["steps"]), listLen(line.Payload["candidate_ids"]))
	case StageExamine:
		return fmt.Sprintf("events=%d glimpses=%d",
			listLen(line.Payload["events"]), listLen(line.Payload["glimpses"]))
	case StageDecision:
		answer, _ := line.Payload["final_answer_preview"].(string)
		if answer == "" {
			answer, _ = line.Payload["final_answer"].(string)
		}
		citations := listLen(line.Payload["citations"])
		if n, ok := numberField(line.Payload, "citations_count"); ok {
			citations = n
		}
		return fmt.Sprintf("answer=%s citations=%d", AnswerPreview(answer), citations)
	case StageError:
		message, _ := line.Payload["error"].(string)
		return fmt.Sprintf("error=%s", message)
	default:
		data, err := json.Marshal(line.Payload)
		if err != nil {
			return fmt.Sprintf("payload=%v", line.Payload)
		}
		return "payload=" + string(data)
	}
}

// AnswerPreview flattens newlines to spaces and truncates long answers at
// AnswerPreviewChars with an ellipsis marker. Applied both when emitting the
// decision trace line and when replaying it.
func AnswerPreview(answer string) string {
	answer = strings.ReplaceAll(answer, "\n", " ")
	answer = strings.ReplaceAll(answer, "\r", " ")
	if len(answer) > AnswerPreviewChars {
		return answer[:AnswerPreviewChars] + "..."
	}
	return answer
}

func listLen(v any) int {
	switch val := v.(type) {
	case []any:
		return len(val)
	case []map[string]any:
		return len(val)
	case []string:
		return len(val)
	default:
		return 0
	}
}

func numberField(payload map[string]any, key string) (int, bool) {
	switch val := payload[key].(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	default:
		return 0, false
	}
}
