package hierarchy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseDeliverable extracts a Deliverable from raw model output. Agents are
// asked to emit a JSON object, but in practice the payload arrives wrapped in
// markdown fences or with the small syntax defects typical of generated JSON,
// so parsing strips fences first and runs a repair pass before giving up.
func ParseDeliverable(raw string) (*Deliverable, error) {
	text := stripCodeFence(raw)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty deliverable payload")
	}

	var d Deliverable
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, fmt.Errorf("parse deliverable: %w", err)
		}
		if rerr := json.Unmarshal([]byte(repaired), &d); rerr != nil {
			return nil, fmt.Errorf("parse deliverable: %w", err)
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// stripCodeFence unwraps a ```json ... ``` (or bare ```) block when the whole
// payload is a single fenced block, otherwise returns the input unchanged.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if idx := strings.Index(body, "\n"); idx >= 0 {
		// Drop the language tag on the opening fence line.
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
