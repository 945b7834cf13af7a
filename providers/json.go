package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripJSONFences removes markdown code fences around a JSON body.
// Models asked for raw JSON frequently wrap it in ```json ... ``` anyway.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// DecodeJSON strips fences from a model response and unmarshals it into v.
func DecodeJSON(content string, v any) error {
	cleaned := StripJSONFences(content)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("failed to parse model JSON output: %w", err)
	}
	return nil
}
