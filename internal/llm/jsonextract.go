package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON recovers a JSON value from model output that may be wrapped
// in prose or fences. Three stages, in order:
//
//  1. Parse the whole trimmed response.
//  2. Find the first '{' or '[' (whichever comes first); from the last
//     matching closer, work backwards trying each candidate end position
//     until one parses.
//  3. Fail with the response prefix for diagnosis.
func ExtractJSON(response string, v interface{}) error {
	trimmed := strings.TrimSpace(response)
	if json.Unmarshal([]byte(trimmed), v) == nil {
		return nil
	}

	start, closer := jsonStart(trimmed)
	if start >= 0 {
		for end := strings.LastIndex(trimmed, closer); end > start; end = strings.LastIndex(trimmed[:end], closer) {
			candidate := trimmed[start : end+1]
			if json.Unmarshal([]byte(candidate), v) == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("no parseable JSON in response: %s", truncate(trimmed, 200))
}

// jsonStart returns the index of the first '{' or '[' and its matching
// closer, or -1 when neither occurs.
func jsonStart(s string) (int, string) {
	obj := strings.Index(s, "{")
	arr := strings.Index(s, "[")
	switch {
	case obj == -1 && arr == -1:
		return -1, ""
	case arr == -1 || (obj != -1 && obj < arr):
		return obj, "}"
	default:
		return arr, "]"
	}
}
