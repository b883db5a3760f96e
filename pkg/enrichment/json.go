package enrichment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONObject pulls the first balanced JSON object out of a model
// response that may be wrapped in prose or a markdown code fence.
func extractJSONObject(response string) (string, error) {
	start := strings.IndexByte(response, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := response[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("unbalanced JSON in response")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}

// parseLookupResult decodes a provider response into a LookupResult.
func parseLookupResult(response string) (*LookupResult, error) {
	payload, err := extractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var result LookupResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode lookup result: %w", err)
	}
	return &result, nil
}
