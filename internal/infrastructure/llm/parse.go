package llm

import (
	"encoding/json"
	"strings"

	"PolicyWatch/internal/domain"
)

// ParseClassification extracts the JSON object from a model reply. Replies
// may be wrapped in code fences or prose. ok is false when no object decodes.
func ParseClassification(reply string) (domain.Classification, bool) {
	body := stripFences(strings.TrimSpace(reply))

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return domain.Classification{Findings: []domain.RawFinding{}}, false
	}

	var out domain.Classification
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return domain.Classification{Findings: []domain.RawFinding{}}, false
	}
	if out.Findings == nil {
		out.Findings = []domain.RawFinding{}
	}
	return out, true
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
