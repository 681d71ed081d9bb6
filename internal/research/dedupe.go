package research

import (
	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/textutil"
)

// NormalizeTitle is the dedup key: lowercase letters and digits only.
func NormalizeTitle(title string) string {
	return textutil.AlphaNumLower(title)
}

// Deduplicate keeps one finding per normalised title: the one with the highest
// relevance score, the earliest on ties. Survivors keep the position of the
// first finding seen for their key.
func Deduplicate(findings []domain.ResearchFinding) []domain.ResearchFinding {
	index := make(map[string]int, len(findings))
	out := make([]domain.ResearchFinding, 0, len(findings))

	for _, f := range findings {
		key := NormalizeTitle(f.Title)
		pos, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, f)
			continue
		}
		if f.RelevanceScore > out[pos].RelevanceScore {
			out[pos] = f
		}
	}
	return out
}
