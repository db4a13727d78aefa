package memory

import (
	"sort"
	"strings"
)

// Terms разбивает запрос на значимые слова: нижний регистр, без пунктуации,
// короче трех символов и LIKE-метасимволы выбрасываются.
func Terms(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,!?;:"'()[]{}`)
		w = strings.NewReplacer("%", "", "_", "", `\`, "").Replace(w)
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Score — доля слов запроса, встречающихся в тексте, [0,1]
func Score(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hit := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// TopN сортирует по убыванию score, при равенстве свежие первыми
func TopN(entries []Entry, n int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
