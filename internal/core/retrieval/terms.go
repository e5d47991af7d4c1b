package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractTerms はクエリからキーワード一致ティア用の語を抽出する。
// 前後の記号を除いて小文字化し、MinTermLength より長い語を出現順に最大 MaxSearchTerms 個返す
func ExtractTerms(query string) []string {
	terms := make([]string, 0, MaxSearchTerms)
	seen := make(map[string]struct{})

	for _, field := range strings.Fields(query) {
		term := strings.ToLower(strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if utf8.RuneCountInString(term) <= MinTermLength {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
		if len(terms) == MaxSearchTerms {
			break
		}
	}

	return terms
}
