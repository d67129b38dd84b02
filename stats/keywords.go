package stats

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Keyword is a term and the number of times it occurs.
type Keyword struct {
	Term  string `json:"term" msgpack:"term"`
	Count int    `json:"count" msgpack:"count"`
}

// KeywordExtractor turns review bodies into ranked keywords.
type KeywordExtractor interface {
	Extract(ctx context.Context, texts []string, limit int) ([]Keyword, error)
}

// KeywordExtractorFunc adapts a function to KeywordExtractor.
type KeywordExtractorFunc func(ctx context.Context, texts []string, limit int) ([]Keyword, error)

func (f KeywordExtractorFunc) Extract(ctx context.Context, texts []string, limit int) ([]Keyword, error) {
	return f(ctx, texts, limit)
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "was": {},
	"with": {}, "this": {}, "that": {}, "after": {}, "could": {}, "have": {},
	"has": {}, "its": {}, "it's": {}, "you": {}, "all": {}, "too": {}, "very": {},
}

// FrequencyExtractor ranks words by how often they occur. Words shorter
// than MinLength and common stop words are ignored.
type FrequencyExtractor struct {
	MinLength int
}

func (e FrequencyExtractor) Extract(ctx context.Context, texts []string, limit int) ([]Keyword, error) {
	minLen := e.MinLength
	if minLen <= 0 {
		minLen = 3
	}

	counts := map[string]int{}
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		for _, w := range words {
			w = strings.Trim(w, "'")
			if len([]rune(w)) < minLen {
				continue
			}
			if _, stop := stopWords[w]; stop {
				continue
			}
			counts[w]++
		}
	}

	keywords := make([]Keyword, 0, len(counts))
	for term, n := range counts {
		keywords = append(keywords, Keyword{Term: term, Count: n})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Count != keywords[j].Count {
			return keywords[i].Count > keywords[j].Count
		}
		return keywords[i].Term < keywords[j].Term
	})
	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords, nil
}
