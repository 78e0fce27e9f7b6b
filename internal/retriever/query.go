// Package retriever provides keyword retrieval over an embedded SQLite FTS5 index.
package retriever

import (
	"regexp"
	"strings"
)

// The unicode61 tokenizer splits on word boundaries, which leaves CJK runs as
// single over-long tokens. Queries compensate two ways: bounded sub-phrases of
// long CJK tokens, and ordered phrase matches against a bigram token stream
// indexed alongside the raw text.

// tokenRe extracts word tokens: ASCII word runs or CJK runs (ideographs,
// kana, hangul, compatibility ideographs).
var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+|[\x{3400}-\x{4DBF}\x{4E00}-\x{9FFF}\x{3005}\x{3040}-\x{30FF}\x{AC00}-\x{D7AF}\x{F900}-\x{FAFF}]+`)

// cjkSepToken separates bigram runs in the indexed stream so grams from
// different runs cannot match as one phrase.
const cjkSepToken = "__CJK_SEP__"

// cjkConjunctions are common conjunction-like characters long CJK tokens are
// split on to match shorter punctuated segments.
const cjkConjunctions = "和与及跟或但而"

const (
	// maxMatchTerms caps the whole MATCH expression, not per token, so a query
	// with many long CJK runs cannot blow up the expression.
	maxMatchTerms = 24
	// maxBigramPhrases caps ngram phrase sub-expressions across all tokens.
	maxBigramPhrases = 6
)

func isCJKRune(r rune) bool {
	return (r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

func isCJKToken(token string) bool {
	for _, r := range token {
		if isCJKRune(r) {
			return true
		}
	}
	return false
}

// cjkBigrams returns overlapping 2-rune grams; a 1-rune token yields itself.
func cjkBigrams(token string) []string {
	runes := []rune(token)
	if len(runes) <= 1 {
		return []string{token}
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// buildNgramText builds the whitespace-delimited bigram token stream indexed in
// the text_ngrams column, so the default tokenizer indexes each gram as an
// independent token. Non-CJK tokens pass through unchanged.
func buildNgramText(text string) string {
	tokens := tokenRe.FindAllString(text, -1)
	var out []string
	for _, tok := range tokens {
		if isCJKToken(tok) {
			out = append(out, cjkBigrams(tok)...)
		} else {
			out = append(out, tok)
		}
		out = append(out, cjkSepToken)
	}
	return strings.Join(out, " ")
}

// buildMatchQuery builds a safe FTS5 MATCH expression. Raw tokens come first;
// remaining term budget goes to conjunction-split fragments and bounded
// sliding-window sub-phrases of long CJK tokens, which improves recall for
// unsegmented CJK queries. Every term is quoted for phrase matching.
func buildMatchQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return `""`
	}

	rawTokens := tokenRe.FindAllString(query, -1)

	var tokens []string
	seen := make(map[string]struct{})
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	for _, tok := range rawTokens {
		add(tok)
		if len(tokens) >= maxMatchTerms {
			break
		}
	}

	if len(tokens) < maxMatchTerms {
		for _, tok := range rawTokens {
			if len(tokens) >= maxMatchTerms {
				break
			}
			if !isCJKToken(tok) {
				continue
			}

			split := tok
			for _, sep := range cjkConjunctions {
				split = strings.ReplaceAll(split, string(sep), " ")
			}
			for _, part := range strings.Fields(split) {
				add(part)
				if len(tokens) >= maxMatchTerms {
					break
				}
			}
			if len(tokens) >= maxMatchTerms {
				break
			}

			// Sliding sub-phrases (lengths 4, 3, 2) for very long tokens.
			runes := []rune(tok)
			if len(runes) >= 8 {
				for _, window := range []int{4, 3, 2} {
					if len(tokens) >= maxMatchTerms {
						break
					}
					for i := 0; i+window <= len(runes); i++ {
						add(string(runes[i : i+window]))
						if len(tokens) >= maxMatchTerms {
							break
						}
					}
				}
			}
		}
	}

	if len(tokens) == 0 {
		return `""`
	}

	terms := make([]string, 0, len(tokens))
	for _, term := range tokens {
		escaped := strings.ReplaceAll(term, `"`, `""`)
		terms = append(terms, `"`+escaped+`"`)
	}
	return strings.Join(terms, " OR ")
}

// buildBigramPhraseQuery builds a MATCH expression scoped to the text_ngrams
// column: each CJK query token becomes an ordered phrase over its bigrams, so
// the token matches even as a substring of a longer indexed CJK run. Returns
// an empty string when the query has no CJK tokens.
func buildBigramPhraseQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	rawTokens := tokenRe.FindAllString(query, -1)
	var phrases []string
	seen := make(map[string]struct{})

	for _, tok := range rawTokens {
		if !isCJKToken(tok) {
			continue
		}
		grams := cjkBigrams(tok)
		if len(grams) == 0 {
			continue
		}
		phrase := strings.Join(grams, " ")
		if _, ok := seen[phrase]; ok {
			continue
		}
		seen[phrase] = struct{}{}
		phrases = append(phrases, phrase)
		if len(phrases) >= maxBigramPhrases {
			break
		}
	}

	if len(phrases) == 0 {
		return ""
	}

	parts := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		escaped := strings.ReplaceAll(phrase, `"`, `""`)
		parts = append(parts, `text_ngrams:"`+escaped+`"`)
	}
	return strings.Join(parts, " OR ")
}
