package dedup

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// processToken lowercases s and replaces every non letter/digit rune with a space.
func processToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// sortedTokens is the token-sort form: processed, split, sorted, rejoined.
func sortedTokens(s string) string {
	tokens := strings.Fields(processToken(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// indelDistance counts the insertions and deletions turning a into b. A
// substitution costs two.
func indelDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for _, ra := range a {
		for j, rb := range b {
			switch {
			case ra == rb:
				cur[j+1] = prev[j] + 1
			case prev[j+1] >= cur[j]:
				cur[j+1] = prev[j+1]
			default:
				cur[j+1] = cur[j]
			}
		}
		prev, cur = cur, prev
	}
	return len(a) + len(b) - 2*prev[len(b)]
}

// ratio is 100 * (total length - indel distance) / total length, rounded.
func ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	dist := indelDistance(ra, rb)
	return int(math.Round(100 * float64(total-dist) / float64(total)))
}

// TokenSortRatio scores two strings 0-100 ignoring word order, case and punctuation.
// Empty input on either side scores 0.
func TokenSortRatio(a, b string) int {
	sa, sb := sortedTokens(a), sortedTokens(b)
	if sa == "" || sb == "" {
		return 0
	}
	return ratio(sa, sb)
}
