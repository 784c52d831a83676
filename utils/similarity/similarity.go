package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so "Ōkami" and "Okami" compare equal.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a free-text title for comparison: lowercase,
// diacritics stripped, any run of characters outside [a-z0-9] collapsed to a
// single space, trimmed. Idempotent; empty input yields the empty string.
// A title that normalizes to "" must never be used as a match key.
func Normalize(title string) string {
	if title == "" {
		return ""
	}

	folded, _, err := transform.String(foldDiacritics, title)
	if err != nil {
		// Degrade to the raw string rather than failing the comparison.
		folded = title
	}

	var result strings.Builder
	result.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(result.String()), " ")
}

// Score calculates the similarity between two titles as a percentage in
// [0,100] using Levenshtein distance over the normalized forms. 100 means
// the titles are equal after normalization.
func Score(s1, s2 string) int {
	return int(Similarity(s1, s2)*100 + 0.5)
}

// Similarity is Score on a 0.0..1.0 scale.
//
// Also handles suffix containment for titles with possessive prefixes like
// "Rumiko Takahashi's Ranma" vs "Ranma" - if one title is a suffix of the
// other and represents a substantial portion (>40%), returns a high score.
func Similarity(s1, s2 string) float64 {
	s1 = Normalize(s1)
	s2 = Normalize(s2)

	if s1 == s2 {
		if s1 == "" {
			return 0.0 // empty never matches anything, including itself
		}
		return 1.0
	}

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	if score := suffixContainmentScore(s1, s2); score > 0 {
		return score
	}

	distance := levenshteinDistance(s1, s2)
	maxLen := max(len(s1), len(s2))

	return 1.0 - float64(distance)/float64(maxLen)
}

// suffixContainmentScore returns a high similarity score if one string is a
// suffix of the other and represents a substantial portion of the longer
// string. Returns 0 if no suffix containment is found.
func suffixContainmentScore(s1, s2 string) float64 {
	longer, shorter := s1, s2
	if len(s1) < len(s2) {
		longer, shorter = s2, s1
	}

	if strings.HasSuffix(longer, shorter) {
		// The prefix must end at a word boundary.
		prefixLen := len(longer) - len(shorter)
		if prefixLen == 0 || longer[prefixLen-1] == ' ' {
			ratio := float64(len(shorter)) / float64(len(longer))
			// 40% is low enough to cover long possessive or author prefixes
			// ("Rumiko Takahashi's ...") without letting a stray final word
			// claim a whole franchise.
			if ratio >= 0.4 {
				// 40% containment -> 0.94, 70% -> 0.97, 100% -> 1.0
				return 0.90 + (ratio * 0.10)
			}
		}
	}

	return 0
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	len1 := len(r1)
	len2 := len(r2)

	matrix := make([][]int, len1+1)
	for i := range matrix {
		matrix[i] = make([]int, len2+1)
	}

	for i := 0; i <= len1; i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len2; j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len1; i++ {
		for j := 1; j <= len2; j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}

			matrix[i][j] = minOf(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len1][len2]
}

func minOf(values ...int) int {
	if len(values) == 0 {
		return 0
	}
	minVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
	}
	return minVal
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
