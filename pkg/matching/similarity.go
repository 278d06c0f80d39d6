package matching

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/Ramsey-B/rowan/pkg/models"
)

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	ra, rb := []rune(a), []rune(b)
	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	matchDist := max(max(len(ra), len(rb))/2-1, 0)

	aMatches := make([]bool, len(ra))
	bMatches := make([]bool, len(rb))

	matches := 0
	for i := range ra {
		start := max(0, i-matchDist)
		end := min(len(rb), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || ra[i] != rb[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-t)/m) / 3
}

// Levenshtein returns the edit distance normalized to a similarity between 0.0 and 1.0
func Levenshtein(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(LevenshteinDistance(a, b))/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	row := make([]int, len(rb)+1)
	prevRow := make([]int, len(rb)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 0
			if ra[i-1] != rb[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(rb)]
}

// TokenSortRatio compares two strings after sorting their whitespace separated tokens
func TokenSortRatio(a, b string) float64 {
	return Levenshtein(sortedTokens(strings.Fields(a)), sortedTokens(strings.Fields(b)))
}

// TokenSetRatio compares the shared tokens of two strings against each side's full token set.
// A string whose tokens are a subset of the other's scores 1.0.
func TokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)

	var inter, onlyA, onlyB []string
	for t := range setA {
		if setB[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}

	t0 := sortedTokens(inter)
	t1 := strings.TrimSpace(t0 + " " + sortedTokens(onlyA))
	t2 := strings.TrimSpace(t0 + " " + sortedTokens(onlyB))

	if t0 == "" {
		return Levenshtein(t1, t2)
	}
	return max(Levenshtein(t0, t1), Levenshtein(t0, t2), Levenshtein(t1, t2))
}

// Soundex calculates the four character Soundex encoding of a word. Non-letters are ignored.
func Soundex(word string) string {
	var letters []rune
	for _, r := range strings.ToUpper(word) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(letters[0])
	prevCode := soundexCode(letters[0])
	for _, r := range letters[1:] {
		if b.Len() >= 4 {
			break
		}
		code := soundexCode(r)
		// H and W do not separate letters with the same code
		if r == 'H' || r == 'W' {
			continue
		}
		if code != '0' && code != prevCode {
			b.WriteByte(code)
		}
		prevCode = code
	}

	for b.Len() < 4 {
		b.WriteByte('0')
	}
	return b.String()
}

func soundexCode(r rune) byte {
	switch r {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return '0'
	}
}

// DateProximity decays linearly from 1.0 at the same day to 0.0 at toleranceDays.
// Year-only dates on either side compare whole years. An unknown date on either
// side yields neutral.
func DateProximity(a, b models.PartialDate, toleranceDays int, neutral float64) float64 {
	if !a.IsKnown() || !b.IsKnown() {
		return neutral
	}
	if toleranceDays <= 0 {
		return boolScore(a.Year == b.Year && a.Month == b.Month && a.Day == b.Day)
	}

	var days float64
	if a.IsExact() && b.IsExact() {
		days = math.Abs(a.Time().Sub(b.Time()).Hours() / 24)
	} else {
		days = math.Abs(float64(a.Year-b.Year)) * 365
	}

	if days >= float64(toleranceDays) {
		return 0.0
	}
	return 1.0 - days/float64(toleranceDays)
}

func sortedTokens(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
