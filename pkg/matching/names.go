package matching

import (
	"strings"

	"github.com/Ramsey-B/rowan/pkg/normalizers"
)

// synonymScore is the token similarity granted to spellings in the same synonym group
const synonymScore = 0.9

// synonymGroups are Americanizations of German (and a few Dutch) given and family names.
// The first entry of each group is its canonical spelling.
var synonymGroups = [][]string{
	{"john", "johann", "johannes", "hans", "jan"},
	{"william", "wilhelm", "willem"},
	{"henry", "heinrich", "heinz", "hendrik"},
	{"frank", "franz", "francis", "frans"},
	{"frederick", "friedrich", "fritz"},
	{"charles", "karl", "carl"},
	{"george", "georg", "jorg"},
	{"joseph", "josef", "sepp"},
	{"jacob", "jakob"},
	{"michael", "michel"},
	{"louis", "ludwig", "lewis"},
	{"august", "augustus", "gus"},
	{"anthony", "anton", "antonius"},
	{"adolph", "adolf"},
	{"rudolph", "rudolf"},
	{"ernest", "ernst"},
	{"conrad", "konrad"},
	{"gustave", "gustav", "gustavus"},
	{"christopher", "christoph"},
	{"anna", "anne", "ann"},
	{"mary", "maria", "marie"},
	{"margaret", "margarethe", "margarete", "gretchen", "greta"},
	{"catherine", "katharina", "katherine", "kathryn"},
	{"elizabeth", "elisabeth", "elise", "liesel"},
	{"caroline", "karoline"},
	{"miller", "mueller", "muller", "moeller"},
	{"smith", "schmidt", "schmitt", "schmid"},
	{"snyder", "schneider", "snider"},
	{"myers", "meyer", "maier", "mayer", "meier"},
	{"shoemaker", "schumacher", "schuhmacher"},
	{"baker", "becker", "baecker"},
	{"carpenter", "zimmermann", "zimmerman"},
	{"fisher", "fischer"},
	{"weaver", "weber"},
	{"hoffman", "hoffmann", "hofmann"},
	{"wagner", "waggoner"},
	{"young", "jung"},
	{"king", "koenig", "konig"},
	{"fox", "fuchs"},
	{"black", "schwarz", "schwartz"},
	{"white", "weiss", "weis"},
	{"cline", "klein", "kline"},
	{"long", "lang"},
	{"stone", "stein"},
}

var synonymIndex = buildSynonymIndex()

func buildSynonymIndex() map[string]int {
	index := make(map[string]int)
	for i, group := range synonymGroups {
		for _, name := range group {
			index[name] = i
		}
	}
	return index
}

// CanonicalToken maps a folded name token to the canonical spelling of its synonym group
func CanonicalToken(token string) string {
	if i, ok := synonymIndex[token]; ok {
		return synonymGroups[i][0]
	}
	return token
}

// SameSynonymGroup reports whether two folded tokens are spellings of the same name
func SameSynonymGroup(a, b string) bool {
	ia, okA := synonymIndex[a]
	ib, okB := synonymIndex[b]
	return okA && okB && ia == ib
}

// FoldTokens folds name tokens into their comparison form
func FoldTokens(tokens []string) []string {
	return strings.Fields(normalizers.Fold(strings.Join(tokens, " ")))
}

// TokenSimilarity compares two folded name tokens
func TokenSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	sim := JaroWinkler(a, b)
	if SameSynonymGroup(a, b) {
		sim = max(sim, synonymScore)
	}
	return sim
}

// NameSimilarity is order-insensitive and tolerates subset and superset token lists.
// It takes the better of a token-sort edit similarity and a greedy one-to-one token
// alignment that is lightly penalized for unaligned tokens.
func NameSimilarity(a, b []string) float64 {
	fa, fb := FoldTokens(a), FoldTokens(b)
	if len(fa) == 0 || len(fb) == 0 {
		return 0.0
	}
	sorted := Levenshtein(sortedTokens(fa), sortedTokens(fb))
	return max(sorted, alignTokens(fa, fb))
}

func alignTokens(a, b []string) float64 {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	sims := make([][]float64, len(short))
	for i, s := range short {
		sims[i] = make([]float64, len(long))
		for j, l := range long {
			sims[i][j] = TokenSimilarity(s, l)
		}
	}

	usedShort := make([]bool, len(short))
	usedLong := make([]bool, len(long))
	total := 0.0
	for range short {
		bestI, bestJ, best := -1, -1, -1.0
		for i := range short {
			if usedShort[i] {
				continue
			}
			for j := range long {
				if !usedLong[j] && sims[i][j] > best {
					bestI, bestJ, best = i, j, sims[i][j]
				}
			}
		}
		usedShort[bestI] = true
		usedLong[bestJ] = true
		total += best
	}

	mean := total / float64(len(short))
	coverage := float64(len(short)) / float64(len(long))
	return mean * (0.85 + 0.15*coverage)
}
