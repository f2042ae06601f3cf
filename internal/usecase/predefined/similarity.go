package predefined

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kailas-cloud/ragdex/internal/domain/query"
)

const (
	keywordBonus    = 0.1
	maxKeywordBonus = 0.3
)

// synonymGroups maps a canonical term to the phrasings users write instead.
// Longer phrases come first so they win over their own sub-phrases.
var synonymGroups = []struct {
	canonical string
	variants  []string
}{
	{"css", []string{"caisse de sécurité sociale", "sécurité sociale", "caisse"}},
	{"retraite", []string{"pension", "retirement", "cessation d'activité"}},
	{"cotisation", []string{"contribution", "versement", "prélèvement"}},
	{"allocations", []string{"prestations", "indemnités", "aides"}},
	{"remboursement", []string{"remboursé", "rembourser", "prise en charge"}},
}

type synonym struct {
	from, to string
}

var synonyms = buildSynonyms()

func buildSynonyms() []synonym {
	var out []synonym
	for _, g := range synonymGroups {
		to := " " + query.Normalize(g.canonical) + " "
		for _, v := range g.variants {
			out = append(out, synonym{from: " " + query.Normalize(v) + " ", to: to})
		}
	}
	return out
}

// canonicalize normalizes s and rewrites synonyms to their canonical term.
// Replacement is whole-word so "caisses" is left alone.
func canonicalize(s string) string {
	padded := " " + query.Normalize(s) + " "
	for _, syn := range synonyms {
		for strings.Contains(padded, syn.from) {
			padded = strings.ReplaceAll(padded, syn.from, syn.to)
		}
	}
	return strings.TrimSpace(padded)
}

// ratio is the Ratcliff/Obershelp similarity 2·M/T over runes.
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(runeStrings(a), runeStrings(b)).Ratio()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// score combines string similarity with a capped keyword bonus. Inputs are canonical.
func score(q, question string, keywords []string) float64 {
	padded := " " + q + " "
	bonus := 0.0
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			bonus += keywordBonus
		}
	}
	return min(1.0, ratio(q, question)+min(bonus, maxKeywordBonus))
}
