package app

import (
	"strings"

	"staysearch/internal/domain"
)

// substringScore is 0 when q occurs in neither name; otherwise 1 plus the
// share of the best matching name covered by q, so exact names rank first.
func substringScore(q string, names ...string) float64 {
	best := 0.0
	for _, n := range names {
		f := domain.FoldText(n)
		if f == "" || !strings.Contains(f, q) {
			continue
		}
		if s := 1 + float64(len(q))/float64(len(f)); s > best {
			best = s
		}
	}
	return best
}

// similarityScore is the best trigram similarity of q against names.
func similarityScore(q string, names ...string) float64 {
	qt := trigrams(q)
	best := 0.0
	for _, n := range names {
		if s := jaccard(qt, trigrams(domain.FoldText(n))); s > best {
			best = s
		}
	}
	return best
}

// trigrams splits folded text into words, pads each with two leading and one
// trailing space, and collects the distinct three-rune windows.
func trigrams(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		r := []rune("  " + w + " ")
		for i := 0; i+3 <= len(r); i++ {
			out[string(r[i:i+3])] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
