package engine

import (
	"math"
	"sort"
)

// IDF is the classic inverse document frequency, 1 + ln(N / (df + 1)).
func IDF(docFreq, numDocs int64) float64 {
	return 1 + math.Log(float64(numDocs)/float64(docFreq+1))
}

// TF dampens a raw in-document frequency.
func TF(freq int) float64 {
	return math.Sqrt(float64(freq))
}

// LengthNorm favors short fields.
func LengthNorm(fieldLen int) float64 {
	if fieldLen <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(fieldLen))
}

// Coord rewards documents matching more of the query clauses.
func Coord(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// TermScore is the contribution of one matching clause.
func TermScore(weight float64, freq int, idf float64, fieldLen int) float64 {
	return weight * TF(freq) * idf * idf * LengthNorm(fieldLen)
}

// Accumulator sums clause scores per document and applies coord.
type Accumulator struct {
	total   int
	scores  map[DocRef]float64
	matched map[DocRef]int
}

// NewAccumulator prepares scoring for a query of n clauses.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{
		total:   n,
		scores:  make(map[DocRef]float64),
		matched: make(map[DocRef]int),
	}
}

// Add records one matching clause for ref.
func (a *Accumulator) Add(ref DocRef, score float64) {
	a.scores[ref] += score
	a.matched[ref]++
}

// TopHits returns the topK best documents with a positive score.
func (a *Accumulator) TopHits(topK int) []ScoredHit {
	hits := make([]ScoredHit, 0, len(a.scores))
	for ref, s := range a.scores {
		s *= Coord(a.matched[ref], a.total)
		if s > 0 {
			hits = append(hits, ScoredHit{Ref: ref, Score: s})
		}
	}
	SortHits(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SortHits orders hits by descending score, then by ref.
func SortHits(hits []ScoredHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ref < hits[j].Ref
	})
}
