package rank

import (
	"sort"

	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
)

// Ranker accumulates tag scores from similar questions for one
// recommendation call. It is not safe for concurrent use.
type Ranker struct {
	scores map[string]float64
	max    float64
}

// TagScore is a selected tag.
type TagScore struct {
	Tag        string  `json:"tag"`
	Score      float64 `json:"score"`
	Proportion float64 `json:"proportion"` // score / best score
}

// New creates an empty ranker.
func New() *Ranker {
	return &Ranker{scores: make(map[string]float64)}
}

// Increase adds amount to tag's score. Negative amounts count as zero.
func (r *Ranker) Increase(tag string, amount float64) {
	if amount < 0 {
		amount = 0
	}
	s := r.scores[tag] + amount
	r.scores[tag] = s
	if s > r.max {
		r.max = s
	}
}

// AddHit credits the full hit score to each distinct tag in tags.
func (r *Ranker) AddHit(tags string, score float64) {
	for _, tag := range corpus.SplitTags(tags) {
		r.Increase(tag, score)
	}
}

// Score returns the accumulated score of tag.
func (r *Ranker) Score(tag string) float64 {
	return r.scores[tag]
}

// Proportion returns tag's score relative to the best tag, or 0 when no tag
// has a positive score.
func (r *Ranker) Proportion(tag string) float64 {
	if r.max == 0 {
		return 0
	}
	return r.scores[tag] / r.max
}

// Len returns the number of tracked tags.
func (r *Ranker) Len() int {
	return len(r.scores)
}

// Select returns the tags whose proportion is at least threshold, best
// first, ties broken alphabetically.
func (r *Ranker) Select(threshold float64) []TagScore {
	out := make([]TagScore, 0, len(r.scores))
	for tag, s := range r.scores {
		p := r.Proportion(tag)
		if r.max == 0 || p < threshold {
			continue
		}
		out = append(out, TagScore{Tag: tag, Score: s, Proportion: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Tags returns the tag names of a selection.
func Tags(selected []TagScore) []string {
	tags := make([]string, len(selected))
	for i, s := range selected {
		tags[i] = s.Tag
	}
	return tags
}
