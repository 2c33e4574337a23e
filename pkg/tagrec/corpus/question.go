package corpus

import (
	"errors"
	"strings"
)

// Question is one tagged corpus record, or an untagged question to recommend for.
type Question struct {
	ID    int64
	Title string
	Body  string
	Tags  string // whitespace-separated tag tokens
}

// Validate checks that a corpus question carries every field.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(q.Body) == "" {
		return errors.New("body is required")
	}
	if strings.TrimSpace(q.Tags) == "" {
		return errors.New("tags are required")
	}
	return nil
}

// TagList returns the distinct tag tokens in first-seen order.
func (q Question) TagList() []string {
	return SplitTags(q.Tags)
}

// SplitTags splits a whitespace-delimited tag string into distinct tokens.
func SplitTags(tags string) []string {
	fields := strings.Fields(tags)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
