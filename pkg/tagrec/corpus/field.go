package corpus

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	quote     = '"'
	separator = ','
)

// FieldParser reads double-quoted fields from a character stream.
//
// Everything before an opening quote is discarded. Inside a field a quote
// followed by a separator or line terminator closes the field, a doubled
// quote is one literal quote, and any other character after a quote is kept
// together with the quote. Malformed input never fails; the parser recovers
// by treating stray quotes as text.
type FieldParser struct {
	r *bufio.Reader
}

// NewFieldParser wraps r. If r is already a *bufio.Reader it is used directly.
func NewFieldParser(r io.Reader) *FieldParser {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FieldParser{r: br}
}

// ParseField returns the next field. ok is false when the stream ended
// before an opening quote was seen.
func (p *FieldParser) ParseField() (value string, ok bool, err error) {
	// Seek the opening quote.
	for {
		c, _, err := p.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if c == quote {
			break
		}
	}

	var sb strings.Builder
	for {
		c, _, err := p.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return sb.String(), true, nil
		}
		if err != nil {
			return "", false, err
		}
		if c != quote {
			sb.WriteRune(c)
			continue
		}

		next, _, err := p.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return sb.String(), true, nil
		}
		if err != nil {
			return "", false, err
		}
		switch next {
		case separator, '\r', '\n':
			return sb.String(), true, nil
		case quote:
			sb.WriteRune(quote)
		default:
			sb.WriteRune(quote)
			sb.WriteRune(next)
		}
	}
}
