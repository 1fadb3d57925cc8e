package guideline

import (
	"strings"
)

// Chunker splits guideline text into sections on markdown headers and blank
// lines, then cuts long sections on word boundaries.
type Chunker struct {
	MaxChars int
	MinChars int
}

func NewChunker(maxChars, minChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = 500
	}
	if minChars < 0 {
		minChars = 0
	}
	return &Chunker{MaxChars: maxChars, MinChars: minChars}
}

// Split returns the chunks of text in document order. Fragments shorter than
// MinChars are merged into a neighbour instead of being dropped.
func (c *Chunker) Split(text string) []string {
	var out []string
	carry := ""
	for _, section := range splitSections(text) {
		for _, piece := range splitWords(section, c.MaxChars) {
			if carry != "" {
				piece = carry + " " + piece
				carry = ""
			}
			if len(piece) < c.MinChars {
				if len(out) > 0 && len(out[len(out)-1])+len(piece)+1 <= c.MaxChars {
					out[len(out)-1] += "\n" + piece
				} else {
					carry = piece
				}
				continue
			}
			out = append(out, piece)
		}
	}
	if carry != "" {
		if len(out) > 0 {
			out[len(out)-1] += "\n" + carry
		} else {
			out = append(out, carry)
		}
	}
	return out
}

func splitSections(text string) []string {
	var sections []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			flush()
			current = append(current, line)
		default:
			current = append(current, line)
		}
	}
	flush()
	return sections
}

func splitWords(section string, maxChars int) []string {
	if len(section) <= maxChars {
		return []string{section}
	}
	var out []string
	var b strings.Builder
	for _, word := range strings.Fields(section) {
		if b.Len() > 0 && b.Len()+1+len(word) > maxChars {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
