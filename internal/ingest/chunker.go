package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

// Chunk size defaults, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// Chunker packs paragraphs into chunks of at most Size runes. Each chunk
// after the first repeats up to Overlap runes from the end of the
// previous one, cut at a word boundary.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive values take the defaults and
// an overlap that does not fit inside a chunk is reduced to a fifth of it.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunks of text in order. Whitespace-only text yields none.
func (c *Chunker) Split(text string) []string {
	var (
		out   []string
		cur   []rune
		fresh int // runes in cur that are not overlap
	)

	emit := func(r []rune) {
		if s := strings.TrimSpace(string(r)); s != "" {
			out = append(out, s)
		}
	}
	flush := func() {
		if fresh == 0 {
			return
		}
		emit(cur)
		cur = c.tail(cur)
		fresh = 0
	}

	for _, para := range paragraphs(text) {
		p := []rune(para)

		if len(p) > c.size {
			flush()
			cur = nil
			last := c.windows(p, emit)
			cur = c.tail(last)
			continue
		}

		sep := 0
		if len(cur) > 0 {
			sep = 2
		}
		if len(cur)+sep+len(p) > c.size {
			flush()
			if len(cur)+2+len(p) > c.size {
				cur = nil
			}
		}
		if len(cur) > 0 {
			cur = append(cur, '\n', '\n')
		}
		cur = append(cur, p...)
		fresh += len(p)
	}
	flush()
	return out
}

// windows emits p in Size-rune windows stepping by Size-Overlap and
// returns the last window.
func (c *Chunker) windows(p []rune, emit func([]rune)) []rune {
	step := c.size - c.overlap
	var last []rune
	for start := 0; start < len(p); start += step {
		end := min(start+c.size, len(p))
		last = p[start:end]
		emit(last)
		if end == len(p) {
			break
		}
	}
	return last
}

// tail returns the overlap carried into the next chunk.
func (c *Chunker) tail(r []rune) []rune {
	if c.overlap == 0 || len(r) == 0 {
		return nil
	}
	if len(r) <= c.overlap {
		return append([]rune(nil), r...)
	}
	start := len(r) - c.overlap
	t := r[start:]
	if !unicode.IsSpace(r[start-1]) {
		// Mid-word: drop the partial word.
		for i, ch := range t {
			if unicode.IsSpace(ch) {
				t = t[i+1:]
				break
			}
		}
	}
	return []rune(strings.TrimSpace(string(t)))
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.Join(strings.Fields(p), " "))
		}
	}
	return out
}
