// Package chunker splits extracted document segments into chunks while
// tracking the stack of ancestor headings.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
)

const (
	DefaultMaxChars = 1500
	DefaultOverlap  = 150
)

var markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(\S.*)$`)

type Chunker struct {
	maxChars int
	overlap  int
	markdown bool
}

type Option func(*Chunker)

// WithMaxChars bounds chunk length in characters (runes).
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithOverlap sets how many trailing characters of a chunk are repeated at
// the start of the next one when a segment has to be split.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithMarkdownHeadings treats "# Title" lines inside segment text as
// headings. On by default.
func WithMarkdownHeadings(on bool) Option {
	return func(c *Chunker) { c.markdown = on }
}

func New(opts ...Option) *Chunker {
	c := &Chunker{maxChars: DefaultMaxChars, overlap: DefaultOverlap, markdown: true}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.maxChars/2 {
		c.overlap = c.maxChars / 4
	}
	return c
}

type part struct {
	heading string
	level   int
	text    string
}

// Chunk turns a validated request into its full chunk set, ids included.
// Chunk indexes run from 0 in document order. Whitespace-only text yields
// nothing, so the result may be empty.
func (c *Chunker) Chunk(req *ingestion.Request) []chunk.Chunk {
	var (
		out   []chunk.Chunk
		stack []string
	)
	for _, seg := range req.Segments {
		if len(seg.HeadingPath) > 0 {
			stack = append([]string(nil), seg.HeadingPath...)
		}
		if h := strings.TrimSpace(seg.Heading); h != "" {
			stack = pushHeading(stack, h, seg.Level, len(seg.HeadingPath) > 0)
		}
		for _, p := range c.parts(seg.Text) {
			if p.heading != "" {
				stack = pushHeading(stack, p.heading, p.level, false)
			}
			for _, text := range c.split(p.text) {
				ch := chunk.Chunk{
					CourseID:       req.CourseID,
					FileID:         req.FileID,
					Title:          title(req, stack),
					Content:        text,
					Page:           seg.Page,
					ChunkIndex:     len(out),
					Kind:           chunk.Kind(req.Kind),
					SourcePlatform: strings.TrimSpace(req.SourcePlatform),
				}
				if len(stack) > 0 {
					ch.Heading = stack[len(stack)-1]
					ch.HeadingPath = append([]string(nil), stack...)
				}
				ch.ID = chunk.StableID(ch)
				out = append(out, ch)
			}
		}
	}
	return out
}

// pushHeading opens heading at level: the stack is cut to level-1 entries
// and heading is pushed. Level 0 means a sibling of the current leaf, or a
// child of the path when the segment carried an explicit one. An explicit
// path ending in heading already holds it.
func pushHeading(stack []string, heading string, level int, explicitPath bool) []string {
	if explicitPath && len(stack) > 0 && stack[len(stack)-1] == heading {
		return stack
	}
	if level <= 0 {
		if explicitPath {
			level = len(stack) + 1
		} else {
			level = max(len(stack), 1)
		}
	}
	if len(stack) > level-1 {
		stack = stack[:level-1]
	}
	return append(stack, heading)
}

func title(req *ingestion.Request, stack []string) string {
	if req.Title != "" {
		return req.Title
	}
	if len(stack) > 0 {
		return stack[len(stack)-1]
	}
	return req.FileID
}

// parts splits text at markdown heading lines when enabled.
func (c *Chunker) parts(text string) []part {
	if !c.markdown || !strings.Contains(text, "#") {
		return []part{{text: text}}
	}
	var (
		out []part
		cur part
		buf strings.Builder
	)
	flush := func() {
		cur.text = buf.String()
		if cur.heading != "" || strings.TrimSpace(cur.text) != "" {
			out = append(out, cur)
		}
		buf.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if m := markdownHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			cur = part{heading: strings.TrimSpace(m[2]), level: len(m[1])}
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return out
}

// split cuts text into windows of at most maxChars runes, preferring
// paragraph, then sentence, then word boundaries in the second half of a
// window.
func (c *Chunker) split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	r := []rune(text)
	if len(r) <= c.maxChars {
		return []string{text}
	}
	var out []string
	start := 0
	for start < len(r) {
		end := start + c.maxChars
		if end >= len(r) {
			if piece := strings.TrimSpace(string(r[start:])); piece != "" {
				out = append(out, piece)
			}
			break
		}
		cut := boundary(r, start, end)
		if piece := strings.TrimSpace(string(r[start:cut])); piece != "" {
			out = append(out, piece)
		}
		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = wordStart(r, next, cut)
	}
	return out
}

func boundary(r []rune, start, end int) int {
	min := start + (end-start)/2
	for i := end; i > min; i-- {
		if i >= 2 && r[i-1] == '\n' && r[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > min; i-- {
		if i < len(r) && unicode.IsSpace(r[i]) && strings.ContainsRune(".!?", r[i-1]) {
			return i
		}
	}
	for i := end; i > min; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return end
}

// wordStart moves i forward to the start of a word, never past limit.
func wordStart(r []rune, i, limit int) int {
	if i > 0 && !unicode.IsSpace(r[i-1]) {
		for i < limit && !unicode.IsSpace(r[i]) {
			i++
		}
	}
	for i < limit && unicode.IsSpace(r[i]) {
		i++
	}
	return i
}
