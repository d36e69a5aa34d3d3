package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

const defaultSnippetChars = 240

var _ SearchIndex = (*Engine)(nil)

// Engine is the in-memory SearchIndex. Postings live in index.MemoryIndex;
// the engine keeps the chunk fields needed for filtering, snippets and the
// optional vector blend.
type Engine struct {
	memIndex     *index.MemoryIndex
	mu           sync.RWMutex
	docs         map[string]*chunk.Chunk
	byFile       map[string]map[string]struct{}
	scopes       map[scope]*scopeStats
	snippetChars int
	vectorWeight float64
	bm25         ranker.BM25
	logger       *slog.Logger
}

// NewEngine creates an empty engine. vectorWeight in [0,1] sets how much
// cosine similarity contributes when both query and chunk carry embeddings.
func NewEngine(cfg config.IndexConfig, vectorWeight float64) *Engine {
	snippet := cfg.SnippetChars
	if snippet <= 0 {
		snippet = defaultSnippetChars
	}
	return &Engine{
		memIndex:     index.NewMemoryIndex(),
		docs:         make(map[string]*chunk.Chunk),
		byFile:       make(map[string]map[string]struct{}),
		scopes:       make(map[scope]*scopeStats),
		snippetChars: snippet,
		vectorWeight: math.Max(0, math.Min(1, vectorWeight)),
		bm25:         ranker.BM25{K1: cfg.BM25K1, B: cfg.BM25B},
		logger:       slog.Default().With("component", "memory-index"),
	}
}

func (e *Engine) IndexChunks(ctx context.Context, chunks []chunk.Chunk) error {
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.ID == "" || c.FileID == "" || c.CourseID == "" {
			return apperrors.NewValidationError(map[string]string{
				fmt.Sprintf("chunks[%d]", i): "id, file_id and course_id are required",
			})
		}
		tokens := tokenizer.Tokenize(c.SearchText())
		stored := c
		e.mu.Lock()
		if prev, ok := e.docs[c.ID]; ok {
			e.account(prev, e.memIndex.DocLen(c.ID), -1)
			if prev.FileID != c.FileID {
				delete(e.byFile[prev.FileID], c.ID)
			}
		}
		e.memIndex.Add(c.ID, tokens)
		e.docs[c.ID] = &stored
		e.account(&stored, len(tokens), 1)
		if e.byFile[c.FileID] == nil {
			e.byFile[c.FileID] = make(map[string]struct{})
		}
		e.byFile[c.FileID][c.ID] = struct{}{}
		e.mu.Unlock()
	}
	e.logger.Debug("chunks indexed", "count", len(chunks), "total", e.memIndex.DocCount())
	return nil
}

func (e *Engine) DeleteByFile(ctx context.Context, fileID string) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.byFile[fileID]))
	for id := range e.byFile[fileID] {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	return e.DeleteChunks(ctx, ids)
}

func (e *Engine) DeleteChunks(_ context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		doc, ok := e.docs[id]
		if !ok {
			continue
		}
		e.account(doc, e.memIndex.DocLen(id), -1)
		e.memIndex.Remove(id)
		delete(e.docs, id)
		if files := e.byFile[doc.FileID]; files != nil {
			delete(files, id)
			if len(files) == 0 {
				delete(e.byFile, doc.FileID)
			}
		}
	}
	return nil
}

// Search ranks chunks of one course with BM25. Every query word is
// optional; excluded terms remove a chunk outright.
func (e *Engine) Search(ctx context.Context, q Query) (*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.CourseID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "course id is required")
	}
	plan := parser.Parse(q.Text)
	if plan.Empty() {
		return &SearchResult{Hits: []ScoredHit{}}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Document frequencies, corpus size and the ceiling are taken over the
	// course (and kind) alone, so other courses never move these scores.
	sc := scope{course: q.CourseID, kind: q.Kind}
	postingsPerTerm := make(map[string]index.PostingList, len(plan.Terms))
	for _, term := range plan.Terms {
		var inScope index.PostingList
		for _, p := range e.memIndex.Search(term) {
			if doc, ok := e.docs[p.ChunkID]; ok && sc.contains(doc) {
				inScope = append(inScope, p)
			}
		}
		postingsPerTerm[term] = inScope
	}
	excluded := make(map[string]struct{})
	for _, term := range plan.ExcludeTerms {
		for _, p := range e.memIndex.Search(term) {
			excluded[p.ChunkID] = struct{}{}
		}
	}

	keep := func(id string) bool {
		if q.FileID != "" && e.docs[id].FileID != q.FileID {
			return false
		}
		_, drop := excluded[id]
		return !drop
	}
	corpus := ranker.Corpus{Length: e.memIndex.DocLen}
	if st := e.scopes[sc]; st != nil && st.docs > 0 {
		corpus.Docs = st.docs
		corpus.AvgLength = float64(st.tokens) / float64(st.docs)
	}
	ranked := e.bm25.Rank(postingsPerTerm, corpus, keep)
	ceiling := e.bm25.Ceiling(postingsPerTerm, corpus.Docs)

	hits := make([]ScoredHit, 0, len(ranked))
	for _, r := range ranked {
		doc := e.docs[r.ChunkID]
		score := r.Score
		if w := e.vectorWeight; w > 0 && len(q.Embedding) > 0 && len(doc.Embedding) == len(q.Embedding) {
			score = (1-w)*score + w*math.Max(0, cosine(q.Embedding, doc.Embedding))*ceiling
		}
		hits = append(hits, ScoredHit{
			ChunkID:     doc.ID,
			CourseID:    doc.CourseID,
			FileID:      doc.FileID,
			Kind:        doc.Kind,
			Title:       doc.Title,
			Heading:     doc.Heading,
			HeadingPath: doc.HeadingPath,
			Page:        doc.Page,
			ChunkIndex:  doc.ChunkIndex,
			Score:       score,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ChunkIndex != hits[j].ChunkIndex {
			return hits[i].ChunkIndex < hits[j].ChunkIndex
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	total := len(hits)
	hits = page(hits, q.Offset, q.Limit)
	terms := make(map[string]struct{}, len(plan.Terms))
	for _, t := range plan.Terms {
		terms[t] = struct{}{}
	}
	for i := range hits {
		hits[i].Snippet = snippet(e.docs[hits[i].ChunkID].Content, terms, e.snippetChars)
	}
	return &SearchResult{Hits: hits, MaxScore: ceiling, Total: total}, nil
}

// scope is the chunk population one query is ranked against: a course,
// narrowed to a kind when kind is set.
type scope struct {
	course string
	kind   chunk.Kind
}

func (s scope) contains(c *chunk.Chunk) bool {
	return c.CourseID == s.course && (s.kind == "" || c.Kind == s.kind)
}

type scopeStats struct {
	docs   int
	tokens int
}

// account adds (sign 1) or removes (sign -1) a chunk of length tokens from
// its course scope and its course+kind scope. Callers hold e.mu.
func (e *Engine) account(c *chunk.Chunk, tokens, sign int) {
	for _, sc := range []scope{{course: c.CourseID}, {course: c.CourseID, kind: c.Kind}} {
		st := e.scopes[sc]
		if st == nil {
			st = &scopeStats{}
			e.scopes[sc] = st
		}
		st.docs += sign
		st.tokens += sign * tokens
		if st.docs <= 0 {
			delete(e.scopes, sc)
		}
	}
}

func (e *Engine) Stats(context.Context) (Stats, error) {
	return Stats{Chunks: e.memIndex.DocCount(), Terms: e.memIndex.TermCount()}, nil
}

// FileIDs lists the files currently present in the index.
func (e *Engine) FileIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.byFile))
	for id := range e.byFile {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func page(hits []ScoredHit, offset, limit int) []ScoredHit {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(hits) {
		return []ScoredHit{}
	}
	hits = hits[offset:]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// snippet returns about width bytes of content centred on the first word
// whose term is in terms, or the start of content when none matches.
func snippet(content string, terms map[string]struct{}, width int) string {
	if len(content) <= width {
		return strings.TrimSpace(content)
	}
	start := 0
	for _, tok := range tokenizer.Tokenize(content) {
		if _, ok := terms[tok.Term]; ok {
			start = tok.Start - width/3
			break
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(content) {
		end = len(content)
		start = max(0, end-width)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	out := strings.TrimSpace(content[start:end])
	if start > 0 {
		if i := strings.IndexByte(out, ' '); i >= 0 && i < len(out)/4 {
			out = out[i+1:]
		}
		out = "…" + out
	}
	if end < len(content) {
		if i := strings.LastIndexByte(out, ' '); i > len(out)*3/4 {
			out = out[:i]
		}
		out += "…"
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
