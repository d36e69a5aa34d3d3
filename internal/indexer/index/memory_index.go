// Package index holds the in-memory inverted index shared by the memory
// search engine: term to chunk postings plus per-chunk lengths.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/tokenizer"
)

type MemoryIndex struct {
	mu          sync.RWMutex
	index       map[string]map[string]*Posting
	docTerms    map[string][]string
	docLen      map[string]int
	totalTokens int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:    make(map[string]map[string]*Posting),
		docTerms: make(map[string][]string),
		docLen:   make(map[string]int),
	}
}

// Add indexes tokens under chunkID, replacing anything previously stored
// for that chunk.
func (m *MemoryIndex) Add(chunkID string, tokens []tokenizer.Token) {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				ChunkID:   chunkID,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(chunkID)
	terms := make([]string, 0, len(termData))
	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][chunkID] = posting
		terms = append(terms, term)
	}
	m.docTerms[chunkID] = terms
	m.docLen[chunkID] = len(tokens)
	m.totalTokens += int64(len(tokens))
}

// Remove drops a chunk and reports whether it was present.
func (m *MemoryIndex) Remove(chunkID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(chunkID)
}

func (m *MemoryIndex) removeLocked(chunkID string) bool {
	terms, ok := m.docTerms[chunkID]
	if !ok {
		return false
	}
	for _, term := range terms {
		docs := m.index[term]
		delete(docs, chunkID)
		if len(docs) == 0 {
			delete(m.index, term)
		}
	}
	m.totalTokens -= int64(m.docLen[chunkID])
	delete(m.docTerms, chunkID)
	delete(m.docLen, chunkID)
	return true
}

// Search returns the postings for term ordered by chunk id.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ChunkID < result[j].ChunkID
	})
	return result
}

// DocFreq is the number of chunks containing term.
func (m *MemoryIndex) DocFreq(term string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index[term])
}

func (m *MemoryIndex) DocLen(chunkID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docLen[chunkID]
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docLen)
}

func (m *MemoryIndex) AvgDocLen() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.docLen) == 0 {
		return 0
	}
	return float64(m.totalTokens) / float64(len(m.docLen))
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docTerms = make(map[string][]string)
	m.docLen = make(map[string]int)
	m.totalTokens = 0
}
