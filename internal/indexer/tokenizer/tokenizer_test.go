package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDropsStopWordsAndStems(t *testing.T) {
	tokens := Tokenize("The Indexing of running systems")
	require.Len(t, tokens, 3)
	assert.Equal(t, "index", tokens[0].Term)
	assert.Equal(t, "run", tokens[1].Term)
	assert.Equal(t, "system", tokens[2].Term)
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
	}
}

func TestTokenizeOffsetsPointAtSourceWords(t *testing.T) {
	text := "Photosynthesis, in green plants!"
	for _, tok := range Tokenize(text) {
		word := text[tok.Start:tok.End]
		assert.NotEmpty(t, strings.TrimSpace(word))
		norm, ok := Normalize(word)
		require.True(t, ok)
		assert.Equal(t, tok.Term, norm)
	}
}

func TestTokenizeUnicodeAndShortWords(t *testing.T) {
	assert.Empty(t, Tokenize("a I . , !"))
	tokens := Tokenize("café x 42")
	require.Len(t, tokens, 2)
	assert.Equal(t, "42", tokens[1].Term)
}

func TestNormalize(t *testing.T) {
	_, ok := Normalize("The")
	assert.False(t, ok)
	term, ok := Normalize("Queries")
	assert.True(t, ok)
	assert.Equal(t, "queri", term)
}
