package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunkProperties(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   int
	}{
		{name: "empty", text: "", maxLen: 10, want: 0},
		{name: "shorter than max", text: "abc", maxLen: 10, want: 1},
		{name: "exact multiple", text: strings.Repeat("x", 4000), maxLen: 2000, want: 2},
		{name: "remainder", text: strings.Repeat("x", 4001), maxLen: 2000, want: 3},
		{name: "one per rune", text: "héllo", maxLen: 1, want: 5},
		{name: "multibyte", text: strings.Repeat("日本語", 5), maxLen: 4, want: 4},
		{name: "newlines kept", text: "a\nb\nc\n", maxLen: 2, want: 3},
		{name: "zero max treated as one", text: "abc", maxLen: 0, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.maxLen)
			assert.Len(t, got, tt.want)
			assert.Equal(t, tt.text, strings.Join(got, ""))

			maxLen := max(tt.maxLen, 1)
			for i, c := range got {
				n := utf8.RuneCountInString(c)
				if i < len(got)-1 {
					assert.Equal(t, maxLen, n, "chunk %d", i)
				} else {
					assert.True(t, n >= 1 && n <= maxLen, "last chunk length %d", n)
				}
				assert.True(t, utf8.ValidString(c))
			}
		})
	}
}

func TestChunkEmptyIsNil(t *testing.T) {
	assert.Nil(t, Chunk("", 2000))
}

func TestHeader(t *testing.T) {
	assert.Equal(t, "New patch notes:\nhttps://f/1", Header(HeaderNew, "", "", "https://f/1"))
	assert.Equal(t, "@fans Latest Star Citizen patch notes:\nhttps://f/1", Header(HeaderLatest, "@fans", "Star Citizen", "https://f/1"))
}
