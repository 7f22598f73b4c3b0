package pipeline

import "unicode/utf8"

// Chunk splits text into consecutive slices of exactly maxLen characters
// (runes), the last one holding the remainder. Empty text yields no chunks.
// maxLen below 1 is treated as 1.
func Chunk(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen < 1 {
		maxLen = 1
	}
	n := utf8.RuneCountInString(text)
	out := make([]string, 0, (n+maxLen-1)/maxLen)

	start, count := 0, 0
	for i := range text {
		if count == maxLen {
			out = append(out, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(out, text[start:])
}
