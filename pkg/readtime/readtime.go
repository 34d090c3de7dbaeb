// Package readtime estimates how long a post takes to read.
package readtime

import (
	"strings"

	"github.com/spacetraveling/blog/pkg/post"
)

// WordsPerMinute is the reading speed used for estimates.
const WordsPerMinute = 200

// CountWords counts the tokens produced by splitting s on single spaces.
// Consecutive, leading and trailing spaces yield empty tokens that still count,
// and the empty string counts as one word.
func CountWords(s string) int {
	return len(strings.Split(s, " "))
}

// WordCount sums the words of every heading and body block in content.
func WordCount(content []post.Section) int {
	total := 0
	for _, section := range content {
		total += CountWords(section.Heading)
		for _, block := range section.Body {
			total += CountWords(block.Text)
		}
	}
	return total
}

// Estimate returns the reading time of content in whole minutes, rounded up.
func Estimate(content []post.Section) int {
	return Minutes(WordCount(content))
}

// Minutes converts a word count to minutes, rounding up.
func Minutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + WordsPerMinute - 1) / WordsPerMinute
}
