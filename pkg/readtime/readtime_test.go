package readtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spacetraveling/blog/pkg/post"
)

// sectionWithWords builds one section whose heading is a single word and whose
// body holds the remaining words.
func sectionWithWords(n int) post.Section {
	words := make([]string, n-1)
	for i := range words {
		words[i] = "palavra"
	}
	return post.Section{
		Heading: "titulo",
		Body:    []post.Block{{Text: strings.Join(words, " ")}},
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty string", in: "", want: 1},
		{name: "single word", in: "hooks", want: 1},
		{name: "two words", in: "A B", want: 2},
		{name: "double space", in: "A  B", want: 3},
		{name: "leading and trailing space", in: " A B ", want: 4},
		{name: "newline is not a separator", in: "A\nB", want: 1},
		{name: "tab is not a separator", in: "A\tB C", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountWords(tt.in))
		})
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name    string
		content []post.Section
		want    int
	}{
		{name: "nil content", content: nil, want: 0},
		{name: "empty content", content: []post.Section{}, want: 0},
		{
			name: "heading and body",
			content: []post.Section{
				{Heading: "A B", Body: []post.Block{{Text: "C D E"}}},
			},
			want: 1,
		},
		{
			name:    "section without body counts heading only",
			content: []post.Section{{Heading: "A", Body: nil}},
			want:    1,
		},
		{name: "exactly 200 words", content: []post.Section{sectionWithWords(200)}, want: 1},
		{name: "exactly 400 words", content: []post.Section{sectionWithWords(400)}, want: 2},
		{name: "401 words", content: []post.Section{sectionWithWords(401)}, want: 3},
		{
			name: "words spread across sections",
			content: []post.Section{
				sectionWithWords(150),
				sectionWithWords(150),
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.content))
		})
	}
}

func TestWordCount_MultipleBlocks(t *testing.T) {
	content := []post.Section{
		{
			Heading: "Como utilizar Hooks",
			Body: []post.Block{
				{Text: "Pensando em sincronização"},
				{Text: "em vez de ciclos de vida"},
			},
		},
		{Heading: "Fim", Body: []post.Block{{Text: ""}}},
	}

	// 3 + 3 + 6 + 1 + 1 (empty text still yields one token)
	assert.Equal(t, 14, WordCount(content))
}

func TestEstimate_Deterministic(t *testing.T) {
	content := []post.Section{sectionWithWords(321), sectionWithWords(80)}

	first := Estimate(content)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Estimate(content))
	}
	assert.Equal(t, 3, first)
}

func TestMinutes(t *testing.T) {
	assert.Equal(t, 0, Minutes(0))
	assert.Equal(t, 0, Minutes(-5))
	assert.Equal(t, 1, Minutes(1))
	assert.Equal(t, 1, Minutes(WordsPerMinute))
	assert.Equal(t, 2, Minutes(WordsPerMinute+1))
}
