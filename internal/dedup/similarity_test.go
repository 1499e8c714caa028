package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSortRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"word order ignored", "123 Main Street Toronto", "Main Street 123 Toronto", 100},
		{"case and punctuation ignored", "12 King St., W", "12 king st w", 100},
		{"one edit in ten", "abcdefghij", "abcdefghik", 90},
		{"one edit in nine", "abcdefghi", "abcdefghx", 89},
		{"trailing province code", "10 Main St Toronto", "10 Main St Toronto ON", 92},
		{"unit prefix", "12 King St", "Unit 4 12 King St", 74},
		{"empty side", "", "anything", 0},
		{"only punctuation", "---", "...", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenSortRatio(tt.a, tt.b))
		})
	}
}

func TestIndelDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 2},
		{"kitten", "sitting", 5},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, indelDistance([]rune(tt.a), []rune(tt.b)))
			assert.Equal(t, tt.want, indelDistance([]rune(tt.b), []rune(tt.a)))
		})
	}
}
