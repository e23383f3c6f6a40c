package utils

import (
	"testing"
)

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty string", text: "", want: 0},
		{name: "only whitespace", text: "   \t\n  ", want: 0},
		{name: "single word", text: "hello", want: 1},
		{name: "simple sentence", text: "one two three", want: 3},
		{name: "collapses repeated spaces", text: "one    two\t\tthree", want: 3},
		{name: "newlines separate words", text: "one\ntwo\nthree", want: 3},
		{name: "leading and trailing whitespace", text: "  padded text  ", want: 2},
		{name: "punctuation sticks to words", text: "Wait... what?!", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWords(tt.text); got != tt.want {
				t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
