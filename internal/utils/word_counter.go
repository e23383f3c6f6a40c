package utils

import (
	"strings"
)

// CountWords counts whitespace-delimited tokens in a markdown string.
// The count is recomputed on every text write and stored alongside the text,
// never derived lazily, because it is read on every index/status view.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
