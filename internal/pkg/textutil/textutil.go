// Package textutil bounds free-form text, such as subprocess output, before
// it reaches logs or the job store.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Tail returns at most the last n bytes of s, trimmed and valid UTF-8. The
// cut never splits a rune.
func Tail(s string, n int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "�")
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// Head returns at most the first n bytes of s as valid UTF-8. The cut never
// splits a rune.
func Head(s string, n int) string {
	s = strings.ToValidUTF8(s, "�")
	if len(s) <= n {
		return s
	}
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
