package frontend

import (
	"errors"
	"fmt"
)

// ErrUnbalanced is returned when a bracket opened at the start index never closes.
var ErrUnbalanced = errors.New("unbalanced brackets")

var closers = map[byte]byte{'{': '}', '(': ')', '[': ']'}

// ExtractBalanced returns the bracketed span that opens at source[start],
// including both brackets, and the index just past the closing bracket.
//
// It is a depth counter, not a regex: nested object literals must not end the
// match early. Quoted strings, template literals and comments are skipped, so
// brackets inside them do not count.
func ExtractBalanced(source string, start int) (content string, end int, err error) {
	if start < 0 || start >= len(source) {
		return "", 0, fmt.Errorf("extract balanced: start %d out of range", start)
	}
	open := source[start]
	closeCh, ok := closers[open]
	if !ok {
		return "", 0, fmt.Errorf("extract balanced: %q at %d is not an opening bracket", open, start)
	}

	depth := 0
	for i := start; i < len(source); i++ {
		switch c := source[i]; c {
		case '"', '\'', '`':
			i = skipString(source, i)
		case '/':
			i = skipComment(source, i)
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return source[start : i+1], i + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("extract balanced from %d: %w", start, ErrUnbalanced)
}

// skipString returns the index of the quote closing the literal opened at i.
func skipString(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return len(s) - 1
}

// skipComment returns the last index of a comment starting at i, or i if none does.
func skipComment(s string, i int) int {
	if i+1 >= len(s) {
		return i
	}
	switch s[i+1] {
	case '/':
		for j := i + 2; j < len(s); j++ {
			if s[j] == '\n' {
				return j
			}
		}
		return len(s) - 1
	case '*':
		for j := i + 2; j+1 < len(s); j++ {
			if s[j] == '*' && s[j+1] == '/' {
				return j + 1
			}
		}
		return len(s) - 1
	}
	return i
}
