package session

import (
	"errors"
	"strings"
)

// ErrUnterminatedQuote indicates a command line that opens a double quote
// and never closes it.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// escapeSingles maps single-character backslash escapes inside command
// lines.
var escapeSingles = map[byte]byte{
	'r': '\r',
	'a': '\a',
	'n': '\n',
	't': '\t',
	'b': '\b',
	'f': '\f',
}

// splitWords tokenizes one command line into words. Whitespace separates
// words, double quotes group them, a backslash takes the next character
// literally (with C-style single-letter escapes), and an unquoted '#'
// starts a comment that runs to end of line.
func splitWords(line string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
		got   bool // cur holds a word, possibly empty (from "")
		quote bool
	)
	flush := func() {
		if got {
			words = append(words, cur.String())
			cur.Reset()
			got = false
		}
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '\\':
			if i+1 == len(line) {
				cur.WriteByte(ch)
				got = true
				break
			}
			i++
			esc := line[i]
			if lit, ok := escapeSingles[esc]; ok {
				esc = lit
			}
			cur.WriteByte(esc)
			got = true

		case quote:
			if ch == '"' {
				quote = false
			} else {
				cur.WriteByte(ch)
			}

		case ch == '"':
			quote = true
			got = true

		case ch == '#':
			flush()
			return words, nil

		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			flush()

		default:
			cur.WriteByte(ch)
			got = true
		}
	}

	if quote {
		return nil, ErrUnterminatedQuote
	}
	flush()
	return words, nil
}
