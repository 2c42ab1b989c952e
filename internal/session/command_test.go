package session

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "run idler 30", []string{"run", "idler", "30"}},
		{"extra whitespace", "  run \t idler  ", []string{"run", "idler"}},
		{"empty", "", nil},
		{"comment only", "# scripted scenario", nil},
		{"trailing comment", "run idler # keep it up", []string{"run", "idler"}},
		{"quoted word", `echo "two words"`, []string{"echo", "two words"}},
		{"quoted empty", `echo ""`, []string{"echo", ""}},
		{"quote mid-word", `ab"c d"e`, []string{"abc de"}},
		{"escaped space", `a\ b`, []string{"a b"}},
		{"escaped quote", `\"x`, []string{`"x`}},
		{"escaped hash", `echo \# not a comment`, []string{"echo", "#", "not", "a", "comment"}},
		{"letter escapes", `a\tb\nc`, []string{"a\tb\nc"}},
		{"hash inside quotes", `echo "a # b"`, []string{"echo", "a # b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := splitWords(tt.line)
			if err != nil {
				t.Fatalf("splitWords(%q) error: %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitWords(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestSplitWordsUnterminatedQuote(t *testing.T) {
	t.Parallel()

	if _, err := splitWords(`echo "oops`); !errors.Is(err, ErrUnterminatedQuote) {
		t.Errorf("splitWords error = %v, want ErrUnterminatedQuote", err)
	}
}
