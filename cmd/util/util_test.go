package util

import (
	"reflect"
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", ""},
		{"short", "fits on one line", "fits on one line"},
		{"collapses whitespace", "a   b\n c", "a b c"},
		{
			"wraps at word boundary",
			strings.Repeat("word ", 12),
			"word word word word word word word word word word\nword word",
		},
		{"long word stays intact", strings.Repeat("x", Wrap+5), strings.Repeat("x", Wrap+5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WrapString(tt.text); got != tt.want {
				t.Errorf("WrapString(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:1", []string{"a:1"}},
		{"a:1, b:2 ,,c:3", []string{"a:1", "b:2", "c:3"}},
		{" , ", nil},
	}

	for _, tt := range tests {
		if got := SplitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
