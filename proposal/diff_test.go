package proposal

import (
	"reflect"
	"strings"
	"testing"
)

func TestLineDiff(t *testing.T) {
	tests := []struct {
		name     string
		original string
		proposed string
		want     []LineRange
	}{
		{"identical", "a\nb\nc", "a\nb\nc", []LineRange{}},
		{"empty", "", "", []LineRange{}},
		{"single substitution", "a\nb\nc", "a\nX\nc", []LineRange{{1, 1}}},
		{"contiguous merge", "a\nb\nc\nd", "a\nX\nY\nd", []LineRange{{1, 2}}},
		{"separate ranges", "a\nb\nc\nd\ne", "X\nb\nc\nY\ne", []LineRange{{0, 0}, {3, 3}}},
		{"appended lines", "a", "a\nb\nc", []LineRange{{1, 2}}},
		{"removed lines", "a\nb\nc", "a", []LineRange{{1, 2}}},
		// An insertion desynchronizes every later index.
		{"insertion shifts the tail", "a\nb\nc\nd", "a\nNEW\nb\nc\nd", []LineRange{{1, 4}}},
		// Missing lines compare as empty, so a trailing newline is not a change.
		{"trailing newline", "a", "a\n", []LineRange{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineDiff(tt.original, tt.proposed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LineDiff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLineDiffSelfIsEmpty(t *testing.T) {
	inputs := []string{"", "\n", "one line", "a\n\nb\n", strings.Repeat("x\n", 50), "tabs\tand  spaces\r\n"}
	for _, s := range inputs {
		if got := LineDiff(s, s); len(got) != 0 {
			t.Errorf("LineDiff(%q, itself) = %v", s, got)
		}
	}
}

func TestLineDiffRangesAreDisjointAndCoverDifferences(t *testing.T) {
	original := "1\n2\n3\n4\n5\n6\n7\n8"
	proposed := "1\nx\n3\ny\nz\n6\n7\nw\nextra"
	ranges := LineDiff(original, proposed)

	a, b := splitLines(original), splitLines(proposed)
	covered := map[int]bool{}
	prevEnd := -2
	for _, r := range ranges {
		if r.Start <= prevEnd+1 {
			t.Errorf("range %v overlaps or touches previous end %d", r, prevEnd)
		}
		for i := r.Start; i <= r.End; i++ {
			covered[i] = true
		}
		prevEnd = r.End
	}
	for i := 0; i < max(len(a), len(b)); i++ {
		differs := lineAt(a, i) != lineAt(b, i)
		if differs != covered[i] {
			t.Errorf("line %d: differs=%v covered=%v", i, differs, covered[i])
		}
	}
}

func TestCharDiff(t *testing.T) {
	tests := []struct {
		name     string
		original string
		proposed string
		want     []Span
	}{
		{"equal", "hello", "hello", []Span{}},
		{"substitution", "cat", "cut", []Span{{1, 2}}},
		{"two substitutions", "abcde", "aXcYe", []Span{{1, 2}, {3, 4}}},
		{"append", "ab", "abcd", []Span{{2, 4}}},
		{"from empty", "", "new", []Span{{0, 3}}},
		{"truncate", "abcd", "ab", []Span{{2, 2}}},
		{"runes not bytes", "héllo", "hállo", []Span{{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CharDiff(tt.original, tt.proposed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CharDiff(%q, %q) = %v, want %v", tt.original, tt.proposed, got, tt.want)
			}
		})
	}
}

func TestHighlights(t *testing.T) {
	original := "title\nbody\nend"
	proposed := "title\nbobby\nEND\nmore"
	ranges := LineDiff(original, proposed)
	if !reflect.DeepEqual(ranges, []LineRange{{1, 3}}) {
		t.Fatalf("unexpected ranges %v", ranges)
	}
	got := Highlights(original, proposed, ranges)
	if len(got) != 3 {
		t.Fatalf("expected 3 highlighted lines, got %v", got)
	}
	if got[0].Line != 1 || got[2].Line != 3 {
		t.Errorf("unexpected lines %v", got)
	}
	if !reflect.DeepEqual(got[2].Spans, []Span{{0, 4}}) {
		t.Errorf("new line should be fully highlighted, got %v", got[2].Spans)
	}
}
