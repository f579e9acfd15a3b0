package proposal

import "strings"

// LineRange is an inclusive, 0-based range of line indices.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Span is a half-open [Start, End) range of rune offsets within one line.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// LineHighlight marks the differing spans of one proposed line.
type LineHighlight struct {
	Line  int    `json:"line"`
	Spans []Span `json:"spans"`
}

func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

// LineDiff compares original and proposed line by line at equal indices and
// returns the ranges where they differ. Missing lines compare as empty.
//
// The comparison is positional, not an alignment: inserting or deleting a
// line shifts every later index, so everything after it reports as one
// trailing change block.
func LineDiff(original, proposed string) []LineRange {
	a, b := splitLines(original), splitLines(proposed)
	n := max(len(a), len(b))

	ranges := []LineRange{}
	open := false
	var cur LineRange
	for k := 0; k < n; k++ {
		if lineAt(a, k) != lineAt(b, k) {
			if !open {
				cur = LineRange{Start: k, End: k}
				open = true
			} else {
				cur.End = k
			}
			continue
		}
		if open {
			ranges = append(ranges, cur)
			open = false
		}
	}
	if open {
		ranges = append(ranges, cur)
	}
	return ranges
}

// CharDiff returns approximate spans of proposed that differ from original.
// Both strings are walked together; matching runes close any open span and
// mismatches extend it until the cursors resynchronize. The result is only
// meant for visual emphasis.
func CharDiff(original, proposed string) []Span {
	a, b := []rune(original), []rune(proposed)
	spans := []Span{}

	i, j := 0, 0
	open := false
	var cur Span
	for i < len(a) || j < len(b) {
		if i < len(a) && j < len(b) && a[i] == b[j] {
			if open {
				spans = append(spans, cur)
				open = false
			}
			i++
			j++
			continue
		}
		if !open {
			cur = Span{Start: j, End: j}
			open = true
		}
		switch {
		case i < len(a) && j < len(b):
			i++
			j++
			cur.End = j
		case i < len(a):
			i++
		default:
			j++
			cur.End = j
		}
	}
	if open {
		spans = append(spans, cur)
	}
	return spans
}

// Highlights computes the character spans for every differing line inside
// ranges. Lines past the end of proposed have nothing to mark and are
// skipped.
func Highlights(original, proposed string, ranges []LineRange) []LineHighlight {
	a, b := splitLines(original), splitLines(proposed)
	out := []LineHighlight{}
	for _, r := range ranges {
		for line := r.Start; line <= r.End && line < len(b); line++ {
			o, p := lineAt(a, line), b[line]
			if o == p {
				continue
			}
			out = append(out, LineHighlight{Line: line, Spans: CharDiff(o, p)})
		}
	}
	return out
}
